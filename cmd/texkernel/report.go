package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"

	"github.com/born-ml/texkernel"
	"github.com/born-ml/texkernel/internal/device"
	"github.com/born-ml/texkernel/tensor"
)

var (
	headerStyle      = lipgloss.NewStyle().Bold(true)
	errorStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	cellStyle        = lipgloss.NewStyle().Padding(0, 1)
	rightAlignStyle  = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	tableBorderColor = "#705090"
)

// formatTensor prints the trailing dimension as rows.
func formatTensor(t *tensor.RawTensor) string {
	values, err := t.Float32s()
	if err != nil {
		return err.Error()
	}
	cols := 1
	if shape := t.Shape(); len(shape) > 0 {
		cols = shape[len(shape)-1]
	}
	if cols == 0 {
		return "[]"
	}
	var sb strings.Builder
	for i := 0; i < len(values); i += cols {
		row := make([]string, 0, cols)
		for _, v := range values[i:min(i+cols, len(values))] {
			row = append(row, fmt.Sprintf("%g", v))
		}
		sb.WriteString("[" + strings.Join(row, " ") + "]\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// statsProvider is implemented by devices that count their activity.
type statsProvider interface {
	Stats() device.Stats
}

func statsTable(s texkernel.Stats, dev texkernel.Device) string {
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(tableBorderColor))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == lgtable.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			if col == 0 {
				return rightAlignStyle
			}
			return cellStyle
		}).
		Headers("cache", "hits", "misses", "entries")

	table.Row("layouts", humanize.Comma(int64(s.LayoutHits)), humanize.Comma(int64(s.LayoutMisses)), humanize.Comma(int64(s.Layouts)))
	table.Row("kernels", humanize.Comma(int64(s.KernelHits)), humanize.Comma(int64(s.KernelMisses)), humanize.Comma(int64(s.Kernels)))
	table.Row("textures", humanize.Comma(int64(s.TextureDataHits)), humanize.Comma(int64(s.TextureDataMisses)), humanize.Comma(int64(s.TextureDatas)))

	out := table.Render()
	if sp, ok := dev.(statsProvider); ok {
		ds := sp.Stats()
		out += fmt.Sprintf("\n%s dispatches, %s programs compiled, %s allocated",
			humanize.Comma(int64(ds.Dispatches)), humanize.Comma(int64(ds.ProgramsCompiled)), humanize.IBytes(ds.BytesAllocated))
	}
	return out
}
