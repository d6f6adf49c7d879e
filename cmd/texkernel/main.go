// Package main provides the texkernel CLI.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

func main() {
	root := &cobra.Command{
		Use:           "texkernel",
		Short:         "Generate and run texture-backed tensor kernels",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	goFlags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(goFlags)
	root.PersistentFlags().AddGoFlagSet(goFlags)

	root.AddCommand(newKernelCmd(), newRunCmd(), newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error:"), err)
		klog.Flush()
		os.Exit(1)
	}
	klog.Flush()
}
