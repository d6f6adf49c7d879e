package ops

// State is the progress of one operator invocation.
//
// An invocation starts in ShapeResolved, where the output shape is computed
// and checked: incompatible shapes move it to Failed. Every other error (an
// unsupported element type, a device failure) aborts the invocation in its
// current state without a transition.
type State int

// Invocation states. Dispatched and Failed are terminal.
const (
	ShapeResolved State = iota
	LayoutsResolved
	ProgramGenerated
	ProgramCacheHit
	PlanBuilt
	Dispatched
	Failed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case ShapeResolved:
		return "ShapeResolved"
	case LayoutsResolved:
		return "LayoutsResolved"
	case ProgramGenerated:
		return "ProgramGenerated"
	case ProgramCacheHit:
		return "ProgramCacheHit"
	case PlanBuilt:
		return "PlanBuilt"
	case Dispatched:
		return "Dispatched"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == Dispatched || s == Failed
}

// CanTransition reports whether an invocation may move from one state to the next.
func CanTransition(from, to State) bool {
	switch from {
	case ShapeResolved:
		return to == LayoutsResolved || to == Failed
	case LayoutsResolved:
		return to == ProgramGenerated || to == ProgramCacheHit
	case ProgramGenerated, ProgramCacheHit:
		return to == PlanBuilt
	case PlanBuilt:
		return to == Dispatched
	default:
		return false
	}
}
