package engine

import "fmt"

// InvariantError reports a violation of one of this pipeline's internal
// consistency invariants, carrying enough of a state dump to diagnose it
// without a debugger attached — the only case where an internal
// consistency problem is treated as fatal rather than routed through
// errCh.
type InvariantError struct {
	Invariant string
	Message   string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant %s violated: %s", e.Invariant, e.Message)
}
