package program

import "fmt"

// CompileError rejects a payload before it ever executes a frame. The
// previously loaded program is unaffected.
type CompileError struct {
	Reason string
	Err    error
}

func (e *CompileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("compile: %s: %v", e.Reason, e.Err)
	}
	return "compile: " + e.Reason
}

func (e *CompileError) Unwrap() error { return e.Err }

// FaultKind classifies a per-frame execution fault.
type FaultKind int

const (
	// Trap is a runtime fault inside the program (unreachable, OOB access).
	Trap FaultKind = iota
	// ResourceLimitExceeded means the frame's fuel budget ran out.
	ResourceLimitExceeded
	// InvalidOutput means the program returned a bad pixel pointer or the
	// wrong byte count.
	InvalidOutput
)

func (k FaultKind) String() string {
	switch k {
	case Trap:
		return "trap"
	case ResourceLimitExceeded:
		return "resource_limit_exceeded"
	case InvalidOutput:
		return "invalid_output"
	default:
		return "unknown"
	}
}

// RenderError is a contained single-frame fault. It never escapes the
// render loop; the scheduler counts it toward the unload threshold.
type RenderError struct {
	Kind FaultKind
	Err  error
}

func (e *RenderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("render %s: %v", e.Kind, e.Err)
	}
	return "render " + e.Kind.String()
}

func (e *RenderError) Unwrap() error { return e.Err }
