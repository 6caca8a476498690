package common

import (
	"fmt"
	"strings"
)

// Kind identifies which failure an Error represents.
type Kind int

const (
	KindInterfaceResolution Kind = iota + 1 // selector matched zero or several interfaces
	KindAlreadyRunning                      // Start on a running session
	KindCaptureProcess                      // tool exited nonzero
	KindCaptureStop                         // process did not exit after termination
	KindStatisticsParse                     // malformed statistics output
)

func (k Kind) String() string {
	switch k {
	case KindInterfaceResolution:
		return "interface resolution"
	case KindAlreadyRunning:
		return "already running"
	case KindCaptureProcess:
		return "capture process"
	case KindCaptureStop:
		return "capture stop"
	case KindStatisticsParse:
		return "statistics parse"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Sentinels for errors.Is; they match any *Error of the same Kind.
var (
	ErrInterfaceResolution = &Error{Kind: KindInterfaceResolution}
	ErrAlreadyRunning      = &Error{Kind: KindAlreadyRunning}
	ErrCaptureProcess      = &Error{Kind: KindCaptureProcess}
	ErrCaptureStop         = &Error{Kind: KindCaptureStop}
	ErrStatisticsParse     = &Error{Kind: KindStatisticsParse}
)

// Error is the single error type of the capture layer. Only the fields relevant
// to Kind are set.
type Error struct {
	Kind     Kind
	Op       string // operation, e.g. "start", "stop", "list interfaces"
	Selector string // interface selector for resolution errors
	Matches  int    // number of interfaces the selector matched
	ExitCode int    // tool exit code for process errors
	Output   string // stderr tail or offending output line
	Err      error  // underlying cause
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	b.WriteString(" error")
	switch e.Kind {
	case KindInterfaceResolution:
		fmt.Fprintf(&b, ": selector %q matched %d interfaces", e.Selector, e.Matches)
	case KindCaptureProcess:
		fmt.Fprintf(&b, ": exit code %d", e.ExitCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Output != "" {
		fmt.Fprintf(&b, ": %q", e.Output)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}
