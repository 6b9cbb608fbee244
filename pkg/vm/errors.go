// Package vm - runtime errors with frame backtraces
package vm

import (
	"fmt"
	"strings"
)

// TraceFrame is one line of a runtime backtrace.
type TraceFrame struct {
	Line     int
	Column   int
	Function string // function name, or "script" for top level
}

// RuntimeError is a runtime failure plus the call stack at the moment it
// happened, innermost frame first.
type RuntimeError struct {
	Message string
	Trace   []TraceFrame
}

// Error formats the message followed by one backtrace line per frame.
func (e *RuntimeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	for _, frame := range e.Trace {
		b.WriteString(fmt.Sprintf("\n[line %d, column %d] in %s", frame.Line, frame.Column, frame.Function))
	}
	return b.String()
}
