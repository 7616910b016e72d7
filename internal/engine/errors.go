package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotInitialized is returned when a session is used before Init.
	ErrNotInitialized = errors.New("script session is not initialized")
	// ErrClosed is returned when a session is used after Close.
	ErrClosed = errors.New("script session is closed")
	// ErrNoScript indicates a required script slot was left empty.
	ErrNoScript = errors.New("script is required")
)

// InitError reports a script that could not be read or evaluated while
// loading the session. It is terminal for the session that produced it.
type InitError struct {
	Script string
	Err    error
}

func (e *InitError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("load script %s: %v", e.Script, e.Err)
}

func (e *InitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// StructuredError is a thrown script value that carries a message property,
// such as the parse errors raised by the LESS engine.
type StructuredError struct {
	Type    string
	Message string
	// Line is 1-based and Column 0-based; both are zero when the thrown
	// value carries no position.
	Line    int
	Column  int
	Extract []string
	Err     error
}

func (e *StructuredError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	if e.Type != "" {
		b.WriteString(e.Type)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Line > 0 {
		fmt.Fprintf(&b, " (line %d, column %d)", e.Line, e.Column)
	}
	return b.String()
}

func (e *StructuredError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// OpaqueError wraps any execution failure without a readable message:
// non-object throws, script syntax errors, interrupts and host panics.
type OpaqueError struct {
	Err error
}

func (e *OpaqueError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("script execution failed: %v", e.Err)
}

func (e *OpaqueError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
