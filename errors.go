package lesscss

import (
	"errors"
	"fmt"

	"github.com/lesscss/lesscss-go/internal/engine"
)

var (
	// ErrCompile matches every *LessError.
	ErrCompile = errors.New("less compilation failed")
	// ErrInitialization matches every *InitializationError.
	ErrInitialization = errors.New("less compiler initialization failed")
	// ErrConfigFrozen is returned when script locations change after the
	// engine has been loaded.
	ErrConfigFrozen = errors.New("script configuration is frozen after initialization")
	// ErrClosed is returned by a Compiler after Close.
	ErrClosed = engine.ErrClosed
)

// LessError reports a failed compilation. Message, Line, Column and Extract
// are filled when the engine raised a positioned error; otherwise only Err is
// set. A LessError never invalidates the Compiler that returned it.
type LessError struct {
	Message string
	// Line is 1-based, Column 0-based.
	Line    int
	Column  int
	Extract []string
	Err     error
}

func (e *LessError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		if e.Line > 0 {
			return fmt.Sprintf("%s (line %d, column %d)", e.Message, e.Line, e.Column)
		}
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("compile less: %v", e.Err)
	}
	return ErrCompile.Error()
}

func (e *LessError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *LessError) Is(target error) bool {
	return target == ErrCompile
}

// InitializationError reports a script that could not be loaded. It is fatal
// for the Compiler: every later call returns the same error.
type InitializationError struct {
	Script string
	Err    error
}

func (e *InitializationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("initialize less compiler: load %s: %v", e.Script, e.Err)
}

func (e *InitializationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *InitializationError) Is(target error) bool {
	return target == ErrInitialization
}

func newLessError(err error) *LessError {
	var structured *engine.StructuredError
	if errors.As(err, &structured) {
		return &LessError{
			Message: structured.Message,
			Line:    structured.Line,
			Column:  structured.Column,
			Extract: structured.Extract,
			Err:     err,
		}
	}
	return &LessError{Err: err}
}

func newInitializationError(err error) error {
	var initErr *engine.InitError
	if errors.As(err, &initErr) {
		return &InitializationError{Script: initErr.Script, Err: initErr.Err}
	}
	return err
}
