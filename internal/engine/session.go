// Package engine hosts an embedded JavaScript runtime that loads a fixed
// set of scripts once and then evaluates short programs against them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dop251/goja"
)

// Script is a named, readable script source.
type Script interface {
	Name() string
	Open(ctx context.Context) (io.ReadCloser, error)
}

// Options configures a Session. Shim and Engine are required; Extensions
// are evaluated after Engine in order.
type Options struct {
	Shim       Script
	Engine     Script
	Extensions []Script
	Logger     *log.Logger
}

type sessionState int

const (
	stateNew sessionState = iota
	stateReady
	stateFailed
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateNew:
		return "new"
	case stateReady:
		return "ready"
	case stateFailed:
		return "failed"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const evaluateScriptName = "<evaluate>"

// Session owns one goja runtime. It is not safe for concurrent use; callers
// serialize access.
type Session struct {
	opts         Options
	logger       *log.Logger
	state        sessionState
	vm           *goja.Runtime
	initErr      error
	initDuration time.Duration
	now          func() time.Time
}

// NewSession returns an uninitialized session.
func NewSession(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Session{
		opts:   opts,
		logger: logger.With("component", "engine"),
		state:  stateNew,
		now:    time.Now,
	}
}

// Init loads the shim, the engine and every extension into a fresh runtime.
// It is a no-op once the session is ready. A failure is terminal: later calls
// return the same error without reloading anything. Cancellation of ctx is the
// exception and leaves the session uninitialized.
func (s *Session) Init(ctx context.Context) error {
	switch s.state {
	case stateReady:
		return nil
	case stateFailed:
		return s.initErr
	case stateClosed:
		return ErrClosed
	}

	started := s.now()
	vm := goja.New()
	if err := s.installConsole(vm); err != nil {
		return s.fail(&InitError{Script: "console", Err: err})
	}

	scripts, err := s.scripts()
	if err != nil {
		return s.fail(err)
	}
	for _, script := range scripts {
		if err := s.load(ctx, vm, script); err != nil {
			if ctx.Err() != nil {
				// Cancelled loads leave the session new so a later Init can retry.
				return err
			}
			return s.fail(err)
		}
		s.logger.Debug("loaded script", "script", script.Name())
	}

	s.vm = vm
	s.state = stateReady
	s.initDuration = s.now().Sub(started)
	s.logger.Debug("finished initialization of script session",
		"duration_ms", s.initDuration.Milliseconds(),
		"scripts", len(scripts),
	)
	return nil
}

func (s *Session) scripts() ([]Script, error) {
	if s.opts.Shim == nil {
		return nil, &InitError{Script: "shim", Err: ErrNoScript}
	}
	if s.opts.Engine == nil {
		return nil, &InitError{Script: "engine", Err: ErrNoScript}
	}
	scripts := make([]Script, 0, 2+len(s.opts.Extensions))
	scripts = append(scripts, s.opts.Shim, s.opts.Engine)
	for _, ext := range s.opts.Extensions {
		if ext != nil {
			scripts = append(scripts, ext)
		}
	}
	return scripts, nil
}

func (s *Session) fail(err error) error {
	s.state = stateFailed
	s.initErr = err
	s.logger.Error("script session initialization failed", "err", err)
	return err
}

func (s *Session) load(ctx context.Context, vm *goja.Runtime, script Script) error {
	name := script.Name()
	reader, err := script.Open(ctx)
	if err != nil {
		return &InitError{Script: name, Err: err}
	}
	defer reader.Close()

	source, err := io.ReadAll(reader)
	if err != nil {
		return &InitError{Script: name, Err: fmt.Errorf("read: %w", err)}
	}
	if err := run(ctx, vm, name, string(source)); err != nil {
		return &InitError{Script: name, Err: err}
	}
	return nil
}

// Evaluate binds the given values as globals, runs script and returns the
// exported value of resultVar. resultVar is reset to "" before the run and the
// bindings are cleared afterwards so no input outlives the call.
func (s *Session) Evaluate(ctx context.Context, script string, bindings map[string]any, resultVar string) (any, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	defer s.clear(bindings)
	for name, value := range bindings {
		if err := s.vm.Set(name, value); err != nil {
			return nil, &OpaqueError{Err: fmt.Errorf("bind %s: %w", name, err)}
		}
	}
	if resultVar != "" {
		if err := s.vm.Set(resultVar, ""); err != nil {
			return nil, &OpaqueError{Err: fmt.Errorf("reset %s: %w", resultVar, err)}
		}
	}

	if err := run(ctx, s.vm, evaluateScriptName, script); err != nil {
		return nil, err
	}
	if resultVar == "" {
		return nil, nil
	}
	value := s.vm.Get(resultVar)
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	return value.Export(), nil
}

func (s *Session) clear(bindings map[string]any) {
	if s.vm == nil {
		return
	}
	global := s.vm.GlobalObject()
	for name := range bindings {
		_ = global.Set(name, goja.Undefined())
	}
}

func (s *Session) ready() error {
	switch s.state {
	case stateReady:
		return nil
	case stateFailed:
		return s.initErr
	case stateClosed:
		return ErrClosed
	default:
		return ErrNotInitialized
	}
}

// Initialized reports whether Init completed successfully.
func (s *Session) Initialized() bool {
	return s.state == stateReady
}

// LastInitDuration is the wall time of the successful Init, or zero.
func (s *Session) LastInitDuration() time.Duration {
	return s.initDuration
}

// Close releases the runtime. Further use returns ErrClosed.
func (s *Session) Close() error {
	if s.vm != nil {
		s.vm.Interrupt(ErrClosed)
		s.vm = nil
	}
	s.state = stateClosed
	return nil
}

func (s *Session) installConsole(vm *goja.Runtime) error {
	console := vm.NewObject()
	levels := map[string]log.Level{
		"log":   log.DebugLevel,
		"debug": log.DebugLevel,
		"info":  log.InfoLevel,
		"warn":  log.WarnLevel,
		"error": log.ErrorLevel,
	}
	for name, level := range levels {
		level := level
		err := console.Set(name, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, 0, len(call.Arguments))
			for _, arg := range call.Arguments {
				parts = append(parts, arg.String())
			}
			s.logger.Log(level, strings.Join(parts, " "), "source", "script")
			return goja.Undefined()
		})
		if err != nil {
			return err
		}
	}
	return vm.Set("console", console)
}

// run compiles and executes source, translating any failure. Source that does
// not compile is always opaque. Cancelling ctx interrupts the runtime; the
// watcher is joined before run returns so a late interrupt cannot reach the
// next call.
func run(ctx context.Context, vm *goja.Runtime, name, source string) (err error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &OpaqueError{Err: ctxErr}
	}
	program, compileErr := goja.Compile(name, source, false)
	if compileErr != nil {
		return &OpaqueError{Err: compileErr}
	}

	vm.ClearInterrupt()
	if done := ctx.Done(); done != nil {
		stop := make(chan struct{})
		exited := make(chan struct{})
		go func() {
			defer close(exited)
			select {
			case <-done:
				vm.Interrupt(ctx.Err())
			case <-stop:
			}
		}()
		defer func() {
			close(stop)
			<-exited
			vm.ClearInterrupt()
		}()
	}
	defer func() {
		if r := recover(); r != nil {
			err = &OpaqueError{Err: fmt.Errorf("%s: panic: %v", name, r)}
		}
	}()

	if _, runErr := vm.RunProgram(program); runErr != nil {
		return classify(runErr)
	}
	return nil
}

func classify(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok {
			return &OpaqueError{Err: cause}
		}
		return &OpaqueError{Err: err}
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		if structured := structuredError(exception); structured != nil {
			return structured
		}
	}
	return &OpaqueError{Err: err}
}

func structuredError(exception *goja.Exception) *StructuredError {
	obj, ok := exception.Value().(*goja.Object)
	if !ok || obj == nil {
		return nil
	}
	message := obj.Get("message")
	if missing(message) {
		return nil
	}
	return &StructuredError{
		Type:    stringProperty(obj, "type"),
		Message: message.String(),
		Line:    intProperty(obj, "line"),
		Column:  intProperty(obj, "column"),
		Extract: extractLines(obj),
		Err:     exception,
	}
}

func missing(value goja.Value) bool {
	return value == nil || goja.IsUndefined(value) || goja.IsNull(value)
}

func stringProperty(obj *goja.Object, name string) string {
	value := obj.Get(name)
	if missing(value) {
		return ""
	}
	return value.String()
}

func intProperty(obj *goja.Object, name string) int {
	value := obj.Get(name)
	if missing(value) {
		return 0
	}
	return int(value.ToInteger())
}

// extractLines keeps the surrounding-source triple positional; missing
// neighbours become empty strings.
func extractLines(obj *goja.Object) []string {
	value := obj.Get("extract")
	if missing(value) {
		return nil
	}
	items, ok := value.Export().([]any)
	if !ok {
		return nil
	}
	lines := make([]string, len(items))
	for i, item := range items {
		if line, ok := item.(string); ok {
			lines[i] = line
		}
	}
	return lines
}
