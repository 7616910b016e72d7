package lesscss

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/lesscss/lesscss-go/internal/assets"
	"github.com/lesscss/lesscss-go/internal/engine"
	"github.com/lesscss/lesscss-go/internal/testutil"
)

const headerLess = "@color: #4D926F; #header { color: @color; }"

type countingLocator struct {
	ScriptLocator
	opens atomic.Int32
}

func (l *countingLocator) Open(ctx context.Context) (io.ReadCloser, error) {
	l.opens.Add(1)
	return l.ScriptLocator.Open(ctx)
}

func countingCompiler(opts ...Option) (*Compiler, *countingLocator, *countingLocator) {
	shim := &countingLocator{ScriptLocator: BundledScript(assets.DefaultShim)}
	eng := &countingLocator{ScriptLocator: BundledScript(assets.DefaultEngine)}
	opts = append([]Option{WithEnvJs(shim), WithLessJs(eng)}, opts...)
	return New(opts...), shim, eng
}

func TestInitLoadsScriptsOnce(t *testing.T) {
	ctx := testutil.Context(t)
	compiler, shim, eng := countingCompiler()

	require.NoError(t, compiler.Init(ctx))
	require.NoError(t, compiler.Init(ctx))
	_, err := compiler.Compile(ctx, headerLess)
	require.NoError(t, err)
	_, err = compiler.Compile(ctx, headerLess)
	require.NoError(t, err)

	assert.EqualValues(t, 1, shim.opens.Load())
	assert.EqualValues(t, 1, eng.opens.Load())
}

func TestCompileIsLazy(t *testing.T) {
	compiler, shim, eng := countingCompiler()
	assert.Zero(t, shim.opens.Load())
	assert.Zero(t, eng.opens.Load())

	css, err := compiler.Compile(testutil.Context(t), headerLess)
	require.NoError(t, err)
	assert.Contains(t, css, "#header")
	assert.EqualValues(t, 1, eng.opens.Load())
}

func TestCompile(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		compress bool
		want     string
	}{
		{name: "variable", input: headerLess, want: "#header {\n  color: #4d926f;\n}\n"},
		{name: "variable compressed", input: headerLess, compress: true, want: "#header{color:#4d926f}"},
		{
			name:  "mixin with argument",
			input: ".m(@c) { color: @c; }\n.a { .m(#FF0000); }",
			want:  ".a {\n  color: #ff0000;\n}\n",
		},
		{
			name:     "mixin compressed shortens hex",
			input:    ".m(@c) { color: @c; }\n.a { .m(#FF0000); }",
			compress: true,
			want:     ".a{color:#f00}",
		},
		{
			name:  "nesting and arithmetic",
			input: "@import \"reset.css\";\n@w: 10px;\n.box { width: @w / 2; .inner { height: (@w / 2); } }",
			want:  "@import \"reset.css\";\n.box {\n  width: 5px;\n}\n.box .inner {\n  height: 5px;\n}\n",
		},
		{
			name:  "media bubbling and color function",
			input: "@base: 10px;\n.bordered(@w: 2px) { border: @w solid black; }\n#menu a { .bordered(4px); width: @base * 2; }\n@media screen { .x { color: lighten(#000, 50%); } }\n",
			want:  "#menu a {\n  border: 4px solid black;\n  width: 20px;\n}\n@media screen {\n  .x {\n    color: #808080;\n  }\n}\n",
		},
		{name: "empty", input: "", want: ""},
	}

	compiler := New()
	t.Cleanup(func() { _ = compiler.Close() })
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			css, err := compiler.CompileWithOptions(testutil.Context(t), tt.input, CompileOptions{Compress: tt.compress})
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, css); diff != "" {
				t.Fatalf("css mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCompileReadsCompressAtCallTime(t *testing.T) {
	ctx := testutil.Context(t)
	compiler, _, eng := countingCompiler()

	plain, err := compiler.Compile(ctx, headerLess)
	require.NoError(t, err)
	compiler.SetCompress(true)
	assert.True(t, compiler.Compress())
	compressed, err := compiler.Compile(ctx, headerLess)
	require.NoError(t, err)
	compiler.SetCompress(false)
	again, err := compiler.Compile(ctx, headerLess)
	require.NoError(t, err)

	assert.Equal(t, "#header {\n  color: #4d926f;\n}\n", plain)
	assert.Equal(t, "#header{color:#4d926f}", compressed)
	assert.Equal(t, plain, again)
	assert.EqualValues(t, 1, eng.opens.Load())
}

func TestCompileIsDeterministic(t *testing.T) {
	ctx := testutil.Context(t)
	input := "@a: 2px;\n.x { margin: @a (@a * 2); .y { color: darken(#abcdef, 10%); } }\n.z:hover { .x; }"
	first, err := New().Compile(ctx, input)
	require.NoError(t, err)

	compiler := New()
	second, err := compiler.Compile(ctx, input)
	require.NoError(t, err)
	third, err := compiler.Compile(ctx, input)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, second, third)
}

func TestCompileSyntaxErrorIsLessError(t *testing.T) {
	ctx := testutil.Context(t)
	compiler := New()

	_, err := compiler.Compile(ctx, "#header { color: red;")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCompile)

	var lessErr *LessError
	require.ErrorAs(t, err, &lessErr)
	assert.Equal(t, "missing closing `}`", lessErr.Message)
	assert.Equal(t, 1, lessErr.Line)
	assert.Equal(t, 0, lessErr.Column)
	assert.Equal(t, []string{"", "#header { color: red;", ""}, lessErr.Extract)
	assert.Equal(t, "missing closing `}` (line 1, column 0)", lessErr.Error())

	var structured *engine.StructuredError
	assert.ErrorAs(t, err, &structured)

	css, err := compiler.Compile(ctx, headerLess)
	require.NoError(t, err, "a compile error must not break the compiler")
	assert.Contains(t, css, "#4d926f")
}

func TestCompileSemanticErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		message string
		line    int
	}{
		{name: "undefined variable", input: "a { b: @undefined; }", message: "variable @undefined is undefined", line: 1},
		{name: "extra brace", input: "a { b: c; }\n}", message: "Unrecognised input", line: 2},
		{name: "undefined mixin", input: "a { .nope; }", message: ".nope is undefined", line: 1},
	}
	compiler := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compiler.Compile(testutil.Context(t), tt.input)
			var lessErr *LessError
			require.ErrorAs(t, err, &lessErr)
			assert.Equal(t, tt.message, lessErr.Message)
			assert.Equal(t, tt.line, lessErr.Line)
		})
	}
}

func TestCompileOpaqueEngineFailure(t *testing.T) {
	broken := StringScript("broken-less.js", `
		var less = {
			Parser: function () {
				this.parse = function () { throw 'engine exploded'; };
			}
		};
	`)
	compiler := New(WithLessJs(broken))

	_, err := compiler.Compile(testutil.Context(t), "a { b: c; }")
	var lessErr *LessError
	require.ErrorAs(t, err, &lessErr)
	assert.Empty(t, lessErr.Message)
	var opaque *engine.OpaqueError
	assert.ErrorAs(t, err, &opaque)
	assert.Contains(t, err.Error(), "engine exploded")
}

func TestCompileNonStringResult(t *testing.T) {
	odd := StringScript("odd-less.js", `
		var less = {
			Parser: function () {
				this.parse = function (input, cb) { cb(null, { toCSS: function () { return null; } }); };
			}
		};
	`)
	_, err := New(WithLessJs(odd)).Compile(testutil.Context(t), "a {}")
	var lessErr *LessError
	require.ErrorAs(t, err, &lessErr)
	assert.Contains(t, err.Error(), "instead of CSS text")
}

func TestInitFailureIsTerminal(t *testing.T) {
	ctx := testutil.Context(t)
	bad := &countingLocator{ScriptLocator: StringScript("bad-extension.js", `undefinedFunction();`)}
	compiler, _, eng := countingCompiler(WithCustomJs(bad))

	_, err := compiler.Compile(ctx, headerLess)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInitialization)
	assert.False(t, errors.Is(err, ErrCompile))
	var initErr *InitializationError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "bad-extension.js", initErr.Script)
	assert.Contains(t, err.Error(), "bad-extension.js")

	again := compiler.Init(ctx)
	assert.Same(t, err, again)
	_, err = compiler.Compile(ctx, headerLess)
	assert.Same(t, again, err)
	assert.EqualValues(t, 1, bad.opens.Load())
	assert.EqualValues(t, 1, eng.opens.Load())
}

func TestInitMissingScriptFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.js")
	compiler := New(WithLessJs(FileScript(missing)))

	err := compiler.Init(testutil.Context(t))
	var initErr *InitializationError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, missing, initErr.Script)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestInitCancelledIsNotTerminal(t *testing.T) {
	compiler := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := compiler.Init(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, compiler.Init(testutil.Context(t)))
}

func TestCustomJsExtendsEngine(t *testing.T) {
	ext := StringScript("twice.js", `less.tree.functions.twice = function (n) { return (n.value * 2) + n.unit; };`)
	compiler := New(WithCustomJs(ext))

	css, err := compiler.Compile(testutil.Context(t), ".box { width: twice(4px); }")
	require.NoError(t, err)
	assert.Equal(t, ".box {\n  width: 8px;\n}\n", css)
}

func TestCustomJsLoadOrder(t *testing.T) {
	first := StringScript("first.js", `var loaded = ['first'];`)
	second := StringScript("second.js", `loaded.push('second'); less.tree.functions.order = function () { return loaded.join('-'); };`)
	compiler := New(WithCustomJs(first, second))

	css, err := compiler.CompileWithOptions(testutil.Context(t), "a { b: order(); }", CompileOptions{Compress: true})
	require.NoError(t, err)
	assert.Equal(t, "a{b:first-second}", css)
}

func TestConfigurationFreezesAfterInit(t *testing.T) {
	compiler := New()
	replacement := StringScript("x.js", "")

	require.NoError(t, compiler.SetCustomJs(replacement))
	assert.Equal(t, []ScriptLocator{replacement}, compiler.CustomJs())
	require.NoError(t, compiler.SetCustomJs())
	require.NoError(t, compiler.SetEnvJs(BundledScript(assets.DefaultShim)))
	require.NoError(t, compiler.Init(testutil.Context(t)))

	assert.ErrorIs(t, compiler.SetEnvJs(replacement), ErrConfigFrozen)
	assert.ErrorIs(t, compiler.SetLessJs(replacement), ErrConfigFrozen)
	assert.ErrorIs(t, compiler.SetCustomJs(replacement), ErrConfigFrozen)
	assert.Equal(t, "bundled:env.js", compiler.EnvJs().Name())
	assert.Equal(t, "bundled:less.js", compiler.LessJs().Name())
	assert.Empty(t, compiler.CustomJs())

	compiler.SetEncoding("utf-8")
	assert.Equal(t, "utf-8", compiler.Encoding())
}

func TestConcurrentCompileOnOneCompiler(t *testing.T) {
	compiler, _, eng := countingCompiler()
	ctx := testutil.Context(t)

	var wg sync.WaitGroup
	results := make([]string, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = compiler.CompileWithOptions(ctx, headerLess, CompileOptions{Compress: i%2 == 0})
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		if i%2 == 0 {
			assert.Equal(t, "#header{color:#4d926f}", results[i])
		} else {
			assert.Equal(t, "#header {\n  color: #4d926f;\n}\n", results[i])
		}
	}
	assert.EqualValues(t, 1, eng.opens.Load())
}

func TestCompileHonoursCancellation(t *testing.T) {
	spin := StringScript("spin-less.js", `
		var less = {
			Parser: function () {
				this.parse = function (input, cb) {
					if (input === 'spin') { for (;;) {} }
					cb(null, { toCSS: function () { return input; } });
				};
			}
		};
	`)
	compiler := New(WithLessJs(spin))
	require.NoError(t, compiler.Init(testutil.Context(t)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := compiler.Compile(ctx, "spin")
	assert.ErrorIs(t, err, ErrCompile)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	css, err := compiler.Compile(testutil.Context(t), "ok")
	require.NoError(t, err)
	assert.Equal(t, "ok", css)
}

func TestCompileAfterCancelledCallSucceeds(t *testing.T) {
	compiler := New()
	require.NoError(t, compiler.Init(context.Background()))

	for i := 0; i < 200; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		_, err := compiler.Compile(ctx, "a { b: c; }")
		cancel()
		require.NoError(t, err, "iteration %d", i)

		css, err := compiler.CompileWithOptions(context.Background(), headerLess, CompileOptions{Compress: true})
		require.NoError(t, err, "iteration %d", i)
		require.Equal(t, "#header{color:#4d926f}", css)
	}
}

func TestCustomJsSyntaxErrorIsInitializationError(t *testing.T) {
	compiler := New(WithCustomJs(StringScript("broken.js", `less.tree.functions.x = function (`)))

	err := compiler.Init(testutil.Context(t))
	var initErr *InitializationError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "broken.js", initErr.Script)
	var opaque *engine.OpaqueError
	assert.ErrorAs(t, err, &opaque)
	var structured *engine.StructuredError
	assert.False(t, errors.As(err, &structured))
}

func TestCloseRejectsFurtherUse(t *testing.T) {
	compiler := New()
	_, err := compiler.Compile(testutil.Context(t), headerLess)
	require.NoError(t, err)

	require.NoError(t, compiler.Close())
	require.NoError(t, compiler.Close())
	_, err = compiler.Compile(testutil.Context(t), headerLess)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, compiler.SetLessJs(StringScript("x", "")), ErrConfigFrozen)
}

func TestCompileEmitsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	compiler := New(WithTracerProvider(provider))
	_, err := compiler.CompileWithOptions(testutil.Context(t), headerLess, CompileOptions{Compress: true})
	require.NoError(t, err)
	_, err = compiler.Compile(testutil.Context(t), "#header {")
	require.Error(t, err)

	var names []string
	var compileSpans []sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
		if span.Name() == "lesscss.compile" {
			compileSpans = append(compileSpans, span)
		}
	}
	assert.Equal(t, []string{"lesscss.init", "lesscss.compile", "lesscss.compile"}, names)
	require.Len(t, compileSpans, 2)
	assert.Equal(t, codes.Ok, compileSpans[0].Status().Code)
	assert.Contains(t, compileSpans[0].Attributes(), attribute.Bool("compress", true))
	assert.Equal(t, codes.Error, compileSpans[1].Status().Code)
	var events []string
	for _, event := range compileSpans[1].Events() {
		events = append(events, event.Name)
	}
	assert.Contains(t, events, "less.error")
}
