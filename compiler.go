// Package lesscss compiles LESS stylesheets to CSS with an embedded
// JavaScript LESS engine.
//
// A Compiler loads its scripts lazily on first use and then serves any number
// of compile requests from the same engine. Calls on one Compiler are
// serialized; use separate Compilers for parallel work.
package lesscss

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lesscss/lesscss-go/internal/assets"
	"github.com/lesscss/lesscss-go/internal/engine"
	"github.com/lesscss/lesscss-go/internal/source"
	"github.com/lesscss/lesscss-go/internal/tracing"
)

const compileScript = `(function () {
	var parser = new less.Parser();
	parser.parse(input, function (e, tree) {
		if (e) {
			throw e;
		}
		result = tree.toCSS(options);
	});
})();`

// CompileOptions are the per-call rendering options.
type CompileOptions struct {
	Compress bool
}

// Source is a LESS document whose imports have already been resolved.
type Source interface {
	NormalizedContent() string
	LastModifiedIncludingImports() time.Time
}

// Compiler turns LESS into CSS. The zero value is not usable; call New.
type Compiler struct {
	mu sync.Mutex

	envJs    ScriptLocator
	lessJs   ScriptLocator
	customJs []ScriptLocator
	compress bool
	encoding string

	logger         *log.Logger
	tracerProvider trace.TracerProvider

	session *engine.Session
	initErr error
	closed  bool
}

// New returns a Compiler using the bundled shim and engine unless options
// say otherwise. No script is loaded until the first Init or compile.
func New(opts ...Option) *Compiler {
	c := &Compiler{
		envJs:  BundledScript(assets.DefaultShim),
		lessJs: BundledScript(assets.DefaultEngine),
		logger: log.NewWithOptions(io.Discard, log.Options{Level: log.WarnLevel}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Compiler) EnvJs() ScriptLocator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.envJs
}

// SetEnvJs replaces the browser shim. It fails once scripts are loaded.
func (c *Compiler) SetEnvJs(locator ScriptLocator) error {
	return c.configure(func() {
		if locator != nil {
			c.envJs = locator
		}
	})
}

func (c *Compiler) LessJs() ScriptLocator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lessJs
}

// SetLessJs replaces the LESS engine. It fails once scripts are loaded.
func (c *Compiler) SetLessJs(locator ScriptLocator) error {
	return c.configure(func() {
		if locator != nil {
			c.lessJs = locator
		}
	})
}

// CustomJs returns a copy of the extension script list.
func (c *Compiler) CustomJs() []ScriptLocator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ScriptLocator(nil), c.customJs...)
}

// SetCustomJs replaces the extension scripts. It fails once scripts are loaded.
func (c *Compiler) SetCustomJs(locators ...ScriptLocator) error {
	return c.configure(func() {
		c.customJs = compactLocators(locators)
	})
}

func (c *Compiler) Compress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compress
}

// SetCompress changes the flag read by the next Compile call.
func (c *Compiler) SetCompress(compress bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compress = compress
}

func (c *Compiler) Encoding() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encoding
}

// SetEncoding changes the encoding of files written after this call. An empty
// name means UTF-8; other names are IANA charsets resolved by LookupEncoding.
func (c *Compiler) SetEncoding(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encoding = name
}

func (c *Compiler) configure(apply func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil || c.closed {
		return ErrConfigFrozen
	}
	apply()
	return nil
}

// Init loads the shim, the engine and the extension scripts. Compile calls it
// implicitly; calling it directly surfaces configuration problems early.
func (c *Compiler) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.init(ctx)
}

func (c *Compiler) init(ctx context.Context) error {
	if c.closed {
		return ErrClosed
	}
	if c.initErr != nil {
		return c.initErr
	}
	if c.session != nil && c.session.Initialized() {
		return nil
	}
	if c.session == nil {
		extensions := make([]engine.Script, 0, len(c.customJs))
		for _, locator := range c.customJs {
			extensions = append(extensions, locator)
		}
		c.session = engine.NewSession(engine.Options{
			Shim:       c.envJs,
			Engine:     c.lessJs,
			Extensions: extensions,
			Logger:     c.logger,
		})
	}

	ctx, span := tracing.Start(ctx, c.tracerProvider, "lesscss.init",
		attribute.String("env_js", c.envJs.Name()),
		attribute.String("less_js", c.lessJs.Name()),
		attribute.Int("custom_js", len(c.customJs)),
	)
	if err := c.session.Init(ctx); err != nil {
		translated := newInitializationError(err)
		if ctx.Err() == nil {
			c.initErr = translated
		}
		span.End(translated, "")
		return translated
	}
	c.logger.Debug("less compiler initialized",
		"duration_ms", c.session.LastInitDuration().Milliseconds(),
		"custom_js", len(c.customJs),
	)
	span.End(nil, "initialized")
	return nil
}

// Compile compiles input with the compress flag configured at call time.
func (c *Compiler) Compile(ctx context.Context, input string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compile(ctx, input, CompileOptions{Compress: c.compress})
}

// CompileWithOptions compiles input with explicit options, ignoring the
// configured compress flag.
func (c *Compiler) CompileWithOptions(ctx context.Context, input string, opts CompileOptions) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compile(ctx, input, opts)
}

// CompileFile compiles the file at path with its imports inlined. Read
// failures are returned as-is, not as *LessError.
func (c *Compiler) CompileFile(ctx context.Context, path string) (string, error) {
	src, err := source.New(path)
	if err != nil {
		return "", err
	}
	return c.CompileSource(ctx, src)
}

// CompileSource compiles the normalized content of src.
func (c *Compiler) CompileSource(ctx context.Context, src Source) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compile(ctx, src.NormalizedContent(), CompileOptions{Compress: c.compress})
}

// CompileFileTo compiles inputPath into outputPath. Unless force is set the
// work is skipped when outputPath is newer than the input and every file it
// imports. Pass force=true to always rebuild.
func (c *Compiler) CompileFileTo(ctx context.Context, inputPath, outputPath string, force bool) error {
	src, err := source.New(inputPath)
	if err != nil {
		return err
	}
	return c.CompileSourceTo(ctx, src, outputPath, force)
}

// CompileSourceTo compiles src into outputPath under the same staleness rule
// as CompileFileTo. The output is replaced atomically.
func (c *Compiler) CompileSourceTo(ctx context.Context, src Source, outputPath string, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, span := tracing.Start(ctx, c.tracerProvider, "lesscss.compile_to",
		attribute.String("output", outputPath),
		attribute.Bool("force", force),
	)

	rebuild, err := NeedsRebuild(force, outputPath, src.LastModifiedIncludingImports())
	if err != nil {
		span.End(err, "")
		return err
	}
	span.SetAttributes(attribute.Bool("rebuild", rebuild))
	if !rebuild {
		c.logger.Debug("output up to date", "output", outputPath)
		span.End(nil, "up to date")
		return nil
	}

	css, err := c.compile(ctx, src.NormalizedContent(), CompileOptions{Compress: c.compress})
	if err != nil {
		span.End(err, "")
		return err
	}
	data, err := encodeOutput(css, c.encoding)
	if err != nil {
		span.End(err, "")
		return err
	}
	if err := writeOutput(outputPath, data); err != nil {
		err = fmt.Errorf("write output %q: %w", outputPath, err)
		span.End(err, "")
		return err
	}
	c.logger.Debug("output written", "output", outputPath, "bytes", len(data))
	span.End(nil, "written")
	return nil
}

func (c *Compiler) compile(ctx context.Context, input string, opts CompileOptions) (string, error) {
	ctx, span := tracing.Start(ctx, c.tracerProvider, "lesscss.compile",
		attribute.Bool("compress", opts.Compress),
		attribute.Int("input_bytes", len(input)),
	)
	if err := c.init(ctx); err != nil {
		span.End(err, "")
		return "", err
	}

	started := time.Now()
	value, err := c.session.Evaluate(ctx, compileScript, map[string]any{
		"input":   input,
		"options": map[string]any{"compress": opts.Compress},
	}, "result")
	if err != nil {
		lessErr := newLessError(err)
		if len(lessErr.Extract) > 0 {
			span.Event("less.error", "extract", strings.Join(lessErr.Extract, "\n"))
		}
		span.End(lessErr, "")
		return "", lessErr
	}
	css, ok := value.(string)
	if !ok {
		lessErr := &LessError{Err: fmt.Errorf("engine returned %T instead of CSS text", value)}
		span.End(lessErr, "")
		return "", lessErr
	}

	c.logger.Debug("less source compiled",
		"duration_ms", time.Since(started).Milliseconds(),
		"compress", opts.Compress,
	)
	span.SetAttributes(attribute.Int("output_bytes", len(css)))
	span.End(nil, "compiled")
	return css, nil
}

// Close releases the engine. Later calls return ErrClosed.
func (c *Compiler) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}
