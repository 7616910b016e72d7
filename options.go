package lesscss

import (
	"github.com/charmbracelet/log"
	"go.opentelemetry.io/otel/trace"
)

// Option configures a Compiler at construction.
type Option func(*Compiler)

// WithCompress sets the default compress flag used by Compile.
func WithCompress(compress bool) Option {
	return func(c *Compiler) {
		c.compress = compress
	}
}

// WithEncoding sets the character encoding of written output files. Names are
// IANA charset names or aliases such as "UTF-8" or "ISO-8859-1"; see
// LookupEncoding.
func WithEncoding(name string) Option {
	return func(c *Compiler) {
		c.encoding = name
	}
}

// WithEnvJs replaces the bundled browser shim.
func WithEnvJs(locator ScriptLocator) Option {
	return func(c *Compiler) {
		if locator != nil {
			c.envJs = locator
		}
	}
}

// WithLessJs replaces the bundled LESS engine.
func WithLessJs(locator ScriptLocator) Option {
	return func(c *Compiler) {
		if locator != nil {
			c.lessJs = locator
		}
	}
}

// WithCustomJs appends extension scripts, loaded after the engine in order.
func WithCustomJs(locators ...ScriptLocator) Option {
	return func(c *Compiler) {
		c.customJs = append(c.customJs, compactLocators(locators)...)
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(c *Compiler) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTracerProvider routes compiler spans to provider instead of the global one.
func WithTracerProvider(provider trace.TracerProvider) Option {
	return func(c *Compiler) {
		c.tracerProvider = provider
	}
}

func compactLocators(locators []ScriptLocator) []ScriptLocator {
	out := make([]ScriptLocator, 0, len(locators))
	for _, locator := range locators {
		if locator != nil {
			out = append(out, locator)
		}
	}
	return out
}
