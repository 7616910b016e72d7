package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	lesscss "github.com/lesscss/lesscss-go"
	"github.com/lesscss/lesscss-go/internal/config"
	"github.com/lesscss/lesscss-go/internal/logging"
	"github.com/lesscss/lesscss-go/internal/telemetry"
	"github.com/lesscss/lesscss-go/internal/tracing"
)

// Version is set at build time.
var Version = "dev"

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{}
	defer a.close(stderr)

	cmd := newRootCommand(a)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd.ExecuteContext(ctx)
}

type globalFlags struct {
	configPath   string
	logLevel     string
	logFile      bool
	otelEndpoint string
}

// app holds the per-invocation state built from global flags before a
// subcommand runs.
type app struct {
	flags    globalFlags
	cfg      *config.Config
	runtime  *logging.RuntimeLogger
	logger   *log.Logger
	runID    string
	shutdown func()
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "lessc",
		Short:         "Compile LESS stylesheets to CSS",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}

	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	flags := root.PersistentFlags()
	flags.StringVar(&a.flags.configPath, "config", "", "read configuration from this file only")
	flags.StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.BoolVar(&a.flags.logFile, "log-file", false, "write JSON logs to ~/.lessc/logs instead of stderr")
	flags.StringVar(&a.flags.otelEndpoint, "otel-endpoint", "", "OTLP/HTTP endpoint for traces, or \"console\"")

	root.AddCommand(
		newCompileCommand(a),
		newBuildCommand(a),
		newVersionCommand(),
	)

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "version" {
			return nil
		}
		if err := a.setup(cmd); err != nil {
			return err
		}
		a.logger.With("command", cmd.Name()).Debug("command invocation")
		return nil
	}

	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	ctx := cmd.Context()

	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg

	level := cfg.LogLevel
	if strings.TrimSpace(a.flags.logLevel) != "" {
		level = a.flags.logLevel
	}
	a.runID = uuid.NewString()
	runtime, err := logging.New(ctx,
		logging.WithRunID(a.runID),
		logging.WithLevel(level),
		logging.WithFile(a.flags.logFile),
		logging.WithWriter(cmd.ErrOrStderr()),
	)
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	a.runtime = runtime
	a.logger = runtime.Logger

	endpoint := strings.TrimSpace(a.flags.otelEndpoint)
	if endpoint == "" {
		endpoint = cfg.OTELEndpoint
	}
	if endpoint != "" {
		telemetry.SetEndpointOverride(endpoint)
	}
	shutdown, err := telemetry.Init(ctx)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	a.shutdown = shutdown
	return nil
}

func (a *app) loadConfig(ctx context.Context) (*config.Config, error) {
	if path := strings.TrimSpace(a.flags.configPath); path != "" {
		return config.LoadFile(ctx, path)
	}
	return config.Load(ctx)
}

// startSpan opens the command span and stamps its ids on subsequent log records.
func (a *app) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, *tracing.Span) {
	ctx, span := tracing.Start(ctx, nil, name, append(attrs, attribute.String("run_id", a.runID))...)
	if sc := span.SpanContext(); sc.IsValid() && a.runtime != nil {
		a.runtime.WithTraceID(sc.TraceID().String()).WithSpanID(sc.SpanID().String())
		a.logger = a.runtime.Logger
	}
	return ctx, span
}

func (a *app) close(stderr io.Writer) {
	if a.shutdown != nil {
		a.shutdown()
	}
	if a.runtime != nil {
		if err := a.runtime.Close(); err != nil {
			fmt.Fprintf(stderr, "failed to close logger: %v\n", err)
		}
	}
}

// newCompiler builds a compiler from the loaded configuration plus any
// extension scripts given on the command line.
func (a *app) newCompiler(extraCustomJs []string) (*lesscss.Compiler, error) {
	if a.cfg == nil {
		return nil, errors.New("config is required")
	}
	opts := []lesscss.Option{
		lesscss.WithCompress(a.cfg.Compress),
		lesscss.WithEncoding(a.cfg.Encoding),
		lesscss.WithLogger(a.logger),
	}
	if a.cfg.EnvJs != "" {
		locator, err := scriptLocator(a.cfg.EnvJs)
		if err != nil {
			return nil, err
		}
		opts = append(opts, lesscss.WithEnvJs(locator))
	}
	if a.cfg.LessJs != "" {
		locator, err := scriptLocator(a.cfg.LessJs)
		if err != nil {
			return nil, err
		}
		opts = append(opts, lesscss.WithLessJs(locator))
	}
	for _, location := range append(append([]string(nil), a.cfg.CustomJs...), extraCustomJs...) {
		locator, err := scriptLocator(location)
		if err != nil {
			return nil, err
		}
		opts = append(opts, lesscss.WithCustomJs(locator))
	}
	return lesscss.New(opts...), nil
}

func scriptLocator(location string) (lesscss.ScriptLocator, error) {
	if strings.Contains(location, "://") {
		return lesscss.URLScript(location)
	}
	return lesscss.FileScript(location), nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the lessc version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "lessc %s\n", Version)
			return err
		},
	}
}
