package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	lesscss "github.com/lesscss/lesscss-go"
)

type compileFlags struct {
	compress bool
	force    bool
	encoding string
	customJs []string
}

func newCompileCommand(a *app) *cobra.Command {
	var flags compileFlags
	cmd := &cobra.Command{
		Use:   "compile <input.less> [output.css]",
		Short: "Compile one stylesheet to stdout or to a file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runCompile(cmd, flags, args)
		},
	}
	cmd.Flags().BoolVar(&flags.compress, "compress", false, "minify the generated CSS")
	cmd.Flags().BoolVar(&flags.force, "force", true, "compile even when the output is newer than all sources")
	cmd.Flags().StringVar(&flags.encoding, "encoding", "", "character encoding of the output file")
	cmd.Flags().StringArrayVar(&flags.customJs, "custom-js", nil, "extension script path or URL, loaded after the engine (repeatable)")
	return cmd
}

func (a *app) runCompile(cmd *cobra.Command, flags compileFlags, args []string) (err error) {
	input := args[0]
	output := ""
	if len(args) == 2 {
		output = args[1]
	}

	ctx, span := a.startSpan(cmd.Context(), "lessc.compile",
		attribute.String("input", input),
		attribute.String("output", output),
	)
	defer func() { span.End(err, "compiled") }()

	compiler, err := a.newCompiler(flags.customJs)
	if err != nil {
		return err
	}
	defer compiler.Close()
	if cmd.Flags().Changed("compress") {
		compiler.SetCompress(flags.compress)
	}
	if cmd.Flags().Changed("encoding") {
		compiler.SetEncoding(flags.encoding)
	}

	if output == "" {
		css, compileErr := compiler.CompileFile(ctx, input)
		if compileErr != nil {
			return describeFailure(input, compileErr)
		}
		_, err = io.WriteString(cmd.OutOrStdout(), css)
		return err
	}

	if err := compiler.CompileFileTo(ctx, input, output, flags.force); err != nil {
		return describeFailure(input, err)
	}
	a.logger.Info("compile finished", "input", input, "output", output)
	return nil
}

// compileFailure renders a positioned LESS error the way editors expect:
// path:line:column followed by the offending line.
type compileFailure struct {
	path string
	err  *lesscss.LessError
}

func (f *compileFailure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s:%d:%d: %s", f.path, f.err.Line, f.err.Column+1, f.err.Message)
	if len(f.err.Extract) > 1 && f.err.Extract[1] != "" {
		fmt.Fprintf(&b, "\n    %s\n    %s^", f.err.Extract[1], strings.Repeat(" ", f.err.Column))
	}
	return b.String()
}

func (f *compileFailure) Unwrap() error {
	return f.err
}

// describeFailure positions err in path. Imports are inlined before
// compiling, so lines count through the normalized content.
func describeFailure(path string, err error) error {
	var lessErr *lesscss.LessError
	if !errors.As(err, &lessErr) || lessErr.Line == 0 || lessErr.Message == "" {
		return err
	}
	return &compileFailure{path: path, err: lessErr}
}
