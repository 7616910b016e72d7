package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	lesscss "github.com/lesscss/lesscss-go"
)

func newBuildCommand(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Compile every [[build]] target from the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runBuild(cmd, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "rebuild every target regardless of timestamps")
	return cmd
}

func (a *app) runBuild(cmd *cobra.Command, force bool) (err error) {
	targets := a.cfg.Builds
	if len(targets) == 0 {
		return errors.New("no [[build]] targets configured")
	}

	ctx, span := a.startSpan(cmd.Context(), "lessc.build",
		attribute.Int("targets", len(targets)),
		attribute.Bool("force", force),
	)
	defer func() { span.End(err, "built") }()

	compiler, err := a.newCompiler(nil)
	if err != nil {
		return err
	}
	defer compiler.Close()

	var result *multierror.Error
	for _, target := range targets {
		compiler.SetCompress(target.Compress)
		buildErr := compiler.CompileFileTo(ctx, target.Input, target.Output, force || target.Force)
		if buildErr == nil {
			a.logger.Debug("build target done", "input", target.Input, "output", target.Output)
			continue
		}
		if errors.Is(buildErr, lesscss.ErrInitialization) || errors.Is(buildErr, context.Canceled) {
			return buildErr
		}
		a.logger.Error("build target failed", "input", target.Input, "err", buildErr)
		result = multierror.Append(result, describeFailure(target.Input, buildErr))
	}

	failed := 0
	if result != nil {
		failed = len(result.Errors)
	}
	span.SetAttributes(attribute.Int("failed", failed))
	if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%d of %d targets up to date\n", len(targets)-failed, len(targets)); err != nil {
		return err
	}
	return result.ErrorOrNil()
}
