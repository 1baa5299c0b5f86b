package cli

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/postbuild/pkg/errors"
	"github.com/matzehuels/postbuild/pkg/observability"
	"github.com/matzehuels/postbuild/pkg/pipeline"
)

// processCommand creates the post-build command: optimize images, then format.
func (c *CLI) processCommand() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Optimize images and format the build output",
		Long: `Process the build output directory in place.

Every <picture> carrying data-optimize-width, data-optimize-quality and
data-optimize-formats is rewritten: the referenced image is resized, encoded
as WebP and AVIF at 1x and 2x, and written under content-addressed names.
HTML and CSS files are then formatted.

Images that cannot be optimized are left untouched and reported.`,
		Example: `  postbuild process
  postbuild process --dist public --src assets/img --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := c.options(cmd, &flags)
			if err != nil {
				return err
			}
			opts.Optimize = true
			return c.runPipeline(cmd, opts, flags.strict, "Processing build output")
		},
	}
	addRunFlags(cmd, &flags, true)
	return cmd
}

// formatCommand creates the formatting-only command.
func (c *CLI) formatCommand() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "format",
		Short: "Format HTML and CSS in the build output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := c.options(cmd, &flags)
			if err != nil {
				return err
			}
			opts.Optimize = false
			return c.runPipeline(cmd, opts, flags.strict, "Formatting build output")
		},
	}
	addRunFlags(cmd, &flags, false)
	return cmd
}

// runPipeline runs the pipeline with progress output and prints the result.
// A missing output directory is logged and is not an error.
func (c *CLI) runPipeline(cmd *cobra.Command, opts pipeline.Options, strict bool, label string) error {
	ctx := cmd.Context()
	defer observability.Reset()

	var variants *variantCounter
	if opts.Optimize {
		variants = &variantCounter{}
		observability.SetImageHooks(variants)
	}

	var spinner *Spinner
	if c.Logger.GetLevel() > log.DebugLevel {
		spinner = newSpinnerWithContext(ctx, label)
		observability.SetPipelineHooks(&fileProgress{spinner: spinner, label: label})
		spinner.Start()
	}
	res, err := c.newRunner().Run(ctx, opts)
	if spinner != nil {
		spinner.Stop()
	}

	if errors.Is(err, errors.ErrCodeOutputNotFound) {
		c.Logger.Warn("nothing to process", "reason", errors.UserMessage(err))
		return nil
	}
	if res == nil {
		return err
	}
	printResult(res, variants, opts.DryRun)
	if err != nil {
		return err
	}

	if opts.DryRun && res.Changed > 0 {
		printNextStep("Apply the changes", cmd.CommandPath())
	}
	if strict && (len(res.Failures) > 0 || len(res.Diagnostics) > 0) {
		return fmt.Errorf("%d files failed, %d images skipped", len(res.Failures), len(res.Diagnostics))
	}
	return nil
}

// variantCounter tallies variant files for the run summary.
type variantCounter struct {
	observability.NoopImageHooks
	written atomic.Int64
	reused  atomic.Int64
	bytes   atomic.Int64
}

func (v *variantCounter) OnVariantWritten(_ context.Context, _, _ string, size int) {
	v.written.Add(1)
	v.bytes.Add(int64(size))
}

func (v *variantCounter) OnVariantReused(context.Context, string, string) {
	v.reused.Add(1)
}

func (v *variantCounter) snapshot() (written, reused, size int64) {
	return v.written.Load(), v.reused.Load(), v.bytes.Load()
}
