// Package cli implements the postbuild command-line interface.
package cli

import (
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/matzehuels/postbuild/pkg/buildinfo"
	"github.com/matzehuels/postbuild/pkg/config"
	"github.com/matzehuels/postbuild/pkg/pipeline"
	"github.com/matzehuels/postbuild/pkg/variant"
)

// =============================================================================
// Constants
// =============================================================================

// appName is the application name used for display.
const appName = "postbuild"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger
	FS     afero.Fs

	// Codecs overrides the image encoders; nil uses the built-in set.
	Codecs *variant.Registry
}

// New creates a new CLI instance working on the OS filesystem.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{
		Logger: newLogger(w, level),
		FS:     afero.NewOsFs(),
	}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Post-process static build output",
		Long:          `postbuild rewrites image optimization markers in a static build into responsive <picture> markup with WebP and AVIF variants, and formats the emitted HTML and CSS.`,
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.SetVersionTemplate(buildinfo.Template())

	root.AddCommand(c.processCommand())
	root.AddCommand(c.formatCommand())
	root.AddCommand(c.cleanupCommand())
	root.AddCommand(c.hashCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// newRunner creates a pipeline runner for CLI use.
func (c *CLI) newRunner() *pipeline.Runner {
	return pipeline.NewRunner(c.Logger)
}

// =============================================================================
// Options Helpers
// =============================================================================

// runFlags holds the flags shared by the commands that walk the output directory.
type runFlags struct {
	config       string // explicit config file
	dist         string // build output directory
	src          string // source image root
	concurrency  int    // worker count, 0 = number of CPUs
	noFormatHTML bool
	noFormatCSS  bool
	force        bool // re-encode existing variants
	dryRun       bool // report without writing
	dimensions   bool // write width/height onto rewritten images
	strict       bool // fail when any node or file was skipped
}

// addRunFlags registers the shared flags. images adds the flags that only
// matter when optimization nodes are rewritten.
func addRunFlags(cmd *cobra.Command, f *runFlags, images bool) {
	cmd.Flags().StringVarP(&f.config, "config", "c", "", "config file (default: postbuild.toml/.yaml in the working directory)")
	cmd.Flags().StringVar(&f.dist, "dist", pipeline.DefaultOutputDir, "build output directory")
	cmd.Flags().IntVarP(&f.concurrency, "concurrency", "j", 0, "files processed in parallel (default: number of CPUs)")
	cmd.Flags().BoolVar(&f.noFormatHTML, "no-format-html", false, "do not format HTML files")
	cmd.Flags().BoolVar(&f.noFormatCSS, "no-format-css", false, "do not format CSS files")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "report changes without writing files")
	cmd.Flags().BoolVar(&f.strict, "strict", false, "exit with an error if any file or image was skipped")
	if images {
		cmd.Flags().StringVar(&f.src, "src", pipeline.DefaultSourceDir, "source image directory")
		cmd.Flags().BoolVar(&f.force, "force", false, "re-encode variants that already exist")
		cmd.Flags().BoolVar(&f.dimensions, "dimensions", false, "set width and height on optimized images")
	}
}

// options builds pipeline options: defaults, then the config file, then
// flags the user set explicitly.
func (c *CLI) options(cmd *cobra.Command, f *runFlags) (pipeline.Options, error) {
	opts := pipeline.DefaultOptions()

	path := f.config
	if path == "" {
		path, _ = config.Find(c.FS, ".")
	}
	if path != "" {
		loaded, err := config.Load(c.FS, path, opts)
		if err != nil {
			return opts, err
		}
		opts = loaded
		c.Logger.Debug("loaded config", "path", path)
	}

	flags := cmd.Flags()
	if flags.Changed("dist") {
		opts.OutputDir = f.dist
	}
	if flags.Changed("src") {
		opts.SourceDir = f.src
	}
	if flags.Changed("concurrency") {
		opts.Concurrency = f.concurrency
	}
	if f.noFormatHTML {
		opts.FormatHTML = false
	}
	if f.noFormatCSS {
		opts.FormatCSS = false
	}
	if flags.Changed("force") {
		opts.Force = f.force
	}
	if flags.Changed("dry-run") {
		opts.DryRun = f.dryRun
	}
	if flags.Changed("dimensions") {
		opts.SetDimensions = f.dimensions
	}

	opts.Logger = c.Logger
	opts.FS = c.FS
	opts.Codecs = c.Codecs
	return opts, nil
}
