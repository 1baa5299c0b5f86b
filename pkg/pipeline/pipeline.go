// Package pipeline post-processes a static build output directory.
//
// A run walks the output directory once. HTML documents have their image
// optimization nodes rewritten into responsive <picture> markup and are then
// formatted; stylesheets are formatted. Each file is independent, so files
// are processed by a bounded worker pool and a failure in one file never
// aborts the batch.
//
// # Usage
//
//	runner := pipeline.NewRunner(logger)
//	opts := pipeline.DefaultOptions()
//	opts.OutputDir = "dist"
//	result, err := runner.Run(ctx, opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Optimized, "images optimized")
//
// The cleanup task is separate:
//
//	_, err := runner.Cleanup(ctx, opts)
package pipeline

import (
	"io"
	"path/filepath"
	"runtime"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/matzehuels/postbuild/pkg/errors"
	"github.com/matzehuels/postbuild/pkg/format"
	"github.com/matzehuels/postbuild/pkg/resolve"
	"github.com/matzehuels/postbuild/pkg/rewrite"
	"github.com/matzehuels/postbuild/pkg/variant"
)

// =============================================================================
// Default Values - Single Source of Truth for CLI and Config
// =============================================================================

const (
	// DefaultOutputDir is the bundler's output directory.
	DefaultOutputDir = "dist"

	// DefaultSourceDir is the root of the original image assets.
	DefaultSourceDir = "src/assets/images"

	// DefaultImagesSubdir is where variants are written, relative to the
	// output directory.
	DefaultImagesSubdir = "assets/images"

	// DefaultPublicPrefix is the URL prefix of DefaultImagesSubdir.
	DefaultPublicPrefix = variant.DefaultPublicPrefix

	// ManifestDir is the bundler metadata directory removed by Cleanup.
	ManifestDir = ".vite"

	// AppContainerID is the id of the mount wrapper unwrapped by Cleanup.
	AppContainerID = "app"
)

// =============================================================================
// Options - Pipeline Configuration
// =============================================================================

// Options contains all configuration for a pipeline run. It is loaded from a
// config file and overridden by CLI flags.
type Options struct {
	OutputDir    string   `toml:"output_dir" yaml:"output_dir"`
	SourceDir    string   `toml:"source_dir" yaml:"source_dir"`
	ImagesDir    string   `toml:"images_dir" yaml:"images_dir"` // defaults to OutputDir/assets/images
	PublicPrefix string   `toml:"public_prefix" yaml:"public_prefix"`
	Aliases      []string `toml:"aliases" yaml:"aliases"`
	Concurrency  int      `toml:"concurrency" yaml:"concurrency"`

	Optimize      bool `toml:"optimize" yaml:"optimize"`
	FormatHTML    bool `toml:"format_html" yaml:"format_html"`
	FormatCSS     bool `toml:"format_css" yaml:"format_css"`
	SetDimensions bool `toml:"set_dimensions" yaml:"set_dimensions"`
	Force         bool `toml:"force" yaml:"force"`
	DryRun        bool `toml:"dry_run" yaml:"dry_run"`

	Format format.Options `toml:"format" yaml:"format"`

	// Runtime options (not serialized)
	Logger *log.Logger       `toml:"-" yaml:"-"`
	FS     afero.Fs          `toml:"-" yaml:"-"`
	Codecs *variant.Registry `toml:"-" yaml:"-"`

	// validated tracks whether ValidateAndSetDefaults has been called.
	validated bool
}

// DefaultOptions returns the options of a standard post-build run: optimize
// images, then format HTML and CSS.
func DefaultOptions() Options {
	return Options{
		OutputDir:    DefaultOutputDir,
		SourceDir:    DefaultSourceDir,
		PublicPrefix: DefaultPublicPrefix,
		Aliases:      append([]string(nil), resolve.DefaultAliases...),
		Optimize:     true,
		FormatHTML:   true,
		FormatCSS:    true,
		Format:       format.DefaultOptions(),
	}
}

// ValidateAndSetDefaults checks option values and fills unset fields.
// This method is idempotent.
func (o *Options) ValidateAndSetDefaults() error {
	if o.validated {
		return nil
	}
	if o.OutputDir == "" {
		o.OutputDir = DefaultOutputDir
	}
	if o.SourceDir == "" {
		o.SourceDir = DefaultSourceDir
	}
	if o.ImagesDir == "" {
		o.ImagesDir = filepath.Join(o.OutputDir, DefaultImagesSubdir)
	}
	if o.PublicPrefix == "" {
		o.PublicPrefix = DefaultPublicPrefix
	}
	if len(o.Aliases) == 0 {
		o.Aliases = append([]string(nil), resolve.DefaultAliases...)
	}
	if o.Concurrency < 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "concurrency must be positive, got %d", o.Concurrency)
	}
	if o.Concurrency == 0 {
		o.Concurrency = runtime.NumCPU()
	}
	if o.Format.HTML.IndentSize < 0 || o.Format.CSS.IndentSize < 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "indent size must not be negative")
	}
	if o.Logger == nil {
		o.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	if o.FS == nil {
		o.FS = afero.NewOsFs()
	}
	o.validated = true
	return nil
}

// =============================================================================
// Results
// =============================================================================

// Result summarizes a pipeline run.
type Result struct {
	Files     int // HTML and CSS files visited
	HTMLFiles int
	CSSFiles  int
	Changed   int // files whose content changed
	Optimized int // optimization nodes rewritten
	Variants  int // variant files written or reused
	Removed   []string

	Diagnostics []rewrite.Diagnostic
	Failures    []Failure
	Duration    time.Duration
}

// Failure records a file that could not be fully processed.
type Failure struct {
	File string
	Err  error
}

func (f Failure) Error() string {
	return f.File + ": " + f.Err.Error()
}

// CleanupResult summarizes a Cleanup call.
type CleanupResult struct {
	RemovedDirs []string
	Unwrapped   int // documents whose app wrapper was removed
	Failures    []Failure
}
