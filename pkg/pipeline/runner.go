package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/postbuild/pkg/errors"
	"github.com/matzehuels/postbuild/pkg/format"
	"github.com/matzehuels/postbuild/pkg/observability"
	"github.com/matzehuels/postbuild/pkg/resolve"
	"github.com/matzehuels/postbuild/pkg/rewrite"
	"github.com/matzehuels/postbuild/pkg/variant"
)

// Runner executes pipeline runs.
//
// The Runner is stateless except for its logger - it doesn't store results.
// Multiple goroutines can safely use the same Runner with different options.
type Runner struct {
	Logger *log.Logger
}

// NewRunner creates a runner. If logger is nil, log.Default() is used.
func NewRunner(logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{Logger: logger}
}

// run holds the per-call collaborators and the shared result.
type run struct {
	opts     Options
	rewriter *rewrite.Rewriter

	mu     sync.Mutex
	result *Result
}

// Run processes every HTML and CSS file under opts.OutputDir. A missing
// output directory yields an OUTPUT_NOT_FOUND error; per-file problems are
// reported in Result.Failures and Result.Diagnostics. When ctx is canceled no
// further files are started and ctx.Err() is returned with the partial result.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	r.applyLogger(&opts)
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}
	start := time.Now()

	files, err := collect(opts.FS, opts.OutputDir)
	if err != nil {
		return nil, err
	}

	resolver := resolve.New(opts.FS, opts.SourceDir,
		resolve.WithAliases(opts.Aliases...),
		resolve.WithPublicPrefix(strings.TrimSuffix(opts.PublicPrefix, "/")+"/"),
		resolve.WithLogger(opts.Logger),
	)
	generator := variant.New(opts.FS, opts.ImagesDir,
		variant.WithPublicPrefix(opts.PublicPrefix),
		variant.WithCodecs(opts.Codecs),
		variant.WithLogger(opts.Logger),
		variant.WithForce(opts.Force),
		variant.WithDryRun(opts.DryRun),
	)
	rewriter := rewrite.New(resolver, generator,
		rewrite.WithDimensions(opts.SetDimensions),
		rewrite.WithLogger(opts.Logger),
	)
	state := &run{opts: opts, rewriter: rewriter, result: &Result{}}

	opts.Logger.Debug("starting run", "output", opts.OutputDir, "files", len(files), "workers", opts.Concurrency)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, file := range files {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			state.process(gctx, file)
			return nil
		})
	}
	_ = g.Wait()

	result := state.result
	sortResult(result)
	result.Duration = time.Since(start)

	opts.Logger.Info("processed build output",
		"files", result.Files,
		"changed", result.Changed,
		"images", result.Optimized,
		"duration", result.Duration)

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// process handles one file. Errors are recorded, never returned.
func (s *run) process(ctx context.Context, file string) {
	kind, _ := format.KindOf(file)
	hooks := observability.Pipeline()
	hooks.OnFileStart(ctx, file)
	start := time.Now()

	changed, err := s.processFile(ctx, file, kind)
	hooks.OnFileComplete(ctx, file, changed, time.Since(start), err)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.result.Files++
	switch kind {
	case format.KindHTML:
		s.result.HTMLFiles++
	case format.KindCSS:
		s.result.CSSFiles++
	}
	if changed {
		s.result.Changed++
	}
	if err != nil {
		s.result.Failures = append(s.result.Failures, Failure{File: file, Err: err})
		s.opts.Logger.Error("file failed", "file", file, "err", err)
	}
}

func (s *run) processFile(ctx context.Context, file string, kind format.Kind) (bool, error) {
	fsys := s.opts.FS
	info, err := fsys.Stat(file)
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeFileNotFound, err, "stat %s", file)
	}
	data, err := afero.ReadFile(fsys, file)
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeFileNotFound, err, "read %s", file)
	}
	text := string(data)
	out := text

	if kind == format.KindHTML && s.opts.Optimize {
		rewritten, report, err := s.rewriter.Rewrite(ctx, file, out)
		s.record(report)
		if err != nil {
			return false, err
		}
		out = rewritten
	}

	var formatErr error
	if s.shouldFormat(kind) {
		formatted, err := format.Format(out, kind, s.opts.Format)
		if err != nil {
			s.opts.Logger.Warn("formatting failed, keeping unformatted text", "file", file, "err", err)
			formatErr = err
		} else {
			out = formatted
		}
	}

	if out == text {
		return false, formatErr
	}
	if s.opts.DryRun {
		s.opts.Logger.Debug("would update file", "file", file)
		return true, formatErr
	}
	if err := afero.WriteFile(fsys, file, []byte(out), info.Mode().Perm()); err != nil {
		return false, errors.Wrap(errors.ErrCodeInternal, err, "write %s", file)
	}
	s.opts.Logger.Debug("updated file", "file", file)
	return true, formatErr
}

func (s *run) shouldFormat(kind format.Kind) bool {
	switch kind {
	case format.KindHTML:
		return s.opts.FormatHTML
	case format.KindCSS:
		return s.opts.FormatCSS
	}
	return false
}

func (s *run) record(report *rewrite.Report) {
	if report == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.result.Optimized += report.Optimized
	s.result.Variants += len(report.Variants)
	s.result.Removed = append(s.result.Removed, report.Removed...)
	s.result.Diagnostics = append(s.result.Diagnostics, report.Diagnostics...)
}

// collect returns the HTML and CSS files under dir in lexical order.
func collect(fsys afero.Fs, dir string) ([]string, error) {
	if ok, err := afero.DirExists(fsys, dir); err != nil || !ok {
		return nil, errors.New(errors.ErrCodeOutputNotFound, "output directory %q not found", dir)
	}
	var files []string
	err := afero.Walk(fsys, dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == ManifestDir {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := format.KindOf(p); ok {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "walk %s", dir)
	}
	return files, nil
}

func sortResult(res *Result) {
	sort.Strings(res.Removed)
	sort.SliceStable(res.Diagnostics, func(i, j int) bool {
		return res.Diagnostics[i].File < res.Diagnostics[j].File
	})
	sort.SliceStable(res.Failures, func(i, j int) bool {
		return res.Failures[i].File < res.Failures[j].File
	})
}

// applyLogger sets the runner's logger on options if not already set.
func (r *Runner) applyLogger(opts *Options) {
	if opts.Logger == nil {
		opts.Logger = r.Logger
	}
}
