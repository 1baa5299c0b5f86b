package pipeline

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/spf13/afero"

	"github.com/matzehuels/postbuild/pkg/errors"
	"github.com/matzehuels/postbuild/pkg/format"
)

// Cleanup removes bundler leftovers from the output directory: the manifest
// directory, and the app mount wrapper around the page body of every HTML
// document. Like Run it reports per-file failures instead of stopping.
func (r *Runner) Cleanup(ctx context.Context, opts Options) (*CleanupResult, error) {
	r.applyLogger(&opts)
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}
	files, err := collect(opts.FS, opts.OutputDir)
	if err != nil {
		return nil, err
	}
	res := &CleanupResult{}

	manifest := filepath.Join(opts.OutputDir, ManifestDir)
	if ok, _ := afero.DirExists(opts.FS, manifest); ok {
		if !opts.DryRun {
			if err := opts.FS.RemoveAll(manifest); err != nil {
				return res, errors.Wrap(errors.ErrCodeInternal, err, "remove %s", manifest)
			}
		}
		res.RemovedDirs = append(res.RemovedDirs, manifest)
		opts.Logger.Debug("removed directory", "path", manifest)
	}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if kind, _ := format.KindOf(file); kind != format.KindHTML {
			continue
		}
		changed, err := unwrapFile(opts, file)
		if err != nil {
			res.Failures = append(res.Failures, Failure{File: file, Err: err})
			opts.Logger.Error("cleanup failed", "file", file, "err", err)
			continue
		}
		if changed {
			res.Unwrapped++
		}
	}
	opts.Logger.Debug("cleaned build output", "dirs", len(res.RemovedDirs), "unwrapped", res.Unwrapped)
	return res, nil
}

func unwrapFile(opts Options, file string) (bool, error) {
	info, err := opts.FS.Stat(file)
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeFileNotFound, err, "stat %s", file)
	}
	data, err := afero.ReadFile(opts.FS, file)
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeFileNotFound, err, "read %s", file)
	}
	out, changed, err := UnwrapApp(string(data))
	if err != nil || !changed || opts.DryRun {
		return changed, err
	}
	if err := afero.WriteFile(opts.FS, file, []byte(out), info.Mode().Perm()); err != nil {
		return false, errors.Wrap(errors.ErrCodeInternal, err, "write %s", file)
	}
	return true, nil
}

// UnwrapApp replaces every <div id="app"> in doc with its children. The
// document is returned unchanged when it has no such wrapper.
func UnwrapApp(doc string) (string, bool, error) {
	d, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return doc, false, errors.Wrap(errors.ErrCodeFormatFailed, err, "parse html")
	}
	wrappers := d.Find("div#" + AppContainerID)
	if wrappers.Length() == 0 {
		return doc, false, nil
	}
	wrappers.Each(func(_ int, s *goquery.Selection) {
		s.ReplaceWithSelection(s.Contents())
	})
	out, err := d.Html()
	if err != nil {
		return doc, false, errors.Wrap(errors.ErrCodeFormatFailed, err, "render html")
	}
	return out, true, nil
}
