// Package pkg provides the libraries behind the postbuild command.
//
// # Overview
//
// postbuild runs after a static site build. It turns image optimization
// markers in the emitted HTML into responsive <picture> markup backed by
// resized WebP and AVIF variants, and formats the HTML and CSS the bundler
// left minified. The pkg directory is organized by pipeline stage:
//
//  1. [resolve] - Map a markup image reference to a source image on disk
//  2. [variant] - Resize and encode the source into content-addressed files
//  3. [rewrite] - Replace optimization nodes with <picture> markup
//  4. [format] - Pretty-print HTML and CSS
//  5. [pipeline] - Walk the output directory and run the stages per file
//
// # Architecture
//
// The data flow for one HTML file:
//
//	dist/**/*.html
//	         ↓
//	    [rewrite] package (find <picture data-optimize-*> nodes)
//	         ↓
//	    [resolve] package (reference → source image)
//	         ↓
//	    [cache] package (source bytes + request → key)
//	         ↓
//	    [variant] package (fallback, 1x and 2x WebP/AVIF)
//	         ↓
//	    [format] package (indent and wrap)
//
// # Quick Start
//
// Process a build output directory:
//
//	import (
//	    "context"
//	    "github.com/matzehuels/postbuild/pkg/pipeline"
//	)
//
//	opts := pipeline.DefaultOptions()
//	opts.OutputDir = "dist"
//	opts.SourceDir = "src/assets/images"
//
//	res, err := pipeline.NewRunner(nil).Run(context.Background(), opts)
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("%d of %d files changed\n", res.Changed, res.Files)
//
// # Main Packages
//
// [pipeline] - Orchestration. Collects HTML and CSS files, runs them through
// a bounded worker group, isolates per-file failures and reports a [pipeline.Result].
// Also implements the cleanup step that unwraps the app container.
//
// [rewrite] - HTML rewriting with goquery. Each optimization node is handled
// on its own; a node that cannot be optimized is left as written and reported
// as a [rewrite.Diagnostic].
//
// [resolve] - Source lookup by public path, by bundler-stripped basename and
// by configured alias roots.
//
// [variant] - Image generation with disintegration/imaging. Encoders are held
// in a [variant.Registry] so tests can replace the WebP and AVIF codecs.
//
// [format] - HTML and CSS formatters with js-beautify compatible options.
//
// [config] - TOML and YAML configuration files for [pipeline.Options].
//
// [observability] - Hooks for file and variant events.
//
// [errors] - Coded errors shared by every package.
//
// # Testing
//
// Run tests:
//
//	go test ./pkg/...                    # All tests
//	go test ./pkg/format/...             # Specific package
//
// [resolve]: https://pkg.go.dev/github.com/matzehuels/postbuild/pkg/resolve
// [variant]: https://pkg.go.dev/github.com/matzehuels/postbuild/pkg/variant
// [rewrite]: https://pkg.go.dev/github.com/matzehuels/postbuild/pkg/rewrite
// [format]: https://pkg.go.dev/github.com/matzehuels/postbuild/pkg/format
// [pipeline]: https://pkg.go.dev/github.com/matzehuels/postbuild/pkg/pipeline
// [cache]: https://pkg.go.dev/github.com/matzehuels/postbuild/pkg/cache
// [config]: https://pkg.go.dev/github.com/matzehuels/postbuild/pkg/config
// [observability]: https://pkg.go.dev/github.com/matzehuels/postbuild/pkg/observability
// [errors]: https://pkg.go.dev/github.com/matzehuels/postbuild/pkg/errors
package pkg
