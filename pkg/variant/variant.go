// Package variant generates resized, re-encoded image variants for a
// resolved source image.
//
// For every request a fallback image is produced in the source's own format
// (JPEG or PNG) at the requested width, with the height derived from the
// source aspect ratio. Optional webp and avif variants are produced at 1x and
// 2x density. All output names embed the request's content key:
//
//	{base}-{key}.{ext}
//	{base}-{key}.webp  {base}-{key}@2x.webp
//	{base}-{key}.avif  {base}-{key}@2x.avif
//
// Output mirrors the source directory structure under the output root.
// Because names are content-addressed, an existing file at a target path is
// taken to hold the right bytes and is not re-encoded.
package variant

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"math"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/disintegration/imaging"
	"github.com/spf13/afero"

	"github.com/matzehuels/postbuild/pkg/errors"
	"github.com/matzehuels/postbuild/pkg/observability"
	"github.com/matzehuels/postbuild/pkg/resolve"
)

// DefaultPublicPrefix is the URL prefix of the output root.
const DefaultPublicPrefix = "/assets/images"

// Request is a validated optimization request.
type Request struct {
	Width   int      // target 1x width in pixels, > 0
	Quality int      // 0-100
	Formats []string // subset of {webp, avif}
}

// Wants reports whether format was requested.
func (r Request) Wants(format string) bool {
	for _, f := range r.Formats {
		if f == format {
			return true
		}
	}
	return false
}

// Validate checks the request invariants.
func (r Request) Validate() error {
	if err := errors.ValidateWidth(r.Width); err != nil {
		return err
	}
	if err := errors.ValidateQuality(r.Quality); err != nil {
		return err
	}
	for _, f := range r.Formats {
		if f != FormatWebP && f != FormatAVIF {
			return errors.New(errors.ErrCodeInvalidFormat, "unsupported format %q (must be webp or avif)", f)
		}
	}
	return nil
}

// Variant is one generated file.
type Variant struct {
	Format string
	Scale  int // 1 or 2
	Width  int
	Height int
	Path   string // filesystem path
	URL    string // public URL used in markup
	Reused bool   // file already existed and was not re-encoded
}

// Result lists the variants produced for one request.
type Result struct {
	Key      string
	Fallback Variant
	WebP     *Variant
	WebP2x   *Variant
	AVIF     *Variant
	AVIF2x   *Variant

	// Removed is the path of the bundler-emitted duplicate that was deleted, if any.
	Removed string
}

// Variants returns all variants, fallback first.
func (r *Result) Variants() []Variant {
	out := []Variant{r.Fallback}
	for _, v := range []*Variant{r.WebP, r.WebP2x, r.AVIF, r.AVIF2x} {
		if v != nil {
			out = append(out, *v)
		}
	}
	return out
}

// SrcSet returns the "1x, 2x" srcset for format, or "" if it was not produced.
func (r *Result) SrcSet(format string) string {
	var one, two *Variant
	switch format {
	case FormatWebP:
		one, two = r.WebP, r.WebP2x
	case FormatAVIF:
		one, two = r.AVIF, r.AVIF2x
	}
	if one == nil || two == nil {
		return ""
	}
	return one.URL + " 1x, " + two.URL + " 2x"
}

// Option configures a Generator.
type Option func(*Generator)

// WithPublicPrefix sets the URL prefix that maps onto the output root.
func WithPublicPrefix(p string) Option {
	return func(g *Generator) { g.publicPrefix = p }
}

// WithCodecs replaces the codec registry.
func WithCodecs(r *Registry) Option {
	return func(g *Generator) { g.codecs = r }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// WithForce re-encodes variants even when their content-addressed path exists.
func WithForce(force bool) Option {
	return func(g *Generator) { g.force = force }
}

// WithDryRun computes paths without writing or deleting anything.
func WithDryRun(dryRun bool) Option {
	return func(g *Generator) { g.dryRun = dryRun }
}

// Generator writes image variants under an output root. It holds no mutable
// state and may be shared between goroutines.
type Generator struct {
	fs           afero.Fs
	outputDir    string
	publicPrefix string
	codecs       *Registry
	logger       *log.Logger
	force        bool
	dryRun       bool
}

// New creates a generator writing under outputDir on fs.
func New(fs afero.Fs, outputDir string, opts ...Option) *Generator {
	g := &Generator{
		fs:           fs,
		outputDir:    outputDir,
		publicPrefix: DefaultPublicPrefix,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.codecs == nil {
		g.codecs = NewRegistry()
	}
	if g.logger == nil {
		g.logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return g
}

// TargetHeight returns the height that preserves the aspect ratio of a
// srcW x srcH image scaled to width.
func TargetHeight(srcW, srcH, width int) int {
	h := int(math.Round(float64(width) * (float64(srcH) / float64(srcW))))
	return max(h, 1)
}

// job is one planned output file.
type job struct {
	v       *Variant
	quality int
}

// Generate produces the variants for src under req, naming them with key.
func (g *Generator) Generate(ctx context.Context, src *resolve.SourceImage, req Request, key string) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if src.Format != FormatJPEG && src.Format != FormatPNG {
		return nil, errors.New(errors.ErrCodeUnsupportedFormat, "%s: cannot produce a %s fallback (jpeg or png only)", src.RelPath, src.Format)
	}

	width := req.Width
	height := TargetHeight(src.Width, src.Height, width)
	if height > errors.MaxDimension/2 {
		return nil, errors.New(errors.ErrCodeInvalidWidth, "%s: width %d gives a %dpx tall variant (max %d)", src.RelPath, width, height*2, errors.MaxDimension)
	}
	dir := filepath.Join(g.outputDir, filepath.FromSlash(src.Dir()))
	base := src.Base() + "-" + key

	res := &Result{Key: key}
	res.Fallback = g.plan(src, src.Format, base+src.Ext(), 1, width, height)
	jobs := []job{{&res.Fallback, req.Quality}}

	if req.Wants(FormatWebP) {
		one := g.plan(src, FormatWebP, base+".webp", 1, width, height)
		two := g.plan(src, FormatWebP, base+"@2x.webp", 2, width*2, height*2)
		res.WebP, res.WebP2x = &one, &two
		q := WebPQuality(req.Quality)
		jobs = append(jobs, job{res.WebP, q}, job{res.WebP2x, q})
	}
	if req.Wants(FormatAVIF) {
		one := g.plan(src, FormatAVIF, base+".avif", 1, width, height)
		two := g.plan(src, FormatAVIF, base+"@2x.avif", 2, width*2, height*2)
		res.AVIF, res.AVIF2x = &one, &two
		q := AVIFQuality(req.Quality)
		jobs = append(jobs, job{res.AVIF, q}, job{res.AVIF2x, q})
	}

	if g.dryRun {
		return res, nil
	}

	if err := g.fs.MkdirAll(dir, 0o755); err != nil && !os.IsExist(err) {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	var (
		decoded image.Image
		scaled  = map[int]image.Image{}
	)
	for _, j := range jobs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !g.force {
			ok, err := afero.Exists(g.fs, j.v.Path)
			if err != nil {
				return nil, errors.Wrap(errors.ErrCodeInternal, err, "stat %s", j.v.Path)
			}
			if ok {
				j.v.Reused = true
				observability.Images().OnVariantReused(ctx, j.v.Path, j.v.Format)
				g.logger.Debug("variant exists", "path", j.v.Path)
				continue
			}
		}
		if decoded == nil {
			img, _, err := image.Decode(bytes.NewReader(src.Data))
			if err != nil {
				return nil, errors.Wrap(errors.ErrCodeCodecFailed, err, "decode %s", src.RelPath)
			}
			decoded = img
		}
		img, ok := scaled[j.v.Scale]
		if !ok {
			img = imaging.Resize(decoded, j.v.Width, j.v.Height, imaging.Lanczos)
			scaled[j.v.Scale] = img
		}
		n, err := g.write(j.v, img, j.quality)
		if err != nil {
			return nil, err
		}
		observability.Images().OnVariantWritten(ctx, j.v.Path, j.v.Format, n)
		g.logger.Debug("wrote variant", "path", j.v.Path, "size", fmt.Sprintf("%dx%d", j.v.Width, j.v.Height), "bytes", n)
	}

	removed, err := g.removeBundlerCopy(src, res)
	if err != nil {
		return nil, err
	}
	res.Removed = removed
	return res, nil
}

func (g *Generator) plan(src *resolve.SourceImage, format, name string, scale, w, h int) Variant {
	return Variant{
		Format: format,
		Scale:  scale,
		Width:  w,
		Height: h,
		Path:   filepath.Join(g.outputDir, filepath.FromSlash(src.Dir()), name),
		URL:    g.url(src.Dir(), name),
	}
}

func (g *Generator) url(dir, name string) string {
	u := path.Join(g.publicPrefix, dir, name)
	if !strings.HasPrefix(u, "/") && strings.HasPrefix(g.publicPrefix, "/") {
		u = "/" + u
	}
	return u
}

// write encodes img into v.Path via a temp file and rename, so an interrupted
// run never leaves a truncated variant behind.
func (g *Generator) write(v *Variant, img image.Image, quality int) (int, error) {
	codec, ok := g.codecs.Lookup(v.Format)
	if !ok {
		return 0, errors.New(errors.ErrCodeUnsupportedFormat, "no codec for %s", v.Format)
	}
	var buf bytes.Buffer
	if err := codec.Encode(&buf, img, quality); err != nil {
		return 0, errors.Wrap(errors.ErrCodeCodecFailed, err, "encode %s", v.Path)
	}

	tmp, err := afero.TempFile(g.fs, filepath.Dir(v.Path), ".variant-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		_ = g.fs.Remove(tmp.Name())
		return 0, fmt.Errorf("write %s: %w", v.Path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = g.fs.Remove(tmp.Name())
		return 0, fmt.Errorf("close %s: %w", v.Path, err)
	}
	if err := g.fs.Rename(tmp.Name(), v.Path); err != nil {
		_ = g.fs.Remove(tmp.Name())
		return 0, fmt.Errorf("rename %s: %w", v.Path, err)
	}
	return buf.Len(), nil
}

// removeBundlerCopy deletes the bundler-emitted file the markup referenced
// before optimization, so only the content-addressed variant ships. It runs
// after every variant is in place; a failed generation keeps the original.
func (g *Generator) removeBundlerCopy(src *resolve.SourceImage, res *Result) (string, error) {
	if src.BundlerName == "" {
		return "", nil
	}
	p := filepath.Join(g.outputDir, src.BundlerName)
	for _, v := range res.Variants() {
		if v.Path == p {
			return "", nil
		}
	}
	if err := g.fs.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("remove bundler copy %s: %w", p, err)
	}
	g.logger.Debug("removed bundler copy", "path", p)
	return p, nil
}
