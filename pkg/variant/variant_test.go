package variant

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/afero"

	"github.com/matzehuels/postbuild/pkg/errors"
	"github.com/matzehuels/postbuild/pkg/resolve"
)

const out = "/site/dist/assets/images"

// encodeCall records one codec invocation.
type encodeCall struct {
	format  string
	w, h    int
	quality int
}

// recorder is a fake codec set that writes a short marker instead of real
// webp/avif data.
type recorder struct {
	mu    sync.Mutex
	calls []encodeCall
}

func (r *recorder) codec(format string) Codec {
	return CodecFunc(func(w io.Writer, img image.Image, quality int) error {
		b := img.Bounds()
		r.mu.Lock()
		r.calls = append(r.calls, encodeCall{format, b.Dx(), b.Dy(), quality})
		r.mu.Unlock()
		_, err := fmt.Fprintf(w, "%s %dx%d q%d", format, b.Dx(), b.Dy(), quality)
		return err
	})
}

func (r *recorder) find(format string, w int) (encodeCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.format == format && c.w == w {
			return c, true
		}
	}
	return encodeCall{}, false
}

func fakeRegistry(rec *recorder) *Registry {
	reg := NewRegistry()
	reg.Register(FormatWebP, rec.codec(FormatWebP))
	reg.Register(FormatAVIF, rec.codec(FormatAVIF))
	return reg
}

func jpegSource(t *testing.T, rel string, w, h int) *resolve.SourceImage {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil); err != nil {
		t.Fatal(err)
	}
	return &resolve.SourceImage{Path: "/src/" + rel, RelPath: rel, Data: buf.Bytes(), Width: w, Height: h, Format: FormatJPEG}
}

func pngSource(t *testing.T, rel string, w, h int) *resolve.SourceImage {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return &resolve.SourceImage{Path: "/src/" + rel, RelPath: rel, Data: buf.Bytes(), Width: w, Height: h, Format: FormatPNG}
}

func decodeSize(t *testing.T, fs afero.Fs, p string) (int, int, string) {
	t.Helper()
	data, err := afero.ReadFile(fs, p)
	if err != nil {
		t.Fatalf("read %s: %v", p, err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode %s: %v", p, err)
	}
	return cfg.Width, cfg.Height, format
}

func TestTargetHeight(t *testing.T) {
	tests := []struct {
		srcW, srcH, w, want int
	}{
		{2000, 1000, 800, 400},
		{1000, 2000, 300, 600},
		{3, 2, 100, 67},
		{1000, 1, 10, 1},
	}
	for _, tt := range tests {
		if got := TargetHeight(tt.srcW, tt.srcH, tt.w); got != tt.want {
			t.Errorf("TargetHeight(%d, %d, %d) = %d, want %d", tt.srcW, tt.srcH, tt.w, got, tt.want)
		}
	}
}

func TestQualityMapping(t *testing.T) {
	if got := WebPQuality(80); got != 76 {
		t.Errorf("WebPQuality(80) = %d, want 76", got)
	}
	if got := AVIFQuality(80); got != 68 {
		t.Errorf("AVIFQuality(80) = %d, want 68", got)
	}
	levels := map[int]int{100: 0, 80: 2, 50: 5, 0: 9}
	for q, want := range levels {
		if got := PNGLevel(q); got != want {
			t.Errorf("PNGLevel(%d) = %d, want %d", q, got, want)
		}
	}
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		code errors.Code
	}{
		{"valid", Request{Width: 800, Quality: 80, Formats: []string{"webp"}}, ""},
		{"zero width", Request{Width: 0, Quality: 80}, errors.ErrCodeInvalidWidth},
		{"quality high", Request{Width: 10, Quality: 101}, errors.ErrCodeInvalidQuality},
		{"bad format", Request{Width: 10, Quality: 80, Formats: []string{"gif"}}, errors.ErrCodeInvalidFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if got := errors.GetCode(err); got != tt.code {
				t.Errorf("Validate() code = %q, want %q (%v)", got, tt.code, err)
			}
		})
	}
}

// TestGenerateHero covers the banner/hero.jpg scenario: 2000x1000 source,
// width 800, quality 80, webp and avif requested.
func TestGenerateHero(t *testing.T) {
	fs := afero.NewMemMapFs()
	rec := &recorder{}
	g := New(fs, out, WithCodecs(fakeRegistry(rec)))
	src := jpegSource(t, "banner/hero.jpg", 2000, 1000)

	res, err := g.Generate(context.Background(), src, Request{Width: 800, Quality: 80, Formats: []string{"webp", "avif"}}, "k3yK3y_-")
	if err != nil {
		t.Fatal(err)
	}

	wantPaths := map[string]string{
		"fallback": out + "/banner/hero-k3yK3y_-.jpg",
		"webp":     out + "/banner/hero-k3yK3y_-.webp",
		"webp2x":   out + "/banner/hero-k3yK3y_-@2x.webp",
		"avif":     out + "/banner/hero-k3yK3y_-.avif",
		"avif2x":   out + "/banner/hero-k3yK3y_-@2x.avif",
	}
	got := map[string]string{
		"fallback": res.Fallback.Path,
		"webp":     res.WebP.Path,
		"webp2x":   res.WebP2x.Path,
		"avif":     res.AVIF.Path,
		"avif2x":   res.AVIF2x.Path,
	}
	for k, want := range wantPaths {
		if got[k] != filepath.FromSlash(want) {
			t.Errorf("%s path = %q, want %q", k, got[k], want)
		}
		if ok, _ := afero.Exists(fs, got[k]); !ok {
			t.Errorf("%s not written", k)
		}
	}

	if res.Fallback.URL != "/assets/images/banner/hero-k3yK3y_-.jpg" {
		t.Errorf("fallback URL = %q", res.Fallback.URL)
	}

	w, h, format := decodeSize(t, fs, res.Fallback.Path)
	if w != 800 || h != 400 || format != "jpeg" {
		t.Errorf("fallback = %dx%d %s, want 800x400 jpeg", w, h, format)
	}

	checks := []encodeCall{
		{FormatWebP, 800, 400, 76},
		{FormatWebP, 1600, 800, 76},
		{FormatAVIF, 800, 400, 68},
		{FormatAVIF, 1600, 800, 68},
	}
	for _, want := range checks {
		c, ok := rec.find(want.format, want.w)
		if !ok {
			t.Errorf("no %s encode at width %d", want.format, want.w)
			continue
		}
		if c != want {
			t.Errorf("encode = %+v, want %+v", c, want)
		}
	}

	wantSet := "/assets/images/banner/hero-k3yK3y_-.avif 1x, /assets/images/banner/hero-k3yK3y_-@2x.avif 2x"
	if s := res.SrcSet(FormatAVIF); s != wantSet {
		t.Errorf("SrcSet(avif) = %q", s)
	}
	if len(res.Variants()) != 5 {
		t.Errorf("Variants() = %d, want 5", len(res.Variants()))
	}
}

func TestGenerateFallbackOnly(t *testing.T) {
	fs := afero.NewMemMapFs()
	g := New(fs, out)
	src := pngSource(t, "logo.png", 400, 200)

	res, err := g.Generate(context.Background(), src, Request{Width: 100, Quality: 90}, "abcdefgh")
	if err != nil {
		t.Fatal(err)
	}
	if res.WebP != nil || res.AVIF != nil {
		t.Error("no modern formats were requested")
	}
	if res.SrcSet(FormatWebP) != "" {
		t.Error("SrcSet should be empty for formats not produced")
	}
	w, h, format := decodeSize(t, fs, res.Fallback.Path)
	if w != 100 || h != 50 || format != "png" {
		t.Errorf("fallback = %dx%d %s", w, h, format)
	}
	if res.Fallback.URL != "/assets/images/logo-abcdefgh.png" {
		t.Errorf("URL = %q", res.Fallback.URL)
	}
}

func TestGenerateReusesExisting(t *testing.T) {
	fs := afero.NewMemMapFs()
	rec := &recorder{}
	g := New(fs, out, WithCodecs(fakeRegistry(rec)))
	src := jpegSource(t, "hero.jpg", 40, 20)
	req := Request{Width: 20, Quality: 80, Formats: []string{"webp"}}

	if _, err := g.Generate(context.Background(), src, req, "aaaaaaaa"); err != nil {
		t.Fatal(err)
	}
	first := len(rec.calls)

	res, err := g.Generate(context.Background(), src, req, "aaaaaaaa")
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.calls) != first {
		t.Errorf("second run re-encoded: %d calls, want %d", len(rec.calls), first)
	}
	for _, v := range res.Variants() {
		if !v.Reused {
			t.Errorf("%s should be reused", v.Path)
		}
	}
}

func TestGenerateForce(t *testing.T) {
	fs := afero.NewBasePathFs(afero.NewOsFs(), t.TempDir())
	rec := &recorder{}
	src := jpegSource(t, "hero.jpg", 40, 20)
	req := Request{Width: 20, Quality: 80, Formats: []string{"webp"}}

	g := New(fs, "/out", WithCodecs(fakeRegistry(rec)), WithForce(true))
	for i := 0; i < 2; i++ {
		if _, err := g.Generate(context.Background(), src, req, "bbbbbbbb"); err != nil {
			t.Fatal(err)
		}
	}
	if len(rec.calls) != 4 {
		t.Errorf("forced runs should re-encode every time: %d webp calls, want 4", len(rec.calls))
	}
}

func TestGenerateRemovesBundlerCopy(t *testing.T) {
	fs := afero.NewMemMapFs()
	dup := filepath.Join(out, "hero-x9f2.jpg")
	if err := afero.WriteFile(fs, dup, []byte("bundled"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := jpegSource(t, "banner/hero.jpg", 40, 20)
	src.BundlerName = "hero-x9f2.jpg"

	res, err := New(fs, out).Generate(context.Background(), src, Request{Width: 20, Quality: 80}, "cccccccc")
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := afero.Exists(fs, dup); ok {
		t.Error("bundler copy should be removed")
	}
	if res.Removed != dup {
		t.Errorf("Removed = %q, want %q", res.Removed, dup)
	}
}

func TestGenerateKeepsBundlerCopyOnFailure(t *testing.T) {
	fs := afero.NewMemMapFs()
	dup := filepath.Join(out, "hero-x9f2.jpg")
	if err := afero.WriteFile(fs, dup, []byte("bundled"), 0o644); err != nil {
		t.Fatal(err)
	}
	reg := NewRegistry()
	reg.Register(FormatWebP, CodecFunc(func(io.Writer, image.Image, int) error {
		return fmt.Errorf("boom")
	}))
	src := jpegSource(t, "hero.jpg", 40, 20)
	src.BundlerName = "hero-x9f2.jpg"

	_, err := New(fs, out, WithCodecs(reg)).Generate(context.Background(), src, Request{Width: 20, Quality: 80, Formats: []string{"webp"}}, "dddddddd")
	if !errors.Is(err, errors.ErrCodeCodecFailed) {
		t.Fatalf("want CODEC_FAILED, got %v", err)
	}
	if ok, _ := afero.Exists(fs, dup); !ok {
		t.Error("bundler copy must survive a failed generation")
	}
}

func TestGenerateUnsupportedSource(t *testing.T) {
	src := &resolve.SourceImage{RelPath: "anim.webp", Format: FormatWebP, Width: 10, Height: 10}
	_, err := New(afero.NewMemMapFs(), out).Generate(context.Background(), src, Request{Width: 5, Quality: 80}, "eeeeeeee")
	if !errors.Is(err, errors.ErrCodeUnsupportedFormat) {
		t.Errorf("want UNSUPPORTED_FORMAT, got %v", err)
	}
}

func TestGenerateCorruptSource(t *testing.T) {
	src := &resolve.SourceImage{RelPath: "bad.jpg", Format: FormatJPEG, Width: 10, Height: 10, Data: []byte("garbage")}
	_, err := New(afero.NewMemMapFs(), out).Generate(context.Background(), src, Request{Width: 5, Quality: 80}, "ffffffff")
	if !errors.Is(err, errors.ErrCodeCodecFailed) {
		t.Errorf("want CODEC_FAILED, got %v", err)
	}
}

func TestGenerateDryRun(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := jpegSource(t, "hero.jpg", 40, 20)
	res, err := New(fs, out, WithDryRun(true)).Generate(context.Background(), src, Request{Width: 20, Quality: 80, Formats: []string{"avif"}}, "gggggggg")
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range res.Variants() {
		if ok, _ := afero.Exists(fs, v.Path); ok {
			t.Errorf("dry run wrote %s", v.Path)
		}
	}
}

func TestGenerateOversized(t *testing.T) {
	rec := &recorder{}
	tests := []struct {
		name string
		src  *resolve.SourceImage
		req  Request
	}{
		{"width", jpegSource(t, "hero.jpg", 20, 10), Request{Width: errors.MaxWidth * 1000, Quality: 80}},
		{"tall source", &resolve.SourceImage{RelPath: "strip.jpg", Format: FormatJPEG, Width: 1, Height: 100}, Request{Width: errors.MaxWidth, Quality: 80}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			_, err := New(fs, out, WithCodecs(fakeRegistry(rec))).Generate(context.Background(), tt.src, tt.req, "iiiiiiii")
			if !errors.Is(err, errors.ErrCodeInvalidWidth) {
				t.Errorf("want INVALID_WIDTH, got %v", err)
			}
		})
	}
	if len(rec.calls) != 0 {
		t.Errorf("oversized requests reached the encoder: %v", rec.calls)
	}
}

// statErrFs fails every Stat with a permission error.
type statErrFs struct{ afero.Fs }

func (statErrFs) Stat(name string) (os.FileInfo, error) {
	return nil, &os.PathError{Op: "stat", Path: name, Err: os.ErrPermission}
}

func TestGenerateStatError(t *testing.T) {
	rec := &recorder{}
	fs := statErrFs{afero.NewMemMapFs()}
	src := jpegSource(t, "hero.jpg", 40, 20)

	_, err := New(fs, out, WithCodecs(fakeRegistry(rec))).Generate(context.Background(), src, Request{Width: 20, Quality: 80, Formats: []string{"webp"}}, "jjjjjjjj")
	if !errors.Is(err, errors.ErrCodeInternal) {
		t.Errorf("want INTERNAL_ERROR, got %v", err)
	}
	if len(rec.calls) != 0 {
		t.Errorf("encoded %d variants after a failed stat", len(rec.calls))
	}
}

func TestGenerateCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := jpegSource(t, "hero.jpg", 40, 20)
	_, err := New(afero.NewMemMapFs(), out).Generate(ctx, src, Request{Width: 20, Quality: 80}, "hhhhhhhh")
	if err != context.Canceled {
		t.Errorf("want context.Canceled, got %v", err)
	}
}

func TestDefaultCodecs(t *testing.T) {
	if testing.Short() {
		t.Skip("webp/avif encoders are slow to initialize")
	}
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	reg := NewRegistry()
	for _, format := range []string{FormatJPEG, FormatPNG, FormatWebP, FormatAVIF} {
		c, ok := reg.Lookup(format)
		if !ok {
			t.Fatalf("no codec for %s", format)
		}
		var buf bytes.Buffer
		if err := c.Encode(&buf, img, 60); err != nil {
			t.Errorf("%s: %v", format, err)
		}
		if buf.Len() == 0 {
			t.Errorf("%s produced no bytes", format)
		}
	}
}
