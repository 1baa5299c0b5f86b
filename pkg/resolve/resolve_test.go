package resolve

import (
	"bytes"
	stderrors "errors"
	"image"
	"image/jpeg"
	"image/png"
	"slices"
	"testing"

	"github.com/spf13/afero"

	"github.com/matzehuels/postbuild/pkg/errors"
)

const root = "/site/src/assets/images"

func writeJPEG(t *testing.T, fs afero.Fs, p string, w, h int) {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)), nil); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, p, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writePNG(t *testing.T, fs afero.Fs, p string, w, h int) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, p, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestOriginalName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"hero-x9f2.jpg", "hero.jpg"},
		{"hero-Ab_C12.png", "hero.png"},
		{"my-hero-x9f2.jpg", "my-hero.jpg"},
		{"hero.jpg", "hero.jpg"},
		{"hero-.jpg", "hero-.jpg"},
		{"noext", "noext"},
	}
	for _, tt := range tests {
		if got := OriginalName(tt.in); got != tt.want {
			t.Errorf("OriginalName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolveAliased(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeJPEG(t, fs, root+"/banner/hero.jpg", 200, 100)
	r := New(fs, root)

	for _, ref := range []string{"@/assets/images/banner/hero.jpg", "/src/assets/images/banner/hero.jpg"} {
		src, err := r.Resolve(ref)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", ref, err)
		}
		if src.RelPath != "banner/hero.jpg" {
			t.Errorf("RelPath = %q", src.RelPath)
		}
		if src.Width != 200 || src.Height != 100 || src.Format != "jpeg" {
			t.Errorf("got %dx%d %s", src.Width, src.Height, src.Format)
		}
		if src.BundlerName != "" {
			t.Errorf("aliased reference should not report a bundler copy, got %q", src.BundlerName)
		}
		if src.Dir() != "banner" || src.Base() != "hero" || src.Ext() != ".jpg" {
			t.Errorf("Dir/Base/Ext = %q %q %q", src.Dir(), src.Base(), src.Ext())
		}
	}
}

func TestResolveAliasedTraversal(t *testing.T) {
	r := New(afero.NewMemMapFs(), root)
	_, err := r.Resolve("@/assets/images/../../secret.jpg")
	if !errors.Is(err, errors.ErrCodeInvalidPath) {
		t.Errorf("want INVALID_PATH, got %v", err)
	}
}

func TestResolveBundlerName(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeJPEG(t, fs, root+"/banner/hero.jpg", 2000, 1000)
	r := New(fs, root)

	src, err := r.Resolve("/assets/images/hero-x9f2.jpg?v=1")
	if err != nil {
		t.Fatal(err)
	}
	if src.RelPath != "banner/hero.jpg" {
		t.Errorf("RelPath = %q", src.RelPath)
	}
	if src.BundlerName != "hero-x9f2.jpg" {
		t.Errorf("BundlerName = %q", src.BundlerName)
	}
	if src.Dir() != "banner" {
		t.Errorf("Dir = %q", src.Dir())
	}
}

func TestResolveFirstMatchWins(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeJPEG(t, fs, root+"/b/logo.png", 10, 10)
	writePNG(t, fs, root+"/a/logo.png", 20, 20)
	writePNG(t, fs, root+"/c/logo.png", 30, 30)
	r := New(fs, root)

	src, err := r.Resolve("/assets/images/logo-abc.png")
	if err != nil {
		t.Fatal(err)
	}
	if src.RelPath != "a/logo.png" {
		t.Errorf("first match in traversal order should win, got %q", src.RelPath)
	}
	if src.Format != "png" {
		t.Errorf("Format = %q", src.Format)
	}
}

func TestCandidateNames(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"hero-x9f2.jpg", []string{"hero.jpg"}},
		{"hero-Ab_c-1d.jpg", []string{"hero-Ab_c.jpg", "hero.jpg"}},
		{"hero.jpg", []string{"hero.jpg"}},
	}
	for _, tt := range tests {
		if got := CandidateNames(tt.in); !slices.Equal(got, tt.want) {
			t.Errorf("CandidateNames(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestResolveDashedFingerprint(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeJPEG(t, fs, root+"/banner/hero.jpg", 20, 10)
	writeJPEG(t, fs, root+"/a/my.jpg", 10, 10)
	writeJPEG(t, fs, root+"/b/my-hero.jpg", 30, 10)
	r := New(fs, root)

	tests := []struct {
		ref, want string
	}{
		{"/assets/images/hero-Ab_c-1d.jpg", "banner/hero.jpg"},
		// the final-segment strip is preferred over an earlier lexical match
		{"/assets/images/my-hero-x9f2.jpg", "b/my-hero.jpg"},
	}
	for _, tt := range tests {
		src, err := r.Resolve(tt.ref)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", tt.ref, err)
		}
		if src.RelPath != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.ref, src.RelPath, tt.want)
		}
	}
}

func TestResolveNotFound(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeJPEG(t, fs, root+"/hero.jpg", 10, 10)
	r := New(fs, root)

	for _, ref := range []string{"/assets/images/missing-abc.jpg", "@/assets/images/missing.jpg"} {
		_, err := r.Resolve(ref)
		if !stderrors.Is(err, ErrNotFound) {
			t.Errorf("Resolve(%q) = %v, want ErrNotFound", ref, err)
		}
		if !errors.Is(err, errors.ErrCodeFileNotFound) {
			t.Errorf("Resolve(%q) code = %v", ref, errors.GetCode(err))
		}
	}
}

func TestResolveMissingRoot(t *testing.T) {
	r := New(afero.NewMemMapFs(), "/nowhere")
	_, err := r.Resolve("/assets/images/hero-abc.jpg")
	if !stderrors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func TestResolveUndecodable(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, root+"/broken.jpg", []byte("not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := New(fs, root)
	_, err := r.Resolve("@/assets/images/broken.jpg")
	if !errors.Is(err, errors.ErrCodeUnsupportedFormat) {
		t.Errorf("want UNSUPPORTED_FORMAT, got %v", err)
	}
}

func TestResolveCustomAliases(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeJPEG(t, fs, root+"/hero.jpg", 10, 10)
	r := New(fs, root, WithAliases("~img/"), WithPublicPrefix("/static/img/"))

	if _, err := r.Resolve("~img/hero.jpg"); err != nil {
		t.Errorf("custom alias: %v", err)
	}
	src, err := r.Resolve("/static/img/hero-12ab.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if src.BundlerName != "hero-12ab.jpg" {
		t.Errorf("BundlerName = %q", src.BundlerName)
	}
}
