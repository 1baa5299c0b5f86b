// Package resolve maps image references found in built markup back to the
// original files in the source asset tree.
//
// Two reference forms are understood, tried in order:
//
//  1. Aliased source paths such as "@/assets/images/banner/hero.jpg". The
//     alias is stripped and the remainder is looked up directly under the
//     source root.
//  2. Bundler-emitted names such as "/assets/images/hero-x9f2.jpg". The final
//     dash-delimited segment before the extension is treated as the bundler
//     fingerprint and removed ("hero.jpg"), then the source root is searched
//     recursively for a file with exactly that name.
//
// The recursive search returns the first match in lexical depth-first order.
// When several source files share a basename the first one wins. Use the
// aliased form to address such files unambiguously.
//
// Fingerprints may contain dashes ("hero-Ab_c-1d.jpg"). When no file matches
// the final-segment strip, longer strips are tried in turn ("hero-Ab_c.jpg",
// then "hero.jpg").
package resolve

import (
	"bytes"
	stderrors "errors"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	_ "golang.org/x/image/webp"

	"github.com/matzehuels/postbuild/pkg/errors"
)

// Default reference prefixes.
const (
	// DefaultPublicPrefix is where the bundler emits image assets, as seen from markup.
	DefaultPublicPrefix = "/assets/images/"
)

// DefaultAliases are the source-path aliases recognized by default.
var DefaultAliases = []string{"@/assets/images/", "/src/assets/images/"}

// ErrNotFound is returned (wrapped) when no source file matches a reference.
var ErrNotFound = stderrors.New("source image not found")

// errFound stops the recursive search at the first match.
var errFound = stderrors.New("found")

// bundlerHash matches "<name>-<fingerprint>.<ext>".
var bundlerHash = regexp.MustCompile(`^(.+)-[A-Za-z0-9_]+(\.[^.]+)$`)

// SourceImage is an original image in the source asset tree.
type SourceImage struct {
	Path    string // filesystem path
	RelPath string // slash-separated path relative to the source root
	Data    []byte
	Width   int
	Height  int
	Format  string // decoder name: "jpeg", "png", "webp"

	// BundlerName is the file name of the bundler-emitted copy when the
	// reference pointed at one, e.g. "hero-x9f2.jpg". Empty otherwise.
	BundlerName string
}

// Ext returns the source file extension including the dot, as written on disk.
func (s *SourceImage) Ext() string { return path.Ext(s.RelPath) }

// Base returns the source file name without its extension.
func (s *SourceImage) Base() string {
	name := path.Base(s.RelPath)
	return strings.TrimSuffix(name, path.Ext(name))
}

// Dir returns the slash-separated directory of the source relative to the
// root, or "" for files directly under it.
func (s *SourceImage) Dir() string {
	d := path.Dir(s.RelPath)
	if d == "." {
		return ""
	}
	return d
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithAliases replaces the recognized source-path aliases.
func WithAliases(aliases ...string) Option {
	return func(r *Resolver) { r.aliases = aliases }
}

// WithPublicPrefix sets the URL prefix under which bundler-emitted images live.
func WithPublicPrefix(p string) Option {
	return func(r *Resolver) { r.publicPrefix = p }
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *log.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// Resolver finds source images for markup references. It holds no mutable
// state and is safe for concurrent use.
type Resolver struct {
	fs           afero.Fs
	root         string
	aliases      []string
	publicPrefix string
	logger       *log.Logger
}

// New creates a resolver over the source asset root on fs.
func New(fs afero.Fs, root string, opts ...Option) *Resolver {
	r := &Resolver{
		fs:           fs,
		root:         root,
		aliases:      DefaultAliases,
		publicPrefix: DefaultPublicPrefix,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return r
}

// Root returns the source asset root.
func (r *Resolver) Root() string { return r.root }

// Resolve returns the source image for ref. A reference that matches no file
// yields an error with code FILE_NOT_FOUND wrapping ErrNotFound.
func (r *Resolver) Resolve(ref string) (*SourceImage, error) {
	ref = stripQuery(ref)

	var (
		src *SourceImage
		err error
	)
	if rel, ok := r.aliased(ref); ok {
		src, err = r.direct(rel)
	} else {
		src, err = r.search(ref)
	}
	if err != nil {
		return nil, err
	}

	if strings.HasPrefix(ref, r.publicPrefix) {
		src.BundlerName = path.Base(ref)
	}

	if err := decodeConfig(src); err != nil {
		return nil, err
	}
	r.logger.Debug("resolved image", "ref", ref, "source", src.RelPath, "width", src.Width, "height", src.Height)
	return src, nil
}

func (r *Resolver) aliased(ref string) (string, bool) {
	for _, alias := range r.aliases {
		if strings.HasPrefix(ref, alias) {
			return strings.TrimPrefix(ref, alias), true
		}
	}
	return "", false
}

func (r *Resolver) direct(rel string) (*SourceImage, error) {
	if err := errors.ValidatePath(rel); err != nil {
		return nil, err
	}
	full := filepath.Join(r.root, filepath.FromSlash(rel))
	data, err := afero.ReadFile(r.fs, full)
	if os.IsNotExist(err) {
		return nil, errors.Wrap(errors.ErrCodeFileNotFound, ErrNotFound, "%s", rel)
	}
	if err != nil {
		return nil, err
	}
	return &SourceImage{Path: full, RelPath: rel, Data: data}, nil
}

func (r *Resolver) search(ref string) (*SourceImage, error) {
	names := CandidateNames(path.Base(ref))
	name := names[0]

	// first match per candidate; the walk stops once the preferred one is seen
	matches := make(map[string]string, len(names))
	err := afero.Walk(r.fs, r.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !slices.Contains(names, info.Name()) {
			return nil
		}
		if _, seen := matches[info.Name()]; !seen {
			matches[info.Name()] = p
		}
		if info.Name() == name {
			return errFound
		}
		return nil
	})
	if err != nil && !stderrors.Is(err, errFound) {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(errors.ErrCodeFileNotFound, ErrNotFound, "%s (source root missing)", name)
		}
		return nil, err
	}
	var found string
	for _, n := range names {
		if p, ok := matches[n]; ok {
			found = p
			break
		}
	}
	if found == "" {
		return nil, errors.Wrap(errors.ErrCodeFileNotFound, ErrNotFound, "%s", name)
	}

	rel, err := filepath.Rel(r.root, found)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(r.fs, found)
	if err != nil {
		return nil, err
	}
	return &SourceImage{Path: found, RelPath: filepath.ToSlash(rel), Data: data}, nil
}

// OriginalName strips the bundler fingerprint from a file name:
// "hero-x9f2.jpg" becomes "hero.jpg". Names without a fingerprint are
// returned unchanged.
func OriginalName(name string) string {
	return bundlerHash.ReplaceAllString(name, "$1$2")
}

// CandidateNames lists the names a bundler-emitted file may have come from,
// most likely first: the final dash segment stripped, then each earlier one
// as well, since fingerprints may themselves contain dashes.
// "hero-Ab_c-1d.jpg" gives "hero-Ab_c.jpg", "hero.jpg".
func CandidateNames(name string) []string {
	names := []string{OriginalName(name)}
	for {
		next := OriginalName(names[len(names)-1])
		if next == names[len(names)-1] {
			return names
		}
		names = append(names, next)
	}
}

func decodeConfig(src *SourceImage) error {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(src.Data))
	if err != nil {
		return errors.Wrap(errors.ErrCodeUnsupportedFormat, err, "decode %s", src.RelPath)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return errors.New(errors.ErrCodeUnsupportedFormat, "%s has no pixels", src.RelPath)
	}
	src.Width, src.Height, src.Format = cfg.Width, cfg.Height, format
	return nil
}

func stripQuery(ref string) string {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		return ref[:i]
	}
	return ref
}
