// Package rewrite finds responsive-image optimization requests in built
// HTML and rewrites them to reference generated variants.
//
// An optimization node is a <picture> element carrying all three of
// data-optimize-width, data-optimize-quality and data-optimize-formats and
// wrapping an <img>. For each node the image is resolved to its source file,
// variants are generated, <source> elements are inserted ahead of the image
// (avif first, then webp) and the image src is pointed at the fallback. The
// three attributes are then removed, so a second pass finds nothing to do.
//
// Every node is its own failure boundary: a node that cannot be resolved,
// validated or encoded is reported and left exactly as it was, and the
// remaining nodes are still processed.
package rewrite

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/charmbracelet/log"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/matzehuels/postbuild/pkg/cache"
	"github.com/matzehuels/postbuild/pkg/errors"
	"github.com/matzehuels/postbuild/pkg/observability"
	"github.com/matzehuels/postbuild/pkg/resolve"
	"github.com/matzehuels/postbuild/pkg/variant"
)

// Defaults for locating optimization nodes.
const (
	DefaultContainer  = "picture"
	DefaultAttrPrefix = "data-optimize-"
)

// Resolver finds the source image for a markup reference.
type Resolver interface {
	Resolve(ref string) (*resolve.SourceImage, error)
}

// Generator produces variants for a resolved source.
type Generator interface {
	Generate(ctx context.Context, src *resolve.SourceImage, req variant.Request, key string) (*variant.Result, error)
}

// Diagnostic describes an optimization node that was left untouched.
type Diagnostic struct {
	File string // document the node belongs to
	Src  string // image reference of the node
	Err  error
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s: %v", d.File, d.Src, d.Err)
}

// Report summarizes one Rewrite call.
type Report struct {
	Nodes       int // optimization nodes found
	Optimized   int // nodes rewritten
	Diagnostics []Diagnostic
	Variants    []variant.Variant
	Removed     []string // bundler copies deleted
}

// Option configures a Rewriter.
type Option func(*Rewriter)

// WithContainer sets the element name of optimization nodes.
func WithContainer(tag string) Option {
	return func(r *Rewriter) { r.container = tag }
}

// WithAttrPrefix sets the prefix of the width/quality/formats attributes.
func WithAttrPrefix(prefix string) Option {
	return func(r *Rewriter) { r.attrPrefix = prefix }
}

// WithDimensions also writes width and height attributes onto the rewritten image.
func WithDimensions(on bool) Option {
	return func(r *Rewriter) { r.dimensions = on }
}

// WithLogger sets the logger for diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(r *Rewriter) { r.logger = l }
}

// Rewriter rewrites optimization nodes in HTML documents. It keeps no state
// between calls; each call owns the tree it parses.
type Rewriter struct {
	resolver   Resolver
	generator  Generator
	container  string
	attrPrefix string
	dimensions bool
	logger     *log.Logger
}

// New creates a rewriter.
func New(res Resolver, gen Generator, opts ...Option) *Rewriter {
	r := &Rewriter{
		resolver:   res,
		generator:  gen,
		container:  DefaultContainer,
		attrPrefix: DefaultAttrPrefix,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return r
}

func (r *Rewriter) attrs() (width, quality, formats string) {
	return r.attrPrefix + "width", r.attrPrefix + "quality", r.attrPrefix + "formats"
}

// Selector returns the CSS selector matching optimization nodes.
func (r *Rewriter) Selector() string {
	w, q, f := r.attrs()
	return fmt.Sprintf("%s[%s][%s][%s]", r.container, w, q, f)
}

// Rewrite processes every optimization node in doc. file is used only to
// label diagnostics. When no node was rewritten the input is returned
// unchanged.
func (r *Rewriter) Rewrite(ctx context.Context, file, doc string) (string, *Report, error) {
	report := &Report{}

	d, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return doc, report, fmt.Errorf("parse %s: %w", file, err)
	}

	nodes := d.Find(r.Selector())
	report.Nodes = nodes.Length()
	if report.Nodes == 0 {
		return doc, report, nil
	}

	for i := range nodes.Nodes {
		if err := ctx.Err(); err != nil {
			return doc, report, err
		}
		picture := nodes.Eq(i)
		src, err := r.rewriteNode(ctx, picture, report)
		if err != nil {
			report.Diagnostics = append(report.Diagnostics, Diagnostic{File: file, Src: src, Err: err})
			observability.Images().OnNodeSkipped(ctx, file, src, err)
			r.logger.Warn("image not optimized", "file", file, "src", src, "err", err)
			continue
		}
		report.Optimized++
	}

	if report.Optimized == 0 {
		return doc, report, nil
	}
	out, err := d.Html()
	if err != nil {
		return doc, report, fmt.Errorf("render %s: %w", file, err)
	}
	return out, report, nil
}

// rewriteNode optimizes one node. The tree is only touched after every
// variant exists, so an error leaves the node exactly as parsed.
func (r *Rewriter) rewriteNode(ctx context.Context, picture *goquery.Selection, report *Report) (string, error) {
	img := picture.Find("img").First()
	src, _ := img.Attr("src")
	if img.Length() == 0 || strings.TrimSpace(src) == "" {
		return src, errors.New(errors.ErrCodeInvalidInput, "%s has no <img> with a src", r.container)
	}

	wAttr, qAttr, fAttr := r.attrs()
	width, _ := picture.Attr(wAttr)
	quality, _ := picture.Attr(qAttr)
	formats, _ := picture.Attr(fAttr)
	req, err := ParseRequest(width, quality, formats)
	if err != nil {
		return src, err
	}

	source, err := r.resolver.Resolve(src)
	if err != nil {
		return src, err
	}

	key := cache.Key(source.Data, req.Width, req.Quality, req.Formats)
	res, err := r.generator.Generate(ctx, source, req, key)
	if err != nil {
		return src, err
	}

	// Prepending webp and then avif leaves avif first.
	if set := res.SrcSet(variant.FormatWebP); set != "" {
		picture.PrependNodes(sourceNode(set, variant.MIMETypes[variant.FormatWebP]))
	}
	if set := res.SrcSet(variant.FormatAVIF); set != "" {
		picture.PrependNodes(sourceNode(set, variant.MIMETypes[variant.FormatAVIF]))
	}

	img.SetAttr("src", res.Fallback.URL)
	if r.dimensions {
		img.SetAttr("width", strconv.Itoa(res.Fallback.Width))
		img.SetAttr("height", strconv.Itoa(res.Fallback.Height))
	}
	picture.RemoveAttr(wAttr)
	picture.RemoveAttr(qAttr)
	picture.RemoveAttr(fAttr)

	report.Variants = append(report.Variants, res.Variants()...)
	if res.Removed != "" {
		report.Removed = append(report.Removed, res.Removed)
	}
	r.logger.Debug("optimized image", "src", src, "fallback", res.Fallback.URL, "key", key)
	return src, nil
}

func sourceNode(srcset, mime string) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		Data:     "source",
		DataAtom: atom.Source,
		Attr: []html.Attribute{
			{Key: "srcset", Val: srcset},
			{Key: "type", Val: mime},
		},
	}
}
