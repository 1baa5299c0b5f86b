package format

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"

	"github.com/matzehuels/postbuild/pkg/errors"
)

// HTMLOptions controls HTML formatting.
type HTMLOptions struct {
	IndentSize          int      `toml:"indent_size" yaml:"indent_size"`
	PreserveNewlines    bool     `toml:"preserve_newlines" yaml:"preserve_newlines"`
	MaxPreserveNewlines int      `toml:"max_preserve_newlines" yaml:"max_preserve_newlines"`
	WrapLineLength      int      `toml:"wrap_line_length" yaml:"wrap_line_length"`
	EndWithNewline      bool     `toml:"end_with_newline" yaml:"end_with_newline"`
	IndentInnerHTML     bool     `toml:"indent_inner_html" yaml:"indent_inner_html"`
	ContentUnformatted  []string `toml:"content_unformatted" yaml:"content_unformatted"`
	Inline              []string `toml:"inline" yaml:"inline"`
}

// DefaultHTMLOptions returns the HTML option table used by the build.
func DefaultHTMLOptions() HTMLOptions {
	return HTMLOptions{
		IndentSize:          4,
		PreserveNewlines:    false,
		MaxPreserveNewlines: 1,
		WrapLineLength:      0,
		EndWithNewline:      true,
		IndentInnerHTML:     true,
		ContentUnformatted:  []string{"pre", "textarea"},
		Inline:              []string{"span", "strong", "em", "b", "i", "code", "small"},
	}
}

// Elements whose content is never reflowed, in addition to
// HTMLOptions.ContentUnformatted.
var rawTextElements = map[string]bool{
	"script":    true,
	"style":     true,
	"noscript":  true,
	"iframe":    true,
	"noembed":   true,
	"noframes":  true,
	"xmp":       true,
	"plaintext": true,
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", "\u00a0", "&nbsp;")
	attrEscaper = strings.NewReplacer("&", "&amp;", `"`, "&quot;", "\u00a0", "&nbsp;")
)

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "keygen": true, "link": true,
	"meta": true, "param": true, "source": true, "track": true, "wbr": true,
}

// HTML formats an HTML document.
func HTML(text string, opts HTMLOptions) (string, error) {
	doc, err := html.Parse(strings.NewReader(text))
	if err != nil {
		return "", errors.Wrap(errors.ErrCodeFormatFailed, err, "parse html")
	}
	f := newHTMLFormatter(opts)
	if err := f.block(doc, 0); err != nil {
		return "", errors.Wrap(errors.ErrCodeFormatFailed, err, "render html")
	}
	out := strings.Join(f.lines, "\n")
	if opts.EndWithNewline && out != "" {
		out += "\n"
	}
	return out, nil
}

type htmlFormatter struct {
	opts   HTMLOptions
	indent string
	inline map[string]bool
	raw    map[string]bool
	lines  []string
}

func newHTMLFormatter(opts HTMLOptions) *htmlFormatter {
	f := &htmlFormatter{
		opts:   opts,
		indent: strings.Repeat(" ", max(opts.IndentSize, 0)),
		inline: make(map[string]bool, len(opts.Inline)),
		raw:    make(map[string]bool, len(rawTextElements)+len(opts.ContentUnformatted)),
	}
	for _, name := range opts.Inline {
		f.inline[strings.ToLower(name)] = true
	}
	for name := range rawTextElements {
		f.raw[name] = true
	}
	for _, name := range opts.ContentUnformatted {
		f.raw[strings.ToLower(name)] = true
	}
	return f
}

func (f *htmlFormatter) isInline(n *html.Node) bool {
	switch n.Type {
	case html.TextNode:
		return true
	case html.ElementNode:
		return f.inline[n.Data]
	}
	return false
}

// inlineOnly reports whether every child of n can share a single line.
func (f *htmlFormatter) inlineOnly(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !f.isInline(c) {
			return false
		}
	}
	return true
}

func (f *htmlFormatter) emit(depth int, line string, breaks []int) {
	prefix := strings.Repeat(f.indent, depth)
	for _, l := range wrap(line, breaks, f.opts.WrapLineLength-len(prefix), "") {
		f.lines = append(f.lines, prefix+l)
	}
}

// block renders the children of n, one block per line, at depth.
func (f *htmlFormatter) block(n *html.Node, depth int) error {
	var (
		run     inlineRun
		blanks  int
		started bool
	)
	flush := func() {
		line, breaks := run.finish()
		if line == "" {
			return
		}
		f.blankLines(started, blanks)
		f.emit(depth, line, breaks)
		started, blanks = true, 0
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode && strings.TrimSpace(c.Data) == "" && run.empty() {
			if f.opts.PreserveNewlines {
				blanks = max(blanks, strings.Count(c.Data, "\n")-1)
			}
			continue
		}
		if f.isInline(c) {
			if err := f.inlineNode(&run, c); err != nil {
				return err
			}
			continue
		}
		flush()
		f.blankLines(started, blanks)
		if err := f.node(c, depth); err != nil {
			return err
		}
		started, blanks = true, 0
	}
	flush()
	return nil
}

func (f *htmlFormatter) blankLines(started bool, n int) {
	if !started || !f.opts.PreserveNewlines {
		return
	}
	for i := 0; i < min(n, f.opts.MaxPreserveNewlines); i++ {
		f.lines = append(f.lines, "")
	}
}

// node renders a block-level node starting on its own line.
func (f *htmlFormatter) node(n *html.Node, depth int) error {
	switch n.Type {
	case html.DoctypeNode, html.CommentNode:
		s, err := render(n)
		if err != nil {
			return err
		}
		f.emitRaw(depth, s)
		return nil
	case html.ElementNode:
	default:
		return nil
	}

	if f.raw[n.Data] {
		s, err := render(n)
		if err != nil {
			return err
		}
		f.emitRaw(depth, s)
		return nil
	}
	open := openTag(n)
	if voidElements[n.Data] {
		f.emit(depth, open, nil)
		return nil
	}
	closeTag := "</" + n.Data + ">"
	if f.inlineOnly(n) {
		var run inlineRun
		run.markup(open)
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if err := f.inlineNode(&run, c); err != nil {
				return err
			}
		}
		run.trimInner(len(open))
		run.markup(closeTag)
		line, breaks := run.finish()
		f.emit(depth, line, breaks)
		return nil
	}

	f.emit(depth, open, nil)
	inner := depth + 1
	if n.Data == "html" && !f.opts.IndentInnerHTML {
		inner = depth
	}
	if err := f.block(n, inner); err != nil {
		return err
	}
	f.emit(depth, closeTag, nil)
	return nil
}

// emitRaw writes verbatim markup; only its first line is indented.
func (f *htmlFormatter) emitRaw(depth int, s string) {
	lines := strings.Split(s, "\n")
	lines[0] = strings.Repeat(f.indent, depth) + lines[0]
	f.lines = append(f.lines, lines...)
}

// inlineNode appends n to the current run.
func (f *htmlFormatter) inlineNode(run *inlineRun, n *html.Node) error {
	switch n.Type {
	case html.TextNode:
		run.text(n.Data)
		return nil
	case html.CommentNode:
		s, err := render(n)
		if err != nil {
			return err
		}
		run.markup(s)
		return nil
	case html.ElementNode:
	default:
		return nil
	}
	if f.raw[n.Data] {
		s, err := render(n)
		if err != nil {
			return err
		}
		run.markup(s)
		return nil
	}
	run.markup(openTag(n))
	if voidElements[n.Data] {
		return nil
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := f.inlineNode(run, c); err != nil {
			return err
		}
	}
	run.markup("</" + n.Data + ">")
	return nil
}

func render(n *html.Node) (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func openTag(n *html.Node) string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(n.Data)
	for _, a := range n.Attr {
		b.WriteByte(' ')
		if a.Namespace != "" {
			b.WriteString(a.Namespace)
			b.WriteByte(':')
		}
		b.WriteString(a.Key)
		b.WriteString(`="`)
		b.WriteString(attrEscaper.Replace(a.Val))
		b.WriteByte('"')
	}
	b.WriteByte('>')
	return b.String()
}

// inlineRun accumulates inline content for one output line. Whitespace in
// text collapses to single spaces, and only those spaces are candidate wrap
// points so markup and attribute values are never split.
type inlineRun struct {
	b      strings.Builder
	breaks []int
	space  bool
}

func (r *inlineRun) empty() bool { return r.b.Len() == 0 && !r.space }

func (r *inlineRun) text(s string) {
	for _, field := range splitSpace(s) {
		if field == "" {
			r.space = true
			continue
		}
		r.flushSpace()
		r.b.WriteString(textEscaper.Replace(field))
	}
}

func (r *inlineRun) markup(s string) {
	r.flushSpace()
	r.b.WriteString(s)
}

func (r *inlineRun) flushSpace() {
	if !r.space {
		return
	}
	r.space = false
	if r.b.Len() == 0 {
		return
	}
	r.breaks = append(r.breaks, r.b.Len())
	r.b.WriteByte(' ')
}

// trimInner drops a pending space and any space written directly after the
// first n bytes, so `<p> x </p>` renders as `<p>x</p>`.
func (r *inlineRun) trimInner(n int) {
	r.space = false
	s := r.b.String()
	if len(s) > n && s[n] == ' ' {
		s = s[:n] + s[n+1:]
		breaks := r.breaks[:0]
		for _, b := range r.breaks {
			switch {
			case b < n:
				breaks = append(breaks, b)
			case b > n:
				breaks = append(breaks, b-1)
			}
		}
		r.breaks = breaks
		r.b.Reset()
		r.b.WriteString(s)
	}
}

func (r *inlineRun) finish() (string, []int) {
	line, breaks := r.b.String(), r.breaks
	r.b.Reset()
	r.breaks, r.space = nil, false
	return line, breaks
}

// splitSpace splits s on HTML whitespace runs. Each run becomes an empty
// element so callers can tell where whitespace occurred.
func splitSpace(s string) []string {
	var (
		out   []string
		start = -1
	)
	for i := 0; i < len(s); i++ {
		if isSpace(s[i]) {
			if start >= 0 {
				out = append(out, s[start:i])
				start = -1
			}
			if len(out) == 0 || out[len(out)-1] != "" {
				out = append(out, "")
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, s[start:])
	}
	return out
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}
