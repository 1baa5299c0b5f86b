// Package format re-indents HTML and CSS so post-processed build output is
// readable and diff-friendly.
//
// Formatting is purely cosmetic and deterministic: the same input and options
// always produce the same output, and formatting already formatted text
// returns it unchanged. HTML is parsed into a tree and rendered back with
// block elements on their own lines; CSS is re-serialized from its token
// stream with one declaration per line.
package format

import (
	"path/filepath"
	"strings"

	"github.com/matzehuels/postbuild/pkg/errors"
)

// Kind selects the formatter.
type Kind string

// Supported kinds.
const (
	KindHTML Kind = "html"
	KindCSS  Kind = "css"
)

// KindOf returns the kind for a file name by extension, and false for files
// that are not formatted.
func KindOf(name string) (Kind, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".html", ".htm":
		return KindHTML, true
	case ".css":
		return KindCSS, true
	}
	return "", false
}

// Options holds the option tables for both formatters.
type Options struct {
	HTML HTMLOptions `toml:"html" yaml:"html"`
	CSS  CSSOptions  `toml:"css" yaml:"css"`
}

// DefaultOptions returns the default option tables.
func DefaultOptions() Options {
	return Options{HTML: DefaultHTMLOptions(), CSS: DefaultCSSOptions()}
}

// Format formats text as kind.
func Format(text string, kind Kind, opts Options) (string, error) {
	switch kind {
	case KindHTML:
		return HTML(text, opts.HTML)
	case KindCSS:
		return CSS(text, opts.CSS)
	}
	return "", errors.New(errors.ErrCodeFormatFailed, "unknown kind %q", kind)
}

// wrap splits line at the given break offsets so that no piece exceeds width
// where avoidable. Breaks are byte offsets of single spaces that may become
// line breaks; the space is dropped at a break. Continuation lines get cont
// prepended.
func wrap(line string, breaks []int, width int, cont string) []string {
	if width <= 0 || len(line) <= width || len(breaks) == 0 {
		return []string{line}
	}
	var (
		out   []string
		start int
		last  = -1
		pre   string
	)
	for _, b := range breaks {
		if len(pre)+b-start > width && last >= start {
			out = append(out, pre+line[start:last])
			start, pre = last+1, cont
		}
		last = b
	}
	if len(pre)+len(line)-start > width && last >= start {
		out = append(out, pre+line[start:last])
		start, pre = last+1, cont
	}
	return append(out, pre+line[start:])
}
