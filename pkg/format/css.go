package format

import (
	"io"
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"

	"github.com/matzehuels/postbuild/pkg/errors"
)

// CSSOptions controls CSS formatting.
type CSSOptions struct {
	IndentSize               int  `toml:"indent_size" yaml:"indent_size"`
	PreserveNewlines         bool `toml:"preserve_newlines" yaml:"preserve_newlines"`
	MaxPreserveNewlines      int  `toml:"max_preserve_newlines" yaml:"max_preserve_newlines"`
	WrapLineLength           int  `toml:"wrap_line_length" yaml:"wrap_line_length"`
	EndWithNewline           bool `toml:"end_with_newline" yaml:"end_with_newline"`
	NewlineBetweenRules      bool `toml:"newline_between_rules" yaml:"newline_between_rules"`
	SelectorSeparatorNewline bool `toml:"selector_separator_newline" yaml:"selector_separator_newline"`
	SpaceAroundCombinator    bool `toml:"space_around_combinator" yaml:"space_around_combinator"`
}

// DefaultCSSOptions returns the CSS option table used by the build.
func DefaultCSSOptions() CSSOptions {
	return CSSOptions{
		IndentSize:               2,
		PreserveNewlines:         true,
		MaxPreserveNewlines:      1,
		WrapLineLength:           160,
		EndWithNewline:           true,
		NewlineBetweenRules:      false,
		SelectorSeparatorNewline: true,
		SpaceAroundCombinator:    true,
	}
}

// CSS formats a stylesheet.
func CSS(text string, opts CSSOptions) (string, error) {
	f := &cssFormatter{
		opts:   opts,
		indent: strings.Repeat(" ", max(opts.IndentSize, 0)),
	}
	l := css.NewLexer(parse.NewInputString(text))
	for {
		tt, data := l.Next()
		switch tt {
		case css.ErrorToken:
			if err := l.Err(); err != nil && err != io.EOF {
				return "", errors.Wrap(errors.ErrCodeFormatFailed, err, "lex css")
			}
			f.statement(false)
			out := strings.Join(f.lines, "\n")
			if opts.EndWithNewline && out != "" {
				out += "\n"
			}
			return out, nil
		case css.WhitespaceToken:
			if len(f.stmt) == 0 && opts.PreserveNewlines {
				f.blanks = max(f.blanks, strings.Count(string(data), "\n")-1)
			}
			f.space = true
		case css.CommentToken:
			if len(f.stmt) == 0 {
				f.gap()
				f.emitRaw(string(data))
				continue
			}
			f.push(tt, data)
		case css.LeftBraceToken:
			f.open()
		case css.RightBraceToken:
			f.statement(false)
			f.close()
		case css.SemicolonToken:
			if f.parens > 0 {
				f.push(tt, data)
				continue
			}
			f.statement(true)
		default:
			f.push(tt, data)
		}
	}
}

type cssToken struct {
	tt    css.TokenType
	data  string
	space bool // whitespace preceded the token
}

type cssFormatter struct {
	opts   CSSOptions
	indent string
	lines  []string

	depth   int
	started bool // a line was written since the enclosing '{'
	blanks  int
	ruleGap bool

	stmt   []cssToken
	space  bool
	parens int
}

func (f *cssFormatter) push(tt css.TokenType, data []byte) {
	f.stmt = append(f.stmt, cssToken{tt: tt, data: string(data), space: f.space})
	f.space = false
	switch tt {
	case css.FunctionToken, css.LeftParenthesisToken, css.LeftBracketToken:
		f.parens++
	case css.RightParenthesisToken, css.RightBracketToken:
		if f.parens > 0 {
			f.parens--
		}
	}
}

func (f *cssFormatter) reset() {
	f.stmt, f.space, f.parens = f.stmt[:0], false, 0
}

// gap writes preserved blank lines before the next line of the block.
func (f *cssFormatter) gap() {
	n := 0
	if f.opts.PreserveNewlines {
		n = min(f.blanks, f.opts.MaxPreserveNewlines)
	}
	if f.ruleGap {
		n = max(n, 1)
	}
	if f.started {
		for i := 0; i < n; i++ {
			f.lines = append(f.lines, "")
		}
	}
	f.blanks, f.ruleGap = 0, false
}

func (f *cssFormatter) emit(line string, breaks []int) {
	prefix := strings.Repeat(f.indent, f.depth)
	for _, l := range wrap(line, breaks, f.opts.WrapLineLength-len(prefix), f.indent) {
		f.lines = append(f.lines, prefix+l)
	}
	f.started = true
}

func (f *cssFormatter) emitRaw(s string) {
	lines := strings.Split(s, "\n")
	lines[0] = strings.Repeat(f.indent, f.depth) + lines[0]
	f.lines = append(f.lines, lines...)
	f.started = true
}

// open writes the pending prelude and enters a block.
func (f *cssFormatter) open() {
	f.gap()
	lines := f.prelude()
	last := len(lines) - 1
	if lines[last] == "" {
		lines[last] = "{"
	} else {
		lines[last] += " {"
	}
	for _, l := range lines {
		f.emit(l, nil)
	}
	f.reset()
	f.depth++
	f.started = false
}

func (f *cssFormatter) close() {
	f.blanks, f.ruleGap = 0, false
	if f.depth > 0 {
		f.depth--
	}
	f.emit("}", nil)
	f.ruleGap = f.opts.NewlineBetweenRules
}

// statement writes the pending declaration or at-rule statement.
func (f *cssFormatter) statement(semicolon bool) {
	defer f.reset()
	if len(f.stmt) == 0 {
		return
	}
	f.gap()

	var (
		line   string
		breaks []int
	)
	colon := -1
	if f.stmt[0].tt != css.AtKeywordToken {
		colon = topLevel(f.stmt, css.ColonToken)
	}
	if colon > 0 {
		prop, _ := joinTokens(f.stmt[:colon], false)
		value, vb := joinTokens(f.stmt[colon+1:], true)
		line = prop + ":"
		if value != "" {
			line += " "
			for _, b := range vb {
				breaks = append(breaks, len(line)+b)
			}
			line += value
		}
	} else {
		line, _ = joinTokens(f.stmt, false)
	}
	if semicolon {
		line += ";"
	}
	f.emit(line, breaks)
}

// prelude renders the tokens before '{', one selector per line when
// SelectorSeparatorNewline is set.
func (f *cssFormatter) prelude() []string {
	if len(f.stmt) > 0 && f.stmt[0].tt == css.AtKeywordToken {
		s, _ := joinTokens(f.stmt, false)
		return []string{s}
	}
	var (
		lines   []string
		b       strings.Builder
		depth   int
		noSpace bool
	)
	for _, t := range f.stmt {
		if depth == 0 {
			switch {
			case t.tt == css.CommaToken && f.opts.SelectorSeparatorNewline:
				b.WriteByte(',')
				lines = append(lines, b.String())
				b.Reset()
				continue
			case t.tt == css.DelimToken && f.opts.SpaceAroundCombinator && isCombinator(t.data):
				s := strings.TrimRight(b.String(), " ")
				b.Reset()
				b.WriteString(s)
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(t.data)
				b.WriteByte(' ')
				noSpace = true
				continue
			}
		}
		if t.space && b.Len() > 0 && !noSpace && t.tt != css.CommaToken {
			b.WriteByte(' ')
		}
		noSpace = false
		b.WriteString(t.data)
		depth = nest(depth, t.tt)
	}
	return append(lines, strings.TrimRight(b.String(), " "))
}

func isCombinator(s string) bool {
	return s == ">" || s == "+" || s == "~"
}

func nest(depth int, tt css.TokenType) int {
	switch tt {
	case css.FunctionToken, css.LeftParenthesisToken, css.LeftBracketToken:
		return depth + 1
	case css.RightParenthesisToken, css.RightBracketToken:
		if depth > 0 {
			return depth - 1
		}
	}
	return depth
}

func topLevel(toks []cssToken, tt css.TokenType) int {
	depth := 0
	for i, t := range toks {
		if t.tt == tt && depth == 0 {
			return i
		}
		depth = nest(depth, t.tt)
	}
	return -1
}

// joinTokens concatenates toks, collapsing whitespace to single spaces and
// dropping whitespace before commas. With commaBreaks, top-level commas are
// always followed by a space whose offset is returned as a wrap point.
func joinTokens(toks []cssToken, commaBreaks bool) (string, []int) {
	var (
		b          strings.Builder
		breaks     []int
		depth      int
		afterComma bool
	)
	for _, t := range toks {
		switch {
		case t.tt == css.CommaToken:
		case afterComma:
			breaks = append(breaks, b.Len())
			b.WriteByte(' ')
		case t.space && b.Len() > 0:
			b.WriteByte(' ')
		}
		b.WriteString(t.data)
		afterComma = commaBreaks && depth == 0 && t.tt == css.CommaToken
		depth = nest(depth, t.tt)
	}
	return b.String(), breaks
}
