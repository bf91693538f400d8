package uci

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// ParseError reports a syntax error with its line number.
type ParseError struct {
	Package string
	Line    int
	Msg     string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s:%d: %s", e.Package, e.Line, e.Msg)
}

// Parse reads a package in UCI text format.
func Parse(name string, r io.Reader) (*Package, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return ParseBytes(name, data)
}

// ParseBytes is Parse over an in-memory buffer.
func ParseBytes(name string, data []byte) (*Package, error) {
	pkg := NewPackage(name)
	lx := &lexer{src: data, line: 1}
	var (
		cur  *Section
		anon *Section
		seq  int
	)
	fixup := func() {
		if anon != nil {
			pkg.fixupAnonymous(anon, seq)
			anon = nil
		}
	}

	fail := func(line int, format string, args ...any) error {
		return &ParseError{Package: name, Line: line, Msg: fmt.Sprintf(format, args...)}
	}

	for {
		toks, line, err := lx.statement()
		if err != nil {
			return nil, fail(lx.line, "%v", err)
		}
		if toks == nil {
			fixup()
			return pkg, nil
		}

		switch toks[0] {
		case "package":
			if len(toks) != 2 {
				return nil, fail(line, "package expects one name")
			}
			if !ValidName(toks[1]) {
				return nil, fail(line, "invalid package name %q", toks[1])
			}
			if pkg.Name == "" {
				pkg.Name = toks[1]
			}

		case "config":
			if len(toks) < 2 || len(toks) > 3 {
				return nil, fail(line, "config expects a type and an optional name")
			}
			if !ValidName(toks[1]) {
				return nil, fail(line, "invalid section type %q", toks[1])
			}
			name := ""
			if len(toks) == 3 {
				name = toks[2]
				if !ValidName(name) {
					return nil, fail(line, "invalid section name %q", name)
				}
			}
			fixup()
			// A repeated named section continues the earlier one.
			if name != "" {
				if existing := pkg.Section(name); existing != nil {
					existing.Type = toks[1]
					cur = existing
					continue
				}
			}
			s, err := pkg.AddSection(toks[1], name)
			if err != nil {
				return nil, fail(line, "%v", err)
			}
			cur = s
			if s.Anonymous {
				anon, seq = s, pkg.counter
			}

		case "option", "list":
			if cur == nil {
				return nil, fail(line, "%s outside of a section", toks[0])
			}
			if len(toks) != 3 {
				return nil, fail(line, "%s expects a name and a value", toks[0])
			}
			if !ValidName(toks[1]) {
				return nil, fail(line, "invalid option name %q", toks[1])
			}
			if toks[0] == "option" {
				cur.Set(toks[1], Single(toks[2]))
				continue
			}
			v, ok := cur.Get(toks[1])
			if !ok {
				v = Value{List: true}
			}
			v.List = true
			v.Values = append(v.Values, toks[2])
			cur.Set(toks[1], v)

		default:
			return nil, fail(line, "unknown keyword %q", toks[0])
		}
	}
}

type lexer struct {
	src  []byte
	pos  int
	line int
}

// statement returns the tokens of the next non-empty line, or nil at EOF.
// Quoted strings may span lines; adjacent quoted and bare parts join into
// one token.
func (l *lexer) statement() ([]string, int, error) {
	var (
		toks    []string
		tok     strings.Builder
		inToken bool
		start   = l.line
	)
	flush := func() {
		if inToken {
			toks = append(toks, tok.String())
			tok.Reset()
			inToken = false
		}
	}

	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == '\n':
			l.pos++
			l.line++
			flush()
			if len(toks) > 0 {
				return toks, start, nil
			}
			start = l.line

		case c == ' ' || c == '\t' || c == '\r':
			l.pos++
			flush()

		case c == '#' && !inToken:
			if i := bytes.IndexByte(l.src[l.pos:], '\n'); i >= 0 {
				l.pos += i
			} else {
				l.pos = len(l.src)
			}

		case c == '\'':
			end := bytes.IndexByte(l.src[l.pos+1:], '\'')
			if end < 0 {
				return nil, start, fmt.Errorf("unterminated single quote")
			}
			seg := l.src[l.pos+1 : l.pos+1+end]
			l.line += bytes.Count(seg, []byte{'\n'})
			tok.Write(seg)
			inToken = true
			l.pos += end + 2

		case c == '"':
			l.pos++
			closed := false
			for l.pos < len(l.src) {
				d := l.src[l.pos]
				if d == '"' {
					l.pos++
					closed = true
					break
				}
				if d == '\\' && l.pos+1 < len(l.src) {
					l.pos++
					d = l.src[l.pos]
				}
				if d == '\n' {
					l.line++
				}
				tok.WriteByte(d)
				l.pos++
			}
			if !closed {
				return nil, start, fmt.Errorf("unterminated double quote")
			}
			inToken = true

		case c == '\\':
			l.pos++
			if l.pos < len(l.src) {
				if l.src[l.pos] == '\n' {
					// line continuation
					l.line++
				} else {
					tok.WriteByte(l.src[l.pos])
					inToken = true
				}
				l.pos++
			}

		default:
			tok.WriteByte(c)
			inToken = true
			l.pos++
		}
	}

	flush()
	if len(toks) == 0 {
		return nil, start, nil
	}
	return toks, start, nil
}
