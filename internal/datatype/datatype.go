// Package datatype implements the option validation language used by form
// options: a type name with optional arguments, combined with or(), and(),
// list() and neg(). Examples:
//
//	port
//	range(1, 4094)
//	or(ip4addr, hostname)
//	list(neg(macaddr))
package datatype

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"unicode"
)

// Error reports a value that does not satisfy an expression.
type Error struct {
	Value  string
	Expect string // human description, e.g. "a valid port"
}

func (e *Error) Error() string {
	return "must be " + e.Expect
}

// node is one parsed call: name(args...).
type node struct {
	name string
	args []arg
}

// arg is either a nested expression or a literal.
type arg struct {
	expr  *node
	lit   string
	num   float64
	isNum bool
}

// Validator is a compiled datatype expression.
type Validator struct {
	expr string
	root *node
}

// Parse compiles expr. Unknown type names and malformed expressions are
// rejected here so that view definitions fail at load time.
func Parse(expr string) (*Validator, error) {
	p := &parser{src: expr}
	p.skipSpace()
	root, err := p.parseExpr()
	if err != nil {
		return nil, fmt.Errorf("datatype %q: %w", expr, err)
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("datatype %q: unexpected %q at offset %d", expr, p.src[p.pos:], p.pos)
	}
	if err := check(root); err != nil {
		return nil, fmt.Errorf("datatype %q: %w", expr, err)
	}
	return &Validator{expr: expr, root: root}, nil
}

// MustParse is like Parse but panics on error. Intended for package-level
// variables.
func MustParse(expr string) *Validator {
	v, err := Parse(expr)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the source expression.
func (v *Validator) String() string {
	return v.expr
}

// Validate checks a single value.
func (v *Validator) Validate(value string) error {
	if eval(v.root, value) {
		return nil
	}
	return &Error{Value: value, Expect: describe(v.root)}
}

// ValidateAll checks every value of a list option.
func (v *Validator) ValidateAll(values []string) error {
	for _, val := range values {
		if err := v.Validate(val); err != nil {
			return err
		}
	}
	return nil
}

var cache sync.Map // expr -> *Validator

// Check parses expr (cached) and validates value against it.
func Check(expr, value string) error {
	v, err := cached(expr)
	if err != nil {
		return err
	}
	return v.Validate(value)
}

func cached(expr string) (*Validator, error) {
	if v, ok := cache.Load(expr); ok {
		return v.(*Validator), nil
	}
	v, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	cache.Store(expr, v)
	return v, nil
}

func check(n *node) error {
	def, ok := types[n.name]
	if !ok {
		return fmt.Errorf("unknown type %q", n.name)
	}
	if len(n.args) < def.minArgs {
		return fmt.Errorf("%s needs at least %d argument(s)", n.name, def.minArgs)
	}
	for i, a := range n.args {
		if def.nested {
			if a.expr == nil {
				return fmt.Errorf("%s argument %d must be a type", n.name, i+1)
			}
			if err := check(a.expr); err != nil {
				return err
			}
			continue
		}
		if def.numeric && !a.isNum {
			return fmt.Errorf("%s argument %d must be a number", n.name, i+1)
		}
	}
	return nil
}

func eval(n *node, value string) bool {
	switch n.name {
	case "or":
		for _, a := range n.args {
			if eval(a.expr, value) {
				return true
			}
		}
		return false
	case "and":
		for _, a := range n.args {
			if !eval(a.expr, value) {
				return false
			}
		}
		return true
	case "neg":
		return eval(n.args[0].expr, strings.TrimPrefix(strings.TrimSpace(value), "!"))
	case "list":
		for _, item := range strings.Fields(value) {
			if !eval(n.args[0].expr, item) {
				return false
			}
		}
		return true
	}
	return types[n.name].fn(value, n.args)
}

func describe(n *node) string {
	switch n.name {
	case "or":
		parts := make([]string, len(n.args))
		for i, a := range n.args {
			parts[i] = describe(a.expr)
		}
		return "one of: " + strings.Join(parts, ", ")
	case "and":
		parts := make([]string, len(n.args))
		for i, a := range n.args {
			parts[i] = describe(a.expr)
		}
		return strings.Join(parts, " and ")
	case "neg":
		return describe(n.args[0].expr) + ", optionally prefixed with !"
	case "list":
		return "a list of " + describe(n.args[0].expr)
	}
	return types[n.name].desc(n.args)
}

type parser struct {
	src string
	pos int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *parser) parseExpr() (*node, error) {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '_' || c == '-' || unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c)) {
			p.pos++
			continue
		}
		break
	}
	if start == p.pos {
		return nil, fmt.Errorf("expected type name at offset %d", start)
	}
	n := &node{name: p.src[start:p.pos]}

	p.skipSpace()
	if p.pos >= len(p.src) || p.src[p.pos] != '(' {
		return n, nil
	}
	p.pos++

	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return nil, fmt.Errorf("unterminated argument list for %s", n.name)
		}
		if p.src[p.pos] == ')' {
			p.pos++
			return n, nil
		}
		a, err := p.parseArg()
		if err != nil {
			return nil, err
		}
		n.args = append(n.args, a)

		p.skipSpace()
		if p.pos < len(p.src) && p.src[p.pos] == ',' {
			p.pos++
		}
	}
}

func (p *parser) parseArg() (arg, error) {
	c := p.src[p.pos]
	switch {
	case c == '\'' || c == '"':
		end := strings.IndexByte(p.src[p.pos+1:], c)
		if end < 0 {
			return arg{}, fmt.Errorf("unterminated string at offset %d", p.pos)
		}
		lit := p.src[p.pos+1 : p.pos+1+end]
		p.pos += end + 2
		return arg{lit: lit}, nil

	case c == '-' || c == '.' || (c >= '0' && c <= '9'):
		start := p.pos
		p.pos++
		for p.pos < len(p.src) && strings.IndexByte("0123456789.eE+-", p.src[p.pos]) >= 0 {
			p.pos++
		}
		lit := p.src[start:p.pos]
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return arg{}, fmt.Errorf("invalid number %q", lit)
		}
		return arg{lit: lit, num: f, isNum: true}, nil
	}

	n, err := p.parseExpr()
	if err != nil {
		return arg{}, err
	}
	// A bare word with no arguments is kept as a literal too so that
	// flags like ipaddr(nomask) can be read by the type function.
	a := arg{expr: n}
	if len(n.args) == 0 {
		a.lit = n.name
	}
	return a, nil
}
