package dsl

import (
	"strings"

	"github.com/plinthdb/plinth/internal/errs"
)

// ParseFilter parses a filter expression into a predicate tree.
// Top-level comma-separated terms are ANDed:
//
//	status.eq.active,or(age.gte.21,guardian.is.not_null)
//
// Malformed input is a Validation error naming the offending fragment.
func ParseFilter(input string) (Filter, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}
	p := &parser{input: input}
	terms, err := p.terms(false)
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, p.errAt("unexpected trailing input")
	}
	if len(terms) == 1 {
		return terms[0], nil
	}
	return &Logical{Op: "and", Children: terms}, nil
}

type parser struct {
	input string
	pos   int
}

func (p *parser) done() bool { return p.pos >= len(p.input) }

func (p *parser) peek() byte {
	if p.done() {
		return 0
	}
	return p.input[p.pos]
}

func (p *parser) errAt(msg string) error {
	frag := p.input[p.pos:]
	if len(frag) > 32 {
		frag = frag[:32]
	}
	if frag == "" {
		frag = p.input
	}
	return errs.Validation("invalid filter: %s at %q", msg, frag)
}

// terms parses a comma-separated list of expressions, stopping at ')'
// when nested.
func (p *parser) terms(nested bool) ([]Filter, error) {
	var out []Filter
	for {
		f, err := p.expr()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
		if p.peek() == ',' {
			p.pos++
			continue
		}
		if nested && p.peek() == ')' {
			return out, nil
		}
		if p.done() {
			if nested {
				return nil, p.errAt("unterminated group")
			}
			return out, nil
		}
		if !nested {
			return nil, p.errAt("unexpected character")
		}
		return nil, p.errAt("expected ',' or ')'")
	}
}

func (p *parser) expr() (Filter, error) {
	ident := p.ident()
	if ident == "" {
		return nil, p.errAt("expected column or combinator")
	}
	switch {
	case (ident == "and" || ident == "or" || ident == "not") && p.peek() == '(':
		p.pos++ // consume '('
		children, err := p.terms(true)
		if err != nil {
			return nil, err
		}
		p.pos++ // consume ')'
		if ident == "not" && len(children) != 1 {
			return nil, errs.Validation("invalid filter: not() takes exactly one term")
		}
		return &Logical{Op: ident, Children: children}, nil
	case p.peek() == '.':
		p.pos++
		return p.predicate(ident)
	default:
		return nil, p.errAt("expected '.' after column")
	}
}

func (p *parser) predicate(column string) (Filter, error) {
	op := p.ident()
	if op == "" {
		return nil, p.errAt("expected operator")
	}

	if op == "is" {
		if p.peek() != '.' {
			return nil, p.errAt("expected '.' after is")
		}
		p.pos++
		operand := p.ident()
		switch operand {
		case "null":
			return &Predicate{Column: column, Op: "is", IsNull: true}, nil
		case "not_null":
			return &Predicate{Column: column, Op: "is", IsNull: true, Negate: true}, nil
		}
		return nil, errs.Validation("invalid filter: is.%s is not a null test", operand)
	}

	if op == "in" {
		if p.peek() != '.' {
			return nil, p.errAt("expected '.' after in")
		}
		p.pos++
		values, err := p.valueList()
		if err != nil {
			return nil, err
		}
		return &Predicate{Column: column, Op: "in", Values: values}, nil
	}

	if _, ok := operators[op]; !ok {
		return nil, errs.Validation("invalid filter: unknown operator %q on column %q", op, column)
	}
	if p.peek() != '.' {
		return nil, p.errAt("expected '.' before value")
	}
	p.pos++
	value, err := p.value()
	if err != nil {
		return nil, err
	}
	return &Predicate{Column: column, Op: op, Value: value}, nil
}

// ident reads [a-zA-Z0-9_]+.
func (p *parser) ident() string {
	start := p.pos
	for !p.done() {
		c := p.input[p.pos]
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			p.pos++
			continue
		}
		break
	}
	return p.input[start:p.pos]
}

// value reads a raw operand up to the next structural ',' or ')', or a
// double-quoted string which may contain them.
func (p *parser) value() (string, error) {
	if p.peek() == '"' {
		return p.quoted()
	}
	start := p.pos
	for !p.done() {
		c := p.input[p.pos]
		if c == ',' || c == ')' {
			break
		}
		p.pos++
	}
	if p.pos == start {
		return "", p.errAt("expected value")
	}
	return p.input[start:p.pos], nil
}

func (p *parser) quoted() (string, error) {
	p.pos++ // opening quote
	var b strings.Builder
	for !p.done() {
		c := p.input[p.pos]
		if c == '\\' && p.pos+1 < len(p.input) {
			p.pos++
			b.WriteByte(p.input[p.pos])
			p.pos++
			continue
		}
		if c == '"' {
			p.pos++
			return b.String(), nil
		}
		b.WriteByte(c)
		p.pos++
	}
	return "", p.errAt("unterminated quoted value")
}

// valueList reads (v1,v2,...) for the in operator.
func (p *parser) valueList() ([]string, error) {
	if p.peek() != '(' {
		return nil, p.errAt("expected '(' after in.")
	}
	p.pos++
	var values []string
	for {
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		if p.peek() == ',' {
			p.pos++
			continue
		}
		if p.peek() == ')' {
			p.pos++
			return values, nil
		}
		return nil, p.errAt("expected ',' or ')' in list")
	}
}

// ParseSelect parses a select expression: comma-separated columns,
// "*", "alias:column", and one level of embedded relations
// "rel(col1,col2)" or "alias:rel(*)".
func ParseSelect(input string) (*SelectList, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return &SelectList{Items: []SelectItem{{Star: true}}}, nil
	}
	list := &SelectList{}
	for _, part := range splitTop(input) {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, errs.Validation("invalid select: empty item in %q", input)
		}
		alias := ""
		if i := strings.IndexByte(part, ':'); i >= 0 {
			alias = strings.TrimSpace(part[:i])
			part = strings.TrimSpace(part[i+1:])
			if alias == "" || part == "" {
				return nil, errs.Validation("invalid select: malformed alias in %q", input)
			}
		}
		if open := strings.IndexByte(part, '('); open >= 0 {
			if !strings.HasSuffix(part, ")") {
				return nil, errs.Validation("invalid select: unterminated embed %q", part)
			}
			rel := part[:open]
			if !validIdent(rel) {
				return nil, errs.Validation("invalid select: bad relation name %q", rel)
			}
			inner, err := ParseSelect(part[open+1 : len(part)-1])
			if err != nil {
				return nil, err
			}
			if len(inner.Embeds) > 0 {
				return nil, errs.Validation("invalid select: nested embeds are not supported in %q", part)
			}
			list.Embeds = append(list.Embeds, Embed{Alias: alias, Relation: rel, Items: inner.Items})
			continue
		}
		if part == "*" {
			list.Items = append(list.Items, SelectItem{Star: true})
			continue
		}
		if !validIdent(part) {
			return nil, errs.Validation("invalid select: bad column %q", part)
		}
		list.Items = append(list.Items, SelectItem{Alias: alias, Column: part})
	}
	return list, nil
}

// splitTop splits on commas not inside parentheses or quotes.
func splitTop(s string) []string {
	var parts []string
	depth := 0
	start := 0
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuote = !inQuote
		case '(':
			if !inQuote {
				depth++
			}
		case ')':
			if !inQuote {
				depth--
			}
		case ',':
			if depth == 0 && !inQuote {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func validIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9' && i > 0) {
			continue
		}
		return false
	}
	return true
}

// ParseOrder parses "column[.asc|.desc]" sort keys.
func ParseOrder(input string) ([]OrderKey, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, nil
	}
	var keys []OrderKey
	for _, part := range strings.Split(input, ",") {
		part = strings.TrimSpace(part)
		col, dir, found := strings.Cut(part, ".")
		if !validIdent(col) {
			return nil, errs.Validation("invalid order: bad column %q", part)
		}
		key := OrderKey{Column: col}
		if found {
			switch dir {
			case "asc":
			case "desc":
				key.Desc = true
			default:
				return nil, errs.Validation("invalid order: direction must be asc or desc in %q", part)
			}
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// ParseTableRef parses "name" or "schema.name".
func ParseTableRef(input string) (TableRef, error) {
	schema, name, found := strings.Cut(input, ".")
	if !found {
		if !validIdent(input) {
			return TableRef{}, errs.Validation("invalid table reference %q", input)
		}
		return TableRef{Name: input}, nil
	}
	if !validIdent(schema) || !validIdent(name) {
		return TableRef{}, errs.Validation("invalid table reference %q", input)
	}
	return TableRef{Schema: schema, Name: name}, nil
}
