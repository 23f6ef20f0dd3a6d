package dsl

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/roach88/prestige/internal/ir"
)

// Parse parses DSL source text into a Program. It never mutates external
// state; errors are *ParseError values with line/column positions.
func Parse(src string) (*Program, error) {
	p := &parser{src: []rune(src), line: 1, col: 1}
	prog := &Program{}

	for {
		if err := p.skipSpace(); err != nil {
			return nil, err
		}
		if p.eof() {
			break
		}
		if p.peek() != '(' {
			return nil, errAt(p.pos(), "expected '(' to start a form, found %q", string(p.peek()))
		}
		form, err := p.parseForm()
		if err != nil {
			return nil, err
		}
		prog.Forms = append(prog.Forms, *form)
	}

	return prog, nil
}

type parser struct {
	src  []rune
	i    int
	line int
	col  int
}

func (p *parser) eof() bool  { return p.i >= len(p.src) }
func (p *parser) peek() rune { return p.src[p.i] }
func (p *parser) pos() Pos   { return Pos{Line: p.line, Col: p.col} }

func (p *parser) next() rune {
	r := p.src[p.i]
	p.i++
	if r == '\n' {
		p.line++
		p.col = 1
	} else {
		p.col++
	}
	return r
}

// skipSpace consumes whitespace and ";;" comments.
func (p *parser) skipSpace() error {
	for !p.eof() {
		r := p.peek()
		if unicode.IsSpace(r) {
			p.next()
			continue
		}
		if r == ';' {
			start := p.pos()
			p.next()
			if p.eof() || p.peek() != ';' {
				return errAt(start, "comments start with ';;'")
			}
			for !p.eof() && p.peek() != '\n' {
				p.next()
			}
			continue
		}
		return nil
	}
	return nil
}

func (p *parser) parseForm() (*Form, error) {
	formPos := p.pos()
	p.next() // consume '('
	if err := p.skipSpace(); err != nil {
		return nil, err
	}
	if p.eof() {
		return nil, errAt(formPos, "unterminated form: missing ')'")
	}

	verb, err := p.parseIdent()
	if err != nil {
		return nil, err
	}
	form := &Form{Verb: verb, Pos: formPos}

	seen := make(map[string]struct{})
	for {
		if err := p.skipSpace(); err != nil {
			return nil, err
		}
		if p.eof() {
			return nil, errAt(formPos, "unterminated form: missing ')'")
		}
		if p.peek() == ')' {
			p.next()
			return form, nil
		}
		if p.peek() != ':' {
			return nil, errAt(p.pos(), "expected ':key' or ')', found %q", string(p.peek()))
		}

		pair, err := p.parsePair()
		if err != nil {
			return nil, err
		}
		if _, dup := seen[pair.Key]; dup {
			return nil, errAt(pair.Pos, "duplicate key %q", pair.Key)
		}
		seen[pair.Key] = struct{}{}
		form.Pairs = append(form.Pairs, *pair)
	}
}

func (p *parser) parsePair() (*Pair, error) {
	keyPos := p.pos()
	path, err := p.parseKey()
	if err != nil {
		return nil, err
	}
	if err := p.skipSpace(); err != nil {
		return nil, err
	}
	if p.eof() {
		return nil, errAt(keyPos, "key :%s has no value", strings.Join(path, "."))
	}
	val, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	return &Pair{Key: strings.Join(path, "."), Path: path, Value: val, Pos: keyPos}, nil
}

// parseKey parses ":part" or ":part.part.part". Key parts do not contain
// dots; the dot is the path separator. Verb names are parsed with
// parseIdent instead, which keeps dots.
func (p *parser) parseKey() ([]string, error) {
	p.next() // consume ':'
	var path []string
	for {
		part, err := p.parseKeyPart()
		if err != nil {
			return nil, err
		}
		path = append(path, part)
		if p.eof() || p.peek() != '.' {
			return path, nil
		}
		p.next() // consume '.'
	}
}

func (p *parser) parseKeyPart() (string, error) {
	start := p.pos()
	if p.eof() || !isIdentStart(p.peek()) {
		return "", errAt(start, "expected key segment")
	}
	var sb strings.Builder
	sb.WriteRune(p.next())
	for !p.eof() {
		r := p.peek()
		if isAlnum(r) || r == '_' || r == '-' {
			sb.WriteRune(p.next())
			continue
		}
		break
	}
	return normalizeKeySegment(sb.String()), nil
}

// parseIdent parses a verb name or bare keyword: letter or underscore, then
// alphanumerics, '_', '-', '.'.
func (p *parser) parseIdent() (string, error) {
	start := p.pos()
	if p.eof() || !isIdentStart(p.peek()) {
		return "", errAt(start, "expected identifier")
	}
	var sb strings.Builder
	sb.WriteRune(p.next())
	for !p.eof() {
		r := p.peek()
		if isAlnum(r) || r == '_' || r == '-' || r == '.' {
			sb.WriteRune(p.next())
			continue
		}
		break
	}
	return sb.String(), nil
}

func (p *parser) parseValue() (ir.ArgValue, error) {
	switch r := p.peek(); {
	case r == '"':
		return p.parseString()
	case r == '-' || unicode.IsDigit(r):
		return p.parseNumber()
	case r == '[':
		return p.parseList()
	case r == '{':
		return p.parseMap()
	case r == '@':
		return p.parseRef()
	case isIdentStart(r):
		ident, err := p.parseIdent()
		if err != nil {
			return nil, err
		}
		switch ident {
		case "true":
			return ir.ArgBool(true), nil
		case "false":
			return ir.ArgBool(false), nil
		default:
			return ir.ArgKeyword(ident), nil
		}
	default:
		return nil, errAt(p.pos(), "unexpected character %q in value position", string(r))
	}
}

func (p *parser) parseString() (ir.ArgValue, error) {
	start := p.pos()
	p.next() // consume opening quote
	var sb strings.Builder
	for {
		if p.eof() {
			return nil, errAt(start, "unterminated string literal")
		}
		r := p.next()
		switch r {
		case '"':
			return ir.ArgString(sb.String()), nil
		case '\\':
			if p.eof() {
				return nil, errAt(start, "unterminated string literal")
			}
			esc := p.next()
			switch esc {
			case 'n':
				sb.WriteRune('\n')
			case 'r':
				sb.WriteRune('\r')
			case 't':
				sb.WriteRune('\t')
			case '\\':
				sb.WriteRune('\\')
			case '"':
				sb.WriteRune('"')
			default:
				return nil, errAt(p.pos(), "unknown escape sequence \\%s", string(esc))
			}
		default:
			sb.WriteRune(r)
		}
	}
}

// parseNumber parses an optionally signed numeric literal. Integral values
// become ArgInt; anything with a fractional part keeps its lexeme as
// ArgDecimal so downstream hashing stays float-free.
func (p *parser) parseNumber() (ir.ArgValue, error) {
	start := p.pos()
	var sb strings.Builder
	if p.peek() == '-' {
		sb.WriteRune(p.next())
	}
	if p.eof() || !unicode.IsDigit(p.peek()) {
		return nil, errAt(start, "malformed number")
	}
	for !p.eof() && unicode.IsDigit(p.peek()) {
		sb.WriteRune(p.next())
	}
	if !p.eof() && p.peek() == '.' {
		sb.WriteRune(p.next())
		if p.eof() || !unicode.IsDigit(p.peek()) {
			return nil, errAt(start, "malformed number: digits required after '.'")
		}
		for !p.eof() && unicode.IsDigit(p.peek()) {
			sb.WriteRune(p.next())
		}
		return ir.ArgDecimal(sb.String()), nil
	}
	n, err := strconv.ParseInt(sb.String(), 10, 64)
	if err != nil {
		return nil, errAt(start, "number out of range: %s", sb.String())
	}
	return ir.ArgInt(n), nil
}

// parseList parses [v v] or [v, v]. Both separators are accepted, matching
// the array grammar operators actually write.
func (p *parser) parseList() (ir.ArgValue, error) {
	start := p.pos()
	p.next() // consume '['
	list := ir.ArgList{}
	for {
		if err := p.skipSpace(); err != nil {
			return nil, err
		}
		if p.eof() {
			return nil, errAt(start, "unterminated list: missing ']'")
		}
		if p.peek() == ']' {
			p.next()
			return list, nil
		}
		if p.peek() == ',' {
			if len(list) == 0 {
				return nil, errAt(p.pos(), "list cannot start with ','")
			}
			p.next()
			continue
		}
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		list = append(list, v)
	}
}

func (p *parser) parseMap() (ir.ArgValue, error) {
	start := p.pos()
	p.next() // consume '{'
	m := ir.ArgMap{}
	for {
		if err := p.skipSpace(); err != nil {
			return nil, err
		}
		if p.eof() {
			return nil, errAt(start, "unterminated map: missing '}'")
		}
		if p.peek() == '}' {
			p.next()
			return m, nil
		}
		if p.peek() == ',' {
			p.next()
			continue
		}
		if p.peek() != ':' {
			return nil, errAt(p.pos(), "expected ':key' in map, found %q", string(p.peek()))
		}
		keyPos := p.pos()
		path, err := p.parseKey()
		if err != nil {
			return nil, err
		}
		key := strings.Join(path, ".")
		if _, dup := m[key]; dup {
			return nil, errAt(keyPos, "duplicate map key %q", key)
		}
		if err := p.skipSpace(); err != nil {
			return nil, err
		}
		if p.eof() {
			return nil, errAt(keyPos, "map key :%s has no value", key)
		}
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		m[key] = v
	}
}

// parseRef parses the '@' reference forms:
//
//	@attr{uuid}              attribute by opaque unique ID
//	@attr.category.name      attribute by stable semantic path
//	@doc{uuid}               document reference
//	@name                    alias reference to an earlier entry's output
func (p *parser) parseRef() (ir.ArgValue, error) {
	start := p.pos()
	p.next() // consume '@'
	if p.eof() || !isIdentStart(p.peek()) {
		return nil, errAt(start, "expected reference name after '@'")
	}

	name, err := p.parseIdent()
	if err != nil {
		return nil, err
	}

	// @attr{...} / @doc{...} braced UUID forms. parseIdent stops before
	// '{', so the braces are still pending.
	if !p.eof() && p.peek() == '{' {
		id, err := p.parseBracedUUID(start)
		if err != nil {
			return nil, err
		}
		switch name {
		case "attr":
			return ir.AttrRef{ID: id}, nil
		case "doc":
			return ir.DocRef{ID: id}, nil
		default:
			return nil, errAt(start, "unknown braced reference @%s{...}", name)
		}
	}

	// @attr.category.name: parseIdent already swallowed the dotted path.
	if strings.HasPrefix(name, "attr.") {
		semantic := strings.TrimPrefix(name, "attr.")
		if semantic == "" || !strings.Contains(semantic, ".") {
			return nil, errAt(start, "semantic attribute reference needs category and name: @attr.category.name")
		}
		return ir.AttrRef{Semantic: semantic}, nil
	}
	if name == "attr" || name == "doc" || strings.HasPrefix(name, "doc.") {
		return nil, errAt(start, "malformed @%s reference", name)
	}
	if strings.Contains(name, ".") {
		return nil, errAt(start, "alias names cannot contain dots: @%s", name)
	}

	return ir.AliasRef{Name: name}, nil
}

func (p *parser) parseBracedUUID(start Pos) (uuid.UUID, error) {
	p.next() // consume '{'
	var sb strings.Builder
	for !p.eof() && p.peek() != '}' {
		sb.WriteRune(p.next())
	}
	if p.eof() {
		return uuid.Nil, errAt(start, "unterminated reference: missing '}'")
	}
	p.next() // consume '}'
	id, err := uuid.Parse(sb.String())
	if err != nil {
		return uuid.Nil, errAt(start, "invalid UUID in reference: %q", sb.String())
	}
	return id, nil
}

func isIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
