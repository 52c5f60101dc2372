package rdf

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// NTriplesReader streams triples from an N-Triples document, one line at a time.
type NTriplesReader struct {
	scanner *bufio.Scanner
	line    int
	triple  *Triple
	err     error
}

// NewNTriplesReader creates a reader over r
func NewNTriplesReader(r io.Reader) *NTriplesReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &NTriplesReader{scanner: scanner}
}

// Next advances to the next triple, skipping blank lines and comments
func (r *NTriplesReader) Next() bool {
	if r.err != nil {
		return false
	}
	for r.scanner.Scan() {
		r.line++
		p := newLineParser(r.scanner.Text())
		triple, err := p.parseTriple()
		if err != nil {
			r.err = fmt.Errorf("line %d: %w", r.line, err)
			return false
		}
		if triple != nil {
			r.triple = triple
			return true
		}
	}
	if err := r.scanner.Err(); err != nil {
		r.err = fmt.Errorf("error reading input: %w", err)
	}
	return false
}

// Triple returns the current triple
func (r *NTriplesReader) Triple() *Triple {
	return r.triple
}

// Err returns the first error encountered
func (r *NTriplesReader) Err() error {
	return r.err
}

// ParseNTriples parses a whole N-Triples document
func ParseNTriples(input string) ([]*Triple, error) {
	reader := NewNTriplesReader(strings.NewReader(input))
	var triples []*Triple
	for reader.Next() {
		triples = append(triples, reader.Triple())
	}
	return triples, reader.Err()
}

// ParseTerm parses a single term in N-Triples syntax. The words ANY and *
// (and an empty string) parse to the wildcard; ?name parses to a variable.
func ParseTerm(input string) (Term, error) {
	input = strings.TrimSpace(input)
	switch {
	case input == "" || input == "*" || strings.EqualFold(input, "ANY"):
		return Any, nil
	case strings.HasPrefix(input, "?"):
		return NewVariable(input[1:]), nil
	}
	p := newLineParser(input)
	term, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	p.skipWhitespace()
	if p.pos < p.length {
		return nil, fmt.Errorf("unexpected trailing input at position %d", p.pos)
	}
	return term, nil
}

type lineParser struct {
	input  string
	pos    int
	length int
}

func newLineParser(input string) *lineParser {
	return &lineParser{input: input, length: len(input)}
}

func (p *lineParser) skipWhitespace() {
	for p.pos < p.length {
		ch := p.input[p.pos]
		if ch != ' ' && ch != '\t' && ch != '\r' {
			return
		}
		p.pos++
	}
}

// parseTriple returns nil for blank and comment lines
func (p *lineParser) parseTriple() (*Triple, error) {
	p.skipWhitespace()
	if p.pos >= p.length || p.input[p.pos] == '#' {
		return nil, nil
	}

	subject, err := p.parseTerm()
	if err != nil {
		return nil, fmt.Errorf("error parsing subject: %w", err)
	}
	p.skipWhitespace()

	predicate, err := p.parseTerm()
	if err != nil {
		return nil, fmt.Errorf("error parsing predicate: %w", err)
	}
	p.skipWhitespace()

	object, err := p.parseTerm()
	if err != nil {
		return nil, fmt.Errorf("error parsing object: %w", err)
	}
	p.skipWhitespace()

	if p.pos >= p.length || p.input[p.pos] != '.' {
		return nil, fmt.Errorf("expected '.' at end of triple")
	}
	p.pos++
	p.skipWhitespace()
	if p.pos < p.length && p.input[p.pos] != '#' {
		return nil, fmt.Errorf("unexpected content after '.' at position %d", p.pos)
	}

	return NewTriple(subject, predicate, object), nil
}

func (p *lineParser) parseTerm() (Term, error) {
	if p.pos >= p.length {
		return nil, fmt.Errorf("unexpected end of line")
	}

	switch ch := p.input[p.pos]; ch {
	case '<':
		iri, err := p.parseIRI()
		if err != nil {
			return nil, err
		}
		return NewNamedNode(iri), nil
	case '_':
		return p.parseBlankNode()
	case '"':
		return p.parseLiteral()
	default:
		return nil, fmt.Errorf("unexpected character at position %d: %c", p.pos, ch)
	}
}

func (p *lineParser) parseIRI() (string, error) {
	if p.pos >= p.length || p.input[p.pos] != '<' {
		return "", fmt.Errorf("expected '<' at start of IRI")
	}
	p.pos++

	start := p.pos
	for p.pos < p.length && p.input[p.pos] != '>' {
		p.pos++
	}
	if p.pos >= p.length {
		return "", fmt.Errorf("unclosed IRI")
	}

	iri := p.input[start:p.pos]
	p.pos++
	return iri, nil
}

func (p *lineParser) parseBlankNode() (Term, error) {
	if p.pos+1 >= p.length || p.input[p.pos+1] != ':' {
		return nil, fmt.Errorf("expected '_:' at start of blank node")
	}
	p.pos += 2

	start := p.pos
	for p.pos < p.length {
		ch := p.input[p.pos]
		if ch == ' ' || ch == '\t' || ch == '\r' || ch == '<' {
			break
		}
		p.pos++
	}
	// a trailing '.' terminates the statement, not the label
	for p.pos > start && p.input[p.pos-1] == '.' {
		p.pos--
	}
	if p.pos == start {
		return nil, fmt.Errorf("empty blank node label")
	}
	return NewBlankNode(p.input[start:p.pos]), nil
}

func (p *lineParser) parseLiteral() (Term, error) {
	p.pos++ // opening quote

	var value strings.Builder
	for {
		if p.pos >= p.length {
			return nil, fmt.Errorf("unclosed string literal")
		}
		ch := p.input[p.pos]
		if ch == '"' {
			p.pos++
			break
		}
		if ch != '\\' {
			value.WriteByte(ch)
			p.pos++
			continue
		}
		if err := p.parseEscape(&value); err != nil {
			return nil, err
		}
	}

	if p.pos < p.length && p.input[p.pos] == '@' {
		p.pos++
		start := p.pos
		for p.pos < p.length {
			ch := p.input[p.pos]
			if !(ch == '-' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')) {
				break
			}
			p.pos++
		}
		if p.pos == start {
			return nil, fmt.Errorf("empty language tag")
		}
		return NewLiteralWithLanguage(value.String(), p.input[start:p.pos]), nil
	}

	if p.pos+1 < p.length && p.input[p.pos] == '^' && p.input[p.pos+1] == '^' {
		p.pos += 2
		datatype, err := p.parseIRI()
		if err != nil {
			return nil, fmt.Errorf("error parsing datatype: %w", err)
		}
		return NewLiteralWithDatatype(value.String(), NewNamedNode(datatype)), nil
	}

	return NewLiteral(value.String()), nil
}

func (p *lineParser) parseEscape(value *strings.Builder) error {
	p.pos++ // backslash
	if p.pos >= p.length {
		return fmt.Errorf("unexpected end of input in escape sequence")
	}
	esc := p.input[p.pos]
	p.pos++

	switch esc {
	case 'n':
		value.WriteByte('\n')
	case 't':
		value.WriteByte('\t')
	case 'r':
		value.WriteByte('\r')
	case 'b':
		value.WriteByte('\b')
	case 'f':
		value.WriteByte('\f')
	case '"', '\'', '\\':
		value.WriteByte(esc)
	case 'u', 'U':
		width := 4
		if esc == 'U' {
			width = 8
		}
		if p.pos+width > p.length {
			return fmt.Errorf("truncated unicode escape")
		}
		code, err := strconv.ParseUint(p.input[p.pos:p.pos+width], 16, 32)
		if err != nil {
			return fmt.Errorf("invalid unicode escape: %w", err)
		}
		value.WriteRune(rune(code))
		p.pos += width
	default:
		return fmt.Errorf("invalid escape sequence \\%c", esc)
	}
	return nil
}
