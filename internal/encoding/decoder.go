package encoding

import (
	"encoding/binary"
	"fmt"

	"github.com/aleksaelezovic/bloomgraph/pkg/rdf"
)

// DecodeTerm wraps an encoded term. The header and tag are validated
// immediately; the payload is decoded on first call to Term.
func DecodeTerm(buf []byte) (*Term, error) {
	if len(buf) < TermHeaderSize {
		return nil, fmt.Errorf("%w: term of %d bytes is shorter than its header", ErrMalformed, len(buf))
	}
	tag := Tag(buf[4])
	if err := validateTag(tag); err != nil {
		return nil, err
	}
	if tag.Kind() == TagAny && len(buf) != TermHeaderSize {
		return nil, fmt.Errorf("%w: wildcard with %d payload bytes", ErrMalformed, len(buf)-TermHeaderSize)
	}
	return &Term{buf: buf}, nil
}

func validateTag(tag Tag) error {
	if tag&^(tagMask|FlagCompressed) != 0 {
		return fmt.Errorf("%w: invalid type tag 0x%02x", ErrMalformed, byte(tag))
	}
	switch tag.Kind() {
	case TagAny, TagVariable, TagURI, TagBlank:
		if tag.Compressed() {
			return fmt.Errorf("%w: compression flag on %s", ErrMalformed, tag)
		}
		return nil
	case TagLiteral:
		return nil
	default:
		return fmt.Errorf("%w: invalid type tag 0x%02x", ErrMalformed, byte(tag))
	}
}

// decodePayload turns a full term buffer back into an rdf.Term
func decodePayload(buf []byte) (rdf.Term, error) {
	tag := Tag(buf[4])
	payload := buf[TermHeaderSize:]

	switch tag.Kind() {
	case TagAny:
		return rdf.Any, nil
	case TagVariable:
		return rdf.NewVariable(string(payload)), nil
	case TagURI:
		return rdf.NewNamedNode(string(payload)), nil
	case TagBlank:
		return rdf.NewBlankNode(string(payload)), nil
	case TagLiteral:
		if tag.Compressed() {
			raw, err := inflate(payload)
			if err != nil {
				return nil, err
			}
			payload = raw
		}
		return decodeLiteral(payload)
	default:
		return nil, fmt.Errorf("%w: invalid type tag 0x%02x", ErrMalformed, byte(tag))
	}
}

func decodeLiteral(payload []byte) (*rdf.Literal, error) {
	r := payloadReader{buf: payload}

	value, ok, err := r.string()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: literal without lexical form", ErrMalformed)
	}
	lang, _, err := r.string()
	if err != nil {
		return nil, err
	}
	datatype, hasType, err := r.string()
	if err != nil {
		return nil, err
	}
	if r.pos != len(payload) {
		return nil, fmt.Errorf("%w: %d trailing literal bytes", ErrMalformed, len(payload)-r.pos)
	}

	lit := &rdf.Literal{Value: value, Language: lang}
	if hasType {
		lit.Datatype = rdf.NewNamedNode(datatype)
	}
	return lit, nil
}

type payloadReader struct {
	buf []byte
	pos int
}

// string reads a length-prefixed string; ok is false for the -1 length
func (r *payloadReader) string() (string, bool, error) {
	if r.pos+4 > len(r.buf) {
		return "", false, fmt.Errorf("%w: truncated literal length", ErrMalformed)
	}
	n := int32(binary.BigEndian.Uint32(r.buf[r.pos:]))
	r.pos += 4
	if n == -1 {
		return "", false, nil
	}
	if n < 0 || r.pos+int(n) > len(r.buf) {
		return "", false, fmt.Errorf("%w: literal field length %d out of range", ErrMalformed, n)
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, true, nil
}

// DecodeTriple wraps an encoded triple after validating its header. The
// three terms are decoded lazily.
func DecodeTriple(buf []byte) (*Triple, error) {
	if len(buf) < TripleHeaderSize {
		return nil, fmt.Errorf("%w: triple of %d bytes is shorter than its header", ErrMalformed, len(buf))
	}
	total := TripleHeaderSize
	for i := 0; i < 3; i++ {
		n := int32(binary.BigEndian.Uint32(buf[8+4*i:]))
		if n < TermHeaderSize {
			return nil, fmt.Errorf("%w: term %d has length %d", ErrMalformed, i, n)
		}
		total += int(n)
	}
	if total != len(buf) {
		return nil, fmt.Errorf("%w: triple header declares %d bytes, buffer has %d", ErrMalformed, total, len(buf))
	}
	return &Triple{buf: buf}, nil
}
