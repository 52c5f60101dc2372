package encoding

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/aleksaelezovic/bloomgraph/pkg/rdf"
	"github.com/klauspost/compress/gzip"
	"github.com/zeebo/xxh3"
)

// EncodeTerm encodes an RDF term. Literal payloads longer than
// maxLiteralBytes are gzip compressed and flagged in the tag. A nil term
// encodes as the wildcard.
func EncodeTerm(term rdf.Term, maxLiteralBytes int) (*Term, error) {
	if term == nil {
		term = rdf.Any
	}

	var tag Tag
	var payload []byte

	switch t := term.(type) {
	case *rdf.Wildcard:
		tag = TagAny
	case *rdf.Variable:
		tag, payload = TagVariable, []byte(t.Name)
	case *rdf.NamedNode:
		tag, payload = TagURI, []byte(t.IRI)
	case *rdf.BlankNode:
		tag, payload = TagBlank, []byte(t.ID)
	case *rdf.Literal:
		tag, payload = TagLiteral, literalPayload(t)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownTerm, term)
	}

	hash := termHash(tag, payload)

	if tag == TagLiteral && len(payload) > maxLiteralBytes {
		compressed, err := deflate(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to compress literal: %w", err)
		}
		tag |= FlagCompressed
		payload = compressed
	}

	buf := make([]byte, TermHeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(hash))
	buf[4] = byte(tag)
	copy(buf[TermHeaderSize:], payload)

	t := &Term{buf: buf}
	t.decoded.Store(&termCell{term: term})
	return t, nil
}

// termHash is computed over the uncompressed form so the hash code does not
// depend on the compression threshold.
func termHash(tag Tag, payload []byte) int32 {
	buf := make([]byte, 1+len(payload))
	buf[0] = byte(tag.Kind())
	copy(buf[1:], payload)
	return int32(uint32(xxh3.Hash(buf)))
}

// literalPayload writes [len][lex][len|-1][lang][len|-1][datatype]
func literalPayload(lit *rdf.Literal) []byte {
	size := 12 + len(lit.Value) + len(lit.Language)
	if lit.Datatype != nil {
		size += len(lit.Datatype.IRI)
	}
	buf := make([]byte, 0, size)

	buf = appendString(buf, lit.Value)
	if lit.Language != "" {
		buf = appendString(buf, lit.Language)
	} else {
		buf = binary.BigEndian.AppendUint32(buf, absent)
	}
	if lit.Datatype != nil {
		buf = appendString(buf, lit.Datatype.IRI)
	} else {
		buf = binary.BigEndian.AppendUint32(buf, absent)
	}
	return buf
}

// absent is -1 as an unsigned length
const absent = 0xFFFFFFFF

func appendString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func deflate(data []byte) ([]byte, error) {
	var out bytes.Buffer
	w := gzip.NewWriter(&out)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func inflate(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return out, nil
}

// EncodeTriple packs three encoded terms behind the triple header. The
// record index is -1 until the triple is written to a page.
func EncodeTriple(triple *rdf.Triple, maxLiteralBytes int) (*Triple, error) {
	s, err := EncodeTerm(triple.Subject, maxLiteralBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode subject: %w", err)
	}
	p, err := EncodeTerm(triple.Predicate, maxLiteralBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode predicate: %w", err)
	}
	o, err := EncodeTerm(triple.Object, maxLiteralBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode object: %w", err)
	}
	return NewTriple(s, p, o), nil
}

// NewTriple assembles a triple record from encoded terms.
func NewTriple(s, p, o *Term) *Triple {
	buf := make([]byte, TripleHeaderSize+s.Len()+p.Len()+o.Len())
	hash := (s.HashCode() >> 1) ^ p.HashCode() ^ (o.HashCode() << 1)

	binary.BigEndian.PutUint32(buf[0:4], uint32(hash))
	binary.BigEndian.PutUint32(buf[4:8], absent)
	binary.BigEndian.PutUint32(buf[8:12], uint32(s.Len()))
	binary.BigEndian.PutUint32(buf[12:16], uint32(p.Len()))
	binary.BigEndian.PutUint32(buf[16:20], uint32(o.Len()))

	n := TripleHeaderSize
	n += copy(buf[n:], s.buf)
	n += copy(buf[n:], p.buf)
	copy(buf[n:], o.buf)

	t := &Triple{buf: buf}
	t.terms.Store(&[3]*Term{s, p, o})
	return t
}
