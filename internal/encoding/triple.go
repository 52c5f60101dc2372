package encoding

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/aleksaelezovic/bloomgraph/pkg/rdf"
)

// TripleHeaderSize covers hash, record index and the three term lengths
const TripleHeaderSize = 20

// Position of a term within a triple
type Position int

const (
	Subject Position = iota
	Predicate
	Object
)

func (p Position) String() string {
	switch p {
	case Subject:
		return "subject"
	case Predicate:
		return "predicate"
	case Object:
		return "object"
	default:
		return fmt.Sprintf("position(%d)", int(p))
	}
}

// Triple is an encoded triple record:
// [hash:i32][index:i32][lenS:i32][lenP:i32][lenO:i32][S][P][O]
type Triple struct {
	buf   []byte
	terms atomic.Pointer[[3]*Term]
	cache *termCache
}

func (t *Triple) Bytes() []byte {
	return t.buf
}

func (t *Triple) Len() int {
	return len(t.buf)
}

func (t *Triple) Hash() int32 {
	return int32(binary.BigEndian.Uint32(t.buf[0:4]))
}

// Index is the record index within its page, or -1 if never written.
func (t *Triple) Index() int32 {
	return int32(binary.BigEndian.Uint32(t.buf[4:8]))
}

// PutIndex writes a record index into an encoded triple buffer.
func PutIndex(buf []byte, index int32) {
	binary.BigEndian.PutUint32(buf[4:8], uint32(index))
}

// Term returns the encoded term at pos.
func (t *Triple) Term(pos Position) (*Term, error) {
	terms, err := t.decodeTerms()
	if err != nil {
		return nil, err
	}
	return terms[pos], nil
}

func (t *Triple) Subject() (*Term, error) {
	return t.Term(Subject)
}

func (t *Triple) Predicate() (*Term, error) {
	return t.Term(Predicate)
}

func (t *Triple) Object() (*Term, error) {
	return t.Term(Object)
}

func (t *Triple) decodeTerms() (*[3]*Term, error) {
	if terms := t.terms.Load(); terms != nil {
		return terms, nil
	}

	var terms [3]*Term
	offset := TripleHeaderSize
	for i := range terms {
		n := int(binary.BigEndian.Uint32(t.buf[8+4*i:]))
		term, err := DecodeTerm(t.buf[offset : offset+n])
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", Position(i), err)
		}
		term.cache = t.cache
		terms[i] = term
		offset += n
	}
	t.terms.Store(&terms)
	return &terms, nil
}

// ContainsWild reports whether any position holds the wildcard. Such a
// triple is a search pattern and is never stored.
func (t *Triple) ContainsWild() bool {
	offset := TripleHeaderSize
	for i := 0; i < 3; i++ {
		if Tag(t.buf[offset+4]).Kind() == TagAny {
			return true
		}
		offset += int(binary.BigEndian.Uint32(t.buf[8+4*i:]))
	}
	return false
}

// Triple decodes all three terms.
func (t *Triple) Triple() (*rdf.Triple, error) {
	terms, err := t.decodeTerms()
	if err != nil {
		return nil, err
	}
	var decoded [3]rdf.Term
	for i, term := range terms {
		d, err := term.Term()
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", Position(i), err)
		}
		decoded[i] = d
	}
	return rdf.NewTriple(decoded[0], decoded[1], decoded[2]), nil
}

// Equal compares hash and the bytes after the header, so two records that
// differ only in their record index are equal.
func (t *Triple) Equal(other *Triple) bool {
	if other == nil || t.Hash() != other.Hash() {
		return false
	}
	if bytes.Equal(t.buf[8:], other.buf[8:]) {
		return true
	}
	a, err := t.decodeTerms()
	if err != nil {
		return false
	}
	b, err := other.decodeTerms()
	if err != nil {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// Matches performs the exact comparison that follows a bloom filter hit:
// every non-wildcard position of pattern must equal the stored term.
func (t *Triple) Matches(pattern *Triple) (bool, error) {
	stored, err := t.decodeTerms()
	if err != nil {
		return false, err
	}
	want, err := pattern.decodeTerms()
	if err != nil {
		return false, err
	}
	for i := range want {
		if want[i].IsWildcard() {
			continue
		}
		if !want[i].Equal(stored[i]) {
			return false, nil
		}
	}
	return true, nil
}

func (t *Triple) String() string {
	triple, err := t.Triple()
	if err != nil {
		return fmt.Sprintf("<triple: %v>", err)
	}
	return triple.String()
}
