package encoding

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/aleksaelezovic/bloomgraph/pkg/rdf"
)

// Tag identifies the term variant stored after the hash code
type Tag byte

const (
	TagAny Tag = iota + 1
	TagVariable
	TagURI
	TagBlank
	TagLiteral

	// FlagCompressed marks a literal whose payload is gzip compressed
	FlagCompressed Tag = 0x10

	tagMask Tag = 0x0F
)

func (t Tag) Kind() Tag {
	return t & tagMask
}

func (t Tag) Compressed() bool {
	return t&FlagCompressed != 0
}

func (t Tag) String() string {
	var name string
	switch t.Kind() {
	case TagAny:
		name = "any"
	case TagVariable:
		name = "variable"
	case TagURI:
		name = "uri"
	case TagBlank:
		name = "blank"
	case TagLiteral:
		name = "literal"
	default:
		return fmt.Sprintf("tag(0x%02x)", byte(t))
	}
	if t.Compressed() {
		name += "+gz"
	}
	return name
}

const (
	// TermHeaderSize is the hash code plus the tag byte
	TermHeaderSize = 5

	// NoCompression disables literal compression
	NoCompression = math.MaxInt32
)

var (
	ErrMalformed   = errors.New("encoding: malformed data")
	ErrUnknownTerm = errors.New("encoding: unknown term type")
)

// Term is an encoded term: [hashcode:i32][tag:u8][payload].
// The decoded rdf.Term is derived on first use and kept in a cell.
type Term struct {
	buf     []byte
	decoded atomic.Pointer[termCell]
	cache   *termCache
}

type termCell struct {
	term rdf.Term
}

func (t *Term) Bytes() []byte {
	return t.buf
}

func (t *Term) Len() int {
	return len(t.buf)
}

func (t *Term) HashCode() int32 {
	return int32(binary.BigEndian.Uint32(t.buf[0:4]))
}

func (t *Term) Tag() Tag {
	return Tag(t.buf[4])
}

// IsWildcard reports whether the term matches anything in a pattern.
func (t *Term) IsWildcard() bool {
	return t.Tag().Kind() == TagAny
}

// Indexable reports whether the term contributes to bloom filters.
// Wildcards and blank nodes never do.
func (t *Term) Indexable() bool {
	k := t.Tag().Kind()
	return k != TagAny && k != TagBlank
}

// Term returns the decoded term.
func (t *Term) Term() (rdf.Term, error) {
	if cell := t.decoded.Load(); cell != nil {
		return cell.term, nil
	}

	term, err := t.cache.load(t.buf, decodePayload)
	if err != nil {
		return nil, err
	}
	t.decoded.Store(&termCell{term: term})
	return term, nil
}

// Equal compares the encoded bytes after the hash code. Literals that were
// stored with different compression settings are compared by payload.
func (t *Term) Equal(other *Term) bool {
	if t == other {
		return true
	}
	if other == nil || t.HashCode() != other.HashCode() {
		return false
	}
	if bytes.Equal(t.buf[4:], other.buf[4:]) {
		return true
	}
	if t.Tag().Kind() != other.Tag().Kind() || !(t.Tag().Compressed() || other.Tag().Compressed()) {
		return false
	}
	a, err := t.rawPayload()
	if err != nil {
		return false
	}
	b, err := other.rawPayload()
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

func (t *Term) String() string {
	term, err := t.Term()
	if err != nil {
		return fmt.Sprintf("<%s: %v>", t.Tag(), err)
	}
	return term.String()
}

// Canonical returns the encoding with any literal compression undone, so
// it is the same for every compression threshold.
func (t *Term) Canonical() ([]byte, error) {
	if !t.Tag().Compressed() {
		return t.buf, nil
	}
	payload, err := t.rawPayload()
	if err != nil {
		return nil, err
	}
	out := make([]byte, TermHeaderSize+len(payload))
	copy(out, t.buf[:4])
	out[4] = byte(t.Tag().Kind())
	copy(out[TermHeaderSize:], payload)
	return out, nil
}

// rawPayload returns the uncompressed payload
func (t *Term) rawPayload() ([]byte, error) {
	payload := t.buf[TermHeaderSize:]
	if !t.Tag().Compressed() {
		return payload, nil
	}
	return inflate(payload)
}
