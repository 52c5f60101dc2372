package encoding

import (
	"bytes"
	"fmt"

	"github.com/aleksaelezovic/bloomgraph/pkg/rdf"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/zeebo/xxh3"
)

// Codec encodes and decodes terms and triples with a fixed literal
// compression threshold. Decoded compressed literals are shared through a
// bounded cache so repeated reads of the same record skip the inflate.
type Codec struct {
	maxLiteralBytes int
	cache           *termCache
}

// NewCodec creates a codec. A cacheBytes of zero disables the literal cache.
func NewCodec(maxLiteralBytes int, cacheBytes int64) (*Codec, error) {
	if maxLiteralBytes <= 0 {
		return nil, fmt.Errorf("encoding: max literal bytes must be positive, got %d", maxLiteralBytes)
	}
	c := &Codec{maxLiteralBytes: maxLiteralBytes}
	if cacheBytes > 0 {
		cache, err := newTermCache(cacheBytes)
		if err != nil {
			return nil, err
		}
		c.cache = cache
	}
	return c, nil
}

func (c *Codec) MaxLiteralBytes() int {
	return c.maxLiteralBytes
}

func (c *Codec) EncodeTerm(term rdf.Term) (*Term, error) {
	t, err := EncodeTerm(term, c.maxLiteralBytes)
	if err != nil {
		return nil, err
	}
	t.cache = c.cache
	return t, nil
}

func (c *Codec) EncodeTriple(triple *rdf.Triple) (*Triple, error) {
	t, err := EncodeTriple(triple, c.maxLiteralBytes)
	if err != nil {
		return nil, err
	}
	t.cache = c.cache
	return t, nil
}

func (c *Codec) DecodeTriple(buf []byte) (*Triple, error) {
	t, err := DecodeTriple(buf)
	if err != nil {
		return nil, err
	}
	t.cache = c.cache
	return t, nil
}

// Close releases the cache
func (c *Codec) Close() {
	if c.cache != nil {
		c.cache.close()
	}
}

type cachedTerm struct {
	raw  []byte
	term rdf.Term
}

type termCache struct {
	c *ristretto.Cache[uint64, cachedTerm]
}

func newTermCache(maxCost int64) (*termCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[uint64, cachedTerm]{
		NumCounters: 100_000,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create term cache: %w", err)
	}
	return &termCache{c: c}, nil
}

// load decodes buf, consulting the cache for compressed literals only.
// A hit is used only when the cached bytes are identical to buf.
func (tc *termCache) load(buf []byte, decode func([]byte) (rdf.Term, error)) (rdf.Term, error) {
	if tc == nil || !Tag(buf[4]).Compressed() {
		return decode(buf)
	}

	key := xxh3.Hash(buf)
	if hit, ok := tc.c.Get(key); ok && bytes.Equal(hit.raw, buf) {
		return hit.term, nil
	}

	term, err := decode(buf)
	if err != nil {
		return nil, err
	}
	raw := append([]byte(nil), buf...)
	tc.c.Set(key, cachedTerm{raw: raw, term: term}, int64(2*len(raw)))
	return term, nil
}

func (tc *termCache) close() {
	tc.c.Close()
}
