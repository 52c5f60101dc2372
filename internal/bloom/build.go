package bloom

import (
	"fmt"

	"github.com/aleksaelezovic/bloomgraph/internal/encoding"
	"github.com/zeebo/xxh3"
)

// Selector decides which terms contribute bits to a filter.
type Selector func(*encoding.Term) bool

// Indexable keeps every term except wildcards and blank nodes.
func Indexable(t *encoding.Term) bool {
	return t != nil && t.Indexable()
}

// Build creates a filter shaped by cfg from the terms accepted by keep.
func Build(cfg Config, keep Selector, terms ...*encoding.Term) (*Filter, error) {
	f := NewFromConfig(cfg)
	m := uint64(cfg.Bits)
	for _, t := range terms {
		if !keep(t) {
			continue
		}
		key, err := t.Canonical()
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s term: %w", t.Tag(), err)
		}
		h := xxh3.Hash128(key)
		h1, h2 := h.Lo, h.Hi
		if h2 == 0 {
			h2 = 1
		}
		for i := uint64(0); i < uint64(cfg.Hashes); i++ {
			f.bits.Set(uint((h1 + i*h2) % m))
		}
	}
	return f, nil
}

// ForTriple builds a filter from the indexable terms of t.
func ForTriple(cfg Config, t *encoding.Triple) (*Filter, error) {
	var terms [3]*encoding.Term
	for i := range terms {
		term, err := t.Term(encoding.Position(i))
		if err != nil {
			return nil, err
		}
		terms[i] = term
	}
	return Build(cfg, Indexable, terms[:]...)
}
