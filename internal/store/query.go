package store

import (
	"github.com/aleksaelezovic/bloomgraph/internal/page"
	"github.com/aleksaelezovic/bloomgraph/pkg/rdf"
)

// TripleIterator iterates over triples matching a pattern
type TripleIterator interface {
	Next() bool
	Triple() (*rdf.Triple, error)
	Err() error
	Close() error
}

// tripleIterator decodes records as they are reached
type tripleIterator struct {
	it page.Iterator
	g  *BloomGraph
}

func (ti *tripleIterator) Next() bool {
	return ti.it.Next()
}

func (ti *tripleIterator) Triple() (*rdf.Triple, error) {
	rec := ti.it.Record()
	if rec == nil {
		return nil, nil
	}
	triple, err := rec.Triple()
	if err != nil {
		return nil, ti.g.fail("decode", err)
	}
	return triple, nil
}

func (ti *tripleIterator) Err() error {
	if err := ti.it.Err(); err != nil {
		return ti.g.fail("find", err)
	}
	return nil
}

func (ti *tripleIterator) Close() error {
	if err := ti.it.Close(); err != nil {
		return ti.g.fail("close iterator", err)
	}
	return nil
}

// Collect drains it into a slice and closes it.
func Collect(it TripleIterator) ([]*rdf.Triple, error) {
	defer it.Close()
	var out []*rdf.Triple
	for it.Next() {
		triple, err := it.Triple()
		if err != nil {
			return out, err
		}
		out = append(out, triple)
	}
	return out, it.Err()
}
