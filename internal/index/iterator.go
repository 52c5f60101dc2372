package index

import "github.com/aleksaelezovic/bloomgraph/internal/bloom"

// Iterator walks entries in order and yields those that are not deleted
// and whose filter is a superset of the target. The match test runs only
// as the consumer advances, so stopping early skips the remaining work.
// Entries appended while iterating are visited.
type Iterator[E Entry] struct {
	target *bloom.Filter
	at     func(int) (E, bool)
	next   int
	cur    E
	done   bool
}

// NewIterator iterates the entries returned by at(0), at(1), ... until at
// reports false. A nil target matches every live entry.
func NewIterator[E Entry](target *bloom.Filter, at func(int) (E, bool)) *Iterator[E] {
	return &Iterator[E]{target: target, at: at}
}

func (it *Iterator[E]) Next() bool {
	if it.done {
		return false
	}
	for {
		e, ok := it.at(it.next)
		if !ok {
			it.done = true
			var zero E
			it.cur = zero
			return false
		}
		it.next++
		if e.Deleted() {
			continue
		}
		if it.target == nil || it.target.Match(e.Filter()) {
			it.cur = e
			return true
		}
	}
}

// Entry returns the current entry.
func (it *Iterator[E]) Entry() E {
	return it.cur
}

// Collect drains the iterator.
func (it *Iterator[E]) Collect() []E {
	var out []E
	for it.Next() {
		out = append(out, it.Entry())
	}
	return out
}
