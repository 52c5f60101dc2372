// Package index associates ids with bloom filters and iterates the entries
// whose filters may contain a search target.
package index

import (
	"sync"
	"sync/atomic"

	"github.com/aleksaelezovic/bloomgraph/internal/bloom"
)

// Entry is anything addressable by id that carries a filter.
type Entry interface {
	ID() int
	Filter() *bloom.Filter
	Deleted() bool
}

// Index is the basic entry: an immutable id and a filter.
type Index struct {
	id      int
	filter  *bloom.Filter
	deleted atomic.Bool
}

func New(id int, filter *bloom.Filter) *Index {
	return &Index{id: id, filter: filter}
}

func (i *Index) ID() int {
	return i.id
}

func (i *Index) Filter() *bloom.Filter {
	return i.filter
}

// Delete clears the filter in place and marks the entry deleted. The flag
// keeps an entry whose filter was empty to begin with (all blank terms)
// distinguishable from a deleted one.
func (i *Index) Delete() {
	i.deleted.Store(true)
	i.filter.Clear()
}

func (i *Index) Deleted() bool {
	return i.deleted.Load()
}

// List is an append-only, concurrency-safe sequence of entries.
type List[E Entry] struct {
	mu      sync.RWMutex
	entries []E
}

func (l *List[E]) Append(e E) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

func (l *List[E]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// At returns entry i, or false once i is past the end.
func (l *List[E]) At(i int) (E, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i < 0 || i >= len(l.entries) {
		var zero E
		return zero, false
	}
	return l.entries[i], true
}

// Last returns the final entry, if any.
func (l *List[E]) Last() (E, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		var zero E
		return zero, false
	}
	return l.entries[len(l.entries)-1], true
}

// Reset drops every entry.
func (l *List[E]) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

// Matching iterates the live entries whose filters match target.
func (l *List[E]) Matching(target *bloom.Filter) *Iterator[E] {
	return NewIterator(target, l.At)
}
