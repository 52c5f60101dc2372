// Package page implements bounded, append-only containers of triple records
// indexed by bloom filters.
package page

import (
	"errors"

	"github.com/aleksaelezovic/bloomgraph/internal/encoding"
)

var ErrPattern = errors.New("page: search patterns cannot be stored")

// Page is one unit of storage. Find, Count and Delete apply a pattern; Write
// stores a concrete triple and returns false once the page is full.
type Page interface {
	ID() int
	Find(item *Item) (Iterator, error)
	Count(item *Item) (int64, error)
	Write(item *Item) (bool, error)
	Delete(item *Item) (int, error)
	Statistics() (Statistics, error)
}

// Statistics describes page occupancy.
type Statistics struct {
	RecordCount int
	DeleteCount int
	DataSize    int64
}

// Size is the number of live records.
func (s Statistics) Size() int64 {
	return int64(s.RecordCount - s.DeleteCount)
}

// Density is the live fraction of written records, 0 for an empty page.
func (s Statistics) Density() float64 {
	if s.RecordCount == 0 {
		return 0
	}
	return float64(s.RecordCount-s.DeleteCount) / float64(s.RecordCount)
}

// Iterator is a single-pass cursor over records. Close releases any
// resources held by the cursor and must be called even after Next
// returns false.
type Iterator interface {
	Next() bool
	Record() *encoding.Triple
	Err() error
	Close() error
}

// Empty returns an exhausted iterator.
func Empty() Iterator {
	return &sliceIterator{}
}

// FromRecords iterates a fixed slice.
func FromRecords(records []*encoding.Triple) Iterator {
	return &sliceIterator{records: records}
}

type sliceIterator struct {
	records []*encoding.Triple
	pos     int
	cur     *encoding.Triple
}

func (it *sliceIterator) Next() bool {
	if it.pos >= len(it.records) {
		it.cur = nil
		return false
	}
	it.cur = it.records[it.pos]
	it.pos++
	return true
}

func (it *sliceIterator) Record() *encoding.Triple { return it.cur }
func (it *sliceIterator) Err() error               { return nil }

func (it *sliceIterator) Close() error {
	it.records = nil
	it.pos = 0
	return nil
}

// ErrPageRejected means a freshly allocated page refused a write. A new
// page always has a free slot, so this is an invariant violation.
var ErrPageRejected = errors.New("page: new page rejected write")
