package page

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aleksaelezovic/bloomgraph/internal/bloom"
	"github.com/aleksaelezovic/bloomgraph/internal/encoding"
	"github.com/aleksaelezovic/bloomgraph/internal/index"
	"github.com/aleksaelezovic/bloomgraph/internal/logging"
)

// recordPrefix is the length field in front of each stored record
const recordPrefix = 4

// record is the triple index of one stored record.
type record struct {
	*index.Index
	offset int
}

// MemPage keeps its records in a single growable buffer, each framed as
// [len:i32][triple], together with one filter per record and an aggregate
// filter over the whole page.
type MemPage struct {
	mu       sync.RWMutex
	id       int
	settings *Settings
	filter   *bloom.Filter
	records  index.List[*record]

	data        []byte
	dataSize    int
	recordCount int
	deleteCount int

	logger *slog.Logger
}

// NewMemPage creates an empty page. Its aggregate filter is sized by the
// page filter configuration.
func NewMemPage(id int, settings *Settings) *MemPage {
	return &MemPage{
		id:       id,
		settings: settings,
		filter:   bloom.NewFromConfig(settings.PageFilter),
		data:     make([]byte, settings.Capacity),
		logger:   logging.WithPage(logging.WithComponent("page"), id),
	}
}

func (p *MemPage) ID() int {
	return p.id
}

// Filter is the aggregate page filter. It only ever gains bits.
func (p *MemPage) Filter() *bloom.Filter {
	return p.filter
}

// Write appends item if the page has a free slot.
func (p *MemPage) Write(item *Item) (bool, error) {
	rec, err := item.Record()
	if err != nil {
		return false, err
	}
	if rec.ContainsWild() {
		return false, ErrPattern
	}
	tripleFilter, err := item.TripleFilter()
	if err != nil {
		return false, err
	}
	pageFilter, err := item.PageFilter()
	if err != nil {
		return false, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.recordCount >= p.settings.Capacity {
		return false, nil
	}

	need := recordPrefix + rec.Len()
	p.grow(need)

	offset := p.dataSize
	binary.BigEndian.PutUint32(p.data[offset:], uint32(rec.Len()))
	stored := p.data[offset+recordPrefix : offset+need]
	copy(stored, rec.Bytes())
	encoding.PutIndex(stored, int32(p.recordCount))

	p.records.Append(&record{Index: index.New(p.recordCount, tripleFilter.Clone()), offset: offset})
	p.recordCount++
	p.dataSize += need

	if err := p.filter.Merge(pageFilter); err != nil {
		return false, fmt.Errorf("failed to merge page filter: %w", err)
	}
	return true, nil
}

// grow makes room for need more bytes. The new size assumes the remaining
// slots fill with records of the current average size; when that is still
// too small, every remaining slot is assumed to need the current shortfall.
// Must be called with the write lock held.
func (p *MemPage) grow(need int) {
	available := len(p.data) - p.dataSize
	if need <= available {
		return
	}

	size := p.dataSize + need
	if p.recordCount > 0 {
		size = p.dataSize / p.recordCount * p.settings.Capacity
		if size < p.dataSize+need {
			remaining := p.settings.Capacity - p.recordCount
			size = len(p.data) + (need-available)*remaining
		}
	}

	grown := make([]byte, size)
	copy(grown, p.data[:p.dataSize])
	p.data = grown
	p.logger.Debug("Grew page buffer", "size", size, "records", p.recordCount)
}

// stored returns the record at offset. Bytes below dataSize never change,
// so the slice stays valid after the lock is released.
func (p *MemPage) stored(offset int) (*encoding.Triple, error) {
	p.mu.RLock()
	data := p.data
	p.mu.RUnlock()

	n := int(binary.BigEndian.Uint32(data[offset:]))
	start := offset + recordPrefix
	return p.settings.Codec.DecodeTriple(data[start : start+n : start+n])
}

// candidates iterates the live records whose filters may hold item.
func (p *MemPage) candidates(item *Item) (*index.Iterator[*record], error) {
	if item.IsUniversal() {
		return p.records.Matching(nil), nil
	}
	target, err := item.TripleFilter()
	if err != nil {
		return nil, err
	}
	return p.records.Matching(target), nil
}

// Find iterates the records equal to item on every bound position.
func (p *MemPage) Find(item *Item) (Iterator, error) {
	var pattern *encoding.Triple
	if !item.IsUniversal() {
		var err error
		if pattern, err = item.Record(); err != nil {
			return nil, err
		}
	}
	it, err := p.candidates(item)
	if err != nil {
		return nil, err
	}
	return &memIterator{page: p, it: it, pattern: pattern}, nil
}

// Count tallies what Find would return. The universal pattern is answered
// from the page counters.
func (p *MemPage) Count(item *Item) (int64, error) {
	if item.IsUniversal() {
		p.mu.RLock()
		defer p.mu.RUnlock()
		return int64(p.recordCount - p.deleteCount), nil
	}

	it, err := p.Find(item)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	var n int64
	for it.Next() {
		n++
	}
	return n, it.Err()
}

// Delete soft-deletes every record matching item: the record filter is
// cleared and the entry flagged, the bytes stay in place. The aggregate
// filter is not rebuilt.
func (p *MemPage) Delete(item *Item) (int, error) {
	var pattern *encoding.Triple
	if !item.IsUniversal() {
		var err error
		if pattern, err = item.Record(); err != nil {
			return 0, err
		}
	}
	it, err := p.candidates(item)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	deleted := 0
	for it.Next() {
		r := it.Entry()
		if pattern != nil {
			stored, err := p.decodeLocked(r.offset)
			if err != nil {
				return deleted, err
			}
			ok, err := stored.Matches(pattern)
			if err != nil {
				return deleted, err
			}
			if !ok {
				continue
			}
		}
		r.Delete()
		p.deleteCount++
		deleted++
	}
	if deleted > 0 {
		p.logger.Debug("Deleted records", "count", deleted)
	}
	return deleted, nil
}

func (p *MemPage) decodeLocked(offset int) (*encoding.Triple, error) {
	n := int(binary.BigEndian.Uint32(p.data[offset:]))
	start := offset + recordPrefix
	return p.settings.Codec.DecodeTriple(p.data[start : start+n : start+n])
}

func (p *MemPage) Statistics() (Statistics, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Statistics{
		RecordCount: p.recordCount,
		DeleteCount: p.deleteCount,
		DataSize:    int64(p.dataSize),
	}, nil
}

// RecordFilter returns the filter of record idx, for diagnostics.
func (p *MemPage) RecordFilter(idx int) (*bloom.Filter, bool) {
	r, ok := p.records.At(idx)
	if !ok {
		return nil, false
	}
	return r.Filter(), true
}

type memIterator struct {
	page    *MemPage
	it      *index.Iterator[*record]
	pattern *encoding.Triple
	cur     *encoding.Triple
	err     error
}

func (m *memIterator) Next() bool {
	if m.err != nil || m.it == nil {
		return false
	}
	for m.it.Next() {
		r := m.it.Entry()
		stored, err := m.page.stored(r.offset)
		if err != nil {
			m.err = err
			return false
		}
		if m.pattern != nil {
			ok, err := stored.Matches(m.pattern)
			if err != nil {
				m.err = err
				return false
			}
			if !ok {
				continue
			}
		}
		m.cur = stored
		return true
	}
	m.cur = nil
	return false
}

func (m *memIterator) Record() *encoding.Triple { return m.cur }
func (m *memIterator) Err() error               { return m.err }

func (m *memIterator) Close() error {
	m.it = nil
	m.cur = nil
	return nil
}
