package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aleksaelezovic/bloomgraph/internal/bloom"
	"github.com/aleksaelezovic/bloomgraph/internal/encoding"
	"github.com/aleksaelezovic/bloomgraph/internal/logging"
	"github.com/aleksaelezovic/bloomgraph/internal/page"
	"github.com/aleksaelezovic/bloomgraph/pkg/store"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

var (
	ErrIncompatible = errors.New("storage: store was created with a different page geometry")
	ErrCorrupt      = errors.New("storage: corrupt page data")
)

var metaKey = []byte("store")

// storeMeta identifies a persistent store and the geometry it was built
// with. Filters of a different geometry cannot be compared.
type storeMeta struct {
	ID           string `cbor:"1,keyasint"`
	PageCapacity int    `cbor:"2,keyasint"`
	TripleBits   int    `cbor:"3,keyasint"`
	TripleHashes int    `cbor:"4,keyasint"`
	PageBits     int    `cbor:"5,keyasint"`
	PageHashes   int    `cbor:"6,keyasint"`
}

type pageStats struct {
	RecordCount int   `cbor:"1,keyasint"`
	DeleteCount int   `cbor:"2,keyasint"`
	DataSize    int64 `cbor:"3,keyasint"`
}

// Record values are [flags:u8][record filter][record bytes].
const (
	recordLive    byte = 0
	recordDeleted byte = 1
)

// NewBadgerBackend opens or creates a persistent store at path. An empty
// path keeps everything in memory.
func NewBadgerBackend(path string, settings *page.Settings) (*PagedBackend, error) {
	db, err := NewBadgerStorage(path)
	if err != nil {
		return nil, err
	}
	b, err := NewKVBackend(db, settings)
	if err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// NewKVBackend builds a paged backend over any key-value store. The backend
// owns db and closes it on Close.
func NewKVBackend(db store.Storage, settings *page.Settings) (*PagedBackend, error) {
	meta, err := openMeta(db, settings)
	if err != nil {
		return nil, err
	}
	kv := &kvStore{db: db, settings: settings, logger: logging.WithStore(logging.WithComponent("page"), meta.ID)}
	return newPagedBackend(settings, kv, meta.ID)
}

func openMeta(db store.Storage, settings *page.Settings) (*storeMeta, error) {
	want := storeMeta{
		PageCapacity: settings.Capacity,
		TripleBits:   settings.TripleFilter.Bits,
		TripleHashes: settings.TripleFilter.Hashes,
		PageBits:     settings.PageFilter.Bits,
		PageHashes:   settings.PageFilter.Hashes,
	}

	txn, err := db.Begin(true)
	if err != nil {
		return nil, err
	}
	defer txn.Rollback()

	data, err := txn.Get(store.TableMeta, metaKey)
	switch {
	case errors.Is(err, store.ErrNotFound):
		want.ID = uuid.NewString()
		data, err := cbor.Marshal(want)
		if err != nil {
			return nil, err
		}
		if err := txn.Set(store.TableMeta, metaKey, data); err != nil {
			return nil, err
		}
		if err := txn.Commit(); err != nil {
			return nil, fmt.Errorf("failed to create store: %w", err)
		}
		logging.WithStore(logging.WithComponent("storage"), want.ID).Info("Created store")
		return &want, nil
	case err != nil:
		return nil, err
	}

	var meta storeMeta
	if err := cbor.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: store metadata: %v", ErrCorrupt, err)
	}
	want.ID = meta.ID
	if meta != want {
		return nil, fmt.Errorf("%w: %+v, configured %+v", ErrIncompatible, meta, want)
	}
	return &meta, nil
}

type kvStore struct {
	db       store.Storage
	settings *page.Settings
	logger   *slog.Logger

	mu    sync.Mutex
	pages []*kvPage
}

func (s *kvStore) load() ([]storedPage, error) {
	txn, err := s.db.Begin(false)
	if err != nil {
		return nil, err
	}
	defer txn.Rollback()

	it, err := txn.Scan(store.TablePages, nil)
	if err != nil {
		return nil, err
	}

	var pages []*kvPage
	for it.Next() {
		id, ok := store.ParsePageKey(it.Key())
		if !ok || id != len(pages) {
			it.Close()
			return nil, fmt.Errorf("%w: page key %x out of sequence", ErrCorrupt, it.Key())
		}
		data, err := it.Value()
		if err != nil {
			it.Close()
			return nil, err
		}
		if len(data) < 4 {
			it.Close()
			return nil, fmt.Errorf("%w: page %d filter", ErrCorrupt, id)
		}
		covered := int(binary.BigEndian.Uint32(data))
		filter, err := bloom.FromBytes(s.settings.PageFilter.Bits, data[4:])
		if err != nil {
			it.Close()
			return nil, fmt.Errorf("%w: page %d filter: %v", ErrCorrupt, id, err)
		}

		var stats pageStats
		raw, err := txn.Get(store.TableStats, store.PageKey(id))
		if err == nil {
			err = cbor.Unmarshal(raw, &stats)
		}
		if err != nil {
			it.Close()
			return nil, fmt.Errorf("%w: page %d statistics: %v", ErrCorrupt, id, err)
		}

		p := s.newPage(id, filter)
		p.stats = stats
		p.flushed = covered
		pages = append(pages, p)
	}
	it.Close()

	out := make([]storedPage, len(pages))
	for i, p := range pages {
		if p.flushed != p.stats.RecordCount {
			if err := p.rebuildFilter(txn); err != nil {
				return nil, err
			}
		}
		out[i] = p
	}

	s.mu.Lock()
	s.pages = pages
	s.mu.Unlock()
	return out, nil
}

func (s *kvStore) allocate(id int) (storedPage, error) {
	p := s.newPage(id, bloom.NewFromConfig(s.settings.PageFilter))

	txn, err := s.db.Begin(true)
	if err != nil {
		return nil, err
	}
	defer txn.Rollback()
	if err := p.putFilter(txn); err != nil {
		return nil, err
	}
	if err := p.putStats(txn, p.stats); err != nil {
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.pages = append(s.pages, p)
	s.mu.Unlock()
	return p, nil
}

// close writes back the aggregate filters of pages that gained records.
func (s *kvStore) close() error {
	s.mu.Lock()
	pages := s.pages
	s.pages = nil
	s.mu.Unlock()

	var flushErr error
	for _, p := range pages {
		if err := p.flush(); err != nil {
			s.logger.Error("Failed to flush page filter", "page_id", p.id, "error", err)
			flushErr = errors.Join(flushErr, err)
		}
	}
	if err := s.db.Sync(); err != nil {
		s.logger.Error("Sync failed", "error", err)
	}
	return errors.Join(flushErr, s.db.Close())
}

func (s *kvStore) newPage(id int, filter *bloom.Filter) *kvPage {
	return &kvPage{
		id:       id,
		settings: s.settings,
		db:       s.db,
		filter:   filter,
		logger:   logging.WithPage(s.logger, id),
	}
}

// kvPage keeps each record under its own key. Statistics are written
// through on every change. The aggregate filter is written on allocation and
// on close together with the record count it covers; a page whose stored
// filter covers fewer records than its statistics is rebuilt on open.
type kvPage struct {
	mu       sync.RWMutex
	id       int
	settings *page.Settings
	db       store.Storage
	filter   *bloom.Filter
	stats    pageStats
	flushed  int
	logger   *slog.Logger
}

func (p *kvPage) ID() int {
	return p.id
}

func (p *kvPage) Filter() *bloom.Filter {
	return p.filter
}

func (p *kvPage) putStats(txn store.Transaction, stats pageStats) error {
	data, err := cbor.Marshal(stats)
	if err != nil {
		return err
	}
	return txn.Set(store.TableStats, store.PageKey(p.id), data)
}

// putFilter stores [covered records:u32][filter bytes]. Must be called with
// the page lock held or before the page is shared.
func (p *kvPage) putFilter(txn store.Transaction) error {
	value := binary.BigEndian.AppendUint32(nil, uint32(p.stats.RecordCount))
	value = append(value, p.filter.Bytes()...)
	if err := txn.Set(store.TablePages, store.PageKey(p.id), value); err != nil {
		return err
	}
	p.flushed = p.stats.RecordCount
	return nil
}

func (p *kvPage) flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.flushed == p.stats.RecordCount {
		return nil
	}
	txn, err := p.db.Begin(true)
	if err != nil {
		return err
	}
	defer txn.Rollback()
	if err := p.putFilter(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// rebuildFilter recomputes the aggregate filter from the live records.
func (p *kvPage) rebuildFilter(txn store.Transaction) error {
	m := &matcher{codec: p.settings.Codec, filterBits: p.settings.TripleFilter.Bits}
	it, err := txn.Scan(store.TableRecords, store.PageKey(p.id))
	if err != nil {
		return err
	}
	defer it.Close()

	p.filter.Clear()
	for it.Next() {
		value, err := it.Value()
		if err != nil {
			return err
		}
		rec, err := m.match(value)
		if err != nil {
			return err
		}
		if rec == nil {
			continue
		}
		f, err := bloom.ForTriple(p.settings.PageFilter, rec)
		if err != nil {
			return err
		}
		if err := p.filter.Merge(f); err != nil {
			return err
		}
	}
	p.logger.Info("Rebuilt page filter", "records", p.stats.RecordCount, "stored", p.flushed)
	return nil
}

func (p *kvPage) Write(item *page.Item) (bool, error) {
	rec, err := item.Record()
	if err != nil {
		return false, err
	}
	if rec.ContainsWild() {
		return false, page.ErrPattern
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

	if p.stats.RecordCount >= p.settings.Capacity {
		return false, nil
	}

	idx := p.stats.RecordCount
	filterBytes := tripleFilter.Bytes()
	value := make([]byte, 1+len(filterBytes)+rec.Len())
	value[0] = recordLive
	copy(value[1:], filterBytes)
	stored := value[1+len(filterBytes):]
	copy(stored, rec.Bytes())
	encoding.PutIndex(stored, int32(idx))

	stats := p.stats
	stats.RecordCount++
	stats.DataSize += int64(rec.Len())

	txn, err := p.db.Begin(true)
	if err != nil {
		return false, err
	}
	defer txn.Rollback()
	if err := txn.Set(store.TableRecords, store.RecordKey(p.id, idx), value); err != nil {
		return false, err
	}
	if err := p.putStats(txn, stats); err != nil {
		return false, err
	}
	if err := txn.Commit(); err != nil {
		return false, fmt.Errorf("failed to write record %d: %w", idx, err)
	}

	if err := p.filter.Merge(pageFilter); err != nil {
		return false, err
	}
	p.stats = stats
	return true, nil
}

// matcher applies the two-phase test to stored record values.
type matcher struct {
	codec      *encoding.Codec
	filterBits int
	target     *bloom.Filter
	pattern    *encoding.Triple
}

func (p *kvPage) matcher(item *page.Item) (*matcher, error) {
	m := &matcher{codec: p.settings.Codec, filterBits: p.settings.TripleFilter.Bits}
	if item.IsUniversal() {
		return m, nil
	}
	var err error
	if m.target, err = item.TripleFilter(); err != nil {
		return nil, err
	}
	if m.pattern, err = item.Record(); err != nil {
		return nil, err
	}
	return m, nil
}

// match returns the decoded record when value is live and matches.
func (m *matcher) match(value []byte) (*encoding.Triple, error) {
	filterLen := (m.filterBits + 7) / 8
	if len(value) < 1+filterLen {
		return nil, fmt.Errorf("%w: record value of %d bytes", ErrCorrupt, len(value))
	}
	if value[0] == recordDeleted {
		return nil, nil
	}
	if m.target != nil {
		filter, err := bloom.FromBytes(m.filterBits, value[1:1+filterLen])
		if err != nil {
			return nil, err
		}
		if !m.target.Match(filter) {
			return nil, nil
		}
	}
	rec, err := m.codec.DecodeTriple(value[1+filterLen:])
	if err != nil {
		return nil, err
	}
	if m.pattern != nil {
		ok, err := rec.Matches(m.pattern)
		if err != nil || !ok {
			return nil, err
		}
	}
	return rec, nil
}

// Find holds a read transaction until the iterator is closed.
func (p *kvPage) Find(item *page.Item) (page.Iterator, error) {
	m, err := p.matcher(item)
	if err != nil {
		return nil, err
	}
	txn, err := p.db.Begin(false)
	if err != nil {
		return nil, err
	}
	it, err := txn.Scan(store.TableRecords, store.PageKey(p.id))
	if err != nil {
		txn.Rollback()
		return nil, err
	}
	return &kvIterator{txn: txn, it: it, m: m}, nil
}

func (p *kvPage) Count(item *page.Item) (int64, error) {
	if item.IsUniversal() {
		p.mu.RLock()
		defer p.mu.RUnlock()
		return int64(p.stats.RecordCount - p.stats.DeleteCount), nil
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

// Delete flags matching records and zeroes their stored filters.
func (p *kvPage) Delete(item *page.Item) (int, error) {
	m, err := p.matcher(item)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	txn, err := p.db.Begin(true)
	if err != nil {
		return 0, err
	}
	defer txn.Rollback()

	type hit struct{ key, value []byte }
	var hits []hit
	it, err := txn.Scan(store.TableRecords, store.PageKey(p.id))
	if err != nil {
		return 0, err
	}
	for it.Next() {
		value, err := it.Value()
		if err != nil {
			it.Close()
			return 0, err
		}
		rec, err := m.match(value)
		if err != nil {
			it.Close()
			return 0, err
		}
		if rec != nil {
			hits = append(hits, hit{key: it.Key(), value: value})
		}
	}
	it.Close()

	if len(hits) == 0 {
		return 0, nil
	}

	filterLen := p.settings.TripleFilter.Bytes()
	for _, h := range hits {
		h.value[0] = recordDeleted
		clear(h.value[1 : 1+filterLen])
		if err := txn.Set(store.TableRecords, h.key, h.value); err != nil {
			return 0, err
		}
	}
	stats := p.stats
	stats.DeleteCount += len(hits)
	if err := p.putStats(txn, stats); err != nil {
		return 0, err
	}
	if err := txn.Commit(); err != nil {
		return 0, fmt.Errorf("failed to delete records: %w", err)
	}
	p.stats = stats
	p.logger.Debug("Deleted records", "count", len(hits))
	return len(hits), nil
}

func (p *kvPage) Statistics() (page.Statistics, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return page.Statistics{
		RecordCount: p.stats.RecordCount,
		DeleteCount: p.stats.DeleteCount,
		DataSize:    p.stats.DataSize,
	}, nil
}

type kvIterator struct {
	txn store.Transaction
	it  store.Iterator
	m   *matcher
	cur *encoding.Triple
	err error
}

func (k *kvIterator) Next() bool {
	if k.it == nil || k.err != nil {
		return false
	}
	for k.it.Next() {
		value, err := k.it.Value()
		if err != nil {
			k.err = err
			return false
		}
		rec, err := k.m.match(value)
		if err != nil {
			k.err = err
			return false
		}
		if rec != nil {
			k.cur = rec
			return true
		}
	}
	k.cur = nil
	return false
}

func (k *kvIterator) Record() *encoding.Triple { return k.cur }
func (k *kvIterator) Err() error               { return k.err }

func (k *kvIterator) Close() error {
	if k.it == nil {
		return nil
	}
	err := k.it.Close()
	k.txn.Rollback()
	k.it = nil
	k.cur = nil
	return err
}
