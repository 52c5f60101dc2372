package storage

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/aleksaelezovic/bloomgraph/internal/bloom"
	"github.com/aleksaelezovic/bloomgraph/internal/index"
	"github.com/aleksaelezovic/bloomgraph/internal/logging"
	"github.com/aleksaelezovic/bloomgraph/internal/page"
	"golang.org/x/sync/errgroup"
)

// storedPage is a page that exposes its aggregate filter to the page index.
type storedPage interface {
	page.Page
	Filter() *bloom.Filter
}

// pageStore creates and reloads the pages of a PagedBackend.
type pageStore interface {
	// load returns the existing pages in id order, starting at 0
	load() ([]storedPage, error)
	allocate(id int) (storedPage, error)
	close() error
}

// pageEntry is the page index entry: the page id and its aggregate filter.
type pageEntry struct {
	*index.Index
	page storedPage
}

// PagedBackend keeps a page index over a sequence of pages numbered from 0
// and routes every operation through it.
type PagedBackend struct {
	settings *page.Settings
	store    pageStore
	storeID  string

	// allocMu serializes target page selection with the write
	allocMu sync.Mutex
	pages   index.List[*pageEntry]

	logger *slog.Logger
}

// NewMemoryBackend creates the in-memory reference backend.
func NewMemoryBackend(settings *page.Settings) *PagedBackend {
	b, err := newPagedBackend(settings, memStore{settings: settings}, "")
	if err != nil {
		// memStore.load cannot fail
		panic(err)
	}
	return b
}

func newPagedBackend(settings *page.Settings, ps pageStore, storeID string) (*PagedBackend, error) {
	logger := logging.WithComponent("storage")
	if storeID != "" {
		logger = logging.WithStore(logger, storeID)
	}
	b := &PagedBackend{
		settings: settings,
		store:    ps,
		storeID:  storeID,
		logger:   logger,
	}

	pages, err := ps.load()
	if err != nil {
		return nil, err
	}
	for _, p := range pages {
		b.pages.Append(&pageEntry{Index: index.New(p.ID(), p.Filter()), page: p})
	}
	if len(pages) > 0 {
		b.logger.Info("Loaded page index", "pages", len(pages))
	}
	return b, nil
}

type memStore struct {
	settings *page.Settings
}

func (m memStore) load() ([]storedPage, error) {
	return nil, nil
}

func (m memStore) allocate(id int) (storedPage, error) {
	return page.NewMemPage(id, m.settings), nil
}

func (m memStore) close() error {
	return nil
}

// StoreID is the persistent store identity, empty for memory.
func (b *PagedBackend) StoreID() string {
	return b.storeID
}

func (b *PagedBackend) Settings() *page.Settings {
	return b.settings
}

// Add writes item to the last page, allocating a new page when there is
// none or it is full.
func (b *PagedBackend) Add(item *page.Item) error {
	b.allocMu.Lock()
	defer b.allocMu.Unlock()

	if last, ok := b.pages.Last(); ok {
		written, err := last.page.Write(item)
		if err != nil {
			return err
		}
		if written {
			return nil
		}
	}

	id := b.pages.Len()
	p, err := b.store.allocate(id)
	if err != nil {
		return fmt.Errorf("failed to allocate page %d: %w", id, err)
	}
	b.pages.Append(&pageEntry{Index: index.New(id, p.Filter()), page: p})
	b.logger.Debug("Allocated page", "page_id", id)

	written, err := p.Write(item)
	if err != nil {
		return err
	}
	if !written {
		return fmt.Errorf("%w: page %d", page.ErrPageRejected, id)
	}
	return nil
}

// candidates iterates the pages whose aggregate filter may hold item.
func (b *PagedBackend) candidates(item *page.Item) (*index.Iterator[*pageEntry], error) {
	if item.IsUniversal() {
		return b.pages.Matching(nil), nil
	}
	target, err := item.PageFilter()
	if err != nil {
		return nil, err
	}
	return b.pages.Matching(target), nil
}

// Find concatenates the page results lazily; a page is searched only once
// the previous page's cursor is exhausted.
func (b *PagedBackend) Find(item *page.Item) (page.Iterator, error) {
	pages, err := b.candidates(item)
	if err != nil {
		return nil, err
	}
	return Concat(func() (page.Iterator, error) {
		if !pages.Next() {
			return nil, nil
		}
		return pages.Entry().page.Find(item)
	}), nil
}

// Count counts the candidate pages in parallel.
func (b *PagedBackend) Count(item *page.Item) (int64, error) {
	pages, err := b.candidates(item)
	if err != nil {
		return 0, err
	}
	entries := pages.Collect()

	counts := make([]int64, len(entries))
	var g errgroup.Group
	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			n, err := e.page.Count(item)
			counts[i] = n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var total int64
	for _, n := range counts {
		total = addSaturating(total, n)
	}
	return total, nil
}

func (b *PagedBackend) Delete(item *page.Item) (int, error) {
	pages, err := b.candidates(item)
	if err != nil {
		return 0, err
	}
	total := 0
	for pages.Next() {
		n, err := pages.Entry().page.Delete(item)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (b *PagedBackend) Statistic(item *page.Item) int64 {
	n, err := b.Count(item)
	if err != nil {
		b.logger.Warn("Statistic unavailable", "pattern", item.Triple().String(), "error", err)
		return -1
	}
	return n
}

func (b *PagedBackend) Size() int64 {
	var total int64
	pages := b.pages.Matching(nil)
	for pages.Next() {
		stats, err := pages.Entry().page.Statistics()
		if err != nil {
			b.logger.Warn("Page statistics unavailable", "page_id", pages.Entry().ID(), "error", err)
			continue
		}
		total = addSaturating(total, stats.Size())
	}
	return total
}

func (b *PagedBackend) entry(n int) (*pageEntry, error) {
	e, ok := b.pages.At(n - b.PageIndexOrigin())
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoPage, n)
	}
	return e, nil
}

func (b *PagedBackend) Page(n int) (page.Page, error) {
	e, err := b.entry(n)
	if err != nil {
		return nil, err
	}
	return e.page, nil
}

func (b *PagedBackend) PageFilter(n int) (*bloom.Filter, error) {
	e, err := b.entry(n)
	if err != nil {
		return nil, err
	}
	return e.Filter(), nil
}

func (b *PagedBackend) PageCount() (int, error) {
	return b.pages.Len(), nil
}

func (b *PagedBackend) PageIndexOrigin() int {
	return 0
}

func (b *PagedBackend) Close() error {
	b.allocMu.Lock()
	defer b.allocMu.Unlock()
	b.pages.Reset()
	return b.store.close()
}

func addSaturating(a, n int64) int64 {
	if n > 0 && a > math.MaxInt64-n {
		return math.MaxInt64
	}
	return a + n
}
