package storage

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/aleksaelezovic/bloomgraph/internal/bloom"
	"github.com/aleksaelezovic/bloomgraph/internal/encoding"
	"github.com/aleksaelezovic/bloomgraph/internal/page"
	"github.com/aleksaelezovic/bloomgraph/pkg/rdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackendOverflow(t *testing.T) {
	settings := newSettings(t, 4)
	b := NewMemoryBackend(settings)
	defer b.Close()

	triples := sampleTriples(5)
	for _, triple := range triples {
		require.NoError(t, b.Add(settings.NewItem(triple)))
	}

	pages, err := b.PageCount()
	require.NoError(t, err)
	assert.Equal(t, 2, pages)
	assert.Equal(t, 0, b.PageIndexOrigin())
	assert.Equal(t, int64(5), b.Size())
	assert.Equal(t, 5, countAll(t, b))

	for _, triple := range triples {
		n, err := b.Count(settings.NewItem(triple))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, triple.String())
	}

	_, err = b.Page(2)
	assert.ErrorIs(t, err, ErrNoPage)
	_, err = b.PageFilter(-1)
	assert.ErrorIs(t, err, ErrNoPage)
}

func TestMemoryBackendPagePruning(t *testing.T) {
	settings := newSettings(t, 2)
	// a page filter far larger than two records need, so pruning is certain
	wide, err := bloom.NewConfig(1000, 1000)
	require.NoError(t, err)
	settings.PageFilter = wide
	b := NewMemoryBackend(settings)
	defer b.Close()

	triples := sampleTriples(6)
	for _, triple := range triples {
		require.NoError(t, b.Add(settings.NewItem(triple)))
	}

	item := settings.NewItem(rdf.NewPattern(triples[4].Subject, nil, nil))
	candidates, err := b.candidates(item)
	require.NoError(t, err)
	var ids []int
	for candidates.Next() {
		ids = append(ids, candidates.Entry().ID())
	}
	assert.Equal(t, []int{2}, ids)
}

func TestMemoryBackendDelete(t *testing.T) {
	settings := newSettings(t, 2)
	b := NewMemoryBackend(settings)
	defer b.Close()

	triples := sampleTriples(5)
	for _, triple := range triples {
		require.NoError(t, b.Add(settings.NewItem(triple)))
	}

	n, err := b.Delete(settings.NewItem(triples[2]))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(0), b.Statistic(settings.NewItem(triples[2])))
	assert.Equal(t, int64(4), b.Size())

	n, err = b.Delete(settings.NewItem(rdf.NewPattern(nil, nil, nil)))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Zero(t, b.Size())
	assert.Zero(t, countAll(t, b))

	// deleted slots are not reused
	require.NoError(t, b.Add(settings.NewItem(triples[0])))
	pages, _ := b.PageCount()
	assert.Equal(t, 3, pages)
}

func TestMemoryBackendConcurrentAdd(t *testing.T) {
	settings := newSettings(t, 16)
	b := NewMemoryBackend(settings)
	defer b.Close()

	triples := sampleTriples(200)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < len(triples); i += 4 {
				assert.NoError(t, b.Add(settings.NewItem(triples[i])))
			}
		}(w)
	}
	wg.Wait()

	pages, err := b.PageCount()
	require.NoError(t, err)
	assert.Equal(t, 13, pages, "200 records in pages of 16")
	assert.Equal(t, int64(200), b.Size())
	assert.Equal(t, 200, countAll(t, b))
}

// rejectingStore allocates pages that refuse every write.
type rejectingStore struct {
	settings *page.Settings
}

type rejectingPage struct {
	*page.MemPage
}

func (rejectingPage) Write(*page.Item) (bool, error) {
	return false, nil
}

func (r rejectingStore) load() ([]storedPage, error) { return nil, nil }
func (r rejectingStore) close() error                { return nil }

func (r rejectingStore) allocate(id int) (storedPage, error) {
	return rejectingPage{page.NewMemPage(id, r.settings)}, nil
}

func TestPageRejected(t *testing.T) {
	settings := newSettings(t, 4)
	b, err := newPagedBackend(settings, rejectingStore{settings: settings}, "")
	require.NoError(t, err)

	err = b.Add(settings.NewItem(sampleTriples(1)[0]))
	assert.True(t, errors.Is(err, page.ErrPageRejected))
}

func TestConcatIsLazy(t *testing.T) {
	triple, err := encoding.EncodeTriple(sampleTriples(1)[0], encoding.NoCompression)
	require.NoError(t, err)

	opened := 0
	cursors := [][]*encoding.Triple{{triple, triple}, nil, {triple}}
	it := Concat(func() (page.Iterator, error) {
		if opened == len(cursors) {
			return nil, nil
		}
		opened++
		return page.FromRecords(cursors[opened-1]), nil
	})

	require.True(t, it.Next())
	assert.Equal(t, 1, opened)
	require.True(t, it.Next())
	assert.Equal(t, 1, opened, "second cursor opens only once the first is exhausted")
	require.True(t, it.Next())
	assert.Equal(t, 3, opened)
	assert.False(t, it.Next())
	require.NoError(t, it.Err())
	require.NoError(t, it.Close())
}

func TestConcatError(t *testing.T) {
	boom := errors.New("boom")
	it := Concat(func() (page.Iterator, error) { return nil, boom })
	assert.False(t, it.Next())
	assert.ErrorIs(t, it.Err(), boom)
}

func TestStatisticDegrades(t *testing.T) {
	settings := newSettings(t, 4)
	b := NewMemoryBackend(settings)
	defer b.Close()
	require.NoError(t, b.Add(settings.NewItem(sampleTriples(1)[0])))

	// a literal that cannot be encoded fails the count
	bad := settings.NewItem(rdf.NewTriple(unencodable{}, nil, nil))
	assert.Equal(t, int64(-1), b.Statistic(bad))
}

type unencodable struct{}

func (unencodable) Type() rdf.TermType   { return 0 }
func (unencodable) String() string       { return "unencodable" }
func (unencodable) Equals(rdf.Term) bool { return false }

func TestAddSaturating(t *testing.T) {
	assert.Equal(t, int64(5), addSaturating(2, 3))
	assert.Equal(t, int64(math.MaxInt64), addSaturating(math.MaxInt64-1, 2))
}

func TestDumpPage(t *testing.T) {
	settings := newSettings(t, 4)
	b := NewMemoryBackend(settings)
	defer b.Close()

	triples := sampleTriples(2)
	for _, triple := range triples {
		require.NoError(t, b.Add(settings.NewItem(triple)))
	}
	_, err := b.Delete(settings.NewItem(triples[0]))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, DumpPage(b, 0, &buf))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "page 0: records=2 deleted=1"), out)
	assert.Contains(t, out, "person1")
	assert.NotContains(t, out, "person0>")

	f, err := bloom.ForTriple(settings.TripleFilter, mustEncode(t, triples[1]))
	require.NoError(t, err)
	assert.Contains(t, out, f.String())

	assert.ErrorIs(t, DumpPage(b, 5, &buf), ErrNoPage)
}

func mustEncode(t *testing.T, triple *rdf.Triple) *encoding.Triple {
	t.Helper()
	rec, err := encoding.EncodeTriple(triple, encoding.NoCompression)
	require.NoError(t, err)
	return rec
}
