package sqlstore

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aleksaelezovic/bloomgraph/internal/config"
	"github.com/aleksaelezovic/bloomgraph/internal/logging"
	"github.com/aleksaelezovic/bloomgraph/internal/page"
	"github.com/aleksaelezovic/bloomgraph/internal/storage"
	"github.com/aleksaelezovic/bloomgraph/pkg/rdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func openTest(t *testing.T, capacity int) (*Backend, *page.Settings) {
	t.Helper()
	cfg := config.Default()
	cfg.PageCapacity = capacity
	cfg.PageFalsePositive = 1000
	cfg.MaxLiteralBytes = 64
	settings, err := page.NewSettings(cfg)
	require.NoError(t, err)
	t.Cleanup(settings.Close)

	b, err := Open(filepath.Join(t.TempDir(), "bloomgraph.db"), settings)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b, settings
}

func uri(s string) *rdf.NamedNode {
	return rdf.NewNamedNode("http://example.text/" + s)
}

func find(t *testing.T, b storage.Backend, pattern *rdf.Triple) []*rdf.Triple {
	t.Helper()
	it, err := b.Find(b.Settings().NewItem(pattern))
	require.NoError(t, err)
	defer it.Close()
	var out []*rdf.Triple
	for it.Next() {
		triple, err := it.Record().Triple()
		require.NoError(t, err)
		out = append(out, triple)
	}
	require.NoError(t, it.Err())
	return out
}

func TestScenario(t *testing.T) {
	b, settings := openTest(t, 10)

	t1 := rdf.NewTriple(uri("s1"), uri("p1"), uri("o1"))
	t2 := rdf.NewTriple(uri("s2"), uri("p2"), uri("o2"))
	t3 := rdf.NewTriple(uri("s2"), uri("p1"), uri("o1"))
	for _, triple := range []*rdf.Triple{t1, t2, t3} {
		require.NoError(t, b.Add(settings.NewItem(triple)))
	}

	got := find(t, b, rdf.NewPattern(uri("s2"), uri("p1"), nil))
	require.Len(t, got, 1)
	assert.True(t, t3.Equals(got[0]))

	assert.Len(t, find(t, b, rdf.NewPattern(uri("s2"), nil, nil)), 2)

	exact := find(t, b, t2)
	require.Len(t, exact, 1)
	assert.True(t, t2.Equals(exact[0]))

	n, err := b.Delete(settings.NewItem(t2))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, find(t, b, rdf.NewPattern(nil, nil, nil)), 2)
	assert.Equal(t, int64(2), b.Size())
	assert.Equal(t, int64(1), b.Statistic(settings.NewItem(rdf.NewPattern(uri("s2"), nil, nil))))
}

func TestPageOriginAndOverflow(t *testing.T) {
	b, settings := openTest(t, 3)
	assert.Equal(t, 1, b.PageIndexOrigin())

	var triples []*rdf.Triple
	for i := 0; i < 7; i++ {
		triple := rdf.NewTriple(uri(fmt.Sprintf("s%d", i)), uri("p"), rdf.NewIntegerLiteral(int64(i)))
		triples = append(triples, triple)
		require.NoError(t, b.Add(settings.NewItem(triple)))
	}

	pages, err := b.PageCount()
	require.NoError(t, err)
	assert.Equal(t, 3, pages)

	_, err = b.Page(0)
	assert.ErrorIs(t, err, storage.ErrNoPage)
	p, err := b.Page(1)
	require.NoError(t, err)
	stats, err := p.Statistics()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.RecordCount)

	for _, triple := range triples {
		got := find(t, b, rdf.NewPattern(triple.Subject, nil, nil))
		require.Len(t, got, 1, triple.String())
		assert.True(t, triple.Equals(got[0]))
	}
}

func TestDeletedSlotsAreReused(t *testing.T) {
	b, settings := openTest(t, 2)

	a := rdf.NewTriple(uri("a"), uri("p"), uri("o"))
	c := rdf.NewTriple(uri("c"), uri("p"), uri("o"))
	require.NoError(t, b.Add(settings.NewItem(a)))
	require.NoError(t, b.Add(settings.NewItem(c)))

	_, err := b.Delete(settings.NewItem(a))
	require.NoError(t, err)
	require.NoError(t, b.Add(settings.NewItem(rdf.NewTriple(uri("d"), uri("p"), uri("o")))))

	pages, err := b.PageCount()
	require.NoError(t, err)
	assert.Equal(t, 1, pages)

	p, err := b.Page(1)
	require.NoError(t, err)
	stats, err := p.Statistics()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.RecordCount)
	assert.Equal(t, 1, stats.DeleteCount)
	assert.Equal(t, int64(2), stats.Size())
}

func TestBestPagePrefersFullest(t *testing.T) {
	b, settings := openTest(t, 3)
	for i := 0; i < 6; i++ {
		require.NoError(t, b.Add(settings.NewItem(rdf.NewTriple(uri(fmt.Sprintf("s%d", i)), uri("p"), uri("o")))))
	}
	// page 1 gets one free slot, page 2 two
	_, err := b.Delete(settings.NewItem(rdf.NewPattern(uri("s0"), nil, nil)))
	require.NoError(t, err)
	_, err = b.Delete(settings.NewItem(rdf.NewPattern(uri("s3"), nil, nil)))
	require.NoError(t, err)
	_, err = b.Delete(settings.NewItem(rdf.NewPattern(uri("s4"), nil, nil)))
	require.NoError(t, err)

	require.NoError(t, b.Add(settings.NewItem(rdf.NewTriple(uri("new"), uri("p"), uri("o")))))

	p, err := b.Page(1)
	require.NoError(t, err)
	n, err := p.Count(settings.NewItem(rdf.NewPattern(uri("new"), nil, nil)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestBestPagePrefersFewestFreeSlots(t *testing.T) {
	b, settings := openTest(t, 3)
	for i := 0; i < 4; i++ {
		require.NoError(t, b.Add(settings.NewItem(rdf.NewTriple(uri(fmt.Sprintf("s%d", i)), uri("p"), uri("o")))))
	}
	// page 1: three records, one deleted, one free slot; page 2: one record, two free
	_, err := b.Delete(settings.NewItem(rdf.NewPattern(uri("s0"), nil, nil)))
	require.NoError(t, err)

	require.NoError(t, b.Add(settings.NewItem(rdf.NewTriple(uri("new"), uri("p"), uri("o")))))

	for id, want := range map[int]int64{1: 1, 2: 0} {
		p, err := b.Page(id)
		require.NoError(t, err)
		n, err := p.Count(settings.NewItem(rdf.NewPattern(uri("new"), nil, nil)))
		require.NoError(t, err)
		assert.Equal(t, want, n, "page %d", id)
	}
}

func TestDeleteUniversal(t *testing.T) {
	b, settings := openTest(t, 2)
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Add(settings.NewItem(rdf.NewTriple(uri(fmt.Sprintf("s%d", i)), uri("p"), uri("o")))))
	}
	n, err := b.Delete(settings.NewItem(rdf.NewPattern(nil, nil, nil)))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Zero(t, b.Size())
	assert.Empty(t, find(t, b, rdf.NewPattern(nil, nil, nil)))
}

func TestCompressedLiteral(t *testing.T) {
	b, settings := openTest(t, 10)
	lit := rdf.NewLiteralWithLanguage(strings.Repeat("long text ", 50), "en")
	triple := rdf.NewTriple(uri("doc"), uri("body"), lit)
	require.NoError(t, b.Add(settings.NewItem(triple)))

	got := find(t, b, rdf.NewPattern(nil, nil, lit))
	require.Len(t, got, 1)
	assert.True(t, triple.Equals(got[0]))
}

func TestIteratorReleasesConnection(t *testing.T) {
	b, settings := openTest(t, 10)
	require.NoError(t, b.Add(settings.NewItem(rdf.NewTriple(uri("s"), uri("p"), uri("o")))))

	b.db.SetMaxOpenConns(1)
	for i := 0; i < 3; i++ {
		it, err := b.Find(settings.NewItem(rdf.NewPattern(uri("s"), nil, nil)))
		require.NoError(t, err)
		require.True(t, it.Next())
		require.NoError(t, it.Close())
	}
	// would block if any iterator kept its connection
	assert.Equal(t, int64(1), b.Size())
}

func TestRecordIndex(t *testing.T) {
	b, settings := openTest(t, 10)
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Add(settings.NewItem(rdf.NewTriple(uri(fmt.Sprintf("s%d", i)), uri("p"), uri("o")))))
	}
	it, err := b.Find(settings.NewItem(rdf.NewPattern(nil, nil, nil)))
	require.NoError(t, err)
	defer it.Close()
	var idx []int32
	for it.Next() {
		idx = append(idx, it.Record().Index())
	}
	assert.Equal(t, []int32{1, 2, 3}, idx)
}

func TestReopen(t *testing.T) {
	cfg := config.Default()
	cfg.PageCapacity = 2
	settings, err := page.NewSettings(cfg)
	require.NoError(t, err)
	defer settings.Close()

	path := filepath.Join(t.TempDir(), "reopen.db")
	b, err := Open(path, settings)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Add(settings.NewItem(rdf.NewTriple(uri(fmt.Sprintf("s%d", i)), uri("p"), uri("o")))))
	}
	require.NoError(t, b.Close())

	b, err = Open(path, settings)
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, int64(3), b.Size())
	assert.Len(t, find(t, b, rdf.NewPattern(uri("s2"), nil, nil)), 1)
}

func TestReopenRejectsDifferentGeometry(t *testing.T) {
	open := func(cfg config.Config, path string, adjust func(*page.Settings)) (*Backend, error) {
		settings, err := page.NewSettings(cfg)
		require.NoError(t, err)
		t.Cleanup(settings.Close)
		if adjust != nil {
			adjust(settings)
		}
		return Open(path, settings)
	}

	cfg := config.Default()
	cfg.PageCapacity = 4
	path := filepath.Join(t.TempDir(), "geometry.db")
	b, err := open(cfg, path, nil)
	require.NoError(t, err)
	id := b.StoreID()
	require.NotEmpty(t, id)
	for i := 0; i < 6; i++ {
		require.NoError(t, b.Add(b.Settings().NewItem(rdf.NewTriple(uri(fmt.Sprintf("s%d", i)), uri("p"), uri("o")))))
	}
	require.NoError(t, b.Close())

	deeper := cfg
	deeper.InsertLogDepth = 8
	deeper.SearchLogDepth = 8
	otherRate := cfg
	otherRate.PageFalsePositive = 1000
	otherCapacity := cfg
	otherCapacity.PageCapacity = 5

	tests := []struct {
		name   string
		cfg    config.Config
		adjust func(*page.Settings)
	}{
		{"log depth", deeper, nil},
		{"page false positive rate", otherRate, nil},
		{"capacity", otherCapacity, nil},
		{"search deeper than stored logs", cfg, func(s *page.Settings) { s.SearchLogDepth = s.InsertLogDepth + 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := open(tt.cfg, path, tt.adjust)
			assert.ErrorIs(t, err, storage.ErrIncompatible)
		})
	}

	b, err = open(cfg, path, nil)
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, id, b.StoreID())
	for i := 0; i < 6; i++ {
		assert.Len(t, find(t, b, rdf.NewPattern(uri(fmt.Sprintf("s%d", i)), nil, nil)), 1)
	}
}

func TestPageHandleWritesAreSerialized(t *testing.T) {
	b, settings := openTest(t, 100)
	require.NoError(t, b.Add(settings.NewItem(rdf.NewTriple(uri("first"), uri("p"), uri("o")))))
	p, err := b.Page(1)
	require.NoError(t, err)

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < 5; i++ {
				triple := rdf.NewTriple(uri(fmt.Sprintf("w%d-%d", w, i)), uri("p"), uri("o"))
				if i%2 == 0 {
					if err := b.Add(settings.NewItem(triple)); err != nil {
						return err
					}
					continue
				}
				written, err := p.Write(settings.NewItem(triple))
				if err != nil {
					return err
				}
				if !written {
					return fmt.Errorf("page rejected %s", triple)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(41), b.Size())
	pages, err := b.PageCount()
	require.NoError(t, err)
	assert.Equal(t, 1, pages)
	stats, err := p.Statistics()
	require.NoError(t, err)
	assert.Equal(t, 41, stats.RecordCount)
}

func TestFailuresAreLogged(t *testing.T) {
	var buf bytes.Buffer
	logging.Init(slog.LevelInfo, &buf)
	t.Cleanup(func() { logging.Init(slog.LevelInfo, os.Stderr) })

	b, settings := openTest(t, 10)
	require.NoError(t, b.db.Close())

	item := settings.NewItem(rdf.NewTriple(uri("s"), uri("p"), uri("o")))
	assert.Error(t, b.Add(item))
	_, err := b.Count(settings.NewItem(rdf.NewPattern(uri("s"), nil, nil)))
	assert.Error(t, err)
	_, err = b.PageCount()
	assert.Error(t, err)

	logs := buf.String()
	for _, op := range []string{"op=add", "op=count", `op="page count"`} {
		assert.Contains(t, logs, op)
	}
	assert.Equal(t, int64(-1), b.Size())
}

func TestDumpPage(t *testing.T) {
	b, settings := openTest(t, 10)
	require.NoError(t, b.Add(settings.NewItem(rdf.NewTriple(uri("s"), uri("p"), uri("o")))))

	var buf bytes.Buffer
	require.NoError(t, storage.DumpPage(b, 1, &buf))
	assert.True(t, strings.HasPrefix(buf.String(), "page 1: records=1 deleted=0"), buf.String())
	assert.Contains(t, buf.String(), "<http://example.text/s>")
}
