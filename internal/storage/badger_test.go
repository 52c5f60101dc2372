package storage

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aleksaelezovic/bloomgraph/internal/config"
	"github.com/aleksaelezovic/bloomgraph/internal/page"
	"github.com/aleksaelezovic/bloomgraph/pkg/rdf"
	"github.com/aleksaelezovic/bloomgraph/pkg/store"
)

func newSettings(t *testing.T, capacity int) *page.Settings {
	t.Helper()
	cfg := config.Default()
	cfg.PageCapacity = capacity
	cfg.PageFalsePositive = 1000
	settings, err := page.NewSettings(cfg)
	if err != nil {
		t.Fatalf("failed to create settings: %v", err)
	}
	t.Cleanup(settings.Close)
	return settings
}

func TestBadgerStorageScan(t *testing.T) {
	storage, err := NewBadgerStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	defer storage.Close()

	txn, err := storage.Begin(true)
	if err != nil {
		t.Fatalf("failed to begin: %v", err)
	}
	for _, key := range [][]byte{store.RecordKey(1, 0), store.RecordKey(0, 1), store.RecordKey(0, 0)} {
		if err := txn.Set(store.TableRecords, key, []byte("r")); err != nil {
			t.Fatalf("failed to set: %v", err)
		}
	}
	if err := txn.Set(store.TablePages, store.PageKey(0), []byte("p")); err != nil {
		t.Fatalf("failed to set: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("failed to commit: %v", err)
	}

	ro, err := storage.Begin(false)
	if err != nil {
		t.Fatalf("failed to begin: %v", err)
	}
	defer ro.Rollback()

	if err := ro.Set(store.TableMeta, []byte("k"), nil); !errors.Is(err, store.ErrTransactionRO) {
		t.Errorf("expected ErrTransactionRO, got %v", err)
	}
	if _, err := ro.Get(store.TableMeta, []byte("k")); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	it, err := ro.Scan(store.TableRecords, store.PageKey(0))
	if err != nil {
		t.Fatalf("failed to scan: %v", err)
	}
	var keys []string
	for it.Next() {
		keys = append(keys, fmt.Sprintf("%x", it.Key()))
	}
	it.Close()

	expected := []string{"0000000000000000", "0000000000000001"}
	if fmt.Sprint(keys) != fmt.Sprint(expected) {
		t.Errorf("expected keys %v, got %v", expected, keys)
	}

	it, err = ro.Scan(store.TablePages, nil)
	if err != nil {
		t.Fatalf("failed to scan: %v", err)
	}
	defer it.Close()
	count := 0
	for it.Next() {
		count++
		if id, ok := store.ParsePageKey(it.Key()); !ok || id != 0 {
			t.Errorf("expected page 0, got %d", id)
		}
	}
	if count != 1 {
		t.Errorf("expected 1 page key, got %d", count)
	}
}

func sampleTriples(n int) []*rdf.Triple {
	name := rdf.NewNamedNode("http://xmlns.com/foaf/0.1/name")
	out := make([]*rdf.Triple, n)
	for i := range out {
		out[i] = rdf.NewTriple(
			rdf.NewNamedNode(fmt.Sprintf("http://example.org/person%d", i)),
			name,
			rdf.NewLiteral(fmt.Sprintf("Person %d", i)),
		)
	}
	return out
}

func countAll(t *testing.T, b Backend) int {
	t.Helper()
	it, err := b.Find(b.Settings().NewItem(rdf.NewPattern(nil, nil, nil)))
	if err != nil {
		t.Fatalf("failed to find: %v", err)
	}
	defer it.Close()
	n := 0
	for it.Next() {
		n++
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iteration failed: %v", err)
	}
	return n
}

func TestBadgerBackendReopen(t *testing.T) {
	dir := t.TempDir()
	settings := newSettings(t, 2)
	triples := sampleTriples(5)

	backend, err := NewBadgerBackend(dir, settings)
	if err != nil {
		t.Fatalf("failed to open backend: %v", err)
	}
	id := backend.StoreID()
	if id == "" {
		t.Fatal("expected a store id")
	}
	for _, triple := range triples {
		if err := backend.Add(settings.NewItem(triple)); err != nil {
			t.Fatalf("failed to add: %v", err)
		}
	}
	if n, err := backend.Delete(settings.NewItem(triples[1])); err != nil || n != 1 {
		t.Fatalf("expected 1 deletion, got %d (%v)", n, err)
	}
	if err := backend.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}

	backend, err = NewBadgerBackend(dir, settings)
	if err != nil {
		t.Fatalf("failed to reopen backend: %v", err)
	}
	defer backend.Close()

	if backend.StoreID() != id {
		t.Errorf("expected store id %s, got %s", id, backend.StoreID())
	}
	if pages, _ := backend.PageCount(); pages != 3 {
		t.Errorf("expected 3 pages, got %d", pages)
	}
	if size := backend.Size(); size != 4 {
		t.Errorf("expected size 4, got %d", size)
	}
	if n := countAll(t, backend); n != 4 {
		t.Errorf("expected 4 triples, got %d", n)
	}

	it, err := backend.Find(settings.NewItem(rdf.NewPattern(triples[3].Subject, nil, nil)))
	if err != nil {
		t.Fatalf("failed to find: %v", err)
	}
	defer it.Close()
	if !it.Next() {
		t.Fatalf("expected a match for %s", triples[3].Subject)
	}
	got, err := it.Record().Triple()
	if err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if !got.Equals(triples[3]) {
		t.Errorf("expected %s, got %s", triples[3], got)
	}
	if got := it.Record().Index(); got != 1 {
		t.Errorf("expected record index 1, got %d", got)
	}
	if it.Next() {
		t.Error("expected a single match")
	}

	// the next write lands on the last page, which still has a slot
	if err := backend.Add(settings.NewItem(sampleTriples(6)[5])); err != nil {
		t.Fatalf("failed to add: %v", err)
	}
	if pages, _ := backend.PageCount(); pages != 3 {
		t.Errorf("expected 3 pages, got %d", pages)
	}
}

func TestBadgerBackendRebuildsStaleFilter(t *testing.T) {
	dir := t.TempDir()
	settings := newSettings(t, 10)
	triples := sampleTriples(3)

	storage, err := NewBadgerStorage(dir)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	backend, err := NewKVBackend(storage, settings)
	if err != nil {
		t.Fatalf("failed to open backend: %v", err)
	}
	for _, triple := range triples {
		if err := backend.Add(settings.NewItem(triple)); err != nil {
			t.Fatalf("failed to add: %v", err)
		}
	}
	// close the database without flushing the page filters
	if err := storage.Close(); err != nil {
		t.Fatalf("failed to close storage: %v", err)
	}

	backend, err = NewBadgerBackend(dir, settings)
	if err != nil {
		t.Fatalf("failed to reopen backend: %v", err)
	}
	defer backend.Close()

	for _, triple := range triples {
		n, err := backend.Count(settings.NewItem(rdf.NewPattern(triple.Subject, nil, nil)))
		if err != nil {
			t.Fatalf("failed to count: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 match for %s, got %d", triple.Subject, n)
		}
	}
}

func TestBadgerBackendGeometryMismatch(t *testing.T) {
	dir := t.TempDir()

	backend, err := NewBadgerBackend(dir, newSettings(t, 10))
	if err != nil {
		t.Fatalf("failed to open backend: %v", err)
	}
	if err := backend.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}

	_, err = NewBadgerBackend(dir, newSettings(t, 20))
	if !errors.Is(err, ErrIncompatible) {
		t.Errorf("expected ErrIncompatible, got %v", err)
	}
}
