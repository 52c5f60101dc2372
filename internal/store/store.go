package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/aleksaelezovic/bloomgraph/internal/config"
	"github.com/aleksaelezovic/bloomgraph/internal/logging"
	"github.com/aleksaelezovic/bloomgraph/internal/page"
	"github.com/aleksaelezovic/bloomgraph/internal/storage"
	"github.com/aleksaelezovic/bloomgraph/internal/storage/sqlstore"
	"github.com/aleksaelezovic/bloomgraph/pkg/rdf"
)

var (
	// ErrStorage is the single failure reported for any backend error. The
	// backend detail is logged, not returned.
	ErrStorage = errors.New("storage failure")

	// ErrNotTriple rejects a pattern where a concrete triple is required.
	ErrNotTriple = errors.New("wildcards cannot be stored")
)

// BloomGraph is a set of triples kept in bloom-indexed pages.
type BloomGraph struct {
	backend  storage.Backend
	settings *page.Settings
	owned    bool

	// mu makes the existence check and the add one step
	mu sync.Mutex

	logger *slog.Logger
}

// New creates a graph over backend. The caller keeps ownership of the
// backend settings.
func New(backend storage.Backend) *BloomGraph {
	return &BloomGraph{
		backend:  backend,
		settings: backend.Settings(),
		logger:   logging.WithComponent("store"),
	}
}

// Open creates a graph with the backend named by cfg.
func Open(cfg config.Config) (*BloomGraph, error) {
	settings, err := page.NewSettings(cfg)
	if err != nil {
		return nil, err
	}

	backend, err := openBackend(cfg, settings)
	if err != nil {
		settings.Close()
		return nil, err
	}

	g := New(backend)
	g.owned = true
	g.logger.Info("Opened graph", "backend", cfg.Backend, "page_capacity", cfg.PageCapacity)
	return g, nil
}

func openBackend(cfg config.Config, settings *page.Settings) (storage.Backend, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return storage.NewMemoryBackend(settings), nil
	case config.BackendBadger:
		b, err := storage.NewBadgerBackend(cfg.Path, settings)
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.BackendSQLite:
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, err
		}
		b, err := sqlstore.Open(filepath.Join(cfg.Path, "bloomgraph.db"), settings)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", config.ErrInvalid, cfg.Backend)
	}
}

// Backend exposes the storage backend for diagnostics.
func (g *BloomGraph) Backend() storage.Backend {
	return g.backend
}

// fail logs err and returns the opaque storage error for op.
func (g *BloomGraph) fail(op string, err error) error {
	g.logger.Error("Backend failure", "op", op, "error", err)
	return fmt.Errorf("%w: %s", ErrStorage, op)
}

// Add inserts triple unless an equal triple is already present.
func (g *BloomGraph) Add(triple *rdf.Triple) error {
	item := g.settings.NewItem(triple)
	if item.IsPattern() {
		return fmt.Errorf("%w: %s", ErrNotTriple, triple)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	found, err := g.contains(item)
	if err != nil {
		return g.fail("add", err)
	}
	if found {
		return nil
	}
	if err := g.backend.Add(item); err != nil {
		return g.fail("add", err)
	}
	return nil
}

// Delete removes every triple matching pattern and returns how many.
func (g *BloomGraph) Delete(pattern *rdf.Triple) (int, error) {
	n, err := g.backend.Delete(g.settings.NewItem(pattern))
	if err != nil {
		return n, g.fail("delete", err)
	}
	return n, nil
}

// Clear deletes everything.
func (g *BloomGraph) Clear() error {
	_, err := g.Delete(rdf.NewPattern(nil, nil, nil))
	return err
}

// Find returns a fresh single-pass iterator over the triples matching
// pattern. The iterator must be closed.
func (g *BloomGraph) Find(pattern *rdf.Triple) (TripleIterator, error) {
	it, err := g.backend.Find(g.settings.NewItem(pattern))
	if err != nil {
		return nil, g.fail("find", err)
	}
	return &tripleIterator{it: it, g: g}, nil
}

// Contains reports whether an equal triple is stored.
func (g *BloomGraph) Contains(triple *rdf.Triple) (bool, error) {
	found, err := g.contains(g.settings.NewItem(triple))
	if err != nil {
		return false, g.fail("contains", err)
	}
	return found, nil
}

func (g *BloomGraph) contains(item *page.Item) (bool, error) {
	it, err := g.backend.Find(item)
	if err != nil {
		return false, err
	}
	defer it.Close()
	if it.Next() {
		return true, nil
	}
	return false, it.Err()
}

// Size is the approximate number of stored triples.
func (g *BloomGraph) Size() int64 {
	return g.backend.Size()
}

// Statistic estimates the number of triples matching (s, p, o); nil
// positions are wildcards. It returns -1 when unknown.
func (g *BloomGraph) Statistic(s, p, o rdf.Term) int64 {
	return g.backend.Statistic(g.settings.NewItem(rdf.NewPattern(s, p, o)))
}

// Statistics returns the graph's statistics handler.
func (g *BloomGraph) Statistics() StatisticsHandler {
	return g
}

// Capabilities describes what the graph supports.
func (g *BloomGraph) Capabilities() Capabilities {
	return capabilities
}

func (g *BloomGraph) Close() error {
	err := g.backend.Close()
	if g.owned {
		g.settings.Close()
	}
	if err != nil {
		return g.fail("close", err)
	}
	return nil
}
