package page

import (
	"fmt"
	"sync"

	"github.com/aleksaelezovic/bloomgraph/internal/bloom"
	"github.com/aleksaelezovic/bloomgraph/internal/config"
	"github.com/aleksaelezovic/bloomgraph/internal/encoding"
	"github.com/aleksaelezovic/bloomgraph/pkg/rdf"
)

// Settings is the page geometry shared by every page of a store.
type Settings struct {
	Capacity       int
	TripleFilter   bloom.Config
	PageFilter     bloom.Config
	InsertLogDepth int
	SearchLogDepth int
	Codec          *encoding.Codec
}

// NewSettings derives page settings from cfg.
func NewSettings(cfg config.Config) (*Settings, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tripleFilter, err := cfg.TripleFilter()
	if err != nil {
		return nil, err
	}
	pageFilter, err := cfg.PageFilter()
	if err != nil {
		return nil, err
	}
	codec, err := encoding.NewCodec(cfg.MaxLiteralBytes, cfg.TermCacheBytes)
	if err != nil {
		return nil, err
	}
	return &Settings{
		Capacity:       cfg.PageCapacity,
		TripleFilter:   tripleFilter,
		PageFilter:     pageFilter,
		InsertLogDepth: cfg.InsertLogDepth,
		SearchLogDepth: cfg.SearchLogDepth,
		Codec:          codec,
	}, nil
}

// Close releases the codec cache.
func (s *Settings) Close() {
	s.Codec.Close()
}

// NewItem wraps a triple or pattern for searching and writing. Nil
// positions are treated as wildcards.
func (s *Settings) NewItem(t *rdf.Triple) *Item {
	return &Item{settings: s, triple: rdf.NewPattern(t.Subject, t.Predicate, t.Object)}
}

// Item carries a triple together with its encoded record and both filters,
// each computed on first use.
type Item struct {
	settings *Settings
	triple   *rdf.Triple

	record       lazy[*encoding.Triple]
	tripleFilter lazy[*bloom.Filter]
	pageFilter   lazy[*bloom.Filter]
}

func (it *Item) Triple() *rdf.Triple {
	return it.triple
}

// IsUniversal reports whether all three positions are wildcards.
func (it *Item) IsUniversal() bool {
	return it.triple.IsUniversal()
}

// IsPattern reports whether any position is a wildcard.
func (it *Item) IsPattern() bool {
	return it.triple.IsPattern()
}

func (it *Item) Record() (*encoding.Triple, error) {
	return it.record.get(func() (*encoding.Triple, error) {
		rec, err := it.settings.Codec.EncodeTriple(it.triple)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", it.triple, err)
		}
		return rec, nil
	})
}

// TripleFilter is sized for a single record.
func (it *Item) TripleFilter() (*bloom.Filter, error) {
	return it.tripleFilter.get(func() (*bloom.Filter, error) {
		rec, err := it.Record()
		if err != nil {
			return nil, err
		}
		return bloom.ForTriple(it.settings.TripleFilter, rec)
	})
}

// PageFilter is sized for a page aggregate.
func (it *Item) PageFilter() (*bloom.Filter, error) {
	return it.pageFilter.get(func() (*bloom.Filter, error) {
		rec, err := it.Record()
		if err != nil {
			return nil, err
		}
		return bloom.ForTriple(it.settings.PageFilter, rec)
	})
}

// Matches applies the exact comparison that follows a filter hit: rec must
// equal item on every bound position.
func (it *Item) Matches(rec *encoding.Triple) (bool, error) {
	if it.IsUniversal() {
		return true, nil
	}
	pattern, err := it.Record()
	if err != nil {
		return false, err
	}
	return rec.Matches(pattern)
}

type lazy[T any] struct {
	once sync.Once
	v    T
	err  error
}

func (l *lazy[T]) get(f func() (T, error)) (T, error) {
	l.once.Do(func() {
		l.v, l.err = f()
	})
	return l.v, l.err
}
