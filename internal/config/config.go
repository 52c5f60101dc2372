// Package config holds the engine settings shared by every backend.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/aleksaelezovic/bloomgraph/internal/bloom"
)

// Backend names
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// TripleItems is the number of terms a triple filter is sized for.
const TripleItems = 3

var ErrInvalid = errors.New("config: invalid setting")

// Config holds engine settings
type Config struct {
	// PageCapacity is the number of records a page accepts.
	PageCapacity int
	// PageFalsePositive is the 1/p rate the page filter is sized for.
	PageFalsePositive int
	// TripleFalsePositive is the 1/p rate the per-record filter is sized for.
	TripleFalsePositive int
	// MaxLiteralBytes is the literal payload size above which it is compressed.
	MaxLiteralBytes int
	// TermCacheBytes bounds the decoded literal cache; 0 disables it.
	TermCacheBytes int64
	// InsertLogDepth and SearchLogDepth are the ApproximateLog depths used
	// when storing filters and when pruning with them.
	InsertLogDepth int
	SearchLogDepth int

	Backend  string
	Path     string
	LogLevel string
}

// Default returns the standard settings
func Default() Config {
	return Config{
		PageCapacity:        10000,
		PageFalsePositive:   100000,
		TripleFalsePositive: 100000,
		MaxLiteralBytes:     1024,
		TermCacheBytes:      16 << 20,
		InsertLogDepth:      3,
		SearchLogDepth:      1,
		Backend:             BackendMemory,
		Path:                "./bloomgraph_data",
		LogLevel:            "info",
	}
}

// Validate checks ranges and derives both filter configs to catch overflow early.
func (c Config) Validate() error {
	if c.PageCapacity <= 0 {
		return fmt.Errorf("%w: page capacity %d", ErrInvalid, c.PageCapacity)
	}
	if c.MaxLiteralBytes <= 0 {
		return fmt.Errorf("%w: max literal bytes %d", ErrInvalid, c.MaxLiteralBytes)
	}
	if c.TermCacheBytes < 0 {
		return fmt.Errorf("%w: term cache bytes %d", ErrInvalid, c.TermCacheBytes)
	}
	if c.InsertLogDepth < 0 || c.SearchLogDepth < 0 {
		return fmt.Errorf("%w: log depth must not be negative", ErrInvalid)
	}
	// a stored key computed deeper than the search key never prunes a match
	if c.SearchLogDepth > c.InsertLogDepth {
		return fmt.Errorf("%w: search log depth %d exceeds insert log depth %d", ErrInvalid, c.SearchLogDepth, c.InsertLogDepth)
	}
	switch c.Backend {
	case BackendMemory, BackendBadger, BackendSQLite:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalid, c.Backend)
	}
	if _, err := c.TripleFilter(); err != nil {
		return err
	}
	if _, err := c.PageFilter(); err != nil {
		return err
	}
	return nil
}

// TripleFilter is the per-record filter shape.
func (c Config) TripleFilter() (bloom.Config, error) {
	return bloom.NewConfig(TripleItems, c.TripleFalsePositive)
}

// PageFilter is the page aggregate filter shape.
func (c Config) PageFilter() (bloom.Config, error) {
	return bloom.NewConfig(c.PageCapacity, c.PageFalsePositive)
}

// FromEnv applies BLOOMGRAPH_* variables over c.
func FromEnv(c Config) (Config, error) {
	ints := []struct {
		name string
		dst  *int
	}{
		{"BLOOMGRAPH_PAGE_CAPACITY", &c.PageCapacity},
		{"BLOOMGRAPH_PAGE_FALSE_POSITIVE", &c.PageFalsePositive},
		{"BLOOMGRAPH_TRIPLE_FALSE_POSITIVE", &c.TripleFalsePositive},
		{"BLOOMGRAPH_MAX_LITERAL_BYTES", &c.MaxLiteralBytes},
		{"BLOOMGRAPH_INSERT_LOG_DEPTH", &c.InsertLogDepth},
		{"BLOOMGRAPH_SEARCH_LOG_DEPTH", &c.SearchLogDepth},
	}
	for _, v := range ints {
		s, ok := os.LookupEnv(v.name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return c, fmt.Errorf("%w: %s=%q", ErrInvalid, v.name, s)
		}
		*v.dst = n
	}

	if s, ok := os.LookupEnv("BLOOMGRAPH_TERM_CACHE_BYTES"); ok {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return c, fmt.Errorf("%w: BLOOMGRAPH_TERM_CACHE_BYTES=%q", ErrInvalid, s)
		}
		c.TermCacheBytes = n
	}
	if s, ok := os.LookupEnv("BLOOMGRAPH_BACKEND"); ok {
		c.Backend = s
	}
	if s, ok := os.LookupEnv("BLOOMGRAPH_PATH"); ok {
		c.Path = s
	}
	if s, ok := os.LookupEnv("BLOOMGRAPH_LOG_LEVEL"); ok {
		c.LogLevel = s
	}
	return c, c.Validate()
}
