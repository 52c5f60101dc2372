// Package storage holds the page-organized storage backends: the backend
// contract, the paged backend shared by the in-memory and badger page
// stores, and lazy result concatenation.
package storage

import (
	"errors"

	"github.com/aleksaelezovic/bloomgraph/internal/bloom"
	"github.com/aleksaelezovic/bloomgraph/internal/encoding"
	"github.com/aleksaelezovic/bloomgraph/internal/page"
)

var ErrNoPage = errors.New("storage: no such page")

// Backend is the storage backend contract. Page numbers start at
// PageIndexOrigin.
type Backend interface {
	Find(item *page.Item) (page.Iterator, error)
	// Count is approximate only in the sense that concurrent writers may
	// change it.
	Count(item *page.Item) (int64, error)
	Add(item *page.Item) error
	Delete(item *page.Item) (int, error)

	Page(n int) (page.Page, error)
	PageFilter(n int) (*bloom.Filter, error)
	PageCount() (int, error)
	PageIndexOrigin() int

	// Statistic is Count with failures reported as -1.
	Statistic(item *page.Item) int64
	// Size is the number of live records, saturating at math.MaxInt64.
	Size() int64

	Settings() *page.Settings
	Close() error
}

// Concat chains page cursors. open is called for the next cursor only once
// the current one is exhausted, and returns nil when there are no more.
func Concat(open func() (page.Iterator, error)) page.Iterator {
	return &concatIterator{open: open}
}

type concatIterator struct {
	open func() (page.Iterator, error)
	cur  page.Iterator
	err  error
	done bool
}

func (c *concatIterator) Next() bool {
	for !c.done && c.err == nil {
		if c.cur == nil {
			next, err := c.open()
			if err != nil {
				c.err = err
				return false
			}
			if next == nil {
				c.done = true
				return false
			}
			c.cur = next
		}
		if c.cur.Next() {
			return true
		}
		c.err = c.cur.Err()
		if err := c.cur.Close(); err != nil && c.err == nil {
			c.err = err
		}
		c.cur = nil
	}
	return false
}

func (c *concatIterator) Record() *encoding.Triple {
	if c.cur == nil {
		return nil
	}
	return c.cur.Record()
}

func (c *concatIterator) Err() error {
	return c.err
}

func (c *concatIterator) Close() error {
	c.done = true
	if c.cur == nil {
		return nil
	}
	err := c.cur.Close()
	c.cur = nil
	return err
}
