package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/aleksaelezovic/bloomgraph/internal/bloom"
	"github.com/aleksaelezovic/bloomgraph/internal/encoding"
	"github.com/aleksaelezovic/bloomgraph/internal/page"
	"github.com/aleksaelezovic/bloomgraph/pkg/rdf"
)

// Page is one page table. Records are hard deleted; the statistics keep
// the delete count.
type Page struct {
	id     int
	b      *Backend
	logger *slog.Logger
}

func universal() *rdf.Triple {
	return rdf.NewPattern(nil, nil, nil)
}

func (p *Page) ID() int {
	return p.id
}

// Write inserts item when the page has a free slot.
func (p *Page) Write(item *page.Item) (bool, error) {
	p.b.writeMu.Lock()
	defer p.b.writeMu.Unlock()
	return p.write(item)
}

// write must be called with the backend write lock held.
func (p *Page) write(item *page.Item) (bool, error) {
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

	ctx := context.Background()
	conn, err := p.b.db.Conn(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	stats, err := p.stats(ctx, tx)
	if err != nil {
		return false, err
	}
	if stats.RecordCount-stats.DeleteCount >= p.b.settings.Capacity {
		return false, nil
	}

	settings := p.b.settings
	_, err = tx.ExecContext(ctx, p.b.dialect.TripleInsert(p.id),
		tripleFilter.Weight(), tripleFilter.ApproximateLog(settings.InsertLogDepth),
		rec.Hash(), tripleFilter.Bytes(), rec.Bytes())
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, p.b.dialect.StatsRecord(), rec.Len(), p.id); err != nil {
		return false, err
	}

	filter, err := p.b.pageFilter(ctx, tx, p.id)
	if err != nil {
		return false, err
	}
	if err := filter.Merge(pageFilter); err != nil {
		return false, err
	}
	_, err = tx.ExecContext(ctx, p.b.dialect.UpdatePageIndex(),
		filter.Weight(), filter.ApproximateLog(settings.InsertLogDepth), filter.Bytes(), p.id)
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// query selects the candidate rows for item: a hash lookup for a concrete
// triple, a hamming and log range for a pattern, everything for the
// universal pattern.
func (p *Page) query(ctx context.Context, q rowQueryer, item *page.Item) (*sql.Rows, *bloom.Filter, error) {
	d := p.b.dialect
	if item.IsUniversal() {
		rows, err := q.QueryContext(ctx, d.TripleScan(p.id))
		return rows, nil, err
	}

	target, err := item.TripleFilter()
	if err != nil {
		return nil, nil, err
	}
	if !item.IsPattern() {
		rec, err := item.Record()
		if err != nil {
			return nil, nil, err
		}
		rows, err := q.QueryContext(ctx, d.TripleLookup(p.id), rec.Hash())
		return rows, target, err
	}
	rows, err := q.QueryContext(ctx, d.TripleSearch(p.id),
		target.Weight(), target.ApproximateLog(p.b.settings.SearchLogDepth))
	return rows, target, err
}

// rowQueryer is satisfied by *sql.Conn and *sql.Tx
type rowQueryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// scan reads the current row and returns the record when it passes both
// the filter and the exact comparison.
func (p *Page) scan(rows *sql.Rows, target *bloom.Filter, item *page.Item) (*encoding.Triple, error) {
	var idx int
	var filterBytes, data []byte
	if err := rows.Scan(&idx, &filterBytes, &data); err != nil {
		return nil, err
	}
	if target != nil {
		filter, err := bloom.FromBytes(p.b.settings.TripleFilter.Bits, filterBytes)
		if err != nil {
			return nil, fmt.Errorf("page %d record %d filter: %w", p.id, idx, err)
		}
		if !target.Match(filter) {
			return nil, nil
		}
	}
	rec, err := p.b.settings.Codec.DecodeTriple(data)
	if err != nil {
		return nil, fmt.Errorf("page %d record %d: %w", p.id, idx, err)
	}
	ok, err := item.Matches(rec)
	if err != nil || !ok {
		return nil, err
	}
	encoding.PutIndex(data, int32(idx))
	return rec, nil
}

// Find keeps its connection and result set open until the iterator is
// closed.
func (p *Page) Find(item *page.Item) (page.Iterator, error) {
	ctx := context.Background()
	conn, err := p.b.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, target, err := p.query(ctx, conn, item)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &rowIterator{page: p, conn: conn, rows: rows, target: target, item: item}, nil
}

func (p *Page) Count(item *page.Item) (int64, error) {
	ctx := context.Background()
	if item.IsUniversal() {
		conn, err := p.b.db.Conn(ctx)
		if err != nil {
			return 0, err
		}
		defer conn.Close()
		var n int64
		err = conn.QueryRowContext(ctx, p.b.dialect.TripleCount(p.id)).Scan(&n)
		return n, err
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

// Delete removes the matching rows.
func (p *Page) Delete(item *page.Item) (int, error) {
	p.b.writeMu.Lock()
	defer p.b.writeMu.Unlock()
	return p.delete(item)
}

// delete must be called with the backend write lock held.
func (p *Page) delete(item *page.Item) (int, error) {
	ctx := context.Background()
	conn, err := p.b.db.Conn(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	d := p.b.dialect
	count := 0
	if item.IsUniversal() {
		res, err := tx.ExecContext(ctx, d.TripleTruncate(p.id))
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		count = int(n)
	} else {
		rows, target, err := p.query(ctx, tx, item)
		if err != nil {
			return 0, err
		}
		var hits []int32
		for rows.Next() {
			rec, err := p.scan(rows, target, item)
			if err != nil {
				rows.Close()
				return 0, err
			}
			if rec != nil {
				hits = append(hits, rec.Index())
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return 0, err
		}
		for _, idx := range hits {
			res, err := tx.ExecContext(ctx, d.TripleDelete(p.id), idx)
			if err != nil {
				return 0, err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return 0, err
			}
			count += int(n)
		}
	}

	if count == 0 {
		return 0, nil
	}
	if _, err := tx.ExecContext(ctx, d.StatsDelete(), count, p.id); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	p.logger.Debug("Deleted records", "count", count)
	return count, nil
}

func (p *Page) Statistics() (page.Statistics, error) {
	ctx := context.Background()
	conn, err := p.b.db.Conn(ctx)
	if err != nil {
		return page.Statistics{}, err
	}
	defer conn.Close()
	return p.stats(ctx, conn)
}

func (p *Page) stats(ctx context.Context, q queryer) (page.Statistics, error) {
	var stats page.Statistics
	err := q.QueryRowContext(ctx, p.b.dialect.Stats(), p.id).
		Scan(&stats.RecordCount, &stats.DeleteCount, &stats.DataSize)
	if err != nil {
		return page.Statistics{}, fmt.Errorf("page %d statistics: %w", p.id, err)
	}
	return stats, nil
}

type rowIterator struct {
	page   *Page
	conn   *sql.Conn
	rows   *sql.Rows
	target *bloom.Filter
	item   *page.Item
	cur    *encoding.Triple
	err    error
}

func (r *rowIterator) Next() bool {
	if r.rows == nil || r.err != nil {
		return false
	}
	for r.rows.Next() {
		rec, err := r.page.scan(r.rows, r.target, r.item)
		if err != nil {
			r.err = err
			return false
		}
		if rec != nil {
			r.cur = rec
			return true
		}
	}
	r.err = r.rows.Err()
	r.cur = nil
	return false
}

func (r *rowIterator) Record() *encoding.Triple { return r.cur }
func (r *rowIterator) Err() error               { return r.err }

// Close releases the result set and returns the connection to the pool.
func (r *rowIterator) Close() error {
	if r.rows == nil {
		return nil
	}
	err := r.rows.Close()
	if cerr := r.conn.Close(); err == nil {
		err = cerr
	}
	r.rows = nil
	r.conn = nil
	r.cur = nil
	return err
}
