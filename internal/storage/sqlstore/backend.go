package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aleksaelezovic/bloomgraph/internal/bloom"
	"github.com/aleksaelezovic/bloomgraph/internal/logging"
	"github.com/aleksaelezovic/bloomgraph/internal/page"
	"github.com/aleksaelezovic/bloomgraph/internal/storage"
	"github.com/google/uuid"
)

// Backend stores pages in a relational database. Every operation checks
// out its own connection from the pool and returns it before returning,
// except Find, whose iterator keeps its connection until closed.
type Backend struct {
	db       *sql.DB
	dialect  Dialect
	settings *page.Settings
	storeID  string

	// writeMu serializes writers: page selection, inserts and deletes
	writeMu sync.Mutex

	logger *slog.Logger
}

// Open opens or creates an SQLite store at path.
func Open(path string, settings *page.Settings) (*Backend, error) {
	return OpenDialect(SQLite{}, path, settings)
}

// OpenDialect opens path with dialect and creates the schema.
func OpenDialect(dialect Dialect, path string, settings *page.Settings) (*Backend, error) {
	db, err := sql.Open(dialect.DriverName(), dialect.DSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect.DriverName(), err)
	}
	b, err := New(db, dialect, settings)
	if err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// New wraps an open database. The backend owns db and closes it on Close.
func New(db *sql.DB, dialect Dialect, settings *page.Settings) (*Backend, error) {
	b := &Backend{
		db:       db,
		dialect:  dialect,
		settings: settings,
		logger:   logging.WithComponent("sqlstore"),
	}

	ctx := context.Background()
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	for _, stmt := range dialect.Schema() {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	meta, err := b.openMeta(ctx, conn)
	if err != nil {
		return nil, err
	}
	b.storeID = meta.ID
	b.logger = logging.WithStore(b.logger, meta.ID)

	var pages int
	if err := conn.QueryRowContext(ctx, dialect.PageCount()).Scan(&pages); err != nil {
		return nil, err
	}
	b.logger.Info("Opened store", "driver", dialect.DriverName(), "pages", pages)
	return b, nil
}

// storeMeta is the geometry a store was built with. Stored filters and the
// hamming and log columns are only comparable under the same geometry.
type storeMeta struct {
	ID             string
	Capacity       int
	TripleBits     int
	TripleHashes   int
	PageBits       int
	PageHashes     int
	InsertLogDepth int
}

// openMeta records the geometry of a new store, or checks the configured
// one against it.
func (b *Backend) openMeta(ctx context.Context, conn *sql.Conn) (*storeMeta, error) {
	s := b.settings
	want := storeMeta{
		Capacity:       s.Capacity,
		TripleBits:     s.TripleFilter.Bits,
		TripleHashes:   s.TripleFilter.Hashes,
		PageBits:       s.PageFilter.Bits,
		PageHashes:     s.PageFilter.Hashes,
		InsertLogDepth: s.InsertLogDepth,
	}

	var meta storeMeta
	err := conn.QueryRowContext(ctx, b.dialect.MetaSelect()).Scan(&meta.ID, &meta.Capacity,
		&meta.TripleBits, &meta.TripleHashes, &meta.PageBits, &meta.PageHashes, &meta.InsertLogDepth)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		want.ID = uuid.NewString()
		_, err := conn.ExecContext(ctx, b.dialect.MetaInsert(), want.ID, want.Capacity,
			want.TripleBits, want.TripleHashes, want.PageBits, want.PageHashes, want.InsertLogDepth)
		if err != nil {
			return nil, fmt.Errorf("failed to create store: %w", err)
		}
		return &want, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read store metadata: %w", err)
	}

	want.ID = meta.ID
	if meta != want {
		return nil, fmt.Errorf("%w: %+v, configured %+v", storage.ErrIncompatible, meta, want)
	}
	// log >= ? pruning needs the stored logs to be at least as deep as the search
	if s.SearchLogDepth > meta.InsertLogDepth {
		return nil, fmt.Errorf("%w: search log depth %d exceeds stored insert depth %d",
			storage.ErrIncompatible, s.SearchLogDepth, meta.InsertLogDepth)
	}
	return &meta, nil
}

// StoreID is the identity minted when the store was created.
func (b *Backend) StoreID() string {
	return b.storeID
}

func (b *Backend) Settings() *page.Settings {
	return b.settings
}

func (b *Backend) PageIndexOrigin() int {
	return 1
}

// Add writes item to the best page, creating one when none has room.
func (b *Backend) Add(item *page.Item) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if err := b.add(context.Background(), item); err != nil {
		return b.fail("add", err)
	}
	return nil
}

// add must be called with writeMu held.
func (b *Backend) add(ctx context.Context, item *page.Item) error {
	id, err := b.bestPage(ctx)
	if err != nil {
		return err
	}
	if id > 0 {
		written, err := b.page(id).write(item)
		if err != nil {
			return err
		}
		if written {
			return nil
		}
	}

	id, err = b.createPage(ctx)
	if err != nil {
		return err
	}
	written, err := b.page(id).write(item)
	if err != nil {
		return err
	}
	if !written {
		return fmt.Errorf("%w: page %d", page.ErrPageRejected, id)
	}
	return nil
}

// bestPage returns 0 when no page has room.
func (b *Backend) bestPage(ctx context.Context) (int, error) {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	var id int
	capacity := b.settings.Capacity
	err = conn.QueryRowContext(ctx, b.dialect.BestPage(), capacity, capacity).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

func (b *Backend) createPage(ctx context.Context) (int, error) {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	empty := bloom.NewFromConfig(b.settings.PageFilter)
	res, err := tx.ExecContext(ctx, b.dialect.InsertPageIndex(), 0, 0.0, empty.Bytes())
	if err != nil {
		return 0, fmt.Errorf("failed to create page: %w", err)
	}
	id64, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	id := int(id64)

	if _, err := tx.ExecContext(ctx, b.dialect.InsertPageStats(), id); err != nil {
		return 0, fmt.Errorf("failed to create page %d statistics: %w", id, err)
	}
	for _, stmt := range b.dialect.CreatePage(id) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("failed to create page %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	b.logger.Debug("Allocated page", "page_id", id)
	return id, nil
}

// candidates returns the ids of the pages whose filter may hold item.
func (b *Backend) candidates(ctx context.Context, item *page.Item) ([]int, error) {
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var target *bloom.Filter
	var rows *sql.Rows
	if item.IsUniversal() {
		rows, err = conn.QueryContext(ctx, b.dialect.PageIndexScan())
	} else {
		if target, err = item.PageFilter(); err != nil {
			return nil, err
		}
		rows, err = conn.QueryContext(ctx, b.dialect.PageIndexSearch(),
			target.Weight(), target.ApproximateLog(b.settings.SearchLogDepth))
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		if target != nil {
			filter, err := bloom.FromBytes(b.settings.PageFilter.Bits, data)
			if err != nil {
				return nil, fmt.Errorf("page %d filter: %w", id, err)
			}
			if !target.Match(filter) {
				continue
			}
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (b *Backend) Find(item *page.Item) (page.Iterator, error) {
	ids, err := b.candidates(context.Background(), item)
	if err != nil {
		return nil, b.fail("find", err)
	}
	return storage.Concat(func() (page.Iterator, error) {
		if len(ids) == 0 {
			return nil, nil
		}
		id := ids[0]
		ids = ids[1:]
		return b.page(id).Find(item)
	}), nil
}

func (b *Backend) Count(item *page.Item) (int64, error) {
	n, err := b.count(item)
	if err != nil {
		return 0, b.fail("count", err)
	}
	return n, nil
}

func (b *Backend) count(item *page.Item) (int64, error) {
	ctx := context.Background()
	if item.IsUniversal() {
		conn, err := b.db.Conn(ctx)
		if err != nil {
			return 0, err
		}
		defer conn.Close()
		var n int64
		err = conn.QueryRowContext(ctx, b.dialect.RecordCount()).Scan(&n)
		return n, err
	}

	ids, err := b.candidates(ctx, item)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, id := range ids {
		n, err := b.page(id).Count(item)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func (b *Backend) Delete(item *page.Item) (int, error) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	ids, err := b.candidates(context.Background(), item)
	if err != nil {
		return 0, b.fail("delete", err)
	}
	total := 0
	for _, id := range ids {
		n, err := b.page(id).delete(item)
		total += n
		if err != nil {
			return total, b.fail("delete", err)
		}
	}
	return total, nil
}

func (b *Backend) Statistic(item *page.Item) int64 {
	n, err := b.count(item)
	if err != nil {
		b.logger.Warn("Statistic unavailable", "pattern", item.Triple().String(), "error", err)
		return -1
	}
	return n
}

// Size is -1 when the statistics table cannot be read.
func (b *Backend) Size() int64 {
	n, err := b.count(b.settings.NewItem(universal()))
	if err != nil {
		b.logger.Warn("Size unavailable", "error", err)
		return -1
	}
	return n
}

func (b *Backend) page(id int) *Page {
	return &Page{id: id, b: b, logger: logging.WithPage(b.logger, id)}
}

// Page returns page n if it exists. Writes and deletes through the page
// take the backend write lock.
func (b *Backend) Page(n int) (page.Page, error) {
	ctx := context.Background()
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return nil, b.fail("page", err)
	}
	defer conn.Close()

	var count int
	if err := conn.QueryRowContext(ctx, b.dialect.PageExists(), n).Scan(&count); err != nil {
		return nil, b.fail("page", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: %d", storage.ErrNoPage, n)
	}
	return b.page(n), nil
}

func (b *Backend) PageFilter(n int) (*bloom.Filter, error) {
	ctx := context.Background()
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return nil, b.fail("page filter", err)
	}
	defer conn.Close()
	return b.pageFilter(ctx, conn, n)
}

// queryer is satisfied by *sql.Conn and *sql.Tx
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (b *Backend) pageFilter(ctx context.Context, q queryer, n int) (*bloom.Filter, error) {
	var data []byte
	err := q.QueryRowContext(ctx, b.dialect.PageFilter(), n).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", storage.ErrNoPage, n)
	}
	if err != nil {
		return nil, err
	}
	return bloom.FromBytes(b.settings.PageFilter.Bits, data)
}

func (b *Backend) PageCount() (int, error) {
	ctx := context.Background()
	conn, err := b.db.Conn(ctx)
	if err != nil {
		return 0, b.fail("page count", err)
	}
	defer conn.Close()

	var n int
	if err := conn.QueryRowContext(ctx, b.dialect.PageCount()).Scan(&n); err != nil {
		return 0, b.fail("page count", err)
	}
	return n, nil
}

func (b *Backend) Close() error {
	b.logger.Info("Closing store")
	return b.db.Close()
}

// fail logs an error before an exported method returns it. Statistic and
// Size log their own failures at Warn.
func (b *Backend) fail(op string, err error) error {
	b.logger.Error("Database operation failed", "op", op, "error", err)
	return err
}

var _ storage.Backend = (*Backend)(nil)
