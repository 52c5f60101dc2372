// Package sqlstore is the relational storage backend. Pages are tables;
// the page index and page statistics are two more tables. All statement
// text comes from a Dialect.
package sqlstore

// Dialect supplies the SQL for one database engine. Page ids passed to the
// page statement builders are always ids the page index handed out.
type Dialect interface {
	// DriverName is the database/sql driver to open.
	DriverName() string
	// DSN turns a path into a data source name.
	DSN(path string) string

	// Schema creates the meta, page index and statistics tables if missing.
	Schema() []string
	// MetaSelect returns (store id, capacity, triple bits, triple hashes,
	// page bits, page hashes, insert log depth).
	MetaSelect() string
	// MetaInsert takes the same columns MetaSelect returns.
	MetaInsert() string
	// CreatePage creates the record table of a page.
	CreatePage(id int) []string

	// InsertPageIndex takes (hamming, log, bloom) and yields the page id
	// through LastInsertId.
	InsertPageIndex() string
	// InsertPageStats takes (idx).
	InsertPageStats() string
	// UpdatePageIndex takes (hamming, log, bloom, idx).
	UpdatePageIndex() string
	// PageIndexSearch takes (hamming, log) and returns (idx, bloom) in id
	// order for every page that may superset-match.
	PageIndexSearch() string
	// PageIndexScan returns (idx, bloom) for every page in id order.
	PageIndexScan() string
	// PageFilter takes (idx) and returns bloom.
	PageFilter() string

	// BestPage takes (capacity, capacity) and returns the idx of the page
	// to write next, if any has room: fewest free slots first, then least
	// overflow, then lowest id.
	BestPage() string
	// PageCount returns the number of pages.
	PageCount() string
	// PageExists takes (idx) and returns a count.
	PageExists() string
	// RecordCount returns the live records over all pages.
	RecordCount() string

	// Stats takes (idx) and returns (records, deletes, bytes).
	Stats() string
	// StatsRecord takes (bytes, idx).
	StatsRecord() string
	// StatsDelete takes (count, idx).
	StatsDelete() string

	// TripleInsert takes (hamming, log, hash, bloom, data).
	TripleInsert(page int) string
	// TripleSearch takes (hamming, log) and returns (idx, bloom, data).
	TripleSearch(page int) string
	// TripleLookup takes (hash) and returns (idx, bloom, data).
	TripleLookup(page int) string
	// TripleScan returns (idx, bloom, data) for every record.
	TripleScan(page int) string
	// TripleDelete takes (idx).
	TripleDelete(page int) string
	// TripleTruncate removes every record of a page.
	TripleTruncate(page int) string
	// TripleCount returns the number of records.
	TripleCount(page int) string
}
