package sqlstore

import (
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLite is the Dialect for modernc.org/sqlite. Page tables are named
// page_<id>; AUTOINCREMENT numbers both pages and records from 1.
type SQLite struct{}

func (SQLite) DriverName() string {
	return "sqlite"
}

func (SQLite) DSN(path string) string {
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func (SQLite) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS store_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			store_id TEXT NOT NULL,
			capacity INTEGER NOT NULL,
			triple_bits INTEGER NOT NULL,
			triple_hashes INTEGER NOT NULL,
			page_bits INTEGER NOT NULL,
			page_hashes INTEGER NOT NULL,
			insert_depth INTEGER NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS page_index (
			idx INTEGER PRIMARY KEY AUTOINCREMENT,
			hamming INTEGER NOT NULL,
			log REAL NOT NULL,
			bloom BLOB NOT NULL)`,
		`CREATE INDEX IF NOT EXISTS page_index_ham ON page_index (hamming, log)`,
		`CREATE TABLE IF NOT EXISTS page_stats (
			idx INTEGER PRIMARY KEY,
			records INTEGER NOT NULL DEFAULT 0,
			deletes INTEGER NOT NULL DEFAULT 0,
			bytes INTEGER NOT NULL DEFAULT 0)`,
	}
}

func (SQLite) MetaSelect() string {
	return `SELECT store_id, capacity, triple_bits, triple_hashes, page_bits, page_hashes, insert_depth
		FROM store_meta WHERE id = 1`
}

func (SQLite) MetaInsert() string {
	return `INSERT INTO store_meta
		(id, store_id, capacity, triple_bits, triple_hashes, page_bits, page_hashes, insert_depth)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)`
}

func (SQLite) CreatePage(id int) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE page_%d (
			idx INTEGER PRIMARY KEY AUTOINCREMENT,
			hamming INTEGER NOT NULL,
			log REAL NOT NULL,
			hash INTEGER NOT NULL,
			bloom BLOB NOT NULL,
			data BLOB NOT NULL)`, id),
		fmt.Sprintf(`CREATE INDEX page_%d_hash ON page_%d (hash)`, id, id),
		fmt.Sprintf(`CREATE INDEX page_%d_ham ON page_%d (hamming, log)`, id, id),
	}
}

func (SQLite) InsertPageIndex() string {
	return `INSERT INTO page_index (hamming, log, bloom) VALUES (?, ?, ?)`
}

func (SQLite) InsertPageStats() string {
	return `INSERT INTO page_stats (idx, records, deletes, bytes) VALUES (?, 0, 0, 0)`
}

func (SQLite) UpdatePageIndex() string {
	return `UPDATE page_index SET hamming = ?, log = ?, bloom = ? WHERE idx = ?`
}

func (SQLite) PageIndexSearch() string {
	return `SELECT idx, bloom FROM page_index WHERE hamming >= ? AND log >= ? ORDER BY idx`
}

func (SQLite) PageIndexScan() string {
	return `SELECT idx, bloom FROM page_index ORDER BY idx`
}

func (SQLite) PageFilter() string {
	return `SELECT bloom FROM page_index WHERE idx = ?`
}

// BestPage picks the page with the fewest free slots, then the least
// overflow, then the lowest id, among pages that still have room. Deleted
// records free their slots.
func (SQLite) BestPage() string {
	return `SELECT idx FROM (
			SELECT idx, records - ? AS overs, ? - records + deletes AS free FROM page_stats)
		WHERE free > 0
		ORDER BY free ASC, overs ASC, idx ASC
		LIMIT 1`
}

func (SQLite) PageCount() string {
	return `SELECT COUNT(*) FROM page_stats`
}

func (SQLite) PageExists() string {
	return `SELECT COUNT(*) FROM page_stats WHERE idx = ?`
}

func (SQLite) RecordCount() string {
	return `SELECT COALESCE(SUM(records - deletes), 0) FROM page_stats`
}

func (SQLite) Stats() string {
	return `SELECT records, deletes, bytes FROM page_stats WHERE idx = ?`
}

func (SQLite) StatsRecord() string {
	return `UPDATE page_stats SET records = records + 1, bytes = bytes + ? WHERE idx = ?`
}

func (SQLite) StatsDelete() string {
	return `UPDATE page_stats SET deletes = deletes + ? WHERE idx = ?`
}

func (SQLite) TripleInsert(page int) string {
	return fmt.Sprintf(`INSERT INTO page_%d (hamming, log, hash, bloom, data) VALUES (?, ?, ?, ?, ?)`, page)
}

func (SQLite) TripleSearch(page int) string {
	return fmt.Sprintf(`SELECT idx, bloom, data FROM page_%d WHERE hamming >= ? AND log >= ? ORDER BY idx`, page)
}

func (SQLite) TripleLookup(page int) string {
	return fmt.Sprintf(`SELECT idx, bloom, data FROM page_%d WHERE hash = ? ORDER BY idx`, page)
}

func (SQLite) TripleScan(page int) string {
	return fmt.Sprintf(`SELECT idx, bloom, data FROM page_%d ORDER BY idx`, page)
}

func (SQLite) TripleDelete(page int) string {
	return fmt.Sprintf(`DELETE FROM page_%d WHERE idx = ?`, page)
}

// TripleTruncate uses a plain DELETE; SQLite has no TRUNCATE.
func (SQLite) TripleTruncate(page int) string {
	return fmt.Sprintf(`DELETE FROM page_%d`, page)
}

func (SQLite) TripleCount(page int) string {
	return fmt.Sprintf(`SELECT COUNT(*) FROM page_%d`, page)
}
