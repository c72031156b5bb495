package buffer

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// SQLite is a FIFO persisted in a sqlite table, so undelivered items survive
// restarts. In soft delete mode delivered and evicted rows are marked
// processed instead of removed.
type SQLite struct {
	name     string
	table    string
	mode     DeleteMode
	capacity int
	log      zerolog.Logger
	metrics  *bufferMetrics

	mu     sync.Mutex
	db     *sql.DB
	size   int
	peeked int64
	closed bool
}

// dataSource turns a file path into a sqlite URI. Characters that would start
// a query or fragment are escaped so they stay part of the file name.
func dataSource(path string) string {
	return (&url.URL{Scheme: "file", Path: path, OmitHost: true}).String()
}

// OpenSQLite opens (creating if needed) the database at cfg.Path.
func OpenSQLite(name string, cfg Config, log zerolog.Logger) (*SQLite, error) {
	cfg.Type = KindSQLite
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating buffer dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dataSource(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	b := &SQLite{
		name:     name,
		table:    cfg.Table,
		mode:     cfg.DeleteMode,
		capacity: cfg.MaxItems,
		log:      log.With().Str("component", "buffer").Str("buffer", name).Logger(),
		metrics:  newBufferMetrics(),
		db:       db,
	}

	if err := b.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing buffer schema: %w", err)
	}

	if err := b.db.QueryRow(b.q(`SELECT COUNT(*) FROM %s WHERE processed = 0`)).Scan(&b.size); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("counting pending items: %w", err)
	}

	b.log.Info().
		Str("path", cfg.Path).
		Str("delete_mode", string(b.mode)).
		Int("pending", b.size).
		Msg("Persistent buffer opened")

	return b, nil
}

func (b *SQLite) initSchema() error {
	schema := b.q(`
CREATE TABLE IF NOT EXISTS %[1]s (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    payload     BLOB NOT NULL,
    created_at  INTEGER NOT NULL,
    processed   INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_processed ON %[1]s(processed, id);
`)
	_, err := b.db.Exec(schema)
	return err
}

// q substitutes the table name. Table names are validated in Config.Validate.
func (b *SQLite) q(format string) string {
	return fmt.Sprintf(format, b.table)
}

// Store inserts item, evicting the oldest pending row first when full.
func (b *SQLite) Store(item []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	ctx := context.Background()
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("SQL begin transaction: %w", err)
	}

	var evicted int
	if b.size >= b.capacity {
		if evicted, err = b.removeOldest(ctx, tx, 1, -1); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("evicting oldest item: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		b.q(`INSERT INTO %s (payload, created_at) VALUES (?, ?)`),
		item, time.Now().UnixMilli(),
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	b.size += 1 - evicted
	if evicted > 0 {
		b.metrics.recordEviction(b.name, KindSQLite)
		b.log.Warn().Int("capacity", b.capacity).Msg("Buffer full, dropped oldest item")
	}
	return nil
}

// Peek returns up to n oldest pending items.
func (b *SQLite) Peek(n int) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if n <= 0 {
		return nil, nil
	}

	rows, err := b.db.Query(b.q(`SELECT id, payload FROM %s WHERE processed = 0 ORDER BY id LIMIT ?`), n)
	if err != nil {
		return nil, fmt.Errorf("query pending items: %w", err)
	}
	defer rows.Close()

	var (
		out  [][]byte
		last int64
	)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&last, &payload); err != nil {
			return nil, fmt.Errorf("scan pending item: %w", err)
		}
		out = append(out, payload)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending items: %w", err)
	}

	if len(out) > 0 {
		b.peeked = max(b.peeked, last)
	}
	return out, nil
}

// Discard removes up to n oldest pending items that were returned by Peek.
func (b *SQLite) Discard(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if n <= 0 || b.peeked == 0 {
		return nil
	}

	ctx := context.Background()
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("SQL begin transaction: %w", err)
	}
	removed, err := b.removeOldest(ctx, tx, n, b.peeked)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("discarding items: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	b.size = max(b.size-removed, 0)
	return nil
}

// removeOldest removes up to n pending rows, limited to ids <= through when
// through is non-negative, and returns how many were removed.
func (b *SQLite) removeOldest(ctx context.Context, tx *sql.Tx, n int, through int64) (int, error) {
	selectIDs := b.q(`SELECT id FROM %s WHERE processed = 0 AND (? < 0 OR id <= ?) ORDER BY id LIMIT ?`)

	var stmt string
	switch b.mode {
	case DeleteSoft:
		stmt = b.q(`UPDATE %s SET processed = 1 WHERE id IN (`) + selectIDs + `)`
	default:
		stmt = b.q(`DELETE FROM %s WHERE id IN (`) + selectIDs + `)`
	}

	res, err := tx.ExecContext(ctx, stmt, through, through, n)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (b *SQLite) HasItems() bool { return b.Size() > 0 }

func (b *SQLite) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size >= b.capacity
}

func (b *SQLite) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Close closes the database. Pending rows stay on disk.
func (b *SQLite) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}
