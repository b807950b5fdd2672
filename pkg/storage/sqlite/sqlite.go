package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/nicktill/solarlog/pkg/storage"
	"github.com/nicktill/solarlog/pkg/telemetry"
)

const driverName = "sqlite"

// DefaultStream names the log when Config.Stream is empty
const DefaultStream = "solar"

const schemaRecords = `
CREATE TABLE IF NOT EXISTS records (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    stream TEXT NOT NULL,
    ts TEXT NOT NULL,
    kind TEXT NOT NULL,
    body TEXT NOT NULL
);
`

const indexRecordsStream = `
CREATE INDEX IF NOT EXISTS idx_records_stream_seq ON records (stream, seq);
`

// Storage implements storage.Storage on a SQLite table. Each record is one
// row; body holds the flat JSON object, seq gives append order.
type Storage struct {
	db     *sql.DB
	path   string
	stream string
}

// Config holds SQLite backend configuration
type Config struct {
	// Path of the database file
	Path string

	// Stream names the log inside the table
	Stream string
}

// New opens or creates the database and ensures the schema exists
func New(cfg Config) (*Storage, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite storage: path is required")
	}
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open(driverName, cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite at %q: %w", cfg.Path, err)
	}

	// SQLite is not great with many writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := NewFromDB(db, cfg.Stream)
	s.path = cfg.Path
	return s, nil
}

// NewFromDB wraps an already opened database whose schema is in place.
// Stats reports no size since there is no file to measure.
func NewFromDB(db *sql.DB, stream string) *Storage {
	if stream == "" {
		stream = DefaultStream
	}
	return &Storage{db: db, stream: stream}
}

// Append inserts rec and returns the stream's new length
func (s *Storage) Append(ctx context.Context, rec telemetry.Record) (int, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("failed to encode record: %w", err)
	}

	kind := rec.Kind
	if kind == "" {
		kind = telemetry.KindFull
	}
	ts, _ := rec.Sample[telemetry.FieldTimestamp].(string)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin append: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO records (stream, ts, kind, body) VALUES (?, ?, ?, ?)`,
		s.stream, ts, string(kind), string(body),
	); err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}

	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE stream = ?`, s.stream,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append: %w", err)
	}
	return n, nil
}

// ReadAll returns the stream in append order
func (s *Storage) ReadAll(ctx context.Context) ([]telemetry.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, body FROM records WHERE stream = ? ORDER BY seq ASC`, s.stream)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := make([]telemetry.Record, 0, 256)
	for rows.Next() {
		var (
			seq  int64
			body string
		)
		if err := rows.Scan(&seq, &body); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}

		var rec telemetry.Record
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", storage.ErrCorrupt, seq, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// ExportRaw encodes the stream as a JSON array
func (s *Storage) ExportRaw(ctx context.Context) ([]byte, error) {
	records, err := s.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, storage.ErrNotFound
	}
	return json.Marshal(records)
}

// Stats counts records per kind in SQL and sizes the database file
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	stats := &storage.Stats{Backend: "sqlite"}

	var oldest, newest sql.NullString
	if err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN kind = 'full' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN kind = 'delta' THEN 1 ELSE 0 END), 0),
			MIN(ts),
			MAX(ts)
		FROM records WHERE stream = ?`, s.stream,
	).Scan(&stats.TotalRecords, &stats.FullRecords, &stats.DeltaRecords, &oldest, &newest); err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}

	// Stamped timestamps are fixed-width UTC, so MIN/MAX on text is time order
	if oldest.Valid {
		if t, err := telemetry.ParseTimestamp(oldest.String); err == nil {
			stats.OldestRecord = t
		}
	}
	if newest.Valid {
		if t, err := telemetry.ParseTimestamp(newest.String); err == nil {
			stats.NewestRecord = t
		}
	}

	if s.path == "" {
		return stats, nil
	}
	if info, err := os.Stat(s.path); err == nil {
		stats.SizeBytes = uint64(info.Size())
	}
	return stats, nil
}

// Close closes the database
func (s *Storage) Close() error {
	return s.db.Close()
}

func ensureSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i, stmt := range []string{
		schemaRecords,
		indexRecordsStream,
	} {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}
