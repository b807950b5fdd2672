package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nicktill/solarlog/pkg/storage"
	"github.com/nicktill/solarlog/pkg/telemetry"
)

// DefaultCacheTTL bounds how stale a cached read of the log can be
const DefaultCacheTTL = 30 * time.Second

// Storage implements storage.Storage as a single JSON array on disk.
// Every append rewrites the whole file; reads go through a TTL cache.
type Storage struct {
	path   string
	ttl    time.Duration
	pretty bool
	now    func() time.Time

	mu        sync.Mutex
	cached    []telemetry.Record
	fetchedAt time.Time
}

// Config holds file backend configuration
type Config struct {
	// Path of the JSON log file. The directory is created on first append.
	Path string

	// CacheTTL is the maximum age of a cached read (0 = DefaultCacheTTL,
	// negative = never cache)
	CacheTTL time.Duration

	// Pretty writes the array indented, which keeps the raw download readable
	Pretty bool
}

// New creates a file-backed log. The file does not have to exist yet.
func New(cfg Config) (*Storage, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file storage: path is required")
	}

	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = DefaultCacheTTL
	}

	return &Storage{
		path:   cfg.Path,
		ttl:    ttl,
		pretty: cfg.Pretty,
		now:    time.Now,
	}, nil
}

// Path returns the log file location
func (s *Storage) Path() string {
	return s.path
}

// Append reads the log from disk, appends rec and rewrites the file.
// The cache is refreshed with what was written.
func (s *Storage) Append(ctx context.Context, rec telemetry.Record) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Always read from disk: the cache may be up to one TTL behind
	records, err := s.load()
	if err != nil {
		// Never overwrite a file we could not parse
		return 0, fmt.Errorf("failed to read log before append: %w", err)
	}

	records = append(records, rec)
	if err := s.write(records); err != nil {
		return 0, fmt.Errorf("failed to write log: %w", err)
	}

	s.cached = records
	s.fetchedAt = s.now()
	return len(records), nil
}

// ReadAll returns the cached log while it is younger than the TTL, otherwise
// re-reads and re-parses the file.
func (s *Storage) ReadAll(ctx context.Context) ([]telemetry.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.ttl > 0 && s.now().Sub(s.fetchedAt) < s.ttl {
		return copyRecords(s.cached), nil
	}

	records, err := s.load()
	if err != nil {
		return nil, err
	}

	s.cached = records
	s.fetchedAt = s.now()
	return copyRecords(records), nil
}

// ExportRaw returns the file contents unmodified
func (s *Storage) ExportRaw(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, s.path)
		}
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	return data, nil
}

// Stats returns record counts and the on-disk size
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	records, err := s.ReadAll(ctx)
	if err != nil {
		return nil, err
	}

	stats := &storage.Stats{Backend: "file"}
	storage.Summarize(stats, records)

	if info, err := os.Stat(s.path); err == nil {
		stats.SizeBytes = uint64(info.Size())
	}
	return stats, nil
}

// Invalidate drops the cached read so the next ReadAll hits the disk
func (s *Storage) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.fetchedAt = time.Time{}
	s.mu.Unlock()
}

// Close is a no-op; nothing is held open between calls
func (s *Storage) Close() error {
	return nil
}

// load reads and parses the file. A missing or empty file is an empty log.
func (s *Storage) load() ([]telemetry.Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []telemetry.Record{}, nil
		}
		return nil, fmt.Errorf("failed to read log: %w", err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return []telemetry.Record{}, nil
	}

	var records []telemetry.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", storage.ErrCorrupt, s.path, err)
	}
	if records == nil {
		records = []telemetry.Record{}
	}
	return records, nil
}

// write replaces the file via a temp file in the same directory and a rename,
// so a crash mid-write leaves the previous log intact.
func (s *Storage) write(records []telemetry.Record) error {
	var (
		data []byte
		err  error
	)
	if s.pretty {
		data, err = json.MarshalIndent(records, "", "  ")
	} else {
		data, err = json.Marshal(records)
	}
	if err != nil {
		return fmt.Errorf("failed to encode log: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func copyRecords(records []telemetry.Record) []telemetry.Record {
	out := make([]telemetry.Record, len(records))
	copy(out, records)
	return out
}
