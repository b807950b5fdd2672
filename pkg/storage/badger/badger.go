package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/nicktill/solarlog/pkg/storage"
	"github.com/nicktill/solarlog/pkg/telemetry"
)

// DefaultStream names the log when Config.Stream is empty
const DefaultStream = "solar"

// Storage implements storage.Storage using BadgerDB (LSM tree).
// Records of one stream share an 8-byte prefix; the suffix is the
// big-endian append sequence, so key order is append order.
type Storage struct {
	db     *badger.DB
	prefix []byte

	mu  sync.Mutex
	seq uint64
}

// Config holds BadgerDB configuration
type Config struct {
	// Path to store database files
	Path string

	// Stream names the log inside the database (one inverter per stream)
	Stream string

	// InMemory mode (for testing)
	InMemory bool

	// MaxMemoryMB limits BadgerDB memory usage in MB (0 = use defaults)
	MaxMemoryMB int64
}

// New opens a BadgerDB storage backend and recovers the append sequence
func New(cfg Config) (*Storage, error) {
	opts := badger.DefaultOptions(cfg.Path)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Badger's own logging is noisy for an embedded log store
	opts = opts.WithLogger(nil)

	// A telemetry log is tiny by LSM standards. 16 MB memtable is the
	// smallest size that avoids constant flushing.
	memTableSize := int64(16 * 1024 * 1024)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB * 1024 * 1024 / 3
	}

	blockCacheSize := memTableSize / 2
	indexCacheSize := memTableSize / 4

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(blockCacheSize).
		WithIndexCacheSize(indexCacheSize).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(1).
		WithValueLogMaxEntries(5000).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	stream := cfg.Stream
	if stream == "" {
		stream = DefaultStream
	}

	s := &Storage{db: db, prefix: streamPrefix(stream)}
	if err := s.recoverSequence(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to recover sequence: %w", err)
	}

	return s, nil
}

// Append stores rec under the next sequence number
// CRITICAL: Enforces context timeout/cancellation to prevent indefinite blocking
func (s *Storage) Append(ctx context.Context, rec telemetry.Record) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	value, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("failed to encode record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.seq + 1
	done := make(chan error, 1)
	go func() {
		done <- s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(s.makeKey(next), value)
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			return 0, fmt.Errorf("failed to write record: %w", err)
		}
		s.seq = next
		return int(next), nil
	case <-ctx.Done():
		// The write may still land. A committed record is reported as
		// appended so the caller's snapshot stays in step with the log.
		if err := <-done; err != nil {
			return 0, fmt.Errorf("append operation cancelled: %w (write error: %v)", ctx.Err(), err)
		}
		s.seq = next
		return int(next), nil
	}
}

// ReadAll returns every record of the stream in append order
// CRITICAL: Enforces context timeout/cancellation to prevent indefinite blocking
func (s *Storage) ReadAll(ctx context.Context) ([]telemetry.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type readResult struct {
		records []telemetry.Record
		err     error
	}
	done := make(chan readResult, 1)

	go func() {
		records := make([]telemetry.Record, 0, 256)
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchSize = 100
			opts.Prefix = s.prefix

			it := txn.NewIterator(opts)
			defer it.Close()

			var iterCount int
			for it.Seek(s.prefix); it.ValidForPrefix(s.prefix); it.Next() {
				iterCount++

				// Check for cancellation every 1000 iterations
				if iterCount%1000 == 0 {
					select {
					case <-ctx.Done():
						return ctx.Err()
					default:
					}
				}

				var rec telemetry.Record
				if err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &rec)
				}); err != nil {
					return fmt.Errorf("%w: key %x: %v", storage.ErrCorrupt, it.Item().Key(), err)
				}
				records = append(records, rec)
			}
			return nil
		})
		done <- readResult{records: records, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		return res.records, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("read operation cancelled: %w", ctx.Err())
	}
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

// Close shuts down BadgerDB cleanly
func (s *Storage) Close() error {
	return s.db.Close()
}

// RunGC runs BadgerDB's value log garbage collection
// discardRatio: run GC if this fraction of file can be discarded (0.5 = 50%)
// Returns badger.ErrNoRewrite when there was nothing to collect
func (s *Storage) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	records, err := s.ReadAll(ctx)
	if err != nil {
		return nil, err
	}

	stats := &storage.Stats{Backend: "badger"}
	storage.Summarize(stats, records)

	lsmSize, vlogSize := s.db.Size()
	stats.SizeBytes = uint64(lsmSize + vlogSize)

	return stats, nil
}

// recoverSequence finds the highest sequence number already stored
func (s *Storage) recoverSequence() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true
		opts.Prefix = s.prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek to the largest possible key of the stream
		it.Seek(s.makeKey(^uint64(0)))
		if it.ValidForPrefix(s.prefix) {
			s.seq = parseKey(it.Item().Key())
		}
		return nil
	})
}

// makeKey creates a sortable key: stream_hash + sequence
// Format: [stream_hash (8 bytes)][sequence (8 bytes)]
func (s *Storage) makeKey(seq uint64) []byte {
	key := make([]byte, 16)
	copy(key[0:8], s.prefix)
	binary.BigEndian.PutUint64(key[8:16], seq)
	return key
}

// parseKey extracts the sequence number from a storage key
func parseKey(key []byte) uint64 {
	if len(key) < 16 {
		return 0
	}
	return binary.BigEndian.Uint64(key[8:16])
}

func streamPrefix(stream string) []byte {
	prefix := make([]byte, 8)
	binary.BigEndian.PutUint64(prefix, xxhash.Sum64String(stream))
	return prefix
}
