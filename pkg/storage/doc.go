/*
Package storage provides the pluggable persistence layer for the solar
telemetry log.

# Storage Interface

The log is an append-only, chronological sequence of records. Each record
is either a full snapshot of the inverter or a sparse delta holding only
the fields that changed. The storage layer does not interpret records; the
codec decides what to append and the reconstructor rebuilds history.

	type Storage interface {
	    Append(ctx context.Context, rec telemetry.Record) (int, error)
	    ReadAll(ctx context.Context) ([]telemetry.Record, error)
	    ExportRaw(ctx context.Context) ([]byte, error)
	    Stats(ctx context.Context) (*Stats, error)
	    Close() error
	}

# Backends

  - file: one JSON array per stream, rewritten whole on every append,
    read through a short-TTL cache. This is the default and the format
    the download endpoint hands out.
  - memory: in-memory slice for tests and throwaway runs
  - badger: BadgerDB, keyed by stream hash + sequence number
  - sqlite: a single append-only table (pure Go driver, no cgo)

# File Format

	[
	  {"timestamp": "2025-06-01T10:00:00.000Z", "local_time": "01.06.2025, 12:00:00",
	   "_type": "full", "bus_voltage": 400, "battery_voltage": 52.1, "error": 0},
	  {"timestamp": "2025-06-01T10:00:05.000Z", "local_time": "01.06.2025, 12:00:05",
	   "_type": "delta", "bus_voltage": 401}
	]

Records without a "_type" key are read as full records.

# Failure Semantics

A log that was never written reads as empty everywhere except ExportRaw,
which returns ErrNotFound. A log that cannot be parsed returns an error
wrapping ErrCorrupt; readers with a sensible fallback (snapshot
initialization) treat it as empty, everything else surfaces it.

# See Also

  - file.New() for the JSON file backend
  - memory.New() for in-memory storage
  - badger.New() for BadgerDB storage
  - sqlite.New() for SQLite storage
*/
package storage
