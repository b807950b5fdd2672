package config

import "time"

// Server defaults
const (
	DefaultPort         = "8080"
	DefaultDataDir      = "./data/solarlog"
	DefaultMaxStorageGB = 1
	DefaultMaxMemoryMB  = 48
	DefaultTimezone     = "Local"
)

// Storage defaults
const (
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendSQLite = "sqlite"

	DefaultBackend  = BackendFile
	DefaultStream   = "solar_data"
	DefaultCacheTTL = 30 * time.Second
)

// Background tasks
const (
	BadgerGCInterval       = 10 * time.Minute
	StateBroadcastInterval = 5 * time.Second
	StorageCacheDuration   = 10 * time.Second
)

// Ingest timeouts and limits
const (
	IngestTimeout     = 5 * time.Second
	IngestMaxBodySize = 64 * 1024
	IngestMaxFields   = 256
	ImportTimeout     = 2 * time.Minute
	ImportMaxBodySize = 64 * 1024 * 1024
)

// Query timeouts and defaults
const (
	QueryTimeout           = 30 * time.Second
	QueryDefaultHours      = 24
	QueryMaxHours          = 90 * 24
	QueryDefaultMaxPoints  = 500
	QueryMaxPointsLimit    = 5000
	HistoryDefaultPageSize = 50
	HistoryMaxPageSize     = 1000
	StatsTimeout           = 5 * time.Second
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)
