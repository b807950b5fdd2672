package monitor

import (
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/nicktill/solarlog/pkg/config"
)

// StorageMonitor reports disk usage of the data directory. Walking the tree
// is slow for badger, so the result is cached for a short time.
type StorageMonitor struct {
	dataDir       string
	maxBytes      int64
	cacheDuration time.Duration
	now           func() time.Time

	mu          sync.Mutex
	cachedUsage int64
	lastCheck   time.Time
}

// NewStorageMonitor creates a monitor for dataDir with a limit of maxBytes
// (0 disables the limit)
func NewStorageMonitor(dataDir string, maxBytes int64) *StorageMonitor {
	return &StorageMonitor{
		dataDir:       dataDir,
		maxBytes:      maxBytes,
		cacheDuration: config.StorageCacheDuration,
		now:           time.Now,
	}
}

// GetUsage returns bytes allocated under the data directory
func (sm *StorageMonitor) GetUsage() (int64, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.lastCheck.IsZero() && sm.now().Sub(sm.lastCheck) < sm.cacheDuration {
		return sm.cachedUsage, nil
	}

	usage, err := dirUsage(sm.dataDir)
	if err != nil {
		return 0, err
	}

	sm.cachedUsage = usage
	sm.lastCheck = sm.now()
	return usage, nil
}

// GetLimit returns the configured storage limit in bytes
func (sm *StorageMonitor) GetLimit() int64 {
	return sm.maxBytes
}

// Usage is the storage endpoint payload
type Usage struct {
	UsedBytes int64   `json:"used_bytes"`
	MaxBytes  int64   `json:"max_bytes"`
	Percent   float64 `json:"percent"`
}

// Snapshot returns usage together with the limit
func (sm *StorageMonitor) Snapshot() (Usage, error) {
	used, err := sm.GetUsage()
	if err != nil {
		return Usage{}, err
	}
	u := Usage{UsedBytes: used, MaxBytes: sm.maxBytes}
	if sm.maxBytes > 0 {
		u.Percent = float64(used) / float64(sm.maxBytes) * 100
	}
	return u, nil
}

func dirUsage(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			// Removed between listing and stat (badger compaction)
			return nil
		}
		size, err := diskUsage(path, info)
		if err != nil {
			size = info.Size()
		}
		total += size
		return nil
	})
	return total, err
}
