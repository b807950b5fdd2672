package monitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStorageMonitor_GetLimit(t *testing.T) {
	sm := NewStorageMonitor(t.TempDir(), 1024*1024*1024)
	if got := sm.GetLimit(); got != 1024*1024*1024 {
		t.Errorf("GetLimit() = %d, want %d", got, 1024*1024*1024)
	}
}

func TestStorageMonitor_GetUsage(t *testing.T) {
	tmpDir := t.TempDir()

	if err := os.MkdirAll(filepath.Join(tmpDir, "badger"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "solar_data.json"), []byte("[]"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "badger", "000001.vlog"), make([]byte, 4096), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	sm := NewStorageMonitor(tmpDir, 1024*1024*1024)
	usage, err := sm.GetUsage()
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}
	if usage < 4096 {
		t.Errorf("GetUsage() = %d, want at least 4096", usage)
	}
}

func TestStorageMonitor_Caching(t *testing.T) {
	tmpDir := t.TempDir()
	sm := NewStorageMonitor(tmpDir, 0)

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	sm.now = func() time.Time { return now }

	before, err := sm.GetUsage()
	if err != nil {
		t.Fatalf("GetUsage() error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(tmpDir, "grown.json"), make([]byte, 8192), 0644); err != nil {
		t.Fatal(err)
	}

	cached, _ := sm.GetUsage()
	if cached != before {
		t.Errorf("Expected cached usage %d within the cache window, got %d", before, cached)
	}

	now = now.Add(sm.cacheDuration)
	fresh, _ := sm.GetUsage()
	if fresh <= before {
		t.Errorf("Expected usage to grow after the cache expired, got %d (was %d)", fresh, before)
	}
}

func TestStorageMonitor_Snapshot(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, "log.json"), make([]byte, 1000), 0644); err != nil {
		t.Fatal(err)
	}

	sm := NewStorageMonitor(tmpDir, 1<<30)
	u, err := sm.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if u.MaxBytes != 1<<30 || u.Percent <= 0 || u.Percent >= 1 {
		t.Errorf("Unexpected usage %+v", u)
	}

	unlimited := NewStorageMonitor(tmpDir, 0)
	u, _ = unlimited.Snapshot()
	if u.Percent != 0 {
		t.Errorf("Expected no percentage without a limit, got %v", u.Percent)
	}
}

func TestStorageMonitor_InvalidDir(t *testing.T) {
	sm := NewStorageMonitor("/nonexistent/path/12345", 1024*1024*1024)
	if _, err := sm.GetUsage(); err == nil {
		t.Error("GetUsage() should return error for nonexistent directory")
	}
}
