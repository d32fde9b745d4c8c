package store

import (
	"path/filepath"
	"testing"
)

func TestFilePool(t *testing.T) {
	tmpDir := t.TempDir()

	pool := NewFilePool(3)
	defer pool.Close()

	path1 := filepath.Join(tmpDir, "file1.log")
	f1, err := pool.GetWrite(path1)
	if err != nil {
		t.Fatalf("GetWrite failed: %v", err)
	}
	if f1 == nil {
		t.Fatal("GetWrite returned nil")
	}

	if _, err := f1.Write([]byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// Same path should return the cached handle.
	f1Again, err := pool.GetWrite(path1)
	if err != nil {
		t.Fatalf("GetWrite again failed: %v", err)
	}
	if f1Again != f1 {
		t.Error("GetWrite should return same file handle")
	}

	if pool.Size() != 1 {
		t.Errorf("Size should be 1, got %d", pool.Size())
	}
}

func TestFilePoolEviction(t *testing.T) {
	tmpDir := t.TempDir()

	pool := NewFilePool(2)
	defer pool.Close()

	paths := make([]string, 3)
	for i := 0; i < 3; i++ {
		paths[i] = filepath.Join(tmpDir, "file"+string(rune('a'+i))+".log")
		if _, err := pool.GetWrite(paths[i]); err != nil {
			t.Fatalf("GetWrite failed for %s: %v", paths[i], err)
		}
	}

	if pool.Size() != 2 {
		t.Errorf("Size should be 2 after eviction, got %d", pool.Size())
	}

	pool.mu.Lock()
	_, firstExists := pool.files[paths[0]]
	pool.mu.Unlock()
	if firstExists {
		t.Error("least recently used handle should have been evicted")
	}
}

func TestFilePoolFsync(t *testing.T) {
	tmpDir := t.TempDir()

	pool := NewFilePool(10)
	defer pool.Close()

	path := filepath.Join(tmpDir, "sync-test.log")
	f, err := pool.GetWrite(path)
	if err != nil {
		t.Fatalf("GetWrite failed: %v", err)
	}
	f.Write([]byte("test data"))

	if err := pool.Fsync(path); err != nil {
		t.Errorf("Fsync failed: %v", err)
	}

	// Fsync of a path that was never written is a no-op.
	if err := pool.Fsync(filepath.Join(tmpDir, "never-opened.log")); err != nil {
		t.Errorf("Fsync of unpooled path should not error: %v", err)
	}
}

func TestFilePoolFsyncAfterEviction(t *testing.T) {
	tmpDir := t.TempDir()

	pool := NewFilePool(1)
	defer pool.Close()

	evicted := filepath.Join(tmpDir, "evicted.log")
	f, err := pool.GetWrite(evicted)
	if err != nil {
		t.Fatalf("GetWrite failed: %v", err)
	}
	if _, err := f.Write([]byte("pending data")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// A second stream's GetWrite pushes the first handle out.
	if _, err := pool.GetWrite(filepath.Join(tmpDir, "other.log")); err != nil {
		t.Fatalf("GetWrite failed: %v", err)
	}
	pool.mu.Lock()
	_, stillPooled := pool.files[evicted]
	pool.mu.Unlock()
	if stillPooled {
		t.Fatal("first handle should have been evicted")
	}

	// The written data must still reach stable storage.
	if err := pool.Fsync(evicted); err != nil {
		t.Errorf("Fsync after eviction failed: %v", err)
	}
}

func TestFilePoolRemove(t *testing.T) {
	tmpDir := t.TempDir()

	pool := NewFilePool(10)
	defer pool.Close()

	path := filepath.Join(tmpDir, "remove-test.log")
	if _, err := pool.GetWrite(path); err != nil {
		t.Fatalf("GetWrite failed: %v", err)
	}

	if pool.Size() != 1 {
		t.Error("Size should be 1 before remove")
	}

	if err := pool.Remove(path); err != nil {
		t.Errorf("Remove failed: %v", err)
	}

	if pool.Size() != 0 {
		t.Error("Size should be 0 after remove")
	}

	if err := pool.Remove("/nonexistent"); err != nil {
		t.Errorf("Remove nonexistent should not error: %v", err)
	}
}
