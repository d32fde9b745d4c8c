package store

import (
	"errors"
	"testing"
	"time"
)

func TestBboltIndex_PutAndGet(t *testing.T) {
	index, err := NewBboltIndex(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create index: %v", err)
	}
	defer index.Close()

	now := time.Now()
	ttl := int64(3600)
	expiresAt := now.Add(time.Hour)
	meta := &StreamMetadata{
		Path:          "/test/stream",
		ID:            "stream-id-1",
		ContentType:   "application/json",
		CurrentOffset: Offset{ReadSeq: 3, ByteOffset: 100},
		LastSeq:       "seq123",
		TTLSeconds:    &ttl,
		ExpiresAt:     &expiresAt,
		CreatedAt:     now,
	}

	if err := index.Put(meta, "test~1234567890~abc"); err != nil {
		t.Fatalf("failed to put metadata: %v", err)
	}

	gotMeta, dirName, err := index.Get("/test/stream")
	if err != nil {
		t.Fatalf("failed to get metadata: %v", err)
	}

	if gotMeta.Path != meta.Path {
		t.Errorf("path mismatch: got %q, want %q", gotMeta.Path, meta.Path)
	}
	if gotMeta.ID != meta.ID {
		t.Errorf("id mismatch: got %q, want %q", gotMeta.ID, meta.ID)
	}
	if gotMeta.ContentType != meta.ContentType {
		t.Errorf("content type mismatch: got %q, want %q", gotMeta.ContentType, meta.ContentType)
	}
	if !gotMeta.CurrentOffset.Equal(meta.CurrentOffset) {
		t.Errorf("offset mismatch: got %v, want %v", gotMeta.CurrentOffset, meta.CurrentOffset)
	}
	if gotMeta.LastSeq != meta.LastSeq {
		t.Errorf("last seq mismatch: got %q, want %q", gotMeta.LastSeq, meta.LastSeq)
	}
	if gotMeta.TTLSeconds == nil || *gotMeta.TTLSeconds != ttl {
		t.Errorf("TTL mismatch: got %v, want %d", gotMeta.TTLSeconds, ttl)
	}
	if gotMeta.ExpiresAt == nil || gotMeta.ExpiresAt.UnixMilli() != expiresAt.UnixMilli() {
		t.Errorf("expiry mismatch: got %v, want %v", gotMeta.ExpiresAt, expiresAt)
	}
	if dirName != "test~1234567890~abc" {
		t.Errorf("directory name mismatch: got %q", dirName)
	}
}

func TestBboltIndex_GetNotFound(t *testing.T) {
	index, err := NewBboltIndex(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create index: %v", err)
	}
	defer index.Close()

	_, _, err = index.Get("/nonexistent")
	if !errors.Is(err, ErrStreamNotFound) {
		t.Errorf("expected ErrStreamNotFound, got %v", err)
	}
}

func TestBboltIndex_Delete(t *testing.T) {
	index, err := NewBboltIndex(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create index: %v", err)
	}
	defer index.Close()

	meta := &StreamMetadata{
		Path:        "/test/stream",
		ContentType: "text/plain",
		CreatedAt:   time.Now(),
	}
	if err := index.Put(meta, "dir1"); err != nil {
		t.Fatalf("failed to put: %v", err)
	}

	if err := index.Delete("/test/stream"); err != nil {
		t.Fatalf("failed to delete: %v", err)
	}

	_, _, err = index.Get("/test/stream")
	if !errors.Is(err, ErrStreamNotFound) {
		t.Error("stream still exists after delete")
	}

	err = index.Delete("/nonexistent")
	if !errors.Is(err, ErrStreamNotFound) {
		t.Errorf("expected ErrStreamNotFound, got %v", err)
	}
}

func TestBboltIndex_UpdateOffset(t *testing.T) {
	index, err := NewBboltIndex(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create index: %v", err)
	}
	defer index.Close()

	meta := &StreamMetadata{
		Path:        "/test/stream",
		ContentType: "text/plain",
		CreatedAt:   time.Now(),
	}
	if err := index.Put(meta, "dir1"); err != nil {
		t.Fatalf("failed to put: %v", err)
	}

	newOffset := Offset{ReadSeq: 5, ByteOffset: 500}
	if err := index.UpdateOffset("/test/stream", newOffset, "newseq"); err != nil {
		t.Fatalf("failed to update offset: %v", err)
	}

	gotMeta, _, err := index.Get("/test/stream")
	if err != nil {
		t.Fatalf("failed to get: %v", err)
	}
	if !gotMeta.CurrentOffset.Equal(newOffset) {
		t.Errorf("offset not updated: got %v, want %v", gotMeta.CurrentOffset, newOffset)
	}
	if gotMeta.LastSeq != "newseq" {
		t.Errorf("lastSeq not updated: got %q", gotMeta.LastSeq)
	}

	err = index.UpdateOffset("/nonexistent", newOffset, "")
	if !errors.Is(err, ErrStreamNotFound) {
		t.Errorf("expected ErrStreamNotFound, got %v", err)
	}
}

func TestBboltIndex_ForEach(t *testing.T) {
	index, err := NewBboltIndex(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create index: %v", err)
	}
	defer index.Close()

	for i, path := range []string{"/stream/a", "/stream/b"} {
		meta := &StreamMetadata{
			Path:          path,
			ContentType:   "application/json",
			CurrentOffset: Offset{ReadSeq: uint64(i), ByteOffset: uint64(i * 100)},
			CreatedAt:     time.Now(),
		}
		if err := index.Put(meta, "dir"+path); err != nil {
			t.Fatalf("failed to put %s: %v", path, err)
		}
	}

	count := 0
	err = index.ForEach(func(meta *StreamMetadata, dirName string) error {
		count++
		if meta.ContentType != "application/json" {
			t.Errorf("wrong content type: %q", meta.ContentType)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 iterations, got %d", count)
	}
}

func TestBboltIndex_Persistence(t *testing.T) {
	dir := t.TempDir()

	{
		index, err := NewBboltIndex(dir)
		if err != nil {
			t.Fatalf("failed to create index: %v", err)
		}

		meta := &StreamMetadata{
			Path:          "/persistent",
			ContentType:   "text/plain",
			CurrentOffset: Offset{ReadSeq: 7, ByteOffset: 999},
			CreatedAt:     time.Now(),
		}
		if err := index.Put(meta, "persistent-dir"); err != nil {
			t.Fatalf("failed to put: %v", err)
		}
		if err := index.Close(); err != nil {
			t.Fatalf("failed to close: %v", err)
		}
	}

	{
		index, err := NewBboltIndex(dir)
		if err != nil {
			t.Fatalf("failed to reopen index: %v", err)
		}
		defer index.Close()

		meta, dirName, err := index.Get("/persistent")
		if err != nil {
			t.Fatalf("failed to get: %v", err)
		}
		if meta.CurrentOffset.ByteOffset != 999 || meta.CurrentOffset.ReadSeq != 7 {
			t.Errorf("offset not persisted: %v", meta.CurrentOffset)
		}
		if dirName != "persistent-dir" {
			t.Errorf("dir name not persisted: %q", dirName)
		}
	}
}

func TestOpenIndexUnknownBackend(t *testing.T) {
	_, err := OpenIndex("rocksdb", t.TempDir())
	if err == nil {
		t.Error("expected error for unknown backend")
	}
}
