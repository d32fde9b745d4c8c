package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// MetadataIndex is the embedded key-value store mapping stream path to
// descriptor. Implementations must make single-key writes atomic: recovery
// relies on a partially written index still being readable.
type MetadataIndex interface {
	// Put stores a stream's descriptor together with its on-disk directory name.
	Put(meta *StreamMetadata, dirName string) error

	// Get returns the descriptor and directory name for path, or
	// ErrStreamNotFound.
	Get(path string) (*StreamMetadata, string, error)

	// Delete removes the descriptor for path, or ErrStreamNotFound.
	Delete(path string) error

	// UpdateOffset rewrites only the current offset (and last accepted
	// sequence, when non-empty) for path.
	UpdateOffset(path string, offset Offset, lastSeq string) error

	// ForEach visits every descriptor in the index.
	ForEach(fn func(meta *StreamMetadata, dirName string) error) error

	// Close releases the underlying database.
	Close() error
}

// Metadata index backends.
const (
	IndexBackendBbolt = "bbolt"
	IndexBackendLMDB  = "lmdb"
)

// OpenIndex opens the metadata index of the configured backend rooted at dir.
func OpenIndex(backend, dir string) (MetadataIndex, error) {
	switch backend {
	case "", IndexBackendBbolt:
		return NewBboltIndex(dir)
	case IndexBackendLMDB:
		return NewLMDBIndex(dir)
	default:
		return nil, fmt.Errorf("unknown metadata backend %q", backend)
	}
}

// indexRecord is the serialized descriptor shared by all index backends.
type indexRecord struct {
	Path          string `json:"path"`
	ID            string `json:"id"`
	ContentType   string `json:"content_type"`
	CurrentOffset string `json:"current_offset"`
	LastSeq       string `json:"last_seq,omitempty"`
	TTLSeconds    *int64 `json:"ttl_seconds,omitempty"`
	ExpiresAt     *int64 `json:"expires_at,omitempty"` // Unix millis
	CreatedAt     int64  `json:"created_at"`           // Unix millis
	DirectoryName string `json:"directory_name"`
}

func encodeRecord(meta *StreamMetadata, dirName string) ([]byte, error) {
	rec := indexRecord{
		Path:          meta.Path,
		ID:            meta.ID,
		ContentType:   meta.ContentType,
		CurrentOffset: meta.CurrentOffset.String(),
		LastSeq:       meta.LastSeq,
		TTLSeconds:    meta.TTLSeconds,
		CreatedAt:     meta.CreatedAt.UnixMilli(),
		DirectoryName: dirName,
	}
	if meta.ExpiresAt != nil {
		ts := meta.ExpiresAt.UnixMilli()
		rec.ExpiresAt = &ts
	}
	return json.Marshal(rec)
}

func decodeRecord(data []byte) (*StreamMetadata, string, error) {
	var rec indexRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, "", fmt.Errorf("unmarshal metadata record: %w", err)
	}

	offset, err := ParseOffset(rec.CurrentOffset)
	if err != nil {
		return nil, "", fmt.Errorf("metadata record offset: %w", err)
	}

	meta := &StreamMetadata{
		Path:          rec.Path,
		ID:            rec.ID,
		ContentType:   rec.ContentType,
		CurrentOffset: offset,
		LastSeq:       rec.LastSeq,
		TTLSeconds:    rec.TTLSeconds,
		CreatedAt:     time.UnixMilli(rec.CreatedAt),
	}
	if rec.ExpiresAt != nil {
		t := time.UnixMilli(*rec.ExpiresAt)
		meta.ExpiresAt = &t
	}
	return meta, rec.DirectoryName, nil
}
