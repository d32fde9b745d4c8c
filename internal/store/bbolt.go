package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

// BboltIndex is the default bbolt-backed metadata index.
type BboltIndex struct {
	db     *bbolt.DB
	mu     sync.RWMutex
	closed bool
}

var metadataBucket = []byte("streams")

// NewBboltIndex opens (creating if needed) the index database under dir.
func NewBboltIndex(dir string) (*BboltIndex, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	db, err := bbolt.Open(filepath.Join(dir, "index.db"), 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open bbolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(metadataBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create metadata bucket: %w", err)
	}

	return &BboltIndex{db: db}, nil
}

func (s *BboltIndex) Put(meta *StreamMetadata, dirName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errIndexClosed
	}

	data, err := encodeRecord(meta, dirName)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(metadataBucket).Put([]byte(meta.Path), data)
	})
}

func (s *BboltIndex) Get(path string) (*StreamMetadata, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, "", errIndexClosed
	}

	var meta *StreamMetadata
	var dirName string
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(metadataBucket).Get([]byte(path))
		if data == nil {
			return ErrStreamNotFound
		}
		var err error
		meta, dirName, err = decodeRecord(data)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	return meta, dirName, nil
}

func (s *BboltIndex) Delete(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errIndexClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(metadataBucket)
		if b.Get([]byte(path)) == nil {
			return ErrStreamNotFound
		}
		return b.Delete([]byte(path))
	})
}

func (s *BboltIndex) UpdateOffset(path string, offset Offset, lastSeq string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errIndexClosed
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(metadataBucket)
		data := b.Get([]byte(path))
		if data == nil {
			return ErrStreamNotFound
		}

		meta, dirName, err := decodeRecord(data)
		if err != nil {
			return err
		}
		meta.CurrentOffset = offset
		if lastSeq != "" {
			meta.LastSeq = lastSeq
		}

		newData, err := encodeRecord(meta, dirName)
		if err != nil {
			return err
		}
		return b.Put([]byte(path), newData)
	})
}

func (s *BboltIndex) ForEach(fn func(meta *StreamMetadata, dirName string) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errIndexClosed
	}

	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(metadataBucket).ForEach(func(k, v []byte) error {
			meta, dirName, err := decodeRecord(v)
			if err != nil {
				return err
			}
			return fn(meta, dirName)
		})
	})
}

func (s *BboltIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var errIndexClosed = fmt.Errorf("metadata index is closed")
