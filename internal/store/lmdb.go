//go:build cgo

package store

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/PowerDNS/lmdb-go/lmdb"
)

// LMDBIndex is an LMDB-backed metadata index, selected with the
// "lmdb" metadata backend. Reads are zero-copy inside the view transaction,
// so every value is copied out before decoding.
type LMDBIndex struct {
	env    *lmdb.Env
	dbi    lmdb.DBI
	mu     sync.RWMutex
	closed bool
}

// NewLMDBIndex opens (creating if needed) the LMDB environment under dir.
func NewLMDBIndex(dir string) (*LMDBIndex, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}

	env, err := lmdb.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("create LMDB environment: %w", err)
	}
	if err := env.SetMapSize(1 << 30); err != nil {
		env.Close()
		return nil, fmt.Errorf("set LMDB map size: %w", err)
	}
	if err := env.SetMaxDBs(1); err != nil {
		env.Close()
		return nil, fmt.Errorf("set LMDB max dbs: %w", err)
	}
	if err := env.Open(dir, 0, 0o755); err != nil {
		env.Close()
		return nil, fmt.Errorf("open LMDB environment: %w", err)
	}

	var dbi lmdb.DBI
	err = env.Update(func(txn *lmdb.Txn) error {
		var err error
		dbi, err = txn.OpenDBI("streams", lmdb.Create)
		return err
	})
	if err != nil {
		env.Close()
		return nil, fmt.Errorf("open streams database: %w", err)
	}

	return &LMDBIndex{env: env, dbi: dbi}, nil
}

func (s *LMDBIndex) Put(meta *StreamMetadata, dirName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errIndexClosed
	}

	data, err := encodeRecord(meta, dirName)
	if err != nil {
		return err
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	return s.env.Update(func(txn *lmdb.Txn) error {
		return txn.Put(s.dbi, []byte(meta.Path), data, 0)
	})
}

func (s *LMDBIndex) Get(path string) (*StreamMetadata, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, "", errIndexClosed
	}

	var meta *StreamMetadata
	var dirName string
	err := s.env.View(func(txn *lmdb.Txn) error {
		data, err := txn.Get(s.dbi, []byte(path))
		if lmdb.IsNotFound(err) {
			return ErrStreamNotFound
		}
		if err != nil {
			return err
		}
		dataCopy := make([]byte, len(data))
		copy(dataCopy, data)
		meta, dirName, err = decodeRecord(dataCopy)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	return meta, dirName, nil
}

func (s *LMDBIndex) Delete(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errIndexClosed
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	return s.env.Update(func(txn *lmdb.Txn) error {
		err := txn.Del(s.dbi, []byte(path), nil)
		if lmdb.IsNotFound(err) {
			return ErrStreamNotFound
		}
		return err
	})
}

func (s *LMDBIndex) UpdateOffset(path string, offset Offset, lastSeq string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errIndexClosed
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	return s.env.Update(func(txn *lmdb.Txn) error {
		data, err := txn.Get(s.dbi, []byte(path))
		if lmdb.IsNotFound(err) {
			return ErrStreamNotFound
		}
		if err != nil {
			return err
		}

		dataCopy := make([]byte, len(data))
		copy(dataCopy, data)
		meta, dirName, err := decodeRecord(dataCopy)
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
		return txn.Put(s.dbi, []byte(path), newData, 0)
	})
}

func (s *LMDBIndex) ForEach(fn func(meta *StreamMetadata, dirName string) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errIndexClosed
	}

	return s.env.View(func(txn *lmdb.Txn) error {
		cursor, err := txn.OpenCursor(s.dbi)
		if err != nil {
			return err
		}
		defer cursor.Close()

		for {
			_, data, err := cursor.Get(nil, nil, lmdb.Next)
			if lmdb.IsNotFound(err) {
				return nil
			}
			if err != nil {
				return err
			}

			dataCopy := make([]byte, len(data))
			copy(dataCopy, data)
			meta, dirName, err := decodeRecord(dataCopy)
			if err != nil {
				return err
			}
			if err := fn(meta, dirName); err != nil {
				return err
			}
		}
	})
}

func (s *LMDBIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.env.Close()
}
