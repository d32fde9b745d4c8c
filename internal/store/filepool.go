package store

import (
	"container/list"
	"os"
	"sync"
)

// FilePool is a bounded LRU of append-mode file handles keyed by segment
// path. Eviction closes the handle; a later writer reopens transparently.
// Callers must hold the stream's write lock while using a pooled handle.
type FilePool struct {
	mu      sync.Mutex
	maxSize int
	files   map[string]*poolEntry
	lru     *list.List // front = most recently used
}

type poolEntry struct {
	path    string
	file    *os.File
	element *list.Element
}

// NewFilePool creates a pool holding at most maxSize open handles.
func NewFilePool(maxSize int) *FilePool {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &FilePool{
		maxSize: maxSize,
		files:   make(map[string]*poolEntry),
		lru:     list.New(),
	}
}

// GetWrite returns the append handle for path, opening (and creating) it on
// a miss. The caller must not close the returned file.
func (p *FilePool) GetWrite(path string) (*os.File, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.files[path]; ok {
		p.lru.MoveToFront(entry.element)
		return entry.file, nil
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	p.evictIfNeeded()

	entry := &poolEntry{path: path, file: file}
	entry.element = p.lru.PushFront(entry)
	p.files[path] = entry
	return file, nil
}

// Fsync flushes path to stable storage. Another stream's GetWrite may have
// evicted the handle between write and sync; reopen so the write is still
// made durable before the append reports success.
func (p *FilePool) Fsync(path string) error {
	p.mu.Lock()
	entry, ok := p.files[path]
	p.mu.Unlock()

	if ok {
		return entry.file.Sync()
	}

	file, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()
	return file.Sync()
}

// Remove closes and drops the handle for path, if open.
func (p *FilePool) Remove(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.files[path]
	if !ok {
		return nil
	}
	p.lru.Remove(entry.element)
	delete(p.files, path)
	return entry.file.Close()
}

// Close closes every pooled handle.
func (p *FilePool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for path, entry := range p.files {
		if err := entry.file.Close(); err != nil {
			lastErr = err
		}
		delete(p.files, path)
	}
	p.lru.Init()
	return lastErr
}

// Size returns the number of open handles.
func (p *FilePool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.files)
}

// evictIfNeeded closes the least recently used handle when the pool is full.
// Caller holds p.mu.
func (p *FilePool) evictIfNeeded() {
	if len(p.files) < p.maxSize {
		return
	}
	elem := p.lru.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*poolEntry)
	p.lru.Remove(elem)
	delete(p.files, entry.path)
	entry.file.Close()
}
