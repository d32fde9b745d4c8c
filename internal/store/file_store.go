package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FileStoreConfig configures the file-backed store.
type FileStoreConfig struct {
	DataDir         string
	MetadataBackend string        // "bbolt" (default) or "lmdb"
	MaxFileHandles  int           // bound on pooled append handles
	CleanupInterval time.Duration // expired-stream sweep cadence (0 = disabled)
	WatchFiles      bool          // bridge OS file events into waiter wakes
	Logger          *zap.Logger
}

// FileStore is the durable, file-backed Store. Appends serialize through a
// per-path lock; reads run lock-free against immutable metadata snapshots
// and their own read handles.
type FileStore struct {
	dataDir  string
	logger   *zap.Logger
	index    MetadataIndex
	pool     *FilePool
	registry *WaiterRegistry
	watcher  *segmentWatcher

	// metaCache values are immutable snapshots; mutations swap in a copy.
	cacheMu   sync.RWMutex
	metaCache map[string]*StreamMetadata
	dirCache  map[string]string

	// locks entries live for the process: a re-created stream must reuse
	// its mutex so appends racing a delete stay serialized.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	cleanupStop chan struct{}
	cleanupDone chan struct{}
}

// NewFileStore opens the store rooted at cfg.DataDir, reconciling the
// metadata index against the segment files on disk before serving.
func NewFileStore(cfg FileStoreConfig) (*FileStore, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	streamsDir := filepath.Join(cfg.DataDir, "streams")
	if err := os.MkdirAll(streamsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create streams directory: %w", err)
	}

	index, err := OpenIndex(cfg.MetadataBackend, filepath.Join(cfg.DataDir, "meta"))
	if err != nil {
		return nil, fmt.Errorf("open metadata index: %w", err)
	}

	if err := recoverStreams(index, streamsDir, logger); err != nil {
		index.Close()
		return nil, fmt.Errorf("recovery: %w", err)
	}

	s := &FileStore{
		dataDir:     cfg.DataDir,
		logger:      logger,
		index:       index,
		pool:        NewFilePool(cfg.MaxFileHandles),
		registry:    NewWaiterRegistry(),
		metaCache:   make(map[string]*StreamMetadata),
		dirCache:    make(map[string]string),
		locks:       make(map[string]*sync.Mutex),
		cleanupStop: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	err = index.ForEach(func(meta *StreamMetadata, dirName string) error {
		s.metaCache[meta.Path] = meta
		s.dirCache[meta.Path] = dirName
		return nil
	})
	if err != nil {
		index.Close()
		return nil, fmt.Errorf("load metadata cache: %w", err)
	}

	if cfg.WatchFiles {
		watcher, err := newSegmentWatcher(s.registry, logger)
		if err != nil {
			index.Close()
			return nil, fmt.Errorf("start file watcher: %w", err)
		}
		s.watcher = watcher
		for path, dirName := range s.dirCache {
			watcher.Watch(filepath.Join(streamsDir, dirName), path)
		}
	}

	if cfg.CleanupInterval > 0 {
		go s.sweepLoop(cfg.CleanupInterval)
	} else {
		close(s.cleanupDone)
	}

	return s, nil
}

// Registry exposes the waiter registry, e.g. for metrics hooks.
func (s *FileStore) Registry() *WaiterRegistry {
	return s.registry
}

func (s *FileStore) streamLock(path string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[path]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[path] = lock
	}
	return lock
}

func (s *FileStore) snapshot(path string) (*StreamMetadata, string, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	meta, ok := s.metaCache[path]
	return meta, s.dirCache[path], ok
}

// Create makes a new stream directory and segment, writes the initial data
// if any, and registers the descriptor. Idempotent for identical configs.
func (s *FileStore) Create(path string, opts CreateOptions) (*StreamMetadata, bool, error) {
	if opts.TTLSeconds != nil && opts.ExpiresAt != nil {
		return nil, false, fmt.Errorf("%w: TTL and expiry are mutually exclusive", ErrInvalidExpiry)
	}
	if opts.TTLSeconds != nil && *opts.TTLSeconds <= 0 {
		return nil, false, fmt.Errorf("%w: TTL must be positive", ErrInvalidExpiry)
	}

	lock := s.streamLock(path)
	lock.Lock()
	defer lock.Unlock()

	if existing, dirName, ok := s.snapshot(path); ok {
		if existing.IsExpired() {
			s.removeLocked(path, dirName)
		} else if existing.ConfigMatches(opts) {
			metaCopy := *existing
			return &metaCopy, false, nil
		} else {
			return nil, false, ErrConfigMismatch
		}
	}

	dirName, err := generateDirectoryName(path)
	if err != nil {
		return nil, false, fmt.Errorf("generate directory name: %w", err)
	}
	streamDir := filepath.Join(s.dataDir, "streams", dirName)
	if err := os.MkdirAll(streamDir, 0o755); err != nil {
		return nil, false, fmt.Errorf("create stream directory: %w", err)
	}
	if err := CreateSegmentFile(filepath.Join(streamDir, SegmentFileName)); err != nil {
		os.RemoveAll(streamDir)
		return nil, false, err
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = DefaultContentType
	}
	meta := &StreamMetadata{
		Path:          path,
		ID:            uuid.NewString(),
		ContentType:   contentType,
		CurrentOffset: ZeroOffset,
		TTLSeconds:    opts.TTLSeconds,
		ExpiresAt:     opts.ExpiresAt,
		CreatedAt:     time.Now(),
	}

	if len(opts.InitialData) > 0 {
		newOffset, err := s.writeFrames(meta, dirName, opts.InitialData, true)
		if err != nil {
			s.pool.Remove(filepath.Join(streamDir, SegmentFileName))
			os.RemoveAll(streamDir)
			return nil, false, err
		}
		meta.CurrentOffset = newOffset
	}

	if err := s.index.Put(meta, dirName); err != nil {
		s.pool.Remove(filepath.Join(streamDir, SegmentFileName))
		os.RemoveAll(streamDir)
		return nil, false, fmt.Errorf("store metadata: %w", err)
	}

	s.cacheMu.Lock()
	s.metaCache[path] = meta
	s.dirCache[path] = dirName
	s.cacheMu.Unlock()

	if s.watcher != nil {
		s.watcher.Watch(streamDir, path)
	}

	metaCopy := *meta
	return &metaCopy, true, nil
}

// Get returns the stream's metadata, expiring it lazily if needed.
func (s *FileStore) Get(path string) (*StreamMetadata, error) {
	meta, _, ok := s.snapshot(path)
	if !ok {
		return nil, ErrStreamNotFound
	}
	if meta.IsExpired() {
		s.expire(path)
		return nil, ErrStreamNotFound
	}
	metaCopy := *meta
	return &metaCopy, nil
}

// Has reports whether the stream exists and has not expired.
func (s *FileStore) Has(path string) bool {
	_, err := s.Get(path)
	return err == nil
}

// Delete removes the stream and wakes blocked readers terminally.
func (s *FileStore) Delete(path string) error {
	lock := s.streamLock(path)
	lock.Lock()
	defer lock.Unlock()

	_, dirName, ok := s.snapshot(path)
	if !ok {
		return ErrStreamNotFound
	}
	s.removeLocked(path, dirName)
	return nil
}

// removeLocked tears down a stream. Caller holds the stream lock.
func (s *FileStore) removeLocked(path, dirName string) {
	streamDir := filepath.Join(s.dataDir, "streams", dirName)
	s.pool.Remove(filepath.Join(streamDir, SegmentFileName))

	if err := s.index.Delete(path); err != nil && !errors.Is(err, ErrStreamNotFound) {
		s.logger.Warn("failed to delete stream metadata",
			zap.String("stream", path), zap.Error(err))
	}

	s.cacheMu.Lock()
	delete(s.metaCache, path)
	delete(s.dirCache, path)
	s.cacheMu.Unlock()

	if s.watcher != nil {
		s.watcher.Unwatch(streamDir)
	}

	// Rename before unlinking so a concurrent reader never sees a
	// half-removed directory reappear under the live name.
	deletedDir := streamDir + fmt.Sprintf(".deleted~%d", time.Now().UnixMilli())
	if err := os.Rename(streamDir, deletedDir); err == nil {
		go os.RemoveAll(deletedDir)
	} else {
		go os.RemoveAll(streamDir)
	}

	s.registry.Drop(path)
}

// expire removes an expired stream, re-checking under the stream lock.
func (s *FileStore) expire(path string) {
	lock := s.streamLock(path)
	lock.Lock()
	defer lock.Unlock()

	meta, dirName, ok := s.snapshot(path)
	if !ok || !meta.IsExpired() {
		return
	}
	s.removeLocked(path, dirName)
}

// Append writes one request body to the stream and wakes waiters.
func (s *FileStore) Append(path string, data []byte, opts AppendOptions) (Offset, error) {
	lock := s.streamLock(path)
	lock.Lock()
	defer lock.Unlock()

	meta, dirName, ok := s.snapshot(path)
	if !ok {
		return Offset{}, ErrStreamNotFound
	}
	if meta.IsExpired() {
		s.removeLocked(path, dirName)
		return Offset{}, ErrStreamNotFound
	}

	if len(data) == 0 {
		return Offset{}, ErrEmptyBody
	}
	if opts.ContentType != "" && !ContentTypeMatches(meta.ContentType, opts.ContentType) {
		return Offset{}, ErrContentTypeMismatch
	}
	if opts.Seq != "" && meta.LastSeq != "" && opts.Seq <= meta.LastSeq {
		return Offset{}, ErrSequenceConflict
	}

	newOffset, err := s.writeFrames(meta, dirName, data, false)
	if err != nil {
		return Offset{}, err
	}

	updated := *meta
	updated.CurrentOffset = newOffset
	if opts.Seq != "" {
		updated.LastSeq = opts.Seq
	}

	// The segment is already durable; an index write failure is reconciled
	// at next startup, so log and continue.
	if err := s.index.UpdateOffset(path, newOffset, opts.Seq); err != nil {
		s.logger.Warn("failed to persist stream offset",
			zap.String("stream", path), zap.Error(err))
	}

	s.cacheMu.Lock()
	s.metaCache[path] = &updated
	s.cacheMu.Unlock()

	s.registry.Notify(path)
	return newOffset, nil
}

// writeFrames frames and appends the request body, fsyncing before return.
// Caller holds the stream lock.
func (s *FileStore) writeFrames(meta *StreamMetadata, dirName string, data []byte, allowEmptyArray bool) (Offset, error) {
	var payloads [][]byte
	if meta.IsJSON() {
		var err error
		payloads, err = splitJSONAppend(data, allowEmptyArray)
		if err != nil {
			return Offset{}, err
		}
	} else {
		payloads = [][]byte{data}
	}
	for _, p := range payloads {
		if len(p) > MaxMessageSize {
			return Offset{}, ErrMessageTooLarge
		}
	}

	segPath := filepath.Join(s.dataDir, "streams", dirName, SegmentFileName)
	file, err := s.pool.GetWrite(segPath)
	if err != nil {
		return Offset{}, fmt.Errorf("get write handle: %w", err)
	}

	offset := meta.CurrentOffset
	for _, p := range payloads {
		if _, err := WriteFrame(file, p); err != nil {
			// The tail may hold a torn frame now; cut it off and resync the
			// in-memory offset so later appends stay consistent.
			if trueOffset, scanErr := ScanTrueOffset(segPath); scanErr == nil {
				os.Truncate(segPath, int64(trueOffset.ByteOffset))
				s.cacheMu.Lock()
				resynced := *meta
				resynced.CurrentOffset = trueOffset
				s.metaCache[meta.Path] = &resynced
				s.cacheMu.Unlock()
			}
			return Offset{}, fmt.Errorf("write frame: %w", err)
		}
		offset = offset.Next(FrameLen(len(p)))
	}

	if err := s.pool.Fsync(segPath); err != nil {
		return Offset{}, fmt.Errorf("fsync segment: %w", err)
	}
	return offset, nil
}

// Read returns all committed messages past offset.
func (s *FileStore) Read(path string, offset Offset) ([]Message, bool, error) {
	meta, dirName, ok := s.snapshot(path)
	if !ok {
		return nil, false, ErrStreamNotFound
	}
	if meta.IsExpired() {
		s.expire(path)
		return nil, false, ErrStreamNotFound
	}

	if !offset.LessThan(meta.CurrentOffset) {
		return nil, true, nil
	}

	segPath := filepath.Join(s.dataDir, "streams", dirName, SegmentFileName)
	reader, err := NewSegmentReader(segPath)
	if err != nil {
		return nil, false, fmt.Errorf("open segment: %w", err)
	}
	defer reader.Close()

	messages, end, err := reader.ReadFrom(offset)
	if err != nil {
		return nil, false, err
	}

	upToDate := !end.LessThan(meta.CurrentOffset)
	return messages, upToDate, nil
}

// WaitForMessages blocks until messages past offset are committed, the
// timeout fires, or ctx is cancelled. Deleting the stream wakes the wait
// with ErrStreamNotFound.
func (s *FileStore) WaitForMessages(ctx context.Context, path string, offset Offset, timeout time.Duration) ([]Message, bool, error) {
	messages, _, err := s.Read(path, offset)
	if err != nil {
		return nil, false, err
	}
	if len(messages) > 0 {
		return messages, false, nil
	}

	ch, cancel := s.registry.Register(path)
	defer cancel()

	// Re-check after registering so a write racing the first read is not
	// missed.
	messages, _, err = s.Read(path, offset)
	if err != nil {
		return nil, false, err
	}
	if len(messages) > 0 {
		return messages, false, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case reason := <-ch:
			if reason == WakeGone {
				return nil, false, ErrStreamNotFound
			}
			messages, _, err := s.Read(path, offset)
			if err != nil {
				return nil, false, err
			}
			if len(messages) > 0 {
				return messages, false, nil
			}
			// Spurious wake; keep waiting.
		case <-timer.C:
			return nil, true, nil
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

// CurrentOffset returns the stream's tail offset.
func (s *FileStore) CurrentOffset(path string) (Offset, error) {
	meta, err := s.Get(path)
	if err != nil {
		return Offset{}, err
	}
	return meta.CurrentOffset, nil
}

// Close stops the sweeper and releases pools, watcher and index.
func (s *FileStore) Close() error {
	close(s.cleanupStop)
	<-s.cleanupDone

	var lastErr error
	if s.watcher != nil {
		if err := s.watcher.Close(); err != nil {
			lastErr = err
		}
	}
	if err := s.pool.Close(); err != nil {
		lastErr = err
	}
	if err := s.index.Close(); err != nil {
		lastErr = err
	}
	return lastErr
}

func (s *FileStore) sweepLoop(interval time.Duration) {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.cleanupStop:
			return
		case <-ticker.C:
			s.sweepExpired()
		}
	}
}

// sweepExpired removes every expired stream.
func (s *FileStore) sweepExpired() {
	s.cacheMu.RLock()
	var expired []string
	for path, meta := range s.metaCache {
		if meta.IsExpired() {
			expired = append(expired, path)
		}
	}
	s.cacheMu.RUnlock()

	for _, path := range expired {
		s.expire(path)
	}
	if len(expired) > 0 {
		s.logger.Info("swept expired streams", zap.Int("count", len(expired)))
	}
}

// generateDirectoryName builds the on-disk directory name for a stream:
// <url-safe-path>~<creation-millis>~<random-suffix>. The unique suffix lets
// Delete rename the directory out of the way without racing re-creation.
func generateDirectoryName(path string) (string, error) {
	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s~%d~%s",
		url.PathEscape(path),
		time.Now().UnixMilli(),
		hex.EncodeToString(randomBytes)), nil
}

var _ Store = (*FileStore)(nil)
