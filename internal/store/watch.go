package store

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// segmentWatcher bridges OS file-change events into the waiter registry so
// that writes made by another process still wake blocked readers. The
// in-process Notify from Append remains the authoritative wake path; this is
// belt and braces for multi-process deployments.
type segmentWatcher struct {
	watcher  *fsnotify.Watcher
	registry *WaiterRegistry
	logger   *zap.Logger

	mu    sync.Mutex
	paths map[string]string // stream directory -> stream path
	done  chan struct{}
}

func newSegmentWatcher(registry *WaiterRegistry, logger *zap.Logger) (*segmentWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	sw := &segmentWatcher{
		watcher:  w,
		registry: registry,
		logger:   logger,
		paths:    make(map[string]string),
		done:     make(chan struct{}),
	}
	go sw.run()
	return sw, nil
}

// Watch starts watching a stream's directory.
func (w *segmentWatcher) Watch(streamDir, streamPath string) {
	w.mu.Lock()
	w.paths[streamDir] = streamPath
	w.mu.Unlock()

	if err := w.watcher.Add(streamDir); err != nil {
		w.logger.Warn("failed to watch stream directory",
			zap.String("dir", streamDir), zap.Error(err))
	}
}

// Unwatch stops watching a stream's directory.
func (w *segmentWatcher) Unwatch(streamDir string) {
	w.mu.Lock()
	delete(w.paths, streamDir)
	w.mu.Unlock()
	w.watcher.Remove(streamDir)
}

func (w *segmentWatcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) {
				continue
			}
			dir := filepath.Dir(event.Name)
			w.mu.Lock()
			streamPath, ok := w.paths[dir]
			w.mu.Unlock()
			if ok {
				w.registry.Notify(streamPath)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

func (w *segmentWatcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
