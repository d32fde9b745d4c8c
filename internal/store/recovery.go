package store

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// recoverStreams reconciles the metadata index against the segment files at
// startup. The segment file is the source of truth: index entries without a
// segment are dropped, offsets that disagree with the file are rewritten,
// and directories with no index entry are removed.
func recoverStreams(index MetadataIndex, streamsDir string, logger *zap.Logger) error {
	type entry struct {
		meta    *StreamMetadata
		dirName string
	}
	var entries []entry
	err := index.ForEach(func(meta *StreamMetadata, dirName string) error {
		entries = append(entries, entry{meta: meta, dirName: dirName})
		return nil
	})
	if err != nil {
		return err
	}

	var recovered, reconciled, dropped, orphans int
	referenced := make(map[string]bool, len(entries))

	for _, e := range entries {
		segPath := filepath.Join(streamsDir, e.dirName, SegmentFileName)
		if _, err := os.Stat(segPath); os.IsNotExist(err) {
			if err := index.Delete(e.meta.Path); err != nil {
				logger.Warn("failed to drop orphaned metadata",
					zap.String("stream", e.meta.Path), zap.Error(err))
				continue
			}
			dropped++
			continue
		}
		referenced[e.dirName] = true

		trueOffset, err := ScanTrueOffset(segPath)
		if err != nil {
			logger.Warn("failed to scan segment",
				zap.String("stream", e.meta.Path), zap.Error(err))
			continue
		}
		// Cut off a torn tail so later appends start at the true offset.
		if info, err := os.Stat(segPath); err == nil && info.Size() > int64(trueOffset.ByteOffset) {
			if err := os.Truncate(segPath, int64(trueOffset.ByteOffset)); err != nil {
				logger.Warn("failed to truncate torn segment tail",
					zap.String("stream", e.meta.Path), zap.Error(err))
				continue
			}
		}
		if !trueOffset.Equal(e.meta.CurrentOffset) {
			if err := index.UpdateOffset(e.meta.Path, trueOffset, ""); err != nil {
				logger.Warn("failed to reconcile offset",
					zap.String("stream", e.meta.Path), zap.Error(err))
				continue
			}
			reconciled++
		}
		recovered++
	}

	dirs, err := os.ReadDir(streamsDir)
	if err != nil {
		return err
	}
	for _, d := range dirs {
		if !d.IsDir() || referenced[d.Name()] {
			continue
		}
		// Unreferenced directories are either leftovers from an interrupted
		// delete (.deleted~ suffix) or creations that never reached the
		// index; both are safe to remove.
		if err := os.RemoveAll(filepath.Join(streamsDir, d.Name())); err != nil {
			logger.Warn("failed to remove orphan directory",
				zap.String("dir", d.Name()), zap.Error(err))
			continue
		}
		orphans++
		if !strings.Contains(d.Name(), ".deleted~") {
			logger.Debug("removed orphan stream directory", zap.String("dir", d.Name()))
		}
	}

	logger.Info("stream recovery complete",
		zap.Int("recovered", recovered),
		zap.Int("reconciled", reconciled),
		zap.Int("dropped", dropped),
		zap.Int("orphans_removed", orphans))
	return nil
}
