// Package acquire keeps a local copy of each tracked video on disk.
package acquire

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"reddit-mirror-bot/pkg/mirror"
	"reddit-mirror-bot/storage"
)

// Fetcher produces <dir>/<id>.<ext> for a video.
type Fetcher interface {
	Download(ctx context.Context, dir, id string) error
}

// Suffixes left behind by interrupted downloads.
var partialSuffixes = []string{".part", ".ytdl", ".temp"}

// Manager materializes video files and records the outcome.
type Manager struct {
	fetcher     Fetcher
	logger      *slog.Logger
	now         func() time.Time
	dir         string
	maxAttempts int
}

// New creates a manager storing files in dir. Each video gets at most
// maxAttempts tool invocations over its lifetime.
func New(fetcher Fetcher, dir string, maxAttempts int, logger *slog.Logger) *Manager {
	return &Manager{
		fetcher:     fetcher,
		logger:      logger,
		now:         time.Now,
		dir:         dir,
		maxAttempts: maxAttempts,
	}
}

// Dir returns the download directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Acquire ensures a record and, where the lifecycle still allows it, a local
// file for video id. A file already on disk always wins over the stored
// state, so a completed download is never repeated.
//
// Acquisition failures are reported through the returned record's state,
// not the error; the error is reserved for storage failures.
func (m *Manager) Acquire(ctx context.Context, tx *storage.Tx, id, permalink string) (*mirror.Video, error) {
	v, created, err := tx.EnsureVideo(ctx, id, permalink, m.now())
	if err != nil {
		return nil, fmt.Errorf("ensure video: %w", err)
	}
	if created {
		m.logger.Info("New video discovered", "video_id", id, "permalink", permalink)
	}

	switch v.State {
	case mirror.VideoReposted, mirror.VideoStale, mirror.VideoPurged:
		return v, nil
	case mirror.VideoDiscovered, mirror.VideoDownloaded, mirror.VideoError:
	}

	if path := Locate(m.dir, id); path != "" {
		if v.State == mirror.VideoDownloaded && v.LocalPath == path {
			return v, nil
		}
		m.logger.Info("Found existing local copy", "video_id", id, "path", path)
		return v, m.record(ctx, tx, v, path)
	}

	if v.AcquisitionAttempts >= m.maxAttempts {
		m.logger.Debug("Acquisition attempts exhausted", "video_id", id, "attempts", v.AcquisitionAttempts)
		if v.State == mirror.VideoDownloaded {
			// Recorded as downloaded but the file is gone.
			return v, m.record(ctx, tx, v, "")
		}
		return v, nil
	}

	v.AcquisitionAttempts++
	dlErr := m.fetcher.Download(ctx, m.dir, id)
	path := Locate(m.dir, id)
	switch {
	case dlErr != nil:
		m.logger.Warn("Acquisition failed", "video_id", id, "attempt", v.AcquisitionAttempts, "error", dlErr)
		path = ""
	case path == "":
		m.logger.Warn("Download reported success but no file was found", "video_id", id, "dir", m.dir)
	}
	return v, m.record(ctx, tx, v, path)
}

// record moves v to Downloaded when path is set and to Error otherwise.
func (m *Manager) record(ctx context.Context, tx *storage.Tx, v *mirror.Video, path string) error {
	next := mirror.VideoError
	if path != "" {
		next = mirror.VideoDownloaded
	}
	if err := v.Transition(next); err != nil {
		return err
	}
	v.LocalPath = path
	v.ModifiedAt = m.now()
	if err := tx.SaveVideo(ctx, v); err != nil {
		return fmt.Errorf("save video: %w", err)
	}
	return nil
}

// Locate returns the first complete file in dir named <id>.<ext>, or "".
func Locate(dir, id string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, id+".") || partial(name) {
			continue
		}
		return filepath.Join(dir, name)
	}
	return ""
}

func partial(name string) bool {
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}
