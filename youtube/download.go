package youtube

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Downloader runs an external youtube-dl compatible program.
type Downloader struct {
	logger  *slog.Logger
	path    string
	timeout time.Duration
}

// NewDownloader creates a downloader invoking the program at path.
// A zero timeout means no limit beyond ctx.
func NewDownloader(path string, timeout time.Duration, logger *slog.Logger) *Downloader {
	return &Downloader{
		logger:  logger,
		path:    path,
		timeout: timeout,
	}
}

// Download fetches video id into dir as <id>.<ext>. It runs the program once
// and returns an error when the program exits non-zero.
func (d *Downloader) Download(ctx context.Context, dir, id string) error {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	output := filepath.Join(dir, "%(id)s.%(ext)s")
	// "--" stops identifiers with a leading dash from being read as flags.
	cmd := exec.CommandContext(ctx, d.path, "--quiet", "--output", output, "--", id)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	d.logger.Info("Download starting", "video_id", id, "dir", dir, "program", d.path)
	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)
	if err != nil {
		d.logger.Warn("Download failed",
			"video_id", id,
			"duration_ms", duration.Milliseconds(),
			"stderr", strings.TrimSpace(stderr.String()),
			"error", err)
		return fmt.Errorf("run %s for %s: %w", filepath.Base(d.path), id, err)
	}

	d.logger.Info("Download completed", "video_id", id, "duration_ms", duration.Milliseconds())
	return nil
}
