package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
)

// snapshotObject is the part of a Cloud Storage object handle a Snapshot uses.
type snapshotObject interface {
	NewReader(ctx context.Context) (io.ReadCloser, error)
	// NewWriter commits on Close unless ctx was cancelled first.
	NewWriter(ctx context.Context) io.WriteCloser
}

type gcsObject struct {
	handle *gcs.ObjectHandle
}

func (o gcsObject) NewReader(ctx context.Context) (io.ReadCloser, error) {
	return o.handle.NewReader(ctx)
}

func (o gcsObject) NewWriter(ctx context.Context) io.WriteCloser {
	w := o.handle.NewWriter(ctx)
	w.ContentType = "application/vnd.sqlite3"
	return w
}

// Snapshot copies the database file to and from a Cloud Storage bucket, so
// deployments on ephemeral disks keep their state between runs.
type Snapshot struct {
	obj      snapshotObject
	logger   *slog.Logger
	bucket   string
	object   string
	attempts uint
}

// NewSnapshot creates a snapshot handler storing object in bucket.
func NewSnapshot(client *gcs.Client, bucket, object string, logger *slog.Logger) *Snapshot {
	return &Snapshot{
		obj:      gcsObject{handle: client.Bucket(bucket).Object(object)},
		logger:   logger,
		bucket:   bucket,
		object:   object,
		attempts: 3,
	}
}

// Restore downloads the snapshot to localPath unless a local database
// already exists. It reports whether a file was written.
func (s *Snapshot) Restore(ctx context.Context, localPath string) (bool, error) {
	if _, err := os.Stat(localPath); err == nil {
		s.logger.Debug("Local database present, skipping restore", "path", localPath)
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return false, fmt.Errorf("create database directory: %w", err)
	}

	tmp := localPath + ".restore"
	missing := false
	err := retry.Do(
		func() error {
			r, openErr := s.obj.NewReader(ctx)
			if openErr != nil {
				if errors.Is(openErr, gcs.ErrObjectNotExist) {
					missing = true
					return nil
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					s.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			f, createErr := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
			if createErr != nil {
				return retry.Unrecoverable(fmt.Errorf("create restore file: %w", createErr))
			}
			if _, copyErr := io.Copy(f, r); copyErr != nil {
				_ = f.Close()
				return fmt.Errorf("read from storage: %w", copyErr)
			}
			return f.Close()
		},
		retry.Attempts(s.attempts),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying snapshot restore after error", "attempt", n, "object", s.object, "error", retryErr)
		}),
	)
	if err != nil {
		_ = os.Remove(tmp)
		return false, fmt.Errorf("restore after retries: %w", err)
	}
	if missing {
		s.logger.Info("No snapshot in bucket, starting fresh", "bucket", s.bucket, "object", s.object)
		return false, nil
	}
	if err := os.Rename(tmp, localPath); err != nil {
		return false, fmt.Errorf("move restored database: %w", err)
	}

	s.logger.Info("Database restored from snapshot", "bucket", s.bucket, "object", s.object, "path", localPath)
	return true, nil
}

// Save uploads localPath as the new snapshot. Callers checkpoint the WAL first.
func (s *Snapshot) Save(ctx context.Context, localPath string) error {
	err := retry.Do(
		func() error {
			f, openErr := os.Open(localPath)
			if openErr != nil {
				return retry.Unrecoverable(fmt.Errorf("open database file: %w", openErr))
			}
			defer func() {
				if closeErr := f.Close(); closeErr != nil {
					s.logger.Warn("Failed to close database file", "error", closeErr)
				}
			}()

			// Cancelling wctx before Close aborts the upload and leaves the
			// previous snapshot in place.
			wctx, cancel := context.WithCancel(ctx)
			defer cancel()
			w := s.obj.NewWriter(wctx)
			if _, writeErr := io.Copy(w, f); writeErr != nil {
				cancel()
				_ = w.Close()
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(s.attempts),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying snapshot save after error", "attempt", n, "object", s.object, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}

	s.logger.Info("Database snapshot saved", "bucket", s.bucket, "object", s.object)
	return nil
}
