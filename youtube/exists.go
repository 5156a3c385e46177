package youtube

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"
)

// TransientError means the existence of a video could not be determined.
// Callers skip the video for this cycle and ask again next time.
type TransientError struct {
	ID  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("existence check for %s: %v", e.ID, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient checks if an error is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Checker asks the YouTube Data API whether videos are still online.
type Checker struct {
	svc    *yt.Service
	logger *slog.Logger
}

// NewChecker creates a checker authenticated with a developer API key.
// Extra options are appended, which tests use to point at a fake endpoint.
func NewChecker(ctx context.Context, apiKey string, logger *slog.Logger, opts ...option.ClientOption) (*Checker, error) {
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	return &Checker{svc: svc, logger: logger}, nil
}

// Exists reports whether the video is still publicly listed.
func (c *Checker) Exists(ctx context.Context, id string) (bool, error) {
	var found bool
	err := retry.Do(
		func() error {
			start := time.Now()
			resp, err := c.svc.Videos.List([]string{"id"}).Id(id).Context(ctx).Do()
			if err != nil {
				c.logger.Warn("Video lookup failed", "video_id", id, "duration_ms", time.Since(start).Milliseconds(), "error", err)
				return err
			}
			found = len(resp.Items) > 0 || (resp.PageInfo != nil && resp.PageInfo.TotalResults > 0)
			c.logger.Debug("Video lookup completed", "video_id", id, "exists", found, "duration_ms", time.Since(start).Milliseconds())
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying video lookup after error", "attempt", n, "video_id", id, "error", err)
		}),
		retry.RetryIf(retryable),
	)
	if err != nil {
		return false, &TransientError{ID: id, Err: err}
	}
	return found, nil
}

// retryable keeps client errors such as quota exhaustion from being retried.
func retryable(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code >= http.StatusInternalServerError || apiErr.Code == http.StatusTooManyRequests
	}
	return true
}
