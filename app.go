package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"reddit-mirror-bot/acquire"
	"reddit-mirror-bot/config"
	"reddit-mirror-bot/email"
	"reddit-mirror-bot/poll"
	"reddit-mirror-bot/reddit"
	"reddit-mirror-bot/reply"
	"reddit-mirror-bot/storage"
	"reddit-mirror-bot/uploader"
	"reddit-mirror-bot/youtube"
)

// app is the wiring for one run.
type app struct {
	logger   *slog.Logger
	store    *storage.Store
	snapshot *storage.Snapshot
	gcs      *gcs.Client
	monitor  *poll.Monitor
}

// run executes one action with fresh clients and a run-scoped logger, then
// persists the state database.
func run(ctx context.Context, cfg *config.Config, action string, base *slog.Logger) error {
	op, ok := actions[action]
	if !ok {
		return fmt.Errorf("unknown action %q", action)
	}

	logger := base.With("run_id", uuid.NewString(), "action", action)
	start := time.Now()
	logger.Info("Run starting")

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize", "error", err)
		return err
	}
	defer a.close()

	runErr := op(a.monitor, ctx)
	if err := a.persist(ctx); err != nil {
		logger.Error("Failed to persist state", "error", err)
		runErr = errors.Join(runErr, err)
	}

	if runErr != nil {
		logger.Error("Run failed", "duration_ms", time.Since(start).Milliseconds(), "error", runErr)
		return runErr
	}
	logger.Info("Run completed", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if cfg.StateBucket != "" {
		a.gcs, err = gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		a.snapshot = storage.NewSnapshot(a.gcs, cfg.StateBucket, filepath.Base(cfg.DBPath), logger)
		if _, err := a.snapshot.Restore(ctx, cfg.DBPath); err != nil {
			return nil, fmt.Errorf("restore state: %w", err)
		}
	}

	a.store, err = storage.Open(cfg.DBPath, logger)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.VideoPath, 0o755); err != nil {
		return nil, fmt.Errorf("create video directory: %w", err)
	}

	forum, err := reddit.New(ctx, reddit.Config{
		Username:     cfg.Reddit.Username,
		Password:     cfg.Reddit.Password,
		ClientID:     cfg.Reddit.ClientID,
		ClientSecret: cfg.Reddit.ClientSecret,
		UserAgent:    cfg.UserAgent,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to reddit: %w", err)
	}

	checker, err := youtube.NewChecker(ctx, cfg.DeveloperKey, logger)
	if err != nil {
		return nil, err
	}

	alerter, err := newAlerter(ctx, cfg.Alert, logger)
	if err != nil {
		return nil, err
	}

	publisher := uploader.New(uploader.Config{
		BaseURL:   cfg.Mirror.BaseURL,
		UploadURL: cfg.Mirror.UploadURL,
		ViewURL:   cfg.Mirror.ViewURL,
		Username:  cfg.Mirror.Username,
		Password:  cfg.Mirror.Password,
		UserAgent: cfg.UserAgent,
		DryRun:    cfg.Mirror.DryRun,
	}, &http.Client{Timeout: 30 * time.Minute}, logger)

	downloader := youtube.NewDownloader(cfg.Downloader.Path, cfg.Downloader.Timeout, logger)

	channels := make([]poll.Channel, 0, len(cfg.Subreddits))
	for _, sr := range cfg.Subreddits {
		channels = append(channels, poll.Channel{Name: sr.Name, Category: sr.Category, DownloadAll: sr.DownloadAll})
	}

	a.monitor = poll.New(a.store, poll.Deps{
		Forum:     forum,
		Acquirer:  acquire.New(downloader, cfg.VideoPath, cfg.MaxAttempts, logger),
		Publisher: publisher,
		Checker:   checker,
		Replier:   reply.New(cfg.BotName, cfg.Mirror.ViewURL, logger),
		Alerter:   alerter,
	}, poll.Options{
		Channels:  channels,
		BotName:   cfg.BotName,
		Limit:     cfg.Limit,
		Threshold: cfg.Threshold,
		Hold:      cfg.Hold,
	}, logger)
	return a, nil
}

// persist flushes the WAL into the database file and uploads it when a
// state bucket is configured.
func (a *app) persist(ctx context.Context) error {
	if err := a.store.Checkpoint(ctx); err != nil {
		return err
	}
	if a.snapshot == nil {
		return nil
	}
	return a.snapshot.Save(ctx, a.store.Path())
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("Failed to close store", "error", err)
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("Failed to close storage client", "error", err)
		}
	}
}

// newAlerter returns nil when operator alerts are disabled.
func newAlerter(ctx context.Context, cfg config.Alert, logger *slog.Logger) (poll.Alerter, error) {
	var provider email.Provider
	switch cfg.Provider {
	case "":
		return nil, nil
	case "mock":
		provider = email.NewMockProvider(logger)
	case "gmail":
		svc, err := initGmailService(ctx, cfg.GoogleCredentialsJSON)
		if err != nil {
			return nil, fmt.Errorf("create gmail service: %w", err)
		}
		provider = email.NewGmailProvider(svc, logger)
	case "brevo":
		provider = email.NewBrevoProvider(cfg.BrevoAPIKey, cfg.From, logger)
	default:
		return nil, fmt.Errorf("unknown alert provider %q", cfg.Provider)
	}
	return email.NewAlerter(provider, cfg.To, logger), nil
}

// isGCP checks if we're running in a GCP environment by querying the metadata server.
func isGCP(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://metadata.google.internal/computeMetadata/v1/project/project-id", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Metadata-Flavor", "Google")

	resp, err := (&http.Client{Timeout: 2 * time.Second}).Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return resp.StatusCode == http.StatusOK
}

func initGmailService(ctx context.Context, credsJSON string) (*gmail.Service, error) {
	if credsJSON != "" {
		return gmail.NewService(ctx, option.WithCredentialsJSON([]byte(credsJSON)))
	}

	// On GCP the service account's default credentials are used.
	if isGCP(ctx) {
		return gmail.NewService(ctx)
	}

	return nil, errors.New("alert.google_credentials_json required when not running on GCP")
}
