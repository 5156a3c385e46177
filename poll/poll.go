// Package poll drives the mirror lifecycle: discovery, acquisition,
// solicitation scoring, publication, staleness and reclamation.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"reddit-mirror-bot/pkg/mirror"
	"reddit-mirror-bot/storage"
	"reddit-mirror-bot/uploader"
)

// Forum reads and answers the monitored channels.
type Forum interface {
	NewPosts(ctx context.Context, channel string, limit int) ([]mirror.Post, error)
	NewComments(ctx context.Context, channel string, limit int) ([]mirror.Comment, error)
	Post(ctx context.Context, permalink string) (*mirror.Post, error)
	Comment(ctx context.Context, permalink string) (*mirror.Comment, error)
	SubmissionTarget(permalink string) mirror.ReplyTarget
	CommentTarget(permalink string) mirror.ReplyTarget
}

// Acquirer materializes a local copy of a video inside a unit of work.
type Acquirer interface {
	Acquire(ctx context.Context, tx *storage.Tx, id, permalink string) (*mirror.Video, error)
}

// Publisher runs the full mirror-host upload pipeline for one file.
type Publisher interface {
	Upload(ctx context.Context, path string, item uploader.Item) (string, error)
}

// ExistenceChecker reports whether the original video is still online.
type ExistenceChecker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// Replier answers forum targets at most once.
type Replier interface {
	Replied(ctx context.Context, target mirror.ReplyTarget) (bool, error)
	Success(ctx context.Context, target mirror.ReplyTarget, mirrorID string) (bool, error)
	Error(ctx context.Context, target mirror.ReplyTarget, message string) (bool, error)
}

// Alerter tells the operator about failures that retrying will not fix.
type Alerter interface {
	ProtocolFailure(ctx context.Context, videoID string, cause error) error
}

// Channel is one monitored forum channel.
type Channel struct {
	Name        string
	Category    string // Mirror host category for reposts from this channel
	DownloadAll bool   // Acquire every linked video, not only summoned ones
}

// Options are the run-wide policy knobs.
type Options struct {
	Channels  []Channel
	BotName   string
	Limit     int           // Page size for post and comment listings
	Threshold int           // Net summon score needed for a repost
	Hold      time.Duration // How long unreposted data is kept
}

// Deps are the collaborators a Monitor drives. Alerter may be nil.
type Deps struct {
	Forum     Forum
	Acquirer  Acquirer
	Publisher Publisher
	Checker   ExistenceChecker
	Replier   Replier
	Alerter   Alerter
}

// Monitor runs the lifecycle operations. Each exported operation is safe to
// repeat: work already committed is recognized and skipped.
type Monitor struct {
	store     *storage.Store
	forum     Forum
	acquirer  Acquirer
	publisher Publisher
	checker   ExistenceChecker
	replier   Replier
	alerter   Alerter
	logger    *slog.Logger
	now       func() time.Time
	summon    *regexp.Regexp
	opts      Options

	mu     sync.Mutex
	failed map[string]bool // Videos whose acquisition failed this cycle
}

// New creates a monitor.
func New(store *storage.Store, deps Deps, opts Options, logger *slog.Logger) *Monitor {
	return &Monitor{
		store:     store,
		forum:     deps.Forum,
		acquirer:  deps.Acquirer,
		publisher: deps.Publisher,
		checker:   deps.Checker,
		replier:   deps.Replier,
		alerter:   deps.Alerter,
		logger:    logger,
		now:       time.Now,
		summon:    SummonPattern(opts.BotName),
		opts:      opts,
		failed:    make(map[string]bool),
	}
}

// SummonPattern matches "<bot> +<command>" anywhere in a comment, ignoring case.
func SummonPattern(botName string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + regexp.QuoteMeta(botName) + `\s+\+(\w+)`)
}

// Monitor runs one full cycle: retry failed acquisitions, then per channel
// discover posts, discover summons and score them, then check for deleted
// originals. A failing channel is logged and does not stop the others.
func (m *Monitor) Monitor(ctx context.Context) error {
	start := time.Now()
	m.logger.Info("Starting monitor cycle", "channels", len(m.opts.Channels))

	m.mu.Lock()
	clear(m.failed)
	m.mu.Unlock()

	if err := m.RetryFailed(ctx); err != nil {
		m.logger.Warn("Retrying failed acquisitions failed", "error", err)
	}

	var failed int
	for _, ch := range m.opts.Channels {
		select {
		case <-ctx.Done():
			m.logger.Info("Context cancelled, stopping monitor cycle", "error", ctx.Err())
			return ctx.Err()
		default:
		}

		if err := m.monitorChannel(ctx, ch); err != nil {
			failed++
			m.logger.Warn("Channel cycle failed", "channel", ch.Name, "error", err)
		}
	}

	if err := m.MonitorOriginDeletion(ctx); err != nil {
		m.logger.Warn("Origin deletion check failed", "error", err)
	}

	m.logger.Info("Monitor cycle completed",
		"channels", len(m.opts.Channels),
		"failed", failed,
		"duration_ms", time.Since(start).Milliseconds())

	if failed > 0 && failed == len(m.opts.Channels) {
		return fmt.Errorf("all %d channels failed", failed)
	}
	return nil
}

// monitorChannel runs the per-channel steps in order. Later steps still run
// when an earlier one fails, since each owns a separate watermark.
func (m *Monitor) monitorChannel(ctx context.Context, ch Channel) error {
	var errs []error
	if ch.DownloadAll {
		if err := m.DiscoverNew(ctx, ch); err != nil {
			errs = append(errs, fmt.Errorf("discover posts: %w", err))
		}
	}
	if err := m.DiscoverMentions(ctx, ch); err != nil {
		errs = append(errs, fmt.Errorf("discover mentions: %w", err))
	}
	if err := m.ScoreAndRepost(ctx, ch); err != nil {
		errs = append(errs, fmt.Errorf("score and repost: %w", err))
	}
	return errors.Join(errs...)
}

func (m *Monitor) cursor(ctx context.Context, channel string) (*mirror.Cursor, error) {
	var c *mirror.Cursor
	err := m.store.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		c, err = tx.Cursor(ctx, channel)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load cursor: %w", err)
	}
	return c, nil
}

func (m *Monitor) saveCursor(ctx context.Context, c *mirror.Cursor) error {
	err := m.store.WithTx(ctx, func(tx *storage.Tx) error {
		return tx.SaveCursor(ctx, c)
	})
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

func (m *Monitor) category(channel string) (string, error) {
	for _, ch := range m.opts.Channels {
		if strings.EqualFold(ch.Name, channel) {
			return ch.Category, nil
		}
	}
	return "", fmt.Errorf("no category configured for channel %q", channel)
}

func watchURL(id string) string {
	return "http://youtube.com/watch?v=" + id
}

func absolute(permalink string) string {
	if strings.HasPrefix(permalink, "/") {
		return "http://www.reddit.com" + permalink
	}
	return permalink
}
