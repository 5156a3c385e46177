// Package main runs the video mirror bot: it watches subreddits for
// YouTube links, keeps local copies and reposts them to the mirror host
// when enough users ask for it or the original disappears.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"reddit-mirror-bot/config"
	"reddit-mirror-bot/poll"
	"reddit-mirror-bot/server"
)

// actions maps each CLI action to the lifecycle operation it runs.
var actions = map[string]func(*poll.Monitor, context.Context) error{
	"monitor":     (*poll.Monitor).Monitor,
	"deleted":     (*poll.Monitor).MonitorOriginDeletion,
	"check_stale": (*poll.Monitor).MarkStale,
	"purge":       (*poll.Monitor).Purge,
}

func actionNames() []string {
	names := make([]string, 0, len(actions))
	for name := range actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type options struct {
	configPath string
	verbose    bool
	schedule   string
	listen     string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "mirrorbot <monitor|deleted|check_stale|purge>",
		Short: "Mirror YouTube videos posted to Reddit before they disappear",
		Long: `Run one lifecycle action against the bot's state database.

  monitor      discover posts and summons, repost videos that reached the score threshold
  deleted      repost downloaded videos whose original was removed
  check_stale  expire data older than the hold window
  purge        delete local copies of stale and reposted videos

With --schedule the action repeats on a cron schedule until interrupted.`,
		ValidArgs:    actionNames(),
		Args:         cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd.Context(), opts, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to config.yaml (default ./config.yaml)")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	cmd.Flags().StringVar(&opts.schedule, "schedule", "", `cron spec to repeat the action on, e.g. "@every 15m"`)
	cmd.Flags().StringVar(&opts.listen, "listen", "", "address for /health and /pollz while scheduled, e.g. :8080")

	return cmd
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
}

func execute(ctx context.Context, opts *options, action string) error {
	logger := newLogger(opts.verbose)
	slog.SetDefault(logger)

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		return err
	}

	r := &runner{cfg: cfg, action: action, logger: logger}
	if opts.schedule == "" && opts.listen == "" {
		return r.Run(ctx)
	}
	return daemon(ctx, r, opts, logger)
}

// runner runs one action per call and never two at once.
type runner struct {
	cfg    *config.Config
	action string
	logger *slog.Logger

	mu sync.Mutex
}

func (r *runner) Run(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return run(ctx, r.cfg, r.action, r.logger)
}

// daemon repeats the action on a schedule and serves the trigger endpoints
// until SIGINT or SIGTERM.
func daemon(ctx context.Context, r *runner, opts *options, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.schedule != "" {
		c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
		if _, err := c.AddFunc(opts.schedule, func() {
			if err := r.Run(ctx); err != nil {
				logger.Error("Scheduled run failed", "action", r.action, "error", err)
			}
		}); err != nil {
			return fmt.Errorf("parse schedule %q: %w", opts.schedule, err)
		}
		c.Start()
		logger.Info("Scheduler started", "action", r.action, "schedule", opts.schedule)
		defer func() {
			<-c.Stop().Done()
			logger.Info("Scheduler stopped")
		}()
	}

	if opts.listen != "" {
		err := server.New(r, r.action, logger).ListenAndServe(ctx, opts.listen)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}

	<-ctx.Done()
	logger.Info("Shutting down", "reason", ctx.Err())
	return nil
}
