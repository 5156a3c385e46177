package poll

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"reddit-mirror-bot/pkg/mirror"
	"reddit-mirror-bot/reply"
	"reddit-mirror-bot/storage"
)

// MarkStale expires downloaded videos and pending summons discovered more
// than the hold window ago. Each expired summon is answered in the unit of
// work that marks it, so a failed reply leaves it pending for the next run.
func (m *Monitor) MarkStale(ctx context.Context) error {
	now := m.now()
	cutoff := now.Add(-m.opts.Hold)

	var videos int
	var expired []*mirror.Mention
	err := m.store.WithTx(ctx, func(tx *storage.Tx) error {
		videos, expired = 0, nil

		downloaded, err := tx.VideosByState(ctx, mirror.VideoDownloaded)
		if err != nil {
			return err
		}
		for _, v := range downloaded {
			if !v.DiscoveredAt.Before(cutoff) {
				continue
			}
			if err := v.Transition(mirror.VideoStale); err != nil {
				return err
			}
			v.ModifiedAt = now
			if err := tx.SaveVideo(ctx, v); err != nil {
				return err
			}
			videos++
		}

		pending, err := tx.Mentions(ctx, "", mirror.MentionPending)
		if err != nil {
			return err
		}
		for _, mn := range pending {
			if mn.DiscoveredAt.Before(cutoff) {
				expired = append(expired, mn)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark stale: %w", err)
	}

	var answered int
	var errs []error
	for _, mn := range expired {
		err := m.store.WithTx(ctx, func(tx *storage.Tx) error {
			current, err := tx.Mention(ctx, mn.Permalink)
			if err != nil {
				return err
			}
			if current.State != mirror.MentionPending {
				return nil
			}
			if err := current.Transition(mirror.MentionStale); err != nil {
				return err
			}
			if err := tx.SaveMention(ctx, current); err != nil {
				return err
			}
			target := m.forum.CommentTarget(current.Permalink)
			_, err = m.replier.Error(ctx, target, reply.Expired(watchURL(current.VideoID), m.opts.Hold))
			return err
		})
		if err != nil {
			m.logger.Warn("Failed to expire summon, retrying next run", "permalink", mn.Permalink, "error", err)
			errs = append(errs, fmt.Errorf("expire %s: %w", mn.Permalink, err))
			continue
		}
		answered++
	}

	m.logger.Info("Staleness check completed",
		"cutoff", cutoff,
		"stale_videos", videos,
		"stale_mentions", answered,
		"failed_mentions", len(errs))
	return errors.Join(errs...)
}

// Purge deletes the local copy of every stale video and of every reposted
// video still holding one, then tombstones the record as Purged. File
// removal is best effort.
func (m *Monitor) Purge(ctx context.Context) error {
	var candidates []*mirror.Video
	err := m.store.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		candidates, err = tx.VideosByState(ctx, mirror.VideoStale, mirror.VideoReposted)
		return err
	})
	if err != nil {
		return fmt.Errorf("list purge candidates: %w", err)
	}

	var purged int
	var errs []error
	for _, v := range candidates {
		if v.State == mirror.VideoReposted && !v.HasFile() {
			continue
		}
		err := m.store.WithTx(ctx, func(tx *storage.Tx) error {
			if v.HasFile() {
				m.logger.Info("Removing local copy", "video_id", v.ID, "path", v.LocalPath)
				if err := os.Remove(v.LocalPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
					m.logger.Warn("Failed to remove local copy", "video_id", v.ID, "path", v.LocalPath, "error", err)
				}
			}
			if err := v.Transition(mirror.VideoPurged); err != nil {
				return err
			}
			v.LocalPath = ""
			v.ModifiedAt = m.now()
			return tx.SaveVideo(ctx, v)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("purge %s: %w", v.ID, err))
			continue
		}
		purged++
	}

	m.logger.Info("Purge completed", "candidates", len(candidates), "purged", purged)
	return errors.Join(errs...)
}
