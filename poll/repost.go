package poll

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"reddit-mirror-bot/pkg/mirror"
	"reddit-mirror-bot/reply"
	"reddit-mirror-bot/storage"
	"reddit-mirror-bot/uploader"
)

// summonGroup is the set of pending summons under one forum post.
type summonGroup struct {
	post     string
	videoID  string
	score    int
	mentions []*mirror.Mention
}

// ScoreAndRepost sums the current score of the pending summons under each
// post and publishes the video once the sum reaches the threshold.
func (m *Monitor) ScoreAndRepost(ctx context.Context, ch Channel) error {
	var pending []*mirror.Mention
	err := m.store.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		pending, err = tx.Mentions(ctx, ch.Name, mirror.MentionPending)
		return err
	})
	if err != nil {
		return fmt.Errorf("list pending mentions: %w", err)
	}

	groups := make(map[string]*summonGroup)
	var order []string
	for _, mn := range pending {
		c, err := m.forum.Comment(ctx, mn.Permalink)
		if err != nil {
			m.logger.Warn("Failed to fetch summon comment", "permalink", mn.Permalink, "error", err)
			continue
		}
		g, ok := groups[c.ParentPermalink]
		if !ok {
			g = &summonGroup{post: c.ParentPermalink, videoID: mn.VideoID}
			groups[c.ParentPermalink] = g
			order = append(order, c.ParentPermalink)
		}
		g.score += c.Score
		g.mentions = append(g.mentions, mn)
	}

	var errs []error
	for _, post := range order {
		g := groups[post]
		m.logger.Debug("Summon score",
			"channel", ch.Name,
			"post", g.post,
			"video_id", g.videoID,
			"score", g.score,
			"threshold", m.opts.Threshold)
		if g.score < m.opts.Threshold {
			continue
		}

		m.logger.Info("Summon threshold reached", "video_id", g.videoID, "score", g.score, "summons", len(g.mentions))
		v, err := m.repost(ctx, g.videoID, time.Time{})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := m.settle(ctx, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MonitorOriginDeletion reposts every downloaded video whose original has
// disappeared, regardless of its summon score, then answers the origin post
// of every such repost not yet answered.
func (m *Monitor) MonitorOriginDeletion(ctx context.Context) error {
	var videos []*mirror.Video
	err := m.store.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		videos, err = tx.VideosByState(ctx, mirror.VideoDownloaded)
		return err
	})
	if err != nil {
		return fmt.Errorf("list downloaded videos: %w", err)
	}

	m.logger.Info("Checking originals", "count", len(videos))
	var deleted int
	var errs []error
	for _, v := range videos {
		if err := ctx.Err(); err != nil {
			return err
		}

		exists, err := m.checker.Exists(ctx, v.ID)
		if err != nil {
			m.logger.Warn("Existence check failed, retrying next cycle", "video_id", v.ID, "error", err)
			continue
		}
		if exists {
			continue
		}
		deleted++
		m.logger.Info("Original video deleted", "video_id", v.ID, "permalink", v.OriginPermalink)

		target := m.forum.SubmissionTarget(v.OriginPermalink)
		replied, err := m.replier.Replied(ctx, target)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if replied {
			m.logger.Info("Origin post already answered", "video_id", v.ID, "permalink", v.OriginPermalink)
			continue
		}

		got, err := m.repost(ctx, v.ID, m.now())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := m.settle(ctx, got); err != nil {
			errs = append(errs, err)
		}
	}

	if err := m.notifyOrigins(ctx); err != nil {
		errs = append(errs, err)
	}

	m.logger.Info("Origin check completed", "checked", len(videos), "deleted", deleted)
	return errors.Join(errs...)
}

// notifyOrigins posts the mirror link on the origin post of every video
// reposted because its original was deleted. The reply and the
// OriginNotifiedAt stamp share a unit of work, so a failed reply is retried
// on the next run.
func (m *Monitor) notifyOrigins(ctx context.Context) error {
	var candidates []*mirror.Video
	err := m.store.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		candidates, err = tx.VideosByState(ctx, mirror.VideoReposted, mirror.VideoPurged)
		return err
	})
	if err != nil {
		return fmt.Errorf("list reposted videos: %w", err)
	}

	var errs []error
	for _, v := range candidates {
		if v.DeletedAt.IsZero() || !v.OriginNotifiedAt.IsZero() {
			continue
		}
		err := m.store.WithTx(ctx, func(tx *storage.Tx) error {
			current, err := tx.Video(ctx, v.ID)
			if err != nil {
				return err
			}
			if !current.OriginNotifiedAt.IsZero() {
				return nil
			}
			target := m.forum.SubmissionTarget(current.OriginPermalink)
			if _, err := m.replier.Success(ctx, target, current.MirrorID); err != nil {
				return err
			}
			current.OriginNotifiedAt = m.now()
			return tx.SaveVideo(ctx, current)
		})
		if err != nil {
			m.logger.Warn("Failed to answer origin post, retrying next run", "video_id", v.ID, "permalink", v.OriginPermalink, "error", err)
			errs = append(errs, fmt.Errorf("notify origin of %s: %w", v.ID, err))
			continue
		}
		m.logger.Info("Origin post answered", "video_id", v.ID, "permalink", v.OriginPermalink)
	}
	return errors.Join(errs...)
}

// repost publishes video id if, and only if, it is still Downloaded. The
// state check, the upload and the move to Reposted share one unit of work,
// so a second trigger for the same video observes Reposted and does
// nothing.
func (m *Monitor) repost(ctx context.Context, id string, deletedAt time.Time) (v *mirror.Video, err error) {
	err = m.store.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		v, err = tx.Video(ctx, id)
		if err != nil {
			return fmt.Errorf("load video: %w", err)
		}
		if v.State != mirror.VideoDownloaded {
			m.logger.Debug("Video not awaiting repost", "video_id", id, "state", v.State)
			return nil
		}

		if _, err := os.Stat(v.LocalPath); err != nil {
			m.logger.Warn("Local copy missing, giving up", "video_id", id, "path", v.LocalPath, "error", err)
			if err := v.Transition(mirror.VideoStale); err != nil {
				return err
			}
			v.ModifiedAt = m.now()
			return tx.SaveVideo(ctx, v)
		}

		item, err := m.item(ctx, v)
		if err != nil {
			return err
		}

		start := time.Now()
		mirrorID, err := m.publisher.Upload(ctx, v.LocalPath, item)
		if errors.Is(err, uploader.ErrDryRun) {
			m.logger.Info("Dry run, video not published", "video_id", id)
			return nil
		}
		if err != nil {
			if uploader.IsProtocolError(err) && m.alerter != nil {
				if alertErr := m.alerter.ProtocolFailure(ctx, id, err); alertErr != nil {
					m.logger.Warn("Failed to alert operator", "video_id", id, "error", alertErr)
				}
			}
			return fmt.Errorf("upload %s: %w", id, err)
		}

		if err := v.Transition(mirror.VideoReposted); err != nil {
			return err
		}
		v.MirrorID = mirrorID
		v.ModifiedAt = m.now()
		if !deletedAt.IsZero() {
			v.DeletedAt = deletedAt
		}
		if err := tx.SaveVideo(ctx, v); err != nil {
			return fmt.Errorf("save video: %w", err)
		}
		m.logger.Info("Video reposted",
			"video_id", id,
			"mirror_id", mirrorID,
			"origin_deleted", !deletedAt.IsZero(),
			"duration_ms", time.Since(start).Milliseconds())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// item builds the mirror-host metadata from the origin post.
func (m *Monitor) item(ctx context.Context, v *mirror.Video) (uploader.Item, error) {
	post, err := m.forum.Post(ctx, v.OriginPermalink)
	if err != nil {
		return uploader.Item{}, fmt.Errorf("fetch origin post: %w", err)
	}
	category, err := m.category(post.Channel)
	if err != nil {
		return uploader.Item{}, err
	}
	return uploader.Item{
		Title:    post.Title,
		Body:     fmt.Sprintf("repost of %s from %s", watchURL(v.ID), absolute(post.Permalink)),
		Tags:     post.Channel,
		Category: category,
	}, nil
}

// settle answers the pending summons of v once v has an outcome: the mirror
// link when reposted, a diagnostic when the video was given up. Each summon
// is its own unit of work, so a failed reply leaves it pending for retry.
func (m *Monitor) settle(ctx context.Context, v *mirror.Video) error {
	var next mirror.MentionState
	switch v.State {
	case mirror.VideoReposted:
		next = mirror.MentionFulfilled
	case mirror.VideoStale, mirror.VideoPurged:
		next = mirror.MentionStale
	case mirror.VideoDiscovered, mirror.VideoDownloaded, mirror.VideoError:
		return nil
	}

	var pending []*mirror.Mention
	err := m.store.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		pending, err = tx.MentionsForVideo(ctx, v.ID, mirror.MentionPending)
		return err
	})
	if err != nil {
		return fmt.Errorf("list mentions of %s: %w", v.ID, err)
	}

	var errs []error
	for _, mn := range pending {
		err := m.store.WithTx(ctx, func(tx *storage.Tx) error {
			// A concurrent trigger may have settled it already.
			current, err := tx.Mention(ctx, mn.Permalink)
			if err != nil {
				return err
			}
			if current.State != mirror.MentionPending {
				return nil
			}
			if err := current.Transition(next); err != nil {
				return err
			}
			if err := tx.SaveMention(ctx, current); err != nil {
				return err
			}
			target := m.forum.CommentTarget(current.Permalink)
			if next == mirror.MentionFulfilled {
				_, err = m.replier.Success(ctx, target, v.MirrorID)
				return err
			}
			_, err = m.replier.Error(ctx, target, reply.Unavailable(watchURL(v.ID)))
			return err
		})
		if err != nil {
			m.logger.Warn("Failed to settle summon", "permalink", mn.Permalink, "video_id", v.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		m.logger.Info("Summon settled", "permalink", mn.Permalink, "video_id", v.ID, "state", next)
	}
	return errors.Join(errs...)
}
