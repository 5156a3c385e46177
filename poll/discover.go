package poll

import (
	"context"
	"errors"
	"fmt"
	"time"

	"reddit-mirror-bot/pkg/mirror"
	"reddit-mirror-bot/reply"
	"reddit-mirror-bot/storage"
	"reddit-mirror-bot/youtube"
)

// RetryFailed gives every video in Error one more acquisition attempt. The
// acquirer refuses once the attempt ceiling is reached.
func (m *Monitor) RetryFailed(ctx context.Context) error {
	var failed []*mirror.Video
	err := m.store.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		failed, err = tx.VideosByState(ctx, mirror.VideoError)
		return err
	})
	if err != nil {
		return fmt.Errorf("list failed videos: %w", err)
	}

	for _, v := range failed {
		if err := ctx.Err(); err != nil {
			return err
		}
		var got *mirror.Video
		err := m.store.WithTx(ctx, func(tx *storage.Tx) error {
			var err error
			got, err = m.acquire(ctx, tx, v.ID, v.OriginPermalink)
			return err
		})
		if err != nil {
			return fmt.Errorf("acquire %s: %w", v.ID, err)
		}
		if got.State == mirror.VideoDownloaded {
			m.logger.Info("Recovered failed acquisition", "video_id", v.ID, "attempts", got.AcquisitionAttempts)
		}
	}
	return nil
}

// DiscoverNew acquires every video linked from posts newer than the
// channel's post watermark. The watermark only moves after the whole page
// is processed, so an interrupted run re-scans the same page.
func (m *Monitor) DiscoverNew(ctx context.Context, ch Channel) error {
	cursor, err := m.cursor(ctx, ch.Name)
	if err != nil {
		return err
	}

	posts, err := m.forum.NewPosts(ctx, ch.Name, m.opts.Limit)
	if err != nil {
		return fmt.Errorf("fetch new posts: %w", err)
	}

	newest := cursor.LastPostTime
	var videos int
	for _, p := range posts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.CreatedAt.Before(cursor.LastPostTime) {
			break
		}
		if p.CreatedAt.After(newest) {
			newest = p.CreatedAt
		}

		id := youtube.ExtractID(p.URL)
		if id == "" {
			m.logger.Debug("Skipping post without video", "channel", ch.Name, "url", p.URL)
			continue
		}
		m.logger.Info("New video post", "channel", ch.Name, "video_id", id, "permalink", p.Permalink)

		err := m.store.WithTx(ctx, func(tx *storage.Tx) error {
			_, err := m.acquire(ctx, tx, id, p.Permalink)
			return err
		})
		if err != nil {
			return fmt.Errorf("acquire %s: %w", id, err)
		}
		videos++
	}

	cursor.Advance(newest, time.Time{})
	if err := m.saveCursor(ctx, cursor); err != nil {
		return err
	}
	m.logger.Info("Post discovery completed", "channel", ch.Name, "fetched", len(posts), "videos", videos)
	return nil
}

// DiscoverMentions records summon comments newer than the channel's comment
// watermark. A summon that cannot be handled keeps the watermark in place so
// the comment is seen again next cycle.
func (m *Monitor) DiscoverMentions(ctx context.Context, ch Channel) error {
	cursor, err := m.cursor(ctx, ch.Name)
	if err != nil {
		return err
	}

	comments, err := m.forum.NewComments(ctx, ch.Name, m.opts.Limit)
	if err != nil {
		return fmt.Errorf("fetch new comments: %w", err)
	}

	newest := cursor.LastCommentTime
	var summons int
	var errs []error
	for _, c := range comments {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.CreatedAt.Before(cursor.LastCommentTime) {
			break
		}
		if c.CreatedAt.After(newest) {
			newest = c.CreatedAt
		}

		match := m.summon.FindStringSubmatch(c.Body)
		if match == nil {
			continue
		}
		summons++
		if err := m.handleSummon(ctx, ch, c, match[1]); err != nil {
			m.logger.Warn("Failed to handle summon", "channel", ch.Name, "permalink", c.Permalink, "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("handle summons: %w", errors.Join(errs...))
	}

	cursor.Advance(time.Time{}, newest)
	if err := m.saveCursor(ctx, cursor); err != nil {
		return err
	}
	m.logger.Info("Mention discovery completed", "channel", ch.Name, "fetched", len(comments), "summons", summons)
	return nil
}

func (m *Monitor) handleSummon(ctx context.Context, ch Channel, c mirror.Comment, command string) error {
	known, err := m.mentionKnown(ctx, c.Permalink)
	if err != nil {
		return err
	}
	if known {
		m.logger.Debug("Summon already recorded", "permalink", c.Permalink)
		return nil
	}

	target := m.forum.CommentTarget(c.Permalink)
	replied, err := m.replier.Replied(ctx, target)
	if err != nil {
		return err
	}
	if replied {
		m.logger.Info("Summon already answered", "permalink", c.Permalink)
		return nil
	}

	id := youtube.ExtractID(c.ParentPostURL)
	if id == "" {
		m.logger.Info("Summoned on a post without a video", "permalink", c.Permalink, "url", c.ParentPostURL)
		_, err := m.replier.Error(ctx, target, reply.NotVideo(c.ParentPostURL))
		return err
	}

	var v *mirror.Video
	err = m.store.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		v, err = m.acquire(ctx, tx, id, c.ParentPermalink)
		return err
	})
	if err != nil {
		return fmt.Errorf("acquire %s: %w", id, err)
	}

	mention := &mirror.Mention{
		Permalink:    c.Permalink,
		VideoID:      id,
		Channel:      ch.Name,
		Command:      command,
		State:        mirror.MentionPending,
		DiscoveredAt: m.now(),
	}

	switch v.State {
	case mirror.VideoReposted:
		m.logger.Info("Video already mirrored", "video_id", id, "mirror_id", v.MirrorID)
		mention.State = mirror.MentionFulfilled
		return m.store.WithTx(ctx, func(tx *storage.Tx) error {
			if _, err := tx.InsertMention(ctx, mention); err != nil {
				return err
			}
			_, err := m.replier.Success(ctx, target, v.MirrorID)
			return err
		})
	case mirror.VideoDownloaded:
		return m.store.WithTx(ctx, func(tx *storage.Tx) error {
			inserted, err := tx.InsertMention(ctx, mention)
			if err != nil {
				return err
			}
			if inserted {
				m.logger.Info("Summon recorded", "video_id", id, "permalink", c.Permalink, "command", command)
			}
			return nil
		})
	case mirror.VideoDiscovered, mirror.VideoError:
		m.logger.Info("Summoned video could not be downloaded", "video_id", id, "attempts", v.AcquisitionAttempts)
		_, err := m.replier.Error(ctx, target, reply.DownloadFailed(c.ParentPostURL))
		return err
	case mirror.VideoStale, mirror.VideoPurged:
		_, err := m.replier.Error(ctx, target, reply.Unavailable(c.ParentPostURL))
		return err
	}
	return nil
}

func (m *Monitor) mentionKnown(ctx context.Context, permalink string) (bool, error) {
	err := m.store.WithTx(ctx, func(tx *storage.Tx) error {
		_, err := tx.Mention(ctx, permalink)
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("look up mention: %w", err)
	}
	return true, nil
}

// acquire runs the acquirer at most once per cycle for a video that ends in
// Error. Later requests in the same cycle get the stored record.
func (m *Monitor) acquire(ctx context.Context, tx *storage.Tx, id, permalink string) (*mirror.Video, error) {
	m.mu.Lock()
	failed := m.failed[id]
	m.mu.Unlock()
	if failed {
		v, err := tx.Video(ctx, id)
		if err != nil {
			return nil, err
		}
		if v.State == mirror.VideoError {
			m.logger.Debug("Acquisition already failed this cycle", "video_id", id)
			return v, nil
		}
	}

	v, err := m.acquirer.Acquire(ctx, tx, id, permalink)
	if err != nil {
		return nil, err
	}
	if v.State == mirror.VideoError {
		m.mu.Lock()
		m.failed[id] = true
		m.mu.Unlock()
	}
	return v, nil
}
