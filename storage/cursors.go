package storage

import (
	"context"
	"fmt"

	"reddit-mirror-bot/pkg/mirror"
)

// Cursor returns the watermark for channel, creating it on first use.
func (t *Tx) Cursor(ctx context.Context, channel string) (*mirror.Cursor, error) {
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO source_cursors (channel) VALUES (?) ON CONFLICT(channel) DO NOTHING`,
		channel,
	); err != nil {
		return nil, fmt.Errorf("create cursor: %w", err)
	}

	var postNanos, commentNanos int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT last_post_time, last_comment_time FROM source_cursors WHERE channel = ?`,
		channel,
	).Scan(&postNanos, &commentNanos)
	if err != nil {
		return nil, fmt.Errorf("read cursor: %w", err)
	}

	return &mirror.Cursor{
		Channel:         channel,
		LastPostTime:    fromNanos(postNanos),
		LastCommentTime: fromNanos(commentNanos),
	}, nil
}

// SaveCursor persists c. Each field only ever moves forward, whatever c holds.
func (t *Tx) SaveCursor(ctx context.Context, c *mirror.Cursor) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO source_cursors (channel, last_post_time, last_comment_time)
		VALUES (?, ?, ?)
		ON CONFLICT(channel) DO UPDATE SET
			last_post_time    = MAX(last_post_time, excluded.last_post_time),
			last_comment_time = MAX(last_comment_time, excluded.last_comment_time)
	`,
		c.Channel,
		toNanos(c.LastPostTime),
		toNanos(c.LastCommentTime),
	)
	if err != nil {
		return fmt.Errorf("save cursor %s: %w", c.Channel, err)
	}
	return nil
}
