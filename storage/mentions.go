package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"reddit-mirror-bot/pkg/mirror"
)

const mentionColumns = `permalink, video_id, channel, command, state, discovered_at`

func scanMention(row rowScanner) (*mirror.Mention, error) {
	var (
		m          mirror.Mention
		state      string
		discovered int64
	)
	if err := row.Scan(&m.Permalink, &m.VideoID, &m.Channel, &m.Command, &state, &discovered); err != nil {
		return nil, err
	}
	st, err := mirror.ParseMentionState(state)
	if err != nil {
		return nil, err
	}
	m.State = st
	m.DiscoveredAt = fromNanos(discovered)
	return &m, nil
}

// InsertMention records m unless its permalink is already known.
func (t *Tx) InsertMention(ctx context.Context, m *mirror.Mention) (inserted bool, err error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO mentions (`+mentionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(permalink) DO NOTHING
	`, m.Permalink, m.VideoID, m.Channel, m.Command, m.State.String(), toNanos(m.DiscoveredAt))
	if err != nil {
		return false, fmt.Errorf("insert mention %s: %w", m.Permalink, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert mention %s: %w", m.Permalink, err)
	}
	return n == 1, nil
}

// Mention loads one mention by permalink.
func (t *Tx) Mention(ctx context.Context, permalink string) (*mirror.Mention, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+mentionColumns+` FROM mentions WHERE permalink = ?`, permalink)
	m, err := scanMention(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read mention %s: %w", permalink, err)
	}
	return m, nil
}

// SaveMention writes the state of m, refusing illegal transitions.
func (t *Tx) SaveMention(ctx context.Context, m *mirror.Mention) error {
	current, err := t.Mention(ctx, m.Permalink)
	if err != nil {
		return err
	}
	if !current.State.CanTransitionTo(m.State) {
		return &mirror.TransitionError{ID: m.Permalink, From: current.State, To: m.State}
	}
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE mentions SET state = ? WHERE permalink = ?`,
		m.State.String(), m.Permalink,
	); err != nil {
		return fmt.Errorf("update mention %s: %w", m.Permalink, err)
	}
	return nil
}

// Mentions lists mentions in state. An empty channel matches every channel.
func (t *Tx) Mentions(ctx context.Context, channel string, state mirror.MentionState) ([]*mirror.Mention, error) {
	query := `SELECT ` + mentionColumns + ` FROM mentions WHERE state = ?`
	args := []any{state.String()}
	if channel != "" {
		query += ` AND channel = ?`
		args = append(args, channel)
	}
	query += ` ORDER BY discovered_at, permalink`
	return t.queryMentions(ctx, query, args...)
}

// MentionsForVideo lists the mentions of videoID in state.
func (t *Tx) MentionsForVideo(ctx context.Context, videoID string, state mirror.MentionState) ([]*mirror.Mention, error) {
	return t.queryMentions(ctx,
		`SELECT `+mentionColumns+` FROM mentions WHERE video_id = ? AND state = ? ORDER BY discovered_at, permalink`,
		videoID, state.String())
}

func (t *Tx) queryMentions(ctx context.Context, query string, args ...any) ([]*mirror.Mention, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list mentions: %w", err)
	}
	defer rows.Close()

	var mentions []*mirror.Mention
	for rows.Next() {
		m, err := scanMention(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mention: %w", err)
		}
		mentions = append(mentions, m)
	}
	return mentions, rows.Err()
}
