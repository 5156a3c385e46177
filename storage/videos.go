package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"reddit-mirror-bot/pkg/mirror"
)

const videoColumns = `video_id, origin_permalink, local_path, mirror_id, state,
	acquisition_attempts, discovered_at, modified_at, deleted_at, origin_notified_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVideo(row rowScanner) (*mirror.Video, error) {
	var (
		v                    mirror.Video
		localPath, mirrorID  sql.NullString
		state                string
		discovered, modified int64
		deleted, notified    sql.NullInt64
	)
	if err := row.Scan(&v.ID, &v.OriginPermalink, &localPath, &mirrorID, &state,
		&v.AcquisitionAttempts, &discovered, &modified, &deleted, &notified); err != nil {
		return nil, err
	}

	st, err := mirror.ParseVideoState(state)
	if err != nil {
		return nil, err
	}
	v.State = st
	v.LocalPath = localPath.String
	v.MirrorID = mirrorID.String
	v.DiscoveredAt = fromNanos(discovered)
	v.ModifiedAt = fromNanos(modified)
	if deleted.Valid {
		v.DeletedAt = fromNanos(deleted.Int64)
	}
	if notified.Valid {
		v.OriginNotifiedAt = fromNanos(notified.Int64)
	}
	return &v, nil
}

// Video loads one video by identifier.
func (t *Tx) Video(ctx context.Context, id string) (*mirror.Video, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE video_id = ?`, id)
	v, err := scanVideo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read video %s: %w", id, err)
	}
	return v, nil
}

// EnsureVideo returns the video for id, inserting a Discovered row first if
// none exists. The primary key collapses concurrent creators onto one row.
func (t *Tx) EnsureVideo(ctx context.Context, id, permalink string, now time.Time) (v *mirror.Video, created bool, err error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO videos (video_id, origin_permalink, state, discovered_at, modified_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(video_id) DO NOTHING
	`, id, permalink, mirror.VideoDiscovered.String(), toNanos(now), toNanos(now))
	if err != nil {
		return nil, false, fmt.Errorf("insert video %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("insert video %s: %w", id, err)
	}

	v, err = t.Video(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return v, n == 1, nil
}

// SaveVideo writes every mutable field of v. The stored state must be able
// to reach v.State, so a stale in-memory copy can never regress the row.
func (t *Tx) SaveVideo(ctx context.Context, v *mirror.Video) error {
	var current string
	err := t.tx.QueryRowContext(ctx, `SELECT state FROM videos WHERE video_id = ?`, v.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read video state %s: %w", v.ID, err)
	}
	from, err := mirror.ParseVideoState(current)
	if err != nil {
		return err
	}
	if !from.CanTransitionTo(v.State) {
		return &mirror.TransitionError{ID: v.ID, From: from, To: v.State}
	}

	_, err = t.tx.ExecContext(ctx, `
		UPDATE videos SET
			local_path = ?, mirror_id = ?, state = ?, acquisition_attempts = ?,
			modified_at = ?, deleted_at = ?, origin_notified_at = ?
		WHERE video_id = ?
	`,
		nullString(v.LocalPath),
		nullString(v.MirrorID),
		v.State.String(),
		v.AcquisitionAttempts,
		toNanos(v.ModifiedAt),
		nullNanos(v.DeletedAt),
		nullNanos(v.OriginNotifiedAt),
		v.ID,
	)
	if err != nil {
		return fmt.Errorf("update video %s: %w", v.ID, err)
	}
	return nil
}

// VideosByState lists videos in any of states, oldest discovery first.
func (t *Tx) VideosByState(ctx context.Context, states ...mirror.VideoState) ([]*mirror.Video, error) {
	if len(states) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(states)), ",")
	args := make([]any, len(states))
	for i, st := range states {
		args[i] = st.String()
	}

	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE state IN (`+placeholders+`) ORDER BY discovered_at, video_id`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()

	var videos []*mirror.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}
