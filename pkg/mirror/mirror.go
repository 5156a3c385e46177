// Package mirror contains the core domain types for the video mirror bot.
package mirror

import (
	"context"
	"time"
)

// Cursor is the per-channel polling watermark.
type Cursor struct {
	Channel         string    `json:"channel"`
	LastPostTime    time.Time `json:"last_post_time"`    // Newest post already processed
	LastCommentTime time.Time `json:"last_comment_time"` // Newest comment already processed
}

// Advance moves the watermarks forward. Older values are ignored so the cursor never regresses.
func (c *Cursor) Advance(postTime, commentTime time.Time) {
	if postTime.After(c.LastPostTime) {
		c.LastPostTime = postTime
	}
	if commentTime.After(c.LastCommentTime) {
		c.LastCommentTime = commentTime
	}
}

// Video is the lifecycle record of one remote video, keyed by its identifier.
type Video struct {
	ID                  string     `json:"video_id"`
	OriginPermalink     string     `json:"origin_permalink"` // Forum post the video was first seen in
	LocalPath           string     `json:"local_path"`       // Empty when no local copy is held
	MirrorID            string     `json:"mirror_id"`        // Item id on the mirror host, empty until reposted
	State               VideoState `json:"state"`
	AcquisitionAttempts int        `json:"acquisition_attempts"`
	DiscoveredAt        time.Time  `json:"discovered_at"`
	ModifiedAt          time.Time  `json:"modified_at"`
	DeletedAt           time.Time  `json:"deleted_at"`         // When the origin was found deleted; zero if never
	OriginNotifiedAt    time.Time  `json:"origin_notified_at"` // When the origin post got the mirror link; zero if not yet
}

// HasFile reports whether the record claims a local copy.
func (v *Video) HasFile() bool {
	return v.LocalPath != ""
}

// Mention is a summon comment asking for a video to be mirrored.
type Mention struct {
	Permalink    string       `json:"permalink"`
	VideoID      string       `json:"video_id"`
	Channel      string       `json:"channel"`
	Command      string       `json:"command"`
	State        MentionState `json:"state"`
	DiscoveredAt time.Time    `json:"discovered_at"`
}

// Post is a forum submission.
type Post struct {
	ID        string
	Channel   string
	URL       string // Link target of the submission
	Permalink string
	Title     string
	CreatedAt time.Time
}

// Comment is a forum comment.
type Comment struct {
	ID              string
	Channel         string
	Permalink       string
	Author          string
	Body            string
	Score           int
	CreatedAt       time.Time
	ParentPostURL   string // Link target of the submission the comment belongs to
	ParentPermalink string // Permalink of that submission
}

// ReplyTarget is anything the bot can answer on the forum.
type ReplyTarget interface {
	Permalink() string
	PostReply(ctx context.Context, text string) error
	ListReplyAuthors(ctx context.Context) ([]string, error)
}
