package reddit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"reddit-mirror-bot/pkg/mirror"
)

type listing struct {
	Data struct {
		Children []thing `json:"children"`
	} `json:"data"`
}

type thing struct {
	Kind string    `json:"kind"`
	Data thingData `json:"data"`
}

// thingData covers the fields of both links (t3) and comments (t1).
type thingData struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Subreddit     string          `json:"subreddit"`
	Author        string          `json:"author"`
	Title         string          `json:"title"`
	URL           string          `json:"url"`
	Body          string          `json:"body"`
	Permalink     string          `json:"permalink"`
	Score         int             `json:"score"`
	CreatedUTC    float64         `json:"created_utc"`
	LinkURL       string          `json:"link_url"`
	LinkPermalink string          `json:"link_permalink"`
	Replies       json.RawMessage `json:"replies"` // "" or a listing
}

func (d *thingData) created() time.Time {
	sec, frac := math.Modf(d.CreatedUTC)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func (d *thingData) post() mirror.Post {
	return mirror.Post{
		ID:        d.ID,
		Channel:   d.Subreddit,
		URL:       html.UnescapeString(d.URL),
		Permalink: d.Permalink,
		Title:     html.UnescapeString(d.Title),
		CreatedAt: d.created(),
	}
}

func (d *thingData) comment() mirror.Comment {
	return mirror.Comment{
		ID:              d.ID,
		Channel:         d.Subreddit,
		Permalink:       d.Permalink,
		Author:          d.Author,
		Body:            html.UnescapeString(d.Body),
		Score:           d.Score,
		CreatedAt:       d.created(),
		ParentPostURL:   html.UnescapeString(d.LinkURL),
		ParentPermalink: relative(d.LinkPermalink),
	}
}

// replies decodes the nested reply listing of a comment.
func (d *thingData) replies() ([]thing, error) {
	if len(d.Replies) == 0 || !bytes.HasPrefix(bytes.TrimSpace(d.Replies), []byte("{")) {
		return nil, nil
	}
	var l listing
	if err := json.Unmarshal(d.Replies, &l); err != nil {
		return nil, fmt.Errorf("decode replies: %w", err)
	}
	return l.Data.Children, nil
}

// NewPosts returns the newest link submissions of subreddit, newest first.
func (c *Client) NewPosts(ctx context.Context, subreddit string, limit int) ([]mirror.Post, error) {
	var l listing
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if err := c.get(ctx, "/r/"+url.PathEscape(subreddit)+"/new", q, &l); err != nil {
		return nil, err
	}

	posts := make([]mirror.Post, 0, len(l.Data.Children))
	for _, t := range l.Data.Children {
		if t.Kind != "t3" {
			continue
		}
		posts = append(posts, t.Data.post())
	}
	return posts, nil
}

// NewComments returns the newest comments across subreddit, newest first.
func (c *Client) NewComments(ctx context.Context, subreddit string, limit int) ([]mirror.Comment, error) {
	var l listing
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if err := c.get(ctx, "/r/"+url.PathEscape(subreddit)+"/comments", q, &l); err != nil {
		return nil, err
	}

	comments := make([]mirror.Comment, 0, len(l.Data.Children))
	for _, t := range l.Data.Children {
		if t.Kind != "t1" {
			continue
		}
		comments = append(comments, t.Data.comment())
	}
	return comments, nil
}

// thread loads the submission and comment tree behind permalink.
func (c *Client) thread(ctx context.Context, permalink string) (*thing, []thing, error) {
	var pages []listing
	path := strings.TrimSuffix(relative(permalink), "/") + ".json"
	if err := c.get(ctx, path, url.Values{"limit": {"500"}}, &pages); err != nil {
		return nil, nil, err
	}
	if len(pages) != 2 || len(pages[0].Data.Children) == 0 {
		return nil, nil, fmt.Errorf("unexpected thread shape for %s", permalink)
	}
	return &pages[0].Data.Children[0], pages[1].Data.Children, nil
}

// Post loads the submission behind permalink.
func (c *Client) Post(ctx context.Context, permalink string) (*mirror.Post, error) {
	link, _, err := c.thread(ctx, permalink)
	if err != nil {
		return nil, err
	}
	p := link.Data.post()
	return &p, nil
}

// Comment loads the comment behind permalink with its current score.
func (c *Client) Comment(ctx context.Context, permalink string) (*mirror.Comment, error) {
	link, children, err := c.thread(ctx, permalink)
	if err != nil {
		return nil, err
	}
	for _, t := range children {
		if t.Kind != "t1" {
			continue
		}
		cm := t.Data.comment()
		// Permalink-scoped threads omit the link fields on the comment itself.
		if cm.ParentPostURL == "" {
			cm.ParentPostURL = html.UnescapeString(link.Data.URL)
		}
		if cm.ParentPermalink == "" {
			cm.ParentPermalink = link.Data.Permalink
		}
		return &cm, nil
	}
	return nil, &APIError{Path: permalink, Status: http.StatusNotFound, Msg: "comment not found"}
}

// relative strips scheme and host from a reddit URL.
func relative(permalink string) string {
	if permalink == "" {
		return ""
	}
	u, err := url.Parse(permalink)
	if err != nil || u.Path == "" {
		return permalink
	}
	return u.Path
}

// fullnames returns the t3_ fullname of the submission and, for comment
// permalinks, the t1_ fullname of the comment.
func fullnames(permalink string) (link, comment string, err error) {
	parts := strings.Split(strings.Trim(relative(permalink), "/"), "/")
	// r/<sub>/comments/<link id>/<slug>[/<comment id>]
	if len(parts) < 4 || parts[0] != "r" || parts[2] != "comments" {
		return "", "", errors.New("not a thread permalink: " + permalink)
	}
	link = "t3_" + parts[3]
	if len(parts) >= 6 && parts[5] != "" {
		comment = "t1_" + parts[5]
	}
	return link, comment, nil
}
