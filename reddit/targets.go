package reddit

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"reddit-mirror-bot/pkg/mirror"
)

// submissionTarget replies at the top level of a submission.
type submissionTarget struct {
	c         *Client
	permalink string
}

// commentTarget replies underneath a single comment.
type commentTarget struct {
	c         *Client
	permalink string
}

// SubmissionTarget returns a reply target for the submission at permalink.
func (c *Client) SubmissionTarget(permalink string) mirror.ReplyTarget {
	return &submissionTarget{c: c, permalink: permalink}
}

// CommentTarget returns a reply target for the comment at permalink.
func (c *Client) CommentTarget(permalink string) mirror.ReplyTarget {
	return &commentTarget{c: c, permalink: permalink}
}

func (t *submissionTarget) Permalink() string { return t.permalink }

func (t *submissionTarget) PostReply(ctx context.Context, text string) error {
	link, _, err := fullnames(t.permalink)
	if err != nil {
		return err
	}
	return t.c.reply(ctx, link, text)
}

func (t *submissionTarget) ListReplyAuthors(ctx context.Context) ([]string, error) {
	_, children, err := t.c.thread(ctx, t.permalink)
	if err != nil {
		return nil, err
	}
	return authors(children), nil
}

func (t *commentTarget) Permalink() string { return t.permalink }

func (t *commentTarget) PostReply(ctx context.Context, text string) error {
	_, comment, err := fullnames(t.permalink)
	if err != nil {
		return err
	}
	if comment == "" {
		return fmt.Errorf("not a comment permalink: %s", t.permalink)
	}
	return t.c.reply(ctx, comment, text)
}

func (t *commentTarget) ListReplyAuthors(ctx context.Context) ([]string, error) {
	_, children, err := t.c.thread(ctx, t.permalink)
	if err != nil {
		return nil, err
	}
	for _, th := range children {
		if th.Kind != "t1" {
			continue
		}
		replies, err := th.Data.replies()
		if err != nil {
			return nil, err
		}
		return authors(replies), nil
	}
	return nil, nil
}

func authors(things []thing) []string {
	var names []string
	for _, th := range things {
		// Deleted accounts and "load more" stubs carry no author.
		if th.Kind != "t1" || th.Data.Author == "" || th.Data.Author == "[deleted]" {
			continue
		}
		names = append(names, th.Data.Author)
	}
	return names
}

type commentResponse struct {
	JSON struct {
		Errors [][]any `json:"errors"`
	} `json:"json"`
}

// reply posts text as a comment on the thing named by fullname.
func (c *Client) reply(ctx context.Context, fullname, text string) error {
	form := url.Values{
		"api_type": {"json"},
		"thing_id": {fullname},
		"text":     {text},
	}
	var resp commentResponse
	if err := c.postForm(ctx, "/api/comment", form, &resp); err != nil {
		return fmt.Errorf("reply to %s: %w", fullname, err)
	}
	if len(resp.JSON.Errors) > 0 {
		msgs := make([]string, 0, len(resp.JSON.Errors))
		for _, e := range resp.JSON.Errors {
			msgs = append(msgs, fmt.Sprint(e...))
		}
		return &APIError{Path: "/api/comment", Status: 200, Msg: strings.Join(msgs, "; ")}
	}
	c.logger.Info("Reply posted", "thing_id", fullname)
	return nil
}
