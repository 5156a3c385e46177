package reply

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

type fakeTarget struct {
	permalink string
	authors   []string
	posted    []string
	listErr   error
}

func (f *fakeTarget) Permalink() string { return f.permalink }

func (f *fakeTarget) PostReply(_ context.Context, text string) error {
	f.posted = append(f.posted, text)
	return nil
}

func (f *fakeTarget) ListReplyAuthors(context.Context) ([]string, error) {
	return f.authors, f.listErr
}

func newEmitter() *Emitter {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	return New("redditliveleakbot", "http://www.liveleak.com/view?i=%s", logger)
}

func TestBodies(t *testing.T) {
	e := newEmitter()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	success, err := e.SuccessBody("2f3_1405564338")
	require.NoError(t, err)
	g.Assert(t, "success", []byte(success))

	notVideo, err := e.ErrorBody(NotVideo("http://i.imgur.com/KJ0h3nZ.png"))
	require.NoError(t, err)
	g.Assert(t, "error_not_video", []byte(notVideo))

	failed, err := e.ErrorBody(DownloadFailed("http://youtu.be/co9IZOSssFw"))
	require.NoError(t, err)
	g.Assert(t, "error_download_failed", []byte(failed))

	expired, err := e.ErrorBody(Expired("http://youtu.be/co9IZOSssFw", 48*time.Hour))
	require.NoError(t, err)
	g.Assert(t, "error_expired", []byte(expired))
}

func TestSuccess_PostsOnce(t *testing.T) {
	e := newEmitter()
	target := &fakeTarget{permalink: "/r/videos/comments/a/_/c1/", authors: []string{"alice"}}

	posted, err := e.Success(context.Background(), target, "abc_1")
	require.NoError(t, err)
	require.True(t, posted)
	require.Len(t, target.posted, 1)
	require.Contains(t, target.posted[0], "http://www.liveleak.com/view?i=abc_1")

	// The forum now lists the bot among the repliers.
	target.authors = append(target.authors, "RedditLiveleakBot")
	posted, err = e.Success(context.Background(), target, "abc_1")
	require.NoError(t, err)
	require.False(t, posted)
	require.Len(t, target.posted, 1)
}

func TestError_ListFailureDoesNotPost(t *testing.T) {
	e := newEmitter()
	target := &fakeTarget{permalink: "/r/videos/comments/a/", listErr: errors.New("HTTP 503")}

	posted, err := e.Error(context.Background(), target, NotVideo("http://example.com"))
	require.Error(t, err)
	require.False(t, posted)
	require.Empty(t, target.posted)
}
