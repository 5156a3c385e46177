package reddit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const newPostsJSON = `{"kind":"Listing","data":{"children":[
 {"kind":"t3","data":{"id":"2ab1c","name":"t3_2ab1c","subreddit":"videos","title":"Dashcam &amp; crash","url":"https://www.youtube.com/watch?v=V5E8kDo2n6g&amp;feature=youtu.be","permalink":"/r/videos/comments/2ab1c/dashcam_crash/","created_utc":1405564338.0}},
 {"kind":"t3","data":{"id":"2ab1b","name":"t3_2ab1b","subreddit":"videos","title":"A cat","url":"http://i.imgur.com/KJ0h3nZ.png","permalink":"/r/videos/comments/2ab1b/a_cat/","created_utc":1405564000.5}}
]}}`

const newCommentsJSON = `{"kind":"Listing","data":{"children":[
 {"kind":"t1","data":{"id":"cj1","name":"t1_cj1","subreddit":"videos","author":"alice","body":"mirrorbot +mirror","score":3,"created_utc":1405564400,"permalink":"/r/videos/comments/2ab1c/dashcam_crash/cj1/","link_url":"https://youtu.be/co9IZOSssFw","link_permalink":"https://www.reddit.com/r/videos/comments/2ab1c/dashcam_crash/"}}
]}}`

const threadJSON = `[
 {"kind":"Listing","data":{"children":[{"kind":"t3","data":{"id":"2ab1c","subreddit":"videos","title":"Dashcam","url":"https://youtu.be/co9IZOSssFw","permalink":"/r/videos/comments/2ab1c/dashcam_crash/","created_utc":1405564338}}]}},
 {"kind":"Listing","data":{"children":[
  {"kind":"t1","data":{"id":"cj1","subreddit":"videos","author":"alice","body":"mirrorbot +mirror","score":7,"created_utc":1405564400,"permalink":"/r/videos/comments/2ab1c/dashcam_crash/cj1/",
   "replies":{"kind":"Listing","data":{"children":[{"kind":"t1","data":{"id":"cj9","author":"mirrorbot","body":"done"}},{"kind":"more","data":{}}]}}}},
  {"kind":"t1","data":{"id":"cj2","author":"[deleted]","replies":""}},
  {"kind":"t1","data":{"id":"cj3","author":"bob","replies":""}}
 ]}}
]`

type fakeReddit struct {
	mu       sync.Mutex
	replies  []string
	tokens   int
	badAuth  bool
	lastUser string
}

func (f *fakeReddit) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastUser = r.Header.Get("User-Agent")

	if r.URL.Path == "/api/v1/access_token" {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client-id" || pass != "client-secret" || r.FormValue("grant_type") != "password" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.tokens++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"tok-1","token_type":"bearer","expires_in":3600,"scope":"*"}`)
		return
	}

	if r.Header.Get("Authorization") != "Bearer tok-1" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.URL.Path == "/r/videos/new":
		fmt.Fprint(w, newPostsJSON)
	case r.URL.Path == "/r/videos/comments":
		fmt.Fprint(w, newCommentsJSON)
	case strings.HasPrefix(r.URL.Path, "/r/videos/comments/2ab1c/") && strings.HasSuffix(r.URL.Path, ".json"):
		fmt.Fprint(w, threadJSON)
	case r.URL.Path == "/api/comment":
		f.replies = append(f.replies, r.FormValue("thing_id")+"|"+r.FormValue("text"))
		fmt.Fprint(w, `{"json":{"errors":[],"data":{"things":[]}}}`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T) (*Client, *fakeReddit) {
	t.Helper()
	fake := &fakeReddit{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	c, err := New(context.Background(), Config{
		Username:     "mirrorbot",
		Password:     "hunter2",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		UserAgent:    "mirrorbot/1.0 by operator",
		TokenURL:     srv.URL + "/api/v1/access_token",
		APIURL:       srv.URL,
	}, logger)
	require.NoError(t, err)
	return c, fake
}

func TestNew_BadCredentials(t *testing.T) {
	srv := httptest.NewServer(&fakeReddit{})
	t.Cleanup(srv.Close)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	_, err := New(context.Background(), Config{
		ClientID:     "client-id",
		ClientSecret: "wrong",
		TokenURL:     srv.URL + "/api/v1/access_token",
		APIURL:       srv.URL,
	}, logger)
	require.Error(t, err)
}

func TestNewPosts(t *testing.T) {
	c, fake := newTestClient(t)

	posts, err := c.NewPosts(context.Background(), "videos", 25)
	require.NoError(t, err)
	require.Len(t, posts, 2)

	require.Equal(t, "Dashcam & crash", posts[0].Title)
	require.Equal(t, "https://www.youtube.com/watch?v=V5E8kDo2n6g&feature=youtu.be", posts[0].URL)
	require.Equal(t, "/r/videos/comments/2ab1c/dashcam_crash/", posts[0].Permalink)
	require.Equal(t, time.Unix(1405564338, 0).UTC(), posts[0].CreatedAt)
	require.Equal(t, time.Unix(1405564000, 500_000_000).UTC(), posts[1].CreatedAt)
	require.Equal(t, "mirrorbot/1.0 by operator", fake.lastUser)
}

func TestNewComments(t *testing.T) {
	c, _ := newTestClient(t)

	comments, err := c.NewComments(context.Background(), "videos", 25)
	require.NoError(t, err)
	require.Len(t, comments, 1)

	cm := comments[0]
	require.Equal(t, "alice", cm.Author)
	require.Equal(t, "https://youtu.be/co9IZOSssFw", cm.ParentPostURL)
	require.Equal(t, "/r/videos/comments/2ab1c/dashcam_crash/", cm.ParentPermalink)
	require.Equal(t, "videos", cm.Channel)
}

func TestCommentAndPost(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	cm, err := c.Comment(ctx, "/r/videos/comments/2ab1c/dashcam_crash/cj1/")
	require.NoError(t, err)
	require.Equal(t, 7, cm.Score)
	require.Equal(t, "https://youtu.be/co9IZOSssFw", cm.ParentPostURL)
	require.Equal(t, "/r/videos/comments/2ab1c/dashcam_crash/", cm.ParentPermalink)

	p, err := c.Post(ctx, "https://www.reddit.com/r/videos/comments/2ab1c/dashcam_crash/")
	require.NoError(t, err)
	require.Equal(t, "Dashcam", p.Title)
}

func TestReplyTargets(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()

	sub := c.SubmissionTarget("/r/videos/comments/2ab1c/dashcam_crash/")
	authors, err := sub.ListReplyAuthors(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, authors)
	require.NoError(t, sub.PostReply(ctx, "hello"))

	com := c.CommentTarget("/r/videos/comments/2ab1c/dashcam_crash/cj1/")
	authors, err = com.ListReplyAuthors(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"mirrorbot"}, authors)
	require.NoError(t, com.PostReply(ctx, "mirrored"))

	require.Equal(t, []string{"t3_2ab1c|hello", "t1_cj1|mirrored"}, fake.replies)
	require.Equal(t, 1, fake.tokens)
}

func TestCommentTarget_RejectsSubmissionPermalink(t *testing.T) {
	c, _ := newTestClient(t)
	err := c.CommentTarget("/r/videos/comments/2ab1c/dashcam_crash/").PostReply(context.Background(), "x")
	require.Error(t, err)
}

func TestNotFound(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.Post(context.Background(), "/r/videos/comments/zzz/gone/")
	require.True(t, IsNotFound(err), "got %v", err)
}

func TestFullnames(t *testing.T) {
	tests := []struct {
		permalink   string
		wantLink    string
		wantComment string
		wantErr     bool
	}{
		{"/r/videos/comments/2ab1c/dashcam_crash/", "t3_2ab1c", "", false},
		{"/r/videos/comments/2ab1c/dashcam_crash/cj1/", "t3_2ab1c", "t1_cj1", false},
		{"https://www.reddit.com/r/videos/comments/2ab1c/x/cj1", "t3_2ab1c", "t1_cj1", false},
		{"/user/alice/", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.permalink, func(t *testing.T) {
			link, comment, err := fullnames(tt.permalink)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantLink, link)
			require.Equal(t, tt.wantComment, comment)
		})
	}
}
