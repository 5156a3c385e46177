package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"reddit-mirror-bot/uploader"
)

func TestLoad(t *testing.T) {
	t.Setenv("MIRROR_PASSWORD", "from-env")

	cfg, err := Load(filepath.Join("testdata", "config.yaml"))
	require.NoError(t, err)

	require.Equal(t, 50, cfg.Limit)
	require.Equal(t, 24*time.Hour, cfg.Hold)
	require.Equal(t, 5, cfg.Threshold)
	require.Equal(t, 3, cfg.MaxAttempts)
	require.Equal(t, "redditliveleakbot", cfg.BotName)
	require.Equal(t, "yt-key", cfg.DeveloperKey)
	require.Equal(t, "mirrorbot-state", cfg.StateBucket)
	require.Equal(t, "/usr/local/bin/yt-dlp", cfg.Downloader.Path)
	require.Equal(t, 10*time.Minute, cfg.Downloader.Timeout)

	require.Equal(t, "from-env", cfg.Mirror.Password)
	require.True(t, cfg.Mirror.DryRun)
	require.Equal(t, "http://www.liveleak.com", cfg.Mirror.BaseURL)
	require.Equal(t, "http://www.liveleak.com/view?i=%s", cfg.Mirror.ViewURL)

	require.Equal(t, []Subreddit{
		{Name: "videos", Category: "WTF", DownloadAll: true},
		{Name: "worldnews", Category: "World News"},
	}, cfg.Subreddits)
	require.Equal(t, "mock", cfg.Alert.Provider)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const validBase = `
reddit: {username: bot, password: pw, client_id: id}
mirror: {username: u, password: p}
`

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name: "valid defaults",
			body: validBase + "subreddits: {videos: {category: WTF}}\n",
		},
		{
			name:    "no subreddits",
			body:    validBase,
			wantErr: "no subreddits",
		},
		{
			name:    "unknown category",
			body:    validBase + "subreddits: {videos: {category: Cats}}\n",
			wantErr: "subreddit videos",
		},
		{
			name:    "zero threshold",
			body:    validBase + "ups_threshold: 0\nsubreddits: {videos: {category: WTF}}\n",
			wantErr: "ups_threshold",
		},
		{
			name:    "negative hold",
			body:    validBase + "hold_hours: -1\nsubreddits: {videos: {category: WTF}}\n",
			wantErr: "hold_hours",
		},
		{
			name:    "missing reddit credentials",
			body:    "mirror: {username: u, password: p}\nsubreddits: {videos: {category: WTF}}\n",
			wantErr: "reddit.username",
		},
		{
			name:    "brevo without key",
			body:    validBase + "alert: {provider: brevo, to: ops@example.com}\nsubreddits: {videos: {category: WTF}}\n",
			wantErr: "brevo",
		},
		{
			name:    "unknown alert provider",
			body:    validBase + "alert: {provider: pager}\nsubreddits: {videos: {category: WTF}}\n",
			wantErr: "unknown alert provider",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.True(t, strings.Contains(err.Error(), tt.wantErr), "error %q does not mention %q", err, tt.wantErr)
		})
	}
}

func TestValidate_UnknownCategoryIsProtocolError(t *testing.T) {
	cfg := &Config{
		Limit:       1,
		VideoPath:   "v",
		DBPath:      "d",
		Hold:        time.Hour,
		Threshold:   1,
		MaxAttempts: 1,
		Subreddits:  []Subreddit{{Name: "videos", Category: "Cats"}},
	}
	err := cfg.Validate()
	require.ErrorIs(t, err, uploader.ErrUnknownCategory)
}
