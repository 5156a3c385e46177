package acquire

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"reddit-mirror-bot/pkg/mirror"
	"reddit-mirror-bot/storage"
)

type fakeFetcher struct {
	calls int
	err   error
	write bool
}

func (f *fakeFetcher) Download(_ context.Context, dir, id string) error {
	f.calls++
	if f.write {
		if err := os.WriteFile(filepath.Join(dir, id+".mp4"), []byte("video"), 0o600); err != nil {
			return err
		}
	}
	return f.err
}

func setup(t *testing.T, f Fetcher, maxAttempts int) (*Manager, *storage.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	store, err := storage.Open(filepath.Join(t.TempDir(), "mirror.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(f, t.TempDir(), maxAttempts, logger), store
}

func acquire(t *testing.T, m *Manager, store *storage.Store, id string) *mirror.Video {
	t.Helper()
	var v *mirror.Video
	require.NoError(t, store.WithTx(context.Background(), func(tx *storage.Tx) error {
		var err error
		v, err = m.Acquire(context.Background(), tx, id, "/r/videos/comments/abc")
		return err
	}))
	return v
}

func TestAcquire_Idempotent(t *testing.T) {
	f := &fakeFetcher{write: true}
	m, store := setup(t, f, 3)

	first := acquire(t, m, store, "co9IZOSssFw")
	second := acquire(t, m, store, "co9IZOSssFw")

	require.Equal(t, 1, f.calls)
	require.Equal(t, mirror.VideoDownloaded, first.State)
	require.Equal(t, mirror.VideoDownloaded, second.State)
	require.Equal(t, filepath.Join(m.Dir(), "co9IZOSssFw.mp4"), second.LocalPath)
	require.Equal(t, 1, second.AcquisitionAttempts)
}

func TestAcquire_ExistingFileSkipsTool(t *testing.T) {
	f := &fakeFetcher{}
	m, store := setup(t, f, 3)
	require.NoError(t, os.WriteFile(filepath.Join(m.Dir(), "IU5NSSzYygk.webm"), nil, 0o600))

	v := acquire(t, m, store, "IU5NSSzYygk")
	require.Zero(t, f.calls)
	require.Equal(t, mirror.VideoDownloaded, v.State)
	require.Zero(t, v.AcquisitionAttempts)
}

func TestAcquire_FailureBoundedByMaxAttempts(t *testing.T) {
	f := &fakeFetcher{err: errors.New("exit status 1")}
	m, store := setup(t, f, 2)

	for range 4 {
		v := acquire(t, m, store, "N-gPAMeXlQk")
		require.Equal(t, mirror.VideoError, v.State)
		require.False(t, v.HasFile())
	}
	require.Equal(t, 2, f.calls)
}

func TestAcquire_RecoversFromError(t *testing.T) {
	f := &fakeFetcher{err: errors.New("network down")}
	m, store := setup(t, f, 3)

	require.Equal(t, mirror.VideoError, acquire(t, m, store, "V5E8kDo2n6g").State)

	f.err = nil
	f.write = true
	v := acquire(t, m, store, "V5E8kDo2n6g")
	require.Equal(t, mirror.VideoDownloaded, v.State)
	require.Equal(t, 2, v.AcquisitionAttempts)
}

func TestAcquire_SuccessWithoutFileIsError(t *testing.T) {
	f := &fakeFetcher{}
	m, store := setup(t, f, 3)

	v := acquire(t, m, store, "LEN5rn47gYQ")
	require.Equal(t, mirror.VideoError, v.State)
	require.Equal(t, 1, f.calls)
}

func TestAcquire_TerminalStatesUntouched(t *testing.T) {
	f := &fakeFetcher{write: true}
	m, store := setup(t, f, 3)
	ctx := context.Background()

	acquire(t, m, store, "Cy0RPWK_5wg")
	require.NoError(t, store.WithTx(ctx, func(tx *storage.Tx) error {
		v, err := tx.Video(ctx, "Cy0RPWK_5wg")
		require.NoError(t, err)
		require.NoError(t, v.Transition(mirror.VideoStale))
		require.NoError(t, v.Transition(mirror.VideoPurged))
		v.LocalPath = ""
		return tx.SaveVideo(ctx, v)
	}))

	v := acquire(t, m, store, "Cy0RPWK_5wg")
	require.Equal(t, mirror.VideoPurged, v.State)
	require.Equal(t, 1, f.calls)
}

func TestLocate(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"co9IZOSssFw.mp4.part", "co9IZOSssFw.f137.mp4.ytdl", "co9IZOSssFwX.mp4", "other.mp4"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o600); err != nil {
			t.Fatal(err)
		}
	}

	if got := Locate(dir, "co9IZOSssFw"); got != "" {
		t.Errorf("Locate() = %q, want no match for partial or foreign files", got)
	}

	if err := os.WriteFile(filepath.Join(dir, "co9IZOSssFw.mkv"), nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if got, want := Locate(dir, "co9IZOSssFw"), filepath.Join(dir, "co9IZOSssFw.mkv"); got != want {
		t.Errorf("Locate() = %q, want %q", got, want)
	}

	if got := Locate(filepath.Join(dir, "missing"), "co9IZOSssFw"); got != "" {
		t.Errorf("Locate() on missing dir = %q, want empty", got)
	}
}
