package youtube

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"google.golang.org/api/option"
)

func newTestChecker(t *testing.T, handler http.HandlerFunc) *Checker {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	c, err := NewChecker(context.Background(), "test-key", logger,
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewChecker() failed: %v", err)
	}
	return c
}

func TestExists(t *testing.T) {
	tests := []struct {
		name  string
		total int
		want  bool
	}{
		{"video online", 1, true},
		{"video removed", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestChecker(t, func(w http.ResponseWriter, r *http.Request) {
				if got := r.URL.Query().Get("id"); got != "co9IZOSssFw" {
					t.Errorf("id = %q, want co9IZOSssFw", got)
				}
				items := "[]"
				if tt.total > 0 {
					items = `[{"id":"co9IZOSssFw"}]`
				}
				w.Header().Set("Content-Type", "application/json")
				fmt.Fprintf(w, `{"kind":"youtube#videoListResponse","pageInfo":{"totalResults":%d,"resultsPerPage":5},"items":%s}`, tt.total, items)
			})

			got, err := c.Exists(context.Background(), "co9IZOSssFw")
			if err != nil {
				t.Fatalf("Exists() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Exists() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExists_ClientErrorIsTransient(t *testing.T) {
	calls := 0
	c := newTestChecker(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"code":403,"message":"quotaExceeded"}}`)
	})

	_, err := c.Exists(context.Background(), "co9IZOSssFw")
	if !IsTransient(err) {
		t.Fatalf("Exists() error = %v, want TransientError", err)
	}
	if calls != 1 {
		t.Errorf("server called %d times, want 1 (client errors are not retried)", calls)
	}
}
