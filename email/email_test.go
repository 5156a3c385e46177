package email

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

func TestAlerter_ProtocolFailureOncePerSubject(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	mock := NewMockProvider(logger)
	a := NewAlerter(mock, "ops@example.com", logger)

	cause := errors.New("parse form: multipart_params block not found")
	for range 3 {
		if err := a.ProtocolFailure(context.Background(), "co9IZOSssFw", cause); err != nil {
			t.Fatalf("ProtocolFailure() error = %v", err)
		}
	}

	sent := mock.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d alerts, want 1", len(sent))
	}
	if sent[0].To != "ops@example.com" {
		t.Errorf("To = %q", sent[0].To)
	}
	if !strings.Contains(sent[0].Text, "co9IZOSssFw") || !strings.Contains(sent[0].Text, "multipart_params") {
		t.Errorf("alert text missing details: %q", sent[0].Text)
	}
}

func TestAlerter_NoRecipient(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	a := NewAlerter(NewMockProvider(logger), "", logger)
	if err := a.ProtocolFailure(context.Background(), "x", errors.New("boom")); err == nil {
		t.Error("ProtocolFailure() with no recipient succeeded")
	}
}

func TestRawMessage_StripsHeaderInjection(t *testing.T) {
	raw := rawMessage(Message{
		To:      "ops@example.com\r\nBcc: attacker@example.com",
		Subject: "alert\nX-Injected: yes",
		Text:    "line one\nline two",
	})
	decoded, err := base64.URLEncoding.DecodeString(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	msg := string(decoded)

	headers := msg[:strings.Index(msg, "\r\n\r\n")]
	if strings.Contains(headers, "\r\nBcc:") || strings.Contains(headers, "\r\nX-Injected:") {
		t.Errorf("header injection not prevented:\n%s", headers)
	}
	if !strings.HasSuffix(msg, "line one\r\nline two") {
		t.Errorf("body not CRLF-normalized: %q", msg)
	}
}

func TestBrevoProvider_Send(t *testing.T) {
	var got brevoSendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") != "brevo-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	b := NewBrevoProvider("brevo-key", "bot@example.com", logger)
	b.endpoint = srv.URL

	err := b.Send(context.Background(), Message{To: "ops@example.com", Subject: "s", Text: "t"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got.Sender.Email != "bot@example.com" || len(got.To) != 1 || got.To[0].Email != "ops@example.com" || got.Text != "t" {
		t.Errorf("unexpected request: %+v", got)
	}
}
