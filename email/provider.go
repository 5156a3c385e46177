// Package email alerts the operator when the mirror host stops behaving
// the way the bot expects.
package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Message is a plain-text operator alert.
type Message struct {
	To      string
	Subject string
	Text    string
}

// Provider defines the interface for email sending implementations.
type Provider interface {
	Send(ctx context.Context, msg Message) error
}

// Alerter mails the operator about failures that need a human.
// Repeated alerts with the same subject are sent once per process.
type Alerter struct {
	provider Provider
	logger   *slog.Logger
	to       string

	mu   sync.Mutex
	sent map[string]bool
}

// NewAlerter creates an alerter delivering to the operator address to.
func NewAlerter(provider Provider, to string, logger *slog.Logger) *Alerter {
	return &Alerter{
		provider: provider,
		logger:   logger,
		to:       to,
		sent:     make(map[string]bool),
	}
}

// ProtocolFailure reports that publishing videoID failed because the mirror
// host's pages or API changed shape.
func (a *Alerter) ProtocolFailure(ctx context.Context, videoID string, cause error) error {
	subject := "mirrorbot: mirror host protocol failure"
	var b strings.Builder
	fmt.Fprintf(&b, "Publishing video %s failed at %s.\n\n", videoID, time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Error: %v\n\n", cause)
	b.WriteString("The upload form or API response no longer matches what the bot parses.\n")
	b.WriteString("Reposts stay paused for affected videos until the client is updated.\n")
	return a.send(ctx, subject, b.String())
}

func (a *Alerter) send(ctx context.Context, subject, text string) error {
	if a.to == "" {
		return errors.New("no alert recipient configured")
	}

	a.mu.Lock()
	if a.sent[subject] {
		a.mu.Unlock()
		a.logger.Debug("Alert already sent this run", "subject", subject)
		return nil
	}
	a.sent[subject] = true
	a.mu.Unlock()

	a.logger.Info("Sending operator alert", "to", a.to, "subject", subject)
	if err := a.provider.Send(ctx, Message{To: a.to, Subject: subject, Text: text}); err != nil {
		a.mu.Lock()
		delete(a.sent, subject)
		a.mu.Unlock()
		return fmt.Errorf("send alert: %w", err)
	}
	return nil
}
