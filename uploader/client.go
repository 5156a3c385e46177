// Package uploader publishes video files to the mirror host.
//
// A publication is one ordered pipeline: log in, fetch the upload form,
// store the object in the host's bucket, confirm it, then publish the item.
// The form's credentials are single use, so a failed pipeline is restarted
// from the form fetch rather than resumed.
package uploader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// Session cookies the host sets on a successful login.
var sessionCookies = []string{
	"PHPSESSID",
	"liveleak_safe_mode",
	"liveleak_use_old_player",
	"liveleak_user_password",
	"liveleak_user_token",
	"user-agent",
}

// Config holds the mirror host endpoints and account.
type Config struct {
	BaseURL   string // e.g. http://www.liveleak.com
	UploadURL string // Object store endpoint the form posts to
	ViewURL   string // fmt pattern turning an item token into a link
	Username  string
	Password  string
	UserAgent string
	DryRun    bool
	Attempts  uint // Retry attempts for idempotent requests; 0 means 3
}

// Item is the metadata published alongside a stored file.
type Item struct {
	Title    string
	Body     string
	Tags     string
	Category string
}

// Client drives the publication pipeline. It is not safe for concurrent use.
type Client struct {
	http    *http.Client
	logger  *slog.Logger
	now     func() time.Time
	cookies []*http.Cookie
	cfg     Config
}

// New creates a client. The session is established lazily by Upload.
func New(cfg Config, client *http.Client, logger *slog.Logger) *Client {
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	return &Client{
		http:   client,
		logger: logger,
		now:    time.Now,
		cfg:    cfg,
	}
}

// ViewURL returns the public link for a published item.
func (c *Client) ViewURL(itemToken string) string {
	return fmt.Sprintf(c.cfg.ViewURL, itemToken)
}

// Login authenticates and retains the session cookies.
func (c *Client) Login(ctx context.Context) error {
	form := url.Values{
		"user_name":     {c.cfg.Username},
		"user_password": {c.cfg.Password},
		"login":         {"1"},
	}

	var cookies []*http.Cookie
	err := c.withRetry(ctx, "login", func() error {
		req, err := c.newRequest(ctx, http.MethodPost, c.cfg.BaseURL+"/index.php", strings.NewReader(form.Encode()))
		if err != nil {
			return retry.Unrecoverable(err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, _, err := c.do(req, "login")
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return retry.Unrecoverable(&AuthError{Status: resp.StatusCode})
		}

		byName := make(map[string]*http.Cookie)
		for _, ck := range resp.Cookies() {
			byName[ck.Name] = ck
		}
		cookies = cookies[:0]
		for _, name := range sessionCookies {
			ck, ok := byName[name]
			if !ok {
				return retry.Unrecoverable(&AuthError{Status: resp.StatusCode, Missing: name})
			}
			cookies = append(cookies, &http.Cookie{Name: ck.Name, Value: ck.Value})
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.cookies = cookies
	c.logger.Info("Logged in to mirror host", "user", c.cfg.Username)
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	if body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}
	return req, nil
}

// do sends req and returns the response with its fully read body.
func (c *Client) do(req *http.Request, step string) (*http.Response, []byte, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.logger.Warn("HTTP request failed",
			"step", step,
			"url", req.URL.Redacted(),
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return nil, nil, fmt.Errorf("%s request: %w", step, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s response: %w", step, err)
	}

	c.logger.Debug("HTTP request completed",
		"step", step,
		"method", req.Method,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
		"content_length", len(body))
	return resp, body, nil
}

// withRetry retries fn for requests that are safe to repeat.
func (c *Client) withRetry(ctx context.Context, step string, fn func() error) error {
	return retry.Do(fn,
		retry.Attempts(c.cfg.Attempts),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying mirror host request after error", "step", step, "attempt", n, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			return !IsAuthError(err) && !IsProtocolError(err)
		}),
	)
}
