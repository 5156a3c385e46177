// Package reddit is a small client for the parts of the Reddit API the bot
// uses: subreddit listings, single things by permalink, and comment replies.
package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/oauth2"
)

const (
	defaultTokenURL = "https://www.reddit.com/api/v1/access_token"
	defaultAPIURL   = "https://oauth.reddit.com"
)

// Config holds the script-app credentials of the bot account.
type Config struct {
	Username     string
	Password     string
	ClientID     string
	ClientSecret string
	UserAgent    string
	TokenURL     string // Defaults to the production token endpoint
	APIURL       string // Defaults to https://oauth.reddit.com
}

// APIError is a non-2xx response or an error list from the API.
type APIError struct {
	Path   string
	Status int
	Msg    string
}

func (e *APIError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("reddit %s: HTTP %d: %s", e.Path, e.Status, e.Msg)
	}
	return fmt.Sprintf("reddit %s: HTTP %d", e.Path, e.Status)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusNotFound
}

// Client talks to the Reddit API as the bot account.
type Client struct {
	http     *http.Client
	logger   *slog.Logger
	apiURL   string
	username string
}

// New authenticates with the password grant and returns a ready client.
// Tokens are renewed with the same grant when they expire.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}

	// Reddit throttles requests without a descriptive User-Agent.
	transport := &userAgentTransport{agent: cfg.UserAgent, base: http.DefaultTransport}
	base := &http.Client{Timeout: 30 * time.Second, Transport: transport}

	src := &passwordSource{
		ctx: context.WithValue(ctx, oauth2.HTTPClient, base),
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		username: cfg.Username,
		password: cfg.Password,
	}
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("obtain reddit token: %w", err)
	}
	logger.Info("Authenticated with Reddit", "user", cfg.Username, "expiry", tok.Expiry)

	return &Client{
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &oauth2.Transport{
				Source: oauth2.ReuseTokenSource(tok, src),
				Base:   transport,
			},
		},
		logger:   logger,
		apiURL:   strings.TrimSuffix(cfg.APIURL, "/"),
		username: cfg.Username,
	}, nil
}

// Username returns the bot account name.
func (c *Client) Username() string {
	return c.username
}

// passwordSource re-runs the password grant; script apps get no refresh token.
type passwordSource struct {
	ctx      context.Context
	conf     *oauth2.Config
	username string
	password string
}

func (s *passwordSource) Token() (*oauth2.Token, error) {
	return s.conf.PasswordCredentialsToken(s.ctx, s.username, s.password)
}

type userAgentTransport struct {
	agent string
	base  http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)
	return t.base.RoundTrip(req)
}

// get fetches path and decodes the JSON body into out, retrying
// server-side and network failures.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	target := c.apiURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			body, err := c.do(req, path)
			if err != nil {
				return err
			}
			if err := json.Unmarshal(body, out); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode %s: %w", path, err))
			}
			return nil
		},
		retry.Attempts(5),
		retry.Delay(2*time.Second),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying Reddit request after error", "attempt", n, "path", path, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			var ae *APIError
			if errors.As(err, &ae) {
				return ae.Status == http.StatusTooManyRequests || ae.Status >= http.StatusInternalServerError
			}
			return true
		}),
	)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	return nil
}

// postForm submits form to path once and decodes the reply into out.
func (c *Client) postForm(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(req, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(req *http.Request, path string) ([]byte, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.logger.Warn("Reddit request failed", "path", path, "duration_ms", duration.Milliseconds(), "error", err)
		return nil, err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("Reddit request completed",
		"method", req.Method,
		"path", path,
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Path: path, Status: resp.StatusCode}
	}
	return body, nil
}
