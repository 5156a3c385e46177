package uploader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// Publish creates the public item for a confirmed upload and returns the
// item token. The category is validated before anything is sent.
func (c *Client) Publish(ctx context.Context, connection string, item Item) (string, error) {
	code, err := CategoryCode(item.Category)
	if err != nil {
		return "", err
	}

	form := url.Values{
		"title":                             {item.Title},
		"body_text":                         {item.Body},
		"tag_string":                        {item.Tags},
		"category_array[]":                  {strconv.Itoa(code)},
		"address":                           {""},
		"location_id":                       {"0"},
		"is_private":                        {"0"},
		"disable_risky_commenters":          {"0"},
		"content_rating":                    {"MA"},
		"occurrence_date_string":            {""},
		"enable_financial_support":          {"0"},
		"financial_support_paypal_email":    {""},
		"financial_support_bitcoin_address": {""},
		"agreed_to_tos":                     {"on"},
		"connection":                        {connection},
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.cfg.BaseURL+"/item?a=add_item&ajax=1", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, body, err := c.do(req, "publish")
	if err != nil {
		return "", err
	}
	status, err := decodeStatus("publish", resp, body)
	if err != nil {
		return "", err
	}
	if status.ItemToken == "" {
		return "", &ProtocolError{Step: "publish", Msg: "response has no item_token"}
	}

	c.logger.Info("Item published", "item_token", status.ItemToken, "title", item.Title, "category", item.Category)
	return status.ItemToken, nil
}

// Delete discards a stored but unpublished object.
func (c *Client) Delete(ctx context.Context, fileToken string) error {
	q := url.Values{"a": {"delete_file"}, "file_token": {fileToken}}
	err := c.withRetry(ctx, "delete", func() error {
		req, err := c.newRequest(ctx, http.MethodGet, c.cfg.BaseURL+"/file?"+q.Encode(), nil)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		resp, body, err := c.do(req, "delete")
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return &RemoteError{Step: "delete", Status: resp.StatusCode, Msg: snippet(body)}
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.logger.Info("Stored object deleted", "file_token", fileToken)
	return nil
}

// Upload runs the whole pipeline for the file at path and returns the
// published item token. Nothing is published unless the error is nil.
// In dry-run mode the stored object is deleted and ErrDryRun returned.
func (c *Client) Upload(ctx context.Context, path string, item Item) (string, error) {
	if _, err := CategoryCode(item.Category); err != nil {
		return "", err
	}

	start := time.Now()
	if c.cookies == nil {
		if err := c.Login(ctx); err != nil {
			return "", fmt.Errorf("login: %w", err)
		}
	}

	form, err := c.FetchUploadForm(ctx)
	if err != nil {
		var re *RemoteError
		if !errors.As(err, &re) || (re.Status != http.StatusForbidden && re.Status != http.StatusUnauthorized) {
			return "", fmt.Errorf("fetch upload form: %w", err)
		}
		// Session expired; log in again once.
		c.logger.Info("Mirror host session rejected, logging in again", "status_code", re.Status)
		c.cookies = nil
		if err := c.Login(ctx); err != nil {
			return "", fmt.Errorf("login: %w", err)
		}
		if form, err = c.FetchUploadForm(ctx); err != nil {
			return "", fmt.Errorf("fetch upload form: %w", err)
		}
	}

	fileToken, err := c.StoreObject(ctx, path, form)
	if err != nil {
		return "", fmt.Errorf("store object: %w", err)
	}

	if c.cfg.DryRun {
		if err := c.Delete(ctx, fileToken); err != nil {
			c.logger.Warn("Failed to discard dry-run upload", "file_token", fileToken, "error", err)
		}
		return "", ErrDryRun
	}

	itemToken, err := c.Publish(ctx, form.Connection, item)
	if err != nil {
		if delErr := c.Delete(ctx, fileToken); delErr != nil {
			c.logger.Warn("Failed to discard unpublished upload", "file_token", fileToken, "error", delErr)
		}
		return "", fmt.Errorf("publish: %w", err)
	}

	c.logger.Info("Upload pipeline completed",
		"path", path,
		"item_token", itemToken,
		"duration_ms", time.Since(start).Milliseconds())
	return itemToken, nil
}
