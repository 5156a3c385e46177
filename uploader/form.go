package uploader

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"
)

// formParams are the upload parameters the form's script must define.
var formParams = []string{
	"key",
	"Filename",
	"acl",
	"Expires",
	"Content-Type",
	"success_action_status",
	"AWSAccessKeyId",
	"policy",
	"signature",
}

var (
	paramLine     = regexp.MustCompile(`'(` + strings.Join(quoteAll(formParams), "|") + `)' *: *'([^']+)'`)
	connectString = regexp.MustCompile(`connect_string=([^&"']+)`)
)

// UploadForm is what the upload page hands out for one object upload.
type UploadForm struct {
	Params        map[string]string // Signed object store fields
	Connection    string            // Hidden session token tying the upload to the item
	ConnectString string
}

// FetchUploadForm loads and parses the upload page.
func (c *Client) FetchUploadForm(ctx context.Context) (*UploadForm, error) {
	var form *UploadForm
	err := c.withRetry(ctx, "fetch form", func() error {
		req, err := c.newRequest(ctx, http.MethodGet, c.cfg.BaseURL+"/item?a=add_item", nil)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		resp, body, err := c.do(req, "fetch form")
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return &RemoteError{Step: "fetch form", Status: resp.StatusCode}
		}

		form, err = ParseUploadForm(body)
		if err != nil {
			c.logger.Error("Upload form did not parse", "error", err)
			return retry.Unrecoverable(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Upload form fetched", "connection", form.Connection)
	return form, nil
}

// ParseUploadForm extracts the upload parameters, the connection token and
// the connect string from an upload page. Every piece is required; a page
// missing any of them yields a ProtocolError.
func ParseUploadForm(page []byte) (*UploadForm, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, &ProtocolError{Step: "parse form", Msg: "invalid HTML", Err: err}
	}

	var params map[string]string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		params = parseMultipartParams(s.Text())
		return params == nil
	})
	if params == nil {
		return nil, &ProtocolError{Step: "parse form", Msg: "multipart_params block not found"}
	}
	for _, key := range formParams {
		if _, ok := params[key]; !ok {
			return nil, &ProtocolError{Step: "parse form", Msg: fmt.Sprintf("upload parameter %q missing", key)}
		}
	}

	connection, ok := doc.Find("input#connection").First().Attr("value")
	if !ok || strings.TrimSpace(connection) == "" {
		return nil, &ProtocolError{Step: "parse form", Msg: "connection input missing"}
	}

	m := connectString.FindSubmatch(page)
	if m == nil {
		return nil, &ProtocolError{Step: "parse form", Msg: "connect_string missing"}
	}

	return &UploadForm{
		Params:        params,
		Connection:    connection,
		ConnectString: string(m[1]),
	}, nil
}

// parseMultipartParams reads the `multipart_params: { ... },` object out of
// a script body. It returns nil when the script has no such block.
func parseMultipartParams(script string) map[string]string {
	var params map[string]string
	for _, line := range strings.Split(script, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case params == nil && strings.HasPrefix(line, "multipart_params: {"):
			params = make(map[string]string)
		case params == nil:
		case strings.HasPrefix(line, "}"):
			return params
		default:
			if m := paramLine.FindStringSubmatch(line); m != nil {
				params[m[1]] = m[2]
			}
		}
	}
	return params
}

func quoteAll(names []string) []string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = regexp.QuoteMeta(n)
	}
	return quoted
}
