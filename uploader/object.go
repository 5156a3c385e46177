package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"
)

// objectFields is the multipart field order the signed policy was computed
// over. The object store rejects any other order.
var objectFields = []string{
	"name",
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

// postResponse is the object store's answer to a successful form POST.
type postResponse struct {
	XMLName  xml.Name `xml:"PostResponse"`
	Location string   `xml:"Location"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	ETag     string   `xml:"ETag"`
}

// remoteStatus decodes the host's JSON envelope. The success flag arrives
// as 1, "1" or true depending on the endpoint.
type remoteStatus struct {
	Success   flag   `json:"success"`
	Msg       string `json:"msg"`
	FileToken string `json:"file_token"`
	ItemToken string `json:"item_token"`
}

type flag bool

func (f *flag) UnmarshalJSON(b []byte) error {
	switch strings.Trim(string(b), `"`) {
	case "1", "true":
		*f = true
	default:
		*f = false
	}
	return nil
}

// UploadName builds the outgoing filename: the alphanumeric part of the
// local stem, an underscore, a millisecond timestamp, the original extension.
func UploadName(path string, millis int64) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return r
		}
		return -1
	}, strings.TrimSuffix(base, ext))
	return stem + "_" + strconv.FormatInt(millis, 10) + ext
}

// StoreObject uploads the file at path with the credentials in form and
// confirms it with the host. It returns the host's file token.
func (c *Client) StoreObject(ctx context.Context, path string, form *UploadForm) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open video: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			c.logger.Warn("Failed to close video file", "path", path, "error", closeErr)
		}
	}()
	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat video: %w", err)
	}

	filename := UploadName(path, c.now().UnixMilli())
	fields := make(map[string]string, len(objectFields))
	for k, v := range form.Params {
		fields[k] = v
	}
	fields["name"] = filename
	fields["key"] = strings.ReplaceAll(fields["key"], "${filename}", filename)

	head, tail, contentType, err := multipartFrame(fields, filename)
	if err != nil {
		return "", err
	}

	// The body streams the file between a prebuilt head and tail so the
	// request carries an exact Content-Length without buffering the video.
	body := io.MultiReader(bytes.NewReader(head), f, bytes.NewReader(tail))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.UploadURL, body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.ContentLength = int64(len(head)) + info.Size() + int64(len(tail))
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Origin", c.cfg.BaseURL)
	req.Header.Set("Referer", c.cfg.BaseURL+"/item?a=add_item")

	c.logger.Info("Storing object", "path", path, "filename", filename, "size", info.Size())
	resp, respBody, err := c.do(req, "store object")
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusCreated {
		return "", &RemoteError{Step: "store object", Status: resp.StatusCode, Msg: snippet(respBody)}
	}

	var stored postResponse
	if err := xml.Unmarshal(respBody, &stored); err != nil {
		return "", &ProtocolError{Step: "store object", Msg: "undecodable response", Err: err}
	}
	if stored.Key == "" {
		return "", &ProtocolError{Step: "store object", Msg: "response has no Key"}
	}
	c.logger.Debug("Object stored", "bucket", stored.Bucket, "key", stored.Key, "etag", stored.ETag)

	return c.confirm(ctx, form, stored.Key, filename, respBody)
}

// confirm tells the host about the stored object and returns its file token.
func (c *Client) confirm(ctx context.Context, form *UploadForm, key, filename string, storeResponse []byte) (string, error) {
	// fn and resp are escaped once here and once more by Encode; the host
	// unescapes twice.
	q := url.Values{
		"a":              {"add_file"},
		"ajax":           {"1"},
		"connect_string": {form.ConnectString},
		"s3_key":         {key},
		"fn":             {url.PathEscape(filename)},
		"resp":           {url.PathEscape(string(storeResponse))},
	}

	// Not retried: the connect string is consumed by the first call.
	req, err := c.newRequest(ctx, http.MethodGet, c.cfg.BaseURL+"/file?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, body, err := c.do(req, "confirm object")
	if err != nil {
		return "", err
	}
	status, err := decodeStatus("confirm object", resp, body)
	if err != nil {
		return "", err
	}
	token := status.FileToken
	if token == "" {
		return "", &ProtocolError{Step: "confirm object", Msg: "response has no file_token"}
	}

	c.logger.Info("Object confirmed", "file_token", token)
	return token, nil
}

// multipartFrame renders everything of the multipart body except the file
// bytes themselves.
func multipartFrame(fields map[string]string, filename string) (head, tail []byte, contentType string, err error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range objectFields {
		if err := mw.WriteField(name, fields[name]); err != nil {
			return nil, nil, "", fmt.Errorf("write field %s: %w", name, err)
		}
	}

	fileType := mime.TypeByExtension(filepath.Ext(filename))
	if fileType == "" {
		fileType = "video/mp4"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", fileType)
	if _, err := mw.CreatePart(h); err != nil {
		return nil, nil, "", fmt.Errorf("create file part: %w", err)
	}
	headLen := buf.Len()
	if err := mw.Close(); err != nil {
		return nil, nil, "", fmt.Errorf("close multipart writer: %w", err)
	}

	frame := buf.Bytes()
	return frame[:headLen], frame[headLen:], mw.FormDataContentType(), nil
}

// decodeStatus turns a host JSON reply into a RemoteError unless it reports success.
func decodeStatus(step string, resp *http.Response, body []byte) (*remoteStatus, error) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RemoteError{Step: step, Status: resp.StatusCode, Msg: snippet(body)}
	}
	var status remoteStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, &RemoteError{Step: step, Status: resp.StatusCode, Msg: "undecodable JSON: " + snippet(body)}
	}
	if !status.Success {
		return nil, &RemoteError{Step: step, Status: resp.StatusCode, Msg: status.Msg}
	}
	return &status, nil
}

func snippet(b []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
