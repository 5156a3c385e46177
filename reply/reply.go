// Package reply posts the bot's answers on the forum.
package reply

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"reddit-mirror-bot/pkg/mirror"
)

var bodies = template.Must(template.New("reply").Parse(`
{{- define "footer"}}

---

^| [^Feedback](http://www.reddit.com/r/{{.Bot}}/)
^| [^FAQ](http://www.reddit.com/r/{{.Bot}}/wiki/index) ^|
{{- end}}

{{- define "success"}}[**Mirror**]({{.URL}}){{template "footer" .}}{{end}}

{{- define "error"}}**Error:** {{.Message}}{{template "footer" .}}{{end}}
`))

// NotVideo explains that the summoned post does not link a video.
func NotVideo(url string) string {
	return fmt.Sprintf("[this](%s) is not a YouTube video", url)
}

// DownloadFailed explains that the video could not be fetched.
func DownloadFailed(url string) string {
	return fmt.Sprintf("couldn't download [this video](%s)", url)
}

// Unavailable explains that the local copy was lost before publishing.
func Unavailable(url string) string {
	return fmt.Sprintf("[this video](%s) is no longer available to mirror", url)
}

// Expired explains that a request did not collect enough votes in time.
func Expired(url string, hold time.Duration) string {
	return fmt.Sprintf("[this video](%s) didn't get enough votes within %d hours", url, int(hold.Hours()))
}

// Emitter renders and posts replies, never answering the same target twice.
type Emitter struct {
	logger  *slog.Logger
	botName string
	viewURL string
}

// New creates an emitter. viewURL is a fmt pattern taking the mirror id.
func New(botName, viewURL string, logger *slog.Logger) *Emitter {
	return &Emitter{logger: logger, botName: botName, viewURL: viewURL}
}

// Replied reports whether the bot already answered target.
func (e *Emitter) Replied(ctx context.Context, target mirror.ReplyTarget) (bool, error) {
	authors, err := target.ListReplyAuthors(ctx)
	if err != nil {
		return false, fmt.Errorf("list replies of %s: %w", target.Permalink(), err)
	}
	for _, a := range authors {
		if strings.EqualFold(a, e.botName) {
			return true, nil
		}
	}
	return false, nil
}

// Success posts the mirror link for mirrorID. It reports whether a reply
// was actually posted.
func (e *Emitter) Success(ctx context.Context, target mirror.ReplyTarget, mirrorID string) (bool, error) {
	body, err := e.SuccessBody(mirrorID)
	if err != nil {
		return false, err
	}
	return e.post(ctx, target, body, "success")
}

// Error posts a diagnostic. It reports whether a reply was actually posted.
func (e *Emitter) Error(ctx context.Context, target mirror.ReplyTarget, message string) (bool, error) {
	body, err := e.ErrorBody(message)
	if err != nil {
		return false, err
	}
	return e.post(ctx, target, body, "error")
}

// SuccessBody renders the mirror link reply.
func (e *Emitter) SuccessBody(mirrorID string) (string, error) {
	return e.render("success", map[string]string{
		"Bot": e.botName,
		"URL": fmt.Sprintf(e.viewURL, mirrorID),
	})
}

// ErrorBody renders the diagnostic reply.
func (e *Emitter) ErrorBody(message string) (string, error) {
	return e.render("error", map[string]string{
		"Bot":     e.botName,
		"Message": message,
	})
}

func (e *Emitter) render(name string, data map[string]string) (string, error) {
	var buf bytes.Buffer
	if err := bodies.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s reply: %w", name, err)
	}
	return buf.String(), nil
}

func (e *Emitter) post(ctx context.Context, target mirror.ReplyTarget, body, kind string) (bool, error) {
	replied, err := e.Replied(ctx, target)
	if err != nil {
		return false, err
	}
	if replied {
		e.logger.Info("Already replied, skipping", "permalink", target.Permalink(), "kind", kind)
		return false, nil
	}
	if err := target.PostReply(ctx, body); err != nil {
		return false, fmt.Errorf("reply to %s: %w", target.Permalink(), err)
	}
	e.logger.Info("Replied", "permalink", target.Permalink(), "kind", kind)
	return true, nil
}
