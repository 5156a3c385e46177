// Package youtube recognizes YouTube links, checks whether a video is still
// online and fetches local copies with an external downloader.
package youtube

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

	// Percent-encoded watch target inside another URL's query string.
	encodedWatch = regexp.MustCompile(`watch%3Fv%3D([A-Za-z0-9_-]{11})(?:[^A-Za-z0-9_-]|$)`)

	// Catch-all for youtube.com and youtu.be links the structured parse missed.
	looseLink = regexp.MustCompile(`youtu\.?be.*(?:v=|/)([A-Za-z0-9_-]{11})(?:[^A-Za-z0-9_-]|$)`)
)

// ExtractID returns the 11-character video identifier embedded in rawURL,
// or "" when rawURL does not point at a YouTube video.
func ExtractID(rawURL string) string {
	// Forum listings frequently carry HTML-escaped query separators.
	raw := html.UnescapeString(strings.TrimSpace(rawURL))
	if raw == "" {
		return ""
	}

	if u, err := url.Parse(raw); err == nil {
		if id := fromURL(u); id != "" {
			return id
		}
	}

	if m := encodedWatch.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	if m := looseLink.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return ""
}

func fromURL(u *url.URL) string {
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")

	switch host {
	case "youtu.be":
		return validID(strings.Trim(u.Path, "/"))
	case "youtube.com":
	default:
		return ""
	}

	switch {
	case u.Path == "/watch":
		return validID(u.Query().Get("v"))
	case u.Path == "/attribution_link":
		// The target is a relative URL percent-encoded in the u parameter.
		inner, err := url.Parse(u.Query().Get("u"))
		if err != nil {
			return ""
		}
		return validID(inner.Query().Get("v"))
	case strings.HasPrefix(u.Path, "/embed/"), strings.HasPrefix(u.Path, "/v/"), strings.HasPrefix(u.Path, "/shorts/"):
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) == 2 {
			return validID(parts[1])
		}
	}
	return ""
}

func validID(s string) string {
	if idPattern.MatchString(s) {
		return s
	}
	return ""
}
