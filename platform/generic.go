package platform

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/onnwee/stream-tagger/apperr"
)

// maxPageBytes bounds how much of an unknown page is read while looking for metadata.
const maxPageBytes = 2 << 20

// GenericAdapter is the best-effort fallback for unsupported sites. It reads the page's
// schema.org / OpenGraph metadata and gives up with NotFound when either the stream
// identity or the start time cannot be established.
type GenericAdapter struct {
	HTTPClient *http.Client
	UserAgent  string
}

func (g *GenericAdapter) Platform() Platform { return Generic }

func (g *GenericAdapter) client() *http.Client {
	if g.HTTPClient != nil {
		return g.HTTPClient
	}
	return http.DefaultClient
}

// FetchLatestStream treats channelID as a page URL that embeds the current broadcast.
func (g *GenericAdapter) FetchLatestStream(ctx context.Context, channelID string) (ResolvedStream, error) {
	s, err := g.extract(ctx, channelID)
	if err != nil {
		return ResolvedStream{}, err
	}
	s.ChannelID = channelID
	return s, nil
}

func (g *GenericAdapter) ResolveByStreamRef(ctx context.Context, ref string) (ResolvedStream, error) {
	return g.extract(ctx, ref)
}

func (g *GenericAdapter) extract(ctx context.Context, pageURL string) (ResolvedStream, error) {
	if !strings.HasPrefix(pageURL, "http://") && !strings.HasPrefix(pageURL, "https://") {
		return ResolvedStream{}, apperr.NotFound("generic: unsupported url %q", pageURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return ResolvedStream{}, apperr.NotFound("generic: invalid url %q", pageURL)
	}
	ua := g.UserAgent
	if ua == "" {
		ua = "stream-tagger/1.0"
	}
	req.Header.Set("User-Agent", ua)
	resp, err := g.client().Do(req)
	if err != nil {
		return ResolvedStream{}, fmt.Errorf("generic fetch: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if err := CheckStatus(Generic, resp, ""); err != nil {
		return ResolvedStream{}, err
	}
	meta, err := scanMeta(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return ResolvedStream{}, fmt.Errorf("generic parse: %w", err)
	}
	return streamFromMeta(pageURL, meta)
}

// scanMeta collects <meta> property/itemprop/name → content pairs. The first value wins.
func scanMeta(r io.Reader) (map[string]string, error) {
	meta := map[string]string{}
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return meta, nil
			}
			return meta, z.Err()
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) != "meta" || !hasAttr {
				continue
			}
			var key, content string
			for {
				k, v, more := z.TagAttr()
				switch string(k) {
				case "property", "itemprop", "name":
					if key == "" {
						key = strings.ToLower(string(v))
					}
				case "content":
					content = string(v)
				}
				if !more {
					break
				}
			}
			if key != "" {
				if _, seen := meta[key]; !seen {
					meta[key] = content
				}
			}
		}
	}
}

var startKeys = []string{"startdate", "video:release_date", "article:published_time", "uploaddate"}

func streamFromMeta(pageURL string, meta map[string]string) (ResolvedStream, error) {
	id := meta["og:url"]
	if id == "" {
		id = meta["url"]
	}
	var start time.Time
	for _, k := range startKeys {
		if v := meta[k]; v != "" {
			if t, ok := parseMetaTime(v); ok {
				start = t
				break
			}
		}
	}
	if id == "" || start.IsZero() {
		return ResolvedStream{}, apperr.NotFound("generic: no stream metadata at %s", pageURL)
	}
	s := ResolvedStream{
		Platform:  Generic,
		StreamID:  id,
		StartTime: start,
		URL:       id,
		Title:     meta["og:title"],
	}
	if v := meta["enddate"]; v != "" {
		if t, ok := parseMetaTime(v); ok {
			s.EndTime = t
		}
	}
	s.IsLive = strings.EqualFold(meta["islivebroadcast"], "true") && s.EndTime.IsZero()
	return s, nil
}

func parseMetaTime(v string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05-0700", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
