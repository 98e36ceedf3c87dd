package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/onnwee/stream-tagger/platform"
	"github.com/onnwee/stream-tagger/tags"
	"github.com/onnwee/stream-tagger/twitchapi"
)

// DefaultRechatURL is Twitch's chat replay endpoint.
const DefaultRechatURL = "https://rechat.twitch.tv/rechat-messages"

// VideoLister lists a channel's archived broadcasts. *twitchapi.HelixClient implements it.
type VideoLister interface {
	ListVideos(ctx context.Context, userID, after string, first int) ([]twitchapi.VideoMeta, string, error)
}

// RechatHistory replays the chat of a channel's archived broadcast. It implements
// tags.History. Author ids are the chatters' logins since rechat carries no user id.
type RechatHistory struct {
	Videos     VideoLister
	BaseURL    string
	HTTPClient *http.Client
	// Cookie is sent as-is; sub-only VODs need an authenticated session cookie.
	Cookie string
	// Pause between chunk requests.
	Pause time.Duration
}

// rechatMessage is a minimal representation of a rechat message
type rechatMessage struct {
	ID    string
	Login string
	Text  string
	Abs   time.Time
	Rel   float64
}

const rechatStep = 30 // seconds per page

// Messages finds the archive covering since and pages through its chat from there.
func (h *RechatHistory) Messages(ctx context.Context, channelID string, since time.Time) ([]tags.HistoricalMessage, error) {
	videos, _, err := h.Videos.ListVideos(ctx, channelID, "", 20)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	v, start, dur, ok := coveringVideo(videos, since)
	if !ok {
		return nil, nil
	}

	logger := slog.Default().With(slog.String("component", "rechat"), slog.String("vod_id", v.ID))
	logger.Info("starting chat replay")

	begin := max(0, int(since.Sub(start).Seconds()))
	maxOffset := int(dur.Seconds())
	if maxOffset <= 0 {
		maxOffset = 24 * 60 * 60
	} // cap at 24h when unknown
	emptyStreak := 0
	seen := make(map[string]struct{})
	var out []tags.HistoricalMessage

	for offset := begin; offset <= maxOffset; offset += rechatStep {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		msgs, next, err := h.fetchChunk(ctx, v.ID, offset)
		if err != nil {
			logger.Warn("fetch rechat chunk failed", slog.Int("offset", offset), slog.Any("err", err))
			emptyStreak++
			if emptyStreak >= 3 {
				break
			}
			continue
		}
		if len(msgs) == 0 {
			emptyStreak++
			if emptyStreak >= 4 { // four empty windows in a row -> likely done
				break
			}
			continue
		}
		emptyStreak = 0

		for _, m := range msgs {
			if m.ID == "" {
				continue
			}
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
			abs := m.Abs
			if abs.IsZero() {
				abs = start.Add(time.Duration(m.Rel * float64(time.Second)))
			}
			if abs.Before(since) {
				continue
			}
			out = append(out, tags.HistoricalMessage{ID: m.ID, AuthorID: m.Login, Text: strings.TrimSpace(m.Text), SentAt: abs.UTC()})
		}

		// jump ahead when the chunk reached past the next window
		if next > offset+rechatStep {
			offset = next - rechatStep // loop will +step
		}
		if h.Pause > 0 {
			select {
			case <-ctx.Done():
				return out, ctx.Err()
			case <-time.After(h.Pause):
			}
		}
	}
	logger.Info("chat replay finished", slog.Int("messages", len(out)))
	return out, nil
}

// coveringVideo picks the archive whose run contains t, else the latest one that
// started after t.
func coveringVideo(videos []twitchapi.VideoMeta, t time.Time) (twitchapi.VideoMeta, time.Time, time.Duration, bool) {
	var best twitchapi.VideoMeta
	var bestStart time.Time
	var bestDur time.Duration
	found := false
	for _, v := range videos {
		start, err := time.Parse(time.RFC3339, v.CreatedAt)
		if err != nil {
			continue
		}
		dur, _ := time.ParseDuration(v.Duration)
		if !t.Before(start) && (dur == 0 || t.Before(start.Add(dur))) {
			return v, start, dur, true
		}
		if start.After(t) && (!found || start.Before(bestStart)) {
			best, bestStart, bestDur, found = v, start, dur, true
		}
	}
	return best, bestStart, bestDur, found
}

func (h *RechatHistory) fetchChunk(ctx context.Context, vodID string, offset int) ([]rechatMessage, int, error) {
	base := h.BaseURL
	if base == "" {
		base = DefaultRechatURL
	}
	u := fmt.Sprintf("%s?video_id=%s&offset=%d", base, url.QueryEscape("v"+strings.TrimPrefix(vodID, "v")), offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, offset, err
	}
	req.Header.Set("User-Agent", "stream-tagger/1.0")
	if h.Cookie != "" {
		req.Header.Set("Cookie", h.Cookie)
	}
	client := h.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, offset, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, offset, platform.CheckStatus(platform.Twitch, resp, string(b))
	}
	var raw struct {
		Data []struct {
			Attributes struct {
				ID        string    `json:"id"`
				Timestamp time.Time `json:"timestamp"`
				Offset    float64   `json:"offset"`
				Message   struct {
					Body string `json:"body"`
					User struct {
						UserLogin string `json:"userLogin"`
					} `json:"user"`
				} `json:"message"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, offset, err
	}
	out := make([]rechatMessage, 0, len(raw.Data))
	for _, d := range raw.Data {
		a := d.Attributes
		out = append(out, rechatMessage{
			ID:    a.ID,
			Login: a.Message.User.UserLogin,
			Text:  a.Message.Body,
			Abs:   a.Timestamp,
			Rel:   a.Offset,
		})
	}
	// Hint next offset just after this window
	next := offset + rechatStep
	if len(out) > 0 {
		if last := out[len(out)-1]; last.Rel > 0 {
			next = int(last.Rel) + 1
		}
	}
	return out, next, nil
}
