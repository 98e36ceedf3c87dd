// Package twitchapi contains minimal helpers to interact with Twitch Helix APIs
// for user id resolution, live stream lookup and archived VOD metadata, using an app access token.
package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/onnwee/stream-tagger/apperr"
	"github.com/onnwee/stream-tagger/platform"
)

// DefaultBaseURL is the Helix API root.
const DefaultBaseURL = "https://api.twitch.tv/helix"

// HelixClient provides the Helix calls needed for stream resolution.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	// BaseURL overrides DefaultBaseURL (tests).
	BaseURL    string
	HTTPClient *http.Client
}

// StreamMeta is a currently live broadcast.
type StreamMeta struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	UserLogin string `json:"user_login"`
	Title     string `json:"title"`
	Type      string `json:"type"`
	StartedAt string `json:"started_at"`
}

// VideoMeta is an archived broadcast (VOD).
type VideoMeta struct {
	ID        string `json:"id"`
	StreamID  string `json:"stream_id"`
	UserID    string `json:"user_id"`
	UserLogin string `json:"user_login"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Viewable  string `json:"viewable"`
	Duration  string `json:"duration"`
	CreatedAt string `json:"created_at"`
}

func (hc *HelixClient) client() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) get(ctx context.Context, path string, q url.Values, out any) error {
	base := hc.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.client().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return platform.CheckStatus(platform.Twitch, resp, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := hc.get(ctx, "/users", url.Values{"login": {login}}, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", apperr.NotFound("twitch user not found: %s", login)
	}
	return body.Data[0].ID, nil
}

// GetStreams returns the live broadcast of a user, if any.
func (hc *HelixClient) GetStreams(ctx context.Context, userID string) ([]StreamMeta, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID empty")
	}
	var body struct {
		Data []StreamMeta `json:"data"`
	}
	if err := hc.get(ctx, "/streams", url.Values{"user_id": {userID}, "type": {"live"}}, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// ListVideos lists archive videos for a user, newest first.
func (hc *HelixClient) ListVideos(ctx context.Context, userID, after string, first int) ([]VideoMeta, string, error) {
	if userID == "" {
		return nil, "", fmt.Errorf("userID empty")
	}
	if first <= 0 {
		first = 20
	}
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("type", "archive")
	q.Set("first", fmt.Sprintf("%d", first))
	if after != "" {
		q.Set("after", after)
	}
	var body struct {
		Data       []VideoMeta `json:"data"`
		Pagination struct {
			Cursor string `json:"cursor"`
		} `json:"pagination"`
	}
	if err := hc.get(ctx, "/videos", q, &body); err != nil {
		return nil, "", err
	}
	return body.Data, body.Pagination.Cursor, nil
}

// GetVideo fetches a single video by id.
func (hc *HelixClient) GetVideo(ctx context.Context, id string) (VideoMeta, error) {
	if id == "" {
		return VideoMeta{}, fmt.Errorf("video id empty")
	}
	var body struct {
		Data []VideoMeta `json:"data"`
	}
	if err := hc.get(ctx, "/videos", url.Values{"id": {id}}, &body); err != nil {
		return VideoMeta{}, err
	}
	if len(body.Data) == 0 {
		return VideoMeta{}, apperr.NotFound("twitch video not found: %s", id)
	}
	return body.Data[0], nil
}
