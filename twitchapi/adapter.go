package twitchapi

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/stream-tagger/apperr"
	"github.com/onnwee/stream-tagger/platform"
)

// Adapter resolves Twitch channels and VODs into platform.ResolvedStream records.
//
// Live broadcasts and their archives share the Helix stream id, so a session opened
// while live keeps the same key when the VOD link is used later.
type Adapter struct {
	Helix *HelixClient
}

func NewAdapter(h *HelixClient) *Adapter { return &Adapter{Helix: h} }

func (a *Adapter) Platform() platform.Platform { return platform.Twitch }

// FetchLatestStream accepts a login or numeric user id.
func (a *Adapter) FetchLatestStream(ctx context.Context, channelID string) (platform.ResolvedStream, error) {
	userID, err := a.userID(ctx, channelID)
	if err != nil {
		return platform.ResolvedStream{}, err
	}
	live, err := a.Helix.GetStreams(ctx, userID)
	if err != nil {
		return platform.ResolvedStream{}, err
	}
	videos, _, err := a.Helix.ListVideos(ctx, userID, "", 1)
	if err != nil {
		return platform.ResolvedStream{}, err
	}
	if len(live) > 0 {
		st := live[0]
		start, err := time.Parse(time.RFC3339, st.StartedAt)
		if err != nil {
			return platform.ResolvedStream{}, fmt.Errorf("twitch stream %s: bad started_at %q: %w", st.ID, st.StartedAt, err)
		}
		rs := platform.ResolvedStream{
			Platform:  platform.Twitch,
			ChannelID: strings.ToLower(st.UserLogin),
			StreamID:  st.ID,
			StartTime: start.UTC(),
			IsLive:    true,
			Title:     st.Title,
			URL:       "https://www.twitch.tv/" + strings.ToLower(st.UserLogin),
		}
		if len(videos) > 0 && videos[0].StreamID == st.ID {
			rs.URL = videoURL(videos[0])
			rs.IsPrivate = videos[0].Viewable == "private"
		}
		return rs, nil
	}
	if len(videos) == 0 {
		return platform.ResolvedStream{}, apperr.NotFound("twitch: no streams for %s", channelID)
	}
	return fromVideo(videos[0], false)
}

// ResolveByStreamRef resolves a VOD id (with or without the leading v).
func (a *Adapter) ResolveByStreamRef(ctx context.Context, ref string) (platform.ResolvedStream, error) {
	r := platform.ParseRef(ref, platform.Twitch)
	if r.Platform != platform.Twitch {
		return platform.ResolvedStream{}, apperr.NotFound("twitch: not a twitch reference: %s", ref)
	}
	if r.Kind == platform.RefChannel {
		return a.FetchLatestStream(ctx, r.ID)
	}
	v, err := a.Helix.GetVideo(ctx, r.ID)
	if err != nil {
		return platform.ResolvedStream{}, err
	}
	isLive := false
	if v.StreamID != "" && v.UserID != "" {
		live, err := a.Helix.GetStreams(ctx, v.UserID)
		if err != nil {
			return platform.ResolvedStream{}, err
		}
		isLive = len(live) > 0 && live[0].ID == v.StreamID
	}
	return fromVideo(v, isLive)
}

func (a *Adapter) userID(ctx context.Context, channel string) (string, error) {
	if channel == "" {
		return "", apperr.Invalid("twitch: empty channel")
	}
	if strings.Trim(channel, "0123456789") == "" {
		return channel, nil
	}
	return a.Helix.GetUserID(ctx, strings.ToLower(channel))
}

func fromVideo(v VideoMeta, isLive bool) (platform.ResolvedStream, error) {
	start, err := time.Parse(time.RFC3339, v.CreatedAt)
	if err != nil {
		return platform.ResolvedStream{}, fmt.Errorf("twitch video %s: bad created_at %q: %w", v.ID, v.CreatedAt, err)
	}
	id := v.StreamID
	if id == "" {
		id = "v" + v.ID
	}
	rs := platform.ResolvedStream{
		Platform:  platform.Twitch,
		ChannelID: strings.ToLower(v.UserLogin),
		StreamID:  id,
		StartTime: start.UTC(),
		IsLive:    isLive,
		IsPrivate: v.Viewable == "private",
		URL:       videoURL(v),
		Title:     v.Title,
	}
	if !isLive {
		if d, err := time.ParseDuration(v.Duration); err == nil {
			rs.EndTime = rs.StartTime.Add(d)
		}
	}
	return rs, nil
}

func videoURL(v VideoMeta) string {
	if v.URL != "" {
		return v.URL
	}
	return "https://www.twitch.tv/videos/" + v.ID
}
