// Package youtubeapi resolves YouTube channels and videos into stream records using the
// YouTube Data API with an API key. Only read calls are made.
package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/stream-tagger/apperr"
	"github.com/onnwee/stream-tagger/platform"
)

// Adapter implements platform.Adapter for YouTube.
type Adapter struct {
	svc *yt.Service
}

// New builds an adapter. Extra options are appended after the API key (tests pass an
// endpoint and HTTP client).
func New(ctx context.Context, apiKey string, opts ...option.ClientOption) (*Adapter, error) {
	var all []option.ClientOption
	if apiKey != "" {
		all = append(all, option.WithAPIKey(apiKey))
	}
	all = append(all, opts...)
	svc, err := yt.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	return &Adapter{svc: svc}, nil
}

func (a *Adapter) Platform() platform.Platform { return platform.YouTube }

// FetchLatestStream accepts a UC channel id or an @handle. The newest live broadcast wins;
// otherwise the newest completed one.
func (a *Adapter) FetchLatestStream(ctx context.Context, channelID string) (platform.ResolvedStream, error) {
	id, err := a.channelID(ctx, channelID)
	if err != nil {
		return platform.ResolvedStream{}, err
	}
	for _, event := range []string{"live", "completed"} {
		res, err := a.svc.Search.List([]string{"id"}).
			ChannelId(id).
			EventType(event).
			Type("video").
			Order("date").
			MaxResults(1).
			Context(ctx).Do()
		if err != nil {
			return platform.ResolvedStream{}, convert(err)
		}
		for _, item := range res.Items {
			if item.Id != nil && item.Id.VideoId != "" {
				return a.ResolveByStreamRef(ctx, item.Id.VideoId)
			}
		}
	}
	return platform.ResolvedStream{}, apperr.NotFound("youtube: no broadcasts for %s", channelID)
}

// ResolveByStreamRef accepts a video id or any recognized YouTube video URL.
func (a *Adapter) ResolveByStreamRef(ctx context.Context, ref string) (platform.ResolvedStream, error) {
	r := platform.ParseRef(ref, platform.YouTube)
	if r.Platform != platform.YouTube {
		return platform.ResolvedStream{}, apperr.NotFound("youtube: not a youtube reference: %s", ref)
	}
	if r.Kind == platform.RefChannel {
		return a.FetchLatestStream(ctx, r.ID)
	}
	res, err := a.svc.Videos.List([]string{"snippet", "liveStreamingDetails", "status"}).
		Id(r.ID).
		Context(ctx).Do()
	if err != nil {
		return platform.ResolvedStream{}, convert(err)
	}
	if len(res.Items) == 0 {
		return platform.ResolvedStream{}, apperr.NotFound("youtube video not found: %s", r.ID)
	}
	return fromVideo(res.Items[0])
}

func (a *Adapter) channelID(ctx context.Context, channel string) (string, error) {
	if !strings.HasPrefix(channel, "@") {
		if channel == "" {
			return "", apperr.Invalid("youtube: empty channel")
		}
		return channel, nil
	}
	res, err := a.svc.Channels.List([]string{"id"}).ForHandle(channel).Context(ctx).Do()
	if err != nil {
		return "", convert(err)
	}
	if len(res.Items) == 0 {
		return "", apperr.NotFound("youtube handle not found: %s", channel)
	}
	return res.Items[0].Id, nil
}

func fromVideo(v *yt.Video) (platform.ResolvedStream, error) {
	rs := platform.ResolvedStream{
		Platform: platform.YouTube,
		StreamID: v.Id,
		URL:      "https://www.youtube.com/watch?v=" + v.Id,
	}
	if v.Snippet != nil {
		rs.ChannelID = v.Snippet.ChannelId
		rs.Title = v.Snippet.Title
	}
	if v.Status != nil {
		rs.IsPrivate = v.Status.PrivacyStatus == "private"
	}
	var start string
	switch d := v.LiveStreamingDetails; {
	case d != nil:
		if d.ActualStartTime == "" {
			return platform.ResolvedStream{}, apperr.NotFound("youtube: broadcast %s has not started", v.Id)
		}
		start = d.ActualStartTime
		if d.ActualEndTime != "" {
			if t, err := time.Parse(time.RFC3339, d.ActualEndTime); err == nil {
				rs.EndTime = t.UTC()
			}
		} else {
			rs.IsLive = true
		}
	case v.Snippet != nil:
		// plain uploads anchor at publish time
		start = v.Snippet.PublishedAt
	}
	t, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return platform.ResolvedStream{}, apperr.NotFound("youtube: video %s has no usable start time", v.Id)
	}
	rs.StartTime = t.UTC()
	return rs, nil
}

// convert maps googleapi errors onto the platform error classes.
func convert(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == 404 {
			return apperr.NotFound("youtube: %s", gerr.Message)
		}
		return &platform.StatusError{Platform: platform.YouTube, StatusCode: gerr.Code, Body: gerr.Message}
	}
	return err
}
