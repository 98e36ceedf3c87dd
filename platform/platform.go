// Package platform defines the uniform contract every video platform adapter implements,
// the canonical ResolvedStream record, and recognition of platform URLs and bare ids.
package platform

import (
	"context"
	"time"
)

// Platform names a video platform.
type Platform string

const (
	Twitch  Platform = "twitch"
	YouTube Platform = "youtube"
	Generic Platform = "generic"
	// Manual marks a stream synthesized from a user-supplied start time.
	Manual Platform = "manual"
)

// ResolvedStream is the canonical description of one broadcast.
// StartTime anchors every relative timestamp in a session and never changes once resolved.
type ResolvedStream struct {
	Platform  Platform  `json:"platform"`
	ChannelID string    `json:"channel_id"`
	StreamID  string    `json:"stream_id"`
	StartTime time.Time `json:"start_time"`
	IsLive    bool      `json:"is_live"`
	IsPrivate bool      `json:"is_private"`

	URL     string    `json:"url,omitempty"`
	Title   string    `json:"title,omitempty"`
	EndTime time.Time `json:"end_time,omitempty"`
}

// Key identifies the stream across communities.
func (s ResolvedStream) Key() string { return string(s.Platform) + ":" + s.StreamID }

// Complete reports whether the record carries the fields every consumer relies on.
// Adapters must never hand out a record for which this is false.
func (s ResolvedStream) Complete() bool {
	return s.Platform != "" && s.StreamID != "" && !s.StartTime.IsZero()
}

// End returns the stream end, or now when it is still live or the end is unknown.
func (s ResolvedStream) End(now time.Time) time.Time {
	if s.IsLive || s.EndTime.IsZero() {
		return now
	}
	return s.EndTime
}

// Adapter fetches stream metadata from one platform.
// Both methods return an apperr NotFound error when nothing usable exists.
type Adapter interface {
	Platform() Platform
	FetchLatestStream(ctx context.Context, channelID string) (ResolvedStream, error)
	ResolveByStreamRef(ctx context.Context, ref string) (ResolvedStream, error)
}
