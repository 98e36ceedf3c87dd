// Package tags holds the tag store: per-session logs of timestamped chat annotations,
// the outline tree compiled from them, cross-community gathering and history backfill.
package tags

import (
	"strings"
	"time"

	"github.com/onnwee/stream-tagger/platform"
)

// Session pairs a resolved stream with the community channel tagging it.
type Session struct {
	ID          string                  `json:"id"`
	CommunityID string                  `json:"community_id"`
	ChannelID   string                  `json:"channel_id"`
	Stream      platform.ResolvedStream `json:"stream"`
	// DefaultOffset is the community offset in seconds captured when the session opened.
	DefaultOffset int       `json:"default_offset"`
	CreatedAt     time.Time `json:"created_at"`
}

// SessionID is the stable key of (community, channel, stream).
func SessionID(communityID, channelID, streamKey string) string {
	return communityID + "/" + channelID + "/" + streamKey
}

// Key returns the stream key the session is anchored to.
func (s Session) Key() string { return s.Stream.Key() }

func (s Session) normalized() Session {
	if s.ID == "" {
		s.ID = SessionID(s.CommunityID, s.ChannelID, s.Stream.Key())
	}
	return s
}

// Entry is one tag. ID is the id of the chat message that carried it.
type Entry struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	AuthorID      string    `json:"author_id"`
	Depth         int       `json:"depth"`
	RawText       string    `json:"raw_text"`
	CreatedAt     time.Time `json:"created_at"`
	EditedAt      time.Time `json:"edited_at,omitempty"`
	Stars         int       `json:"stars"`
	OffsetSeconds int       `json:"offset_seconds"`
	Tombstoned    bool      `json:"tombstoned"`
}

// Starred reports whether anyone starred the tag.
func (e Entry) Starred() bool { return e.Stars > 0 }

// Text is the tag text without its markers.
func (e Entry) Text() string {
	_, text, ok := ParseMarkers(e.RawText)
	if !ok {
		return strings.TrimSpace(e.RawText)
	}
	return text
}

// NewEntry is the input to Store.Create.
type NewEntry struct {
	ID        string
	AuthorID  string
	RawText   string
	CreatedAt time.Time
}
