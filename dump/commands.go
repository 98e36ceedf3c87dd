package dump

import (
	"context"
	"fmt"
	"time"

	"github.com/onnwee/stream-tagger/apperr"
	"github.com/onnwee/stream-tagger/locator"
	"github.com/onnwee/stream-tagger/platform"
	"github.com/onnwee/stream-tagger/settings"
	"github.com/onnwee/stream-tagger/tags"
)

// TagRequest creates one tag.
type TagRequest struct {
	CommunityID string
	ChannelID   string
	// Query names the stream being tagged. Empty means the channel's own live stream
	// on Platform.
	Query    string
	Platform platform.Platform
	Entry    tags.NewEntry
}

// Tag resolves the stream and stores the entry in the community's session for it.
// A session opened here captures the community's default offset.
func (s *Service) Tag(ctx context.Context, req TagRequest) (tags.Entry, bool, error) {
	sess, err := s.session(ctx, req.CommunityID, req.ChannelID, req.Query, req.Platform)
	if err != nil {
		return tags.Entry{}, false, err
	}
	return s.store.Create(ctx, sess, req.Entry)
}

// BackfillRequest re-ingests a channel's chat history.
type BackfillRequest struct {
	CommunityID string
	ChannelID   string
	Query       string
	Platform    platform.Platform
	// Since bounds the history window. Zero means the stream start.
	Since time.Time
}

// Backfill pulls history from h and stores the marked messages in the session for
// the request's stream. Replaying an overlapping window creates nothing twice.
func (s *Service) Backfill(ctx context.Context, req BackfillRequest, h tags.History) (tags.BackfillResult, error) {
	sess, err := s.session(ctx, req.CommunityID, req.ChannelID, req.Query, req.Platform)
	if err != nil {
		return tags.BackfillResult{}, err
	}
	since := req.Since
	if since.IsZero() {
		since = sess.Stream.StartTime
	}
	msgs, err := h.Messages(ctx, req.ChannelID, since)
	if err != nil {
		return tags.BackfillResult{}, fmt.Errorf("load history: %w", err)
	}
	return s.store.Backfill(ctx, sess, msgs)
}

func (s *Service) session(ctx context.Context, communityID, channelID, query string, p platform.Platform) (tags.Session, error) {
	if communityID == "" || channelID == "" {
		return tags.Session{}, apperr.Invalid("community and channel required")
	}
	var (
		stream platform.ResolvedStream
		err    error
	)
	if query != "" {
		stream, err = s.resolver.Resolve(ctx, query, locator.Hints{})
	} else {
		if p == "" {
			p = platform.Twitch
		}
		stream, err = s.resolver.ResolveChannel(ctx, p, channelID)
	}
	if err != nil {
		return tags.Session{}, err
	}

	offset := settings.DefaultOffset
	if s.settings != nil {
		if offset, err = s.settings.DefaultOffset(ctx, communityID); err != nil {
			return tags.Session{}, fmt.Errorf("default offset: %w", err)
		}
	}
	return tags.Session{
		CommunityID:   communityID,
		ChannelID:     channelID,
		Stream:        stream,
		DefaultOffset: offset,
	}, nil
}

// Adjust shifts the author's most recent tag in the community by arg seconds
// ("-10", "+5"). Repeated adjusts accumulate.
func (s *Service) Adjust(ctx context.Context, communityID, authorID, arg string) (tags.Entry, error) {
	delta, err := ParseOffset(arg)
	if err != nil {
		return tags.Entry{}, err
	}
	if delta > tags.MaxAdjust || delta < -tags.MaxAdjust {
		return tags.Entry{}, apperr.InvalidOffset("offset %d out of range ±%d", delta, tags.MaxAdjust)
	}
	e, ok := s.store.LatestByAuthor(communityID, authorID)
	if !ok {
		return tags.Entry{}, apperr.NotFound("no tag to adjust")
	}
	return s.store.AdjustOffset(ctx, e.ID, delta)
}
