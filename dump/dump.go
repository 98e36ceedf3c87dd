// Package dump is the command layer: it turns a dump request into rendered text,
// and routes tag, adjust and delete-last commands to the tag store.
package dump

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/stream-tagger/apperr"
	"github.com/onnwee/stream-tagger/locator"
	"github.com/onnwee/stream-tagger/platform"
	"github.com/onnwee/stream-tagger/render"
	"github.com/onnwee/stream-tagger/settings"
	"github.com/onnwee/stream-tagger/tags"
	"github.com/onnwee/stream-tagger/telemetry"
)

// Resolver turns queries into streams. *locator.Locator implements it.
type Resolver interface {
	Resolve(ctx context.Context, query string, hints locator.Hints) (platform.ResolvedStream, error)
	ResolveChannel(ctx context.Context, p platform.Platform, channelID string) (platform.ResolvedStream, error)
}

// Request is one dump command.
type Request struct {
	CommunityID string  `json:"community"`
	ChannelID   string  `json:"channel"`
	RequesterID string  `json:"requester"`
	Query       string  `json:"query"`
	Options     Options `json:"options"`
}

// Result is a rendered dump.
type Result struct {
	// Ref identifies this output for DeleteLast.
	Ref      string                  `json:"ref"`
	Stream   platform.ResolvedStream `json:"stream"`
	Format   render.Format           `json:"format"`
	Count    int                     `json:"count"`
	Header   string                  `json:"header,omitempty"`
	Text     string                  `json:"text"`
	Excluded []tags.Exclusion        `json:"excluded,omitempty"`
}

// Service runs commands against a tag store.
type Service struct {
	store    *tags.Store
	resolver Resolver
	settings settings.Provider

	mu   sync.Mutex
	last map[string]Result // channel id -> last dump

	now func() time.Time
}

// NewService wires the command layer.
func NewService(store *tags.Store, resolver Resolver, sp settings.Provider) *Service {
	return &Service{
		store:    store,
		resolver: resolver,
		settings: sp,
		last:     make(map[string]Result),
		now:      time.Now,
	}
}

// Dump resolves the request's stream, gathers its tags and renders them.
func (s *Service) Dump(ctx context.Context, req Request) (Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "dump", "dump.Dump",
		attribute.String("community", req.CommunityID),
		attribute.String("query", req.Query),
	)
	defer span.End()
	start := time.Now()
	defer func() { telemetry.Observe(telemetry.DumpDuration, time.Since(start)) }()
	logger := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "dump"), slog.String("community", req.CommunityID))

	res, err := s.dump(ctx, req)
	if err != nil {
		telemetry.RecordError(span, err)
		logger.Debug("dump failed", slog.Any("err", err))
		return Result{}, err
	}
	telemetry.SetSpanSuccess(span)
	telemetry.IncDumpRendered(string(res.Format))

	if req.ChannelID != "" {
		s.mu.Lock()
		s.last[req.ChannelID] = res
		s.mu.Unlock()
	}
	logger.Info("dump rendered", slog.String("stream", res.Stream.Key()), slog.Int("tags", res.Count), slog.String("format", string(res.Format)))
	return res, nil
}

func (s *Service) dump(ctx context.Context, req Request) (Result, error) {
	opts := req.Options
	format, err := s.format(ctx, req.CommunityID, opts.Format)
	if err != nil {
		return Result{}, err
	}

	stream, manual, err := s.stream(ctx, req)
	if err != nil {
		return Result{}, err
	}

	key := stream.Key()
	if manual {
		// a manual anchor spans every session; the window picks the tags
		key = ""
	}
	var foreign []string
	if opts.Server != "" && opts.Server != req.CommunityID {
		foreign = []string{opts.Server}
	}
	var priv tags.Privacy
	if s.settings != nil {
		priv = s.settings
	}
	g, err := s.store.GatherForCompile(ctx, key, s.store.Sessions(req.CommunityID, key), foreign, priv)
	if err != nil {
		return Result{}, err
	}

	anchor := stream.StartTime
	if !opts.StartTime.IsZero() {
		anchor = opts.StartTime
	}
	if !anchor.Equal(stream.StartTime) || manual {
		for id, sess := range g.Sessions {
			sess.Stream.StartTime = anchor
			g.Sessions[id] = sess
		}
	}

	limit, err := s.fetchLimit(ctx, req.CommunityID)
	if err != nil {
		return Result{}, err
	}
	f := tags.Filter{MinStars: opts.MinStars, Limit: limit}
	if opts.Own {
		f.AuthorID = req.RequesterID
	}
	if manual || !opts.StartTime.IsZero() || opts.Duration > 0 {
		f.From = anchor
		switch {
		case opts.Duration > 0:
			f.To = anchor.Add(opts.Duration)
		case !stream.EndTime.IsZero():
			f.To = stream.EndTime
		}
	}

	tree := g.Tree(f)
	count := tree.Len()
	if count == 0 {
		return Result{}, apperr.NotFound("no tags found")
	}

	ro := render.Options{Offset: opts.Offset}
	if !manual && !stream.IsPrivate {
		ro.LinkBase = stream.URL
	}
	body, err := render.Render(tree, format, ro)
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Ref:      uuid.NewString(),
		Stream:   stream,
		Format:   format,
		Count:    count,
		Excluded: g.Excluded,
		Text:     body,
	}
	if format.HasHeader() {
		res.Header = header(stream, anchor, f.To, count, s.now())
		res.Text = res.Header
		if body != "" {
			res.Text += "\n" + body
		}
	}
	return res, nil
}

// stream picks the time anchor: the query's stream, a manual start, or the merged
// community's latest tagged stream.
func (s *Service) stream(ctx context.Context, req Request) (platform.ResolvedStream, bool, error) {
	opts := req.Options
	if req.Query != "" {
		st, err := s.resolver.Resolve(ctx, req.Query, locator.Hints{})
		if err == nil {
			return st, false, nil
		}
		if opts.StartTime.IsZero() {
			return platform.ResolvedStream{}, false, err
		}
		slog.Debug("query unresolved, using manual start", slog.String("component", "dump"), slog.String("query", req.Query), slog.Any("err", err))
	}
	if !opts.StartTime.IsZero() {
		return ManualStream(req.ChannelID, opts.StartTime, opts.Duration), true, nil
	}
	if opts.Server != "" {
		st, ok := s.store.LatestStream(opts.Server)
		if !ok {
			return platform.ResolvedStream{}, false, apperr.NotFound("community %s has not tagged a stream; give a stream or a start= time", opts.Server)
		}
		return st, false, nil
	}
	return platform.ResolvedStream{}, false, apperr.Invalid("need a stream, a start= time or a server= to merge from")
}

func (s *Service) format(ctx context.Context, communityID, requested string) (render.Format, error) {
	if requested == "" && s.settings != nil {
		def, err := s.settings.DefaultFormat(ctx, communityID)
		if err != nil {
			return "", fmt.Errorf("default format: %w", err)
		}
		requested = def
	}
	return render.ParseFormat(requested)
}

func (s *Service) fetchLimit(ctx context.Context, communityID string) (int, error) {
	if s.settings == nil {
		return settings.DefaultFetchLimit, nil
	}
	n, err := s.settings.FetchLimit(ctx, communityID)
	if err != nil {
		return 0, fmt.Errorf("fetch limit: %w", err)
	}
	return n, nil
}

// ManualStream anchors a dump at a user-supplied start time.
func ManualStream(channelID string, start time.Time, d time.Duration) platform.ResolvedStream {
	ms := platform.ResolvedStream{
		Platform:  platform.Manual,
		ChannelID: channelID,
		StreamID:  strconv.FormatInt(start.Unix(), 10),
		StartTime: start,
	}
	if d > 0 {
		ms.EndTime = start.Add(d)
	}
	return ms
}

func header(st platform.ResolvedStream, from, to time.Time, count int, now time.Time) string {
	if to.IsZero() {
		to = st.End(now)
	}
	h := from.UTC().Format(time.RFC3339) + " " + strconv.Itoa(count) + " tags"
	if mins := to.Sub(from).Minutes(); mins > 0 {
		h += fmt.Sprintf(" (%.1f/min)", float64(count)/mins)
	}
	if st.URL != "" && !st.IsPrivate {
		h = st.URL + " " + h
	}
	return h
}

// DeleteLast forgets the channel's last rendered dump and returns it. Stored tags are
// never touched.
func (s *Service) DeleteLast(channelID string) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.last[channelID]
	delete(s.last, channelID)
	return res, ok
}

// Last returns the channel's last rendered dump without forgetting it.
func (s *Service) Last(channelID string) (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.last[channelID]
	return res, ok
}
