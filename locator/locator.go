// Package locator resolves user queries (platform URLs, bare ids or creator name
// fragments) into a single platform.ResolvedStream, fanning out across every account a
// creator owns.
package locator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/stream-tagger/apperr"
	"github.com/onnwee/stream-tagger/platform"
	"github.com/onnwee/stream-tagger/ratelimit"
	"github.com/onnwee/stream-tagger/telemetry"
)

// Hints narrow how a query is interpreted.
type Hints struct {
	// Platform forces a bare id to be read as a stream reference on this platform.
	Platform platform.Platform
}

// Options tune the scatter/gather and the cache.
type Options struct {
	LiveTTL        time.Duration
	EndedTTL       time.Duration
	AdapterTimeout time.Duration
	MaxFanout      int
	// PlatformRPS limits outbound calls per platform; 0 disables limiting.
	PlatformRPS float64
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		LiveTTL:        15 * time.Second,
		EndedTTL:       5 * time.Minute,
		AdapterTimeout: 5 * time.Second,
		MaxFanout:      8,
		PlatformRPS:    5,
	}
}

// Locator is safe for concurrent use.
type Locator struct {
	dir      *Directory
	adapters map[platform.Platform]platform.Adapter
	cache    *resolveCache
	limiter  *ratelimit.KeyedRateLimiter
	opts     Options
	now      func() time.Time

	recentMu sync.Mutex
	recent   map[string]time.Time // creator id -> last resolve
}

// New wires a locator. Adapters are keyed by their Platform(); a later duplicate wins.
func New(dir *Directory, adapters []platform.Adapter, opts Options) *Locator {
	def := DefaultOptions()
	if opts.LiveTTL == 0 {
		opts.LiveTTL = def.LiveTTL
	}
	if opts.EndedTTL == 0 {
		opts.EndedTTL = def.EndedTTL
	}
	if opts.AdapterTimeout <= 0 {
		opts.AdapterTimeout = def.AdapterTimeout
	}
	if opts.MaxFanout <= 0 {
		opts.MaxFanout = def.MaxFanout
	}
	l := &Locator{
		dir:      dir,
		adapters: make(map[platform.Platform]platform.Adapter, len(adapters)),
		opts:     opts,
		now:      time.Now,
		limiter:  ratelimit.New(opts.PlatformRPS, max(1, int(opts.PlatformRPS))),
		recent:   make(map[string]time.Time),
	}
	l.cache = newResolveCache(opts.LiveTTL, opts.EndedTTL, func() time.Time { return l.now() })
	for _, a := range adapters {
		l.adapters[a.Platform()] = a
	}
	return l
}

// Directory exposes the creator directory.
func (l *Locator) Directory() *Directory { return l.dir }

// Resolve turns query into a stream. Errors are apperr NotFound, Ambiguous or
// PlatformUnavailable, or the context error when ctx ends first.
func (l *Locator) Resolve(ctx context.Context, query string, hints Hints) (platform.ResolvedStream, error) {
	ctx, span := telemetry.StartSpan(ctx, "locator", "locator.Resolve",
		attribute.String("query", query), attribute.String("hint.platform", string(hints.Platform)))
	defer span.End()
	start := time.Now()

	s, err := l.resolve(ctx, query, hints)
	telemetry.Observe(telemetry.ResolveDuration, time.Since(start))
	telemetry.IncResolution(resultLabel(err))
	if err != nil {
		telemetry.RecordError(span, err)
		return platform.ResolvedStream{}, err
	}
	span.SetAttributes(attribute.String("stream.key", s.Key()), attribute.Bool("stream.live", s.IsLive))
	telemetry.SetSpanSuccess(span)
	return s, nil
}

func (l *Locator) resolve(ctx context.Context, query string, hints Hints) (platform.ResolvedStream, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return platform.ResolvedStream{}, apperr.Invalid("empty query")
	}
	if ref := platform.ParseRef(query, hints.Platform); ref.Kind != platform.RefNone {
		switch ref.Kind {
		case platform.RefChannel:
			return l.ResolveChannel(ctx, ref.Platform, ref.ID)
		default:
			return l.resolveStreamRef(ctx, ref)
		}
	}

	matches, exact := l.dir.Match(query)
	var creator Creator
	switch {
	case len(matches) == 0:
		return platform.ResolvedStream{}, apperr.NotFound("no creator matches %q", query)
	case len(matches) == 1:
		creator = matches[0]
	case len(exact) == 1:
		creator = exact[0]
	default:
		names := make([]string, len(matches))
		for i, c := range matches {
			names[i] = c.Name
		}
		return platform.ResolvedStream{}, apperr.Ambiguous(names, "%q matches %d creators: %s", query, len(names), strings.Join(names, ", "))
	}
	l.markRecent(creator.ID)
	return l.resolveCreator(ctx, creator)
}

// ResolveChannel returns the current or latest stream of one channel, through the cache.
func (l *Locator) ResolveChannel(ctx context.Context, p platform.Platform, channelID string) (platform.ResolvedStream, error) {
	a, ok := l.adapters[p]
	if !ok {
		return platform.ResolvedStream{}, apperr.NotFound("no adapter for platform %q", p)
	}
	if c, ok := l.dir.ByAccount(p, channelID); ok {
		l.markRecent(c.ID)
	}
	return l.cache.do(ctx, "channel:"+accountKey(p, channelID), func(ctx context.Context) (platform.ResolvedStream, error) {
		return l.call(ctx, a, func(ctx context.Context) (platform.ResolvedStream, error) {
			return a.FetchLatestStream(ctx, channelID)
		})
	})
}

func (l *Locator) resolveStreamRef(ctx context.Context, ref platform.Ref) (platform.ResolvedStream, error) {
	a, ok := l.adapters[ref.Platform]
	if !ok {
		return platform.ResolvedStream{}, apperr.NotFound("no adapter for platform %q", ref.Platform)
	}
	return l.cache.do(ctx, "ref:"+string(ref.Platform)+":"+ref.ID, func(ctx context.Context) (platform.ResolvedStream, error) {
		return l.call(ctx, a, func(ctx context.Context) (platform.ResolvedStream, error) {
			return a.ResolveByStreamRef(ctx, ref.ID)
		})
	})
}

// call applies the outbound rate limit and the per-adapter timeout, and refuses
// incomplete records.
func (l *Locator) call(ctx context.Context, a platform.Adapter, fn func(context.Context) (platform.ResolvedStream, error)) (platform.ResolvedStream, error) {
	ctx, cancel := context.WithTimeout(ctx, l.opts.AdapterTimeout)
	defer cancel()
	p := a.Platform()
	if err := l.limiter.Wait(ctx, string(p)); err != nil {
		telemetry.IncAdapterError(string(p), platform.ErrorClassRetryable.String())
		return platform.ResolvedStream{}, fmt.Errorf("%s rate limit: %w", p, err)
	}
	s, err := fn(ctx)
	if err != nil {
		class := platform.ClassifyError(err)
		telemetry.IncAdapterError(string(p), class.String())
		slog.Debug("adapter call failed", slog.String("component", "locator"), slog.String("platform", string(p)), slog.String("class", class.String()), slog.Any("err", err))
		return platform.ResolvedStream{}, err
	}
	if !s.Complete() {
		return platform.ResolvedStream{}, apperr.NotFound("%s returned an incomplete stream record", p)
	}
	return s, nil
}

type accountResult struct {
	stream platform.ResolvedStream
	err    error
}

// resolveCreator queries every account concurrently and picks the newest live stream,
// else the newest ended one. Failures count as "no stream" unless every account failed.
func (l *Locator) resolveCreator(ctx context.Context, c Creator) (platform.ResolvedStream, error) {
	if len(c.Accounts) == 0 {
		return platform.ResolvedStream{}, apperr.NotFound("creator %q has no accounts", c.Name)
	}
	results := make([]accountResult, len(c.Accounts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.MaxFanout)
	for i, acc := range c.Accounts {
		g.Go(func() error {
			s, err := l.ResolveChannel(gctx, acc.Platform, acc.ChannelID)
			results[i] = accountResult{stream: s, err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return platform.ResolvedStream{}, err
	}

	var best *platform.ResolvedStream
	var failures []error
	for i := range results {
		r := &results[i]
		if r.err != nil {
			if !errors.Is(r.err, apperr.ErrNotFound) {
				failures = append(failures, fmt.Errorf("%s/%s: %w", c.Accounts[i].Platform, c.Accounts[i].ChannelID, r.err))
			}
			continue
		}
		if best == nil || better(r.stream, *best) {
			best = &r.stream
		}
	}
	if best != nil {
		if len(failures) > 0 {
			slog.Info("partial platform failure absorbed", slog.String("component", "locator"), slog.String("creator", c.Name), slog.Int("failed", len(failures)))
		}
		return *best, nil
	}
	if len(failures) == len(c.Accounts) {
		return platform.ResolvedStream{}, apperr.PlatformUnavailable(errors.Join(failures...), "all platforms failed for %q", c.Name)
	}
	return platform.ResolvedStream{}, apperr.NotFound("no streams found for %q", c.Name)
}

// better reports whether a should be preferred over b: live beats ended, then later start.
func better(a, b platform.ResolvedStream) bool {
	if a.IsLive != b.IsLive {
		return a.IsLive
	}
	return a.StartTime.After(b.StartTime)
}

func (l *Locator) markRecent(id string) {
	l.recentMu.Lock()
	l.recent[id] = l.now()
	l.recentMu.Unlock()
}

// Suggest returns up to limit creator names for autocomplete. Creators resolved recently
// come first; other matches are only offered once the prefix has three characters.
func (l *Locator) Suggest(prefix string, limit int) []string {
	if limit <= 0 {
		limit = 25
	}
	q := normalize(prefix)
	l.recentMu.Lock()
	recent := make(map[string]time.Time, len(l.recent))
	for k, v := range l.recent {
		recent[k] = v
	}
	l.recentMu.Unlock()

	var pool []Creator
	if q == "" {
		pool = l.dir.Creators()
	} else {
		pool, _ = l.dir.Match(prefix)
	}
	var hot, rest []Creator
	for _, c := range pool {
		if _, ok := recent[c.ID]; ok {
			hot = append(hot, c)
		} else if len([]rune(q)) >= 3 {
			rest = append(rest, c)
		}
	}
	sort.SliceStable(hot, func(i, j int) bool { return recent[hot[i].ID].After(recent[hot[j].ID]) })

	out := make([]string, 0, limit)
	for _, c := range append(hot, rest...) {
		if len(out) == limit {
			break
		}
		out = append(out, c.Name)
	}
	return out
}

// RunCachePurge drops expired cache entries and idle limiter keys until ctx is done.
func (l *Locator) RunCachePurge(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			l.cache.purge()
			l.limiter.Sweep(now)
		case <-ctx.Done():
			return
		}
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrAmbiguous):
		return "ambiguous"
	case errors.Is(err, apperr.ErrPlatformUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
