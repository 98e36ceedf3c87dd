// Package telemetry wires Prometheus metrics and OpenTelemetry tracing, plus correlation-id aware logging.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	TagsCreated      prometheus.Counter
	TagsSkipped      prometheus.Counter
	TagsEdited       prometheus.Counter
	TagsTombstoned   prometheus.Counter
	BackfillImported prometheus.Counter
	Resolutions      *prometheus.CounterVec // result
	AdapterErrors    *prometheus.CounterVec // platform, class
	CacheLookups     *prometheus.CounterVec // result=hit|miss
	DumpsRendered    *prometheus.CounterVec // format

	// Histograms (seconds)
	ResolveDuration prometheus.Observer
	DumpDuration    prometheus.Observer

	// Gauges
	SessionsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		TagsCreated = promauto.NewCounter(prometheus.CounterOpts{Name: "tagger_tags_created_total", Help: "Number of tags created"})
		TagsSkipped = promauto.NewCounter(prometheus.CounterOpts{Name: "tagger_tags_skipped_total", Help: "Creates skipped because the entry id already existed"})
		TagsEdited = promauto.NewCounter(prometheus.CounterOpts{Name: "tagger_tags_edited_total", Help: "Number of tag edits"})
		TagsTombstoned = promauto.NewCounter(prometheus.CounterOpts{Name: "tagger_tags_tombstoned_total", Help: "Number of tags tombstoned"})
		BackfillImported = promauto.NewCounter(prometheus.CounterOpts{Name: "tagger_backfill_imported_total", Help: "Tags created by history backfill"})
		Resolutions = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tagger_resolutions_total", Help: "Stream resolutions by result"}, []string{"result"})
		AdapterErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tagger_adapter_errors_total", Help: "Platform adapter failures"}, []string{"platform", "class"})
		CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tagger_resolve_cache_lookups_total", Help: "Resolution cache lookups"}, []string{"result"})
		DumpsRendered = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tagger_dumps_rendered_total", Help: "Dumps rendered by format"}, []string{"format"})
		ResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "tagger_resolve_duration_seconds", Help: "Stream resolution duration seconds", Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10}})
		DumpDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "tagger_dump_duration_seconds", Help: "Dump compile+render duration seconds", Buckets: prometheus.DefBuckets})
		SessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "tagger_sessions", Help: "Sessions currently held by the tag store"})
	})
}

func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

func incVec(v *prometheus.CounterVec, labels ...string) {
	if v != nil {
		v.WithLabelValues(labels...).Inc()
	}
}

func IncTagsCreated()    { inc(TagsCreated) }
func IncTagsSkipped()    { inc(TagsSkipped) }
func IncTagsEdited()     { inc(TagsEdited) }
func IncTagsTombstoned() { inc(TagsTombstoned) }

// AddBackfillImported adds n backfilled tags.
func AddBackfillImported(n int) {
	if BackfillImported != nil && n > 0 {
		BackfillImported.Add(float64(n))
	}
}

// IncResolution counts a resolve outcome (ok, not_found, ambiguous, unavailable, error).
func IncResolution(result string) { incVec(Resolutions, result) }

// IncAdapterError counts an adapter failure with its retry class.
func IncAdapterError(platform, class string) { incVec(AdapterErrors, platform, class) }

// IncCacheLookup counts a resolution cache hit or miss.
func IncCacheLookup(hit bool) {
	if hit {
		incVec(CacheLookups, "hit")
		return
	}
	incVec(CacheLookups, "miss")
}

func IncDumpRendered(format string) { incVec(DumpsRendered, format) }

// SetSessions records the current session count.
func SetSessions(n int) {
	if SessionsGauge != nil {
		SessionsGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Observe records d in obs if non-nil.
func Observe(obs prometheus.Observer, d time.Duration) {
	if obs != nil {
		obs.Observe(d.Seconds())
	}
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
