package tags

import (
	"context"
	"log/slog"
	"time"
)

// PrunePolicy controls session retention.
type PrunePolicy struct {
	// Grace is how long a session outlives its stream so history can still be backfilled.
	Grace time.Duration
	// Interval is how often the prune job runs.
	Interval time.Duration
}

// StartPruneJob removes expired sessions every policy.Interval until ctx is done.
// It runs once immediately.
func StartPruneJob(ctx context.Context, st *Store, policy PrunePolicy) {
	if policy.Interval <= 0 {
		slog.Info("prune job disabled (no interval configured)", slog.String("component", "prune"))
		return
	}
	slog.Info("prune job starting",
		slog.String("component", "prune"),
		slog.Duration("grace", policy.Grace),
		slog.Duration("interval", policy.Interval))

	runPrune(ctx, st, policy)

	ticker := time.NewTicker(policy.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("prune job stopped", slog.String("component", "prune"))
			return
		case <-ticker.C:
			runPrune(ctx, st, policy)
		}
	}
}

func runPrune(ctx context.Context, st *Store, policy PrunePolicy) {
	n, err := st.Prune(ctx, time.Now(), policy.Grace)
	if err != nil {
		slog.Warn("session prune failed", slog.String("component", "prune"), slog.Any("err", err))
	}
	if n > 0 {
		slog.Info("sessions pruned", slog.String("component", "prune"), slog.Int("count", n))
	}
}
