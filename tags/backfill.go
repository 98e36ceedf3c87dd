package tags

import (
	"context"
	"log/slog"
	"time"

	"github.com/onnwee/stream-tagger/telemetry"
)

// HistoricalMessage is one past chat message.
type HistoricalMessage struct {
	ID       string    `json:"id"`
	AuthorID string    `json:"author_id"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sent_at"`
}

// History supplies past messages of a channel in send order.
type History interface {
	Messages(ctx context.Context, channelID string, since time.Time) ([]HistoricalMessage, error)
}

// BackfillResult counts what happened to each message.
type BackfillResult struct {
	Seen     int `json:"seen"`
	Created  int `json:"created"`
	Skipped  int `json:"skipped"`
	Unmarked int `json:"unmarked"`
}

// Backfill re-ingests msgs into session s with the live marker rule. Ids already
// stored are skipped, so overlapping windows can be replayed safely.
func (st *Store) Backfill(ctx context.Context, s Session, msgs []HistoricalMessage) (BackfillResult, error) {
	var res BackfillResult
	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Seen++
		if !IsTag(m.Text) {
			res.Unmarked++
			continue
		}
		_, created, err := st.Create(ctx, s, NewEntry{ID: m.ID, AuthorID: m.AuthorID, RawText: m.Text, CreatedAt: m.SentAt})
		if err != nil {
			slog.Warn("backfill message failed", slog.String("component", "backfill"), slog.String("id", m.ID), slog.Any("err", err))
			continue
		}
		if created {
			res.Created++
		} else {
			res.Skipped++
		}
	}
	telemetry.AddBackfillImported(res.Created)
	slog.Info("backfill complete", slog.String("component", "backfill"), slog.String("session", s.normalized().ID),
		slog.Int("seen", res.Seen), slog.Int("created", res.Created), slog.Int("skipped", res.Skipped))
	return res, nil
}
