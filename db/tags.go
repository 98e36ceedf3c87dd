package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/onnwee/stream-tagger/platform"
	"github.com/onnwee/stream-tagger/tags"
)

// TagRepo journals tag store mutations to Postgres. It implements tags.Journal.
type TagRepo struct{ DB *sql.DB }

// SaveSession upserts s. The stream anchor is written once; only its live state moves.
func (r *TagRepo) SaveSession(ctx context.Context, s tags.Session) error {
	st := s.Stream
	_, err := r.DB.ExecContext(ctx, `INSERT INTO sessions
		(id, community_id, channel_id, platform, stream_channel_id, stream_id, start_time, end_time,
		 is_live, is_private, url, title, default_offset, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
			end_time=EXCLUDED.end_time,
			is_live=EXCLUDED.is_live,
			is_private=EXCLUDED.is_private`,
		s.ID, s.CommunityID, s.ChannelID, string(st.Platform), st.ChannelID, st.StreamID, st.StartTime,
		nullTime(st.EndTime), st.IsLive, st.IsPrivate, st.URL, st.Title, s.DefaultOffset, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	return nil
}

// SaveEntry upserts e.
func (r *TagRepo) SaveEntry(ctx context.Context, e tags.Entry) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tag_entries
		(id, session_id, author_id, raw_text, created_at, edited_at, stars, offset_seconds, tombstoned)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			raw_text=EXCLUDED.raw_text,
			edited_at=EXCLUDED.edited_at,
			stars=EXCLUDED.stars,
			offset_seconds=EXCLUDED.offset_seconds,
			tombstoned=EXCLUDED.tombstoned`,
		e.ID, e.SessionID, e.AuthorID, e.RawText, e.CreatedAt, nullTime(e.EditedAt), e.Stars, e.OffsetSeconds, e.Tombstoned)
	if err != nil {
		return fmt.Errorf("save entry %s: %w", e.ID, err)
	}
	return nil
}

// DeleteSession removes a session and, by cascade, its entries.
func (r *TagRepo) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := r.DB.ExecContext(ctx, `DELETE FROM sessions WHERE id=$1`, sessionID); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// LoadAll reads every session and entry, ready for tags.Store.Restore.
func (r *TagRepo) LoadAll(ctx context.Context) ([]tags.Session, []tags.Entry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id, community_id, channel_id, platform, stream_channel_id,
		stream_id, start_time, end_time, is_live, is_private, url, title, default_offset, created_at
		FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, nil, fmt.Errorf("load sessions: %w", err)
	}
	defer rows.Close()

	var sessions []tags.Session
	for rows.Next() {
		var s tags.Session
		var p string
		var end sql.NullTime
		if err := rows.Scan(&s.ID, &s.CommunityID, &s.ChannelID, &p, &s.Stream.ChannelID, &s.Stream.StreamID,
			&s.Stream.StartTime, &end, &s.Stream.IsLive, &s.Stream.IsPrivate, &s.Stream.URL, &s.Stream.Title,
			&s.DefaultOffset, &s.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("scan session: %w", err)
		}
		s.Stream.Platform = platform.Platform(p)
		s.Stream.StartTime = s.Stream.StartTime.UTC()
		if end.Valid {
			s.Stream.EndTime = end.Time.UTC()
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	erows, err := r.DB.QueryContext(ctx, `SELECT id, session_id, author_id, raw_text, created_at, edited_at,
		stars, offset_seconds, tombstoned FROM tag_entries ORDER BY created_at, id`)
	if err != nil {
		return nil, nil, fmt.Errorf("load entries: %w", err)
	}
	defer erows.Close()

	var entries []tags.Entry
	for erows.Next() {
		var e tags.Entry
		var edited sql.NullTime
		if err := erows.Scan(&e.ID, &e.SessionID, &e.AuthorID, &e.RawText, &e.CreatedAt, &edited,
			&e.Stars, &e.OffsetSeconds, &e.Tombstoned); err != nil {
			return nil, nil, fmt.Errorf("scan entry: %w", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		if edited.Valid {
			e.EditedAt = edited.Time.UTC()
		}
		entries = append(entries, e)
	}
	return sessions, entries, erows.Err()
}
