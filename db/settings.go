package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/onnwee/stream-tagger/settings"
)

// SettingsRepo keeps community settings in Postgres. It implements settings.Store.
type SettingsRepo struct {
	DB *sql.DB
	// Fallback is returned for communities that never set an offset.
	Fallback int
}

func (r *SettingsRepo) DefaultOffset(ctx context.Context, communityID string) (int, error) {
	var v sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT default_offset FROM community_settings WHERE community_id=$1`, communityID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !v.Valid) {
		return r.Fallback, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read default offset: %w", err)
	}
	return int(v.Int64), nil
}

func (r *SettingsRepo) DefaultFormat(ctx context.Context, communityID string) (string, error) {
	var v sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT default_format FROM community_settings WHERE community_id=$1`, communityID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read default format: %w", err)
	}
	return v.String, nil
}

// FetchLimit reads the community's dump cap; communities that never set one get
// settings.DefaultFetchLimit.
func (r *SettingsRepo) FetchLimit(ctx context.Context, communityID string) (int, error) {
	var v sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT fetch_limit FROM community_settings WHERE community_id=$1`, communityID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !v.Valid) {
		return settings.DefaultFetchLimit, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read fetch limit: %w", err)
	}
	return int(v.Int64), nil
}

func (r *SettingsRepo) AllowBots(ctx context.Context, communityID string) (bool, error) {
	var v bool
	err := r.DB.QueryRowContext(ctx, `SELECT allow_bots FROM community_settings WHERE community_id=$1`, communityID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read allow bots: %w", err)
	}
	return v, nil
}

func (r *SettingsRepo) IsChannelPrivate(ctx context.Context, communityID, channelID string) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM private_channels WHERE community_id=$1 AND channel_id=$2)`,
		communityID, channelID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("read channel privacy: %w", err)
	}
	return exists, nil
}

func (r *SettingsRepo) SetDefaultOffset(ctx context.Context, communityID string, seconds int) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO community_settings(community_id, default_offset, updated_at)
		VALUES ($1,$2,NOW())
		ON CONFLICT (community_id) DO UPDATE SET default_offset=EXCLUDED.default_offset, updated_at=NOW()`,
		communityID, seconds)
	return err
}

func (r *SettingsRepo) SetDefaultFormat(ctx context.Context, communityID, format string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO community_settings(community_id, default_format, updated_at)
		VALUES ($1,$2,NOW())
		ON CONFLICT (community_id) DO UPDATE SET default_format=EXCLUDED.default_format, updated_at=NOW()`,
		communityID, format)
	return err
}

func (r *SettingsRepo) SetFetchLimit(ctx context.Context, communityID string, limit int) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO community_settings(community_id, fetch_limit, updated_at)
		VALUES ($1,$2,NOW())
		ON CONFLICT (community_id) DO UPDATE SET fetch_limit=EXCLUDED.fetch_limit, updated_at=NOW()`,
		communityID, limit)
	return err
}

func (r *SettingsRepo) SetAllowBots(ctx context.Context, communityID string, allow bool) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO community_settings(community_id, allow_bots, updated_at)
		VALUES ($1,$2,NOW())
		ON CONFLICT (community_id) DO UPDATE SET allow_bots=EXCLUDED.allow_bots, updated_at=NOW()`,
		communityID, allow)
	return err
}

func (r *SettingsRepo) SetChannelPrivate(ctx context.Context, communityID, channelID string, private bool) error {
	if !private {
		_, err := r.DB.ExecContext(ctx, `DELETE FROM private_channels WHERE community_id=$1 AND channel_id=$2`, communityID, channelID)
		return err
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO private_channels(community_id, channel_id, updated_at)
		VALUES ($1,$2,NOW()) ON CONFLICT (community_id, channel_id) DO UPDATE SET updated_at=NOW()`,
		communityID, channelID)
	return err
}
