package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/answeroverflow/discord-indexer/models"
	"github.com/answeroverflow/discord-indexer/settings"
)

// GetChannelSettings returns the settings row for a channel, or ErrNotFound.
// Channels without a settings row are not indexed.
func (s *SQLiteStore) GetChannelSettings(ctx context.Context, channelID string) (models.ChannelSettings, error) {
	var (
		cs    models.ChannelSettings
		flags int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT channel_id, flags, solution_tag_id
         FROM channel_settings WHERE channel_id = ?`, channelID).
		Scan(&cs.ChannelID, &flags, &cs.SolutionTagID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChannelSettings{}, ErrNotFound
	}
	if err != nil {
		return models.ChannelSettings{}, err
	}
	cs.Flags = settings.Bitfield(flags)
	return cs, nil
}

func (s *SQLiteStore) UpsertChannelSettings(ctx context.Context, cs models.ChannelSettings) error {
	query := `
    INSERT INTO channel_settings (channel_id, flags, solution_tag_id)
    VALUES (?, ?, ?)
    ON CONFLICT(channel_id) DO UPDATE SET
        flags = excluded.flags,
        solution_tag_id = excluded.solution_tag_id;`

	_, err := s.db.ExecContext(ctx, query,
		cs.ChannelID, int64(cs.Flags), cs.SolutionTagID)
	if err != nil {
		return &PersistenceError{Op: fmt.Sprintf("upsert channel settings %s", cs.ChannelID), Err: err}
	}
	return nil
}

func (s *SQLiteStore) GetUserServerSettings(ctx context.Context, userID, serverID string) (models.UserServerSettings, error) {
	var (
		uss   models.UserServerSettings
		flags int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, server_id, flags, api_key, api_calls_used
         FROM user_server_settings WHERE user_id = ? AND server_id = ?`, userID, serverID).
		Scan(&uss.UserID, &uss.ServerID, &flags, &uss.APIKey, &uss.APICallsUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserServerSettings{}, ErrNotFound
	}
	if err != nil {
		return models.UserServerSettings{}, err
	}
	uss.Flags = settings.Bitfield(flags)
	return uss, nil
}

// UpsertUserServerSettings writes a consent snapshot. Flags are merged with
// the stored value (bitwise union), so replaying a stale snapshot can never
// drop a consent bit that was granted in between.
func (s *SQLiteStore) UpsertUserServerSettings(ctx context.Context, uss models.UserServerSettings) error {
	query := `
    INSERT INTO user_server_settings (user_id, server_id, flags, api_key, api_calls_used)
    VALUES (?, ?, ?, ?, ?)
    ON CONFLICT(user_id, server_id) DO UPDATE SET
        flags = user_server_settings.flags | excluded.flags,
        api_key = excluded.api_key,
        api_calls_used = excluded.api_calls_used;`

	_, err := s.db.ExecContext(ctx, query,
		uss.UserID, uss.ServerID, int64(uss.Flags), uss.APIKey, uss.APICallsUsed)
	if err != nil {
		return &PersistenceError{Op: fmt.Sprintf("upsert user server settings %s/%s", uss.UserID, uss.ServerID), Err: err}
	}
	return nil
}

// SetUserServerFlags overwrites the stored flags exactly, for explicit
// grant/revoke flows where merge semantics would be wrong.
func (s *SQLiteStore) SetUserServerFlags(ctx context.Context, userID, serverID string, flags settings.Bitfield) error {
	query := `
    INSERT INTO user_server_settings (user_id, server_id, flags)
    VALUES (?, ?, ?)
    ON CONFLICT(user_id, server_id) DO UPDATE SET flags = excluded.flags;`

	_, err := s.db.ExecContext(ctx, query, userID, serverID, int64(flags))
	if err != nil {
		return &PersistenceError{Op: fmt.Sprintf("set user server flags %s/%s", userID, serverID), Err: err}
	}
	return nil
}

// OptedOutUsers returns the users of a server whose settings have message
// indexing disabled.
func (s *SQLiteStore) OptedOutUsers(ctx context.Context, serverID string) (map[string]bool, error) {
	bit, err := settings.UserServerFlags.Bit(settings.UserMessageIndexingDisabled)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM user_server_settings WHERE server_id = ? AND (flags & ?) != 0`,
		serverID, int64(bit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		out[userID] = true
	}
	return out, rows.Err()
}
