package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/answeroverflow/discord-indexer/models"
	"github.com/answeroverflow/discord-indexer/settings"
)

// UpsertServer inserts or refreshes a server row. Name and icon follow
// Discord; flags and custom domain are preserved on conflict, since they come
// from configuration rather than the gateway. Upserting also clears kicked_at,
// since the data came from a guild the bot is currently in.
func (s *SQLiteStore) UpsertServer(ctx context.Context, server models.Server) error {
	query := `
    INSERT INTO servers (id, name, icon, custom_domain, flags, kicked_at)
    VALUES (?, ?, ?, ?, ?, NULL)
    ON CONFLICT(id) DO UPDATE SET
        name = excluded.name,
        icon = excluded.icon,
        kicked_at = NULL;`

	_, err := s.db.ExecContext(ctx, query,
		server.ID, server.Name, server.Icon, server.CustomDomain, int64(server.Flags))
	if err != nil {
		return &PersistenceError{Op: fmt.Sprintf("upsert server %s", server.ID), Err: err}
	}
	return nil
}

// SetServerFlags overwrites a server's flags exactly. Config-driven flags need
// this rather than a union, so removing an override actually clears its bit.
func (s *SQLiteStore) SetServerFlags(ctx context.Context, serverID string, flags settings.Bitfield) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE servers SET flags = ? WHERE id = ?`, int64(flags), serverID)
	if err != nil {
		return &PersistenceError{Op: fmt.Sprintf("set server flags %s", serverID), Err: err}
	}
	return nil
}

// MarkServerKicked stamps the time the bot was removed. The row is never
// deleted.
func (s *SQLiteStore) MarkServerKicked(ctx context.Context, serverID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE servers SET kicked_at = ? WHERE id = ?`, at.Unix(), serverID)
	if err != nil {
		return &PersistenceError{Op: fmt.Sprintf("mark server %s kicked", serverID), Err: err}
	}
	return nil
}

func (s *SQLiteStore) GetServer(ctx context.Context, serverID string) (models.Server, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, icon, custom_domain, flags, kicked_at FROM servers WHERE id = ?`, serverID)
	return scanServer(row)
}

// ActiveServers returns all servers the bot is still a member of.
func (s *SQLiteStore) ActiveServers(ctx context.Context) ([]models.Server, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, icon, custom_domain, flags, kicked_at
         FROM servers WHERE kicked_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Server
	for rows.Next() {
		server, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, server)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanServer(row rowScanner) (models.Server, error) {
	var (
		server models.Server
		flags  int64
		kicked sql.NullInt64
	)
	err := row.Scan(&server.ID, &server.Name, &server.Icon, &server.CustomDomain, &flags, &kicked)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Server{}, ErrNotFound
	}
	if err != nil {
		return models.Server{}, err
	}
	server.Flags = settings.Bitfield(flags)
	if kicked.Valid {
		t := time.Unix(kicked.Int64, 0).UTC()
		server.KickedAt = &t
	}
	return server, nil
}

// UpsertChannel inserts or refreshes a channel or thread row. The indexing
// cursor is untouched on conflict.
func (s *SQLiteStore) UpsertChannel(ctx context.Context, channel models.Channel) error {
	query := `
    INSERT INTO channels (id, server_id, parent_id, name, type)
    VALUES (?, ?, ?, ?, ?)
    ON CONFLICT(id) DO UPDATE SET
        server_id = excluded.server_id,
        parent_id = excluded.parent_id,
        name = excluded.name,
        type = excluded.type;`

	_, err := s.db.ExecContext(ctx, query,
		channel.ID, channel.ServerID, channel.ParentID, channel.Name, channel.Type)
	if err != nil {
		return &PersistenceError{Op: fmt.Sprintf("upsert channel %s", channel.ID), Err: err}
	}
	return nil
}

// ChannelCursor returns the id of the newest message indexed in a channel or
// thread, or "" when nothing has been indexed there yet.
func (s *SQLiteStore) ChannelCursor(ctx context.Context, channelID string) (string, error) {
	var cursor string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_indexed_snowflake FROM channels WHERE id = ?`, channelID).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return cursor, nil
}

// SetChannelCursor records indexing progress for one channel or thread.
func (s *SQLiteStore) SetChannelCursor(ctx context.Context, channelID, cursor string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE channels SET last_indexed_snowflake = ? WHERE id = ?`, cursor, channelID)
	if err != nil {
		return &PersistenceError{Op: fmt.Sprintf("set channel cursor %s", channelID), Err: err}
	}
	return nil
}
