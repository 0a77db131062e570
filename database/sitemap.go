package database

import (
	"context"
	"fmt"
)

// ReplaceSitemapEntries swaps a server's sitemap cache for a fresh set of
// question message ids, atomically.
func (s *SQLiteStore) ReplaceSitemapEntries(ctx context.Context, serverID string, messageIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "begin sitemap tx", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sitemap_entries WHERE server_id = ?`, serverID); err != nil {
		return &PersistenceError{Op: fmt.Sprintf("clear sitemap for %s", serverID), Err: err}
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sitemap_entries (server_id, message_id) VALUES (?, ?)`)
	if err != nil {
		return &PersistenceError{Op: "prepare sitemap insert", Err: err}
	}
	defer stmt.Close()

	for _, id := range messageIDs {
		if _, err := stmt.ExecContext(ctx, serverID, id); err != nil {
			return &PersistenceError{Op: fmt.Sprintf("insert sitemap entry %s/%s", serverID, id), Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "commit sitemap tx", Err: err}
	}
	return nil
}

// SitemapEntries returns the cached question ids for a server in snowflake
// order.
func (s *SQLiteStore) SitemapEntries(ctx context.Context, serverID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id FROM sitemap_entries WHERE server_id = ?
         ORDER BY LENGTH(message_id), message_id`, serverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RecordIndexRun persists the completion marker of an orchestrator pass.
func (s *SQLiteStore) RecordIndexRun(ctx context.Context, run IndexRun) error {
	_, err := s.db.ExecContext(ctx, `
    INSERT INTO index_runs (id, started_at, finished_at, servers_indexed, servers_failed, messages_indexed)
    VALUES (?, ?, ?, ?, ?, ?)
    ON CONFLICT(id) DO UPDATE SET
        finished_at = excluded.finished_at,
        servers_indexed = excluded.servers_indexed,
        servers_failed = excluded.servers_failed,
        messages_indexed = excluded.messages_indexed;`,
		run.ID, run.StartedAt.Unix(), run.FinishedAt.Unix(),
		run.ServersIndexed, run.ServersFailed, run.MessagesIndexed)
	if err != nil {
		return &PersistenceError{Op: fmt.Sprintf("record index run %s", run.ID), Err: err}
	}
	return nil
}
