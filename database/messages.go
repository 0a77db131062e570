package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/answeroverflow/discord-indexer/models"
)

// How often a failing chunk is retried before being dropped.
const chunkRetries = 3

// UpsertManyAccounts writes author records, last write wins.
func (s *SQLiteStore) UpsertManyAccounts(ctx context.Context, accounts []models.DiscordAccount) error {
	if len(accounts) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "begin accounts tx", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
    INSERT INTO discord_accounts (id, name, avatar)
    VALUES (?, ?, ?)
    ON CONFLICT(id) DO UPDATE SET name = excluded.name, avatar = excluded.avatar;`)
	if err != nil {
		return &PersistenceError{Op: "prepare accounts upsert", Err: err}
	}
	defer stmt.Close()

	for _, a := range accounts {
		if _, err := stmt.ExecContext(ctx, a.ID, a.Name, a.Avatar); err != nil {
			return &PersistenceError{Op: fmt.Sprintf("upsert account %s", a.ID), Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "commit accounts tx", Err: err}
	}
	return nil
}

// UpsertManyMessages writes messages in chunks of the configured batch size,
// one transaction per chunk. Each chunk is retried a bounded number of times;
// a chunk that keeps failing is dropped and logged, and the remaining chunks
// still go through. Returns the number of messages actually stored.
func (s *SQLiteStore) UpsertManyMessages(ctx context.Context, msgs []models.Message) (int, error) {
	var (
		stored  int
		dropped []error
	)
	for start := 0; start < len(msgs); start += s.batchSize {
		end := start + s.batchSize
		if end > len(msgs) {
			end = len(msgs)
		}
		chunk := msgs[start:end]

		var err error
		for attempt := 1; attempt <= chunkRetries; attempt++ {
			if err = s.upsertMessageChunk(ctx, chunk); err == nil {
				break
			}
			if ctx.Err() != nil {
				break
			}
			time.Sleep(time.Duration(attempt) * 50 * time.Millisecond)
		}
		if err != nil {
			perr := &PersistenceError{
				Op:  fmt.Sprintf("upsert message chunk [%d:%d]", start, end),
				Err: err,
			}
			s.log.Warn("dropping failed message chunk",
				zap.Int("chunk_start", start), zap.Int("chunk_size", len(chunk)), zap.Error(err))
			dropped = append(dropped, perr)
			continue
		}
		stored += len(chunk)
	}
	return stored, errors.Join(dropped...)
}

func (s *SQLiteStore) upsertMessageChunk(ctx context.Context, chunk []models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// solution_id is managed by the mark-solution flow and deliberately not
	// overwritten by a re-index.
	msgStmt, err := tx.PrepareContext(ctx, `
    INSERT INTO messages (
        id, channel_id, server_id, author_id, content, parent_channel_id,
        referenced_message_id, child_thread_id, question_id, solution_id
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    ON CONFLICT(id) DO UPDATE SET
        channel_id = excluded.channel_id,
        server_id = excluded.server_id,
        author_id = excluded.author_id,
        content = excluded.content,
        parent_channel_id = excluded.parent_channel_id,
        referenced_message_id = excluded.referenced_message_id,
        child_thread_id = excluded.child_thread_id,
        question_id = excluded.question_id;`)
	if err != nil {
		return err
	}
	defer msgStmt.Close()

	attStmt, err := tx.PrepareContext(ctx, `
    INSERT INTO attachments (id, message_id, url, filename, content_type, size)
    VALUES (?, ?, ?, ?, ?, ?)
    ON CONFLICT(id) DO UPDATE SET
        url = excluded.url,
        filename = excluded.filename,
        content_type = excluded.content_type,
        size = excluded.size;`)
	if err != nil {
		return err
	}
	defer attStmt.Close()

	for _, m := range chunk {
		if _, err := msgStmt.ExecContext(ctx,
			m.ID, m.ChannelID, m.ServerID, m.AuthorID, m.Content, m.ParentChannelID,
			m.ReferencedMessageID, m.ChildThreadID, m.QuestionID, m.SolutionID); err != nil {
			return err
		}
		for _, a := range m.Attachments {
			if _, err := attStmt.ExecContext(ctx,
				a.ID, m.ID, a.URL, a.Filename, a.ContentType, a.Size); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// DeleteMessage removes a message and its attachments.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, messageID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: "begin delete tx", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM attachments WHERE message_id = ?`, messageID); err != nil {
		return &PersistenceError{Op: fmt.Sprintf("delete attachments of %s", messageID), Err: err}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, messageID); err != nil {
		return &PersistenceError{Op: fmt.Sprintf("delete message %s", messageID), Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: "commit delete tx", Err: err}
	}
	return nil
}

// Snowflake ids are decimal strings; ordering by length first and value
// second is exactly numeric order without a cast.
const snowflakeOrder = "ORDER BY LENGTH(id), id"

// MessagesByChannel returns a channel's messages oldest first, in snowflake
// numeric order. limit <= 0 means no limit.
func (s *SQLiteStore) MessagesByChannel(ctx context.Context, channelID string, limit int) ([]models.Message, error) {
	query := `SELECT id, channel_id, server_id, author_id, content, parent_channel_id,
                     referenced_message_id, child_thread_id, question_id, solution_id
              FROM messages WHERE channel_id = ? ` + snowflakeOrder
	args := []any{channelID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	return s.queryMessages(ctx, query, args...)
}

// QuestionsByServer returns the messages that start threads in a server,
// oldest first. This is the read side the sitemap job warms.
func (s *SQLiteStore) QuestionsByServer(ctx context.Context, serverID string) ([]models.Message, error) {
	return s.queryMessages(ctx,
		`SELECT id, channel_id, server_id, author_id, content, parent_channel_id,
                referenced_message_id, child_thread_id, question_id, solution_id
         FROM messages WHERE server_id = ? AND question_id = id `+snowflakeOrder, serverID)
}

// queryMessages scans the full result set before touching attachments: the
// store runs on a single connection, so a second query while rows are open
// would starve it.
func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	var out []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.ServerID, &m.AuthorID, &m.Content,
			&m.ParentChannelID, &m.ReferencedMessageID, &m.ChildThreadID,
			&m.QuestionID, &m.SolutionID); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range out {
		atts, err := s.attachmentsFor(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Attachments = atts
	}
	return out, nil
}

func (s *SQLiteStore) attachmentsFor(ctx context.Context, messageID string) ([]models.MessageAttachment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message_id, url, filename, content_type, size
         FROM attachments WHERE message_id = ? ORDER BY LENGTH(id), id`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.MessageAttachment
	for rows.Next() {
		var a models.MessageAttachment
		if err := rows.Scan(&a.ID, &a.MessageID, &a.URL, &a.Filename, &a.ContentType, &a.Size); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
