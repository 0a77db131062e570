package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/answeroverflow/discord-indexer/models"
	"github.com/answeroverflow/discord-indexer/settings"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("database: not found")

// PersistenceError is a storage write failure that survived its retries. The
// affected batch is dropped; the caller logs it and keeps going.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("database: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IndexRun is the durable completion marker of one orchestrator pass.
type IndexRun struct {
	ID              string
	StartedAt       time.Time
	FinishedAt      time.Time
	ServersIndexed  int
	ServersFailed   int
	MessagesIndexed int
}

// Store is the persistence capability the pipeline consumes. All writes are
// upserts keyed by natural snowflake ids, so re-running a pass converges to
// the same rows.
type Store interface {
	UpsertServer(ctx context.Context, server models.Server) error
	// SetServerFlags overwrites a server's flags exactly, for config-driven
	// flags where union semantics would make removal impossible.
	SetServerFlags(ctx context.Context, serverID string, flags settings.Bitfield) error
	MarkServerKicked(ctx context.Context, serverID string, at time.Time) error
	GetServer(ctx context.Context, serverID string) (models.Server, error)
	// ActiveServers returns servers the bot has not been kicked from.
	ActiveServers(ctx context.Context) ([]models.Server, error)

	UpsertChannel(ctx context.Context, channel models.Channel) error
	// ChannelCursor returns the id of the newest message indexed in a channel
	// or thread; "" means nothing has been indexed there yet.
	ChannelCursor(ctx context.Context, channelID string) (string, error)
	SetChannelCursor(ctx context.Context, channelID, cursor string) error
	GetChannelSettings(ctx context.Context, channelID string) (models.ChannelSettings, error)
	UpsertChannelSettings(ctx context.Context, cs models.ChannelSettings) error

	UpsertManyAccounts(ctx context.Context, accounts []models.DiscordAccount) error
	GetUserServerSettings(ctx context.Context, userID, serverID string) (models.UserServerSettings, error)
	UpsertUserServerSettings(ctx context.Context, uss models.UserServerSettings) error
	// OptedOutUsers returns the ids of users in a server who disabled
	// message indexing.
	OptedOutUsers(ctx context.Context, serverID string) (map[string]bool, error)

	// UpsertManyMessages writes messages in bounded chunks and returns how
	// many were stored. A chunk that keeps failing after retries is dropped
	// and reported through the returned error without aborting later chunks.
	UpsertManyMessages(ctx context.Context, msgs []models.Message) (int, error)
	DeleteMessage(ctx context.Context, messageID string) error
	MessagesByChannel(ctx context.Context, channelID string, limit int) ([]models.Message, error)
	// QuestionsByServer returns the thread starter messages of a server,
	// oldest first.
	QuestionsByServer(ctx context.Context, serverID string) ([]models.Message, error)

	ReplaceSitemapEntries(ctx context.Context, serverID string, messageIDs []string) error
	RecordIndexRun(ctx context.Context, run IndexRun) error

	Close() error
}
