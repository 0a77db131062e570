package models

import (
	"time"

	"github.com/answeroverflow/discord-indexer/settings"
)

// Server is a Discord guild known to the indexer. Servers are never hard
// deleted; when the bot is removed KickedAt is stamped instead.
type Server struct {
	ID           string           `db:"id"`
	Name         string           `db:"name"`
	Icon         string           `db:"icon"`
	CustomDomain string           `db:"custom_domain"`
	Flags        settings.Bitfield `db:"flags"`
	KickedAt     *time.Time       `db:"kicked_at"`
}

// Channel is a root channel or a thread. ParentID is empty for root channels
// and references the owning root channel for threads.
type Channel struct {
	ID       string `db:"id"`
	ServerID string `db:"server_id"`
	ParentID string `db:"parent_id"`
	Name     string `db:"name"`
	Type     int    `db:"type"`
}

// IsThread reports whether the channel is a thread rather than a root channel.
func (c Channel) IsThread() bool {
	return c.ParentID != ""
}

// ChannelSettings holds the per-channel behavior bitfield. Channels without a
// settings row are not indexed.
type ChannelSettings struct {
	ChannelID     string            `db:"channel_id"`
	Flags         settings.Bitfield `db:"flags"`
	SolutionTagID string            `db:"solution_tag_id"`
}

// DiscordAccount is the stored identity of a message author. The stored record
// always carries the real name and avatar; anonymization happens at read time.
type DiscordAccount struct {
	ID     string `db:"id"`
	Name   string `db:"name"`
	Avatar string `db:"avatar"`
}

// UserServerSettings is the per-user, per-server junction row carrying consent
// flags and API usage counters.
type UserServerSettings struct {
	UserID       string            `db:"user_id"`
	ServerID     string            `db:"server_id"`
	Flags        settings.Bitfield `db:"flags"`
	APIKey       string            `db:"api_key"`
	APICallsUsed int               `db:"api_calls_used"`
}

// Message is a canonical indexed message. References to other messages
// (reply parent, child thread, question/solution linkage) are stored as plain
// ids and resolved at read time, so insert order never matters.
type Message struct {
	ID                  string `db:"id"`
	ChannelID           string `db:"channel_id"`
	ServerID            string `db:"server_id"`
	AuthorID            string `db:"author_id"`
	Content             string `db:"content"`
	ParentChannelID     string `db:"parent_channel_id"`
	ReferencedMessageID string `db:"referenced_message_id"`
	ChildThreadID       string `db:"child_thread_id"`
	QuestionID          string `db:"question_id"`
	SolutionID          string `db:"solution_id"`
	Attachments         []MessageAttachment
}

// MessageAttachment is a file attached to a message.
type MessageAttachment struct {
	ID          string `db:"id"`
	MessageID   string `db:"message_id"`
	URL         string `db:"url"`
	Filename    string `db:"filename"`
	ContentType string `db:"content_type"`
	Size        int    `db:"size"`
}

// MessageWithAccount is the read-side shape of a message joined with its
// author. Public is derived from current consent settings when the row is
// read, never stored.
type MessageWithAccount struct {
	Message
	Author DiscordAccount
	Public bool
}
