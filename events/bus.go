// Package events is a small typed in-process pub/sub. Each event kind has its
// own subscriber list, so a handler only ever sees the variant it asked for.
// Publishing fans out synchronously in subscription order.
package events

import (
	"sync"
	"time"

	"github.com/answeroverflow/discord-indexer/models"
)

// MessageCreated fires after a live message was stored.
type MessageCreated struct {
	Message models.Message
}

// MessageUpdated fires after an edit was stored.
type MessageUpdated struct {
	Message models.Message
}

// MessageDeleted fires after a deletion was applied.
type MessageDeleted struct {
	MessageID string
	ChannelID string
	ServerID  string
}

// ServerJoined fires when the bot joins a guild.
type ServerJoined struct {
	Server models.Server
}

// ServerLeft fires when the bot is removed from a guild.
type ServerLeft struct {
	ServerID string
}

// RunCompleted is the completion marker of one full indexing pass.
type RunCompleted struct {
	RunID           string
	StartedAt       time.Time
	FinishedAt      time.Time
	ServersIndexed  int
	ServersFailed   int
	MessagesIndexed int
}

// Bus routes events to subscribers. The zero value is not usable; construct
// with New.
type Bus struct {
	mu             sync.RWMutex
	messageCreated []func(MessageCreated)
	messageUpdated []func(MessageUpdated)
	messageDeleted []func(MessageDeleted)
	serverJoined   []func(ServerJoined)
	serverLeft     []func(ServerLeft)
	runCompleted   []func(RunCompleted)
}

func New() *Bus {
	return &Bus{}
}

func (b *Bus) SubscribeMessageCreated(fn func(MessageCreated)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messageCreated = append(b.messageCreated, fn)
}

func (b *Bus) SubscribeMessageUpdated(fn func(MessageUpdated)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messageUpdated = append(b.messageUpdated, fn)
}

func (b *Bus) SubscribeMessageDeleted(fn func(MessageDeleted)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messageDeleted = append(b.messageDeleted, fn)
}

func (b *Bus) SubscribeServerJoined(fn func(ServerJoined)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.serverJoined = append(b.serverJoined, fn)
}

func (b *Bus) SubscribeServerLeft(fn func(ServerLeft)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.serverLeft = append(b.serverLeft, fn)
}

func (b *Bus) SubscribeRunCompleted(fn func(RunCompleted)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.runCompleted = append(b.runCompleted, fn)
}

func (b *Bus) PublishMessageCreated(ev MessageCreated) {
	b.mu.RLock()
	subs := b.messageCreated
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (b *Bus) PublishMessageUpdated(ev MessageUpdated) {
	b.mu.RLock()
	subs := b.messageUpdated
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (b *Bus) PublishMessageDeleted(ev MessageDeleted) {
	b.mu.RLock()
	subs := b.messageDeleted
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (b *Bus) PublishServerJoined(ev ServerJoined) {
	b.mu.RLock()
	subs := b.serverJoined
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (b *Bus) PublishServerLeft(ev ServerLeft) {
	b.mu.RLock()
	subs := b.serverLeft
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (b *Bus) PublishRunCompleted(ev RunCompleted) {
	b.mu.RLock()
	subs := b.runCompleted
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}
