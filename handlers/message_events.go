package handlers

import (
	"context"
	"errors"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/answeroverflow/discord-indexer/bot"
	"github.com/answeroverflow/discord-indexer/convert"
	"github.com/answeroverflow/discord-indexer/database"
	"github.com/answeroverflow/discord-indexer/events"
	"github.com/answeroverflow/discord-indexer/models"
	"github.com/answeroverflow/discord-indexer/settings"
)

// MessageCreate keeps indexed channels current between scheduled passes.
// A message is stored only when its root channel has indexing enabled and
// the author has not opted out.
func MessageCreate(b *bot.Bot) func(s *discordgo.Session, m *discordgo.MessageCreate) {
	return func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.ID == s.State.User.ID {
			return
		}
		msg, ok := storeLiveMessage(b, s, m.Message)
		if !ok {
			return
		}
		b.Bus.PublishMessageCreated(events.MessageCreated{Message: msg})
	}
}

// MessageUpdate re-upserts an edited message so the stored copy tracks the
// latest content. Edits to messages that were never indexed fall through the
// same gates as creates and stay unstored.
func MessageUpdate(b *bot.Bot) func(s *discordgo.Session, m *discordgo.MessageUpdate) {
	return func(s *discordgo.Session, m *discordgo.MessageUpdate) {
		// Embed unfurls arrive as author-less updates.
		if m.Author == nil || m.Author.ID == s.State.User.ID {
			return
		}
		msg, ok := storeLiveMessage(b, s, m.Message)
		if !ok {
			return
		}
		b.Bus.PublishMessageUpdated(events.MessageUpdated{Message: msg})
	}
}

// MessageDelete removes the stored copy. Deleting a message that was never
// indexed is a no-op.
func MessageDelete(b *bot.Bot) func(s *discordgo.Session, m *discordgo.MessageDelete) {
	return func(s *discordgo.Session, m *discordgo.MessageDelete) {
		ctx := context.Background()
		if err := b.Store.DeleteMessage(ctx, m.ID); err != nil {
			b.Log.Error("failed to delete message",
				zap.String("message_id", m.ID), zap.Error(err))
			return
		}
		b.Bus.PublishMessageDeleted(events.MessageDeleted{
			MessageID: m.ID,
			ChannelID: m.ChannelID,
			ServerID:  m.GuildID,
		})
	}
}

// storeLiveMessage applies the indexing gates to a single gateway message and
// persists it. It reports whether the message was stored.
func storeLiveMessage(b *bot.Bot, s *discordgo.Session, m *discordgo.Message) (msg models.Message, ok bool) {
	ctx := context.Background()

	ch, err := resolveChannel(s, m.ChannelID)
	if err != nil {
		b.Log.Warn("failed to resolve channel",
			zap.String("channel_id", m.ChannelID), zap.Error(err))
		return msg, false
	}

	// Settings live on the root channel even for thread messages.
	settingsID := ch.ID
	if ch.IsThread() {
		settingsID = ch.ParentID
	}
	cs, err := b.Store.GetChannelSettings(ctx, settingsID)
	if errors.Is(err, database.ErrNotFound) {
		return msg, false
	}
	if err != nil {
		b.Log.Error("failed to load channel settings",
			zap.String("channel_id", settingsID), zap.Error(err))
		return msg, false
	}
	enabled, err := settings.ChannelFlags.Has(cs.Flags, settings.ChannelIndexingEnabled)
	if err != nil || !enabled {
		return msg, false
	}

	if !convert.IsHuman(m) {
		return msg, false
	}
	uss, err := b.Store.GetUserServerSettings(ctx, m.Author.ID, m.GuildID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		b.Log.Error("failed to load user settings",
			zap.String("user_id", m.Author.ID), zap.Error(err))
		return msg, false
	}
	if err == nil {
		optedOut, ferr := settings.UserServerFlags.Has(uss.Flags, settings.UserMessageIndexingDisabled)
		if ferr == nil && optedOut {
			return msg, false
		}
	}

	channel, err := convert.ToChannel(ch)
	if err != nil {
		b.Log.Warn("failed to convert channel", zap.Error(err))
		return msg, false
	}
	if err := b.Store.UpsertChannel(ctx, channel); err != nil {
		b.Log.Error("failed to upsert channel",
			zap.String("channel_id", ch.ID), zap.Error(err))
		return msg, false
	}

	account, err := convert.ToAccount(m.Author)
	if err != nil {
		return msg, false
	}
	if err := b.Store.UpsertManyAccounts(ctx, []models.DiscordAccount{account}); err != nil {
		b.Log.Error("failed to upsert account",
			zap.String("user_id", m.Author.ID), zap.Error(err))
		return msg, false
	}

	msg, err = convert.ToMessage(m, ch)
	if err != nil {
		b.Log.Warn("failed to convert message",
			zap.String("message_id", m.ID), zap.Error(err))
		return msg, false
	}
	if _, err := b.Store.UpsertManyMessages(ctx, []models.Message{msg}); err != nil {
		b.Log.Error("failed to upsert message",
			zap.String("message_id", m.ID), zap.Error(err))
		return msg, false
	}
	return msg, true
}

// resolveChannel prefers the gateway state cache and falls back to the REST
// API for channels the cache has not seen yet.
func resolveChannel(s *discordgo.Session, channelID string) (*discordgo.Channel, error) {
	if ch, err := s.State.Channel(channelID); err == nil {
		return ch, nil
	}
	return s.Channel(channelID)
}
