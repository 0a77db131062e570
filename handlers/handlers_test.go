package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/answeroverflow/discord-indexer/bot"
	"github.com/answeroverflow/discord-indexer/config"
	"github.com/answeroverflow/discord-indexer/database"
	"github.com/answeroverflow/discord-indexer/events"
	"github.com/answeroverflow/discord-indexer/models"
	"github.com/answeroverflow/discord-indexer/settings"
)

// newTestBot builds a Bot around an in-memory store and an offline session.
// The session is never opened; handlers only touch its state cache.
func newTestBot(t *testing.T) *bot.Bot {
	t.Helper()
	store, err := database.NewSQLiteStore(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	session, err := discordgo.New("Bot test-token")
	require.NoError(t, err)
	session.State.User = &discordgo.User{ID: "bot-user"}

	return &bot.Bot{
		Session: session,
		Store:   store,
		Bus:     events.New(),
		Log:     zap.NewNop(),
		Cfg:     &config.Config{},
	}
}

// seedChannel puts a guild and channel into the session state and enables
// indexing for the channel.
func seedChannel(t *testing.T, b *bot.Bot, guildID, channelID string) {
	t.Helper()
	require.NoError(t, b.Session.State.GuildAdd(&discordgo.Guild{ID: guildID}))
	require.NoError(t, b.Session.State.ChannelAdd(&discordgo.Channel{
		ID:      channelID,
		GuildID: guildID,
		Name:    "general",
		Type:    discordgo.ChannelTypeGuildText,
	}))

	flags, err := settings.ChannelFlags.Set(0, settings.ChannelIndexingEnabled)
	require.NoError(t, err)
	require.NoError(t, b.Store.UpsertChannelSettings(context.Background(), models.ChannelSettings{
		ChannelID: channelID,
		Flags:     flags,
	}))
}

func liveMessage(id, channelID, guildID, authorID string) *discordgo.Message {
	return &discordgo.Message{
		ID:        id,
		ChannelID: channelID,
		GuildID:   guildID,
		Content:   "hello",
		Type:      discordgo.MessageTypeDefault,
		Author:    &discordgo.User{ID: authorID, Username: "alice"},
	}
}

func TestMessageCreateStoresIndexedMessage(t *testing.T) {
	b := newTestBot(t)
	seedChannel(t, b, "g1", "c1")

	var published []events.MessageCreated
	b.Bus.SubscribeMessageCreated(func(ev events.MessageCreated) {
		published = append(published, ev)
	})

	MessageCreate(b)(b.Session, &discordgo.MessageCreate{
		Message: liveMessage("5001", "c1", "g1", "u1"),
	})

	msgs, err := b.Store.MessagesByChannel(context.Background(), "c1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "5001", msgs[0].ID)
	require.Len(t, published, 1)
	require.Equal(t, "5001", published[0].Message.ID)
}

func TestMessageCreateIgnoresUnindexedChannel(t *testing.T) {
	b := newTestBot(t)
	require.NoError(t, b.Session.State.GuildAdd(&discordgo.Guild{ID: "g1"}))
	require.NoError(t, b.Session.State.ChannelAdd(&discordgo.Channel{
		ID: "c1", GuildID: "g1", Type: discordgo.ChannelTypeGuildText,
	}))

	MessageCreate(b)(b.Session, &discordgo.MessageCreate{
		Message: liveMessage("5001", "c1", "g1", "u1"),
	})

	msgs, err := b.Store.MessagesByChannel(context.Background(), "c1", 10)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestMessageCreateIgnoresOptedOutAuthor(t *testing.T) {
	b := newTestBot(t)
	seedChannel(t, b, "g1", "c1")

	flags, err := settings.UserServerFlags.Set(0, settings.UserMessageIndexingDisabled)
	require.NoError(t, err)
	require.NoError(t, b.Store.UpsertUserServerSettings(context.Background(), models.UserServerSettings{
		UserID:   "u1",
		ServerID: "g1",
		Flags:    flags,
	}))

	MessageCreate(b)(b.Session, &discordgo.MessageCreate{
		Message: liveMessage("5001", "c1", "g1", "u1"),
	})

	msgs, err := b.Store.MessagesByChannel(context.Background(), "c1", 10)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestMessageCreateIgnoresBots(t *testing.T) {
	b := newTestBot(t)
	seedChannel(t, b, "g1", "c1")

	msg := liveMessage("5001", "c1", "g1", "u1")
	msg.Author.Bot = true
	MessageCreate(b)(b.Session, &discordgo.MessageCreate{Message: msg})

	msgs, err := b.Store.MessagesByChannel(context.Background(), "c1", 10)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestMessageUpdateRewritesStoredCopy(t *testing.T) {
	b := newTestBot(t)
	seedChannel(t, b, "g1", "c1")

	MessageCreate(b)(b.Session, &discordgo.MessageCreate{
		Message: liveMessage("5001", "c1", "g1", "u1"),
	})

	edited := liveMessage("5001", "c1", "g1", "u1")
	edited.Content = "hello, edited"
	MessageUpdate(b)(b.Session, &discordgo.MessageUpdate{Message: edited})

	msgs, err := b.Store.MessagesByChannel(context.Background(), "c1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "hello, edited", msgs[0].Content)
}

func TestMessageDeleteRemovesStoredCopy(t *testing.T) {
	b := newTestBot(t)
	seedChannel(t, b, "g1", "c1")

	MessageCreate(b)(b.Session, &discordgo.MessageCreate{
		Message: liveMessage("5001", "c1", "g1", "u1"),
	})

	var deleted []events.MessageDeleted
	b.Bus.SubscribeMessageDeleted(func(ev events.MessageDeleted) {
		deleted = append(deleted, ev)
	})

	MessageDelete(b)(b.Session, &discordgo.MessageDelete{
		Message: &discordgo.Message{ID: "5001", ChannelID: "c1", GuildID: "g1"},
	})

	msgs, err := b.Store.MessagesByChannel(context.Background(), "c1", 10)
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.Len(t, deleted, 1)
	require.Equal(t, "5001", deleted[0].MessageID)
}

func TestGuildCreateUpsertsServer(t *testing.T) {
	b := newTestBot(t)

	var joined []events.ServerJoined
	b.Bus.SubscribeServerJoined(func(ev events.ServerJoined) {
		joined = append(joined, ev)
	})

	GuildCreate(b)(b.Session, &discordgo.GuildCreate{
		Guild: &discordgo.Guild{ID: "g1", Name: "Gopher Server"},
	})

	server, err := b.Store.GetServer(context.Background(), "g1")
	require.NoError(t, err)
	require.Equal(t, "Gopher Server", server.Name)
	require.Nil(t, server.KickedAt)
	require.Len(t, joined, 1)
}

func TestGuildDeleteMarksServerKicked(t *testing.T) {
	b := newTestBot(t)
	GuildCreate(b)(b.Session, &discordgo.GuildCreate{
		Guild: &discordgo.Guild{ID: "g1", Name: "Gopher Server"},
	})

	GuildDelete(b)(b.Session, &discordgo.GuildDelete{
		Guild: &discordgo.Guild{ID: "g1"},
	})

	server, err := b.Store.GetServer(context.Background(), "g1")
	require.NoError(t, err)
	require.NotNil(t, server.KickedAt)
	require.WithinDuration(t, time.Now(), *server.KickedAt, time.Minute)

	// A rejoin clears the stamp.
	GuildCreate(b)(b.Session, &discordgo.GuildCreate{
		Guild: &discordgo.Guild{ID: "g1", Name: "Gopher Server"},
	})
	server, err = b.Store.GetServer(context.Background(), "g1")
	require.NoError(t, err)
	require.Nil(t, server.KickedAt)
}

func TestGuildDeleteIgnoresOutages(t *testing.T) {
	b := newTestBot(t)
	GuildCreate(b)(b.Session, &discordgo.GuildCreate{
		Guild: &discordgo.Guild{ID: "g1", Name: "Gopher Server"},
	})

	GuildDelete(b)(b.Session, &discordgo.GuildDelete{
		Guild: &discordgo.Guild{ID: "g1", Unavailable: true},
	})

	server, err := b.Store.GetServer(context.Background(), "g1")
	require.NoError(t, err)
	require.Nil(t, server.KickedAt)
}
