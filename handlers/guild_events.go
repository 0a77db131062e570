package handlers

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/answeroverflow/discord-indexer/bot"
	"github.com/answeroverflow/discord-indexer/convert"
	"github.com/answeroverflow/discord-indexer/events"
)

// GuildCreate fires on join and on reconnect for every known guild. The
// upsert clears any stale kicked_at stamp, so a re-invited server rejoins the
// index automatically.
func GuildCreate(b *bot.Bot) func(s *discordgo.Session, g *discordgo.GuildCreate) {
	return func(s *discordgo.Session, g *discordgo.GuildCreate) {
		if g.Unavailable {
			return
		}
		server, err := convert.ToServer(g.Guild)
		if err != nil {
			b.Log.Warn("failed to convert guild", zap.Error(err))
			return
		}
		if err := b.Store.UpsertServer(context.Background(), server); err != nil {
			b.Log.Error("failed to upsert server",
				zap.String("server_id", server.ID), zap.Error(err))
			return
		}
		b.Log.Info("joined server",
			zap.String("server_id", server.ID), zap.String("name", server.Name))
		b.Bus.PublishServerJoined(events.ServerJoined{Server: server})
	}
}

// GuildDelete marks the server kicked instead of deleting its rows, keeping
// stored consent intact in case the bot is re-invited. Outage-driven deletes
// carry Unavailable and are ignored.
func GuildDelete(b *bot.Bot) func(s *discordgo.Session, g *discordgo.GuildDelete) {
	return func(s *discordgo.Session, g *discordgo.GuildDelete) {
		if g.Unavailable {
			return
		}
		if err := b.Store.MarkServerKicked(context.Background(), g.ID, time.Now().UTC()); err != nil {
			b.Log.Error("failed to mark server kicked",
				zap.String("server_id", g.ID), zap.Error(err))
			return
		}
		b.Log.Info("left server", zap.String("server_id", g.ID))
		b.Bus.PublishServerLeft(events.ServerLeft{ServerID: g.ID})
	}
}
