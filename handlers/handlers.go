package handlers

import (
	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/answeroverflow/discord-indexer/bot"
)

// Register all handlers to the bot.
func Register(b *bot.Bot) {
	b.Session.AddHandler(MessageCreate(b))
	b.Session.AddHandler(MessageUpdate(b))
	b.Session.AddHandler(MessageDelete(b))
	b.Session.AddHandler(GuildCreate(b))
	b.Session.AddHandler(GuildDelete(b))

	// Log when the bot is connected.
	b.Session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.Log.Info("logged in",
			zap.String("username", s.State.User.Username),
			zap.Int("guilds", len(r.Guilds)))
	})
}
