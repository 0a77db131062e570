package convert

import (
	"github.com/bwmarrin/discordgo"

	"github.com/answeroverflow/discord-indexer/models"
	"github.com/answeroverflow/discord-indexer/settings"
)

// indexableTypes are the message types that carry user-authored content.
// Joins, pins, boosts and the rest of the system types are never indexed.
var indexableTypes = map[discordgo.MessageType]bool{
	discordgo.MessageTypeDefault:              true,
	discordgo.MessageTypeReply:                true,
	discordgo.MessageTypeThreadStarterMessage: true,
}

// IsHuman reports whether a message was written by a person rather than the
// system, a bot, or a webhook.
func IsHuman(m *discordgo.Message) bool {
	if m == nil || m.Author == nil {
		return false
	}
	if m.Author.Bot || m.Author.System || m.WebhookID != "" {
		return false
	}
	return indexableTypes[m.Type]
}

// FilterIndexable drops messages that must never reach storage: everything in
// a channel with indexing disabled, system and non-human messages, and
// messages from authors who opted out of indexing. Content is never a filter
// criterion at this layer.
func FilterIndexable(msgs []*discordgo.Message, cs models.ChannelSettings, optedOut map[string]bool) ([]*discordgo.Message, error) {
	enabled, err := settings.ChannelFlags.Has(cs.Flags, settings.ChannelIndexingEnabled)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, nil
	}

	out := make([]*discordgo.Message, 0, len(msgs))
	for _, m := range msgs {
		if !IsHuman(m) {
			continue
		}
		if optedOut[m.Author.ID] {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
