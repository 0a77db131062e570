// Package convert maps raw discordgo entities onto the canonical data model.
// Everything in here is pure: no I/O, no session access.
package convert

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/answeroverflow/discord-indexer/models"
)

// ConversionError reports a raw entity that could not be mapped onto the
// canonical model. The batch converters skip the offending entity and
// continue.
type ConversionError struct {
	Entity string
	ID     string
	Reason string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert: %s %q: %s", e.Entity, e.ID, e.Reason)
}

// ToServer maps a guild onto a Server row. Flags and custom domain are
// dashboard-managed and left untouched here; the store merges them on upsert.
func ToServer(g *discordgo.Guild) (models.Server, error) {
	if g == nil || g.ID == "" {
		return models.Server{}, &ConversionError{Entity: "guild", Reason: "missing id"}
	}
	return models.Server{
		ID:   g.ID,
		Name: g.Name,
		Icon: g.Icon,
	}, nil
}

// ToChannel maps a root channel or thread onto a Channel row. ParentID is
// only carried for threads; for root channels the Discord parent is a
// category, which the data model does not track.
func ToChannel(c *discordgo.Channel) (models.Channel, error) {
	if c == nil || c.ID == "" {
		return models.Channel{}, &ConversionError{Entity: "channel", Reason: "missing id"}
	}
	parentID := ""
	if c.IsThread() {
		parentID = c.ParentID
	}
	return models.Channel{
		ID:       c.ID,
		ServerID: c.GuildID,
		ParentID: parentID,
		Name:     c.Name,
		Type:     int(c.Type),
	}, nil
}

// ToAccount maps a user onto a DiscordAccount row. The stored record always
// carries the real identity; anonymization is an output-time transform.
func ToAccount(u *discordgo.User) (models.DiscordAccount, error) {
	if u == nil || u.ID == "" {
		return models.DiscordAccount{}, &ConversionError{Entity: "user", Reason: "missing id"}
	}
	return models.DiscordAccount{
		ID:     u.ID,
		Name:   u.Username,
		Avatar: u.Avatar,
	}, nil
}

// ToMessage maps a message onto a Message row. ch is the channel the message
// was fetched from and supplies the thread linkage: messages in a thread get
// ParentChannelID pointing at the root channel, and the thread starter
// message is marked as the thread's question.
func ToMessage(m *discordgo.Message, ch *discordgo.Channel) (models.Message, error) {
	if m == nil || m.ID == "" {
		return models.Message{}, &ConversionError{Entity: "message", Reason: "missing id"}
	}
	if m.Author == nil {
		return models.Message{}, &ConversionError{Entity: "message", ID: m.ID, Reason: "missing author"}
	}

	out := models.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		AuthorID:  m.Author.ID,
		Content:   m.Content,
	}

	out.ServerID = m.GuildID
	if ch != nil {
		if out.ServerID == "" {
			out.ServerID = ch.GuildID
		}
		if ch.IsThread() {
			out.ParentChannelID = ch.ParentID
			if m.ID == ch.ID {
				// A thread shares its id with the message that started it.
				out.QuestionID = m.ID
			}
		}
	}
	if m.Thread != nil {
		out.ChildThreadID = m.Thread.ID
		out.QuestionID = m.ID
	}
	if m.MessageReference != nil {
		out.ReferencedMessageID = m.MessageReference.MessageID
	}

	for _, a := range m.Attachments {
		if a == nil || a.ID == "" {
			continue
		}
		out.Attachments = append(out.Attachments, models.MessageAttachment{
			ID:          a.ID,
			MessageID:   m.ID,
			URL:         a.URL,
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        a.Size,
		})
	}
	return out, nil
}

// ToMessages converts a batch, skipping entities that fail conversion and
// collapsing duplicate ids last-write-wins. The returned errors carry the
// offending ids for logging; they never abort the batch.
func ToMessages(msgs []*discordgo.Message, ch *discordgo.Channel) ([]models.Message, []*ConversionError) {
	var (
		out     []models.Message
		skipped []*ConversionError
		byID    = make(map[string]int, len(msgs))
	)
	for _, raw := range msgs {
		m, err := ToMessage(raw, ch)
		if err != nil {
			var conv *ConversionError
			if !errors.As(err, &conv) {
				conv = &ConversionError{Entity: "message", Reason: err.Error()}
			}
			skipped = append(skipped, conv)
			continue
		}
		if i, seen := byID[m.ID]; seen {
			out[i] = m
			continue
		}
		byID[m.ID] = len(out)
		out = append(out, m)
	}
	return out, skipped
}

// AccountsFromMessages collects the distinct authors of a batch, one record
// per id, last-write-wins on mutable fields. A full re-index supersedes stale
// names and avatars.
func AccountsFromMessages(msgs []*discordgo.Message) []models.DiscordAccount {
	var (
		out  []models.DiscordAccount
		byID = make(map[string]int, len(msgs))
	)
	for _, m := range msgs {
		if m == nil {
			continue
		}
		acc, err := ToAccount(m.Author)
		if err != nil {
			continue
		}
		if i, seen := byID[acc.ID]; seen {
			out[i] = acc
			continue
		}
		byID[acc.ID] = len(out)
		out = append(out, acc)
	}
	return out
}
