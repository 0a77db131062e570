package fetcher

import (
	"time"

	"github.com/bwmarrin/discordgo"
)

// Reader is the narrow Discord read capability the pipeline consumes. The
// production implementation wraps a discordgo session; tests substitute a
// fake.
type Reader interface {
	// Guilds returns the guilds the bot currently belongs to.
	Guilds() ([]*discordgo.Guild, error)
	// RootChannels returns the indexable top-level channels of a guild
	// (text, announcement and forum channels; no categories, no threads).
	RootChannels(guildID string) ([]*discordgo.Channel, error)
	// ActiveThreads returns all active threads of a guild.
	ActiveThreads(guildID string) ([]*discordgo.Channel, error)
	// ArchivedThreads pages through a channel's public archived threads.
	ArchivedThreads(channelID string, before *time.Time, limit int) (*discordgo.ThreadsList, error)
	// MessagesAfter returns up to limit messages newer than afterID, taking
	// the page adjacent to the cursor (the oldest qualifying messages). An
	// empty afterID starts from the beginning of the channel. Order within
	// the page is not guaranteed.
	MessagesAfter(channelID string, limit int, afterID string) ([]*discordgo.Message, error)
}

// rootChannelTypes are the channel types eligible for indexing.
var rootChannelTypes = map[discordgo.ChannelType]bool{
	discordgo.ChannelTypeGuildText:  true,
	discordgo.ChannelTypeGuildNews:  true,
	discordgo.ChannelTypeGuildForum: true,
}

// SessionReader adapts a discordgo session to the Reader interface. Rate
// limiting and retry of 429s are handled inside discordgo itself.
type SessionReader struct {
	s *discordgo.Session
}

func NewSessionReader(s *discordgo.Session) *SessionReader {
	return &SessionReader{s: s}
}

func (r *SessionReader) Guilds() ([]*discordgo.Guild, error) {
	// The session state tracks current membership, so guilds the bot was
	// kicked from never show up here.
	r.s.State.RLock()
	defer r.s.State.RUnlock()
	guilds := make([]*discordgo.Guild, len(r.s.State.Guilds))
	copy(guilds, r.s.State.Guilds)
	return guilds, nil
}

func (r *SessionReader) RootChannels(guildID string) ([]*discordgo.Channel, error) {
	channels, err := r.s.GuildChannels(guildID)
	if err != nil {
		return nil, err
	}
	out := make([]*discordgo.Channel, 0, len(channels))
	for _, ch := range channels {
		if rootChannelTypes[ch.Type] {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (r *SessionReader) ActiveThreads(guildID string) ([]*discordgo.Channel, error) {
	list, err := r.s.GuildThreadsActive(guildID)
	if err != nil {
		return nil, err
	}
	return list.Threads, nil
}

func (r *SessionReader) ArchivedThreads(channelID string, before *time.Time, limit int) (*discordgo.ThreadsList, error) {
	return r.s.ThreadsArchived(channelID, before, limit)
}

func (r *SessionReader) MessagesAfter(channelID string, limit int, afterID string) ([]*discordgo.Message, error) {
	return r.s.ChannelMessages(channelID, limit, "", afterID, "")
}
