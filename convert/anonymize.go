package convert

import (
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/answeroverflow/discord-indexer/models"
	"github.com/answeroverflow/discord-indexer/settings"
)

var (
	adjectives = []string{
		"Ancient", "Brave", "Calm", "Clever", "Curious", "Eager", "Gentle",
		"Happy", "Humble", "Jolly", "Keen", "Lively", "Lucky", "Mellow",
		"Noble", "Patient", "Proud", "Quick", "Quiet", "Silent", "Sleepy",
		"Swift", "Wise", "Witty",
	}
	colors = []string{
		"Amber", "Aqua", "Azure", "Beige", "Coral", "Crimson", "Emerald",
		"Golden", "Indigo", "Ivory", "Jade", "Lavender", "Magenta", "Maroon",
		"Olive", "Pearl", "Ruby", "Sapphire", "Scarlet", "Silver", "Teal",
		"Umber", "Violet", "White",
	}
	animals = []string{
		"Badger", "Bear", "Crane", "Dolphin", "Eagle", "Falcon", "Fox",
		"Gecko", "Heron", "Ibis", "Jaguar", "Koala", "Lemur", "Lynx",
		"Marmot", "Otter", "Owl", "Panda", "Raven", "Salmon", "Tiger",
		"Walrus", "Wolf", "Wombat",
	}
)

// ToPublicAccount returns the account unchanged when the author has consented
// to public display. Otherwise it returns a pseudo-identity derived entirely
// from seed: the same seed always yields the same name and id, and the avatar
// is dropped.
func ToPublicAccount(a models.DiscordAccount, consented bool, seed string) models.DiscordAccount {
	if consented {
		return a
	}
	h := fnv.New64a()
	h.Write([]byte(seed))
	n := h.Sum64()

	name := strings.Join([]string{
		adjectives[n%uint64(len(adjectives))],
		colors[(n/7)%uint64(len(colors))],
		animals[(n/49)%uint64(len(animals))],
	}, " ")

	return models.DiscordAccount{
		ID:   strconv.FormatUint(n, 10),
		Name: name,
	}
}

// ToPublicMessage is the read-time view of a message. Public is derived from
// the author's current consent and the server's consider-all-messages-public
// flag; non-public messages keep their metadata but lose content and real
// author identity. Servers with anonymize_messages set hide the author even
// on public messages.
func ToPublicMessage(m models.Message, author models.DiscordAccount, consented bool, serverFlags settings.Bitfield) (models.MessageWithAccount, error) {
	allPublic, err := settings.ServerFlags.Has(serverFlags, settings.ServerConsiderAllMessagesPublic)
	if err != nil {
		return models.MessageWithAccount{}, err
	}
	anonymize, err := settings.ServerFlags.Has(serverFlags, settings.ServerAnonymizeMessages)
	if err != nil {
		return models.MessageWithAccount{}, err
	}

	public := consented || allPublic
	out := models.MessageWithAccount{
		Message: m,
		Public:  public,
		Author:  ToPublicAccount(author, public && !anonymize, author.ID),
	}
	if !public {
		out.Content = ""
		out.Attachments = nil
	}
	return out, nil
}
