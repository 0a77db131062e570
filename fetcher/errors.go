package fetcher

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// FetchError is a transient fetch failure: network trouble, a rate limit the
// client's own backoff could not absorb, or a vanished channel. The channel
// contributes nothing this run and is retried naturally on the next one.
type FetchError struct {
	ChannelID string
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch channel %s: %v", e.ChannelID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// PermissionError means the bot lacks access to a channel. It is never
// retried within a run; the next run picks the channel up again if
// permissions change.
type PermissionError struct {
	ChannelID string
	Err       error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("no access to channel %s: %v", e.ChannelID, e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// classify wraps a raw discordgo error into the fetch taxonomy.
func classify(channelID string, err error) error {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		if rest.Response.StatusCode == http.StatusForbidden {
			return &PermissionError{ChannelID: channelID, Err: err}
		}
	}
	return &FetchError{ChannelID: channelID, Err: err}
}
