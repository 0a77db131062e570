// Package snowflake provides ordering and timestamp helpers for Discord
// snowflake ids. Snowflakes are 64-bit integers carried as decimal strings on
// the wire; comparing them as strings is lexicographically wrong for ids of
// different lengths, so every comparison here goes through numeric parsing.
package snowflake

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/answeroverflow/discord-indexer/models"
)

// Discord epoch, milliseconds since the Unix epoch (2015-01-01T00:00:00Z).
// Matches discordgo.SnowflakeTimestamp.
const epoch = 1420070400000

// InvalidSnowflakeError reports a snowflake that is not a decimal uint64.
// It indicates a bug in the caller, not bad data from Discord.
type InvalidSnowflakeError struct {
	ID string
}

func (e *InvalidSnowflakeError) Error() string {
	return fmt.Sprintf("snowflake: %q is not a valid snowflake", e.ID)
}

// Parse converts a snowflake string to its numeric value.
func Parse(id string) (uint64, error) {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return 0, &InvalidSnowflakeError{ID: id}
	}
	return n, nil
}

// Timestamp extracts the creation time encoded in the high bits of a
// snowflake.
func Timestamp(id string) (time.Time, error) {
	n, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	ms := int64(n>>22) + epoch
	return time.UnixMilli(ms).UTC(), nil
}

// Compare orders two parsed snowflakes: -1 if a was created before b, 0 if
// equal, 1 otherwise.
func Compare(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// CompareIDs numerically compares two snowflake strings.
func CompareIDs(a, b string) (int, error) {
	na, err := Parse(a)
	if err != nil {
		return 0, err
	}
	nb, err := Parse(b)
	if err != nil {
		return 0, err
	}
	return Compare(na, nb), nil
}

// SortByRecency stably sorts messages ascending by snowflake id, oldest
// first. The whole batch is validated before sorting so a malformed id
// never leaves the slice partially reordered.
func SortByRecency(msgs []models.Message) error {
	keys := make(map[string]uint64, len(msgs))
	for _, m := range msgs {
		if _, ok := keys[m.ID]; ok {
			continue
		}
		n, err := Parse(m.ID)
		if err != nil {
			return err
		}
		keys[m.ID] = n
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return keys[msgs[i].ID] < keys[msgs[j].ID]
	})
	return nil
}
