package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeReader serves canned channel histories. Messages are stored oldest
// first; pages are the window adjacent to the cursor, served newest first
// within the page, the way Discord does.
type fakeReader struct {
	guilds       []*discordgo.Guild
	channels     map[string][]*discordgo.Channel // guildID -> root channels
	active       map[string][]*discordgo.Channel // guildID -> active threads
	archived     map[string][]*discordgo.Channel // channelID -> archived threads
	archivedMore map[string]bool                 // channelID -> HasMore on every page
	history      map[string][]*discordgo.Message // channelID -> messages, oldest first
	failFetch    map[string]error                // channelID -> error to return
	fetchCalls   int
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		channels:     map[string][]*discordgo.Channel{},
		active:       map[string][]*discordgo.Channel{},
		archived:     map[string][]*discordgo.Channel{},
		archivedMore: map[string]bool{},
		history:      map[string][]*discordgo.Message{},
		failFetch:    map[string]error{},
	}
}

func (f *fakeReader) Guilds() ([]*discordgo.Guild, error) { return f.guilds, nil }

func (f *fakeReader) RootChannels(guildID string) ([]*discordgo.Channel, error) {
	return f.channels[guildID], nil
}

func (f *fakeReader) ActiveThreads(guildID string) ([]*discordgo.Channel, error) {
	return f.active[guildID], nil
}

func (f *fakeReader) ArchivedThreads(channelID string, before *time.Time, limit int) (*discordgo.ThreadsList, error) {
	threads := f.archived[channelID]
	if len(threads) > limit {
		threads = threads[:limit]
	}
	return &discordgo.ThreadsList{Threads: threads, HasMore: f.archivedMore[channelID]}, nil
}

func (f *fakeReader) MessagesAfter(channelID string, limit int, afterID string) ([]*discordgo.Message, error) {
	f.fetchCalls++
	if err := f.failFetch[channelID]; err != nil {
		return nil, err
	}
	history := f.history[channelID]

	// Take the oldest messages above the cursor, then serve the page newest
	// first.
	var window []*discordgo.Message
	for _, m := range history {
		if afterID != "" {
			id, _ := strconv.ParseUint(m.ID, 10, 64)
			cursor, _ := strconv.ParseUint(afterID, 10, 64)
			if id <= cursor {
				continue
			}
		}
		window = append(window, m)
		if len(window) == limit {
			break
		}
	}
	out := make([]*discordgo.Message, len(window))
	for i, m := range window {
		out[len(window)-1-i] = m
	}
	return out, nil
}

func seedHistory(f *fakeReader, channelID string, n int, base uint64) {
	for i := 0; i < n; i++ {
		id := strconv.FormatUint(base+uint64(i), 10)
		f.history[channelID] = append(f.history[channelID], &discordgo.Message{
			ID:        id,
			ChannelID: channelID,
			Author:    &discordgo.User{ID: "u1", Username: "someone"},
			Content:   "message " + id,
		})
	}
}

func textChannel(id, guildID string) *discordgo.Channel {
	return &discordgo.Channel{ID: id, GuildID: guildID, Type: discordgo.ChannelTypeGuildText}
}

func thread(id, parentID, guildID string) *discordgo.Channel {
	return &discordgo.Channel{
		ID:       id,
		GuildID:  guildID,
		ParentID: parentID,
		Type:     discordgo.ChannelTypeGuildPublicThread,
	}
}

func TestChannelMessagesPaginatesUntilExhausted(t *testing.T) {
	r := newFakeReader()
	seedHistory(r, "chan1", 250, 1000)

	f := New(r, zap.NewNop())
	res, err := f.ChannelMessages(context.Background(), textChannel("chan1", "g1"), Options{MaxMessages: 10000})
	require.NoError(t, err)
	assert.Len(t, res.RootMessages, 250)
	assert.True(t, res.RootComplete)
	// 250 messages is two full pages plus a short one.
	assert.Equal(t, 3, r.fetchCalls)
}

func TestChannelMessagesHonorsCap(t *testing.T) {
	r := newFakeReader()
	seedHistory(r, "chan1", 500, 1000)

	f := New(r, zap.NewNop())
	res, err := f.ChannelMessages(context.Background(), textChannel("chan1", "g1"), Options{MaxMessages: 150})
	require.NoError(t, err)
	assert.Len(t, res.RootMessages, 150)
	assert.False(t, res.RootComplete, "a capped fetch must not report exhaustion")
	// The walk goes forward, so the capped window is the oldest 150.
	for _, m := range res.RootMessages {
		id, _ := strconv.ParseUint(m.ID, 10, 64)
		assert.Less(t, id, uint64(1150))
	}
}

func TestChannelMessagesResumesFromCursor(t *testing.T) {
	r := newFakeReader()
	seedHistory(r, "chan1", 200, 1000)

	f := New(r, zap.NewNop())
	// Everything up to id 1149 was indexed last run; only 50 newer remain.
	res, err := f.ChannelMessages(context.Background(), textChannel("chan1", "g1"),
		Options{MaxMessages: 10000, CursorFor: func(string) string { return "1149" }})
	require.NoError(t, err)
	assert.Len(t, res.RootMessages, 50)
	assert.True(t, res.RootComplete)
	for _, m := range res.RootMessages {
		id, _ := strconv.ParseUint(m.ID, 10, 64)
		assert.Greater(t, id, uint64(1149))
	}
}

func TestCappedFetchMakesProgressAcrossRuns(t *testing.T) {
	r := newFakeReader()
	seedHistory(r, "chan1", 4, 1000)

	f := New(r, zap.NewNop())
	cursor := ""
	cursorFor := func(string) string { return cursor }

	res, err := f.ChannelMessages(context.Background(), textChannel("chan1", "g1"),
		Options{MaxMessages: 2, CursorFor: cursorFor})
	require.NoError(t, err)
	require.Len(t, res.RootMessages, 2)
	assert.False(t, res.RootComplete)
	cursor = "1001"

	res, err = f.ChannelMessages(context.Background(), textChannel("chan1", "g1"),
		Options{MaxMessages: 2, CursorFor: cursorFor})
	require.NoError(t, err)
	require.Len(t, res.RootMessages, 2)
	assert.Equal(t, "1002", res.RootMessages[1].ID)
	assert.Equal(t, "1003", res.RootMessages[0].ID)
	cursor = "1003"

	res, err = f.ChannelMessages(context.Background(), textChannel("chan1", "g1"),
		Options{MaxMessages: 2, CursorFor: cursorFor})
	require.NoError(t, err)
	assert.Empty(t, res.RootMessages)
	assert.True(t, res.RootComplete)
}

func TestChannelMessagesCollectsThreads(t *testing.T) {
	r := newFakeReader()
	seedHistory(r, "chan1", 5, 1000)
	r.active["g1"] = []*discordgo.Channel{
		thread("t1", "chan1", "g1"),
		thread("other", "chan2", "g1"), // different root, must be skipped
	}
	r.archived["chan1"] = []*discordgo.Channel{
		thread("t2", "chan1", "g1"),
		thread("t1", "chan1", "g1"), // also active, must not be fetched twice
	}
	seedHistory(r, "t1", 3, 2000)
	seedHistory(r, "t2", 4, 3000)

	f := New(r, zap.NewNop())
	res, err := f.ChannelMessages(context.Background(), textChannel("chan1", "g1"),
		Options{MaxMessages: 10000, IncludeThreads: true, MaxArchivedThreads: 50})
	require.NoError(t, err)

	require.Len(t, res.Threads, 2)
	assert.Equal(t, "t1", res.Threads[0].Thread.ID)
	assert.Len(t, res.Threads[0].Messages, 3)
	assert.Equal(t, "t2", res.Threads[1].Thread.ID)
	assert.Len(t, res.Threads[1].Messages, 4)
	assert.Equal(t, 12, res.Total())
}

func TestArchivedThreadWalkTerminatesWithoutCursorMovement(t *testing.T) {
	r := newFakeReader()
	seedHistory(r, "chan1", 1, 1000)
	// Every page claims HasMore but carries no archive timestamps, so the
	// pagination cursor can never move.
	r.archived["chan1"] = []*discordgo.Channel{thread("t1", "chan1", "g1")}
	r.archivedMore["chan1"] = true
	seedHistory(r, "t1", 1, 2000)

	f := New(r, zap.NewNop())
	res, err := f.ChannelMessages(context.Background(), textChannel("chan1", "g1"),
		Options{MaxMessages: 10000, IncludeThreads: true, MaxArchivedThreads: 50})
	require.NoError(t, err)
	require.Len(t, res.Threads, 1)
	assert.Equal(t, "t1", res.Threads[0].Thread.ID)
}

func TestThreadFailureIsIsolated(t *testing.T) {
	r := newFakeReader()
	seedHistory(r, "chan1", 5, 1000)
	r.active["g1"] = []*discordgo.Channel{
		thread("broken", "chan1", "g1"),
		thread("fine", "chan1", "g1"),
	}
	seedHistory(r, "fine", 2, 2000)
	r.failFetch["broken"] = fmt.Errorf("boom")

	f := New(r, zap.NewNop())
	res, err := f.ChannelMessages(context.Background(), textChannel("chan1", "g1"),
		Options{MaxMessages: 10000, IncludeThreads: true, MaxArchivedThreads: 50})
	require.NoError(t, err)

	require.Len(t, res.Threads, 1)
	assert.Equal(t, "fine", res.Threads[0].Thread.ID)
	require.Len(t, res.Failures, 1)
	var fetchErr *FetchError
	assert.ErrorAs(t, res.Failures[0], &fetchErr)
}

func TestRootFetchFailureFailsChannel(t *testing.T) {
	r := newFakeReader()
	r.failFetch["chan1"] = fmt.Errorf("boom")

	f := New(r, zap.NewNop())
	_, err := f.ChannelMessages(context.Background(), textChannel("chan1", "g1"), Options{MaxMessages: 100})
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "chan1", fetchErr.ChannelID)
}

func TestForbiddenIsPermissionError(t *testing.T) {
	r := newFakeReader()
	r.failFetch["chan1"] = &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusForbidden},
	}

	f := New(r, zap.NewNop())
	_, err := f.ChannelMessages(context.Background(), textChannel("chan1", "g1"), Options{MaxMessages: 100})
	var permErr *PermissionError
	require.ErrorAs(t, err, &permErr)
}

func TestForumChannelSkipsRootMessages(t *testing.T) {
	r := newFakeReader()
	forum := &discordgo.Channel{ID: "forum1", GuildID: "g1", Type: discordgo.ChannelTypeGuildForum}
	r.active["g1"] = []*discordgo.Channel{thread("t1", "forum1", "g1")}
	seedHistory(r, "t1", 2, 2000)

	f := New(r, zap.NewNop())
	res, err := f.ChannelMessages(context.Background(), forum,
		Options{MaxMessages: 100, IncludeThreads: true, MaxArchivedThreads: 10})
	require.NoError(t, err)
	assert.Empty(t, res.RootMessages)
	require.Len(t, res.Threads, 1)
	assert.Len(t, res.Threads[0].Messages, 2)
}

func TestCancelledContextStopsFetch(t *testing.T) {
	r := newFakeReader()
	seedHistory(r, "chan1", 300, 1000)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := New(r, zap.NewNop())
	_, err := f.ChannelMessages(ctx, textChannel("chan1", "g1"), Options{MaxMessages: 10000})
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.ErrorIs(t, fetchErr.Err, context.Canceled)
}
