// Package fetcher retrieves the message history of a root channel and its
// threads through cursor-based pagination. Each channel and thread is walked
// forward from its own cursor, so a run stopped by the message cap resumes
// where it left off on the next cycle instead of refetching or skipping.
package fetcher

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/answeroverflow/discord-indexer/snowflake"
)

// pageSize is Discord's maximum page size for message history requests.
const pageSize = 100

type fetchState int

const (
	statePending fetchState = iota
	stateFetchingRoot
	stateFetchingThreads
	stateDone
	stateFailed
)

func (s fetchState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateFetchingRoot:
		return "fetching_root"
	case stateFetchingThreads:
		return "fetching_threads"
	case stateDone:
		return "done"
	default:
		return "failed"
	}
}

// Options bound a single channel fetch.
type Options struct {
	// MaxMessages caps the total number of messages collected across the
	// root channel and all of its threads. Channels exceeding the cap get a
	// partial index and are revisited next cycle.
	MaxMessages int
	// IncludeThreads controls whether active and archived threads are
	// enumerated and fetched.
	IncludeThreads bool
	// MaxArchivedThreads caps how many archived threads are collected per
	// root channel.
	MaxArchivedThreads int
	// CursorFor returns the id of the newest message already indexed for a
	// channel or thread; "" fetches from the beginning. Pagination walks
	// forward from there, making repeat runs incremental. A nil func starts
	// every source from the beginning.
	CursorFor func(channelID string) string
}

// ThreadMessages pairs a thread with the messages fetched from it.
type ThreadMessages struct {
	Thread   *discordgo.Channel
	Messages []*discordgo.Message
	// Complete reports whether the thread was exhausted; false means the
	// message cap cut the walk short and a later run picks up the rest.
	Complete bool
}

// Result is everything one channel contributed to a run.
type Result struct {
	RootMessages []*discordgo.Message
	// RootComplete reports whether the root channel's history was exhausted
	// rather than cut short by the message cap.
	RootComplete bool
	Threads      []ThreadMessages
	// Failures are per-thread soft failures: those threads contributed
	// nothing, but the rest of the result is intact.
	Failures []error
}

// Total returns the number of messages collected.
func (r *Result) Total() int {
	n := len(r.RootMessages)
	for _, t := range r.Threads {
		n += len(t.Messages)
	}
	return n
}

// Fetcher pulls channel and thread history through a Reader. Calls within a
// channel are sequential; concurrency across channels is the orchestrator's
// job and stays bounded there.
type Fetcher struct {
	reader Reader
	log    *zap.Logger
}

func New(reader Reader, log *zap.Logger) *Fetcher {
	return &Fetcher{reader: reader, log: log}
}

// ChannelMessages fetches a root channel and, when requested, its threads,
// until exhaustion or the message cap. A root fetch failure fails the whole
// channel; a thread fetch failure only costs that thread's messages.
func (f *Fetcher) ChannelMessages(ctx context.Context, ch *discordgo.Channel, opts Options) (*Result, error) {
	state := statePending
	log := f.log.With(zap.String("channel_id", ch.ID), zap.String("guild_id", ch.GuildID))

	cursorFor := opts.CursorFor
	if cursorFor == nil {
		cursorFor = func(string) string { return "" }
	}

	res := &Result{RootComplete: true}
	budget := opts.MaxMessages

	state = stateFetchingRoot
	log.Debug("channel fetch state", zap.Stringer("state", state))

	// Forum channels hold no messages of their own, only threads.
	if ch.Type != discordgo.ChannelTypeGuildForum {
		msgs, complete, err := f.pageMessages(ctx, ch.ID, budget, cursorFor(ch.ID))
		if err != nil {
			state = stateFailed
			log.Debug("channel fetch state", zap.Stringer("state", state))
			return nil, err
		}
		res.RootMessages = msgs
		res.RootComplete = complete
		budget -= len(msgs)
	}

	if opts.IncludeThreads && budget > 0 {
		state = stateFetchingThreads
		log.Debug("channel fetch state", zap.Stringer("state", state))

		threads, err := f.collectThreads(ctx, ch, opts.MaxArchivedThreads)
		if err != nil {
			// Thread enumeration failing does not invalidate the root
			// messages already collected, nor the threads it did find.
			res.Failures = append(res.Failures, err)
		}

		for _, thread := range threads {
			if budget <= 0 {
				break
			}
			if err := ctx.Err(); err != nil {
				return nil, &FetchError{ChannelID: ch.ID, Err: err}
			}
			msgs, complete, err := f.pageMessages(ctx, thread.ID, budget, cursorFor(thread.ID))
			if err != nil {
				log.Warn("thread fetch failed, skipping",
					zap.String("thread_id", thread.ID), zap.Error(err))
				res.Failures = append(res.Failures, err)
				continue
			}
			res.Threads = append(res.Threads, ThreadMessages{Thread: thread, Messages: msgs, Complete: complete})
			budget -= len(msgs)
		}
	}

	state = stateDone
	log.Debug("channel fetch state", zap.Stringer("state", state),
		zap.Int("messages", res.Total()), zap.Int("threads", len(res.Threads)))
	return res, nil
}

// pageMessages walks a channel's history forward from the after cursor,
// oldest unseen first, until the channel is exhausted or max is reached. The
// returned bool reports exhaustion; false means the cap cut the walk short,
// and everything older than the newest collected message was still fetched,
// so the caller may safely resume from it later.
func (f *Fetcher) pageMessages(ctx context.Context, channelID string, max int, after string) ([]*discordgo.Message, bool, error) {
	var collected []*discordgo.Message
	cursor := after
	for len(collected) < max {
		if err := ctx.Err(); err != nil {
			return nil, false, &FetchError{ChannelID: channelID, Err: err}
		}

		limit := max - len(collected)
		if limit > pageSize {
			limit = pageSize
		}

		batch, err := f.reader.MessagesAfter(channelID, limit, cursor)
		if err != nil {
			return nil, false, classify(channelID, err)
		}
		if len(batch) == 0 {
			return collected, true, nil
		}
		collected = append(collected, batch...)

		next := newestInBatch(batch)
		if next == "" || next == cursor {
			// A page that cannot move the cursor would repeat forever.
			return collected, true, nil
		}
		cursor = next

		if len(batch) < limit {
			return collected, true, nil
		}
	}
	return collected, false, nil
}

// newestInBatch returns the largest message id in a page, "" if none parses.
func newestInBatch(batch []*discordgo.Message) string {
	var best uint64
	var bestID string
	for _, m := range batch {
		n, err := snowflake.Parse(m.ID)
		if err != nil {
			continue
		}
		if n > best {
			best = n
			bestID = m.ID
		}
	}
	return bestID
}

// collectThreads enumerates a root channel's active threads plus a bounded
// number of archived ones, each thread at most once.
func (f *Fetcher) collectThreads(ctx context.Context, ch *discordgo.Channel, maxArchived int) ([]*discordgo.Channel, error) {
	processed := make(map[string]bool)
	var threads []*discordgo.Channel

	active, err := f.reader.ActiveThreads(ch.GuildID)
	if err != nil {
		return nil, classify(ch.ID, err)
	}
	for _, t := range active {
		if t.ParentID == ch.ID && !processed[t.ID] {
			processed[t.ID] = true
			threads = append(threads, t)
		}
	}

	var (
		before   *time.Time
		archived int
	)
	for archived < maxArchived {
		if err := ctx.Err(); err != nil {
			return threads, &FetchError{ChannelID: ch.ID, Err: err}
		}

		limit := maxArchived - archived
		if limit > pageSize {
			limit = pageSize
		}
		list, err := f.reader.ArchivedThreads(ch.ID, before, limit)
		if err != nil {
			// Active threads were already collected; report the archived
			// walk as a soft failure.
			return threads, classify(ch.ID, err)
		}
		if len(list.Threads) == 0 {
			break
		}

		added := 0
		moved := false
		for _, t := range list.Threads {
			if !processed[t.ID] {
				processed[t.ID] = true
				threads = append(threads, t)
				archived++
				added++
			}
			if t.ThreadMetadata != nil {
				// The archived-threads endpoint paginates on the archive
				// timestamp of the last thread seen.
				ts := t.ThreadMetadata.ArchiveTimestamp
				if before == nil || !ts.Equal(*before) {
					moved = true
				}
				before = &ts
			}
		}

		if !list.HasMore {
			break
		}
		if added == 0 && !moved {
			// HasMore with a page that contributed nothing and left the
			// cursor in place would spin forever.
			break
		}
	}
	return threads, nil
}
