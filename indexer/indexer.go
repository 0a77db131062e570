// Package indexer orchestrates a full indexing pass: enumerate servers,
// fetch and convert their channels, filter by consent, and upsert the result.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/answeroverflow/discord-indexer/config"
	"github.com/answeroverflow/discord-indexer/convert"
	"github.com/answeroverflow/discord-indexer/database"
	"github.com/answeroverflow/discord-indexer/events"
	"github.com/answeroverflow/discord-indexer/fetcher"
	"github.com/answeroverflow/discord-indexer/models"
	"github.com/answeroverflow/discord-indexer/settings"
	"github.com/answeroverflow/discord-indexer/snowflake"
)

// RunReport summarizes one indexing pass. Operational failures live in here;
// IndexServers itself never fails.
type RunReport struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Servers    []ServerReport
}

// ServerReport is the outcome for a single server.
type ServerReport struct {
	ServerID        string
	Name            string
	ChannelsIndexed int
	ChannelsFailed  int
	MessagesIndexed int
	Err             error
}

// MessagesIndexed totals the messages stored across all servers.
func (r *RunReport) MessagesIndexed() int {
	n := 0
	for _, s := range r.Servers {
		n += s.MessagesIndexed
	}
	return n
}

// ServersFailed counts servers whose pass failed outright.
func (r *RunReport) ServersFailed() int {
	n := 0
	for _, s := range r.Servers {
		if s.Err != nil {
			n++
		}
	}
	return n
}

// Orchestrator drives indexing passes over every server the bot belongs to.
type Orchestrator struct {
	reader fetcher.Reader
	fetch  *fetcher.Fetcher
	store  database.Store
	bus    *events.Bus
	log    *zap.Logger
	cfg    config.IndexingConfig
	guilds map[string]config.GuildOverride
}

func New(reader fetcher.Reader, store database.Store, bus *events.Bus, log *zap.Logger,
	cfg config.IndexingConfig, guilds map[string]config.GuildOverride) *Orchestrator {
	// A zero-weight semaphore would block every acquire forever.
	if cfg.ConcurrentServers < 1 {
		cfg.ConcurrentServers = 1
	}
	return &Orchestrator{
		reader: reader,
		fetch:  fetcher.New(reader, log),
		store:  store,
		bus:    bus,
		log:    log,
		cfg:    cfg,
		guilds: guilds,
	}
}

// IndexServers runs one full pass. Servers are indexed with bounded
// concurrency; a failure in one server never stops the others. The report is
// recorded as the run's durable completion marker and published on the bus.
func (o *Orchestrator) IndexServers(ctx context.Context) *RunReport {
	report := &RunReport{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	log := o.log.With(zap.String("run_id", report.RunID))

	if !o.cfg.Enabled {
		log.Info("indexing is disabled, skipping run")
		report.FinishedAt = time.Now().UTC()
		return report
	}

	guilds, err := o.reader.Guilds()
	if err != nil {
		log.Error("failed to enumerate guilds", zap.Error(err))
		report.FinishedAt = time.Now().UTC()
		return report
	}
	log.Info("starting indexing run", zap.Int("servers", len(guilds)))

	var (
		mu  sync.Mutex
		sem = semaphore.NewWeighted(int64(o.cfg.ConcurrentServers))
		g   errgroup.Group
	)
	for _, guild := range guilds {
		guild := guild
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				mu.Lock()
				report.Servers = append(report.Servers, ServerReport{
					ServerID: guild.ID, Name: guild.Name, Err: err,
				})
				mu.Unlock()
				return nil
			}
			defer sem.Release(1)

			sr := o.indexServer(ctx, guild)
			mu.Lock()
			report.Servers = append(report.Servers, sr)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = time.Now().UTC()

	run := database.IndexRun{
		ID:              report.RunID,
		StartedAt:       report.StartedAt,
		FinishedAt:      report.FinishedAt,
		ServersIndexed:  len(report.Servers) - report.ServersFailed(),
		ServersFailed:   report.ServersFailed(),
		MessagesIndexed: report.MessagesIndexed(),
	}
	if err := o.store.RecordIndexRun(ctx, run); err != nil {
		log.Warn("failed to record index run", zap.Error(err))
	}

	log.Info("indexing run complete",
		zap.Int("servers_indexed", run.ServersIndexed),
		zap.Int("servers_failed", run.ServersFailed),
		zap.Int("messages_indexed", run.MessagesIndexed),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)))

	o.bus.PublishRunCompleted(events.RunCompleted{
		RunID:           run.ID,
		StartedAt:       run.StartedAt,
		FinishedAt:      run.FinishedAt,
		ServersIndexed:  run.ServersIndexed,
		ServersFailed:   run.ServersFailed,
		MessagesIndexed: run.MessagesIndexed,
	})
	return report
}

// indexServer indexes every eligible root channel of one guild. Errors and
// panics are captured in the report so sibling servers keep going.
func (o *Orchestrator) indexServer(ctx context.Context, guild *discordgo.Guild) (sr ServerReport) {
	sr = ServerReport{ServerID: guild.ID, Name: guild.Name}
	log := o.log.With(zap.String("guild_id", guild.ID), zap.String("guild_name", guild.Name))

	defer func() {
		if r := recover(); r != nil {
			sr.Err = fmt.Errorf("panic while indexing server %s: %v", guild.ID, r)
			log.Error("recovered from panic during server index", zap.Any("panic", r))
		}
	}()

	server, err := convert.ToServer(guild)
	if err != nil {
		sr.Err = err
		return sr
	}
	if err := o.store.UpsertServer(ctx, server); err != nil {
		sr.Err = err
		return sr
	}
	if err := o.applyGuildOverride(ctx, guild.ID); err != nil {
		sr.Err = err
		return sr
	}

	optedOut, err := o.store.OptedOutUsers(ctx, guild.ID)
	if err != nil {
		sr.Err = err
		return sr
	}

	channels, err := o.reader.RootChannels(guild.ID)
	if err != nil {
		sr.Err = err
		return sr
	}

	excluded := o.excludedChannels(guild.ID)
	for _, ch := range channels {
		if excluded[ch.ID] {
			continue
		}
		stored, err := o.indexChannel(ctx, ch, optedOut)
		if err != nil {
			// One channel failing must not stop its siblings.
			log.Warn("channel index failed, skipping",
				zap.String("channel_id", ch.ID), zap.Error(err))
			sr.ChannelsFailed++
			continue
		}
		if stored >= 0 {
			sr.ChannelsIndexed++
			sr.MessagesIndexed += stored
		}
	}
	return sr
}

// indexChannel runs fetch -> convert -> filter -> persist for one root
// channel and its threads. Returns the number of messages stored, or -1 when
// the channel is not indexable.
func (o *Orchestrator) indexChannel(ctx context.Context, ch *discordgo.Channel, optedOut map[string]bool) (int, error) {
	cs, err := o.store.GetChannelSettings(ctx, ch.ID)
	if errors.Is(err, database.ErrNotFound) {
		return -1, nil
	}
	if err != nil {
		return 0, err
	}
	enabled, err := settings.ChannelFlags.Has(cs.Flags, settings.ChannelIndexingEnabled)
	if err != nil {
		return 0, err
	}
	if !enabled {
		return -1, nil
	}

	// A stuck fetch on one channel must not stall the whole run.
	cctx, cancel := context.WithTimeout(ctx, time.Duration(o.cfg.ChannelTimeoutSeconds)*time.Second)
	defer cancel()

	res, err := o.fetch.ChannelMessages(cctx, ch, fetcher.Options{
		MaxMessages:        o.cfg.MaxMessagesPerChannel,
		IncludeThreads:     true,
		MaxArchivedThreads: o.cfg.MaxArchivedThreads,
		CursorFor: func(channelID string) string {
			cursor, err := o.store.ChannelCursor(cctx, channelID)
			if err != nil {
				return ""
			}
			return cursor
		},
	})
	if err != nil {
		return 0, err
	}
	for _, ferr := range res.Failures {
		o.log.Warn("partial channel fetch", zap.String("channel_id", ch.ID), zap.Error(ferr))
	}

	channel, err := convert.ToChannel(ch)
	if err != nil {
		return 0, err
	}
	if err := o.store.UpsertChannel(ctx, channel); err != nil {
		return 0, err
	}

	stored, complete, err := o.persistMessages(ctx, ch, cs, res, optedOut)
	if err != nil {
		return 0, err
	}

	// Advance cursors only when everything made it to disk; otherwise the
	// next run refetches and fills the gap.
	if complete {
		o.advanceCursors(ctx, ch, res)
	}
	return stored, nil
}

// advanceCursors records per-source progress. The fetcher walks each source
// forward, so even a cap-truncated run fetched everything up to its newest
// message and may advance; failed threads are absent from the result and keep
// their cursor, so their backlog is retried next run.
func (o *Orchestrator) advanceCursors(ctx context.Context, ch *discordgo.Channel, res *fetcher.Result) {
	advance := func(channelID string, msgs []*discordgo.Message) {
		cursor := newestID(msgs)
		if cursor == "" {
			return
		}
		if err := o.store.SetChannelCursor(ctx, channelID, cursor); err != nil {
			o.log.Warn("failed to advance index cursor",
				zap.String("channel_id", channelID), zap.Error(err))
		}
	}
	advance(ch.ID, res.RootMessages)
	for _, t := range res.Threads {
		advance(t.Thread.ID, t.Messages)
	}
}

// persistMessages filters, converts and upserts one channel's fetch result,
// thread rows included. The returned bool reports whether every chunk made it
// to disk.
func (o *Orchestrator) persistMessages(ctx context.Context, ch *discordgo.Channel,
	cs models.ChannelSettings, res *fetcher.Result, optedOut map[string]bool) (int, bool, error) {

	var (
		kept      []*discordgo.Message
		converted []models.Message
	)
	collect := func(msgs []*discordgo.Message, source *discordgo.Channel) error {
		// Threads inherit the root channel's settings.
		indexable, err := convert.FilterIndexable(msgs, cs, optedOut)
		if err != nil {
			return err
		}
		kept = append(kept, indexable...)

		out, skipped := convert.ToMessages(indexable, source)
		for _, cerr := range skipped {
			o.log.Warn("skipping unconvertible entity",
				zap.String("channel_id", ch.ID), zap.String("entity_id", cerr.ID), zap.Error(cerr))
		}
		converted = append(converted, out...)
		return nil
	}

	if err := collect(res.RootMessages, ch); err != nil {
		return 0, false, err
	}
	for _, t := range res.Threads {
		thread, err := convert.ToChannel(t.Thread)
		if err != nil {
			o.log.Warn("skipping unconvertible thread", zap.Error(err))
			continue
		}
		if err := o.store.UpsertChannel(ctx, thread); err != nil {
			return 0, false, err
		}
		if err := collect(t.Messages, t.Thread); err != nil {
			return 0, false, err
		}
	}

	// Author rows first so the read-side join never dangles.
	if err := o.store.UpsertManyAccounts(ctx, convert.AccountsFromMessages(kept)); err != nil {
		return 0, false, err
	}

	if err := snowflake.SortByRecency(converted); err != nil {
		return 0, false, err
	}
	stored, err := o.store.UpsertManyMessages(ctx, converted)
	if err != nil {
		// Dropped chunks were already retried inside the store; log and keep
		// the incremental cursor where it was.
		o.log.Warn("some message chunks were dropped",
			zap.String("channel_id", ch.ID), zap.Error(err))
		return stored, false, nil
	}
	return stored, true, nil
}

// applyGuildOverride reconciles config-file overrides into a server's stored
// flags. Override-driven bits are rewritten exactly each run, so removing an
// override from config clears its bit; bits no override controls are left
// alone.
func (o *Orchestrator) applyGuildOverride(ctx context.Context, serverID string) error {
	current, err := o.store.GetServer(ctx, serverID)
	if err != nil {
		return err
	}
	override := o.guilds[serverID]

	flags := current.Flags
	for flag, on := range map[settings.Flag]bool{
		settings.ServerAnonymizeMessages:         override.AnonymizeMessages,
		settings.ServerConsiderAllMessagesPublic: override.ConsiderAllMessagesPublic,
	} {
		if on {
			flags, err = settings.ServerFlags.Set(flags, flag)
		} else {
			flags, err = settings.ServerFlags.Clear(flags, flag)
		}
		if err != nil {
			return err
		}
	}
	if flags == current.Flags {
		return nil
	}
	return o.store.SetServerFlags(ctx, serverID, flags)
}

func (o *Orchestrator) excludedChannels(guildID string) map[string]bool {
	out := make(map[string]bool)
	for _, id := range o.guilds[guildID].Exclude {
		out[id] = true
	}
	return out
}

// newestID returns the largest message id in a batch, "" when none parses.
func newestID(msgs []*discordgo.Message) string {
	var best uint64
	var bestID string
	for _, m := range msgs {
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
