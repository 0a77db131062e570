package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/answeroverflow/discord-indexer/config"
	"github.com/answeroverflow/discord-indexer/database"
	"github.com/answeroverflow/discord-indexer/events"
	"github.com/answeroverflow/discord-indexer/fetcher"
	"github.com/answeroverflow/discord-indexer/indexer"
	"github.com/answeroverflow/discord-indexer/sitemap"
)

// Bot owns the Discord session and every long-lived collaborator. There is
// no ambient state: everything a handler needs hangs off this struct and is
// passed explicitly.
type Bot struct {
	Session      *discordgo.Session
	Store        database.Store
	Bus          *events.Bus
	Orchestrator *indexer.Orchestrator
	Warmer       *sitemap.Warmer
	Log          *zap.Logger
	Cfg          *config.Config

	scheduler *scheduler
}

// New wires the session and the indexing pipeline together. The sitemap
// warmer subscribes to run completions, so every finished pass is followed by
// a cache rebuild whose failures never touch the run itself.
func New(cfg *config.Config, log *zap.Logger, store database.Store, bus *events.Bus) (*Bot, error) {
	dg, err := discordgo.New("Bot " + cfg.Bot.Token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentMessageContent

	reader := fetcher.NewSessionReader(dg)
	orch := indexer.New(reader, store, bus, log, cfg.Indexing, cfg.Guilds)
	warmer := sitemap.NewWarmer(store, log, time.Duration(cfg.Sitemap.DelayMS)*time.Millisecond)

	bus.SubscribeRunCompleted(func(ev events.RunCompleted) {
		warmer.WarmAll(context.Background())
	})

	b := &Bot{
		Session:      dg,
		Store:        store,
		Bus:          bus,
		Orchestrator: orch,
		Warmer:       warmer,
		Log:          log,
		Cfg:          cfg,
	}
	b.scheduler = newScheduler(b)
	return b, nil
}

// Start registers handlers, opens the gateway connection and arms the
// scheduler.
func (b *Bot) Start(registerHandlers func(*Bot)) error {
	registerHandlers(b)

	if err := b.Session.Open(); err != nil {
		return fmt.Errorf("error opening connection: %w", err)
	}

	if err := b.scheduler.start(); err != nil {
		b.Session.Close()
		return err
	}

	b.Log.Info("bot is now running")
	return nil
}

// Stop halts the scheduler and closes the session.
func (b *Bot) Stop() {
	b.scheduler.stop()
	if b.Session != nil {
		b.Session.Close()
	}
	b.Log.Info("bot stopped")
}
