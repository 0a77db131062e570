package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/answeroverflow/discord-indexer/bot"
	"github.com/answeroverflow/discord-indexer/config"
	"github.com/answeroverflow/discord-indexer/database"
	"github.com/answeroverflow/discord-indexer/events"
	"github.com/answeroverflow/discord-indexer/handlers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error loading config:", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg.Bot.Environment)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error creating logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	store, err := database.NewSQLiteStore(cfg.Database.Path, log,
		database.WithBatchSize(cfg.Indexing.BatchSize))
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer store.Close()

	b, err := bot.New(cfg, log, store, events.New())
	if err != nil {
		log.Fatal("failed to create bot", zap.Error(err))
	}

	if err := b.Start(handlers.Register); err != nil {
		log.Fatal("failed to start bot", zap.Error(err))
	}

	// Wait for a termination signal.
	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	b.Stop()
}

func newLogger(environment string) (*zap.Logger, error) {
	if environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
