// Package sitemap rebuilds the per-server question cache the public sitemap
// is generated from. It runs after an indexing pass and is deliberately
// gentle on storage.
package sitemap

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/answeroverflow/discord-indexer/database"
)

// Warmer regenerates sitemap entries for every active server.
type Warmer struct {
	store database.Store
	log   *zap.Logger
	// delay between servers so the cache rebuild does not hammer storage
	// right after a full index pass already did.
	delay time.Duration
}

func NewWarmer(store database.Store, log *zap.Logger, delay time.Duration) *Warmer {
	return &Warmer{store: store, log: log, delay: delay}
}

// WarmAll rebuilds the question cache for each active server in turn. A
// failure on one server is logged and the rest continue; the caller never
// treats a warming failure as an indexing failure.
func (w *Warmer) WarmAll(ctx context.Context) {
	servers, err := w.store.ActiveServers(ctx)
	if err != nil {
		w.log.Warn("sitemap warm failed to list servers", zap.Error(err))
		return
	}

	warmed := 0
	for i, server := range servers {
		if i > 0 && w.delay > 0 {
			select {
			case <-ctx.Done():
				w.log.Warn("sitemap warm cancelled", zap.Error(ctx.Err()))
				return
			case <-time.After(w.delay):
			}
		}

		if err := w.warmServer(ctx, server.ID); err != nil {
			w.log.Warn("sitemap warm failed for server",
				zap.String("server_id", server.ID), zap.Error(err))
			continue
		}
		warmed++
	}
	w.log.Info("sitemap cache warmed", zap.Int("servers", warmed))
}

func (w *Warmer) warmServer(ctx context.Context, serverID string) error {
	questions, err := w.store.QuestionsByServer(ctx, serverID)
	if err != nil {
		return err
	}
	ids := make([]string, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
	}
	return w.store.ReplaceSitemapEntries(ctx, serverID, ids)
}
