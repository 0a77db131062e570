package sitemap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/answeroverflow/discord-indexer/database"
	"github.com/answeroverflow/discord-indexer/models"
)

func TestWarmAllRebuildsQuestionCache(t *testing.T) {
	store, err := database.NewSQLiteStore(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	require.NoError(t, store.UpsertServer(ctx, models.Server{ID: "g1", Name: "one"}))
	require.NoError(t, store.UpsertServer(ctx, models.Server{ID: "g2", Name: "two"}))
	_, err = store.UpsertManyMessages(ctx, []models.Message{
		{ID: "300", ChannelID: "t1", ServerID: "g1", AuthorID: "u1", QuestionID: "300"},
		{ID: "301", ChannelID: "t1", ServerID: "g1", AuthorID: "u1"},
		{ID: "400", ChannelID: "t2", ServerID: "g2", AuthorID: "u2", QuestionID: "400"},
	})
	require.NoError(t, err)

	NewWarmer(store, zap.NewNop(), 0).WarmAll(ctx)

	entries, err := store.SitemapEntries(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, []string{"300"}, entries)

	entries, err = store.SitemapEntries(ctx, "g2")
	require.NoError(t, err)
	assert.Equal(t, []string{"400"}, entries)
}

func TestWarmAllSkipsKickedServers(t *testing.T) {
	store, err := database.NewSQLiteStore(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	require.NoError(t, store.UpsertServer(ctx, models.Server{ID: "g1", Name: "one"}))
	require.NoError(t, store.MarkServerKicked(ctx, "g1", time.Now()))
	_, err = store.UpsertManyMessages(ctx, []models.Message{
		{ID: "300", ChannelID: "t1", ServerID: "g1", AuthorID: "u1", QuestionID: "300"},
	})
	require.NoError(t, err)

	NewWarmer(store, zap.NewNop(), 0).WarmAll(ctx)

	entries, err := store.SitemapEntries(ctx, "g1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
