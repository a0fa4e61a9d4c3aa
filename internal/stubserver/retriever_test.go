package stubserver

import (
	"context"
	"errors"
	"strings"
	"testing"

	"docchat.io/chat-client/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestDB(t *testing.T) *store.SQLiteStore {
	t.Helper()
	db, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRetriever_IndexAndSearch(t *testing.T) {
	db := newTestDB(t)
	r := NewRetriever(db, HashEmbedder{Dim: 1 << 16}, zaptest.NewLogger(t))
	r.chunkSize, r.overlap = 6, 0
	ctx := context.Background()

	text := strings.Join([]string{
		"photosynthesis converts light into chemical energy",
		"the mitochondria is the powerhouse of cells",
		"rivers carry sediment toward the ocean delta",
	}, " ")
	n, err := r.Index(ctx, "bio_text_chunks.pkl", text)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	got, err := r.Search(ctx, "bio_text_chunks.pkl", "what does the mitochondria do for cells", 2)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Contains(t, got[0], "mitochondria")
	assert.LessOrEqual(t, len(got), 2)

	got, err = r.Search(ctx, "bio_text_chunks.pkl", "zzz qqq", 3)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = r.Search(ctx, "unknown_text_chunks.pkl", "cells", 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

type failingEmbedder struct{ failOn string }

func (f failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.Contains(text, f.failOn) {
		return nil, errors.New("embedding unavailable")
	}
	return HashEmbedder{}.Embed(ctx, text)
}

func TestRetriever_SkipsChunksThatFailToEmbed(t *testing.T) {
	db := newTestDB(t)
	r := NewRetriever(db, failingEmbedder{failOn: "broken"}, zaptest.NewLogger(t))
	r.chunkSize, r.overlap = 2, 0
	ctx := context.Background()

	n, err := r.Index(ctx, "k", "good words broken words more words")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = r.Search(ctx, "k", "broken query", 3)
	assert.Error(t, err)
}
