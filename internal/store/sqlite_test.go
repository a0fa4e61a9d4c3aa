package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_Users(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.UserExists(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.EnsureUser(ctx, 7))
	require.NoError(t, s.EnsureUser(ctx, 7))
	ok, err = s.UserExists(ctx, 7)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteStore_ChatLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureUser(ctx, 1))
	require.NoError(t, s.EnsureUser(ctx, 2))

	first, err := s.CreateChat(ctx, 1, "First")
	require.NoError(t, err)
	second, err := s.CreateChat(ctx, 1, "Second")
	require.NoError(t, err)
	_, err = s.CreateChat(ctx, 2, "Someone else's")
	require.NoError(t, err)

	user := &Message{Sender: "user", Message: "hello"}
	bot := &Message{Sender: "bot", Message: "hi there"}
	require.NoError(t, s.AddMessages(ctx, first.ID, user, bot))
	assert.NotZero(t, user.ID)
	assert.Greater(t, bot.ID, user.ID)

	chats, err := s.ListChats(ctx, 1)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, second.ID, chats[0].ID, "newest first")
	assert.Empty(t, chats[0].Messages)
	require.Len(t, chats[1].Messages, 2)
	assert.Equal(t, "user", chats[1].Messages[0].Sender)
	assert.Equal(t, "hi there", chats[1].Messages[1].Message)

	require.NoError(t, s.RenameChat(ctx, first.ID, 1, "Renamed"))
	got, err := s.GetChat(ctx, first.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.ChatName)
	assert.Len(t, got.Messages, 2)

	_, err = s.GetChat(ctx, first.ID, 2)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.RenameChat(ctx, first.ID, 2, "x"), ErrNotFound)

	require.NoError(t, s.DeleteChat(ctx, first.ID, 1))
	_, err = s.GetChat(ctx, first.ID, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	msgs, err := s.Messages(ctx, first.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.ErrorIs(t, s.DeleteChat(ctx, first.ID, 1), ErrNotFound)
}

func TestSQLiteStore_LastMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureUser(ctx, 1))
	chat, err := s.CreateChat(ctx, 1, "c")
	require.NoError(t, err)

	for _, text := range []string{"one", "two", "three", "four"} {
		require.NoError(t, s.AddMessages(ctx, chat.ID, &Message{Sender: "user", Message: text}))
	}

	last, err := s.LastMessages(ctx, chat.ID, 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "three", last[0].Message)
	assert.Equal(t, "four", last[1].Message)
}

func TestSQLiteStore_Files(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureUser(ctx, 1))

	a, err := s.CreateFile(ctx, 1, "abc_a.pdf", "/tmp/abc_a.pdf")
	require.NoError(t, err)
	b, err := s.CreateFile(ctx, 1, "def_b.pdf", "/tmp/def_b.pdf")
	require.NoError(t, err)

	files, err := s.ListFiles(ctx, 1)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, b.ID, files[0].ID)
	assert.Equal(t, a.ID, files[1].ID)

	got, err := s.GetFile(ctx, 1, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/abc_a.pdf", got.FilePath)

	_, err = s.GetFile(ctx, 2, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	files, err = s.ListFiles(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestSQLiteStore_Chunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	chunks := []Chunk{
		{Position: 1, Content: "second", Embedding: []float32{0, 1}},
		{Position: 0, Content: "first", Embedding: []float32{1, 0}},
	}
	require.NoError(t, s.ReplaceChunks(ctx, "doc_text_chunks.pkl", chunks))

	got, err := s.Chunks(ctx, "doc_text_chunks.pkl")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Content)
	assert.Equal(t, []float32{1, 0}, got[0].Embedding)

	require.NoError(t, s.ReplaceChunks(ctx, "doc_text_chunks.pkl", []Chunk{{Position: 0, Content: "only"}}))
	got, err = s.Chunks(ctx, "doc_text_chunks.pkl")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "only", got[0].Content)

	got, err = s.Chunks(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, got)
}
