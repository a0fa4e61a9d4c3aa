package stubserver_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"docchat.io/chat-client/internal/auth"
	"docchat.io/chat-client/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// newClientStore wires a core.Store to the stub server the way chatctl does.
func newClientStore(t *testing.T, h *harness) (*core.Store, *auth.StaticGateway) {
	log := zaptest.NewLogger(t)
	gw := auth.NewStaticGateway(h.token, 0, nil)
	dir := core.NewDirectoryService(h.client, log)
	msgs := core.NewMessageService(h.client, dir, log)
	docs := core.NewDocumentService(h.client, 0, log)
	return core.NewStore(gw, dir, msgs, docs, log), gw
}

func TestStoreAgainstStubServer(t *testing.T) {
	h := newHarness(t, 5)
	st, gw := newClientStore(t, h)
	ctx := context.Background()
	assert.Equal(t, int64(5), gw.UserID(), "user id comes from the token subject")

	require.NoError(t, st.LoadChats(ctx))
	assert.Empty(t, st.Snapshot().Chats)

	res, err := st.Send(ctx, "first question")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "echo: first question", res.Reply.Text)

	snap := st.Snapshot()
	require.Len(t, snap.Chats, 1)
	assert.Equal(t, "first question", snap.Chats[0].Name)
	assert.Equal(t, res.ChatID, snap.ActiveChatID)

	// a fresh session sees the same server-side state
	other, _ := newClientStore(t, h)
	require.NoError(t, other.LoadChats(ctx))
	require.NoError(t, other.SelectChat(ctx, res.ChatID))
	msgs := other.Snapshot().ActiveMessages
	require.Len(t, msgs, 2)
	assert.Equal(t, core.SenderUser, msgs[0].Sender)
	assert.Equal(t, core.SenderBot, msgs[1].Sender)

	require.NoError(t, st.RenameChat(ctx, res.ChatID, "Renamed"))
	chat, ok := st.Snapshot().Chat(res.ChatID)
	require.True(t, ok)
	assert.Equal(t, "Renamed", chat.Name)

	// document flow
	st.SetDocumentMode(true)
	_, err = st.Send(ctx, "summarize")
	assert.ErrorIs(t, err, core.ErrNoDocumentSelected)

	stored, err := st.UploadDocument(ctx, "optics.pdf", strings.NewReader("lenses refract light toward a focal point"))
	require.NoError(t, err)
	docs := st.Snapshot().Documents
	require.Len(t, docs, 1)
	assert.Equal(t, stored, docs[0].Filename)

	require.NoError(t, st.SelectDocument(ctx, docs[0].ID))
	sel := st.Snapshot().SelectedDocument
	require.NotNil(t, sel)
	assert.Equal(t, stored, sel.Filename)

	res, err = st.Send(ctx, "how do lenses work")
	require.NoError(t, err)
	assert.Contains(t, res.Reply.Text, "focal point")

	require.NoError(t, st.DeleteChat(ctx, res.ChatID))
	assert.False(t, st.Snapshot().HasActiveChat())
	require.NoError(t, st.Refresh(ctx))
	assert.Empty(t, st.Snapshot().Chats)
}

func TestStoreLogsOutOnRejectedToken(t *testing.T) {
	h := newHarness(t, 6)
	expired, err := auth.GenerateJWT(testSecret, 6, -time.Minute)
	require.NoError(t, err)
	h.token = expired

	st, gw := newClientStore(t, h)
	err = st.LoadChats(context.Background())
	require.Error(t, err)
	assert.True(t, gw.LoggedOut())
}
