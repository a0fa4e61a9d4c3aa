package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"docchat.io/chat-client/internal/api"
	"docchat.io/chat-client/internal/auth"
	"docchat.io/chat-client/internal/core"
	"docchat.io/chat-client/internal/stubserver"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		line  string
		name  string
		arg   string
		isCmd bool
	}{
		{line: "hello there", isCmd: false},
		{line: "/quit", name: "quit", isCmd: true},
		{line: "/USE 12", name: "use", arg: "12", isCmd: true},
		{line: "/rename  Lecture notes ", name: "rename", arg: "Lecture notes", isCmd: true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			name, arg, ok := splitCommand(tt.line)
			assert.Equal(t, tt.isCmd, ok)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.arg, arg)
		})
	}
}

func newTestApp(t *testing.T) (*app, *bytes.Buffer) {
	t.Helper()
	color.NoColor = true
	log := zaptest.NewLogger(t)

	srv, err := stubserver.New(context.Background(), stubserver.Options{
		DatabaseURL: ":memory:",
		UploadDir:   t.TempDir(),
		JWTSecret:   "s",
	}, log)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler)
	hc := ts.Client()
	t.Cleanup(func() {
		hc.CloseIdleConnections()
		ts.Close()
		srv.Close()
	})

	token, err := auth.GenerateJWT("s", 1, time.Hour)
	require.NoError(t, err)
	gw := auth.NewStaticGateway(token, 0, nil)
	client := api.NewClient(ts.URL, 5*time.Second, api.WithHTTPClient(hc))
	directory := core.NewDirectoryService(client, log)
	messages := core.NewMessageService(client, directory, log)
	docs := core.NewDocumentService(client, 0, log)

	out := &bytes.Buffer{}
	return &app{
		log:   log,
		gw:    gw,
		store: core.NewStore(gw, directory, messages, docs, log),
		out:   out,
	}, out
}

func TestRepl_Session(t *testing.T) {
	a, out := newTestApp(t)
	r := &repl{app: a}

	input := strings.Join([]string{
		"/new Physics",
		"what is entropy",
		"/chats",
		"/rename Thermo",
		"/bogus",
		"/quit",
		"never sent",
	}, "\n")
	require.NoError(t, r.run(context.Background(), strings.NewReader(input)))

	text := out.String()
	assert.Contains(t, text, "created chat")
	assert.Contains(t, text, "unknown command /bogus")
	assert.NotContains(t, text, "never sent")

	st := a.store.Snapshot()
	require.Len(t, st.Chats, 1)
	assert.Equal(t, "Thermo", st.Chats[0].Name)
	require.Len(t, st.ActiveMessages, 2)
	assert.Equal(t, []string{"what is entropy", "echo: what is entropy"}, []string{
		st.ActiveMessages[0].Text, st.ActiveMessages[1].Text,
	})
}
