package core

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	"docchat.io/chat-client/internal/api"
	"docchat.io/chat-client/internal/auth"
	"go.uber.org/zap/zaptest"
)

type fakeChat struct {
	name string
	msgs []api.Message
}

// fakeBackend implements DirectoryAPI, MessageAPI and DocumentAPI in memory.
// Any call can be made to fail (errs) or to block until released (gates).
// Listing and history also have a gate after the reply is built ("listed",
// "history-reply:<id>"), for replies that go stale on their way back.
type fakeBackend struct {
	mu     sync.Mutex
	nextID int64
	chats  map[int64]*fakeChat
	order  []int64
	pdfs   []api.PDF

	errs    map[string]error
	gates   map[string]chan struct{}
	entered chan string

	creates   int
	chatCalls []api.ChatRequest
	pdfLists  int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		nextID:  100,
		chats:   make(map[int64]*fakeChat),
		errs:    make(map[string]error),
		gates:   make(map[string]chan struct{}),
		entered: make(chan string, 32),
	}
}

func (f *fakeBackend) seedChat(name string, msgs ...api.Message) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.chats[f.nextID] = &fakeChat{name: name, msgs: msgs}
	f.order = append(f.order, f.nextID)
	return f.nextID
}

func (f *fakeBackend) setErr(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

// hold makes calls for key block until the returned func is called.
func (f *fakeBackend) hold(key string) func() {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gates[key] = gate
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.gates, key)
			f.mu.Unlock()
			close(gate)
		})
	}
}

func (f *fakeBackend) awaitEntered(t *testing.T, key string) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case got := <-f.entered:
			if got == key {
				return
			}
		case <-timeout:
			t.Fatalf("call %q never started", key)
		}
	}
}

func (f *fakeBackend) wait(ctx context.Context, key string) error {
	f.mu.Lock()
	gate := f.gates[key]
	f.mu.Unlock()
	if gate == nil {
		return nil
	}
	f.entered <- key
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", api.ErrNetwork, ctx.Err())
	}
}

func (f *fakeBackend) err(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errs[op]
}

func idKey(op string, id int64) string {
	return op + ":" + strconv.FormatInt(id, 10)
}

func (f *fakeBackend) ListChats(ctx context.Context, token string) ([]api.Chat, error) {
	if err := f.wait(ctx, "list"); err != nil {
		return nil, err
	}
	if err := f.err("list"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	out := make([]api.Chat, 0, len(f.order))
	for _, id := range f.order {
		c := f.chats[id]
		out = append(out, api.Chat{ID: id, ChatName: c.name, Messages: append([]api.Message(nil), c.msgs...)})
	}
	f.mu.Unlock()
	if err := f.wait(ctx, "listed"); err != nil {
		return nil, err
	}
	return out, nil
}

func (f *fakeBackend) ChatHistory(ctx context.Context, token string, chatID int64) (*api.ChatHistory, error) {
	if err := f.wait(ctx, idKey("history", chatID)); err != nil {
		return nil, err
	}
	if err := f.err("history"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	c, ok := f.chats[chatID]
	if !ok {
		f.mu.Unlock()
		return nil, &api.ServerError{StatusCode: 404, Detail: "Chat not found"}
	}
	history := &api.ChatHistory{ChatID: chatID, ChatName: c.name, Messages: append([]api.Message(nil), c.msgs...)}
	f.mu.Unlock()
	if err := f.wait(ctx, idKey("history-reply", chatID)); err != nil {
		return nil, err
	}
	return history, nil
}

func (f *fakeBackend) CreateChat(ctx context.Context, token string, req api.CreateChatRequest) (*api.CreateChatResponse, error) {
	f.mu.Lock()
	f.creates++
	f.mu.Unlock()
	if err := f.wait(ctx, "create"); err != nil {
		return nil, err
	}
	if err := f.err("create"); err != nil {
		return nil, err
	}
	id := f.seedChat(req.ChatName)
	return &api.CreateChatResponse{ChatID: id, ChatName: req.ChatName}, nil
}

func (f *fakeBackend) RenameChat(ctx context.Context, token string, chatID int64, newName string) (*api.RenameChatResponse, error) {
	if err := f.wait(ctx, idKey("rename", chatID)); err != nil {
		return nil, err
	}
	if err := f.err("rename"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.chats[chatID]; ok {
		c.name = newName
	}
	return &api.RenameChatResponse{ChatID: chatID, NewName: newName}, nil
}

func (f *fakeBackend) DeleteChat(ctx context.Context, token string, chatID int64) error {
	if err := f.wait(ctx, idKey("delete", chatID)); err != nil {
		return err
	}
	if err := f.err("delete"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.chats, chatID)
	for i, id := range f.order {
		if id == chatID {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeBackend) Chat(ctx context.Context, token string, req api.ChatRequest) (*api.ChatResponse, error) {
	f.mu.Lock()
	f.chatCalls = append(f.chatCalls, req)
	f.mu.Unlock()
	if err := f.wait(ctx, idKey("chat", req.ChatID)); err != nil {
		return nil, err
	}
	if err := f.err("chat"); err != nil {
		return nil, err
	}
	reply := "echo: " + req.Query
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.chats[req.ChatID]; ok {
		c.msgs = append(c.msgs,
			api.Message{Sender: "user", Message: req.Query},
			api.Message{Sender: "bot", Message: reply})
	}
	return &api.ChatResponse{Response: reply}, nil
}

func (f *fakeBackend) ListPDFs(ctx context.Context, token string) ([]api.PDF, error) {
	f.mu.Lock()
	f.pdfLists++
	f.mu.Unlock()
	if err := f.err("pdfs"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.PDF(nil), f.pdfs...), nil
}

func (f *fakeBackend) SelectPDF(ctx context.Context, token string, fileID int64) (*api.SelectPDFResponse, error) {
	if err := f.wait(ctx, idKey("select", fileID)); err != nil {
		return nil, err
	}
	if err := f.err("select"); err != nil {
		return nil, err
	}
	return &api.SelectPDFResponse{ChunkFilename: "doc" + strconv.FormatInt(fileID, 10) + "_text_chunks.pkl"}, nil
}

func (f *fakeBackend) UploadPDF(ctx context.Context, token, filename string, r io.Reader) (*api.UploadResponse, error) {
	if err := f.err("upload"); err != nil {
		return nil, err
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := "u_" + filename
	f.pdfs = append(f.pdfs, api.PDF{ID: int64(len(f.pdfs) + 1), Filename: stored})
	return &api.UploadResponse{Filename: stored}, nil
}

func (f *fakeBackend) chatRequests() []api.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.ChatRequest(nil), f.chatCalls...)
}

func (f *fakeBackend) messageCount(chatID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.chats[chatID]; ok {
		return len(c.msgs)
	}
	return 0
}

func (f *fakeBackend) pdfListCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pdfLists
}

func (f *fakeBackend) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

type storeFixture struct {
	store  *Store
	gw     *auth.StaticGateway
	events *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Kind)
	}
	return out
}

func newStoreFixture(t *testing.T, fb *fakeBackend) *storeFixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	gw := auth.NewStaticGateway("tok", 1, nil)
	dir := NewDirectoryService(fb, log)
	msgs := NewMessageService(fb, dir, log)
	docs := NewDocumentService(fb, 0, log)
	events := &eventLog{}
	return &storeFixture{
		store:  NewStore(gw, dir, msgs, docs, log, WithListener(events.record)),
		gw:     gw,
		events: events,
	}
}
