package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"docchat.io/chat-client/internal/api"
	"docchat.io/chat-client/internal/auth"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultChatName = "New Chat"

// selection tags an in-flight history fetch. The fetch result is applied only
// while both fields still match the store.
type selection struct {
	chatID int64
	seq    uint64
}

// Store is the only mutator of session state: the chat list, the active chat
// and its messages, and the document context. Services are called without the
// lock held; their results are folded in afterwards, re-checked against the
// state at that moment.
type Store struct {
	mu sync.Mutex

	chats    []*ChatSession
	activeID int64
	active   []Message

	// selectSeq increases on every change of the active chat.
	selectSeq uint64
	// historyPending is set between SelectChat and its history arriving.
	// pendingLocal holds the active chat's messages the server may not have:
	// undelivered ones from before the fetch and everything appended during
	// it. historyBase counts the delivered messages the log held when the
	// fetch started.
	historyPending bool
	pendingLocal   []Message
	historyBase    int

	// listSeq counts started chat listings, listApplied is the newest one
	// applied. Chats created or deleted locally are stamped with listSeq so
	// an older listing neither drops nor revives them.
	listSeq      uint64
	listApplied  uint64
	localChats   map[int64]uint64
	deletedChats map[int64]uint64

	documentMode bool
	selected     *DocumentRef
	docList      []Document
	docSeq       uint64

	// key 0 is the slot for a send that has yet to create its chat
	sends map[int64]SendState
	// user message awaiting its reply, per chat
	inflight map[int64]string

	gw        auth.Gateway
	directory *DirectoryService
	messages  *MessageService
	docs      *DocumentService
	listener  func(Event)
	logger    *zap.Logger
}

func NewStore(gw auth.Gateway, directory *DirectoryService, messages *MessageService, docs *DocumentService, logger *zap.Logger, opts ...StoreOption) *Store {
	s := &Store{
		active:       []Message{},
		sends:        make(map[int64]SendState),
		inflight:     make(map[int64]string),
		localChats:   make(map[int64]uint64),
		deletedChats: make(map[int64]uint64),
		gw:           gw,
		directory:    directory,
		messages:     messages,
		docs:         docs,
		logger:       logger.Named("store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) emit(events ...Event) {
	if s.listener == nil {
		return
	}
	for _, e := range events {
		s.listener(e)
	}
}

func (s *Store) token(ctx context.Context) (string, error) {
	token, err := s.gw.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("acquire token: %w", err)
	}
	return token, nil
}

// fail is the single exit for service failures. Unauthorized is handed to the
// gateway; everything is logged and returned to the caller unchanged.
func (s *Store) fail(op string, err error) error {
	if errors.Is(err, api.ErrUnauthorized) {
		s.logger.Warn("unauthorized, logging out", zap.String("op", op), zap.Error(err))
		s.gw.Logout(err)
		s.emit(Event{Kind: EventUnauthorized})
		return err
	}
	s.logger.Warn("operation failed", zap.String("op", op), zap.Error(err))
	return err
}

// index must be called with mu held.
func (s *Store) index(id int64) int {
	for i, c := range s.chats {
		if c.ID == id {
			return i
		}
	}
	return -1
}

// clearActive must be called with mu held.
func (s *Store) clearActive() {
	s.activeID = 0
	s.active = []Message{}
	s.selectSeq++
	s.historyPending = false
	s.pendingLocal = nil
	s.historyBase = 0
}

// LoadChats replaces the chat list with the server's. On failure the current
// list is kept. Chats created after the listing was requested survive it,
// chats deleted after it are not brought back, and a listing older than one
// already applied is dropped.
func (s *Store) LoadChats(ctx context.Context) error {
	s.mu.Lock()
	s.listSeq++
	gen := s.listSeq
	s.mu.Unlock()

	token, err := s.token(ctx)
	if err != nil {
		return err
	}
	chats, err := s.directory.List(ctx, token)
	if err != nil {
		return s.fail("load chats", err)
	}

	s.mu.Lock()
	if gen < s.listApplied {
		s.mu.Unlock()
		s.logger.Debug("discarding stale chat listing", zap.Uint64("seq", gen))
		s.emit(Event{Kind: EventStaleDiscarded})
		return nil
	}
	s.listApplied = gen

	listed := make(map[int64]bool, len(chats))
	next := make([]*ChatSession, 0, len(chats))
	for i := range chats {
		c := chats[i]
		listed[c.ID] = true
		if _, gone := s.deletedChats[c.ID]; gone {
			continue
		}
		if c.ID == s.activeID && !s.historyPending {
			// the local log of the active chat carries optimistic appends and
			// annotations the listing does not know about
			c.Messages = cloneMessages(s.active)
		}
		next = append(next, &c)
	}
	for _, c := range s.chats {
		if stamp, ok := s.localChats[c.ID]; ok && stamp >= gen && !listed[c.ID] {
			next = append(next, c)
		}
	}
	for id, stamp := range s.localChats {
		if stamp < gen {
			delete(s.localChats, id)
		}
	}
	for id, stamp := range s.deletedChats {
		if stamp < gen {
			delete(s.deletedChats, id)
		}
	}
	s.chats = next
	cleared := false
	if s.activeID != 0 && s.index(s.activeID) < 0 {
		s.clearActive()
		cleared = true
	}
	s.mu.Unlock()

	s.logger.Info("chats loaded", zap.Int("count", len(chats)))
	s.emit(Event{Kind: EventChatsLoaded})
	if cleared {
		s.emit(Event{Kind: EventSelectionCleared})
	}
	return nil
}

// SelectChat makes id active and loads its history. If another selection
// happens before the history arrives, the response is dropped and nil is
// returned.
func (s *Store) SelectChat(ctx context.Context, id int64) error {
	s.mu.Lock()
	idx := s.index(id)
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("select chat %d: %w", id, ErrChatNotFound)
	}
	s.selectSeq++
	marker := selection{chatID: id, seq: s.selectSeq}
	s.activeID = id
	s.active = []Message{}
	s.historyPending = true
	s.historyBase, s.pendingLocal = s.splitDelivered(s.chats[idx].Messages, s.inflight[id])
	s.mu.Unlock()
	s.emit(Event{Kind: EventChatSelected, ChatID: id})

	token, err := s.token(ctx)
	if err != nil {
		s.abandonHistory(marker)
		return err
	}
	history, err := s.directory.History(ctx, token, id)
	if err != nil {
		if !s.abandonHistory(marker) {
			s.logger.Debug("discarding failed history of superseded selection", zap.Int64("chat_id", id))
			return nil
		}
		return s.fail("select chat", err)
	}

	if err := s.applyHistory(marker, history); err != nil {
		if errors.Is(err, ErrStaleResponse) {
			s.logger.Debug("discarding stale history", zap.Int64("chat_id", id), zap.Uint64("seq", marker.seq))
			s.emit(Event{Kind: EventStaleDiscarded, ChatID: id})
			return nil
		}
		return err
	}
	s.emit(Event{Kind: EventHistoryLoaded, ChatID: id})
	return nil
}

// splitDelivered counts the messages the server is known to hold and returns
// the rest: failed sends and the one awaiting a reply. Must be called with mu
// held.
func (s *Store) splitDelivered(msgs []Message, inflightID string) (int, []Message) {
	delivered := 0
	var rest []Message
	for _, m := range msgs {
		if m.Unconfirmed || (inflightID != "" && m.ID == inflightID) {
			rest = append(rest, m)
			continue
		}
		delivered++
	}
	return delivered, rest
}

// abandonHistory ends a failed fetch for the current selection: the active
// messages fall back to the chat's local log. It reports whether m was still
// current.
func (s *Store) abandonHistory(m selection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeID != m.chatID || s.selectSeq != m.seq {
		return false
	}
	if idx := s.index(m.chatID); idx >= 0 {
		s.active = cloneMessages(s.chats[idx].Messages)
	}
	s.historyPending = false
	s.pendingLocal = nil
	s.historyBase = 0
	return true
}

func (s *Store) applyHistory(m selection, history []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeID != m.chatID || s.selectSeq != m.seq {
		return ErrStaleResponse
	}
	idx := s.index(m.chatID)
	if idx < 0 {
		return ErrStaleResponse
	}
	merged := mergePending(history, s.historyBase, s.pendingLocal, s.inflight[m.chatID])
	s.active = merged
	s.chats[idx].Messages = cloneMessages(merged)
	s.historyPending = false
	s.pendingLocal = nil
	s.historyBase = 0
	return nil
}

// mergePending appends the local messages to a fetched history. Every
// message the history holds beyond base was delivered after the fetch
// started, so that many delivered pending messages are already in it and are
// skipped, oldest first. Failed messages and the one awaiting a reply are
// always appended.
func mergePending(history []Message, base int, pending []Message, inflightID string) []Message {
	out := cloneMessages(history)
	skip := len(history) - base
	for _, m := range pending {
		delivered := !m.Unconfirmed && (inflightID == "" || m.ID != inflightID)
		if delivered && skip > 0 {
			skip--
			continue
		}
		out = append(out, m)
	}
	return out
}

func (s *Store) ClearSelection() {
	s.mu.Lock()
	s.clearActive()
	s.mu.Unlock()
	s.emit(Event{Kind: EventSelectionCleared})
}

// CreateChat creates a chat on the server, then inserts it and makes it
// active. An empty name becomes DefaultChatName.
func (s *Store) CreateChat(ctx context.Context, name string) (ChatSession, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultChatName
	}
	token, err := s.token(ctx)
	if err != nil {
		return ChatSession{}, err
	}
	chat, err := s.directory.Create(ctx, token, s.gw.UserID(), name)
	if err != nil {
		return ChatSession{}, s.fail("create chat", err)
	}
	s.adopt(chat)
	return chat, nil
}

func (s *Store) adopt(chat ChatSession) {
	s.mu.Lock()
	if idx := s.index(chat.ID); idx < 0 {
		c := chat
		c.Messages = cloneMessages(chat.Messages)
		s.chats = append(s.chats, &c)
		s.localChats[chat.ID] = s.listSeq
	}
	s.clearActive()
	s.activeID = chat.ID
	if idx := s.index(chat.ID); idx >= 0 {
		s.active = cloneMessages(s.chats[idx].Messages)
	}
	s.mu.Unlock()
	s.emit(Event{Kind: EventChatCreated, ChatID: chat.ID}, Event{Kind: EventChatSelected, ChatID: chat.ID})
}

// RenameChat changes the name only after the server confirms it. A failure
// leaves the old name and is returned. If the chat was deleted while the
// rename was in flight, the response is ignored.
func (s *Store) RenameChat(ctx context.Context, id int64, newName string) error {
	s.mu.Lock()
	exists := s.index(id) >= 0
	s.mu.Unlock()
	if !exists {
		return fmt.Errorf("rename chat %d: %w", id, ErrChatNotFound)
	}

	token, err := s.token(ctx)
	if err != nil {
		return err
	}
	name, err := s.directory.Rename(ctx, token, id, newName)
	if err != nil {
		return s.fail("rename chat", err)
	}

	s.mu.Lock()
	idx := s.index(id)
	if idx >= 0 {
		s.chats[idx].Name = name
	}
	s.mu.Unlock()

	if idx < 0 {
		s.logger.Debug("rename confirmed for a chat no longer present", zap.Int64("chat_id", id))
		return nil
	}
	s.emit(Event{Kind: EventChatRenamed, ChatID: id})
	return nil
}

// DeleteChat removes the chat after the server confirms it. A failure keeps
// the chat and is returned.
func (s *Store) DeleteChat(ctx context.Context, id int64) error {
	s.mu.Lock()
	exists := s.index(id) >= 0
	s.mu.Unlock()
	if !exists {
		return fmt.Errorf("delete chat %d: %w", id, ErrChatNotFound)
	}

	token, err := s.token(ctx)
	if err != nil {
		return err
	}
	if err := s.directory.Delete(ctx, token, id); err != nil {
		return s.fail("delete chat", err)
	}

	s.mu.Lock()
	idx := s.index(id)
	if idx >= 0 {
		s.chats = append(s.chats[:idx], s.chats[idx+1:]...)
	}
	wasActive := s.activeID == id
	if wasActive {
		s.clearActive()
	}
	delete(s.sends, id)
	delete(s.inflight, id)
	delete(s.localChats, id)
	s.deletedChats[id] = s.listSeq
	s.mu.Unlock()

	if idx < 0 {
		return nil
	}
	s.logger.Info("chat deleted", zap.Int64("chat_id", id))
	s.emit(Event{Kind: EventChatDeleted, ChatID: id})
	if wasActive {
		s.emit(Event{Kind: EventSelectionCleared})
	}
	return nil
}

// AppendMessage adds msg to the chat's log and, if the chat is active at
// this moment, to the active messages, under one lock. It reports false when
// the chat no longer exists.
func (s *Store) AppendMessage(chatID int64, msg Message) bool {
	return s.appendMessage(chatID, msg, false)
}

// appendMessage with fromSend also tracks the user message awaiting its
// reply, so a history fetch started meanwhile does not count it as delivered.
func (s *Store) appendMessage(chatID int64, msg Message, fromSend bool) bool {
	s.mu.Lock()
	idx := s.index(chatID)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.chats[idx].Messages = append(s.chats[idx].Messages, msg)
	if chatID == s.activeID {
		s.active = append(s.active, msg)
		if s.historyPending {
			s.pendingLocal = append(s.pendingLocal, msg)
		}
	}
	if fromSend {
		if msg.Sender == SenderUser {
			s.inflight[chatID] = msg.ID
		} else {
			delete(s.inflight, chatID)
		}
	}
	s.mu.Unlock()

	s.emit(Event{Kind: EventMessageAppended, ChatID: chatID, MessageID: msg.ID})
	return true
}

// MarkUnconfirmed annotates a message whose send failed.
func (s *Store) MarkUnconfirmed(chatID int64, messageID string) {
	mark := func(msgs []Message) {
		for i := range msgs {
			if msgs[i].ID == messageID {
				msgs[i].Unconfirmed = true
			}
		}
	}

	s.mu.Lock()
	idx := s.index(chatID)
	if idx >= 0 {
		mark(s.chats[idx].Messages)
	}
	if chatID == s.activeID {
		mark(s.active)
		mark(s.pendingLocal)
	}
	if s.inflight[chatID] == messageID {
		delete(s.inflight, chatID)
	}
	s.mu.Unlock()

	if idx >= 0 {
		s.emit(Event{Kind: EventMessageUnconfirmed, ChatID: chatID, MessageID: messageID})
	}
}

// sendSink routes one send's effects into the store and remembers which chat
// slots the send holds.
type sendSink struct {
	store *Store
	held  []int64
}

func (k *sendSink) AdoptChat(chat ChatSession) {
	k.store.mu.Lock()
	k.store.sends[chat.ID] = SendSending
	k.store.mu.Unlock()
	k.held = append(k.held, chat.ID)
	k.store.adopt(chat)
}

func (k *sendSink) AppendMessage(chatID int64, msg Message) bool {
	return k.store.appendMessage(chatID, msg, true)
}

func (k *sendSink) MarkUnconfirmed(chatID int64, messageID string) {
	k.store.MarkUnconfirmed(chatID, messageID)
}

// Send posts text to the active chat, creating one first when none is
// active. The current mode and selected document are captured when the call
// starts. Only one send per chat may be in flight; a second one gets
// ErrSendInFlight.
func (s *Store) Send(ctx context.Context, text string) (*SendResult, error) {
	s.mu.Lock()
	req := SendRequest{ChatID: s.activeID, Text: text, Mode: ModeGeneral}
	if s.documentMode {
		req.Mode = ModeDocument
		if s.selected != nil {
			ref := *s.selected
			req.Document = &ref
		}
	}
	if err := s.messages.Validate(req); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	key := req.ChatID
	if s.sends[key] == SendSending {
		s.mu.Unlock()
		return nil, ErrSendInFlight
	}
	s.sends[key] = SendSending
	s.mu.Unlock()

	sink := &sendSink{store: s, held: []int64{key}}
	var (
		result *SendResult
		err    error
	)
	token, err := s.token(ctx)
	if err == nil {
		result, err = s.messages.Send(ctx, token, s.gw.UserID(), req, sink)
	}

	final := SendDelivered
	if err != nil {
		final = SendFailed
	}
	s.mu.Lock()
	for _, id := range sink.held {
		if id == 0 {
			delete(s.sends, 0)
			continue
		}
		delete(s.inflight, id)
		if s.index(id) >= 0 {
			s.sends[id] = final
		} else {
			delete(s.sends, id)
		}
	}
	s.mu.Unlock()

	if err != nil {
		return result, s.fail("send", err)
	}
	return result, nil
}

// SendState reports where the chat's latest send stands.
func (s *Store) SendState(chatID int64) SendState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sends[chatID]
}

// SetDocumentMode switches document mode. Either direction drops the
// selected document and invalidates any select still in flight.
func (s *Store) SetDocumentMode(on bool) {
	s.mu.Lock()
	s.documentMode = on
	s.selected = nil
	s.docSeq++
	s.mu.Unlock()
	s.emit(Event{Kind: EventDocumentModeChanged})
}

// ListDocuments fetches the user's documents and records the listing.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	token, err := s.token(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := s.docs.List(ctx, token, s.gw.UserID())
	if err != nil {
		return nil, s.fail("list documents", err)
	}
	s.mu.Lock()
	s.docList = cloneDocuments(docs)
	s.mu.Unlock()
	s.emit(Event{Kind: EventDocumentsListed})
	return docs, nil
}

// SelectDocument binds docID as retrieval context. The previous selection is
// dropped immediately, so a document-mode send made before this returns is
// rejected instead of using the wrong document. A result that arrives after
// document mode was toggled or another select started is discarded.
func (s *Store) SelectDocument(ctx context.Context, docID int64) error {
	s.mu.Lock()
	if !s.documentMode {
		s.mu.Unlock()
		return ErrDocumentModeOff
	}
	s.docSeq++
	seq := s.docSeq
	s.selected = nil
	s.mu.Unlock()

	token, err := s.token(ctx)
	if err != nil {
		return err
	}
	ref, err := s.docs.Select(ctx, token, s.gw.UserID(), docID)

	s.mu.Lock()
	stale := !s.documentMode || s.docSeq != seq
	if err == nil && !stale {
		s.selected = &ref
	}
	s.mu.Unlock()

	if stale {
		s.logger.Debug("discarding stale document select", zap.Int64("document_id", docID))
		s.emit(Event{Kind: EventStaleDiscarded, DocumentID: docID})
		return nil
	}
	if err != nil {
		return s.fail("select document", err)
	}
	s.emit(Event{Kind: EventDocumentSelected, DocumentID: docID})
	return nil
}

// UploadDocument uploads a document and, in document mode, refreshes the
// listing. A failed refresh is logged, not returned.
func (s *Store) UploadDocument(ctx context.Context, filename string, r io.Reader) (string, error) {
	token, err := s.token(ctx)
	if err != nil {
		return "", err
	}
	stored, err := s.docs.Upload(ctx, token, s.gw.UserID(), filename, r)
	if err != nil {
		return "", s.fail("upload document", err)
	}

	s.mu.Lock()
	docMode := s.documentMode
	s.mu.Unlock()
	if docMode {
		if _, err := s.ListDocuments(ctx); err != nil {
			s.logger.Warn("refresh after upload failed", zap.Error(err))
		}
	}
	return stored, nil
}

// Refresh reloads the chat list and, in document mode, the document listing
// concurrently. One failing does not cancel the other; the first failure is
// returned.
func (s *Store) Refresh(ctx context.Context) error {
	s.mu.Lock()
	docMode := s.documentMode
	s.mu.Unlock()

	var g errgroup.Group
	g.Go(func() error {
		return s.LoadChats(ctx)
	})
	if docMode {
		g.Go(func() error {
			_, err := s.ListDocuments(ctx)
			return err
		})
	}
	return g.Wait()
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		Chats:          make([]ChatSession, 0, len(s.chats)),
		ActiveChatID:   s.activeID,
		ActiveMessages: cloneMessages(s.active),
		DocumentMode:   s.documentMode,
		Documents:      cloneDocuments(s.docList),
	}
	for _, c := range s.chats {
		st.Chats = append(st.Chats, ChatSession{ID: c.ID, Name: c.Name, Messages: cloneMessages(c.Messages)})
	}
	if s.selected != nil {
		ref := *s.selected
		st.SelectedDocument = &ref
	}
	return st
}
