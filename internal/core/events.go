package core

type EventKind string

const (
	EventChatsLoaded         EventKind = "chats_loaded"
	EventChatSelected        EventKind = "chat_selected"
	EventSelectionCleared    EventKind = "selection_cleared"
	EventHistoryLoaded       EventKind = "history_loaded"
	EventChatCreated         EventKind = "chat_created"
	EventChatRenamed         EventKind = "chat_renamed"
	EventChatDeleted         EventKind = "chat_deleted"
	EventMessageAppended     EventKind = "message_appended"
	EventMessageUnconfirmed  EventKind = "message_unconfirmed"
	EventDocumentModeChanged EventKind = "document_mode_changed"
	EventDocumentsListed     EventKind = "documents_listed"
	EventDocumentSelected    EventKind = "document_selected"
	EventStaleDiscarded      EventKind = "stale_discarded"
	EventUnauthorized        EventKind = "unauthorized"
)

// Event is emitted after a mutation has been applied. Listeners run on the
// caller's goroutine, outside the store lock, and may call Snapshot.
type Event struct {
	Kind       EventKind
	ChatID     int64
	MessageID  string
	DocumentID int64
}

type StoreOption func(*Store)

func WithListener(fn func(Event)) StoreOption {
	return func(s *Store) { s.listener = fn }
}
