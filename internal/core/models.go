package core

import (
	"time"

	"docchat.io/chat-client/internal/api"
)

type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

type Mode string

const (
	ModeGeneral  Mode = api.ModeGeneral
	ModeDocument Mode = api.ModePDF
)

// Message is a value; once appended the only field that may change is
// Unconfirmed, set when the send that produced it failed.
type Message struct {
	ID          string    `json:"id"` // client-side, addresses the failure annotation
	Sender      Sender    `json:"sender"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
	Unconfirmed bool      `json:"unconfirmed,omitempty"`
}

// ChatSession is a named thread. ID is assigned by the server; 0 means the
// chat has not been created yet.
type ChatSession struct {
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	Messages []Message `json:"messages"`
}

// Document is one entry of the user's uploaded documents.
type Document struct {
	ID         int64     `json:"id"`
	Filename   string    `json:"filename"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// DocumentRef is a document bound as retrieval context. ChunkKey only ever
// comes from a successful select call.
type DocumentRef struct {
	ID       int64  `json:"id"`
	Filename string `json:"filename"`
	ChunkKey string `json:"chunk_key"`
}

type SendState int

const (
	SendIdle SendState = iota
	SendSending
	SendDelivered
	SendFailed
)

func (s SendState) String() string {
	switch s {
	case SendSending:
		return "sending"
	case SendDelivered:
		return "delivered"
	case SendFailed:
		return "failed"
	default:
		return "idle"
	}
}

// State is a point-in-time copy of the store, safe to hand to renderers.
type State struct {
	Chats            []ChatSession `json:"chats"`
	ActiveChatID     int64         `json:"active_chat_id"`
	ActiveMessages   []Message     `json:"active_messages"`
	DocumentMode     bool          `json:"document_mode"`
	SelectedDocument *DocumentRef  `json:"selected_document,omitempty"`
	Documents        []Document    `json:"documents"`
}

func (s State) HasActiveChat() bool {
	return s.ActiveChatID != 0
}

// Chat returns the chat with the given id, if present.
func (s State) Chat(id int64) (ChatSession, bool) {
	for _, c := range s.Chats {
		if c.ID == id {
			return c, true
		}
	}
	return ChatSession{}, false
}

func cloneMessages(in []Message) []Message {
	if in == nil {
		return []Message{}
	}
	out := make([]Message, len(in))
	copy(out, in)
	return out
}

func messagesFromAPI(in []api.Message) []Message {
	out := make([]Message, 0, len(in))
	for _, m := range in {
		out = append(out, Message{
			ID:        newMessageID(),
			Sender:    senderFromAPI(m.Sender),
			Text:      m.Message,
			Timestamp: m.Timestamp.Time,
		})
	}
	return out
}

// The backend stores "user" and "bot"; anything that is not the user is the
// assistant.
func senderFromAPI(s string) Sender {
	if s == string(SenderUser) {
		return SenderUser
	}
	return SenderBot
}
