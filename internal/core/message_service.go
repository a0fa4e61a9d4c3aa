package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"docchat.io/chat-client/internal/api"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type MessageAPI interface {
	Chat(ctx context.Context, token string, req api.ChatRequest) (*api.ChatResponse, error)
}

// MessageSink receives every state effect of a send. The Store implements it
// so that the service itself never mutates session state.
type MessageSink interface {
	// AdoptChat inserts a chat created implicitly by the send and makes it
	// active.
	AdoptChat(chat ChatSession)
	AppendMessage(chatID int64, msg Message) bool
	MarkUnconfirmed(chatID int64, messageID string)
}

type SendRequest struct {
	ChatID   int64 // 0 creates a chat named after the text
	Text     string
	Mode     Mode
	Document *DocumentRef // required in ModeDocument
}

// SendResult describes what a send appended. On failure it is still returned
// alongside the error when the user message was appended (then marked
// Unconfirmed).
type SendResult struct {
	ChatID  int64
	Created bool
	User    Message
	Reply   Message
}

type MessageService struct {
	api       MessageAPI
	directory *DirectoryService
	now       func() time.Time
	logger    *zap.Logger
}

func NewMessageService(a MessageAPI, directory *DirectoryService, logger *zap.Logger) *MessageService {
	return &MessageService{
		api:       a,
		directory: directory,
		now:       time.Now,
		logger:    logger.Named("messages"),
	}
}

// Validate rejects requests that must never reach the network.
func (s *MessageService) Validate(req SendRequest) error {
	if strings.TrimSpace(req.Text) == "" {
		return ErrEmptyMessage
	}
	if req.Mode == ModeDocument && (req.Document == nil || req.Document.ChunkKey == "") {
		return ErrNoDocumentSelected
	}
	return nil
}

// Send runs the whole exchange: implicit create when ChatID is 0, optimistic
// append of the user message, the request, then the reply. A failed request
// leaves the user message in place, marked Unconfirmed; nothing is retried.
func (s *MessageService) Send(ctx context.Context, token string, userID int64, req SendRequest, sink MessageSink) (*SendResult, error) {
	if err := s.Validate(req); err != nil {
		return nil, err
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeGeneral
	}

	result := &SendResult{ChatID: req.ChatID}
	if result.ChatID == 0 {
		chat, err := s.directory.Create(ctx, token, userID, strings.TrimSpace(req.Text))
		if err != nil {
			return nil, err
		}
		sink.AdoptChat(chat)
		result.ChatID = chat.ID
		result.Created = true
	}

	log := s.logger.With(zap.Int64("chat_id", result.ChatID), zap.String("mode", string(mode)))

	result.User = Message{ID: newMessageID(), Sender: SenderUser, Text: req.Text, Timestamp: s.now()}
	sink.AppendMessage(result.ChatID, result.User)

	apiReq := api.ChatRequest{Query: req.Text, Mode: string(mode), ChatID: result.ChatID}
	if mode == ModeDocument {
		chunk := req.Document.ChunkKey
		apiReq.ChunkFilename = &chunk
	}

	resp, err := s.api.Chat(ctx, token, apiReq)
	if err != nil {
		sink.MarkUnconfirmed(result.ChatID, result.User.ID)
		result.User.Unconfirmed = true
		log.Warn("send failed, user message left unconfirmed", zap.Error(err))
		return result, fmt.Errorf("send message to chat %d: %w", result.ChatID, err)
	}

	result.Reply = Message{ID: newMessageID(), Sender: SenderBot, Text: resp.Response, Timestamp: s.now()}
	sink.AppendMessage(result.ChatID, result.Reply)
	log.Debug("reply received", zap.Int("reply_len", len(resp.Response)))
	return result, nil
}

func newMessageID() string {
	return uuid.NewString()
}
