package stubserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"docchat.io/chat-client/internal/api"
	"docchat.io/chat-client/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrChatNotFound  = errors.New("chat not found")
	ErrFileNotFound  = errors.New("file not found")
	ErrChunkRequired = errors.New("chunk_filename is required in pdf mode")
)

// historyWindow is how many earlier messages a responder sees.
const historyWindow = 5

// ChatService holds the stub backend's behavior; handlers only translate
// HTTP to and from it.
type ChatService struct {
	db        *store.SQLiteStore
	retriever *Retriever
	responder Responder
	uploadDir string
	logger    *zap.Logger
}

func NewChatService(db *store.SQLiteStore, retriever *Retriever, responder Responder, uploadDir string, logger *zap.Logger) *ChatService {
	return &ChatService{
		db:        db,
		retriever: retriever,
		responder: responder,
		uploadDir: uploadDir,
		logger:    logger.Named("service"),
	}
}

// EnsureUser registers a user on first authenticated request.
func (s *ChatService) EnsureUser(ctx context.Context, userID int64) error {
	return s.db.EnsureUser(ctx, userID)
}

func (s *ChatService) ListChats(ctx context.Context, userID int64) ([]api.Chat, error) {
	chats, err := s.db.ListChats(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]api.Chat, 0, len(chats))
	for _, c := range chats {
		out = append(out, api.Chat{
			ID:        c.ID,
			UserID:    c.UserID,
			ChatName:  c.ChatName,
			CreatedAt: api.Timestamp{Time: c.CreatedAt},
			UpdatedAt: api.Timestamp{Time: c.UpdatedAt},
			Messages:  toAPIMessages(c.Messages),
		})
	}
	return out, nil
}

func toAPIMessages(msgs []store.Message) []api.Message {
	out := make([]api.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, api.Message{ID: m.ID, Sender: m.Sender, Message: m.Message, Timestamp: api.Timestamp{Time: m.Timestamp}})
	}
	return out
}

func (s *ChatService) History(ctx context.Context, userID, chatID int64) (*api.ChatHistory, error) {
	chat, err := s.db.GetChat(ctx, chatID, userID)
	if err != nil {
		return nil, notFound(err, ErrChatNotFound)
	}
	return &api.ChatHistory{ChatID: chat.ID, ChatName: chat.ChatName, Messages: toAPIMessages(chat.Messages)}, nil
}

func notFound(err, sentinel error) error {
	if errors.Is(err, store.ErrNotFound) {
		return sentinel
	}
	return err
}

// CreateChat creates a chat for the user named in the body. The user must
// already be known.
func (s *ChatService) CreateChat(ctx context.Context, req api.CreateChatRequest) (*api.CreateChatResponse, error) {
	ok, err := s.db.UserExists(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUserNotFound
	}
	chat, err := s.db.CreateChat(ctx, req.UserID, req.ChatName)
	if err != nil {
		return nil, err
	}
	s.logger.Info("chat created", zap.Int64("chat_id", chat.ID), zap.Int64("user_id", req.UserID))
	return &api.CreateChatResponse{ChatID: chat.ID, ChatName: chat.ChatName}, nil
}

func (s *ChatService) RenameChat(ctx context.Context, userID, chatID int64, name string) (*api.RenameChatResponse, error) {
	if err := s.db.RenameChat(ctx, chatID, userID, name); err != nil {
		return nil, notFound(err, ErrChatNotFound)
	}
	return &api.RenameChatResponse{ChatID: chatID, NewName: name}, nil
}

func (s *ChatService) DeleteChat(ctx context.Context, userID, chatID int64) error {
	if err := s.db.DeleteChat(ctx, chatID, userID); err != nil {
		return notFound(err, ErrChatNotFound)
	}
	s.logger.Info("chat deleted", zap.Int64("chat_id", chatID))
	return nil
}

// Chat answers one question and stores the exchange. Nothing is stored when
// the responder fails.
func (s *ChatService) Chat(ctx context.Context, userID int64, req api.ChatRequest) (*api.ChatResponse, error) {
	if _, err := s.db.GetChat(ctx, req.ChatID, userID); err != nil {
		return nil, notFound(err, ErrChatNotFound)
	}

	prompt := Prompt{Query: req.Query, Mode: req.Mode}
	if req.Mode == api.ModePDF {
		if req.ChunkFilename == nil || *req.ChunkFilename == "" {
			return nil, ErrChunkRequired
		}
		passages, err := s.retriever.Search(ctx, *req.ChunkFilename, req.Query, NumRelevantChunks)
		if err != nil {
			return nil, fmt.Errorf("retrieval failed: %w", err)
		}
		prompt.Passages = passages
	}

	history, err := s.db.LastMessages(ctx, req.ChatID, historyWindow)
	if err != nil {
		s.logger.Warn("proceeding without history", zap.Int64("chat_id", req.ChatID), zap.Error(err))
	}
	prompt.History = history

	reply, err := s.responder.Respond(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to generate response: %w", err)
	}

	userMsg := &store.Message{Sender: "user", Message: req.Query}
	botMsg := &store.Message{Sender: "bot", Message: reply}
	if err := s.db.AddMessages(ctx, req.ChatID, userMsg, botMsg); err != nil {
		return nil, err
	}
	return &api.ChatResponse{Response: reply}, nil
}

func (s *ChatService) ListFiles(ctx context.Context, userID int64) (*api.PDFList, error) {
	files, err := s.db.ListFiles(ctx, userID)
	if err != nil {
		return nil, err
	}
	list := &api.PDFList{PDFs: make([]api.PDF, 0, len(files))}
	for _, f := range files {
		list.PDFs = append(list.PDFs, api.PDF{ID: f.ID, Filename: f.Filename, UploadedAt: api.Timestamp{Time: f.UploadedAt}})
	}
	return list, nil
}

// SelectFile returns the chunk key of one of the user's files.
func (s *ChatService) SelectFile(ctx context.Context, userID, fileID int64) (*api.SelectPDFResponse, error) {
	f, err := s.db.GetFile(ctx, userID, fileID)
	if err != nil {
		return nil, notFound(err, ErrFileNotFound)
	}
	return &api.SelectPDFResponse{ChunkFilename: ChunkKey(f.FilePath)}, nil
}

// Upload saves the file under a unique name, indexes its text and records
// it. The stored name is "<32 hex chars>_<original name>".
func (s *ChatService) Upload(ctx context.Context, userID int64, filename string, r io.Reader) (*api.UploadResponse, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	unique := strings.ReplaceAll(uuid.NewString(), "-", "") + "_" + filepath.Base(filename)
	dest := filepath.Join(s.uploadDir, unique)

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to save upload: %w", err)
	}

	if _, err := s.retriever.Index(ctx, ChunkKey(dest), extractText(data)); err != nil {
		os.Remove(dest)
		return nil, fmt.Errorf("processing failed: %w", err)
	}
	if _, err := s.db.CreateFile(ctx, userID, unique, dest); err != nil {
		return nil, err
	}
	s.logger.Info("file uploaded", zap.String("filename", unique), zap.Int("bytes", len(data)))
	return &api.UploadResponse{Filename: unique, Message: "PDF uploaded and processed successfully."}, nil
}

// extractText keeps the readable words of a file. Plain text passes through
// whole; for binary formats only printable runs survive.
func extractText(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	words := strings.FieldsFunc(strings.ToValidUTF8(string(data), " "), func(r rune) bool {
		return !unicode.IsPrint(r) || unicode.IsSpace(r)
	})
	kept := words[:0]
	for _, w := range words {
		if strings.IndexFunc(w, unicode.IsLetter) >= 0 {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}
