package core

import (
	"context"
	"fmt"

	"docchat.io/chat-client/internal/api"
	"go.uber.org/zap"
)

// DirectoryAPI is the part of the transport the directory needs.
type DirectoryAPI interface {
	ListChats(ctx context.Context, token string) ([]api.Chat, error)
	ChatHistory(ctx context.Context, token string, chatID int64) (*api.ChatHistory, error)
	CreateChat(ctx context.Context, token string, req api.CreateChatRequest) (*api.CreateChatResponse, error)
	RenameChat(ctx context.Context, token string, chatID int64, newName string) (*api.RenameChatResponse, error)
	DeleteChat(ctx context.Context, token string, chatID int64) error
}

// DirectoryService wraps chat CRUD. It never touches store state and never
// retries; failures come back classified by the transport.
type DirectoryService struct {
	api    DirectoryAPI
	logger *zap.Logger
}

func NewDirectoryService(a DirectoryAPI, logger *zap.Logger) *DirectoryService {
	return &DirectoryService{api: a, logger: logger.Named("directory")}
}

func (s *DirectoryService) List(ctx context.Context, token string) ([]ChatSession, error) {
	chats, err := s.api.ListChats(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	out := make([]ChatSession, 0, len(chats))
	for _, c := range chats {
		out = append(out, ChatSession{
			ID:       c.ID,
			Name:     c.ChatName,
			Messages: messagesFromAPI(c.Messages),
		})
	}
	s.logger.Debug("chats listed", zap.Int("count", len(out)))
	return out, nil
}

func (s *DirectoryService) History(ctx context.Context, token string, chatID int64) ([]Message, error) {
	history, err := s.api.ChatHistory(ctx, token, chatID)
	if err != nil {
		return nil, fmt.Errorf("load history for chat %d: %w", chatID, err)
	}
	return messagesFromAPI(history.Messages), nil
}

func (s *DirectoryService) Create(ctx context.Context, token string, userID int64, name string) (ChatSession, error) {
	resp, err := s.api.CreateChat(ctx, token, api.CreateChatRequest{UserID: userID, ChatName: name})
	if err != nil {
		return ChatSession{}, fmt.Errorf("create chat: %w", err)
	}
	chat := ChatSession{ID: resp.ChatID, Name: resp.ChatName, Messages: []Message{}}
	if chat.Name == "" {
		chat.Name = name
	}
	s.logger.Info("chat created", zap.Int64("chat_id", chat.ID), zap.String("name", chat.Name))
	return chat, nil
}

// Rename returns the name the server stored.
func (s *DirectoryService) Rename(ctx context.Context, token string, chatID int64, newName string) (string, error) {
	resp, err := s.api.RenameChat(ctx, token, chatID, newName)
	if err != nil {
		return "", fmt.Errorf("rename chat %d: %w", chatID, err)
	}
	if resp.NewName == "" {
		return newName, nil
	}
	return resp.NewName, nil
}

func (s *DirectoryService) Delete(ctx context.Context, token string, chatID int64) error {
	if err := s.api.DeleteChat(ctx, token, chatID); err != nil {
		return fmt.Errorf("delete chat %d: %w", chatID, err)
	}
	return nil
}
