package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Mode values accepted by POST /chat.
const (
	ModeGeneral = "general"
	ModePDF     = "pdf"
)

// Timestamp accepts RFC3339 and the naive ISO form the backend serializes
// (no zone, microseconds). Naive values are read as UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognized format %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

type Message struct {
	ID        int64     `json:"id,omitempty"`
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	Timestamp Timestamp `json:"timestamp"`
}

type Chat struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	ChatName  string    `json:"chat_name"`
	CreatedAt Timestamp `json:"created_at"`
	UpdatedAt Timestamp `json:"updated_at"`
	Messages  []Message `json:"messages"`
}

type ChatHistory struct {
	ChatID   int64     `json:"chat_id"`
	ChatName string    `json:"chat_name"`
	Messages []Message `json:"messages"`
}

type CreateChatRequest struct {
	UserID   int64  `json:"user_id" validate:"gte=0"`
	ChatName string `json:"chat_name" validate:"required"`
}

type CreateChatResponse struct {
	ChatID   int64  `json:"chat_id"`
	ChatName string `json:"chat_name"`
}

type RenameChatResponse struct {
	ChatID  int64  `json:"chat_id"`
	NewName string `json:"new_name"`
}

type PDF struct {
	ID         int64     `json:"id"`
	Filename   string    `json:"filename"`
	UploadedAt Timestamp `json:"uploaded_at"`
}

type PDFList struct {
	PDFs []PDF `json:"pdfs"`
}

type SelectPDFResponse struct {
	ChunkFilename string `json:"chunk_filename"`
}

type ChatRequest struct {
	Query         string  `json:"query" validate:"required"`
	Mode          string  `json:"mode" validate:"required,oneof=general pdf"`
	ChatID        int64   `json:"chat_id" validate:"required"`
	ChunkFilename *string `json:"chunk_filename"`
}

type ChatResponse struct {
	Response string `json:"response"`
}

type UploadResponse struct {
	Filename string `json:"filename,omitempty"`
	Message  string `json:"message,omitempty"`
}
