package store

import "time"

type User struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

type Chat struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	ChatName  string    `json:"chat_name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `json:"messages"`
}

type Message struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"-"`
	Sender    string    `json:"sender"` // "user" or "bot"
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// File is an uploaded document. Filename is the stored name, already
// prefixed to be unique.
type File struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"-"`
	Filename   string    `json:"filename"`
	FilePath   string    `json:"-"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Chunk is one retrievable slice of a document's text. Chunks of the same
// document share a ChunkKey.
type Chunk struct {
	ID            int64     `json:"id"`
	ChunkKey      string    `json:"chunk_key"`
	Position      int       `json:"position"`
	Content       string    `json:"content"`
	Embedding     []float32 `json:"-"`
	EmbeddingJSON string    `json:"-"`
}
