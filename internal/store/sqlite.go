package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

var ErrNotFound = errors.New("store: not found")

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if strings.Contains(dataSourceName, ":memory:") {
		// every connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY,
        created_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS chats (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id INTEGER NOT NULL,
        chat_name TEXT NOT NULL,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE TABLE IF NOT EXISTS messages (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        chat_id INTEGER NOT NULL,
        sender TEXT NOT NULL CHECK (sender IN ('user', 'bot')),
        message TEXT NOT NULL,
        timestamp DATETIME NOT NULL,
        FOREIGN KEY (chat_id) REFERENCES chats (id)
    );

    CREATE TABLE IF NOT EXISTS user_files (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id INTEGER NOT NULL,
        filename TEXT NOT NULL,
        file_path TEXT NOT NULL,
        uploaded_at DATETIME NOT NULL,
        FOREIGN KEY (user_id) REFERENCES users (id)
    );

    CREATE TABLE IF NOT EXISTS data_chunks (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        chunk_key TEXT NOT NULL,
        position INTEGER NOT NULL,
        content TEXT NOT NULL,
        embedding_json TEXT
    );
    CREATE INDEX IF NOT EXISTS idx_data_chunks_key ON data_chunks (chunk_key);
    `
	_, err := s.db.Exec(schema)
	return err
}

func now() time.Time {
	return time.Now().UTC()
}

// User methods

// EnsureUser creates the user row if it does not exist yet.
func (s *SQLiteStore) EnsureUser(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO users (id, created_at) VALUES (?, ?)", id, now())
	if err != nil {
		return fmt.Errorf("failed to ensure user %d: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) UserExists(ctx context.Context, id int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM users WHERE id = ?", id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query user: %w", err)
	}
	return n > 0, nil
}

// Chat methods

func (s *SQLiteStore) CreateChat(ctx context.Context, userID int64, name string) (*Chat, error) {
	ts := now()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO chats (user_id, chat_name, created_at, updated_at) VALUES (?, ?, ?, ?)",
		userID, name, ts, ts)
	if err != nil {
		return nil, fmt.Errorf("failed to execute chat insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read chat id: %w", err)
	}
	return &Chat{ID: id, UserID: userID, ChatName: name, CreatedAt: ts, UpdatedAt: ts, Messages: []Message{}}, nil
}

// GetChat returns the chat with its messages, or ErrNotFound when it does not
// exist or belongs to another user.
func (s *SQLiteStore) GetChat(ctx context.Context, chatID, userID int64) (*Chat, error) {
	var chat Chat
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, chat_name, created_at, updated_at FROM chats WHERE id = ? AND user_id = ?",
		chatID, userID).Scan(&chat.ID, &chat.UserID, &chat.ChatName, &chat.CreatedAt, &chat.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	chat.Messages, err = s.Messages(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// ListChats returns the user's chats, newest first, each with its messages.
func (s *SQLiteStore) ListChats(ctx context.Context, userID int64) ([]Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, chat_name, created_at, updated_at FROM chats WHERE user_id = ? ORDER BY created_at DESC, id DESC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	chats := []Chat{}
	for rows.Next() {
		var chat Chat
		if err := rows.Scan(&chat.ID, &chat.UserID, &chat.ChatName, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate chats: %w", err)
	}
	rows.Close()

	for i := range chats {
		msgs, err := s.Messages(ctx, chats[i].ID)
		if err != nil {
			return nil, err
		}
		chats[i].Messages = msgs
	}
	return chats, nil
}

func (s *SQLiteStore) RenameChat(ctx context.Context, chatID, userID int64, name string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE chats SET chat_name = ?, updated_at = ? WHERE id = ? AND user_id = ?",
		name, now(), chatID, userID)
	if err != nil {
		return fmt.Errorf("failed to execute chat rename: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteChat removes the chat and its messages in one transaction.
func (s *SQLiteStore) DeleteChat(ctx context.Context, chatID, userID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM chats WHERE id = ? AND user_id = ?", chatID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE chat_id = ?", chatID); err != nil {
		return fmt.Errorf("failed to delete chat messages: %w", err)
	}
	return tx.Commit()
}

// Message methods

// AddMessages appends msgs to the chat in order, in one transaction, and
// fills in their ids and timestamps.
func (s *SQLiteStore) AddMessages(ctx context.Context, chatID int64, msgs ...*Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO messages (chat_id, sender, message, timestamp) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare message insert: %w", err)
	}
	defer stmt.Close()

	ts := now()
	for _, msg := range msgs {
		res, err := stmt.ExecContext(ctx, chatID, msg.Sender, msg.Message, ts)
		if err != nil {
			return fmt.Errorf("failed to execute message insert: %w", err)
		}
		msg.ID, _ = res.LastInsertId()
		msg.ChatID = chatID
		msg.Timestamp = ts
	}
	if _, err := tx.ExecContext(ctx, "UPDATE chats SET updated_at = ? WHERE id = ?", ts, chatID); err != nil {
		return fmt.Errorf("failed to touch chat: %w", err)
	}
	return tx.Commit()
}

// Messages returns the chat's messages in insertion order.
func (s *SQLiteStore) Messages(ctx context.Context, chatID int64) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, chat_id, sender, message, timestamp FROM messages WHERE chat_id = ? ORDER BY id ASC",
		chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// LastMessages returns up to n of the chat's most recent messages, oldest
// first.
func (s *SQLiteStore) LastMessages(ctx context.Context, chatID int64, n int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, chat_id, sender, message, timestamp
        FROM messages
        WHERE chat_id = ?
        ORDER BY id DESC
        LIMIT ?
    `, chatID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	messages := []Message{}
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Sender, &msg.Message, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

// File methods

func (s *SQLiteStore) CreateFile(ctx context.Context, userID int64, filename, path string) (*File, error) {
	ts := now()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO user_files (user_id, filename, file_path, uploaded_at) VALUES (?, ?, ?, ?)",
		userID, filename, path, ts)
	if err != nil {
		return nil, fmt.Errorf("failed to execute file insert: %w", err)
	}
	id, _ := res.LastInsertId()
	return &File{ID: id, UserID: userID, Filename: filename, FilePath: path, UploadedAt: ts}, nil
}

// ListFiles returns the user's files, most recent upload first.
func (s *SQLiteStore) ListFiles(ctx context.Context, userID int64) ([]File, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, filename, file_path, uploaded_at FROM user_files WHERE user_id = ? ORDER BY uploaded_at DESC, id DESC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	files := []File{}
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.ID, &f.UserID, &f.Filename, &f.FilePath, &f.UploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan file row: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate files: %w", err)
	}
	return files, nil
}

func (s *SQLiteStore) GetFile(ctx context.Context, userID, fileID int64) (*File, error) {
	var f File
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, filename, file_path, uploaded_at FROM user_files WHERE id = ? AND user_id = ?",
		fileID, userID).Scan(&f.ID, &f.UserID, &f.Filename, &f.FilePath, &f.UploadedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return &f, nil
}

// Chunk methods

// ReplaceChunks swaps every chunk stored under key for chunks.
func (s *SQLiteStore) ReplaceChunks(ctx context.Context, key string, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM data_chunks WHERE chunk_key = ?", key); err != nil {
		return fmt.Errorf("failed to clear data_chunks: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO data_chunks (chunk_key, position, content, embedding_json) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare data_chunk insert: %w", err)
	}
	defer stmt.Close()

	for i := range chunks {
		embeddingBytes, err := json.Marshal(chunks[i].Embedding)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}
		chunks[i].ChunkKey = key
		chunks[i].EmbeddingJSON = string(embeddingBytes)
		res, err := stmt.ExecContext(ctx, key, chunks[i].Position, chunks[i].Content, chunks[i].EmbeddingJSON)
		if err != nil {
			return fmt.Errorf("failed to execute data_chunk insert: %w", err)
		}
		chunks[i].ID, _ = res.LastInsertId()
	}
	return tx.Commit()
}

// Chunks returns the chunks stored under key in position order. A chunk whose
// embedding cannot be decoded is returned with a nil Embedding.
func (s *SQLiteStore) Chunks(ctx context.Context, key string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, chunk_key, position, content, embedding_json FROM data_chunks WHERE chunk_key = ? ORDER BY position ASC",
		key)
	if err != nil {
		return nil, fmt.Errorf("failed to query data_chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var chunk Chunk
		var embeddingJSON sql.NullString
		if err := rows.Scan(&chunk.ID, &chunk.ChunkKey, &chunk.Position, &chunk.Content, &embeddingJSON); err != nil {
			return nil, fmt.Errorf("failed to scan data_chunk row: %w", err)
		}
		if embeddingJSON.Valid && embeddingJSON.String != "" {
			chunk.EmbeddingJSON = embeddingJSON.String
			if err := json.Unmarshal([]byte(embeddingJSON.String), &chunk.Embedding); err != nil {
				chunk.Embedding = nil
			}
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate data_chunks: %w", err)
	}
	return chunks, nil
}
