package stubserver

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"docchat.io/chat-client/internal/store"
	"go.uber.org/zap"
)

const (
	NumRelevantChunks = 3 // chunks handed to the responder per question

	defaultChunkSize    = 512 // words
	defaultChunkOverlap = 50
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ChunkKey names the chunk set of an uploaded file: "<stem>_text_chunks.pkl".
// Clients treat it as opaque.
func ChunkKey(filename string) string {
	base := filepath.Base(filename)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return stem + "_text_chunks.pkl"
}

// Retriever splits document text into overlapping word windows, embeds them,
// and ranks them against questions.
type Retriever struct {
	store     *store.SQLiteStore
	embedder  Embedder
	chunkSize int
	overlap   int
	logger    *zap.Logger
}

func NewRetriever(db *store.SQLiteStore, embedder Embedder, logger *zap.Logger) *Retriever {
	return &Retriever{
		store:     db,
		embedder:  embedder,
		chunkSize: defaultChunkSize,
		overlap:   defaultChunkOverlap,
		logger:    logger.Named("retriever"),
	}
}

func chunkWords(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if size <= overlap {
		overlap = 0
	}
	var chunks []string
	for i := 0; i < len(words); i += size - overlap {
		end := min(i+size, len(words))
		chunks = append(chunks, strings.Join(words[i:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}

// Index replaces the chunks stored under key with chunks of text. Chunks that
// fail to embed are skipped. It returns the number stored.
func (r *Retriever) Index(ctx context.Context, key, text string) (int, error) {
	raw := chunkWords(text, r.chunkSize, r.overlap)
	chunks := make([]store.Chunk, 0, len(raw))
	for i, content := range raw {
		embedding, err := r.embedder.Embed(ctx, content)
		if err != nil {
			r.logger.Warn("failed to embed chunk, skipping", zap.String("chunk_key", key), zap.Int("position", i), zap.Error(err))
			continue
		}
		chunks = append(chunks, store.Chunk{Position: i, Content: content, Embedding: embedding})
	}
	if err := r.store.ReplaceChunks(ctx, key, chunks); err != nil {
		return 0, fmt.Errorf("failed to store chunks: %w", err)
	}
	r.logger.Info("document indexed", zap.String("chunk_key", key), zap.Int("chunks", len(chunks)))
	return len(chunks), nil
}

type scoredChunk struct {
	chunk      store.Chunk
	similarity float32
}

// Search returns up to topK chunk texts under key that share anything with
// query, best first.
func (r *Retriever) Search(ctx context.Context, key, query string, topK int) ([]string, error) {
	chunks, err := r.store.Chunks(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		r.logger.Debug("no chunks for key", zap.String("chunk_key", key))
		return nil, nil
	}

	queryEmbedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get query embedding: %w", err)
	}

	scored := make([]scoredChunk, 0, len(chunks))
	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			continue
		}
		similarity, err := CosineSimilarity(queryEmbedding, chunk.Embedding)
		if err != nil {
			r.logger.Debug("similarity failed, skipping chunk", zap.Int64("chunk_id", chunk.ID), zap.Error(err))
			continue
		}
		if similarity > 0 {
			scored = append(scored, scoredChunk{chunk: chunk, similarity: similarity})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].similarity > scored[j].similarity
	})

	out := make([]string, 0, topK)
	for i := 0; i < len(scored) && i < topK; i++ {
		out = append(out, scored[i].chunk.Content)
	}
	r.logger.Debug("chunks retrieved", zap.String("chunk_key", key), zap.Int("count", len(out)))
	return out, nil
}
