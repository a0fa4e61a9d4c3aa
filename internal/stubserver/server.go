// Package stubserver is a local implementation of the chat backend's REST
// contract, backed by sqlite. It exists for development and end-to-end tests
// of the client.
package stubserver

import (
	"context"
	"fmt"
	"net/http"

	"docchat.io/chat-client/internal/store"
	"go.uber.org/zap"
)

type Options struct {
	DatabaseURL  string
	UploadDir    string
	JWTSecret    string
	GeminiAPIKey string // empty selects the echo responder and hash embeddings
}

// Server bundles the handler with the resources it owns.
type Server struct {
	Handler http.Handler

	db     *store.SQLiteStore
	gemini *GeminiResponder
}

func New(ctx context.Context, opts Options, logger *zap.Logger) (*Server, error) {
	db, err := store.NewSQLiteStore(opts.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	srv := &Server{db: db}
	var (
		responder Responder = EchoResponder{}
		embedder  Embedder  = HashEmbedder{}
	)
	if opts.GeminiAPIKey != "" {
		gemini, err := NewGeminiResponder(ctx, opts.GeminiAPIKey, logger)
		if err != nil {
			db.Close()
			return nil, err
		}
		srv.gemini = gemini
		responder, embedder = gemini, gemini
		logger.Info("using gemini responder")
	}

	retriever := NewRetriever(db, embedder, logger)
	svc := NewChatService(db, retriever, responder, opts.UploadDir, logger)
	srv.Handler = NewRouter(NewAPIHandler(svc, opts.JWTSecret, logger))
	return srv, nil
}

func (s *Server) Close() error {
	var err error
	if s.gemini != nil {
		err = s.gemini.Close()
	}
	if dbErr := s.db.Close(); err == nil {
		err = dbErr
	}
	return err
}
