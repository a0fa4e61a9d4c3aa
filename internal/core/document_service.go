package core

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"docchat.io/chat-client/internal/api"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

type DocumentAPI interface {
	ListPDFs(ctx context.Context, token string) ([]api.PDF, error)
	SelectPDF(ctx context.Context, token string, fileID int64) (*api.SelectPDFResponse, error)
	UploadPDF(ctx context.Context, token, filename string, r io.Reader) (*api.UploadResponse, error)
}

// DocumentService lists, binds and uploads documents. Listings are cached per
// user for a short TTL; an upload drops the cached listing.
type DocumentService struct {
	api    DocumentAPI
	cache  *cache.Cache // nil disables caching
	logger *zap.Logger
}

func NewDocumentService(a DocumentAPI, ttl time.Duration, logger *zap.Logger) *DocumentService {
	s := &DocumentService{api: a, logger: logger.Named("documents")}
	if ttl > 0 {
		s.cache = cache.New(ttl, 2*ttl)
	}
	return s
}

func cacheKey(userID int64) string {
	return "pdfs:" + strconv.FormatInt(userID, 10)
}

// List returns the user's documents, from cache when fresh.
func (s *DocumentService) List(ctx context.Context, token string, userID int64) ([]Document, error) {
	if docs, ok := s.Cached(userID); ok {
		return docs, nil
	}

	pdfs, err := s.api.ListPDFs(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	docs := make([]Document, 0, len(pdfs))
	for _, p := range pdfs {
		docs = append(docs, Document{ID: p.ID, Filename: p.Filename, UploadedAt: p.UploadedAt.Time})
	}
	if s.cache != nil {
		s.cache.Set(cacheKey(userID), docs, cache.DefaultExpiration)
	}
	s.logger.Debug("documents listed", zap.Int64("user_id", userID), zap.Int("count", len(docs)))
	return cloneDocuments(docs), nil
}

func (s *DocumentService) Cached(userID int64) ([]Document, bool) {
	if s.cache == nil {
		return nil, false
	}
	if x, found := s.cache.Get(cacheKey(userID)); found {
		return cloneDocuments(x.([]Document)), true
	}
	return nil, false
}

func (s *DocumentService) Invalidate(userID int64) {
	if s.cache != nil {
		s.cache.Delete(cacheKey(userID))
	}
}

// Select binds a document and returns its chunk key. The filename is taken
// from the listing; a failed listing leaves it empty rather than failing the
// bind.
func (s *DocumentService) Select(ctx context.Context, token string, userID, docID int64) (DocumentRef, error) {
	resp, err := s.api.SelectPDF(ctx, token, docID)
	if err != nil {
		return DocumentRef{}, fmt.Errorf("select document %d: %w", docID, err)
	}
	ref := DocumentRef{ID: docID, ChunkKey: resp.ChunkFilename}

	docs, ok := s.Cached(userID)
	if !ok {
		docs, err = s.List(ctx, token, userID)
		if err != nil {
			s.logger.Warn("could not resolve document filename", zap.Int64("document_id", docID), zap.Error(err))
		}
	}
	for _, d := range docs {
		if d.ID == docID {
			ref.Filename = d.Filename
			break
		}
	}
	s.logger.Info("document selected", zap.Int64("document_id", docID), zap.String("chunk_key", ref.ChunkKey))
	return ref, nil
}

// Upload hands the file to the server and returns the stored filename.
func (s *DocumentService) Upload(ctx context.Context, token string, userID int64, filename string, r io.Reader) (string, error) {
	resp, err := s.api.UploadPDF(ctx, token, filename, r)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", filename, err)
	}
	s.Invalidate(userID)
	stored := resp.Filename
	if stored == "" {
		stored = filename
	}
	s.logger.Info("document uploaded", zap.String("filename", stored))
	return stored, nil
}

func cloneDocuments(in []Document) []Document {
	out := make([]Document, len(in))
	copy(out, in)
	return out
}
