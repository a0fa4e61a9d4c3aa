package stubserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// requestLogger logs one line per request through zap.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", r.Header.Get("X-Request-ID")),
			)
		})
	}
}

func NewRouter(h *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes) // the client posts to /upload_pdf/

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)

		r.Get("/chats", h.ListChatsHandler)
		r.Get("/chats/{chatID}/messages", h.ChatHistoryHandler)
		r.Post("/create_chats", h.CreateChatHandler)
		r.Put("/chats/{chatID}", h.RenameChatHandler)
		r.Delete("/chats/{chatID}", h.DeleteChatHandler)
		r.Post("/chat", h.ChatHandler)

		r.Get("/pdfs", h.ListPDFsHandler)
		r.Post("/select_pdf", h.SelectPDFHandler)
		r.Post("/upload_pdf", h.UploadPDFHandler)
	})

	return r
}
