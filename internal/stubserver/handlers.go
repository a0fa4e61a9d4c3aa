package stubserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"docchat.io/chat-client/internal/api"
	"docchat.io/chat-client/internal/auth"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const maxUploadBytes = 32 << 20

type ctxKey int

const userIDKey ctxKey = iota

func userIDFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(userIDKey).(int64)
	return id
}

type APIHandler struct {
	svc      *ChatService
	secret   string
	validate *validator.Validate
	logger   *zap.Logger
}

func NewAPIHandler(svc *ChatService, jwtSecret string, logger *zap.Logger) *APIHandler {
	return &APIHandler{
		svc:      svc,
		secret:   jwtSecret,
		validate: validator.New(),
		logger:   logger.Named("http"),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeDetail writes an error body in the {"detail": "..."} shape clients
// expect.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (h *APIHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrUserNotFound):
		writeDetail(w, http.StatusNotFound, "User not found")
	case errors.Is(err, ErrChatNotFound):
		writeDetail(w, http.StatusNotFound, "Chat not found")
	case errors.Is(err, ErrFileNotFound):
		writeDetail(w, http.StatusNotFound, "File not found")
	case errors.Is(err, ErrChunkRequired):
		writeDetail(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		userID, err := auth.ValidateJWT(h.secret, tokenString)
		if err != nil {
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}
		if err := h.svc.EnsureUser(r.Context(), userID); err != nil {
			h.logger.Error("failed to register user", zap.Int64("user_id", userID), zap.Error(err))
			writeDetail(w, http.StatusInternalServerError, "Failed to process user identity")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil
}

func (h *APIHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "Invalid request body: "+err.Error())
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return false
	}
	return true
}

func (h *APIHandler) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	chats, err := h.svc.ListChats(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (h *APIHandler) ChatHistoryHandler(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathID(r, "chatID")
	if !ok {
		writeDetail(w, http.StatusUnprocessableEntity, "chat_id must be an integer")
		return
	}
	history, err := h.svc.History(r.Context(), userIDFrom(r.Context()), chatID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *APIHandler) CreateChatHandler(w http.ResponseWriter, r *http.Request) {
	var req api.CreateChatRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.UserID != userIDFrom(r.Context()) {
		writeDetail(w, http.StatusForbidden, "Cannot create chats for another user")
		return
	}
	resp, err := h.svc.CreateChat(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *APIHandler) RenameChatHandler(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathID(r, "chatID")
	if !ok {
		writeDetail(w, http.StatusUnprocessableEntity, "chat_id must be an integer")
		return
	}
	name := r.URL.Query().Get("new_name")
	if name == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "new_name is required")
		return
	}
	resp, err := h.svc.RenameChat(r.Context(), userIDFrom(r.Context()), chatID, name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) DeleteChatHandler(w http.ResponseWriter, r *http.Request) {
	chatID, ok := pathID(r, "chatID")
	if !ok {
		writeDetail(w, http.StatusUnprocessableEntity, "chat_id must be an integer")
		return
	}
	if err := h.svc.DeleteChat(r.Context(), userIDFrom(r.Context()), chatID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var req api.ChatRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.svc.Chat(r.Context(), userIDFrom(r.Context()), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) ListPDFsHandler(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.ListFiles(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *APIHandler) SelectPDFHandler(w http.ResponseWriter, r *http.Request) {
	fileID, err := strconv.ParseInt(r.URL.Query().Get("file_id"), 10, 64)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "file_id must be an integer")
		return
	}
	resp, err := h.svc.SelectFile(r.Context(), userIDFrom(r.Context()), fileID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) UploadPDFHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "file is required: "+err.Error())
		return
	}
	defer file.Close()

	resp, err := h.svc.Upload(r.Context(), userIDFrom(r.Context()), header.Filename, file)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
