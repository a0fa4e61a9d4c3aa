// Package api is the HTTP transport for the chat backend. Every method takes
// the bearer token for that single call and returns either the decoded
// payload or one of ErrUnauthorized, ErrNetwork (wrapped) or *ServerError.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInvalidRequest is returned before any network traffic when a request
// body fails validation.
var ErrInvalidRequest = errors.New("invalid request")

const maxResponseBytes = 10 << 20

type Client struct {
	baseURL  string
	http     *http.Client
	validate *validator.Validate
	logger   *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: timeout},
		validate: validator.New(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("api")
	return c
}

// Chat directory

func (c *Client) ListChats(ctx context.Context, token string) ([]Chat, error) {
	var chats []Chat
	if err := c.do(ctx, token, http.MethodGet, "/chats", nil, nil, "", &chats); err != nil {
		return nil, err
	}
	return chats, nil
}

func (c *Client) ChatHistory(ctx context.Context, token string, chatID int64) (*ChatHistory, error) {
	var history ChatHistory
	path := "/chats/" + strconv.FormatInt(chatID, 10) + "/messages"
	if err := c.do(ctx, token, http.MethodGet, path, nil, nil, "", &history); err != nil {
		return nil, err
	}
	return &history, nil
}

func (c *Client) CreateChat(ctx context.Context, token string, req CreateChatRequest) (*CreateChatResponse, error) {
	body, err := c.jsonBody(req)
	if err != nil {
		return nil, err
	}
	var resp CreateChatResponse
	if err := c.do(ctx, token, http.MethodPost, "/create_chats", nil, body, "application/json", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) RenameChat(ctx context.Context, token string, chatID int64, newName string) (*RenameChatResponse, error) {
	if strings.TrimSpace(newName) == "" {
		return nil, fmt.Errorf("%w: new name is empty", ErrInvalidRequest)
	}
	var resp RenameChatResponse
	path := "/chats/" + strconv.FormatInt(chatID, 10)
	query := url.Values{"new_name": {newName}}
	if err := c.do(ctx, token, http.MethodPut, path, query, nil, "", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) DeleteChat(ctx context.Context, token string, chatID int64) error {
	path := "/chats/" + strconv.FormatInt(chatID, 10)
	return c.do(ctx, token, http.MethodDelete, path, nil, nil, "", nil)
}

// Messages

func (c *Client) Chat(ctx context.Context, token string, req ChatRequest) (*ChatResponse, error) {
	body, err := c.jsonBody(req)
	if err != nil {
		return nil, err
	}
	var resp ChatResponse
	if err := c.do(ctx, token, http.MethodPost, "/chat", nil, body, "application/json", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Documents

func (c *Client) ListPDFs(ctx context.Context, token string) ([]PDF, error) {
	var list PDFList
	if err := c.do(ctx, token, http.MethodGet, "/pdfs", nil, nil, "", &list); err != nil {
		return nil, err
	}
	return list.PDFs, nil
}

func (c *Client) SelectPDF(ctx context.Context, token string, fileID int64) (*SelectPDFResponse, error) {
	var resp SelectPDFResponse
	query := url.Values{"file_id": {strconv.FormatInt(fileID, 10)}}
	if err := c.do(ctx, token, http.MethodPost, "/select_pdf", query, nil, "", &resp); err != nil {
		return nil, err
	}
	if resp.ChunkFilename == "" {
		return nil, &ServerError{StatusCode: http.StatusOK, Detail: "select_pdf returned no chunk_filename"}
	}
	return &resp, nil
}

// UploadPDF sends the file as multipart field "file". The backend processes
// the document before answering, so this call can take a long time.
func (c *Client) UploadPDF(ctx context.Context, token, filename string, r io.Reader) (*UploadResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("build upload body: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("read upload source: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build upload body: %w", err)
	}

	var resp UploadResponse
	if err := c.do(ctx, token, http.MethodPost, "/upload_pdf/", nil, &buf, mw.FormDataContentType(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) jsonBody(v any) (io.Reader, error) {
	if err := c.validate.Struct(v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return bytes.NewReader(payload), nil
}

func (c *Client) do(ctx context.Context, token, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	log := c.logger.With(zap.String("method", method), zap.String("path", path), zap.String("request_id", requestID))
	start := time.Now()

	res, err := c.http.Do(req)
	if err != nil {
		log.Warn("request failed", zap.Error(err))
		return fmt.Errorf("%s %s: %w: %w", method, path, ErrNetwork, err)
	}
	defer res.Body.Close()

	resBody, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		log.Warn("read response failed", zap.Int("status", res.StatusCode), zap.Error(err))
		return fmt.Errorf("%s %s: %w: %w", method, path, ErrNetwork, err)
	}

	log.Debug("response", zap.Int("status", res.StatusCode), zap.Duration("elapsed", time.Since(start)))

	if res.StatusCode < 200 || res.StatusCode > 299 {
		cerr := classify(res.StatusCode, resBody)
		log.Warn("request rejected", zap.Int("status", res.StatusCode), zap.Error(cerr))
		return fmt.Errorf("%s %s: %w", method, path, cerr)
	}

	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(resBody)) == 0 {
		return fmt.Errorf("%s %s: %w", method, path, &ServerError{StatusCode: res.StatusCode, Detail: "empty response body"})
	}
	if err := json.Unmarshal(resBody, out); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, &ServerError{StatusCode: res.StatusCode, Detail: "malformed response: " + err.Error()})
	}
	return nil
}
