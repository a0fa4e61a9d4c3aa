package stubserver

import (
	"context"
	"fmt"
	"strings"

	"docchat.io/chat-client/internal/api"
	"docchat.io/chat-client/internal/store"
	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Prompt is everything a responder gets for one question.
type Prompt struct {
	Query    string
	Mode     string
	History  []store.Message // oldest first, excludes Query
	Passages []string        // retrieved document text, pdf mode only
}

type Responder interface {
	Respond(ctx context.Context, p Prompt) (string, error)
}

const noPassagesReply = "I couldn't find anything about that in the selected document."

// EchoResponder answers without a model: general questions are echoed back
// and document questions get the retrieved passages verbatim.
type EchoResponder struct{}

func (EchoResponder) Respond(_ context.Context, p Prompt) (string, error) {
	if p.Mode == api.ModePDF {
		if len(p.Passages) == 0 {
			return noPassagesReply, nil
		}
		return strings.Join(p.Passages, "\n\n"), nil
	}
	return "echo: " + p.Query, nil
}

const (
	defaultChatModelName      = "gemini-1.5-flash-latest"
	defaultEmbeddingModelName = "text-embedding-004"

	chatSystemInstruction = "You are a helpful assistant answering questions about the user's documents. " +
		"When document passages are provided, answer only from them and say so when they do not contain the answer. " +
		"Keep answers concise."
)

// GeminiResponder answers with a Gemini model. It also embeds text, so it can
// back a Retriever.
type GeminiResponder struct {
	client *genai.Client
	logger *zap.Logger
}

func NewGeminiResponder(ctx context.Context, apiKey string, logger *zap.Logger) (*GeminiResponder, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiResponder{client: client, logger: logger.Named("gemini")}, nil
}

func (g *GeminiResponder) Close() error {
	return g.client.Close()
}

func (g *GeminiResponder) Embed(ctx context.Context, text string) ([]float32, error) {
	em := g.client.EmbeddingModel(defaultEmbeddingModelName)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embedding request failed: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding data received from gemini")
	}
	return res.Embedding.Values, nil
}

// geminiRole maps stored senders onto the roles Gemini accepts.
func geminiRole(sender string) string {
	if sender == "user" {
		return "user"
	}
	return "model"
}

func buildUserTurn(p Prompt) string {
	if p.Mode != api.ModePDF {
		return p.Query
	}
	if len(p.Passages) == 0 {
		return fmt.Sprintf("No passage of the selected document matched this question. Say so, then answer if you can: %s", p.Query)
	}
	return fmt.Sprintf("Passages from the selected document:\n\n--- CONTEXT START ---\n%s\n--- CONTEXT END ---\n\nQuestion: %s",
		strings.Join(p.Passages, "\n\n"), p.Query)
}

func (g *GeminiResponder) Respond(ctx context.Context, p Prompt) (string, error) {
	model := g.client.GenerativeModel(defaultChatModelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(chatSystemInstruction)},
	}

	session := model.StartChat()
	for _, msg := range p.History {
		session.History = append(session.History, &genai.Content{
			Role:  geminiRole(msg.Sender),
			Parts: []genai.Part{genai.Text(msg.Message)},
		})
	}

	resp, err := session.SendMessage(ctx, genai.Text(buildUserTurn(p)))
	if err != nil {
		return "", fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		g.logger.Warn("gemini response had no candidates")
		return "I'm sorry, I couldn't generate a response at this time. Please try again.", nil
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		} else {
			g.logger.Debug("ignoring non-text response part", zap.String("type", fmt.Sprintf("%T", part)))
		}
	}
	if text.Len() == 0 {
		return "I received an empty response, please try rephrasing your question.", nil
	}
	return text.String(), nil
}
