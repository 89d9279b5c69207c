package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/comigor/parley/internal/chat"
	"github.com/comigor/parley/internal/config"
	"github.com/comigor/parley/internal/logger"
)

// geminiChat is the part of *genai.Chat we use.
type geminiChat interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type geminiStarter func(ctx context.Context, model string, cfg *genai.GenerateContentConfig, history []*genai.Content) (geminiChat, error)

// GeminiModel opens chats against the Gemini API.
type GeminiModel struct {
	start  geminiStarter
	model  string
	config *genai.GenerateContentConfig
}

// NewGeminiModel creates a Gemini-backed Model using an API key.
func NewGeminiModel(ctx context.Context, cfg config.LLMConfig) (*GeminiModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	start := func(ctx context.Context, model string, gc *genai.GenerateContentConfig, history []*genai.Content) (geminiChat, error) {
		c, err := client.Chats.Create(ctx, model, gc, history)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return newGeminiModel(start, cfg), nil
}

func newGeminiModel(start geminiStarter, cfg config.LLMConfig) *GeminiModel {
	m := &GeminiModel{start: start, model: cfg.Model}
	if cfg.SystemPrompt != "" {
		m.config = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(cfg.SystemPrompt, genai.RoleUser),
		}
	}
	return m
}

// StartChat implements Model.
func (m *GeminiModel) StartChat(ctx context.Context, history []chat.Message) (Conversation, error) {
	contents := make([]*genai.Content, 0, len(history))
	for _, h := range history {
		var role genai.Role = genai.RoleUser
		if h.Role == chat.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{Role: string(role), Parts: historyParts(h)})
	}

	c, err := m.start(ctx, m.model, m.config, contents)
	if err != nil {
		return nil, fmt.Errorf("gemini start chat: %w", err)
	}
	logger.L.Debug("gemini chat started", "model", m.model, "history", len(history))
	return &geminiConversation{chat: c}, nil
}

func historyParts(m chat.Message) []*genai.Part {
	if m.Attachment == nil {
		return []*genai.Part{{Text: historyText(m)}}
	}
	parts := make([]*genai.Part, 0, 2)
	if strings.TrimSpace(m.Content) != "" {
		parts = append(parts, &genai.Part{Text: m.Content})
	}
	return append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: m.Attachment.MIMEType, Data: m.Attachment.Data}})
}

type geminiConversation struct {
	chat geminiChat
}

func (c *geminiConversation) Send(ctx context.Context, text string, image *chat.Attachment) (string, error) {
	parts := make([]genai.Part, 0, 2)
	if strings.TrimSpace(text) != "" {
		parts = append(parts, genai.Part{Text: text})
	}
	if image != nil {
		parts = append(parts, genai.Part{InlineData: &genai.Blob{MIMEType: image.MIMEType, Data: image.Data}})
	}

	res, err := c.chat.SendMessage(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("gemini send: %w", err)
	}
	reply := res.Text()
	if reply == "" {
		return "", errors.New("gemini returned empty reply")
	}
	return reply, nil
}
