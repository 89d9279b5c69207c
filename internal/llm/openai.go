package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/parley/internal/chat"
	"github.com/comigor/parley/internal/config"
	"github.com/comigor/parley/internal/logger"
)

// NewClient creates a new OpenAI client
func NewClient(cfg config.LLMConfig) *openai.Client {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return openai.NewClientWithConfig(config)
}

// OpenAIModel talks to any OpenAI-compatible chat completions endpoint.
type OpenAIModel struct {
	client       Client
	model        string
	systemPrompt string
}

func NewOpenAIModel(client Client, cfg config.LLMConfig) *OpenAIModel {
	return &OpenAIModel{client: client, model: cfg.Model, systemPrompt: cfg.SystemPrompt}
}

// StartChat implements Model. Completions are stateless on the server, so
// the handle carries the message list itself.
func (m *OpenAIModel) StartChat(_ context.Context, history []chat.Message) (Conversation, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if m.systemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: m.systemPrompt})
	}
	for _, h := range history {
		role := openai.ChatMessageRoleUser
		if h.Role == chat.RoleModel {
			role = openai.ChatMessageRoleAssistant
		}
		if h.Attachment != nil && role == openai.ChatMessageRoleUser {
			msgs = append(msgs, userMessage(h.Content, h.Attachment))
			continue
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: historyText(h)})
	}
	logger.L.Debug("openai chat started", "model", m.model, "history", len(history))
	return &openAIConversation{model: m, messages: msgs}, nil
}

type openAIConversation struct {
	model *OpenAIModel

	mu       sync.Mutex
	messages []openai.ChatCompletionMessage
}

func (c *openAIConversation) Send(ctx context.Context, text string, image *chat.Attachment) (string, error) {
	user := userMessage(text, image)

	c.mu.Lock()
	req := openai.ChatCompletionRequest{
		Model:    c.model.model,
		Messages: append(append([]openai.ChatCompletionMessage(nil), c.messages...), user),
	}
	c.mu.Unlock()

	resp, err := c.model.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", errors.New("openai returned empty reply")
	}
	reply := resp.Choices[0].Message.Content

	c.mu.Lock()
	c.messages = append(c.messages, user, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: reply,
	})
	c.mu.Unlock()

	return reply, nil
}

// userMessage builds a user turn; images go as data-URI image_url parts.
func userMessage(text string, image *chat.Attachment) openai.ChatCompletionMessage {
	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if image == nil {
		user.Content = text
		return user
	}
	if strings.TrimSpace(text) != "" {
		user.MultiContent = append(user.MultiContent, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: text})
	}
	user.MultiContent = append(user.MultiContent, openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeImageURL,
		ImageURL: &openai.ChatMessageImageURL{
			URL:    image.DataURI(),
			Detail: openai.ImageURLDetailAuto,
		},
	})
	return user
}
