package llm

import (
	"context"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/parley/internal/chat"
)

// Client is minimal subset of openai.Client used by OpenAIModel; it is easy to mock in tests.
type Client interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Model opens server-side conversations with a hosted model.
type Model interface {
	// StartChat opens a conversation seeded with prior history.
	StartChat(ctx context.Context, history []chat.Message) (Conversation, error)
}

// Conversation is the handle for one session's chat on the model side.
type Conversation interface {
	Send(ctx context.Context, text string, image *chat.Attachment) (string, error)
}

// imagePlaceholder is the text of an image-only turn replayed after its
// image was dropped; neither API accepts an empty turn.
const imagePlaceholder = "[image]"

// historyText returns the text a replayed message is sent with.
func historyText(m chat.Message) string {
	if strings.TrimSpace(m.Content) == "" {
		return imagePlaceholder
	}
	return m.Content
}
