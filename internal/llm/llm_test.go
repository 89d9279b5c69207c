package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/comigor/parley/internal/chat"
	"github.com/comigor/parley/internal/config"
)

type mockLLM struct {
	calls    []openai.ChatCompletionResponse
	err      error
	requests []openai.ChatCompletionRequest
}

func (m *mockLLM) CreateChatCompletion(ctx context.Context, r openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.requests = append(m.requests, r)
	if m.err != nil {
		return openai.ChatCompletionResponse{}, m.err
	}
	if len(m.calls) == 0 {
		panic("mockLLM: no more responses configured")
	}
	resp := m.calls[0]
	m.calls = m.calls[1:]
	return resp, nil
}

func reply(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: content}}}}
}

func TestOpenAIModel_HistoryAndFollowUp(t *testing.T) {
	mock := &mockLLM{calls: []openai.ChatCompletionResponse{reply("Paris."), reply("About 2 million.")}}
	m := NewOpenAIModel(mock, config.LLMConfig{Model: "gpt", SystemPrompt: "be brief"})

	history := []chat.Message{
		chat.NewMessage(chat.RoleUser, "hi", nil),
		chat.NewMessage(chat.RoleModel, "hello!", nil),
	}
	conv, err := m.StartChat(context.Background(), history)
	require.NoError(t, err)

	out, err := conv.Send(context.Background(), "Capital of France?", nil)
	require.NoError(t, err)
	require.Equal(t, "Paris.", out)

	first := mock.requests[0]
	require.Equal(t, "gpt", first.Model)
	require.Len(t, first.Messages, 4)
	require.Equal(t, openai.ChatMessageRoleSystem, first.Messages[0].Role)
	require.Equal(t, openai.ChatMessageRoleAssistant, first.Messages[2].Role)
	require.Equal(t, "Capital of France?", first.Messages[3].Content)

	out, err = conv.Send(context.Background(), "Population?", nil)
	require.NoError(t, err)
	require.Equal(t, "About 2 million.", out)
	require.Len(t, mock.requests[1].Messages, 6, "handle keeps the previous exchange")
}

func TestOpenAIModel_ImageSentAsDataURI(t *testing.T) {
	mock := &mockLLM{calls: []openai.ChatCompletionResponse{reply("A cat.")}}
	m := NewOpenAIModel(mock, config.LLMConfig{Model: "gpt"})
	conv, err := m.StartChat(context.Background(), nil)
	require.NoError(t, err)

	img := &chat.Attachment{MIMEType: "image/png", Data: []byte{1, 2}}
	_, err = conv.Send(context.Background(), "what is this?", img)
	require.NoError(t, err)

	user := mock.requests[0].Messages[0]
	require.Empty(t, user.Content)
	require.Len(t, user.MultiContent, 2)
	require.Equal(t, img.DataURI(), user.MultiContent[1].ImageURL.URL)
}

func TestOpenAIModel_ErrorsDoNotGrowHistory(t *testing.T) {
	mock := &mockLLM{err: context.DeadlineExceeded}
	m := NewOpenAIModel(mock, config.LLMConfig{Model: "gpt"})
	conv, err := m.StartChat(context.Background(), nil)
	require.NoError(t, err)

	_, err = conv.Send(context.Background(), "hi", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	mock.err = nil
	mock.calls = []openai.ChatCompletionResponse{reply("")}
	_, err = conv.Send(context.Background(), "hi", nil)
	require.Error(t, err)
	require.Len(t, mock.requests[1].Messages, 1)
}

type fakeGeminiChat struct {
	parts [][]genai.Part
	text  string
	err   error
}

func (f *fakeGeminiChat) SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	f.parts = append(f.parts, parts)
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: f.text}}}}},
	}, nil
}

func TestGeminiModel_StartChatMapsHistory(t *testing.T) {
	fake := &fakeGeminiChat{text: "**bold** reply"}
	var gotModel string
	var gotHistory []*genai.Content
	var gotConfig *genai.GenerateContentConfig
	start := func(ctx context.Context, model string, cfg *genai.GenerateContentConfig, history []*genai.Content) (geminiChat, error) {
		gotModel, gotHistory, gotConfig = model, history, cfg
		return fake, nil
	}
	m := newGeminiModel(start, config.LLMConfig{Model: "gemini-2.5-flash", SystemPrompt: "be kind"})

	conv, err := m.StartChat(context.Background(), []chat.Message{
		chat.NewMessage(chat.RoleUser, "hi", nil),
		chat.NewMessage(chat.RoleModel, "hello", nil),
	})
	require.NoError(t, err)
	require.Equal(t, "gemini-2.5-flash", gotModel)
	require.Len(t, gotHistory, 2)
	require.Equal(t, "model", string(gotHistory[1].Role))
	require.NotNil(t, gotConfig)
	require.NotNil(t, gotConfig.SystemInstruction)

	img := &chat.Attachment{MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8}}
	out, err := conv.Send(context.Background(), "describe", img)
	require.NoError(t, err)
	require.Equal(t, "**bold** reply", out)
	require.Len(t, fake.parts[0], 2)
	require.Equal(t, "describe", fake.parts[0][0].Text)
	require.Equal(t, "image/jpeg", fake.parts[0][1].InlineData.MIMEType)
}

func TestGeminiModel_Errors(t *testing.T) {
	boom := errors.New("boom")
	failing := func(ctx context.Context, model string, cfg *genai.GenerateContentConfig, history []*genai.Content) (geminiChat, error) {
		return nil, boom
	}
	_, err := newGeminiModel(failing, config.LLMConfig{}).StartChat(context.Background(), nil)
	require.ErrorIs(t, err, boom)

	fake := &fakeGeminiChat{err: boom}
	ok := func(ctx context.Context, model string, cfg *genai.GenerateContentConfig, history []*genai.Content) (geminiChat, error) {
		return fake, nil
	}
	conv, err := newGeminiModel(ok, config.LLMConfig{}).StartChat(context.Background(), nil)
	require.NoError(t, err)
	_, err = conv.Send(context.Background(), "hi", nil)
	require.ErrorIs(t, err, boom)

	fake.err = nil
	_, err = conv.Send(context.Background(), "hi", nil)
	require.Error(t, err, "empty reply is an error")
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(context.Background(), config.LLMConfig{Provider: "llama"})
	require.Error(t, err)

	_, err = New(context.Background(), config.LLMConfig{Provider: "gemini"})
	require.Error(t, err, "gemini requires an api key")

	m, err := New(context.Background(), config.LLMConfig{Provider: "openai", APIKey: "k"})
	require.NoError(t, err)
	require.IsType(t, &OpenAIModel{}, m)
}

func TestGeminiModel_ImageOnlyHistory(t *testing.T) {
	var gotHistory []*genai.Content
	start := func(ctx context.Context, model string, cfg *genai.GenerateContentConfig, history []*genai.Content) (geminiChat, error) {
		gotHistory = history
		return &fakeGeminiChat{text: "ok"}, nil
	}
	m := newGeminiModel(start, config.LLMConfig{})

	// reloaded from storage: the image is gone, only the empty text remains
	_, err := m.StartChat(context.Background(), []chat.Message{
		chat.NewMessage(chat.RoleUser, "", nil),
		chat.NewMessage(chat.RoleModel, "a cat", nil),
	})
	require.NoError(t, err)
	require.Len(t, gotHistory, 2)
	require.Len(t, gotHistory[0].Parts, 1)
	require.Equal(t, imagePlaceholder, gotHistory[0].Parts[0].Text)
	require.Equal(t, "a cat", gotHistory[1].Parts[0].Text)

	// still in memory: the image is replayed without an empty text part
	img := &chat.Attachment{MIMEType: "image/png", Data: []byte{1}}
	_, err = m.StartChat(context.Background(), []chat.Message{chat.NewMessage(chat.RoleUser, " ", img)})
	require.NoError(t, err)
	require.Len(t, gotHistory[0].Parts, 1)
	require.Equal(t, "image/png", gotHistory[0].Parts[0].InlineData.MIMEType)
}

func TestOpenAIModel_ImageOnlyHistory(t *testing.T) {
	mock := &mockLLM{calls: []openai.ChatCompletionResponse{reply("sure"), reply("yes")}}
	m := NewOpenAIModel(mock, config.LLMConfig{Model: "gpt"})

	conv, err := m.StartChat(context.Background(), []chat.Message{
		chat.NewMessage(chat.RoleUser, "", nil),
		chat.NewMessage(chat.RoleModel, "a cat", nil),
	})
	require.NoError(t, err)
	_, err = conv.Send(context.Background(), "is it cute?", nil)
	require.NoError(t, err)
	require.Equal(t, imagePlaceholder, mock.requests[0].Messages[0].Content)

	img := &chat.Attachment{MIMEType: "image/png", Data: []byte{1}}
	_, err = conv.Send(context.Background(), "", img)
	require.NoError(t, err)
	user := mock.requests[1].Messages[len(mock.requests[1].Messages)-1]
	require.Len(t, user.MultiContent, 1, "no empty text part")
	require.Equal(t, openai.ChatMessagePartTypeImageURL, user.MultiContent[0].Type)
}
