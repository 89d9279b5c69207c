package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/comigor/parley/internal/agent"
	"github.com/comigor/parley/internal/chat"
	"github.com/comigor/parley/internal/history"
	"github.com/comigor/parley/internal/llm"
	"github.com/comigor/parley/internal/speech"
)

type stubModel struct {
	reply string
	err   error
}

func (m *stubModel) StartChat(context.Context, []chat.Message) (llm.Conversation, error) {
	return m, nil
}

func (m *stubModel) Send(_ context.Context, text string, _ *chat.Attachment) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.reply, nil
}

type recordingEngine struct {
	mu       sync.Mutex
	segments []string
}

func (e *recordingEngine) Start(segment string, done func(error)) {
	e.mu.Lock()
	e.segments = append(e.segments, segment)
	e.mu.Unlock()
}

func (e *recordingEngine) Cancel() {}

func newTestServer(t *testing.T, model llm.Model, player *speech.Player) (*Server, *history.Store) {
	t.Helper()
	store := history.NewStore(history.NewMemorySlot(0))
	require.NoError(t, store.Load(context.Background()))
	return New(agent.New(store, model), store, player), store
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestSendMessage(t *testing.T) {
	s, store := newTestServer(t, &stubModel{reply: "Hi there"}, nil)
	h := s.Handler()

	rr := do(t, h, http.MethodPost, "/messages", `{"text":"Hello"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	var got messageView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	require.Equal(t, chat.RoleModel, got.Role)
	require.Equal(t, "Hi there", got.Content)

	active, _ := store.Active()
	require.Len(t, active.Messages, 2)
	require.Equal(t, "Hello", active.Title)
}

func TestSendMessage_Errors(t *testing.T) {
	s, _ := newTestServer(t, &stubModel{err: errors.New("dial tcp: refused")}, nil)
	h := s.Handler()

	rr := do(t, h, http.MethodPost, "/messages", `{"text":"  "}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/messages", `not json`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/messages", `{"image":"data:text/plain;base64,aGk="}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/messages", `{"text":"Hello"}`)
	require.Equal(t, http.StatusBadGateway, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, agent.ConnectionErrorMessage, body["error"])
}

func TestSendMessage_BodyTooLarge(t *testing.T) {
	s, store := newTestServer(t, &stubModel{reply: "ok"}, nil)
	s.MaxBodyBytes = 64

	image := "data:image/png;base64," + strings.Repeat("A", 128)
	rr := do(t, s.Handler(), http.MethodPost, "/messages", `{"image":"`+image+`"}`)
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)

	active, _ := store.Active()
	require.Empty(t, active.Messages)
}

func TestSendMessage_WithImage(t *testing.T) {
	s, store := newTestServer(t, &stubModel{reply: "a dot"}, nil)

	rr := do(t, s.Handler(), http.MethodPost, "/messages", `{"image":"data:image/png;base64,AQID"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	active, _ := store.Active()
	require.Equal(t, "Image", active.Title)
	require.Equal(t, "image/png", active.Messages[0].Attachment.MIMEType)
}

func TestSessionLifecycle(t *testing.T) {
	s, store := newTestServer(t, &stubModel{reply: "ok"}, nil)
	h := s.Handler()
	first, _ := store.Active()

	rr := do(t, h, http.MethodPost, "/sessions", "")
	require.Equal(t, http.StatusCreated, rr.Code)
	var created sessionView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.True(t, created.Active)
	require.Equal(t, chat.DefaultTitle, created.Title)

	rr = do(t, h, http.MethodGet, "/sessions", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list []sessionView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list, 2)
	require.Equal(t, created.ID, list[0].ID, "newest first")

	rr = do(t, h, http.MethodPost, "/sessions/"+first.ID+"/activate", "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodGet, "/sessions/active", "")
	var active sessionView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &active))
	require.Equal(t, first.ID, active.ID)

	rr = do(t, h, http.MethodDelete, "/sessions/"+first.ID, "")
	require.Equal(t, http.StatusNoContent, rr.Code)
	_, ok := store.Get(first.ID)
	require.False(t, ok)

	rr = do(t, h, http.MethodPost, "/sessions/missing/activate", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSessionStatus(t *testing.T) {
	s, store := newTestServer(t, &stubModel{err: errors.New("boom")}, nil)
	h := s.Handler()
	active, _ := store.Active()

	do(t, h, http.MethodPost, "/messages", `{"text":"Hello"}`)

	rr := do(t, h, http.MethodGet, "/sessions/"+active.ID+"/status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var st agent.Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	require.False(t, st.Loading)
	require.Equal(t, agent.ConnectionErrorMessage, st.Error)

	rr = do(t, h, http.MethodGet, "/sessions/missing/status", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestExportSession(t *testing.T) {
	s, store := newTestServer(t, &stubModel{reply: "ok"}, nil)
	h := s.Handler()
	do(t, h, http.MethodPost, "/messages", `{"text":"Trip plan"}`)
	active, _ := store.Active()

	rr := do(t, h, http.MethodGet, "/sessions/"+active.ID+"/export", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, `attachment; filename="Trip_plan.txt"`, rr.Header().Get("Content-Disposition"))
	require.Contains(t, rr.Body.String(), "USER: Trip plan")

	rr = do(t, h, http.MethodGet, "/sessions/"+active.ID+"/export?format=json", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	rr = do(t, h, http.MethodGet, "/sessions/"+active.ID+"/export?format=pdf", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSpeakMessage(t *testing.T) {
	engine := &recordingEngine{}
	player := speech.NewPlayer(engine, 0)
	s, store := newTestServer(t, &stubModel{reply: "First. Second."}, player)
	h := s.Handler()
	do(t, h, http.MethodPost, "/messages", `{"text":"Read to me"}`)
	active, _ := store.Active()
	reply := active.Messages[1]

	rr := do(t, h, http.MethodPost, "/sessions/"+active.ID+"/messages/"+reply.ID+"/speak", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"speaking":true}`, rr.Body.String())
	id, speaking := player.Speaking()
	require.True(t, speaking)
	require.Equal(t, reply.ID, id)

	rr = do(t, h, http.MethodPost, "/speech/stop", "")
	require.Equal(t, http.StatusNoContent, rr.Code)
	_, speaking = player.Speaking()
	require.False(t, speaking)

	rr = do(t, h, http.MethodPost, "/sessions/"+active.ID+"/messages/nope/speak", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSpeakMessage_Disabled(t *testing.T) {
	s, store := newTestServer(t, &stubModel{reply: "ok"}, nil)
	active, _ := store.Active()
	rr := do(t, s.Handler(), http.MethodPost, "/sessions/"+active.ID+"/messages/x/speak", "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
