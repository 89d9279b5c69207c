package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/comigor/parley/internal/agent"
	"github.com/comigor/parley/internal/chat"
	"github.com/comigor/parley/internal/export"
	"github.com/comigor/parley/internal/history"
	"github.com/comigor/parley/internal/logger"
	"github.com/comigor/parley/internal/speech"
)

// DefaultMaxBodyBytes caps a send request, image data URI included.
const DefaultMaxBodyBytes = 10 << 20

// Server exposes sessions, sending, export and speech over HTTP.
type Server struct {
	agent  *agent.Agent
	store  *history.Store
	player *speech.Player // nil when speech is disabled

	// MaxBodyBytes limits request bodies; larger ones get 413.
	MaxBodyBytes int64
}

func New(a *agent.Agent, store *history.Store, player *speech.Player) *Server {
	return &Server{agent: a, store: store, player: player, MaxBodyBytes: DefaultMaxBodyBytes}
}

type messageView struct {
	ID        string    `json:"id"`
	Role      chat.Role `json:"role"`
	Content   string    `json:"content"`
	Image     bool      `json:"image,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

type sessionView struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	CreatedAt int64         `json:"createdAt"`
	Active    bool          `json:"active"`
	Messages  []messageView `json:"messages"`
}

type sendRequest struct {
	Text  string `json:"text"`
	Image string `json:"image,omitempty"` // data URI
}

func viewMessage(m chat.Message) messageView {
	return messageView{ID: m.ID, Role: m.Role, Content: m.Content, Image: m.Attachment != nil, Timestamp: m.Timestamp}
}

func (s *Server) viewSession(sess chat.Session) sessionView {
	active, _ := s.store.Active()
	v := sessionView{
		ID:        sess.ID,
		Title:     sess.Title,
		CreatedAt: sess.CreatedAt,
		Active:    sess.ID == active.ID,
		Messages:  make([]messageView, 0, len(sess.Messages)),
	}
	for _, m := range sess.Messages {
		v.Messages = append(v.Messages, viewMessage(m))
	}
	return v
}

// Handler returns the routed, logged API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /sessions", s.listSessions)
	mux.HandleFunc("POST /sessions", s.createSession)
	mux.HandleFunc("GET /sessions/active", s.activeSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.deleteSession)
	mux.HandleFunc("POST /sessions/{id}/activate", s.activateSession)
	mux.HandleFunc("GET /sessions/{id}/status", s.sessionStatus)
	mux.HandleFunc("GET /sessions/{id}/export", s.exportSession)
	mux.HandleFunc("POST /sessions/{id}/messages/{mid}/speak", s.speakMessage)
	mux.HandleFunc("POST /speech/stop", s.stopSpeech)
	mux.HandleFunc("POST /messages", s.sendMessage)

	return withLogging(mux)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.store.List()
	out := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, s.viewSession(sess))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	sess := s.agent.NewSession(r.Context())
	writeJSON(w, http.StatusCreated, s.viewSession(sess))
}

func (s *Server) activeSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.store.Active()
	if !ok {
		writeError(w, http.StatusNotFound, agent.ErrNoActiveSession)
		return
	}
	writeJSON(w, http.StatusOK, s.viewSession(sess))
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	s.agent.DeleteSession(r.Context(), r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) activateSession(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Activate(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	sess, _ := s.store.Active()
	writeJSON(w, http.StatusOK, s.viewSession(sess))
}

func (s *Server) sessionStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.store.Get(id); !ok {
		writeError(w, http.StatusNotFound, history.ErrSessionNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.agent.Status(id))
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	body := http.MaxBytesReader(w, r.Body, s.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	var image *chat.Attachment
	if req.Image != "" {
		var err error
		if image, err = chat.ParseDataURI(req.Image); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	reply, err := s.agent.Send(r.Context(), req.Text, image)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, viewMessage(reply))
	case errors.Is(err, agent.ErrEmptyInput):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, agent.ErrBusy), errors.Is(err, agent.ErrNoActiveSession):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, agent.ErrConnection):
		writeError(w, http.StatusBadGateway, err)
	case errors.Is(err, history.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) exportSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.store.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, history.ErrSessionNotFound)
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = string(export.FormatText)
	}
	f, err := export.ParseFormat(format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	doc, err := export.Export(sess, f)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.Header().Set("Content-Type", doc.MIMEType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc.Data)
}

func (s *Server) speakMessage(w http.ResponseWriter, r *http.Request) {
	if s.player == nil {
		writeError(w, http.StatusServiceUnavailable, speech.ErrDisabled)
		return
	}
	sess, ok := s.store.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, history.ErrSessionNotFound)
		return
	}
	mid := r.PathValue("mid")
	for _, m := range sess.Messages {
		if m.ID == mid {
			started := s.player.Speak(m.ID, m.Content)
			writeJSON(w, http.StatusOK, map[string]bool{"speaking": started})
			return
		}
	}
	writeError(w, http.StatusNotFound, fmt.Errorf("message %s not found", mid))
}

func (s *Server) stopSpeech(w http.ResponseWriter, r *http.Request) {
	if s.player != nil {
		s.player.Stop()
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.L.Error("write response error", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withLogging logs every request with its status and duration.
func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.L.Info("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}
