package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/qmuntal/stateless" // FSM library

	"github.com/comigor/parley/internal/chat"
	"github.com/comigor/parley/internal/history"
	"github.com/comigor/parley/internal/llm"
	"github.com/comigor/parley/internal/logger"
)

// FSM States
const (
	StateIdle    = "Idle"
	StateLoading = "Loading"
	StateFailed  = "Failed" // last send failed; a new send is allowed
)

// FSM Triggers
const (
	TriggerSubmit  = "Submit"
	TriggerReplied = "Replied"
	TriggerFailed  = "Failed"
)

// ConnectionErrorMessage is the user-visible text for any model failure.
const ConnectionErrorMessage = "Failed to connect to the model. Please try again."

var (
	ErrEmptyInput      = errors.New("nothing to send")
	ErrNoActiveSession = errors.New("no active session")
	ErrBusy            = errors.New("a message is already being sent")
	ErrConnection      = errors.New(ConnectionErrorMessage)
)

// Status is the transient UI state of one session.
type Status struct {
	Loading bool   `json:"loading"`
	Error   string `json:"error,omitempty"`
}

// Draft is the pending input that has not been sent yet.
type Draft struct {
	Text  string
	Image *chat.Attachment
}

// Agent coordinates user input, the session store and the model.
type Agent struct {
	store *history.Store
	model llm.Model

	mu            sync.Mutex
	conversations map[string]llm.Conversation       // model-side handle per session id
	machines      map[string]*stateless.StateMachine // send FSM per session id
	draft         Draft
}

// New creates a new agent.
func New(store *history.Store, model llm.Model) *Agent {
	return &Agent{
		store:         store,
		model:         model,
		conversations: make(map[string]llm.Conversation),
		machines:      make(map[string]*stateless.StateMachine),
	}
}

func newSendMachine(sessionID string) *stateless.StateMachine {
	fsm := stateless.NewStateMachine(StateIdle)

	fsm.Configure(StateIdle).
		Permit(TriggerSubmit, StateLoading)

	fsm.Configure(StateLoading).
		OnEntry(func(ctx context.Context, args ...any) error {
			logger.L.Debug("FSM: Entering StateLoading", "session_id", sessionID)
			return nil
		}).
		Permit(TriggerReplied, StateIdle).
		Permit(TriggerFailed, StateFailed)

	fsm.Configure(StateFailed).
		OnEntry(func(ctx context.Context, args ...any) error {
			logger.L.Debug("FSM: Entering StateFailed", "session_id", sessionID)
			return nil
		}).
		Permit(TriggerSubmit, StateLoading)

	return fsm
}

// machineLocked returns the send FSM of a session, creating it on first use.
func (a *Agent) machineLocked(sessionID string) *stateless.StateMachine {
	fsm, ok := a.machines[sessionID]
	if !ok {
		fsm = newSendMachine(sessionID)
		a.machines[sessionID] = fsm
	}
	return fsm
}

// Send appends a user message to the active session, asks the model and
// appends its reply. Blank text without an image, a missing active session
// or a send already in flight for the session are rejected without touching
// any state. Model failures surface as ErrConnection; a session deleted while
// its send is in flight yields history.ErrSessionNotFound.
func (a *Agent) Send(ctx context.Context, text string, image *chat.Attachment) (chat.Message, error) {
	if strings.TrimSpace(text) == "" && image == nil {
		return chat.Message{}, ErrEmptyInput
	}
	session, ok := a.store.Active()
	if !ok {
		return chat.Message{}, ErrNoActiveSession
	}

	a.mu.Lock()
	fsm := a.machineLocked(session.ID)
	if can, _ := fsm.CanFire(TriggerSubmit); !can {
		a.mu.Unlock()
		return chat.Message{}, ErrBusy
	}
	if err := fsm.Fire(TriggerSubmit); err != nil {
		a.mu.Unlock()
		return chat.Message{}, err
	}
	a.draft = Draft{}
	a.mu.Unlock()

	log := logger.L.With("session_id", session.ID)
	log.Info("sending message", "chars", len(text), "image", image != nil)

	userMsg := chat.NewMessage(chat.RoleUser, text, image)
	if _, err := a.store.Append(ctx, session.ID, userMsg); err != nil {
		// session vanished between Active and Append
		a.drop(session.ID)
		return chat.Message{}, err
	}

	var reply string
	conv, err := a.conversation(ctx, session)
	if err == nil {
		reply, err = conv.Send(ctx, text, image)
	}
	if err == nil {
		modelMsg := chat.NewMessage(chat.RoleModel, reply, nil)
		if _, err = a.store.Append(ctx, session.ID, modelMsg); err == nil {
			a.fire(session.ID, TriggerReplied)
			if _, ok := a.store.Get(session.ID); !ok {
				a.drop(session.ID)
			}
			log.Info("send message completed", "reply_chars", len(reply))
			return modelMsg, nil
		}
	}

	if _, ok := a.store.Get(session.ID); !ok || errors.Is(err, history.ErrSessionNotFound) {
		log.Info("session deleted during send; reply discarded")
		a.drop(session.ID)
		return chat.Message{}, fmt.Errorf("%w: %s", history.ErrSessionNotFound, session.ID)
	}

	log.Error("model call failed", "error", err)
	a.fire(session.ID, TriggerFailed)
	return chat.Message{}, ErrConnection
}

// drop removes the handle and send state of a session that no longer exists.
func (a *Agent) drop(sessionID string) {
	a.mu.Lock()
	delete(a.conversations, sessionID)
	delete(a.machines, sessionID)
	a.mu.Unlock()
}

// conversation returns the session's model handle, opening it with the
// session's prior history (everything before the message being sent).
func (a *Agent) conversation(ctx context.Context, session chat.Session) (llm.Conversation, error) {
	a.mu.Lock()
	conv, ok := a.conversations[session.ID]
	a.mu.Unlock()
	if ok {
		return conv, nil
	}

	conv, err := a.model.StartChat(ctx, session.Messages)
	if err != nil {
		return nil, err
	}

	if _, ok := a.store.Get(session.ID); ok {
		a.mu.Lock()
		a.conversations[session.ID] = conv
		a.mu.Unlock()
	}
	return conv, nil
}

func (a *Agent) fire(sessionID, trigger string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.machineLocked(sessionID).Fire(trigger); err != nil {
		logger.L.Warn("FSM fire error", "session_id", sessionID, "trigger", trigger, "error", err)
	}
}

// Status reports whether a send is in flight for the session and the error
// left by the last failed send.
func (a *Agent) Status(sessionID string) Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	fsm, ok := a.machines[sessionID]
	if !ok {
		return Status{}
	}
	switch fsm.MustState() {
	case StateLoading:
		return Status{Loading: true}
	case StateFailed:
		return Status{Error: ConnectionErrorMessage}
	default:
		return Status{}
	}
}

// SetDraft records pending input, replacing any previous draft.
func (a *Agent) SetDraft(text string, image *chat.Attachment) {
	a.mu.Lock()
	a.draft = Draft{Text: text, Image: image}
	a.mu.Unlock()
}

// Draft returns the pending input.
func (a *Agent) Draft() Draft {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.draft
}

// SendDraft sends the pending input.
func (a *Agent) SendDraft(ctx context.Context) (chat.Message, error) {
	d := a.Draft()
	return a.Send(ctx, d.Text, d.Image)
}

// NewSession creates and activates a new session.
func (a *Agent) NewSession(ctx context.Context) chat.Session {
	return a.store.Create(ctx)
}

// DeleteSession deletes a session and drops its model handle.
func (a *Agent) DeleteSession(ctx context.Context, id string) {
	a.store.Delete(ctx, id)
	a.Forget(id)
}

// Forget drops the model handle and send state kept for a session.
func (a *Agent) Forget(sessionID string) {
	a.mu.Lock()
	delete(a.conversations, sessionID)
	if fsm, ok := a.machines[sessionID]; ok && fsm.MustState() != StateLoading {
		delete(a.machines, sessionID)
	}
	a.mu.Unlock()
}
