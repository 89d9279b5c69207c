package chat

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// DefaultTitle is the placeholder a session carries until its first user message.
	DefaultTitle = "New Chat"
	// imageTitle is used when the first user message is an image without text.
	imageTitle = "Image"

	titleLength = 25
)

// Session is an ordered conversation. Messages are append-only.
type Session struct {
	ID        string
	Title     string
	CreatedAt int64 // epoch millis
	Messages  []Message
}

// NewSession creates an empty session with the placeholder title.
func NewSession() Session {
	return Session{
		ID:        uuid.NewString(),
		Title:     DefaultTitle,
		CreatedAt: time.Now().UnixMilli(),
	}
}

// Append adds msg at the end of the conversation. The first user message
// names the session; later messages never touch the title.
func (s *Session) Append(msg Message) {
	if msg.Role == RoleUser && !s.hasUserMessage() {
		s.Title = titleFor(msg)
	}
	s.Messages = append(s.Messages, msg)
}

func (s *Session) hasUserMessage() bool {
	for _, m := range s.Messages {
		if m.Role == RoleUser {
			return true
		}
	}
	return false
}

// Clone returns a deep copy that shares nothing with s.
func (s Session) Clone() Session {
	out := s
	out.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		if m.Attachment != nil {
			a := *m.Attachment
			a.Data = append([]byte(nil), m.Attachment.Data...)
			m.Attachment = &a
		}
		out.Messages[i] = m
	}
	return out
}

func titleFor(msg Message) string {
	if strings.TrimSpace(msg.Content) == "" {
		return imageTitle
	}
	return Truncate(msg.Content, titleLength)
}

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
