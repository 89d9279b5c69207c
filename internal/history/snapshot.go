package history

import (
	"strings"

	"github.com/comigor/parley/internal/chat"
)

// storedSession is the persisted shape of a session. It has no attachment
// field on purpose: images never reach durable storage.
type storedSession struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	CreatedAt int64           `json:"createdAt"`
	Messages  []storedMessage `json:"messages"`
}

type storedMessage struct {
	ID        string    `json:"id"`
	Role      chat.Role `json:"role"`
	Content   string    `json:"content"`
	Timestamp int64     `json:"timestamp"`
}

// sanitize converts live sessions into their persisted form.
func sanitize(sessions []chat.Session) []storedSession {
	out := make([]storedSession, 0, len(sessions))
	for _, s := range sessions {
		ss := storedSession{
			ID:        s.ID,
			Title:     strings.ToValidUTF8(s.Title, "�"),
			CreatedAt: s.CreatedAt,
			Messages:  make([]storedMessage, 0, len(s.Messages)),
		}
		for _, m := range s.Messages {
			ss.Messages = append(ss.Messages, storedMessage{
				ID:        m.ID,
				Role:      m.Role,
				Content:   strings.ToValidUTF8(m.Content, "�"),
				Timestamp: m.Timestamp,
			})
		}
		out = append(out, ss)
	}
	return out
}

func restore(stored []storedSession) []chat.Session {
	out := make([]chat.Session, 0, len(stored))
	for _, ss := range stored {
		if ss.ID == "" {
			continue
		}
		s := chat.Session{
			ID:        ss.ID,
			Title:     ss.Title,
			CreatedAt: ss.CreatedAt,
			Messages:  make([]chat.Message, 0, len(ss.Messages)),
		}
		if s.Title == "" {
			s.Title = chat.DefaultTitle
		}
		for _, sm := range ss.Messages {
			s.Messages = append(s.Messages, chat.Message{
				ID:        sm.ID,
				Role:      sm.Role,
				Content:   sm.Content,
				Timestamp: sm.Timestamp,
			})
		}
		out = append(out, s)
	}
	return out
}
