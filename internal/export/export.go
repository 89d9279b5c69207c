package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/comigor/parley/internal/chat"
	"github.com/comigor/parley/internal/logger"
)

// Format selects the export representation.
type Format string

const (
	FormatText       Format = "text"
	FormatStructured Format = "structured"
)

// FallbackContent replaces the document body when serialization fails.
const FallbackContent = "Error exporting chat"

var ErrUnknownFormat = errors.New("unknown export format")

// Document is a ready-to-download export.
type Document struct {
	Filename string
	MIMEType string
	Data     []byte
}

type exportedSession struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	CreatedAt int64             `json:"createdAt"`
	Messages  []exportedMessage `json:"messages"`
}

type exportedMessage struct {
	ID         string    `json:"id"`
	Role       chat.Role `json:"role"`
	Content    string    `json:"content"`
	Attachment string    `json:"attachment,omitempty"` // data URI
	Timestamp  int64     `json:"timestamp"`
}

// marshal is swapped in tests to exercise the fallback.
var marshal = func(v any) ([]byte, error) { return json.MarshalIndent(v, "", "  ") }

// ParseFormat accepts "text"/"txt" and "structured"/"json".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "text", "txt":
		return FormatText, nil
	case "structured", "json":
		return FormatStructured, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Export renders a session in the requested format.
func Export(s chat.Session, format Format) (Document, error) {
	switch format {
	case FormatText:
		return Document{
			Filename: Filename(s.Title, ".txt"),
			MIMEType: "text/plain; charset=utf-8",
			Data:     []byte(renderText(s)),
		}, nil
	case FormatStructured:
		doc := Document{
			Filename: Filename(s.Title, ".json"),
			MIMEType: "application/json",
		}
		data, err := marshal(structured(s))
		if err != nil {
			logger.L.Error("failed to serialize chat export", "session_id", s.ID, "error", err)
			data = []byte(FallbackContent)
		}
		doc.Data = data
		return doc, nil
	default:
		return Document{}, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func renderText(s chat.Session) string {
	var b strings.Builder
	for _, m := range s.Messages {
		fmt.Fprintf(&b, "[%s] %s: %s", m.Time().UTC().Format(time.RFC3339), strings.ToUpper(string(m.Role)), m.Content)
		if m.Attachment != nil {
			fmt.Fprintf(&b, " [image: %s]", m.Attachment.MIMEType)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func structured(s chat.Session) exportedSession {
	out := exportedSession{
		ID:        s.ID,
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
		Messages:  make([]exportedMessage, 0, len(s.Messages)),
	}
	for _, m := range s.Messages {
		em := exportedMessage{ID: m.ID, Role: m.Role, Content: m.Content, Timestamp: m.Timestamp}
		if m.Attachment != nil {
			em.Attachment = m.Attachment.DataURI()
		}
		out.Messages = append(out.Messages, em)
	}
	return out
}

// Filename derives a file name from a session title: every rune that is not
// a letter or digit becomes '_'.
func Filename(title, ext string) string {
	name := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return '_'
	}, title)
	if name == "" {
		name = "chat"
	}
	return name + ext
}

// WriteFile stores doc in dir and returns the written path.
func WriteFile(dir string, doc Document) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(dir, doc.Filename)
	if err := os.WriteFile(path, doc.Data, 0o644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return path, nil
}
