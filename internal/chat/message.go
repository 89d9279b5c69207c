package chat

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

var (
	ErrInvalidDataURI = errors.New("invalid data URI")
	ErrNotAnImage     = errors.New("attachment is not an image")
)

// Attachment is an image sent alongside a user message. It only lives in
// memory; persisted snapshots drop it.
type Attachment struct {
	MIMEType string
	Data     []byte
}

// DataURI encodes the attachment as a base64 data URI.
func (a *Attachment) DataURI() string {
	return "data:" + a.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
}

// ParseDataURI decodes a base64 image data URI such as
// "data:image/png;base64,iVBOR...".
func ParseDataURI(uri string) (*Attachment, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, ErrInvalidDataURI
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, ErrInvalidDataURI
	}
	mime, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return nil, ErrInvalidDataURI
	}
	if !strings.HasPrefix(mime, "image/") {
		return nil, ErrNotAnImage
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
	}
	return &Attachment{MIMEType: mime, Data: data}, nil
}

// AttachmentFromFile reads an image from disk, sniffing its MIME type.
func AttachmentFromFile(path string) (*Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return nil, fmt.Errorf("%s: %w (%s)", path, ErrNotAnImage, mime)
	}
	return &Attachment{MIMEType: mime, Data: data}, nil
}

// Message is one chat turn. Messages are immutable once appended.
type Message struct {
	ID         string
	Role       Role
	Content    string
	Attachment *Attachment
	Timestamp  int64 // epoch millis
}

// NewMessage creates a message stamped with a fresh id and the current time.
func NewMessage(role Role, content string, attachment *Attachment) Message {
	return Message{
		ID:         uuid.NewString(),
		Role:       role,
		Content:    content,
		Attachment: attachment,
		Timestamp:  time.Now().UnixMilli(),
	}
}

// Time returns the message timestamp as a time.Time.
func (m Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}
