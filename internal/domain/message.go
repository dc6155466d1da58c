package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageKind string

const (
	MessageChat      MessageKind = "chat"
	MessageDirect    MessageKind = "direct"
	MessageAssistant MessageKind = "assistant"
)

const AnonymousSender = "Anonymous"

type Message struct {
	ID        string      `json:"id"`
	Sender    string      `json:"sender"`
	Text      string      `json:"text"`
	Kind      MessageKind `json:"kind"`
	Target    string      `json:"target,omitempty"`
	Anonymous bool        `json:"anonymous"`
	Timestamp time.Time   `json:"timestamp"`
}

// Stamp assigns a fresh id and server timestamp.
func (m *Message) Stamp(now time.Time) {
	m.ID = uuid.NewString()
	m.Timestamp = now.UTC()
	if m.Kind == "" {
		m.Kind = MessageChat
	}
	if m.Anonymous {
		m.Sender = AnonymousSender
	}
}

// InteractionRecord is an opaque log entry for one assistant exchange.
type InteractionRecord struct {
	Participant string    `json:"participant"`
	Prompt      string    `json:"prompt"`
	Answer      string    `json:"answer"`
	Sources     []string  `json:"sources,omitempty"`
	WebSearch   bool      `json:"web_search"`
	Failed      bool      `json:"failed"`
	Timestamp   time.Time `json:"timestamp"`
}

// ConnectionEvent records join/leave/health facts for a socket.
type ConnectionEvent struct {
	SocketID    string         `json:"socket_id"`
	Participant string         `json:"participant,omitempty"`
	Event       string         `json:"event"`
	Details     map[string]any `json:"details,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}
