package chat

import (
	"context"
	"io"
	"time"
)

type Sender string

const (
	SenderCustomer Sender = "customer"
	SenderOperator Sender = "operator"
)

// Message is a single chat entry. Body holds either text or, for
// attachments, the reference URL returned by the store.
type Message struct {
	Sender      Sender    `json:"sender"`
	Body        string    `json:"body"`
	SessionID   string    `json:"sessionId"`
	Timestamp   time.Time `json:"timestamp"`
	DisplayName string    `json:"displayName,omitempty"`
}

// Session is one customer's conversation thread as seen by the operator.
type Session struct {
	ID                 string `json:"id"`
	DisplayName        string `json:"displayName"`
	UnreadCount        int    `json:"unreadCount"`
	LastMessagePreview string `json:"lastMessagePreview"`
}

type EventType string

const (
	EventConnected        EventType = "connected"
	EventConnectionFailed EventType = "connectionFailed"
	EventDisconnected     EventType = "disconnected"
	EventMessage          EventType = "message"
	EventSessionDeleted   EventType = "sessionDeleted"
)

// Event is an inbound notification from the relay transport.
type Event struct {
	Type      EventType
	Message   *Message // set for EventMessage
	SessionID string   // set for EventSessionDeleted
	Err       error    // set for connectionFailed / disconnected
}

// Transport is the bidirectional channel to the relay. Events delivers a
// non-restartable stream of inbound events; Send is fire-and-forget.
type Transport interface {
	Send(msg Message) error
	Events() <-chan Event
	Close() error
}

// Gateway is the external message store: session directory, persisted
// history and attachment storage.
type Gateway interface {
	ListSessions(ctx context.Context) ([]Session, error)
	FetchHistory(ctx context.Context, sessionID string) ([]Message, error)
	DeleteHistory(ctx context.Context, sessionID string) error
	UploadAttachment(ctx context.Context, sessionID, filename string, data io.Reader) (string, error)
}
