package models

import "time"

// Message represents one entry of a conversation. Content holds the raw text exactly as typed by the user or
// received from the assistant; the displayed markup is always derived from it through a Formatter.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Timestamp time.Time

	StreamingState StreamingState
}

// Role represents the role of a message participant.
type Role string

// StreamingState describes where a message is in its lifecycle. Only messages in StreamingStateStreaming
// accept content updates.
type StreamingState string

const (
	// RoleUser represents a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant represents a message produced by the remote assistant.
	RoleAssistant Role = "assistant"

	// StreamingStateLoading marks an assistant message that has been anchored but has not received any delta yet.
	StreamingStateLoading StreamingState = "loading"
	// StreamingStateStreaming marks the open message that is currently receiving deltas.
	StreamingStateStreaming StreamingState = "streaming"
	// StreamingStateEnded marks a frozen message.
	StreamingStateEnded StreamingState = "ended"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Open reports whether a message in this state may still be mutated.
func (s StreamingState) Open() bool {
	return s == StreamingStateLoading || s == StreamingStateStreaming
}
