// Package types holds the domain model shared by the persistence gateway,
// the message and conversation services, and the hub.
package types

import "time"

// MessageType enumerates the kinds of content a Message may carry.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageAudio MessageType = "audio"
)

// ReadStatus is the per-recipient delivery state of a message.
// It only ever moves forward: sent -> delivered -> read.
type ReadStatus string

const (
	StatusSent      ReadStatus = "sent"
	StatusDelivered ReadStatus = "delivered"
	StatusRead      ReadStatus = "read"
)

// rank orders statuses so transitions can refuse to regress.
func (s ReadStatus) rank() int {
	switch s {
	case StatusSent:
		return 0
	case StatusDelivered:
		return 1
	case StatusRead:
		return 2
	default:
		return -1
	}
}

// Before reports whether s precedes target in the sent->delivered->read chain.
func (s ReadStatus) Before(target ReadStatus) bool {
	return s.rank() < target.rank()
}

// User is an account known to the core. Password hashing and token issuance
// live in a sibling service; this core only ever reads and refreshes these rows.
type User struct {
	ID        int64
	Email     string
	Name      string
	AvatarURL string
	Status    string
	LastSeen  time.Time
}

// Conversation is always exactly a two-party room. Created once, never deleted.
type Conversation struct {
	ID            int64
	LastMessageID *int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ConversationParticipant is one (conversationId, userId) membership row.
type ConversationParticipant struct {
	ConversationID int64
	UserID         int64
}

// Message is one chat message, optionally soft-deleted.
type Message struct {
	ID             int64
	ConversationID int64
	SenderID       int64
	Type           MessageType
	Content        string
	MediaURL       string
	MediaMimeType  string
	MediaDuration  int
	Waveform       []int32
	ReplyToID      *int64
	IsDeleted      bool
	DeletedAt      *time.Time
	CreatedAt      time.Time
}

// MessageRead is one (message, recipient) read-state record.
type MessageRead struct {
	ID        int64
	MessageID int64
	UserID    int64
	Status    ReadStatus
	ReadAt    *time.Time
}
