package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Status is a participant's presence status.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusAway    Status = "away"
)

// User represents a participant in the system.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	AvatarURL    string
	Status       Status
	LastSeen     time.Time
	CreatedAt    time.Time
}

// MessageType defines the content kind of a message.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
)

// MessageState is the lifecycle state of a message.
// A soft-deleted message keeps its id and position; only content is cleared.
type MessageState string

const (
	MessageStateActive  MessageState = "active"
	MessageStateDeleted MessageState = "deleted"
)

// Message represents a persisted chat message. Exactly one of RecipientID and
// GroupID is set.
type Message struct {
	ID          string
	SenderID    string
	RecipientID *string
	GroupID     *string
	Content     string
	Type        MessageType
	Attachments []string
	Delivered   bool
	DeliveredAt *time.Time
	Read        bool
	ReadAt      *time.Time
	Edited      bool
	EditedAt    *time.Time
	State       MessageState
	DeletedAt   *time.Time
	CreatedAt   time.Time
}

// FullyDeletable reports whether the message may be hard-purged.
// Once the recipient has read it, only a soft delete is allowed so that
// conversation ordering stays stable.
func (m *Message) FullyDeletable() bool {
	return !m.Read
}

// ConversationKey derives the stable key of the conversation this message
// belongs to. Direct conversations use the id-ordered pair of participants.
func (m *Message) ConversationKey() string {
	if m.GroupID != nil {
		return GroupConversationKey(*m.GroupID)
	}
	return DirectConversationKey(m.SenderID, *m.RecipientID)
}

// DirectConversationKey builds the key of a 1:1 conversation. The two user
// ids are ordered so both directions map to the same conversation.
func DirectConversationKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return "dm:" + userA + ":" + userB
}

// GroupConversationKey builds the key of a group conversation.
func GroupConversationKey(groupID string) string {
	return "group:" + groupID
}

// Group represents a chat group.
type Group struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Conversation is the aggregate tracked per direct pair or group: a pointer
// to the last message plus per-participant unread counters.
type Conversation struct {
	Key           string
	LastMessageID *string
	UpdatedAt     time.Time
}

// CallType defines the media kind of a call.
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// CallStatus defines call status. Transitions are monotonic:
// ringing -> ongoing -> {ended | rejected | missed}.
type CallStatus string

const (
	CallStatusRinging  CallStatus = "ringing"
	CallStatusOngoing  CallStatus = "ongoing"
	CallStatusEnded    CallStatus = "ended"
	CallStatusRejected CallStatus = "rejected"
	CallStatusMissed   CallStatus = "missed"
)

// Call represents one audio/video call between two participants.
type Call struct {
	ID          string
	CallerID    string
	RecipientID string
	Type        CallType
	Status      CallStatus
	StartedAt   time.Time
	AnsweredAt  *time.Time
	EndedAt     *time.Time
	Duration    time.Duration
}

// UserStore handles participant persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// UpdatePresence stores the user's presence status and last-seen timestamp.
	UpdatePresence(ctx context.Context, id string, status Status, lastSeen time.Time) error
}

// GroupStore handles group persistence.
type GroupStore interface {
	// CreateGroup creates a group with the given members.
	CreateGroup(ctx context.Context, name string, memberIDs []string) (*Group, error)

	// GetGroupByID retrieves a group by ID.
	GetGroupByID(ctx context.Context, id string) (*Group, error)

	// ListGroupMembers lists member user ids of a group.
	ListGroupMembers(ctx context.Context, groupID string) ([]string, error)

	// IsGroupMember checks whether the user belongs to the group.
	IsGroupMember(ctx context.Context, groupID, userID string) (bool, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a new message.
	SaveMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves a message by ID.
	GetMessage(ctx context.Context, id string) (*Message, error)

	// UpdateMessage persists mutated flags/content of an existing message.
	UpdateMessage(ctx context.Context, msg *Message) error

	// DeleteMessage hard-removes a message; the id becomes invalid everywhere.
	DeleteMessage(ctx context.Context, id string) error

	// ListMessages retrieves messages of a conversation, newest first, ordered
	// by (created_at, id). If beforeID is provided, returns messages strictly
	// older than that message.
	ListMessages(ctx context.Context, conversationKey string, limit int, beforeID *string) ([]*Message, error)
}

// ConversationStore handles conversation aggregates and unread counters.
// Counters are mutated only by the delivery protocol.
type ConversationStore interface {
	// TouchConversation upserts the conversation and moves its last-message pointer.
	TouchConversation(ctx context.Context, key, lastMessageID string) error

	// GetConversation retrieves a conversation aggregate by key.
	GetConversation(ctx context.Context, key string) (*Conversation, error)

	// IncrementUnread bumps the unread counter of each given participant.
	IncrementUnread(ctx context.Context, key string, userIDs ...string) error

	// DecrementUnread lowers a participant's unread counter, floored at zero.
	DecrementUnread(ctx context.Context, key, userID string) error

	// ResetUnread zeroes a participant's unread counter.
	ResetUnread(ctx context.Context, key, userID string) error

	// UnreadCount reads a participant's unread counter.
	UnreadCount(ctx context.Context, key, userID string) (int, error)
}

// CallStore handles the call ledger.
type CallStore interface {
	// CreateCall creates a new call record.
	CreateCall(ctx context.Context, call *Call) error

	// GetCall retrieves a call by ID.
	GetCall(ctx context.Context, id string) (*Call, error)

	// UpdateCall persists status transitions and timestamps.
	UpdateCall(ctx context.Context, call *Call) error
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	GroupStore
	MessageStore
	ConversationStore
	CallStore

	// Close closes the underlying database connection.
	Close() error
}
