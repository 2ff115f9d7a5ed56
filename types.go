package educhat

import "errors"

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an error returned by the chat API.
type APIError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return e.Message
}

// Sentinel conditions produced by the reconciler. Both are expected
// steady-state outcomes, not faults: callers wiring push events into the
// reconciler discard them, and only tests inspect them.
var (
	// ErrDuplicateEvent reports an event whose id is already cached.
	ErrDuplicateEvent = errors.New("educhat: duplicate event")
	// ErrStaleContext reports an event or response for a conversation or
	// message the client has navigated away from.
	ErrStaleContext = errors.New("educhat: stale context")
)

// Identity holds the current user's public id, role and display name.
// It is fixed at construction and never mutated afterwards.
type Identity struct {
	PublicID string
	Role     string
	Name     string
}

// ============================================================================
// Chat API Types
// ============================================================================

// Conversation types.
const (
	ConversationDirect = "direct"
	ConversationGroup  = "group"
)

type Participant struct {
	UserPublicID string `json:"user_public_id"`
	Role         string `json:"role"`
	Name         string `json:"name"`
}

type Conversation struct {
	ID            int64         `json:"id"`
	Type          string        `json:"type"`
	Name          string        `json:"name,omitempty"`
	CreatedBy     string        `json:"created_by,omitempty"`
	CreatedByName string        `json:"created_by_name,omitempty"`
	Participants  []Participant `json:"participants"`
	LastMessage   *Message      `json:"last_message,omitempty"`
	UnreadCount   int           `json:"unread_count"`
	UpdatedAt     string        `json:"updated_at"`
}

// Other returns the counterpart participant of a direct conversation
// relative to the given identity, or nil for groups.
func (c *Conversation) Other(me string) *Participant {
	if c.Type != ConversationDirect {
		return nil
	}
	for i := range c.Participants {
		if c.Participants[i].UserPublicID != me {
			return &c.Participants[i]
		}
	}
	return nil
}

type Message struct {
	ID             int64      `json:"id"`
	ConversationID int64      `json:"conversation_id"`
	SenderPublicID string     `json:"sender_public_id"`
	SenderName     string     `json:"sender_name,omitempty"`
	SenderRole     string     `json:"sender_role,omitempty"`
	Content        string     `json:"content"`
	CreatedAt      string     `json:"created_at"`
	EditedAt       string     `json:"edited_at,omitempty"`
	ReplyTo        *ReplyRef  `json:"reply_to,omitempty"`
	Reactions      []Reaction `json:"reactions,omitempty"`
	Deleted        bool       `json:"is_deleted,omitempty"`
}

// ReplyRef is the quoted message carried inline on a reply.
type ReplyRef struct {
	MessageID      int64  `json:"message_id,omitempty"`
	SenderPublicID string `json:"sender_public_id"`
	SenderName     string `json:"sender_name"`
	Content        string `json:"content"`
}

// Reaction is a single emoji reaction by one user. At most one reaction
// exists per (message, user, emoji) triple.
type Reaction struct {
	Emoji        string `json:"emoji"`
	UserPublicID string `json:"user_public_id"`
}

// ============================================================================
// Directory Types
// ============================================================================

type DirectoryUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Programme struct {
	Name string `json:"name"`
}

type Level struct {
	Level int `json:"level"`
}

// PresenceInfo is the pull-side presence lookup result. Pull responses never
// feed the presence tracker; they serve one-off lookups only.
type PresenceInfo struct {
	Status   string `json:"status"`
	LastSeen string `json:"last_seen,omitempty"`
}

// ============================================================================
// Mutation Result Types
// ============================================================================

// SendResult is returned by send, direct-send and forward calls.
type SendResult struct {
	Success        bool     `json:"success"`
	ConversationID int64    `json:"conversation_id,omitempty"`
	Message        *Message `json:"message,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// EditResult carries the updated message after an edit.
type EditResult struct {
	Success bool     `json:"success"`
	Message *Message `json:"message,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// ReactResult carries the stored reaction after adding one.
type ReactResult struct {
	Success  bool      `json:"success"`
	Reaction *Reaction `json:"reaction,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// ActionResult is the generic success/error envelope used by the remaining
// mutation endpoints (mark-read, mute, membership changes and so on).
type ActionResult struct {
	Success bool     `json:"success"`
	Added   []string `json:"added,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// CopyResult carries the raw content of a copied message.
type CopyResult struct {
	Content string `json:"content"`
}
