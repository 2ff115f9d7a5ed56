// Package educhat: local chat state. Conversation, message and presence
// caches.
//
// The caches are plain goroutine-safe containers with no reconciliation
// logic of their own. Reconciler is their single writer; Projector and the
// CLI read them. Construct them explicitly and inject them; there is no
// package-level instance.
//
//	state := educhat.NewChatState()
//	rec := educhat.NewReconciler(identity, state, nil)
package educhat

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// ChatState bundles the three caches that make up the synchronized model.
type ChatState struct {
	Conversations *ConversationCache
	Messages      *MessageCache
	Presence      *PresenceTracker
}

// NewChatState creates an empty state.
func NewChatState() *ChatState {
	return &ChatState{
		Conversations: NewConversationCache(),
		Messages:      NewMessageCache(),
		Presence:      NewPresenceTracker(),
	}
}

// ============================================================================
// ConversationCache
// ============================================================================

// ConversationCache holds the conversation summaries known to the client.
type ConversationCache struct {
	mu    sync.RWMutex
	convs map[int64]*Conversation
}

func NewConversationCache() *ConversationCache {
	return &ConversationCache{convs: make(map[int64]*Conversation)}
}

// Replace swaps in a freshly pulled conversation list. Entries that survive
// the swap are updated in place so held pointers stay valid; entries absent
// from the snapshot are evicted.
func (c *ConversationCache) Replace(convs []Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := make(map[int64]struct{}, len(convs))
	for i := range convs {
		in := convs[i]
		seen[in.ID] = struct{}{}
		if existing, ok := c.convs[in.ID]; ok {
			*existing = in
		} else {
			cp := in
			c.convs[in.ID] = &cp
		}
	}
	for id := range c.convs {
		if _, ok := seen[id]; !ok {
			delete(c.convs, id)
		}
	}
}

// Upsert inserts or updates a single conversation in place.
func (c *ConversationCache) Upsert(conv Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.convs[conv.ID]; ok {
		*existing = conv
	} else {
		cp := conv
		c.convs[conv.ID] = &cp
	}
}

func (c *ConversationCache) Get(id int64) *Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.convs[id]
}

// All returns the cached conversations in unspecified order. Display order
// is the Projector's concern.
func (c *ConversationCache) All() []*Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]*Conversation, 0, len(c.convs))
	for _, conv := range c.convs {
		result = append(result, conv)
	}
	return result
}

func (c *ConversationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.convs)
}

// ============================================================================
// MessageCache
// ============================================================================

// MessageCache holds per-conversation message sequences. Only the active
// conversation's entry is guaranteed populated; entries for other
// conversations may be absent or stale. Each entry carries a tombstone set
// of deleted ids so a late duplicate push cannot resurrect a message.
type MessageCache struct {
	mu   sync.RWMutex
	seqs map[int64]*messageSeq
}

type messageSeq struct {
	order   []*Message
	byID    map[int64]*Message
	deleted map[int64]struct{}
}

func NewMessageCache() *MessageCache {
	return &MessageCache{seqs: make(map[int64]*messageSeq)}
}

// SetAll replaces one conversation's sequence wholesale with a snapshot,
// sorted by creation time ascending (ties keep snapshot order). The
// tombstone set is reset: a fresh snapshot is authoritative.
func (m *MessageCache) SetAll(conversationID int64, msgs []Message) {
	seq := &messageSeq{
		byID:    make(map[int64]*Message, len(msgs)),
		deleted: make(map[int64]struct{}),
	}
	for i := range msgs {
		cp := msgs[i]
		if _, ok := seq.byID[cp.ID]; ok {
			continue
		}
		seq.byID[cp.ID] = &cp
		seq.order = append(seq.order, &cp)
	}
	sort.SliceStable(seq.order, func(i, j int) bool {
		return parseChatTime(seq.order[i].CreatedAt).Before(parseChatTime(seq.order[j].CreatedAt))
	})

	m.mu.Lock()
	m.seqs[conversationID] = seq
	m.mu.Unlock()
}

// Append adds a message to the end of a conversation's sequence. It returns
// ErrStaleContext when the conversation has no cached sequence and
// ErrDuplicateEvent when the id already exists or has been deleted.
func (m *MessageCache) Append(conversationID int64, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq, ok := m.seqs[conversationID]
	if !ok {
		return ErrStaleContext
	}
	if _, dup := seq.byID[msg.ID]; dup {
		return ErrDuplicateEvent
	}
	if _, dead := seq.deleted[msg.ID]; dead {
		return ErrDuplicateEvent
	}
	cp := msg
	seq.byID[cp.ID] = &cp
	seq.order = append(seq.order, &cp)
	return nil
}

// Mutate applies patch to one cached message. ErrStaleContext when either
// the conversation or the message is not cached.
func (m *MessageCache) Mutate(conversationID, messageID int64, patch func(*Message)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq, ok := m.seqs[conversationID]
	if !ok {
		return ErrStaleContext
	}
	msg, ok := seq.byID[messageID]
	if !ok {
		return ErrStaleContext
	}
	patch(msg)
	return nil
}

// Remove drops a message from the visible sequence and tombstones its id.
func (m *MessageCache) Remove(conversationID, messageID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq, ok := m.seqs[conversationID]
	if !ok {
		return ErrStaleContext
	}
	if _, ok := seq.byID[messageID]; !ok {
		return ErrStaleContext
	}
	delete(seq.byID, messageID)
	for i, msg := range seq.order {
		if msg.ID == messageID {
			seq.order = append(seq.order[:i], seq.order[i+1:]...)
			break
		}
	}
	seq.deleted[messageID] = struct{}{}
	return nil
}

// Get returns one conversation's sequence in display order, or nil when the
// conversation is not cached.
func (m *MessageCache) Get(conversationID int64) []*Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seq, ok := m.seqs[conversationID]
	if !ok {
		return nil
	}
	return append([]*Message{}, seq.order...)
}

// Has reports whether a message id is cached for a conversation.
func (m *MessageCache) Has(conversationID, messageID int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seq, ok := m.seqs[conversationID]
	if !ok {
		return false
	}
	_, ok = seq.byID[messageID]
	return ok
}

// Len returns the number of visible messages cached for a conversation.
func (m *MessageCache) Len(conversationID int64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seq, ok := m.seqs[conversationID]
	if !ok {
		return 0
	}
	return len(seq.order)
}

// Evict drops a conversation's sequence, tombstones included. Used when
// navigating away to bound memory.
func (m *MessageCache) Evict(conversationID int64) {
	m.mu.Lock()
	delete(m.seqs, conversationID)
	m.mu.Unlock()
}

// ============================================================================
// PresenceTracker
// ============================================================================

// PresenceTracker is the set of currently online users. Membership is
// push-driven only; absence means offline. Nothing persists across a
// reconnect, the server re-emits presence after the join announce.
type PresenceTracker struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{online: make(map[string]struct{})}
}

func (p *PresenceTracker) SetOnline(userPublicID string) {
	p.mu.Lock()
	p.online[userPublicID] = struct{}{}
	p.mu.Unlock()
}

func (p *PresenceTracker) SetOffline(userPublicID string) {
	p.mu.Lock()
	delete(p.online, userPublicID)
	p.mu.Unlock()
}

func (p *PresenceTracker) IsOnline(userPublicID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[userPublicID]
	return ok
}

// Online returns the current online set, sorted for stable output.
func (p *PresenceTracker) Online() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	result := make([]string, 0, len(p.online))
	for id := range p.online {
		result = append(result, id)
	}
	sort.Strings(result)
	return result
}

// ============================================================================
// Timestamp parsing
// ============================================================================

// chatTimeLayouts covers the formats the server emits: conversation rows use
// a space-separated layout, messages use ISO 8601 with optional fraction.
var chatTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseChatTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range chatTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
