// Package educhat: event reconciliation.
//
// Reconciler is the sole writer to the chat caches. Pull snapshots and push
// deltas both enter through its Apply methods, each of which runs to
// completion under one lock: a mutation is never observed half-applied, and
// events for the same conversation are applied in the order received.
//
// Apply methods report ErrDuplicateEvent and ErrStaleContext for replayed or
// no-longer-relevant input. Both are expected steady-state outcomes; callers
// wiring push events in discard them.
package educhat

import "sync"

// ReconcilerHooks are optional callbacks fired synchronously after an apply
// operation, while no lock is held.
type ReconcilerHooks struct {
	// RefreshConversations signals that the conversation list is out of
	// date and should be re-pulled. Fired when a message arrives anywhere,
	// since summaries (last message, unread counts) live server-side.
	RefreshConversations func()
	// RefreshView signals that visible state changed and a re-projection
	// is due.
	RefreshView func()
}

func (h *ReconcilerHooks) refreshConversations() {
	if h != nil && h.RefreshConversations != nil {
		h.RefreshConversations()
	}
}

func (h *ReconcilerHooks) refreshView() {
	if h != nil && h.RefreshView != nil {
		h.RefreshView()
	}
}

// Reconciler applies pull snapshots and push deltas to an injected ChatState.
type Reconciler struct {
	identity Identity
	state    *ChatState
	hooks    *ReconcilerHooks

	mu     sync.Mutex
	active int64 // 0 = no open conversation
}

// NewReconciler creates a reconciler writing to state. hooks may be nil.
func NewReconciler(identity Identity, state *ChatState, hooks *ReconcilerHooks) *Reconciler {
	return &Reconciler{identity: identity, state: state, hooks: hooks}
}

// Identity returns the identity the reconciler judges "own" messages by.
func (r *Reconciler) Identity() Identity {
	return r.identity
}

// SetActiveConversation marks the conversation whose messages are live.
// The previously active conversation's messages are evicted; summaries for
// it remain in the conversation cache.
func (r *Reconciler) SetActiveConversation(conversationID int64) {
	r.mu.Lock()
	prev := r.active
	r.active = conversationID
	if prev != 0 && prev != conversationID {
		r.state.Messages.Evict(prev)
	}
	r.mu.Unlock()
}

// ActiveConversation returns the currently open conversation id, 0 for none.
func (r *Reconciler) ActiveConversation() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// ============================================================================
// Pull-side snapshots
// ============================================================================

// ApplyConversationSnapshot replaces the conversation cache with a freshly
// pulled list. The active conversation stays active if still present and is
// closed otherwise.
func (r *Reconciler) ApplyConversationSnapshot(convs []Conversation) {
	r.mu.Lock()
	r.state.Conversations.Replace(convs)
	if r.active != 0 && r.state.Conversations.Get(r.active) == nil {
		r.state.Messages.Evict(r.active)
		r.active = 0
	}
	r.mu.Unlock()

	r.hooks.refreshView()
}

// ApplyMessageSnapshot replaces the active conversation's message sequence
// with a cold-load snapshot. A snapshot for any other conversation returns
// ErrStaleContext: deltas and snapshots are never merged for inactive
// conversations, and a fetch that outlives a navigation is dropped.
func (r *Reconciler) ApplyMessageSnapshot(conversationID int64, msgs []Message) error {
	r.mu.Lock()
	if conversationID != r.active {
		r.mu.Unlock()
		return ErrStaleContext
	}
	r.state.Messages.SetAll(conversationID, msgs)
	r.mu.Unlock()

	r.hooks.refreshView()
	return nil
}

// ============================================================================
// Push-side deltas
// ============================================================================

// ApplyNewMessage appends a pushed message when its conversation is the
// active one. Messages for other conversations are not cached; only the
// conversation list is flagged for refresh. Duplicate ids, including ids
// already deleted, are suppressed.
func (r *Reconciler) ApplyNewMessage(p NewMessagePayload) error {
	r.mu.Lock()
	if p.ConversationID != r.active {
		r.mu.Unlock()
		r.hooks.refreshConversations()
		return ErrStaleContext
	}
	err := r.state.Messages.Append(p.ConversationID, p.Message)
	r.mu.Unlock()

	// Summaries (last message, unread counts) are refreshed from the
	// server even for the active conversation.
	r.hooks.refreshConversations()
	if err == nil {
		r.hooks.refreshView()
	}
	return err
}

// ApplyMessageEdited updates an edited message in place. ErrStaleContext,
// silently tolerable, when the message is not in the active sequence.
func (r *Reconciler) ApplyMessageEdited(p MessageEditedPayload) error {
	r.mu.Lock()
	err := r.state.Messages.Mutate(p.ConversationID, p.Message.ID, func(m *Message) {
		m.Content = p.Message.Content
		m.EditedAt = p.Message.EditedAt
	})
	r.mu.Unlock()

	if err == nil {
		r.hooks.refreshView()
	}
	return err
}

// ApplyMessageDeleted removes a message from the visible sequence and
// tombstones its id.
func (r *Reconciler) ApplyMessageDeleted(p MessageDeletedPayload) error {
	r.mu.Lock()
	err := r.state.Messages.Remove(p.ConversationID, p.MessageID)
	r.mu.Unlock()

	if err == nil {
		r.hooks.refreshView()
	}
	return err
}

// ApplyReactionAdded records a reaction on a cached message. Adding is
// idempotent on the (message, user, emoji) triple: a replay returns
// ErrDuplicateEvent and changes nothing.
func (r *Reconciler) ApplyReactionAdded(messageID int64, reaction Reaction) error {
	r.mu.Lock()
	if r.active == 0 {
		r.mu.Unlock()
		return ErrStaleContext
	}
	dup := false
	err := r.state.Messages.Mutate(r.active, messageID, func(m *Message) {
		for _, existing := range m.Reactions {
			if existing.Emoji == reaction.Emoji && existing.UserPublicID == reaction.UserPublicID {
				dup = true
				return
			}
		}
		m.Reactions = append(m.Reactions, reaction)
	})
	r.mu.Unlock()

	if err != nil {
		return err
	}
	if dup {
		return ErrDuplicateEvent
	}
	r.hooks.refreshView()
	return nil
}

// ApplyReactionRemoved withdraws a reaction. Removing an absent reaction is
// a no-op, so an add/remove pair always round-trips to the initial state.
func (r *Reconciler) ApplyReactionRemoved(messageID int64, userPublicID, emoji string) error {
	r.mu.Lock()
	if r.active == 0 {
		r.mu.Unlock()
		return ErrStaleContext
	}
	err := r.state.Messages.Mutate(r.active, messageID, func(m *Message) {
		for i, existing := range m.Reactions {
			if existing.Emoji == emoji && existing.UserPublicID == userPublicID {
				m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
				return
			}
		}
	})
	r.mu.Unlock()

	if err != nil {
		return err
	}
	r.hooks.refreshView()
	return nil
}

// ApplyPresence records a presence change. A view refresh is only signalled
// when the change concerns the open direct conversation's counterpart.
func (r *Reconciler) ApplyPresence(p PresencePayload) {
	if p.Status == "online" {
		r.state.Presence.SetOnline(p.UserPublicID)
	} else {
		r.state.Presence.SetOffline(p.UserPublicID)
	}

	r.mu.Lock()
	active := r.active
	r.mu.Unlock()
	if active == 0 {
		return
	}
	conv := r.state.Conversations.Get(active)
	if conv == nil {
		return
	}
	if other := conv.Other(r.identity.PublicID); other != nil && other.UserPublicID == p.UserPublicID {
		r.hooks.refreshView()
	}
}

// ============================================================================
// Push-channel wiring
// ============================================================================

// Bind registers the reconciler's apply methods on a push client. Duplicate
// and stale outcomes are discarded here; they are not faults.
func (r *Reconciler) Bind(rt *RealtimeClient) {
	rt.OnNewMessage(func(p NewMessagePayload) {
		_ = r.ApplyNewMessage(p)
	})
	rt.OnMessageEdited(func(p MessageEditedPayload) {
		_ = r.ApplyMessageEdited(p)
	})
	rt.OnMessageDeleted(func(p MessageDeletedPayload) {
		_ = r.ApplyMessageDeleted(p)
	})
	rt.OnReactionAdded(func(p ReactionAddedPayload) {
		_ = r.ApplyReactionAdded(p.MessageID, p.Reaction)
	})
	rt.OnReactionRemoved(func(p ReactionRemovedPayload) {
		_ = r.ApplyReactionRemoved(p.MessageID, p.UserPublicID, p.Emoji)
	})
	rt.OnPresence(func(p PresencePayload) {
		r.ApplyPresence(p)
	})
}
