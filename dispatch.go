// Package educhat: outbound action dispatch.
//
// Dispatcher turns user intents into API calls. A successful mutation is fed
// back through the Reconciler's normal apply path, so a change made here is
// processed exactly like the matching push event; if both arrive, duplicate
// suppression keeps the cache consistent. A failed call leaves the caches
// untouched and surfaces one RequestError. There is no automatic retry.
package educhat

import "context"

// RequestError is the only user-visible failure kind: a pull or mutate call
// that was rejected by the server or failed on the network.
type RequestError struct {
	Op  string
	Err error
}

func (e *RequestError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Dispatcher issues user intents against the API and routes the results
// through an injected Reconciler.
type Dispatcher struct {
	client *Client
	rec    *Reconciler
	state  *ChatState
}

func NewDispatcher(client *Client, rec *Reconciler, state *ChatState) *Dispatcher {
	return &Dispatcher{client: client, rec: rec, state: state}
}

func requestErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &RequestError{Op: op, Err: err}
}

func actionErr(op string, res *ActionResult, err error) error {
	if err != nil {
		return &RequestError{Op: op, Err: err}
	}
	if !res.Success {
		return &RequestError{Op: op, Err: &APIError{Message: res.Error}}
	}
	return nil
}

// ============================================================================
// Pull intents
// ============================================================================

// RefreshConversations pulls the conversation list and applies it as a
// snapshot.
func (d *Dispatcher) RefreshConversations(ctx context.Context) error {
	convs, err := d.client.Conversations.List(ctx)
	if err != nil {
		return requestErr("refresh conversations", err)
	}
	d.rec.ApplyConversationSnapshot(convs)
	return nil
}

// OpenConversation makes a conversation active, cold-loads its messages and
// marks it read. A snapshot arriving after the user has navigated on is
// silently dropped by the reconciler's stale guard.
func (d *Dispatcher) OpenConversation(ctx context.Context, conversationID int64) error {
	d.rec.SetActiveConversation(conversationID)

	msgs, err := d.client.Conversations.Messages(ctx, conversationID)
	if err != nil {
		return requestErr("load messages", err)
	}
	if err := d.rec.ApplyMessageSnapshot(conversationID, msgs); err != nil {
		return nil // navigated away, result ignored
	}

	res, err := d.client.Conversations.MarkRead(ctx, conversationID)
	if err := actionErr("mark read", res, err); err != nil {
		return err
	}
	return d.RefreshConversations(ctx)
}

// CloseConversation clears the active conversation.
func (d *Dispatcher) CloseConversation() {
	d.rec.SetActiveConversation(0)
}

// ============================================================================
// Message intents
// ============================================================================

// SendMessage posts to the active conversation and applies the confirmed
// message through the same path a pushed one would take.
func (d *Dispatcher) SendMessage(ctx context.Context, conversationID int64, content string, replyTo int64) (*Message, error) {
	res, err := d.client.Messages.Send(ctx, conversationID, content, replyTo)
	if err != nil {
		return nil, requestErr("send message", err)
	}
	if !res.Success || res.Message == nil {
		return nil, &RequestError{Op: "send message", Err: &APIError{Message: res.Error}}
	}
	_ = d.rec.ApplyNewMessage(NewMessagePayload{
		ConversationID: conversationID,
		Message:        *res.Message,
	})
	return res.Message, nil
}

// SendDirect starts or continues a direct conversation. The resolved
// conversation id is returned so the caller can open it.
func (d *Dispatcher) SendDirect(ctx context.Context, receiverPublicID, content string, replyTo int64) (int64, error) {
	res, err := d.client.Messages.SendDirect(ctx, receiverPublicID, content, replyTo)
	if err != nil {
		return 0, requestErr("send direct message", err)
	}
	if !res.Success {
		return 0, &RequestError{Op: "send direct message", Err: &APIError{Message: res.Error}}
	}
	if res.Message != nil {
		_ = d.rec.ApplyNewMessage(NewMessagePayload{
			ConversationID: res.ConversationID,
			Message:        *res.Message,
		})
	}
	if err := d.RefreshConversations(ctx); err != nil {
		return res.ConversationID, err
	}
	return res.ConversationID, nil
}

// EditMessage edits one of the caller's messages and applies the server's
// version of the edit.
func (d *Dispatcher) EditMessage(ctx context.Context, conversationID, messageID int64, content string) error {
	res, err := d.client.Messages.Edit(ctx, conversationID, messageID, content)
	if err != nil {
		return requestErr("edit message", err)
	}
	if !res.Success || res.Message == nil {
		return &RequestError{Op: "edit message", Err: &APIError{Message: res.Error}}
	}
	_ = d.rec.ApplyMessageEdited(MessageEditedPayload{
		ConversationID: conversationID,
		Message:        *res.Message,
	})
	return nil
}

// DeleteMessage deletes one of the caller's messages.
func (d *Dispatcher) DeleteMessage(ctx context.Context, conversationID, messageID int64) error {
	res, err := d.client.Messages.Delete(ctx, conversationID, messageID)
	if err := actionErr("delete message", res, err); err != nil {
		return err
	}
	_ = d.rec.ApplyMessageDeleted(MessageDeletedPayload{
		ConversationID: conversationID,
		MessageID:      messageID,
	})
	return nil
}

// ToggleReaction adds the current user's reaction when absent and removes it
// when present, mirroring how the reaction picker behaves.
func (d *Dispatcher) ToggleReaction(ctx context.Context, conversationID, messageID int64, emoji string) error {
	if d.hasOwnReaction(conversationID, messageID, emoji) {
		return d.RemoveReaction(ctx, conversationID, messageID, emoji)
	}
	return d.AddReaction(ctx, conversationID, messageID, emoji)
}

// AddReaction reacts to a message with an emoji.
func (d *Dispatcher) AddReaction(ctx context.Context, conversationID, messageID int64, emoji string) error {
	res, err := d.client.Messages.React(ctx, conversationID, messageID, emoji)
	if err != nil {
		return requestErr("add reaction", err)
	}
	if !res.Success || res.Reaction == nil {
		return &RequestError{Op: "add reaction", Err: &APIError{Message: res.Error}}
	}
	_ = d.rec.ApplyReactionAdded(messageID, *res.Reaction)
	return nil
}

// RemoveReaction withdraws the current user's reaction.
func (d *Dispatcher) RemoveReaction(ctx context.Context, conversationID, messageID int64, emoji string) error {
	res, err := d.client.Messages.Unreact(ctx, conversationID, messageID, emoji)
	if err := actionErr("remove reaction", res, err); err != nil {
		return err
	}
	_ = d.rec.ApplyReactionRemoved(messageID, d.rec.Identity().PublicID, emoji)
	return nil
}

// ForwardMessage reposts a message into another conversation. The target's
// summary is refreshed; its messages are only loaded if it becomes active.
func (d *Dispatcher) ForwardMessage(ctx context.Context, conversationID, messageID, targetConversationID int64) error {
	res, err := d.client.Messages.Forward(ctx, conversationID, messageID, targetConversationID)
	if err := actionErr("forward message", res, err); err != nil {
		return err
	}
	return d.RefreshConversations(ctx)
}

func (d *Dispatcher) hasOwnReaction(conversationID, messageID int64, emoji string) bool {
	me := d.rec.Identity().PublicID
	for _, msg := range d.state.Messages.Get(conversationID) {
		if msg.ID != messageID {
			continue
		}
		for _, r := range msg.Reactions {
			if r.Emoji == emoji && r.UserPublicID == me {
				return true
			}
		}
	}
	return false
}

// ============================================================================
// Conversation intents
// ============================================================================

// MarkRead marks a conversation read and refreshes the summaries so the
// unread badge clears.
func (d *Dispatcher) MarkRead(ctx context.Context, conversationID int64) error {
	res, err := d.client.Conversations.MarkRead(ctx, conversationID)
	if err := actionErr("mark read", res, err); err != nil {
		return err
	}
	return d.RefreshConversations(ctx)
}

// Mute silences a conversation's notifications.
func (d *Dispatcher) Mute(ctx context.Context, conversationID int64) error {
	res, err := d.client.Conversations.Mute(ctx, conversationID)
	if err := actionErr("mute conversation", res, err); err != nil {
		return err
	}
	return d.RefreshConversations(ctx)
}

// Unmute restores a conversation's notifications.
func (d *Dispatcher) Unmute(ctx context.Context, conversationID int64) error {
	res, err := d.client.Conversations.Unmute(ctx, conversationID)
	if err := actionErr("unmute conversation", res, err); err != nil {
		return err
	}
	return d.RefreshConversations(ctx)
}

// ============================================================================
// Group intents
// ============================================================================

// CreateGroup creates a group conversation and pulls the refreshed list so
// the new entry appears.
func (d *Dispatcher) CreateGroup(ctx context.Context, name string, members []string) (*Conversation, error) {
	conv, err := d.client.Groups.Create(ctx, name, members)
	if err != nil {
		return nil, requestErr("create group", err)
	}
	if err := d.RefreshConversations(ctx); err != nil {
		return conv, err
	}
	return conv, nil
}

// AddMembers adds members to a group.
func (d *Dispatcher) AddMembers(ctx context.Context, conversationID int64, members []string) error {
	res, err := d.client.Groups.AddMembers(ctx, conversationID, members)
	if err := actionErr("add members", res, err); err != nil {
		return err
	}
	return d.RefreshConversations(ctx)
}

// RemoveMember removes a member from a group.
func (d *Dispatcher) RemoveMember(ctx context.Context, conversationID int64, userPublicID string) error {
	res, err := d.client.Groups.RemoveMember(ctx, conversationID, userPublicID)
	if err := actionErr("remove member", res, err); err != nil {
		return err
	}
	return d.RefreshConversations(ctx)
}
