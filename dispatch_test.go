package educhat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// chatServer is a scripted API backend for dispatcher tests. Handlers are
// keyed by "METHOD path".
type chatServer struct {
	t        *testing.T
	handlers map[string]http.HandlerFunc
	calls    []string
}

func newChatServer(t *testing.T) (*chatServer, *httptest.Server) {
	t.Helper()
	cs := &chatServer{t: t, handlers: make(map[string]http.HandlerFunc)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		cs.calls = append(cs.calls, key)
		h, ok := cs.handlers[key]
		if !ok {
			t.Errorf("unexpected request: %s", key)
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return cs, srv
}

func (cs *chatServer) on(key string, status int, body any) {
	cs.handlers[key] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}
}

func (cs *chatServer) called(key string) bool {
	for _, c := range cs.calls {
		if c == key {
			return true
		}
	}
	return false
}

// newTestDispatcher wires a dispatcher against a scripted server, with the
// standard two conversations served on the list endpoint.
func newTestDispatcher(t *testing.T) (*Dispatcher, *Reconciler, *ChatState, *chatServer) {
	t.Helper()
	cs, srv := newChatServer(t)
	cs.on("GET /chat/conversations", 200, []Conversation{
		testConversation(1, ConversationDirect, ""),
		testConversation(2, ConversationGroup, "Study Group"),
	})

	client := NewClient("tok-test", WithBaseURL(srv.URL))
	state := NewChatState()
	rec := NewReconciler(testIdentity(), state, nil)
	return NewDispatcher(client, rec, state), rec, state, cs
}

// ============================================================================
// Pull intents
// ============================================================================

func TestDispatcherRefreshConversations(t *testing.T) {
	t.Run("applies snapshot", func(t *testing.T) {
		disp, _, state, _ := newTestDispatcher(t)
		if err := disp.RefreshConversations(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if state.Conversations.Len() != 2 {
			t.Fatalf("expected 2 conversations, got %d", state.Conversations.Len())
		}
	})

	t.Run("server failure surfaces one RequestError", func(t *testing.T) {
		disp, _, state, cs := newTestDispatcher(t)
		cs.on("GET /chat/conversations", 500, map[string]string{"error": "database unavailable"})

		err := disp.RefreshConversations(context.Background())
		var reqErr *RequestError
		if !errors.As(err, &reqErr) {
			t.Fatalf("expected RequestError, got %T: %v", err, err)
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Status != 500 {
			t.Fatalf("expected wrapped APIError with status 500, got %v", err)
		}
		if state.Conversations.Len() != 0 {
			t.Fatal("expected cache untouched on failure")
		}
	})
}

func TestDispatcherOpenConversation(t *testing.T) {
	disp, rec, state, cs := newTestDispatcher(t)
	cs.on("GET /chat/conversations/1/messages", 200, []Message{
		testMessage(1, 1, "peer-001", "hi", "2026-02-01T10:00:00"),
		testMessage(2, 1, "me-001", "hello", "2026-02-01T10:01:00"),
	})
	cs.on("POST /chat/mark_read", 200, ActionResult{Success: true})

	if err := disp.OpenConversation(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ActiveConversation() != 1 {
		t.Fatalf("expected conversation 1 active, got %d", rec.ActiveConversation())
	}
	if state.Messages.Len(1) != 2 {
		t.Fatalf("expected 2 messages loaded, got %d", state.Messages.Len(1))
	}
	if !cs.called("POST /chat/mark_read") {
		t.Fatal("expected a mark-read call")
	}
	if !cs.called("GET /chat/conversations") {
		t.Fatal("expected a conversation refresh after mark-read")
	}
}

// ============================================================================
// Send
// ============================================================================

func TestDispatcherSendMessage(t *testing.T) {
	t.Run("confirmed message lands in cache", func(t *testing.T) {
		disp, rec, state, cs := newTestDispatcher(t)
		rec.SetActiveConversation(1)
		state.Messages.SetAll(1, nil)

		sent := testMessage(10, 1, "me-001", "outbound", "2026-02-01T10:00:00")
		cs.on("POST /chat/conversations/1/messages", 200, SendResult{Success: true, Message: &sent})

		msg, err := disp.SendMessage(context.Background(), 1, "outbound", 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if msg.ID != 10 {
			t.Fatalf("expected message id 10, got %d", msg.ID)
		}
		if !state.Messages.Has(1, 10) {
			t.Fatal("expected sent message in the cache")
		}
	})

	t.Run("rejected send leaves cache unchanged", func(t *testing.T) {
		disp, rec, state, cs := newTestDispatcher(t)
		rec.SetActiveConversation(1)
		state.Messages.SetAll(1, []Message{testMessage(1, 1, "peer-001", "hi", "2026-02-01T10:00:00")})
		cs.on("POST /chat/conversations/1/messages", 200, SendResult{Success: false, Error: "You are blocked"})

		_, err := disp.SendMessage(context.Background(), 1, "outbound", 0)
		var reqErr *RequestError
		if !errors.As(err, &reqErr) {
			t.Fatalf("expected RequestError, got %T: %v", err, err)
		}
		if state.Messages.Len(1) != 1 {
			t.Fatalf("expected cache unchanged, got %d messages", state.Messages.Len(1))
		}
	})

	t.Run("network-level failure leaves cache unchanged", func(t *testing.T) {
		disp, rec, state, cs := newTestDispatcher(t)
		rec.SetActiveConversation(1)
		state.Messages.SetAll(1, nil)
		cs.on("POST /chat/conversations/1/messages", 500, map[string]string{"error": "boom"})

		_, err := disp.SendMessage(context.Background(), 1, "outbound", 0)
		var reqErr *RequestError
		if !errors.As(err, &reqErr) {
			t.Fatalf("expected RequestError, got %T: %v", err, err)
		}
		if state.Messages.Len(1) != 0 {
			t.Fatalf("expected empty cache, got %d messages", state.Messages.Len(1))
		}
	})
}

func TestDispatcherSendDirect(t *testing.T) {
	disp, _, _, cs := newTestDispatcher(t)
	sent := testMessage(30, 7, "me-001", "first contact", "2026-02-01T10:00:00")
	cs.on("POST /chat/send_dm", 200, SendResult{Success: true, ConversationID: 7, Message: &sent})

	convID, err := disp.SendDirect(context.Background(), "peer-001", "first contact", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if convID != 7 {
		t.Fatalf("expected resolved conversation 7, got %d", convID)
	}
	if !cs.called("GET /chat/conversations") {
		t.Fatal("expected a conversation refresh after first contact")
	}
}

// ============================================================================
// Edit, delete, reactions
// ============================================================================

func TestDispatcherEditMessage(t *testing.T) {
	disp, rec, state, cs := newTestDispatcher(t)
	rec.SetActiveConversation(1)
	state.Messages.SetAll(1, []Message{testMessage(5, 1, "me-001", "tpyo", "2026-02-01T10:00:00")})

	edited := testMessage(5, 1, "me-001", "typo", "2026-02-01T10:00:00")
	edited.EditedAt = "2026-02-01T10:05:00"
	cs.on("POST /chat/conversations/1/messages/5/edit", 200, EditResult{Success: true, Message: &edited})

	if err := disp.EditMessage(context.Background(), 1, 5, "typo"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := state.Messages.Get(1)[0]
	if got.Content != "typo" || got.EditedAt == "" {
		t.Fatalf("expected edit applied from server response, got %+v", got)
	}
}

func TestDispatcherDeleteMessage(t *testing.T) {
	disp, rec, state, cs := newTestDispatcher(t)
	rec.SetActiveConversation(1)
	state.Messages.SetAll(1, []Message{testMessage(5, 1, "me-001", "oops", "2026-02-01T10:00:00")})
	cs.on("POST /chat/conversations/1/messages/5/delete", 200, ActionResult{Success: true})

	if err := disp.DeleteMessage(context.Background(), 1, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Messages.Len(1) != 0 {
		t.Fatalf("expected message removed, got %d", state.Messages.Len(1))
	}
}

func TestDispatcherToggleReaction(t *testing.T) {
	disp, rec, state, cs := newTestDispatcher(t)
	rec.SetActiveConversation(1)
	state.Messages.SetAll(1, []Message{testMessage(5, 1, "peer-001", "nice", "2026-02-01T10:00:00")})

	cs.on("POST /chat/conversations/1/messages/5/react", 200, ReactResult{
		Success:  true,
		Reaction: &Reaction{Emoji: "👍", UserPublicID: "me-001"},
	})
	cs.on("DELETE /chat/conversations/1/messages/5/react", 200, ActionResult{Success: true})

	// First toggle adds.
	if err := disp.ToggleReaction(context.Background(), 1, 5, "👍"); err != nil {
		t.Fatalf("add toggle: %v", err)
	}
	if got := state.Messages.Get(1)[0]; len(got.Reactions) != 1 {
		t.Fatalf("expected 1 reaction, got %d", len(got.Reactions))
	}

	// Second toggle removes.
	if err := disp.ToggleReaction(context.Background(), 1, 5, "👍"); err != nil {
		t.Fatalf("remove toggle: %v", err)
	}
	if got := state.Messages.Get(1)[0]; len(got.Reactions) != 0 {
		t.Fatalf("expected no reactions after round-trip, got %d", len(got.Reactions))
	}
}

func TestDispatcherForwardMessage(t *testing.T) {
	disp, _, _, cs := newTestDispatcher(t)
	cs.on("POST /chat/conversations/1/messages/5/forward", 200, ActionResult{Success: true})

	if err := disp.ForwardMessage(context.Background(), 1, 5, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cs.called("GET /chat/conversations") {
		t.Fatal("expected a conversation refresh after forwarding")
	}
}

// ============================================================================
// Conversation and group intents
// ============================================================================

func TestDispatcherMarkRead(t *testing.T) {
	disp, _, _, cs := newTestDispatcher(t)
	cs.on("POST /chat/mark_read", 200, ActionResult{Success: true})
	if err := disp.MarkRead(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cs.called("GET /chat/conversations") {
		t.Fatal("expected a conversation refresh so the badge clears")
	}
}

func TestDispatcherMuteRejected(t *testing.T) {
	disp, _, _, cs := newTestDispatcher(t)
	cs.on("POST /chat/mute/1", 200, ActionResult{Success: false, Error: "Conversation not found"})

	err := disp.Mute(context.Background(), 1)
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %T: %v", err, err)
	}
	if reqErr.Op != "mute conversation" {
		t.Fatalf("unexpected op: %q", reqErr.Op)
	}
}

func TestDispatcherCreateGroup(t *testing.T) {
	disp, _, state, cs := newTestDispatcher(t)
	created := testConversation(9, ConversationGroup, "New Group")
	cs.on("POST /chat/conversations/group/create", 200, created)

	conv, err := disp.CreateGroup(context.Background(), "New Group", []string{"peer-001"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if conv.ID != 9 || conv.Name != "New Group" {
		t.Fatalf("unexpected conversation: %+v", conv)
	}
	// The refresh pulls the scripted two-conversation list.
	if state.Conversations.Len() != 2 {
		t.Fatalf("expected refreshed list, got %d", state.Conversations.Len())
	}
}

// ============================================================================
// Client plumbing
// ============================================================================

func TestClientRequestHeaders(t *testing.T) {
	var gotAuth, gotRequestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get("X-Request-ID")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ActionResult{Success: true})
	}))
	defer srv.Close()

	client := NewClient("tok-abc", WithBaseURL(srv.URL))
	if _, err := client.Conversations.Mute(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer tok-abc" {
		t.Fatalf("expected bearer header, got %q", gotAuth)
	}
	if gotRequestID == "" {
		t.Fatal("expected an idempotency request id on a mutation")
	}
}

func TestClientAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"error": "You are not a participant"})
	}))
	defer srv.Close()

	client := NewClient("tok-abc", WithBaseURL(srv.URL))
	_, err := client.Conversations.List(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.Status != 403 || apiErr.Message != "You are not a participant" {
		t.Fatalf("unexpected APIError: %+v", apiErr)
	}
}

func TestClientWSUrl(t *testing.T) {
	client := NewClient("tok abc", WithBaseURL("https://chat.example.edu"))
	want := "wss://chat.example.edu/chat/ws?token=tok+abc"
	if got := client.WSUrl(); got != want {
		t.Fatalf("WSUrl = %q, want %q", got, want)
	}
}
