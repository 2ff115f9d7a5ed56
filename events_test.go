package educhat

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// ============================================================================
// Test Helpers
// ============================================================================

const testSecret = "test-delivery-secret-key"

func makeTestSignature(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func makeTestEnvelope(t *testing.T, eventType string, payload any) RealtimeEnvelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return RealtimeEnvelope{Type: eventType, Payload: raw}
}

func makeTestDelivery(t *testing.T, events ...RealtimeEnvelope) string {
	t.Helper()
	b, err := json.Marshal(EventDelivery{
		Source:    "educhat",
		Timestamp: 1770000000,
		Events:    events,
	})
	if err != nil {
		t.Fatalf("marshal delivery: %v", err)
	}
	return string(b)
}

func newTestReceiver(t *testing.T) (*EventReceiver, *ChatState) {
	t.Helper()
	rec, state := newTestReconciler(t, nil)
	er, err := NewEventReceiver(testSecret, rec)
	if err != nil {
		t.Fatalf("NewEventReceiver: %v", err)
	}
	return er, state
}

// ============================================================================
// VerifyDeliverySignature
// ============================================================================

func TestVerifyDeliverySignature(t *testing.T) {
	body := makeTestDelivery(t, makeTestEnvelope(t, "presence_update", PresencePayload{
		UserPublicID: "peer-001",
		Status:       "online",
	}))

	t.Run("valid signature", func(t *testing.T) {
		sig := makeTestSignature(body, testSecret)
		if !VerifyDeliverySignature(body, sig, testSecret) {
			t.Fatal("expected valid signature")
		}
	})

	t.Run("valid without prefix", func(t *testing.T) {
		sig := strings.TrimPrefix(makeTestSignature(body, testSecret), "sha256=")
		if !VerifyDeliverySignature(body, sig, testSecret) {
			t.Fatal("expected valid signature without prefix")
		}
	})

	t.Run("wrong signature", func(t *testing.T) {
		sig := "sha256=" + strings.Repeat("0", 64)
		if VerifyDeliverySignature(body, sig, testSecret) {
			t.Fatal("expected invalid signature")
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		sig := makeTestSignature(body, "wrong-secret")
		if VerifyDeliverySignature(body, sig, testSecret) {
			t.Fatal("expected invalid signature with wrong secret")
		}
	})

	t.Run("tampered body", func(t *testing.T) {
		sig := makeTestSignature(body, testSecret)
		if VerifyDeliverySignature(body+"tampered", sig, testSecret) {
			t.Fatal("expected invalid for tampered body")
		}
	})

	t.Run("empty body", func(t *testing.T) {
		if VerifyDeliverySignature("", "sha256=abc", testSecret) {
			t.Fatal("expected false for empty body")
		}
	})

	t.Run("empty signature", func(t *testing.T) {
		if VerifyDeliverySignature("body", "", testSecret) {
			t.Fatal("expected false for empty signature")
		}
	})

	t.Run("empty secret", func(t *testing.T) {
		if VerifyDeliverySignature("body", "sha256=abc", "") {
			t.Fatal("expected false for empty secret")
		}
	})

	t.Run("sha256= prefix only", func(t *testing.T) {
		if VerifyDeliverySignature("body", "sha256=", testSecret) {
			t.Fatal("expected false for sha256= prefix only")
		}
	})
}

// ============================================================================
// ParseEventDelivery
// ============================================================================

func TestParseEventDelivery(t *testing.T) {
	t.Run("valid delivery", func(t *testing.T) {
		body := makeTestDelivery(t,
			makeTestEnvelope(t, "presence_update", PresencePayload{UserPublicID: "peer-001", Status: "online"}),
			makeTestEnvelope(t, "message_deleted", MessageDeletedPayload{ConversationID: 1, MessageID: 3}),
		)
		delivery, err := ParseEventDelivery(body)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if delivery.Source != "educhat" {
			t.Fatalf("expected source educhat, got %s", delivery.Source)
		}
		if len(delivery.Events) != 2 {
			t.Fatalf("expected 2 events, got %d", len(delivery.Events))
		}
		if delivery.Events[0].Type != "presence_update" {
			t.Fatalf("unexpected first event type: %s", delivery.Events[0].Type)
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		_, err := ParseEventDelivery("not json")
		if err == nil {
			t.Fatal("expected error for invalid JSON")
		}
	})

	t.Run("unknown source", func(t *testing.T) {
		_, err := ParseEventDelivery(`{"source":"other","events":[{"type":"presence_update","payload":{}}]}`)
		if err == nil || !strings.Contains(err.Error(), "unknown delivery source") {
			t.Fatalf("expected unknown source error, got: %v", err)
		}
	})

	t.Run("empty event list", func(t *testing.T) {
		_, err := ParseEventDelivery(`{"source":"educhat","events":[]}`)
		if err == nil || !strings.Contains(err.Error(), "empty event list") {
			t.Fatalf("expected empty event list error, got: %v", err)
		}
	})

	t.Run("event missing type", func(t *testing.T) {
		_, err := ParseEventDelivery(`{"source":"educhat","events":[{"payload":{}}]}`)
		if err == nil || !strings.Contains(err.Error(), "missing type") {
			t.Fatalf("expected missing type error, got: %v", err)
		}
	})
}

// ============================================================================
// NewEventReceiver
// ============================================================================

func TestNewEventReceiver(t *testing.T) {
	rec, _ := newTestReconciler(t, nil)

	t.Run("empty secret", func(t *testing.T) {
		if _, err := NewEventReceiver("", rec); err == nil {
			t.Fatal("expected error for empty secret")
		}
	})

	t.Run("nil reconciler", func(t *testing.T) {
		if _, err := NewEventReceiver(testSecret, nil); err == nil {
			t.Fatal("expected error for nil reconciler")
		}
	})

	t.Run("valid creation", func(t *testing.T) {
		er, err := NewEventReceiver(testSecret, rec)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if er == nil {
			t.Fatal("expected non-nil receiver")
		}
	})
}

// ============================================================================
// EventReceiver.Handle
// ============================================================================

func TestEventReceiverHandle(t *testing.T) {
	t.Run("invalid signature", func(t *testing.T) {
		er, _ := newTestReceiver(t)
		body := makeTestDelivery(t, makeTestEnvelope(t, "presence_update", PresencePayload{UserPublicID: "peer-001", Status: "online"}))
		status, data := er.Handle(body, "sha256=bad")
		if status != 401 {
			t.Fatalf("expected 401, got %d", status)
		}
		m := data.(map[string]string)
		if m["error"] != "Invalid signature" {
			t.Fatalf("unexpected error: %s", m["error"])
		}
	})

	t.Run("malformed payload", func(t *testing.T) {
		er, _ := newTestReceiver(t)
		body := `{"source": "other"}`
		status, _ := er.Handle(body, makeTestSignature(body, testSecret))
		if status != 400 {
			t.Fatalf("expected 400, got %d", status)
		}
	})

	t.Run("events applied in batch order", func(t *testing.T) {
		er, state := newTestReceiver(t)
		body := makeTestDelivery(t,
			makeTestEnvelope(t, "new_message", NewMessagePayload{
				ConversationID: 1,
				Message:        testMessage(6, 1, "peer-001", "delivered", "2026-02-01T10:05:00"),
			}),
			makeTestEnvelope(t, "message_deleted", MessageDeletedPayload{ConversationID: 1, MessageID: 6}),
		)
		status, data := er.Handle(body, makeTestSignature(body, testSecret))
		if status != 200 {
			t.Fatalf("expected 200, got %d", status)
		}
		if applied := data.(map[string]int)["applied"]; applied != 2 {
			t.Fatalf("expected 2 applied, got %d", applied)
		}
		// Append then delete leaves the message tombstoned.
		if state.Messages.Has(1, 6) {
			t.Fatal("expected message 6 removed by second event")
		}
	})

	t.Run("duplicates counted as handled", func(t *testing.T) {
		er, state := newTestReceiver(t)
		replay := makeTestEnvelope(t, "new_message", NewMessagePayload{
			ConversationID: 1,
			Message:        testMessage(3, 1, "peer-001", "replay", "2026-02-01T10:00:00"),
		})
		body := makeTestDelivery(t, replay)
		status, data := er.Handle(body, makeTestSignature(body, testSecret))
		if status != 200 {
			t.Fatalf("expected 200, got %d", status)
		}
		if applied := data.(map[string]int)["applied"]; applied != 1 {
			t.Fatalf("expected replay counted as handled, got %d", applied)
		}
		if state.Messages.Len(1) != 5 {
			t.Fatalf("expected cache unchanged, got %d messages", state.Messages.Len(1))
		}
	})

	t.Run("unknown event types skipped", func(t *testing.T) {
		er, _ := newTestReceiver(t)
		body := makeTestDelivery(t, makeTestEnvelope(t, "typing_indicator", map[string]any{"user": "peer-001"}))
		status, data := er.Handle(body, makeTestSignature(body, testSecret))
		if status != 200 {
			t.Fatalf("expected 200, got %d", status)
		}
		if applied := data.(map[string]int)["applied"]; applied != 0 {
			t.Fatalf("expected 0 applied, got %d", applied)
		}
	})
}

// ============================================================================
// EventReceiver.HTTPHandler
// ============================================================================

func TestEventReceiverHTTPHandler(t *testing.T) {
	t.Run("GET returns 405", func(t *testing.T) {
		er, _ := newTestReceiver(t)
		req := httptest.NewRequest(http.MethodGet, "/events", nil)
		w := httptest.NewRecorder()
		er.HTTPHandler().ServeHTTP(w, req)
		if w.Code != 405 {
			t.Fatalf("expected 405, got %d", w.Code)
		}
	})

	t.Run("invalid signature returns 401", func(t *testing.T) {
		er, _ := newTestReceiver(t)
		body := makeTestDelivery(t, makeTestEnvelope(t, "presence_update", PresencePayload{UserPublicID: "peer-001", Status: "online"}))
		req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
		req.Header.Set("X-EduChat-Signature", "sha256=bad")
		w := httptest.NewRecorder()
		er.HTTPHandler().ServeHTTP(w, req)
		if w.Code != 401 {
			t.Fatalf("expected 401, got %d", w.Code)
		}
	})

	t.Run("valid delivery returns 200 and applies", func(t *testing.T) {
		er, state := newTestReceiver(t)
		body := makeTestDelivery(t, makeTestEnvelope(t, "presence_update", PresencePayload{
			UserPublicID: "peer-001",
			Status:       "online",
		}))
		req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
		req.Header.Set("X-EduChat-Signature", makeTestSignature(body, testSecret))
		w := httptest.NewRecorder()
		er.HTTPHandler().ServeHTTP(w, req)
		if w.Code != 200 {
			t.Fatalf("expected 200, got %d", w.Code)
		}

		var result map[string]int
		if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if result["applied"] != 1 {
			t.Fatalf("expected applied=1, got %d", result["applied"])
		}
		if !state.Presence.IsOnline("peer-001") {
			t.Fatal("expected presence applied through the reconciler")
		}
	})
}
