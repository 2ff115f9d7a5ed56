package educhat

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ============================================================================
// Event Delivery Types
// ============================================================================

// EventDelivery is a batch of push envelopes POSTed by the server to a
// registered callback URL when it cannot hold a socket open to the client
// (headless bots, server-to-server integrations). The envelopes are the same
// ones the WebSocket channel carries and are applied through the same
// reconciliation path, in batch order.
type EventDelivery struct {
	Source    string             `json:"source"`
	Timestamp int64              `json:"timestamp"`
	Events    []RealtimeEnvelope `json:"events"`
}

// ============================================================================
// Standalone Functions
// ============================================================================

// VerifyDeliverySignature verifies an event delivery signature using
// HMAC-SHA256. Uses constant-time comparison to prevent timing attacks.
func VerifyDeliverySignature(body, signature, secret string) bool {
	if body == "" || signature == "" || secret == "" {
		return false
	}

	sig := signature
	if strings.HasPrefix(sig, "sha256=") {
		sig = sig[7:]
	}
	if sig == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	expected := hex.EncodeToString(mac.Sum(nil))

	if len(sig) != len(expected) {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// ParseEventDelivery parses a raw delivery body into a typed EventDelivery.
func ParseEventDelivery(body string) (*EventDelivery, error) {
	var delivery EventDelivery
	if err := json.Unmarshal([]byte(body), &delivery); err != nil {
		return nil, fmt.Errorf("invalid JSON in delivery body: %w", err)
	}

	if delivery.Source != "educhat" {
		return nil, fmt.Errorf("unknown delivery source: %s", delivery.Source)
	}
	if len(delivery.Events) == 0 {
		return nil, fmt.Errorf("empty event list in delivery")
	}
	for _, env := range delivery.Events {
		if env.Type == "" {
			return nil, fmt.Errorf("event with missing type in delivery")
		}
	}

	return &delivery, nil
}

// ============================================================================
// EventReceiver
// ============================================================================

// EventReceiver handles delivery verification, parsing and application to a
// Reconciler.
type EventReceiver struct {
	secret string
	rec    *Reconciler
}

// NewEventReceiver creates a receiver feeding the given reconciler.
func NewEventReceiver(secret string, rec *Reconciler) (*EventReceiver, error) {
	if secret == "" {
		return nil, fmt.Errorf("delivery secret is required")
	}
	if rec == nil {
		return nil, fmt.Errorf("reconciler is required")
	}
	return &EventReceiver{secret: secret, rec: rec}, nil
}

// Verify verifies an HMAC-SHA256 signature.
func (er *EventReceiver) Verify(body, signature string) bool {
	return VerifyDeliverySignature(body, signature, er.secret)
}

// Parse parses a raw body into a typed EventDelivery.
func (er *EventReceiver) Parse(body string) (*EventDelivery, error) {
	return ParseEventDelivery(body)
}

// Handle processes a delivery (verify + parse + apply). Returns the status
// code and response body for the caller to write.
func (er *EventReceiver) Handle(body, signature string) (int, any) {
	if !er.Verify(body, signature) {
		return http.StatusUnauthorized, map[string]string{"error": "Invalid signature"}
	}

	delivery, err := er.Parse(body)
	if err != nil {
		return http.StatusBadRequest, map[string]string{"error": err.Error()}
	}

	applied := 0
	for _, env := range delivery.Events {
		if er.apply(env) {
			applied++
		}
	}

	return http.StatusOK, map[string]int{"applied": applied}
}

// apply routes one envelope into the reconciler. Duplicate and stale
// outcomes count as handled; unknown event types are skipped.
func (er *EventReceiver) apply(env RealtimeEnvelope) bool {
	switch env.Type {
	case "new_message":
		var p NewMessagePayload
		if json.Unmarshal(env.Payload, &p) == nil {
			_ = er.rec.ApplyNewMessage(p)
			return true
		}
	case "message_edited":
		var p MessageEditedPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			_ = er.rec.ApplyMessageEdited(p)
			return true
		}
	case "message_deleted":
		var p MessageDeletedPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			_ = er.rec.ApplyMessageDeleted(p)
			return true
		}
	case "reaction_added":
		var p ReactionAddedPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			_ = er.rec.ApplyReactionAdded(p.MessageID, p.Reaction)
			return true
		}
	case "reaction_removed":
		var p ReactionRemovedPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			_ = er.rec.ApplyReactionRemoved(p.MessageID, p.UserPublicID, p.Emoji)
			return true
		}
	case "presence_update":
		var p PresencePayload
		if json.Unmarshal(env.Payload, &p) == nil {
			er.rec.ApplyPresence(p)
			return true
		}
	}
	return false
}

// HTTPHandler returns an http.Handler that processes event deliveries.
//
// Example:
//
//	er, _ := educhat.NewEventReceiver("secret", rec)
//	http.Handle("/events", er.HTTPHandler())
func (er *EventReceiver) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(http.StatusMethodNotAllowed)
			json.NewEncoder(rw).Encode(map[string]string{"error": "Method not allowed"})
			return
		}

		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(rw).Encode(map[string]string{"error": "Failed to read body"})
			return
		}
		defer r.Body.Close()

		body := string(bodyBytes)
		signature := r.Header.Get("X-EduChat-Signature")

		statusCode, data := er.Handle(body, signature)

		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(statusCode)
		json.NewEncoder(rw).Encode(data)
	})
}

// HTTPHandlerFunc returns an http.HandlerFunc for convenience.
func (er *EventReceiver) HTTPHandlerFunc() http.HandlerFunc {
	return er.HTTPHandler().ServeHTTP
}
