package educhat

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Event Payload Types
// ============================================================================

// ConnectedPayload is the server's first frame on a freshly opened connection.
type ConnectedPayload struct {
	UserPublicID string `json:"user_public_id"`
}

// NewMessagePayload is sent when a message is posted to any conversation the
// user participates in.
type NewMessagePayload struct {
	ConversationID int64   `json:"conversation_id"`
	Message        Message `json:"message"`
}

// MessageEditedPayload carries the full updated message after an edit.
type MessageEditedPayload struct {
	ConversationID int64   `json:"conversation_id"`
	Message        Message `json:"message"`
}

// MessageDeletedPayload identifies a deleted message by id only.
type MessageDeletedPayload struct {
	ConversationID int64 `json:"conversation_id"`
	MessageID      int64 `json:"message_id"`
}

// ReactionAddedPayload is sent when any participant reacts to a message.
type ReactionAddedPayload struct {
	MessageID int64    `json:"message_id"`
	Reaction  Reaction `json:"reaction"`
}

// ReactionRemovedPayload is sent when a participant withdraws a reaction.
type ReactionRemovedPayload struct {
	MessageID    int64  `json:"message_id"`
	UserPublicID string `json:"user_public_id"`
	Emoji        string `json:"emoji"`
}

// PresencePayload is sent when a user comes online or goes offline.
type PresencePayload struct {
	UserPublicID string `json:"user_public_id"`
	Status       string `json:"status"`
	LastSeen     string `json:"last_seen,omitempty"`
}

// PongPayload is the response to a ping command.
type PongPayload struct {
	RequestID string `json:"request_id"`
}

// RealtimeErrorPayload is sent when a server-side error occurs.
type RealtimeErrorPayload struct {
	Message string `json:"message"`
}

// RealtimeEnvelope is the wire format for all push events.
type RealtimeEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// RealtimeCommand is a client-to-server command (WebSocket only).
type RealtimeCommand struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	RequestID string      `json:"request_id,omitempty"`
}

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures push-channel clients.
type RealtimeConfig struct {
	// URL is the full WebSocket or SSE endpoint. Client.ConnectRealtime
	// fills it in from the base URL when empty.
	URL string
	// UserPublicID is announced with a join command after every successful
	// connect, including reconnects, so the server restores presence.
	UserPublicID         string
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	HTTPClient           *http.Client
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
	StateReconnecting RealtimeState = "reconnecting"
)

// ============================================================================
// Event Dispatcher
// ============================================================================

// RealtimeEventHandler is the generic event callback type.
type RealtimeEventHandler func(eventType string, payload json.RawMessage)

// Handlers run synchronously on the read loop, one envelope at a time, so
// downstream cache mutations observe events in server-emission order.
type eventDispatcher struct {
	mu                sync.RWMutex
	generic           map[string][]RealtimeEventHandler
	onNewMessage      []func(NewMessagePayload)
	onMessageEdited   []func(MessageEditedPayload)
	onMessageDeleted  []func(MessageDeletedPayload)
	onReactionAdded   []func(ReactionAddedPayload)
	onReactionRemoved []func(ReactionRemovedPayload)
	onPresence        []func(PresencePayload)
	onError           []func(RealtimeErrorPayload)
	onConnected       []func()
	onDisconnected    []func(int, string)
	onReconnecting    []func(int, time.Duration)
}

func newEventDispatcher() *eventDispatcher {
	return &eventDispatcher{
		generic: make(map[string][]RealtimeEventHandler),
	}
}

func (d *eventDispatcher) dispatch(env RealtimeEnvelope) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	// Typed handlers
	switch env.Type {
	case "new_message":
		var p NewMessagePayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onNewMessage {
				h(p)
			}
		}
	case "message_edited":
		var p MessageEditedPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onMessageEdited {
				h(p)
			}
		}
	case "message_deleted":
		var p MessageDeletedPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onMessageDeleted {
				h(p)
			}
		}
	case "reaction_added":
		var p ReactionAddedPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onReactionAdded {
				h(p)
			}
		}
	case "reaction_removed":
		var p ReactionRemovedPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onReactionRemoved {
				h(p)
			}
		}
	case "presence_update":
		var p PresencePayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onPresence {
				h(p)
			}
		}
	case "error":
		var p RealtimeErrorPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			for _, h := range d.onError {
				h(p)
			}
		}
	}

	// Generic handlers
	for _, h := range d.generic[env.Type] {
		h(env.Type, env.Payload)
	}
}

func (d *eventDispatcher) emitConnected() {
	d.mu.RLock()
	handlers := append([]func(){}, d.onConnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h()
	}
}

func (d *eventDispatcher) emitDisconnected(code int, reason string) {
	d.mu.RLock()
	handlers := append([]func(int, string){}, d.onDisconnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(code, reason)
	}
}

func (d *eventDispatcher) emitReconnecting(attempt int, delay time.Duration) {
	d.mu.RLock()
	handlers := append([]func(int, time.Duration){}, d.onReconnecting...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(attempt, delay)
	}
}

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

func (r *reconnector) reset() {
	r.attempt = 0
	r.connectedAt = time.Time{}
}

// ============================================================================
// RealtimeClient (WebSocket)
// ============================================================================

// RealtimeClient is the WebSocket push-channel client with auto-reconnect,
// heartbeat and presence re-announcement.
type RealtimeClient struct {
	config           *RealtimeConfig
	conn             *websocket.Conn
	mu               sync.Mutex
	state            RealtimeState
	intentionalClose bool
	dispatcher       *eventDispatcher
	recon            *reconnector
	cancelFn         context.CancelFunc
	pingCounter      int
	pendingPings     map[string]chan PongPayload
	pendingMu        sync.Mutex
}

func newRealtimeClient(cfg *RealtimeConfig) *RealtimeClient {
	return &RealtimeClient{
		config:       cfg,
		state:        StateDisconnected,
		dispatcher:   newEventDispatcher(),
		recon:        newReconnector(cfg),
		pendingPings: make(map[string]chan PongPayload),
	}
}

// OnNewMessage registers a handler for new messages.
func (ws *RealtimeClient) OnNewMessage(h func(NewMessagePayload)) {
	ws.dispatcher.mu.Lock()
	ws.dispatcher.onNewMessage = append(ws.dispatcher.onNewMessage, h)
	ws.dispatcher.mu.Unlock()
}

// OnMessageEdited registers a handler for message edits.
func (ws *RealtimeClient) OnMessageEdited(h func(MessageEditedPayload)) {
	ws.dispatcher.mu.Lock()
	ws.dispatcher.onMessageEdited = append(ws.dispatcher.onMessageEdited, h)
	ws.dispatcher.mu.Unlock()
}

// OnMessageDeleted registers a handler for message deletions.
func (ws *RealtimeClient) OnMessageDeleted(h func(MessageDeletedPayload)) {
	ws.dispatcher.mu.Lock()
	ws.dispatcher.onMessageDeleted = append(ws.dispatcher.onMessageDeleted, h)
	ws.dispatcher.mu.Unlock()
}

// OnReactionAdded registers a handler for added reactions.
func (ws *RealtimeClient) OnReactionAdded(h func(ReactionAddedPayload)) {
	ws.dispatcher.mu.Lock()
	ws.dispatcher.onReactionAdded = append(ws.dispatcher.onReactionAdded, h)
	ws.dispatcher.mu.Unlock()
}

// OnReactionRemoved registers a handler for removed reactions.
func (ws *RealtimeClient) OnReactionRemoved(h func(ReactionRemovedPayload)) {
	ws.dispatcher.mu.Lock()
	ws.dispatcher.onReactionRemoved = append(ws.dispatcher.onReactionRemoved, h)
	ws.dispatcher.mu.Unlock()
}

// OnPresence registers a handler for presence updates.
func (ws *RealtimeClient) OnPresence(h func(PresencePayload)) {
	ws.dispatcher.mu.Lock()
	ws.dispatcher.onPresence = append(ws.dispatcher.onPresence, h)
	ws.dispatcher.mu.Unlock()
}

// OnError registers a handler for server errors.
func (ws *RealtimeClient) OnError(h func(RealtimeErrorPayload)) {
	ws.dispatcher.mu.Lock()
	ws.dispatcher.onError = append(ws.dispatcher.onError, h)
	ws.dispatcher.mu.Unlock()
}

// OnConnected registers a handler for the connected meta-event. It fires on
// every successful connect, reconnects included.
func (ws *RealtimeClient) OnConnected(h func()) {
	ws.dispatcher.mu.Lock()
	ws.dispatcher.onConnected = append(ws.dispatcher.onConnected, h)
	ws.dispatcher.mu.Unlock()
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (ws *RealtimeClient) OnDisconnected(h func(code int, reason string)) {
	ws.dispatcher.mu.Lock()
	ws.dispatcher.onDisconnected = append(ws.dispatcher.onDisconnected, h)
	ws.dispatcher.mu.Unlock()
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (ws *RealtimeClient) OnReconnecting(h func(attempt int, delay time.Duration)) {
	ws.dispatcher.mu.Lock()
	ws.dispatcher.onReconnecting = append(ws.dispatcher.onReconnecting, h)
	ws.dispatcher.mu.Unlock()
}

// On registers a generic event handler.
func (ws *RealtimeClient) On(eventType string, h RealtimeEventHandler) {
	ws.dispatcher.mu.Lock()
	ws.dispatcher.generic[eventType] = append(ws.dispatcher.generic[eventType], h)
	ws.dispatcher.mu.Unlock()
}

// State returns the current connection state.
func (ws *RealtimeClient) State() RealtimeState {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.state
}

// Connect establishes the WebSocket connection, waits for the server's
// connected frame and announces presence.
func (ws *RealtimeClient) Connect(ctx context.Context) error {
	ws.mu.Lock()
	if ws.state == StateConnected || ws.state == StateConnecting {
		ws.mu.Unlock()
		return nil
	}
	ws.state = StateConnecting
	ws.intentionalClose = false
	ws.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, ws.config.URL, nil)
	if err != nil {
		ws.mu.Lock()
		ws.state = StateDisconnected
		ws.mu.Unlock()
		return fmt.Errorf("websocket dial: %w", err)
	}

	// Read first frame (should be "connected")
	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		ws.mu.Lock()
		ws.state = StateDisconnected
		ws.mu.Unlock()
		return fmt.Errorf("read connected frame: %w", err)
	}

	var env RealtimeEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != "connected" {
		conn.Close(websocket.StatusNormalClosure, "")
		ws.mu.Lock()
		ws.state = StateDisconnected
		ws.mu.Unlock()
		return fmt.Errorf("expected 'connected', got '%s'", env.Type)
	}

	ws.mu.Lock()
	ws.conn = conn
	ws.state = StateConnected
	ws.mu.Unlock()
	ws.recon.markConnected()

	// Presence is not persisted server-side across connections, so every
	// (re)connect re-announces the user.
	if ws.config.UserPublicID != "" {
		if err := ws.Join(ctx, ws.config.UserPublicID); err != nil {
			conn.Close(websocket.StatusNormalClosure, "")
			ws.mu.Lock()
			ws.state = StateDisconnected
			ws.conn = nil
			ws.mu.Unlock()
			return fmt.Errorf("join announce: %w", err)
		}
	}

	ws.dispatcher.emitConnected()

	connCtx, cancel := context.WithCancel(ctx)
	ws.mu.Lock()
	ws.cancelFn = cancel
	ws.mu.Unlock()

	go ws.readLoop(connCtx)
	go ws.heartbeatLoop(connCtx)

	return nil
}

// Disconnect gracefully closes the connection.
func (ws *RealtimeClient) Disconnect() error {
	ws.mu.Lock()
	ws.intentionalClose = true
	if ws.cancelFn != nil {
		ws.cancelFn()
		ws.cancelFn = nil
	}
	conn := ws.conn
	ws.conn = nil
	ws.state = StateDisconnected
	ws.mu.Unlock()

	ws.clearPendingPings()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	ws.dispatcher.emitDisconnected(1000, "client disconnect")
	return nil
}

// Join announces the user to the server, entering their event room.
func (ws *RealtimeClient) Join(ctx context.Context, userPublicID string) error {
	return ws.Send(ctx, &RealtimeCommand{
		Type:    "join",
		Payload: map[string]string{"user_id": userPublicID},
	})
}

// Send sends a raw command over the WebSocket.
func (ws *RealtimeClient) Send(ctx context.Context, cmd *RealtimeCommand) error {
	ws.mu.Lock()
	conn := ws.conn
	ws.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Ping sends a ping and waits for pong.
func (ws *RealtimeClient) Ping(ctx context.Context) (*PongPayload, error) {
	ws.pingCounter++
	requestID := fmt.Sprintf("ping-%d", ws.pingCounter)

	ch := make(chan PongPayload, 1)
	ws.pendingMu.Lock()
	ws.pendingPings[requestID] = ch
	ws.pendingMu.Unlock()

	err := ws.Send(ctx, &RealtimeCommand{
		Type:    "ping",
		Payload: map[string]string{"request_id": requestID},
	})
	if err != nil {
		ws.pendingMu.Lock()
		delete(ws.pendingPings, requestID)
		ws.pendingMu.Unlock()
		return nil, err
	}

	select {
	case pong := <-ch:
		return &pong, nil
	case <-time.After(10 * time.Second):
		ws.pendingMu.Lock()
		delete(ws.pendingPings, requestID)
		ws.pendingMu.Unlock()
		return nil, fmt.Errorf("ping timeout")
	case <-ctx.Done():
		ws.pendingMu.Lock()
		delete(ws.pendingPings, requestID)
		ws.pendingMu.Unlock()
		return nil, ctx.Err()
	}
}

func (ws *RealtimeClient) readLoop(ctx context.Context) {
	for {
		_, data, err := ws.conn.Read(ctx)
		if err != nil {
			ws.mu.Lock()
			intentional := ws.intentionalClose
			ws.mu.Unlock()
			if intentional {
				return
			}

			ws.mu.Lock()
			ws.state = StateDisconnected
			ws.conn = nil
			ws.mu.Unlock()

			ws.dispatcher.emitDisconnected(0, err.Error())

			if ws.config.AutoReconnect && ws.recon.shouldReconnect() {
				ws.scheduleReconnect(ctx)
			}
			return
		}

		var env RealtimeEnvelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}

		// Resolve pending pings
		if env.Type == "pong" {
			var p PongPayload
			if json.Unmarshal(env.Payload, &p) == nil && p.RequestID != "" {
				ws.pendingMu.Lock()
				ch, ok := ws.pendingPings[p.RequestID]
				if ok {
					delete(ws.pendingPings, p.RequestID)
				}
				ws.pendingMu.Unlock()
				if ok {
					ch <- p
				}
			}
			continue
		}

		// Synchronous: the next frame is not read until this one has been
		// applied, preserving per-conversation event order.
		ws.dispatcher.dispatch(env)
	}
}

func (ws *RealtimeClient) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(ws.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ws.mu.Lock()
			s := ws.state
			ws.mu.Unlock()
			if s != StateConnected {
				return
			}

			_, err := ws.Ping(ctx)
			if err != nil {
				ws.mu.Lock()
				conn := ws.conn
				ws.mu.Unlock()
				if conn != nil {
					conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				}
				return
			}
		}
	}
}

func (ws *RealtimeClient) scheduleReconnect(ctx context.Context) {
	delay := ws.recon.nextDelay()
	ws.mu.Lock()
	ws.state = StateReconnecting
	ws.mu.Unlock()

	ws.dispatcher.emitReconnecting(ws.recon.attempt, delay)

	time.Sleep(delay)

	if err := ws.Connect(ctx); err != nil {
		if ws.config.AutoReconnect && ws.recon.shouldReconnect() {
			ws.scheduleReconnect(ctx)
		} else {
			ws.mu.Lock()
			ws.state = StateDisconnected
			ws.mu.Unlock()
		}
	}
}

func (ws *RealtimeClient) clearPendingPings() {
	ws.pendingMu.Lock()
	for k, ch := range ws.pendingPings {
		close(ch)
		delete(ws.pendingPings, k)
	}
	ws.pendingMu.Unlock()
}

// ============================================================================
// RealtimeSSEClient
// ============================================================================

// RealtimeSSEClient is the SSE fallback push client (server-push only) for
// networks that block WebSocket upgrades. Presence cannot be announced over
// SSE; the server derives it from the authenticated stream connection.
type RealtimeSSEClient struct {
	config           *RealtimeConfig
	mu               sync.Mutex
	state            RealtimeState
	intentionalClose bool
	dispatcher       *eventDispatcher
	recon            *reconnector
	cancelFn         context.CancelFunc
	lastDataTime     time.Time
}

// ConnectSSE creates the SSE fallback client. Call Connect to establish the
// stream.
func (c *Client) ConnectSSE(config *RealtimeConfig) *RealtimeSSEClient {
	cfg := *config
	cfg.defaults()
	if cfg.URL == "" {
		cfg.URL = c.baseURL + "/chat/sse"
		if c.sessionToken != "" {
			cfg.URL += "?token=" + c.sessionToken
		}
	}
	return &RealtimeSSEClient{
		config:     &cfg,
		state:      StateDisconnected,
		dispatcher: newEventDispatcher(),
		recon:      newReconnector(&cfg),
	}
}

// OnNewMessage registers a handler for new messages.
func (sse *RealtimeSSEClient) OnNewMessage(h func(NewMessagePayload)) {
	sse.dispatcher.mu.Lock()
	sse.dispatcher.onNewMessage = append(sse.dispatcher.onNewMessage, h)
	sse.dispatcher.mu.Unlock()
}

// OnMessageEdited registers a handler for message edits.
func (sse *RealtimeSSEClient) OnMessageEdited(h func(MessageEditedPayload)) {
	sse.dispatcher.mu.Lock()
	sse.dispatcher.onMessageEdited = append(sse.dispatcher.onMessageEdited, h)
	sse.dispatcher.mu.Unlock()
}

// OnMessageDeleted registers a handler for message deletions.
func (sse *RealtimeSSEClient) OnMessageDeleted(h func(MessageDeletedPayload)) {
	sse.dispatcher.mu.Lock()
	sse.dispatcher.onMessageDeleted = append(sse.dispatcher.onMessageDeleted, h)
	sse.dispatcher.mu.Unlock()
}

// OnReactionAdded registers a handler for added reactions.
func (sse *RealtimeSSEClient) OnReactionAdded(h func(ReactionAddedPayload)) {
	sse.dispatcher.mu.Lock()
	sse.dispatcher.onReactionAdded = append(sse.dispatcher.onReactionAdded, h)
	sse.dispatcher.mu.Unlock()
}

// OnReactionRemoved registers a handler for removed reactions.
func (sse *RealtimeSSEClient) OnReactionRemoved(h func(ReactionRemovedPayload)) {
	sse.dispatcher.mu.Lock()
	sse.dispatcher.onReactionRemoved = append(sse.dispatcher.onReactionRemoved, h)
	sse.dispatcher.mu.Unlock()
}

// OnPresence registers a handler for presence updates.
func (sse *RealtimeSSEClient) OnPresence(h func(PresencePayload)) {
	sse.dispatcher.mu.Lock()
	sse.dispatcher.onPresence = append(sse.dispatcher.onPresence, h)
	sse.dispatcher.mu.Unlock()
}

// OnError registers a handler for server errors.
func (sse *RealtimeSSEClient) OnError(h func(RealtimeErrorPayload)) {
	sse.dispatcher.mu.Lock()
	sse.dispatcher.onError = append(sse.dispatcher.onError, h)
	sse.dispatcher.mu.Unlock()
}

// OnConnected registers a handler for the connected meta-event.
func (sse *RealtimeSSEClient) OnConnected(h func()) {
	sse.dispatcher.mu.Lock()
	sse.dispatcher.onConnected = append(sse.dispatcher.onConnected, h)
	sse.dispatcher.mu.Unlock()
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (sse *RealtimeSSEClient) OnDisconnected(h func(code int, reason string)) {
	sse.dispatcher.mu.Lock()
	sse.dispatcher.onDisconnected = append(sse.dispatcher.onDisconnected, h)
	sse.dispatcher.mu.Unlock()
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (sse *RealtimeSSEClient) OnReconnecting(h func(attempt int, delay time.Duration)) {
	sse.dispatcher.mu.Lock()
	sse.dispatcher.onReconnecting = append(sse.dispatcher.onReconnecting, h)
	sse.dispatcher.mu.Unlock()
}

// On registers a generic event handler.
func (sse *RealtimeSSEClient) On(eventType string, h RealtimeEventHandler) {
	sse.dispatcher.mu.Lock()
	sse.dispatcher.generic[eventType] = append(sse.dispatcher.generic[eventType], h)
	sse.dispatcher.mu.Unlock()
}

// State returns the current connection state.
func (sse *RealtimeSSEClient) State() RealtimeState {
	sse.mu.Lock()
	defer sse.mu.Unlock()
	return sse.state
}

// Connect establishes the SSE stream.
func (sse *RealtimeSSEClient) Connect(ctx context.Context) error {
	sse.mu.Lock()
	if sse.state == StateConnected || sse.state == StateConnecting {
		sse.mu.Unlock()
		return nil
	}
	sse.state = StateConnecting
	sse.intentionalClose = false
	sse.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, "GET", sse.config.URL, nil)
	if err != nil {
		sse.mu.Lock()
		sse.state = StateDisconnected
		sse.mu.Unlock()
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := sse.config.HTTPClient.Do(req)
	if err != nil {
		sse.mu.Lock()
		sse.state = StateDisconnected
		sse.mu.Unlock()
		return fmt.Errorf("SSE connect: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		sse.mu.Lock()
		sse.state = StateDisconnected
		sse.mu.Unlock()
		return fmt.Errorf("SSE HTTP %d", resp.StatusCode)
	}

	sse.mu.Lock()
	sse.state = StateConnected
	sse.lastDataTime = time.Now()
	sse.mu.Unlock()
	sse.recon.markConnected()
	sse.dispatcher.emitConnected()

	connCtx, cancel := context.WithCancel(ctx)
	sse.mu.Lock()
	sse.cancelFn = cancel
	sse.mu.Unlock()

	go sse.readLoop(connCtx, resp)
	go sse.heartbeatWatchdog(connCtx)

	return nil
}

// Disconnect closes the SSE stream.
func (sse *RealtimeSSEClient) Disconnect() error {
	sse.mu.Lock()
	sse.intentionalClose = true
	if sse.cancelFn != nil {
		sse.cancelFn()
		sse.cancelFn = nil
	}
	sse.state = StateDisconnected
	sse.mu.Unlock()

	sse.dispatcher.emitDisconnected(1000, "client disconnect")
	return nil
}

func (sse *RealtimeSSEClient) readLoop(ctx context.Context, resp *http.Response) {
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Text()

		sse.mu.Lock()
		sse.lastDataTime = time.Now()
		sse.mu.Unlock()

		if strings.HasPrefix(line, ":") {
			continue // heartbeat comment
		}

		if strings.HasPrefix(line, "data: ") {
			jsonStr := strings.TrimPrefix(line, "data: ")
			var env RealtimeEnvelope
			if json.Unmarshal([]byte(jsonStr), &env) == nil {
				sse.dispatcher.dispatch(env)
			}
		}
	}

	sse.mu.Lock()
	intentional := sse.intentionalClose
	sse.mu.Unlock()
	if intentional {
		return
	}

	sse.mu.Lock()
	sse.state = StateDisconnected
	sse.mu.Unlock()
	sse.dispatcher.emitDisconnected(0, "stream ended")

	if sse.config.AutoReconnect && sse.recon.shouldReconnect() {
		sse.scheduleReconnect(ctx)
	}
}

func (sse *RealtimeSSEClient) heartbeatWatchdog(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sse.mu.Lock()
			stale := time.Since(sse.lastDataTime) > 45*time.Second
			sse.mu.Unlock()
			if stale {
				if sse.cancelFn != nil {
					sse.cancelFn()
				}
				return
			}
		}
	}
}

func (sse *RealtimeSSEClient) scheduleReconnect(ctx context.Context) {
	delay := sse.recon.nextDelay()
	sse.mu.Lock()
	sse.state = StateReconnecting
	sse.mu.Unlock()

	sse.dispatcher.emitReconnecting(sse.recon.attempt, delay)

	time.Sleep(delay)

	// Use background context since the old context is cancelled
	if err := sse.Connect(context.Background()); err != nil {
		if sse.config.AutoReconnect && sse.recon.shouldReconnect() {
			sse.scheduleReconnect(context.Background())
		} else {
			sse.mu.Lock()
			sse.state = StateDisconnected
			sse.mu.Unlock()
		}
	}
}
