// Package educhat provides the Go client for the EduChat messaging API.
//
// The client covers the pull channel (conversation and message snapshots,
// mutations) with a sub-module access pattern; the push channel is handled
// by RealtimeClient. State reconciliation across both channels lives in
// Reconciler, with Projector deriving display state from the caches.
//
// Example:
//
//	client := educhat.NewClient(token)
//
//	convs, _ := client.Conversations.List(ctx)
//	client.Messages.Send(ctx, convID, "Hello!", 0)
//	client.Groups.Create(ctx, "Study Group", []string{"usr-1", "usr-2"})
package educhat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultBaseURL = "http://localhost:5000"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

type Client struct {
	sessionToken string
	baseURL      string
	httpClient   *http.Client

	Conversations *ConversationsClient
	Messages      *MessagesClient
	Groups        *GroupsClient
	Directory     *DirectoryClient
	Presence      *PresenceClient
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// NewClient creates a new EduChat client. sessionToken is the bearer token
// issued at login; pass "" when the http.Client carries a session cookie jar.
func NewClient(sessionToken string, opts ...ClientOption) *Client {
	c := &Client{
		sessionToken: sessionToken,
		baseURL:      DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Conversations = &ConversationsClient{client: c}
	c.Messages = &MessagesClient{client: c}
	c.Groups = &GroupsClient{client: c}
	c.Directory = &DirectoryClient{client: c}
	c.Presence = &PresenceClient{client: c}
	return c
}

// SetToken sets or updates the session token.
func (c *Client) SetToken(token string) {
	c.sessionToken = token
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.sessionToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.sessionToken)
	}
	if method != http.MethodGet {
		// Lets the server deduplicate a retried mutation.
		req.Header.Set("X-Request-ID", uuid.NewString())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return nil, apiErr
	}

	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func convPath(conversationID int64) string {
	return "/chat/conversations/" + strconv.FormatInt(conversationID, 10)
}

func msgPath(conversationID, messageID int64) string {
	return convPath(conversationID) + "/messages/" + strconv.FormatInt(messageID, 10)
}

// ============================================================================
// Conversations
// ============================================================================

// ConversationsClient handles conversation listing and per-conversation state.
type ConversationsClient struct{ client *Client }

// List returns every conversation the current user participates in.
func (cv *ConversationsClient) List(ctx context.Context) ([]Conversation, error) {
	data, err := cv.client.doRequest(ctx, "GET", "/chat/conversations", nil, nil)
	if err != nil {
		return nil, err
	}
	var convs []Conversation
	if err := json.Unmarshal(data, &convs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return convs, nil
}

// Messages returns the full message history of one conversation, deleted
// messages excluded, reactions attached.
func (cv *ConversationsClient) Messages(ctx context.Context, conversationID int64) ([]Message, error) {
	data, err := cv.client.doRequest(ctx, "GET", convPath(conversationID)+"/messages", nil, nil)
	if err != nil {
		return nil, err
	}
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return msgs, nil
}

func (cv *ConversationsClient) action(ctx context.Context, method, path string, body interface{}) (*ActionResult, error) {
	data, err := cv.client.doRequest(ctx, method, path, body, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[ActionResult](data)
}

func (cv *ConversationsClient) MarkRead(ctx context.Context, conversationID int64) (*ActionResult, error) {
	return cv.action(ctx, "POST", "/chat/mark_read", map[string]int64{"conversation_id": conversationID})
}

func (cv *ConversationsClient) MarkUnread(ctx context.Context, conversationID int64) (*ActionResult, error) {
	return cv.action(ctx, "POST", "/chat/mark-unread/"+strconv.FormatInt(conversationID, 10), nil)
}

func (cv *ConversationsClient) Mute(ctx context.Context, conversationID int64) (*ActionResult, error) {
	return cv.action(ctx, "POST", "/chat/mute/"+strconv.FormatInt(conversationID, 10), nil)
}

func (cv *ConversationsClient) Unmute(ctx context.Context, conversationID int64) (*ActionResult, error) {
	return cv.action(ctx, "POST", "/chat/unmute/"+strconv.FormatInt(conversationID, 10), nil)
}

func (cv *ConversationsClient) Pin(ctx context.Context, conversationID int64) (*ActionResult, error) {
	return cv.action(ctx, "POST", "/chat/pin/"+strconv.FormatInt(conversationID, 10), nil)
}

func (cv *ConversationsClient) Unpin(ctx context.Context, conversationID int64) (*ActionResult, error) {
	return cv.action(ctx, "POST", "/chat/unpin/"+strconv.FormatInt(conversationID, 10), nil)
}

func (cv *ConversationsClient) Archive(ctx context.Context, conversationID int64) (*ActionResult, error) {
	return cv.action(ctx, "POST", "/chat/archive/"+strconv.FormatInt(conversationID, 10), nil)
}

func (cv *ConversationsClient) Unarchive(ctx context.Context, conversationID int64) (*ActionResult, error) {
	return cv.action(ctx, "POST", "/chat/unarchive/"+strconv.FormatInt(conversationID, 10), nil)
}

// Block blocks a direct conversation. Groups cannot be blocked.
func (cv *ConversationsClient) Block(ctx context.Context, conversationID int64) (*ActionResult, error) {
	return cv.action(ctx, "POST", "/chat/block/"+strconv.FormatInt(conversationID, 10), nil)
}

// Leave removes the current user from a conversation. The server drops the
// conversation entirely once the last participant leaves.
func (cv *ConversationsClient) Leave(ctx context.Context, conversationID int64) (*ActionResult, error) {
	return cv.action(ctx, "DELETE", "/chat/delete/"+strconv.FormatInt(conversationID, 10), nil)
}

// ============================================================================
// Messages
// ============================================================================

// MessagesClient handles message-level operations.
type MessagesClient struct{ client *Client }

// Send posts a message to an existing conversation. replyTo is an optional
// message id to quote; pass 0 for none.
func (m *MessagesClient) Send(ctx context.Context, conversationID int64, content string, replyTo int64) (*SendResult, error) {
	payload := map[string]interface{}{"message": content}
	if replyTo != 0 {
		payload["reply_to_message_id"] = replyTo
	}
	data, err := m.client.doRequest(ctx, "POST", convPath(conversationID)+"/messages", payload, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[SendResult](data)
}

// SendDirect sends a direct message, creating the conversation on first
// contact. The result carries the resolved conversation id.
func (m *MessagesClient) SendDirect(ctx context.Context, receiverPublicID, content string, replyTo int64) (*SendResult, error) {
	payload := map[string]interface{}{
		"receiver_public_id": receiverPublicID,
		"message":            content,
	}
	if replyTo != 0 {
		payload["reply_to_message_id"] = replyTo
	}
	data, err := m.client.doRequest(ctx, "POST", "/chat/send_dm", payload, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[SendResult](data)
}

// Edit replaces the content of the caller's own message.
func (m *MessagesClient) Edit(ctx context.Context, conversationID, messageID int64, content string) (*EditResult, error) {
	data, err := m.client.doRequest(ctx, "POST", msgPath(conversationID, messageID)+"/edit", map[string]string{"content": content}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[EditResult](data)
}

// Delete soft-deletes the caller's own message.
func (m *MessagesClient) Delete(ctx context.Context, conversationID, messageID int64) (*ActionResult, error) {
	data, err := m.client.doRequest(ctx, "POST", msgPath(conversationID, messageID)+"/delete", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[ActionResult](data)
}

// Copy fetches the raw content of a message.
func (m *MessagesClient) Copy(ctx context.Context, conversationID, messageID int64) (*CopyResult, error) {
	data, err := m.client.doRequest(ctx, "GET", msgPath(conversationID, messageID)+"/copy", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[CopyResult](data)
}

// React adds an emoji reaction to a message.
func (m *MessagesClient) React(ctx context.Context, conversationID, messageID int64, emoji string) (*ReactResult, error) {
	data, err := m.client.doRequest(ctx, "POST", msgPath(conversationID, messageID)+"/react", map[string]string{"emoji": emoji}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[ReactResult](data)
}

// Unreact removes the caller's own reaction from a message.
func (m *MessagesClient) Unreact(ctx context.Context, conversationID, messageID int64, emoji string) (*ActionResult, error) {
	data, err := m.client.doRequest(ctx, "DELETE", msgPath(conversationID, messageID)+"/react", map[string]string{"emoji": emoji}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[ActionResult](data)
}

// Forward reposts a message into another conversation the caller belongs to.
func (m *MessagesClient) Forward(ctx context.Context, conversationID, messageID, targetConversationID int64) (*ActionResult, error) {
	data, err := m.client.doRequest(ctx, "POST", msgPath(conversationID, messageID)+"/forward",
		map[string]int64{"target_conversation_id": targetConversationID}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[ActionResult](data)
}

// ============================================================================
// Groups
// ============================================================================

// GroupsClient handles group conversation management.
type GroupsClient struct{ client *Client }

// Create starts a group conversation with the given members. The creator is
// added automatically and becomes the group admin.
func (g *GroupsClient) Create(ctx context.Context, name string, members []string) (*Conversation, error) {
	data, err := g.client.doRequest(ctx, "POST", "/chat/conversations/group/create",
		map[string]interface{}{"name": name, "members": members}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Conversation](data)
}

func (g *GroupsClient) Rename(ctx context.Context, conversationID int64, name string) (*ActionResult, error) {
	data, err := g.client.doRequest(ctx, "POST", "/chat/groups/"+strconv.FormatInt(conversationID, 10)+"/rename",
		map[string]string{"name": name}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[ActionResult](data)
}

// AddMembers adds several members at once; the server posts a system message
// announcing the additions.
func (g *GroupsClient) AddMembers(ctx context.Context, conversationID int64, members []string) (*ActionResult, error) {
	data, err := g.client.doRequest(ctx, "POST", convPath(conversationID)+"/add_members",
		map[string]interface{}{"members": members}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[ActionResult](data)
}

func (g *GroupsClient) AddMember(ctx context.Context, conversationID int64, userPublicID string) (*ActionResult, error) {
	data, err := g.client.doRequest(ctx, "POST", "/chat/groups/"+strconv.FormatInt(conversationID, 10)+"/add_member",
		map[string]string{"user_public_id": userPublicID}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[ActionResult](data)
}

func (g *GroupsClient) RemoveMember(ctx context.Context, conversationID int64, userPublicID string) (*ActionResult, error) {
	data, err := g.client.doRequest(ctx, "POST", "/chat/groups/"+strconv.FormatInt(conversationID, 10)+"/remove_member",
		map[string]string{"user_public_id": userPublicID}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[ActionResult](data)
}

// ============================================================================
// Directory
// ============================================================================

// DirectoryClient serves the new-DM composer: browsing users by role,
// programme and level. It plays no part in state reconciliation.
type DirectoryClient struct{ client *Client }

// Users lists messageable users. role is required ("teacher", "student" or
// "admin"); programme and level narrow student results and may be empty.
func (d *DirectoryClient) Users(ctx context.Context, role, programme string, level int) ([]DirectoryUser, error) {
	query := map[string]string{"role": role}
	if programme != "" {
		query["programme"] = programme
	}
	if level > 0 {
		query["level"] = strconv.Itoa(level)
	}
	data, err := d.client.doRequest(ctx, "GET", "/chat/users", nil, query)
	if err != nil {
		return nil, err
	}
	var users []DirectoryUser
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return users, nil
}

func (d *DirectoryClient) Programmes(ctx context.Context) ([]Programme, error) {
	data, err := d.client.doRequest(ctx, "GET", "/chat/programmes", nil, nil)
	if err != nil {
		return nil, err
	}
	var progs []Programme
	if err := json.Unmarshal(data, &progs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return progs, nil
}

func (d *DirectoryClient) Levels(ctx context.Context) ([]Level, error) {
	data, err := d.client.doRequest(ctx, "GET", "/chat/levels", nil, nil)
	if err != nil {
		return nil, err
	}
	var levels []Level
	if err := json.Unmarshal(data, &levels); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return levels, nil
}

// ============================================================================
// Presence
// ============================================================================

// PresenceClient looks up a single user's presence over the pull channel.
// Live presence tracking is push-driven through the Reconciler; this lookup
// never feeds the PresenceTracker.
type PresenceClient struct{ client *Client }

func (p *PresenceClient) Get(ctx context.Context, userPublicID string) (*PresenceInfo, error) {
	data, err := p.client.doRequest(ctx, "GET", "/chat/presence/"+userPublicID, nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[PresenceInfo](data)
}

// ============================================================================
// Realtime factory
// ============================================================================

// WSUrl returns the push-channel WebSocket URL for this client's base URL.
func (c *Client) WSUrl() string {
	base := strings.Replace(c.baseURL, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	if c.sessionToken != "" {
		return base + "/chat/ws?token=" + url.QueryEscape(c.sessionToken)
	}
	return base + "/chat/ws"
}

// ConnectRealtime creates the push-channel client. Call Connect to establish
// the connection.
func (c *Client) ConnectRealtime(config *RealtimeConfig) *RealtimeClient {
	cfg := *config
	cfg.defaults()
	if cfg.URL == "" {
		cfg.URL = c.WSUrl()
	}
	return newRealtimeClient(&cfg)
}
