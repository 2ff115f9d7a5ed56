// Package educhat: view projection.
//
// Projector derives display rows from the caches and transient UI state
// (active conversation, search term). It holds read-only references, never
// mutates, and can be re-invoked at any time: rendering is always a pure
// function of cache state.
package educhat

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	previewLimit = 50
	quoteLimit   = 60
)

// ConversationRow is one entry of the conversation list.
type ConversationRow struct {
	ID          int64
	Title       string
	Avatar      string
	Preview     string
	UnreadCount int
	Active      bool
	UpdatedAt   time.Time
}

// ReactionSummary is one emoji group under a message: how many reacted and
// whether the current user is among them.
type ReactionSummary struct {
	Emoji string
	Count int
	Mine  bool
}

// ReplyQuote is the quoted excerpt rendered above a reply.
type ReplyQuote struct {
	SenderName string
	Content    string
}

// MessageRow is one rendered message.
type MessageRow struct {
	ID          int64
	Own         bool
	SenderLabel string
	Content     string
	Time        string
	Edited      bool
	Reply       *ReplyQuote
	Reactions   []ReactionSummary
}

// DayGroup is a calendar day's worth of message rows.
type DayGroup struct {
	Label string
	Date  time.Time
	Rows  []MessageRow
}

// Projector derives renderable state from an injected ChatState.
type Projector struct {
	identity Identity
	state    *ChatState
}

func NewProjector(identity Identity, state *ChatState) *Projector {
	return &Projector{identity: identity, state: state}
}

// ============================================================================
// Conversation list
// ============================================================================

// ConversationRows returns the display-ordered conversation list: unread
// conversations first (higher counts first), then most recently updated.
// search narrows by title and preview, case-insensitively, without touching
// the cache.
func (p *Projector) ConversationRows(activeID int64, search string) []ConversationRow {
	convs := p.state.Conversations.All()
	rows := make([]ConversationRow, 0, len(convs))

	needle := strings.ToLower(strings.TrimSpace(search))
	for _, conv := range convs {
		row := ConversationRow{
			ID:          conv.ID,
			Title:       p.conversationTitle(conv),
			Preview:     conversationPreview(conv),
			UnreadCount: conv.UnreadCount,
			Active:      conv.ID == activeID,
			UpdatedAt:   parseChatTime(conv.UpdatedAt),
		}
		row.Avatar = initials(row.Title)
		if needle != "" &&
			!strings.Contains(strings.ToLower(row.Title), needle) &&
			!strings.Contains(strings.ToLower(row.Preview), needle) {
			continue
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].UnreadCount != rows[j].UnreadCount {
			return rows[i].UnreadCount > rows[j].UnreadCount
		}
		return rows[i].UpdatedAt.After(rows[j].UpdatedAt)
	})
	return rows
}

func (p *Projector) conversationTitle(conv *Conversation) string {
	if conv.Type == ConversationGroup {
		if conv.Name != "" {
			return conv.Name
		}
		return fmt.Sprintf("Group (%d members)", len(conv.Participants))
	}
	if other := conv.Other(p.identity.PublicID); other != nil && other.Name != "" {
		return other.Name
	}
	return "Unknown"
}

func conversationPreview(conv *Conversation) string {
	if conv.LastMessage == nil || conv.LastMessage.Deleted {
		return "No messages yet"
	}
	return truncateRunes(conv.LastMessage.Content, previewLimit)
}

// ============================================================================
// Message timeline
// ============================================================================

// MessageTimeline returns the active conversation's messages grouped by
// calendar day, oldest group first. Nil when the conversation's messages are
// not cached.
func (p *Projector) MessageTimeline(conversationID int64) []DayGroup {
	return p.timeline(conversationID, time.Now())
}

func (p *Projector) timeline(conversationID int64, now time.Time) []DayGroup {
	msgs := p.state.Messages.Get(conversationID)
	if msgs == nil {
		return nil
	}
	conv := p.state.Conversations.Get(conversationID)
	isGroup := conv != nil && conv.Type == ConversationGroup

	var groups []DayGroup
	for _, msg := range msgs {
		created := parseChatTime(msg.CreatedAt)
		day := time.Date(created.Year(), created.Month(), created.Day(), 0, 0, 0, 0, created.Location())
		if len(groups) == 0 || !groups[len(groups)-1].Date.Equal(day) {
			groups = append(groups, DayGroup{
				Label: dayLabel(created, now),
				Date:  day,
			})
		}
		g := &groups[len(groups)-1]
		g.Rows = append(g.Rows, p.messageRow(msg, created, isGroup))
	}
	return groups
}

func (p *Projector) messageRow(msg *Message, created time.Time, isGroup bool) MessageRow {
	row := MessageRow{
		ID:        msg.ID,
		Own:       msg.SenderPublicID == p.identity.PublicID,
		Content:   msg.Content,
		Time:      created.Format("15:04"),
		Edited:    msg.EditedAt != "",
		Reactions: summarizeReactions(msg.Reactions, p.identity.PublicID),
	}
	// Sender labels only matter in groups, and never on own messages.
	if isGroup && !row.Own {
		row.SenderLabel = msg.SenderName
	}
	if msg.ReplyTo != nil {
		row.Reply = &ReplyQuote{
			SenderName: msg.ReplyTo.SenderName,
			Content:    truncateRunes(msg.ReplyTo.Content, quoteLimit),
		}
	}
	return row
}

func summarizeReactions(reactions []Reaction, me string) []ReactionSummary {
	if len(reactions) == 0 {
		return nil
	}
	byEmoji := make(map[string]*ReactionSummary)
	var order []string
	for _, r := range reactions {
		s, ok := byEmoji[r.Emoji]
		if !ok {
			s = &ReactionSummary{Emoji: r.Emoji}
			byEmoji[r.Emoji] = s
			order = append(order, r.Emoji)
		}
		s.Count++
		if r.UserPublicID == me {
			s.Mine = true
		}
	}
	sort.Strings(order)
	result := make([]ReactionSummary, 0, len(order))
	for _, emoji := range order {
		result = append(result, *byEmoji[emoji])
	}
	return result
}

// ============================================================================
// Presence label
// ============================================================================

// PresenceLabel returns "online" or "offline" for the counterpart of a
// direct conversation, and "" for groups or unknown conversations.
func (p *Projector) PresenceLabel(conversationID int64) string {
	conv := p.state.Conversations.Get(conversationID)
	if conv == nil {
		return ""
	}
	other := conv.Other(p.identity.PublicID)
	if other == nil {
		return ""
	}
	if p.state.Presence.IsOnline(other.UserPublicID) {
		return "online"
	}
	return "offline"
}

// ============================================================================
// Formatting helpers
// ============================================================================

func dayLabel(t, now time.Time) string {
	y1, m1, d1 := t.Date()
	y2, m2, d2 := now.Date()
	if y1 == y2 && m1 == m2 && d1 == d2 {
		return "Today"
	}
	yesterday := now.AddDate(0, 0, -1)
	y2, m2, d2 = yesterday.Date()
	if y1 == y2 && m1 == m2 && d1 == d2 {
		return "Yesterday"
	}
	return t.Format("Monday, 2 January 2006")
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

func initials(title string) string {
	fields := strings.Fields(title)
	var b strings.Builder
	for i, f := range fields {
		if i == 2 {
			break
		}
		r := []rune(f)
		b.WriteString(strings.ToUpper(string(r[0])))
	}
	return b.String()
}
