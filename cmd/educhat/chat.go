package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	educhat "github.com/EduCore-Systems/EduChat/sdk/golang"
	"github.com/spf13/cobra"
)

// ============================================================================
// Flags
// ============================================================================

var (
	conversationsJSON   bool
	conversationsSearch string

	messagesJSON bool

	sendReplyTo   int64
	sendDMReplyTo int64
)

// parseID parses a numeric conversation or message ID argument.
func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid ID %q: must be a number", arg)
	}
	return id, nil
}

// printJSON renders any value as indented JSON, for --json output.
func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// ============================================================================
// conversations
// ============================================================================

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List your conversations",
	Long:  "Fetch the conversation list and print it sorted by unread count, then recency.",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := getSession()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := s.disp.RefreshConversations(ctx); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		rows := s.proj.ConversationRows(0, conversationsSearch)

		if conversationsJSON {
			return printJSON(rows)
		}

		if len(rows) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}

		for _, row := range rows {
			unread := ""
			if row.UnreadCount > 0 {
				unread = fmt.Sprintf(" (%d unread)", row.UnreadCount)
			}
			fmt.Printf("  %d: %s - %s%s\n", row.ID, row.Title, row.Preview, unread)
		}
		return nil
	},
}

// ============================================================================
// messages
// ============================================================================

var messagesCmd = &cobra.Command{
	Use:   "messages <conversation-id>",
	Short: "Show a conversation's messages",
	Long:  "Open a conversation, mark it read, and print its messages grouped by day.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID, err := parseID(args[0])
		if err != nil {
			return err
		}
		s := getSession()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := s.disp.RefreshConversations(ctx); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		if err := s.disp.OpenConversation(ctx, convID); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		groups := s.proj.MessageTimeline(convID)

		if messagesJSON {
			return printJSON(groups)
		}

		if len(groups) == 0 {
			fmt.Println("No messages yet.")
			return nil
		}

		for _, group := range groups {
			fmt.Printf("--- %s ---\n", group.Label)
			for _, row := range group.Rows {
				sender := "you"
				if !row.Own {
					sender = row.SenderLabel
					if sender == "" {
						sender = "them"
					}
				}
				edited := ""
				if row.Edited {
					edited = " (edited)"
				}
				if row.Reply != nil {
					fmt.Printf("  > %s: %s\n", row.Reply.SenderName, row.Reply.Content)
				}
				fmt.Printf("  [%s] %s: %s%s\n", row.Time, sender, row.Content, edited)
				for _, r := range row.Reactions {
					mine := ""
					if r.Mine {
						mine = " *"
					}
					fmt.Printf("      %s x%d%s\n", r.Emoji, r.Count, mine)
				}
			}
		}
		return nil
	},
}

// ============================================================================
// send / send-dm
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <message>",
	Short: "Send a message to a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID, err := parseID(args[0])
		if err != nil {
			return err
		}
		s := getSession()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		msg, err := s.disp.SendMessage(ctx, convID, args[1], sendReplyTo)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Message sent to conversation %d\n", convID)
		if msg != nil {
			fmt.Printf("  Message ID: %d\n", msg.ID)
		}
		return nil
	},
}

var sendDMCmd = &cobra.Command{
	Use:   "send-dm <user-public-id> <message>",
	Short: "Send a direct message to a user",
	Long:  "Send a direct message by recipient public ID, creating the conversation if needed.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := getSession()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		convID, err := s.disp.SendDirect(ctx, args[0], args[1], sendDMReplyTo)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Message sent to %s (conversation %d)\n", args[0], convID)
		return nil
	},
}

// ============================================================================
// edit / delete / copy / forward
// ============================================================================

var editCmd = &cobra.Command{
	Use:   "edit <conversation-id> <message-id> <content>",
	Short: "Edit one of your messages",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID, err := parseID(args[0])
		if err != nil {
			return err
		}
		msgID, err := parseID(args[1])
		if err != nil {
			return err
		}
		s := getSession()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := s.disp.EditMessage(ctx, convID, msgID, args[2]); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Message %d edited\n", msgID)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <conversation-id> <message-id>",
	Short: "Delete one of your messages",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID, err := parseID(args[0])
		if err != nil {
			return err
		}
		msgID, err := parseID(args[1])
		if err != nil {
			return err
		}
		s := getSession()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := s.disp.DeleteMessage(ctx, convID, msgID); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Message %d deleted\n", msgID)
		return nil
	},
}

var copyCmd = &cobra.Command{
	Use:   "copy <conversation-id> <message-id>",
	Short: "Print a message's raw content",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID, err := parseID(args[0])
		if err != nil {
			return err
		}
		msgID, err := parseID(args[1])
		if err != nil {
			return err
		}
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		result, err := client.Messages.Copy(ctx, convID, msgID)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Println(result.Content)
		return nil
	},
}

var forwardCmd = &cobra.Command{
	Use:   "forward <conversation-id> <message-id> <target-conversation-id>",
	Short: "Forward a message to another conversation",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID, err := parseID(args[0])
		if err != nil {
			return err
		}
		msgID, err := parseID(args[1])
		if err != nil {
			return err
		}
		targetID, err := parseID(args[2])
		if err != nil {
			return err
		}
		s := getSession()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := s.disp.ForwardMessage(ctx, convID, msgID, targetID); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Message %d forwarded to conversation %d\n", msgID, targetID)
		return nil
	},
}

// ============================================================================
// react / unreact
// ============================================================================

var reactCmd = &cobra.Command{
	Use:   "react <conversation-id> <message-id> <emoji>",
	Short: "Add a reaction to a message",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID, err := parseID(args[0])
		if err != nil {
			return err
		}
		msgID, err := parseID(args[1])
		if err != nil {
			return err
		}
		s := getSession()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := s.disp.AddReaction(ctx, convID, msgID, args[2]); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Reacted %s to message %d\n", args[2], msgID)
		return nil
	},
}

var unreactCmd = &cobra.Command{
	Use:   "unreact <conversation-id> <message-id> <emoji>",
	Short: "Remove your reaction from a message",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		convID, err := parseID(args[0])
		if err != nil {
			return err
		}
		msgID, err := parseID(args[1])
		if err != nil {
			return err
		}
		s := getSession()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := s.disp.RemoveReaction(ctx, convID, msgID, args[2]); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("Removed %s from message %d\n", args[2], msgID)
		return nil
	},
}

// ============================================================================
// conversation actions
// ============================================================================

// conversationActionCmd builds a one-argument command that applies a simple
// conversation action (mute, pin, archive, ...) and prints a confirmation.
func conversationActionCmd(use, short string, action func(ctx context.Context, client *educhat.Client, convID int64) (*educhat.ActionResult, error), done string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <conversation-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			convID, err := parseID(args[0])
			if err != nil {
				return err
			}
			client := getClient()

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			result, err := action(ctx, client, convID)
			if err != nil {
				return fmt.Errorf("request failed: %w", err)
			}
			if !result.Success {
				return fmt.Errorf("server rejected the request: %s", result.Error)
			}

			fmt.Printf("Conversation %d %s\n", convID, done)
			return nil
		},
	}
}

// ============================================================================
// Wiring
// ============================================================================

func init() {
	conversationsCmd.Flags().BoolVar(&conversationsJSON, "json", false, "Output raw JSON")
	conversationsCmd.Flags().StringVar(&conversationsSearch, "search", "", "Filter by title or preview text")

	messagesCmd.Flags().BoolVar(&messagesJSON, "json", false, "Output raw JSON")

	sendCmd.Flags().Int64Var(&sendReplyTo, "reply-to", 0, "Message ID to reply to")
	sendDMCmd.Flags().Int64Var(&sendDMReplyTo, "reply-to", 0, "Message ID to reply to")

	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(sendDMCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(copyCmd)
	rootCmd.AddCommand(forwardCmd)
	rootCmd.AddCommand(reactCmd)
	rootCmd.AddCommand(unreactCmd)

	rootCmd.AddCommand(conversationActionCmd("mark-read", "Mark a conversation as read", func(ctx context.Context, c *educhat.Client, id int64) (*educhat.ActionResult, error) {
		return c.Conversations.MarkRead(ctx, id)
	}, "marked read"))
	rootCmd.AddCommand(conversationActionCmd("mark-unread", "Mark a conversation as unread", func(ctx context.Context, c *educhat.Client, id int64) (*educhat.ActionResult, error) {
		return c.Conversations.MarkUnread(ctx, id)
	}, "marked unread"))
	rootCmd.AddCommand(conversationActionCmd("mute", "Mute a conversation", func(ctx context.Context, c *educhat.Client, id int64) (*educhat.ActionResult, error) {
		return c.Conversations.Mute(ctx, id)
	}, "muted"))
	rootCmd.AddCommand(conversationActionCmd("unmute", "Unmute a conversation", func(ctx context.Context, c *educhat.Client, id int64) (*educhat.ActionResult, error) {
		return c.Conversations.Unmute(ctx, id)
	}, "unmuted"))
	rootCmd.AddCommand(conversationActionCmd("pin", "Pin a conversation", func(ctx context.Context, c *educhat.Client, id int64) (*educhat.ActionResult, error) {
		return c.Conversations.Pin(ctx, id)
	}, "pinned"))
	rootCmd.AddCommand(conversationActionCmd("unpin", "Unpin a conversation", func(ctx context.Context, c *educhat.Client, id int64) (*educhat.ActionResult, error) {
		return c.Conversations.Unpin(ctx, id)
	}, "unpinned"))
	rootCmd.AddCommand(conversationActionCmd("archive", "Archive a conversation", func(ctx context.Context, c *educhat.Client, id int64) (*educhat.ActionResult, error) {
		return c.Conversations.Archive(ctx, id)
	}, "archived"))
	rootCmd.AddCommand(conversationActionCmd("unarchive", "Unarchive a conversation", func(ctx context.Context, c *educhat.Client, id int64) (*educhat.ActionResult, error) {
		return c.Conversations.Unarchive(ctx, id)
	}, "unarchived"))
	rootCmd.AddCommand(conversationActionCmd("block", "Block the other participant in a direct conversation", func(ctx context.Context, c *educhat.Client, id int64) (*educhat.ActionResult, error) {
		return c.Conversations.Block(ctx, id)
	}, "blocked"))
	rootCmd.AddCommand(conversationActionCmd("leave", "Leave or delete a conversation", func(ctx context.Context, c *educhat.Client, id int64) (*educhat.ActionResult, error) {
		return c.Conversations.Leave(ctx, id)
	}, "left"))
}
