package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	educhat "github.com/EduCore-Systems/EduChat/sdk/golang"
	"github.com/spf13/cobra"
)

var watchSSE bool

func init() {
	watchCmd.Flags().BoolVar(&watchSSE, "sse", false, "Use the SSE fallback transport instead of websockets")
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live chat events",
	Long:  "Connect to the realtime channel and print chat events as they arrive. Press Ctrl+C to stop.",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := getSession()
		identity := getIdentity()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		fetchCtx, fetchCancel := context.WithTimeout(ctx, 15*time.Second)
		if err := s.disp.RefreshConversations(fetchCtx); err != nil {
			fetchCancel()
			return fmt.Errorf("request failed: %w", err)
		}
		fetchCancel()

		cfg := &educhat.RealtimeConfig{
			UserPublicID:  identity.PublicID,
			AutoReconnect: true,
		}

		if watchSSE {
			sse := s.client.ConnectSSE(cfg)
			registerWatchHandlers(sse)
			if err := sse.Connect(ctx); err != nil {
				return fmt.Errorf("connect failed: %w", err)
			}
			defer sse.Disconnect()
		} else {
			rt := s.client.ConnectRealtime(cfg)
			s.rec.Bind(rt)
			registerWatchHandlers(rt)
			if err := rt.Connect(ctx); err != nil {
				return fmt.Errorf("connect failed: %w", err)
			}
			defer rt.Disconnect()
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig

		fmt.Println("Disconnecting.")
		return nil
	},
}

// watchEvents is the handler surface shared by the websocket and SSE clients.
type watchEvents interface {
	OnNewMessage(func(educhat.NewMessagePayload))
	OnMessageEdited(func(educhat.MessageEditedPayload))
	OnMessageDeleted(func(educhat.MessageDeletedPayload))
	OnReactionAdded(func(educhat.ReactionAddedPayload))
	OnReactionRemoved(func(educhat.ReactionRemovedPayload))
	OnPresence(func(educhat.PresencePayload))
	OnError(func(educhat.RealtimeErrorPayload))
	OnConnected(func())
	OnDisconnected(func(code int, reason string))
	OnReconnecting(func(attempt int, delay time.Duration))
}

func registerWatchHandlers(ev watchEvents) {
	ev.OnConnected(func() {
		fmt.Println("Connected.")
	})
	ev.OnDisconnected(func(code int, reason string) {
		fmt.Printf("Disconnected (%d): %s\n", code, reason)
	})
	ev.OnReconnecting(func(attempt int, delay time.Duration) {
		fmt.Printf("Reconnecting (attempt %d) in %s...\n", attempt, delay)
	})
	ev.OnNewMessage(func(p educhat.NewMessagePayload) {
		fmt.Printf("[conv %d] %s: %s\n", p.ConversationID, p.Message.SenderName, p.Message.Content)
	})
	ev.OnMessageEdited(func(p educhat.MessageEditedPayload) {
		fmt.Printf("[conv %d] message %d edited: %s\n", p.ConversationID, p.Message.ID, p.Message.Content)
	})
	ev.OnMessageDeleted(func(p educhat.MessageDeletedPayload) {
		fmt.Printf("[conv %d] message %d deleted\n", p.ConversationID, p.MessageID)
	})
	ev.OnReactionAdded(func(p educhat.ReactionAddedPayload) {
		fmt.Printf("message %d: %s reacted %s\n", p.MessageID, p.Reaction.UserPublicID, p.Reaction.Emoji)
	})
	ev.OnReactionRemoved(func(p educhat.ReactionRemovedPayload) {
		fmt.Printf("message %d: %s removed %s\n", p.MessageID, p.UserPublicID, p.Emoji)
	})
	ev.OnPresence(func(p educhat.PresencePayload) {
		fmt.Printf("%s is %s\n", p.UserPublicID, p.Status)
	})
	ev.OnError(func(p educhat.RealtimeErrorPayload) {
		fmt.Fprintf(os.Stderr, "Server error: %s\n", p.Message)
	})
}
