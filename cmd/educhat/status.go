package main

import (
	"context"
	"fmt"
	"time"

	educhat "github.com/EduCore-Systems/EduChat/sdk/golang"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and connection status",
	Long:  "Display the current configuration and, if a session is stored, check connectivity and unread counts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Print config summary.
		fmt.Println("Configuration:")
		fmt.Printf("  Base URL: %s\n", valueOrDefault(cfg.Default.BaseURL, educhat.DefaultBaseURL))
		if cfg.Default.Timeout > 0 {
			fmt.Printf("  Timeout:  %ds\n", cfg.Default.Timeout)
		}

		fmt.Println()
		fmt.Println("Auth:")
		if cfg.Auth.SessionToken != "" {
			fmt.Printf("  Token:     %s\n", maskToken(cfg.Auth.SessionToken))
		} else {
			fmt.Println("  Token:     (not set)")
		}
		if cfg.Auth.UserPublicID != "" {
			fmt.Printf("  Public ID: %s\n", cfg.Auth.UserPublicID)
			fmt.Printf("  Role:      %s\n", valueOrDefault(cfg.Auth.Role, "(not set)"))
			fmt.Printf("  Name:      %s\n", valueOrDefault(cfg.Auth.Name, "(not set)"))
		} else {
			fmt.Println("  Public ID: (not set)")
		}

		// If we have a session, try a live conversation fetch.
		if cfg.Auth.SessionToken != "" {
			fmt.Println()
			fmt.Println("Live status:")

			var opts []educhat.ClientOption
			if cfg.Default.BaseURL != "" {
				opts = append(opts, educhat.WithBaseURL(cfg.Default.BaseURL))
			}
			client := educhat.NewClient(cfg.Auth.SessionToken, opts...)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			convs, err := client.Conversations.List(ctx)
			if err != nil {
				fmt.Printf("  Error fetching conversations: %v\n", err)
				return nil
			}

			unread := 0
			for _, c := range convs {
				unread += c.UnreadCount
			}
			fmt.Printf("  Conversations: %d\n", len(convs))
			fmt.Printf("  Unread:        %d\n", unread)
		}

		return nil
	},
}

// maskToken shows the first 8 and last 4 characters of a token.
func maskToken(token string) string {
	if len(token) <= 12 {
		return "***"
	}
	return token[:8] + "..." + token[len(token)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
