package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	usersJSON      bool
	usersRole      string
	usersProgramme string
	usersLevel     int
)

func init() {
	usersCmd.Flags().BoolVar(&usersJSON, "json", false, "Output raw JSON")
	usersCmd.Flags().StringVar(&usersRole, "role", "", "Filter by role (teacher, student, admin)")
	usersCmd.Flags().StringVar(&usersProgramme, "programme", "", "Filter students by programme")
	usersCmd.Flags().IntVar(&usersLevel, "level", 0, "Filter students by level")

	rootCmd.AddCommand(usersCmd)
	rootCmd.AddCommand(programmesCmd)
	rootCmd.AddCommand(levelsCmd)
	rootCmd.AddCommand(presenceCmd)
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List users you can message",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		users, err := client.Directory.Users(ctx, usersRole, usersProgramme, usersLevel)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if usersJSON {
			return printJSON(users)
		}

		if len(users) == 0 {
			fmt.Println("No users found.")
			return nil
		}

		for _, u := range users {
			fmt.Printf("  %s: %s\n", u.ID, u.Name)
		}
		return nil
	},
}

var programmesCmd = &cobra.Command{
	Use:   "programmes",
	Short: "List programmes with enrolled students",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		programmes, err := client.Directory.Programmes(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if len(programmes) == 0 {
			fmt.Println("No programmes found.")
			return nil
		}

		for _, p := range programmes {
			fmt.Printf("  %s\n", p.Name)
		}
		return nil
	},
}

var levelsCmd = &cobra.Command{
	Use:   "levels",
	Short: "List study levels with enrolled students",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		levels, err := client.Directory.Levels(ctx)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if len(levels) == 0 {
			fmt.Println("No levels found.")
			return nil
		}

		for _, l := range levels {
			fmt.Printf("  %d\n", l.Level)
		}
		return nil
	},
}

var presenceCmd = &cobra.Command{
	Use:   "presence <user-public-id>",
	Short: "Check whether a user is online",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		info, err := client.Presence.Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		fmt.Printf("  Status:    %s\n", info.Status)
		if info.LastSeen != "" {
			fmt.Printf("  Last seen: %s\n", info.LastSeen)
		}
		return nil
	},
}
