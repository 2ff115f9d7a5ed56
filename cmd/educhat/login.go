package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	loginPublicID string
	loginRole     string
	loginName     string
)

func init() {
	loginCmd.Flags().StringVar(&loginPublicID, "public-id", "", "Your public user ID")
	loginCmd.Flags().StringVar(&loginRole, "role", "", "Your role (teacher, student, admin)")
	loginCmd.Flags().StringVar(&loginName, "name", "", "Your display name")
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <session-token>",
	Short: "Store session token in ~/.educhat/config.toml",
	Long:  "Initialize the EduChat CLI by storing your session token and identity in the local configuration file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := args[0]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Auth.SessionToken = token
		if loginPublicID != "" {
			cfg.Auth.UserPublicID = loginPublicID
		}
		if loginRole != "" {
			cfg.Auth.Role = loginRole
		}
		if loginName != "" {
			cfg.Auth.Name = loginName
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Session saved to %s\n", path)
		return nil
	},
}
