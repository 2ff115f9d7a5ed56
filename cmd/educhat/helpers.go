package main

import (
	"fmt"
	"os"
	"time"

	educhat "github.com/EduCore-Systems/EduChat/sdk/golang"
)

// getClient creates an EduChat client authenticated with the stored session token.
func getClient() *educhat.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.SessionToken == "" {
		fmt.Fprintln(os.Stderr, "No session token. Run 'educhat login <session-token>' first.")
		os.Exit(1)
	}

	var opts []educhat.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, educhat.WithBaseURL(cfg.Default.BaseURL))
	}
	if cfg.Default.Timeout > 0 {
		opts = append(opts, educhat.WithTimeout(time.Duration(cfg.Default.Timeout)*time.Second))
	}

	return educhat.NewClient(cfg.Auth.SessionToken, opts...)
}

// getIdentity returns the viewer identity stored at login time.
func getIdentity() educhat.Identity {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Auth.UserPublicID == "" {
		fmt.Fprintln(os.Stderr, "No identity configured. Run 'educhat login <session-token> --public-id <id>' first.")
		os.Exit(1)
	}
	return educhat.Identity{
		PublicID: cfg.Auth.UserPublicID,
		Role:     cfg.Auth.Role,
		Name:     cfg.Auth.Name,
	}
}

// session bundles the client-side chat stack for a single CLI invocation.
type session struct {
	client *educhat.Client
	state  *educhat.ChatState
	rec    *educhat.Reconciler
	disp   *educhat.Dispatcher
	proj   *educhat.Projector
}

// getSession builds the full client-side chat stack: client, cache,
// reconciler, dispatcher, and projector, wired together.
func getSession() *session {
	client := getClient()
	identity := getIdentity()
	state := educhat.NewChatState()
	rec := educhat.NewReconciler(identity, state, nil)
	return &session{
		client: client,
		state:  state,
		rec:    rec,
		disp:   educhat.NewDispatcher(client, rec, state),
		proj:   educhat.NewProjector(identity, state),
	}
}
