package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/alecthomas/kong"

	"github.com/scaffoldhq/scaffold/src/storage"
)

// SessionsCmd manages stored sessions
type SessionsCmd struct {
	List    SessionsListCmd    `cmd:"" default:"1" help:"List stored sessions"`
	Show    SessionsShowCmd    `cmd:"" help:"Show one session in detail"`
	Delete  SessionsDeleteCmd  `cmd:"" help:"Delete a session"`
	Cleanup SessionsCleanupCmd `cmd:"" help:"Remove expired sessions"`
}

// SessionsListCmd lists stored sessions
type SessionsListCmd struct{}

// Run executes the sessions list command
func (c *SessionsListCmd) Run(kctx *kong.Context, cli *CLI) error {
	a, closeApp, err := buildApp(cli)
	if err != nil {
		return err
	}
	defer closeApp()

	rows, err := storage.ListSessions(context.Background(), a.store.DB())
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("No sessions.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATE\tPROJECT\tUPDATED")
	for _, row := range rows {
		name := ""
		if row.ProjectName != nil {
			name = *row.ProjectName
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			row.ID, row.State, name, row.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

// SessionsShowCmd shows one session
type SessionsShowCmd struct {
	ID string `arg:"" help:"Session id"`
}

// Run executes the sessions show command
func (c *SessionsShowCmd) Run(kctx *kong.Context, cli *CLI) error {
	a, closeApp, err := buildApp(cli)
	if err != nil {
		return err
	}
	defer closeApp()

	sess, err := a.sessions.Load(c.ID)
	if err != nil {
		return err
	}

	fmt.Printf("Session %s\n", sess.ID)
	fmt.Printf("  state:    %s (%d%%)\n", sess.State, sess.Progress)
	fmt.Printf("  project:  %s (%s/%s)\n",
		sess.Requirements.ProjectName, sess.Requirements.Language, sess.Requirements.ProjectType)
	fmt.Printf("  folder:   %s\n", sess.Requirements.FolderPath)
	fmt.Printf("  messages: %d\n", len(sess.History))
	if sess.Plan != nil {
		fmt.Printf("  plan:     %d steps\n", len(sess.Plan.Steps))
	}
	if len(sess.Results) > 0 {
		fmt.Println("  execution:")
		for _, r := range sess.Results {
			status := "ok"
			if !r.Success {
				status = "failed"
			}
			fmt.Printf("    %2d %-10s %s\n", r.StepIndex, r.Variant, status)
		}
	}
	if sess.LastError != "" {
		fmt.Printf("  last error: %s\n", sess.LastError)
	}
	return nil
}

// SessionsDeleteCmd deletes a session
type SessionsDeleteCmd struct {
	ID string `arg:"" help:"Session id"`
}

// Run executes the sessions delete command
func (c *SessionsDeleteCmd) Run(kctx *kong.Context, cli *CLI) error {
	a, closeApp, err := buildApp(cli)
	if err != nil {
		return err
	}
	defer closeApp()

	if err := a.sessions.Delete(c.ID); err != nil {
		return err
	}
	if err := storage.DeleteSession(context.Background(), a.store.DB(), c.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted session %s\n", c.ID)
	return nil
}

// SessionsCleanupCmd removes expired sessions
type SessionsCleanupCmd struct{}

// Run executes the sessions cleanup command
func (c *SessionsCleanupCmd) Run(kctx *kong.Context, cli *CLI) error {
	a, closeApp, err := buildApp(cli)
	if err != nil {
		return err
	}
	defer closeApp()

	removed, err := a.sessions.CleanupExpired()
	if err != nil {
		return err
	}
	for _, id := range removed {
		if err := storage.DeleteSession(context.Background(), a.store.DB(), id); err != nil {
			a.logger.Warn("failed to remove session index row", "id", id, "error", err)
		}
	}
	fmt.Printf("Removed %d expired sessions\n", len(removed))
	return nil
}
