package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/scaffoldhq/scaffold/src/conversation"
	"github.com/scaffoldhq/scaffold/src/executor"
	"github.com/scaffoldhq/scaffold/src/session"
)

// ChatCmd runs the interactive scaffolding conversation
type ChatCmd struct {
	Session string `help:"Resume an existing session by id"`
}

// Run executes the chat command
func (c *ChatCmd) Run(kctx *kong.Context, cli *CLI) error {
	a, closeApp, err := buildApp(cli)
	if err != nil {
		return err
	}
	defer closeApp()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sess *session.Session
	if c.Session != "" {
		sess, err = a.sessions.Load(c.Session)
	} else {
		sess, err = a.service.StartSession(ctx)
	}
	if err != nil {
		return err
	}

	fmt.Printf("scaffold session %s\n", sess.ID)
	fmt.Println("Describe the project you want to create. Type 'exit' to quit.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		printPrompt(sess)
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		sink := executor.NewChannelEventSink(64, &consolePrinter{out: os.Stdout})
		sess, err = a.service.ProcessMessage(ctx, sess.ID, input, sink)
		sink.Close()

		if err != nil {
			if errors.Is(err, executor.ErrSessionTerminal) {
				fmt.Println("This session has already finished.")
				return nil
			}
			if ctx.Err() != nil {
				fmt.Println("\nInterrupted.")
				return nil
			}
			fmt.Fprintf(os.Stderr, "turn failed: %v\n", err)
			continue
		}

		if conversation.IsTerminal(conversation.State(sess.State)) {
			if sess.State == string(conversation.StateFailed) {
				fmt.Printf("Session failed: %s\n", sess.LastError)
			} else {
				fmt.Println("Project created. Session complete.")
			}
			return nil
		}
	}

	return scanner.Err()
}

// printPrompt shows a pending question or permission request before the
// input prompt, so the user knows what the next line answers.
func printPrompt(sess *session.Session) {
	if q := sess.PendingQuestion; q != nil {
		fmt.Printf("\n%s\n", q.Question)
		if len(q.Options) > 0 {
			fmt.Printf("  options: %s\n", strings.Join(q.Options, ", "))
		}
	}
	if p := sess.PendingPermission; p != nil {
		fmt.Printf("\nPermission requested: %s %q", p.Type, p.Scope)
		if p.Reason != "" {
			fmt.Printf(" (%s)", p.Reason)
		}
		fmt.Println()
		fmt.Println("  reply yes/no, or 'always' / 'never' to remember")
	}
	fmt.Print("> ")
}
