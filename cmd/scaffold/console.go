package main

import (
	"fmt"
	"io"
	"time"

	"github.com/scaffoldhq/scaffold/src/executor"
)

// consolePrinter renders session events for the terminal. It implements
// executor.EventProcessor behind a ChannelEventSink.
type consolePrinter struct {
	out       io.Writer
	streaming bool
}

func (p *consolePrinter) Process(event executor.SessionEvent) error {
	switch e := event.(type) {
	case *executor.AIMessageChunkEvent:
		fmt.Fprint(p.out, e.Chunk)
		p.streaming = true

	case *executor.AIMessageEvent:
		if p.streaming {
			fmt.Fprintln(p.out)
			p.streaming = false
		}

	case *executor.FunctionExecutionStartEvent:
		fmt.Fprintf(p.out, "  · %s...\n", e.Name)

	case *executor.FunctionExecutionCompleteEvent:
		fmt.Fprintf(p.out, "  · %s: %s (%s)\n", e.Name, e.Status, e.Duration.Round(time.Millisecond))

	case *executor.FunctionExecutionErrorEvent:
		fmt.Fprintf(p.out, "  · %s failed: %s\n", e.Name, e.Error)

	case *executor.CommandOutputEvent:
		fmt.Fprintf(p.out, "    | %s\n", e.Line)

	case *executor.StateUpdateEvent:
		fmt.Fprintf(p.out, "  [%s %d%%]\n", e.State, e.Progress)

	case *executor.ProgressUpdateEvent:
		if e.Detail != "" {
			fmt.Fprintf(p.out, "  %s\n", e.Detail)
		}

	case *executor.ErrorEvent:
		fmt.Fprintf(p.out, "  error: %s\n", e.Message)
	}
	return nil
}

func (p *consolePrinter) Close() error {
	if p.streaming {
		fmt.Fprintln(p.out)
		p.streaming = false
	}
	return nil
}
