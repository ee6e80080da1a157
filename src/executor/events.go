package executor

import (
	"fmt"
	"time"

	"github.com/scaffoldhq/scaffold/src/aisdk"
)

// EventType identifies an outbound session event.
type EventType string

const (
	// Assistant output
	EventAIMessageChunk EventType = "ai_message_chunk"
	EventAIMessage      EventType = "ai_message"

	// Function dispatch
	EventFunctionExecutionStart    EventType = "function_execution_start"
	EventFunctionExecutionComplete EventType = "function_execution_complete"
	EventFunctionExecutionError    EventType = "function_execution_error"

	// Session lifecycle
	EventStateUpdate    EventType = "state_update"
	EventProgressUpdate EventType = "progress_update"
	EventCommandOutput  EventType = "command_output"
	EventError          EventType = "error"
)

// SessionEvent is the base interface for all outbound events.
type SessionEvent interface {
	GetType() EventType
	GetTimestamp() time.Time
	GetSessionID() string
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
}

func (e BaseEvent) GetType() EventType      { return e.Type }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e BaseEvent) GetSessionID() string    { return e.SessionID }

func base(t EventType, sessionID string) BaseEvent {
	return BaseEvent{Type: t, Timestamp: time.Now(), SessionID: sessionID}
}

// AIMessageChunkEvent carries one streamed text delta plus the text
// accumulated so far.
type AIMessageChunkEvent struct {
	BaseEvent
	Chunk       string `json:"chunk"`
	Accumulated string `json:"accumulated"`
}

// AIMessageEvent carries the finalized assistant message and the
// conversation state it was produced in.
type AIMessageEvent struct {
	BaseEvent
	Content   string           `json:"content"`
	State     string           `json:"state"`
	ToolCalls []aisdk.ToolCall `json:"tool_calls,omitempty"`
}

// FunctionExecutionStartEvent marks the start of a dispatched function.
type FunctionExecutionStartEvent struct {
	BaseEvent
	Name          string `json:"name"`
	CorrelationID string `json:"correlation_id"`
}

// FunctionExecutionCompleteEvent marks a finished function call.
type FunctionExecutionCompleteEvent struct {
	BaseEvent
	Name          string        `json:"name"`
	CorrelationID string        `json:"correlation_id"`
	Status        string        `json:"status"`
	Duration      time.Duration `json:"duration"`
}

// FunctionExecutionErrorEvent marks a function call that failed outright.
type FunctionExecutionErrorEvent struct {
	BaseEvent
	Name          string        `json:"name"`
	CorrelationID string        `json:"correlation_id"`
	Error         string        `json:"error"`
	Duration      time.Duration `json:"duration"`
}

// StateUpdateEvent announces a conversation state change.
type StateUpdateEvent struct {
	BaseEvent
	State    string `json:"state"`
	Progress int    `json:"progress"`
}

// ProgressUpdateEvent carries a progress percentage with optional detail.
type ProgressUpdateEvent struct {
	BaseEvent
	Progress int    `json:"progress"`
	Detail   string `json:"detail,omitempty"`
}

// CommandOutputEvent is one line of command stdout or stderr.
type CommandOutputEvent struct {
	BaseEvent
	StepIndex int    `json:"step_index"`
	Stream    string `json:"stream"` // "stdout" or "stderr"
	Line      string `json:"line"`
}

// ErrorEvent reports a turn-level failure.
type ErrorEvent struct {
	BaseEvent
	Message string `json:"message"`
	Context string `json:"context,omitempty"`
}

// EventSink is the interface for delivering session events.
type EventSink interface {
	// Send sends an event to the sink (non-blocking)
	Send(event SessionEvent) error

	// Close closes the event sink
	Close() error
}

// EventProcessor handles delivered events.
type EventProcessor interface {
	Process(event SessionEvent) error
	Close() error
}

// ChannelEventSink implements EventSink using Go channels.
type ChannelEventSink struct {
	events     chan SessionEvent
	processors []EventProcessor
	done       chan struct{}
}

// NewChannelEventSink creates a new channel-based event sink.
func NewChannelEventSink(bufferSize int, processors ...EventProcessor) *ChannelEventSink {
	sink := &ChannelEventSink{
		events:     make(chan SessionEvent, bufferSize),
		processors: processors,
		done:       make(chan struct{}),
	}

	go sink.processEvents()

	return sink
}

// Send sends an event to the sink.
func (s *ChannelEventSink) Send(event SessionEvent) error {
	select {
	case s.events <- event:
		return nil
	case <-s.done:
		return fmt.Errorf("event sink is closed")
	}
}

// Close closes the event sink and waits for pending events to drain.
func (s *ChannelEventSink) Close() error {
	close(s.events)
	<-s.done

	for _, p := range s.processors {
		if err := p.Close(); err != nil {
			fmt.Printf("Error closing processor: %v\n", err)
		}
	}

	return nil
}

func (s *ChannelEventSink) processEvents() {
	defer close(s.done)

	for event := range s.events {
		for _, processor := range s.processors {
			if err := processor.Process(event); err != nil {
				fmt.Printf("Error processing event: %v\n", err)
			}
		}
	}
}

// nopSink swallows events when no sink is configured.
type nopSink struct{}

func (nopSink) Send(SessionEvent) error { return nil }
func (nopSink) Close() error            { return nil }
