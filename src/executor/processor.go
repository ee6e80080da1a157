package executor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/scaffoldhq/scaffold/src/aisdk"
)

// ProcessorEventKind discriminates processor output events.
type ProcessorEventKind int

const (
	// KindTextDelta is an incremental piece of assistant text.
	KindTextDelta ProcessorEventKind = iota
	// KindIntent is a fully assembled function call.
	KindIntent
	// KindFinish terminates a successful stream.
	KindFinish
	// KindStreamError terminates a failed stream.
	KindStreamError
)

// ProcessorEvent is one ordered output of the stream processor.
type ProcessorEvent struct {
	Kind ProcessorEventKind

	// KindTextDelta
	Text string

	// KindIntent: Arguments hold complete, valid JSON.
	Intent *aisdk.ToolCall

	// KindFinish
	FinalText    string
	FinishReason string

	// KindStreamError
	Err error
}

// EmitFunc receives processor events in order.
type EmitFunc func(ProcessorEvent) error

// fragmentState buffers one function call while its pieces arrive.
type fragmentState struct {
	order   int
	id      string
	name    string
	args    strings.Builder
	emitted bool
}

// Processor turns a raw chunk stream into ordered text deltas, assembled
// function call intents, and exactly one terminal event. Function call
// fragments are buffered per call index; an intent is emitted only once its
// arguments parse as complete JSON. Fragments that never complete are
// dropped. A transport failure mid-stream produces a terminal error event
// in place of the finish event.
type Processor struct {
	logger *slog.Logger
}

// NewProcessor creates a stream processor.
func NewProcessor(logger *slog.Logger) *Processor {
	return &Processor{logger: logger.With("component", "processor")}
}

// Process consumes the stream until it ends, forwarding events to emit.
// The returned error mirrors the terminal error event, if any.
func (p *Processor) Process(stream aisdk.StreamInterface, emit EmitFunc) error {
	defer stream.Close()

	fragments := map[int]*fragmentState{}
	var accumulated strings.Builder
	finished := false

	for {
		chunk, err := stream.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// transport failure: terminal error, partial intents are dropped
			p.logger.Warn("stream failed mid-response", "error", err)
			if emitErr := emit(ProcessorEvent{Kind: KindStreamError, Err: err}); emitErr != nil {
				return emitErr
			}
			return err
		}
		if chunk == nil {
			break
		}

		switch chunk.Type {
		case aisdk.ChunkText:
			accumulated.WriteString(chunk.Text)
			if err := emit(ProcessorEvent{Kind: KindTextDelta, Text: chunk.Text}); err != nil {
				return err
			}

		case aisdk.ChunkFunctionCall:
			if chunk.Call == nil {
				continue
			}
			frag, ok := fragments[chunk.Call.Index]
			if !ok {
				frag = &fragmentState{order: len(fragments)}
				fragments[chunk.Call.Index] = frag
			}
			if chunk.Call.ID != "" {
				frag.id = chunk.Call.ID
			}
			if chunk.Call.Name != "" {
				frag.name = chunk.Call.Name
			}
			frag.args.WriteString(chunk.Call.Arguments)

			if intent := frag.tryAssemble(); intent != nil {
				if err := emit(ProcessorEvent{Kind: KindIntent, Intent: intent}); err != nil {
					return err
				}
			}

		case aisdk.ChunkFinish:
			finalText := p.reconcile(accumulated.String(), chunk.FinalText)
			if err := p.flushPending(fragments, emit); err != nil {
				return err
			}
			if err := emit(ProcessorEvent{
				Kind:         KindFinish,
				FinalText:    finalText,
				FinishReason: chunk.FinishReason,
			}); err != nil {
				return err
			}
			finished = true
		}

		if finished {
			return nil
		}
	}

	// clean end of stream without an explicit finish marker
	if err := p.flushPending(fragments, emit); err != nil {
		return err
	}
	return emit(ProcessorEvent{Kind: KindFinish, FinalText: accumulated.String(), FinishReason: "stop"})
}

// tryAssemble emits the call once the buffered arguments form valid JSON.
func (f *fragmentState) tryAssemble() *aisdk.ToolCall {
	if f.emitted || f.name == "" {
		return nil
	}
	args := f.args.String()
	if args == "" {
		args = "{}"
	}
	if !json.Valid([]byte(args)) {
		return nil
	}

	f.emitted = true
	if f.id == "" {
		f.id = uuid.New().String()
	}
	return &aisdk.ToolCall{
		ID:       f.id,
		Type:     "function",
		Function: aisdk.FunctionCall{Name: f.name, Arguments: json.RawMessage(args)},
	}
}

// flushPending gives buffered calls a final chance to assemble, then drops
// whatever still cannot parse.
func (p *Processor) flushPending(fragments map[int]*fragmentState, emit EmitFunc) error {
	var pending []*fragmentState
	for _, frag := range fragments {
		if !frag.emitted {
			pending = append(pending, frag)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].order < pending[j].order })

	for _, frag := range pending {
		if intent := frag.tryAssemble(); intent != nil {
			if err := emit(ProcessorEvent{Kind: KindIntent, Intent: intent}); err != nil {
				return err
			}
			continue
		}
		p.logger.Debug("dropping incomplete function call fragment", "name", frag.name)
	}
	return nil
}

// reconcile picks the canonical final text: the provider's final message
// replaces the accumulated deltas outright, it is never merged with them.
func (p *Processor) reconcile(accumulated, final string) string {
	if final == "" {
		return accumulated
	}
	if final != accumulated && p.logger.Enabled(context.Background(), slog.LevelDebug) {
		dmp := diffmatchpatch.New()
		diffs := dmp.DiffMain(accumulated, final, false)
		p.logger.Debug("final message diverges from streamed text",
			"diff", dmp.DiffPrettyText(diffs))
	}
	return final
}
