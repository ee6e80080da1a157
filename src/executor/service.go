// Package executor runs the conversation loop: it streams model responses,
// assembles function call intents, dispatches them through the permission
// gate, and drives the conversation state machine.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/scaffoldhq/scaffold/src/aisdk"
	"github.com/scaffoldhq/scaffold/src/capability"
	"github.com/scaffoldhq/scaffold/src/conversation"
	"github.com/scaffoldhq/scaffold/src/permission"
	"github.com/scaffoldhq/scaffold/src/session"
	"github.com/scaffoldhq/scaffold/src/storage"
)

// DefaultMaxIterations caps how many model round-trips one user message may
// trigger before the session is failed.
const DefaultMaxIterations = 8

// ErrSessionTerminal is returned when a message arrives for a session that
// already completed or failed.
var ErrSessionTerminal = errors.New("session is in a terminal state")

const systemPrompt = `You are a project scaffolding assistant. You interview the user
about the project they want, detect what their machine can run, validate the
collected requirements, and then create the project on disk step by step.

Work through the conversation one phase at a time. Record everything the user
tells you with update_project_requirements. When you need information, ask with
ask_user_preference. Never create anything before the user has confirmed the
summary. When a function result reports a failure, explain it to the user and
decide how to proceed; do not retry the identical call.`

// Options configures the conversation service.
type Options struct {
	Provider aisdk.Provider
	Model    string
	Registry *Registry
	Sessions *session.Manager
	Caps     *capability.Service
	Store    *storage.DB
	FS       afero.Fs
	Logger   *slog.Logger

	// MaxIterations overrides DefaultMaxIterations when positive.
	MaxIterations int
}

// Service owns the per-message orchestration for scaffolding sessions.
type Service struct {
	provider aisdk.Provider
	model    string
	registry *Registry
	sessions *session.Manager
	caps     *capability.Service
	store    *storage.DB
	fs       afero.Fs
	logger   *slog.Logger
	maxIter  int
}

// NewService creates the conversation service.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	registry := opts.Registry
	if registry == nil {
		registry = DefaultRegistry()
	}
	fs := opts.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Service{
		provider: opts.Provider,
		model:    opts.Model,
		registry: registry,
		sessions: opts.Sessions,
		caps:     opts.Caps,
		store:    opts.Store,
		fs:       fs,
		logger:   logger.With("component", "executor"),
		maxIter:  maxIter,
	}
}

// StartSession creates and persists a fresh session.
func (s *Service) StartSession(ctx context.Context) (*session.Session, error) {
	sess := session.New(string(conversation.StateInit))
	if err := s.sessions.Save(sess); err != nil {
		return nil, fmt.Errorf("failed to persist new session: %w", err)
	}
	s.indexSession(ctx, sess)
	s.logger.Info("session started", "session_id", sess.ID)
	return sess, nil
}

// ProcessMessage handles one user message end to end: it resolves any parked
// question or permission request, runs the model loop until the model stops
// calling functions or the session blocks on the user, advances the state
// machine, and persists the session.
func (s *Service) ProcessMessage(ctx context.Context, sessionID, input string, sink EventSink) (*session.Session, error) {
	if sink == nil {
		sink = nopSink{}
	}

	unlock := s.sessions.Lock(sessionID)
	defer unlock()

	sess, err := s.sessions.Load(sessionID)
	if err != nil {
		return nil, err
	}
	if conversation.IsTerminal(conversation.State(sess.State)) {
		return sess, ErrSessionTerminal
	}

	gate := permission.NewGate(sess.Permissions)

	userMsg := &aisdk.Message{Role: "user", Content: input}
	sess.AppendMessage(userMsg)
	s.archiveMessage(ctx, sess.ID, userMsg)

	s.resolvePending(ctx, sess, gate, input)

	// a denied global permission fails the session during resolution
	if conversation.IsTerminal(conversation.State(sess.State)) {
		s.emitState(sink, sess)
		sess.Permissions = gate.Records()
		if err := s.persist(ctx, sess); err != nil {
			return sess, err
		}
		return sess, nil
	}

	env := s.newEnv(sess, gate, sink)

	if err := s.runTurn(ctx, env, sink); err != nil {
		s.emit(sink, &ErrorEvent{
			BaseEvent: base(EventError, sess.ID),
			Message:   err.Error(),
			Context:   "model_turn",
		})
		sess.Permissions = gate.Records()
		if saveErr := s.persist(ctx, sess); saveErr != nil {
			s.logger.Error("failed to persist session after turn error", "error", saveErr)
		}
		return sess, err
	}

	s.advance(ctx, env, sink)

	sess.Permissions = gate.Records()
	if err := s.persist(ctx, sess); err != nil {
		return sess, err
	}
	return sess, nil
}

// resolvePending consumes a parked question or permission request using the
// incoming user message. Denying the global permission fails the session:
// nothing may run without it.
func (s *Service) resolvePending(ctx context.Context, sess *session.Session, gate *permission.Gate, input string) {
	if q := sess.PendingQuestion; q != nil {
		applyAnswer(&sess.Requirements, q.Field, input)
		sess.ClearPending()
		return
	}

	if p := sess.PendingPermission; p != nil {
		granted, remember := parseApproval(input)
		gate.Record(p.Type, p.Scope, granted, remember)
		// machine guards read the session's copy of the records
		sess.Permissions = gate.Records()
		sess.ClearPending()
		s.logger.Info("permission resolved",
			"session_id", sess.ID, "type", string(p.Type), "scope", p.Scope,
			"granted", granted, "remember", remember)

		if !granted && p.Type == permission.TypeGlobal {
			reason := "permission denied: the session permission was refused"
			s.recordError(ctx, sess, reason)
			conversation.Fail(sess, reason)
		}
	}
}

// recordError appends a failure to the history as a system message so the
// transcript keeps it alongside the conversation.
func (s *Service) recordError(ctx context.Context, sess *session.Session, text string) {
	msg := &aisdk.Message{Role: "system", Content: text}
	sess.AppendMessage(msg)
	s.archiveMessage(ctx, sess.ID, msg)
}

// applyAnswer fills the requirement field a pending question targeted. The
// answer also lands in the history, so unknown fields are left to the model.
func applyAnswer(req *session.Requirements, field, answer string) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return
	}
	switch field {
	case "project_type":
		req.ProjectType = answer
	case "language":
		req.Language = answer
	case "framework":
		req.Framework = answer
	case "project_name":
		req.ProjectName = answer
	case "folder_path":
		req.FolderPath = answer
	case "database":
		req.Database = answer
	case "authentication":
		req.Authentication = affirmative(answer)
	case "testing":
		req.Testing = affirmative(answer)
	case "docker":
		req.Docker = affirmative(answer)
	}
}

func affirmative(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes", "true", "sure", "please", "ok":
		return true
	}
	return false
}

// parseApproval interprets a reply to a permission request.
func parseApproval(input string) (granted, remember bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	remember = strings.Contains(normalized, "always") || strings.Contains(normalized, "never") ||
		strings.Contains(normalized, "remember")

	switch {
	case strings.Contains(normalized, "never"), strings.Contains(normalized, "deny"),
		strings.HasPrefix(normalized, "no"), normalized == "n":
		return false, remember
	case strings.Contains(normalized, "always"), strings.Contains(normalized, "allow"),
		strings.HasPrefix(normalized, "yes"), normalized == "y", strings.HasPrefix(normalized, "ok"),
		strings.Contains(normalized, "grant"), strings.Contains(normalized, "approve"):
		return true, remember
	}
	return false, remember
}

// runTurn runs model round-trips until the model produces a plain text turn,
// the session blocks on the user, or the iteration cap trips.
func (s *Service) runTurn(ctx context.Context, env *Env, sink EventSink) error {
	sess := env.Session
	processor := NewProcessor(s.logger)

	for iteration := 0; iteration < s.maxIter; iteration++ {
		stream, err := s.provider.StreamGenerate(ctx, s.buildRequest(sess))
		if err != nil {
			return fmt.Errorf("generation failed: %w", err)
		}

		sess.AppendMessage(&aisdk.Message{Role: "assistant", Streaming: true})

		var (
			accumulated strings.Builder
			intents     []aisdk.ToolCall
			finalText   string
		)

		err = processor.Process(stream, func(ev ProcessorEvent) error {
			switch ev.Kind {
			case KindTextDelta:
				accumulated.WriteString(ev.Text)
				s.emit(sink, &AIMessageChunkEvent{
					BaseEvent:   base(EventAIMessageChunk, sess.ID),
					Chunk:       ev.Text,
					Accumulated: accumulated.String(),
				})
			case KindIntent:
				intents = append(intents, *ev.Intent)
			case KindFinish:
				finalText = ev.FinalText
			case KindStreamError:
				// terminal event; Process returns the same error
			}
			return nil
		})
		if err != nil {
			// drop the streaming placeholder, keep what was streamed so far
			sess.ReplaceStreamingMessage(&aisdk.Message{Role: "assistant", Content: accumulated.String()})
			s.recordError(ctx, sess, fmt.Sprintf("stream error: %v", err))
			return fmt.Errorf("response stream failed: %w", err)
		}

		assistant := &aisdk.Message{Role: "assistant", Content: finalText, ToolCalls: intents}
		sess.ReplaceStreamingMessage(assistant)
		s.archiveMessage(ctx, sess.ID, assistant)
		s.emit(sink, &AIMessageEvent{
			BaseEvent: base(EventAIMessage, sess.ID),
			Content:   finalText,
			State:     sess.State,
			ToolCalls: intents,
		})

		if len(intents) == 0 {
			return nil
		}

		for i := range intents {
			result := s.dispatch(ctx, env, &intents[i], sink)
			toolMsg := &aisdk.Message{
				Role:       "tool",
				Name:       intents[i].Function.Name,
				ToolCallID: intents[i].ID,
				Content:    string(result.Marshal()),
			}
			sess.AppendMessage(toolMsg)
			s.archiveMessage(ctx, sess.ID, toolMsg)
		}

		s.advance(ctx, env, sink)

		if sess.Waiting() {
			return nil
		}
		if conversation.IsTerminal(conversation.State(sess.State)) {
			return nil
		}
	}

	reason := fmt.Sprintf("function call loop exceeded %d iterations", s.maxIter)
	s.recordError(ctx, sess, reason)
	conversation.Fail(sess, reason)
	s.emit(sink, &ErrorEvent{
		BaseEvent: base(EventError, sess.ID),
		Message:   reason,
		Context:   "iteration_cap",
	})
	s.emitState(sink, sess)
	return nil
}

// dispatch runs one function call through validation, the permission gate,
// and the handler. It always produces a structured result.
func (s *Service) dispatch(ctx context.Context, env *Env, call *aisdk.ToolCall, sink EventSink) *Result {
	sess := env.Session
	name := call.Function.Name
	correlationID := call.ID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	s.emit(sink, &FunctionExecutionStartEvent{
		BaseEvent:     base(EventFunctionExecutionStart, sess.ID),
		Name:          name,
		CorrelationID: correlationID,
	})

	started := time.Now()
	result := s.execute(ctx, env, call)
	duration := time.Since(started)

	if result.Error != "" && result.Status == "execution_error" {
		s.emit(sink, &FunctionExecutionErrorEvent{
			BaseEvent:     base(EventFunctionExecutionError, sess.ID),
			Name:          name,
			CorrelationID: correlationID,
			Error:         result.Error,
			Duration:      duration,
		})
	} else {
		s.emit(sink, &FunctionExecutionCompleteEvent{
			BaseEvent:     base(EventFunctionExecutionComplete, sess.ID),
			Name:          name,
			CorrelationID: correlationID,
			Status:        result.Status,
			Duration:      duration,
		})
	}

	s.recordFunctionCall(ctx, sess.ID, correlationID, name, result.Status, duration)
	return result
}

func (s *Service) execute(ctx context.Context, env *Env, call *aisdk.ToolCall) *Result {
	name := call.Function.Name

	fn, ok := s.registry.Get(name)
	if !ok {
		return Failure("validation_failed", fmt.Sprintf("unknown function %q", name))
	}

	if result := s.gateEffect(env, fn); result != nil {
		return result
	}

	result, err := fn.Handler(ctx, env, call.Function.Arguments)
	if err != nil {
		s.logger.Error("function handler failed", "function", name, "error", err)
		return Failure("execution_error", err.Error())
	}
	if result == nil {
		return Failure("execution_error", fmt.Sprintf("function %q returned no result", name))
	}
	return result
}

// gateEffect checks the gate for a function's declared effect category. A
// nil return means the call may proceed.
func (s *Service) gateEffect(env *Env, fn *Function) *Result {
	var (
		typ   permission.Type
		scope string
	)
	switch fn.Effect {
	case permission.EffectProcess:
		typ, scope = permission.TypeGlobal, "session"
	case permission.EffectFilesystem:
		typ, scope = permission.TypeFolder, env.Session.Requirements.FolderPath
	default:
		return nil
	}

	switch env.Gate.Check(typ, scope) {
	case permission.DecisionAllow:
		return nil
	case permission.DecisionDeny:
		return Failure("permission_denied", fmt.Sprintf("%s permission for %q was denied", typ, scope))
	}

	if err := env.Session.SetPendingPermission(&session.PendingPermission{
		Type:   typ,
		Scope:  scope,
		Reason: fmt.Sprintf("required to run %s", fn.Name),
	}); err != nil {
		return Failure("pending_conflict", err.Error())
	}
	return &Result{Status: "permission_required", Data: map[string]any{
		"type": string(typ), "scope": scope,
	}}
}

// effectFunctions maps machine effects onto registry functions.
var effectFunctions = map[conversation.Effect]string{
	conversation.EffectDetectCapabilities:   "detect_system_capabilities",
	conversation.EffectValidateRequirements: "validate_requirements",
	conversation.EffectGeneratePlan:         "generate_execution_plan",
	conversation.EffectExecutePlan:          "execute_project_creation",
	conversation.EffectRunVerification:      "run_verification_tests",
	conversation.EffectGenerateReport:       "generate_project_report",
}

// advance drives the state machine as far as the guards allow, carrying out
// transition effects through the same dispatch path the model uses.
func (s *Service) advance(ctx context.Context, env *Env, sink EventSink) {
	sess := env.Session

	for {
		effects, ok := conversation.Advance(sess)
		if !ok {
			return
		}
		s.emitState(sink, sess)

		for _, effect := range effects {
			name, known := effectFunctions[effect]
			if !known {
				s.logger.Warn("no function for transition effect", "effect", string(effect))
				continue
			}

			call := &aisdk.ToolCall{
				ID:       uuid.New().String(),
				Type:     "function",
				Function: aisdk.FunctionCall{Name: name, Arguments: []byte("{}")},
			}
			result := s.dispatch(ctx, env, call, sink)

			s.emit(sink, &ProgressUpdateEvent{
				BaseEvent: base(EventProgressUpdate, sess.ID),
				Progress:  sess.Progress,
				Detail:    fmt.Sprintf("%s: %s", name, result.Status),
			})

			if result.Status == "execution_failed" {
				s.recordError(ctx, sess, fmt.Sprintf("%s failed: %s", name, result.Error))
				conversation.Fail(sess, result.Error)
				s.emitState(sink, sess)
				return
			}
			if sess.Waiting() {
				return
			}
		}

		if conversation.IsTerminal(conversation.State(sess.State)) {
			return
		}
	}
}

func (s *Service) buildRequest(sess *session.Session) *aisdk.GenerateRequest {
	return &aisdk.GenerateRequest{
		Model:        s.model,
		Messages:     sess.History,
		SystemPrompt: systemPrompt + "\n\n" + statePrompt(sess),
		Tools:        s.registry.ChatTools(),
	}
}

// statePrompt summarizes machine state and collected requirements so the
// model does not have to reconstruct them from the transcript.
func statePrompt(sess *session.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current phase: %s (%d%% complete).\n", sess.State, sess.Progress)

	req := sess.Requirements
	fmt.Fprintf(&b, "Collected requirements: type=%q language=%q framework=%q name=%q folder=%q",
		req.ProjectType, req.Language, req.Framework, req.ProjectName, req.FolderPath)
	if req.Database != "" {
		fmt.Fprintf(&b, " database=%q", req.Database)
	}
	fmt.Fprintf(&b, " auth=%t testing=%t docker=%t.\n", req.Authentication, req.Testing, req.Docker)

	if sess.Capabilities != nil {
		fmt.Fprintf(&b, "Detected capabilities: os=%s runtimes=%v git=%t docker=%t.\n",
			sess.Capabilities.OS, sess.Capabilities.Runtimes,
			sess.Capabilities.GitInstalled, sess.Capabilities.DockerInstalled)
	}
	if sess.Plan != nil {
		fmt.Fprintf(&b, "Execution plan has %d steps.\n", len(sess.Plan.Steps))
	}
	if sess.LastError != "" {
		fmt.Fprintf(&b, "Last error: %s\n", sess.LastError)
	}
	return b.String()
}

func (s *Service) newEnv(sess *session.Session, gate *permission.Gate, sink EventSink) *Env {
	return &Env{
		Session: sess,
		Gate:    gate,
		Caps:    s.caps,
		Store:   s.store,
		FS:      s.fs,
		Logger:  s.logger,
		Output: func(stepIndex int, stream, line string) {
			s.emit(sink, &CommandOutputEvent{
				BaseEvent: base(EventCommandOutput, sess.ID),
				StepIndex: stepIndex,
				Stream:    stream,
				Line:      line,
			})
		},
	}
}

func (s *Service) emit(sink EventSink, event SessionEvent) {
	if err := sink.Send(event); err != nil {
		s.logger.Debug("failed to deliver event", "type", string(event.GetType()), "error", err)
	}
}

func (s *Service) emitState(sink EventSink, sess *session.Session) {
	s.emit(sink, &StateUpdateEvent{
		BaseEvent: base(EventStateUpdate, sess.ID),
		State:     sess.State,
		Progress:  sess.Progress,
	})
}

// persist saves the session store copy and refreshes the sqlite index row.
func (s *Service) persist(ctx context.Context, sess *session.Session) error {
	if err := s.sessions.Save(sess); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	s.indexSession(ctx, sess)
	return nil
}

func (s *Service) indexSession(ctx context.Context, sess *session.Session) {
	if s.store == nil {
		return
	}
	row := &storage.SessionRow{ID: sess.ID, State: sess.State, CreatedAt: sess.CreatedAt}
	if sess.Requirements.ProjectName != "" {
		name := sess.Requirements.ProjectName
		row.ProjectName = &name
	}
	if sess.Requirements.FolderPath != "" {
		folder := sess.Requirements.FolderPath
		row.FolderPath = &folder
	}
	if err := storage.UpsertSession(ctx, s.store.DB(), row); err != nil {
		s.logger.Warn("failed to index session", "session_id", sess.ID, "error", err)
	}
}

func (s *Service) archiveMessage(ctx context.Context, sessionID string, msg *aisdk.Message) {
	if s.store == nil {
		return
	}
	err := storage.AppendMessage(ctx, s.store.DB(), &storage.MessageRow{
		SessionID: sessionID,
		Role:      msg.Role,
		Content:   msg.Content,
	})
	if err != nil {
		s.logger.Warn("failed to archive message", "session_id", sessionID, "error", err)
	}
}

func (s *Service) recordFunctionCall(ctx context.Context, sessionID, correlationID, name, status string, duration time.Duration) {
	if s.store == nil {
		return
	}
	err := storage.AppendFunctionCall(ctx, s.store.DB(), &storage.FunctionCallRow{
		SessionID:     sessionID,
		CorrelationID: correlationID,
		Name:          name,
		Status:        status,
		DurationMs:    duration.Milliseconds(),
	})
	if err != nil {
		s.logger.Warn("failed to record function call", "session_id", sessionID, "error", err)
	}
}
