// Package session holds per-conversation state and its durable JSON store.
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/scaffoldhq/scaffold/src/aisdk"
	"github.com/scaffoldhq/scaffold/src/capability"
	"github.com/scaffoldhq/scaffold/src/engine"
	"github.com/scaffoldhq/scaffold/src/permission"
)

// ErrPendingConflict is returned when a session would hold both a pending
// question and a pending permission request. At most one may be set.
var ErrPendingConflict = errors.New("session cannot have both a pending question and a pending permission")

// Requirements is everything collected from the user about the project.
type Requirements struct {
	ProjectType        string   `json:"project_type,omitempty"`
	Language           string   `json:"language,omitempty"`
	Framework          string   `json:"framework,omitempty"`
	ProjectName        string   `json:"project_name,omitempty"`
	FolderPath         string   `json:"folder_path,omitempty"`
	Database           string   `json:"database,omitempty"`
	Authentication     bool     `json:"authentication,omitempty"`
	Testing            bool     `json:"testing,omitempty"`
	Docker             bool     `json:"docker,omitempty"`
	AdditionalFeatures []string `json:"additional_features,omitempty"`
}

// CoreComplete reports whether the interview collected enough to plan.
func (r Requirements) CoreComplete() bool {
	return r.ProjectType != "" && r.Language != "" && r.ProjectName != "" && r.FolderPath != ""
}

// Completion returns a 0-100 percentage over the core fields.
func (r Requirements) Completion() int {
	fields := []string{r.ProjectType, r.Language, r.ProjectName, r.FolderPath}
	done := 0
	for _, f := range fields {
		if f != "" {
			done++
		}
	}
	return done * 100 / len(fields)
}

// PendingQuestion is a question parked for the user, with an optional
// closed choice set.
type PendingQuestion struct {
	ID       string    `json:"id"`
	Question string    `json:"question"`
	Field    string    `json:"field"`
	Options  []string  `json:"options,omitempty"`
	AskedAt  time.Time `json:"asked_at"`
}

// PendingPermission is a permission request parked for the user.
type PendingPermission struct {
	ID          string          `json:"id"`
	Type        permission.Type `json:"type"`
	Scope       string          `json:"scope"`
	Reason      string          `json:"reason,omitempty"`
	RequestedAt time.Time       `json:"requested_at"`
}

// Session is the full state of one scaffolding conversation.
type Session struct {
	ID    string `json:"id"`
	State string `json:"state"`

	Requirements Requirements         `json:"requirements"`
	Capabilities *capability.Snapshot `json:"capabilities,omitempty"`
	Plan         *engine.Plan         `json:"plan,omitempty"`
	Results      []engine.Result      `json:"results,omitempty"`

	History     []*aisdk.Message    `json:"history"`
	Permissions []permission.Record `json:"permissions,omitempty"`

	PendingQuestion   *PendingQuestion   `json:"pending_question,omitempty"`
	PendingPermission *PendingPermission `json:"pending_permission,omitempty"`

	DetailsCollected      bool `json:"details_collected"`
	Validated             bool `json:"validated"`
	Confirmed             bool `json:"confirmed"`
	ExecutionCompleted    bool `json:"execution_completed"`
	VerificationCompleted bool `json:"verification_completed"`

	Progress  int    `json:"progress"`
	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates an empty session in the initial state.
func New(initialState string) *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.New().String(),
		State:     initialState,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch bumps the update timestamp.
func (s *Session) Touch() {
	s.UpdatedAt = time.Now()
}

// AppendMessage adds a message to the history.
func (s *Session) AppendMessage(msg *aisdk.Message) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.History = append(s.History, msg)
	s.Touch()
}

// ReplaceStreamingMessage swaps the trailing streaming assistant message for
// its final form. When no streaming message exists the final one is simply
// appended.
func (s *Session) ReplaceStreamingMessage(final *aisdk.Message) {
	final.Streaming = false
	if n := len(s.History); n > 0 && s.History[n-1].Streaming {
		s.History[n-1] = final
		s.Touch()
		return
	}
	s.AppendMessage(final)
}

// SetPendingQuestion parks a question, displacing nothing: it is an error to
// call this while a permission request is pending.
func (s *Session) SetPendingQuestion(q *PendingQuestion) error {
	if s.PendingPermission != nil {
		return ErrPendingConflict
	}
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	if q.AskedAt.IsZero() {
		q.AskedAt = time.Now()
	}
	s.PendingQuestion = q
	s.Touch()
	return nil
}

// SetPendingPermission parks a permission request.
func (s *Session) SetPendingPermission(p *PendingPermission) error {
	if s.PendingQuestion != nil {
		return ErrPendingConflict
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.RequestedAt.IsZero() {
		p.RequestedAt = time.Now()
	}
	s.PendingPermission = p
	s.Touch()
	return nil
}

// ClearPending drops any pending question or permission request.
func (s *Session) ClearPending() {
	s.PendingQuestion = nil
	s.PendingPermission = nil
	s.Touch()
}

// Waiting reports whether the session is blocked on user input.
func (s *Session) Waiting() bool {
	return s.PendingQuestion != nil || s.PendingPermission != nil
}

// HasGlobalGrant reports whether a granted global permission exists.
func (s *Session) HasGlobalGrant() bool {
	for _, r := range s.Permissions {
		if r.Type == permission.TypeGlobal && r.Granted {
			return true
		}
	}
	return false
}

// CheckInvariants validates structural invariants before persisting.
func (s *Session) CheckInvariants() error {
	if s.PendingQuestion != nil && s.PendingPermission != nil {
		return ErrPendingConflict
	}
	return nil
}
