// Package conversation implements the scaffolding interview as a state
// machine. Transitions are pure: guards read the session snapshot and the
// machine returns effect descriptions for the caller to carry out. Nothing
// in this package performs I/O.
package conversation

import (
	"github.com/scaffoldhq/scaffold/src/session"
)

// State is a conversation phase. Stored on the session as a plain string.
type State string

const (
	StateInit            State = "INIT"
	StateAskProjectType  State = "ASK_PROJECT_TYPE"
	StateAskLanguage     State = "ASK_LANGUAGE_PREFERENCE"
	StateAskNameFolder   State = "ASK_PROJECT_NAME_FOLDER"
	StateAskDetails      State = "ASK_ADDITIONAL_DETAILS"
	StateCheckCaps       State = "CHECK_SYSTEM_CAPABILITIES"
	StateValidate        State = "VALIDATE_INFO"
	StateSummaryConfirm  State = "SUMMARY_CONFIRMATION"
	StatePlanning        State = "PLANNING"
	StateExecuting       State = "EXECUTING"
	StateVerifying       State = "VERIFYING"
	StateCompleted       State = "COMPLETED"
	StateFailed          State = "FAILED"
)

// Effect names a side effect the caller must perform after a transition.
type Effect string

const (
	EffectDetectCapabilities   Effect = "detect_capabilities"
	EffectValidateRequirements Effect = "validate_requirements"
	EffectGeneratePlan         Effect = "generate_plan"
	EffectExecutePlan          Effect = "execute_plan"
	EffectRunVerification      Effect = "run_verification"
	EffectGenerateReport       Effect = "generate_report"
)

// progress maps each state to an overall completion percentage.
var progress = map[State]int{
	StateInit:           0,
	StateAskProjectType: 10,
	StateAskLanguage:    20,
	StateAskNameFolder:  30,
	StateAskDetails:     40,
	StateCheckCaps:      50,
	StateValidate:       60,
	StateSummaryConfirm: 70,
	StatePlanning:       80,
	StateExecuting:      90,
	StateVerifying:      95,
	StateCompleted:      100,
	StateFailed:         0,
}

// Progress returns the completion percentage for a state.
func Progress(s State) int {
	return progress[s]
}

// IsTerminal reports whether a state accepts no further transitions.
func IsTerminal(s State) bool {
	return s == StateCompleted || s == StateFailed
}

// interview states may be jumped back to for corrections.
var interview = map[State]bool{
	StateAskProjectType: true,
	StateAskLanguage:    true,
	StateAskNameFolder:  true,
	StateAskDetails:     true,
}

// Transition is one guarded edge of the machine.
type Transition struct {
	From    State
	To      State
	Guard   func(*session.Session) bool
	Effects []Effect
}

var transitions = []Transition{
	{
		From:  StateInit,
		To:    StateAskProjectType,
		Guard: func(s *session.Session) bool { return s.HasGlobalGrant() },
	},
	{
		From:  StateAskProjectType,
		To:    StateAskLanguage,
		Guard: func(s *session.Session) bool { return s.Requirements.ProjectType != "" },
	},
	{
		From:  StateAskLanguage,
		To:    StateAskNameFolder,
		Guard: func(s *session.Session) bool { return s.Requirements.Language != "" },
	},
	{
		From: StateAskNameFolder,
		To:   StateAskDetails,
		Guard: func(s *session.Session) bool {
			return s.Requirements.ProjectName != "" && s.Requirements.FolderPath != ""
		},
	},
	{
		From:    StateAskDetails,
		To:      StateCheckCaps,
		Guard:   func(s *session.Session) bool { return s.DetailsCollected },
		Effects: []Effect{EffectDetectCapabilities},
	},
	{
		From: StateCheckCaps,
		To:   StateValidate,
		Guard: func(s *session.Session) bool {
			return s.Capabilities != nil && s.Capabilities.Completed
		},
		Effects: []Effect{EffectValidateRequirements},
	},
	{
		From:  StateValidate,
		To:    StateSummaryConfirm,
		Guard: func(s *session.Session) bool { return s.Validated },
	},
	{
		From:    StateSummaryConfirm,
		To:      StatePlanning,
		Guard:   func(s *session.Session) bool { return s.Confirmed },
		Effects: []Effect{EffectGeneratePlan},
	},
	{
		From:    StatePlanning,
		To:      StateExecuting,
		Guard:   func(s *session.Session) bool { return s.Plan != nil && len(s.Plan.Steps) > 0 },
		Effects: []Effect{EffectExecutePlan},
	},
	{
		From:    StateExecuting,
		To:      StateVerifying,
		Guard:   func(s *session.Session) bool { return s.ExecutionCompleted },
		Effects: []Effect{EffectRunVerification},
	},
	{
		From:    StateVerifying,
		To:      StateCompleted,
		Guard:   func(s *session.Session) bool { return s.VerificationCompleted },
		Effects: []Effect{EffectGenerateReport},
	},
}

// Next computes the transition out of the session's current state, if any.
// It never mutates the session.
func Next(sess *session.Session) (State, []Effect, bool) {
	current := State(sess.State)
	if IsTerminal(current) {
		return current, nil, false
	}
	// a parked question or permission request blocks advancement
	if sess.Waiting() {
		return current, nil, false
	}

	for _, t := range transitions {
		if t.From == current && t.Guard(sess) {
			return t.To, t.Effects, true
		}
	}
	return current, nil, false
}

// Advance applies Next to the session: sets the new state and progress and
// returns the effects to perform. ok is false when no transition fired.
func Advance(sess *session.Session) ([]Effect, bool) {
	to, effects, ok := Next(sess)
	if !ok {
		return nil, false
	}
	sess.State = string(to)
	sess.Progress = Progress(to)
	sess.Touch()
	return effects, true
}

// CanJump reports whether a correction jump from one state to another is
// allowed: only backward, only into interview states, never out of a
// terminal state.
func CanJump(from, to State) bool {
	if IsTerminal(from) || !interview[to] {
		return false
	}
	return progress[to] < progress[from]
}

// Jump moves the session back to an earlier interview state.
func Jump(sess *session.Session, to State) bool {
	if !CanJump(State(sess.State), to) {
		return false
	}
	sess.State = string(to)
	sess.Progress = Progress(to)
	sess.Touch()
	return true
}

// Fail moves the session to the absorbing failure state.
func Fail(sess *session.Session, reason string) {
	if IsTerminal(State(sess.State)) {
		return
	}
	sess.State = string(StateFailed)
	sess.LastError = reason
	sess.Touch()
}
