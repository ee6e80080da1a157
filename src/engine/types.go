// Package engine executes scaffolding plans: strictly ordered steps with
// fallback commands, bounded timeouts, and line-streamed output.
package engine

import (
	"time"
)

// StepKind selects how a step is carried out.
type StepKind string

const (
	// KindShell runs the step's command through the shell.
	KindShell StepKind = "shell"
	// KindCreateFile writes a file in-process, no shell involved.
	KindCreateFile StepKind = "create_file"
	// KindCreateDir creates a directory in-process.
	KindCreateDir StepKind = "create_dir"
)

// DefaultStepTimeout bounds a single command attempt.
const DefaultStepTimeout = 30 * time.Second

// Step is one ordered unit of a plan.
type Step struct {
	Description string        `json:"description"`
	Kind        StepKind      `json:"kind"`
	Command     string        `json:"command,omitempty"`
	Fallbacks   []string      `json:"fallbacks,omitempty"`
	WorkDir     string        `json:"work_dir,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
	// VerifyOnly steps check the outcome; their failure never halts the plan.
	VerifyOnly bool `json:"verify_only,omitempty"`

	// For KindCreateFile / KindCreateDir.
	Path    string `json:"path,omitempty"`
	Content string `json:"content,omitempty"`
}

// EffectiveTimeout returns the step timeout, defaulted when unset.
func (s Step) EffectiveTimeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultStepTimeout
}

// Plan is an ordered list of steps.
type Plan struct {
	Steps     []Step    `json:"steps"`
	CreatedAt time.Time `json:"created_at"`
}

// VerifySteps returns only the verification steps, preserving order and
// original indices.
func (p *Plan) VerifySteps() []int {
	var idx []int
	for i, s := range p.Steps {
		if s.VerifyOnly {
			idx = append(idx, i)
		}
	}
	return idx
}

// Result is the outcome of one attempted step. Exactly one Result exists per
// attempted step; Variant records which command won ("primary" or
// "fallback-N"), or the last one tried on failure.
type Result struct {
	StepIndex  int           `json:"step_index"`
	Variant    string        `json:"variant"`
	Command    string        `json:"command"`
	Success    bool          `json:"success"`
	ExitCode   int           `json:"exit_code"`
	Stdout     string        `json:"stdout,omitempty"`
	Stderr     string        `json:"stderr,omitempty"`
	Error      string        `json:"error,omitempty"`
	VerifyOnly bool          `json:"verify_only,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
}
