package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/scaffoldhq/scaffold/src/permission"
)

var (
	// ErrStepFailed is returned when a non-verification step exhausts its
	// fallback chain.
	ErrStepFailed = errors.New("step failed")
	// ErrPermissionDenied marks an attempt blocked by a remembered denial.
	ErrPermissionDenied = errors.New("permission denied")
)

// AttemptRecord is one command attempt, appended to the durable execution
// log whether it succeeded or not.
type AttemptRecord struct {
	SessionID string
	StepIndex int
	Variant   string
	Command   string
	ExitCode  int
	Success   bool
	Duration  time.Duration
}

// ExecutionLogger persists attempt records append-only.
type ExecutionLogger interface {
	AppendExecution(ctx context.Context, rec AttemptRecord) error
}

// OutputFunc receives stdout/stderr lines as they are produced.
type OutputFunc func(stepIndex int, stream, line string)

// Options configures an Engine.
type Options struct {
	SessionID string
	FS        afero.Fs
	Logger    *slog.Logger
	ExecLog   ExecutionLogger
	Output    OutputFunc
	Gate      *permission.Gate
	Shell     string
}

// Engine runs plans. One engine serves one session.
type Engine struct {
	sessionID string
	fs        afero.Fs
	logger    *slog.Logger
	execLog   ExecutionLogger
	output    OutputFunc
	gate      *permission.Gate
	shell     string
}

// New creates an engine. FS defaults to the OS filesystem and Shell to
// bash; Output and ExecLog may be nil.
func New(opts Options) *Engine {
	e := &Engine{
		sessionID: opts.SessionID,
		fs:        opts.FS,
		logger:    opts.Logger,
		execLog:   opts.ExecLog,
		output:    opts.Output,
		gate:      opts.Gate,
		shell:     opts.Shell,
	}
	if e.fs == nil {
		e.fs = afero.NewOsFs()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "engine")
	if e.shell == "" {
		e.shell = "bash"
	}
	return e
}

// ExecutePlan runs every step in order. Execution halts at the first failed
// non-verification step; verification failures are recorded and execution
// continues. The returned slice holds exactly one result per attempted step.
func (e *Engine) ExecutePlan(ctx context.Context, plan *Plan) ([]Result, error) {
	var results []Result

	for i, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res := e.runStep(ctx, i, step)
		results = append(results, res)

		if !res.Success && !step.VerifyOnly {
			return results, fmt.Errorf("step %d (%s): %w", i, step.Description, ErrStepFailed)
		}
	}

	return results, nil
}

// RunVerification runs only the plan's verification steps.
func (e *Engine) RunVerification(ctx context.Context, plan *Plan) ([]Result, error) {
	var results []Result

	for _, i := range plan.VerifySteps() {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		results = append(results, e.runStep(ctx, i, plan.Steps[i]))
	}

	return results, nil
}

func (e *Engine) runStep(ctx context.Context, index int, step Step) Result {
	switch step.Kind {
	case KindCreateFile:
		return e.createFile(index, step)
	case KindCreateDir:
		return e.createDir(index, step)
	default:
		return e.runShellStep(ctx, index, step)
	}
}

func (e *Engine) createFile(index int, step Step) Result {
	res := Result{
		StepIndex:  index,
		Variant:    "primary",
		Command:    "create_file " + step.Path,
		VerifyOnly: step.VerifyOnly,
		StartedAt:  time.Now(),
	}

	if err := e.fs.MkdirAll(filepath.Dir(step.Path), 0o755); err != nil {
		res.Error = err.Error()
		res.ExitCode = 1
		return e.finish(res)
	}
	if err := afero.WriteFile(e.fs, step.Path, []byte(step.Content), 0o644); err != nil {
		res.Error = err.Error()
		res.ExitCode = 1
		return e.finish(res)
	}

	res.Success = true
	return e.finish(res)
}

func (e *Engine) createDir(index int, step Step) Result {
	res := Result{
		StepIndex:  index,
		Variant:    "primary",
		Command:    "create_dir " + step.Path,
		VerifyOnly: step.VerifyOnly,
		StartedAt:  time.Now(),
	}

	if err := e.fs.MkdirAll(step.Path, 0o755); err != nil {
		res.Error = err.Error()
		res.ExitCode = 1
		return e.finish(res)
	}

	res.Success = true
	return e.finish(res)
}

// runShellStep tries the primary command then each fallback in order. An
// identical command is never retried. The result carries the variant that
// succeeded, or the last attempted one on failure.
func (e *Engine) runShellStep(ctx context.Context, index int, step Step) Result {
	attempts := append([]string{step.Command}, step.Fallbacks...)
	tried := map[string]bool{}

	var last Result
	for v, command := range attempts {
		if command == "" || tried[command] {
			continue
		}
		tried[command] = true

		if err := ctx.Err(); err != nil {
			last.StepIndex = index
			last.Error = err.Error()
			return last
		}

		variant := variantName(v)
		if v > 0 {
			e.logger.Info("trying fallback", "step", index, "variant", variant)
		}

		last = e.attempt(ctx, index, variant, command, step)
		if last.Success {
			return last
		}
	}

	if last.Command == "" {
		last = Result{StepIndex: index, Variant: "primary", VerifyOnly: step.VerifyOnly,
			StartedAt: time.Now(), Error: "no command to run", ExitCode: 1}
	}
	return last
}

func variantName(i int) string {
	if i == 0 {
		return "primary"
	}
	return fmt.Sprintf("fallback-%d", i)
}

func (e *Engine) attempt(ctx context.Context, index int, variant, command string, step Step) Result {
	res := Result{
		StepIndex:  index,
		Variant:    variant,
		Command:    command,
		VerifyOnly: step.VerifyOnly,
		StartedAt:  time.Now(),
	}

	if denied, scope := e.denied(command, step.WorkDir); denied {
		res.Error = fmt.Sprintf("%v for %s", ErrPermissionDenied, scope)
		res.ExitCode = 1
		return e.finish(res)
	}

	runCtx, cancel := context.WithTimeout(ctx, step.EffectiveTimeout())
	defer cancel()

	cmd := exec.CommandContext(runCtx, e.shell, "-c", command)
	cmd.Dir = step.WorkDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		res.Error = err.Error()
		res.ExitCode = 1
		return e.finish(res)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		res.Error = err.Error()
		res.ExitCode = 1
		return e.finish(res)
	}

	if err := cmd.Start(); err != nil {
		res.Error = err.Error()
		res.ExitCode = 1
		return e.finish(res)
	}

	var outBuf, errBuf strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)
	go e.drain(&wg, index, "stdout", stdout, &outBuf)
	go e.drain(&wg, index, "stderr", stderr, &errBuf)
	wg.Wait()

	waitErr := cmd.Wait()

	// partial output survives timeouts and cancellation
	res.Stdout = outBuf.String()
	res.Stderr = errBuf.String()

	switch {
	case runCtx.Err() != nil:
		res.Error = fmt.Sprintf("command terminated: %v", runCtx.Err())
		res.ExitCode = -1
	case waitErr != nil:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = 1
		}
		res.Error = waitErr.Error()
	default:
		res.Success = true
	}

	return e.finish(res)
}

// denied reports whether a remembered denial blocks any scope the command
// touches. Missing records do not block; the session-level grant that
// reached this point already covers execution.
func (e *Engine) denied(command, workDir string) (bool, string) {
	if e.gate == nil {
		return false, ""
	}

	reqs, err := permission.CommandScopes(command, workDir)
	if err != nil {
		// unparseable commands still run; the shell is the arbiter
		e.logger.Debug("command parse failed", "error", err)
		return false, ""
	}

	for _, req := range reqs {
		if e.gate.Check(req.Type, req.Scope) == permission.DecisionDeny {
			return true, fmt.Sprintf("%s:%s", req.Type, req.Scope)
		}
	}
	return false, ""
}

func (e *Engine) drain(wg *sync.WaitGroup, index int, stream string, r interface{ Read([]byte) (int, error) }, buf *strings.Builder) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteString(line)
		buf.WriteByte('\n')
		if e.output != nil {
			e.output(index, stream, line)
		}
	}
}

func (e *Engine) finish(res Result) Result {
	res.Duration = time.Since(res.StartedAt)

	if e.execLog != nil {
		rec := AttemptRecord{
			SessionID: e.sessionID,
			StepIndex: res.StepIndex,
			Variant:   res.Variant,
			Command:   res.Command,
			ExitCode:  res.ExitCode,
			Success:   res.Success,
			Duration:  res.Duration,
		}
		if err := e.execLog.AppendExecution(context.Background(), rec); err != nil {
			e.logger.Warn("failed to append execution log", "error", err)
		}
	}

	e.logger.Debug("step attempt finished",
		"step", res.StepIndex,
		"variant", res.Variant,
		"success", res.Success,
		"exit_code", res.ExitCode)

	return res
}
