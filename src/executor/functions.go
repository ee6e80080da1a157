package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/scaffoldhq/scaffold/src/conversation"
	"github.com/scaffoldhq/scaffold/src/engine"
	"github.com/scaffoldhq/scaffold/src/permission"
	"github.com/scaffoldhq/scaffold/src/planner"
	"github.com/scaffoldhq/scaffold/src/report"
	"github.com/scaffoldhq/scaffold/src/session"
)

// Argument structs for the registry. Field tags drive both decoding and
// the schema the model sees.

type updateRequirementsArgs struct {
	ProjectType        string   `json:"project_type,omitempty" jsonschema:"description=Kind of project: web api cli library"`
	Language           string   `json:"language,omitempty" jsonschema:"description=Primary implementation language"`
	Framework          string   `json:"framework,omitempty" jsonschema:"description=Framework within the chosen language"`
	ProjectName        string   `json:"project_name,omitempty" jsonschema:"description=Human name of the project"`
	FolderPath         string   `json:"folder_path,omitempty" jsonschema:"description=Absolute path where the project is created"`
	Database           string   `json:"database,omitempty" jsonschema:"description=Database engine if any"`
	Authentication     *bool    `json:"authentication,omitempty" jsonschema:"description=Whether auth scaffolding is wanted"`
	Testing            *bool    `json:"testing,omitempty" jsonschema:"description=Whether a test setup is wanted"`
	Docker             *bool    `json:"docker,omitempty" jsonschema:"description=Whether docker files are wanted"`
	AdditionalFeatures []string `json:"additional_features,omitempty" jsonschema:"description=Free-form extra features"`
	DetailsComplete    *bool    `json:"details_complete,omitempty" jsonschema:"description=Set when the user has no further details to add"`
}

type askPreferenceArgs struct {
	Question string   `json:"question" jsonschema:"required,description=Question to show the user"`
	Field    string   `json:"field" jsonschema:"required,description=Requirement field the answer fills"`
	Options  []string `json:"options,omitempty" jsonschema:"description=Closed choice set when applicable"`
}

type requestPermissionArgs struct {
	PermissionType string `json:"permission_type" jsonschema:"required,description=One of global folder command file"`
	Scope          string `json:"scope" jsonschema:"required,description=What the permission covers"`
	Reason         string `json:"reason,omitempty" jsonschema:"description=Why the permission is needed"`
}

type detectCapabilitiesArgs struct {
	ForceRefresh bool `json:"force_refresh,omitempty" jsonschema:"description=Re-probe even when a fresh snapshot exists"`
}

type validateRequirementsArgs struct{}

type confirmCreationArgs struct {
	Confirmed bool `json:"confirmed" jsonschema:"required,description=True when the user approved the summary"`
}

type planStepArg struct {
	Description string   `json:"description" jsonschema:"required,description=What the step does"`
	Command     string   `json:"command" jsonschema:"required,description=Shell command to run"`
	Fallbacks   []string `json:"fallback_commands,omitempty" jsonschema:"description=Alternatives tried in order when the command fails"`
	VerifyOnly  bool     `json:"verify_only,omitempty" jsonschema:"description=Step checks the outcome instead of producing it"`
	TimeoutSecs int      `json:"timeout_seconds,omitempty" jsonschema:"description=Per-attempt timeout"`
}

type generatePlanArgs struct {
	Steps []planStepArg `json:"steps,omitempty" jsonschema:"description=Explicit steps; omitted to plan from requirements"`
}

type executeArgs struct{}

type verifyArgs struct{}

type reportArgs struct{}

// DefaultRegistry builds the closed function set.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	register := func(fn *Function) {
		if err := r.Register(fn); err != nil {
			panic(err)
		}
	}

	register(&Function{
		Name:        "update_project_requirements",
		Description: "Record or correct collected project requirements.",
		Effect:      permission.EffectNone,
		Parameters:  mustSchema(updateRequirementsArgs{}),
		Handler:     typedHandler(updateRequirements),
	})
	register(&Function{
		Name:        "ask_user_preference",
		Description: "Ask the user a question, optionally with a closed choice set. Pauses the conversation until answered.",
		Effect:      permission.EffectNone,
		Parameters:  mustSchema(askPreferenceArgs{}),
		Handler:     typedHandler(askPreference),
	})
	register(&Function{
		Name:        "request_permission",
		Description: "Request user permission for an action. Remembered decisions resolve immediately.",
		Effect:      permission.EffectNone,
		Parameters:  mustSchema(requestPermissionArgs{}),
		Handler:     typedHandler(requestPermission),
	})
	register(&Function{
		Name:        "detect_system_capabilities",
		Description: "Probe the host for runtimes, tools, and package managers.",
		Effect:      permission.EffectProcess,
		Parameters:  mustSchema(detectCapabilitiesArgs{}),
		Handler:     typedHandler(detectCapabilities),
	})
	register(&Function{
		Name:        "validate_requirements",
		Description: "Check the collected requirements against detected capabilities.",
		Effect:      permission.EffectNone,
		Parameters:  mustSchema(validateRequirementsArgs{}),
		Handler:     typedHandler(validateRequirements),
	})
	register(&Function{
		Name:        "confirm_project_creation",
		Description: "Record the user's confirmation or rejection of the project summary.",
		Effect:      permission.EffectNone,
		Parameters:  mustSchema(confirmCreationArgs{}),
		Handler:     typedHandler(confirmCreation),
	})
	register(&Function{
		Name:        "generate_execution_plan",
		Description: "Build the ordered execution plan, either from requirements or from explicit steps.",
		Effect:      permission.EffectNone,
		Parameters:  mustSchema(generatePlanArgs{}),
		Handler:     typedHandler(generatePlan),
	})
	register(&Function{
		Name:        "execute_project_creation",
		Description: "Run the execution plan step by step.",
		Effect:      permission.EffectFilesystem,
		Parameters:  mustSchema(executeArgs{}),
		Handler:     typedHandler(executePlan),
	})
	register(&Function{
		Name:        "run_verification_tests",
		Description: "Run the plan's verification steps and report their outcomes.",
		Effect:      permission.EffectFilesystem,
		Parameters:  mustSchema(verifyArgs{}),
		Handler:     typedHandler(runVerification),
	})
	register(&Function{
		Name:        "generate_project_report",
		Description: "Produce the execution summary and project README.",
		Effect:      permission.EffectFilesystem,
		Parameters:  mustSchema(reportArgs{}),
		Handler:     typedHandler(generateReport),
	})

	return r
}

func updateRequirements(_ context.Context, env *Env, args updateRequirementsArgs) (*Result, error) {
	req := &env.Session.Requirements

	// revising an already-answered core field is a correction: the machine
	// jumps back to the interview state that collects it
	var jumpTo conversation.State
	correction := func(old, new string, state conversation.State) {
		if old != "" && new != "" && old != new {
			if jumpTo == "" || conversation.Progress(state) < conversation.Progress(jumpTo) {
				jumpTo = state
			}
		}
	}
	correction(req.ProjectType, args.ProjectType, conversation.StateAskProjectType)
	correction(req.Language, args.Language, conversation.StateAskLanguage)
	correction(req.ProjectName, args.ProjectName, conversation.StateAskNameFolder)
	correction(req.FolderPath, args.FolderPath, conversation.StateAskNameFolder)

	if args.ProjectType != "" {
		req.ProjectType = args.ProjectType
	}
	if args.Language != "" {
		req.Language = args.Language
	}
	if args.Framework != "" {
		req.Framework = args.Framework
	}
	if args.ProjectName != "" {
		req.ProjectName = args.ProjectName
	}
	if args.FolderPath != "" {
		req.FolderPath = args.FolderPath
	}
	if args.Database != "" {
		req.Database = args.Database
	}
	if args.Authentication != nil {
		req.Authentication = *args.Authentication
	}
	if args.Testing != nil {
		req.Testing = *args.Testing
	}
	if args.Docker != nil {
		req.Docker = *args.Docker
	}
	if len(args.AdditionalFeatures) > 0 {
		req.AdditionalFeatures = append(req.AdditionalFeatures, args.AdditionalFeatures...)
	}
	if args.DetailsComplete != nil {
		env.Session.DetailsCollected = *args.DetailsComplete
	}

	// requirement edits invalidate downstream confirmation
	env.Session.Validated = false
	env.Session.Confirmed = false
	env.Session.Touch()

	if jumpTo != "" {
		conversation.Jump(env.Session, jumpTo)
	}

	return &Result{Status: "requirements_updated", Data: map[string]any{
		"completion": req.Completion(),
	}}, nil
}

func askPreference(_ context.Context, env *Env, args askPreferenceArgs) (*Result, error) {
	if args.Question == "" || args.Field == "" {
		return Failure("invalid_arguments", "question and field are required"), nil
	}

	if err := env.Session.SetPendingQuestion(&session.PendingQuestion{
		Question: args.Question,
		Field:    args.Field,
		Options:  args.Options,
	}); err != nil {
		return Failure("pending_conflict", err.Error()), nil
	}

	return &Result{Status: "waiting_for_user", Data: map[string]any{
		"question": args.Question,
		"options":  args.Options,
	}}, nil
}

func requestPermission(_ context.Context, env *Env, args requestPermissionArgs) (*Result, error) {
	typ := permission.Type(args.PermissionType)
	switch typ {
	case permission.TypeGlobal, permission.TypeFolder, permission.TypeCommand, permission.TypeFile:
	default:
		return Failure("invalid_arguments", fmt.Sprintf("unknown permission type %q", args.PermissionType)), nil
	}

	switch env.Gate.Check(typ, args.Scope) {
	case permission.DecisionAllow:
		return &Result{Status: "granted", Data: map[string]any{
			"type": string(typ), "scope": args.Scope, "remembered": true,
		}}, nil
	case permission.DecisionDeny:
		return &Result{Status: "denied", Data: map[string]any{
			"type": string(typ), "scope": args.Scope, "remembered": true,
		}}, nil
	}

	if err := env.Session.SetPendingPermission(&session.PendingPermission{
		Type:   typ,
		Scope:  args.Scope,
		Reason: args.Reason,
	}); err != nil {
		return Failure("pending_conflict", err.Error()), nil
	}

	return &Result{Status: "permission_requested", Data: map[string]any{
		"type": string(typ), "scope": args.Scope, "reason": args.Reason,
	}}, nil
}

func detectCapabilities(ctx context.Context, env *Env, args detectCapabilitiesArgs) (*Result, error) {
	snap, err := env.Caps.Detect(ctx, args.ForceRefresh)
	if err != nil {
		return Failure("detection_failed", err.Error()), nil
	}

	env.Session.Capabilities = snap
	env.Session.Touch()

	return &Result{Status: "capabilities_detected", Data: map[string]any{
		"os":               snap.OS,
		"runtimes":         snap.Runtimes,
		"git":              snap.GitInstalled,
		"docker":           snap.DockerInstalled,
		"package_managers": snap.PackageManagers,
	}}, nil
}

func validateRequirements(_ context.Context, env *Env, _ validateRequirementsArgs) (*Result, error) {
	issues := planner.ValidateRequirements(env.Session.Requirements, env.Session.Capabilities)
	if len(issues) > 0 {
		data := map[string]any{"issues": issues}
		return &Result{Status: "validation_issues", Data: data}, nil
	}

	env.Session.Validated = true
	env.Session.Touch()
	return &Result{Status: "validation_complete"}, nil
}

func confirmCreation(_ context.Context, env *Env, args confirmCreationArgs) (*Result, error) {
	env.Session.Confirmed = args.Confirmed
	env.Session.Touch()

	if !args.Confirmed {
		return &Result{Status: "changes_requested"}, nil
	}
	return &Result{Status: "confirmed"}, nil
}

func generatePlan(_ context.Context, env *Env, args generatePlanArgs) (*Result, error) {
	sess := env.Session

	var plan *engine.Plan
	if len(args.Steps) > 0 {
		plan = &engine.Plan{CreatedAt: time.Now()}
		for _, s := range args.Steps {
			step := engine.Step{
				Description: s.Description,
				Kind:        engine.KindShell,
				Command:     s.Command,
				Fallbacks:   s.Fallbacks,
				WorkDir:     sess.Requirements.FolderPath,
				VerifyOnly:  s.VerifyOnly,
			}
			if s.TimeoutSecs > 0 {
				step.Timeout = time.Duration(s.TimeoutSecs) * time.Second
			}
			plan.Steps = append(plan.Steps, step)
		}
	} else {
		built, err := planner.BuildPlan(sess.Requirements, sess.Capabilities)
		if err != nil {
			return Failure("planning_failed", err.Error()), nil
		}
		plan = built
	}

	if issues := planner.CheckCompatibility(plan, sess.Capabilities); len(issues) > 0 {
		return &Result{Status: "plan_rejected", Data: map[string]any{"issues": issues}}, nil
	}

	sess.Plan = plan
	sess.Touch()

	return &Result{Status: "plan_generated", Data: map[string]any{
		"step_count": len(plan.Steps),
	}}, nil
}

func executePlan(ctx context.Context, env *Env, _ executeArgs) (*Result, error) {
	sess := env.Session
	if sess.Plan == nil || len(sess.Plan.Steps) == 0 {
		return Failure("no_plan", "no execution plan has been generated"), nil
	}

	eng := engine.New(engine.Options{
		SessionID: sess.ID,
		FS:        env.FS,
		Logger:    env.Logger,
		ExecLog:   execLogger(env),
		Output:    env.Output,
		Gate:      env.Gate,
	})

	results, err := eng.ExecutePlan(ctx, sess.Plan)
	sess.Results = results
	sess.Touch()

	if err != nil {
		sess.LastError = err.Error()
		return &Result{Status: "execution_failed", Error: err.Error(), Data: map[string]any{
			"completed_steps": len(results),
		}}, nil
	}

	sess.ExecutionCompleted = true
	return &Result{Status: "execution_completed", Data: map[string]any{
		"completed_steps": len(results),
	}}, nil
}

func runVerification(ctx context.Context, env *Env, _ verifyArgs) (*Result, error) {
	sess := env.Session
	if sess.Plan == nil {
		return Failure("no_plan", "no execution plan has been generated"), nil
	}

	// plan execution already ran the verification steps and recorded their
	// outcomes; running them again would append duplicate result rows
	var verified []engine.Result
	for _, r := range sess.Results {
		if r.VerifyOnly {
			verified = append(verified, r)
		}
	}

	if len(verified) == 0 && len(sess.Plan.VerifySteps()) > 0 {
		eng := engine.New(engine.Options{
			SessionID: sess.ID,
			FS:        env.FS,
			Logger:    env.Logger,
			ExecLog:   execLogger(env),
			Output:    env.Output,
			Gate:      env.Gate,
		})

		fresh, err := eng.RunVerification(ctx, sess.Plan)
		if err != nil {
			return Failure("verification_failed", err.Error()), nil
		}
		sess.Results = append(sess.Results, fresh...)
		verified = fresh
	}

	sess.VerificationCompleted = true
	sess.Touch()

	passed, failed := 0, 0
	for _, r := range verified {
		if r.Success {
			passed++
		} else {
			failed++
		}
	}

	return &Result{Status: "verification_complete", Data: map[string]any{
		"passed": passed,
		"failed": failed,
	}}, nil
}

func generateReport(_ context.Context, env *Env, _ reportArgs) (*Result, error) {
	sess := env.Session

	rep := report.Generate(sess)
	if folder := sess.Requirements.FolderPath; folder != "" {
		if err := rep.WriteReadme(env.FS, folder); err != nil {
			env.Logger.Warn("failed to write README", "error", err)
		}
	}

	return &Result{Status: "report_generated", Data: map[string]any{
		"summary":      rep.Summary,
		"verification": report.VerificationSummary(sess),
		"readme_path":  rep.ReadmePath,
	}}, nil
}

// execLogger avoids handing the engine a typed-nil interface when no
// database is attached.
func execLogger(env *Env) engine.ExecutionLogger {
	if env.Store == nil {
		return nil
	}
	return env.Store
}
