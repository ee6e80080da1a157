package executor

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scaffoldhq/scaffold/src/capability"
	"github.com/scaffoldhq/scaffold/src/conversation"
	"github.com/scaffoldhq/scaffold/src/engine"
	"github.com/scaffoldhq/scaffold/src/permission"
	"github.com/scaffoldhq/scaffold/src/session"
)

func handlerEnv(sess *session.Session) *Env {
	return &Env{
		Session: sess,
		Gate:    permission.NewGate(sess.Permissions),
		FS:      afero.NewMemMapFs(),
		Logger:  testLogger(),
	}
}

func fullRequirements() session.Requirements {
	return session.Requirements{
		ProjectType: "api",
		Language:    "python",
		ProjectName: "orders",
		FolderPath:  "/srv/orders",
	}
}

func TestUpdateRequirementsFirstFillDoesNotJump(t *testing.T) {
	sess := session.New(string(conversation.StateAskProjectType))
	env := handlerEnv(sess)

	result, err := updateRequirements(context.Background(), env, updateRequirementsArgs{
		ProjectType: "api",
	})
	require.NoError(t, err)
	assert.Equal(t, "requirements_updated", result.Status)
	assert.Equal(t, "api", sess.Requirements.ProjectType)
	assert.Equal(t, string(conversation.StateAskProjectType), sess.State)
}

func TestUpdateRequirementsCorrectionJumpsBack(t *testing.T) {
	sess := session.New(string(conversation.StateSummaryConfirm))
	sess.Requirements = fullRequirements()
	sess.Validated = true
	sess.Confirmed = true
	env := handlerEnv(sess)

	_, err := updateRequirements(context.Background(), env, updateRequirementsArgs{
		Language: "node",
	})
	require.NoError(t, err)

	assert.Equal(t, "node", sess.Requirements.Language)
	assert.Equal(t, string(conversation.StateAskLanguage), sess.State)
	assert.False(t, sess.Validated, "corrections invalidate validation")
	assert.False(t, sess.Confirmed)
}

func TestUpdateRequirementsJumpPicksEarliestChangedField(t *testing.T) {
	sess := session.New(string(conversation.StateSummaryConfirm))
	sess.Requirements = fullRequirements()
	env := handlerEnv(sess)

	_, err := updateRequirements(context.Background(), env, updateRequirementsArgs{
		ProjectType: "cli",
		ProjectName: "tools",
	})
	require.NoError(t, err)
	assert.Equal(t, string(conversation.StateAskProjectType), sess.State)
}

func TestRequestPermissionRememberedGrant(t *testing.T) {
	sess := session.New(string(conversation.StateInit))
	sess.Permissions = []permission.Record{
		{ID: "r1", Type: permission.TypeGlobal, Scope: "session", Granted: true, Remember: true},
	}
	env := handlerEnv(sess)

	result, err := requestPermission(context.Background(), env, requestPermissionArgs{
		PermissionType: "global",
		Scope:          "session",
	})
	require.NoError(t, err)
	assert.Equal(t, "granted", result.Status)
	assert.Nil(t, sess.PendingPermission, "remembered decisions never park a request")
}

func TestRequestPermissionParksRequest(t *testing.T) {
	sess := session.New(string(conversation.StateInit))
	env := handlerEnv(sess)

	result, err := requestPermission(context.Background(), env, requestPermissionArgs{
		PermissionType: "folder",
		Scope:          "/srv/orders",
		Reason:         "create the project directory",
	})
	require.NoError(t, err)
	assert.Equal(t, "permission_requested", result.Status)
	require.NotNil(t, sess.PendingPermission)
	assert.Equal(t, permission.TypeFolder, sess.PendingPermission.Type)
}

func TestRequestPermissionUnknownType(t *testing.T) {
	env := handlerEnv(session.New(string(conversation.StateInit)))

	result, err := requestPermission(context.Background(), env, requestPermissionArgs{
		PermissionType: "cosmic",
		Scope:          "everything",
	})
	require.NoError(t, err)
	assert.Equal(t, "invalid_arguments", result.Status)
}

func TestAskPreferenceParksQuestion(t *testing.T) {
	sess := session.New(string(conversation.StateAskLanguage))
	env := handlerEnv(sess)

	result, err := askPreference(context.Background(), env, askPreferenceArgs{
		Question: "Which language?",
		Field:    "language",
		Options:  []string{"python", "node"},
	})
	require.NoError(t, err)
	assert.Equal(t, "waiting_for_user", result.Status)
	require.NotNil(t, sess.PendingQuestion)
	assert.Equal(t, "language", sess.PendingQuestion.Field)
}

func TestAskPreferenceConflictsWithPendingPermission(t *testing.T) {
	sess := session.New(string(conversation.StateInit))
	require.NoError(t, sess.SetPendingPermission(&session.PendingPermission{
		Type: permission.TypeGlobal, Scope: "session",
	}))
	env := handlerEnv(sess)

	result, err := askPreference(context.Background(), env, askPreferenceArgs{
		Question: "Which language?",
		Field:    "language",
	})
	require.NoError(t, err)
	assert.Equal(t, "pending_conflict", result.Status)
}

func TestGeneratePlanRejectsIncompatibleSteps(t *testing.T) {
	sess := session.New(string(conversation.StatePlanning))
	sess.Requirements = fullRequirements()
	sess.Capabilities = &capability.Snapshot{
		Completed:  true,
		Runtimes:   map[string]string{},
		DetectedAt: time.Now(),
	}
	env := handlerEnv(sess)

	result, err := generatePlan(context.Background(), env, generatePlanArgs{
		Steps: []planStepArg{
			{Description: "build image", Command: "docker build ."},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "plan_rejected", result.Status)
	assert.Nil(t, sess.Plan, "rejected plans are not stored")
}

func TestGeneratePlanFromRequirements(t *testing.T) {
	sess := session.New(string(conversation.StatePlanning))
	sess.Requirements = fullRequirements()
	sess.Capabilities = &capability.Snapshot{
		Completed:    true,
		Runtimes:     map[string]string{"python": "3.12.0"},
		GitInstalled: true,
		DetectedAt:   time.Now(),
	}
	env := handlerEnv(sess)

	result, err := generatePlan(context.Background(), env, generatePlanArgs{})
	require.NoError(t, err)
	assert.Equal(t, "plan_generated", result.Status)
	require.NotNil(t, sess.Plan)
	assert.NotEmpty(t, sess.Plan.Steps)
}

func TestRunVerificationReportsRecordedResults(t *testing.T) {
	sess := session.New(string(conversation.StateVerifying))
	sess.Plan = &engine.Plan{Steps: []engine.Step{
		{Description: "scaffold", Kind: engine.KindShell, Command: "echo scaffold"},
		{Description: "check layout", Kind: engine.KindShell, Command: "true", VerifyOnly: true},
	}}
	sess.Results = []engine.Result{
		{StepIndex: 0, Success: true},
		{StepIndex: 1, Success: true, VerifyOnly: true},
	}
	env := handlerEnv(sess)

	result, err := runVerification(context.Background(), env, verifyArgs{})
	require.NoError(t, err)
	assert.Equal(t, "verification_complete", result.Status)
	assert.Equal(t, 1, result.Data["passed"])
	assert.Equal(t, 0, result.Data["failed"])

	assert.Len(t, sess.Results, 2, "one result per attempted step, nothing re-run")
	assert.True(t, sess.VerificationCompleted)
}

func TestRunVerificationRunsStepsWhenNoneRecorded(t *testing.T) {
	sess := session.New(string(conversation.StateVerifying))
	sess.Plan = &engine.Plan{Steps: []engine.Step{
		{Description: "check shell", Kind: engine.KindShell, Command: "true", VerifyOnly: true},
	}}
	env := handlerEnv(sess)

	result, err := runVerification(context.Background(), env, verifyArgs{})
	require.NoError(t, err)
	assert.Equal(t, "verification_complete", result.Status)
	assert.Equal(t, 1, result.Data["passed"])

	require.Len(t, sess.Results, 1)
	assert.True(t, sess.Results[0].VerifyOnly)
	assert.True(t, sess.VerificationCompleted)
}

func TestExecutePlanRequiresPlan(t *testing.T) {
	sess := session.New(string(conversation.StateExecuting))
	env := handlerEnv(sess)

	result, err := executePlan(context.Background(), env, executeArgs{})
	require.NoError(t, err)
	assert.Equal(t, "no_plan", result.Status)
}

func TestConfirmCreation(t *testing.T) {
	sess := session.New(string(conversation.StateSummaryConfirm))
	env := handlerEnv(sess)

	result, err := confirmCreation(context.Background(), env, confirmCreationArgs{Confirmed: true})
	require.NoError(t, err)
	assert.Equal(t, "confirmed", result.Status)
	assert.True(t, sess.Confirmed)

	result, err = confirmCreation(context.Background(), env, confirmCreationArgs{Confirmed: false})
	require.NoError(t, err)
	assert.Equal(t, "changes_requested", result.Status)
	assert.False(t, sess.Confirmed)
}

func TestValidateRequirementsReportsIssues(t *testing.T) {
	sess := session.New(string(conversation.StateValidate))
	sess.Requirements = fullRequirements()
	// no capability snapshot at all
	env := handlerEnv(sess)

	result, err := validateRequirements(context.Background(), env, validateRequirementsArgs{})
	require.NoError(t, err)
	assert.Equal(t, "validation_issues", result.Status)
	assert.False(t, sess.Validated)
}
