package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scaffoldhq/scaffold/src/capability"
	"github.com/scaffoldhq/scaffold/src/engine"
	"github.com/scaffoldhq/scaffold/src/permission"
	"github.com/scaffoldhq/scaffold/src/session"
)

func grantedSession() *session.Session {
	sess := session.New(string(StateInit))
	sess.Permissions = append(sess.Permissions, permission.Record{
		Type: permission.TypeGlobal, Scope: "session", Granted: true,
	})
	return sess
}

func TestInitBlockedWithoutGlobalGrant(t *testing.T) {
	sess := session.New(string(StateInit))

	_, ok := Advance(sess)
	assert.False(t, ok)
	assert.Equal(t, string(StateInit), sess.State)
}

func TestInterviewProgression(t *testing.T) {
	sess := grantedSession()

	effects, ok := Advance(sess)
	require.True(t, ok)
	assert.Empty(t, effects)
	assert.Equal(t, string(StateAskProjectType), sess.State)
	assert.Equal(t, 10, sess.Progress)

	// no project type yet, stays put
	_, ok = Advance(sess)
	assert.False(t, ok)

	sess.Requirements.ProjectType = "web"
	_, ok = Advance(sess)
	require.True(t, ok)
	assert.Equal(t, string(StateAskLanguage), sess.State)

	sess.Requirements.Language = "python"
	_, ok = Advance(sess)
	require.True(t, ok)
	assert.Equal(t, string(StateAskNameFolder), sess.State)

	sess.Requirements.ProjectName = "blog"
	sess.Requirements.FolderPath = "/tmp/blog"
	_, ok = Advance(sess)
	require.True(t, ok)
	assert.Equal(t, string(StateAskDetails), sess.State)

	sess.DetailsCollected = true
	effects, ok = Advance(sess)
	require.True(t, ok)
	assert.Equal(t, string(StateCheckCaps), sess.State)
	assert.Equal(t, []Effect{EffectDetectCapabilities}, effects)
}

func TestPipelineProgression(t *testing.T) {
	sess := grantedSession()
	sess.State = string(StateCheckCaps)

	// detection not done yet
	_, ok := Advance(sess)
	assert.False(t, ok)

	sess.Capabilities = &capability.Snapshot{Completed: true}
	effects, ok := Advance(sess)
	require.True(t, ok)
	assert.Equal(t, string(StateValidate), sess.State)
	assert.Equal(t, []Effect{EffectValidateRequirements}, effects)

	sess.Validated = true
	_, ok = Advance(sess)
	require.True(t, ok)
	assert.Equal(t, string(StateSummaryConfirm), sess.State)

	sess.Confirmed = true
	effects, ok = Advance(sess)
	require.True(t, ok)
	assert.Equal(t, string(StatePlanning), sess.State)
	assert.Equal(t, []Effect{EffectGeneratePlan}, effects)

	sess.Plan = &engine.Plan{Steps: []engine.Step{{Description: "mkdir", Kind: engine.KindCreateDir, Path: "/tmp/blog"}}}
	effects, ok = Advance(sess)
	require.True(t, ok)
	assert.Equal(t, string(StateExecuting), sess.State)
	assert.Equal(t, []Effect{EffectExecutePlan}, effects)

	sess.ExecutionCompleted = true
	effects, ok = Advance(sess)
	require.True(t, ok)
	assert.Equal(t, string(StateVerifying), sess.State)
	assert.Equal(t, []Effect{EffectRunVerification}, effects)

	sess.VerificationCompleted = true
	effects, ok = Advance(sess)
	require.True(t, ok)
	assert.Equal(t, string(StateCompleted), sess.State)
	assert.Equal(t, 100, sess.Progress)
	assert.Equal(t, []Effect{EffectGenerateReport}, effects)
}

func TestPendingInputBlocksAdvancement(t *testing.T) {
	sess := grantedSession()
	sess.State = string(StateAskProjectType)
	sess.Requirements.ProjectType = "web"

	require.NoError(t, sess.SetPendingQuestion(&session.PendingQuestion{
		Question: "which framework?", Field: "framework",
	}))

	_, ok := Advance(sess)
	assert.False(t, ok)

	sess.ClearPending()
	_, ok = Advance(sess)
	assert.True(t, ok)
}

func TestTerminalStatesAbsorb(t *testing.T) {
	sess := grantedSession()
	sess.State = string(StateCompleted)

	_, ok := Advance(sess)
	assert.False(t, ok)

	Fail(sess, "should not apply")
	assert.Equal(t, string(StateCompleted), sess.State)
	assert.Empty(t, sess.LastError)
}

func TestFailFromAnyActiveState(t *testing.T) {
	sess := grantedSession()
	sess.State = string(StateExecuting)

	Fail(sess, "step 2 exhausted fallbacks")

	assert.Equal(t, string(StateFailed), sess.State)
	assert.Equal(t, "step 2 exhausted fallbacks", sess.LastError)

	_, ok := Advance(sess)
	assert.False(t, ok)
}

func TestCorrectionJumps(t *testing.T) {
	tests := []struct {
		name string
		from State
		to   State
		want bool
	}{
		{"back to language from summary", StateSummaryConfirm, StateAskLanguage, true},
		{"back to project type from details", StateAskDetails, StateAskProjectType, true},
		{"forward jump rejected", StateAskProjectType, StateAskDetails, false},
		{"jump into non-interview state rejected", StateSummaryConfirm, StatePlanning, false},
		{"jump out of terminal rejected", StateCompleted, StateAskProjectType, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanJump(tt.from, tt.to))
		})
	}
}

func TestJumpMutatesSession(t *testing.T) {
	sess := grantedSession()
	sess.State = string(StateSummaryConfirm)

	require.True(t, Jump(sess, StateAskLanguage))
	assert.Equal(t, string(StateAskLanguage), sess.State)
	assert.Equal(t, 20, sess.Progress)
}

func TestNextIsPure(t *testing.T) {
	sess := grantedSession()

	state, _, ok := Next(sess)
	require.True(t, ok)
	assert.Equal(t, StateAskProjectType, state)
	// Next must not have touched the session
	assert.Equal(t, string(StateInit), sess.State)
	assert.Equal(t, 0, sess.Progress)
}
