package report

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scaffoldhq/scaffold/src/engine"
	"github.com/scaffoldhq/scaffold/src/session"
)

func executedSession() *session.Session {
	sess := session.New("VERIFYING")
	sess.Requirements = session.Requirements{
		ProjectType: "api",
		Language:    "python",
		Framework:   "fastapi",
		ProjectName: "orders",
		FolderPath:  "/srv/orders",
		Testing:     true,
	}
	sess.Plan = &engine.Plan{Steps: []engine.Step{
		{Description: "Create project directory"},
		{Description: "Install dependencies"},
		{Description: "Verify entrypoint parses", VerifyOnly: true},
	}}
	sess.Results = []engine.Result{
		{StepIndex: 0, Variant: "primary", Success: true, Duration: 100 * time.Millisecond},
		{StepIndex: 1, Variant: "fallback-1", Success: true, Duration: 2 * time.Second},
		{StepIndex: 2, Variant: "primary", Success: false, VerifyOnly: true, Command: "py_compile"},
	}
	return sess
}

func TestGenerateSummary(t *testing.T) {
	rep := Generate(executedSession())

	assert.Contains(t, rep.Summary, "orders")
	assert.Contains(t, rep.Summary, "Install dependencies: ok (via fallback-1)")
	assert.Contains(t, rep.Summary, "FAILED")
	assert.Contains(t, rep.Summary, "2 succeeded, 1 failed, 1 via fallback")
}

func TestGenerateSummaryNoExecution(t *testing.T) {
	sess := session.New("PLANNING")
	sess.Requirements.ProjectName = "empty"

	rep := Generate(sess)
	assert.Contains(t, rep.Summary, "No steps were executed")
}

func TestReadmeContent(t *testing.T) {
	rep := Generate(executedSession())

	assert.Contains(t, rep.Readme, "# orders")
	assert.Contains(t, rep.Readme, "built with fastapi")
	assert.Contains(t, rep.Readme, "python main.py")
	assert.Contains(t, rep.Readme, "pytest")
}

func TestWriteReadme(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/srv/orders", 0o755))

	rep := Generate(executedSession())
	require.NoError(t, rep.WriteReadme(fs, "/srv/orders"))

	assert.Equal(t, "/srv/orders/README.md", rep.ReadmePath)
	data, err := afero.ReadFile(fs, "/srv/orders/README.md")
	require.NoError(t, err)
	assert.Contains(t, string(data), "# orders")
}

func TestVerificationSummary(t *testing.T) {
	out := VerificationSummary(executedSession())
	assert.Contains(t, out, "Verify entrypoint parses: failed")

	empty := session.New("EXECUTING")
	assert.Contains(t, VerificationSummary(empty), "No verification steps")
}
