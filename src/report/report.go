// Package report renders the post-execution artifacts: a run summary for
// the user and a README for the scaffolded project.
package report

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/scaffoldhq/scaffold/src/session"
)

// Report is the generated output of a completed run.
type Report struct {
	Summary    string `json:"summary"`
	Readme     string `json:"readme"`
	ReadmePath string `json:"readme_path,omitempty"`
}

// Generate builds the report from the session's plan and results.
func Generate(sess *session.Session) *Report {
	return &Report{
		Summary: buildSummary(sess),
		Readme:  buildReadme(sess.Requirements),
	}
}

// WriteReadme writes the README into the project folder and records the
// path on the report.
func (r *Report) WriteReadme(fs afero.Fs, folder string) error {
	path := filepath.Join(folder, "README.md")
	if err := afero.WriteFile(fs, path, []byte(r.Readme), 0o644); err != nil {
		return fmt.Errorf("failed to write README: %w", err)
	}
	r.ReadmePath = path
	return nil
}

func buildSummary(sess *session.Session) string {
	var b strings.Builder

	req := sess.Requirements
	fmt.Fprintf(&b, "# Execution summary: %s\n\n", req.ProjectName)
	fmt.Fprintf(&b, "- Type: %s\n- Language: %s\n", req.ProjectType, req.Language)
	if req.Framework != "" {
		fmt.Fprintf(&b, "- Framework: %s\n", req.Framework)
	}
	fmt.Fprintf(&b, "- Location: %s\n\n", req.FolderPath)

	if sess.Plan == nil || len(sess.Results) == 0 {
		b.WriteString("No steps were executed.\n")
		return b.String()
	}

	var ok, failed, fallbacks int
	var total time.Duration
	b.WriteString("## Steps\n\n")

	for _, res := range sess.Results {
		desc := ""
		if res.StepIndex < len(sess.Plan.Steps) {
			desc = sess.Plan.Steps[res.StepIndex].Description
		}

		status := "ok"
		if !res.Success {
			status = "FAILED"
			failed++
		} else {
			ok++
		}
		if strings.HasPrefix(res.Variant, "fallback") {
			fallbacks++
			status += fmt.Sprintf(" (via %s)", res.Variant)
		}
		if res.VerifyOnly {
			status += " [verify]"
		}

		fmt.Fprintf(&b, "%d. %s: %s (%.1fs)\n", res.StepIndex+1, desc, status, res.Duration.Seconds())
		total += res.Duration
	}

	fmt.Fprintf(&b, "\n%d succeeded, %d failed, %d via fallback. Total %.1fs.\n", ok, failed, fallbacks, total.Seconds())

	if sess.LastError != "" {
		fmt.Fprintf(&b, "\nLast error: %s\n", sess.LastError)
	}

	return b.String()
}

// VerificationSummary reports only the verification step outcomes.
func VerificationSummary(sess *session.Session) string {
	var b strings.Builder
	b.WriteString("## Verification\n\n")

	any := false
	for _, res := range sess.Results {
		if !res.VerifyOnly {
			continue
		}
		any = true
		status := "passed"
		if !res.Success {
			status = "failed"
		}
		desc := res.Command
		if sess.Plan != nil && res.StepIndex < len(sess.Plan.Steps) {
			desc = sess.Plan.Steps[res.StepIndex].Description
		}
		fmt.Fprintf(&b, "- %s: %s\n", desc, status)
	}

	if !any {
		b.WriteString("No verification steps were run.\n")
	}
	return b.String()
}

func buildReadme(req session.Requirements) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", req.ProjectName)
	fmt.Fprintf(&b, "A %s project", req.ProjectType)
	if req.Framework != "" {
		fmt.Fprintf(&b, " built with %s", req.Framework)
	}
	b.WriteString(".\n\n## Getting started\n\n```\n")

	switch strings.ToLower(req.Language) {
	case "python":
		b.WriteString("source .venv/bin/activate\npython main.py\n")
	case "javascript", "typescript", "node":
		b.WriteString("npm install\nnode index.js\n")
	case "go", "golang":
		b.WriteString("go run .\n")
	default:
		b.WriteString("# see project files\n")
	}
	b.WriteString("```\n")

	if req.Testing {
		b.WriteString("\n## Tests\n\n```\n")
		switch strings.ToLower(req.Language) {
		case "python":
			b.WriteString(".venv/bin/pytest\n")
		case "javascript", "typescript", "node":
			b.WriteString("npm test\n")
		case "go", "golang":
			b.WriteString("go test ./...\n")
		default:
			b.WriteString("# add a test runner\n")
		}
		b.WriteString("```\n")
	}

	if len(req.AdditionalFeatures) > 0 {
		b.WriteString("\n## Planned features\n\n")
		for _, f := range req.AdditionalFeatures {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}

	return b.String()
}
