// Package planner builds execution plans from collected requirements and
// the host capability snapshot, and checks plans against the snapshot
// before they run.
package planner

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/scaffoldhq/scaffold/src/capability"
	"github.com/scaffoldhq/scaffold/src/engine"
	"github.com/scaffoldhq/scaffold/src/session"
)

// Issue is one validation or compatibility finding.
type Issue struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ValidateRequirements checks the collected requirements against what the
// host can actually run.
func ValidateRequirements(req session.Requirements, snap *capability.Snapshot) []Issue {
	var issues []Issue

	if !req.CoreComplete() {
		issues = append(issues, Issue{Message: "project type, language, name and folder are all required"})
	}

	if snap == nil || !snap.Completed {
		issues = append(issues, Issue{Message: "system capabilities have not been detected"})
		return issues
	}

	switch strings.ToLower(req.Language) {
	case "python":
		if !snap.HasRuntime("python") {
			issues = append(issues, Issue{Field: "language", Message: "python3 is not installed"})
		}
	case "javascript", "typescript", "node":
		if !snap.HasRuntime("node") {
			issues = append(issues, Issue{Field: "language", Message: "node is not installed"})
		}
	case "go", "golang":
		if !snap.HasRuntime("go") {
			issues = append(issues, Issue{Field: "language", Message: "the go toolchain is not installed"})
		}
	case "":
	default:
		if !snap.HasRuntime(strings.ToLower(req.Language)) {
			issues = append(issues, Issue{Field: "language", Message: fmt.Sprintf("no runtime found for %s", req.Language)})
		}
	}

	if req.Docker && !snap.DockerInstalled {
		issues = append(issues, Issue{Field: "docker", Message: "docker requested but not installed"})
	}

	if req.FolderPath != "" && !filepath.IsAbs(req.FolderPath) {
		issues = append(issues, Issue{Field: "folder_path", Message: "folder path must be absolute"})
	}

	return issues
}

// BuildPlan turns requirements into an ordered plan. The snapshot picks the
// package manager and supplies fallbacks.
func BuildPlan(req session.Requirements, snap *capability.Snapshot) (*engine.Plan, error) {
	if !req.CoreComplete() {
		return nil, fmt.Errorf("requirements incomplete: %+v", req)
	}

	root := req.FolderPath
	plan := &engine.Plan{CreatedAt: time.Now()}

	plan.Steps = append(plan.Steps, engine.Step{
		Description: "Create project directory",
		Kind:        engine.KindCreateDir,
		Path:        root,
	})

	plan.Steps = append(plan.Steps, languageSteps(req, snap, root)...)

	plan.Steps = append(plan.Steps, engine.Step{
		Description: "Write README",
		Kind:        engine.KindCreateFile,
		Path:        filepath.Join(root, "README.md"),
		Content:     fmt.Sprintf("# %s\n\nA %s %s project.\n", req.ProjectName, req.Language, req.ProjectType),
	})
	plan.Steps = append(plan.Steps, engine.Step{
		Description: "Write .gitignore",
		Kind:        engine.KindCreateFile,
		Path:        filepath.Join(root, ".gitignore"),
		Content:     gitignoreFor(req.Language),
	})

	if snap != nil && snap.GitInstalled {
		plan.Steps = append(plan.Steps, engine.Step{
			Description: "Initialize git repository",
			Kind:        engine.KindShell,
			Command:     "git init",
			WorkDir:     root,
		})
	}

	if req.Docker {
		plan.Steps = append(plan.Steps, engine.Step{
			Description: "Write Dockerfile",
			Kind:        engine.KindCreateFile,
			Path:        filepath.Join(root, "Dockerfile"),
			Content:     dockerfileFor(req.Language),
		})
	}

	plan.Steps = append(plan.Steps, verificationSteps(req, root)...)

	return plan, nil
}

func languageSteps(req session.Requirements, snap *capability.Snapshot, root string) []engine.Step {
	var steps []engine.Step

	switch strings.ToLower(req.Language) {
	case "python":
		steps = append(steps, engine.Step{
			Description: "Create virtual environment",
			Kind:        engine.KindShell,
			Command:     "python3 -m venv .venv",
			Fallbacks:   []string{"python -m venv .venv"},
			WorkDir:     root,
			Timeout:     60 * time.Second,
		})
		steps = append(steps, engine.Step{
			Description: "Write requirements file",
			Kind:        engine.KindCreateFile,
			Path:        filepath.Join(root, "requirements.txt"),
			Content:     pythonRequirements(req),
		})
		steps = append(steps, engine.Step{
			Description: "Install dependencies",
			Kind:        engine.KindShell,
			Command:     ".venv/bin/pip install -r requirements.txt",
			Fallbacks:   []string{"python3 -m pip install -r requirements.txt"},
			WorkDir:     root,
			Timeout:     5 * time.Minute,
		})
		steps = append(steps, engine.Step{
			Description: "Create application entrypoint",
			Kind:        engine.KindCreateFile,
			Path:        filepath.Join(root, "main.py"),
			Content:     pythonMain(req),
		})

	case "javascript", "typescript", "node":
		init := engine.Step{
			Description: "Initialize package",
			Kind:        engine.KindShell,
			Command:     "npm init -y",
			WorkDir:     root,
			Timeout:     60 * time.Second,
		}
		if snap.HasPackageManager("yarn") {
			init.Fallbacks = []string{"yarn init -y"}
		}
		steps = append(steps, init)

		if req.Framework != "" {
			steps = append(steps, engine.Step{
				Description: fmt.Sprintf("Install %s", req.Framework),
				Kind:        engine.KindShell,
				Command:     fmt.Sprintf("npm install %s", req.Framework),
				WorkDir:     root,
				Timeout:     5 * time.Minute,
			})
		}
		steps = append(steps, engine.Step{
			Description: "Create application entrypoint",
			Kind:        engine.KindCreateFile,
			Path:        filepath.Join(root, "index.js"),
			Content:     fmt.Sprintf("// %s\nconsole.log(%q);\n", req.ProjectName, req.ProjectName+" is alive"),
		})

	case "go", "golang":
		steps = append(steps, engine.Step{
			Description: "Initialize module",
			Kind:        engine.KindShell,
			Command:     fmt.Sprintf("go mod init %s", moduleName(req.ProjectName)),
			WorkDir:     root,
			Timeout:     60 * time.Second,
		})
		steps = append(steps, engine.Step{
			Description: "Create application entrypoint",
			Kind:        engine.KindCreateFile,
			Path:        filepath.Join(root, "main.go"),
			Content:     fmt.Sprintf("package main\n\nimport \"fmt\"\n\nfunc main() {\n\tfmt.Println(%q)\n}\n", req.ProjectName),
		})
	}

	return steps
}

func verificationSteps(req session.Requirements, root string) []engine.Step {
	steps := []engine.Step{
		{
			Description: "Verify project directory",
			Kind:        engine.KindShell,
			Command:     fmt.Sprintf("test -d %s", root),
			VerifyOnly:  true,
		},
		{
			Description: "Verify README exists",
			Kind:        engine.KindShell,
			Command:     fmt.Sprintf("test -f %s", filepath.Join(root, "README.md")),
			VerifyOnly:  true,
		},
	}

	switch strings.ToLower(req.Language) {
	case "python":
		steps = append(steps, engine.Step{
			Description: "Verify entrypoint parses",
			Kind:        engine.KindShell,
			Command:     "python3 -m py_compile main.py",
			Fallbacks:   []string{"python -m py_compile main.py"},
			WorkDir:     root,
			VerifyOnly:  true,
		})
	case "javascript", "typescript", "node":
		steps = append(steps, engine.Step{
			Description: "Verify entrypoint parses",
			Kind:        engine.KindShell,
			Command:     "node --check index.js",
			WorkDir:     root,
			VerifyOnly:  true,
		})
	case "go", "golang":
		steps = append(steps, engine.Step{
			Description: "Verify module builds",
			Kind:        engine.KindShell,
			Command:     "go build ./...",
			WorkDir:     root,
			VerifyOnly:  true,
		})
	}

	return steps
}

// shellBuiltins are always considered runnable for compatibility checks.
var shellBuiltins = map[string]bool{
	"test": true, "echo": true, "cd": true, "mkdir": true, "touch": true,
	"cp": true, "mv": true, "rm": true, "cat": true, "true": true, "false": true,
	"sh": true, "bash": true,
}

// CheckCompatibility verifies every shell step has at least one command
// whose binary the snapshot knows how to run. An incompatible plan is
// rejected back to planning.
func CheckCompatibility(plan *engine.Plan, snap *capability.Snapshot) []Issue {
	var issues []Issue

	for i, step := range plan.Steps {
		if step.Kind != engine.KindShell {
			continue
		}

		runnable := false
		for _, cmd := range append([]string{step.Command}, step.Fallbacks...) {
			if commandRunnable(cmd, snap) {
				runnable = true
				break
			}
		}
		if !runnable {
			issues = append(issues, Issue{
				Message: fmt.Sprintf("step %d (%s): no runnable command on this system", i, step.Description),
			})
		}
	}

	return issues
}

func commandRunnable(command string, snap *capability.Snapshot) bool {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return false
	}
	bin := filepath.Base(fields[0])

	if shellBuiltins[bin] {
		return true
	}
	if snap == nil {
		return false
	}

	switch bin {
	case "git":
		return snap.GitInstalled
	case "docker":
		return snap.DockerInstalled
	case "python3", "python":
		return snap.HasRuntime("python")
	case "node":
		return snap.HasRuntime("node")
	case "go":
		return snap.HasRuntime("go")
	case "pip", "pip3":
		return snap.HasRuntime("python") || snap.HasPackageManager("pip3")
	}

	return snap.HasPackageManager(bin)
}

func moduleName(project string) string {
	name := strings.ToLower(strings.ReplaceAll(project, " ", "-"))
	return "example.com/" + name
}

func pythonRequirements(req session.Requirements) string {
	var deps []string
	switch strings.ToLower(req.Framework) {
	case "fastapi":
		deps = append(deps, "fastapi", "uvicorn")
	case "flask":
		deps = append(deps, "flask")
	case "django":
		deps = append(deps, "django")
	}
	if req.Testing {
		deps = append(deps, "pytest")
	}
	if len(deps) == 0 {
		return "# add dependencies here\n"
	}
	return strings.Join(deps, "\n") + "\n"
}

func pythonMain(req session.Requirements) string {
	return fmt.Sprintf("def main():\n    print(%q)\n\n\nif __name__ == \"__main__\":\n    main()\n", req.ProjectName+" is alive")
}

func gitignoreFor(language string) string {
	switch strings.ToLower(language) {
	case "python":
		return ".venv/\n__pycache__/\n*.pyc\n"
	case "javascript", "typescript", "node":
		return "node_modules/\ndist/\n"
	case "go", "golang":
		return "bin/\n"
	default:
		return ""
	}
}

func dockerfileFor(language string) string {
	switch strings.ToLower(language) {
	case "python":
		return "FROM python:3.12-slim\nWORKDIR /app\nCOPY . .\nRUN pip install -r requirements.txt\nCMD [\"python\", \"main.py\"]\n"
	case "javascript", "typescript", "node":
		return "FROM node:20-alpine\nWORKDIR /app\nCOPY . .\nRUN npm install\nCMD [\"node\", \"index.js\"]\n"
	case "go", "golang":
		return "FROM golang:1.24-alpine\nWORKDIR /app\nCOPY . .\nRUN go build -o app .\nCMD [\"./app\"]\n"
	default:
		return "FROM alpine\nWORKDIR /app\nCOPY . .\n"
	}
}
