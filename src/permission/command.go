package permission

import (
	"fmt"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// ShellCommand is one parsed simple command inside a shell line.
type ShellCommand struct {
	Name string
	Args []string
}

// ParseShellCommand parses a shell line into its simple commands. Compound
// forms (pipes, &&, subshells) yield one entry per call expression.
func ParseShellCommand(command string) ([]ShellCommand, error) {
	parser := syntax.NewParser(
		syntax.Variant(syntax.LangBash),
		syntax.KeepComments(false),
	)

	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return nil, fmt.Errorf("failed to parse command: %w", err)
	}

	var commands []ShellCommand
	syntax.Walk(file, func(node syntax.Node) bool {
		if call, ok := node.(*syntax.CallExpr); ok {
			if cmd := callToCommand(call); cmd != nil {
				commands = append(commands, *cmd)
			}
		}
		return true
	})

	return commands, nil
}

func callToCommand(call *syntax.CallExpr) *ShellCommand {
	if len(call.Args) == 0 {
		return nil
	}

	cmd := &ShellCommand{Name: wordToString(call.Args[0])}
	if cmd.Name == "" {
		return nil
	}

	for _, arg := range call.Args[1:] {
		cmd.Args = append(cmd.Args, wordToString(arg))
	}

	return cmd
}

func wordToString(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				if lit, ok := qp.(*syntax.Lit); ok {
					sb.WriteString(lit.Value)
				}
			}
		case *syntax.ParamExp:
			sb.WriteString("$" + p.Param.Value)
		case *syntax.CmdSubst:
			sb.WriteString("$()")
		}
	}
	return sb.String()
}

// pathTouchingCommands modify the filesystem and get folder-scoped checks.
var pathTouchingCommands = map[string]bool{
	"cd":    true,
	"rm":    true,
	"cp":    true,
	"mv":    true,
	"mkdir": true,
	"touch": true,
	"chmod": true,
	"chown": true,
	"rmdir": true,
	"tee":   true,
	"dd":    true,
}

// CommandScopes derives the permission requests a shell line implies: one
// command-typed request per distinct command name, plus folder-typed
// requests for path arguments of filesystem commands that escape workDir.
func CommandScopes(command, workDir string) ([]Request, error) {
	parsed, err := ParseShellCommand(command)
	if err != nil {
		return nil, err
	}

	var reqs []Request
	seenCmd := map[string]bool{}
	seenDir := map[string]bool{}

	for _, cmd := range parsed {
		if !seenCmd[cmd.Name] {
			seenCmd[cmd.Name] = true
			reqs = append(reqs, Request{Type: TypeCommand, Scope: cmd.Name})
		}

		if !pathTouchingCommands[cmd.Name] {
			continue
		}
		for _, p := range extractPaths(cmd) {
			abs := resolvePath(p, workDir)
			if workDir != "" && IsWithinDir(abs, workDir) {
				continue
			}
			dir := filepath.Dir(abs)
			if !seenDir[dir] {
				seenDir[dir] = true
				reqs = append(reqs, Request{Type: TypeFolder, Scope: dir})
			}
		}
	}

	return reqs, nil
}

func extractPaths(cmd ShellCommand) []string {
	var paths []string
	for _, arg := range cmd.Args {
		if strings.HasPrefix(arg, "-") {
			continue
		}
		if cmd.Name == "chmod" && len(arg) > 0 {
			c := arg[0]
			if c >= '0' && c <= '9' || c == 'u' || c == 'g' || c == 'o' || c == 'a' || c == '+' || c == '=' {
				continue
			}
		}
		paths = append(paths, arg)
	}
	return paths
}

func resolvePath(path, workDir string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	if strings.HasPrefix(path, "~") {
		return path
	}
	return filepath.Clean(filepath.Join(workDir, path))
}

// IsWithinDir checks if path is within or under dir.
func IsWithinDir(path, dir string) bool {
	path = filepath.Clean(path)
	dir = filepath.Clean(dir)

	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, "../")
}
