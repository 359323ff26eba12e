package multistep

import (
	"fmt"
	"strings"

	shellwords "github.com/mattn/go-shellwords"
)

// StepType classifies one fragment of a compound install command.
type StepType string

const (
	StepGitClone     StepType = "git_clone"
	StepCD           StepType = "cd"
	StepPython       StepType = "python"
	StepVenvCreate   StepType = "venv_create"
	StepVenvActivate StepType = "venv_activate"
	StepNPM          StepType = "npm"
	StepShell        StepType = "shell"
)

// Step is one parsed fragment.
type Step struct {
	Type StepType
	Raw  string
	// Tokens is the shellwords split of Raw: Tokens[0] is the command.
	Tokens []string
}

// ParseCommand splits a compound command on "&&" and classifies each
// fragment. Fragments that fail tokenization (unbalanced quotes) abort
// the parse; running a half-understood fragment is worse than refusing.
func ParseCommand(cmd string) ([]Step, error) {
	fragments := strings.Split(cmd, "&&")
	steps := make([]Step, 0, len(fragments))

	for i, fragment := range fragments {
		fragment = strings.TrimSpace(fragment)
		if fragment == "" {
			return nil, fmt.Errorf("empty fragment at position %d", i)
		}
		tokens, err := shellwords.Parse(fragment)
		if err != nil {
			return nil, fmt.Errorf("tokenizing fragment %q: %w", fragment, err)
		}
		if len(tokens) == 0 {
			return nil, fmt.Errorf("empty fragment at position %d", i)
		}
		steps = append(steps, Step{
			Type:   classify(tokens),
			Raw:    fragment,
			Tokens: tokens,
		})
	}
	return steps, nil
}

func classify(tokens []string) StepType {
	head := strings.ToLower(tokens[0])
	switch head {
	case "git":
		if len(tokens) > 1 && tokens[1] == "clone" {
			return StepGitClone
		}
		return StepShell
	case "cd":
		return StepCD
	case "source", ".":
		if len(tokens) > 1 && strings.Contains(tokens[1], "activate") {
			return StepVenvActivate
		}
		return StepShell
	case "python", "python3":
		if isVenvCreate(tokens) {
			return StepVenvCreate
		}
		return StepPython
	case "pip", "pip3", "pipx":
		return StepPython
	case "npm", "npx", "yarn", "pnpm":
		return StepNPM
	default:
		return StepShell
	}
}

// isVenvCreate matches "python -m venv <dir>".
func isVenvCreate(tokens []string) bool {
	for i := 1; i < len(tokens)-1; i++ {
		if tokens[i] == "-m" && tokens[i+1] == "venv" {
			return true
		}
	}
	return false
}
