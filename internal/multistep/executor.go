package multistep

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/e14z/mcpx/internal/recovery"
	"github.com/e14z/mcpx/internal/sandbox"
)

// StepResult reports one executed (or skipped) step.
type StepResult struct {
	Step     Step
	Skipped  bool
	ExitCode int
	Stdout   string
	Stderr   string
	WorkDir  string
}

// RunReport is the outcome of a full recipe run.
type RunReport struct {
	Results []StepResult
	// FinalDir is the live working directory after the last step; the
	// installer searches it for executables.
	FinalDir string
	// VenvPath is the discovered virtualenv root, if any step created or
	// activated one.
	VenvPath string
}

// runFunc executes one simple command. Narrow on purpose so tests can
// substitute a recorder for the real sandbox.
type runFunc func(ctx context.Context, command string, args []string, workDir string) (*sandbox.Result, error)

// Executor runs parsed steps through the process sandbox.
type Executor struct {
	run runFunc
	log *logrus.Entry
}

// NewExecutor wires the executor to a sandbox. Steps always run in
// oneshot mode; a multi-step recipe installs things, it does not start
// servers.
func NewExecutor(sb *sandbox.Sandbox, log *logrus.Entry) *Executor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Executor{
		run: func(ctx context.Context, command string, args []string, workDir string) (*sandbox.Result, error) {
			return sb.Execute(ctx, command, args, sandbox.Options{
				WorkDir: workDir,
				Mode:    sandbox.ModeOneshot,
			})
		},
		log: log,
	}
}

// Run executes steps sequentially starting in baseDir. Each step's
// working directory is bound to the live value immediately before it
// runs: an earlier "cd" moves later steps, a "git clone" never does.
// On failure the report covers every prior step and the error names the
// failing index.
func (e *Executor) Run(ctx context.Context, steps []Step, baseDir string) (*RunReport, error) {
	report := &RunReport{FinalDir: baseDir}
	current := baseDir
	venv := ""

	for i, step := range steps {
		e.log.WithFields(logrus.Fields{
			"index": i,
			"type":  step.Type,
			"raw":   step.Raw,
		}).Debug("running install step")

		switch step.Type {
		case StepCD:
			next, err := e.changeDir(current, step)
			if err != nil {
				return report, fmt.Errorf("step %d (%s): %w", i, step.Raw, err)
			}
			current = next
			report.FinalDir = current
			report.Results = append(report.Results, StepResult{Step: step, Skipped: true, WorkDir: current})

		case StepVenvActivate:
			// "source venv/bin/activate" is a shell builtin; the sandbox
			// cannot (and must not) run a shell. Track the venv instead.
			venv = venvRootFromActivate(current, step)
			report.VenvPath = venv
			report.Results = append(report.Results, StepResult{Step: step, Skipped: true, WorkDir: current})

		default:
			command, args := step.Tokens[0], step.Tokens[1:]
			if venv != "" && step.Type == StepPython {
				command = venvBinary(venv, command)
			}

			res, err := e.run(ctx, command, args, current)
			result := StepResult{Step: step, WorkDir: current}
			if res != nil {
				result.ExitCode = res.ExitCode
				result.Stdout = res.Stdout
				result.Stderr = res.Stderr
			}
			report.Results = append(report.Results, result)

			if err != nil {
				return report, fmt.Errorf("step %d (%s): %w", i, step.Raw, err)
			}
			if res.ExitCode != 0 {
				return report, recovery.Errorf(recovery.CategoryExecution,
					"step %d (%s) exited with code %d: %s", i, step.Raw, res.ExitCode, strings.TrimSpace(res.Stderr))
			}

			if step.Type == StepVenvCreate {
				venv = venvRootFromCreate(current, step)
				report.VenvPath = venv
			}
		}
	}
	return report, nil
}

// changeDir resolves a cd target against the live directory and requires
// it to exist: a cd into a directory a previous step failed to create is
// an error worth surfacing, not deferring.
func (e *Executor) changeDir(current string, step Step) (string, error) {
	if len(step.Tokens) < 2 {
		return "", fmt.Errorf("cd without a target")
	}
	target := step.Tokens[1]
	if strings.Contains(target, "..") {
		return "", recovery.Errorf(recovery.CategorySecurity, "cd target %q contains path traversal", target)
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(current, target)
	}
	info, err := os.Stat(target)
	if err != nil {
		return "", fmt.Errorf("cd target: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("cd target %s is not a directory", target)
	}
	return target, nil
}

// venvRootFromCreate extracts the venv dir from "python -m venv <dir>".
func venvRootFromCreate(current string, step Step) string {
	for i := 1; i < len(step.Tokens)-1; i++ {
		if step.Tokens[i] == "-m" && step.Tokens[i+1] == "venv" {
			name := ".venv"
			if i+2 < len(step.Tokens) {
				name = step.Tokens[i+2]
			}
			if filepath.IsAbs(name) {
				return name
			}
			return filepath.Join(current, name)
		}
	}
	return ""
}

// venvRootFromActivate extracts the venv dir from
// "source <venv>/bin/activate".
func venvRootFromActivate(current string, step Step) string {
	if len(step.Tokens) < 2 {
		return ""
	}
	path := filepath.ToSlash(step.Tokens[1])
	path = strings.TrimSuffix(path, "/bin/activate")
	path = strings.TrimSuffix(path, "/Scripts/activate")
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(current, filepath.FromSlash(path))
}

// venvBinary maps a python/pip invocation onto the venv's interpreter.
func venvBinary(venv, command string) string {
	bin := "bin"
	if runtime.GOOS == "windows" {
		bin = "Scripts"
	}
	name := filepath.Base(command)
	switch name {
	case "python3":
		name = "python"
	case "pip3":
		name = "pip"
	}
	return filepath.Join(venv, bin, name)
}
