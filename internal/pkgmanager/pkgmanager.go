package pkgmanager

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/e14z/mcpx/internal/sandbox"
)

// PackageInfo is the parsed, ecosystem-specific install spec. It is
// derived once per attempt and never mutated afterwards.
type PackageInfo struct {
	Name     string
	Version  string
	Registry string // npm, pypi, crates, git, docker, generic

	// Ecosystem extras. Only the fields relevant to Registry are set.
	Scope    string // npm scope, including the leading @
	GitURL   string
	Branch   string
	ImageRef string
	UseNpx   bool // npm only: run through npx, never install locally

	// Raw is the original install command; Tokens its shellwords split.
	Raw    string
	Tokens []string
}

// Spec renders the name@version form used on install command lines.
func (p *PackageInfo) Spec() string {
	if p.Version == "" {
		return p.Name
	}
	return p.Name + "@" + p.Version
}

// Executable describes how to start an installed package.
type Executable struct {
	Command string
	Args    []string
}

// Manager is one ecosystem adapter.
type Manager interface {
	// Name identifies the adapter ("npm", "pip", ...).
	Name() string
	// CanHandle reports whether this adapter understands the command.
	CanHandle(command string) bool
	// ParseInstallCommand derives a PackageInfo from the command. Pure.
	ParseInstallCommand(command string) (*PackageInfo, error)
	// Install installs the package into dir. Side-effecting.
	Install(ctx context.Context, info *PackageInfo, dir string) error
	// FindExecutable resolves how to start the installed package, or
	// returns nil when the adapter has no native resolution.
	FindExecutable(ctx context.Context, info *PackageInfo, dir string) (*Executable, error)
	// Metadata returns raw package metadata for the verifier.
	Metadata(ctx context.Context, info *PackageInfo, dir string) (map[string]any, error)
}

// Runner executes one command in a working directory. Adapters never
// spawn processes directly; everything goes through the sandbox (or a
// test fake).
type Runner func(ctx context.Context, dir, command string, args ...string) (*sandbox.Result, error)

// SandboxRunner adapts a process sandbox into a Runner. Installs are
// always oneshot.
func SandboxRunner(sb *sandbox.Sandbox) Runner {
	return func(ctx context.Context, dir, command string, args ...string) (*sandbox.Result, error) {
		return sb.Execute(ctx, command, args, sandbox.Options{
			WorkDir: dir,
			Mode:    sandbox.ModeOneshot,
		})
	}
}

// runOK runs a command and turns a nonzero exit into an error.
func runOK(ctx context.Context, run Runner, dir, command string, args ...string) (*sandbox.Result, error) {
	res, err := run(ctx, dir, command, args...)
	if err != nil {
		return res, err
	}
	if res.ExitCode != 0 {
		return res, fmt.Errorf("%s exited with code %d: %s", command, res.ExitCode, res.Stderr)
	}
	return res, nil
}

// DefaultManagers returns the adapters in selection order. The generic
// adapter is last and accepts anything.
func DefaultManagers(run Runner, log *logrus.Entry) []Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return []Manager{
		NewNPM(run, log),
		NewPip(run, log),
		NewCargo(run, log),
		NewGit(run, log),
		NewDocker(run, log),
		NewGeneric(log),
	}
}

// Select returns the first adapter whose CanHandle accepts command.
func Select(managers []Manager, command string) (Manager, error) {
	for _, m := range managers {
		if m.CanHandle(command) {
			return m, nil
		}
	}
	return nil, fmt.Errorf("no package manager can handle %q", command)
}
