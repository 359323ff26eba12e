package pkgmanager

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/e14z/mcpx/internal/sandbox"
)

type fakeCall struct {
	dir     string
	command string
	args    []string
}

// fakeRunner records every invocation and answers through respond, or
// with a clean exit when respond is nil.
type fakeRunner struct {
	calls   []fakeCall
	respond func(c fakeCall) (*sandbox.Result, error)
}

func (f *fakeRunner) run(ctx context.Context, dir, command string, args ...string) (*sandbox.Result, error) {
	c := fakeCall{dir: dir, command: command, args: args}
	f.calls = append(f.calls, c)
	if f.respond != nil {
		return f.respond(c)
	}
	return &sandbox.Result{ExitCode: 0}, nil
}

func testLog() *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger())
}

func TestSelect(t *testing.T) {
	managers := DefaultManagers((&fakeRunner{}).run, testLog())

	tests := []struct {
		command string
		want    string
	}{
		{"npx mcp-server-fetch", "npm"},
		{"npm install -g @modelcontextprotocol/server-memory", "npm"},
		{"pip install mcp-server-git", "pip"},
		{"pipx install some-tool", "pip"},
		{"cargo install mcp-server-rust", "cargo"},
		{"git clone https://github.com/x/y.git", "git"},
		{"https://github.com/x/y.git", "git"},
		{"docker run -i vendor/mcp-server", "docker"},
		{"./run-server --port 3000", "generic"},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			m, err := Select(managers, tt.command)
			if err != nil {
				t.Fatalf("Select: %v", err)
			}
			if m.Name() != tt.want {
				t.Errorf("Select(%q) = %s, want %s", tt.command, m.Name(), tt.want)
			}
		})
	}
}

func TestSelectOrderIsStable(t *testing.T) {
	managers := DefaultManagers((&fakeRunner{}).run, testLog())
	if got := managers[len(managers)-1].Name(); got != "generic" {
		t.Fatalf("last adapter = %s, want generic fallback", got)
	}
}
