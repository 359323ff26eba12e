package sandbox

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/e14z/mcpx/internal/config"
	"github.com/e14z/mcpx/internal/recovery"
	"github.com/e14z/mcpx/internal/sanitize"
)

func testSandbox(t *testing.T) *Sandbox {
	t.Helper()
	return New(config.TestSettings(t.TempDir()), nil)
}

func requireTool(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available", name)
	}
}

func TestExecute_Oneshot(t *testing.T) {
	requireTool(t, "echo")

	res, err := testSandbox(t).Execute(context.Background(), "echo", []string{"hello"}, Options{})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	if res.Stdout != "hello\n" {
		t.Errorf("Stdout = %q, want %q", res.Stdout, "hello\n")
	}
	if res.ServerRunning {
		t.Error("echo must not be classified as a running server")
	}
}

func TestExecute_OneshotFailureExitCode(t *testing.T) {
	requireTool(t, "false")

	res, err := testSandbox(t).Execute(context.Background(), "false", nil, Options{})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if res.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", res.ExitCode)
	}
}

func TestExecute_Timeout(t *testing.T) {
	requireTool(t, "sleep")

	res, err := testSandbox(t).Execute(context.Background(), "sleep", []string{"10"},
		Options{Timeout: 100 * time.Millisecond})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if got := recovery.Categorize(err); got != recovery.CategoryTimeout {
		t.Errorf("category = %q, want timeout", got)
	}
	if res == nil {
		t.Fatal("result should still be returned on timeout")
	}
}

func TestExecute_TimeoutWithoutCPUCeiling(t *testing.T) {
	requireTool(t, "sleep")

	settings := config.TestSettings(t.TempDir())
	settings.MaxCPUTime = 0 // no configured ceiling; the request must still bound the run
	sb := New(settings, nil)

	start := time.Now()
	_, err := sb.Execute(context.Background(), "sleep", []string{"10"},
		Options{Timeout: 100 * time.Millisecond})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if got := recovery.Categorize(err); got != recovery.CategoryTimeout {
		t.Errorf("category = %q, want timeout", got)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("run lasted %v, requested timeout was ignored", elapsed)
	}
}

func TestExecute_RejectsInjectionBeforeSpawn(t *testing.T) {
	_, err := testSandbox(t).Execute(context.Background(), "echo", []string{"; rm -rf /"}, Options{})
	if err == nil {
		t.Fatal("expected sanitizer rejection")
	}
	var ie *sanitize.InjectionError
	if !errors.As(err, &ie) {
		t.Fatalf("error type = %T, want *sanitize.InjectionError", err)
	}
}

func TestExecute_ServerGracePeriod(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the startup grace period")
	}
	requireTool(t, "sleep")

	res, err := testSandbox(t).Execute(context.Background(), "sleep", []string{"60"},
		Options{Mode: ModeServer})
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if !res.ServerRunning {
		t.Fatal("ServerRunning = false, want true after grace period")
	}
	if res.PID <= 0 {
		t.Errorf("PID = %d, want live pid", res.PID)
	}
	if res.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1 sentinel for a running server", res.ExitCode)
	}

	// The sandbox deliberately leaves the server running; the test owns
	// the pid and must stop it.
	if proc, err := os.FindProcess(res.PID); err == nil {
		_ = proc.Kill()
	}
}

func TestExecute_ServerEarlyExitFails(t *testing.T) {
	requireTool(t, "false")

	res, err := testSandbox(t).Execute(context.Background(), "false", nil, Options{Mode: ModeServer})
	if err == nil {
		t.Fatal("expected failure when the server dies during startup")
	}
	if res.ServerRunning {
		t.Error("ServerRunning should be false")
	}
	if res.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want the real exit code 1", res.ExitCode)
	}
}

func TestValidateWorkDir(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		dir     string
		wantErr bool
	}{
		{"empty passes", "", false},
		{"existing dir", dir, false},
		{"traversal", dir + "/../" + filepath.Base(dir), true},
		{"missing", filepath.Join(dir, "nope"), true},
		{"regular file", file, true},
	}

	s := testSandbox(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.validateWorkDir(tt.dir)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateWorkDir(%q) error = %v, wantErr %v", tt.dir, err, tt.wantErr)
			}
		})
	}
}

func TestValidateWorkDir_AllowedRoots(t *testing.T) {
	root := t.TempDir()
	inside := filepath.Join(root, "work")
	if err := os.MkdirAll(inside, 0o755); err != nil {
		t.Fatal(err)
	}
	outside := t.TempDir()

	settings := config.TestSettings(root)
	settings.AllowedWorkRoots = []string{root}
	s := New(settings, nil)

	if _, err := s.validateWorkDir(inside); err != nil {
		t.Errorf("nested dir rejected: %v", err)
	}
	if _, err := s.validateWorkDir(outside); err == nil {
		t.Error("dir outside allowed roots accepted")
	}
}
