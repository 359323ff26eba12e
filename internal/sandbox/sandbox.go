package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/e14z/mcpx/internal/config"
	"github.com/e14z/mcpx/internal/recovery"
	"github.com/e14z/mcpx/internal/sanitize"
)

// serverGracePeriod is how long a server-classified process must survive
// before it is presumed up, absent any startup output.
const serverGracePeriod = 3 * time.Second

// memorySampleInterval is the resource monitor tick.
const memorySampleInterval = time.Second

// Options tune a single execution.
type Options struct {
	// WorkDir is the working directory; validated before use. Empty
	// means the process inherits the current directory.
	WorkDir string

	// Env is the child environment; it passes through the sanitizer,
	// which also backfills the safe allowlist.
	Env map[string]string

	// Timeout bounds non-server commands. Zero means the configured CPU
	// ceiling applies alone.
	Timeout time.Duration

	// Mode overrides server classification. ModeAuto infers from the
	// command text.
	Mode Mode
}

// Result reports one execution.
type Result struct {
	// ExitCode is the child's exit code, or -1 while a server is still
	// running.
	ExitCode      int
	Signal        string
	Stdout        string
	Stderr        string
	Duration      time.Duration
	PeakMemory    int64
	ServerRunning bool
	PID           int
}

// Sandbox executes subprocesses under input sanitization and resource
// policy. Instances are cheap; construct one per component that needs it
// rather than sharing a global.
type Sandbox struct {
	settings  *config.Settings
	sanitizer *sanitize.Sanitizer
	log       *logrus.Entry
}

// New returns a Sandbox bound to settings.
func New(settings *config.Settings, log *logrus.Entry) *Sandbox {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Sandbox{
		settings:  settings,
		sanitizer: sanitize.New(),
		log:       log,
	}
}

// Execute sanitizes the inputs and runs the command. Non-server commands
// run to completion under a hard deadline; server-classified commands
// resolve once startup is detected or the grace period elapses, with the
// child left running. The returned Result is non-nil whenever the child
// was actually started.
func (s *Sandbox) Execute(ctx context.Context, command string, args []string, opts Options) (*Result, error) {
	command, err := s.sanitizer.Command(command)
	if err != nil {
		return nil, err
	}
	args, err = s.sanitizer.Args(args)
	if err != nil {
		return nil, err
	}
	env, err := s.sanitizer.Env(opts.Env)
	if err != nil {
		return nil, err
	}
	workDir, err := s.validateWorkDir(opts.WorkDir)
	if err != nil {
		return nil, err
	}
	envList := envSlice(env)

	server := opts.Mode == ModeServer ||
		(opts.Mode == ModeAuto && classifyServer(command, args))

	if server {
		return s.executeServer(ctx, command, args, envList, workDir)
	}
	return s.executeOneshot(ctx, command, args, envList, workDir, opts.Timeout)
}

func (s *Sandbox) executeOneshot(ctx context.Context, command string, args, env []string, workDir string, timeout time.Duration) (*Result, error) {
	// Tighter of the configured ceiling and the caller's request, with
	// zero meaning absent on either side.
	deadline := s.settings.MaxCPUTime
	if timeout > 0 && (deadline == 0 || timeout < deadline) {
		deadline = timeout
	}
	runCtx := ctx
	var cancel context.CancelFunc
	if deadline > 0 {
		runCtx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, command, args...)
	cmd.Dir = workDir
	cmd.Env = env

	stdout := newCappedBuffer(s.settings.MaxOutputBytes)
	stderr := newCappedBuffer(s.settings.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, recovery.NewError(recovery.CategoryDependency, "starting "+command, err)
	}
	pid := cmd.Process.Pid

	var peak atomic.Int64
	var memKilled atomic.Bool
	stopMonitor := make(chan struct{})
	go s.monitor(cmd.Process, &peak, &memKilled, stopMonitor)

	waitErr := cmd.Wait()
	close(stopMonitor)

	result := &Result{
		ExitCode:   0,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		Duration:   time.Since(start),
		PeakMemory: peak.Load(),
		PID:        pid,
		Signal:     terminationSignal(cmd.ProcessState),
	}

	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
		}
		switch {
		case memKilled.Load():
			return result, recovery.Errorf(recovery.CategoryExecution,
				"process killed: resident memory exceeded %d bytes", s.settings.MaxMemory)
		case runCtx.Err() == context.DeadlineExceeded:
			return result, recovery.Errorf(recovery.CategoryTimeout,
				"command timed out after %s", deadline)
		}
	}
	return result, nil
}

func (s *Sandbox) executeServer(ctx context.Context, command string, args, env []string, workDir string) (*Result, error) {
	cmd := exec.Command(command, args...)
	cmd.Dir = workDir
	cmd.Env = env

	stdout := newCappedBuffer(s.settings.MaxOutputBytes)
	stderr := newCappedBuffer(s.settings.MaxOutputBytes)

	startupCh := make(chan struct{})
	var startupOnce sync.Once
	stdout.notify = func(content string, total int64) {
		if matchesStartup(content, total) {
			startupOnce.Do(func() { close(startupCh) })
		}
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, recovery.NewError(recovery.CategoryDependency, "starting "+command, err)
	}
	pid := cmd.Process.Pid

	var peak atomic.Int64
	var memKilled atomic.Bool
	stopMonitor := make(chan struct{})
	go s.monitor(cmd.Process, &peak, &memKilled, stopMonitor)

	// The wait goroutine also reaps the child whenever it eventually
	// exits, so a successfully launched server leaves no zombie.
	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	grace := time.NewTimer(serverGracePeriod)
	defer grace.Stop()

	running := func() (*Result, error) {
		close(stopMonitor)
		s.log.WithFields(logrus.Fields{"command": command, "pid": pid}).
			Info("mcp server started, leaving it running")
		return &Result{
			ExitCode:      -1,
			Stdout:        stdout.String(),
			Stderr:        stderr.String(),
			Duration:      time.Since(start),
			PeakMemory:    peak.Load(),
			ServerRunning: true,
			PID:           pid,
		}, nil
	}

	select {
	case <-startupCh:
		return running()

	case <-grace.C:
		// Still alive after the grace period counts as started.
		select {
		case waitErr := <-waitCh:
			return s.serverExited(cmd, waitErr, stdout, stderr, start, pid, &peak, stopMonitor)
		default:
			return running()
		}

	case waitErr := <-waitCh:
		return s.serverExited(cmd, waitErr, stdout, stderr, start, pid, &peak, stopMonitor)

	case <-ctx.Done():
		_ = cmd.Process.Kill()
		close(stopMonitor)
		return nil, recovery.NewError(recovery.CategoryTimeout, "launching "+command, ctx.Err())
	}
}

// serverExited builds the failure result for a server that died before
// signaling startup.
func (s *Sandbox) serverExited(cmd *exec.Cmd, waitErr error, stdout, stderr *cappedBuffer, start time.Time, pid int, peak *atomic.Int64, stopMonitor chan struct{}) (*Result, error) {
	close(stopMonitor)
	result := &Result{
		ExitCode:   0,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		Duration:   time.Since(start),
		PeakMemory: peak.Load(),
		PID:        pid,
		Signal:     terminationSignal(cmd.ProcessState),
	}
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		result.ExitCode = exitErr.ExitCode()
	} else if waitErr != nil {
		result.ExitCode = -1
	}
	return result, recovery.Errorf(recovery.CategoryExecution,
		"server exited during startup with code %d", result.ExitCode)
}

// monitor samples the child's resident memory once per interval and kills
// it on ceiling breach.
func (s *Sandbox) monitor(proc *os.Process, peak *atomic.Int64, memKilled *atomic.Bool, stop <-chan struct{}) {
	ticker := time.NewTicker(memorySampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			rss, err := residentMemory(proc.Pid)
			if err != nil {
				continue
			}
			if rss > peak.Load() {
				peak.Store(rss)
			}
			if s.settings.MaxMemory > 0 && rss > s.settings.MaxMemory {
				memKilled.Store(true)
				s.log.WithFields(logrus.Fields{"pid": proc.Pid, "rss": rss}).
					Warn("memory ceiling breached, killing process")
				_ = proc.Kill()
				return
			}
		}
	}
}

// validateWorkDir checks that dir exists, is a directory, resolves
// without traversal, and sits under an allowed root when roots are
// configured. Returns the resolved path.
func (s *Sandbox) validateWorkDir(dir string) (string, error) {
	if dir == "" {
		return "", nil
	}
	if strings.Contains(dir, "..") {
		return "", recovery.Errorf(recovery.CategorySecurity, "working directory %q contains path traversal", dir)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving working directory: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("working directory %s: %w", dir, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("working directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("working directory %s is not a directory", dir)
	}

	if len(s.settings.AllowedWorkRoots) > 0 {
		allowed := false
		for _, root := range s.settings.AllowedWorkRoots {
			rootResolved, err := filepath.EvalSymlinks(root)
			if err != nil {
				continue
			}
			if resolved == rootResolved ||
				strings.HasPrefix(resolved, rootResolved+string(filepath.Separator)) {
				allowed = true
				break
			}
		}
		if !allowed {
			return "", recovery.Errorf(recovery.CategorySecurity,
				"working directory %s is outside the allowed roots", resolved)
		}
	}
	return resolved, nil
}

// envSlice converts a sanitized env map to the form exec.Cmd expects,
// sorted for deterministic behavior in tests.
func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
