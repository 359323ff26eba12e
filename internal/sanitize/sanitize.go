package sanitize

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/e14z/mcpx/internal/recovery"
)

// MaxArgLength caps a single argument. Anything longer is rejected rather
// than truncated.
const MaxArgLength = 10000

// dangerousPatterns are checked against commands, arguments, and
// environment values. Each entry pairs a compiled pattern with the reason
// reported when it matches.
var dangerousPatterns = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`\$\([^)]*\)`), "command substitution"},
	{regexp.MustCompile("`[^`]*`"), "backtick command substitution"},
	{regexp.MustCompile(`&&`), "command chaining (&&)"},
	{regexp.MustCompile(`\|\|`), "command chaining (||)"},
	{regexp.MustCompile(`;`), "command separator (;)"},
	{regexp.MustCompile(`[<>]`), "stream redirection"},
	{regexp.MustCompile(`\|`), "pipe"},
	{regexp.MustCompile(`(?i)\brm\s+-[a-z]*r[a-z]*f`), "recursive force delete"},
	{regexp.MustCompile(`(?i)\bsudo\b`), "privilege escalation (sudo)"},
	{regexp.MustCompile(`(?i)\bsu\b\s`), "privilege escalation (su)"},
	{regexp.MustCompile(`(?i)\beval\b`), "eval"},
	{regexp.MustCompile(`(?i)\bexec\b`), "exec"},
	{regexp.MustCompile(`[\r\n]`), "embedded newline"},
	{regexp.MustCompile(`\x00`), "NUL byte"},
}

// shellInterpreters are basenames that must never be the executed command;
// a package that needs a shell is a package that gets to run anything.
var shellInterpreters = map[string]bool{
	"sh":         true,
	"bash":       true,
	"zsh":        true,
	"cmd":        true,
	"cmd.exe":    true,
	"powershell": true,
	"eval":       true,
	"exec":       true,
}

// envDenylist is dropped from every environment. These variables alter
// loader or shell behavior in ways that bypass argument-level screening.
var envDenylist = []string{
	"LD_PRELOAD",
	"LD_LIBRARY_PATH",
	"IFS",
	"PS4",
	"BASH_ENV",
	"ENV",
	"FPATH",
	"PERL5LIB",
	"PYTHONPATH",
	"NODE_OPTIONS",
	"RUBYLIB",
}

// envAllowlist is backfilled from the parent process when the caller did
// not supply a value; subprocesses need a minimal sane environment.
var envAllowlist = []string{
	"PATH", "HOME", "USER", "SHELL", "TERM", "LANG", "LC_ALL", "TMPDIR",
}

var envKeyShape = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// InjectionError reports input rejected by the sanitizer. It carries the
// security category so the retry layer never retries an injection attempt.
type InjectionError struct {
	Input  string
	Reason string
}

func (e *InjectionError) Error() string {
	return fmt.Sprintf("potential injection in %q: %s", truncateForError(e.Input), e.Reason)
}

// Unwrap lets errors.As find the recovery category.
func (e *InjectionError) Unwrap() error {
	return recovery.Errorf(recovery.CategorySecurity, "input rejected: %s", e.Reason)
}

func truncateForError(s string) string {
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}

// Sanitizer validates subprocess inputs. The zero value is usable; the
// struct exists so tests and callers hold their own instance rather than
// package-global state.
type Sanitizer struct{}

// New returns a Sanitizer.
func New() *Sanitizer { return &Sanitizer{} }

// Command validates a command path or name. It rejects path traversal,
// home-directory expansion, shell interpreter basenames, and the
// dangerous pattern set.
func (s *Sanitizer) Command(cmd string) (string, error) {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return "", &InjectionError{Input: cmd, Reason: "empty command"}
	}
	if strings.Contains(cmd, "..") {
		return "", &InjectionError{Input: cmd, Reason: "path traversal"}
	}
	if strings.Contains(cmd, "~") {
		return "", &InjectionError{Input: cmd, Reason: "home directory expansion"}
	}
	base := strings.ToLower(filepath.Base(cmd))
	if shellInterpreters[base] {
		return "", &InjectionError{Input: cmd, Reason: "shell interpreter not allowed as command"}
	}
	for _, p := range dangerousPatterns {
		if p.re.MatchString(cmd) {
			return "", &InjectionError{Input: cmd, Reason: p.reason}
		}
	}
	return cmd, nil
}

// Args validates each argument against the pattern set and length ceiling.
// The returned slice is a copy; inputs are never mutated or truncated.
func (s *Sanitizer) Args(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i, arg := range args {
		if len(arg) > MaxArgLength {
			return nil, &InjectionError{Input: arg, Reason: fmt.Sprintf("argument %d exceeds %d characters", i, MaxArgLength)}
		}
		for _, p := range dangerousPatterns {
			if p.re.MatchString(arg) {
				return nil, &InjectionError{Input: arg, Reason: p.reason}
			}
		}
		out = append(out, arg)
	}
	return out, nil
}

// Env validates and filters an environment map. Denylisted keys are
// dropped, malformed keys and dangerous values are rejected, and the safe
// allowlist is backfilled from the parent process where absent.
func (s *Sanitizer) Env(env map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(env)+len(envAllowlist))

	for key, value := range env {
		if isDenylistedEnv(key) {
			continue
		}
		if !envKeyShape.MatchString(key) {
			return nil, &InjectionError{Input: key, Reason: "malformed environment variable name"}
		}
		for _, p := range dangerousPatterns {
			if p.re.MatchString(value) {
				return nil, &InjectionError{Input: key + "=" + value, Reason: p.reason}
			}
		}
		out[key] = value
	}

	for _, key := range envAllowlist {
		if _, ok := out[key]; ok {
			continue
		}
		if v, ok := os.LookupEnv(key); ok {
			out[key] = v
		}
	}
	return out, nil
}

func isDenylistedEnv(key string) bool {
	upper := strings.ToUpper(key)
	for _, deny := range envDenylist {
		if upper == deny {
			return true
		}
	}
	// DYLD_* covers the whole macOS dynamic loader family.
	if strings.HasPrefix(upper, "DYLD_") {
		return true
	}
	// Anything that smells like a library search path.
	if strings.HasSuffix(upper, "_LIBRARY_PATH") || strings.HasSuffix(upper, "LIBPATH") {
		return true
	}
	return false
}
