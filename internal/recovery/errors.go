package recovery

import (
	"errors"
	"fmt"
	"strings"
)

// Category classifies an installation failure.
type Category string

// Known failure categories.
const (
	CategoryNetwork     Category = "network"
	CategoryPermission  Category = "permission"
	CategoryCorruption  Category = "corruption"
	CategorySecurity    Category = "security"
	CategoryDependency  Category = "dependency"
	CategoryExecution   Category = "execution"
	CategoryTimeout     Category = "timeout"
	CategoryDiskSpace   Category = "disk_space"
	CategoryUnsupported Category = "unsupported"
	CategoryUnknown     Category = "unknown"
)

// categoryInfo describes the handling policy for one category.
type categoryInfo struct {
	recoverable bool
	suggestions []string
}

var categoryPolicies = map[Category]categoryInfo{
	CategoryNetwork: {
		recoverable: true,
		suggestions: []string{
			"Check your internet connection",
			"Retry in a few seconds; the registry may be briefly unavailable",
		},
	},
	CategoryPermission: {
		recoverable: false,
		suggestions: []string{
			"Check write permissions on the cache directory",
			"Do not run the installer with sudo; fix directory ownership instead",
		},
	},
	CategoryCorruption: {
		recoverable: true,
		suggestions: []string{
			"The cached package was corrupt and has been evicted; retry to reinstall",
		},
	},
	CategorySecurity: {
		recoverable: false,
		suggestions: []string{
			"The package failed security verification and was not installed",
			"Report the package if you believe it is malicious",
		},
	},
	CategoryDependency: {
		recoverable: true,
		suggestions: []string{
			"Ensure the required package manager (npm, pipx, cargo, git, docker) is installed",
		},
	},
	CategoryExecution: {
		recoverable: true,
		suggestions: []string{
			"Inspect the command output for details",
		},
	},
	CategoryTimeout: {
		recoverable: true,
		suggestions: []string{
			"Increase the timeout and retry",
		},
	},
	CategoryDiskSpace: {
		recoverable: false,
		suggestions: []string{
			"Free disk space or run a cache cleanup",
		},
	},
	CategoryUnsupported: {
		recoverable: false,
		suggestions: []string{
			"No package manager adapter can handle this install method",
		},
	},
	CategoryUnknown: {
		recoverable: true,
		suggestions: nil,
	},
}

// Recoverable reports whether failures in the category are worth retrying.
func (c Category) Recoverable() bool {
	if info, ok := categoryPolicies[c]; ok {
		return info.recoverable
	}
	return false
}

// Suggestions returns remediation hints for the category.
func (c Category) Suggestions() []string {
	return categoryPolicies[c].suggestions
}

// Error is a categorized installation error. Throw sites that know their
// category construct one directly; foreign errors are classified by
// Categorize instead.
type Error struct {
	Category Category
	Op       string // short operation description, e.g. "clone repository"
	Err      error
}

// NewError wraps err with an explicit category.
func NewError(category Category, op string, err error) *Error {
	return &Error{Category: category, Op: op, Err: err}
}

// Errorf builds a categorized error from a format string.
func Errorf(category Category, format string, args ...any) *Error {
	return &Error{Category: category, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Recoverable reports whether the error is worth retrying.
func (e *Error) Recoverable() bool { return e.Category.Recoverable() }

// keyword tables for classifying errors that were not raised as *Error.
// Order matters: the first matching category wins, and security outranks
// everything else.
var categoryKeywords = []struct {
	category Category
	keywords []string
}{
	{CategorySecurity, []string{"security", "malicious", "injection", "typosquat", "quarantine", "verification failed"}},
	{CategoryTimeout, []string{"timed out", "timeout", "deadline exceeded", "context canceled"}},
	{CategoryNetwork, []string{"connection refused", "no such host", "network", "dns", "tls", "econnreset", "unreachable", "registry returned"}},
	{CategoryPermission, []string{"permission denied", "operation not permitted", "access is denied", "eacces", "eperm", "read-only file system"}},
	{CategoryDiskSpace, []string{"no space left", "disk full", "enospc", "quota exceeded"}},
	{CategoryCorruption, []string{"checksum", "corrupt", "integrity", "unexpected eof", "invalid archive"}},
	{CategoryDependency, []string{"executable file not found", "command not found", "not installed", "missing dependency", "no such file or directory: npm", "no such file or directory: pipx"}},
	{CategoryUnsupported, []string{"unsupported", "no adapter", "unknown install method"}},
	{CategoryExecution, []string{"exit status", "exit code", "killed", "signal:"}},
}

// Categorize maps an arbitrary error to a category. Errors raised as
// *Error keep their explicit category; anything else is keyword-matched
// against its message, falling back to unknown.
func Categorize(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Category
	}
	msg := strings.ToLower(err.Error())
	for _, entry := range categoryKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(msg, kw) {
				return entry.category
			}
		}
	}
	return CategoryUnknown
}
