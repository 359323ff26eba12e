package installer

import (
	"github.com/e14z/mcpx/internal/recovery"
)

// RunResult is the uniform outcome of an install-and-run attempt.
type RunResult struct {
	Success bool `json:"success"`

	// Failure detail, empty on success.
	Error       string            `json:"error,omitempty"`
	Category    recovery.Category `json:"category,omitempty"`
	Recoverable bool              `json:"recoverable,omitempty"`
	Suggestions []string          `json:"suggestions,omitempty"`

	// Execution detail, filled as far as the attempt got.
	Command        string   `json:"command,omitempty"`
	Args           []string `json:"args,omitempty"`
	Output         string   `json:"output,omitempty"`
	ExitCode       int      `json:"exitCode,omitempty"`
	PID            int      `json:"pid,omitempty"`
	ServerRunning  bool     `json:"mcpServerRunning,omitempty"`
	CacheDir       string   `json:"cacheDir,omitempty"`
	PackageManager string   `json:"packageManager,omitempty"`
}

// failResult folds an error into a RunResult, keeping whatever
// execution detail the attempt already produced.
func failResult(err error, partial *RunResult) *RunResult {
	res := partial
	if res == nil {
		res = &RunResult{}
	}
	cat := recovery.Categorize(err)
	res.Success = false
	res.Error = err.Error()
	res.Category = cat
	res.Recoverable = cat.Recoverable()
	res.Suggestions = cat.Suggestions()
	return res
}
