package sandbox

import (
	"path/filepath"
	"strings"
)

// Mode states how the sandbox should treat a command's lifetime.
type Mode int

const (
	// ModeAuto classifies from the command text (the registry carries no
	// explicit run-mode signal yet).
	ModeAuto Mode = iota
	// ModeServer forces persistent-server handling.
	ModeServer
	// ModeOneshot forces run-to-completion handling.
	ModeOneshot
)

// serverVendorScopes are npm scopes whose packages are MCP servers in
// practice.
var serverVendorScopes = []string{
	"@modelcontextprotocol/",
	"@anthropic/",
	"@anthropic-ai/",
	"@openai/",
	"@smithery/",
}

// IsServerCommand exposes the classification heuristic to callers that
// need the run-mode decision outside the sandbox (success semantics
// differ for servers).
func IsServerCommand(command string, args []string) bool {
	return classifyServer(command, args)
}

// classifyServer reports whether the command looks like a persistent MCP
// server. This is a text heuristic, isolated here so a descriptor-driven
// signal can replace it at one call site.
func classifyServer(command string, args []string) bool {
	base := strings.ToLower(filepath.Base(command))
	if base == "npx" || base == "npx.cmd" {
		return true
	}
	if strings.Contains(base, "mcp") {
		return true
	}
	for _, arg := range args {
		lower := strings.ToLower(arg)
		if strings.Contains(lower, "mcp") || strings.Contains(lower, "server") {
			return true
		}
		for _, scope := range serverVendorScopes {
			if strings.HasPrefix(lower, scope) {
				return true
			}
		}
	}
	return false
}

// startupPhrases mark server readiness when seen on stdout
// (case-insensitive). A "server"+"start" pair is handled separately.
var startupPhrases = []string{
	"listening",
	"ready",
	"initialized",
}

// startupByteThreshold: a server chatty enough to emit this much output
// is assumed up.
const startupByteThreshold = 100

// matchesStartup reports whether accumulated stdout signals a started
// server.
func matchesStartup(out string, total int64) bool {
	if total > startupByteThreshold {
		return true
	}
	lower := strings.ToLower(out)
	if strings.Contains(lower, "server") && strings.Contains(lower, "start") {
		return true
	}
	for _, phrase := range startupPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
