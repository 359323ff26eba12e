package installer

import (
	"fmt"
	"strings"

	"github.com/e14z/mcpx/internal/registry"
)

// methodPreference is the fallback order over a descriptor's
// installation_methods when no single install command is given.
var methodPreference = []string{"npm", "pip", "git"}

// SelectMethod picks the install command from a descriptor: the
// dedicated auto-install command when present, else the preferred
// installation method, else heuristics over the free-form endpoint.
func SelectMethod(desc *registry.Descriptor) (string, error) {
	if cmd := strings.TrimSpace(desc.AutoInstallCommand); cmd != "" {
		return cmd, nil
	}

	for _, want := range methodPreference {
		for _, m := range desc.InstallationMethods {
			if m.Type == want && strings.TrimSpace(m.Command) != "" {
				return m.Command, nil
			}
		}
	}
	// Any remaining method beats guessing from the endpoint.
	for _, m := range desc.InstallationMethods {
		if strings.TrimSpace(m.Command) != "" {
			return m.Command, nil
		}
	}

	if cmd := endpointCommand(desc); cmd != "" {
		return cmd, nil
	}
	return "", fmt.Errorf("descriptor for %s carries no install method", desc.Slug)
}

// endpointCommand guesses an install command from a legacy free-form
// endpoint string.
func endpointCommand(desc *registry.Descriptor) string {
	ep := strings.TrimSpace(desc.Endpoint)
	switch {
	case ep == "":
		return ""
	case strings.HasSuffix(ep, ".git") || strings.HasPrefix(ep, "git@"):
		return "git clone " + ep
	case strings.Contains(ep, "pypi.org/"):
		name := ep[strings.LastIndex(strings.TrimRight(ep, "/"), "/")+1:]
		return "pip install " + strings.TrimRight(name, "/")
	case strings.Contains(ep, " "):
		// Already command-shaped.
		return ep
	default:
		// A bare name is assumed to be an npm package run fresh.
		return "npx " + ep
	}
}

// isComplexCommand reports whether an install command needs the
// multi-step executor instead of a single adapter install.
func isComplexCommand(cmd string) bool {
	if strings.Contains(cmd, "&&") {
		return true
	}
	hasCD := strings.Contains(cmd, "cd ")
	hasInstall := strings.Contains(cmd, "install")
	if hasCD && hasInstall {
		return true
	}
	return strings.Contains(cmd, "source") && strings.Contains(cmd, "venv")
}
