package pkgmanager

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	shellwords "github.com/mattn/go-shellwords"
)

// tokenize splits an install command with shell quoting rules.
func tokenize(command string) ([]string, error) {
	tokens, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parsing install command: %w", err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty install command")
	}
	return tokens, nil
}

// firstWord is a cheap CanHandle helper that avoids full tokenization.
func firstWord(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// normalizeVersion canonicalizes a semver-looking version string and
// passes anything else (ranges, tags like "latest") through unchanged.
func normalizeVersion(v string) string {
	if v == "" {
		return ""
	}
	if sv, err := semver.NewVersion(v); err == nil {
		return sv.String()
	}
	return v
}

// isFlag reports whether a token is an option rather than an operand.
func isFlag(tok string) bool {
	return strings.HasPrefix(tok, "-")
}
