package cache

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	units "github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"github.com/e14z/mcpx/internal/recovery"
)

// Pre-cache scan limits. The full verifier runs earlier in the install
// flow; this scan is a last cheap gate before an entry becomes trusted.
const (
	prescanMaxBytes = 2 << 30 // 2GiB on disk is suspicious for an MCP server
	prescanMaxFiles = 50000
)

// suspiciousNamePattern flags slug lookalikes built from confusable
// characters or install-hook names.
var suspiciousNamePattern = regexp.MustCompile(`(?i)(^|-)(install|setup|update)\.(sh|bash|ps1|bat)$`)

// scriptDangerPatterns are the fast subset of the verifier's script
// checks, applied to shell scripts found in the package tree.
var scriptDangerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)curl[^\n|]*\|\s*(ba)?sh`),
	regexp.MustCompile(`(?i)wget[^\n|]*\|\s*(ba)?sh`),
	regexp.MustCompile(`(?i)\brm\s+-rf\s+/`),
	regexp.MustCompile(`(?i)\bchmod\s+777\b`),
}

// preCacheScan rejects a populated package directory that is oversize,
// has an absurd file count, or carries obviously dangerous scripts.
// Failures are security-categorized so they are never retried.
func (m *Manager) preCacheScan(loc Location) error {
	var totalBytes int64
	var fileCount int

	err := filepath.WalkDir(loc.PackageDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || checksumExcluded[d.Name()] {
			return nil
		}
		fileCount++
		if fileCount > prescanMaxFiles {
			return recovery.Errorf(recovery.CategorySecurity,
				"package %s has more than %d files", loc.Slug, prescanMaxFiles)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		totalBytes += info.Size()
		if totalBytes > prescanMaxBytes {
			return recovery.Errorf(recovery.CategorySecurity,
				"package %s exceeds %s on disk", loc.Slug, units.BytesSize(prescanMaxBytes))
		}

		if suspiciousNamePattern.MatchString(d.Name()) || isShellScript(path) {
			if reason := scanScript(path); reason != "" {
				m.securityEvent("prescan_dangerous_script", logrus.Fields{
					"slug":   loc.Slug,
					"file":   d.Name(),
					"reason": reason,
				})
				return recovery.Errorf(recovery.CategorySecurity,
					"package %s script %s: %s", loc.Slug, d.Name(), reason)
			}
		}
		return nil
	})
	return err
}

func isShellScript(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".sh", ".bash", ".ps1", ".bat", ".cmd":
		return true
	}
	return false
}

// scanScript returns a non-empty reason when the file matches a danger
// pattern. Unreadable files are ignored here; the verifier already ran.
func scanScript(path string) string {
	data, err := os.ReadFile(path)
	if err != nil || len(data) > 1<<20 {
		return ""
	}
	for _, re := range scriptDangerPatterns {
		if re.Match(data) {
			return "matches " + re.String()
		}
	}
	return ""
}
