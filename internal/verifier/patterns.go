package verifier

import "regexp"

// Severity grades a threat.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// deduction per severity when a check fires.
var severityDeduction = map[Severity]int{
	SeverityCritical: 100,
	SeverityHigh:     25,
	SeverityMedium:   10,
	SeverityLow:      5,
}

// scriptPattern is one graded dangerous construct looked for in install
// scripts.
type scriptPattern struct {
	re       *regexp.Regexp
	severity Severity
	desc     string
}

var scriptPatterns = []scriptPattern{
	{regexp.MustCompile(`(?i)curl[^\n|]*\|\s*(ba|z)?sh`), SeverityCritical, "pipes a download into a shell"},
	{regexp.MustCompile(`(?i)wget[^\n|]*\|\s*(ba|z)?sh`), SeverityCritical, "pipes a download into a shell"},
	{regexp.MustCompile(`(?i)\brm\s+-rf\s+[/~]`), SeverityCritical, "recursive delete of a root path"},
	{regexp.MustCompile(`(?i)\bsudo\b`), SeverityHigh, "requests privilege escalation"},
	{regexp.MustCompile(`(?i)\bchmod\s+777\b`), SeverityHigh, "world-writable permissions"},
	{regexp.MustCompile(`(?i)\bchown\s+root\b`), SeverityHigh, "changes ownership to root"},
	{regexp.MustCompile(`\beval\s*\(`), SeverityHigh, "dynamic code evaluation"},
	{regexp.MustCompile(`\bexec\s*\(`), SeverityHigh, "dynamic process execution"},
	{regexp.MustCompile(`child_process`), SeverityHigh, "spawns subprocesses at install time"},
	{regexp.MustCompile(`\bspawn\s*\(`), SeverityMedium, "spawns subprocesses at install time"},
	{regexp.MustCompile(`(?i)base64\s*(-d|--decode)`), SeverityHigh, "decodes embedded base64 payload"},
	{regexp.MustCompile(`atob\s*\(`), SeverityMedium, "decodes embedded base64 payload"},
	{regexp.MustCompile(`Buffer\.from\s*\([^)]*,\s*['"]base64['"]`), SeverityMedium, "decodes embedded base64 payload"},
	{regexp.MustCompile(`process\.env`), SeverityMedium, "reads the environment at install time"},
	{regexp.MustCompile(`os\.environ`), SeverityMedium, "reads the environment at install time"},
	{regexp.MustCompile(`process\.argv`), SeverityLow, "inspects process arguments"},
	{regexp.MustCompile(`require\s*\(\s*['"]https?:`), SeverityCritical, "requires code from the network"},
	{regexp.MustCompile(`(?i)\bnc\s+(-[a-z]+\s+)*\d{1,3}(\.\d{1,3}){3}`), SeverityHigh, "opens a raw network connection"},
}

// dangerousExtensions flag binaries and loaders that have no place in a
// source package.
var dangerousExtensions = map[string]Severity{
	".exe": SeverityHigh,
	".dll": SeverityHigh,
	".scr": SeverityCritical,
	".msi": SeverityHigh,
	".com": SeverityHigh,
	".vbs": SeverityHigh,
}

// suspiciousFilePatterns flag files worth a warning: minified blobs,
// hash-named artifacts, nested archives, native libraries.
var suspiciousFilePatterns = []struct {
	re   *regexp.Regexp
	desc string
}{
	{regexp.MustCompile(`\.min\.js$`), "minified javascript"},
	{regexp.MustCompile(`^[0-9a-f]{32,}(\.[a-z0-9]+)?$`), "hash-like filename"},
	{regexp.MustCompile(`\.(zip|rar|7z|tar\.gz|tgz)$`), "nested archive"},
	{regexp.MustCompile(`\.(so|dylib|node)$`), "native library"},
}

// expectedHiddenFiles are dotfiles that legitimately appear in packages.
var expectedHiddenFiles = map[string]bool{
	".gitignore":      true,
	".npmignore":      true,
	".npmrc":          true,
	".editorconfig":   true,
	".eslintrc":       true,
	".prettierrc":     true,
	".env.example":    true,
	".github":         true,
	".e14z-lock":      true,
	".e14z-installed": true,
}

// protectedPathPattern matches references to OS-protected locations.
var protectedPathPattern = regexp.MustCompile(`(?i)(/etc/(passwd|shadow|sudoers)|/boot/|/System/Library|C:\\Windows\\|%SystemRoot%)`)

// standardLicenses is the accepted SPDX-ish set for the license check.
var standardLicenses = map[string]bool{
	"mit": true, "apache-2.0": true, "bsd-2-clause": true,
	"bsd-3-clause": true, "isc": true, "mpl-2.0": true,
	"gpl-2.0": true, "gpl-3.0": true, "lgpl-3.0": true,
	"unlicense": true, "cc0-1.0": true, "agpl-3.0": true,
}
