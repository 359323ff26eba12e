package verifier

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/sirupsen/logrus"
)

// Scoring policy.
const (
	startScore        = 100
	failScoreFloor    = 30 // below this the package fails outright
	warnScoreFloor    = 50 // below this, more than a couple of highs fails
	maxHighSeverity   = 2
	trustedScopeBonus = 5

	maxFileCount   = 10000
	maxNameLength  = 214 // npm's limit; the strictest of the ecosystems
	maxMetadataLen = 1 << 20
)

// Threat is one finding from a verification check.
type Threat struct {
	Check       string   `json:"check"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	// Confidence is the check's certainty in (0, 1].
	Confidence float64 `json:"confidence"`
}

// Result is the verdict for one package.
type Result struct {
	Passed     bool     `json:"passed"`
	Score      int      `json:"score"`
	Threats    []Threat `json:"threats"`
	Warnings   []string `json:"warnings"`
	Confidence string   `json:"confidence"` // high, medium, low
}

// Subject is the package under verification: its parsed identity, the
// raw metadata the adapter fetched, and the on-disk tree (may be empty
// for ecosystems that install elsewhere).
type Subject struct {
	Name     string
	Version  string
	Registry string
	Metadata map[string]any
	Dir      string
}

// Verifier runs the seven-check risk assessment.
type Verifier struct {
	db  *ReputationDB
	log *logrus.Entry
}

// New returns a Verifier backed by db.
func New(db *ReputationDB, log *logrus.Entry) *Verifier {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Verifier{db: db, log: log}
}

// Verify runs every check and applies the final pass/fail policy. The
// result is computed once per install attempt and persisted with the
// cache entry.
func (v *Verifier) Verify(subject Subject) *Result {
	r := &Result{Score: startScore}

	v.checkMetadata(subject, r)
	v.checkReputation(subject, r)
	v.checkContents(subject, r)
	v.checkDependencies(subject, r)
	v.checkLicense(subject, r)
	v.checkInstallScripts(subject, r)
	v.checkFilesystemPaths(subject, r)

	if r.Score < 0 {
		r.Score = 0
	}
	if r.Score > startScore {
		r.Score = startScore
	}

	highs := 0
	critical := false
	for _, t := range r.Threats {
		switch t.Severity {
		case SeverityCritical:
			critical = true
		case SeverityHigh:
			highs++
		}
	}

	r.Passed = true
	if critical || r.Score < failScoreFloor {
		r.Passed = false
	}
	if highs > maxHighSeverity || r.Score < warnScoreFloor {
		r.Passed = false
	}

	switch {
	case r.Score >= 80:
		r.Confidence = "high"
	case r.Score >= 60:
		r.Confidence = "medium"
	default:
		r.Confidence = "low"
	}

	v.log.WithFields(logrus.Fields{
		"package": subject.Name,
		"score":   r.Score,
		"passed":  r.Passed,
		"threats": len(r.Threats),
	}).Debug("verification complete")
	return r
}

func (r *Result) addThreat(check string, severity Severity, confidence float64, format string, args ...any) {
	r.Threats = append(r.Threats, Threat{
		Check:       check,
		Severity:    severity,
		Description: fmt.Sprintf(format, args...),
		Confidence:  confidence,
	})
	r.Score -= severityDeduction[severity]
}

func (r *Result) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

var validNamePattern = regexp.MustCompile(`^(@[a-z0-9][a-z0-9._-]*/)?[A-Za-z0-9][A-Za-z0-9._-]*$`)

// check 1: metadata sanity.
func (v *Verifier) checkMetadata(s Subject, r *Result) {
	switch {
	case s.Name == "":
		r.addThreat("metadata", SeverityHigh, 1.0, "package has no name")
	case len(s.Name) > maxNameLength:
		r.addThreat("metadata", SeverityMedium, 1.0, "package name exceeds %d characters", maxNameLength)
	case !validNamePattern.MatchString(s.Name):
		r.addThreat("metadata", SeverityMedium, 0.9, "package name %q has an unusual shape", s.Name)
	}

	if s.Version == "" {
		r.addWarning("package has no version; treating as unpinned")
	} else if _, err := semver.NewVersion(strings.TrimPrefix(s.Version, "v")); err != nil {
		r.addWarning("version %q does not parse as semver", s.Version)
	}

	if desc, ok := s.Metadata["description"].(string); ok && len(desc) > maxMetadataLen {
		r.addThreat("metadata", SeverityMedium, 0.8, "oversize metadata description (%d bytes)", len(desc))
	}
}

// check 2: reputation against the known-malicious, popular, and trusted
// sets.
func (v *Verifier) checkReputation(s Subject, r *Result) {
	name := strings.ToLower(s.Name)
	if name == "" {
		return
	}

	if v.db.IsMalicious(name) {
		r.addThreat("reputation", SeverityCritical, 1.0, "%s is a known malicious package", s.Name)
		r.Score = 0
		return
	}

	for _, target := range v.db.Popular() {
		switch {
		case editDistanceOne(name, target):
			r.addThreat("reputation", SeverityHigh, 0.8,
				"%s is one edit away from popular package %s (possible typosquat)", s.Name, target)
		case adjacentSwap(name, target):
			r.addThreat("reputation", SeverityHigh, 0.8,
				"%s is an adjacent-character swap of popular package %s", s.Name, target)
		case homographOf(name, target):
			r.addThreat("reputation", SeverityCritical, 0.9,
				"%s is a unicode homograph of popular package %s", s.Name, target)
		}
	}

	if v.db.TrustedScope(s.Name) {
		r.Score += trustedScopeBonus
	}
}

// check 3: content scan of the installed tree.
func (v *Verifier) checkContents(s Subject, r *Result) {
	if s.Dir == "" {
		return
	}
	count := 0
	_ = filepath.WalkDir(s.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if strings.HasPrefix(name, ".") && !expectedHiddenFiles[name] && path != s.Dir {
				r.addWarning("unexpected hidden directory %s", name)
				return filepath.SkipDir
			}
			return nil
		}

		count++
		if count == maxFileCount+1 {
			r.addThreat("content", SeverityHigh, 0.9, "package contains more than %d files", maxFileCount)
		}

		ext := strings.ToLower(filepath.Ext(name))
		if severity, ok := dangerousExtensions[ext]; ok {
			r.addThreat("content", severity, 0.9, "dangerous file type %s (%s)", ext, name)
		}
		for _, p := range suspiciousFilePatterns {
			if p.re.MatchString(strings.ToLower(name)) {
				r.addWarning("suspicious file %s: %s", name, p.desc)
				break
			}
		}
		if strings.HasPrefix(name, ".") && !expectedHiddenFiles[name] {
			r.addWarning("unexpected hidden file %s", name)
		}
		return nil
	})
}

// check 4: dependency scan over the manifest metadata.
func (v *Verifier) checkDependencies(s Subject, r *Result) {
	deps, ok := s.Metadata["dependencies"].(map[string]any)
	if !ok || len(deps) == 0 {
		return
	}

	suspicious := 0
	for dep, rawSpec := range deps {
		if v.db.IsMalicious(dep) {
			r.addThreat("dependency", SeverityCritical, 1.0, "depends on known malicious package %s", dep)
			continue
		}
		spec, _ := rawSpec.(string)
		switch {
		case spec == "*" || spec == "latest" || strings.HasPrefix(spec, ">="):
			r.addWarning("dependency %s uses loose version range %q", dep, spec)
			suspicious++
		case strings.Contains(spec, "git+") || strings.Contains(spec, "github.com") || strings.Contains(spec, "git://"):
			r.addThreat("dependency", SeverityMedium, 0.7, "dependency %s resolves from a git URL (%s)", dep, spec)
			suspicious++
		}
	}

	if ratio := float64(suspicious) / float64(len(deps)); ratio > 0.5 && len(deps) >= 4 {
		r.addThreat("dependency", SeverityHigh, 0.7,
			"%d of %d dependencies are loosely pinned or git-sourced", suspicious, len(deps))
	}
}

// check 5: license presence and standardness.
func (v *Verifier) checkLicense(s Subject, r *Result) {
	license, _ := s.Metadata["license"].(string)
	if license == "" {
		r.addWarning("package declares no license")
		r.Score -= severityDeduction[SeverityLow]
		return
	}
	if !standardLicenses[strings.ToLower(license)] {
		r.addWarning("non-standard license %q", license)
	}
}

// check 6: install-script scan against the graded pattern set.
func (v *Verifier) checkInstallScripts(s Subject, r *Result) {
	scripts, ok := s.Metadata["scripts"].(map[string]any)
	if !ok {
		return
	}
	// Lifecycle hooks run automatically; anything else only on demand.
	autoHooks := map[string]bool{
		"preinstall": true, "install": true, "postinstall": true,
		"prepare": true, "prepublish": true,
	}

	for hook, rawBody := range scripts {
		body, _ := rawBody.(string)
		if body == "" {
			continue
		}
		for _, p := range scriptPatterns {
			if !p.re.MatchString(body) {
				continue
			}
			severity := p.severity
			confidence := 0.9
			if !autoHooks[hook] && severity != SeverityCritical {
				// Manual scripts are one notch less alarming.
				confidence = 0.6
			}
			r.addThreat("install_script", severity, confidence,
				"script %q %s", hook, p.desc)
		}
	}
}

// check 7: filesystem path scan for traversal and protected-path
// references in the tree and scripts.
func (v *Verifier) checkFilesystemPaths(s Subject, r *Result) {
	if scripts, ok := s.Metadata["scripts"].(map[string]any); ok {
		for hook, rawBody := range scripts {
			body, _ := rawBody.(string)
			if strings.Contains(body, "../") {
				r.addThreat("filesystem", SeverityHigh, 0.8, "script %q references a parent directory", hook)
			}
			if protectedPathPattern.MatchString(body) {
				r.addThreat("filesystem", SeverityCritical, 0.9, "script %q references an OS-protected path", hook)
			}
		}
	}

	if s.Dir == "" {
		return
	}
	_ = filepath.WalkDir(s.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.Contains(d.Name(), "..") {
			r.addThreat("filesystem", SeverityHigh, 0.9, "file name %s contains parent-directory reference", d.Name())
		}
		return nil
	})

	// Symlinks pointing outside the package escape the tree on use.
	_ = filepath.WalkDir(s.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.Type()&os.ModeSymlink == 0 {
			return nil
		}
		target, err := os.Readlink(path)
		if err == nil && (filepath.IsAbs(target) || strings.Contains(target, "..")) {
			r.addThreat("filesystem", SeverityHigh, 0.9, "symlink %s escapes the package tree", d.Name())
		}
		return nil
	})
}
