package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/e14z/mcpx/internal/config"
)

// Fixed file names inside a package directory.
const (
	LockFileName   = ".e14z-lock"
	MarkerFileName = ".e14z-installed"
)

// subdirectories of the cache root.
var subdirs = []string{"packages", "metadata", "checksums", "quarantine", "logs", "temp"}

// unsafeIDChars matches everything outside the filesystem-safe set.
var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeID maps an arbitrary slug or version string onto the
// filesystem-safe character set.
func SanitizeID(s string) string {
	if s == "" {
		return "unknown"
	}
	return unsafeIDChars.ReplaceAllString(s, "-")
}

// Location is the deterministic path bundle for one (slug, version).
type Location struct {
	Slug         string
	Version      string
	PackageDir   string
	MetadataFile string
	ChecksumFile string
	LockFile     string
	MarkerFile   string
}

// Entry is the metadata persisted for a successfully installed package.
type Entry struct {
	Slug             string         `json:"slug"`
	Version          string         `json:"version"`
	InstalledAt      time.Time      `json:"installed_at"`
	InstallationData map[string]any `json:"installation_data,omitempty"`
	PackageMetadata  map[string]any `json:"package_metadata,omitempty"`
	SecurityScan     map[string]any `json:"security_scan,omitempty"`
	Verification     map[string]any `json:"verification,omitempty"`
}

// Manager owns the cache root. Construct one per process (or per test)
// and inject it; it holds no global state.
type Manager struct {
	settings *config.Settings
	root     string
	log      *logrus.Entry
}

// NewManager creates the cache layout under settings.CacheRoot.
func NewManager(settings *config.Settings, log *logrus.Entry) (*Manager, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	m := &Manager{settings: settings, root: settings.CacheRoot, log: log}
	for _, sub := range subdirs {
		if err := os.MkdirAll(filepath.Join(m.root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory %s: %w", sub, err)
		}
	}
	return m, nil
}

// Root returns the cache root directory.
func (m *Manager) Root() string { return m.root }

// TempDir returns the scratch directory for in-flight downloads.
func (m *Manager) TempDir() string { return filepath.Join(m.root, "temp") }

// Locate derives the path bundle for (slug, version). Inputs are
// sanitized; Locate never touches the disk.
func (m *Manager) Locate(slug, version string) Location {
	slug = SanitizeID(slug)
	version = SanitizeID(version)
	pkgDir := filepath.Join(m.root, "packages", slug, version)
	return Location{
		Slug:         slug,
		Version:      version,
		PackageDir:   pkgDir,
		MetadataFile: filepath.Join(m.root, "metadata", slug+"-"+version+".json"),
		ChecksumFile: filepath.Join(m.root, "checksums", slug+"-"+version+".sha256"),
		LockFile:     filepath.Join(pkgDir, LockFileName),
		MarkerFile:   filepath.Join(pkgDir, MarkerFileName),
	}
}

// IsCached reports whether a valid entry exists for (slug, version).
// Any validation failure (missing marker, stale entry, checksum
// mismatch) evicts the entry and reports false.
func (m *Manager) IsCached(slug, version string) bool {
	loc := m.Locate(slug, version)

	if _, err := os.Stat(loc.MarkerFile); err != nil {
		return false
	}

	entry, err := m.ReadEntry(slug, version)
	if err != nil {
		m.log.WithError(err).WithField("slug", loc.Slug).Warn("cache metadata unreadable, evicting")
		m.evict(loc, "metadata_unreadable")
		return false
	}

	if m.settings.MaxCacheAge > 0 && time.Since(entry.InstalledAt) > m.settings.MaxCacheAge {
		m.log.WithField("slug", loc.Slug).Info("cache entry expired, evicting")
		m.evict(loc, "expired")
		return false
	}

	if m.settings.IntegrityChecks {
		if err := m.verifyChecksums(loc); err != nil {
			m.log.WithError(err).WithField("slug", loc.Slug).Warn("cache integrity failure, evicting")
			m.evict(loc, "integrity_failure")
			return false
		}
	}
	return true
}

// Add finalizes a cache entry. The package directory is created and
// locked, populate (if non-nil) fills it, the optional pre-cache scan
// runs, metadata and per-file checksums are written, and the marker file
// is written last. On any failure the entry is fully removed before the
// error is returned. The lock is always released.
func (m *Manager) Add(entry *Entry, populate func(packageDir string) error) (err error) {
	loc := m.Locate(entry.Slug, entry.Version)

	if err := os.MkdirAll(loc.PackageDir, 0o755); err != nil {
		return fmt.Errorf("creating package directory: %w", err)
	}

	lock, err := acquireLock(loc.LockFile)
	if err != nil {
		return fmt.Errorf("locking %s/%s: %w", loc.Slug, loc.Version, err)
	}
	defer func() {
		// The lock file stays in place for the lifetime of the entry so
		// that every waiter contends on the same inode. It is excluded
		// from checksums and removed with the rest of the directory.
		if lerr := releaseLock(lock); lerr != nil {
			m.log.WithError(lerr).Warn("releasing cache lock failed")
		}
		if err != nil {
			if rerr := m.Remove(entry.Slug, entry.Version); rerr != nil {
				m.log.WithError(rerr).Warn("cleaning up failed cache entry")
			}
		}
	}()

	if populate != nil {
		if err = populate(loc.PackageDir); err != nil {
			return fmt.Errorf("populating package directory: %w", err)
		}
	}

	if m.settings.PreCacheScan {
		if err = m.preCacheScan(loc); err != nil {
			return err
		}
	}

	if entry.InstalledAt.IsZero() {
		entry.InstalledAt = time.Now()
	}
	if err = m.writeEntry(loc, entry); err != nil {
		return err
	}
	if err = m.writeChecksums(loc); err != nil {
		return err
	}

	// Marker last: its presence asserts everything before it succeeded.
	if err = os.WriteFile(loc.MarkerFile, []byte(entry.InstalledAt.Format(time.RFC3339)+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing marker file: %w", err)
	}

	m.securityEvent("package_cached", logrus.Fields{
		"slug":    loc.Slug,
		"version": loc.Version,
	})
	return nil
}

// ReadEntry loads the persisted metadata for (slug, version).
func (m *Manager) ReadEntry(slug, version string) (*Entry, error) {
	loc := m.Locate(slug, version)
	data, err := os.ReadFile(loc.MetadataFile)
	if err != nil {
		return nil, fmt.Errorf("reading cache metadata: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("parsing cache metadata: %w", err)
	}
	return &entry, nil
}

// List loads every persisted cache entry, newest first.
func (m *Manager) List() ([]*Entry, error) {
	paths, err := filepath.Glob(filepath.Join(m.root, "metadata", "*.json"))
	if err != nil {
		return nil, fmt.Errorf("listing cache metadata: %w", err)
	}

	var entries []*Entry
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			m.log.WithField("file", path).Warn("skipping unreadable cache metadata")
			continue
		}
		entries = append(entries, &entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].InstalledAt.After(entries[j].InstalledAt)
	})
	return entries, nil
}

func (m *Manager) writeEntry(loc Location, entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cache metadata: %w", err)
	}
	if err := os.WriteFile(loc.MetadataFile, data, 0o644); err != nil {
		return fmt.Errorf("writing cache metadata: %w", err)
	}
	return nil
}

// Remove deletes the package directory, metadata file, and checksum file
// as a unit.
func (m *Manager) Remove(slug, version string) error {
	loc := m.Locate(slug, version)

	var firstErr error
	for _, path := range []string{loc.PackageDir, loc.MetadataFile, loc.ChecksumFile} {
		if err := os.RemoveAll(path); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("removing %s: %w", path, err)
		}
	}
	// Drop the now-empty slug directory if this was its last version.
	_ = os.Remove(filepath.Dir(loc.PackageDir))
	return firstErr
}

// Quarantine moves a package directory into isolated storage instead of
// deleting it, then removes the entry's metadata and checksums so it can
// never validate as cached.
func (m *Manager) Quarantine(slug, version, reason string) error {
	loc := m.Locate(slug, version)

	dest := filepath.Join(m.root, "quarantine",
		fmt.Sprintf("%s-%s-%d", loc.Slug, loc.Version, time.Now().Unix()))
	if _, err := os.Stat(loc.PackageDir); err == nil {
		if err := os.Rename(loc.PackageDir, dest); err != nil {
			return fmt.Errorf("quarantining package: %w", err)
		}
	}
	_ = os.RemoveAll(loc.MetadataFile)
	_ = os.RemoveAll(loc.ChecksumFile)
	_ = os.Remove(filepath.Dir(loc.PackageDir))

	m.securityEvent("package_quarantined", logrus.Fields{
		"slug":    loc.Slug,
		"version": loc.Version,
		"reason":  reason,
		"path":    dest,
	})
	return nil
}

// evict removes an invalid entry and records why.
func (m *Manager) evict(loc Location, reason string) {
	if err := m.Remove(loc.Slug, loc.Version); err != nil {
		m.log.WithError(err).WithField("slug", loc.Slug).Warn("evicting cache entry failed")
	}
	m.securityEvent("package_evicted", logrus.Fields{
		"slug":    loc.Slug,
		"version": loc.Version,
		"reason":  reason,
	})
}

// securityEvent appends one JSON line to the dated audit log. Failures
// are logged but never interrupt the caller.
func (m *Manager) securityEvent(event string, fields logrus.Fields) {
	path := filepath.Join(m.root, "logs", "security-"+time.Now().Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		m.log.WithError(err).Warn("opening security audit log failed")
		return
	}
	defer f.Close()

	audit := logrus.New()
	audit.SetFormatter(&logrus.JSONFormatter{})
	audit.SetOutput(f)
	audit.WithFields(fields).Info(event)
}
