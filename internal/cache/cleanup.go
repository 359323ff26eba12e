package cache

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// entryStat is one cached package as seen by the janitor.
type entryStat struct {
	slug        string
	version     string
	installedAt time.Time
	size        int64
}

// Cleanup evicts entries until the cache is inside its size and age
// budget, oldest first. force wipes every entry regardless of budget.
func (m *Manager) Cleanup(force bool) error {
	entries, err := m.scanEntries()
	if err != nil {
		return err
	}

	if force {
		for _, e := range entries {
			m.evict(m.Locate(e.slug, e.version), "forced_cleanup")
		}
		return nil
	}

	// Age ceiling first.
	kept := entries[:0]
	for _, e := range entries {
		if m.settings.MaxCacheAge > 0 && time.Since(e.installedAt) > m.settings.MaxCacheAge {
			m.evict(m.Locate(e.slug, e.version), "expired")
			continue
		}
		kept = append(kept, e)
	}

	// Then size budget, oldest first.
	var total int64
	for _, e := range kept {
		total += e.size
	}
	if m.settings.MaxCacheSize <= 0 || total <= m.settings.MaxCacheSize {
		return nil
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].installedAt.Before(kept[j].installedAt) })
	for _, e := range kept {
		if total <= m.settings.MaxCacheSize {
			break
		}
		m.evict(m.Locate(e.slug, e.version), "size_budget")
		total -= e.size
	}
	return nil
}

// StartJanitor runs Cleanup on the configured interval until ctx is
// canceled. The goroutine is owned by the manager's caller lifecycle;
// there is no package-global timer.
func (m *Manager) StartJanitor(ctx context.Context) {
	interval := m.settings.CleanupInterval
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.Cleanup(false); err != nil {
					m.log.WithError(err).Warn("background cache cleanup failed")
				}
			}
		}
	}()
}

// scanEntries walks packages/<slug>/<version> and stats each entry.
func (m *Manager) scanEntries() ([]entryStat, error) {
	packagesDir := filepath.Join(m.root, "packages")
	slugs, err := os.ReadDir(packagesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []entryStat
	for _, slugDir := range slugs {
		if !slugDir.IsDir() {
			continue
		}
		versions, err := os.ReadDir(filepath.Join(packagesDir, slugDir.Name()))
		if err != nil {
			continue
		}
		for _, verDir := range versions {
			if !verDir.IsDir() {
				continue
			}
			e := entryStat{slug: slugDir.Name(), version: verDir.Name()}
			loc := m.Locate(e.slug, e.version)

			if entry, err := m.ReadEntry(e.slug, e.version); err == nil {
				e.installedAt = entry.InstalledAt
			} else if info, err := os.Stat(loc.MarkerFile); err == nil {
				e.installedAt = info.ModTime()
			} else if info, err := os.Stat(loc.PackageDir); err == nil {
				e.installedAt = info.ModTime()
			}
			e.size = dirSize(loc.PackageDir)
			entries = append(entries, e)
		}
	}

	if len(entries) > 0 {
		m.log.WithFields(logrus.Fields{"entries": len(entries)}).Debug("scanned cache entries")
	}
	return entries, nil
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
