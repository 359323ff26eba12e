package installer

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/e14z/mcpx/internal/cache"
	"github.com/e14z/mcpx/internal/pkgmanager"
	"github.com/e14z/mcpx/internal/platform"
	"github.com/e14z/mcpx/internal/recovery"
)

// searchMaxDepth bounds the name-pattern search below the cache dir.
const searchMaxDepth = 3

// resolveExecutable finds how to start the installed package. The
// adapter's native resolution wins; complex and git installs fall back
// through manifest entry points, then a bounded name-pattern search,
// then any file with the executable bit.
func (a *AutoInstaller) resolveExecutable(ctx context.Context, mgr pkgmanager.Manager, info *pkgmanager.PackageInfo, dir string) (*pkgmanager.Executable, error) {
	exe, err := mgr.FindExecutable(ctx, info, dir)
	if err != nil {
		return nil, err
	}
	if exe != nil {
		return exe, nil
	}

	if exe := manifestExecutable(dir); exe != nil {
		return exe, nil
	}
	if exe := namePatternSearch(dir, info.Name); exe != nil {
		return exe, nil
	}
	if exe := anyExecutableFile(dir); exe != nil {
		return exe, nil
	}
	return nil, recovery.Errorf(recovery.CategoryDependency,
		"no executable found for %s under %s", info.Name, dir)
}

// manifestExecutable reads entry points from a package.json directly
// under dir or one level down (a git clone nests the repo).
func manifestExecutable(dir string) *pkgmanager.Executable {
	candidates := []string{filepath.Join(dir, "package.json")}
	if entries, err := os.ReadDir(dir); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				candidates = append(candidates, filepath.Join(dir, e.Name(), "package.json"))
			}
		}
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var manifest struct {
			Bin  json.RawMessage `json:"bin"`
			Main string          `json:"main"`
		}
		if err := json.Unmarshal(data, &manifest); err != nil {
			continue
		}
		base := filepath.Dir(path)
		if rel := firstBin(manifest.Bin); rel != "" {
			return &pkgmanager.Executable{Command: "node", Args: []string{filepath.Join(base, filepath.FromSlash(rel))}}
		}
		if manifest.Main != "" {
			target := filepath.Join(base, filepath.FromSlash(manifest.Main))
			if _, err := os.Stat(target); err == nil {
				return &pkgmanager.Executable{Command: "node", Args: []string{target}}
			}
		}
	}
	return nil
}

// firstBin extracts one entry from a package.json bin field.
func firstBin(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single
	}
	var multi map[string]string
	if err := json.Unmarshal(raw, &multi); err == nil {
		for _, p := range multi {
			return p
		}
	}
	return ""
}

// namePatternSearch walks dir up to searchMaxDepth looking for a file
// whose name relates to the package and whose extension names an
// interpreter.
func namePatternSearch(dir, name string) *pkgmanager.Executable {
	short := strings.TrimPrefix(name, "mcp-")
	var found string

	walk(dir, searchMaxDepth, func(path string, d fs.DirEntry) bool {
		base := d.Name()
		ext := filepath.Ext(base)
		if ext != ".js" && ext != ".py" && ext != ".mjs" {
			return false
		}
		stem := strings.TrimSuffix(base, ext)
		switch {
		case stem == name, stem == short:
		case stem == "index", stem == "main", stem == "server", stem == "cli", stem == "app":
		default:
			return false
		}
		found = path
		return true
	})
	if found == "" {
		return nil
	}
	cmd := "node"
	if filepath.Ext(found) == ".py" {
		cmd = "python"
	}
	return &pkgmanager.Executable{Command: cmd, Args: []string{found}}
}

// anyExecutableFile returns the first regular file under dir carrying
// the executable bit.
func anyExecutableFile(dir string) *pkgmanager.Executable {
	var found string
	walk(dir, searchMaxDepth, func(path string, d fs.DirEntry) bool {
		base := d.Name()
		if base == cache.LockFileName || base == cache.MarkerFileName {
			return false
		}
		if !platform.IsExecutable(path) {
			return false
		}
		found = path
		return true
	})
	if found == "" {
		return nil
	}
	return &pkgmanager.Executable{Command: found}
}

// walk visits regular files under dir up to maxDepth levels down,
// stopping when fn reports a hit. node_modules and VCS internals are
// skipped.
func walk(dir string, maxDepth int, fn func(path string, d fs.DirEntry) bool) {
	root := filepath.Clean(dir)
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		depth := strings.Count(rel, string(filepath.Separator))
		if d.IsDir() {
			if d.Name() == "node_modules" || d.Name() == ".git" {
				return filepath.SkipDir
			}
			if depth >= maxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if fn(path, d) {
			return filepath.SkipAll
		}
		return nil
	})
}
