package cache

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// checksumExcluded are files that change independently of package content
// and are skipped when hashing.
var checksumExcluded = map[string]bool{
	LockFileName:   true,
	MarkerFileName: true,
	".DS_Store":    true,
	"Thumbs.db":    true,
}

// writeChecksums hashes every file under the package directory and writes
// a "sha256hex  relpath" line per file, sorted by path.
func (m *Manager) writeChecksums(loc Location) error {
	sums, err := computeChecksums(loc.PackageDir)
	if err != nil {
		return fmt.Errorf("computing checksums: %w", err)
	}

	paths := make([]string, 0, len(sums))
	for p := range sums {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&b, "%s  %s\n", sums[p], p)
	}
	if err := os.WriteFile(loc.ChecksumFile, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing checksum file: %w", err)
	}
	return nil
}

// verifyChecksums recomputes every recorded checksum against the live
// file. A missing file, a changed file, or an unreadable checksum file
// all fail verification.
func (m *Manager) verifyChecksums(loc Location) error {
	recorded, err := readChecksumFile(loc.ChecksumFile)
	if err != nil {
		return err
	}

	live, err := computeChecksums(loc.PackageDir)
	if err != nil {
		return fmt.Errorf("recomputing checksums: %w", err)
	}

	for path, want := range recorded {
		got, ok := live[path]
		if !ok {
			return fmt.Errorf("checksum verification: %s is missing", path)
		}
		if got != want {
			return fmt.Errorf("checksum mismatch for %s", path)
		}
	}
	return nil
}

func readChecksumFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading checksum file: %w", err)
	}
	defer f.Close()

	sums := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "  ", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed checksum line %q", line)
		}
		sums[parts[1]] = parts[0]
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading checksum file: %w", err)
	}
	return sums, nil
}

// computeChecksums returns relpath → sha256 hex for every regular file
// under dir, minus the exclusion set.
func computeChecksums(dir string) (map[string]string, error) {
	sums := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || checksumExcluded[d.Name()] {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		sum, err := hashFile(path)
		if err != nil {
			return err
		}
		sums[filepath.ToSlash(rel)] = sum
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sums, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
