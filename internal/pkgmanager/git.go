package pkgmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/e14z/mcpx/internal/platform"
)

// branchProbeOrder is tried when the remote does not advertise a
// default branch through the symref.
var branchProbeOrder = []string{"main", "master", "develop", "dev"}

// conventionalEntrypoints are tried, in order, when a clone carries no
// manifest that names its executable.
var conventionalEntrypoints = []string{
	"index.js",
	"server.js",
	"main.js",
	"app.js",
	"dist/index.js",
	"build/index.js",
	"main.py",
	"server.py",
	"app.py",
	"__main__.py",
	"src/main.py",
	"src/server.py",
}

// Git handles `git clone` install commands: shallow clone with branch
// auto-discovery, then ecosystem dependency setup inferred from the
// files the clone actually contains.
type Git struct {
	run Runner
	log *logrus.Entry
}

func NewGit(run Runner, log *logrus.Entry) *Git {
	return &Git{run: run, log: log}
}

func (g *Git) Name() string { return "git" }

func (g *Git) CanHandle(command string) bool {
	if firstWord(command) == "git" {
		return true
	}
	// A bare repository URL is also a git install request.
	return strings.HasSuffix(strings.TrimSpace(command), ".git") ||
		strings.HasPrefix(command, "git@")
}

func (g *Git) ParseInstallCommand(command string) (*PackageInfo, error) {
	tokens, err := tokenize(command)
	if err != nil {
		return nil, err
	}

	info := &PackageInfo{Registry: "git", Raw: command, Tokens: tokens}

	rest := tokens
	if rest[0] == "git" {
		if len(rest) < 2 || rest[1] != "clone" {
			return nil, fmt.Errorf("not a git clone command: %q", command)
		}
		rest = rest[2:]
	}

	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "-b", "--branch":
			if i+1 < len(rest) {
				info.Branch = rest[i+1]
				i++
			}
		default:
			if !isFlag(rest[i]) && info.GitURL == "" {
				info.GitURL = rest[i]
			}
		}
	}
	if info.GitURL == "" {
		return nil, fmt.Errorf("git clone names no repository: %q", command)
	}

	base := info.GitURL[strings.LastIndex(info.GitURL, "/")+1:]
	info.Name = strings.TrimSuffix(base, ".git")
	if info.Name == "" {
		return nil, fmt.Errorf("cannot derive a name from %q", info.GitURL)
	}
	return info, nil
}

func (g *Git) Install(ctx context.Context, info *PackageInfo, dir string) error {
	branch := info.Branch
	if branch == "" {
		branch = g.discoverBranch(ctx, dir, info.GitURL)
	}

	repo := g.repoDir(info, dir)
	args := []string{"clone", "--depth", "1"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, info.GitURL, repo)
	if _, err := runOK(ctx, g.run, dir, "git", args...); err != nil {
		return fmt.Errorf("cloning %s: %w", info.GitURL, err)
	}

	if err := g.setupDependencies(ctx, repo); err != nil {
		return err
	}
	g.markEntrypoints(repo)
	return nil
}

// markEntrypoints restores the executable bit on the repo's declared
// and conventional entry points. Checkouts that passed through zip
// archives or a Windows commit often arrive without it.
func (g *Git) markEntrypoints(repo string) {
	var rels []string
	if data, err := os.ReadFile(filepath.Join(repo, "package.json")); err == nil {
		var manifest struct {
			Bin  json.RawMessage `json:"bin"`
			Main string          `json:"main"`
		}
		if json.Unmarshal(data, &manifest) == nil {
			if rel := binEntry(manifest.Bin); rel != "" {
				rels = append(rels, rel)
			}
			if manifest.Main != "" {
				rels = append(rels, manifest.Main)
			}
		}
	}
	rels = append(rels, conventionalEntrypoints...)

	for _, rel := range rels {
		path := filepath.Join(repo, filepath.FromSlash(rel))
		if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
			continue
		}
		if err := platform.MakeExecutable(path); err != nil {
			g.log.WithError(err).WithField("path", path).Debug("marking entry point executable failed")
		}
	}
}

// discoverBranch asks the remote for its default branch, probing a
// fixed list when the symref is unavailable. An empty result lets the
// clone use whatever the remote serves.
func (g *Git) discoverBranch(ctx context.Context, dir, url string) string {
	res, err := g.run(ctx, dir, "git", "ls-remote", "--symref", url, "HEAD")
	if err == nil && res.ExitCode == 0 {
		if branch := parseSymref(res.Stdout); branch != "" {
			return branch
		}
	}

	for _, branch := range branchProbeOrder {
		res, err := g.run(ctx, dir, "git", "ls-remote", "--heads", url, branch)
		if err == nil && res.ExitCode == 0 && strings.TrimSpace(res.Stdout) != "" {
			return branch
		}
	}
	g.log.WithField("url", url).Debug("no default branch discovered")
	return ""
}

// setupDependencies runs the ecosystem install the clone's files imply.
func (g *Git) setupDependencies(ctx context.Context, repo string) error {
	if _, err := os.Stat(filepath.Join(repo, "package.json")); err == nil {
		if _, err := runOK(ctx, g.run, repo, "npm", "install"); err != nil {
			return fmt.Errorf("installing npm dependencies: %w", err)
		}
		return nil
	}
	if _, err := os.Stat(filepath.Join(repo, "requirements.txt")); err == nil {
		if _, err := runOK(ctx, g.run, repo, "pip", "install", "-r", "requirements.txt"); err != nil {
			return fmt.Errorf("installing python dependencies: %w", err)
		}
	}
	return nil
}

func (g *Git) FindExecutable(ctx context.Context, info *PackageInfo, dir string) (*Executable, error) {
	repo := g.repoDir(info, dir)

	if exe := g.executableFromManifest(repo); exe != nil {
		return exe, nil
	}
	for _, entry := range conventionalEntrypoints {
		path := filepath.Join(repo, filepath.FromSlash(entry))
		if _, err := os.Stat(path); err == nil {
			return &Executable{Command: interpreterFor(entry), Args: []string{path}}, nil
		}
	}
	return nil, nil
}

// executableFromManifest resolves an entry point from package.json,
// preferring bin over main over a start script.
func (g *Git) executableFromManifest(repo string) *Executable {
	data, err := os.ReadFile(filepath.Join(repo, "package.json"))
	if err != nil {
		return nil
	}
	var manifest struct {
		Bin     json.RawMessage   `json:"bin"`
		Main    string            `json:"main"`
		Scripts map[string]string `json:"scripts"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil
	}

	if rel := binEntry(manifest.Bin); rel != "" {
		return &Executable{Command: "node", Args: []string{filepath.Join(repo, filepath.FromSlash(rel))}}
	}
	if manifest.Main != "" {
		path := filepath.Join(repo, filepath.FromSlash(manifest.Main))
		if _, err := os.Stat(path); err == nil {
			return &Executable{Command: "node", Args: []string{path}}
		}
	}
	if _, ok := manifest.Scripts["start"]; ok {
		return &Executable{Command: "npm", Args: []string{"--prefix", repo, "start"}}
	}
	return nil
}

func (g *Git) Metadata(ctx context.Context, info *PackageInfo, dir string) (map[string]any, error) {
	data, err := os.ReadFile(filepath.Join(g.repoDir(info, dir), "package.json"))
	if err != nil {
		return map[string]any{"name": info.Name, "registry": "git", "url": info.GitURL}, nil
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parsing package.json: %w", err)
	}
	return meta, nil
}

// repoDir is where Install clones and the other methods look.
func (g *Git) repoDir(info *PackageInfo, dir string) string {
	return filepath.Join(dir, info.Name)
}

// parseSymref extracts the default branch from
// "ref: refs/heads/<branch>\tHEAD" ls-remote output.
func parseSymref(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if !strings.HasPrefix(line, "ref:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			return strings.TrimPrefix(fields[1], "refs/heads/")
		}
	}
	return ""
}

// binEntry picks the entry point from a package.json "bin" field,
// which is either a string or a name-to-path map.
func binEntry(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return single
	}
	var multi map[string]string
	if err := json.Unmarshal(raw, &multi); err == nil {
		for _, path := range multi {
			return path
		}
	}
	return ""
}

// interpreterFor maps a conventional entry point to its runtime.
func interpreterFor(entry string) string {
	if strings.HasSuffix(entry, ".py") {
		return "python"
	}
	return "node"
}
