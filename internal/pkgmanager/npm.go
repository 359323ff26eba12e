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

// NPM handles npm and npx install commands. npx-style commands are
// never installed locally: MCP servers are meant to be fetched fresh
// each run, so install only probes that npx itself works.
type NPM struct {
	run Runner
	log *logrus.Entry
}

func NewNPM(run Runner, log *logrus.Entry) *NPM {
	return &NPM{run: run, log: log}
}

func (n *NPM) Name() string { return "npm" }

func (n *NPM) CanHandle(command string) bool {
	switch firstWord(command) {
	case "npm", "npx":
		return true
	}
	return false
}

func (n *NPM) ParseInstallCommand(command string) (*PackageInfo, error) {
	tokens, err := tokenize(command)
	if err != nil {
		return nil, err
	}

	info := &PackageInfo{Registry: "npm", Raw: command, Tokens: tokens}

	switch tokens[0] {
	case "npx":
		info.UseNpx = true
		spec := firstOperand(tokens[1:])
		if spec == "" {
			return nil, fmt.Errorf("npx command names no package: %q", command)
		}
		info.Name, info.Version = splitNameVersion(spec)

	case "npm":
		rest := tokens[1:]
		if len(rest) == 0 || (rest[0] != "install" && rest[0] != "i" && rest[0] != "add") {
			return nil, fmt.Errorf("unsupported npm command: %q", command)
		}
		spec := lastOperand(rest[1:])
		if spec == "" {
			return nil, fmt.Errorf("npm install names no package: %q", command)
		}
		info.Name, info.Version = splitNameVersion(spec)

	default:
		return nil, fmt.Errorf("not an npm command: %q", command)
	}

	if strings.HasPrefix(info.Name, "@") {
		if i := strings.Index(info.Name, "/"); i > 0 {
			info.Scope = info.Name[:i]
		}
	}
	info.Version = normalizeVersion(info.Version)
	return info, nil
}

func (n *NPM) Install(ctx context.Context, info *PackageInfo, dir string) error {
	if info.UseNpx {
		// Availability probe only.
		if _, err := runOK(ctx, n.run, dir, "npx", "--help"); err != nil {
			return fmt.Errorf("probing npx: %w", err)
		}
		return nil
	}

	if err := n.writeThrowawayManifest(dir); err != nil {
		return err
	}
	if _, err := runOK(ctx, n.run, dir, "npm", "install", info.Spec(), "--no-save"); err != nil {
		return fmt.Errorf("installing %s: %w", info.Name, err)
	}
	return nil
}

// writeThrowawayManifest gives npm a package.json to install against so
// it does not walk up looking for one outside the cache.
func (n *NPM) writeThrowawayManifest(dir string) error {
	manifest := map[string]any{
		"name":    "mcpx-cache-entry",
		"version": "0.0.0",
		"private": true,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding package.json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "package.json"), data, 0o644); err != nil {
		return fmt.Errorf("writing package.json: %w", err)
	}
	return nil
}

func (n *NPM) FindExecutable(ctx context.Context, info *PackageInfo, dir string) (*Executable, error) {
	if info.UseNpx {
		// Re-issue the original npx invocation verbatim.
		return &Executable{Command: "npx", Args: info.Tokens[1:]}, nil
	}

	bin := info.Name
	if info.Scope != "" {
		bin = strings.TrimPrefix(bin, info.Scope+"/")
	}
	for _, candidate := range []string{bin, bin + ".cmd"} {
		path := filepath.Join(dir, "node_modules", ".bin", candidate)
		if platform.IsExecutable(path) {
			return &Executable{Command: path}, nil
		}
	}
	return nil, nil
}

func (n *NPM) Metadata(ctx context.Context, info *PackageInfo, dir string) (map[string]any, error) {
	path := filepath.Join(dir, "node_modules", filepath.FromSlash(info.Name), "package.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return map[string]any{"name": info.Name, "version": info.Version}, nil
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return meta, nil
}

// firstOperand returns the first token that is not a flag.
func firstOperand(tokens []string) string {
	for _, t := range tokens {
		if !isFlag(t) {
			return t
		}
	}
	return ""
}

// lastOperand returns the last token that is not a flag.
func lastOperand(tokens []string) string {
	for i := len(tokens) - 1; i >= 0; i-- {
		if !isFlag(tokens[i]) {
			return tokens[i]
		}
	}
	return ""
}

// splitNameVersion splits "name@1.2.3" keeping scoped names intact:
// the version separator is the last @ past position zero.
func splitNameVersion(spec string) (name, version string) {
	if i := strings.LastIndex(spec, "@"); i > 0 {
		return spec[:i], spec[i+1:]
	}
	return spec, ""
}
