package pkgmanager

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/e14z/mcpx/internal/platform"
)

// Cargo handles `cargo install` commands. Cargo always places binaries
// in $CARGO_HOME/bin regardless of the working directory, so resolution
// checks there before PATH and finally asks cargo itself.
type Cargo struct {
	run Runner
	log *logrus.Entry
}

func NewCargo(run Runner, log *logrus.Entry) *Cargo {
	return &Cargo{run: run, log: log}
}

func (c *Cargo) Name() string { return "cargo" }

func (c *Cargo) CanHandle(command string) bool {
	return firstWord(command) == "cargo"
}

func (c *Cargo) ParseInstallCommand(command string) (*PackageInfo, error) {
	tokens, err := tokenize(command)
	if err != nil {
		return nil, err
	}
	if tokens[0] != "cargo" || len(tokens) < 2 || tokens[1] != "install" {
		return nil, fmt.Errorf("not a cargo install command: %q", command)
	}

	info := &PackageInfo{Registry: "crates", Raw: command, Tokens: tokens}
	for i := 2; i < len(tokens); i++ {
		switch tokens[i] {
		case "--version", "--vers":
			if i+1 < len(tokens) {
				info.Version = tokens[i+1]
				i++
			}
		case "--git":
			if i+1 < len(tokens) {
				info.GitURL = tokens[i+1]
				i++
			}
		default:
			if !isFlag(tokens[i]) && info.Name == "" {
				info.Name = tokens[i]
			}
		}
	}
	if info.Name == "" && info.GitURL != "" {
		info.Name = strings.TrimSuffix(filepath.Base(info.GitURL), ".git")
	}
	if info.Name == "" {
		return nil, fmt.Errorf("cargo install names no crate: %q", command)
	}
	info.Version = normalizeVersion(info.Version)
	return info, nil
}

func (c *Cargo) Install(ctx context.Context, info *PackageInfo, dir string) error {
	args := []string{"install", info.Name}
	if info.Version != "" {
		args = append(args, "--version", info.Version)
	}
	if info.GitURL != "" {
		args = []string{"install", "--git", info.GitURL}
	}
	if _, err := runOK(ctx, c.run, dir, "cargo", args...); err != nil {
		return fmt.Errorf("installing %s: %w", info.Name, err)
	}
	return nil
}

func (c *Cargo) FindExecutable(ctx context.Context, info *PackageInfo, dir string) (*Executable, error) {
	path := filepath.Join(cargoHome(), "bin", info.Name)
	if platform.IsExecutable(path) {
		return &Executable{Command: path}, nil
	}
	if found, err := exec.LookPath(info.Name); err == nil {
		return &Executable{Command: found}, nil
	}

	res, err := c.run(ctx, dir, "cargo", "install", "--list")
	if err != nil || res.ExitCode != 0 {
		return nil, nil
	}
	for _, bin := range parseCargoInstallList(res.Stdout, info.Name) {
		candidate := filepath.Join(cargoHome(), "bin", bin)
		if platform.IsExecutable(candidate) {
			return &Executable{Command: candidate}, nil
		}
	}
	return nil, nil
}

// Metadata reads the crate manifest from the source tree cargo
// downloaded under $CARGO_HOME/registry/src, so the security checks see
// the crate's real dependencies, license, and build script.
func (c *Cargo) Metadata(ctx context.Context, info *PackageInfo, dir string) (map[string]any, error) {
	meta := map[string]any{
		"name":     info.Name,
		"version":  info.Version,
		"registry": "crates",
	}

	src := findCrateSource(cargoHome(), info.Name, info.Version)
	if src == "" {
		return meta, nil
	}

	manifest, err := os.ReadFile(filepath.Join(src, "Cargo.toml"))
	if err != nil {
		return meta, nil
	}
	v := viper.New()
	v.SetConfigType("toml")
	if err := v.ReadConfig(bytes.NewReader(manifest)); err != nil {
		c.log.WithError(err).WithField("crate", info.Name).Debug("unparseable crate manifest")
		return meta, nil
	}

	if name := v.GetString("package.name"); name != "" {
		meta["name"] = name
	}
	if version := v.GetString("package.version"); version != "" {
		meta["version"] = version
	}
	if license := v.GetString("package.license"); license != "" {
		meta["license"] = license
	}
	if deps := crateDependencies(v.GetStringMap("dependencies")); len(deps) > 0 {
		meta["dependencies"] = deps
	}

	// A build script runs arbitrary code at install time; surface it
	// the way npm lifecycle hooks are surfaced so it gets scanned.
	buildScript := v.GetString("package.build")
	if buildScript == "" {
		buildScript = "build.rs"
	}
	if body, err := readCapped(filepath.Join(src, buildScript), maxScriptScanBytes); err == nil && body != "" {
		meta["scripts"] = map[string]any{"install": body}
	}
	return meta, nil
}

// maxScriptScanBytes bounds how much of a build script is read for
// scanning.
const maxScriptScanBytes = 64 * 1024

func readCapped(path string, limit int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// findCrateSource locates the unpacked crate under the registry source
// cache, e.g. $CARGO_HOME/registry/src/index.crates.io-<hash>/name-1.2.3.
// With no version pinned the most recently unpacked match wins.
func findCrateSource(home, name, version string) string {
	pattern := name + "-*"
	if version != "" {
		pattern = name + "-" + version
	}
	matches, err := filepath.Glob(filepath.Join(home, "registry", "src", "*", pattern))
	if err != nil {
		return ""
	}
	var best string
	var bestMod time.Time
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.IsDir() {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best, bestMod = m, info.ModTime()
		}
	}
	return best
}

// crateDependencies flattens Cargo.toml dependency entries to
// name -> requirement strings. Table entries keep whichever of the
// version or git source they declare.
func crateDependencies(raw map[string]any) map[string]any {
	deps := make(map[string]any, len(raw))
	for name, spec := range raw {
		switch s := spec.(type) {
		case string:
			deps[name] = s
		case map[string]any:
			if v, ok := s["version"].(string); ok {
				deps[name] = v
			} else if g, ok := s["git"].(string); ok {
				deps[name] = "git+" + g
			} else {
				deps[name] = "*"
			}
		default:
			deps[name] = fmt.Sprint(spec)
		}
	}
	return deps
}

func cargoHome() string {
	if home := os.Getenv("CARGO_HOME"); home != "" {
		return home
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return ".cargo"
	}
	return filepath.Join(userHome, ".cargo")
}

// parseCargoInstallList extracts the binary names a crate installed
// from `cargo install --list` output:
//
//	crate-name v1.2.3:
//	    binary-one
//	    binary-two
func parseCargoInstallList(output, crate string) []string {
	var bins []string
	inCrate := false
	for _, line := range strings.Split(output, "\n") {
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, " ") && !strings.HasPrefix(line, "\t") {
			name, _, _ := strings.Cut(strings.TrimSuffix(line, ":"), " ")
			inCrate = name == crate
			continue
		}
		if inCrate {
			if bin := strings.TrimSpace(line); bin != "" {
				bins = append(bins, bin)
			}
		}
	}
	return bins
}
