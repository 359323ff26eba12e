package pkgmanager

import (
	"bufio"
	"context"
	"fmt"
	"net/textproto"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// pipVersionOps are the PEP 440 comparison operators, longest first so
// "==" wins over "=".
var pipVersionOps = []string{"===", "==", "~=", ">=", "<=", "!=", ">", "<"}

// Pip handles pip-syntax install commands. Every request is
// transparently upgraded to pipx: an isolated per-package virtualenv
// with automatic PATH registration is materially more reliable than a
// raw pip install into whatever environment happens to be active.
type Pip struct {
	run Runner
	log *logrus.Entry
}

func NewPip(run Runner, log *logrus.Entry) *Pip {
	return &Pip{run: run, log: log}
}

func (p *Pip) Name() string { return "pip" }

func (p *Pip) CanHandle(command string) bool {
	switch firstWord(command) {
	case "pip", "pip3", "pipx":
		return true
	}
	return false
}

func (p *Pip) ParseInstallCommand(command string) (*PackageInfo, error) {
	tokens, err := tokenize(command)
	if err != nil {
		return nil, err
	}

	rest := tokens[1:]
	if len(rest) > 0 && rest[0] == "install" {
		rest = rest[1:]
	}
	spec := firstOperand(rest)
	if spec == "" {
		return nil, fmt.Errorf("pip command names no package: %q", command)
	}

	info := &PackageInfo{Registry: "pypi", Raw: command, Tokens: tokens}
	info.Name, info.Version = splitPipSpec(spec)
	info.Version = normalizeVersion(info.Version)
	return info, nil
}

func (p *Pip) Install(ctx context.Context, info *PackageInfo, dir string) error {
	spec := info.Name
	if info.Version != "" {
		if strings.ContainsAny(info.Version[:1], "><~!=") {
			// Loose constraint parsed verbatim from the request.
			spec = info.Name + info.Version
		} else {
			spec = info.Name + "==" + info.Version
		}
	}
	// --force makes a repeated install of the same package converge
	// instead of failing on the existing venv.
	if _, err := runOK(ctx, p.run, dir, "pipx", "install", spec, "--force"); err != nil {
		return fmt.Errorf("installing %s via pipx: %w", info.Name, err)
	}
	return nil
}

func (p *Pip) FindExecutable(ctx context.Context, info *PackageInfo, dir string) (*Executable, error) {
	for _, name := range executableNamePermutations(info.Name) {
		if path, err := exec.LookPath(name); err == nil {
			return &Executable{Command: path}, nil
		}
	}

	// PATH came up empty; ask pipx what apps it exposed.
	res, err := p.run(ctx, dir, "pipx", "list")
	if err != nil || res.ExitCode != 0 {
		return nil, nil
	}
	apps := parsePipxApps(res.Stdout)
	for _, name := range executableNamePermutations(info.Name) {
		if app, ok := apps[name]; ok {
			return &Executable{Command: app}, nil
		}
	}
	return nil, nil
}

// Metadata reads the installed distribution's core metadata out of the
// pipx venv, so the security checks see the package's real
// dependencies and license rather than just the requested spec.
func (p *Pip) Metadata(ctx context.Context, info *PackageInfo, dir string) (map[string]any, error) {
	meta := map[string]any{
		"name":     info.Name,
		"version":  info.Version,
		"registry": "pypi",
	}

	path := findDistInfoMetadata(pipxHome(), info.Name)
	if path == "" {
		return meta, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return meta, nil
	}
	defer f.Close()

	// Core metadata is RFC 822 headers followed by the description.
	headers, err := textproto.NewReader(bufio.NewReader(f)).ReadMIMEHeader()
	if err != nil && len(headers) == 0 {
		p.log.WithError(err).WithField("package", info.Name).Debug("unparseable dist-info metadata")
		return meta, nil
	}

	if name := headers.Get("Name"); name != "" {
		meta["name"] = name
	}
	if version := headers.Get("Version"); version != "" {
		meta["version"] = version
	}
	if license := headers.Get("License-Expression"); license != "" {
		meta["license"] = license
	} else if license := headers.Get("License"); license != "" {
		meta["license"] = license
	}
	if deps := parseRequiresDist(headers.Values("Requires-Dist")); len(deps) > 0 {
		meta["dependencies"] = deps
	}
	return meta, nil
}

func pipxHome() string {
	if home := os.Getenv("PIPX_HOME"); home != "" {
		return home
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".local", "pipx")
	}
	return filepath.Join(userHome, ".local", "pipx")
}

// findDistInfoMetadata locates the METADATA file for a package inside
// its pipx venv, tolerating the dash/underscore normalization between
// the requested name and the installed distribution directory.
func findDistInfoMetadata(home, name string) string {
	for _, venv := range []string{name, strings.ReplaceAll(name, "_", "-")} {
		pattern := filepath.Join(home, "venvs", venv, "lib", "python*", "site-packages",
			strings.ReplaceAll(venv, "-", "_")+"-*.dist-info", "METADATA")
		if matches, err := filepath.Glob(pattern); err == nil && len(matches) > 0 {
			return matches[0]
		}
	}
	return ""
}

// parseRequiresDist flattens Requires-Dist headers such as
// "requests (>=2.0)" or "httpx>=0.24; extra == 'cli'" into
// name -> constraint pairs. Extra-gated requirements are skipped.
func parseRequiresDist(lines []string) map[string]any {
	deps := make(map[string]any)
	for _, line := range lines {
		req, marker, _ := strings.Cut(line, ";")
		if strings.Contains(marker, "extra") {
			continue
		}
		req = strings.TrimSpace(req)
		if req == "" {
			continue
		}
		i := strings.IndexFunc(req, func(r rune) bool {
			return !(r == '-' || r == '_' || r == '.' ||
				(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
		})
		if i == 0 {
			continue
		}
		name, constraint := req, ""
		if i > 0 {
			name = req[:i]
			constraint = strings.Trim(strings.TrimSpace(req[i:]), "()")
		}
		deps[name] = constraint
	}
	return deps
}

// executableNamePermutations lists the names a Python package's console
// script plausibly registered under, most specific first.
func executableNamePermutations(name string) []string {
	candidates := []string{
		name,
		strings.ReplaceAll(name, "-", "_"),
		strings.ReplaceAll(name, "_", "-"),
	}
	for _, prefix := range []string{"mcp-", "mcp_"} {
		if strings.HasPrefix(name, prefix) {
			candidates = append(candidates, strings.TrimPrefix(name, prefix))
		}
	}
	candidates = append(candidates, name+"-server")
	if i := strings.LastIndex(name, "-"); i >= 0 && i+1 < len(name) {
		candidates = append(candidates, name[i+1:])
	}

	seen := make(map[string]bool, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// parsePipxApps extracts exposed app names from `pipx list` output.
// Apps are the "- name" lines nested under each package entry.
func parsePipxApps(output string) map[string]string {
	apps := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "- ") {
			continue
		}
		app := strings.TrimSpace(strings.TrimPrefix(trimmed, "- "))
		if app != "" {
			apps[app] = app
		}
	}
	return apps
}

// splitPipSpec splits "name==1.2.3" style requirement specs. Loose
// constraints (>=, ~=, ...) keep the constraint text as the version.
func splitPipSpec(spec string) (name, version string) {
	for _, op := range pipVersionOps {
		if i := strings.Index(spec, op); i > 0 {
			v := spec[i:]
			if op == "==" || op == "===" {
				v = strings.TrimLeft(v, "=")
			}
			return spec[:i], v
		}
	}
	return spec, ""
}
