package pkgmanager

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"testing"

	"github.com/e14z/mcpx/internal/platform"
	"github.com/e14z/mcpx/internal/sandbox"
)

func TestPipParseInstallCommand(t *testing.T) {
	p := NewPip((&fakeRunner{}).run, testLog())

	tests := []struct {
		command string
		name    string
		version string
		wantErr bool
	}{
		{command: "pip install mcp-server-git", name: "mcp-server-git"},
		{command: "pip3 install requests==2.31.0", name: "requests", version: "2.31.0"},
		{command: "pipx install some-tool", name: "some-tool"},
		{command: "pip install 'httpx>=0.24'", name: "httpx", version: ">=0.24"},
		{command: "pip install", wantErr: true},
		{command: "pip install --upgrade", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			info, err := p.ParseInstallCommand(tt.command)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseInstallCommand(%q) accepted, want error", tt.command)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseInstallCommand: %v", err)
			}
			if info.Name != tt.name || info.Version != tt.version {
				t.Errorf("got %q@%q, want %q@%q", info.Name, info.Version, tt.name, tt.version)
			}
			if info.Registry != "pypi" {
				t.Errorf("Registry = %q, want pypi", info.Registry)
			}
		})
	}
}

func TestPipInstallUpgradesToPipx(t *testing.T) {
	fake := &fakeRunner{}
	p := NewPip(fake.run, testLog())

	info, err := p.ParseInstallCommand("pip install requests==2.31.0")
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Install(context.Background(), info, t.TempDir()); err != nil {
		t.Fatalf("Install: %v", err)
	}

	if len(fake.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(fake.calls))
	}
	want := []string{"install", "requests==2.31.0", "--force"}
	if c := fake.calls[0]; c.command != "pipx" || !reflect.DeepEqual(c.args, want) {
		t.Errorf("install = %s %v, want pipx %v", c.command, c.args, want)
	}
}

func TestExecutableNamePermutations(t *testing.T) {
	got := executableNamePermutations("mcp-server-fetch")
	want := []string{
		"mcp-server-fetch",
		"mcp_server_fetch",
		"server-fetch",
		"mcp-server-fetch-server",
		"fetch",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("permutations = %v, want %v", got, want)
	}
}

func TestPipFindExecutableOnPath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("PATH fixture is unix-shaped")
	}

	binDir := t.TempDir()
	bin := filepath.Join(binDir, "server-fetch")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := platform.MakeExecutable(bin); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", binDir)

	p := NewPip((&fakeRunner{}).run, testLog())
	info := &PackageInfo{Name: "mcp-server-fetch", Registry: "pypi"}

	exe, err := p.FindExecutable(context.Background(), info, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if exe == nil || exe.Command != bin {
		t.Errorf("exe = %+v, want prefix-stripped lookup hit %s", exe, bin)
	}
}

func TestPipFindExecutableViaPipxList(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	listing := `venvs are in /home/u/.local/pipx/venvs
apps are exposed on your $PATH at /home/u/.local/bin
   package mcp-server-fetch 1.0.0, installed using Python 3.11.2
    - mcp_server_fetch
`
	fake := &fakeRunner{
		respond: func(c fakeCall) (*sandbox.Result, error) {
			return &sandbox.Result{ExitCode: 0, Stdout: listing}, nil
		},
	}
	p := NewPip(fake.run, testLog())
	info := &PackageInfo{Name: "mcp-server-fetch", Registry: "pypi"}

	exe, err := p.FindExecutable(context.Background(), info, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if exe == nil || exe.Command != "mcp_server_fetch" {
		t.Errorf("exe = %+v, want the pipx-listed app", exe)
	}
}

func TestParsePipxApps(t *testing.T) {
	apps := parsePipxApps("   package a 1.0\n    - tool-one\n    - tool-two\nunrelated line\n")
	if len(apps) != 2 || apps["tool-one"] == "" || apps["tool-two"] == "" {
		t.Errorf("apps = %v, want tool-one and tool-two", apps)
	}
}

func writeDistInfo(t *testing.T, home, venv, dist string, metadata string) {
	t.Helper()
	dir := filepath.Join(home, "venvs", venv, "lib", "python3.12", "site-packages", dist+".dist-info")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "METADATA"), []byte(metadata), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestPipMetadataFromDistInfo(t *testing.T) {
	home := t.TempDir()
	t.Setenv("PIPX_HOME", home)
	writeDistInfo(t, home, "mcp-server-fetch", "mcp_server_fetch-1.4.0", `Metadata-Version: 2.1
Name: mcp-server-fetch
Version: 1.4.0
License: MIT
Requires-Dist: httpx (>=0.24)
Requires-Dist: anyio
Requires-Dist: rich ; extra == 'cli'

A fetch server.
`)

	p := NewPip((&fakeRunner{}).run, testLog())
	meta, err := p.Metadata(context.Background(), &PackageInfo{Name: "mcp-server-fetch"}, t.TempDir())
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}

	if meta["version"] != "1.4.0" {
		t.Errorf("version = %v, want 1.4.0", meta["version"])
	}
	if meta["license"] != "MIT" {
		t.Errorf("license = %v, want MIT", meta["license"])
	}
	deps, ok := meta["dependencies"].(map[string]any)
	if !ok {
		t.Fatalf("dependencies missing: %v", meta)
	}
	want := map[string]any{"httpx": ">=0.24", "anyio": ""}
	if !reflect.DeepEqual(deps, want) {
		t.Errorf("dependencies = %v, want %v", deps, want)
	}
}

func TestPipMetadataWithoutVenvFallsBack(t *testing.T) {
	t.Setenv("PIPX_HOME", t.TempDir())
	p := NewPip((&fakeRunner{}).run, testLog())
	meta, err := p.Metadata(context.Background(), &PackageInfo{Name: "absent", Version: "2.0.0"}, t.TempDir())
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta["name"] != "absent" || meta["version"] != "2.0.0" || meta["registry"] != "pypi" {
		t.Errorf("fallback metadata = %v", meta)
	}
}

func TestParseRequiresDist(t *testing.T) {
	got := parseRequiresDist([]string{
		"requests (>=2.0,<3)",
		"pydantic>=2.5",
		"tomli ; python_version < '3.11'",
		"colorama ; extra == 'windows'",
		"; broken",
	})
	want := map[string]any{
		"requests": ">=2.0,<3",
		"pydantic": ">=2.5",
		"tomli":    "",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseRequiresDist = %v, want %v", got, want)
	}
}
