package pkgmanager

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"testing"

	"github.com/e14z/mcpx/internal/platform"
	"github.com/e14z/mcpx/internal/sandbox"
)

func TestGitParseInstallCommand(t *testing.T) {
	g := NewGit((&fakeRunner{}).run, testLog())

	tests := []struct {
		command string
		name    string
		url     string
		branch  string
		wantErr bool
	}{
		{command: "git clone https://github.com/acme/mcp-tools.git", name: "mcp-tools", url: "https://github.com/acme/mcp-tools.git"},
		{command: "git clone -b develop https://github.com/acme/mcp-tools.git", name: "mcp-tools", url: "https://github.com/acme/mcp-tools.git", branch: "develop"},
		{command: "https://github.com/acme/mcp-tools.git", name: "mcp-tools", url: "https://github.com/acme/mcp-tools.git"},
		{command: "git@github.com:acme/mcp-tools.git", name: "mcp-tools", url: "git@github.com:acme/mcp-tools.git"},
		{command: "git status", wantErr: true},
		{command: "git clone", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			info, err := g.ParseInstallCommand(tt.command)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseInstallCommand(%q) accepted, want error", tt.command)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseInstallCommand: %v", err)
			}
			if info.Name != tt.name || info.GitURL != tt.url || info.Branch != tt.branch {
				t.Errorf("got {name:%q url:%q branch:%q}", info.Name, info.GitURL, info.Branch)
			}
		})
	}
}

func TestParseSymref(t *testing.T) {
	output := "ref: refs/heads/trunk\tHEAD\nabc123\tHEAD\n"
	if got := parseSymref(output); got != "trunk" {
		t.Errorf("parseSymref = %q, want trunk", got)
	}
	if got := parseSymref("abc123\tHEAD\n"); got != "" {
		t.Errorf("parseSymref without symref = %q, want empty", got)
	}
}

func TestGitInstallDiscoversBranchAndSetsUpDeps(t *testing.T) {
	dir := t.TempDir()

	fake := &fakeRunner{}
	fake.respond = func(c fakeCall) (*sandbox.Result, error) {
		switch {
		case c.command == "git" && c.args[0] == "ls-remote":
			return &sandbox.Result{ExitCode: 0, Stdout: "ref: refs/heads/trunk\tHEAD\n"}, nil
		case c.command == "git" && c.args[0] == "clone":
			repo := c.args[len(c.args)-1]
			if err := os.MkdirAll(repo, 0o755); err != nil {
				t.Fatal(err)
			}
			manifest := []byte(`{"name": "mcp-tools", "version": "0.3.0"}`)
			if err := os.WriteFile(filepath.Join(repo, "package.json"), manifest, 0o644); err != nil {
				t.Fatal(err)
			}
			return &sandbox.Result{ExitCode: 0}, nil
		default:
			return &sandbox.Result{ExitCode: 0}, nil
		}
	}
	g := NewGit(fake.run, testLog())

	info, err := g.ParseInstallCommand("git clone https://github.com/acme/mcp-tools.git")
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Install(context.Background(), info, dir); err != nil {
		t.Fatalf("Install: %v", err)
	}

	var clone, deps *fakeCall
	for i := range fake.calls {
		c := &fake.calls[i]
		if c.command == "git" && c.args[0] == "clone" {
			clone = c
		}
		if c.command == "npm" {
			deps = c
		}
	}
	if clone == nil {
		t.Fatal("no clone issued")
	}
	args := strings.Join(clone.args, " ")
	if !strings.Contains(args, "--depth 1") || !strings.Contains(args, "--branch trunk") {
		t.Errorf("clone args = %q, want shallow clone of discovered branch", args)
	}
	if deps == nil {
		t.Fatal("package.json present but npm install never ran")
	}
	if deps.dir != g.repoDir(info, dir) {
		t.Errorf("npm install ran in %q, want the clone", deps.dir)
	}

	meta, err := g.Metadata(context.Background(), info, dir)
	if err != nil {
		t.Fatal(err)
	}
	if meta["version"] != "0.3.0" {
		t.Errorf("metadata = %v, want the clone's manifest", meta)
	}
}

func TestGitBranchProbeFallback(t *testing.T) {
	fake := &fakeRunner{}
	fake.respond = func(c fakeCall) (*sandbox.Result, error) {
		if len(c.args) > 1 && c.args[1] == "--symref" {
			return &sandbox.Result{ExitCode: 128, Stderr: "not supported"}, nil
		}
		// Only "master" exists on this remote.
		if c.args[len(c.args)-1] == "master" {
			return &sandbox.Result{ExitCode: 0, Stdout: "abc123\trefs/heads/master\n"}, nil
		}
		return &sandbox.Result{ExitCode: 0, Stdout: ""}, nil
	}
	g := NewGit(fake.run, testLog())

	if got := g.discoverBranch(context.Background(), t.TempDir(), "https://x/y.git"); got != "master" {
		t.Errorf("discoverBranch = %q, want master", got)
	}
}

func TestGitFindExecutable(t *testing.T) {
	g := NewGit((&fakeRunner{}).run, testLog())
	info := &PackageInfo{Name: "repo", Registry: "git"}

	write := func(t *testing.T, dir, rel, content string) {
		t.Helper()
		path := filepath.Join(dir, "repo", filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("manifest bin", func(t *testing.T) {
		dir := t.TempDir()
		write(t, dir, "package.json", `{"bin": "cli.js", "main": "index.js"}`)
		write(t, dir, "cli.js", "")

		exe, err := g.FindExecutable(context.Background(), info, dir)
		if err != nil {
			t.Fatal(err)
		}
		want := filepath.Join(dir, "repo", "cli.js")
		if exe == nil || exe.Command != "node" || !reflect.DeepEqual(exe.Args, []string{want}) {
			t.Errorf("exe = %+v, want node %s", exe, want)
		}
	})

	t.Run("conventional python entrypoint", func(t *testing.T) {
		dir := t.TempDir()
		write(t, dir, "server.py", "")

		exe, err := g.FindExecutable(context.Background(), info, dir)
		if err != nil {
			t.Fatal(err)
		}
		if exe == nil || exe.Command != "python" {
			t.Errorf("exe = %+v, want a python entrypoint", exe)
		}
	})

	t.Run("nothing found", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.MkdirAll(filepath.Join(dir, "repo"), 0o755); err != nil {
			t.Fatal(err)
		}
		exe, err := g.FindExecutable(context.Background(), info, dir)
		if err != nil || exe != nil {
			t.Errorf("got (%+v, %v), want (nil, nil)", exe, err)
		}
	})
}

func TestGitInstallMarksEntrypointExecutable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not applicable on windows")
	}
	dir := t.TempDir()

	fake := &fakeRunner{}
	fake.respond = func(c fakeCall) (*sandbox.Result, error) {
		if c.command == "git" && c.args[0] == "clone" {
			repo := c.args[len(c.args)-1]
			if err := os.MkdirAll(repo, 0o755); err != nil {
				t.Fatal(err)
			}
			manifest := []byte(`{"name": "srv", "bin": {"srv": "cli.js"}}`)
			if err := os.WriteFile(filepath.Join(repo, "package.json"), manifest, 0o644); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(filepath.Join(repo, "cli.js"), []byte("#!/usr/bin/env node\n"), 0o644); err != nil {
				t.Fatal(err)
			}
			return &sandbox.Result{ExitCode: 0}, nil
		}
		return &sandbox.Result{ExitCode: 0}, nil
	}
	g := NewGit(fake.run, testLog())

	info, err := g.ParseInstallCommand("git clone https://github.com/acme/srv.git -b main")
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Install(context.Background(), info, dir); err != nil {
		t.Fatalf("Install: %v", err)
	}

	bin := filepath.Join(g.repoDir(info, dir), "cli.js")
	if !platform.IsExecutable(bin) {
		t.Error("declared bin script should gain the executable bit after install")
	}
}
