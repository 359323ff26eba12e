package pkgmanager

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/client"
	"github.com/sirupsen/logrus"
)

// dockerValueFlags are `docker run` options that consume the next token.
var dockerValueFlags = map[string]bool{
	"-e": true, "--env": true,
	"-v": true, "--volume": true,
	"-p": true, "--publish": true,
	"-w": true, "--workdir": true,
	"-u": true, "--user": true,
	"--name":       true,
	"--network":    true,
	"--entrypoint": true,
	"--mount":      true,
	"--label":      true,
	"--platform":   true,
}

// Docker handles `docker run` commands. There is nothing to install:
// the daemon pulls the image on first run, so install is a capability
// probe and execution re-issues the original argument vector verbatim.
type Docker struct {
	run Runner
	log *logrus.Entry

	// newClient is swappable for tests.
	newClient func() (*client.Client, error)
}

func NewDocker(run Runner, log *logrus.Entry) *Docker {
	return &Docker{
		run: run,
		log: log,
		newClient: func() (*client.Client, error) {
			return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		},
	}
}

func (d *Docker) Name() string { return "docker" }

func (d *Docker) CanHandle(command string) bool {
	return firstWord(command) == "docker"
}

func (d *Docker) ParseInstallCommand(command string) (*PackageInfo, error) {
	tokens, err := tokenize(command)
	if err != nil {
		return nil, err
	}
	if tokens[0] != "docker" {
		return nil, fmt.Errorf("not a docker command: %q", command)
	}

	info := &PackageInfo{Registry: "docker", Raw: command, Tokens: tokens}
	rest := tokens[1:]
	if len(rest) > 0 && (rest[0] == "run" || rest[0] == "pull") {
		rest = rest[1:]
	}

	for i := 0; i < len(rest); i++ {
		tok := rest[i]
		if dockerValueFlags[tok] {
			i++
			continue
		}
		if isFlag(tok) {
			continue
		}
		info.ImageRef = tok
		break
	}
	if info.ImageRef == "" {
		return nil, fmt.Errorf("docker command names no image: %q", command)
	}

	info.Name, info.Version = splitImageRef(info.ImageRef)
	return info, nil
}

// Install probes that a daemon is reachable. The SDK ping is
// authoritative; a CLI version check stands in when the daemon socket
// is not available to this process.
func (d *Docker) Install(ctx context.Context, info *PackageInfo, dir string) error {
	if cli, err := d.newClient(); err == nil {
		defer cli.Close()
		if _, err := cli.Ping(ctx); err == nil {
			return nil
		}
		d.log.Debug("docker daemon ping failed, falling back to CLI probe")
	}

	if _, err := runOK(ctx, d.run, dir, "docker", "--version"); err != nil {
		return fmt.Errorf("probing docker: %w", err)
	}
	return nil
}

func (d *Docker) FindExecutable(ctx context.Context, info *PackageInfo, dir string) (*Executable, error) {
	return &Executable{Command: "docker", Args: info.Tokens[1:]}, nil
}

func (d *Docker) Metadata(ctx context.Context, info *PackageInfo, dir string) (map[string]any, error) {
	return map[string]any{
		"name":     info.Name,
		"version":  info.Version,
		"registry": "docker",
		"image":    info.ImageRef,
	}, nil
}

// splitImageRef splits "ghcr.io/vendor/image:tag" into a short name and
// a tag, defaulting the tag to latest.
func splitImageRef(ref string) (name, tag string) {
	name, tag = ref, "latest"
	if i := strings.LastIndex(ref, ":"); i > strings.LastIndex(ref, "/") {
		name, tag = ref[:i], ref[i+1:]
	}
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return name, tag
}
