package pkgmanager

import (
	"context"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Generic is the last-resort adapter: it accepts any command, installs
// nothing, and re-issues the command verbatim. It exists so selection
// always terminates without exception-driven dispatch.
type Generic struct {
	log *logrus.Entry
}

func NewGeneric(log *logrus.Entry) *Generic {
	return &Generic{log: log}
}

func (g *Generic) Name() string { return "generic" }

func (g *Generic) CanHandle(command string) bool { return true }

func (g *Generic) ParseInstallCommand(command string) (*PackageInfo, error) {
	tokens, err := tokenize(command)
	if err != nil {
		return nil, err
	}
	return &PackageInfo{
		Name:     filepath.Base(tokens[0]),
		Registry: "generic",
		Raw:      command,
		Tokens:   tokens,
	}, nil
}

func (g *Generic) Install(ctx context.Context, info *PackageInfo, dir string) error {
	g.log.WithField("command", info.Raw).Debug("generic adapter skips installation")
	return nil
}

func (g *Generic) FindExecutable(ctx context.Context, info *PackageInfo, dir string) (*Executable, error) {
	return &Executable{Command: info.Tokens[0], Args: info.Tokens[1:]}, nil
}

func (g *Generic) Metadata(ctx context.Context, info *PackageInfo, dir string) (map[string]any, error) {
	return map[string]any{"name": info.Name, "registry": "generic"}, nil
}
