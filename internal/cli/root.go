package cli

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/e14z/mcpx/internal/cache"
	"github.com/e14z/mcpx/internal/config"
	"github.com/e14z/mcpx/internal/installer"
	"github.com/e14z/mcpx/internal/registry"
	"github.com/e14z/mcpx/internal/sandbox"
)

var (
	buildVersion string
	buildCommit  string
	buildDate    string
)

var rootVerbose bool

var rootCmd = &cobra.Command{
	Use:   "mcpx",
	Short: "Install and run MCP servers in a sandbox",
	Long: `mcpx installs MCP servers from npm, PyPI, crates.io, git, and
container registries into a verified local cache and runs them in a
sandboxed subprocess.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if rootVerbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&rootVerbose, "verbose", "v", false, "Enable debug logging")
}

// Execute runs the root command with build info injected via ldflags.
func Execute(version, commit, date string) error {
	buildVersion = version
	buildCommit = commit
	buildDate = date
	return rootCmd.Execute()
}

// buildStack assembles the full installer from configuration. Commands
// that only need a part of it (cache, verifier) call the constructors
// directly instead. The cache janitor runs for the lifetime of ctx.
func buildStack(ctx context.Context) (*installer.AutoInstaller, *cache.Manager, *config.Settings, error) {
	settings, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}

	log := logrus.NewEntry(logrus.StandardLogger())
	cm, err := cache.NewManager(settings, log)
	if err != nil {
		return nil, nil, nil, err
	}
	cm.StartJanitor(ctx)

	sb := sandbox.New(settings, log)
	reg := registry.NewClient(settings.RegistryBaseURL, registry.WithLogger(log))
	inst, err := installer.New(settings, reg, cm, sb, log)
	if err != nil {
		return nil, nil, nil, err
	}
	return inst, cm, settings, nil
}
