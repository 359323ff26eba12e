package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/e14z/mcpx/internal/installer"
	"github.com/e14z/mcpx/internal/sandbox"
)

var (
	runEnv     []string
	runTimeout time.Duration
	runServer  bool
	runOneshot bool
	runJSON    bool
)

var runCmd = &cobra.Command{
	Use:   "run <slug>",
	Short: "Install (if needed) and run an MCP server",
	Long: `Fetch the package descriptor for <slug> from the registry, install it
into the local cache on first use, verify it, and run it in the
sandbox. Servers are left running; ordinary commands run to completion.

Auth variables are provided as KEY=value pairs via --env flags.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringArrayVarP(&runEnv, "env", "e", nil, "Environment KEY=value pairs passed to the server (repeatable)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Run timeout for non-server commands")
	runCmd.Flags().BoolVar(&runServer, "server", false, "Treat the command as a persistent server")
	runCmd.Flags().BoolVar(&runOneshot, "oneshot", false, "Treat the command as run-to-completion")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the full result as JSON")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	if runServer && runOneshot {
		return fmt.Errorf("--server and --oneshot are mutually exclusive")
	}

	authEnv, err := parseEnvFlags(runEnv)
	if err != nil {
		return err
	}

	inst, _, _, err := buildStack(cmd.Context())
	if err != nil {
		return err
	}

	mode := sandbox.ModeAuto
	if runServer {
		mode = sandbox.ModeServer
	}
	if runOneshot {
		mode = sandbox.ModeOneshot
	}

	res := inst.InstallAndRun(cmd.Context(), args[0], installer.Options{
		AuthEnv: authEnv,
		Timeout: runTimeout,
		Mode:    mode,
	})

	if runJSON {
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling result: %w", err)
		}
		fmt.Println(string(out))
		if !res.Success {
			os.Exit(1)
		}
		return nil
	}

	if !res.Success {
		fmt.Fprintf(os.Stderr, "failed: %s (category: %s)\n", res.Error, res.Category)
		for _, s := range res.Suggestions {
			fmt.Fprintf(os.Stderr, "  hint: %s\n", s)
		}
		os.Exit(1)
	}

	if res.ServerRunning {
		fmt.Printf("server running (pid %d): %s %s\n", res.PID, res.Command, strings.Join(res.Args, " "))
	} else {
		fmt.Printf("completed (exit %d): %s %s\n", res.ExitCode, res.Command, strings.Join(res.Args, " "))
	}
	if res.Output != "" {
		fmt.Println(res.Output)
	}
	return nil
}

// parseEnvFlags turns repeated KEY=value flags into a map.
func parseEnvFlags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --env value %q, expected KEY=value", pair)
		}
		env[key] = value
	}
	return env, nil
}
