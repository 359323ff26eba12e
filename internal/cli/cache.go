package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var cacheCleanForce bool

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the package cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached packages",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cm, _, err := buildStack(cmd.Context())
		if err != nil {
			return err
		}
		entries, err := cm.List()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("cache is empty")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SLUG\tVERSION\tINSTALLED\tSCORE")
		for _, e := range entries {
			score := "-"
			if v, ok := e.Verification["score"]; ok {
				score = fmt.Sprint(v)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Slug, e.Version, e.InstalledAt.Format("2006-01-02 15:04"), score)
		}
		return w.Flush()
	},
}

var cacheCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Evict stale cache entries",
	Long: `Evict entries over the configured age or size budget, oldest first.
With --force the entire cache is wiped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cm, _, err := buildStack(cmd.Context())
		if err != nil {
			return err
		}
		return cm.Cleanup(cacheCleanForce)
	},
}

func init() {
	cacheCleanCmd.Flags().BoolVar(&cacheCleanForce, "force", false, "Wipe the cache entirely")
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheCleanCmd)
	rootCmd.AddCommand(cacheCmd)
}
