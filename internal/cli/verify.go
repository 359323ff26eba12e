package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/e14z/mcpx/internal/verifier"
)

var (
	verifyVersion  string
	verifyRegistry string
	verifyDir      string
	verifyJSON     bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify <package-name>",
	Short: "Run the security verifier against a package",
	Long: `Run the seven-check risk assessment (reputation, typosquatting,
contents, dependencies, license, install scripts, filesystem paths)
against a package name and, optionally, an on-disk tree.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := verifier.NewReputationDB()
		if err != nil {
			return err
		}
		v := verifier.New(db, logrus.NewEntry(logrus.StandardLogger()))

		res := v.Verify(verifier.Subject{
			Name:     args[0],
			Version:  verifyVersion,
			Registry: verifyRegistry,
			Dir:      verifyDir,
		})

		if verifyJSON {
			out, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling result: %w", err)
			}
			fmt.Println(string(out))
		} else {
			verdict := "PASS"
			if !res.Passed {
				verdict = "FAIL"
			}
			fmt.Printf("%s  score %d  confidence %s\n", verdict, res.Score, res.Confidence)
			for _, t := range res.Threats {
				fmt.Printf("  [%s] %s: %s\n", t.Severity, t.Check, t.Description)
			}
			for _, w := range res.Warnings {
				fmt.Printf("  warning: %s\n", w)
			}
		}

		if !res.Passed {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyVersion, "version", "", "Package version")
	verifyCmd.Flags().StringVar(&verifyRegistry, "registry", "npm", "Package registry (npm, pypi, crates, docker)")
	verifyCmd.Flags().StringVar(&verifyDir, "dir", "", "Installed tree to scan")
	verifyCmd.Flags().BoolVar(&verifyJSON, "json", false, "Print the full result as JSON")
	rootCmd.AddCommand(verifyCmd)
}
