package cli

import (
	"fmt"

	"github.com/harun/umile/pkg/collector"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify FILE...",
	Short: "Validate collection files",
	Long: `Validate collection files against the record schema: every line must be
a record with id, timestamp, messages and output, and ids must be unique.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	failed := 0
	for _, path := range args {
		n, err := collector.ValidateFile(path)
		if err != nil {
			failed++
			fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "OK   %s: %d records\n", path, n)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed validation", failed, len(args))
	}
	return nil
}
