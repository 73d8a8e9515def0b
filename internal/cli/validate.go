package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/retcon/internal/schema"
)

// NewValidateCommand creates the "validate" subcommand: check scenario
// files against the embedded CUE schema without running them.
func NewValidateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <scenario.yaml>...",
		Short: "Validate scenario files against the schema",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failures := 0
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					failures++
					continue
				}
				if err := schema.ValidateScenario(data); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					failures++
					continue
				}
				if opts.Verbose {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
				}
			}
			if failures > 0 {
				return fmt.Errorf("%d file(s) failed validation", failures)
			}
			return nil
		},
	}
}
