package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/retcon/internal/harness"
	"github.com/roach88/retcon/internal/schema"
)

// NewRunCommand creates the "run" subcommand: validate, execute, and
// check one scenario file.
func NewRunCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scenario file against the engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read scenario: %w", err)
			}
			if err := schema.ValidateScenario(data); err != nil {
				return err
			}

			sc, err := harness.LoadBytes(data)
			if err != nil {
				return err
			}

			res, err := harness.Run(sc)
			if err != nil {
				return err
			}

			if err := printResult(cmd.OutOrStdout(), opts, sc.Name, res); err != nil {
				return err
			}

			problems := harness.Check(sc, res)
			for _, p := range problems {
				fmt.Fprintf(cmd.ErrOrStderr(), "expectation failed: %v\n", p)
			}
			if len(problems) > 0 {
				return fmt.Errorf("%d expectation(s) failed", len(problems))
			}
			return nil
		},
	}
}
