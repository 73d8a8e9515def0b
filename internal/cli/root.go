// Package cli wires the retcon commands: scenario running, schema
// validation, and the task-board demo.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by all subcommands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// validate rejects flag combinations the subcommands cannot serve.
func (o *RootOptions) validate() error {
	switch o.Format {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("unknown --format %q (want text or json)", o.Format)
	}
}

// NewRootCommand creates the root command for the retcon CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "retcon",
		Short: "retcon - optimistic mutation engine",
		Long:  "Run scenario scripts against the optimistic mutation engine and watch rollback rewrite the timeline.",
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return opts.validate()
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	for _, sub := range []*cobra.Command{
		NewRunCommand(opts),
		NewValidateCommand(opts),
		NewDemoCommand(opts),
	} {
		cmd.AddCommand(sub)
	}

	return cmd
}
