package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/roach88/retcon/internal/harness"
)

// printResult renders a scenario result in the selected format.
func printResult(w io.Writer, opts *RootOptions, name string, res *harness.Result) error {
	if opts.Format == "json" {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	fmt.Fprintf(w, "scenario %s\n", name)
	fmt.Fprintf(w, "  pending: %v\n", res.Pending)
	fmt.Fprintln(w, "  history (newest first):")
	if len(res.History) == 0 {
		fmt.Fprintln(w, "    (empty)")
	}
	for _, h := range res.History {
		fmt.Fprintf(w, "    %-20s %s\n", h.Label, h.Status)
	}
	if len(res.Errors) > 0 {
		fmt.Fprintln(w, "  errors:")
		for _, e := range res.Errors {
			if e.Dependent {
				fmt.Fprintf(w, "    %-20s dependent rollback\n", e.Label)
				continue
			}
			fmt.Fprintf(w, "    %-20s %s\n", e.Label, e.Message)
		}
	}
	fmt.Fprintln(w, "  stores:")
	for storeName, value := range res.Stores {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal store %q: %w", storeName, err)
		}
		fmt.Fprintf(w, "    %s: %s\n", storeName, data)
	}
	return nil
}
