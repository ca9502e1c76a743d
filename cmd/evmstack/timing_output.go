package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"evmstack/internal/driver"
)

// printTimings writes the phase breakdown of every timed result. The
// totals are already part of the diagnostics.
func printTimings(cmd *cobra.Command, out io.Writer, results []*driver.Result) error {
	show, err := cmd.Root().PersistentFlags().GetBool("timings")
	if err != nil {
		return fmt.Errorf("failed to get timings flag: %w", err)
	}
	if !show {
		return nil
	}
	for _, res := range results {
		if res == nil || res.Timing == nil {
			continue
		}
		if _, err := fmt.Fprintf(out, "%s:\n", res.Path); err != nil {
			return err
		}
		for _, phase := range res.Timing.Phases {
			indent := "  "
			if phase.Nested {
				indent = "    "
			}
			line := fmt.Sprintf("%s%-16s %8.2f ms", indent, phase.Name, phase.DurationMS)
			if phase.Note != "" {
				line += "  " + phase.Note
			}
			if _, err := fmt.Fprintln(out, line); err != nil {
				return err
			}
		}
	}
	return nil
}
