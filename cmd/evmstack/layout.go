package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"evmstack/internal/layout"
)

var layoutCmd = &cobra.Command{
	Use:   "layout [flags] <graph.toml>",
	Short: "Print the stack layouts of a control flow graph",
	Long: `Lay out the graph described by a TOML file and print the stack required at
the entry and exit of every block and in front of every operation`,
	Args: cobra.ExactArgs(1),
	RunE: runLayout,
}

func init() {
	addRunFlags(layoutCmd)
}

func runLayout(cmd *cobra.Command, args []string) error {
	defer dumpTraceOnPanic()

	format, err := readFormat(cmd)
	if err != nil {
		return err
	}
	opts, err := buildOptions(cmd)
	if err != nil {
		return err
	}
	results, err := runFiles(cmd, "layout", args, &opts)
	if err != nil {
		return err
	}
	res := results[0]

	if format == formatJSON {
		doc, err := buildFileJSON(cmd, res, true)
		if err != nil {
			return err
		}
		if err := writeJSON(cmd.OutOrStdout(), doc); err != nil {
			return err
		}
	} else {
		if res.Err == nil && res.Layout != nil {
			if err := layout.Dump(cmd.OutOrStdout(), res.Graph, res.Layout); err != nil {
				return err
			}
			for _, s := range res.Spilled {
				fmt.Fprintf(cmd.OutOrStdout(), "spilled %s -> %#x\n", s.Name, s.Addr)
			}
		}
		if err := printDiagnostics(cmd, cmd.ErrOrStderr(), res); err != nil {
			return err
		}
		if err := printTimings(cmd, cmd.ErrOrStderr(), results); err != nil {
			return err
		}
	}

	if res.Failed() {
		return errDiagnostics
	}
	return nil
}
