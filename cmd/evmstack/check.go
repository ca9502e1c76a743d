package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check [flags] <graph.toml>...",
	Short: "Report stack too deep errors in control flow graphs",
	Long: `Lay out every given graph and report the diagnostics only. The exit status
is 1 when any graph has errors`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	addRunFlags(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	defer dumpTraceOnPanic()

	format, err := readFormat(cmd)
	if err != nil {
		return err
	}
	opts, err := buildOptions(cmd)
	if err != nil {
		return err
	}
	results, err := runFiles(cmd, "check", args, &opts)
	if err != nil {
		return err
	}

	failed := 0
	for _, res := range results {
		if res.Failed() {
			failed++
		}
	}

	if format == formatJSON {
		docs := make([]fileJSON, 0, len(results))
		for _, res := range results {
			doc, err := buildFileJSON(cmd, res, false)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		if err := writeJSON(cmd.OutOrStdout(), docs); err != nil {
			return err
		}
	} else {
		for _, res := range results {
			if err := printDiagnostics(cmd, cmd.OutOrStdout(), res); err != nil {
				return err
			}
		}
		if err := printTimings(cmd, cmd.ErrOrStderr(), results); err != nil {
			return err
		}
		if len(results) > 1 || failed > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d graphs failed\n", failed, len(results))
		}
	}

	if failed > 0 {
		return errDiagnostics
	}
	return nil
}
