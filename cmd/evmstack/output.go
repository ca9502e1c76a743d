package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"evmstack/internal/cfg"
	"evmstack/internal/diagfmt"
	"evmstack/internal/driver"
	"evmstack/internal/stack"
)

type outputFormat string

const (
	formatText outputFormat = "text"
	formatJSON outputFormat = "json"
)

func readFormat(cmd *cobra.Command) (outputFormat, error) {
	value, err := cmd.Flags().GetString("format")
	if err != nil {
		return "", fmt.Errorf("failed to get format flag: %w", err)
	}
	switch outputFormat(value) {
	case formatText, formatJSON:
		return outputFormat(value), nil
	default:
		return "", fmt.Errorf("unsupported format %q (must be text or json)", value)
	}
}

// printDiagnostics writes the bag of res in the pretty form.
func printDiagnostics(cmd *cobra.Command, w io.Writer, res *driver.Result) error {
	if res.Err != nil {
		_, err := fmt.Fprintf(w, "%s: %v\n", res.Path, res.Err)
		return err
	}
	withNotes, err := cmd.Flags().GetBool("with-notes")
	if err != nil {
		return fmt.Errorf("failed to get with-notes flag: %w", err)
	}
	colorOn, err := colorEnabled(cmd)
	if err != nil {
		return err
	}
	return diagfmt.Pretty(w, res.Bag, res.FileSet, diagfmt.PrettyOpts{
		Color:     colorOn,
		Context:   1,
		PathMode:  diagfmt.PathModeAuto,
		ShowNotes: withNotes,
	})
}

type fileJSON struct {
	File        string                     `json:"file"`
	Error       string                     `json:"error,omitempty"`
	CacheHit    bool                       `json:"cache_hit,omitempty"`
	Rounds      int                        `json:"rounds,omitempty"`
	Entries     []entryJSON                `json:"entries,omitempty"`
	Spilled     []spilledJSON              `json:"spilled,omitempty"`
	Diagnostics *diagfmt.DiagnosticsOutput `json:"diagnostics,omitempty"`
}

type entryJSON struct {
	Name   string      `json:"name"`
	Blocks []blockJSON `json:"blocks"`
}

type blockJSON struct {
	Name       string   `json:"name"`
	Entry      []string `json:"entry"`
	Operations []opJSON `json:"operations,omitempty"`
	Exit       []string `json:"exit"`
	Jump       string   `json:"jump"`
}

type opJSON struct {
	Op    string   `json:"op"`
	Stack []string `json:"stack"`
}

type spilledJSON struct {
	Var  string `json:"var"`
	Addr string `json:"addr"`
}

// buildFileJSON renders one result. Layouts are omitted when withLayout is
// false.
func buildFileJSON(cmd *cobra.Command, res *driver.Result, withLayout bool) (fileJSON, error) {
	out := fileJSON{File: res.Path}
	if res.Err != nil {
		out.Error = res.Err.Error()
		return out, nil
	}
	withNotes, err := cmd.Flags().GetBool("with-notes")
	if err != nil {
		return out, fmt.Errorf("failed to get with-notes flag: %w", err)
	}
	diags := diagfmt.BuildDiagnosticsOutput(res.Bag, res.FileSet, diagfmt.JSONOpts{
		IncludePositions: true,
		PathMode:         diagfmt.PathModeAuto,
		IncludeNotes:     withNotes,
	})
	out.Diagnostics = &diags
	out.CacheHit = res.CacheHit
	out.Rounds = res.Rounds
	for _, s := range res.Spilled {
		out.Spilled = append(out.Spilled, spilledJSON{Var: s.Name, Addr: fmt.Sprintf("%#x", s.Addr)})
	}
	if withLayout && res.Layout != nil {
		out.Entries = layoutEntries(res.Graph, res)
	}
	return out, nil
}

func layoutEntries(g *cfg.Graph, res *driver.Result) []entryJSON {
	entries := make([]entryJSON, 0, len(g.Funcs)+1)
	for _, ep := range g.EntryPoints() {
		entry := entryJSON{Name: g.EntryName(ep)}
		for _, id := range g.Reachable(ep.Block) {
			bl := res.Layout.Block(id)
			if bl == nil {
				continue
			}
			blk := blockJSON{
				Name:  g.BlockName(id),
				Entry: slotNames(g, bl.Entry),
				Exit:  slotNames(g, bl.Exit),
				Jump:  g.ExitString(id),
			}
			for _, op := range g.Block(id).Ops {
				blk.Operations = append(blk.Operations, opJSON{
					Op:    g.OpString(op),
					Stack: slotNames(g, res.Layout.Operations[op]),
				})
			}
			entry.Blocks = append(entry.Blocks, blk)
		}
		entries = append(entries, entry)
	}
	return entries
}

func slotNames(g *cfg.Graph, s stack.Stack) []string {
	names := make([]string, len(s))
	for i, slot := range s {
		names[i] = g.SlotString(slot)
	}
	return names
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
