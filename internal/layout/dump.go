package layout

import (
	"fmt"
	"io"

	"github.com/mattn/go-runewidth"

	"evmstack/internal/cfg"
)

// Dump writes the layouts of every reachable block: the entry layout, the
// layout in front of each operation next to the operation, and the exit
// layout.
func Dump(w io.Writer, g *cfg.Graph, lay *Layout) error {
	if w == nil || g == nil || lay == nil {
		return nil
	}
	for n, ep := range g.EntryPoints() {
		if n > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%s:\n", g.EntryName(ep)); err != nil {
			return err
		}
		for _, id := range g.Reachable(ep.Block) {
			if err := dumpBlock(w, g, lay, id); err != nil {
				return err
			}
		}
	}
	return nil
}

func dumpBlock(w io.Writer, g *cfg.Graph, lay *Layout, id cfg.BlockID) error {
	bl := lay.Block(id)
	if bl == nil {
		_, err := fmt.Fprintf(w, "  %s: no layout\n", g.BlockName(id))
		return err
	}
	ops := g.Block(id).Ops
	rows := make([]string, len(ops))
	width := 0
	for i, op := range ops {
		rows[i] = g.SlotsString(lay.Operations[op])
		width = max(width, runewidth.StringWidth(rows[i]))
	}

	if _, err := fmt.Fprintf(w, "  %s:\n    entry %s\n", g.BlockName(id), g.SlotsString(bl.Entry)); err != nil {
		return err
	}
	for i, op := range ops {
		if _, err := fmt.Fprintf(w, "    %s  %s\n", runewidth.FillRight(rows[i], width), g.OpString(op)); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "    exit  %s  %s\n", g.SlotsString(bl.Exit), g.ExitString(id))
	return err
}
