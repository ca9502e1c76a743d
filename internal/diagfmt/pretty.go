package diagfmt

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"evmstack/internal/diag"
	"evmstack/internal/source"
)

type palette struct {
	err, warn, info, loc, note, caret *color.Color
}

func newPalette(enabled bool) palette {
	mk := func(attrs ...color.Attribute) *color.Color {
		c := color.New(attrs...)
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c
	}
	return palette{
		err:   mk(color.FgRed, color.Bold),
		warn:  mk(color.FgYellow, color.Bold),
		info:  mk(color.FgCyan, color.Bold),
		loc:   mk(color.Bold),
		note:  mk(color.FgBlue, color.Bold),
		caret: mk(color.FgGreen, color.Bold),
	}
}

func (p palette) severity(s diag.Severity) *color.Color {
	switch s {
	case diag.SevError:
		return p.err
	case diag.SevWarning:
		return p.warn
	default:
		return p.info
	}
}

// Pretty writes the diagnostics of bag in reading order (call bag.Sort
// first). Every diagnostic is printed as
//
//	<path>:<line>:<col>: <SEV> <CODE>: <message>
//
// followed by the source line with the span underlined ^~~~ and, when
// enabled, the notes in the same form.
func Pretty(w io.Writer, bag *diag.Bag, fs *source.FileSet, opts PrettyOpts) error {
	p := newPalette(opts.Color)
	for _, d := range bag.Items() {
		var sb strings.Builder
		if loc := location(fs, d.Primary, opts.PathMode); loc != "" {
			sb.WriteString(p.loc.Sprint(loc))
			sb.WriteString(": ")
		}
		sb.WriteString(p.severity(d.Severity).Sprintf("%s %s", d.Severity, d.Code.ID()))
		sb.WriteString(": ")
		sb.WriteString(d.Message)
		sb.WriteByte('\n')
		writeSnippet(&sb, fs, d.Primary, int(opts.Context), p)

		if opts.ShowNotes && d.Code != diag.ObsTimings {
			for _, n := range d.Notes {
				sb.WriteString("  ")
				sb.WriteString(p.note.Sprint("note"))
				sb.WriteString(": ")
				if loc := location(fs, n.Span, opts.PathMode); loc != "" {
					sb.WriteString(p.loc.Sprint(loc))
					sb.WriteString(": ")
				}
				sb.WriteString(n.Msg)
				sb.WriteByte('\n')
			}
		}
		if _, err := io.WriteString(w, sb.String()); err != nil {
			return err
		}
	}
	return nil
}

func location(fs *source.FileSet, span source.Span, mode PathMode) string {
	f := fileOf(fs, span)
	if f == nil {
		return ""
	}
	start, _ := fs.Resolve(span)
	return fmt.Sprintf("%s:%d:%d", formatPath(f, mode), start.Line, start.Col)
}

// writeSnippet prints the first line of span with up to context lines
// above it and marks the span below.
func writeSnippet(sb *strings.Builder, fs *source.FileSet, span source.Span, context int, p palette) {
	f := fileOf(fs, span)
	if f == nil || len(f.Content) == 0 {
		return
	}
	start, end := fs.Resolve(span)
	first := max(1, int(start.Line)-context)
	gutter := len(fmt.Sprint(start.Line))
	for n := first; n <= int(start.Line); n++ {
		fmt.Fprintf(sb, "  %*d | %s\n", gutter, n, f.GetLine(uint32(n)))
	}

	line := f.GetLine(start.Line)
	col := min(int(start.Col)-1, len(line))
	stop := len(line)
	if end.Line == start.Line {
		stop = min(int(end.Col)-1, len(line))
	}
	var pad strings.Builder
	for _, r := range line[:col] {
		if r == '\t' {
			pad.WriteByte('\t')
			continue
		}
		pad.WriteString(strings.Repeat(" ", runewidth.RuneWidth(r)))
	}
	marker := "^"
	if width := runewidth.StringWidth(line[col:max(col, stop)]); width > 1 {
		marker += strings.Repeat("~", width-1)
	}
	fmt.Fprintf(sb, "  %*s | %s%s\n", gutter, "", pad.String(), p.caret.Sprint(marker))
}
