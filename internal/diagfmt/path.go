package diagfmt

import (
	"os"
	"path/filepath"

	"evmstack/internal/source"
)

// formatPath renders the path of f according to mode.
func formatPath(f *source.File, mode PathMode) string {
	switch mode {
	case PathModeAbsolute:
		if abs, err := filepath.Abs(filepath.FromSlash(f.Path)); err == nil {
			return filepath.ToSlash(abs)
		}
	case PathModeRelative:
		abs, err := filepath.Abs(filepath.FromSlash(f.Path))
		if err != nil {
			return f.Path
		}
		wd, err := os.Getwd()
		if err != nil {
			return f.Path
		}
		if rel, err := filepath.Rel(wd, abs); err == nil {
			return filepath.ToSlash(rel)
		}
	case PathModeBasename:
		return filepath.Base(f.Path)
	case PathModeAuto:
		if len(f.Path) < 40 || !filepath.IsAbs(filepath.FromSlash(f.Path)) {
			return f.Path
		}
		return filepath.Base(f.Path)
	}
	return f.Path
}

// fileOf returns the file a span points into, or nil for spans without a
// file.
func fileOf(fs *source.FileSet, span source.Span) *source.File {
	if fs == nil || span.File == source.NoFileID || !fs.Has(span.File) {
		return nil
	}
	return fs.Get(span.File)
}
