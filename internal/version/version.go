package version

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Build information for evmstack, overridable via -ldflags.
var (
	// Version is the semantic version of the tool.
	Version = "0.1.0-dev"

	// GitCommit is an optional git commit hash.
	GitCommit = ""

	// BuildDate is an optional build date in ISO-8601.
	BuildDate = ""
)

var (
	majorColor = color.New(color.FgYellow, color.Bold)
	minorColor = color.New(color.FgGreen, color.Bold)
	patchColor = color.New(color.FgBlue, color.Bold)
)

// Colored renders Version with each numeric component highlighted.
// Versions that are not major.minor.patch are returned unchanged.
func Colored() string {
	core, suffix, _ := strings.Cut(Version, "-")
	parts := strings.Split(core, ".")
	if len(parts) != 3 {
		return Version
	}
	out := majorColor.Sprint(parts[0]) + "." + minorColor.Sprint(parts[1]) + "." + patchColor.Sprint(parts[2])
	if suffix != "" {
		out += "-" + suffix
	}
	return out
}

// Write prints the version block shown by the version command.
func Write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "evmstack %s\n", Colored()); err != nil {
		return err
	}
	if GitCommit != "" {
		if _, err := fmt.Fprintf(w, "commit: %s\n", GitCommit); err != nil {
			return err
		}
	}
	if BuildDate != "" {
		if _, err := fmt.Fprintf(w, "built:  %s\n", BuildDate); err != nil {
			return err
		}
	}
	return nil
}
