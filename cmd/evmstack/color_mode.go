package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// colorEnabled resolves --color and sets the global color switch to match.
func colorEnabled(cmd *cobra.Command) (bool, error) {
	value, err := cmd.Root().PersistentFlags().GetString("color")
	if err != nil {
		return false, fmt.Errorf("failed to get color flag: %w", err)
	}
	var enabled bool
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "", "auto":
		enabled = isTerminal(os.Stderr) && os.Getenv("NO_COLOR") == ""
	case "on":
		enabled = true
	case "off":
		enabled = false
	default:
		return false, fmt.Errorf("invalid --color value %q (expected auto|on|off)", value)
	}
	color.NoColor = !enabled
	return enabled, nil
}
