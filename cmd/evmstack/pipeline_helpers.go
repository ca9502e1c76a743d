package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"evmstack/internal/config"
	"evmstack/internal/driver"
)

// loadConfig reads the file named by --config, or the nearest evmstack.toml.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	if path != "" {
		return config.Load(path)
	}
	cfg, _, err := config.LoadNearest(".")
	return cfg, err
}

// addRunFlags registers the flags shared by the commands that lay out
// graphs.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("no-spill", false, "report stack too deep errors instead of spilling variables")
	cmd.Flags().Int("jobs", 0, "max parallel workers for files and entry points (0=config or auto)")
	cmd.Flags().Bool("cache", false, "reuse and store layouts in the result cache")
	cmd.Flags().String("ui", "auto", "progress view (auto|on|off)")
	cmd.Flags().String("format", "text", "output format (text|json)")
	cmd.Flags().Bool("with-notes", true, "include diagnostic notes in output")
}

// buildOptions merges evmstack.toml with the command line.
func buildOptions(cmd *cobra.Command) (driver.Options, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return driver.Options{}, err
	}
	opts := driver.OptionsFromConfig(cfg)

	maxDiagnostics, err := cmd.Root().PersistentFlags().GetInt("max-diagnostics")
	if err != nil {
		return driver.Options{}, fmt.Errorf("failed to get max-diagnostics flag: %w", err)
	}
	opts.MaxDiagnostics = maxDiagnostics

	showTimings, err := cmd.Root().PersistentFlags().GetBool("timings")
	if err != nil {
		return driver.Options{}, fmt.Errorf("failed to get timings flag: %w", err)
	}
	opts.EnableTimings = showTimings

	noSpill, err := cmd.Flags().GetBool("no-spill")
	if err != nil {
		return driver.Options{}, fmt.Errorf("failed to get no-spill flag: %w", err)
	}
	if noSpill {
		opts.Spill = false
	}

	jobs, err := cmd.Flags().GetInt("jobs")
	if err != nil {
		return driver.Options{}, fmt.Errorf("failed to get jobs flag: %w", err)
	}
	if jobs < 0 {
		return driver.Options{}, fmt.Errorf("--jobs must not be negative, got %d", jobs)
	}
	if jobs > 0 {
		opts.Jobs = jobs
	}

	useCache, err := cmd.Flags().GetBool("cache")
	if err != nil {
		return driver.Options{}, fmt.Errorf("failed to get cache flag: %w", err)
	}
	if useCache || cfg.Cache.Enabled {
		dir, err := cfg.CacheDir()
		if err != nil {
			return driver.Options{}, err
		}
		cache, err := driver.OpenDiskCache(dir)
		if err != nil {
			return driver.Options{}, err
		}
		opts.Cache = cache
	}
	return opts, nil
}

// runFiles lays out files, with the progress view when --ui asks for it.
func runFiles(cmd *cobra.Command, title string, files []string, opts *driver.Options) ([]*driver.Result, error) {
	uiValue, err := cmd.Flags().GetString("ui")
	if err != nil {
		return nil, fmt.Errorf("failed to get ui flag: %w", err)
	}
	mode, err := readUIMode(uiValue)
	if err != nil {
		return nil, err
	}
	if shouldUseTUI(mode, len(files)) {
		return runWithUI(cmd.Context(), title, files, opts)
	}
	return driver.LayoutFiles(cmd.Context(), files, opts)
}
