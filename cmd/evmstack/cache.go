package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"evmstack/internal/driver"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the layout result cache",
}

var cacheCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Drop every cached layout",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		dir, err := cfg.CacheDir()
		if err != nil {
			return err
		}
		cache, err := driver.OpenDiskCache(dir)
		if err != nil {
			return err
		}
		if err := cache.DropAll(); err != nil {
			return fmt.Errorf("failed to clean cache: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cleaned %s\n", cache.Dir())
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheCleanCmd)
}
