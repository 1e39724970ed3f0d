package main

import (
	"fmt"
	"os"
	"path/filepath"

	"mamabot/internal/config"
	"mamabot/internal/facility"

	"github.com/spf13/cobra"
)

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed [file]",
		Short: "Load facility contacts from a YAML file",
		Long:  "Reads facility records from the given YAML file and inserts them into the facility directory.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
				return err
			}
			store, err := facility.NewSQLiteStore(cfg.Database.Path, logger)
			if err != nil {
				return fmt.Errorf("facility store: %w", err)
			}
			defer store.Close()

			n, err := facility.SeedFromFile(cmd.Context(), store, args[0], logger)
			if err != nil {
				return err
			}
			logger.Info("facilities seeded", "file", args[0], "inserted", n)
			return nil
		},
	}
}
