package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nucleus/fluxion/internal/config"
	"github.com/nucleus/fluxion/internal/database"
)

func migrateCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply SQL migrations to the run log and warehouse databases",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if path == "" {
				path = cfg.MigrationsPath
			}

			urls := []string{cfg.DatabaseURL}
			if cfg.WarehouseDatabaseURL != cfg.DatabaseURL {
				urls = append(urls, cfg.WarehouseDatabaseURL)
			}
			for _, url := range urls {
				db, err := database.NewClient(cmd.Context(), url)
				if err != nil {
					return fmt.Errorf("failed to connect to database: %w", err)
				}
				err = db.Migrate(path)
				db.Close()
				if err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied from %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "migrations directory (default $FLUXION_MIGRATIONS_PATH)")
	return cmd
}
