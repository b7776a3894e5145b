package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/akave-ai/incidentd/internal/config"
	"github.com/akave-ai/incidentd/internal/database"
	"github.com/akave-ai/incidentd/internal/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply Postgres schema migrations and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		if cfg.Database.Driver != "postgres" {
			return fmt.Errorf("migrate needs database.driver=postgres, got %s", cfg.Database.Driver)
		}
		log := logger.NewLogger(cfg.Observability, cmd.ErrOrStderr())
		return database.Migrate(cmd.Context(), cfg.Database.DSN(), log)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
