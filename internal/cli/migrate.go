package cli

import (
	"github.com/flaboy/aira-splitpay/pkg/config"
	"github.com/flaboy/aira-splitpay/pkg/database"
	_ "github.com/flaboy/aira-splitpay/pkg/models"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update database tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return err
		}
		return database.Migrate(db)
	},
}
