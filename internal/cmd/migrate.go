package cmd

import (
	"github.com/spf13/cobra"

	"github.com/release-engineering/odcs/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		u := newUI()
		u.Header("Applying schema migrations")
		if err := store.Migrate(cfg.Database.DSN); err != nil {
			return err
		}
		u.Success("Database schema is up to date")
		return nil
	},
}
