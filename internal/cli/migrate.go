package cli

import (
	"github.com/spf13/cobra"
	"github.com/voiceagent/backend/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, closeDB, err := openDB()
		if err != nil {
			return err
		}
		defer closeDB()

		if err := database.Migrate(db); err != nil {
			return err
		}

		printResult(cmd.OutOrStdout(), map[string]interface{}{
			"migrated": true,
			"driver":   cfg.DB.Driver,
		}, "Schema is up to date (%s).", cfg.DB.Driver)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
