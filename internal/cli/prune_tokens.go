package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/voiceagent/backend/internal/store"
)

var flagGrace time.Duration

var pruneTokensCmd = &cobra.Command{
	Use:   "prune-tokens",
	Short: "Delete expired and revoked refresh tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, closeDB, err := openDB()
		if err != nil {
			return err
		}
		defer closeDB()

		before := time.Now().Add(-flagGrace)
		n, err := store.New(db).DeleteExpiredRefreshTokens(context.Background(), before)
		if err != nil {
			return err
		}

		printResult(cmd.OutOrStdout(), map[string]interface{}{
			"deleted": n,
			"before":  before.UTC().Format(time.RFC3339),
		}, "Deleted %d refresh token(s).", n)
		return nil
	},
}

func init() {
	pruneTokensCmd.Flags().DurationVar(&flagGrace, "grace", 0, "Keep tokens that expired less than this long ago")
	rootCmd.AddCommand(pruneTokensCmd)
}
