package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/voiceagent/backend/internal/services"
	"github.com/voiceagent/backend/internal/storage"
)

const auditArchivePrefix = "audit-logs/"

var flagListArchives bool

var exportAuditCmd = &cobra.Command{
	Use:   "export-audit",
	Short: "Export new audit rows to object storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.MinIO.Enabled() {
			return fmt.Errorf("object storage is not configured (set MINIO_ENDPOINT)")
		}

		client, err := storage.NewMinIOClient(cfg.MinIO)
		if err != nil {
			return err
		}
		ctx := context.Background()
		if err := client.EnsureBucket(ctx); err != nil {
			return err
		}

		if flagListArchives {
			names, err := client.ListArchives(ctx, auditArchivePrefix)
			if err != nil {
				return err
			}
			if flagJSON {
				printResult(cmd.OutOrStdout(), names, "")
				return nil
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		}

		db, closeDB, err := openDB()
		if err != nil {
			return err
		}
		defer closeDB()

		audit := services.NewAuditService(db, client, 1)
		defer audit.Close()

		n, err := audit.ExportOnce(ctx)
		if err != nil {
			return err
		}

		printResult(cmd.OutOrStdout(), map[string]interface{}{
			"exported": n,
			"bucket":   client.Bucket(),
		}, "Exported %d audit row(s) to %s.", n, client.Bucket())
		return nil
	},
}

func init() {
	exportAuditCmd.Flags().BoolVar(&flagListArchives, "list", false, "List existing archives instead of exporting")
	rootCmd.AddCommand(exportAuditCmd)
}
