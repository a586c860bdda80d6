package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/voiceagent/backend/internal/config"
	"github.com/voiceagent/backend/internal/database"
	"github.com/voiceagent/backend/internal/mfa"
	"github.com/voiceagent/backend/pkg/logger"
	"gorm.io/gorm"
)

var (
	flagJSON bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "authctl",
	Short: "Operate the VoiceAgent auth service",
	Long: `authctl runs maintenance tasks against the auth service database.

It reads the same environment (and optional .env file) as the server:
  authctl migrate                      Create or update the schema
  authctl rotate-key --new-secret X    Re-encrypt MFA data under a new SECRET_KEY
  authctl export-audit                 Ship new audit rows to object storage
  authctl prune-tokens                 Delete expired and revoked refresh tokens`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logger.Init(cfg.Log.Level, cfg.Log.JSON)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Output as JSON")
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// openDB opens the configured database without migrating it.
func openDB() (*gorm.DB, func(), error) {
	db, err := database.Open(cfg.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	closeFn := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return db, closeFn, nil
}

func currentCipher() (*mfa.Cipher, error) {
	return mfa.NewCipher(mfa.CipherConfig{
		Secret:     cfg.JWT.Secret,
		Salt:       cfg.MFA.KDFSalt,
		Iterations: cfg.MFA.KDFIterations,
	})
}

// printResult writes v as JSON with --json, otherwise the text line.
func printResult(w io.Writer, v interface{}, text string, args ...interface{}) {
	if flagJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(v)
		return
	}
	fmt.Fprintf(w, text+"\n", args...)
}
