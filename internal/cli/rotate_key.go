package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/voiceagent/backend/internal/mfa"
	"github.com/voiceagent/backend/internal/services"
	"github.com/voiceagent/backend/internal/store"
)

var (
	flagNewSecret string
	flagNewSalt   string
	flagDryRun    bool
)

var errDryRun = errors.New("dry run")

var rotateKeyCmd = &cobra.Command{
	Use:   "rotate-key",
	Short: "Re-encrypt stored MFA secrets and backup codes under a new key",
	Long: `rotate-key decrypts every stored MFA secret and backup-code set with the
key derived from the current SECRET_KEY and MFA_KDF_SALT, and re-encrypts
them with a key derived from --new-secret (and --new-salt, if given).

All rows are rewritten in one transaction. Deploy the new SECRET_KEY right
after the command succeeds; existing access tokens signed with the old
secret stop validating at that point.

The new secret can also be passed through NEW_SECRET_KEY.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		newSecret := flagNewSecret
		if newSecret == "" {
			newSecret = os.Getenv("NEW_SECRET_KEY")
		}
		if strings.TrimSpace(newSecret) == "" {
			return fmt.Errorf("--new-secret or NEW_SECRET_KEY is required")
		}
		newSalt := flagNewSalt
		if newSalt == "" {
			newSalt = cfg.MFA.KDFSalt
		}
		if newSecret == cfg.JWT.Secret && newSalt == cfg.MFA.KDFSalt {
			return fmt.Errorf("new key material is identical to the current one")
		}

		from, err := currentCipher()
		if err != nil {
			return err
		}
		to, err := mfa.NewCipher(mfa.CipherConfig{
			Secret:     newSecret,
			Salt:       newSalt,
			Iterations: cfg.MFA.KDFIterations,
		})
		if err != nil {
			return err
		}

		db, closeDB, err := openDB()
		if err != nil {
			return err
		}
		defer closeDB()

		ctx := context.Background()
		var rotated int
		err = store.New(db).Transaction(ctx, func(tx *store.Store) error {
			n, err := services.RotateMFAKeys(ctx, tx, from, to)
			if err != nil {
				return err
			}
			rotated = n
			if flagDryRun {
				return errDryRun
			}
			return nil
		})
		if err != nil && !errors.Is(err, errDryRun) {
			return fmt.Errorf("rotating keys: %w", err)
		}

		printResult(cmd.OutOrStdout(), map[string]interface{}{
			"users":  rotated,
			"dryRun": flagDryRun,
		}, "Re-encrypted MFA data for %d user(s)%s.", rotated, dryRunSuffix())
		return nil
	},
}

func dryRunSuffix() string {
	if flagDryRun {
		return " (dry run, nothing written)"
	}
	return ""
}

func init() {
	rotateKeyCmd.Flags().StringVar(&flagNewSecret, "new-secret", "", "New SECRET_KEY to derive the MFA key from")
	rotateKeyCmd.Flags().StringVar(&flagNewSalt, "new-salt", "", "New MFA_KDF_SALT (default: keep the current salt)")
	rotateKeyCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "Decrypt and re-encrypt but roll back")
	rootCmd.AddCommand(rotateKeyCmd)
}
