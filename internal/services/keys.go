package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/voiceagent/backend/internal/mfa"
	"github.com/voiceagent/backend/internal/models"
	"github.com/voiceagent/backend/internal/store"
	"github.com/voiceagent/backend/pkg/logger"
)

// KeyStore is the subset of the store used by key rotation.
type KeyStore interface {
	ListMFAUsers(ctx context.Context) ([]models.User, error)
	SaveMFAState(ctx context.Context, userID uuid.UUID, state store.MFAState) error
}

// RotateMFAKeys re-encrypts every stored MFA secret and backup-code set from
// one cipher to another. Run it inside a transaction so a failure leaves every
// row under the old key.
func RotateMFAKeys(ctx context.Context, ks KeyStore, from, to *mfa.Cipher) (int, error) {
	users, err := ks.ListMFAUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list mfa users: %w", err)
	}

	for i := range users {
		user := &users[i]

		secret, err := reseal(from, to, user.MFASecret)
		if err != nil {
			return 0, fmt.Errorf("user %s secret: %w", user.ID, err)
		}
		codes, err := reseal(from, to, user.MFABackupCodes)
		if err != nil {
			return 0, fmt.Errorf("user %s backup codes: %w", user.ID, err)
		}

		err = ks.SaveMFAState(ctx, user.ID, store.MFAState{
			Enabled:     user.MFAEnabled,
			Secret:      secret,
			BackupCodes: codes,
		})
		if err != nil {
			return 0, fmt.Errorf("user %s save: %w", user.ID, err)
		}
	}

	logger.Info("mfa_keys_rotated", map[string]interface{}{
		"users": len(users),
	})
	return len(users), nil
}

func reseal(from, to *mfa.Cipher, blob string) (string, error) {
	if blob == "" {
		return "", nil
	}
	plain, err := from.Decrypt(blob)
	if err != nil {
		return "", err
	}
	return to.Encrypt(plain)
}
