package mfa

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// BackupAlphabet omits 0, 1, I and O so codes survive being read aloud or
// copied by hand.
const BackupAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	DefaultBackupCodeCount  = 10
	DefaultBackupCodeLength = 8
)

// BackupCodes manages the single-use recovery set stored as one sealed JSON
// list per user.
type BackupCodes struct {
	cipher *Cipher
	count  int
	length int
}

func NewBackupCodes(c *Cipher, count, length int) *BackupCodes {
	if count <= 0 {
		count = DefaultBackupCodeCount
	}
	if length <= 0 {
		length = DefaultBackupCodeLength
	}
	return &BackupCodes{cipher: c, count: count, length: length}
}

// Generate returns count distinct codes.
func (b *BackupCodes) Generate() ([]string, error) {
	alphabetSize := big.NewInt(int64(len(BackupAlphabet)))
	seen := make(map[string]struct{}, b.count)
	codes := make([]string, 0, b.count)

	for len(codes) < b.count {
		var sb strings.Builder
		sb.Grow(b.length)
		for i := 0; i < b.length; i++ {
			n, err := rand.Int(rand.Reader, alphabetSize)
			if err != nil {
				return nil, fmt.Errorf("mfa: generate backup code: %w", err)
			}
			sb.WriteByte(BackupAlphabet[n.Int64()])
		}

		code := sb.String()
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes, nil
}

// GenerateSealed returns a fresh set in plaintext together with its blob.
func (b *BackupCodes) GenerateSealed() ([]string, string, error) {
	codes, err := b.Generate()
	if err != nil {
		return nil, "", err
	}
	blob, err := b.Seal(codes)
	if err != nil {
		return nil, "", err
	}
	return codes, blob, nil
}

func (b *BackupCodes) Seal(codes []string) (string, error) {
	if codes == nil {
		codes = []string{}
	}
	raw, err := json.Marshal(codes)
	if err != nil {
		return "", fmt.Errorf("mfa: encode backup codes: %w", err)
	}
	return b.cipher.Encrypt(string(raw))
}

// Open decrypts a stored set. An empty blob is an empty set.
func (b *BackupCodes) Open(blob string) ([]string, error) {
	plain, err := b.cipher.Decrypt(blob)
	if err != nil {
		return nil, err
	}
	if plain == "" {
		return nil, nil
	}

	var codes []string
	if err := json.Unmarshal([]byte(plain), &codes); err != nil {
		return nil, fmt.Errorf("%w: backup code set is not a list", ErrDecryption)
	}
	return codes, nil
}

func (b *BackupCodes) Remaining(blob string) (int, error) {
	codes, err := b.Open(blob)
	if err != nil {
		return 0, err
	}
	return len(codes), nil
}

// VerifyAndConsume removes the first stored code equal to submitted after
// normalization and returns the resealed set. When nothing matches the
// original blob comes back unchanged and the caller must not persist it.
func (b *BackupCodes) VerifyAndConsume(blob, submitted string) (bool, string, error) {
	want := NormalizeBackupCode(submitted)
	if want == "" || blob == "" {
		return false, blob, nil
	}

	codes, err := b.Open(blob)
	if err != nil {
		return false, blob, err
	}

	for i, code := range codes {
		if !codeEqual(code, want) {
			continue
		}

		rest := make([]string, 0, len(codes)-1)
		rest = append(rest, codes[:i]...)
		rest = append(rest, codes[i+1:]...)

		updated, err := b.Seal(rest)
		if err != nil {
			return false, blob, err
		}
		return true, updated, nil
	}
	return false, blob, nil
}

// Contains reports whether submitted is in the set without consuming it.
func (b *BackupCodes) Contains(blob, submitted string) (bool, error) {
	want := NormalizeBackupCode(submitted)
	if want == "" || blob == "" {
		return false, nil
	}
	codes, err := b.Open(blob)
	if err != nil {
		return false, err
	}
	for _, code := range codes {
		if codeEqual(code, want) {
			return true, nil
		}
	}
	return false, nil
}

func codeEqual(stored, normalized string) bool {
	return subtle.ConstantTimeCompare([]byte(NormalizeBackupCode(stored)), []byte(normalized)) == 1
}

// NormalizeBackupCode strips dashes and whitespace and uppercases.
func NormalizeBackupCode(code string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '-', ' ', '\t':
			return -1
		}
		if r >= 'a' && r <= 'z' {
			return r - ('a' - 'A')
		}
		return r
	}, code)
}
