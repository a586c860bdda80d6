package mfa

import (
	"bytes"
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	secretBytes = 20
	codeDigits  = otp.DigitsSix
	stepPeriod  = 30
	stepSkew    = 1
	qrSize      = 256
)

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

type TOTPConfig struct {
	Issuer string
}

// TOTP generates and checks RFC 6238 codes with the authenticator-app
// defaults: SHA-1, six digits, 30 second steps.
type TOTP struct {
	issuer string
}

func NewTOTP(cfg TOTPConfig) *TOTP {
	return &TOTP{issuer: cfg.Issuer}
}

func (e *TOTP) Issuer() string {
	return e.issuer
}

// GenerateSecret returns 160 random bits as unpadded base32.
func (e *TOTP) GenerateSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("mfa: generate secret: %w", err)
	}
	return secretEncoding.EncodeToString(raw), nil
}

// ProvisioningURI builds the otpauth:// URI authenticator apps scan.
func (e *TOTP) ProvisioningURI(secret, account string) (string, error) {
	raw, err := secretEncoding.DecodeString(strings.ToUpper(secret))
	if err != nil {
		return "", fmt.Errorf("mfa: secret is not base32: %w", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: account,
		Period:      stepPeriod,
		Secret:      raw,
		Digits:      codeDigits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("mfa: build provisioning uri: %w", err)
	}
	return key.URL(), nil
}

// RenderProvisioningImage encodes uri as a PNG QR code.
func (e *TOTP) RenderProvisioningImage(uri string) ([]byte, error) {
	if uri == "" {
		return nil, errors.New("mfa: empty provisioning uri")
	}

	code, err := qr.Encode(uri, qr.M, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("mfa: encode qr: %w", err)
	}
	code, err = barcode.Scale(code, qrSize, qrSize)
	if err != nil {
		return nil, fmt.Errorf("mfa: scale qr: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, code); err != nil {
		return nil, fmt.Errorf("mfa: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// ProvisioningDataURL renders uri and wraps it as a data: URL for browsers.
func (e *TOTP) ProvisioningDataURL(uri string) (string, error) {
	img, err := e.RenderProvisioningImage(uri)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(img), nil
}

// VerifyCode accepts the code for the current step and one step either side.
func (e *TOTP) VerifyCode(secret, code string) bool {
	return e.VerifyCodeAt(secret, code, time.Now())
}

func (e *TOTP) VerifyCodeAt(secret, code string, at time.Time) bool {
	code = strings.TrimSpace(code)
	if secret == "" || code == "" {
		return false
	}

	ok, err := totp.ValidateCustom(code, secret, at.UTC(), totp.ValidateOpts{
		Period:    stepPeriod,
		Skew:      stepSkew,
		Digits:    codeDigits,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// CodeAt returns the code valid for the step containing at.
func (e *TOTP) CodeAt(secret string, at time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, at.UTC(), totp.ValidateOpts{
		Period:    stepPeriod,
		Digits:    codeDigits,
		Algorithm: otp.AlgorithmSHA1,
	})
}

// FormatForManualEntry splits the secret into space separated groups of four.
func FormatForManualEntry(secret string) string {
	var groups []string
	for i := 0; i < len(secret); i += 4 {
		end := min(i+4, len(secret))
		groups = append(groups, secret[i:end])
	}
	return strings.Join(groups, " ")
}
