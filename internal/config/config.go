package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	DefaultMFAIssuer     = "VoiceAgent Platform"
	DefaultKDFSalt       = "voice_agent_mfa_salt"
	DefaultKDFIterations = 100000

	// PlaceholderSecret is the shipped SECRET_KEY default. It is only
	// tolerated for local SQLite setups.
	PlaceholderSecret = "your-secret-key-change-this"
)

type Config struct {
	DB     DBConfig
	JWT    JWTConfig
	MFA    MFAConfig
	Server ServerConfig
	MinIO  MinIOConfig `envPrefix:"MINIO_"`
	Audit  AuditConfig
	Kafka  KafkaConfig `envPrefix:"KAFKA_"`
	Log    LogConfig   `envPrefix:"LOG_"`
}

type DBConfig struct {
	Driver   string `env:"DB_DRIVER" envDefault:"postgres"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"voiceagent"`
	Password string `env:"DB_PASSWORD" envDefault:"voiceagent_secret"`
	Name     string `env:"DB_NAME" envDefault:"voiceagent"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
	// Path is the SQLite database file, used when Driver is sqlite.
	Path string `env:"DB_PATH" envDefault:"voiceagent.db"`
}

// JWTConfig holds the service-wide secret. It signs tokens and is the input of
// the MFA encryption key derivation, so changing it requires `authctl rotate-key`.
type JWTConfig struct {
	Secret             string `env:"SECRET_KEY" envDefault:"your-secret-key-change-this"`
	AccessTokenMinutes int    `env:"ACCESS_TOKEN_EXPIRE_MINUTES" envDefault:"30"`
	MFATokenMinutes    int    `env:"MFA_TOKEN_EXPIRE_MINUTES" envDefault:"5"`
	RefreshTokenDays   int    `env:"REFRESH_TOKEN_EXPIRE_DAYS" envDefault:"7"`
}

type MFAConfig struct {
	Issuer           string `env:"MFA_ISSUER_NAME" envDefault:"VoiceAgent Platform"`
	KDFSalt          string `env:"MFA_KDF_SALT" envDefault:"voice_agent_mfa_salt"`
	KDFIterations    int    `env:"MFA_KDF_ITERATIONS" envDefault:"100000"`
	BackupCodeCount  int    `env:"BACKUP_CODE_COUNT" envDefault:"10"`
	BackupCodeLength int    `env:"BACKUP_CODE_LENGTH" envDefault:"8"`
}

type ServerConfig struct {
	Port        string `env:"SERVER_PORT" envDefault:"8000"`
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
}

type MinIOConfig struct {
	Endpoint  string `env:"ENDPOINT"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Bucket    string `env:"BUCKET" envDefault:"voiceagent-audit"`
	Region    string `env:"REGION"`
	UseSSL    bool   `env:"USE_SSL" envDefault:"false"`
}

type AuditConfig struct {
	QueueSize      int           `env:"AUDIT_QUEUE_SIZE" envDefault:"1000"`
	ExportInterval time.Duration `env:"AUDIT_EXPORT_INTERVAL" envDefault:"1h"`
}

type KafkaConfig struct {
	Brokers           []string `env:"BROKERS" envSeparator:","`
	NotificationTopic string   `env:"NOTIFICATION_TOPIC" envDefault:"auth.notifications"`
	Source            string   `env:"SOURCE" envDefault:"voiceagent-auth"`
}

type LogConfig struct {
	Level string `env:"LEVEL" envDefault:"info"`
	JSON  bool   `env:"JSON" envDefault:"true"`
}

// AccessTTL, MFATTL and RefreshTTL convert the configured counts to durations.
func (c JWTConfig) AccessTTL() time.Duration {
	return time.Duration(c.AccessTokenMinutes) * time.Minute
}

func (c JWTConfig) MFATTL() time.Duration {
	return time.Duration(c.MFATokenMinutes) * time.Minute
}

func (c JWTConfig) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshTokenDays) * 24 * time.Hour
}

// Enabled reports whether audit export to object storage is configured.
func (c MinIOConfig) Enabled() bool {
	return c.Endpoint != ""
}

// Load reads an optional .env file and then parses the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("load .env file: %w", err)
		}
	}
	return Parse()
}

// Parse builds the config from the process environment only.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Sanitize clamps values that would otherwise break the auth flow.
func (c *Config) Sanitize() {
	c.DB.Driver = strings.ToLower(strings.TrimSpace(c.DB.Driver))
	if c.JWT.AccessTokenMinutes <= 0 {
		c.JWT.AccessTokenMinutes = 30
	}
	if c.JWT.MFATokenMinutes <= 0 || c.JWT.MFATokenMinutes > c.JWT.AccessTokenMinutes {
		c.JWT.MFATokenMinutes = min(5, c.JWT.AccessTokenMinutes)
	}
	if c.JWT.RefreshTokenDays <= 0 {
		c.JWT.RefreshTokenDays = 7
	}
	if c.MFA.Issuer == "" {
		c.MFA.Issuer = DefaultMFAIssuer
	}
	if c.MFA.KDFSalt == "" {
		c.MFA.KDFSalt = DefaultKDFSalt
	}
	if c.MFA.KDFIterations < DefaultKDFIterations {
		c.MFA.KDFIterations = DefaultKDFIterations
	}
	if c.MFA.BackupCodeCount <= 0 {
		c.MFA.BackupCodeCount = 10
	}
	if c.MFA.BackupCodeLength < 6 {
		c.MFA.BackupCodeLength = 8
	}
	if c.Audit.QueueSize <= 0 {
		c.Audit.QueueSize = 1000
	}
	if c.Audit.ExportInterval <= 0 {
		c.Audit.ExportInterval = time.Hour
	}
}

// UsesPlaceholderSecret reports whether SECRET_KEY was left at its default.
func (c *Config) UsesPlaceholderSecret() bool {
	return c.JWT.Secret == PlaceholderSecret
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWT.Secret) == "" {
		return errors.New("SECRET_KEY is required")
	}
	if c.UsesPlaceholderSecret() && c.DB.Driver == "postgres" {
		return errors.New("SECRET_KEY must be changed from the placeholder default")
	}
	switch c.DB.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("invalid DB_DRIVER %q (valid options: postgres, sqlite)", c.DB.Driver)
	}
	return nil
}
