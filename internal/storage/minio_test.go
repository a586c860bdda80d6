package storage

import (
	"testing"

	"github.com/voiceagent/backend/internal/config"
)

func TestNewMinIOClient(t *testing.T) {
	t.Run("static credentials", func(t *testing.T) {
		client, err := NewMinIOClient(config.MinIOConfig{
			Endpoint:  "localhost:9000",
			AccessKey: "minioadmin",
			SecretKey: "minioadmin",
			Bucket:    "audit",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if client.Bucket() != "audit" {
			t.Errorf("expected bucket audit, got %q", client.Bucket())
		}
	})

	t.Run("iam fallback", func(t *testing.T) {
		client, err := NewMinIOClient(config.MinIOConfig{
			Endpoint: "s3.amazonaws.com",
			Bucket:   "audit",
			Region:   "eu-west-1",
			UseSSL:   true,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if client.client == nil {
			t.Fatal("expected underlying client")
		}
	})

	t.Run("endpoint with path", func(t *testing.T) {
		_, err := NewMinIOClient(config.MinIOConfig{
			Endpoint:  "localhost:9000/bucket",
			AccessKey: "minioadmin",
			SecretKey: "minioadmin",
		})
		if err == nil {
			t.Fatal("expected error for endpoint with a path")
		}
	})
}
