package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/voiceagent/backend/internal/models"
	"github.com/voiceagent/backend/pkg/logger"
)

const (
	EventWelcome    = "com.voiceagent.auth.welcome"
	EventMFAEnabled = "com.voiceagent.auth.mfa_enabled"
	EventLoginAlert = "com.voiceagent.auth.login_alert"
)

// LoginContext describes where a sign-in came from.
type LoginContext struct {
	IPAddress string
	UserAgent string
	At        time.Time
}

// Notifier delivers user-facing messages. Callers treat every error as
// non-fatal.
type Notifier interface {
	SendWelcome(ctx context.Context, user *models.User, companyName string) error
	SendMFAEnabled(ctx context.Context, user *models.User) error
	SendLoginAlert(ctx context.Context, user *models.User, login LoginContext) error
}

// CloudEvent is the envelope written to the notification topic. A mail worker
// consumes it and renders the actual email.
type CloudEvent struct {
	ID          string          `json:"id"`
	Source      string          `json:"source"`
	SpecVersion string          `json:"specversion"`
	Type        string          `json:"type"`
	Time        time.Time       `json:"time"`
	Subject     string          `json:"subject,omitempty"`
	ContentType string          `json:"datacontenttype"`
	Data        json.RawMessage `json:"data"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers     []string
	Topic       string
	Source      string
	FrontendURL string
}

type KafkaNotifier struct {
	writer      messageWriter
	source      string
	frontendURL string
}

func NewKafkaNotifier(cfg KafkaConfig) *KafkaNotifier {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}
	return newKafkaNotifier(writer, cfg)
}

func newKafkaNotifier(writer messageWriter, cfg KafkaConfig) *KafkaNotifier {
	return &KafkaNotifier{writer: writer, source: cfg.Source, frontendURL: cfg.FrontendURL}
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

func (n *KafkaNotifier) SendWelcome(ctx context.Context, user *models.User, companyName string) error {
	return n.publish(ctx, EventWelcome, user, map[string]interface{}{
		"email":        user.Email,
		"full_name":    user.FullName,
		"company_name": companyName,
		"login_url":    n.frontendURL + "/login",
	})
}

func (n *KafkaNotifier) SendMFAEnabled(ctx context.Context, user *models.User) error {
	return n.publish(ctx, EventMFAEnabled, user, map[string]interface{}{
		"email":     user.Email,
		"full_name": user.FullName,
	})
}

func (n *KafkaNotifier) SendLoginAlert(ctx context.Context, user *models.User, login LoginContext) error {
	return n.publish(ctx, EventLoginAlert, user, map[string]interface{}{
		"email":      user.Email,
		"full_name":  user.FullName,
		"ip_address": login.IPAddress,
		"user_agent": login.UserAgent,
		"login_at":   login.At.UTC(),
	})
}

func (n *KafkaNotifier) publish(ctx context.Context, eventType string, user *models.User, data map[string]interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}

	event := CloudEvent{
		ID:          uuid.NewString(),
		Source:      n.source,
		SpecVersion: "1.0",
		Type:        eventType,
		Time:        time.Now().UTC(),
		Subject:     user.ID.String(),
		ContentType: "application/json",
		Data:        payload,
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}

	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(user.ID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "ce_id", Value: []byte(event.ID)},
			{Key: "ce_type", Value: []byte(event.Type)},
			{Key: "ce_source", Value: []byte(event.Source)},
			{Key: "ce_specversion", Value: []byte(event.SpecVersion)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}
	return nil
}

// LogNotifier records notifications in the log only. It is used when no
// brokers are configured.
type LogNotifier struct{}

func (LogNotifier) SendWelcome(_ context.Context, user *models.User, companyName string) error {
	logger.InfoWithUser(user.ID.String(), "notify_welcome", map[string]interface{}{
		"company": companyName,
	})
	return nil
}

func (LogNotifier) SendMFAEnabled(_ context.Context, user *models.User) error {
	logger.InfoWithUser(user.ID.String(), "notify_mfa_enabled", nil)
	return nil
}

func (LogNotifier) SendLoginAlert(_ context.Context, user *models.User, login LoginContext) error {
	logger.InfoWithUser(user.ID.String(), "notify_login_alert", map[string]interface{}{
		"ip_address": login.IPAddress,
	})
	return nil
}
