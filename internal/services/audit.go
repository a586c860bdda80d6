package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/voiceagent/backend/internal/models"
	"github.com/voiceagent/backend/pkg/logger"
	"gorm.io/gorm"
)

const (
	defaultAuditQueueSize      = 1000
	defaultAuditExportInterval = time.Hour
	auditExportBatchSize       = 10000
)

type AuditEntry struct {
	CompanyID    uuid.UUID
	UserID       *uuid.UUID
	Action       string
	ResourceType string
	ResourceID   *uuid.UUID
	Details      map[string]interface{}
	IPAddress    string
	UserAgent    string
	RequestID    string
}

// Archiver receives NDJSON audit exports. *storage.MinIOClient satisfies it.
type Archiver interface {
	Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error
}

// AuditService writes audit rows from a single background goroutine so
// callers never wait on the database.
type AuditService struct {
	DB      *gorm.DB
	Storage Archiver

	queue  chan models.AuditLog
	done   chan struct{}
	mu     sync.RWMutex
	closed bool

	// lastStamp is owned by processQueue.
	lastStamp time.Time
	batchSize int
}

func NewAuditService(db *gorm.DB, archiver Archiver, queueSize int) *AuditService {
	if queueSize <= 0 {
		queueSize = defaultAuditQueueSize
	}
	s := &AuditService{
		DB:      db,
		Storage: archiver,
		queue:     make(chan models.AuditLog, queueSize),
		done:      make(chan struct{}),
		batchSize: auditExportBatchSize,
	}
	go s.processQueue()
	return s
}

// LogAsync enqueues entry and returns immediately. A full queue drops the
// entry and logs a warning.
func (s *AuditService) LogAsync(entry AuditEntry) {
	row := models.AuditLog{
		CompanyID:    entry.CompanyID,
		UserID:       entry.UserID,
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		Details:      entry.Details,
		IPAddress:    entry.IPAddress,
		UserAgent:    entry.UserAgent,
		RequestID:    entry.RequestID,
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		logger.Warn("audit_log_after_close", map[string]interface{}{
			"action": entry.Action,
		})
		return
	}

	select {
	case s.queue <- row:
	default:
		logger.Warn("audit_queue_full", map[string]interface{}{
			"action":  entry.Action,
			"dropped": true,
		})
	}
}

func (s *AuditService) processQueue() {
	defer close(s.done)
	for row := range s.queue {
		row.CreatedAt = s.nextStamp()
		if err := s.DB.Create(&row).Error; err != nil {
			logger.Error("audit_log_insert_failed", err, map[string]interface{}{
				"action": row.Action,
			})
		}
	}
}

// nextStamp returns a strictly increasing microsecond timestamp. Rows are
// inserted in stamp order, which lets the exporter resume from the last
// exported created_at without skipping rows.
func (s *AuditService) nextStamp() time.Time {
	now := time.Now().UTC().Truncate(time.Microsecond)
	if !now.After(s.lastStamp) {
		now = s.lastStamp.Add(time.Microsecond)
	}
	s.lastStamp = now
	return now
}

// Close stops accepting entries and waits until queued ones are written.
func (s *AuditService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
}

// StartExporter periodically ships new audit rows to object storage until ctx
// is cancelled.
func (s *AuditService) StartExporter(ctx context.Context, interval time.Duration) {
	if s.Storage == nil {
		logger.Info("audit_exporter_disabled", map[string]interface{}{
			"reason": "no storage client configured",
		})
		return
	}
	if interval <= 0 {
		interval = defaultAuditExportInterval
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.ExportOnce(ctx); err != nil {
					logger.Error("audit_export_failed", err, nil)
				}
			}
		}
	}()

	logger.Info("audit_exporter_started", map[string]interface{}{
		"interval": interval.String(),
	})
}

// ExportOnce uploads every row newer than the cursor as one NDJSON object and
// advances the cursor. It returns the number of rows exported.
func (s *AuditService) ExportOnce(ctx context.Context) (int, error) {
	if s.Storage == nil {
		return 0, errors.New("audit export: no storage client configured")
	}

	db := s.DB.WithContext(ctx)

	var cursor models.AuditExportCursor
	if err := db.First(&cursor).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("load export cursor: %w", err)
		}
		cursor = models.AuditExportCursor{
			LastExportAt: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		}
		if err := db.Create(&cursor).Error; err != nil {
			return 0, fmt.Errorf("create export cursor: %w", err)
		}
	}

	var logs []models.AuditLog
	if err := db.Where("created_at > ?", cursor.LastExportAt).
		Order("created_at ASC").
		Limit(s.batchSize).
		Find(&logs).Error; err != nil {
		return 0, fmt.Errorf("query audit logs: %w", err)
	}

	if len(logs) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range logs {
		if err := enc.Encode(row); err != nil {
			logger.Error("audit_export_encode_failed", err, map[string]interface{}{
				"log_id": row.ID.String(),
			})
		}
	}

	now := time.Now().UTC()
	objectName := fmt.Sprintf("audit-logs/%s/%s.ndjson",
		now.Format("2006/01/02"),
		now.Format("15-04-05.000000"),
	)

	if err := s.Storage.Upload(ctx, objectName, &buf, int64(buf.Len()), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("upload %s: %w", objectName, err)
	}

	lastCreatedAt := logs[len(logs)-1].CreatedAt
	if err := db.Model(&cursor).Updates(map[string]interface{}{
		"last_export_at": lastCreatedAt,
		"exported_count": gorm.Expr("exported_count + ?", len(logs)),
	}).Error; err != nil {
		return 0, fmt.Errorf("advance export cursor: %w", err)
	}

	logger.Info("audit_export_success", map[string]interface{}{
		"object_name": objectName,
		"count":       len(logs),
	})
	return len(logs), nil
}
