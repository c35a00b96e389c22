package models

import (
	"context"
	"time"

	"github.com/afrimobile/shares_backend/config"
	"github.com/afrimobile/shares_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Outbox publish statuses for PurchaseEventRecord.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// PurchaseEventRecord implements a transactional outbox: lifecycle events are
// written inside the same DB transaction as the state change and published to
// Pub/Sub after commit by the dispatcher. Consumers (mailer, analytics) are
// outside this repo.
type PurchaseEventRecord struct {
	ID            int               `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	EventType     PurchaseEventType `gorm:"size:32;not null;index" json:"event_type"`
	TransactionId string            `gorm:"size:32;index" json:"transaction_id"`
	PlanId        string            `gorm:"size:32;index" json:"plan_id"`
	UserId        int               `gorm:"not null;index" json:"user_id"`
	OccurredAt    time.Time         `gorm:"not null" json:"occurred_at"`
	Payload       []byte            `gorm:"type:blob" json:"payload"`

	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"`
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// RecordPurchaseEvent writes the outbox row inside the caller's DB
// transaction. It does NOT publish; the dispatcher does that after commit.
func RecordPurchaseEvent(ctx context.Context, tx *gorm.DB, eventType PurchaseEventType, transactionId, planId string, userId int, payload interface{}) error {
	var payloadBytes []byte
	if payload != nil {
		s, err := utils.MarshalToJSON(payload)
		if err != nil {
			return err
		}
		payloadBytes = []byte(s)
	}

	record := PurchaseEventRecord{
		EventType:     eventType,
		TransactionId: transactionId,
		PlanId:        planId,
		UserId:        userId,
		OccurredAt:    time.Now().UTC(),
		Payload:       payloadBytes,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return tx.Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func ConvertToPurchaseEvent(record PurchaseEventRecord) config.PurchaseEvent {
	return config.PurchaseEvent{
		ID:            record.ID,
		EventType:     string(record.EventType),
		TransactionId: record.TransactionId,
		PlanId:        record.PlanId,
		UserId:        record.UserId,
		OccurredAt:    record.OccurredAt,
		Payload:       record.Payload,
		CorrelationId: record.CorrelationId,
	}
}
