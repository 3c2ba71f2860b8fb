package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusProcessing = "processing"
	StatusSuccess    = "success"
	StatusFailed     = "failed"
)

// Record is the durable ledger row for one webhook event. Rows are never
// deleted; a failed row is re-admitted in place with an incremented retry
// count, so the unique index on event_id holds at any instant.
type Record struct {
	ID           snowflake.ID   `json:"id" gorm:"primaryKey"`
	EventID      string         `json:"event_id" gorm:"type:text;not null;uniqueIndex"`
	LeadID       string         `json:"lead_id" gorm:"type:text;not null;index"`
	Action       string         `json:"action" gorm:"type:text;not null"`
	Status       string         `json:"status" gorm:"type:text;not null"`
	RetryCount   int            `json:"retry_count" gorm:"not null;default:0"`
	ErrorMessage *string        `json:"error_message"`
	RawPayload   datatypes.JSON `json:"raw_payload" gorm:"type:jsonb;not null"`
	ReceivedAt   time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt  *time.Time     `json:"processed_at"`
}

func (Record) TableName() string { return "lead_events" }

var (
	ErrDuplicateEvent = errors.New("event already processed or in flight")
	ErrRecordNotFound = errors.New("ledger record not found")
)

// Repository provides the atomic ledger primitives.
type Repository interface {
	// InsertIfAbsent inserts the record unless a row for its event_id exists.
	InsertIfAbsent(ctx context.Context, db *gorm.DB, record *Record) (bool, error)
	// RetryFailed re-admits an existing failed row for a fresh attempt:
	// status back to processing, retry_count incremented. Returns false when
	// the row is absent or not in status failed.
	RetryFailed(ctx context.Context, db *gorm.DB, eventID string, payload datatypes.JSON, receivedAt time.Time) (bool, error)
	MarkSuccess(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, message string, processedAt time.Time) error
	FindByEventID(ctx context.Context, db *gorm.DB, eventID string) (*Record, error)
	List(ctx context.Context, db *gorm.DB, status string, limit int) ([]Record, error)
	// FailStale marks processing rows received before the cutoff as failed
	// and returns how many were swept.
	FailStale(ctx context.Context, db *gorm.DB, cutoff time.Time, message string, processedAt time.Time) (int64, error)
}

// Service is the ledger as seen by the pipeline and operations endpoints.
type Service interface {
	// RecordIfNew is the authoritative at-most-once admission gate. Exactly
	// one of N concurrent callers for the same event_id is accepted; the
	// rest observe ErrDuplicateEvent. A prior failed row does not block:
	// the event is re-admitted with retry_count incremented.
	RecordIfNew(ctx context.Context, eventID, leadID, action string, payload []byte, receivedAt time.Time) (*Record, error)
	MarkSuccess(ctx context.Context, id snowflake.ID) error
	MarkFailed(ctx context.Context, id snowflake.ID, cause error) error
	Get(ctx context.Context, eventID string) (*Record, error)
	List(ctx context.Context, status string, limit int) ([]Record, error)
	FailStale(ctx context.Context, threshold time.Duration) (int64, error)
}
