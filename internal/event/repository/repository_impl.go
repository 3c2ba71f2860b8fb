package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallcrm/leadhook/internal/event/domain"
	pkgdb "github.com/smallcrm/leadhook/pkg/db"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, record *domain.Record) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO lead_events (
			id, event_id, lead_id, action, status, retry_count,
			error_message, raw_payload, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_id) DO NOTHING`,
		record.ID,
		record.EventID,
		record.LeadID,
		record.Action,
		record.Status,
		record.RetryCount,
		record.ErrorMessage,
		record.RawPayload,
		record.ReceivedAt,
		record.ProcessedAt,
	)
	if res.Error != nil {
		// MySQL has no ON CONFLICT DO NOTHING; a unique violation on
		// event_id means the row already exists.
		if pkgdb.IsDuplicateKeyErr(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) RetryFailed(ctx context.Context, db *gorm.DB, eventID string, payload datatypes.JSON, receivedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE lead_events
		 SET status = ?, retry_count = retry_count + 1,
		     raw_payload = ?, received_at = ?, processed_at = NULL
		 WHERE event_id = ? AND status = ?`,
		domain.StatusProcessing,
		payload,
		receivedAt,
		eventID,
		domain.StatusFailed,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkSuccess(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE lead_events
		 SET status = ?, error_message = NULL, processed_at = ?
		 WHERE id = ?`,
		domain.StatusSuccess,
		processedAt,
		id,
	).Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, message string, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE lead_events
		 SET status = ?, error_message = ?, processed_at = ?
		 WHERE id = ?`,
		domain.StatusFailed,
		message,
		processedAt,
		id,
	).Error
}

func (r *repo) FindByEventID(ctx context.Context, db *gorm.DB, eventID string) (*domain.Record, error) {
	var item domain.Record
	err := db.WithContext(ctx).Raw(
		`SELECT id, event_id, lead_id, action, status, retry_count,
			error_message, raw_payload, received_at, processed_at
		 FROM lead_events
		 WHERE event_id = ?
		 LIMIT 1`,
		eventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, status string, limit int) ([]domain.Record, error) {
	if limit <= 0 {
		limit = 50
	}

	var items []domain.Record
	query := `SELECT id, event_id, lead_id, action, status, retry_count,
			error_message, raw_payload, received_at, processed_at
		 FROM lead_events`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY received_at DESC LIMIT ?`
	args = append(args, limit)

	if err := db.WithContext(ctx).Raw(query, args...).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FailStale(ctx context.Context, db *gorm.DB, cutoff time.Time, message string, processedAt time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE lead_events
		 SET status = ?, error_message = ?, processed_at = ?
		 WHERE status = ? AND received_at < ?`,
		domain.StatusFailed,
		message,
		processedAt,
		domain.StatusProcessing,
		cutoff,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
