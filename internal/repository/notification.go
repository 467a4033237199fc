package repository

import (
	"context"
	"database/sql"
	"fmt"

	"rescuenet-core/internal/models"

	"go.uber.org/zap"
)

// NotificationRepository 通知记录仓库（incident_notifications 表，只追加）
type NotificationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationRepository 创建通知记录仓库
func NewNotificationRepository(db *sql.DB, logger *zap.Logger) *NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// AppendNotification 追加一条通知记录
// 发送失败的记录同样写入，delivered = false 并带失败原因
func (r *NotificationRepository) AppendNotification(ctx context.Context, record *models.NotificationRecord) error {
	if record == nil {
		return fmt.Errorf("record is required")
	}
	if record.NotificationID == "" {
		return fmt.Errorf("notification_id is required")
	}
	if record.IncidentID == "" {
		return fmt.Errorf("incident_id is required")
	}
	if record.Channel == "" {
		return fmt.Errorf("channel is required")
	}

	query := `
		INSERT INTO incident_notifications (
			notification_id, incident_id, channel, recipient, message,
			sent_at, delivered_at, delivered, provider_id, failure_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		record.NotificationID,
		record.IncidentID,
		record.Channel,
		record.Recipient,
		record.Message,
		record.SentAt,
		record.DeliveredAt,
		record.Delivered,
		record.ProviderID,
		record.FailureReason,
	)
	if err != nil {
		return fmt.Errorf("failed to append notification: %w", err)
	}

	return nil
}

// ListNotifications 按事件列出通知记录（发送时间升序）
func (r *NotificationRepository) ListNotifications(ctx context.Context, incidentID string) ([]*models.NotificationRecord, error) {
	if incidentID == "" {
		return nil, fmt.Errorf("incident_id is required")
	}

	query := `
		SELECT notification_id, incident_id, channel, recipient, message,
		       sent_at, delivered_at, delivered, provider_id, failure_reason
		FROM incident_notifications
		WHERE incident_id = $1
		ORDER BY sent_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	records := []*models.NotificationRecord{}
	for rows.Next() {
		var record models.NotificationRecord
		var deliveredAt sql.NullTime
		var providerID, failureReason sql.NullString

		err := rows.Scan(
			&record.NotificationID,
			&record.IncidentID,
			&record.Channel,
			&record.Recipient,
			&record.Message,
			&record.SentAt,
			&deliveredAt,
			&record.Delivered,
			&providerID,
			&failureReason,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}

		if deliveredAt.Valid {
			record.DeliveredAt = &deliveredAt.Time
		}
		if providerID.Valid {
			record.ProviderID = &providerID.String
		}
		if failureReason.Valid {
			record.FailureReason = &failureReason.String
		}

		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}

	return records, nil
}
