package repository

import (
	"context"
	"testing"
	"time"

	"rescuenet-core/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAppendNotification_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewNotificationRepository(db, zap.NewNop())

	now := time.Now()
	providerID := "sms-msg-123"
	record := &models.NotificationRecord{
		NotificationID: "notif-001",
		IncidentID:     "inc-001",
		Channel:        "sms",
		Recipient:      "+8613800000000",
		Message:        "EMERGENCY: critical heart rate detected",
		SentAt:         now,
		DeliveredAt:    &now,
		Delivered:      true,
		ProviderID:     &providerID,
	}

	mock.ExpectExec("INSERT INTO incident_notifications").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = repo.AppendNotification(context.Background(), record)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendNotification_FailureRecorded(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewNotificationRepository(db, zap.NewNop())

	reason := "channel timeout after 5s"
	record := &models.NotificationRecord{
		NotificationID: "notif-002",
		IncidentID:     "inc-001",
		Channel:        "phone_call",
		Recipient:      "+8613800000000",
		Message:        "EMERGENCY: critical heart rate detected",
		SentAt:         time.Now(),
		Delivered:      false,
		FailureReason:  &reason,
	}

	mock.ExpectExec("INSERT INTO incident_notifications").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = repo.AppendNotification(context.Background(), record)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendNotification_MissingFields(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewNotificationRepository(db, zap.NewNop())

	err = repo.AppendNotification(context.Background(), &models.NotificationRecord{
		NotificationID: "notif-001",
		IncidentID:     "inc-001",
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "channel is required")
}

func TestListNotifications(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewNotificationRepository(db, zap.NewNop())

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"notification_id", "incident_id", "channel", "recipient", "message",
		"sent_at", "delivered_at", "delivered", "provider_id", "failure_reason",
	}).
		AddRow("notif-001", "inc-001", "sms", "+8613800000000", "EMERGENCY", now, now, true, "sms-msg-123", nil).
		AddRow("notif-002", "inc-001", "phone_call", "+8613800000000", "EMERGENCY", now, nil, false, nil, "channel timeout after 5s")

	mock.ExpectQuery("FROM incident_notifications").
		WithArgs("inc-001").
		WillReturnRows(rows)

	records, err := repo.ListNotifications(context.Background(), "inc-001")
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.True(t, records[0].Delivered)
	require.NotNil(t, records[0].ProviderID)
	assert.Equal(t, "sms-msg-123", *records[0].ProviderID)

	assert.False(t, records[1].Delivered)
	require.NotNil(t, records[1].FailureReason)
	assert.Equal(t, "channel timeout after 5s", *records[1].FailureReason)
	assert.NoError(t, mock.ExpectationsWereMet())
}
