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

var incidentRows = []string{
	"incident_id", "subject_id", "primary_type", "severity", "status",
	"description", "reading_id", "trigger_snapshot", "latitude", "longitude",
	"assigned_facility_id", "facility_candidates", "manual_dispatch_required",
	"created_at", "acknowledged_at", "acknowledged_by", "response_started_at",
	"responders", "responder_eta_min", "resolved_at", "resolution_outcome",
	"resolution_notes", "false_alarm_reason", "escalated_at", "escalation_reason",
	"merged_count", "ack_seconds", "response_seconds", "resolve_seconds", "updated_at",
}

func addIncidentRow(rows *sqlmock.Rows, incidentID, subjectID string, status string, now time.Time) *sqlmock.Rows {
	return rows.AddRow(
		incidentID, subjectID, "heart_rate_anomaly", "critical", status,
		"Heart rate critically abnormal: 150 bpm", "read-001", []byte(`{"heart_rate":150}`), 39.9, 116.4,
		nil, []byte(`[]`), false,
		now, nil, nil, nil,
		[]byte(`[]`), nil, nil, nil,
		nil, nil, nil, nil,
		0, nil, nil, nil, now,
	)
}

func TestCreateIncident_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewIncidentRepository(db, zap.NewNop())

	now := time.Now()
	incident := &models.EmergencyIncident{
		IncidentID:  "inc-001",
		SubjectID:   "subject-001",
		PrimaryType: models.TypeHeartRateAnomaly,
		Severity:    models.SeverityCritical,
		Status:      models.StatusActive,
		Description: "Heart rate critically abnormal: 150 bpm",
		ReadingID:   "read-001",
		Location:    &models.GeoPoint{Latitude: 39.9, Longitude: 116.4},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	mock.ExpectExec("INSERT INTO incidents").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = repo.CreateIncident(context.Background(), incident)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateIncident_MissingFields(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewIncidentRepository(db, zap.NewNop())

	err = repo.CreateIncident(context.Background(), nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "incident is required")

	err = repo.CreateIncident(context.Background(), &models.EmergencyIncident{SubjectID: "subject-001"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "incident_id is required")

	err = repo.CreateIncident(context.Background(), &models.EmergencyIncident{IncidentID: "inc-001"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "subject_id is required")
}

func TestGetIncident_NotFoundSentinel(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewIncidentRepository(db, zap.NewNop())

	mock.ExpectQuery("FROM incidents").
		WithArgs("inc-missing").
		WillReturnRows(sqlmock.NewRows(incidentRows))

	_, err = repo.GetIncident(context.Background(), "inc-missing")
	assert.ErrorIs(t, err, ErrIncidentNotFound)
	assert.Contains(t, err.Error(), "inc-missing")
}

func TestGetActiveIncidentBySubject_Found(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewIncidentRepository(db, zap.NewNop())

	now := time.Now()
	rows := addIncidentRow(sqlmock.NewRows(incidentRows), "inc-001", "subject-001", "active", now)

	mock.ExpectQuery("FROM incidents").
		WithArgs("subject-001", sqlmock.AnyArg()).
		WillReturnRows(rows)

	incident, err := repo.GetActiveIncidentBySubject(context.Background(), "subject-001", 2*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, incident)

	assert.Equal(t, "inc-001", incident.IncidentID)
	assert.Equal(t, models.SeverityCritical, incident.Severity)
	assert.Equal(t, models.StatusActive, incident.Status)
	require.NotNil(t, incident.Location)
	assert.InDelta(t, 39.9, incident.Location.Latitude, 0.001)
	require.NotNil(t, incident.TriggerSnapshot.HeartRate)
	assert.Equal(t, 150, *incident.TriggerSnapshot.HeartRate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetActiveIncidentBySubject_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewIncidentRepository(db, zap.NewNop())

	mock.ExpectQuery("FROM incidents").
		WithArgs("subject-001", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(incidentRows))

	incident, err := repo.GetActiveIncidentBySubject(context.Background(), "subject-001", 2*time.Minute)
	assert.NoError(t, err)
	assert.Nil(t, incident)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListOpenIncidents(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewIncidentRepository(db, zap.NewNop())

	now := time.Now()
	rows := sqlmock.NewRows(incidentRows)
	rows = addIncidentRow(rows, "inc-001", "subject-001", "active", now)
	rows = addIncidentRow(rows, "inc-002", "subject-002", "acknowledged", now)

	mock.ExpectQuery("FROM incidents").WillReturnRows(rows)

	incidents, err := repo.ListOpenIncidents(context.Background())
	require.NoError(t, err)
	require.Len(t, incidents, 2)
	assert.Equal(t, "inc-001", incidents[0].IncidentID)
	assert.Equal(t, models.StatusAcknowledged, incidents[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateIncidentGuarded_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewIncidentRepository(db, zap.NewNop())

	mock.ExpectExec("UPDATE incidents").
		WithArgs("acknowledged", "inc-001", "active").
		WillReturnResult(sqlmock.NewResult(0, 1))

	changed, err := repo.UpdateIncidentGuarded(context.Background(), "inc-001",
		[]models.IncidentStatus{models.StatusActive},
		map[string]interface{}{"status": "acknowledged"})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateIncidentGuarded_RaceLost(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewIncidentRepository(db, zap.NewNop())

	mock.ExpectExec("UPDATE incidents").
		WithArgs("acknowledged", "inc-001", "active").
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := repo.UpdateIncidentGuarded(context.Background(), "inc-001",
		[]models.IncidentStatus{models.StatusActive},
		map[string]interface{}{"status": "acknowledged"})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateIncidentGuarded_DisallowedField(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewIncidentRepository(db, zap.NewNop())

	_, err = repo.UpdateIncidentGuarded(context.Background(), "inc-001", nil,
		map[string]interface{}{"subject_id": "hacked"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")
}

func TestMarkEscalated_OneShot(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewIncidentRepository(db, zap.NewNop())

	now := time.Now()

	// 第一次升级成功
	mock.ExpectExec("UPDATE incidents").
		WithArgs("critical incident unacknowledged past deadline", now, "inc-001", "active").
		WillReturnResult(sqlmock.NewResult(0, 1))

	changed, err := repo.MarkEscalated(context.Background(), "inc-001",
		[]models.IncidentStatus{models.StatusActive},
		"critical incident unacknowledged past deadline", now)
	require.NoError(t, err)
	assert.True(t, changed)

	// 已升级的事件再次升级：0 行生效
	mock.ExpectExec("UPDATE incidents").
		WithArgs("critical incident unacknowledged past deadline", now, "inc-001", "active").
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err = repo.MarkEscalated(context.Background(), "inc-001",
		[]models.IncidentStatus{models.StatusActive},
		"critical incident unacknowledged past deadline", now)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
