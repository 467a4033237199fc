package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"rescuenet-core/internal/models"

	"go.uber.org/zap"
)

// ErrIncidentNotFound 事件不存在（调用方用 errors.Is 判断）
var ErrIncidentNotFound = errors.New("incident not found")

// IncidentRepository 紧急事件仓库
type IncidentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewIncidentRepository 创建紧急事件仓库
func NewIncidentRepository(db *sql.DB, logger *zap.Logger) *IncidentRepository {
	return &IncidentRepository{
		db:     db,
		logger: logger,
	}
}

const incidentColumns = `
	incident_id,
	subject_id,
	primary_type,
	severity,
	status,
	description,
	reading_id,
	trigger_snapshot,
	latitude,
	longitude,
	assigned_facility_id,
	facility_candidates,
	manual_dispatch_required,
	created_at,
	acknowledged_at,
	acknowledged_by,
	response_started_at,
	responders,
	responder_eta_min,
	resolved_at,
	resolution_outcome,
	resolution_notes,
	false_alarm_reason,
	escalated_at,
	escalation_reason,
	merged_count,
	ack_seconds,
	response_seconds,
	resolve_seconds,
	updated_at`

// CreateIncident 创建紧急事件
func (r *IncidentRepository) CreateIncident(ctx context.Context, incident *models.EmergencyIncident) error {
	if incident == nil {
		return fmt.Errorf("incident is required")
	}
	if incident.IncidentID == "" {
		return fmt.Errorf("incident_id is required")
	}
	if incident.SubjectID == "" {
		return fmt.Errorf("subject_id is required")
	}

	snapshotJSON, err := json.Marshal(incident.TriggerSnapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger snapshot: %w", err)
	}
	candidatesJSON, err := json.Marshal(incident.FacilityCandidates)
	if err != nil {
		return fmt.Errorf("failed to marshal facility candidates: %w", err)
	}
	respondersJSON, err := json.Marshal(incident.Responders)
	if err != nil {
		return fmt.Errorf("failed to marshal responders: %w", err)
	}

	var lat, lon *float64
	if incident.Location != nil {
		lat = &incident.Location.Latitude
		lon = &incident.Location.Longitude
	}

	query := `
		INSERT INTO incidents (` + incidentColumns + `
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25, $26, $27, $28, $29, $30
		)
	`

	var escalatedAt *time.Time
	var escalationReason *string
	if incident.Escalation != nil {
		escalatedAt = &incident.Escalation.EscalatedAt
		escalationReason = &incident.Escalation.Reason
	}

	var ackSec, respSec, resolveSec *int64
	if incident.Metrics != nil {
		ackSec = incident.Metrics.AckSeconds
		respSec = incident.Metrics.ResponseSeconds
		resolveSec = incident.Metrics.ResolveSeconds
	}

	_, err = r.db.ExecContext(ctx, query,
		incident.IncidentID,
		incident.SubjectID,
		string(incident.PrimaryType),
		string(incident.Severity),
		string(incident.Status),
		incident.Description,
		incident.ReadingID,
		snapshotJSON,
		lat,
		lon,
		incident.AssignedFacilityID,
		candidatesJSON,
		incident.ManualDispatchRequired,
		incident.CreatedAt,
		incident.AcknowledgedAt,
		incident.AcknowledgedBy,
		incident.ResponseStartedAt,
		respondersJSON,
		incident.ResponderETAMin,
		incident.ResolvedAt,
		incident.ResolutionOutcome,
		incident.ResolutionNotes,
		incident.FalseAlarmReason,
		escalatedAt,
		escalationReason,
		incident.MergedCount,
		ackSec,
		respSec,
		resolveSec,
		incident.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}

	return nil
}

// GetIncident 根据 incident_id 获取单个事件
func (r *IncidentRepository) GetIncident(ctx context.Context, incidentID string) (*models.EmergencyIncident, error) {
	if incidentID == "" {
		return nil, fmt.Errorf("incident_id is required")
	}

	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE incident_id = $1`

	incident, err := scanIncident(r.db.QueryRowContext(ctx, query, incidentID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrIncidentNotFound, incidentID)
		}
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}

	return incident, nil
}

// GetActiveIncidentBySubject 查询监护对象在去重窗口内的活跃谱系事件
// 没有匹配时返回 (nil, nil)，调用方据此决定新建还是合并
func (r *IncidentRepository) GetActiveIncidentBySubject(ctx context.Context, subjectID string, window time.Duration) (*models.EmergencyIncident, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("subject_id is required")
	}

	threshold := time.Now().Add(-window)

	query := `SELECT ` + incidentColumns + `
		FROM incidents
		WHERE subject_id = $1
		  AND status IN ('active', 'acknowledged', 'responding')
		  AND created_at > $2
		ORDER BY created_at DESC
		LIMIT 1`

	incident, err := scanIncident(r.db.QueryRowContext(ctx, query, subjectID, threshold))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query active incident: %w", err)
	}

	return incident, nil
}

// ListOpenIncidents 列出所有非终态事件（升级扫描用，已升级的不再返回）
func (r *IncidentRepository) ListOpenIncidents(ctx context.Context) ([]*models.EmergencyIncident, error) {
	query := `SELECT ` + incidentColumns + `
		FROM incidents
		WHERE status IN ('active', 'acknowledged', 'responding')
		  AND escalated_at IS NULL
		ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query open incidents: %w", err)
	}
	defer rows.Close()

	incidents := []*models.EmergencyIncident{}
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		incidents = append(incidents, incident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate incidents: %w", err)
	}

	return incidents, nil
}

// UpdateIncident 部分更新（白名单字段）
// 无条件更新只用于不涉及状态机的字段；状态迁移走 UpdateIncidentGuarded
func (r *IncidentRepository) UpdateIncident(ctx context.Context, incidentID string, updates map[string]interface{}) error {
	changed, err := r.UpdateIncidentGuarded(ctx, incidentID, nil, updates)
	if err != nil {
		return err
	}
	if !changed {
		return fmt.Errorf("incident not found: %s", incidentID)
	}
	return nil
}

// 允许更新的字段
var allowedIncidentFields = map[string]bool{
	"severity":                 true,
	"status":                   true,
	"description":              true,
	"assigned_facility_id":     true,
	"facility_candidates":      true,
	"manual_dispatch_required": true,
	"acknowledged_at":          true,
	"acknowledged_by":          true,
	"response_started_at":      true,
	"responders":               true,
	"responder_eta_min":        true,
	"resolved_at":              true,
	"resolution_outcome":       true,
	"resolution_notes":         true,
	"false_alarm_reason":       true,
	"escalated_at":             true,
	"escalation_reason":        true,
	"merged_count":             true,
	"ack_seconds":              true,
	"response_seconds":         true,
	"resolve_seconds":          true,
}

// UpdateIncidentGuarded 条件更新：仅当事件当前处于 fromStatuses 之一时生效
// 返回 false 表示条件不满足（并发竞争输了），事件未被改动
func (r *IncidentRepository) UpdateIncidentGuarded(ctx context.Context, incidentID string, fromStatuses []models.IncidentStatus, updates map[string]interface{}) (bool, error) {
	if incidentID == "" {
		return false, fmt.Errorf("incident_id is required")
	}
	if len(updates) == 0 {
		return false, fmt.Errorf("updates cannot be empty")
	}

	setParts := []string{}
	args := []interface{}{}
	argN := 1

	for field, value := range updates {
		if !allowedIncidentFields[field] {
			return false, fmt.Errorf("field '%s' is not allowed to update", field)
		}
		setParts = append(setParts, fmt.Sprintf("%s = $%d", field, argN))
		args = append(args, value)
		argN++
	}
	setParts = append(setParts, "updated_at = CURRENT_TIMESTAMP")

	where := []string{fmt.Sprintf("incident_id = $%d", argN)}
	args = append(args, incidentID)
	argN++

	if len(fromStatuses) > 0 {
		placeholders := make([]string, len(fromStatuses))
		for i, s := range fromStatuses {
			placeholders[i] = fmt.Sprintf("$%d", argN)
			args = append(args, string(s))
			argN++
		}
		where = append(where, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ", ")))
	}

	query := fmt.Sprintf(`
		UPDATE incidents
		SET %s
		WHERE %s
	`, strings.Join(setParts, ", "), strings.Join(where, " AND "))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update incident: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// MarkEscalated 一次性设置升级记录
// 条件：事件仍处于给定状态且尚未升级；0 行生效表示竞争输了，调用方静默跳过
func (r *IncidentRepository) MarkEscalated(ctx context.Context, incidentID string, fromStatuses []models.IncidentStatus, reason string, at time.Time) (bool, error) {
	if incidentID == "" {
		return false, fmt.Errorf("incident_id is required")
	}
	if reason == "" {
		return false, fmt.Errorf("reason is required")
	}
	if len(fromStatuses) == 0 {
		return false, fmt.Errorf("fromStatuses is required")
	}

	placeholders := make([]string, len(fromStatuses))
	args := []interface{}{reason, at, incidentID}
	argN := 4
	for i, s := range fromStatuses {
		placeholders[i] = fmt.Sprintf("$%d", argN)
		args = append(args, string(s))
		argN++
	}

	query := fmt.Sprintf(`
		UPDATE incidents
		SET escalation_reason = $1,
		    escalated_at = $2,
		    updated_at = CURRENT_TIMESTAMP
		WHERE incident_id = $3
		  AND escalated_at IS NULL
		  AND status IN (%s)
	`, strings.Join(placeholders, ", "))

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to mark incident escalated: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// rowScanner QueryRow / Rows 共用的扫描接口
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanIncident 扫描单行事件记录
func scanIncident(row rowScanner) (*models.EmergencyIncident, error) {
	var incident models.EmergencyIncident
	var primaryType, severity, status string
	var snapshotJSON, candidatesJSON, respondersJSON []byte
	var lat, lon sql.NullFloat64
	var assignedFacility, acknowledgedBy, resolutionOutcome, resolutionNotes, falseAlarmReason, escalationReason sql.NullString
	var acknowledgedAt, responseStartedAt, resolvedAt, escalatedAt sql.NullTime
	var responderETA sql.NullInt64
	var ackSec, respSec, resolveSec sql.NullInt64

	err := row.Scan(
		&incident.IncidentID,
		&incident.SubjectID,
		&primaryType,
		&severity,
		&status,
		&incident.Description,
		&incident.ReadingID,
		&snapshotJSON,
		&lat,
		&lon,
		&assignedFacility,
		&candidatesJSON,
		&incident.ManualDispatchRequired,
		&incident.CreatedAt,
		&acknowledgedAt,
		&acknowledgedBy,
		&responseStartedAt,
		&respondersJSON,
		&responderETA,
		&resolvedAt,
		&resolutionOutcome,
		&resolutionNotes,
		&falseAlarmReason,
		&escalatedAt,
		&escalationReason,
		&incident.MergedCount,
		&ackSec,
		&respSec,
		&resolveSec,
		&incident.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	incident.PrimaryType = models.IncidentType(primaryType)
	incident.Severity = models.Severity(severity)
	incident.Status = models.IncidentStatus(status)

	if len(snapshotJSON) > 0 {
		if err := json.Unmarshal(snapshotJSON, &incident.TriggerSnapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger snapshot: %w", err)
		}
	}
	if len(candidatesJSON) > 0 {
		if err := json.Unmarshal(candidatesJSON, &incident.FacilityCandidates); err != nil {
			return nil, fmt.Errorf("failed to unmarshal facility candidates: %w", err)
		}
	}
	if len(respondersJSON) > 0 {
		if err := json.Unmarshal(respondersJSON, &incident.Responders); err != nil {
			return nil, fmt.Errorf("failed to unmarshal responders: %w", err)
		}
	}

	if lat.Valid && lon.Valid {
		incident.Location = &models.GeoPoint{Latitude: lat.Float64, Longitude: lon.Float64}
	}
	if assignedFacility.Valid {
		incident.AssignedFacilityID = &assignedFacility.String
	}
	if acknowledgedAt.Valid {
		incident.AcknowledgedAt = &acknowledgedAt.Time
	}
	if acknowledgedBy.Valid {
		incident.AcknowledgedBy = &acknowledgedBy.String
	}
	if responseStartedAt.Valid {
		incident.ResponseStartedAt = &responseStartedAt.Time
	}
	if responderETA.Valid {
		eta := int(responderETA.Int64)
		incident.ResponderETAMin = &eta
	}
	if resolvedAt.Valid {
		incident.ResolvedAt = &resolvedAt.Time
	}
	if resolutionOutcome.Valid {
		incident.ResolutionOutcome = &resolutionOutcome.String
	}
	if resolutionNotes.Valid {
		incident.ResolutionNotes = &resolutionNotes.String
	}
	if falseAlarmReason.Valid {
		incident.FalseAlarmReason = &falseAlarmReason.String
	}
	if escalatedAt.Valid {
		record := &models.EscalationRecord{EscalatedAt: escalatedAt.Time}
		if escalationReason.Valid {
			record.Reason = escalationReason.String
		}
		incident.Escalation = record
	}
	if ackSec.Valid || respSec.Valid || resolveSec.Valid {
		metrics := &models.ResponseMetrics{}
		if ackSec.Valid {
			metrics.AckSeconds = &ackSec.Int64
		}
		if respSec.Valid {
			metrics.ResponseSeconds = &respSec.Int64
		}
		if resolveSec.Valid {
			metrics.ResolveSeconds = &resolveSec.Int64
		}
		incident.Metrics = metrics
	}

	return &incident, nil
}
