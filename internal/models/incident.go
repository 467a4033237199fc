package models

import (
	"time"
)

// Severity 报警级别
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank 级别序号（用于单调不降的合并比较）
func (s Severity) Rank() int {
	return severityRank[s]
}

// MaxSeverity 取两个级别中较高者
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// IncidentStatus 事件状态
// 状态机：active → acknowledged → responding → {resolved | false_alarm}
// responding 可以从 active 直接进入（隐式确认）；
// resolved 和 false_alarm 可以从任意非终态进入
type IncidentStatus string

const (
	StatusActive       IncidentStatus = "active"
	StatusAcknowledged IncidentStatus = "acknowledged"
	StatusResponding   IncidentStatus = "responding"
	StatusResolved     IncidentStatus = "resolved"
	StatusFalseAlarm   IncidentStatus = "false_alarm"
)

// Terminal 终态判断（终态后事件不可变）
func (s IncidentStatus) Terminal() bool {
	return s == StatusResolved || s == StatusFalseAlarm
}

// ActiveLineage 活跃谱系判断（去重窗口内存在活跃谱系事件时只合并不新建）
func (s IncidentStatus) ActiveLineage() bool {
	return s == StatusActive || s == StatusAcknowledged || s == StatusResponding
}

// IncidentType 事件类型
type IncidentType string

const (
	TypeFall                 IncidentType = "fall"
	TypeHeartRateAnomaly     IncidentType = "heart_rate_anomaly"
	TypeTemperatureAnomaly   IncidentType = "temperature_anomaly"
	TypeBloodPressureAnomaly IncidentType = "blood_pressure_anomaly"
	TypeRespiratoryAnomaly   IncidentType = "respiratory_anomaly"
	TypeOxygenAnomaly        IncidentType = "oxygen_anomaly"
	TypeInactivity           IncidentType = "inactivity"
)

// AnomalyFinding 单条规则违反（分类器的瞬态输出，不单独持久化）
type AnomalyFinding struct {
	Kind     IncidentType `json:"kind"`
	Severity Severity     `json:"severity"`
	Detail   string       `json:"detail"`
}

// VitalSnapshot 触发时刻的体征快照（审计用的值拷贝，与源读数解耦）
type VitalSnapshot struct {
	HeartRate       *int     `json:"heart_rate,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	SystolicBP      *int     `json:"systolic_bp,omitempty"`
	DiastolicBP     *int     `json:"diastolic_bp,omitempty"`
	SpO2            *int     `json:"spo2,omitempty"`
	RespiratoryRate *int     `json:"respiratory_rate,omitempty"`
	FallConfidence  *float64 `json:"fall_confidence,omitempty"`
}

// SnapshotFromReading 从读数构建快照
func SnapshotFromReading(r *VitalReading) VitalSnapshot {
	return VitalSnapshot{
		HeartRate:       r.HeartRate,
		Temperature:     r.Temperature,
		SystolicBP:      r.SystolicBP,
		DiastolicBP:     r.DiastolicBP,
		SpO2:            r.SpO2,
		RespiratoryRate: r.RespiratoryRate,
		FallConfidence:  r.FallConfidence,
	}
}

// FacilityCandidate 候选响应机构（分派时一次性计算的快照，后续不重算）
type FacilityCandidate struct {
	FacilityID        string  `json:"facility_id"`
	Name              string  `json:"name"`
	DistanceKm        float64 `json:"distance_km"`
	AvailableCapacity int     `json:"available_capacity"`
	ETAMinutes        int     `json:"eta_minutes"`
}

// EscalationRecord 升级记录（一次性设置，设置后不会被自动清除）
type EscalationRecord struct {
	EscalatedAt time.Time `json:"escalated_at"`
	Reason      string    `json:"reason"`
}

// ResponseMetrics 响应时间指标（Resolve 时计算）
type ResponseMetrics struct {
	AckSeconds      *int64 `json:"ack_seconds,omitempty"`      // 创建 → 确认
	ResponseSeconds *int64 `json:"response_seconds,omitempty"` // 创建 → 开始响应
	ResolveSeconds  *int64 `json:"resolve_seconds,omitempty"`  // 创建 → 解决
}

// EmergencyIncident 紧急事件聚合（对应 incidents 表）
type EmergencyIncident struct {
	IncidentID  string         `json:"incident_id" db:"incident_id"`
	SubjectID   string         `json:"subject_id" db:"subject_id"`
	PrimaryType IncidentType   `json:"primary_type" db:"primary_type"`
	Severity    Severity       `json:"severity" db:"severity"`
	Status      IncidentStatus `json:"status" db:"status"`
	Description string         `json:"description" db:"description"`

	// 触发来源：弱引用 + 审计快照
	ReadingID       string        `json:"reading_id" db:"reading_id"`
	TriggerSnapshot VitalSnapshot `json:"trigger_snapshot" db:"trigger_snapshot"` // JSONB
	Location        *GeoPoint     `json:"location,omitempty"`

	// 机构分派
	AssignedFacilityID     *string             `json:"assigned_facility_id,omitempty" db:"assigned_facility_id"`
	FacilityCandidates     []FacilityCandidate `json:"facility_candidates" db:"facility_candidates"` // JSONB
	ManualDispatchRequired bool                `json:"manual_dispatch_required" db:"manual_dispatch_required"`

	// 响应时间线
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	AcknowledgedAt    *time.Time `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	AcknowledgedBy    *string    `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	ResponseStartedAt *time.Time `json:"response_started_at,omitempty" db:"response_started_at"`
	Responders        []string   `json:"responders,omitempty" db:"responders"` // JSONB
	ResponderETAMin   *int       `json:"responder_eta_min,omitempty" db:"responder_eta_min"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`

	// 结案信息
	ResolutionOutcome *string `json:"resolution_outcome,omitempty" db:"resolution_outcome"`
	ResolutionNotes   *string `json:"resolution_notes,omitempty" db:"resolution_notes"`
	FalseAlarmReason  *string `json:"false_alarm_reason,omitempty" db:"false_alarm_reason"`

	Escalation  *EscalationRecord `json:"escalation,omitempty"`
	MergedCount int               `json:"merged_count" db:"merged_count"`
	Metrics     *ResponseMetrics  `json:"metrics,omitempty"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
