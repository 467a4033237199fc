package incident

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"rescuenet-core/internal/classifier"
	"rescuenet-core/internal/events"
	"rescuenet-core/internal/models"

	"go.uber.org/zap"
)

// IncidentStore 事件持久化接口
type IncidentStore interface {
	CreateIncident(ctx context.Context, incident *models.EmergencyIncident) error
	GetIncident(ctx context.Context, incidentID string) (*models.EmergencyIncident, error)
	GetActiveIncidentBySubject(ctx context.Context, subjectID string, window time.Duration) (*models.EmergencyIncident, error)
	UpdateIncidentGuarded(ctx context.Context, incidentID string, fromStatuses []models.IncidentStatus, updates map[string]interface{}) (bool, error)
}

// NotificationStore 通知记录持久化接口
type NotificationStore interface {
	AppendNotification(ctx context.Context, record *models.NotificationRecord) error
}

// ProfileStore 阈值配置读取接口
type ProfileStore interface {
	GetThresholdProfile(ctx context.Context, subjectID string) (*models.ThresholdProfile, error)
}

// ContactStore 紧急联系人读取接口
type ContactStore interface {
	ListContacts(ctx context.Context, subjectID string) ([]*models.EmergencyContact, error)
}

// FacilityLocator 响应机构检索接口
type FacilityLocator interface {
	FindCapable(ctx context.Context, location *models.GeoPoint) ([]models.FacilityCandidate, error)
}

// Notifier 通知分发接口
type Notifier interface {
	Dispatch(ctx context.Context, incident *models.EmergencyIncident, contacts []*models.EmergencyContact) []*models.NotificationRecord
	NotifyFacility(ctx context.Context, incident *models.EmergencyIncident, facilityID string) *models.NotificationRecord
}

// EventSink 出站事件发布接口
type EventSink interface {
	Publish(ctx context.Context, eventType string, incident *models.EmergencyIncident)
}

// Manager 紧急事件管理器
// 读数评估、去重合并、状态机迁移、机构分派、通知分发在这里汇聚
type Manager struct {
	incidents     IncidentStore
	notifications NotificationStore
	profiles      ProfileStore
	contacts      ContactStore
	locator       FacilityLocator
	notifier      Notifier
	eventSink     EventSink
	dedupeWindow  time.Duration
	logger        *zap.Logger

	// 按监护对象加锁，保证去重判断和创建/合并的原子性
	subjectLocks sync.Map // map[string]*sync.Mutex

	dispatchWG sync.WaitGroup
}

// NewManager 创建事件管理器
func NewManager(
	incidents IncidentStore,
	notifications NotificationStore,
	profiles ProfileStore,
	contacts ContactStore,
	locator FacilityLocator,
	notifier Notifier,
	eventSink EventSink,
	dedupeWindow time.Duration,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		incidents:     incidents,
		notifications: notifications,
		profiles:      profiles,
		contacts:      contacts,
		locator:       locator,
		notifier:      notifier,
		eventSink:     eventSink,
		dedupeWindow:  dedupeWindow,
		logger:        logger,
	}
}

// 整轮通知分发的兜底时限（单通道另有独立超时）
const dispatchDeadline = 30 * time.Second

func marshalJSON(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json field: %w", err)
	}
	return b, nil
}

func (m *Manager) lockSubject(subjectID string) func() {
	v, _ := m.subjectLocks.LoadOrStore(subjectID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// HandleReading 处理一条体征读数
// 无异常返回 (nil, nil)；命中去重窗口时合并并返回已有事件；否则创建新事件
func (m *Manager) HandleReading(ctx context.Context, reading *models.VitalReading) (*models.EmergencyIncident, error) {
	if err := reading.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reading: %w", err)
	}

	profile, err := m.profiles.GetThresholdProfile(ctx, reading.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load threshold profile: %w", err)
	}

	findings := classifier.Classify(reading, profile)
	if len(findings) == 0 {
		return nil, nil
	}

	unlock := m.lockSubject(reading.SubjectID)
	defer unlock()

	existing, err := m.incidents.GetActiveIncidentBySubject(ctx, reading.SubjectID, m.dedupeWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to check active incidents: %w", err)
	}

	if existing != nil {
		return m.mergeIntoExisting(ctx, existing, findings)
	}

	return m.createIncident(ctx, reading, findings)
}

// mergeIntoExisting 去重窗口内的重复异常：级别只升不降，计数递增，不重发通知
func (m *Manager) mergeIntoExisting(ctx context.Context, existing *models.EmergencyIncident, findings []models.AnomalyFinding) (*models.EmergencyIncident, error) {
	newSeverity := models.MaxSeverity(existing.Severity, classifier.OverallSeverity(findings))

	updates := map[string]interface{}{
		"severity":     string(newSeverity),
		"merged_count": existing.MergedCount + 1,
	}

	changed, err := m.incidents.UpdateIncidentGuarded(ctx, existing.IncidentID,
		[]models.IncidentStatus{models.StatusActive, models.StatusAcknowledged, models.StatusResponding},
		updates)
	if err != nil {
		return nil, fmt.Errorf("failed to merge incident: %w", err)
	}
	if !changed {
		// 合并期间事件进入终态：按无异常处理，下一条读数会新建
		m.logger.Info("merge skipped, incident reached terminal state",
			zap.String("incident_id", existing.IncidentID))
		return nil, nil
	}

	existing.Severity = newSeverity
	existing.MergedCount++
	existing.UpdatedAt = time.Now()

	m.logger.Info("reading merged into active incident",
		zap.String("incident_id", existing.IncidentID),
		zap.String("subject_id", existing.SubjectID),
		zap.String("severity", string(newSeverity)),
		zap.Int("merged_count", existing.MergedCount))

	m.eventSink.Publish(ctx, events.EventIncidentUpdated, existing)

	return existing, nil
}

// createIncident 新建事件：落库 → 机构分派 → 通知分发 → 事件发布
func (m *Manager) createIncident(ctx context.Context, reading *models.VitalReading, findings []models.AnomalyFinding) (*models.EmergencyIncident, error) {
	incident := BuildIncident(reading, findings)

	m.assignFacility(ctx, incident)

	if err := m.incidents.CreateIncident(ctx, incident); err != nil {
		return nil, fmt.Errorf("failed to persist incident: %w", err)
	}

	m.logger.Info("emergency incident created",
		zap.String("incident_id", incident.IncidentID),
		zap.String("subject_id", incident.SubjectID),
		zap.String("primary_type", string(incident.PrimaryType)),
		zap.String("severity", string(incident.Severity)))

	m.eventSink.Publish(ctx, events.EventIncidentCreated, incident)

	// 通知异步分发：不阻塞已落库的事件，失败只产生失败记录
	// 用独立的超时上下文，调用方的 ctx 取消不中断在途通知
	m.dispatchWG.Add(1)
	go func() {
		defer m.dispatchWG.Done()
		dispatchCtx, cancel := context.WithTimeout(context.Background(), dispatchDeadline)
		defer cancel()
		m.dispatchNotifications(dispatchCtx, incident)
	}()

	return incident, nil
}

// WaitDispatch 等待所有在途通知分发完成（优雅关闭用）
func (m *Manager) WaitDispatch() {
	m.dispatchWG.Wait()
}

// assignFacility 机构分派：取候选快照，首选第一名；无候选或无位置时转人工
func (m *Manager) assignFacility(ctx context.Context, incident *models.EmergencyIncident) {
	if incident.Location == nil {
		incident.ManualDispatchRequired = true
		incident.FacilityCandidates = []models.FacilityCandidate{}
		return
	}

	candidates, err := m.locator.FindCapable(ctx, incident.Location)
	if err != nil {
		m.logger.Error("facility lookup failed, falling back to manual dispatch",
			zap.String("incident_id", incident.IncidentID),
			zap.Error(err))
		incident.ManualDispatchRequired = true
		incident.FacilityCandidates = []models.FacilityCandidate{}
		return
	}

	incident.FacilityCandidates = candidates
	if len(candidates) == 0 {
		incident.ManualDispatchRequired = true
		return
	}

	best := candidates[0]
	incident.AssignedFacilityID = &best.FacilityID
	eta := best.ETAMinutes
	incident.ResponderETAMin = &eta
}

// dispatchNotifications 并行分发通知并落库每次尝试
func (m *Manager) dispatchNotifications(ctx context.Context, incident *models.EmergencyIncident) {
	contacts, err := m.contacts.ListContacts(ctx, incident.SubjectID)
	if err != nil {
		m.logger.Error("failed to load emergency contacts",
			zap.String("subject_id", incident.SubjectID),
			zap.Error(err))
		contacts = nil
	}

	records := m.notifier.Dispatch(ctx, incident, contacts)

	// 机构定向通知只在分派成功后发送
	if incident.AssignedFacilityID != nil {
		if record := m.notifier.NotifyFacility(ctx, incident, *incident.AssignedFacilityID); record != nil {
			records = append(records, record)
		}
	}

	for _, record := range records {
		if err := m.notifications.AppendNotification(ctx, record); err != nil {
			m.logger.Error("failed to persist notification record",
				zap.String("incident_id", incident.IncidentID),
				zap.String("channel", record.Channel),
				zap.Error(err))
		}
	}
}

// Acknowledge 确认事件（active → acknowledged）
func (m *Manager) Acknowledge(ctx context.Context, incidentID, actor string) (*models.EmergencyIncident, error) {
	if actor == "" {
		return nil, fmt.Errorf("actor is required")
	}

	current, err := m.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	ackSeconds := int64(now.Sub(current.CreatedAt).Seconds())

	changed, err := m.incidents.UpdateIncidentGuarded(ctx, incidentID,
		[]models.IncidentStatus{models.StatusActive},
		map[string]interface{}{
			"status":          string(models.StatusAcknowledged),
			"acknowledged_at": now,
			"acknowledged_by": actor,
			"ack_seconds":     ackSeconds,
		})
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, fmt.Errorf("%w: cannot acknowledge incident in status %s", ErrIllegalTransition, current.Status)
	}

	m.logger.Info("incident acknowledged",
		zap.String("incident_id", incidentID),
		zap.String("actor", actor))

	updated, err := m.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	m.eventSink.Publish(ctx, events.EventIncidentUpdated, updated)
	return updated, nil
}

// StartResponse 开始响应（active|acknowledged → responding）
// 未经确认的事件也可以直接进入响应，此时视为隐式确认
func (m *Manager) StartResponse(ctx context.Context, incidentID string, responders []string, etaMin *int) (*models.EmergencyIncident, error) {
	if len(responders) == 0 {
		return nil, fmt.Errorf("responders is required")
	}

	current, err := m.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	respondersJSON, err := marshalJSON(responders)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"status":              string(models.StatusResponding),
		"response_started_at": now,
		"responders":          respondersJSON,
		"response_seconds":    int64(now.Sub(current.CreatedAt).Seconds()),
	}
	if etaMin != nil {
		updates["responder_eta_min"] = *etaMin
	}
	// 未确认直接开始响应时隐式确认，确认人记为首位响应者
	if current.Status == models.StatusActive {
		updates["acknowledged_at"] = now
		updates["acknowledged_by"] = responders[0]
		updates["ack_seconds"] = int64(now.Sub(current.CreatedAt).Seconds())
	}

	changed, err := m.incidents.UpdateIncidentGuarded(ctx, incidentID,
		[]models.IncidentStatus{models.StatusActive, models.StatusAcknowledged}, updates)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, fmt.Errorf("%w: cannot start response for incident in status %s", ErrIllegalTransition, current.Status)
	}

	m.logger.Info("incident response started",
		zap.String("incident_id", incidentID),
		zap.Strings("responders", responders))

	updated, err := m.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	m.eventSink.Publish(ctx, events.EventIncidentUpdated, updated)
	return updated, nil
}

// Resolve 解决事件（任意非终态 → resolved），计算响应时间指标
func (m *Manager) Resolve(ctx context.Context, incidentID, outcome, notes string) (*models.EmergencyIncident, error) {
	if outcome == "" {
		return nil, fmt.Errorf("outcome is required")
	}

	current, err := m.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	updates := map[string]interface{}{
		"status":             string(models.StatusResolved),
		"resolved_at":        now,
		"resolution_outcome": outcome,
		"resolve_seconds":    int64(now.Sub(current.CreatedAt).Seconds()),
	}
	if notes != "" {
		updates["resolution_notes"] = notes
	}

	changed, err := m.incidents.UpdateIncidentGuarded(ctx, incidentID,
		[]models.IncidentStatus{models.StatusActive, models.StatusAcknowledged, models.StatusResponding}, updates)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, fmt.Errorf("%w: cannot resolve incident in status %s", ErrIllegalTransition, current.Status)
	}

	m.logger.Info("incident resolved",
		zap.String("incident_id", incidentID),
		zap.String("outcome", outcome))

	updated, err := m.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	m.eventSink.Publish(ctx, events.EventIncidentResolved, updated)
	return updated, nil
}

// MarkFalseAlarm 标记误报（非终态 → false_alarm），必须带原因，不计算指标
func (m *Manager) MarkFalseAlarm(ctx context.Context, incidentID, reason string) (*models.EmergencyIncident, error) {
	if reason == "" {
		return nil, fmt.Errorf("reason is required")
	}

	current, err := m.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	changed, err := m.incidents.UpdateIncidentGuarded(ctx, incidentID,
		[]models.IncidentStatus{models.StatusActive, models.StatusAcknowledged, models.StatusResponding},
		map[string]interface{}{
			"status":             string(models.StatusFalseAlarm),
			"resolved_at":        time.Now(),
			"false_alarm_reason": reason,
		})
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, fmt.Errorf("%w: cannot mark false alarm for incident in status %s", ErrIllegalTransition, current.Status)
	}

	m.logger.Info("incident marked as false alarm",
		zap.String("incident_id", incidentID),
		zap.String("reason", reason))

	updated, err := m.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	m.eventSink.Publish(ctx, events.EventIncidentResolved, updated)
	return updated, nil
}

// Reopen 重新打开已结案事件（terminal → acknowledged）
// 唯一会重算机构候选快照的路径
func (m *Manager) Reopen(ctx context.Context, incidentID, actor string) (*models.EmergencyIncident, error) {
	if actor == "" {
		return nil, fmt.Errorf("actor is required")
	}

	current, err := m.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if !current.Status.Terminal() {
		return nil, fmt.Errorf("%w: cannot reopen incident in status %s", ErrIllegalTransition, current.Status)
	}

	// 结案到重开之间机构状态可能已变化，重算候选
	candidates := []models.FacilityCandidate{}
	if current.Location != nil {
		if found, err := m.locator.FindCapable(ctx, current.Location); err == nil {
			candidates = found
		} else {
			m.logger.Error("facility lookup failed on reopen",
				zap.String("incident_id", incidentID),
				zap.Error(err))
		}
	}

	candidatesJSON, err := marshalJSON(candidates)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{
		"status":              string(models.StatusAcknowledged),
		"acknowledged_by":     actor,
		"acknowledged_at":     time.Now(),
		"facility_candidates": candidatesJSON,
		"resolved_at":         nil,
		"resolution_outcome":  nil,
		"resolution_notes":    nil,
		"false_alarm_reason":  nil,
	}
	if len(candidates) > 0 {
		updates["assigned_facility_id"] = candidates[0].FacilityID
		updates["manual_dispatch_required"] = false
	} else {
		updates["assigned_facility_id"] = nil
		updates["manual_dispatch_required"] = true
	}

	changed, err := m.incidents.UpdateIncidentGuarded(ctx, incidentID,
		[]models.IncidentStatus{models.StatusResolved, models.StatusFalseAlarm}, updates)
	if err != nil {
		return nil, err
	}
	if !changed {
		return nil, fmt.Errorf("%w: incident status changed concurrently", ErrIllegalTransition)
	}

	m.logger.Info("incident reopened",
		zap.String("incident_id", incidentID),
		zap.String("actor", actor))

	updated, err := m.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	m.eventSink.Publish(ctx, events.EventIncidentUpdated, updated)
	return updated, nil
}
