package escalation

import (
	"context"
	"fmt"
	"time"

	"rescuenet-core/internal/events"
	"rescuenet-core/internal/models"

	"go.uber.org/zap"
)

// SweepStore 升级扫描用的事件存取接口
type SweepStore interface {
	ListOpenIncidents(ctx context.Context) ([]*models.EmergencyIncident, error)
	MarkEscalated(ctx context.Context, incidentID string, fromStatuses []models.IncidentStatus, reason string, at time.Time) (bool, error)
}

// NotificationStore 通知记录落库接口
type NotificationStore interface {
	AppendNotification(ctx context.Context, record *models.NotificationRecord) error
}

// Notifier 升级广播接口
type Notifier interface {
	NotifyEscalation(ctx context.Context, incident *models.EmergencyIncident, reason string) *models.NotificationRecord
}

// EventSink 出站事件发布接口
type EventSink interface {
	Publish(ctx context.Context, eventType string, incident *models.EmergencyIncident)
}

// Deadlines 升级期限
type Deadlines struct {
	CriticalUnacked time.Duration // critical 事件创建后未确认
	HighUnacked     time.Duration // high 事件创建后未确认
	AckedNoResponse time.Duration // 确认后未开始响应
}

// Monitor 超期升级监视器
// 定时扫描非终态事件，超过期限的做一次性升级并广播
// 升级是条件更新：多实例并发扫描时只有一个实例生效，输掉的静默跳过
type Monitor struct {
	store         SweepStore
	notifications NotificationStore
	notifier      Notifier
	eventSink     EventSink
	deadlines     Deadlines
	interval      time.Duration
	logger        *zap.Logger

	now func() time.Time // 测试注入
}

// NewMonitor 创建升级监视器
func NewMonitor(
	store SweepStore,
	notifications NotificationStore,
	notifier Notifier,
	eventSink EventSink,
	deadlines Deadlines,
	interval time.Duration,
	logger *zap.Logger,
) *Monitor {
	return &Monitor{
		store:         store,
		notifications: notifications,
		notifier:      notifier,
		eventSink:     eventSink,
		deadlines:     deadlines,
		interval:      interval,
		logger:        logger,
		now:           time.Now,
	}
}

// Start 启动扫描循环，ctx 取消后退出
func (m *Monitor) Start(ctx context.Context) {
	m.logger.Info("escalation monitor started",
		zap.Duration("interval", m.interval),
		zap.Duration("critical_unacked", m.deadlines.CriticalUnacked),
		zap.Duration("high_unacked", m.deadlines.HighUnacked),
		zap.Duration("acked_no_response", m.deadlines.AckedNoResponse))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("escalation monitor stopped")
			return
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				m.logger.Error("escalation sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep 单轮扫描
func (m *Monitor) Sweep(ctx context.Context) error {
	incidents, err := m.store.ListOpenIncidents(ctx)
	if err != nil {
		return fmt.Errorf("failed to list open incidents: %w", err)
	}

	for _, incident := range incidents {
		reason, fromStatuses := m.overdueReason(incident)
		if reason == "" {
			continue
		}
		m.escalate(ctx, incident, fromStatuses, reason)
	}

	return nil
}

// overdueReason 判断事件是否超期，返回升级原因和期望的当前状态
func (m *Monitor) overdueReason(incident *models.EmergencyIncident) (string, []models.IncidentStatus) {
	now := m.now()

	switch incident.Status {
	case models.StatusActive:
		age := now.Sub(incident.CreatedAt)
		if incident.Severity == models.SeverityCritical && age > m.deadlines.CriticalUnacked {
			return fmt.Sprintf("critical incident unacknowledged for %s", m.deadlines.CriticalUnacked),
				[]models.IncidentStatus{models.StatusActive}
		}
		if incident.Severity == models.SeverityHigh && age > m.deadlines.HighUnacked {
			return fmt.Sprintf("high severity incident unacknowledged for %s", m.deadlines.HighUnacked),
				[]models.IncidentStatus{models.StatusActive}
		}
	case models.StatusAcknowledged:
		if incident.AcknowledgedAt == nil {
			return "", nil
		}
		if now.Sub(*incident.AcknowledgedAt) > m.deadlines.AckedNoResponse {
			return fmt.Sprintf("acknowledged incident without response for %s", m.deadlines.AckedNoResponse),
				[]models.IncidentStatus{models.StatusAcknowledged}
		}
	}

	return "", nil
}

// escalate 一次性升级
func (m *Monitor) escalate(ctx context.Context, incident *models.EmergencyIncident, fromStatuses []models.IncidentStatus, reason string) {
	at := m.now()

	changed, err := m.store.MarkEscalated(ctx, incident.IncidentID, fromStatuses, reason, at)
	if err != nil {
		m.logger.Error("failed to mark incident escalated",
			zap.String("incident_id", incident.IncidentID),
			zap.Error(err))
		return
	}
	if !changed {
		// 其他实例抢先升级或事件状态已变，静默跳过
		return
	}

	incident.Escalation = &models.EscalationRecord{EscalatedAt: at, Reason: reason}

	m.logger.Warn("incident escalated",
		zap.String("incident_id", incident.IncidentID),
		zap.String("subject_id", incident.SubjectID),
		zap.String("severity", string(incident.Severity)),
		zap.String("reason", reason))

	m.eventSink.Publish(ctx, events.EventIncidentEscalated, incident)

	if record := m.notifier.NotifyEscalation(ctx, incident, reason); record != nil {
		if err := m.notifications.AppendNotification(ctx, record); err != nil {
			m.logger.Error("failed to persist escalation notification",
				zap.String("incident_id", incident.IncidentID),
				zap.Error(err))
		}
	}
}
