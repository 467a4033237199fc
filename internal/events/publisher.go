package events

import (
	"context"
	"fmt"
	"time"

	"rescuenet-core/internal/models"
	"rescuenet-core/internal/redisx"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// 事件类型
const (
	EventIncidentCreated   = "incident_created"
	EventIncidentUpdated   = "incident_updated"
	EventIncidentEscalated = "incident_escalated"
	EventIncidentResolved  = "incident_resolved"
)

// IncidentEvent 出站事件（发布到 Redis Streams 供下游订阅）
type IncidentEvent struct {
	EventType  string                    `json:"event_type"`
	IncidentID string                    `json:"incident_id"`
	SubjectID  string                    `json:"subject_id"`
	Severity   models.Severity           `json:"severity"`
	Status     models.IncidentStatus     `json:"status"`
	Incident   *models.EmergencyIncident `json:"incident"`
	EmittedAt  int64                     `json:"emitted_at"`
}

// Publisher 事件发布器
type Publisher struct {
	client *redis.Client
	stream string
	logger *zap.Logger
}

// NewPublisher 创建事件发布器
func NewPublisher(client *redis.Client, stream string, logger *zap.Logger) *Publisher {
	return &Publisher{
		client: client,
		stream: stream,
		logger: logger,
	}
}

// Publish 发布事件
// 发布失败只记日志不回传：事件流是旁路，不能阻塞主流程
func (p *Publisher) Publish(ctx context.Context, eventType string, incident *models.EmergencyIncident) {
	event := IncidentEvent{
		EventType:  eventType,
		IncidentID: incident.IncidentID,
		SubjectID:  incident.SubjectID,
		Severity:   incident.Severity,
		Status:     incident.Status,
		Incident:   incident,
		EmittedAt:  time.Now().Unix(),
	}

	id, err := redisx.PublishJSONToStream(ctx, p.client, p.stream, event)
	if err != nil {
		p.logger.Error("failed to publish incident event",
			zap.String("event_type", eventType),
			zap.String("incident_id", incident.IncidentID),
			zap.Error(err))
		return
	}

	p.logger.Debug("incident event published",
		zap.String("event_type", eventType),
		zap.String("incident_id", incident.IncidentID),
		zap.String("stream_id", id))
}

// PublishOrError 发布事件并回传错误（需要强一致通知链路的调用方使用）
func (p *Publisher) PublishOrError(ctx context.Context, eventType string, incident *models.EmergencyIncident) error {
	event := IncidentEvent{
		EventType:  eventType,
		IncidentID: incident.IncidentID,
		SubjectID:  incident.SubjectID,
		Severity:   incident.Severity,
		Status:     incident.Status,
		Incident:   incident,
		EmittedAt:  time.Now().Unix(),
	}

	if _, err := redisx.PublishJSONToStream(ctx, p.client, p.stream, event); err != nil {
		return fmt.Errorf("failed to publish incident event: %w", err)
	}
	return nil
}
