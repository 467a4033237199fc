package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rescuenet-core/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Dispatcher 通知分发器
// 所有通道并行发送，单通道失败或超时不影响其他通道
type Dispatcher struct {
	channels       []Channel
	channelTimeout time.Duration
	logger         *zap.Logger
}

// NewDispatcher 创建通知分发器
func NewDispatcher(channels []Channel, channelTimeout time.Duration, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		channels:       channels,
		channelTimeout: channelTimeout,
		logger:         logger,
	}
}

// Dispatch 为事件并行发送所有通道的通知
// 返回每次发送尝试的记录（成功与失败都记录），不返回发送层面的错误
func (d *Dispatcher) Dispatch(ctx context.Context, incident *models.EmergencyIncident, contacts []*models.EmergencyContact) []*models.NotificationRecord {
	message := formatAlertMessage(incident)

	var mu sync.Mutex
	records := []*models.NotificationRecord{}

	g, gctx := errgroup.WithContext(ctx)

	for _, ch := range d.channels {
		channel := ch
		for _, recipient := range d.recipientsFor(channel, contacts) {
			recipient := recipient
			g.Go(func() error {
				record := d.sendOne(gctx, channel, incident.IncidentID, recipient, message)
				mu.Lock()
				records = append(records, record)
				mu.Unlock()
				// 失败隔离：单通道失败不取消其他发送
				return nil
			})
		}
	}

	// goroutine 永远返回 nil，这里不会出错
	_ = g.Wait()

	d.logger.Info("notification dispatch completed",
		zap.String("incident_id", incident.IncidentID),
		zap.Int("attempts", len(records)))

	return records
}

// NotifyFacility 分派成功后的机构定向通知
// 走机器人广播通道投递到机构终端；没有可用通道时返回 nil
func (d *Dispatcher) NotifyFacility(ctx context.Context, incident *models.EmergencyIncident, facilityID string) *models.NotificationRecord {
	var channel Channel
	for _, ch := range d.channels {
		if ch.Name() == ChannelBot {
			channel = ch
			break
		}
	}
	if channel == nil && len(d.channels) > 0 {
		channel = d.channels[0]
	}
	if channel == nil {
		return nil
	}

	message := fmt.Sprintf("DISPATCH %s: %s", facilityID, formatAlertMessage(incident))
	return d.sendOne(ctx, channel, incident.IncidentID, facilityID, message)
}

// NotifyEscalation 升级广播：提醒值守人员事件超期未处理
func (d *Dispatcher) NotifyEscalation(ctx context.Context, incident *models.EmergencyIncident, reason string) *models.NotificationRecord {
	var channel Channel
	for _, ch := range d.channels {
		if ch.Name() == ChannelBot {
			channel = ch
			break
		}
	}
	if channel == nil && len(d.channels) > 0 {
		channel = d.channels[0]
	}
	if channel == nil {
		return nil
	}

	message := fmt.Sprintf("ESCALATION incident %s: %s", incident.IncidentID, reason)
	return d.sendOne(ctx, channel, incident.IncidentID, "broadcast", message)
}

// recipientsFor 各通道的接收方
// 机器人通道是广播，其余通道逐个联系人发送
func (d *Dispatcher) recipientsFor(channel Channel, contacts []*models.EmergencyContact) []string {
	if channel.Name() == ChannelBot {
		return []string{"broadcast"}
	}

	recipients := make([]string, 0, len(contacts))
	for _, c := range contacts {
		recipients = append(recipients, c.Phone)
	}
	return recipients
}

// sendOne 单次发送，带独立超时
func (d *Dispatcher) sendOne(ctx context.Context, channel Channel, incidentID, recipient, message string) *models.NotificationRecord {
	sendCtx, cancel := context.WithTimeout(ctx, d.channelTimeout)
	defer cancel()

	record := &models.NotificationRecord{
		NotificationID: uuid.New().String(),
		IncidentID:     incidentID,
		Channel:        channel.Name(),
		Recipient:      recipient,
		Message:        message,
		SentAt:         time.Now(),
	}

	type sendOutcome struct {
		result DeliveryResult
		err    error
	}

	done := make(chan sendOutcome, 1)
	go func() {
		result, err := channel.Send(sendCtx, recipient, message)
		done <- sendOutcome{result: result, err: err}
	}()

	select {
	case outcome := <-done:
		if outcome.err != nil {
			reason := outcome.err.Error()
			record.FailureReason = &reason
			d.logger.Warn("notification send failed",
				zap.String("incident_id", incidentID),
				zap.String("channel", channel.Name()),
				zap.Error(outcome.err))
			return record
		}
		record.Delivered = outcome.result.Delivered
		if outcome.result.Delivered {
			now := time.Now()
			record.DeliveredAt = &now
		}
		if outcome.result.ProviderID != "" {
			record.ProviderID = &outcome.result.ProviderID
		}
		if outcome.result.FailureReason != "" {
			record.FailureReason = &outcome.result.FailureReason
		}
		return record
	case <-sendCtx.Done():
		reason := fmt.Sprintf("channel timeout after %s", d.channelTimeout)
		record.FailureReason = &reason
		d.logger.Warn("notification send timed out",
			zap.String("incident_id", incidentID),
			zap.String("channel", channel.Name()))
		return record
	}
}

// formatAlertMessage 通知文案
func formatAlertMessage(incident *models.EmergencyIncident) string {
	prefix := "ALERT"
	if incident.Severity == models.SeverityCritical {
		prefix = "EMERGENCY"
	}
	return fmt.Sprintf("%s [%s] subject %s: %s",
		prefix, incident.Severity, incident.SubjectID, incident.Description)
}
