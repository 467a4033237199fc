package dispatch

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ProviderChannel 外部提供商通道（短信 / 电话 / APP 推送）
// 实际外呼由网关侧对接的提供商完成，本服务把请求投递给提供商客户端
type ProviderChannel struct {
	name   string
	sender ProviderSender
	logger *zap.Logger
}

// ProviderSender 提供商客户端
type ProviderSender interface {
	Deliver(ctx context.Context, recipient, message string) (providerID string, err error)
}

// NewProviderChannel 创建提供商通道
func NewProviderChannel(name string, sender ProviderSender, logger *zap.Logger) *ProviderChannel {
	return &ProviderChannel{
		name:   name,
		sender: sender,
		logger: logger,
	}
}

// Name 通道名
func (c *ProviderChannel) Name() string {
	return c.name
}

// Send 经提供商发送
func (c *ProviderChannel) Send(ctx context.Context, recipient, message string) (DeliveryResult, error) {
	providerID, err := c.sender.Deliver(ctx, recipient, message)
	if err != nil {
		return DeliveryResult{}, err
	}
	return DeliveryResult{Delivered: true, ProviderID: providerID}, nil
}

// LoopbackSender 回环提供商：只记录日志并视为已送达
// 未接入真实短信/电话提供商的环境用它兜底
type LoopbackSender struct {
	channel string
	logger  *zap.Logger
}

// NewLoopbackSender 创建回环提供商
func NewLoopbackSender(channel string, logger *zap.Logger) *LoopbackSender {
	return &LoopbackSender{channel: channel, logger: logger}
}

// Deliver 记录并返回本地生成的投递 ID
func (s *LoopbackSender) Deliver(ctx context.Context, recipient, message string) (string, error) {
	providerID := uuid.New().String()
	s.logger.Info("loopback delivery",
		zap.String("channel", s.channel),
		zap.String("recipient", recipient),
		zap.String("provider_id", providerID))
	return providerID, nil
}
