package dispatch

import "context"

// 通知通道标识
const (
	ChannelSMS       = "sms"
	ChannelPhoneCall = "phone_call"
	ChannelAppPush   = "app_push"
	ChannelBot       = "bot_broadcast"
)

// DeliveryResult 单次发送结果
type DeliveryResult struct {
	Delivered     bool
	ProviderID    string
	FailureReason string
}

// Channel 通知通道适配器
// Send 失败时返回 error 或带 FailureReason 的结果，由分发器统一落库
type Channel interface {
	Name() string
	Send(ctx context.Context, recipient, message string) (DeliveryResult, error)
}
