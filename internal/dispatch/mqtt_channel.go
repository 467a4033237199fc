package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rescuenet-core/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTChannel 机器人广播通道
// 报警以 JSON 形式发布到固定主题，现场机器人订阅后播报
type MQTTChannel struct {
	client mqtt.Client
	topic  string
	qos    byte
	logger *zap.Logger
}

// NewMQTTChannel 创建并连接机器人广播通道
func NewMQTTChannel(cfg *config.MQTTConfig, logger *zap.Logger) (*MQTTChannel, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &MQTTChannel{
		client: client,
		topic:  cfg.Topic,
		qos:    cfg.QoS,
		logger: logger,
	}, nil
}

// Name 通道名
func (c *MQTTChannel) Name() string {
	return ChannelBot
}

// Send 广播报警消息
func (c *MQTTChannel) Send(ctx context.Context, recipient, message string) (DeliveryResult, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"type":      "emergency_alert",
		"message":   message,
		"timestamp": time.Now().Unix(),
	})
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("failed to marshal alert payload: %w", err)
	}

	token := c.client.Publish(c.topic, c.qos, false, payload)
	token.Wait()
	if token.Error() != nil {
		return DeliveryResult{}, fmt.Errorf("failed to publish to topic %s: %w", c.topic, token.Error())
	}

	return DeliveryResult{Delivered: true, ProviderID: c.topic}, nil
}

// Close 断开连接
func (c *MQTTChannel) Close() {
	c.client.Disconnect(250)
}
