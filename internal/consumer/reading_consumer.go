package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"rescuenet-core/internal/models"
	"rescuenet-core/internal/redisx"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ReadingHandler 读数处理接口
type ReadingHandler interface {
	HandleReading(ctx context.Context, reading *models.VitalReading) (*models.EmergencyIncident, error)
}

// ReadingConsumer 体征读数消费者
// 以消费者组方式从 Redis Streams 拉取网关推送的读数，多 worker 并行评估
type ReadingConsumer struct {
	client    *redis.Client
	stream    string
	group     string
	workers   int
	batchSize int64
	handler   ReadingHandler
	logger    *zap.Logger

	blockTimeout time.Duration
	wg           sync.WaitGroup
}

// NewReadingConsumer 创建读数消费者
func NewReadingConsumer(client *redis.Client, stream, group string, workers, batchSize int, handler ReadingHandler, logger *zap.Logger) *ReadingConsumer {
	return &ReadingConsumer{
		client:       client,
		stream:       stream,
		group:        group,
		workers:      workers,
		batchSize:    int64(batchSize),
		handler:      handler,
		logger:       logger,
		blockTimeout: 2 * time.Second,
	}
}

// Start 启动消费循环
func (c *ReadingConsumer) Start(ctx context.Context) error {
	if err := redisx.CreateConsumerGroup(ctx, c.client, c.stream, c.group); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("reading consumer started",
		zap.String("stream", c.stream),
		zap.String("group", c.group),
		zap.Int("workers", c.workers))

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		consumerName := fmt.Sprintf("worker-%d", i)
		go func() {
			defer c.wg.Done()
			c.consumeLoop(ctx, consumerName)
		}()
	}

	return nil
}

// Wait 等待所有 worker 退出
func (c *ReadingConsumer) Wait() {
	c.wg.Wait()
}

func (c *ReadingConsumer) consumeLoop(ctx context.Context, consumerName string) {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("reading consumer worker stopped", zap.String("consumer", consumerName))
			return
		default:
		}

		messages, err := redisx.ReadFromStream(ctx, c.client, c.stream, c.group, consumerName, c.batchSize, c.blockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("failed to read from stream",
				zap.String("consumer", consumerName),
				zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range messages {
			c.processMessage(ctx, msg)
			if err := redisx.AckMessage(ctx, c.client, c.stream, c.group, msg.ID); err != nil {
				c.logger.Error("failed to ack message",
					zap.String("message_id", msg.ID),
					zap.Error(err))
			}
		}
	}
}

// processMessage 处理单条消息
// 畸形消息和非法读数只记日志并确认，不产生任何事件副作用
func (c *ReadingConsumer) processMessage(ctx context.Context, msg redisx.StreamMessage) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		c.logger.Warn("stream message missing data field, dropped",
			zap.String("message_id", msg.ID))
		return
	}

	var reading models.VitalReading
	if err := json.Unmarshal([]byte(data), &reading); err != nil {
		c.logger.Warn("malformed reading payload, dropped",
			zap.String("message_id", msg.ID),
			zap.Error(err))
		return
	}

	incident, err := c.handler.HandleReading(ctx, &reading)
	if err != nil {
		c.logger.Warn("reading rejected",
			zap.String("message_id", msg.ID),
			zap.String("subject_id", reading.SubjectID),
			zap.Error(err))
		return
	}

	if incident != nil {
		c.logger.Debug("reading produced incident",
			zap.String("reading_id", reading.ReadingID),
			zap.String("incident_id", incident.IncidentID))
	}
}
