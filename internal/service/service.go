package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"rescuenet-core/internal/config"
	"rescuenet-core/internal/consumer"
	"rescuenet-core/internal/database"
	"rescuenet-core/internal/dispatch"
	"rescuenet-core/internal/escalation"
	"rescuenet-core/internal/events"
	"rescuenet-core/internal/incident"
	"rescuenet-core/internal/locator"
	"rescuenet-core/internal/redisx"
	"rescuenet-core/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// MonitorService 紧急监测服务（整合各层）
type MonitorService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger

	// 各层组件
	incidentRepo     *repository.IncidentRepository
	notificationRepo *repository.NotificationRepository
	facilityRepo     *repository.FacilityRepository
	profileRepo      *repository.ProfileRepository
	contactRepo      *repository.ContactRepository
	dispatcher       *dispatch.Dispatcher
	mqttChannel      *dispatch.MQTTChannel
	publisher        *events.Publisher
	manager          *incident.Manager
	monitor          *escalation.Monitor
	readingConsumer  *consumer.ReadingConsumer
}

// NewMonitorService 创建监测服务
func NewMonitorService(cfg *config.Config, logger *zap.Logger) (*MonitorService, error) {
	// 1. 连接数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := redisx.NewRedisClient(&cfg.Redis)
	if err := redisx.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 创建 Repository 层
	incidentRepo := repository.NewIncidentRepository(db, logger)
	notificationRepo := repository.NewNotificationRepository(db, logger)
	facilityRepo := repository.NewFacilityRepository(db, logger)
	profileRepo := repository.NewProfileRepository(db, logger)
	contactRepo := repository.NewContactRepository(db, logger)

	// 4. 创建通知通道与分发器
	channels := []dispatch.Channel{
		dispatch.NewProviderChannel(dispatch.ChannelSMS, dispatch.NewLoopbackSender(dispatch.ChannelSMS, logger), logger),
		dispatch.NewProviderChannel(dispatch.ChannelPhoneCall, dispatch.NewLoopbackSender(dispatch.ChannelPhoneCall, logger), logger),
		dispatch.NewProviderChannel(dispatch.ChannelAppPush, dispatch.NewLoopbackSender(dispatch.ChannelAppPush, logger), logger),
	}

	var mqttChannel *dispatch.MQTTChannel
	if cfg.MQTT.Broker != "" {
		mqttChannel, err = dispatch.NewMQTTChannel(&cfg.MQTT, logger)
		if err != nil {
			db.Close()
			redisClient.Close()
			return nil, fmt.Errorf("failed to connect MQTT broker: %w", err)
		}
		channels = append(channels, mqttChannel)
	}

	dispatcher := dispatch.NewDispatcher(channels, cfg.ChannelTimeout(), logger)

	// 5. 创建事件发布器与机构检索
	publisher := events.NewPublisher(redisClient, cfg.Events.IncidentStream, logger)
	loc := locator.NewLocator(facilityRepo, cfg.Facility.MaxRadiusKm, cfg.Facility.AvgSpeedKmh, logger)

	// 6. 创建事件管理器
	manager := incident.NewManager(
		incidentRepo,
		notificationRepo,
		profileRepo,
		contactRepo,
		loc,
		dispatcher,
		publisher,
		cfg.DedupeWindow(),
		logger,
	)

	// 7. 创建升级监视器
	monitor := escalation.NewMonitor(
		incidentRepo,
		notificationRepo,
		dispatcher,
		publisher,
		escalation.Deadlines{
			CriticalUnacked: minutes(cfg.Escalation.CriticalUnackedMin),
			HighUnacked:     minutes(cfg.Escalation.HighUnackedMin),
			AckedNoResponse: minutes(cfg.Escalation.AckedNoResponseMin),
		},
		seconds(cfg.Escalation.SweepIntervalSec),
		logger,
	)

	// 8. 创建读数消费者
	readingConsumer := consumer.NewReadingConsumer(
		redisClient,
		cfg.Consumer.ReadingStream,
		cfg.Consumer.Group,
		cfg.Consumer.Workers,
		cfg.Consumer.BatchSize,
		manager,
		logger,
	)

	return &MonitorService{
		config:           cfg,
		db:               db,
		redisClient:      redisClient,
		logger:           logger,
		incidentRepo:     incidentRepo,
		notificationRepo: notificationRepo,
		facilityRepo:     facilityRepo,
		profileRepo:      profileRepo,
		contactRepo:      contactRepo,
		dispatcher:       dispatcher,
		mqttChannel:      mqttChannel,
		publisher:        publisher,
		manager:          manager,
		monitor:          monitor,
		readingConsumer:  readingConsumer,
	}, nil
}

// Manager 事件管理器（供管理接口层调用状态机操作）
func (s *MonitorService) Manager() *incident.Manager {
	return s.manager
}

// Start 启动服务
func (s *MonitorService) Start(ctx context.Context) error {
	s.logger.Info("starting monitor service",
		zap.String("reading_stream", s.config.Consumer.ReadingStream),
		zap.String("incident_stream", s.config.Events.IncidentStream))

	if err := s.readingConsumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reading consumer: %w", err)
	}

	go s.monitor.Start(ctx)

	return nil
}

// Stop 停止服务
func (s *MonitorService) Stop() error {
	s.logger.Info("stopping monitor service")

	s.readingConsumer.Wait()
	s.manager.WaitDispatch()

	if s.mqttChannel != nil {
		s.mqttChannel.Close()
	}

	if err := s.db.Close(); err != nil {
		s.logger.Error("failed to close database", zap.Error(err))
	}

	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("failed to close redis", zap.Error(err))
	}

	return nil
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
