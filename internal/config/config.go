package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
	MaxIdle  int    `yaml:"max_idle"`
}

// DSN 获取数据库连接字符串
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MQTTConfig MQTT配置（机器人广播通知通道）
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

// Config 服务配置
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	MQTT     MQTTConfig     `yaml:"mqtt"`

	// 事件检测与协调策略（默认值来自观测到的线上策略，全部可配置）
	Incident struct {
		DedupeWindowSec int `yaml:"dedupe_window_sec"` // 去重窗口（秒），默认 120
	} `yaml:"incident"`

	Escalation struct {
		SweepIntervalSec   int `yaml:"sweep_interval_sec"`    // 扫描间隔（秒），默认 30
		CriticalUnackedMin int `yaml:"critical_unacked_min"`  // critical 未确认升级期限（分钟），默认 5
		HighUnackedMin     int `yaml:"high_unacked_min"`      // high 未确认升级期限（分钟），默认 10
		AckedNoResponseMin int `yaml:"acked_no_response_min"` // 确认后未响应升级期限（分钟），默认 15
	} `yaml:"escalation"`

	Dispatch struct {
		ChannelTimeoutSec int `yaml:"channel_timeout_sec"` // 单通道发送超时（秒），默认 5
	} `yaml:"dispatch"`

	Facility struct {
		MaxRadiusKm float64 `yaml:"max_radius_km"` // 机构检索半径（公里），默认 50
		AvgSpeedKmh float64 `yaml:"avg_speed_kmh"` // ETA 估算用平均车速（公里/小时），默认 40
	} `yaml:"facility"`

	Consumer struct {
		ReadingStream string `yaml:"reading_stream"` // 入站读数流
		Group         string `yaml:"group"`          // 消费者组
		Workers       int    `yaml:"workers"`        // 并行工作协程数
		BatchSize     int    `yaml:"batch_size"`     // 单次拉取消息数
	} `yaml:"consumer"`

	Events struct {
		IncidentStream string `yaml:"incident_stream"` // 出站事件流
	} `yaml:"events"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// DedupeWindow 去重窗口时长
func (c *Config) DedupeWindow() time.Duration {
	return time.Duration(c.Incident.DedupeWindowSec) * time.Second
}

// ChannelTimeout 单通道发送超时
func (c *Config) ChannelTimeout() time.Duration {
	return time.Duration(c.Dispatch.ChannelTimeoutSec) * time.Second
}

// Load 加载配置
// 先读取 CONFIG_FILE 指定的 YAML 文件（可选），再应用环境变量覆盖
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.Consumer.Workers <= 0 {
		return nil, fmt.Errorf("consumer.workers must be positive")
	}
	if cfg.Incident.DedupeWindowSec <= 0 {
		return nil, fmt.Errorf("incident.dedupe_window_sec must be positive")
	}

	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}

	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "rescuenet"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 10
	cfg.Database.MaxIdle = 5

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.DB = 0

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "rescuenet-core"
	cfg.MQTT.Topic = "rescuenet/alerts"
	cfg.MQTT.QoS = 1

	cfg.Incident.DedupeWindowSec = 120

	cfg.Escalation.SweepIntervalSec = 30
	cfg.Escalation.CriticalUnackedMin = 5
	cfg.Escalation.HighUnackedMin = 10
	cfg.Escalation.AckedNoResponseMin = 15

	cfg.Dispatch.ChannelTimeoutSec = 5

	cfg.Facility.MaxRadiusKm = 50
	cfg.Facility.AvgSpeedKmh = 40

	cfg.Consumer.ReadingStream = "rescuenet:readings"
	cfg.Consumer.Group = "rescuenet-core"
	cfg.Consumer.Workers = 4
	cfg.Consumer.BatchSize = 10

	cfg.Events.IncidentStream = "rescuenet:incidents"

	cfg.Log.Level = "info"
	cfg.Log.Format = "json"

	return cfg
}

func applyEnvOverrides(cfg *Config) {
	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvInt("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnv("DB_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", cfg.MQTT.Broker)
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", cfg.MQTT.ClientID)
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", cfg.MQTT.Username)
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", cfg.MQTT.Password)
	cfg.MQTT.Topic = getEnv("MQTT_TOPIC", cfg.MQTT.Topic)

	cfg.Incident.DedupeWindowSec = getEnvInt("INCIDENT_DEDUPE_WINDOW_SEC", cfg.Incident.DedupeWindowSec)

	cfg.Escalation.SweepIntervalSec = getEnvInt("ESCALATION_SWEEP_INTERVAL_SEC", cfg.Escalation.SweepIntervalSec)
	cfg.Escalation.CriticalUnackedMin = getEnvInt("ESCALATION_CRITICAL_UNACKED_MIN", cfg.Escalation.CriticalUnackedMin)
	cfg.Escalation.HighUnackedMin = getEnvInt("ESCALATION_HIGH_UNACKED_MIN", cfg.Escalation.HighUnackedMin)
	cfg.Escalation.AckedNoResponseMin = getEnvInt("ESCALATION_ACKED_NO_RESPONSE_MIN", cfg.Escalation.AckedNoResponseMin)

	cfg.Dispatch.ChannelTimeoutSec = getEnvInt("DISPATCH_CHANNEL_TIMEOUT_SEC", cfg.Dispatch.ChannelTimeoutSec)

	cfg.Consumer.ReadingStream = getEnv("READING_STREAM", cfg.Consumer.ReadingStream)
	cfg.Consumer.Group = getEnv("CONSUMER_GROUP", cfg.Consumer.Group)
	cfg.Consumer.Workers = getEnvInt("CONSUMER_WORKERS", cfg.Consumer.Workers)

	cfg.Events.IncidentStream = getEnv("INCIDENT_STREAM", cfg.Events.IncidentStream)

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
