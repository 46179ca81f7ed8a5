package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"PoE-Chain/internal/auth"
	"PoE-Chain/internal/claim"
	mysqlstore "PoE-Chain/internal/storage/mysql"
	"PoE-Chain/pkg/logger"
)

// Config 描述了 PoE 守护进程在启动阶段需要加载的全部配置。
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Registry RegistryConfig `yaml:"registry"`
	Storage  StorageConfig  `yaml:"storage"`
	Clock    ClockConfig    `yaml:"clock"`
	Auth     auth.Config    `yaml:"auth"`
	Events   EventsConfig   `yaml:"events"`
	Logging  logger.Config  `yaml:"logging"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address         string          `yaml:"address"`
	MetricsAddress  string          `yaml:"metrics_address"`
	ReadTimeout     time.Duration   `yaml:"read_timeout"`
	WriteTimeout    time.Duration   `yaml:"write_timeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	CORS            CORSConfig      `yaml:"cors"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// CORSConfig 描述跨域访问策略。
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RateLimitConfig 描述按账户限流的参数，RequestsPerSecond 为 0 表示不限流。
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// RegistryConfig 描述存证注册表本身的参数。
type RegistryConfig struct {
	MaxClaimLength int         `yaml:"max_claim_length"`
	Cache          CacheConfig `yaml:"cache"`
}

// CacheConfig 控制存证读缓存。
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// StorageConfig 统一描述存证存储后端的连接信息。
type StorageConfig struct {
	ClaimStore ClaimStoreConfig `yaml:"claim_store"`
}

// ClaimStoreConfig 选择存证存储实现。
type ClaimStoreConfig struct {
	Driver          string        `yaml:"driver"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Redis           RedisConfig   `yaml:"redis"`
	LevelDB         LevelDBConfig `yaml:"leveldb"`
}

// RedisConfig 描述 Redis 连接。
type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// LevelDBConfig 描述嵌入式数据库位置。
type LevelDBConfig struct {
	Path string `yaml:"path"`
}

// ClockConfig 选择逻辑时钟实现。
type ClockConfig struct {
	Driver   string         `yaml:"driver"`
	Start    uint64         `yaml:"start"`
	Ethereum EthereumConfig `yaml:"ethereum"`
}

// EthereumConfig 描述作为时钟的 EVM 节点。
type EthereumConfig struct {
	Name          string `yaml:"name"`
	RPCURL        string `yaml:"rpc_url"`
	ChainID       uint64 `yaml:"chain_id"`
	Confirmations uint64 `yaml:"confirmations"`
}

// EventsConfig 描述领域事件的投递方式。
type EventsConfig struct {
	Sinks          []string      `yaml:"sinks"`
	BufferSize     int           `yaml:"buffer_size"`
	Workers        int           `yaml:"workers"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	Redis          EventRedis    `yaml:"redis"`
	RabbitMQ       EventRabbitMQ `yaml:"rabbitmq"`
	Kafka          EventKafka    `yaml:"kafka"`
}

// EventRedis 描述 Redis Stream 投递目标。
type EventRedis struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"max_len"`
}

// EventRabbitMQ 描述 RabbitMQ 投递目标。
type EventRabbitMQ struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	Queue      string `yaml:"queue"`
	RoutingKey string `yaml:"routing_key"`
	Durable    bool   `yaml:"durable"`
}

// EventKafka 描述 Kafka 投递目标。
type EventKafka struct {
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	ClientID string   `yaml:"client_id"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `yaml:"data_dir"`
}

// 支持的驱动名称。
const (
	DriverMemory   = "memory"
	DriverMySQL    = "mysql"
	DriverRedis    = "redis"
	DriverLevelDB  = "leveldb"
	DriverCounter  = "counter"
	DriverEthereum = "ethereum"

	SinkLog      = "log"
	SinkRedis    = "redis"
	SinkRabbitMQ = "rabbitmq"
	SinkKafka    = "kafka"
)

// Load 负责解析指定路径的 YAML 配置文件（JSON 是 YAML 的子集，同样可以解析）。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg, err := Parse(content, filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse 解析配置内容，相对路径以 baseDir 为基准。
func Parse(content []byte, baseDir string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回仅包含默认值的配置。
func Default(baseDir string) *Config {
	var cfg Config
	cfg.applyDefaults(baseDir)
	return &cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 5 * time.Second
	}
	if c.Server.RateLimit.RequestsPerSecond > 0 && c.Server.RateLimit.Burst <= 0 {
		c.Server.RateLimit.Burst = int(c.Server.RateLimit.RequestsPerSecond) + 1
	}

	if c.Registry.MaxClaimLength <= 0 {
		c.Registry.MaxClaimLength = claim.DefaultMaxClaimLength
	}
	if c.Registry.Cache.Enabled && c.Registry.Cache.TTL <= 0 {
		c.Registry.Cache.TTL = 5 * time.Minute
	}

	c.Storage.ClaimStore.Driver = strings.ToLower(strings.TrimSpace(c.Storage.ClaimStore.Driver))
	if c.Storage.ClaimStore.Driver == "" {
		c.Storage.ClaimStore.Driver = DriverMemory
	}

	c.Clock.Driver = strings.ToLower(strings.TrimSpace(c.Clock.Driver))
	if c.Clock.Driver == "" {
		c.Clock.Driver = DriverCounter
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = auth.ModeDisabled
	}

	if len(c.Events.Sinks) == 0 {
		c.Events.Sinks = []string{SinkLog}
	}
	for i, sink := range c.Events.Sinks {
		c.Events.Sinks[i] = strings.ToLower(strings.TrimSpace(sink))
	}
	if c.Events.BufferSize <= 0 {
		c.Events.BufferSize = 1024
	}
	if c.Events.Workers <= 0 {
		c.Events.Workers = 1
	}
	if c.Events.PublishTimeout <= 0 {
		c.Events.PublishTimeout = 5 * time.Second
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	if c.Storage.ClaimStore.Driver == DriverLevelDB {
		if c.Storage.ClaimStore.LevelDB.Path == "" {
			c.Storage.ClaimStore.LevelDB.Path = filepath.Join(c.Runtime.DataDir, "claims")
		} else if !filepath.IsAbs(c.Storage.ClaimStore.LevelDB.Path) {
			c.Storage.ClaimStore.LevelDB.Path = filepath.Join(baseDir, c.Storage.ClaimStore.LevelDB.Path)
		}
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}
}

// Validate 检查驱动名称与各驱动的必填字段。
func (c *Config) Validate() error {
	var errs []error

	store := c.Storage.ClaimStore
	switch store.Driver {
	case DriverMemory, DriverLevelDB:
	case DriverMySQL:
		if strings.TrimSpace(store.DSN) == "" {
			errs = append(errs, errors.New("storage.claim_store.dsn 不能为空"))
		}
		if c.Registry.MaxClaimLength > mysqlstore.MaxFingerprintLength {
			errs = append(errs, fmt.Errorf("registry.max_claim_length 不能超过 mysql 指纹列宽 %d", mysqlstore.MaxFingerprintLength))
		}
	case DriverRedis:
		if strings.TrimSpace(store.Redis.Address) == "" {
			errs = append(errs, errors.New("storage.claim_store.redis.address 不能为空"))
		}
	default:
		errs = append(errs, fmt.Errorf("不支持的存储驱动: %s", store.Driver))
	}

	switch c.Clock.Driver {
	case DriverCounter:
		// 计数器不落盘，重启后会回到起点，只能与同样不落盘的内存存储搭配。
		if store.Driver != DriverMemory {
			errs = append(errs, fmt.Errorf("clock.driver=counter 不能与持久化存储 %s 搭配，请使用 ethereum 时钟", store.Driver))
		}
	case DriverEthereum:
		if strings.TrimSpace(c.Clock.Ethereum.RPCURL) == "" {
			errs = append(errs, errors.New("clock.ethereum.rpc_url 不能为空"))
		}
	default:
		errs = append(errs, fmt.Errorf("不支持的时钟驱动: %s", c.Clock.Driver))
	}

	switch c.Auth.Mode {
	case auth.ModeDisabled, auth.ModeSignature:
	case auth.ModeJWT:
		if strings.TrimSpace(c.Auth.JWT.Secret) == "" {
			errs = append(errs, errors.New("auth.jwt.secret 不能为空"))
		}
	default:
		errs = append(errs, fmt.Errorf("不支持的认证模式: %s", c.Auth.Mode))
	}

	for _, sink := range c.Events.Sinks {
		switch sink {
		case SinkLog:
		case SinkRedis:
			if c.Events.Redis.Address == "" {
				errs = append(errs, errors.New("events.redis.address 不能为空"))
			}
		case SinkRabbitMQ:
			if c.Events.RabbitMQ.URL == "" {
				errs = append(errs, errors.New("events.rabbitmq.url 不能为空"))
			}
		case SinkKafka:
			if len(c.Events.Kafka.Brokers) == 0 {
				errs = append(errs, errors.New("events.kafka.brokers 不能为空"))
			}
		default:
			errs = append(errs, fmt.Errorf("不支持的事件目标: %s", sink))
		}
	}

	if c.Server.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("server.rate_limit.requests_per_second 不能为负数"))
	}
	return errors.Join(errs...)
}
