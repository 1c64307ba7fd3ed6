package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用全局配置结构体
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"db"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Log          LogConfig          `mapstructure:"log"`
	Kudos        KudosConfig        `mapstructure:"kudos"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Notification NotificationConfig `mapstructure:"notification"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port    int        `mapstructure:"port"`
	BaseURL string     `mapstructure:"base_url"`
	CORS    CORSConfig `mapstructure:"cors"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// DatabaseConfig PostgreSQL 数据库配置
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"sslmode"`
	Timezone        string `mapstructure:"timezone"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`  // 连接最大生命周期（分钟）
	ConnMaxIdleTime int    `mapstructure:"conn_max_idle_time"` // 空闲连接最大存活时间（分钟）
}

// DSN 生成 PostgreSQL 连接字符串
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode, c.Timezone,
	)
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig 凭证解析配置
// 直连凭证与联邦凭证使用不同密钥签发
type AuthConfig struct {
	JWTSecret       string        `mapstructure:"jwt_secret"`
	FederatedSecret string        `mapstructure:"federated_secret"`
	Issuer          string        `mapstructure:"issuer"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// KudosConfig 点赞业务参数
type KudosConfig struct {
	CircularWindow           time.Duration `mapstructure:"circular_window"`   // 互赞检测窗口
	CircularLookback         int           `mapstructure:"circular_lookback"` // 互赞检测回看条数
	MaxMessageLength         int           `mapstructure:"max_message_length"`
	MaxTags                  int           `mapstructure:"max_tags"`
	RateLimitPerMinute       int           `mapstructure:"rate_limit_per_minute"`
	DefaultWeeklyQuota       int           `mapstructure:"default_weekly_quota"`
	DefaultMaxPerTransaction int           `mapstructure:"default_max_per_transaction"`
	SettingCacheTTL          time.Duration `mapstructure:"setting_cache_ttl"`
}

// SchedulerConfig 周额度重置调度配置
type SchedulerConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	Interval             time.Duration `mapstructure:"interval"`
	BatchSize            int           `mapstructure:"batch_size"`
	MaxConcurrentBatches int           `mapstructure:"max_concurrent_batches"`
	PassTimeout          time.Duration `mapstructure:"pass_timeout"`
	LockTTL              time.Duration `mapstructure:"lock_ttl"`
}

// NotificationConfig 外部通知网关配置
type NotificationConfig struct {
	GatewayBaseURL string        `mapstructure:"gateway_base_url"`
	AppID          string        `mapstructure:"app_id"`
	AppSecret      string        `mapstructure:"app_secret"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Workers        int           `mapstructure:"workers"`
	QueueSize      int           `mapstructure:"queue_size"`
}

// Load 从配置文件与环境变量加载配置
// 优先级：环境变量 > 配置文件 > 默认值
func Load(path string) (*Config, error) {
	v := viper.New()

	// ── 默认值 ──
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.cors.allow_origins", []string{"http://localhost:5173"})

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "kudos")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("db.max_open_conns", 25)
	v.SetDefault("db.max_idle_conns", 10)
	v.SetDefault("db.conn_max_lifetime", 60)
	v.SetDefault("db.conn_max_idle_time", 30)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// 无默认值的键也需注册，否则 Unmarshal 读不到对应环境变量
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.federated_secret", "")
	v.SetDefault("auth.issuer", "kudos-engine")
	v.SetDefault("auth.access_token_ttl", "15m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("kudos.circular_window", "10m")
	v.SetDefault("kudos.circular_lookback", 5)
	v.SetDefault("kudos.max_message_length", 2000)
	v.SetDefault("kudos.max_tags", 10)
	v.SetDefault("kudos.rate_limit_per_minute", 30)
	v.SetDefault("kudos.default_weekly_quota", 5)
	v.SetDefault("kudos.default_max_per_transaction", 5)
	v.SetDefault("kudos.setting_cache_ttl", "5m")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.batch_size", 100)
	v.SetDefault("scheduler.max_concurrent_batches", 5)
	v.SetDefault("scheduler.pass_timeout", "10m")
	v.SetDefault("scheduler.lock_ttl", "15m")

	v.SetDefault("notification.gateway_base_url", "")
	v.SetDefault("notification.app_id", "")
	v.SetDefault("notification.app_secret", "")
	v.SetDefault("notification.timeout", "5s")
	v.SetDefault("notification.workers", 4)
	v.SetDefault("notification.queue_size", 256)

	// ── 配置文件 ──
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// ── 环境变量 ──
	v.SetEnvPrefix("KUDOS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		// 配置文件不存在时仅依赖默认值和环境变量
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 校验关键配置项
func (c *Config) Validate() error {
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("配置校验失败: auth.jwt_secret 长度不能少于 16 字符")
	}
	if c.Auth.FederatedSecret != "" && len(c.Auth.FederatedSecret) < 16 {
		return fmt.Errorf("配置校验失败: auth.federated_secret 长度不能少于 16 字符")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("配置校验失败: server.port 必须在 1-65535 之间")
	}
	if c.Kudos.CircularLookback <= 0 || c.Kudos.CircularWindow <= 0 {
		return fmt.Errorf("配置校验失败: kudos.circular_window 与 kudos.circular_lookback 必须为正数")
	}
	if c.Kudos.DefaultWeeklyQuota <= 0 || c.Kudos.DefaultMaxPerTransaction <= 0 {
		return fmt.Errorf("配置校验失败: 默认额度必须为正整数")
	}
	if c.Scheduler.BatchSize <= 0 || c.Scheduler.MaxConcurrentBatches <= 0 {
		return fmt.Errorf("配置校验失败: scheduler.batch_size 与 scheduler.max_concurrent_batches 必须为正数")
	}
	// 通知为 fire-and-forget，超时必须是个位数秒
	if c.Notification.Timeout <= 0 || c.Notification.Timeout >= 10*time.Second {
		return fmt.Errorf("配置校验失败: notification.timeout 必须在 (0, 10s) 之间")
	}
	if c.Notification.Workers <= 0 || c.Notification.QueueSize <= 0 {
		return fmt.Errorf("配置校验失败: notification.workers 与 notification.queue_size 必须为正数")
	}
	return nil
}
