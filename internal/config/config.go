// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Line     LineConfig     `mapstructure:"line"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Database DatabaseConfig `mapstructure:"database"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Weather  WeatherConfig  `mapstructure:"weather"`
	Chat     ChatConfig     `mapstructure:"chat"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port    string `mapstructure:"port"`
	Mode    string `mapstructure:"mode"`
	Version string `mapstructure:"version"`
	// AdminToken 为空时不注册管理接口
	AdminToken string `mapstructure:"admin_token"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// LineConfig 存储 LINE Messaging API 的凭证。
type LineConfig struct {
	ChannelAccessToken string `mapstructure:"channel_access_token"`
	ChannelSecret      string `mapstructure:"channel_secret"`
	APIBaseURL         string `mapstructure:"api_base_url"`
	VerifySignature    bool   `mapstructure:"verify_signature"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Agent      LLMGenerationConfig `mapstructure:"agent"`
}

// LLMGenerationConfig 配置生成相关参数（可选，零值表示使用服务端默认值）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// DatabaseConfig 存储持久化后端与缓存的配置。
type DatabaseConfig struct {
	// Backend 取值 sql / postgrest；为空表示不启用持久化。
	Backend   string          `mapstructure:"backend"`
	SQL       SQLConfig       `mapstructure:"sql"`
	PostgREST PostgRESTConfig `mapstructure:"postgrest"`
	Redis     RedisConfig     `mapstructure:"redis"`
}

// SQLConfig 存储关系型数据库的配置。
type SQLConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// PostgRESTConfig 存储托管 Postgres REST 接口（Supabase 等）的配置。
type PostgRESTConfig struct {
	URL            string        `mapstructure:"url"`
	ServiceRoleKey string        `mapstructure:"service_role_key"`
	Schema         string        `mapstructure:"schema"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// WeatherConfig 存储天气 API 的配置。
type WeatherConfig struct {
	APIKey   string        `mapstructure:"api_key"`
	BaseURL  string        `mapstructure:"base_url"`
	GeoURL   string        `mapstructure:"geo_url"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ChatConfig 存储对话编排相关的配置。
type ChatConfig struct {
	HistoryLimit    int           `mapstructure:"history_limit"`
	SummaryLimit    int           `mapstructure:"summary_limit"`
	MaxIterations   int           `mapstructure:"max_iterations"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	SessionTimezone string        `mapstructure:"session_timezone"`
	SessionLock     bool          `mapstructure:"session_lock"`
}

// ConfigurationError 表示缺失或非法的必需配置，只允许在启动阶段致命。
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "3000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.version", "1.0.0")
	v.SetDefault("server.admin_token", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
	v.SetDefault("line.channel_access_token", "")
	v.SetDefault("line.channel_secret", "")
	v.SetDefault("line.api_base_url", "https://api.line.me")
	v.SetDefault("line.verify_signature", true)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "gpt-3.5-turbo")
	v.SetDefault("llm.generation.temperature", 0.7)
	v.SetDefault("llm.generation.top_p", 0)
	v.SetDefault("llm.generation.max_tokens", 1000)
	v.SetDefault("llm.agent.temperature", 0.3)
	v.SetDefault("llm.agent.top_p", 0)
	v.SetDefault("llm.agent.max_tokens", 0)
	v.SetDefault("database.backend", "")
	v.SetDefault("database.sql.driver", "mysql")
	v.SetDefault("database.sql.dsn", "")
	v.SetDefault("database.sql.auto_migrate", true)
	v.SetDefault("database.sql.max_idle_conns", 10)
	v.SetDefault("database.sql.max_open_conns", 100)
	v.SetDefault("database.postgrest.url", "")
	v.SetDefault("database.postgrest.service_role_key", "")
	v.SetDefault("database.postgrest.schema", "public")
	v.SetDefault("database.postgrest.timeout", "10s")
	v.SetDefault("database.redis.addr", "")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)
	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "conversation.turns")
	v.SetDefault("weather.api_key", "")
	v.SetDefault("weather.base_url", "https://api.openweathermap.org/data/2.5")
	v.SetDefault("weather.geo_url", "http://api.openweathermap.org/geo/1.0/direct")
	v.SetDefault("weather.cache_ttl", "5m")
	v.SetDefault("weather.timeout", "10s")
	v.SetDefault("chat.history_limit", 10)
	v.SetDefault("chat.summary_limit", 20)
	v.SetDefault("chat.max_iterations", 3)
	v.SetDefault("chat.cache_ttl", "30m")
	v.SetDefault("chat.session_timezone", "UTC")
	v.SetDefault("chat.session_lock", true)
}

// Load 读取 .env、YAML 文件与环境变量并解析为 Config。
// 配置文件不存在时只使用默认值与环境变量。
func Load(configPath string) (Config, error) {
	// .env 仅在本地开发时存在，缺失不算错误
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("读取配置文件失败: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return cfg, nil
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}

// Validate 检查启动 webhook 服务所必需的配置。
func (c Config) Validate() error {
	if c.Line.ChannelAccessToken == "" {
		return &ConfigurationError{Key: "line.channel_access_token", Reason: "LINE_CHANNEL_ACCESS_TOKEN is required"}
	}
	if c.Line.ChannelSecret == "" {
		return &ConfigurationError{Key: "line.channel_secret", Reason: "LINE_CHANNEL_SECRET is required"}
	}
	if err := c.ValidateStorage(); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Chat.SessionTimezone); err != nil {
		return &ConfigurationError{Key: "chat.session_timezone", Reason: err.Error()}
	}
	return nil
}

// ValidateStorage 检查持久化后端的选择是否合法。
func (c Config) ValidateStorage() error {
	switch c.Database.Backend {
	case "":
		return nil
	case "sql":
		if c.Database.SQL.DSN == "" {
			return &ConfigurationError{Key: "database.sql.dsn", Reason: "dsn is required for the sql backend"}
		}
		switch c.Database.SQL.Driver {
		case "mysql", "postgres":
		default:
			return &ConfigurationError{Key: "database.sql.driver", Reason: fmt.Sprintf("unsupported driver %q", c.Database.SQL.Driver)}
		}
	case "postgrest":
		if c.Database.PostgREST.URL == "" || c.Database.PostgREST.ServiceRoleKey == "" {
			return &ConfigurationError{Key: "database.postgrest", Reason: "url and service_role_key are required for the postgrest backend"}
		}
	default:
		return &ConfigurationError{Key: "database.backend", Reason: fmt.Sprintf("unknown backend %q", c.Database.Backend)}
	}
	return nil
}

// Warnings 返回可选配置缺失时的提示，服务仍可在受限模式下运行。
func (c Config) Warnings() []string {
	var warnings []string
	if c.Database.Backend == "" {
		warnings = append(warnings, "No database configured. Running in limited mode without conversation memory.")
	}
	if c.LLM.APIKey == "" {
		warnings = append(warnings, "LLM api key not configured. AI features will be disabled.")
	}
	if c.Weather.APIKey == "" {
		warnings = append(warnings, "Weather api key not configured. Weather tools will report unavailability.")
	}
	return warnings
}
