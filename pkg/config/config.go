package config

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Store    StoreConfig    `mapstructure:"store"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Timeplus TimeplusConfig `mapstructure:"timeplus"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Queue    QueueConfig    `mapstructure:"queue"`

	// Secrets maps channel id to its credential set (tokens, webhook
	// URLs). Kept out of the channel records in the store.
	Secrets map[string]map[string]string `mapstructure:"secrets"`
}

// ServerConfig holds the HTTP server configuration
type ServerConfig struct {
	Port            string `mapstructure:"port"`
	AllowedOrigins  string `mapstructure:"allowedOrigins"`
	ShutdownTimeout int    `mapstructure:"shutdownTimeout"`
}

// LogConfig holds logging and rotation settings
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"maxSizeMb"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAgeDays"`
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite" or "memory"
	Path   string `mapstructure:"path"`
}

// RedisConfig holds the rate limit counter backend. An empty address
// falls back to in-process counters.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TimeplusConfig holds the Timeplus connection configuration
type TimeplusConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	Username  string `mapstructure:"username"`
	Workspace string `mapstructure:"workspace"`
}

// KafkaConfig holds the external trigger consumer settings. An empty
// broker list disables the consumer.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"groupId"`
}

// SMTPConfig holds the shared mail relay used by email channels
type SMTPConfig struct {
	Server   string `mapstructure:"server"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

// LimitsConfig caps notification volume
type LimitsConfig struct {
	PerChannel              int64 `mapstructure:"perChannel"`
	PerChannelWindowSeconds int   `mapstructure:"perChannelWindowSeconds"`
	PerRule                 int64 `mapstructure:"perRule"`
	PerRuleWindowSeconds    int   `mapstructure:"perRuleWindowSeconds"`
	PerProject              int64 `mapstructure:"perProject"`
	PerProjectWindowSeconds int   `mapstructure:"perProjectWindowSeconds"`
}

// QueueConfig sizes the background worker pool
type QueueConfig struct {
	Workers int `mapstructure:"workers"`
}

// LoadConfig loads the application configuration from file or environment variables
func LoadConfig(configPath string) (*Config, error) {
	var config Config

	// Set default values
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.allowedOrigins", "*")
	viper.SetDefault("server.shutdownTimeout", 10)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.maxSizeMb", 100)
	viper.SetDefault("log.maxBackups", 5)
	viper.SetDefault("log.maxAgeDays", 30)
	viper.SetDefault("store.driver", "sqlite")
	viper.SetDefault("store.path", "signal.db")
	viper.SetDefault("timeplus.enabled", false)
	viper.SetDefault("timeplus.address", "localhost:8464")
	viper.SetDefault("timeplus.workspace", "default")
	viper.SetDefault("kafka.topic", "alert-triggers")
	viper.SetDefault("kafka.groupId", "signal-engine")
	viper.SetDefault("limits.perChannel", 60)
	viper.SetDefault("limits.perChannelWindowSeconds", 300)
	viper.SetDefault("limits.perRule", 10)
	viper.SetDefault("limits.perRuleWindowSeconds", 3600)
	viper.SetDefault("limits.perProject", 500)
	viper.SetDefault("limits.perProjectWindowSeconds", 3600)
	viper.SetDefault("queue.workers", 8)

	// Allow environment variables to override config file
	viper.SetEnvPrefix("SIGNAL")
	viper.AutomaticEnv()

	// If config file is provided, read it
	if configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			logrus.Warnf("Error reading config file: %v", err)
		}
	}

	// Unmarshal config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
