package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config 进程配置，来自 yaml 文件 + VIEWERQUEUE_* 环境变量覆盖。
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Twitch   TwitchConfig   `mapstructure:"twitch"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Log      LogConfig      `mapstructure:"log"`
	Sentry   SentryConfig   `mapstructure:"sentry"`
	Trace    TraceConfig    `mapstructure:"trace"`
}

type ServerConfig struct {
	Bind      string `mapstructure:"bind" validate:"required,hostname_port"`
	StaticDir string `mapstructure:"static_dir" validate:"required"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `mapstructure:"dsn" validate:"required"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" validate:"required"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type TwitchConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURL  string `mapstructure:"redirect_url" validate:"required,url"`

	// TargetRewardID 为空时仍会订阅，但只记录不入队（观察模式）。
	TargetRewardID string `mapstructure:"target_reward_id"`
	// CancelRewardID 为空时关闭"兑换取消排队"功能。
	CancelRewardID string `mapstructure:"cancel_reward_id"`

	// ProfileTTL 为 0 时每次都请求 Helix。
	ProfileTTL time.Duration `mapstructure:"profile_ttl"`
}

type QueueConfig struct {
	ParticipationWindow time.Duration `mapstructure:"participation_window" validate:"gt=0"`
	LedgerTTL           time.Duration `mapstructure:"ledger_ttl" validate:"gt=0"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type SentryConfig struct {
	DSN string `mapstructure:"dsn"`
}

type TraceConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// Load 读取配置文件并校验。path 为空时依次尝试 ./config.yaml、./config/config.yaml。
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("VIEWERQUEUE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// 配置文件可选，全部走默认值 + 环境变量
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// setDefaults 每个配置键都要在这里登记（哪怕默认空值），
// 否则 viper 只靠 AutomaticEnv 看不到该键，环境变量覆盖会被丢弃。
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.bind", "127.0.0.1:3000")
	v.SetDefault("server.static_dir", "static")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/app.db")
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("twitch.client_id", "")
	v.SetDefault("twitch.client_secret", "")
	v.SetDefault("twitch.redirect_url", "http://localhost:3000/auth/callback")
	v.SetDefault("twitch.target_reward_id", "")
	v.SetDefault("twitch.cancel_reward_id", "")
	v.SetDefault("twitch.profile_ttl", 24*time.Hour)
	v.SetDefault("queue.participation_window", 24*time.Hour)
	v.SetDefault("queue.ledger_ttl", 24*time.Hour)
	v.SetDefault("queue.sweep_interval", 10*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("trace.enabled", false)
	v.SetDefault("trace.endpoint", "")
}
