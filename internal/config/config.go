package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"gopkg.in/yaml.v3"
)

// Push transport types.
const (
	PushLog   = "log"
	PushRedis = "redis"
)

// Config is the whole process configuration.
// ARCHITECTURAL DISCOVERY: one typed struct per concern, assembled in layers:
// defaults, then the YAML file, then CHATRELAY_* environment overrides
type Config struct {
	HTTP      *HTTPConfig      `yaml:"http"`
	WebSocket *WebSocketConfig `yaml:"websocket"`
	Database  *DatabaseConfig  `yaml:"database"`
	Auth      *AuthConfig      `yaml:"auth"`
	Registry  *RegistryConfig  `yaml:"registry"`
	Notify    *NotifyConfig    `yaml:"notify"`
	Push      *PushConfig      `yaml:"push"`
	Presence  *PresenceConfig  `yaml:"presence"`
	RateLimit *RateLimitConfig `yaml:"rate_limit"`
	Log       *LogConfig       `yaml:"log"`
}

type HTTPConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongWait       time.Duration `yaml:"pong_wait"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	SendBuffer     int           `yaml:"send_buffer"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Path           string        `yaml:"path"`
	MaxConnections int           `yaml:"max_connections"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	SeedPath       string        `yaml:"seed_path"`
}

type AuthConfig struct {
	Secret string        `yaml:"secret"`
	Issuer string        `yaml:"issuer"`
	Leeway time.Duration `yaml:"leeway"`
}

type RegistryConfig struct {
	Shards int `yaml:"shards"`
}

type NotifyConfig struct {
	Workers     int           `yaml:"workers"`
	QueueSize   int           `yaml:"queue_size"`
	SendTimeout time.Duration `yaml:"send_timeout"`
}

type PushConfig struct {
	Type  string           `yaml:"type"`
	Redis *RedisPushConfig `yaml:"redis"`
}

type RedisPushConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

type PresenceConfig struct {
	StoreTimeout time.Duration `yaml:"store_timeout"`
}

type RateLimitConfig struct {
	Messages        int           `yaml:"messages"`
	Window          time.Duration `yaml:"window"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns settings suitable for a single-node deployment. The
// auth secret has no default and must be supplied.
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			PongWait:       60 * time.Second,
			WriteTimeout:   5 * time.Second,
			RequestTimeout: 10 * time.Second,
			SendBuffer:     100,
			MaxMessageSize: 64 * 1024,
		},
		Database: &DatabaseConfig{
			Path:           "./data/chatrelay.db",
			MaxConnections: 10,
			WriteTimeout:   30 * time.Second,
			RetryDelay:     5 * time.Second,
		},
		Auth: &AuthConfig{
			Issuer: "chatrelay",
			Leeway: 30 * time.Second,
		},
		Registry: &RegistryConfig{Shards: 32},
		Notify: &NotifyConfig{
			Workers:     4,
			QueueSize:   1024,
			SendTimeout: 5 * time.Second,
		},
		Push: &PushConfig{
			Type: PushLog,
			Redis: &RedisPushConfig{
				Addr: "localhost:6379",
				Key:  "chatrelay:push",
			},
		},
		Presence: &PresenceConfig{StoreTimeout: 2 * time.Second},
		RateLimit: &RateLimitConfig{
			Messages:        100,
			Window:          time.Minute,
			CleanupInterval: 5 * time.Minute,
		},
		Log: &LogConfig{Level: "info", Format: "json"},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.HTTP == nil || c.WebSocket == nil || c.Database == nil || c.Auth == nil ||
		c.Registry == nil || c.Notify == nil || c.Push == nil || c.Presence == nil ||
		c.RateLimit == nil || c.Log == nil {
		return errors.New("all configuration sections are required")
	}

	// Port 0 binds an ephemeral port.
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 || c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}

	if c.WebSocket.PingInterval <= 0 || c.WebSocket.PongWait <= 0 {
		return fmt.Errorf("WebSocket ping interval and pong wait must be positive")
	}
	if c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		return fmt.Errorf("WebSocket ping interval must be shorter than pong wait")
	}
	if c.WebSocket.WriteTimeout <= 0 || c.WebSocket.RequestTimeout <= 0 {
		return fmt.Errorf("WebSocket timeouts must be positive")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("WebSocket send buffer must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.MaxConnections <= 0 || c.Database.WriteTimeout <= 0 {
		return fmt.Errorf("database pool size and write timeout must be positive")
	}
	if c.Database.RetryDelay < 0 {
		return fmt.Errorf("database retry delay cannot be negative")
	}

	if len(c.Auth.Secret) < 32 {
		return fmt.Errorf("auth secret must be at least 32 bytes")
	}
	if c.Auth.Leeway < 0 {
		return fmt.Errorf("auth leeway cannot be negative")
	}

	if c.Registry.Shards <= 0 {
		return fmt.Errorf("registry shards must be positive")
	}

	if c.Notify.Workers <= 0 || c.Notify.QueueSize <= 0 || c.Notify.SendTimeout <= 0 {
		return fmt.Errorf("notify workers, queue size and send timeout must be positive")
	}

	switch c.Push.Type {
	case PushLog:
	case PushRedis:
		if c.Push.Redis == nil || c.Push.Redis.Addr == "" {
			return fmt.Errorf("redis push requires an address")
		}
	default:
		return fmt.Errorf("unknown push type %q", c.Push.Type)
	}

	if c.Presence.StoreTimeout <= 0 {
		return fmt.Errorf("presence store timeout must be positive")
	}

	if c.RateLimit.Messages <= 0 || c.RateLimit.Window <= 0 || c.RateLimit.CleanupInterval <= 0 {
		return fmt.Errorf("rate limit settings must be positive")
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// LoadFromFile overlays the YAML file at path onto the defaults. Keys absent
// from the file keep their default values.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := overlayFile(config, path); err != nil {
		return nil, err
	}
	return config, nil
}

func overlayFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// envOverrides lists every setting that can be supplied through the
// environment. Zero values mean "not set".
type envOverrides struct {
	HTTPHost         string        `env:"CHATRELAY_HTTP_HOST"`
	HTTPPort         int           `env:"CHATRELAY_HTTP_PORT"`
	HTTPReadTimeout  time.Duration `env:"CHATRELAY_HTTP_READ_TIMEOUT"`
	HTTPWriteTimeout time.Duration `env:"CHATRELAY_HTTP_WRITE_TIMEOUT"`

	WSPingInterval   time.Duration `env:"CHATRELAY_WEBSOCKET_PING_INTERVAL"`
	WSPongWait       time.Duration `env:"CHATRELAY_WEBSOCKET_PONG_WAIT"`
	WSSendBuffer     int           `env:"CHATRELAY_WEBSOCKET_SEND_BUFFER"`
	WSAllowedOrigins string        `env:"CHATRELAY_WEBSOCKET_ALLOWED_ORIGINS"`

	DatabasePath string `env:"CHATRELAY_DATABASE_PATH"`
	SeedPath     string `env:"CHATRELAY_DATABASE_SEED_PATH"`

	AuthSecret string `env:"CHATRELAY_AUTH_SECRET"`
	AuthIssuer string `env:"CHATRELAY_AUTH_ISSUER"`

	NotifyWorkers int `env:"CHATRELAY_NOTIFY_WORKERS"`

	PushType      string `env:"CHATRELAY_PUSH_TYPE"`
	RedisAddr     string `env:"CHATRELAY_REDIS_ADDR"`
	RedisPassword string `env:"CHATRELAY_REDIS_PASSWORD"`
	RedisKey      string `env:"CHATRELAY_REDIS_KEY"`

	RateLimitMessages int           `env:"CHATRELAY_RATE_LIMIT_MESSAGES"`
	RateLimitWindow   time.Duration `env:"CHATRELAY_RATE_LIMIT_WINDOW"`

	LogLevel  string `env:"CHATRELAY_LOG_LEVEL"`
	LogFormat string `env:"CHATRELAY_LOG_FORMAT"`
}

// LoadFromEnv applies CHATRELAY_* overrides to the defaults.
func LoadFromEnv() (*Config, error) {
	config := DefaultConfig()
	if err := overlayEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

func overlayEnv(config *Config) error {
	var o envOverrides
	if _, err := env.UnmarshalFromEnviron(&o); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}

	setString(&config.HTTP.Host, o.HTTPHost)
	setInt(&config.HTTP.Port, o.HTTPPort)
	setDuration(&config.HTTP.ReadTimeout, o.HTTPReadTimeout)
	setDuration(&config.HTTP.WriteTimeout, o.HTTPWriteTimeout)

	setDuration(&config.WebSocket.PingInterval, o.WSPingInterval)
	setDuration(&config.WebSocket.PongWait, o.WSPongWait)
	setInt(&config.WebSocket.SendBuffer, o.WSSendBuffer)
	if o.WSAllowedOrigins != "" {
		config.WebSocket.AllowedOrigins = splitList(o.WSAllowedOrigins)
	}

	setString(&config.Database.Path, o.DatabasePath)
	setString(&config.Database.SeedPath, o.SeedPath)

	setString(&config.Auth.Secret, o.AuthSecret)
	setString(&config.Auth.Issuer, o.AuthIssuer)

	setInt(&config.Notify.Workers, o.NotifyWorkers)

	setString(&config.Push.Type, o.PushType)
	if config.Push.Redis == nil {
		config.Push.Redis = &RedisPushConfig{}
	}
	setString(&config.Push.Redis.Addr, o.RedisAddr)
	setString(&config.Push.Redis.Password, o.RedisPassword)
	setString(&config.Push.Redis.Key, o.RedisKey)

	setInt(&config.RateLimit.Messages, o.RateLimitMessages)
	setDuration(&config.RateLimit.Window, o.RateLimitWindow)

	setString(&config.Log.Level, o.LogLevel)
	setString(&config.Log.Format, o.LogFormat)
	return nil
}

// LoadConfigWithPrecedence builds the configuration from defaults, then the
// YAML file at path (skipped when path is empty), then the environment, and
// validates the result.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := DefaultConfig()
	if path != "" {
		if err := overlayFile(config, path); err != nil {
			return nil, err
		}
	}
	if err := overlayEnv(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
