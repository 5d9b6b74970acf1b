package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig
	Redis        RedisConfig
	Database     DatabaseConfig
	Horizon      HorizonConfig
	Keystore     KeystoreConfig
	Queue        QueueConfig
	Network      NetworkConfig
	Notification NotificationConfig
	Log          LogConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type RedisConfig struct {
	Host      string
	Port      string
	Password  string
	DB        int
	KeyPrefix string
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

type DatabaseConfig struct {
	Enabled         bool
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type HorizonConfig struct {
	URL               string
	NetworkPassphrase string
	NetworkName       string
	RequestTimeout    time.Duration
	TxTimeoutSeconds  int64
}

type KeystoreConfig struct {
	MasterKey string
	Salt      string
	Path      string
}

type QueueConfig struct {
	MaxRetries        int
	InitialRetryDelay time.Duration
	MaxRetryDelay     time.Duration
	SweepInterval     time.Duration
	MinSweepGap       time.Duration
	SubmitOnEnqueue   bool
}

type NetworkConfig struct {
	PollInterval    time.Duration
	StabilityWindow time.Duration
	ProbeTimeout    time.Duration
}

type NotificationConfig struct {
	WebhookURL     string
	WebhookTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

var envBindings = map[string]string{
	"server.port":                "PORT",
	"redis.host":                 "REDIS_HOST",
	"redis.port":                 "REDIS_PORT",
	"redis.password":             "REDIS_PASSWORD",
	"redis.db":                   "REDIS_DB",
	"redis.key_prefix":           "REDIS_KEY_PREFIX",
	"database.enabled":           "DATABASE_ENABLED",
	"database.host":              "DATABASE_HOST",
	"database.port":              "DATABASE_PORT",
	"database.user":              "DATABASE_USER",
	"database.password":          "DATABASE_PASSWORD",
	"database.name":              "DATABASE_NAME",
	"database.ssl_mode":          "DATABASE_SSL_MODE",
	"horizon.url":                "HORIZON_URL",
	"horizon.network_passphrase": "HORIZON_NETWORK_PASSPHRASE",
	"horizon.network_name":       "HORIZON_NETWORK_NAME",
	"keystore.master_key":        "KEYSTORE_MASTER_KEY",
	"keystore.salt":              "KEYSTORE_SALT",
	"keystore.path":              "KEYSTORE_PATH",
	"queue.max_retries":          "QUEUE_MAX_RETRIES",
	"queue.initial_retry_delay":  "QUEUE_INITIAL_RETRY_DELAY",
	"queue.max_retry_delay":      "QUEUE_MAX_RETRY_DELAY",
	"queue.sweep_interval":       "QUEUE_SWEEP_INTERVAL",
	"queue.min_sweep_gap":        "QUEUE_MIN_SWEEP_GAP",
	"queue.submit_on_enqueue":    "QUEUE_SUBMIT_ON_ENQUEUE",
	"network.poll_interval":      "NETWORK_POLL_INTERVAL",
	"network.stability_window":   "NETWORK_STABILITY_WINDOW",
	"notification.webhook_url":   "NOTIFICATION_WEBHOOK_URL",
	"log.level":                  "LOG_LEVEL",
	"log.format":                 "LOG_FORMAT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 90*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "wallet")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.name", "offline_wallet")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("horizon.url", "https://horizon-testnet.stellar.org")
	v.SetDefault("horizon.network_passphrase", "Test SDF Network ; September 2015")
	v.SetDefault("horizon.network_name", "testnet")
	v.SetDefault("horizon.request_timeout", 20*time.Second)
	v.SetDefault("horizon.tx_timeout_seconds", 180)

	v.SetDefault("keystore.path", "./keys")

	v.SetDefault("queue.max_retries", 5)
	v.SetDefault("queue.initial_retry_delay", 2*time.Second)
	v.SetDefault("queue.max_retry_delay", 5*time.Minute)
	v.SetDefault("queue.sweep_interval", 60*time.Second)
	v.SetDefault("queue.min_sweep_gap", 30*time.Second)
	v.SetDefault("queue.submit_on_enqueue", true)

	v.SetDefault("network.poll_interval", 5*time.Second)
	v.SetDefault("network.stability_window", 2*time.Second)
	v.SetDefault("network.probe_timeout", 5*time.Second)

	v.SetDefault("notification.webhook_timeout", 10*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from the given file (typically .env) and the
// environment. A missing file is not an error; environment and defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
		// dotenv files carry the env names (REDIS_HOST) rather than the dotted keys
		for key, env := range envBindings {
			if fileKey := strings.ToLower(env); v.InConfig(fileKey) {
				v.SetDefault(key, v.Get(fileKey))
			}
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            v.GetString("server.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Redis: RedisConfig{
			Host:      v.GetString("redis.host"),
			Port:      v.GetString("redis.port"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			KeyPrefix: v.GetString("redis.key_prefix"),
		},
		Database: DatabaseConfig{
			Enabled:         v.GetBool("database.enabled"),
			Host:            v.GetString("database.host"),
			Port:            v.GetString("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			Name:            v.GetString("database.name"),
			SSLMode:         v.GetString("database.ssl_mode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
		},
		Horizon: HorizonConfig{
			URL:               v.GetString("horizon.url"),
			NetworkPassphrase: v.GetString("horizon.network_passphrase"),
			NetworkName:       v.GetString("horizon.network_name"),
			RequestTimeout:    v.GetDuration("horizon.request_timeout"),
			TxTimeoutSeconds:  v.GetInt64("horizon.tx_timeout_seconds"),
		},
		Keystore: KeystoreConfig{
			MasterKey: v.GetString("keystore.master_key"),
			Salt:      v.GetString("keystore.salt"),
			Path:      v.GetString("keystore.path"),
		},
		Queue: QueueConfig{
			MaxRetries:        v.GetInt("queue.max_retries"),
			InitialRetryDelay: v.GetDuration("queue.initial_retry_delay"),
			MaxRetryDelay:     v.GetDuration("queue.max_retry_delay"),
			SweepInterval:     v.GetDuration("queue.sweep_interval"),
			MinSweepGap:       v.GetDuration("queue.min_sweep_gap"),
			SubmitOnEnqueue:   v.GetBool("queue.submit_on_enqueue"),
		},
		Network: NetworkConfig{
			PollInterval:    v.GetDuration("network.poll_interval"),
			StabilityWindow: v.GetDuration("network.stability_window"),
			ProbeTimeout:    v.GetDuration("network.probe_timeout"),
		},
		Notification: NotificationConfig{
			WebhookURL:     v.GetString("notification.webhook_url"),
			WebhookTimeout: v.GetDuration("notification.webhook_timeout"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values the queue cannot operate without.
func (c *Config) Validate() error {
	if c.Keystore.MasterKey == "" {
		return errors.New("keystore master key required (KEYSTORE_MASTER_KEY)")
	}
	if c.Queue.MaxRetries < 1 {
		return fmt.Errorf("queue.max_retries must be at least 1, got %d", c.Queue.MaxRetries)
	}
	if c.Queue.InitialRetryDelay <= 0 {
		return errors.New("queue.initial_retry_delay must be positive")
	}
	if c.Queue.SweepInterval <= 0 {
		return errors.New("queue.sweep_interval must be positive")
	}
	if c.Network.PollInterval <= 0 {
		return errors.New("network.poll_interval must be positive")
	}
	if c.Horizon.NetworkPassphrase == "" {
		return errors.New("horizon.network_passphrase required")
	}
	return nil
}
