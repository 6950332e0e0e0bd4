package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ServerPort     string        `yaml:"server_port"`
	DatabaseURL    string        `yaml:"database_url"`
	RedisURL       string        `yaml:"redis_url"`
	JWTSecret      string        `yaml:"jwt_secret"`
	JWTExpiry      time.Duration `yaml:"jwt_expiry"`
	StoreTxTimeout time.Duration `yaml:"store_tx_timeout"`
	PresenceTTL    time.Duration `yaml:"presence_ttl"`
	Log            LogConfig     `yaml:"log"`
	MQTT           MQTTConfig    `yaml:"mqtt"`
	Influx         InfluxConfig  `yaml:"influx"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MQTTConfig is optional; an empty BrokerURL disables event publishing.
type MQTTConfig struct {
	BrokerURL   string `yaml:"broker_url"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// InfluxConfig is optional; an empty URL disables telemetry.
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

const (
	DefaultServerPort     = "8080"
	DefaultJWTExpiry      = 365 * 24 * time.Hour
	DefaultStoreTxTimeout = 5 * time.Second
	DefaultPresenceTTL    = 5 * time.Minute
	DefaultTopicPrefix    = "moonbattery"
)

// LoadConfig builds the configuration from an optional YAML file and the
// environment. Environment variables take precedence over file values.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		ServerPort:     DefaultServerPort,
		JWTExpiry:      DefaultJWTExpiry,
		StoreTxTimeout: DefaultStoreTxTimeout,
		PresenceTTL:    DefaultPresenceTTL,
		Log:            LogConfig{Level: "info", Format: "json"},
		MQTT:           MQTTConfig{ClientID: "moonbattery-server", TopicPrefix: DefaultTopicPrefix},
	}

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.ServerPort = getEnv("SERVER_PORT", cfg.ServerPort)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)

	var err error
	if cfg.JWTExpiry, err = getDurationEnv("JWT_EXPIRY", cfg.JWTExpiry); err != nil {
		return err
	}
	if cfg.StoreTxTimeout, err = getDurationEnv("STORE_TX_TIMEOUT", cfg.StoreTxTimeout); err != nil {
		return err
	}
	if cfg.PresenceTTL, err = getDurationEnv("PRESENCE_TTL", cfg.PresenceTTL); err != nil {
		return err
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnv("LOG_FORMAT", cfg.Log.Format)

	cfg.MQTT.BrokerURL = getEnv("MQTT_BROKER_URL", cfg.MQTT.BrokerURL)
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", cfg.MQTT.ClientID)
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", cfg.MQTT.Username)
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", cfg.MQTT.Password)
	cfg.MQTT.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", cfg.MQTT.TopicPrefix)

	cfg.Influx.URL = getEnv("INFLUX_URL", cfg.Influx.URL)
	cfg.Influx.Token = getEnv("INFLUX_TOKEN", cfg.Influx.Token)
	cfg.Influx.Org = getEnv("INFLUX_ORG", cfg.Influx.Org)
	cfg.Influx.Bucket = getEnv("INFLUX_BUCKET", cfg.Influx.Bucket)

	return nil
}

// Validate checks required fields. A missing JWT secret is never defaulted.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.JWTExpiry <= 0 {
		return errors.New("JWT_EXPIRY must be positive")
	}
	if c.StoreTxTimeout <= 0 {
		return errors.New("STORE_TX_TIMEOUT must be positive")
	}
	if c.PresenceTTL <= 0 {
		return errors.New("PRESENCE_TTL must be positive")
	}
	if c.Influx.URL != "" && (c.Influx.Org == "" || c.Influx.Bucket == "") {
		return errors.New("INFLUX_ORG and INFLUX_BUCKET are required when INFLUX_URL is set")
	}
	return nil
}

// Helper: get env with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s format", key)
	}
	return d, nil
}
