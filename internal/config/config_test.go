package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SERVER_PORT", "DATABASE_URL", "REDIS_URL", "JWT_SECRET", "JWT_EXPIRY",
		"STORE_TX_TIMEOUT", "PRESENCE_TTL", "LOG_LEVEL", "LOG_FORMAT", "MQTT_BROKER_URL",
		"MQTT_CLIENT_ID", "MQTT_USERNAME", "MQTT_PASSWORD", "MQTT_TOPIC_PREFIX",
		"INFLUX_URL", "INFLUX_TOKEN", "INFLUX_ORG", "INFLUX_BUCKET",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "sqlite://:memory:")
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := LoadConfig("")

	require.NoError(t, err)
	assert.Equal(t, DefaultServerPort, cfg.ServerPort)
	assert.Equal(t, DefaultJWTExpiry, cfg.JWTExpiry)
	assert.Equal(t, DefaultStoreTxTimeout, cfg.StoreTxTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, DefaultTopicPrefix, cfg.MQTT.TopicPrefix)
}

func TestLoadConfig_MissingSecretIsFatal(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "sqlite://:memory:")

	_, err := LoadConfig("")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoadConfig_MissingDatabaseURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "secret")

	_, err := LoadConfig("")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "sqlite://:memory:")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("JWT_EXPIRY", "one year")

	_, err := LoadConfig("")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_EXPIRY")
}

func TestLoadConfig_FileThenEnvOverride(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server_port: "9090"
database_url: "postgres://file"
jwt_secret: "from-file"
store_tx_timeout: 2s
log:
  level: debug
mqtt:
  broker_url: "tcp://localhost:1883"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("DATABASE_URL", "sqlite://:memory:")

	cfg, err := LoadConfig(path)

	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, "sqlite://:memory:", cfg.DatabaseURL, "env should override file")
	assert.Equal(t, "from-file", cfg.JWTSecret)
	assert.Equal(t, 2*time.Second, cfg.StoreTxTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.BrokerURL)
	assert.Equal(t, DefaultTopicPrefix, cfg.MQTT.TopicPrefix, "unset file values keep defaults")
}

func TestLoadConfig_InfluxRequiresOrgAndBucket(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "sqlite://:memory:")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("INFLUX_URL", "http://localhost:8086")

	_, err := LoadConfig("")

	require.Error(t, err)
}
