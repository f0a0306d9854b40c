package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spark-service/internal/model"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "service:\n  name: sparkey\n")

	cfg, err := LoadFrom(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "sparkey", cfg.Service.Name)
	assert.Equal(t, 8332, cfg.Device.DevicePort)
	assert.Equal(t, 7377, cfg.Device.DisplayWSPort)
	assert.Equal(t, model.DiscoveryAll, cfg.DiscoveryType())
	assert.Equal(t, 2*time.Second, cfg.Connection.ConnectInterval)
	assert.Equal(t, 30*time.Second, cfg.Connection.ConnectIntervalMax)
	assert.Equal(t, 2*time.Minute, cfg.Connection.DiscoveryTimeout)
	assert.Equal(t, 200*time.Millisecond, cfg.Connection.SubprocessConnectInterval)
	assert.Equal(t, 20, cfg.Connection.MaxRetryCount)
	assert.Equal(t, 20*time.Second, cfg.Command.Timeout)
	assert.Equal(t, "tcp://eventbus:1883", cfg.GetMQTTBrokerURL())
	assert.Empty(t, cfg.Device.DeviceID)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("SPARK_DEVICE_MOCK", "true")
	t.Setenv("SPARK_DEVICE_DISCOVERY", "wifi")
	t.Setenv("SPARK_COMMAND_TIMEOUT", "5s")

	cfg, err := LoadFrom(viper.New(), writeConfig(t, "app:\n  environment: test\n"))
	require.NoError(t, err)

	assert.True(t, cfg.Device.Mock)
	assert.Equal(t, DefaultDeviceID, cfg.Device.DeviceID)
	assert.Equal(t, model.DiscoveryMDNS, cfg.DiscoveryType())
	assert.Equal(t, 5*time.Second, cfg.Command.Timeout)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"discovery", "device:\n  discovery: bluetooth\n"},
		{"port", "device:\n  device_port: 70000\n"},
		{"level", "logging:\n  level: loud\n"},
		{"interval", "connection:\n  connect_interval: 10s\n  connect_interval_max: 5s\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(viper.New(), writeConfig(t, tt.content))
			assert.ErrorContains(t, err, "config validation failed")
		})
	}
}

func TestMissingExplicitFile(t *testing.T) {
	_, err := LoadFrom(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestBrokerURL(t *testing.T) {
	cfg := &Config{MQTT: MQTTConfig{Protocol: "ws", Host: "localhost", Port: 80, Path: "/eventbus"}}
	assert.Equal(t, "ws://localhost:80/eventbus", cfg.GetMQTTBrokerURL())

	cfg.MQTT.Protocol = "mqtts"
	cfg.MQTT.Port = 8883
	assert.Equal(t, "ssl://localhost:8883", cfg.GetMQTTBrokerURL())
}
