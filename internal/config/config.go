// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"spark-service/internal/model"
)

// DefaultDeviceID is used by mock and simulated controllers when no id is configured
const DefaultDeviceID = "123456789012345678901234"

// Config represents the application configuration
type Config struct {
	Service    ServiceConfig    `mapstructure:"service"`
	Device     DeviceConfig     `mapstructure:"device"`
	Connection ConnectionConfig `mapstructure:"connection"`
	Command    CommandConfig    `mapstructure:"command"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Firmware   FirmwareConfig   `mapstructure:"firmware"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	App        AppConfig        `mapstructure:"app"`
}

// ServiceConfig identifies this service instance
type ServiceConfig struct {
	Name  string `mapstructure:"name"`
	Debug bool   `mapstructure:"debug"`
}

// DeviceConfig selects the controller to connect to
type DeviceConfig struct {
	Mock             bool   `mapstructure:"mock"`
	Simulation       bool   `mapstructure:"simulation"`
	DeviceHost       string `mapstructure:"device_host"`
	DevicePort       int    `mapstructure:"device_port"`
	DeviceSerial     string `mapstructure:"device_serial"`
	DeviceID         string `mapstructure:"device_id"`
	Discovery        string `mapstructure:"discovery"`
	DisplayWSPort    int    `mapstructure:"display_ws_port"`
	SkipVersionCheck bool   `mapstructure:"skip_version_check"`
	SimulatorDir     string `mapstructure:"simulator_dir"`
	FirmwareDir      string `mapstructure:"firmware_dir"`
}

// ConnectionConfig holds reconnect, discovery and handshake timing
type ConnectionConfig struct {
	ConnectInterval           time.Duration `mapstructure:"connect_interval"`
	ConnectIntervalMax        time.Duration `mapstructure:"connect_interval_max"`
	DiscoveryInterval         time.Duration `mapstructure:"discovery_interval"`
	DiscoveryTimeout          time.Duration `mapstructure:"discovery_timeout"`
	DiscoveryTimeoutMQTT      time.Duration `mapstructure:"discovery_timeout_mqtt"`
	DiscoveryTimeoutMDNS      time.Duration `mapstructure:"discovery_timeout_mdns"`
	SubprocessConnectInterval time.Duration `mapstructure:"subprocess_connect_interval"`
	SubprocessConnectTimeout  time.Duration `mapstructure:"subprocess_connect_timeout"`
	MaxRetryCount             int           `mapstructure:"max_retry_count"`
	HandshakeTimeout          time.Duration `mapstructure:"handshake_timeout"`
	HandshakeInterval         time.Duration `mapstructure:"handshake_interval"`
}

// CommandConfig holds Commander settings
type CommandConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// MQTTConfig represents eventbus configuration
type MQTTConfig struct {
	Protocol string `mapstructure:"protocol"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Path     string `mapstructure:"path"`
	Isolated bool   `mapstructure:"isolated"`
}

// FirmwareConfig describes the firmware this service was built against
type FirmwareConfig struct {
	FirmwareVersion string `mapstructure:"firmware_version"`
	ProtoVersion    string `mapstructure:"proto_version"`
	FirmwareDate    string `mapstructure:"firmware_date"`
	ProtoDate       string `mapstructure:"proto_date"`
	SystemVersion   string `mapstructure:"system_version"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// Load loads configuration from the global viper instance.
// Flags must be bound before calling Load.
func Load(configFile string) (*Config, error) {
	return LoadFrom(viper.GetViper(), configFile)
}

// LoadFrom loads configuration from v, reading configFile if it is set.
// Without an explicit file, config.yaml is read from the working directory
// or /etc/spark-service when present.
func LoadFrom(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/spark-service")
	}

	// Environment variable support
	v.SetEnvPrefix("SPARK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	config.applyDerivedDefaults()

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Service defaults
	v.SetDefault("service.name", "spark-one")
	v.SetDefault("service.debug", false)

	// Device defaults
	v.SetDefault("device.mock", false)
	v.SetDefault("device.simulation", false)
	v.SetDefault("device.device_host", "")
	v.SetDefault("device.device_port", 8332)
	v.SetDefault("device.device_serial", "")
	v.SetDefault("device.device_id", "")
	v.SetDefault("device.discovery", "all")
	v.SetDefault("device.display_ws_port", 7377)
	v.SetDefault("device.skip_version_check", false)
	v.SetDefault("device.simulator_dir", "simulator")
	v.SetDefault("device.firmware_dir", "firmware")

	// Connection defaults
	v.SetDefault("connection.connect_interval", "2s")
	v.SetDefault("connection.connect_interval_max", "30s")
	v.SetDefault("connection.discovery_interval", "5s")
	v.SetDefault("connection.discovery_timeout", "2m")
	v.SetDefault("connection.discovery_timeout_mqtt", "3s")
	v.SetDefault("connection.discovery_timeout_mdns", "20s")
	v.SetDefault("connection.subprocess_connect_interval", "200ms")
	v.SetDefault("connection.subprocess_connect_timeout", "10s")
	v.SetDefault("connection.max_retry_count", 20)
	v.SetDefault("connection.handshake_timeout", "2m")
	v.SetDefault("connection.handshake_interval", "1s")

	// Command defaults
	v.SetDefault("command.timeout", "20s")

	// MQTT defaults
	v.SetDefault("mqtt.protocol", "mqtt")
	v.SetDefault("mqtt.host", "eventbus")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.path", "/eventbus")
	v.SetDefault("mqtt.isolated", false)

	// Firmware defaults
	v.SetDefault("firmware.firmware_version", "")
	v.SetDefault("firmware.proto_version", "")
	v.SetDefault("firmware.firmware_date", "")
	v.SetDefault("firmware.proto_date", "")
	v.SetDefault("firmware.system_version", "")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "5000")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.allowed_origins", []string{})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// App defaults
	v.SetDefault("app.name", "spark-service")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "production")
}

// applyDerivedDefaults fills values that depend on other settings
func (c *Config) applyDerivedDefaults() {
	if (c.Device.Mock || c.Device.Simulation) && c.Device.DeviceID == "" {
		c.Device.DeviceID = DefaultDeviceID
	}
	if c.Service.Debug {
		c.Logging.Level = "debug"
	}
}

// validate validates the configuration
func validate(config *Config) error {
	if _, err := model.ParseDiscoveryType(config.Device.Discovery); err != nil {
		return fmt.Errorf("device.discovery: %w", err)
	}

	if config.Device.DevicePort < 1 || config.Device.DevicePort > 65535 {
		return fmt.Errorf("device.device_port must be between 1 and 65535, got %d", config.Device.DevicePort)
	}

	if config.Connection.ConnectInterval <= 0 {
		return fmt.Errorf("connection.connect_interval must be positive")
	}
	if config.Connection.ConnectIntervalMax < config.Connection.ConnectInterval {
		return fmt.Errorf("connection.connect_interval_max must not be less than connection.connect_interval")
	}
	if config.Command.Timeout <= 0 {
		return fmt.Errorf("command.timeout must be positive")
	}

	// Validate logging level
	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	isValidLevel := false
	for _, level := range validLevels {
		if config.Logging.Level == level {
			isValidLevel = true
			break
		}
	}
	if !isValidLevel {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	return nil
}

// DiscoveryType returns the parsed discovery setting
func (c *Config) DiscoveryType() model.DiscoveryType {
	discovery, err := model.ParseDiscoveryType(c.Device.Discovery)
	if err != nil {
		return model.DiscoveryAll
	}
	return discovery
}

// GetMQTTBrokerURL returns the eventbus URL understood by the MQTT client
func (c *Config) GetMQTTBrokerURL() string {
	host := net.JoinHostPort(c.MQTT.Host, strconv.Itoa(c.MQTT.Port))
	switch c.MQTT.Protocol {
	case "ws", "wss":
		return fmt.Sprintf("%s://%s%s", c.MQTT.Protocol, host, c.MQTT.Path)
	case "mqtts":
		return fmt.Sprintf("ssl://%s", host)
	default:
		return fmt.Sprintf("tcp://%s", host)
	}
}

// IsProduction reports whether the service runs in the production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}
