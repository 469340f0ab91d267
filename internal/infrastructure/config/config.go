package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable override.
const EnvPrefix = "ARVIS_"

// Config is the root configuration structure for Arvis Core.
// Values come from hardcoded defaults, then YAML, then ARVIS_* environment variables.
type Config struct {
	Room       RoomConfig       `yaml:"room" envPrefix:"ROOM_"`
	Database   DatabaseConfig   `yaml:"database" envPrefix:"DATABASE_"`
	MQTT       MQTTConfig       `yaml:"mqtt" envPrefix:"MQTT_"`
	API        APIConfig        `yaml:"api" envPrefix:"API_"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb" envPrefix:"INFLUXDB_"`
	Logging    LoggingConfig    `yaml:"logging" envPrefix:"LOG_"`
	Tracing    TracingConfig    `yaml:"tracing" envPrefix:"OTEL_"`
	Broker     BrokerConfig     `yaml:"broker" envPrefix:"BROKER_"`
	Router     RouterConfig     `yaml:"router" envPrefix:"ROUTER_"`
	Dispatcher DispatcherConfig `yaml:"dispatcher" envPrefix:"DISPATCHER_"`
	Scenes     ScenesConfig     `yaml:"scenes" envPrefix:"SCENES_"`
}

// RoomConfig identifies the room this process controls.
type RoomConfig struct {
	ID       string `yaml:"id" env:"ID"`
	Name     string `yaml:"name" env:"NAME"`
	Occupant string `yaml:"occupant" env:"OCCUPANT"`
	Timezone string `yaml:"timezone" env:"TIMEZONE"`
}

// DatabaseConfig contains SQLite settings for the outcome log.
type DatabaseConfig struct {
	Path        string `yaml:"path" env:"PATH"`
	WALMode     bool   `yaml:"wal_mode" env:"WAL_MODE"`
	BusyTimeout int    `yaml:"busy_timeout" env:"BUSY_TIMEOUT"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled" env:"ENABLED"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos" env:"QOS"`
	TopicPrefix string              `yaml:"topic_prefix" env:"TOPIC_PREFIX"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	TLS      bool   `yaml:"tls" env:"TLS"`
	ClientID string `yaml:"client_id" env:"CLIENT_ID"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// APIConfig contains the debug channel HTTP settings.
type APIConfig struct {
	Enabled   bool             `yaml:"enabled" env:"ENABLED"`
	Host      string           `yaml:"host" env:"HOST"`
	Port      int              `yaml:"port" env:"PORT"`
	JWTSecret string           `yaml:"jwt_secret" env:"JWT_SECRET"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  time.Duration `yaml:"read"`
	Write time.Duration `yaml:"write"`
	Idle  time.Duration `yaml:"idle"`
}

// WebSocketConfig contains settings for the live debug stream.
type WebSocketConfig struct {
	MaxMessageSize int64         `yaml:"max_message_size"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" env:"ENABLED"`
	URL           string `yaml:"url" env:"URL"`
	Token         string `yaml:"token" env:"TOKEN"`
	Org           string `yaml:"org" env:"ORG"`
	Bucket        string `yaml:"bucket" env:"BUCKET"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
	Output string `yaml:"output" env:"OUTPUT"`
}

// TracingConfig contains OpenTelemetry export settings.
// An empty endpoint leaves tracing disabled.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" env:"ENABLED"`
	Endpoint    string  `yaml:"endpoint" env:"ENDPOINT"`
	SampleRatio float64 `yaml:"sample_ratio" env:"SAMPLE_RATIO"`
}

// BrokerConfig contains event broker settings.
type BrokerConfig struct {
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
}

// RouterConfig contains arbitration settings.
type RouterConfig struct {
	// SleepDwell is how long a lying, still posture in bed must persist
	// before the room enters SLEEP.
	SleepDwell time.Duration `yaml:"sleep_dwell" env:"SLEEP_DWELL"`

	// EntryDwell delays EMPTY→OCCUPIED after motion. Zero commits immediately.
	EntryDwell time.Duration `yaml:"entry_dwell" env:"ENTRY_DWELL"`

	// VacancyMinutes is the minimum presence timeout that empties the room.
	VacancyMinutes int `yaml:"vacancy_minutes" env:"VACANCY_MINUTES"`

	// SleepMotionThreshold is the highest motion score still counted as lying still.
	SleepMotionThreshold float64 `yaml:"sleep_motion_threshold" env:"SLEEP_MOTION_THRESHOLD"`

	// MinVoiceConfidence is the lowest STT confidence routed as a command.
	MinVoiceConfidence float64 `yaml:"min_voice_confidence" env:"MIN_VOICE_CONFIDENCE"`

	// Devices lists the smart plugs that voice commands may switch.
	Devices []string `yaml:"devices" env:"DEVICES" envSeparator:","`
}

// DispatcherConfig contains action execution settings.
type DispatcherConfig struct {
	MaxInFlight      int64         `yaml:"max_in_flight" env:"MAX_IN_FLIGHT"`
	HandlerTimeout   time.Duration `yaml:"handler_timeout" env:"HANDLER_TIMEOUT"`
	RetryDelay       time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	BreakerThreshold int           `yaml:"breaker_threshold" env:"BREAKER_THRESHOLD"`
	BreakerWindow    time.Duration `yaml:"breaker_window" env:"BREAKER_WINDOW"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown" env:"BREAKER_COOLDOWN"`
}

// ScenesConfig points at the scene table.
// An empty file uses the built-in scenes.
type ScenesConfig struct {
	File string `yaml:"file" env:"FILE"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults), skipped when path is empty
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ARVIS_SECTION_KEY
// For example: ARVIS_DATABASE_PATH, ARVIS_ROUTER_SLEEP_DWELL
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for defaults only
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config with the stock single-room settings.
func Default() *Config {
	return &Config{
		Room: RoomConfig{
			ID:       "bedroom",
			Name:     "Bedroom",
			Occupant: "Arman",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/arvis.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "arvis-core",
			},
			QoS:         1,
			TopicPrefix: "arvis",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: time.Second,
				MaxDelay:     time.Minute,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8420,
			Timeouts: APITimeoutConfig{
				Read:  10 * time.Second,
				Write: 30 * time.Second,
				Idle:  60 * time.Second,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 8192,
				PingInterval:   30 * time.Second,
				PongTimeout:    10 * time.Second,
			},
		},
		InfluxDB: InfluxDBConfig{
			Org:           "arvis",
			Bucket:        "arvis",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Tracing: TracingConfig{
			SampleRatio: 1,
		},
		Broker: BrokerConfig{
			QueueSize: 64,
		},
		Router: RouterConfig{
			SleepDwell:           10 * time.Minute,
			VacancyMinutes:       10,
			SleepMotionThreshold: 0.2,
			MinVoiceConfidence:   0.5,
			Devices:              []string{"desk_lamp", "fan"},
		},
		Dispatcher: DispatcherConfig{
			MaxInFlight:      8,
			HandlerTimeout:   2500 * time.Millisecond,
			RetryDelay:       100 * time.Millisecond,
			BreakerThreshold: 3,
			BreakerWindow:    time.Minute,
			BreakerCooldown:  5 * time.Minute,
		},
	}
}

// applyEnvOverrides applies ARVIS_* environment variables on top of the file values.
func applyEnvOverrides(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parsing environment overrides: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors.
// All problems are reported together rather than stopping at the first.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Room.ID == "" {
		errs = append(errs, "room.id is required")
	}
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	const minJWTSecretLength = 32
	if c.API.JWTSecret != "" && len(c.API.JWTSecret) < minJWTSecretLength {
		errs = append(errs, "api.jwt_secret must be at least 32 characters")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Broker.QueueSize < 1 {
		errs = append(errs, "broker.queue_size must be at least 1")
	}

	if c.Router.SleepDwell <= 0 {
		errs = append(errs, "router.sleep_dwell must be positive")
	}
	if c.Router.EntryDwell < 0 {
		errs = append(errs, "router.entry_dwell cannot be negative")
	}
	if c.Router.VacancyMinutes < 1 {
		errs = append(errs, "router.vacancy_minutes must be at least 1")
	}
	if c.Router.MinVoiceConfidence < 0 || c.Router.MinVoiceConfidence > 1 {
		errs = append(errs, "router.min_voice_confidence must be between 0 and 1")
	}

	if c.Dispatcher.MaxInFlight < 1 {
		errs = append(errs, "dispatcher.max_in_flight must be at least 1")
	}
	if c.Dispatcher.BreakerThreshold < 1 {
		errs = append(errs, "dispatcher.breaker_threshold must be at least 1")
	}
	if c.Dispatcher.BreakerWindow <= 0 || c.Dispatcher.BreakerCooldown <= 0 {
		errs = append(errs, "dispatcher breaker window and cooldown must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Address returns the debug channel listen address.
func (c APIConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
