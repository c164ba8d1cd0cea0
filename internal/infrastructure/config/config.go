package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Polling bounds accepted for the update interval (seconds).
const (
	MinPollInterval = 10
	MaxPollInterval = 3600
)

// Config is the root configuration structure for the Ai-Link bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Cloud         CloudConfig         `yaml:"cloud"`
	Polling       PollingConfig       `yaml:"polling"`
	Database      DatabaseConfig      `yaml:"database"`
	Journal       JournalConfig       `yaml:"journal"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	API           APIConfig           `yaml:"api"`
	WebSocket     WebSocketConfig     `yaml:"websocket"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// CloudConfig holds the vendor endpoint and the out-of-band session credentials.
type CloudConfig struct {
	BaseURL string `yaml:"base_url"`

	// CredentialsFile is an optional dotenv file holding AILINK_* credential keys.
	CredentialsFile string `yaml:"credentials_file"`

	AccessToken string `yaml:"access_token"`
	UserID      string `yaml:"user_id"`
	FamilyID    string `yaml:"family_id"`
	Cookie      string `yaml:"cookie"`
	Mobile      string `yaml:"mobile"`

	// DeviceType is sent in the command profile. The app uses the model of the first heater.
	DeviceType string `yaml:"device_type"`
}

// PollingConfig controls the telemetry polling engine.
// All durations are in seconds.
type PollingConfig struct {
	Interval            int `yaml:"interval"`
	FailureThreshold    int `yaml:"failure_threshold"`
	RequestTimeout      int `yaml:"request_timeout"`
	ReconcileTimeout    int `yaml:"reconcile_timeout"` // 0 = twice the interval
	RediscoveryInterval int `yaml:"rediscovery_interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// JournalConfig controls the persisted command journal.
type JournalConfig struct {
	Enabled   bool `yaml:"enabled"`
	Retention int  `yaml:"retention"` // days, 0 = keep forever
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// HomeAssistantConfig controls MQTT discovery publishing.
type HomeAssistantConfig struct {
	Enabled         bool   `yaml:"enabled"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	TopicPrefix     string `yaml:"topic_prefix"`
	RawSensors      bool   `yaml:"raw_sensors"`
	HealthInterval  int    `yaml:"health_interval"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	Auth     APIAuthConfig    `yaml:"auth"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// APIAuthConfig configures bearer token checks on the local API.
type APIAuthConfig struct {
	Enabled   bool   `yaml:"enabled"`
	JWTSecret string `yaml:"jwt_secret"`
	TokenTTL  int    `yaml:"token_ttl"` // minutes
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies overrides.
//
// The loading order is:
//  1. Default values
//  2. YAML file values
//  3. Credentials file (dotenv), if cloud.credentials_file is set
//  4. Environment variables (AILINK_SECTION_KEY)
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If the file cannot be read or parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.Cloud.CredentialsFile != "" {
		if err := applyCredentialsFile(cfg, cfg.Cloud.CredentialsFile); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Cloud: CloudConfig{
			BaseURL:    "https://ailink-api.hotwater.com.cn/AiLinkService",
			DeviceType: "JSQ31-VJS",
		},
		Polling: PollingConfig{
			Interval:         60,
			FailureThreshold: 3,
			RequestTimeout:   10,
		},
		Database: DatabaseConfig{
			Path:        "./data/ailink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Journal: JournalConfig{
			Enabled:   true,
			Retention: 30,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "ailink-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		HomeAssistant: HomeAssistantConfig{
			Enabled:         true,
			DiscoveryPrefix: "homeassistant",
			TopicPrefix:     "ailink",
			HealthInterval:  30,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8086,
			Timeouts: APITimeoutConfig{
				Read:  15,
				Write: 15,
				Idle:  60,
			},
			Auth: APIAuthConfig{
				TokenTTL: 60 * 24 * 30,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// credentialKeys maps dotenv/environment keys onto the cloud credential fields.
var credentialKeys = map[string]func(*CloudConfig, string){
	"AILINK_ACCESS_TOKEN": func(c *CloudConfig, v string) { c.AccessToken = v },
	"AILINK_USER_ID":      func(c *CloudConfig, v string) { c.UserID = v },
	"AILINK_FAMILY_ID":    func(c *CloudConfig, v string) { c.FamilyID = v },
	"AILINK_COOKIE":       func(c *CloudConfig, v string) { c.Cookie = v },
	"AILINK_MOBILE":       func(c *CloudConfig, v string) { c.Mobile = v },
}

// applyCredentialsFile reads a dotenv file without touching the process environment.
func applyCredentialsFile(cfg *Config, path string) error {
	values, err := godotenv.Read(path)
	if err != nil {
		return fmt.Errorf("reading credentials file: %w", err)
	}
	for key, set := range credentialKeys {
		if v := values[key]; v != "" {
			set(&cfg.Cloud, v)
		}
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: AILINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	for key, set := range credentialKeys {
		if v := os.Getenv(key); v != "" {
			set(&cfg.Cloud, v)
		}
	}

	if v := os.Getenv("AILINK_POLL_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Polling.Interval = n
		}
	}
	if v := os.Getenv("AILINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("AILINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("AILINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("AILINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("AILINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("AILINK_JWT_SECRET"); v != "" {
		cfg.API.Auth.JWTSecret = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Cloud.BaseURL == "" {
		errs = append(errs, "cloud.base_url is required")
	}
	if c.Cloud.AccessToken == "" {
		errs = append(errs, "cloud.access_token is required (set AILINK_ACCESS_TOKEN)")
	}
	if c.Cloud.UserID == "" {
		errs = append(errs, "cloud.user_id is required")
	}
	if c.Cloud.FamilyID == "" {
		errs = append(errs, "cloud.family_id is required")
	}

	if c.Polling.Interval < MinPollInterval || c.Polling.Interval > MaxPollInterval {
		errs = append(errs, fmt.Sprintf("polling.interval must be between %d and %d seconds", MinPollInterval, MaxPollInterval))
	}
	if c.Polling.FailureThreshold < 1 {
		errs = append(errs, "polling.failure_threshold must be at least 1")
	}
	if c.Polling.RequestTimeout < 1 {
		errs = append(errs, "polling.request_timeout must be at least 1")
	}
	if c.Polling.ReconcileTimeout < 0 || c.Polling.RediscoveryInterval < 0 {
		errs = append(errs, "polling timeouts cannot be negative")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.Journal.Retention < 0 {
		errs = append(errs, "journal.retention cannot be negative")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.HomeAssistant.Enabled && !c.MQTT.Enabled {
		errs = append(errs, "homeassistant.enabled requires mqtt.enabled")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	const minJWTSecretLength = 32
	if c.API.Auth.Enabled && len(c.API.Auth.JWTSecret) < minJWTSecretLength {
		errs = append(errs, "api.auth.jwt_secret must be at least 32 characters (set AILINK_JWT_SECRET)")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetPollInterval returns the polling interval as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Polling.Interval) * time.Second
}

// GetRequestTimeout returns the per-call cloud timeout as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Polling.RequestTimeout) * time.Second
}

// GetReconcileTimeout returns how long an optimistic command value survives
// a disagreeing poll. Defaults to twice the poll interval.
func (c *Config) GetReconcileTimeout() time.Duration {
	if c.Polling.ReconcileTimeout > 0 {
		return time.Duration(c.Polling.ReconcileTimeout) * time.Second
	}
	return 2 * c.GetPollInterval()
}

// GetJournalRetention returns how long command journal entries are kept (0 = forever).
func (c *Config) GetJournalRetention() time.Duration {
	return time.Duration(c.Journal.Retention) * 24 * time.Hour
}

// GetRediscoveryInterval returns the periodic re-discovery interval (0 = disabled).
func (c *Config) GetRediscoveryInterval() time.Duration {
	return time.Duration(c.Polling.RediscoveryInterval) * time.Second
}
