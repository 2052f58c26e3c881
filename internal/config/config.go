package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/missileglobe/globe-client/internal/ballistics"
	"github.com/missileglobe/globe-client/internal/nation"
	"github.com/missileglobe/globe-client/internal/store"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "globe_client.cfg.json"

// EnvPrefix prefixes environment overrides, e.g. GLOBE_SERVER_URL.
const EnvPrefix = "GLOBE"

// ServerConfig holds the game server endpoints.
type ServerConfig struct {
	URL           string
	WebsocketPath string
	Timeout       time.Duration
}

// ReconnectConfig holds the transport reconnect policy.
type ReconnectConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// AutomationConfig holds the parameters.json poller settings.
type AutomationConfig struct {
	Enabled  bool
	Interval time.Duration
}

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds the SQLite persistence settings.
type SQLiteConfig struct {
	Path string
}

// PostgresConfig holds the Postgres connection settings.
type PostgresConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// PersistConfig holds periodic state persistence settings.
type PersistConfig struct {
	Backend         string
	Interval        time.Duration
	StatusFile      string
	ImpactQueueSize int
	Memory          MemoryConfig
	SQLite          SQLiteConfig
	Postgres        PostgresConfig
}

// InfluxConfig holds InfluxDB telemetry settings.
type InfluxConfig struct {
	Enabled   bool
	Host      string
	Port      string
	Protocol  string
	Token     string
	Org       string
	Bucket    string
	BackupDir string
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout   time.Duration
	MetricInterval time.Duration
	Endpoint       string
	Insecure       bool
}

// ControlConfig holds the local control API settings.
type ControlConfig struct {
	Enabled bool
	Listen  string
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file and an optional
// .env file whose variables are exported before overrides are resolved.
func Load(configDir string) error {
	if err := godotenv.Load(filepath.Join(configDir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error reading env file: %v", err)
	}

	setDefaults()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("server.url", "http://localhost:3000")
	viper.SetDefault("server.websocketPath", "/ws")
	viper.SetDefault("server.timeout", "30s")

	viper.SetDefault("credentials.path", "./globe_client.db")
	viper.SetDefault("nation", "")
	viper.SetDefault("handshake.timeout", "5s")

	viper.SetDefault("reconnect.maxAttempts", 10)
	viper.SetDefault("reconnect.initialBackoff", "1s")
	viper.SetDefault("reconnect.maxBackoff", "30s")

	viper.SetDefault("physics.gravity", 9.8)
	viper.SetDefault("physics.radius", 2.0)
	viper.SetDefault("physics.step", "16ms")
	viper.SetDefault("physics.impactThreshold", 0.98)
	viper.SetDefault("physics.minSampleSpacing", 0.01)
	viper.SetDefault("physics.decayDelay", "7.5s")
	viper.SetDefault("physics.maxFlight", "2m")
	viper.SetDefault("physics.azimuthFrame", ballistics.FrameGeographic)

	viper.SetDefault("missiles.retainAfterImpact", "10s")
	viper.SetDefault("missiles.maxActive", 256)

	viper.SetDefault("automation.enabled", false)
	viper.SetDefault("automation.interval", "2s")

	viper.SetDefault("persist.backend", "api")
	viper.SetDefault("persist.interval", "30s")
	viper.SetDefault("persist.statusFile", "./globe_client.status.json")
	viper.SetDefault("persist.impactQueueSize", 1024)

	viper.SetDefault("storage.memory.outputDir", "./snapshots")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.path", "./globe_state.db")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "globe")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "globe-metrics")
	viper.SetDefault("influx.bucket", "globe")
	viper.SetDefault("influx.backupDir", "./influx_backup")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "globe-client")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.metricInterval", "30s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("control.enabled", false)
	viper.SetDefault("control.listen", "127.0.0.1:8089")
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// GetServerConfig returns the game server endpoints.
func GetServerConfig() ServerConfig {
	return ServerConfig{
		URL:           strings.TrimRight(viper.GetString("server.url"), "/"),
		WebsocketPath: viper.GetString("server.websocketPath"),
		Timeout:       viper.GetDuration("server.timeout"),
	}
}

// GetReconnectConfig returns the transport reconnect policy.
func GetReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MaxAttempts:    viper.GetInt("reconnect.maxAttempts"),
		InitialBackoff: viper.GetDuration("reconnect.initialBackoff"),
		MaxBackoff:     viper.GetDuration("reconnect.maxBackoff"),
	}
}

// GetPhysicsConfig returns the integrator constants.
func GetPhysicsConfig() ballistics.Config {
	return ballistics.Config{
		Gravity:          viper.GetFloat64("physics.gravity"),
		Radius:           viper.GetFloat64("physics.radius"),
		Step:             viper.GetDuration("physics.step"),
		ImpactThreshold:  viper.GetFloat64("physics.impactThreshold"),
		MinSampleSpacing: viper.GetFloat64("physics.minSampleSpacing"),
		DecayDelay:       viper.GetDuration("physics.decayDelay"),
		MaxFlight:        viper.GetDuration("physics.maxFlight"),
		Frame:            viper.GetString("physics.azimuthFrame"),
	}
}

// GetRetentionConfig returns the missile retention policy.
func GetRetentionConfig() store.Config {
	return store.Config{
		RetainAfterImpact: viper.GetDuration("missiles.retainAfterImpact"),
		MaxMissiles:       viper.GetInt("missiles.maxActive"),
	}
}

// GetNations returns the configured nation catalog, or the built-in one when
// the nations key is not set.
func GetNations() (*nation.Catalog, error) {
	if !viper.IsSet("nations") {
		return nation.Default(), nil
	}
	var nations []nation.Nation
	if err := viper.UnmarshalKey("nations", &nations); err != nil {
		return nil, fmt.Errorf("error decoding nations: %w", err)
	}
	return nation.NewCatalog(nations)
}

// GetAutomationConfig returns the automation poller settings.
func GetAutomationConfig() AutomationConfig {
	return AutomationConfig{
		Enabled:  viper.GetBool("automation.enabled"),
		Interval: viper.GetDuration("automation.interval"),
	}
}

// GetPersistConfig returns the periodic persistence settings.
func GetPersistConfig() PersistConfig {
	return PersistConfig{
		Backend:         viper.GetString("persist.backend"),
		Interval:        viper.GetDuration("persist.interval"),
		StatusFile:      viper.GetString("persist.statusFile"),
		ImpactQueueSize: viper.GetInt("persist.impactQueueSize"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			Path: viper.GetString("storage.sqlite.path"),
		},
		Postgres: PostgresConfig{
			Host:     viper.GetString("db.host"),
			Port:     viper.GetString("db.port"),
			Username: viper.GetString("db.username"),
			Password: viper.GetString("db.password"),
			Database: viper.GetString("db.database"),
		},
	}
}

// GetInfluxConfig returns the InfluxDB telemetry settings.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:   viper.GetBool("influx.enabled"),
		Host:      viper.GetString("influx.host"),
		Port:      viper.GetString("influx.port"),
		Protocol:  viper.GetString("influx.protocol"),
		Token:     viper.GetString("influx.token"),
		Org:       viper.GetString("influx.org"),
		Bucket:    viper.GetString("influx.bucket"),
		BackupDir: viper.GetString("influx.backupDir"),
	}
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout:   viper.GetDuration("otel.batchTimeout"),
		MetricInterval: viper.GetDuration("otel.metricInterval"),
		Endpoint:       viper.GetString("otel.endpoint"),
		Insecure:       viper.GetBool("otel.insecure"),
	}
}

// GetControlConfig returns the local control API settings.
func GetControlConfig() ControlConfig {
	return ControlConfig{
		Enabled: viper.GetBool("control.enabled"),
		Listen:  viper.GetString("control.listen"),
	}
}
