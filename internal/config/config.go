// Package config handles configuration loading from environment and files.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the decision core.
type Config struct {
	Service   string `mapstructure:"service"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Vault    VaultConfig    `mapstructure:"vault"`
	Token    TokenConfig    `mapstructure:"token"`
	Trust    TrustConfig    `mapstructure:"trust"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Audit    AuditConfig    `mapstructure:"audit"`

	Telemetry TelemetryConfig `mapstructure:"telemetry"`

	// DependencyTimeout bounds calls to external collaborators
	// (store, key service). A timeout fails closed to Deny.
	DependencyTimeout time.Duration `mapstructure:"dependency_timeout"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// VaultConfig holds HashiCorp Vault configuration.
type VaultConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Address      string `mapstructure:"address"`
	Token        string `mapstructure:"token"`
	Namespace    string `mapstructure:"namespace"`
	TransitMount string `mapstructure:"transit_mount"`
	AuditKeyName string `mapstructure:"audit_key_name"`
	TokenKeyName string `mapstructure:"token_key_name"`
}

// TokenConfig holds token lifecycle configuration.
type TokenConfig struct {
	Issuer     string        `mapstructure:"issuer"`
	Secret     string        `mapstructure:"secret"`
	AccessTTL  time.Duration `mapstructure:"access_ttl"`
	RefreshTTL time.Duration `mapstructure:"refresh_ttl"`
}

// TrustConfig holds trust state store tuning.
type TrustConfig struct {
	DefaultScore     int `mapstructure:"default_score"`
	BenignStep       int `mapstructure:"benign_step"`
	AnomalyStep      int `mapstructure:"anomaly_step"`
	TrustFloor       int `mapstructure:"trust_floor"`
	TrustedThreshold int `mapstructure:"trusted_threshold"`

	SessionCap int           `mapstructure:"session_cap"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`

	// MaxTravelSpeedKmh is the fastest physically plausible travel
	// speed between two sightings of the same session.
	MaxTravelSpeedKmh float64 `mapstructure:"max_travel_speed_kmh"`
}

// RiskConfig holds risk scoring engine tuning.
type RiskConfig struct {
	Weights map[string]int `mapstructure:"weights"`

	AmountThreshold   float64       `mapstructure:"amount_threshold"`
	VelocityThreshold int           `mapstructure:"velocity_threshold"`
	VelocityWindow    time.Duration `mapstructure:"velocity_window"`
	UnusualHourStart  int           `mapstructure:"unusual_hour_start"`
	UnusualHourEnd    int           `mapstructure:"unusual_hour_end"`
	FailedAttemptsMax int           `mapstructure:"failed_attempts_max"`
}

// PolicyConfig holds policy snapshot loading configuration.
type PolicyConfig struct {
	SnapshotPath string `mapstructure:"snapshot_path"`
}

// AuditConfig holds audit pipeline configuration.
type AuditConfig struct {
	QueueSize int `mapstructure:"queue_size"`

	// Secret keys the local HMAC sealer when Vault is not enabled.
	Secret string `mapstructure:"secret"`
}

// TelemetryConfig holds OpenTelemetry tracing configuration.
type TelemetryConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	Endpoint       string  `mapstructure:"endpoint"`
	SampleRate     float64 `mapstructure:"sample_rate"`
}

// Load loads configuration from environment variables and config file.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("ZTA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("zta")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/zta")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.Token.AccessTTL <= 0 {
		return fmt.Errorf("token.access_ttl must be positive")
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return fmt.Errorf("token.refresh_ttl must exceed token.access_ttl")
	}
	if c.Trust.DefaultScore < 0 || c.Trust.DefaultScore > 100 {
		return fmt.Errorf("trust.default_score must be in [0,100]")
	}
	if c.Trust.TrustFloor < 0 || c.Trust.TrustFloor > 100 {
		return fmt.Errorf("trust.trust_floor must be in [0,100]")
	}
	if c.Trust.SessionCap < 1 {
		return fmt.Errorf("trust.session_cap must be at least 1")
	}
	for name, w := range c.Risk.Weights {
		if w < 0 || w > 100 {
			return fmt.Errorf("risk.weights.%s must be in [0,100]", name)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("dependency_timeout", 2*time.Second)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.rate_limit", 100.0)
	v.SetDefault("server.rate_limit_burst", 50)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "zta")
	v.SetDefault("database.username", "zta")
	v.SetDefault("database.ssl_mode", "prefer")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.address", "http://localhost:8200")
	v.SetDefault("vault.transit_mount", "transit")
	v.SetDefault("vault.audit_key_name", "audit-integrity")
	v.SetDefault("vault.token_key_name", "token-signing")

	v.SetDefault("token.issuer", "zta-finance")
	v.SetDefault("token.access_ttl", 15*time.Minute)
	v.SetDefault("token.refresh_ttl", 7*24*time.Hour)

	v.SetDefault("trust.default_score", 50)
	v.SetDefault("trust.benign_step", 1)
	v.SetDefault("trust.anomaly_step", 20)
	v.SetDefault("trust.trust_floor", 30)
	v.SetDefault("trust.trusted_threshold", 70)
	v.SetDefault("trust.session_cap", 5)
	v.SetDefault("trust.session_ttl", 30*time.Minute)
	v.SetDefault("trust.max_travel_speed_kmh", 900.0)

	v.SetDefault("risk.weights", map[string]int{
		"device_trust":        45,
		"geo_anomaly":         35,
		"anonymizing_network": 50,
		"transaction_amount":  25,
		"request_velocity":    25,
		"time_of_day":         15,
		"failed_attempts":     40,
	})
	v.SetDefault("risk.amount_threshold", 10000.0)
	v.SetDefault("risk.velocity_threshold", 30)
	v.SetDefault("risk.velocity_window", time.Minute)
	v.SetDefault("risk.unusual_hour_start", 1)
	v.SetDefault("risk.unusual_hour_end", 6)
	v.SetDefault("risk.failed_attempts_max", 3)

	v.SetDefault("policy.snapshot_path", "policies.yaml")

	v.SetDefault("audit.queue_size", 1024)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "decision-service")
	v.SetDefault("telemetry.service_version", "dev")
	v.SetDefault("telemetry.endpoint", "localhost:4318")
	v.SetDefault("telemetry.sample_rate", 0.1)
}

// Addr returns the server address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode,
	)
}
