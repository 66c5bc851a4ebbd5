package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	LogLevel       string   `mapstructure:"LOG_LEVEL"`
	Store          string   `mapstructure:"STORE"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	SQLitePath     string   `mapstructure:"SQLITE_PATH"`
	MigrationsDir  string   `mapstructure:"MIGRATIONS_DIR"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL    string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	BodyLimit      string   `mapstructure:"BODY_LIMIT"`

	AlertWebhookURLs   []string `mapstructure:"ALERT_WEBHOOK_URLS"`
	AlertWebhookSecret string   `mapstructure:"ALERT_WEBHOOK_SECRET"`
	AlertWebhookEvents []string `mapstructure:"ALERT_WEBHOOK_EVENTS"`

	MQTTBroker   string `mapstructure:"MQTT_BROKER"`
	MQTTClientID string `mapstructure:"MQTT_CLIENT_ID"`
	MQTTUsername string `mapstructure:"MQTT_USERNAME"`
	MQTTPassword string `mapstructure:"MQTT_PASSWORD"`
	MQTTTopic    string `mapstructure:"MQTT_TOPIC"`
	MQTTQoS      int    `mapstructure:"MQTT_QOS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE", StoreSQLite)
	v.SetDefault("SQLITE_PATH", ":memory:")
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("MQTT_CLIENT_ID", "bp-server")
	v.SetDefault("MQTT_TOPIC", "bp/devices/+/readings")
	v.SetDefault("MQTT_QOS", 1)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL", "STORE", "DATABASE_URL", "SQLITE_PATH",
		"MIGRATIONS_DIR", "DB_MAX_CONNS", "DB_MIN_CONNS", "AUTH_ISSUER",
		"AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY", "CORS_ORIGINS",
		"BODY_LIMIT", "ALERT_WEBHOOK_URLS", "ALERT_WEBHOOK_SECRET",
		"ALERT_WEBHOOK_EVENTS", "MQTT_BROKER", "MQTT_CLIENT_ID", "MQTT_USERNAME",
		"MQTT_PASSWORD", "MQTT_TOPIC", "MQTT_QOS",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	cfg.AlertWebhookURLs = splitList(v.GetString("ALERT_WEBHOOK_URLS"))
	cfg.AlertWebhookEvents = splitList(v.GetString("ALERT_WEBHOOK_EVENTS"))
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: DevAuthMiddleware is active, all requests get admin access.")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// MQTTEnabled reports whether device readings should be consumed from a broker.
func (c *Config) MQTTEnabled() bool {
	return c.MQTTBroker != ""
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is safe to run. Outside development
// either AUTH_ISSUER, AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set, and the
// postgres store needs DATABASE_URL.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreSQLite:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE=%s", StorePostgres)
		}
	default:
		return fmt.Errorf("STORE must be %q or %q, got %q", StoreSQLite, StorePostgres, c.Store)
	}

	if !c.IsDev() && c.AuthIssuer == "" && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
		return fmt.Errorf(
			"ENV=%q requires AUTH_ISSUER, AUTH_JWKS_URL or AUTH_SIGNING_KEY. "+
				"Refusing to start without authentication configuration", c.Env)
	}

	if len(c.AlertWebhookURLs) > 0 && !c.IsDev() && c.AlertWebhookSecret == "" {
		return fmt.Errorf("ALERT_WEBHOOK_SECRET is required when ALERT_WEBHOOK_URLS is set outside development")
	}

	if c.MQTTBroker != "" {
		if c.MQTTTopic == "" {
			return fmt.Errorf("MQTT_TOPIC is required when MQTT_BROKER is set")
		}
		if c.MQTTQoS < 0 || c.MQTTQoS > 2 {
			return fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", c.MQTTQoS)
		}
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	return nil
}
