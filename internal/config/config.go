// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Serving variants.
const (
	VariantStore = "store"
	VariantProxy = "proxy"
)

// Notice store backends.
const (
	StoreMemory   = "memory"
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
)

// Snapshot archive backends.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
	ArchiveMinio  = "minio"
)

// EnvironmentProduction selects the production base URL.
const EnvironmentProduction = "production"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Upstream  UpstreamConfig  `mapstructure:"upstream"`
	Store     StoreConfig     `mapstructure:"store"`
	Refresh   RefreshConfig   `mapstructure:"refresh"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Page      PageConfig      `mapstructure:"page"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// AppConfig describes the deployment environment.
type AppConfig struct {
	Environment         string `mapstructure:"environment"`
	ProductionServerURL string `mapstructure:"production_server_url"`
	LocalServerURL      string `mapstructure:"local_server_url"`
}

// ServerURL returns the public base URL for the current environment.
func (a AppConfig) ServerURL() string {
	if strings.EqualFold(a.Environment, EnvironmentProduction) {
		return a.ProductionServerURL
	}
	return a.LocalServerURL
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Variant         string        `mapstructure:"variant"`
	Operator        string        `mapstructure:"operator"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// UpstreamConfig points at the notice source.
type UpstreamConfig struct {
	URL       string        `mapstructure:"url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// StoreConfig selects and configures the notice store.
type StoreConfig struct {
	Backend  string         `mapstructure:"backend"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// MongoConfig holds the document store connection.
type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// PostgresConfig controls access to the relational store.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// RefreshConfig picks the refresh strategy.
type RefreshConfig struct {
	Mode     string `mapstructure:"mode"`
	IDPolicy string `mapstructure:"id_policy"`
}

// ArchiveConfig sets where raw upstream snapshots are kept.
type ArchiveConfig struct {
	Backend string             `mapstructure:"backend"`
	Prefix  string             `mapstructure:"prefix"`
	Local   LocalArchiveConfig `mapstructure:"local"`
	GCS     GCSArchiveConfig   `mapstructure:"gcs"`
	Minio   MinioArchiveConfig `mapstructure:"minio"`
}

// LocalArchiveConfig is the filesystem archive root.
type LocalArchiveConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// GCSArchiveConfig names the snapshot bucket.
type GCSArchiveConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// MinioArchiveConfig holds S3-compatible credentials.
type MinioArchiveConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Region    string `mapstructure:"region"`
}

// PubSubConfig holds metadata for refresh notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// RateLimitConfig is the per-client request cap.
type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Max     int           `mapstructure:"max"`
	Window  time.Duration `mapstructure:"window"`
}

// AdminConfig guards the refresh trigger.
type AdminConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// PageConfig holds the strings rendered on the notice page.
type PageConfig struct {
	Title   string `mapstructure:"title"`
	Heading string `mapstructure:"heading"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NOTICES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindPlatformEnv(v); err != nil {
		return Config{}, err
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// bindPlatformEnv maps the unprefixed variables set by hosting platforms.
func bindPlatformEnv(v *viper.Viper) error {
	if err := v.BindEnv("server.port", "NOTICES_SERVER_PORT", "PORT"); err != nil {
		return fmt.Errorf("bind port env: %w", err)
	}
	if err := v.BindEnv("app.environment", "NOTICES_APP_ENVIRONMENT", "ENVIRONMENT"); err != nil {
		return fmt.Errorf("bind environment env: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "local")
	v.SetDefault("app.production_server_url", "")
	v.SetDefault("app.local_server_url", "http://localhost:3000")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.variant", VariantStore)
	v.SetDefault("server.operator", "noticemirror")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("upstream.url", "https://psc-notices.herokuapp.com/data")
	v.SetDefault("upstream.timeout", 15*time.Second)
	v.SetDefault("upstream.user_agent", "noticemirror/1.0")
	v.SetDefault("store.backend", StoreMemory)
	v.SetDefault("store.mongo.uri", "")
	v.SetDefault("store.mongo.database", "loksewa")
	v.SetDefault("store.mongo.collection", "loksewa-notices")
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.table", "notices")
	v.SetDefault("store.postgres.max_conns", 0)
	v.SetDefault("store.postgres.max_conn_lifetime", 0)
	v.SetDefault("refresh.mode", "replace")
	v.SetDefault("refresh.id_policy", "reset")
	v.SetDefault("archive.backend", ArchiveNone)
	v.SetDefault("archive.prefix", "snapshots")
	v.SetDefault("archive.local.base_dir", "data/snapshots")
	v.SetDefault("archive.gcs.bucket", "")
	v.SetDefault("archive.minio.endpoint", "")
	v.SetDefault("archive.minio.access_key", "")
	v.SetDefault("archive.minio.secret_key", "")
	v.SetDefault("archive.minio.bucket", "")
	v.SetDefault("archive.minio.use_ssl", true)
	v.SetDefault("archive.minio.region", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic", "")
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.max", 2)
	v.SetDefault("ratelimit.window", 2*time.Second)
	v.SetDefault("admin.api_key", "")
	v.SetDefault("page.title", "लोक सेवा आयोग")
	v.SetDefault("page.heading", "लोक सेवा आयोगको वेभसाईटमा प्रकाशित बिज्ञापनहरुको सुची")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "noticemirror")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	switch c.Server.Variant {
	case VariantStore:
	case VariantProxy:
		if c.Store.Backend != "" && c.Store.Backend != StoreMemory {
			return fmt.Errorf("store.backend %q has no effect with server.variant %q", c.Store.Backend, VariantProxy)
		}
	default:
		return fmt.Errorf("server.variant must be %q or %q, got %q", VariantStore, VariantProxy, c.Server.Variant)
	}
	if strings.TrimSpace(c.Upstream.URL) == "" {
		return fmt.Errorf("upstream.url is required")
	}
	if c.Upstream.Timeout < 0 {
		return fmt.Errorf("upstream.timeout must be >= 0")
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateArchive(); err != nil {
		return err
	}
	switch c.Refresh.Mode {
	case "replace", "dispatch":
	default:
		return fmt.Errorf("refresh.mode must be replace or dispatch, got %q", c.Refresh.Mode)
	}
	switch c.Refresh.IDPolicy {
	case "reset", "monotonic":
	default:
		return fmt.Errorf("refresh.id_policy must be reset or monotonic, got %q", c.Refresh.IDPolicy)
	}
	if c.RateLimit.Enabled && (c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("ratelimit.max and ratelimit.window must be > 0 when rate limiting is enabled")
	}
	if c.Telemetry.Enabled && strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		return fmt.Errorf("telemetry.service_name is required when telemetry is enabled")
	}
	return nil
}

func (c Config) validateStore() error {
	switch c.Store.Backend {
	case StoreMemory:
	case StoreMongo:
		if c.Store.Mongo.URI == "" {
			return fmt.Errorf("store.mongo.uri must be set when store.backend is mongo")
		}
		if c.Store.Mongo.Collection == "" {
			return fmt.Errorf("store.mongo.collection must be set when store.backend is mongo")
		}
	case StorePostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn must be set when store.backend is postgres")
		}
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}
	return nil
}

func (c Config) validateArchive() error {
	switch c.Archive.Backend {
	case "", ArchiveNone, ArchiveMemory:
	case ArchiveLocal:
		if strings.TrimSpace(c.Archive.Local.BaseDir) == "" {
			return fmt.Errorf("archive.local.base_dir must be set when archive.backend is local")
		}
	case ArchiveGCS:
		if c.Archive.GCS.Bucket == "" {
			return fmt.Errorf("archive.gcs.bucket must be set when archive.backend is gcs")
		}
	case ArchiveMinio:
		if c.Archive.Minio.Endpoint == "" || c.Archive.Minio.Bucket == "" {
			return fmt.Errorf("archive.minio.endpoint and archive.minio.bucket must be set when archive.backend is minio")
		}
	default:
		return fmt.Errorf("unknown archive.backend %q", c.Archive.Backend)
	}
	return nil
}
