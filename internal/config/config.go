package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. PARCEL_BATCH_WORKERS
const EnvPrefix = "PARCEL"

// ErrInvalid wraps every validation failure returned by Load
var ErrInvalid = errors.New("invalid configuration")

// Config is the full runtime configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Geocoder GeocoderConfig `mapstructure:"geocoder"`
	Spatial  SpatialConfig  `mapstructure:"spatial"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Control  ControlConfig  `mapstructure:"control"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Paths    PathsConfig    `mapstructure:"paths"`
	Log      LogConfig      `mapstructure:"log"`
}

// DatabaseConfig holds canonical store connection settings
type DatabaseConfig struct {
	Host         string `mapstructure:"host" validate:"required"`
	Port         int    `mapstructure:"port" validate:"gt=0"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name" validate:"required"`
	SSLMode      string `mapstructure:"sslmode" validate:"oneof=disable require verify-ca verify-full"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gte=1"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" validate:"gte=0"`
}

// DSN renders a lib/pq connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// ProviderConfig describes one geocoding endpoint
type ProviderConfig struct {
	Name      string        `mapstructure:"name" validate:"required"`
	Kind      string        `mapstructure:"kind" validate:"omitempty,oneof=nominatim census"`
	URL       string        `mapstructure:"url" validate:"required,url"`
	Public    bool          `mapstructure:"public"`
	MinDelay  time.Duration `mapstructure:"min_delay" validate:"gte=0"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gt=0"`
	UserAgent string        `mapstructure:"user_agent"`
}

// RetryPolicy bounds transient-failure retries against a provider
type RetryPolicy struct {
	MaxRetries   int           `mapstructure:"max_retries" validate:"gte=0"`
	InitialDelay time.Duration `mapstructure:"initial_delay" validate:"gt=0"`
	MaxDelay     time.Duration `mapstructure:"max_delay" validate:"gtefield=InitialDelay"`
	Multiplier   float64       `mapstructure:"multiplier" validate:"gte=1"`
}

// GeocoderConfig configures the geocode adapter
type GeocoderConfig struct {
	Providers    []ProviderConfig `mapstructure:"providers" validate:"required,min=1,dive"`
	Region       string           `mapstructure:"region"`
	Retry        RetryPolicy      `mapstructure:"retry"`
	Workers      int              `mapstructure:"workers" validate:"gte=1"`
	ShortenWords int              `mapstructure:"shorten_words" validate:"gte=2"`
	FlushEvery   int              `mapstructure:"flush_every" validate:"gte=1"`
}

// SpatialConfig configures nearest-parcel matching
type SpatialConfig struct {
	MaxDistanceMeters float64 `mapstructure:"max_distance_meters" validate:"gt=0"`
	StrictReject      bool    `mapstructure:"strict_reject"`
	CacheDecimals     int     `mapstructure:"cache_decimals" validate:"gte=3,lte=8"`
	GeohashPrecision  uint    `mapstructure:"geohash_precision" validate:"gte=3,lte=9"`
}

// BatchConfig sizes chunks, workers and municipality batches
type BatchConfig struct {
	ChunkSize              int `mapstructure:"chunk_size" validate:"gte=1"`
	Workers                int `mapstructure:"workers" validate:"gte=1"`
	MunicipalitiesPerBatch int `mapstructure:"municipalities_per_batch" validate:"gte=1"`
	// 26 bind parameters per row against the 65535 Postgres limit
	WriteBatchSize         int `mapstructure:"write_batch_size" validate:"gte=1,lte=2500"`
}

// ControlConfig configures the approval gate between batches
type ControlConfig struct {
	Mode            string        `mapstructure:"mode" validate:"oneof=file console http auto"`
	Dir             string        `mapstructure:"dir"`
	ContinueFile    string        `mapstructure:"continue_file"`
	StopFile        string        `mapstructure:"stop_file"`
	PollInterval    time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	ApprovalTimeout time.Duration `mapstructure:"approval_timeout" validate:"gt=0"`
	Listen          string        `mapstructure:"listen"`
}

// MetricsConfig exposes /metrics in every control mode. An empty Listen
// disables the listener.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// PathsConfig locates the manifest, caches and checkpoint
type PathsConfig struct {
	Manifest   string `mapstructure:"manifest" validate:"required"`
	CacheDir   string `mapstructure:"cache_dir" validate:"required"`
	Checkpoint string `mapstructure:"checkpoint" validate:"required"`
}

// LogConfig configures the root logger
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

// Load reads .env files, an optional YAML config file and PARCEL_* environment
// overrides, in increasing order of precedence, then validates the result.
func Load(configFile string) (*Config, error) {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// libpq-style variables keep working for the database section
	_ = v.BindEnv("database.host", EnvPrefix+"_DATABASE_HOST", "PGHOST")
	_ = v.BindEnv("database.port", EnvPrefix+"_DATABASE_PORT", "PGPORT")
	_ = v.BindEnv("database.user", EnvPrefix+"_DATABASE_USER", "PGUSER")
	_ = v.BindEnv("database.password", EnvPrefix+"_DATABASE_PASSWORD", "PGPASSWORD")
	_ = v.BindEnv("database.name", EnvPrefix+"_DATABASE_NAME", "PGDATABASE")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration without consulting files or the
// environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate checks struct constraints and returns ErrInvalid on failure
func Validate(cfg *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "parcels")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "parcels")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 10)

	v.SetDefault("geocoder.providers", []map[string]any{{
		"name":       "nominatim",
		"kind":       "nominatim",
		"url":        "https://nominatim.openstreetmap.org",
		"public":     true,
		"min_delay":  "1s",
		"timeout":    "20s",
		"user_agent": "parcel-linkage/1.0",
	}})
	v.SetDefault("geocoder.region", "CT")
	v.SetDefault("geocoder.retry.max_retries", 3)
	v.SetDefault("geocoder.retry.initial_delay", "2s")
	v.SetDefault("geocoder.retry.max_delay", "30s")
	v.SetDefault("geocoder.retry.multiplier", 2.0)
	v.SetDefault("geocoder.workers", 8)
	v.SetDefault("geocoder.shorten_words", 4)
	v.SetDefault("geocoder.flush_every", 50)

	v.SetDefault("spatial.max_distance_meters", 150.0)
	v.SetDefault("spatial.strict_reject", false)
	v.SetDefault("spatial.cache_decimals", 5)
	v.SetDefault("spatial.geohash_precision", 6)

	v.SetDefault("batch.chunk_size", 500)
	v.SetDefault("batch.workers", 4)
	v.SetDefault("batch.municipalities_per_batch", 10)
	v.SetDefault("batch.write_batch_size", 500)

	v.SetDefault("control.mode", "file")
	v.SetDefault("control.dir", ".control")
	v.SetDefault("control.continue_file", "CONTINUE")
	v.SetDefault("control.stop_file", "STOP")
	v.SetDefault("control.poll_interval", "2s")
	v.SetDefault("control.approval_timeout", "12h")
	v.SetDefault("control.listen", "127.0.0.1:8089")

	v.SetDefault("metrics.listen", "127.0.0.1:9108")

	v.SetDefault("paths.manifest", "municipalities.yaml")
	v.SetDefault("paths.cache_dir", ".cache")
	v.SetDefault("paths.checkpoint", ".cache/checkpoint.json")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}
