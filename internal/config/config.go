package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Registry RegistryConfig `yaml:"registry" mapstructure:"registry"`
	Data     DataConfig     `yaml:"data" mapstructure:"data"`
	Analysis AnalysisConfig `yaml:"analysis" mapstructure:"analysis"`
	Batch    BatchConfig    `yaml:"batch" mapstructure:"batch"`
	Schedule ScheduleConfig `yaml:"schedule" mapstructure:"schedule"`
	Retry    RetryConfig    `yaml:"retry" mapstructure:"retry"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// CacheConfig configures the coverage cache backend and TTL policy.
type CacheConfig struct {
	Driver            string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "postgres"
	Path              string `yaml:"path" mapstructure:"path"`     // sqlite file path
	DatabaseURL       string `yaml:"database_url" mapstructure:"database_url"`
	SatelliteTTLHours int    `yaml:"satellite_ttl_hours" mapstructure:"satellite_ttl_hours"`
	StatsTTLHours     int    `yaml:"stats_ttl_hours" mapstructure:"stats_ttl_hours"`
	DefaultTTLHours   int    `yaml:"default_ttl_hours" mapstructure:"default_ttl_hours"`
}

// RegistryConfig configures the city/coverage record store.
type RegistryConfig struct {
	Path string `yaml:"path" mapstructure:"path"` // sqlite file path
}

// DataConfig locates satellite imagery and boundary files on disk.
type DataConfig struct {
	SatelliteDir string `yaml:"satellite_dir" mapstructure:"satellite_dir"`
	BoundaryDir  string `yaml:"boundary_dir" mapstructure:"boundary_dir"`
}

// AnalysisConfig holds NDVI analysis defaults.
type AnalysisConfig struct {
	NDVIThreshold float64 `yaml:"ndvi_threshold" mapstructure:"ndvi_threshold"`
	RedBand       int     `yaml:"red_band" mapstructure:"red_band"`
	NIRBand       int     `yaml:"nir_band" mapstructure:"nir_band"`
	TileRows      int     `yaml:"tile_rows" mapstructure:"tile_rows"`
}

// BatchConfig configures batch recomputation runs.
type BatchConfig struct {
	Size            int `yaml:"size" mapstructure:"size"`
	MaxConcurrent   int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	RunBudgetSecs   int `yaml:"run_budget_secs" mapstructure:"run_budget_secs"`
	ItemTimeoutSecs int `yaml:"item_timeout_secs" mapstructure:"item_timeout_secs"`
	PaceSecs        int `yaml:"pace_secs" mapstructure:"pace_secs"`
}

// ScheduleConfig configures the recurring background jobs.
type ScheduleConfig struct {
	Enabled     bool `yaml:"enabled" mapstructure:"enabled"`
	WeeklyDay   int  `yaml:"weekly_day" mapstructure:"weekly_day"` // 0=Sunday
	WeeklyHour  int  `yaml:"weekly_hour" mapstructure:"weekly_hour"`
	WeeklyMin   int  `yaml:"weekly_minute" mapstructure:"weekly_minute"`
	SweepHour   int  `yaml:"sweep_hour" mapstructure:"sweep_hour"`
	SweepMinute int  `yaml:"sweep_minute" mapstructure:"sweep_minute"`
}

// RetryConfig configures retries for transient per-city failures.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
	DelaySecs   int `yaml:"delay_secs" mapstructure:"delay_secs"`
}

// ServerConfig configures the operational HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GREENCOVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("cache.driver", "sqlite")
	v.SetDefault("cache.path", "greencover.db")
	v.SetDefault("cache.satellite_ttl_hours", 72)
	v.SetDefault("cache.stats_ttl_hours", 12)
	v.SetDefault("cache.default_ttl_hours", 24)
	v.SetDefault("registry.path", "greencover.db")
	v.SetDefault("data.satellite_dir", "/data/satellite")
	v.SetDefault("data.boundary_dir", "/data/boundaries")
	v.SetDefault("analysis.ndvi_threshold", 0.3)
	v.SetDefault("analysis.red_band", 0)
	v.SetDefault("analysis.nir_band", 1)
	v.SetDefault("analysis.tile_rows", 256)
	v.SetDefault("batch.size", 10)
	v.SetDefault("batch.max_concurrent", 3)
	v.SetDefault("batch.run_budget_secs", 3600)
	v.SetDefault("batch.item_timeout_secs", 600)
	v.SetDefault("batch.pace_secs", 5)
	v.SetDefault("schedule.enabled", true)
	v.SetDefault("schedule.weekly_day", 0)
	v.SetDefault("schedule.weekly_hour", 2)
	v.SetDefault("schedule.weekly_minute", 0)
	v.SetDefault("schedule.sweep_hour", 3)
	v.SetDefault("schedule.sweep_minute", 0)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.delay_secs", 300)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks settings required before any command touches storage.
func (c *Config) Validate() error {
	switch c.Cache.Driver {
	case "sqlite":
		if c.Cache.Path == "" {
			return eris.New("config: cache.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Cache.DatabaseURL == "" {
			return eris.New("config: cache.database_url is required for the postgres driver")
		}
	default:
		return eris.Errorf("config: unknown cache driver %q", c.Cache.Driver)
	}
	if c.Analysis.NDVIThreshold < -1 || c.Analysis.NDVIThreshold > 1 {
		return eris.Errorf("config: ndvi_threshold %.2f outside [-1, 1]", c.Analysis.NDVIThreshold)
	}
	if c.Analysis.RedBand == c.Analysis.NIRBand {
		return eris.New("config: red_band and nir_band must differ")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
