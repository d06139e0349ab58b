package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/urban-recommender/internal/fetcher"
	"github.com/sells-group/urban-recommender/internal/indicator"
	"github.com/sells-group/urban-recommender/internal/recommender"
)

// Config holds the full application configuration.
type Config struct {
	Recommender RecommenderConfig `yaml:"recommender" mapstructure:"recommender"`
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Fetch       FetchConfig       `yaml:"fetch" mapstructure:"fetch"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// RecommenderConfig fixes the analysis recipe. Interventions live in their own
// YAML file because viper lowercases map keys and indicator names are
// case-sensitive.
type RecommenderConfig struct {
	Columns           []string `yaml:"columns" mapstructure:"columns"`
	InterventionsFile string   `yaml:"interventions_file" mapstructure:"interventions_file"`
	VarTarget         float64  `yaml:"var_target" mapstructure:"var_target"`
	TopKLoadings      int      `yaml:"top_k_loadings" mapstructure:"top_k_loadings"`
	ModelVersion      string   `yaml:"model_version" mapstructure:"model_version"`
	IDColumn          string   `yaml:"id_column" mapstructure:"id_column"`
}

// StoreConfig configures the model store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port          int      `yaml:"port" mapstructure:"port"`
	FitRatePerSec float64  `yaml:"fit_rate_per_sec" mapstructure:"fit_rate_per_sec"`
	FitBurst      int      `yaml:"fit_burst" mapstructure:"fit_burst"`
	CORSOrigins   []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	MaxBodyMB     int      `yaml:"max_body_mb" mapstructure:"max_body_mb"`
}

// FetchConfig configures remote dataset downloads.
type FetchConfig struct {
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	Encoding    string `yaml:"encoding" mapstructure:"encoding"`
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
	v.SetEnvPrefix("URBAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("recommender.columns", indicator.DefaultColumns())
	v.SetDefault("recommender.interventions_file", "")
	v.SetDefault("recommender.var_target", recommender.DefaultVarTarget)
	v.SetDefault("recommender.top_k_loadings", recommender.DefaultTopK)
	v.SetDefault("recommender.model_version", recommender.DefaultModelVersion)
	v.SetDefault("recommender.id_column", "CVEGEO")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "urban.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.fit_rate_per_sec", 1.0)
	v.SetDefault("server.fit_burst", 2)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_body_mb", 32)
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.user_agent", "urban-recommender/1.0")
	v.SetDefault("fetch.encoding", "utf-8")
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

// Validate checks the settings a command mode depends on. Every problem is
// reported, not just the first.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if c.Server.FitRatePerSec <= 0 {
			errs = append(errs, "server.fit_rate_per_sec must be > 0")
		}
		if c.Server.FitBurst < 1 {
			errs = append(errs, "server.fit_burst must be >= 1")
		}
		if c.Server.MaxBodyMB < 1 {
			errs = append(errs, "server.max_body_mb must be >= 1")
		}
		errs = append(errs, c.validateStore()...)
	case "fit", "recommend":
		if c.Fetch.TimeoutSecs < 1 {
			errs = append(errs, "fetch.timeout_secs must be >= 1")
		}
		if c.Fetch.MaxRetries < 0 {
			errs = append(errs, "fetch.max_retries must be >= 0")
		}
		if _, err := fetcher.LookupEncoding(c.Fetch.Encoding); err != nil {
			errs = append(errs, fmt.Sprintf("fetch.encoding %q is not a known encoding", c.Fetch.Encoding))
		}
	case "models":
		errs = append(errs, c.validateStore()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	r := c.Recommender
	if len(r.Columns) == 0 {
		errs = append(errs, "recommender.columns must not be empty")
	}
	if r.VarTarget <= 0 || r.VarTarget > 1 {
		errs = append(errs, fmt.Sprintf("recommender.var_target must be in (0, 1], got %v", r.VarTarget))
	}
	if r.TopKLoadings < 1 {
		errs = append(errs, "recommender.top_k_loadings must be >= 1")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	return errs
}

// RecommenderOptions builds engine options from the recommender section,
// reading the interventions file when one is configured.
func (c *Config) RecommenderOptions() (recommender.Options, error) {
	opts := recommender.Options{
		Columns:      c.Recommender.Columns,
		VarTarget:    c.Recommender.VarTarget,
		TopK:         c.Recommender.TopKLoadings,
		ModelVersion: c.Recommender.ModelVersion,
	}
	if c.Recommender.InterventionsFile != "" {
		interv, err := indicator.LoadInterventions(c.Recommender.InterventionsFile)
		if err != nil {
			return recommender.Options{}, err
		}
		opts.Interventions = interv
	}
	return opts, nil
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
