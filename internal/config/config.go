// Package config handles loading and validation of feedrun.yaml project configuration.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	ddbprov "github.com/dwsmith1983/feedrun/internal/provider/dynamodb"
	fsprov "github.com/dwsmith1983/feedrun/internal/provider/firestore"
	"github.com/dwsmith1983/feedrun/internal/provider/redis"
	"github.com/dwsmith1983/feedrun/pkg/types"
)

// FileName is the project config file looked up by Load.
const FileName = "feedrun.yaml"

// Environment overrides applied after the file is parsed.
const (
	EnvAPIKey        = "FEEDRUN_API_KEY"
	EnvPostgresDSN   = "FEEDRUN_POSTGRES_DSN"
	EnvRedisAddr     = "FEEDRUN_REDIS_ADDR"
	EnvRedisPassword = "FEEDRUN_REDIS_PASSWORD"
)

// Defaults.
const (
	DefaultAddr           = ":8080"
	DefaultMaxRequestBody = 1 << 20
	DefaultSourcesPath    = "sources.yaml"
	DefaultReaperInterval = time.Minute
	DefaultArchiveEvery   = 5 * time.Minute
)

// providerConfigs is a helper struct used for a second YAML unmarshal pass
// to decode provider-specific config sections into their concrete types.
type providerConfigs struct {
	Redis     *redis.Config   `yaml:"redis,omitempty"`
	DynamoDB  *ddbprov.Config `yaml:"dynamodb,omitempty"`
	Firestore *fsprov.Config  `yaml:"firestore,omitempty"`
}

type options struct {
	secrets SecretResolver
}

// Option customizes Load.
type Option func(*options)

// WithSecretResolver replaces the Secrets Manager resolver used for
// secretsmanager:// references.
func WithSecretResolver(r SecretResolver) Option {
	return func(o *options) { o.secrets = r }
}

// Load reads and parses feedrun.yaml from the given directory. A .env file
// next to it is loaded first without overriding the existing environment.
func Load(dir string, opts ...Option) (*types.ProjectConfig, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	if err := loadEnvFile(filepath.Join(dir, ".env")); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	applyEnv(cfg)
	if err := resolveSecrets(context.Background(), cfg, o.secrets); err != nil {
		return nil, fmt.Errorf("resolving secrets: %w", err)
	}
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if cfg.Sources.Path != "" && !filepath.IsAbs(cfg.Sources.Path) {
		cfg.Sources.Path = filepath.Join(dir, cfg.Sources.Path)
	}
	return cfg, nil
}

// Parse decodes config bytes without env overrides, defaults or validation.
func Parse(data []byte) (*types.ProjectConfig, error) {
	var cfg types.ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Second pass: decode provider-specific sections into concrete types.
	var raw providerConfigs
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing provider config: %w", err)
	}
	if raw.Redis != nil {
		cfg.Redis = raw.Redis
	}
	if raw.DynamoDB != nil {
		cfg.DynamoDB = raw.DynamoDB
	}
	if raw.Firestore != nil {
		cfg.Firestore = raw.Firestore
	}
	return &cfg, nil
}

func loadEnvFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *types.ProjectConfig) {
	if v := os.Getenv(EnvAPIKey); v != "" {
		if cfg.Server == nil {
			cfg.Server = &types.ServerConfig{}
		}
		cfg.Server.APIKey = v
	}
	if v := os.Getenv(EnvPostgresDSN); v != "" {
		if cfg.Sink != nil && cfg.Sink.Type == "postgres" {
			cfg.Sink.DSN = v
		}
		if cfg.Archiver != nil && cfg.Archiver.Enabled {
			cfg.Archiver.DSN = v
		}
	}

	addr, pass := os.Getenv(EnvRedisAddr), os.Getenv(EnvRedisPassword)
	if cfg.Provider == "redis" && (addr != "" || pass != "") {
		rc, _ := cfg.Redis.(*redis.Config)
		if rc == nil {
			rc = &redis.Config{}
			cfg.Redis = rc
		}
		if addr != "" {
			rc.Addr = addr
		}
		if pass != "" {
			rc.Password = pass
		}
	}
}

func applyDefaults(cfg *types.ProjectConfig) {
	if cfg.Provider == "" {
		cfg.Provider = "memory"
	}
	if cfg.Server == nil {
		cfg.Server = &types.ServerConfig{}
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultAddr
	}
	if cfg.Server.MaxRequestBody <= 0 {
		cfg.Server.MaxRequestBody = DefaultMaxRequestBody
	}
	if cfg.Sources == nil {
		cfg.Sources = &types.SourcesConfig{}
	}
	if cfg.Sources.Path == "" {
		cfg.Sources.Path = DefaultSourcesPath
	}
	if cfg.Sink == nil {
		cfg.Sink = &types.SinkConfig{}
	}
	if cfg.Sink.Type == "" {
		cfg.Sink.Type = "memory"
	}
	if cfg.Ingestion == nil {
		cfg.Ingestion = &types.IngestionConfig{}
	}
	if cfg.Ingestion.Fetcher == "" {
		cfg.Ingestion.Fetcher = "feed"
	}
	if cfg.Reaper == nil {
		cfg.Reaper = &types.ReaperConfig{}
	}
	if cfg.Archiver == nil {
		cfg.Archiver = &types.ArchiverConfig{}
	}
	if cfg.Logging == nil {
		cfg.Logging = &types.LoggingConfig{}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if len(cfg.Alerts) == 0 {
		cfg.Alerts = []types.AlertConfig{{Type: types.AlertConsole}}
	}
}

func validate(cfg *types.ProjectConfig) error {
	switch cfg.Provider {
	case "memory":
	case "redis":
		rc, _ := cfg.Redis.(*redis.Config)
		if rc == nil {
			return fmt.Errorf("redis config is required when provider is redis")
		}
		if rc.Addr == "" {
			return fmt.Errorf("redis.addr is required")
		}
	case "dynamodb":
		dc, _ := cfg.DynamoDB.(*ddbprov.Config)
		if dc == nil {
			return fmt.Errorf("dynamodb config is required when provider is dynamodb")
		}
		if dc.TableName == "" {
			return fmt.Errorf("dynamodb.tableName is required")
		}
	case "firestore":
		fc, _ := cfg.Firestore.(*fsprov.Config)
		if fc == nil {
			return fmt.Errorf("firestore config is required when provider is firestore")
		}
		if fc.ProjectID == "" {
			return fmt.Errorf("firestore.projectId is required")
		}
	default:
		return fmt.Errorf("unknown provider %q", cfg.Provider)
	}

	switch cfg.Sink.Type {
	case "memory":
	case "postgres":
		if cfg.Sink.DSN == "" {
			return fmt.Errorf("sink.dsn is required when sink type is postgres")
		}
	default:
		return fmt.Errorf("unknown sink type %q", cfg.Sink.Type)
	}

	ing := cfg.Ingestion
	if ing.Concurrency < 0 {
		return fmt.Errorf("ingestion.concurrency must not be negative")
	}
	switch ing.Fetcher {
	case "feed":
	case "tool":
		if ing.ToolURL == "" {
			return fmt.Errorf("ingestion.toolUrl is required when fetcher is tool")
		}
	default:
		return fmt.Errorf("unknown ingestion.fetcher %q", ing.Fetcher)
	}

	var errs []error
	for name, v := range map[string]string{
		"ingestion.fetchTimeout": ing.FetchTimeout,
		"ingestion.stuckTimeout": ing.StuckTimeout,
		"reaper.interval":        cfg.Reaper.Interval,
		"archiver.interval":      cfg.Archiver.Interval,
	} {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", name, v))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if cfg.Archiver.Enabled && cfg.Archiver.DSN == "" {
		return fmt.Errorf("archiver.dsn is required when the archiver is enabled")
	}

	for i, a := range cfg.Alerts {
		switch a.Type {
		case types.AlertConsole, types.AlertEventBridge:
		case types.AlertWebhook:
			if a.URL == "" {
				return fmt.Errorf("alerts[%d]: url is required for webhook", i)
			}
		case types.AlertFile:
			if a.Path == "" {
				return fmt.Errorf("alerts[%d]: path is required for file", i)
			}
		default:
			return fmt.Errorf("alerts[%d]: unknown type %q", i, a.Type)
		}
	}
	return nil
}

// Duration parses s, returning def when s is empty or invalid. Load has
// already rejected invalid values.
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
