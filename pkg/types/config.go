package types

// ProjectConfig is the top-level feedrun.yaml configuration.
type ProjectConfig struct {
	Provider string `yaml:"provider"`
	// Provider-specific sections are decoded in a second pass by the config
	// package into the concrete provider config types.
	Redis     interface{} `yaml:"-"`
	DynamoDB  interface{} `yaml:"-"`
	Firestore interface{} `yaml:"-"`

	Sink      *SinkConfig      `yaml:"sink,omitempty"`
	Server    *ServerConfig    `yaml:"server,omitempty"`
	Sources   *SourcesConfig   `yaml:"sources,omitempty"`
	Ingestion *IngestionConfig `yaml:"ingestion,omitempty"`
	Reaper    *ReaperConfig    `yaml:"reaper,omitempty"`
	Archiver  *ArchiverConfig  `yaml:"archiver,omitempty"`
	Alerts    []AlertConfig    `yaml:"alerts,omitempty"`
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
	Logging   *LoggingConfig   `yaml:"logging,omitempty"`
}

// SinkConfig selects the article and author sink backend.
type SinkConfig struct {
	Type string `yaml:"type"` // "memory" or "postgres"
	DSN  string `yaml:"dsn,omitempty"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	APIKey         string `yaml:"apiKey,omitempty"`
	MaxRequestBody int64  `yaml:"maxRequestBody,omitempty"`
}

// SourcesConfig points at the source list file.
type SourcesConfig struct {
	Path string `yaml:"path"`
}

// IngestionConfig tunes run execution. Durations are Go duration strings.
type IngestionConfig struct {
	Concurrency              int    `yaml:"concurrency,omitempty"`
	FetchTimeout             string `yaml:"fetchTimeout,omitempty"`
	StuckTimeout             string `yaml:"stuckTimeout,omitempty"`
	StoreBatchSize           int    `yaml:"storeBatchSize,omitempty"`
	DefaultTimeWindowHours   int    `yaml:"defaultTimeWindowHours,omitempty"`
	DefaultMaxItemsPerSource int    `yaml:"defaultMaxItemsPerSource,omitempty"`
	UserAgent                string `yaml:"userAgent,omitempty"`
	Fetcher                  string `yaml:"fetcher,omitempty"` // "feed" or "tool"
	ToolURL                  string `yaml:"toolUrl,omitempty"`
}

// ReaperConfig enables the in-process periodic stuck-run scan.
type ReaperConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Interval string `yaml:"interval,omitempty"`
}

// ArchiverConfig enables copying terminal runs to Postgres.
type ArchiverConfig struct {
	Enabled  bool   `yaml:"enabled"`
	DSN      string `yaml:"dsn"`
	Interval string `yaml:"interval,omitempty"`
}

// AlertConfig configures one alert sink.
type AlertConfig struct {
	Type     AlertType `yaml:"type"`
	URL      string    `yaml:"url,omitempty"`
	Path     string    `yaml:"path,omitempty"`
	EventBus string    `yaml:"eventBus,omitempty"`
	Region   string    `yaml:"region,omitempty"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint,omitempty"`
	ServiceName  string `yaml:"serviceName,omitempty"`
	Insecure     bool   `yaml:"insecure,omitempty"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"` // "json" or "text"
}
