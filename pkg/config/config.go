// Package config provides configuration structures and loading logic for the
// redaction engine, its HTTP surface and the inbox watcher.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/polisai/polis-redact/pkg/dlp"
)

// Defaults applied by Validate when a field is left empty.
const (
	DefaultThreshold   = dlp.DefaultThreshold
	DefaultAddress     = ":8090"
	DefaultDataDir     = "data"
	DefaultMaxUploadMB = 32
	DefaultDebounce    = 500 * time.Millisecond
)

// Config holds the global configuration.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Server    ServerConfig    `yaml:"server"`
	Audit     AuditConfig     `yaml:"audit"`
	Watch     WatchConfig     `yaml:"watch"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// EngineConfig controls detection.
type EngineConfig struct {
	// ConfidenceThreshold is the minimum score a candidate needs to be redacted.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	// EnabledTypes restricts the registry. Empty enables every type.
	EnabledTypes []string `yaml:"enabled_types,omitempty"`
}

// ServerConfig holds configuration for the upload server.
type ServerConfig struct {
	Address     string   `yaml:"address"`
	DataDir     string   `yaml:"data_dir"`
	MaxUploadMB int      `yaml:"max_upload_mb"`
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
	CertFile    string   `yaml:"cert_file,omitempty"`
	KeyFile     string   `yaml:"key_file,omitempty"`
	// UploadRate limits uploads per client and second. Zero disables it.
	UploadRate  float64 `yaml:"upload_rate"`
	UploadBurst int     `yaml:"upload_burst"`
}

// AuditConfig holds configuration for audit persistence.
type AuditConfig struct {
	// SQLitePath enables the SQLite audit sink when set.
	SQLitePath string `yaml:"sqlite_path"`
}

// WatchConfig holds configuration for the inbox watcher.
type WatchConfig struct {
	Inbox    string        `yaml:"inbox"`
	Outbox   string        `yaml:"outbox"`
	Debounce time.Duration `yaml:"debounce"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"service_name"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns a configuration populated with defaults.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			ConfidenceThreshold: DefaultThreshold,
		},
		Server: ServerConfig{
			Address:     DefaultAddress,
			DataDir:     DefaultDataDir,
			MaxUploadMB: DefaultMaxUploadMB,
		},
		Watch: WatchConfig{
			Debounce: DefaultDebounce,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML data over cfg.
func Parse(data []byte, cfg *Config) error {
	return yaml.Unmarshal(data, cfg)
}

func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv("REDACT_CONFIDENCE_THRESHOLD"); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("REDACT_CONFIDENCE_THRESHOLD: %w", err)
		}
		cfg.Engine.ConfidenceThreshold = f
	}
	if val := os.Getenv("REDACT_ENABLED_TYPES"); val != "" {
		cfg.Engine.EnabledTypes = splitList(val)
	}

	if val := os.Getenv("REDACT_ADDR"); val != "" {
		cfg.Server.Address = val
	}
	if val := os.Getenv("REDACT_DATA_DIR"); val != "" {
		cfg.Server.DataDir = val
	}
	if val := os.Getenv("REDACT_MAX_UPLOAD_MB"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("REDACT_MAX_UPLOAD_MB: %w", err)
		}
		cfg.Server.MaxUploadMB = n
	}
	if val := os.Getenv("REDACT_CORS_ORIGINS"); val != "" {
		cfg.Server.CORSOrigins = splitList(val)
	}
	if val := os.Getenv("REDACT_UPLOAD_RATE"); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("REDACT_UPLOAD_RATE: %w", err)
		}
		cfg.Server.UploadRate = f
	}
	if val := os.Getenv("REDACT_UPLOAD_BURST"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("REDACT_UPLOAD_BURST: %w", err)
		}
		cfg.Server.UploadBurst = n
	}
	if val := os.Getenv("REDACT_TLS_CERT_FILE"); val != "" {
		cfg.Server.CertFile = val
	}
	if val := os.Getenv("REDACT_TLS_KEY_FILE"); val != "" {
		cfg.Server.KeyFile = val
	}

	if val := os.Getenv("REDACT_SQLITE_PATH"); val != "" {
		cfg.Audit.SQLitePath = val
	}

	if val := os.Getenv("REDACT_INBOX"); val != "" {
		cfg.Watch.Inbox = val
	}
	if val := os.Getenv("REDACT_OUTBOX"); val != "" {
		cfg.Watch.Outbox = val
	}
	if val := os.Getenv("REDACT_DEBOUNCE"); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("REDACT_DEBOUNCE: %w", err)
		}
		cfg.Watch.Debounce = d
	}

	if val := os.Getenv("REDACT_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("REDACT_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("REDACT_SERVICE_NAME"); val != "" {
		cfg.Telemetry.ServiceName = val
	}

	if val := os.Getenv("REDACT_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("REDACT_LOG_PRETTY"); val == "true" {
		cfg.Logging.Pretty = true
	}

	return nil
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate performs validation of the entire configuration
func (c *Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine configuration: %w", err)
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}

	if err := c.Watch.Validate(); err != nil {
		return fmt.Errorf("watch configuration: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}

	return nil
}

// Validate checks the threshold range and the enabled type names.
func (c *EngineConfig) Validate() error {
	if math.IsNaN(c.ConfidenceThreshold) || c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold %v outside [0,1]", c.ConfidenceThreshold)
	}

	for i, name := range c.EnabledTypes {
		t, err := dlp.ParsePIIType(name)
		if err != nil {
			return fmt.Errorf("enabled_types[%d]: %w", i, err)
		}
		c.EnabledTypes[i] = string(t)
	}

	return nil
}

// Types returns the enabled PII types, or nil when every type is enabled.
func (c *EngineConfig) Types() []dlp.PIIType {
	if len(c.EnabledTypes) == 0 {
		return nil
	}
	out := make([]dlp.PIIType, 0, len(c.EnabledTypes))
	for _, name := range c.EnabledTypes {
		out = append(out, dlp.PIIType(name))
	}
	return out
}

// Registry compiles the detection registry for the enabled types.
func (c *EngineConfig) Registry() (*dlp.Registry, error) {
	types := c.Types()
	if types == nil {
		return dlp.DefaultRegistry(), nil
	}
	return dlp.DefaultRegistry().WithTypes(types...)
}

// Validate performs validation of server configuration
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		c.Address = DefaultAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = DefaultDataDir
	}
	if c.MaxUploadMB == 0 {
		c.MaxUploadMB = DefaultMaxUploadMB
	}
	if c.MaxUploadMB < 0 {
		return fmt.Errorf("max_upload_mb must be positive, got %d", c.MaxUploadMB)
	}
	if c.UploadRate < 0 || c.UploadBurst < 0 {
		return fmt.Errorf("upload_rate and upload_burst must not be negative")
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return fmt.Errorf("cert_file and key_file must be set together")
	}
	return nil
}

// MaxUploadBytes returns the upload limit in bytes.
func (c *ServerConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// Validate performs validation of watch configuration
func (c *WatchConfig) Validate() error {
	if c.Debounce == 0 {
		c.Debounce = DefaultDebounce
	}
	if c.Debounce < 0 {
		return fmt.Errorf("debounce must be positive, got %s", c.Debounce)
	}
	if c.Inbox != "" && c.Outbox != "" && c.Inbox == c.Outbox {
		return fmt.Errorf("inbox and outbox must differ")
	}
	return nil
}

// Validate performs validation of logging configuration
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
		return nil
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}
}
