package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vango-dev/enginebridge/internal/errors"
	"github.com/vango-dev/enginebridge/pkg/protocol"
	"github.com/vango-dev/enginebridge/pkg/throttle"
)

const (
	// ConfigFileName is the name of the JSON configuration file.
	ConfigFileName = "enginebridge.json"

	// YAMLConfigFileName is the YAML alternative, used when no JSON file
	// exists.
	YAMLConfigFileName = "enginebridge.yaml"

	// DefaultAddress is the default native host listen address.
	DefaultAddress = ":8765"

	// DefaultStoreDir is the default directory for saved transfers.
	DefaultStoreDir = "transfers"

	// DefaultMetricsPath is where Prometheus metrics are served.
	DefaultMetricsPath = "/metrics"
)

// Store backends.
const (
	StoreNone = "none"
	StoreDisk = "disk"
	StoreS3   = "s3"
)

// Config represents the complete enginebridge.json configuration.
type Config struct {
	// Controller contains host-side controller settings.
	Controller ControllerConfig `json:"controller" yaml:"controller"`

	// Binary contains binary codec and reassembly settings.
	Binary BinaryConfig `json:"binary" yaml:"binary"`

	// Batch contains message batcher settings.
	Batch BatchConfig `json:"batch" yaml:"batch"`

	// Throttle contains the throttler tick and per-key rates.
	Throttle ThrottleConfig `json:"throttle" yaml:"throttle"`

	// Delta contains delta compressor settings.
	Delta DeltaConfig `json:"delta" yaml:"delta"`

	// Retry contains the create and event setup retry policies.
	Retry RetryConfig `json:"retry" yaml:"retry"`

	// Server contains native host server settings.
	Server ServerConfig `json:"server" yaml:"server"`

	// Store contains persistence settings for completed transfers.
	Store StoreConfig `json:"store" yaml:"store"`

	// Metrics contains Prometheus and tracing settings.
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// ControllerConfig contains host-side controller settings.
type ControllerConfig struct {
	// EngineType is "unity" or "unreal".
	EngineType string `json:"engineType,omitempty" yaml:"engineType,omitempty"`

	// QueueCapacity bounds the pre-ready message queue.
	QueueCapacity int `json:"queueCapacity,omitempty" yaml:"queueCapacity,omitempty"`

	// StreamBuffer is the per-subscriber event buffer.
	StreamBuffer int `json:"streamBuffer,omitempty" yaml:"streamBuffer,omitempty"`

	// CreateOptions are passed to the engine on create.
	CreateOptions map[string]any `json:"createOptions,omitempty" yaml:"createOptions,omitempty"`
}

// BinaryConfig contains binary codec settings.
type BinaryConfig struct {
	CompressionThreshold int `json:"compressionThreshold,omitempty" yaml:"compressionThreshold,omitempty"`
	ChunkSize            int `json:"chunkSize,omitempty" yaml:"chunkSize,omitempty"`
	MaxSingleMessageSize int `json:"maxSingleMessageSize,omitempty" yaml:"maxSingleMessageSize,omitempty"`
	CompressionLevel     int `json:"compressionLevel,omitempty" yaml:"compressionLevel,omitempty"`

	// AssemblerTTL discards idle incomplete transfers. Zero disables it.
	AssemblerTTL Duration `json:"assemblerTTL,omitempty" yaml:"assemblerTTL,omitempty"`
}

// BatchConfig contains message batcher settings.
type BatchConfig struct {
	FlushInterval     Duration `json:"flushInterval,omitempty" yaml:"flushInterval,omitempty"`
	MaxBatchSize      int      `json:"maxBatchSize,omitempty" yaml:"maxBatchSize,omitempty"`
	DisableCoalescing bool     `json:"disableCoalescing,omitempty" yaml:"disableCoalescing,omitempty"`
}

// ThrottleConfig contains throttler settings.
type ThrottleConfig struct {
	TickInterval Duration `json:"tickInterval,omitempty" yaml:"tickInterval,omitempty"`

	// Rates are applied to every controller the bridge creates.
	Rates []RateConfig `json:"rates,omitempty" yaml:"rates,omitempty"`
}

// RateConfig limits one target:method key.
type RateConfig struct {
	Target   string  `json:"target" yaml:"target"`
	Method   string  `json:"method" yaml:"method"`
	RateHz   float64 `json:"rateHz" yaml:"rateHz"`
	Strategy string  `json:"strategy,omitempty" yaml:"strategy,omitempty"`
}

// DeltaConfig contains delta compressor settings.
type DeltaConfig struct {
	MaxDepth            int     `json:"maxDepth,omitempty" yaml:"maxDepth,omitempty"`
	MinimumSavingsRatio float64 `json:"minimumSavingsRatio,omitempty" yaml:"minimumSavingsRatio,omitempty"`
}

// RetryConfig contains the handshake retry policies.
type RetryConfig struct {
	Create PolicyConfig `json:"create" yaml:"create"`
	Events PolicyConfig `json:"events" yaml:"events"`
}

// PolicyConfig is one exponential backoff policy.
type PolicyConfig struct {
	BaseDelay    Duration `json:"baseDelay,omitempty" yaml:"baseDelay,omitempty"`
	MaxAttempts  int      `json:"maxAttempts,omitempty" yaml:"maxAttempts,omitempty"`
	InitialDelay Duration `json:"initialDelay,omitempty" yaml:"initialDelay,omitempty"`
}

// ServerConfig contains native host server settings.
type ServerConfig struct {
	// Address is the listen address.
	Address string `json:"address,omitempty" yaml:"address,omitempty"`

	// AutoProvision embeds views on first connection.
	AutoProvision *bool `json:"autoProvision,omitempty" yaml:"autoProvision,omitempty"`

	// EmbedDelay simulates platform attach latency for provisioned views.
	EmbedDelay Duration `json:"embedDelay,omitempty" yaml:"embedDelay,omitempty"`

	// Targets are the message targets the headless runtime echoes.
	Targets []string `json:"targets,omitempty" yaml:"targets,omitempty"`

	WriteTimeout      Duration `json:"writeTimeout,omitempty" yaml:"writeTimeout,omitempty"`
	ShutdownTimeout   Duration `json:"shutdownTimeout,omitempty" yaml:"shutdownTimeout,omitempty"`
	CompressThreshold int      `json:"compressThreshold,omitempty" yaml:"compressThreshold,omitempty"`

	// AllowedOrigins restricts websocket origins. Empty allows any.
	AllowedOrigins []string `json:"allowedOrigins,omitempty" yaml:"allowedOrigins,omitempty"`
}

// StoreConfig selects where completed inbound transfers are saved.
type StoreConfig struct {
	// Type is "none", "disk" or "s3".
	Type string `json:"type,omitempty" yaml:"type,omitempty"`

	// Dir is the disk store directory, relative to the config file.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`

	// MaxSize rejects larger transfers. Zero means no limit.
	MaxSize int64 `json:"maxSize,omitempty" yaml:"maxSize,omitempty"`

	Bucket   string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Prefix   string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Region   string `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
}

// MetricsConfig contains observability settings.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Path      string `json:"path,omitempty" yaml:"path,omitempty"`

	// Tracing wraps controller calls in OpenTelemetry spans.
	Tracing bool `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	c := &Config{
		Metrics: MetricsConfig{Enabled: true},
	}
	c.applyDefaults()
	return c
}

// Default is an alias for New.
func Default() *Config {
	return New()
}

// Load reads configuration from the specified directory. It looks for
// enginebridge.json, then enginebridge.yaml.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, ConfigFileName)
	if _, err := os.Stat(path); err != nil {
		if yamlPath := filepath.Join(dir, YAMLConfigFileName); fileExists(yamlPath) {
			path = yamlPath
		}
	}
	return LoadFile(path)
}

// LoadFile reads configuration from the specified file path. Files ending
// in .yaml or .yml are parsed as YAML, everything else as JSON.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.CodeInvalidConfig).
				WithDetail("No " + ConfigFileName + " found in " + filepath.Dir(path)).
				WithSuggestion("Run 'enginebridge config init' to create one")
		}
		return nil, errors.New(errors.CodeInvalidConfig).Wrap(err)
	}

	cfg := &Config{}
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, errors.New(errors.CodeInvalidConfig).
			WithDetail("Failed to parse " + filepath.Base(path)).
			Wrap(err)
	}

	cfg.configPath = path
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to the file it was loaded from.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.Newf(errors.KindConfig, "no config path set")
	}
	return c.SaveTo(c.configPath)
}

// SaveTo writes the configuration to the specified path, as YAML when the
// extension says so.
func (c *Config) SaveTo(path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return errors.New(errors.CodeInvalidConfig).Wrap(err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.New(errors.CodeInvalidConfig).Wrap(err)
	}

	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the directory containing the config file.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return ""
	}
	return filepath.Dir(c.configPath)
}

// StorePath returns the disk store directory, resolved against the config
// file's directory.
func (c *Config) StorePath() string {
	if filepath.IsAbs(c.Store.Dir) {
		return c.Store.Dir
	}
	return filepath.Join(c.Dir(), c.Store.Dir)
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	if c.Controller.EngineType == "" {
		c.Controller.EngineType = string(protocol.EngineUnity)
	}
	if c.Server.Address == "" {
		c.Server.Address = DefaultAddress
	}
	if c.Server.AutoProvision == nil {
		on := true
		c.Server.AutoProvision = &on
	}
	if c.Store.Type == "" {
		c.Store.Type = StoreNone
	}
	if c.Store.Dir == "" {
		c.Store.Dir = DefaultStoreDir
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "enginebridge"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.New(errors.CodeInvalidConfig).Detailf(format, args...)
	}

	if !protocol.EngineType(c.Controller.EngineType).Valid() {
		return invalid("controller.engineType %q must be unity or unreal", c.Controller.EngineType)
	}
	if c.Controller.QueueCapacity < 0 {
		return invalid("controller.queueCapacity must not be negative")
	}
	if c.Binary.ChunkSize < 0 || c.Binary.CompressionThreshold < 0 || c.Binary.MaxSingleMessageSize < 0 {
		return invalid("binary sizes must not be negative")
	}
	if c.Binary.CompressionLevel < -2 || c.Binary.CompressionLevel > 9 {
		return invalid("binary.compressionLevel %d is out of range", c.Binary.CompressionLevel)
	}
	if c.Batch.MaxBatchSize < 0 {
		return invalid("batch.maxBatchSize must not be negative")
	}
	for i, r := range c.Throttle.Rates {
		if r.Target == "" || r.Method == "" {
			return invalid("throttle.rates[%d] needs a target and a method", i)
		}
		if r.RateHz <= 0 {
			return invalid("throttle.rates[%d].rateHz must be positive", i)
		}
		if _, err := throttle.ParseStrategy(r.Strategy); err != nil {
			return invalid("throttle.rates[%d]: %v", i, err)
		}
	}
	if r := c.Delta.MinimumSavingsRatio; r < 0 || r >= 1 {
		return invalid("delta.minimumSavingsRatio must be in [0, 1)")
	}
	for name, p := range map[string]PolicyConfig{"create": c.Retry.Create, "events": c.Retry.Events} {
		if p.MaxAttempts < 0 || p.BaseDelay < 0 || p.InitialDelay < 0 {
			return invalid("retry.%s must not be negative", name)
		}
	}
	switch c.Store.Type {
	case StoreNone, StoreDisk:
	case StoreS3:
		if c.Store.Bucket == "" {
			return invalid("store.bucket is required for the s3 store")
		}
	default:
		return invalid("store.type %q must be none, disk or s3", c.Store.Type)
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return invalid("metrics.path %q must start with /", c.Metrics.Path)
	}
	return nil
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	return fileExists(filepath.Join(dir, ConfigFileName)) ||
		fileExists(filepath.Join(dir, YAMLConfigFileName))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
