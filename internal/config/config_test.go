package config

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vango-dev/enginebridge/internal/errors"
	"github.com/vango-dev/enginebridge/pkg/engine"
	"github.com/vango-dev/enginebridge/pkg/protocol"
	"github.com/vango-dev/enginebridge/pkg/retry"
	"github.com/vango-dev/enginebridge/pkg/throttle"
)

func TestNew(t *testing.T) {
	cfg := New()

	if cfg.Controller.EngineType != "unity" {
		t.Errorf("Controller.EngineType = %q, want unity", cfg.Controller.EngineType)
	}
	if cfg.Server.Address != DefaultAddress {
		t.Errorf("Server.Address = %q, want %q", cfg.Server.Address, DefaultAddress)
	}
	if cfg.Server.AutoProvision == nil || !*cfg.Server.AutoProvision {
		t.Error("Server.AutoProvision should default to true")
	}
	if cfg.Store.Type != StoreNone {
		t.Errorf("Store.Type = %q, want none", cfg.Store.Type)
	}
	if cfg.Metrics.Path != DefaultMetricsPath {
		t.Errorf("Metrics.Path = %q", cfg.Metrics.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()

	// Test loading non-existent config
	_, err := Load(tmpDir)
	if err == nil {
		t.Fatal("Expected error for missing config")
	}
	if errors.KindOf(err) != errors.KindConfig {
		t.Errorf("kind = %q, want config", errors.KindOf(err))
	}

	configJSON := `{
  "controller": {"engineType": "unreal", "queueCapacity": 20},
  "batch": {"flushInterval": "32ms", "maxBatchSize": 10},
  "throttle": {
    "tickInterval": 10,
    "rates": [{"target": "Player", "method": "Move", "rateHz": 30, "strategy": "drop"}]
  },
  "retry": {"create": {"baseDelay": "20ms", "maxAttempts": 3}},
  "server": {"address": "127.0.0.1:9000", "autoProvision": false},
  "store": {"type": "disk", "dir": "out"}
}
`
	if err := os.WriteFile(filepath.Join(tmpDir, ConfigFileName), []byte(configJSON), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Controller.EngineType != "unreal" {
		t.Errorf("EngineType = %q", cfg.Controller.EngineType)
	}
	if cfg.Batch.FlushInterval.D() != 32*time.Millisecond {
		t.Errorf("FlushInterval = %v", cfg.Batch.FlushInterval)
	}
	if cfg.Throttle.TickInterval.D() != 10*time.Millisecond {
		t.Errorf("numeric TickInterval = %v, want 10ms", cfg.Throttle.TickInterval)
	}
	if *cfg.Server.AutoProvision {
		t.Error("AutoProvision should be false")
	}
	if cfg.Path() != filepath.Join(tmpDir, ConfigFileName) {
		t.Errorf("Path() = %q", cfg.Path())
	}
	if cfg.StorePath() != filepath.Join(tmpDir, "out") {
		t.Errorf("StorePath() = %q", cfg.StorePath())
	}
}

func TestLoadYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configYAML := `
controller:
  engineType: unreal
batch:
  flushInterval: 8ms
server:
  targets: [Echo, Player]
metrics:
  enabled: true
  tracing: true
`
	if err := os.WriteFile(filepath.Join(tmpDir, YAMLConfigFileName), []byte(configYAML), 0644); err != nil {
		t.Fatal(err)
	}
	if !Exists(tmpDir) {
		t.Fatal("Exists() = false")
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Batch.FlushInterval.D() != 8*time.Millisecond {
		t.Errorf("FlushInterval = %v", cfg.Batch.FlushInterval)
	}
	if len(cfg.Server.Targets) != 2 || cfg.Server.Targets[1] != "Player" {
		t.Errorf("Targets = %v", cfg.Server.Targets)
	}
	if !cfg.Metrics.Tracing {
		t.Error("Tracing should be true")
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	os.WriteFile(path, []byte(`{"batch": {"flushInterval": "soon"}}`), 0644)

	_, err := LoadFile(path)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "soon") {
		t.Errorf("error should name the bad value: %v", err)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{ConfigFileName, YAMLConfigFileName} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			cfg := New()
			cfg.Batch.FlushInterval = Duration(20 * time.Millisecond)
			cfg.Throttle.Rates = []RateConfig{{Target: "A", Method: "b", RateHz: 5, Strategy: "keepFirst"}}
			if err := cfg.SaveTo(path); err != nil {
				t.Fatalf("SaveTo: %v", err)
			}

			data, _ := os.ReadFile(path)
			if !strings.Contains(string(data), "20ms") {
				t.Errorf("durations should be written as strings:\n%s", data)
			}

			loaded, err := LoadFile(path)
			if err != nil {
				t.Fatalf("LoadFile: %v", err)
			}
			if loaded.Batch.FlushInterval != cfg.Batch.FlushInterval {
				t.Errorf("FlushInterval = %v", loaded.Batch.FlushInterval)
			}
			if len(loaded.Throttle.Rates) != 1 || loaded.Throttle.Rates[0].Strategy != "keepFirst" {
				t.Errorf("Rates = %+v", loaded.Throttle.Rates)
			}
			if err := loaded.Save(); err != nil {
				t.Errorf("Save: %v", err)
			}
		})
	}
}

func TestSaveWithoutPath(t *testing.T) {
	if err := New().Save(); err == nil {
		t.Error("Save() without a path should fail")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"engine", func(c *Config) { c.Controller.EngineType = "godot" }, "engineType"},
		{"queue", func(c *Config) { c.Controller.QueueCapacity = -1 }, "queueCapacity"},
		{"level", func(c *Config) { c.Binary.CompressionLevel = 12 }, "compressionLevel"},
		{"rate target", func(c *Config) { c.Throttle.Rates = []RateConfig{{Method: "m", RateHz: 1}} }, "target"},
		{"rate hz", func(c *Config) { c.Throttle.Rates = []RateConfig{{Target: "t", Method: "m"}} }, "rateHz"},
		{"strategy", func(c *Config) {
			c.Throttle.Rates = []RateConfig{{Target: "t", Method: "m", RateHz: 1, Strategy: "fifo"}}
		}, "fifo"},
		{"ratio", func(c *Config) { c.Delta.MinimumSavingsRatio = 1.5 }, "minimumSavingsRatio"},
		{"retry", func(c *Config) { c.Retry.Events.MaxAttempts = -2 }, "retry.events"},
		{"store type", func(c *Config) { c.Store.Type = "redis" }, "store.type"},
		{"bucket", func(c *Config) { c.Store.Type = StoreS3 }, "bucket"},
		{"metrics path", func(c *Config) { c.Metrics.Path = "metrics" }, "metrics.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}
}

func TestEngineConversion(t *testing.T) {
	cfg := New()
	cfg.Controller.EngineType = "unreal"
	cfg.Controller.QueueCapacity = 5
	cfg.Binary.ChunkSize = 1024
	cfg.Retry.Create = PolicyConfig{MaxAttempts: 3}
	cfg.Retry.Events = PolicyConfig{BaseDelay: Duration(time.Millisecond)}

	ec := cfg.Engine()
	def := engine.DefaultConfig()

	if ec.EngineType != protocol.EngineUnreal || ec.QueueCapacity != 5 {
		t.Errorf("engine = %v, capacity = %d", ec.EngineType, ec.QueueCapacity)
	}
	if ec.Binary.ChunkSize != 1024 || ec.Binary.MaxSingleMessageSize != def.Binary.MaxSingleMessageSize {
		t.Errorf("binary = %+v", ec.Binary)
	}
	if ec.CreateRetry.MaxAttempts != 3 || ec.CreateRetry.BaseDelay != retry.DefaultBaseDelay {
		t.Errorf("create retry = %+v", ec.CreateRetry)
	}
	if ec.EventRetry.InitialDelay != engine.DefaultEventSetupDelay || ec.EventRetry.BaseDelay != time.Millisecond {
		t.Errorf("event retry = %+v", ec.EventRetry)
	}
	if ec.Batch != def.Batch || ec.Delta != def.Delta {
		t.Error("unset sections should keep defaults")
	}
}

type rateRecorder map[string]throttle.Strategy

func (r rateRecorder) SetRate(target, method string, _ float64, s throttle.Strategy) {
	r[throttle.Key(target, method)] = s
}

func TestApplyRates(t *testing.T) {
	tc := ThrottleConfig{Rates: []RateConfig{
		{Target: "Player", Method: "Move", RateHz: 30},
		{Target: "Camera", Method: "Look", RateHz: 10, Strategy: "drop"},
	}}
	got := rateRecorder{}
	tc.ApplyRates(got)

	if got[throttle.Key("Player", "Move")] != throttle.KeepLatest {
		t.Error("empty strategy should be keepLatest")
	}
	if got[throttle.Key("Camera", "Look")] != throttle.Drop {
		t.Error("Camera:Look should drop")
	}
}

func TestNativeServerOrigins(t *testing.T) {
	cfg := New()
	cfg.Server.AllowedOrigins = []string{"app.example.com"}
	sc := cfg.NativeServer(nil)

	req := httptest.NewRequest("GET", "/views/1/ws", nil)
	if !sc.CheckOrigin(req) {
		t.Error("requests without Origin should pass")
	}
	req.Header.Set("Origin", "https://app.example.com")
	if !sc.CheckOrigin(req) {
		t.Error("allowed origin rejected")
	}
	req.Header.Set("Origin", "https://evil.example.com")
	if sc.CheckOrigin(req) {
		t.Error("foreign origin accepted")
	}
	if !sc.AutoProvision {
		t.Error("AutoProvision should carry over")
	}
}

func TestOpenStore(t *testing.T) {
	cfg := New()
	st, err := cfg.OpenStore()
	if err != nil || st != nil {
		t.Fatalf("none backend = %v, %v", st, err)
	}

	cfg.configPath = filepath.Join(t.TempDir(), ConfigFileName)
	cfg.Store.Type = StoreDisk
	st, err = cfg.OpenStore()
	if err != nil || st == nil {
		t.Fatalf("disk backend = %v, %v", st, err)
	}
	if _, err := os.Stat(cfg.StorePath()); err != nil {
		t.Errorf("store dir not created: %v", err)
	}

	cfg.Store = StoreConfig{Type: StoreS3, Bucket: "transfers", Region: "us-east-1", Endpoint: "http://localhost:9000"}
	if st, err = cfg.OpenStore(); err != nil || st == nil {
		t.Fatalf("s3 backend = %v, %v", st, err)
	}
}
