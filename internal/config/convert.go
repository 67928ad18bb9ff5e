package config

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vango-dev/enginebridge/internal/errors"
	"github.com/vango-dev/enginebridge/pkg/batch"
	"github.com/vango-dev/enginebridge/pkg/delta"
	"github.com/vango-dev/enginebridge/pkg/engine"
	"github.com/vango-dev/enginebridge/pkg/nativehost"
	"github.com/vango-dev/enginebridge/pkg/protocol"
	"github.com/vango-dev/enginebridge/pkg/retry"
	"github.com/vango-dev/enginebridge/pkg/store"
	"github.com/vango-dev/enginebridge/pkg/throttle"
	"github.com/vango-dev/enginebridge/pkg/transfer"
)

// The conversions below start from each package's defaults and override
// only the fields set in the file.

// Codec returns the transfer codec configuration.
func (b BinaryConfig) Codec() transfer.Config {
	c := transfer.DefaultConfig()
	if b.CompressionThreshold > 0 {
		c.CompressionThreshold = b.CompressionThreshold
	}
	if b.ChunkSize > 0 {
		c.ChunkSize = b.ChunkSize
	}
	if b.MaxSingleMessageSize > 0 {
		c.MaxSingleMessageSize = b.MaxSingleMessageSize
	}
	if b.CompressionLevel != 0 {
		c.CompressionLevel = b.CompressionLevel
	}
	return c
}

// Assembler returns the chunk assembler configuration.
func (b BinaryConfig) Assembler() transfer.AssemblerConfig {
	return transfer.AssemblerConfig{TTL: b.AssemblerTTL.D()}
}

// Batcher returns the batcher configuration.
func (b BatchConfig) Batcher() batch.Config {
	c := batch.DefaultConfig()
	if b.FlushInterval > 0 {
		c.FlushInterval = b.FlushInterval.D()
	}
	if b.MaxBatchSize > 0 {
		c.MaxBatchSize = b.MaxBatchSize
	}
	c.DisableCoalescing = b.DisableCoalescing
	return c
}

// Throttler returns the throttler configuration. Rates are applied per
// controller with ApplyRates.
func (t ThrottleConfig) Throttler() throttle.Config {
	c := throttle.DefaultConfig()
	if t.TickInterval > 0 {
		c.TickInterval = t.TickInterval.D()
	}
	return c
}

// RateSetter is implemented by engine.Controller.
type RateSetter interface {
	SetRate(target, method string, hz float64, strategy throttle.Strategy)
}

// ApplyRates configures every rate on s. Strategies were checked by
// Validate; an unknown one falls back to keepLatest.
func (t ThrottleConfig) ApplyRates(s RateSetter) {
	for _, r := range t.Rates {
		strategy, _ := throttle.ParseStrategy(r.Strategy)
		s.SetRate(r.Target, r.Method, r.RateHz, strategy)
	}
}

// Compressor returns the delta compressor configuration.
func (d DeltaConfig) Compressor() delta.Config {
	c := delta.DefaultConfig()
	if d.MaxDepth > 0 {
		c.MaxDepth = d.MaxDepth
	}
	if d.MinimumSavingsRatio > 0 {
		c.MinimumSavingsRatio = d.MinimumSavingsRatio
	}
	return c
}

// Policy returns the retry policy, falling back to def for unset fields.
func (p PolicyConfig) Policy(def retry.Policy) retry.Policy {
	if p.BaseDelay > 0 {
		def.BaseDelay = p.BaseDelay.D()
	}
	if p.MaxAttempts > 0 {
		def.MaxAttempts = p.MaxAttempts
	}
	if p.InitialDelay > 0 {
		def.InitialDelay = p.InitialDelay.D()
	}
	return def
}

// Engine returns the controller configuration. The caller sets the view
// id, middleware, clock and logger.
func (c *Config) Engine() engine.Config {
	ec := engine.DefaultConfig()
	ec.EngineType = protocol.EngineType(c.Controller.EngineType)
	if c.Controller.QueueCapacity > 0 {
		ec.QueueCapacity = c.Controller.QueueCapacity
	}
	if c.Controller.StreamBuffer > 0 {
		ec.StreamBuffer = c.Controller.StreamBuffer
	}
	if len(c.Controller.CreateOptions) > 0 {
		ec.CreateOptions = c.Controller.CreateOptions
	}
	ec.CreateRetry = c.Retry.Create.Policy(ec.CreateRetry)
	ec.EventRetry = c.Retry.Events.Policy(ec.EventRetry)
	ec.Binary = c.Binary.Codec()
	ec.Batch = c.Batch.Batcher()
	ec.Throttle = c.Throttle.Throttler()
	ec.Delta = c.Delta.Compressor()
	return ec
}

// Handler returns the native handler template used by the embedder.
func (c *Config) Handler(logger *slog.Logger) nativehost.HandlerConfig {
	return nativehost.HandlerConfig{
		Binary:        c.Binary.Codec(),
		Assembler:     c.Binary.Assembler(),
		DeltaMaxDepth: c.Delta.Compressor().MaxDepth,
		Logger:        logger,
	}
}

// NativeServer returns the native host server configuration.
func (c *Config) NativeServer(logger *slog.Logger) nativehost.ServerConfig {
	sc := nativehost.DefaultServerConfig()
	sc.Address = c.Server.Address
	sc.EngineType = protocol.EngineType(c.Controller.EngineType)
	if c.Server.AutoProvision != nil {
		sc.AutoProvision = *c.Server.AutoProvision
	}
	if c.Server.WriteTimeout > 0 {
		sc.WriteTimeout = c.Server.WriteTimeout.D()
	}
	if c.Server.ShutdownTimeout > 0 {
		sc.ShutdownTimeout = c.Server.ShutdownTimeout.D()
	}
	if c.Server.CompressThreshold != 0 {
		sc.CompressThreshold = c.Server.CompressThreshold
	}
	if len(c.Server.AllowedOrigins) > 0 {
		sc.CheckOrigin = originChecker(c.Server.AllowedOrigins)
	}
	sc.MetricsPath = c.Metrics.Path
	sc.Logger = logger
	return sc
}

// Headless returns the headless runtime configuration for engine.
func (c *Config) Headless(engineType protocol.EngineType, logger *slog.Logger) nativehost.HeadlessConfig {
	return nativehost.HeadlessConfig{
		EngineType: engineType,
		Targets:    c.Server.Targets,
		Logger:     logger,
	}
}

// originChecker accepts requests without an Origin header and those whose
// origin host is in allowed.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return slices.Contains(allowed, u.Host) || slices.Contains(allowed, origin)
	}
}

// OpenStore builds the configured transfer store. It returns nil for the
// "none" backend. The S3 backend reads credentials from the standard
// AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY and AWS_SESSION_TOKEN variables.
func (c *Config) OpenStore() (store.Store, error) {
	switch c.Store.Type {
	case StoreDisk:
		ds, err := store.NewDiskStore(c.StorePath(), c.Store.MaxSize)
		if err != nil {
			return nil, errors.New(errors.CodeInvalidConfig).Detailf("store.dir %s", c.StorePath()).Wrap(err)
		}
		return ds, nil
	case StoreS3:
		opts := s3.Options{
			Region:      c.Store.Region,
			Credentials: aws.NewCredentialsCache(envCredentials{}),
		}
		if c.Store.Endpoint != "" {
			opts.BaseEndpoint = aws.String(c.Store.Endpoint)
			opts.UsePathStyle = true
		}
		return store.NewS3Store(s3.New(opts), c.Store.Bucket, c.Store.Prefix, c.Store.MaxSize), nil
	}
	return nil, nil
}

type envCredentials struct{}

func (envCredentials) Retrieve(context.Context) (aws.Credentials, error) {
	creds := aws.Credentials{
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		Source:          "EnvironmentVariables",
	}
	if !creds.HasKeys() {
		return aws.Credentials{}, errors.Newf(errors.KindConfig, "AWS credentials are not set in the environment")
	}
	return creds, nil
}

// Embedder returns an embedder configuration backed by headless runtimes
// that echo the configured targets. The caller sets Handler.Store.
func (c *Config) Embedder(logger *slog.Logger) nativehost.EmbedderConfig {
	return nativehost.EmbedderConfig{
		NewRuntime: func(engineType protocol.EngineType, _ map[string]any) nativehost.Runtime {
			return nativehost.NewHeadlessRuntime(c.Headless(engineType, logger))
		},
		Delay:   c.Server.EmbedDelay.D(),
		Handler: c.Handler(logger),
		Logger:  logger,
	}
}
