package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/devstatic/devstatic/internal/cache"
	"github.com/devstatic/devstatic/internal/config"
	"github.com/devstatic/devstatic/internal/metrics"
	"github.com/devstatic/devstatic/internal/server"
	"github.com/devstatic/devstatic/internal/static"
	"github.com/devstatic/devstatic/internal/storage"
	"github.com/devstatic/devstatic/internal/storage/local"
	"github.com/devstatic/devstatic/internal/storage/memory"
	"github.com/devstatic/devstatic/internal/storage/s3"
	"github.com/devstatic/devstatic/pkg/retry"
	"github.com/devstatic/devstatic/pkg/utils"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = newServeCmd()

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve build artifacts over HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	f := cmd.Flags()
	f.String("address", "", "listen address (default :8080)")
	f.String("backend", "", "storage backend: local|memory|s3")
	f.String("dir", "", "artifact directory for the local and memory backends")
	f.String("bucket", "", "S3 bucket for the s3 backend")
	f.String("prefix", "", "S3 key prefix")
	f.String("root", "", "object-name prefix requests resolve under")
	f.String("public-path", "", "URL prefix the artifacts are mounted at")
	f.String("index", "", "index file served for directory requests")
	return cmd
}

// loadConfiguration applies defaults, the config file, the environment and
// finally command-line flags, then validates the result.
func loadConfiguration(cmd *cobra.Command) (*config.Configuration, error) {
	cfg := config.NewDefault()

	if globalFlags.ConfigFile != "" {
		if err := cfg.LoadFromFile(globalFlags.ConfigFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	if globalFlags.LogLevel != "" {
		cfg.Global.LogLevel = globalFlags.LogLevel
	}

	flags := cmd.Flags()
	overrides := map[string]*string{
		"address":     &cfg.Server.Address,
		"backend":     &cfg.Storage.Backend,
		"dir":         &cfg.Storage.Local.Directory,
		"bucket":      &cfg.Storage.S3.Bucket,
		"prefix":      &cfg.Storage.S3.Prefix,
		"root":        &cfg.Static.Root,
		"public-path": &cfg.Static.PublicPath,
		"index":       &cfg.Static.Index,
	}
	for name, dst := range overrides {
		if flags.Lookup(name) == nil || !flags.Changed(name) {
			continue
		}
		val, err := flags.GetString(name)
		if err != nil {
			return nil, err
		}
		*dst = val
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Configuration) (*utils.StructuredLogger, error) {
	level, err := utils.ParseLogLevel(cfg.Global.LogLevel)
	if err != nil {
		return nil, err
	}

	lc := utils.DefaultStructuredLoggerConfig()
	lc.Level = level
	lc.Format = utils.ParseLogFormat(cfg.Global.LogFormat)
	if cfg.Global.LogFile != "" {
		lc.Rotation = &utils.RotationConfig{
			Filename:   cfg.Global.LogFile,
			MaxSizeMB:  cfg.Global.LogMaxSizeMB,
			MaxBackups: cfg.Global.LogMaxBackups,
			Compress:   true,
		}
	}
	return utils.NewStructuredLogger(lc)
}

func newCollector(cfg *config.Configuration) (*metrics.Collector, error) {
	return metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Monitoring.Metrics.Enabled,
		Path:      cfg.Monitoring.Metrics.Path,
		Namespace: cfg.Monitoring.Metrics.Namespace,
	})
}

// buildBackend creates the configured backend, wrapped with the metadata
// cache when enabled and instrumented with collector.
func buildBackend(ctx context.Context, cfg *config.Configuration, collector *metrics.Collector, logger *utils.StructuredLogger) (storage.Backend, error) {
	var backend storage.Backend

	switch cfg.Storage.Backend {
	case config.BackendLocal:
		b, err := local.New(cfg.Storage.Local.Directory)
		if err != nil {
			return nil, err
		}
		backend = b

	case config.BackendMemory:
		b := memory.New()
		if dir := cfg.Storage.Local.Directory; dir != "" {
			n, err := b.LoadDir(dir)
			if err != nil {
				return nil, err
			}
			logger.Info("loaded build snapshot", map[string]interface{}{"dir": dir, "files": n})
		}
		backend = b

	case config.BackendS3:
		sc := s3.NewDefaultConfig()
		sc.Bucket = cfg.Storage.S3.Bucket
		sc.Prefix = cfg.Storage.S3.Prefix
		sc.Region = cfg.Storage.S3.Region
		sc.Endpoint = cfg.Storage.S3.Endpoint
		sc.AccessKeyID = cfg.Storage.S3.AccessKeyID
		sc.SecretAccessKey = cfg.Storage.S3.SecretAccessKey
		sc.SessionToken = cfg.Storage.S3.SessionToken
		sc.ForcePathStyle = cfg.Storage.S3.ForcePathStyle
		sc.MaxRetries = cfg.Storage.S3.MaxRetries
		sc.RequestTimeout = cfg.Storage.S3.RequestTimeout
		sc.Retry = retryConfig(cfg)
		sc.Breaker = cfg.Storage.S3.CircuitBreaker

		b, err := s3.NewBackend(ctx, sc, logger)
		if err != nil {
			return nil, err
		}
		backend = b

	default:
		return nil, fmt.Errorf("unknown storage backend: %q", cfg.Storage.Backend)
	}

	if mc := cfg.Storage.MetadataCache; mc.Enabled {
		backend = storage.NewCachedBackend(backend, &cache.CacheConfig{
			MaxEntries: mc.MaxEntries,
			TTL:        mc.TTL,
		})
	}

	return storage.NewInstrumentedBackend(backend, collector), nil
}

func retryConfig(cfg *config.Configuration) retry.Config {
	rc := retry.DefaultConfig()
	rc.MaxAttempts = cfg.Retry.MaxAttempts
	if cfg.Retry.InitialDelay > 0 {
		rc.InitialDelay = cfg.Retry.InitialDelay
	}
	if cfg.Retry.MaxDelay > 0 {
		rc.MaxDelay = cfg.Retry.MaxDelay
	}
	return rc
}

func staticOptions(cfg *config.Configuration) (static.Options, error) {
	hwm, err := cfg.HighWaterMarkBytes()
	if err != nil {
		return static.Options{}, err
	}

	opts := static.DefaultOptions()
	opts.Root = cfg.Static.Root
	opts.PublicPath = cfg.Static.PublicPath
	opts.Index = cfg.Static.Index
	opts.ETag = cfg.Static.ETag
	opts.AcceptRanges = cfg.Static.AcceptRanges
	opts.LastModified = cfg.Static.LastModified
	opts.CacheControl = cfg.Static.CacheControl
	opts.Ignore = static.IgnorePatterns(cfg.Static.Ignore)
	opts.HighWaterMark = hwm
	if len(cfg.Static.Headers) > 0 {
		opts.Headers = static.StaticHeaders(cfg.Static.Headers)
	}
	return opts, nil
}

// newServer wires configuration, storage, the static service and metrics
// into an HTTP server.
func newServer(ctx context.Context, cfg *config.Configuration, logger *utils.StructuredLogger) (*server.Server, error) {
	collector, err := newCollector(cfg)
	if err != nil {
		return nil, err
	}

	backend, err := buildBackend(ctx, cfg, collector, logger)
	if err != nil {
		return nil, err
	}

	opts, err := staticOptions(cfg)
	if err != nil {
		return nil, err
	}

	service := static.New(backend, opts, logger).WithRecorder(collector)
	return server.New(cfg, service, collector, logger), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfiguration(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
		_ = logger.Close()
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := newServer(ctx, cfg, logger)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
