package adapter

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/objcachefs/objcachefs/internal/batch"
	"github.com/objcachefs/objcachefs/internal/buffer"
	"github.com/objcachefs/objcachefs/internal/config"
	"github.com/objcachefs/objcachefs/internal/fuse"
	"github.com/objcachefs/objcachefs/internal/metrics"
	"github.com/objcachefs/objcachefs/internal/storage/s3"
	"github.com/objcachefs/objcachefs/internal/vfscore"
	"github.com/objcachefs/objcachefs/pkg/api"
	"github.com/objcachefs/objcachefs/pkg/health"
	"github.com/objcachefs/objcachefs/pkg/status"
)

// Adapter wires an object storage backend, the page-cache core, the
// write buffer, metrics, and a FUSE mount into one running instance.
// It is the thing cmd-level entrypoints construct from a parsed
// storage URI and a loaded Configuration.
type Adapter struct {
	storageURI string
	mountPoint string
	bucketName string
	prefix     string
	config     *config.Configuration

	mu      sync.Mutex
	started bool

	backend     *s3.Backend
	core        *vfscore.Core
	writeBuffer *buffer.WriteBuffer
	collector   *metrics.Collector
	mountMgr    fuse.PlatformFileSystem

	healthTracker  *health.Tracker
	statusTracker  *status.Tracker
	apiServer      *api.Server
	batchProcessor *batch.Processor
}

// New creates a new ObjectFS adapter instance
func New(ctx context.Context, storageURI, mountPoint string, cfg *config.Configuration) (*Adapter, error) {
	bucketName, prefix, err := parseStorageURI(storageURI)
	if err != nil {
		return nil, fmt.Errorf("invalid storage URI: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	adapter := &Adapter{
		storageURI: storageURI,
		mountPoint: mountPoint,
		bucketName: bucketName,
		prefix:     prefix,
		config:     cfg,
	}

	return adapter, nil
}

// Start initializes and starts the adapter
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return fmt.Errorf("adapter already started")
	}

	log.Printf("Starting ObjectFS adapter...")
	log.Printf("Storage URI: %s", a.storageURI)
	log.Printf("Mount Point: %s", a.mountPoint)
	log.Printf("Cache Size: %s", a.config.Performance.CacheSize)
	log.Printf("Max Concurrency: %d", a.config.Performance.MaxConcurrency)

	s3Config := s3.NewDefaultConfig()
	s3Config.MaxRetries = a.config.Network.Retry.MaxAttempts
	s3Config.ConnectTimeout = a.config.Network.Timeouts.Connect
	s3Config.RequestTimeout = a.config.Network.Timeouts.Read
	s3Config.PoolSize = a.config.Performance.ConnectionPoolSize

	backend, err := s3.NewBackend(ctx, a.bucketName, s3Config)
	if err != nil {
		return fmt.Errorf("failed to initialize S3 backend: %w", err)
	}
	a.backend = backend

	a.healthTracker = health.NewTracker(health.DefaultConfig())
	a.healthTracker.RegisterComponent("s3_backend")
	a.healthTracker.RegisterComponent("fuse_mount")

	bridge := s3.NewTransferBridgeAdapter(backend)
	bridge.SetHealthTracker(a.healthTracker)

	if a.config.Features.BatchOperations {
		a.batchProcessor = batch.NewProcessor(backend, nil)
		if err := a.batchProcessor.Start(); err != nil {
			return fmt.Errorf("failed to start batch processor: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	recorder, err := metrics.NewCoreRecorder(registry, "objectfs", "core")
	if err != nil {
		return fmt.Errorf("failed to initialize core metrics: %w", err)
	}

	dataConfig, err := a.config.ToCoreConfig()
	if err != nil {
		return fmt.Errorf("failed to translate configuration: %w", err)
	}

	a.core = vfscore.New(dataConfig, bridge, recorder, a.config.Performance.MaxConcurrency, 64*1024, nil)

	flushCallback := func(key string, payload []byte, offset int64) error {
		return backend.PutObject(ctx, key, payload)
	}

	writeBuffer, err := buffer.NewWriteBuffer(&buffer.WriteBufferConfig{
		MaxBufferSize:  parseSize(a.config.Performance.WriteBufferSize),
		FlushThreshold: parseSize(a.config.WriteBuffer.MaxMemory),
		FlushInterval:  a.config.WriteBuffer.FlushInterval,
		AsyncFlush:     true,
	}, flushCallback)
	if err != nil {
		return fmt.Errorf("failed to initialize write buffer: %w", err)
	}
	a.writeBuffer = writeBuffer

	metricsConfig := &metrics.Config{
		Enabled:   a.config.Monitoring.Metrics.Enabled,
		Namespace: "objectfs",
	}
	collector, err := metrics.NewCollector(metricsConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics collector: %w", err)
	}
	a.collector = collector
	if err := collector.Start(ctx); err != nil {
		return fmt.Errorf("failed to start metrics collector: %w", err)
	}

	mountConfig := &fuse.MountConfig{
		MountPoint: a.mountPoint,
		Options: &fuse.MountOptions{
			AllowOther: true,
			MaxRead:    uint32(parseSize(a.config.Performance.ReadAheadSize)),
			MaxWrite:   uint32(parseSize(a.config.Performance.WriteBufferSize)),
		},
		Permissions: &fuse.Permissions{
			DefaultUID:  1000,
			DefaultGID:  1000,
			DefaultMode: 0644,
			DirMode:     0755,
		},
	}

	a.mountMgr = fuse.CreatePlatformMountManager(a.core, writeBuffer, collector, mountConfig)
	if err := a.mountMgr.Mount(ctx); err != nil {
		return fmt.Errorf("failed to mount filesystem: %w", err)
	}

	a.healthTracker.RecordSuccess("fuse_mount")

	a.statusTracker = status.NewTracker(status.TrackerConfig{HealthTracker: a.healthTracker})

	if a.config.Global.HealthPort > 0 {
		apiConfig := api.DefaultServerConfig()
		apiConfig.Address = fmt.Sprintf(":%d", a.config.Global.HealthPort)
		apiConfig.EnableMetrics = a.config.Monitoring.Metrics.Enabled
		a.apiServer = api.NewServer(apiConfig, a.statusTracker, a.healthTracker)
		a.apiServer.StartBackground()
	}

	a.started = true
	log.Printf("ObjectFS adapter started successfully")
	return nil
}

// Stop gracefully stops the adapter
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return fmt.Errorf("adapter not started")
	}

	log.Printf("Stopping ObjectFS adapter...")

	if a.batchProcessor != nil {
		if err := a.batchProcessor.Stop(); err != nil {
			log.Printf("batch processor stop error: %v", err)
		}
	}

	if a.apiServer != nil {
		if err := a.apiServer.Shutdown(ctx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
	}

	if a.mountMgr != nil && a.mountMgr.IsMounted() {
		if err := a.mountMgr.Unmount(); err != nil {
			log.Printf("unmount error: %v", err)
		}
	}

	if a.writeBuffer != nil {
		if err := a.writeBuffer.Close(); err != nil {
			log.Printf("write buffer close error: %v", err)
		}
	}

	if a.collector != nil {
		if err := a.collector.Stop(ctx); err != nil {
			log.Printf("metrics collector stop error: %v", err)
		}
	}

	a.started = false
	log.Printf("ObjectFS adapter stopped successfully")
	return nil
}

// parseStorageURI splits an s3://bucket/prefix URI into its bucket and
// key-prefix components.
func parseStorageURI(uri string) (bucket, prefix string, err error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("failed to parse URI: %w", err)
	}

	switch parsed.Scheme {
	case "s3":
		if parsed.Host == "" {
			return "", "", fmt.Errorf("S3 URI must include bucket name")
		}
	default:
		return "", "", fmt.Errorf("unsupported storage scheme: %s (only s3:// supported)", parsed.Scheme)
	}

	return parsed.Host, strings.TrimPrefix(parsed.Path, "/"), nil
}

// validateStorageURI validates the storage URI format without extracting
// its components; kept for callers that only need a yes/no check.
func validateStorageURI(uri string) error {
	_, _, err := parseStorageURI(uri)
	return err
}

// parseSize parses a human size string (e.g. "64MB") the way
// Configuration's other size fields are documented; an empty or
// unparseable value falls back to 1GB.
func parseSize(s string) int64 {
	const defaultSize = 1024 * 1024 * 1024

	s = strings.TrimSpace(s)
	if s == "" {
		return defaultSize
	}

	units := []struct {
		suffix string
		scale  int64
	}{
		{"GB", 1024 * 1024 * 1024},
		{"MB", 1024 * 1024},
		{"KB", 1024},
		{"B", 1},
	}

	upper := strings.ToUpper(s)
	for _, u := range units {
		if strings.HasSuffix(upper, u.suffix) {
			numPart := strings.TrimSpace(s[:len(s)-len(u.suffix)])
			n, err := strconv.ParseFloat(numPart, 64)
			if err != nil {
				return defaultSize
			}
			return int64(n * float64(u.scale))
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return defaultSize
	}
	return n
}
