package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/okian/riskpulse/internal/adapters/broadcast"
	"github.com/okian/riskpulse/internal/adapters/http/api"
	"github.com/okian/riskpulse/internal/adapters/http/swagger"
	"github.com/okian/riskpulse/internal/adapters/mq/queue"
	"github.com/okian/riskpulse/internal/adapters/mq/redisbus"
	"github.com/okian/riskpulse/internal/adapters/repository"
	service "github.com/okian/riskpulse/internal/app"
	"github.com/okian/riskpulse/internal/config"
	"github.com/okian/riskpulse/pkg/logger"
	"github.com/okian/riskpulse/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	systemMetricsInterval     = 10 * time.Second
	badgerGCInterval          = 5 * time.Minute
	badgerGCDiscardRatio      = 0.5
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics
	// We collect our own custom system metrics instead
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		os.Stderr.WriteString("riskpulse: " + err.Error() + "\n")
		os.Exit(1)
	}
}

// run loads configuration, wires the service and serves HTTP until ctx ends.
func run(ctx context.Context, args []string) error {
	src, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := config.Load(ctx, src)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.InitWithWriter(os.Stdout, cfg.LogFormat); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	stores, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	b, err := openBroker(ctx, cfg)
	if err != nil {
		_ = stores.Close(ctx)
		return err
	}

	svc := service.New(stores,
		service.WithSource(b.source),
		service.WithPublisher(b.publisher),
		service.WithWorkerCount(cfg.WorkerCount),
		service.WithDedupe(cfg.DedupeEnabled, cfg.DedupeSize),
		service.WithBroadcast(cfg.BroadcastBuffer, broadcast.Policy(cfg.BroadcastPolicy)),
		service.WithLogger(log.Named("service")),
	)
	// the pool drains on Stop, not on the signal
	if err := svc.Start(context.WithoutCancel(ctx)); err != nil {
		b.close()
		_ = stores.Close(ctx)
		return fmt.Errorf("failed to start service: %w", err)
	}

	go startSystemMetricsUpdater(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(ctx, svc),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("HTTP server failed: %w", err)
		}
	}
	log.Info(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// stop accepting requests first, then drain workers before closing stores
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "service shutdown failed", logger.Error(err))
	}
	if err := stores.Close(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "store close failed", logger.Error(err))
	}
	b.close()

	log.Info(shutdownCtx, "server stopped")
	return runErr
}

func openStores(ctx context.Context, cfg *config.Config) (*repository.Stores, error) {
	stores, err := repository.Open(ctx, repository.Config{
		Backend: cfg.StoreBackend,
		Badger: repository.BadgerConfig{
			Path:           cfg.BadgerPath,
			InMemory:       cfg.BadgerInMemory,
			SyncWrites:     cfg.BadgerSyncWrites,
			GCInterval:     badgerGCInterval,
			GCDiscardRatio: badgerGCDiscardRatio,
			Logger:         logger.Get(),
		},
		Mongo:    repository.MongoConfig{URI: cfg.MongoURI, Database: cfg.MongoDatabase},
		Postgres: repository.PostgresConfig{URL: cfg.PostgresURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.StoreBackend, err)
	}
	return stores, nil
}

// broker is the telemetry source and sink chosen by configuration.
type broker struct {
	source    queue.Source
	publisher queue.Publisher
	close     func()
}

func openBroker(ctx context.Context, cfg *config.Config) (*broker, error) {
	switch cfg.Broker {
	case config.BrokerRedis:
		client, err := redisbus.Dial(ctx, redisbus.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		sub := redisbus.NewSubscriber(client, cfg.Topic, redisbus.WithLogger(logger.Get().Named("redisbus")))
		if err := sub.Subscribe(ctx); err != nil {
			_ = client.Close()
			return nil, err
		}
		return &broker{
			source:    sub,
			publisher: redisbus.NewPublisher(client, cfg.Topic),
			// the worker pool closes the subscriber
			close: func() { _ = client.Close() },
		}, nil
	default:
		q := queue.NewInMemoryQueue(queue.WithTopic(cfg.Topic), queue.WithCapacity(cfg.QueueSize))
		return &broker{source: q, publisher: q, close: func() {}}, nil
	}
}

func newMux(ctx context.Context, svc *service.Service) *http.ServeMux {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, api.WithLogger(logger.Get().Named("api"))).Register(ctx, mux)
	return mux
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
