package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/podushkina/taskflow/internal/api"
	"github.com/podushkina/taskflow/internal/auth"
	"github.com/podushkina/taskflow/internal/config"
	"github.com/podushkina/taskflow/internal/dispatch"
	"github.com/podushkina/taskflow/internal/events"
	"github.com/podushkina/taskflow/internal/logging"
	"github.com/podushkina/taskflow/internal/metrics"
	"github.com/podushkina/taskflow/internal/queue"
	"github.com/podushkina/taskflow/internal/reconciler"
	"github.com/podushkina/taskflow/internal/service"
	"github.com/podushkina/taskflow/internal/store/memory"
	"github.com/podushkina/taskflow/internal/store/postgres"
	redisstore "github.com/podushkina/taskflow/internal/store/redis"
)

// jobStore is what the server needs from a store backend.
type jobStore interface {
	service.Store
	reconciler.Store
	api.Pinger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()

	cmd := &cobra.Command{
		Use:           "server",
		Short:         "Job API: enqueue, status, metrics and worker callbacks",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load(v, config.RoleServer)
			log := logging.New(cfg.LogLevel, cfg.LogPretty)

			if err := config.Validate(cfg, config.RoleServer); err != nil {
				log.WithField("evt", "config_invalid").Error(err)
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg, log); err != nil {
				log.WithField("evt", "server_error").Error(err)
				return err
			}
			return nil
		},
	}

	cmd.Flags().String("addr", "", "listen address (overrides HTTP_ADDR and PORT)")
	cmd.Flags().String("log-level", "", "log level (overrides LOG_LEVEL)")
	cmd.Flags().String("store", "", "job store: redis, postgres or memory")
	cmd.Flags().String("dispatch", "", "dispatch mode: http, queue or cloudtasks")
	_ = v.BindPFlag("http_addr", cmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("log_level", cmd.Flags().Lookup("log-level"))
	_ = v.BindPFlag("store_driver", cmd.Flags().Lookup("store"))
	_ = v.BindPFlag("dispatch_mode", cmd.Flags().Lookup("dispatch"))

	return cmd
}

func run(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	mlog := logging.Module(log, "main")
	mlog.WithFields(logrus.Fields{
		"evt":      "server_starting",
		"env":      cfg.Env,
		"store":    cfg.StoreDriver,
		"dispatch": cfg.DispatchMode,
	}).Info("starting server")

	var sink metrics.Sink = metrics.NewNoopSink()
	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		sink = metrics.NewPrometheusSink(reg, log)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	var rdb *redis.Client
	if needsRedis(cfg) {
		client, err := redisstore.Connect(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		rdb = client
		mlog.WithField("evt", "redis_connected").Info("connected to redis")
	}

	store, closeStore, err := openStore(ctx, cfg, rdb)
	if err != nil {
		return err
	}
	defer closeStore()

	dispatcher, closeDispatcher, err := newDispatcher(ctx, cfg, rdb, sink, log)
	if err != nil {
		return err
	}
	defer closeDispatcher()

	publishers := events.Multi{events.NewLogPublisher(log)}
	if cfg.EventsChannel != "" && rdb != nil {
		publishers = append(publishers, events.NewRedisPublisher(rdb, cfg.EventsChannel, log))
	}

	svc := service.New(store, dispatcher, cfg.ServerInternalURL, log).
		WithPublisher(publishers).
		WithMetrics(sink).
		WithMetricsCacheTTL(cfg.MetricsCacheTTL)

	verifier := auth.NewGoogleVerifier(cfg.ServerInternalURL)
	handler := api.NewHandler(svc, store, !cfg.IsProduction(), log)
	router := api.NewServerRouter(handler, log, api.RouterOptions{
		Auth:        api.RequireServiceIdentity(verifier, cfg.WorkerSAEmails, cfg.IsProduction(), log),
		Metrics:     metricsHandler,
		MetricsPath: cfg.MetricsPath,
	})

	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()
	var bg sync.WaitGroup

	if cfg.ReconcileEnabled {
		rec := reconciler.New(reconciler.Config{
			Interval:  cfg.ReconcileInterval,
			Threshold: cfg.ReconcileThreshold,
			BatchSize: cfg.ReconcileBatchSize,
		}, store, svc, log).WithMetrics(sink)

		bg.Add(1)
		go func() {
			defer bg.Done()
			rec.Run(bgCtx)
		}()
	}

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		mlog.WithFields(logrus.Fields{"evt": "listening", "addr": cfg.HTTPAddr}).Info("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		mlog.WithField("evt", "shutdown_signal").Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	cancelBg()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		mlog.WithField("evt", "shutdown_error").Errorf("http shutdown: %v", err)
	}
	bg.Wait()

	mlog.WithField("evt", "server_stopped").Info("server stopped")
	return nil
}

func needsRedis(cfg config.Config) bool {
	return cfg.StoreDriver == config.StoreRedis ||
		cfg.DispatchMode == config.DispatchQueue ||
		cfg.EventsChannel != ""
}

func openStore(ctx context.Context, cfg config.Config, rdb *redis.Client) (jobStore, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreRedis:
		return redisstore.New(rdb), func() {}, nil

	case config.StorePostgres:
		pg, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		return pg, pg.Close, nil

	case config.StoreMemory:
		return memory.New(), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func newDispatcher(ctx context.Context, cfg config.Config, rdb *redis.Client, sink metrics.Sink, log logrus.FieldLogger) (service.Dispatcher, func(), error) {
	switch cfg.DispatchMode {
	case config.DispatchHTTP:
		d := dispatch.NewHTTPDispatcher(cfg.WorkerBaseURL, log).
			WithTimeout(cfg.DispatchTimeout).
			WithBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown).
			WithMetrics(sink)
		if cfg.IsProduction() {
			d = d.WithTokenProvider(auth.NewIDTokenProvider())
		}
		return d, func() {}, nil

	case config.DispatchQueue:
		return dispatch.NewQueueDispatcher(queue.New(rdb), log).WithMetrics(sink), func() {}, nil

	case config.DispatchCloudTasks:
		client, err := cloudtasks.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("cloud tasks client: %w", err)
		}
		d := dispatch.NewCloudTasksDispatcher(dispatch.CloudTasksClient{Client: client}, dispatch.CloudTasksConfig{
			ProjectID:           cfg.CloudTasksProjectID,
			Location:            cfg.CloudTasksLocation,
			Queue:               cfg.CloudTasksQueue,
			ServiceAccountEmail: cfg.CloudTasksSAEmail,
			WorkerBaseURL:       cfg.WorkerBaseURL,
		}, log).
			WithTimeout(cfg.DispatchTimeout).
			WithMetrics(sink)
		return d, func() { client.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown dispatch mode %q", cfg.DispatchMode)
}
