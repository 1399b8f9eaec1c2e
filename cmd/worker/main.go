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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/podushkina/taskflow/internal/api"
	"github.com/podushkina/taskflow/internal/auth"
	"github.com/podushkina/taskflow/internal/config"
	"github.com/podushkina/taskflow/internal/handlers"
	"github.com/podushkina/taskflow/internal/logging"
	"github.com/podushkina/taskflow/internal/metrics"
	"github.com/podushkina/taskflow/internal/queue"
	redisstore "github.com/podushkina/taskflow/internal/store/redis"
	"github.com/podushkina/taskflow/internal/worker"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()

	cmd := &cobra.Command{
		Use:           "worker",
		Short:         "Runs jobs dispatched by the server and reports back through callbacks",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load(v, config.RoleWorker)
			log := logging.New(cfg.LogLevel, cfg.LogPretty)

			if err := config.Validate(cfg, config.RoleWorker); err != nil {
				log.WithField("evt", "config_invalid").Error(err)
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg, log); err != nil {
				log.WithField("evt", "worker_error").Error(err)
				return err
			}
			return nil
		},
	}

	cmd.Flags().String("addr", "", "listen address (overrides HTTP_ADDR and PORT)")
	cmd.Flags().String("log-level", "", "log level (overrides LOG_LEVEL)")
	cmd.Flags().Int("consumers", 0, "Redis queue consumers, 0 disables queue consumption")
	cmd.Flags().Duration("work-duration", 0, "simulated work duration (overrides WORK_DURATION)")
	_ = v.BindPFlag("http_addr", cmd.Flags().Lookup("addr"))
	_ = v.BindPFlag("log_level", cmd.Flags().Lookup("log-level"))
	_ = v.BindPFlag("queue_consumers", cmd.Flags().Lookup("consumers"))
	_ = v.BindPFlag("work_duration", cmd.Flags().Lookup("work-duration"))

	return cmd
}

func run(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	mlog := logging.Module(log, "main")
	mlog.WithFields(logrus.Fields{
		"evt":       "worker_starting",
		"env":       cfg.Env,
		"consumers": cfg.QueueConsumers,
	}).Info("starting worker")

	var sink metrics.Sink = metrics.NewNoopSink()
	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		sink = metrics.NewPrometheusSink(reg, log)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	notifier := worker.NewHTTPNotifier(log).
		WithRetry(cfg.CallbackTimeout, uint(cfg.CallbackMaxAttempts), cfg.CallbackBackoff).
		WithMetrics(sink)
	if cfg.IsProduction() {
		notifier = notifier.WithTokenProvider(auth.NewIDTokenProvider(), true)
	}

	var work handlers.Work = handlers.Instant
	if cfg.WorkDuration > 0 {
		work = handlers.Simulate(cfg.WorkDuration)
	}
	proc := worker.NewProcessor(notifier, work, log).WithMetrics(sink)
	runner := worker.NewRunner(proc, log)

	consumeCtx, cancelConsume := context.WithCancel(ctx)
	defer cancelConsume()

	var pool *worker.Pool
	if cfg.QueueConsumers > 0 {
		client, err := redisstore.Connect(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()

		pool = worker.NewPool(queue.New(client).WithOwner(cfg.WorkerID), proc, cfg.QueueConsumers, log)
		pool.Start(consumeCtx)
	}

	verifier := auth.NewGoogleVerifier(cfg.WorkerBaseURL)
	handler := api.NewWorkerHandler(runner, worker.Validate, !cfg.IsProduction(), log)
	router := api.NewWorkerRouter(handler, log, api.RouterOptions{
		Auth:        api.RequireServiceIdentity(verifier, cfg.ServerSAEmails, cfg.IsProduction(), log),
		Metrics:     metricsHandler,
		MetricsPath: cfg.MetricsPath,
	})

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		mlog.WithFields(logrus.Fields{"evt": "listening", "addr": cfg.HTTPAddr}).Info("worker listening")
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

	cancelConsume()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		mlog.WithField("evt", "shutdown_error").Errorf("http shutdown: %v", err)
	}
	if pool != nil {
		pool.Stop()
	}
	if err := runner.Wait(shutdownCtx); err != nil {
		mlog.WithField("evt", "shutdown_error").Warnf("in-flight jobs abandoned: %v", err)
	}

	mlog.WithField("evt", "worker_stopped").Info("worker stopped")
	return nil
}
