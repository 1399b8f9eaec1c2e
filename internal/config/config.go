// Package config loads process configuration from the environment through
// viper. Command-line flags bound by the cmd packages take precedence.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Role string

const (
	RoleServer Role = "server"
	RoleWorker Role = "worker"
)

const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvProduction  = "production"
)

const (
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

const (
	DispatchHTTP       = "http"
	DispatchQueue      = "queue"
	DispatchCloudTasks = "cloudtasks"
)

type Config struct {
	Env       string
	LogLevel  string
	LogPretty bool

	HTTPAddr            string
	HTTPShutdownTimeout time.Duration

	MetricsEnabled bool
	MetricsPath    string

	StoreDriver   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DatabaseURL   string

	// DispatchMode: "http" (direct call), "queue" (Redis list) or
	// "cloudtasks" (managed queue).
	DispatchMode      string
	WorkerBaseURL     string
	ServerInternalURL string
	DispatchTimeout   time.Duration
	// BreakerThreshold: 0 disables the circuit breaker.
	BreakerThreshold int
	BreakerCooldown  time.Duration

	CloudTasksProjectID string
	CloudTasksLocation  string
	CloudTasksQueue     string
	CloudTasksSAEmail   string

	// WorkerSAEmails may call the server's callbacks.
	WorkerSAEmails []string
	// ServerSAEmails may call the worker's enqueue endpoint.
	ServerSAEmails []string

	MetricsCacheTTL time.Duration

	ReconcileEnabled   bool
	ReconcileInterval  time.Duration
	ReconcileThreshold time.Duration
	ReconcileBatchSize int

	EventsChannel string

	WorkDuration        time.Duration
	CallbackTimeout     time.Duration
	CallbackMaxAttempts int
	CallbackBackoff     time.Duration
	QueueConsumers      int
	// WorkerID names this replica's in-flight list on the command queue.
	WorkerID string
}

// IsProduction reports whether service identity checks are enforced.
func (c Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// NewViper returns a viper instance reading the environment, with every
// default set.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("app_env", EnvDevelopment)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
	v.SetDefault("http_addr", "")
	v.SetDefault("port", "")
	v.SetDefault("http_shutdown_timeout", 30*time.Second)
	v.SetDefault("metrics_enabled", true)
	v.SetDefault("metrics_path", "/metrics")
	v.SetDefault("store_driver", StoreRedis)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("database_url", "")
	v.SetDefault("dispatch_mode", DispatchHTTP)
	v.SetDefault("worker_base_url", "http://localhost:8081")
	v.SetDefault("server_internal_url", "http://localhost:8080")
	v.SetDefault("dispatch_timeout", time.Second)
	v.SetDefault("breaker_threshold", 5)
	v.SetDefault("breaker_cooldown", 30*time.Second)
	v.SetDefault("cloud_tasks_project_id", "")
	v.SetDefault("cloud_tasks_location", "")
	v.SetDefault("cloud_tasks_queue", "")
	v.SetDefault("cloud_tasks_sa_email", "")
	v.SetDefault("worker_sa_email", "")
	v.SetDefault("server_sa_email", "")
	v.SetDefault("metrics_cache_ttl", 5*time.Second)
	v.SetDefault("reconcile_enabled", false)
	v.SetDefault("reconcile_interval", time.Minute)
	v.SetDefault("reconcile_threshold", 5*time.Minute)
	v.SetDefault("reconcile_batch_size", 100)
	v.SetDefault("events_channel", "")
	v.SetDefault("work_duration", 3*time.Second)
	v.SetDefault("callback_timeout", 1500*time.Millisecond)
	v.SetDefault("callback_max_attempts", 3)
	v.SetDefault("callback_backoff", 200*time.Millisecond)
	v.SetDefault("queue_consumers", 0)
	v.SetDefault("worker_id", "")
	return v
}

// Load reads a Config for role from v.
func Load(v *viper.Viper, role Role) Config {
	return Config{
		Env:       strings.ToLower(v.GetString("app_env")),
		LogLevel:  v.GetString("log_level"),
		LogPretty: v.GetBool("log_pretty"),

		HTTPAddr:            httpAddr(v, role),
		HTTPShutdownTimeout: v.GetDuration("http_shutdown_timeout"),

		MetricsEnabled: v.GetBool("metrics_enabled"),
		MetricsPath:    v.GetString("metrics_path"),

		StoreDriver:   strings.ToLower(v.GetString("store_driver")),
		RedisAddr:     v.GetString("redis_addr"),
		RedisPassword: v.GetString("redis_password"),
		RedisDB:       v.GetInt("redis_db"),
		DatabaseURL:   v.GetString("database_url"),

		DispatchMode:      strings.ToLower(v.GetString("dispatch_mode")),
		WorkerBaseURL:     v.GetString("worker_base_url"),
		ServerInternalURL: v.GetString("server_internal_url"),
		DispatchTimeout:   v.GetDuration("dispatch_timeout"),
		BreakerThreshold:  v.GetInt("breaker_threshold"),
		BreakerCooldown:   v.GetDuration("breaker_cooldown"),

		CloudTasksProjectID: v.GetString("cloud_tasks_project_id"),
		CloudTasksLocation:  v.GetString("cloud_tasks_location"),
		CloudTasksQueue:     v.GetString("cloud_tasks_queue"),
		CloudTasksSAEmail:   v.GetString("cloud_tasks_sa_email"),

		WorkerSAEmails: splitList(v.GetString("worker_sa_email")),
		ServerSAEmails: splitList(v.GetString("server_sa_email")),

		MetricsCacheTTL: v.GetDuration("metrics_cache_ttl"),

		ReconcileEnabled:   v.GetBool("reconcile_enabled"),
		ReconcileInterval:  v.GetDuration("reconcile_interval"),
		ReconcileThreshold: v.GetDuration("reconcile_threshold"),
		ReconcileBatchSize: v.GetInt("reconcile_batch_size"),

		EventsChannel: v.GetString("events_channel"),

		WorkDuration:        v.GetDuration("work_duration"),
		CallbackTimeout:     v.GetDuration("callback_timeout"),
		CallbackMaxAttempts: v.GetInt("callback_max_attempts"),
		CallbackBackoff:     v.GetDuration("callback_backoff"),
		QueueConsumers:      v.GetInt("queue_consumers"),
		WorkerID:            workerID(v),
	}
}

// httpAddr prefers HTTP_ADDR, then PORT, then the role's default port.
func httpAddr(v *viper.Viper, role Role) string {
	if addr := v.GetString("http_addr"); addr != "" {
		return addr
	}
	if port := v.GetString("port"); port != "" {
		return ":" + port
	}
	if role == RoleWorker {
		return ":8081"
	}
	return ":8080"
}

// workerID prefers WORKER_ID, then the host name.
func workerID(v *viper.Viper) string {
	if id := v.GetString("worker_id"); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil {
		return ""
	}
	return host
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
