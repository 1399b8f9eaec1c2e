package config

import (
	"fmt"
	"net/url"
	"strings"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors collects every problem found by Validate.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d validation errors: %s", len(e), strings.Join(msgs, "; "))
}

// Validate returns nil or ValidationErrors.
func Validate(cfg Config, role Role) error {
	var errs ValidationErrors
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	switch cfg.Env {
	case EnvDevelopment, EnvTest, EnvProduction:
	default:
		add("APP_ENV", "must be development, test or production")
	}

	if cfg.HTTPShutdownTimeout <= 0 {
		add("HTTP_SHUTDOWN_TIMEOUT", "must be positive")
	}
	if cfg.MetricsEnabled && !strings.HasPrefix(cfg.MetricsPath, "/") {
		add("METRICS_PATH", "must start with /")
	}

	switch role {
	case RoleServer:
		validateServer(cfg, add)
	case RoleWorker:
		validateWorker(cfg, add)
	default:
		add("role", fmt.Sprintf("unknown role %q", role))
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateServer(cfg Config, add func(field, msg string)) {
	switch cfg.StoreDriver {
	case StoreRedis:
		if cfg.RedisAddr == "" {
			add("REDIS_ADDR", "required for the redis store")
		}
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			add("DATABASE_URL", "required for the postgres store")
		}
	case StoreMemory:
		if cfg.IsProduction() {
			add("STORE_DRIVER", "memory store is not allowed in production")
		}
	default:
		add("STORE_DRIVER", "must be redis, postgres or memory")
	}

	if !absoluteURL(cfg.ServerInternalURL) {
		add("SERVER_INTERNAL_URL", "must be an absolute URL")
	}

	switch cfg.DispatchMode {
	case DispatchHTTP:
		if !absoluteURL(cfg.WorkerBaseURL) {
			add("WORKER_BASE_URL", "must be an absolute URL")
		}
		if cfg.DispatchTimeout <= 0 {
			add("DISPATCH_TIMEOUT", "must be positive")
		}
		if cfg.BreakerThreshold < 0 {
			add("BREAKER_THRESHOLD", "must be >= 0")
		}
		if cfg.BreakerThreshold > 0 && cfg.BreakerCooldown <= 0 {
			add("BREAKER_COOLDOWN", "must be positive when the breaker is enabled")
		}
	case DispatchQueue:
		if cfg.RedisAddr == "" {
			add("REDIS_ADDR", "required for queue dispatch")
		}
	case DispatchCloudTasks:
		if !absoluteURL(cfg.WorkerBaseURL) {
			add("WORKER_BASE_URL", "must be an absolute URL")
		}
		if cfg.CloudTasksProjectID == "" {
			add("CLOUD_TASKS_PROJECT_ID", "required for cloudtasks dispatch")
		}
		if cfg.CloudTasksLocation == "" {
			add("CLOUD_TASKS_LOCATION", "required for cloudtasks dispatch")
		}
		if cfg.CloudTasksQueue == "" {
			add("CLOUD_TASKS_QUEUE", "required for cloudtasks dispatch")
		}
	default:
		add("DISPATCH_MODE", "must be http, queue or cloudtasks")
	}

	if cfg.IsProduction() && len(cfg.WorkerSAEmails) == 0 {
		add("WORKER_SA_EMAIL", "required in production")
	}
	if cfg.MetricsCacheTTL < 0 {
		add("METRICS_CACHE_TTL", "must be >= 0")
	}

	if cfg.ReconcileEnabled {
		if cfg.ReconcileInterval <= 0 {
			add("RECONCILE_INTERVAL", "must be positive")
		}
		if cfg.ReconcileThreshold <= 0 {
			add("RECONCILE_THRESHOLD", "must be positive")
		}
		if cfg.ReconcileBatchSize <= 0 {
			add("RECONCILE_BATCH_SIZE", "must be positive")
		}
	}
}

func validateWorker(cfg Config, add func(field, msg string)) {
	if cfg.WorkDuration < 0 {
		add("WORK_DURATION", "must be >= 0")
	}
	if cfg.CallbackTimeout <= 0 {
		add("CALLBACK_TIMEOUT", "must be positive")
	}
	if cfg.CallbackMaxAttempts < 1 {
		add("CALLBACK_MAX_ATTEMPTS", "must be at least 1")
	}
	if cfg.CallbackBackoff <= 0 {
		add("CALLBACK_BACKOFF", "must be positive")
	}
	if cfg.IsProduction() && len(cfg.ServerSAEmails) == 0 {
		add("SERVER_SA_EMAIL", "required in production")
	}
	if cfg.QueueConsumers > 0 && cfg.RedisAddr == "" {
		add("REDIS_ADDR", "required when queue consumers are enabled")
	}
}

func absoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}
