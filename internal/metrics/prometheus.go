package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// PrometheusSink implements Sink with the Prometheus client library.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	jobsEnqueuedTotal   *prometheus.CounterVec
	transitionsTotal    *prometheus.CounterVec
	dispatchDuration    *prometheus.HistogramVec
	dispatchErrorsTotal *prometheus.CounterVec
	orphansTotal        prometheus.Counter

	callbackAttemptsTotal *prometheus.CounterVec
	workerJobsTotal       *prometheus.CounterVec

	log logrus.FieldLogger
}

func NewPrometheusSink(reg prometheus.Registerer, log logrus.FieldLogger) *PrometheusSink {
	s := &PrometheusSink{log: log}
	s.initServerMetrics(reg)
	s.initWorkerMetrics(reg)
	return s
}

func (s *PrometheusSink) initServerMetrics(reg prometheus.Registerer) {
	s.jobsEnqueuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_jobs_enqueued_total",
		Help: "Enqueue pipeline runs by outcome.",
	}, []string{"outcome"})

	s.transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_transitions_total",
		Help: "Callback-driven status transitions by target status and outcome.",
	}, []string{"target", "outcome"})

	s.dispatchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "taskflow_dispatch_duration_seconds",
		Help:    "Time spent handing a job to the worker transport.",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2},
	}, []string{"transport"})

	s.dispatchErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_dispatch_errors_total",
		Help: "Failed hand-offs to the worker transport.",
	}, []string{"transport"})

	s.orphansTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskflow_orphans_redispatched_total",
		Help: "Stale queued jobs re-dispatched by the reconciler.",
	})

	s.register(reg, s.jobsEnqueuedTotal, "taskflow_jobs_enqueued_total")
	s.register(reg, s.transitionsTotal, "taskflow_transitions_total")
	s.register(reg, s.dispatchDuration, "taskflow_dispatch_duration_seconds")
	s.register(reg, s.dispatchErrorsTotal, "taskflow_dispatch_errors_total")
	s.register(reg, s.orphansTotal, "taskflow_orphans_redispatched_total")
}

func (s *PrometheusSink) initWorkerMetrics(reg prometheus.Registerer) {
	s.callbackAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_worker_callback_attempts_total",
		Help: "Callback HTTP attempts from the worker by kind and status class.",
	}, []string{"kind", "status_class"})

	s.workerJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskflow_worker_jobs_total",
		Help: "Jobs executed by the worker by outcome.",
	}, []string{"outcome"})

	s.register(reg, s.callbackAttemptsTotal, "taskflow_worker_callback_attempts_total")
	s.register(reg, s.workerJobsTotal, "taskflow_worker_jobs_total")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.log.WithFields(logrus.Fields{"mod": "metrics", "evt": "register_error", "metric": name}).
			Warnf("failed to register collector: %v", err)
	}
}

func (s *PrometheusSink) JobEnqueued(outcome string) {
	s.jobsEnqueuedTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) TransitionRecorded(target, outcome string) {
	s.transitionsTotal.WithLabelValues(target, outcome).Inc()
}

func (s *PrometheusSink) DispatchCompleted(transport string, err error, duration time.Duration) {
	s.dispatchDuration.WithLabelValues(transport).Observe(duration.Seconds())
	if err != nil {
		s.dispatchErrorsTotal.WithLabelValues(transport).Inc()
	}
}

func (s *PrometheusSink) OrphansRedispatched(count int) {
	s.orphansTotal.Add(float64(count))
}

func (s *PrometheusSink) CallbackAttempt(kind, statusClass string) {
	s.callbackAttemptsTotal.WithLabelValues(kind, statusClass).Inc()
}

func (s *PrometheusSink) WorkerJobFinished(outcome string) {
	s.workerJobsTotal.WithLabelValues(outcome).Inc()
}
