package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func newTestSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	logger, _ := test.NewNullLogger()
	return NewPrometheusSink(reg, logger), reg
}

func TestPrometheusSink_Counters(t *testing.T) {
	s, _ := newTestSink(t)

	s.JobEnqueued(EnqueueSuccess)
	s.JobEnqueued(EnqueueSuccess)
	s.JobEnqueued(EnqueueDispatchFailed)
	assert.Equal(t, 2.0, testutil.ToFloat64(s.jobsEnqueuedTotal.WithLabelValues(EnqueueSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.jobsEnqueuedTotal.WithLabelValues(EnqueueDispatchFailed)))

	s.TransitionRecorded("done", TransitionDuplicate)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.transitionsTotal.WithLabelValues("done", TransitionDuplicate)))

	s.OrphansRedispatched(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(s.orphansTotal))

	s.CallbackAttempt("done", StatusClass5xx)
	s.WorkerJobFinished(WorkerSucceeded)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.callbackAttemptsTotal.WithLabelValues("done", StatusClass5xx)))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.workerJobsTotal.WithLabelValues(WorkerSucceeded)))
}

func TestPrometheusSink_DispatchErrors(t *testing.T) {
	s, _ := newTestSink(t)

	s.DispatchCompleted("http", nil, 10*time.Millisecond)
	s.DispatchCompleted("http", errors.New("boom"), 10*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(s.dispatchErrorsTotal.WithLabelValues("http")))
}

func TestPrometheusSink_DoubleRegistrationLogs(t *testing.T) {
	reg := prometheus.NewRegistry()
	logger, hook := test.NewNullLogger()

	NewPrometheusSink(reg, logger)
	second := NewPrometheusSink(reg, logger)

	assert.NotEmpty(t, hook.AllEntries())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.NotPanics(t, func() { second.JobEnqueued(EnqueueSuccess) })
}

func TestClassifyStatus(t *testing.T) {
	assert.Equal(t, StatusClass2xx, ClassifyStatus(204, nil))
	assert.Equal(t, StatusClass4xx, ClassifyStatus(404, nil))
	assert.Equal(t, StatusClass5xx, ClassifyStatus(503, nil))
	assert.Equal(t, StatusClassOtherError, ClassifyStatus(302, nil))
	assert.Equal(t, StatusClassTimeout, ClassifyStatus(0, errors.New("context deadline exceeded")))
	assert.Equal(t, StatusClassConnectionError, ClassifyStatus(0, errors.New("dial tcp: connection refused")))
	assert.Equal(t, StatusClassOtherError, ClassifyStatus(0, errors.New("boom")))
}
