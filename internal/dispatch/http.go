package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/podushkina/taskflow/internal/metrics"
	"github.com/podushkina/taskflow/internal/task"
)

const defaultHTTPTimeout = time.Second

// HTTPDispatcher posts the enqueue payload straight to the worker. There is
// no application-level retry; a breaker fails fast while the worker is down.
type HTTPDispatcher struct {
	client  *http.Client
	baseURL string
	url     string
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	tokens  TokenProvider // optional, nil = no Authorization header
	metrics metrics.Sink
	log     logrus.FieldLogger
}

func NewHTTPDispatcher(workerBaseURL string, log logrus.FieldLogger) *HTTPDispatcher {
	return &HTTPDispatcher{
		client:  &http.Client{},
		baseURL: workerBaseURL,
		url:     workerURL(workerBaseURL),
		timeout: defaultHTTPTimeout,
		breaker: newBreaker(5, 30*time.Second),
		metrics: metrics.NewNoopSink(),
		log:     log.WithField("mod", "dispatch"),
	}
}

func (d *HTTPDispatcher) WithTimeout(timeout time.Duration) *HTTPDispatcher {
	if timeout > 0 {
		d.timeout = timeout
	}
	return d
}

// WithBreaker opens the circuit after threshold consecutive failures and
// lets a trial call through after cooldown. A threshold of 0 disables the breaker.
func (d *HTTPDispatcher) WithBreaker(threshold int, cooldown time.Duration) *HTTPDispatcher {
	if threshold <= 0 {
		d.breaker = nil
		return d
	}
	d.breaker = newBreaker(threshold, cooldown)
	return d
}

func (d *HTTPDispatcher) WithTokenProvider(tokens TokenProvider) *HTTPDispatcher {
	d.tokens = tokens
	return d
}

func (d *HTTPDispatcher) WithMetrics(sink metrics.Sink) *HTTPDispatcher {
	d.metrics = sink
	return d
}

func (d *HTTPDispatcher) Enqueue(ctx context.Context, cmd task.EnqueueCommand) error {
	start := time.Now()

	var err error
	if d.breaker != nil {
		_, err = d.breaker.Execute(func() (interface{}, error) {
			return nil, d.post(ctx, cmd.Payload)
		})
	} else {
		err = d.post(ctx, cmd.Payload)
	}

	d.metrics.DispatchCompleted(TransportHTTP, err, time.Since(start))

	if err != nil {
		d.log.WithFields(logrus.Fields{
			"evt":        "enqueue_fetch_error",
			"job_id":     cmd.Payload.JobID,
			"worker_url": d.url,
		}).Errorf("failed to enqueue task via direct http: %v", err)
		return unexpected(cmd.Payload.JobID, err)
	}
	return nil
}

func (d *HTTPDispatcher) post(ctx context.Context, payload task.EnqueuePayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if d.tokens != nil {
		token, err := d.tokens.Token(ctx, d.baseURL)
		if err != nil {
			return fmt.Errorf("id token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("worker responded %d: %s", resp.StatusCode, bytes.TrimSpace(text))
	}
	return nil
}

func newBreaker(threshold int, cooldown time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "worker-dispatch",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
	})
}
