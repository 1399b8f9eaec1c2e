package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"github.com/podushkina/taskflow/internal/metrics"
	"github.com/podushkina/taskflow/internal/task"
)

const (
	callbackKindProcessing = "processing"
	callbackKindDone       = "done"
)

// TokenProvider mints bearer tokens for service-to-service calls.
type TokenProvider interface {
	Token(ctx context.Context, audience string) (string, error)
}

type processingBody struct {
	JobID string `json:"jobId"`
}

type doneBody struct {
	JobID      string    `json:"jobId"`
	Message    string    `json:"message"`
	FinishedAt time.Time `json:"finishedAt"`
}

// HTTPNotifier reports job progress to the server's callback endpoints.
type HTTPNotifier struct {
	client      *http.Client
	timeout     time.Duration
	maxAttempts uint
	backoff     time.Duration
	tokens      TokenProvider
	strictToken bool
	metrics     metrics.Sink
	log         logrus.FieldLogger
}

func NewHTTPNotifier(log logrus.FieldLogger) *HTTPNotifier {
	return &HTTPNotifier{
		client:      &http.Client{},
		timeout:     1500 * time.Millisecond,
		maxAttempts: 3,
		backoff:     200 * time.Millisecond,
		metrics:     metrics.NewNoopSink(),
		log:         log.WithField("mod", "notifier"),
	}
}

// WithRetry sets the per-attempt timeout, the attempt cap for done
// callbacks and the first backoff interval.
func (n *HTTPNotifier) WithRetry(timeout time.Duration, maxAttempts uint, initial time.Duration) *HTTPNotifier {
	if timeout > 0 {
		n.timeout = timeout
	}
	if maxAttempts > 0 {
		n.maxAttempts = maxAttempts
	}
	if initial > 0 {
		n.backoff = initial
	}
	return n
}

// WithTokenProvider attaches an ID token to every callback. With strict set
// a token failure aborts the callback; otherwise it is sent unauthenticated.
func (n *HTTPNotifier) WithTokenProvider(tokens TokenProvider, strict bool) *HTTPNotifier {
	n.tokens = tokens
	n.strictToken = strict
	return n
}

func (n *HTTPNotifier) WithMetrics(sink metrics.Sink) *HTTPNotifier {
	n.metrics = sink
	return n
}

// NotifyProcessing makes a single attempt.
func (n *HTTPNotifier) NotifyProcessing(ctx context.Context, callbackURL, jobID string) error {
	token, err := n.token(ctx, callbackURL)
	if err != nil {
		return err
	}
	return n.post(ctx, callbackKindProcessing, joinPath(callbackURL, callbackKindProcessing), token, processingBody{JobID: jobID})
}

// NotifyDone retries with exponential backoff until the server accepts the
// result or the attempts run out. 4xx responses other than 408 and 429 are
// not retried.
func (n *HTTPNotifier) NotifyDone(ctx context.Context, callbackURL, jobID string, result task.Result) error {
	token, err := n.token(ctx, callbackURL)
	if err != nil {
		return err
	}

	target := joinPath(callbackURL, callbackKindDone)
	body := doneBody{JobID: jobID, Message: result.Message, FinishedAt: result.FinishedAt.UTC()}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = n.backoff
	b.Multiplier = 2
	b.RandomizationFactor = 0

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		err := n.post(ctx, callbackKindDone, target, token, body)
		var se *statusError
		if errors.As(err, &se) && se.permanent() {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(n.maxAttempts))
	if err != nil {
		n.log.WithFields(logrus.Fields{
			"evt":      "callback_error",
			"job_id":   jobID,
			"url":      target,
			"attempts": n.maxAttempts,
		}).Errorf("failed to send callback after retries: %v", err)
		return fmt.Errorf("%w: done callback for job %s: %v", task.ErrUnexpected, jobID, err)
	}
	return nil
}

func (n *HTTPNotifier) token(ctx context.Context, callbackURL string) (string, error) {
	if n.tokens == nil {
		return "", nil
	}
	token, err := n.tokens.Token(ctx, audience(callbackURL))
	if err == nil {
		return token, nil
	}

	log := n.log.WithFields(logrus.Fields{"evt": "callback_token_error", "url": callbackURL})
	if n.strictToken {
		log.Errorf("failed to acquire id token for callback: %v", err)
		return "", fmt.Errorf("%w: id token: %v", task.ErrUnexpected, err)
	}
	log.Warnf("continuing without id token: %v", err)
	return "", nil
}

func (n *HTTPNotifier) post(ctx context.Context, kind, target, token string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		n.metrics.CallbackAttempt(kind, metrics.ClassifyStatus(0, err))
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	n.metrics.CallbackAttempt(kind, metrics.ClassifyStatus(resp.StatusCode, nil))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, body: string(bytes.TrimSpace(text))}
	}
	return nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.code, e.body)
}

func (e *statusError) permanent() bool {
	return e.code >= 400 && e.code < 500 &&
		e.code != http.StatusRequestTimeout && e.code != http.StatusTooManyRequests
}

func joinPath(base, kind string) string {
	return strings.TrimRight(base, "/") + "/" + kind
}

// audience is the scheme and host of the callback URL.
func audience(callbackURL string) string {
	u, err := url.Parse(callbackURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return callbackURL
	}
	return u.Scheme + "://" + u.Host
}
