package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	cloudtasks "cloud.google.com/go/cloudtasks/apiv2"
	"cloud.google.com/go/cloudtasks/apiv2/cloudtaskspb"
	"github.com/sirupsen/logrus"

	"github.com/podushkina/taskflow/internal/metrics"
	"github.com/podushkina/taskflow/internal/task"
)

const defaultCloudTasksTimeout = 5 * time.Second

// TaskCreator is the one Cloud Tasks call the dispatcher makes.
type TaskCreator interface {
	CreateTask(ctx context.Context, req *cloudtaskspb.CreateTaskRequest) (*cloudtaskspb.Task, error)
}

// CloudTasksClient adapts the generated client to TaskCreator.
type CloudTasksClient struct {
	Client *cloudtasks.Client
}

func (c CloudTasksClient) CreateTask(ctx context.Context, req *cloudtaskspb.CreateTaskRequest) (*cloudtaskspb.Task, error) {
	return c.Client.CreateTask(ctx, req)
}

type CloudTasksConfig struct {
	ProjectID string
	Location  string
	Queue     string
	// ServiceAccountEmail, when set, makes Cloud Tasks attach an OIDC token
	// for that identity to the worker request.
	ServiceAccountEmail string
	WorkerBaseURL       string
}

func (c CloudTasksConfig) queuePath() string {
	return fmt.Sprintf("projects/%s/locations/%s/queues/%s", c.ProjectID, c.Location, c.Queue)
}

// CloudTasksDispatcher creates an HTTP task targeting the worker's enqueue
// endpoint. Cloud Tasks owns redelivery.
type CloudTasksDispatcher struct {
	creator TaskCreator
	cfg     CloudTasksConfig
	timeout time.Duration
	metrics metrics.Sink
	log     logrus.FieldLogger
}

func NewCloudTasksDispatcher(creator TaskCreator, cfg CloudTasksConfig, log logrus.FieldLogger) *CloudTasksDispatcher {
	return &CloudTasksDispatcher{
		creator: creator,
		cfg:     cfg,
		timeout: defaultCloudTasksTimeout,
		metrics: metrics.NewNoopSink(),
		log:     log.WithField("mod", "dispatch"),
	}
}

// WithTimeout bounds each CreateTask call.
func (d *CloudTasksDispatcher) WithTimeout(timeout time.Duration) *CloudTasksDispatcher {
	if timeout > 0 {
		d.timeout = timeout
	}
	return d
}

func (d *CloudTasksDispatcher) WithMetrics(sink metrics.Sink) *CloudTasksDispatcher {
	d.metrics = sink
	return d
}

func (d *CloudTasksDispatcher) Enqueue(ctx context.Context, cmd task.EnqueueCommand) error {
	start := time.Now()
	err := d.create(ctx, cmd.Payload)
	d.metrics.DispatchCompleted(TransportCloudTasks, err, time.Since(start))

	if err != nil {
		d.log.WithFields(logrus.Fields{
			"evt":    "enqueue_error",
			"job_id": cmd.Payload.JobID,
			"queue":  d.cfg.queuePath(),
		}).Errorf("failed to create cloud task: %v", err)
		return unexpected(cmd.Payload.JobID, err)
	}
	return nil
}

func (d *CloudTasksDispatcher) create(ctx context.Context, payload task.EnqueuePayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	httpReq := &cloudtaskspb.HttpRequest{
		HttpMethod: cloudtaskspb.HttpMethod_POST,
		Url:        workerURL(d.cfg.WorkerBaseURL),
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       body,
	}
	if d.cfg.ServiceAccountEmail != "" {
		httpReq.AuthorizationHeader = &cloudtaskspb.HttpRequest_OidcToken{
			OidcToken: &cloudtaskspb.OidcToken{
				ServiceAccountEmail: d.cfg.ServiceAccountEmail,
				Audience:            d.cfg.WorkerBaseURL,
			},
		}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	_, err = d.creator.CreateTask(ctx, &cloudtaskspb.CreateTaskRequest{
		Parent: d.cfg.queuePath(),
		Task: &cloudtaskspb.Task{
			MessageType: &cloudtaskspb.Task_HttpRequest{HttpRequest: httpReq},
		},
	})
	return err
}
