package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/podushkina/taskflow/internal/task"
)

const (
	jobPrefix = "taskflow:job:"
	queuedKey = "taskflow:jobs:queued"
	doneKey   = "taskflow:jobs:done"
)

// markProcessingScript moves a job from queued to processing. It returns the
// record prefixed with 1 when the write happened and 0 when the job was
// already at or past processing. A missing job returns nil.
var markProcessingScript = goredis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return false end
local applied = 0
if status == 'queued' then
  redis.call('HSET', KEYS[1], 'status', 'processing', 'updated_at', ARGV[1])
  redis.call('ZREM', KEYS[2], ARGV[2])
  applied = 1
end
local rec = redis.call('HGETALL', KEYS[1])
table.insert(rec, 1, applied)
return rec
`)

// markDoneScript sets status and result together. It applies from queued or
// processing, so a lost processing callback does not block completion.
var markDoneScript = goredis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return false end
local applied = 0
if status == 'queued' or status == 'processing' then
  redis.call('HSET', KEYS[1], 'status', 'done', 'message', ARGV[3], 'finished_at', ARGV[4], 'updated_at', ARGV[1])
  redis.call('ZREM', KEYS[2], ARGV[2])
  redis.call('SADD', KEYS[3], ARGV[2])
  applied = 1
end
local rec = redis.call('HGETALL', KEYS[1])
table.insert(rec, 1, applied)
return rec
`)

type Store struct {
	client *goredis.Client
	now    func() time.Time
}

// Connect opens a client and checks it with a ping.
func Connect(addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return client, nil
}

func New(client *goredis.Client) *Store {
	return &Store{client: client, now: time.Now}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) CreateJob(ctx context.Context) (task.Job, error) {
	now := s.now().UTC()
	job := task.Job{
		ID:        uuid.New().String(),
		Status:    task.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, jobPrefix+job.ID,
		"id", job.ID,
		"status", string(job.Status),
		"created_at", formatTime(job.CreatedAt),
		"updated_at", formatTime(job.UpdatedAt),
	)
	pipe.ZAdd(ctx, queuedKey, goredis.Z{Score: float64(now.UnixMilli()), Member: job.ID})

	if _, err := pipe.Exec(ctx); err != nil {
		return task.Job{}, fmt.Errorf("create job: %w", err)
	}

	return job, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (task.Job, error) {
	fields, err := s.client.HGetAll(ctx, jobPrefix+id).Result()
	if err != nil {
		return task.Job{}, fmt.Errorf("get job: %w", err)
	}
	if len(fields) == 0 {
		return task.Job{}, task.ErrNotFound
	}
	return decodeJob(fields)
}

func (s *Store) MarkProcessing(ctx context.Context, id string) (task.Job, error) {
	res, err := markProcessingScript.Run(ctx, s.client,
		[]string{jobPrefix + id, queuedKey},
		formatTime(s.now().UTC()), id,
	).Slice()
	return s.transitionResult(res, err, "mark processing")
}

func (s *Store) MarkDone(ctx context.Context, id string, result task.Result) (task.Job, error) {
	res, err := markDoneScript.Run(ctx, s.client,
		[]string{jobPrefix + id, queuedKey, doneKey},
		formatTime(s.now().UTC()), id, result.Message, formatTime(result.FinishedAt.UTC()),
	).Slice()
	return s.transitionResult(res, err, "mark done")
}

func (s *Store) CountDone(ctx context.Context) (int64, error) {
	n, err := s.client.SCard(ctx, doneKey).Result()
	if err != nil {
		return 0, fmt.Errorf("count done: %w", err)
	}
	return n, nil
}

// ListQueued returns up to limit jobs still queued that were created before
// olderThan, oldest first.
func (s *Store) ListQueued(ctx context.Context, olderThan time.Time, limit int) ([]task.Job, error) {
	ids, err := s.client.ZRangeByScore(ctx, queuedKey, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(olderThan.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list queued: %w", err)
	}

	if len(ids) == 0 {
		return []task.Job{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, jobPrefix+id)
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return nil, fmt.Errorf("fetch queued jobs: %w", err)
	}

	jobs := make([]task.Job, 0, len(ids))
	for _, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		job, err := decodeJob(fields)
		if err != nil || job.Status != task.StatusQueued {
			continue
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

func (s *Store) transitionResult(res []interface{}, err error, op string) (task.Job, error) {
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return task.Job{}, task.ErrNotFound
		}
		return task.Job{}, fmt.Errorf("%s: %w", op, err)
	}
	if len(res) < 1 {
		return task.Job{}, fmt.Errorf("%s: empty script reply", op)
	}

	applied, _ := res[0].(int64)
	fields := make(map[string]string, (len(res)-1)/2)
	for i := 1; i+1 < len(res); i += 2 {
		k, _ := res[i].(string)
		v, _ := res[i+1].(string)
		fields[k] = v
	}

	job, err := decodeJob(fields)
	if err != nil {
		return task.Job{}, fmt.Errorf("%s: %w", op, err)
	}
	if applied == 0 {
		return job, task.ErrTransitionDenied
	}
	return job, nil
}

func decodeJob(fields map[string]string) (task.Job, error) {
	job := task.Job{
		ID:     fields["id"],
		Status: task.Status(fields["status"]),
	}
	if !job.Status.Valid() {
		return task.Job{}, fmt.Errorf("job %s: invalid status %q", job.ID, job.Status)
	}

	var err error
	if job.CreatedAt, err = parseTime(fields["created_at"]); err != nil {
		return task.Job{}, fmt.Errorf("job %s: created_at: %w", job.ID, err)
	}
	if job.UpdatedAt, err = parseTime(fields["updated_at"]); err != nil {
		return task.Job{}, fmt.Errorf("job %s: updated_at: %w", job.ID, err)
	}

	if msg := fields["message"]; msg != "" {
		finished, err := parseTime(fields["finished_at"])
		if err != nil {
			return task.Job{}, fmt.Errorf("job %s: result missing finished_at: %w", job.ID, err)
		}
		job.Result = &task.Result{Message: msg, FinishedAt: finished}
	}

	return job, nil
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
