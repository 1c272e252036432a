package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/storesync/internal/core/domain"
	"github.com/custodia-labs/storesync/internal/core/ports/driven"
)

const (
	defaultPrefix       = "storesync"
	defaultClaimTimeout = 15 * time.Minute
	defaultTaskTTL      = 7 * 24 * time.Hour
)

// Verify interface compliance
var _ driven.TaskQueue = (*Queue)(nil)

// Config holds settings for the Redis queue.
type Config struct {
	Client *redis.Client

	// Consumer names this worker within the consumer group. Must be unique
	// per process. Generated when empty.
	Consumer string

	// Prefix namespaces every key. Default "storesync".
	Prefix string

	// ClaimTimeout is how long a delivered message may stay unacknowledged
	// before another consumer takes it over. Keep it above the sync lock TTL.
	ClaimTimeout time.Duration

	// TaskTTL bounds how long task documents are kept. Default 7 days.
	TaskTTL time.Duration

	Logger *slog.Logger
}

// Queue implements TaskQueue on Redis Streams with a consumer group.
// Delayed and retried tasks wait in a sorted set until they are due.
// Finished tasks are indexed by finish time so stats and purges avoid SCAN.
//
// Streams have no priority ordering: delivery is FIFO.
type Queue struct {
	client       *redis.Client
	consumer     string
	claimTimeout time.Duration
	taskTTL      time.Duration
	logger       *slog.Logger

	stream    string
	group     string
	scheduled string
	completed string
	failed    string
	taskKey   string
}

// NewQueue creates a new Redis-backed task queue and its consumer group.
func NewQueue(ctx context.Context, cfg Config) (*Queue, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis client is required")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	consumer := cfg.Consumer
	if consumer == "" {
		consumer = "worker-" + domain.GenerateID()
	}
	claimTimeout := cfg.ClaimTimeout
	if claimTimeout <= 0 {
		claimTimeout = defaultClaimTimeout
	}
	taskTTL := cfg.TaskTTL
	if taskTTL <= 0 {
		taskTTL = defaultTaskTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	q := &Queue{
		client:       cfg.Client,
		consumer:     consumer,
		claimTimeout: claimTimeout,
		taskTTL:      taskTTL,
		logger:       logger,
		stream:       prefix + ":tasks",
		group:        prefix + ":workers",
		scheduled:    prefix + ":scheduled",
		completed:    prefix + ":completed",
		failed:       prefix + ":failed",
		taskKey:      prefix + ":task:",
	}

	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !isGroupExistsError(err) {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return q, nil
}

func (q *Queue) docKey(id string) string { return q.taskKey + id }
func (q *Queue) msgKey(id string) string { return q.taskKey + id + ":msg" }

// queueTask stores the document and either streams the task or parks it
// in the scheduled set
func (q *Queue) queueTask(ctx context.Context, pipe redis.Pipeliner, task *domain.Task, now time.Time) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", task.ID, err)
	}
	pipe.Set(ctx, q.docKey(task.ID), data, q.taskTTL)

	if task.ScheduledFor.After(now) {
		pipe.ZAdd(ctx, q.scheduled, redis.Z{
			Score:  float64(task.ScheduledFor.UnixMilli()),
			Member: task.ID,
		})
		return nil
	}
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{"task_id": task.ID, "tenant_id": task.TenantID},
	})
	return nil
}

// Enqueue adds a task to the queue for processing.
func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) error {
	return q.EnqueueBatch(ctx, []*domain.Task{task})
}

// EnqueueBatch adds tasks in one MULTI/EXEC transaction.
func (q *Queue) EnqueueBatch(ctx context.Context, tasks []*domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	now := time.Now()
	pipe := q.client.TxPipeline()
	for _, task := range tasks {
		if task == nil {
			return fmt.Errorf("%w: nil task", domain.ErrInvalidInput)
		}
		if err := q.queueTask(ctx, pipe, task, now); err != nil {
			return err
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue tasks: %w", err)
	}
	return nil
}

// DequeueWithTimeout claims the next task, blocking up to timeout seconds.
// A timeout of zero polls once. Returns nil, nil when nothing is ready.
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error) {
	if err := q.promoteDue(ctx); err != nil {
		q.logger.Warn("failed to promote scheduled tasks", "error", err)
	}

	task, err := q.claimAbandoned(ctx)
	if err != nil {
		q.logger.Warn("failed to claim abandoned tasks", "error", err)
	}
	if task != nil {
		return task, nil
	}

	block := time.Duration(timeout) * time.Second
	if timeout <= 0 {
		block = -1
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read stream: %w", err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	return q.start(ctx, streams[0].Messages[0])
}

// start loads the task behind a delivered message and marks it processing.
// Messages whose task document is gone are dropped.
func (q *Queue) start(ctx context.Context, msg redis.XMessage) (*domain.Task, error) {
	taskID, _ := msg.Values["task_id"].(string)
	if taskID == "" {
		q.drop(ctx, msg.ID)
		return nil, nil
	}

	task, err := q.GetTask(ctx, taskID)
	if errors.Is(err, domain.ErrNotFound) {
		q.logger.Warn("dropping message for missing task", "task_id", taskID)
		q.drop(ctx, msg.ID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	task.MarkProcessing()
	data, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("marshal task %s: %w", task.ID, err)
	}

	pipe := q.client.TxPipeline()
	pipe.Set(ctx, q.docKey(task.ID), data, q.taskTTL)
	pipe.Set(ctx, q.msgKey(task.ID), msg.ID, q.taskTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("mark task processing: %w", err)
	}
	return task, nil
}

func (q *Queue) drop(ctx context.Context, msgID string) {
	pipe := q.client.TxPipeline()
	pipe.XAck(ctx, q.stream, q.group, msgID)
	pipe.XDel(ctx, q.stream, msgID)
	_, _ = pipe.Exec(ctx)
}

// finish acknowledges the delivery and persists the task's terminal or
// retry state
func (q *Queue) finish(ctx context.Context, task *domain.Task) error {
	msgID, err := q.client.Get(ctx, q.msgKey(task.ID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("get message id: %w", err)
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", task.ID, err)
	}

	pipe := q.client.TxPipeline()
	if msgID != "" {
		pipe.XAck(ctx, q.stream, q.group, msgID)
		pipe.XDel(ctx, q.stream, msgID)
	}
	pipe.Del(ctx, q.msgKey(task.ID))
	pipe.Set(ctx, q.docKey(task.ID), data, q.taskTTL)

	score := float64(task.UpdatedAt.UnixMilli())
	switch task.Status {
	case domain.TaskStatusCompleted:
		pipe.ZAdd(ctx, q.completed, redis.Z{Score: score, Member: task.ID})
	case domain.TaskStatusFailed:
		pipe.ZAdd(ctx, q.failed, redis.Z{Score: score, Member: task.ID})
	case domain.TaskStatusPending:
		pipe.ZAdd(ctx, q.scheduled, redis.Z{Score: float64(task.ScheduledFor.UnixMilli()), Member: task.ID})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update task %s: %w", task.ID, err)
	}
	return nil
}

// Ack acknowledges successful completion of a task.
func (q *Queue) Ack(ctx context.Context, taskID string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	task.MarkCompleted()
	return q.finish(ctx, task)
}

// Nack acknowledges the delivery and reschedules the task with backoff,
// or marks it failed once its attempts are used up.
func (q *Queue) Nack(ctx context.Context, taskID string, reason string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.CanRetry() {
		task.Retry(reason)
	} else {
		task.MarkFailed(reason)
	}
	return q.finish(ctx, task)
}

// GetTask retrieves a task by ID.
func (q *Queue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	data, err := q.client.Get(ctx, q.docKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}

	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &task, nil
}

// PurgeTasks removes completed and failed tasks finished before the given age.
func (q *Queue) PurgeTasks(ctx context.Context, olderThanSeconds int) (int, error) {
	cutoff := time.Now().Add(-time.Duration(olderThanSeconds) * time.Second).UnixMilli()
	max := strconv.FormatInt(cutoff, 10)

	purged := 0
	for _, set := range []string{q.completed, q.failed} {
		ids, err := q.client.ZRangeByScore(ctx, set, &redis.ZRangeBy{Min: "-inf", Max: max}).Result()
		if err != nil {
			return purged, fmt.Errorf("list finished tasks: %w", err)
		}
		if len(ids) == 0 {
			continue
		}

		keys := make([]string, 0, len(ids))
		members := make([]any, 0, len(ids))
		for _, id := range ids {
			keys = append(keys, q.docKey(id))
			members = append(members, id)
		}

		pipe := q.client.TxPipeline()
		pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, set, members...)
		if _, err := pipe.Exec(ctx); err != nil {
			return purged, fmt.Errorf("purge tasks: %w", err)
		}
		purged += len(ids)
	}
	return purged, nil
}

// Stats returns queue statistics.
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	pipe := q.client.Pipeline()
	streamLen := pipe.XLen(ctx, q.stream)
	delivered := pipe.XPending(ctx, q.stream, q.group)
	scheduled := pipe.ZCard(ctx, q.scheduled)
	completed := pipe.ZCard(ctx, q.completed)
	failed := pipe.ZCard(ctx, q.failed)
	oldest := pipe.XRangeN(ctx, q.stream, "-", "+", 1)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("query stats: %w", err)
	}

	stats := &driven.QueueStats{
		CompletedCount: completed.Val(),
		FailedCount:    failed.Val(),
	}
	if p := delivered.Val(); p != nil {
		stats.ProcessingCount = p.Count
	}
	stats.PendingCount = streamLen.Val() - stats.ProcessingCount + scheduled.Val()
	if stats.PendingCount < 0 {
		stats.PendingCount = 0
	}

	// Stream ids start with the append time in milliseconds
	if msgs := oldest.Val(); len(msgs) > 0 {
		if ms, err := strconv.ParseInt(strings.SplitN(msgs[0].ID, "-", 2)[0], 10, 64); err == nil {
			stats.OldestPendingAge = int64(time.Since(time.UnixMilli(ms)).Seconds())
		}
	}
	return stats, nil
}

// Ping checks if the queue backend is healthy.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close is a no-op; the Redis client is shared.
func (q *Queue) Close() error {
	return nil
}

// promoteDue moves due scheduled tasks onto the stream. ZRem decides which
// consumer promotes a task, so concurrent promoters never duplicate it.
func (q *Queue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	ids, err := q.client.ZRangeByScore(ctx, q.scheduled, &redis.ZRangeBy{Min: "-inf", Max: now, Count: 100}).Result()
	if err != nil {
		return err
	}

	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, q.scheduled, id).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		task, err := q.GetTask(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		err = q.client.XAdd(ctx, &redis.XAddArgs{
			Stream: q.stream,
			Values: map[string]any{"task_id": task.ID, "tenant_id": task.TenantID},
		}).Err()
		if err != nil {
			return err
		}
	}
	return nil
}

// claimAbandoned takes over a message another consumer left unacknowledged
// for longer than the claim timeout.
func (q *Queue) claimAbandoned(ctx context.Context) (*domain.Task, error) {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  q.claimTimeout,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return q.start(ctx, msgs[0])
}

func isGroupExistsError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
