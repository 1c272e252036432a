package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/storesync/internal/core/domain"
	"github.com/custodia-labs/storesync/internal/core/ports/driven"
	"github.com/custodia-labs/storesync/internal/core/ports/driving"
)

// Task results reported to TaskMetrics
const (
	resultAck  = "ack"
	resultNack = "nack"
	resultSkip = "skip"
)

// Runner executes one sync_entity task.
// services.SyncRunner is the production implementation.
type Runner interface {
	Run(ctx context.Context, task *domain.Task) (*domain.RunResult, error)
}

// TaskMetrics counts consumed tasks by result.
type TaskMetrics interface {
	TaskConsumed(result string)
}

// Worker processes tasks from the task queue.
// A runner error Nacks the task so the queue applies its retry policy;
// skipped runs are acknowledged.
type Worker struct {
	taskQueue driven.TaskQueue
	runner    Runner
	scheduler driving.Scheduler
	metrics   TaskMetrics
	logger    *slog.Logger

	// Configuration
	concurrency    int
	dequeueTimeout int // seconds
	errorBackoff   time.Duration

	// Internal state
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// WorkerConfig holds configuration for the worker.
type WorkerConfig struct {
	TaskQueue      driven.TaskQueue
	Runner         Runner
	Scheduler      driving.Scheduler // Optional: started and stopped with the worker
	Metrics        TaskMetrics       // Optional
	Logger         *slog.Logger
	Concurrency    int           // Number of concurrent task processors
	DequeueTimeout time.Duration // How long to wait for a task before checking again (default: 5s)
	ErrorBackoff   time.Duration // Pause after a dequeue error (default: 1s)
}

// NewWorker creates a new task worker.
func NewWorker(cfg WorkerConfig) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	dequeueTimeout := int(cfg.DequeueTimeout / time.Second)
	if dequeueTimeout <= 0 {
		dequeueTimeout = 5
	}

	errorBackoff := cfg.ErrorBackoff
	if errorBackoff <= 0 {
		errorBackoff = time.Second
	}

	return &Worker{
		taskQueue:      cfg.TaskQueue,
		runner:         cfg.Runner,
		scheduler:      cfg.Scheduler,
		metrics:        cfg.Metrics,
		logger:         logger,
		concurrency:    concurrency,
		dequeueTimeout: dequeueTimeout,
		errorBackoff:   errorBackoff,
	}
}

// Start begins the worker loop.
// It runs until Stop is called or context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.logger.Info("worker starting",
		"concurrency", w.concurrency,
		"dequeue_timeout", w.dequeueTimeout,
	)

	if w.scheduler != nil {
		if err := w.scheduler.Start(ctx); err != nil {
			w.logger.Error("failed to start scheduler", "error", err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.processLoop(ctx, workerID)
		}(i)
	}

	go func() {
		wg.Wait()
		close(w.doneCh)
	}()

	return nil
}

// Stop gracefully stops the worker. In-flight tasks finish first.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopCh)
	w.mu.Unlock()

	if w.scheduler != nil {
		w.scheduler.Stop()
	}

	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopped")
}

// Wait blocks until every worker goroutine has returned.
func (w *Worker) Wait() {
	w.mu.RLock()
	done := w.doneCh
	w.mu.RUnlock()
	if done != nil {
		<-done
	}
}

// processLoop is the main processing loop for a worker goroutine.
func (w *Worker) processLoop(ctx context.Context, workerID int) {
	logger := w.logger.With("worker_id", workerID)
	logger.Debug("worker goroutine started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("worker context cancelled")
			return
		case <-w.stopCh:
			logger.Debug("worker stop signal received")
			return
		default:
		}

		task, err := w.taskQueue.DequeueWithTimeout(ctx, w.dequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			logger.Error("failed to dequeue task", "error", err)
			select {
			case <-time.After(w.errorBackoff):
			case <-ctx.Done():
			case <-w.stopCh:
			}
			continue
		}

		if task == nil {
			continue
		}

		w.processTask(ctx, task, logger)
	}
}

// processTask runs a single task and settles it with the queue.
func (w *Worker) processTask(ctx context.Context, task *domain.Task, logger *slog.Logger) {
	logger = logger.With("task_id", task.ID, "task_type", task.Type, "tenant_id", task.TenantID)
	logger.Debug("processing task", "attempt", task.Attempts)

	startTime := time.Now()
	result, err := w.execute(ctx, task)
	duration := time.Since(startTime)

	if err != nil {
		logger.Error("task failed",
			"duration", duration,
			"attempt", task.Attempts,
			"error", err,
		)
		w.count(resultNack)

		// Settle even if the worker is shutting down
		if nackErr := w.taskQueue.Nack(context.WithoutCancel(ctx), task.ID, err.Error()); nackErr != nil {
			logger.Error("failed to nack task", "nack_error", nackErr)
		}
		return
	}

	if result != nil && result.Skipped {
		logger.Debug("task skipped", "reason", result.Reason)
		w.count(resultSkip)
	} else {
		logger.Info("task completed", "duration", duration)
		w.count(resultAck)
	}

	if ackErr := w.taskQueue.Ack(context.WithoutCancel(ctx), task.ID); ackErr != nil {
		logger.Error("failed to ack task", "ack_error", ackErr)
	}
}

func (w *Worker) execute(ctx context.Context, task *domain.Task) (*domain.RunResult, error) {
	switch task.Type {
	case domain.TaskTypeSyncEntity:
		if w.runner == nil {
			return nil, errors.New("no runner configured")
		}
		return w.runner.Run(ctx, task)
	default:
		return nil, fmt.Errorf("unknown task type: %s", task.Type)
	}
}

func (w *Worker) count(result string) {
	if w.metrics != nil {
		w.metrics.TaskConsumed(result)
	}
}

// Health reports whether the worker loop runs and the queue answers.
type Health struct {
	Running     bool   `json:"running"`
	QueueHealth bool   `json:"queue_health"`
	Error       string `json:"error,omitempty"`
}

// Health returns the health status of the worker.
func (w *Worker) Health(ctx context.Context) Health {
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()

	health := Health{
		Running: running,
	}

	if err := w.taskQueue.Ping(ctx); err != nil {
		health.QueueHealth = false
		health.Error = err.Error()
	} else {
		health.QueueHealth = true
	}

	return health
}
