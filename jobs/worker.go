package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// Worker processes chapterhub background tasks and, once a schedule is added,
// enqueues them on a cron.
type Worker struct {
	redis     asynq.RedisClientOpt
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	location  *time.Location
	logger    *slog.Logger
}

// WorkerConfig collects what the worker needs from the process.
type WorkerConfig struct {
	RedisOpts       asynq.RedisClientOpt
	Logger          *slog.Logger
	Concurrency     int
	Location        *time.Location
	ShutdownTimeout time.Duration
}

// NewWorker builds a worker serving QueueDefault. Nothing connects to Redis until Run.
func NewWorker(cfg WorkerConfig) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}
	server := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency:     concurrency,
		Queues:          map[string]int{QueueDefault: 1},
		ShutdownTimeout: cfg.ShutdownTimeout,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			logger.Error("task failed",
				slog.String("task", task.Type()),
				slog.Int("retried", retried),
				slog.Any("error", err))
		}),
	})
	return &Worker{
		redis:    cfg.RedisOpts,
		server:   server,
		mux:      asynq.NewServeMux(),
		location: location,
		logger:   logger,
	}
}

// Handle routes tasks of taskType to h.
func (w *Worker) Handle(taskType string, h asynq.HandlerFunc) {
	if taskType == "" || h == nil {
		return
	}
	w.mux.HandleFunc(taskType, h)
}

// Schedule enqueues task on every activation of the five-field cron spec,
// evaluated in the worker's location.
func (w *Worker) Schedule(spec string, task *asynq.Task, opts ...asynq.Option) (string, error) {
	if task == nil {
		return "", errors.New("jobs: schedule without task")
	}
	if w.scheduler == nil {
		w.scheduler = asynq.NewScheduler(w.redis, &asynq.SchedulerOpts{
			Location: w.location,
			PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
				if err != nil {
					w.logger.Warn("scheduled enqueue failed", slog.Any("error", err))
				}
			},
		})
	}
	id, err := w.scheduler.Register(spec, task, opts...)
	if err != nil {
		return "", fmt.Errorf("jobs: register %s at %q: %w", task.Type(), spec, err)
	}
	return id, nil
}

// Run processes tasks until ctx is cancelled, then drains in-flight work.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil || w.server == nil {
		return errors.New("jobs: worker not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return fmt.Errorf("jobs: start scheduler: %w", err)
		}
		defer w.scheduler.Shutdown()
	}
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("jobs: start server: %w", err)
	}
	<-ctx.Done()
	w.server.Shutdown()
	return ctx.Err()
}
