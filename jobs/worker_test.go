package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerSchedule(t *testing.T) {
	mr := miniredis.RunT(t)
	w := NewWorker(WorkerConfig{RedisOpts: asynq.RedisClientOpt{Addr: mr.Addr()}})

	_, err := w.Schedule(GrantRetentionCron, nil)
	require.Error(t, err)
	assert.Nil(t, w.scheduler)

	tk := task(t, GrantRetentionPayload{})
	id, err := w.Schedule(GrantRetentionCron, tk)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = w.Schedule("every tuesday", tk)
	require.Error(t, err)
	assert.Contains(t, err.Error(), TaskGrantRetention)
}

func TestWorkerDefaults(t *testing.T) {
	mr := miniredis.RunT(t)
	w := NewWorker(WorkerConfig{RedisOpts: asynq.RedisClientOpt{Addr: mr.Addr()}})
	assert.Equal(t, time.UTC, w.location)
	assert.NotNil(t, w.logger)

	w.Handle("", func(context.Context, *asynq.Task) error { return nil })
	w.Handle(TaskGrantRetention, nil)

	var unconfigured *Worker
	require.Error(t, unconfigured.Run(context.Background()))
}
