package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/bizcircle/internal/config"
	"github.com/edgard/bizcircle/internal/logger"
	"github.com/edgard/bizcircle/internal/tasks"
)

func TestSchedulerStart(t *testing.T) {
	var runs atomic.Int32
	taskMap := map[string]tasks.ScheduledTaskFunc{
		"tick": func(context.Context) error {
			runs.Add(1)
			return nil
		},
		"idle": func(context.Context) error { return nil },
	}
	cfg := &config.SchedulerConfig{Tasks: map[string]config.TaskConfig{
		"tick":    {Enabled: true, Schedule: "* * * * * *"},
		"idle":    {Enabled: false, Schedule: "0 0 * * * *"},
		"missing": {Enabled: true, Schedule: "0 0 * * * *"},
		"broken":  {Enabled: true, Schedule: "not a cron"},
		"blank":   {Enabled: true},
	}}
	taskMap["broken"] = func(context.Context) error { return nil }
	taskMap["blank"] = func(context.Context) error { return nil }

	s, err := NewScheduler(logger.Discard(), cfg, taskMap)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "second start")

	assert.ElementsMatch(t, []string{"tick"}, s.Jobs())
	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop(), "stop is idempotent")
}

func TestSchedulerWithoutTasks(t *testing.T) {
	s, err := NewScheduler(nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	assert.Empty(t, s.Jobs())
	require.NoError(t, s.Stop())
}

func TestSchedulerStopCancelsRunningTask(t *testing.T) {
	started := make(chan struct{}, 1)
	var cancelled atomic.Bool
	taskMap := map[string]tasks.ScheduledTaskFunc{
		"slow": func(ctx context.Context) error {
			select {
			case started <- struct{}{}:
			default:
			}
			<-ctx.Done()
			cancelled.Store(true)
			return ctx.Err()
		},
	}
	cfg := &config.SchedulerConfig{Tasks: map[string]config.TaskConfig{
		"slow": {Enabled: true, Schedule: "* * * * * *"},
	}}

	s, err := NewScheduler(logger.Discard(), cfg, taskMap)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("task never started")
	}
	require.NoError(t, s.Stop())
	assert.True(t, cancelled.Load(), "stop returns only after the run observed cancellation")
}
