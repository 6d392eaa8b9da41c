package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestCronLog(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := cronLog{zap.New(core).Sugar()}
	l.Info("wake", "now", 1)
	l.Error(errors.New("boom"), "panic", "stack", "...")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "wake", entries[0].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
}

func TestSchedulerTaskNamesAreUnique(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	require.NoError(t, s.Add("backup", "0 3 * * *", func() {}))
	assert.Error(t, s.Add("backup", "0 4 * * *", func() {}))
	assert.Error(t, s.Add("cleanup", "every day", func() {}))
	assert.Equal(t, []string{"backup"}, s.Tasks())
}

func TestSchedulerReportsNextRun(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := NewScheduler(zap.New(core))
	require.NoError(t, s.Add("backup", "0 3 * * *", func() {}))

	next, ok := s.Next("backup")
	require.True(t, ok)
	assert.True(t, next.IsZero())

	s.Start()
	defer s.Stop(time.Second)
	next, _ = s.Next("backup")
	assert.True(t, next.After(time.Now()))
	assert.Equal(t, 3, next.Hour())
	assert.Equal(t, 1, logs.FilterMessage("task scheduled").FilterField(zap.String("task", "backup")).Len())

	_, ok = s.Next("missing")
	assert.False(t, ok)
}

func TestScheduleMaintenanceRejectsBadSpec(t *testing.T) {
	r := NewRunner(nil, zap.NewNop(), nil, Options{})
	err := r.ScheduleMaintenance(context.Background(), NewScheduler(zap.NewNop()), "not a cron", "")
	assert.Error(t, err)

	s := NewScheduler(zap.NewNop())
	require.NoError(t, r.ScheduleMaintenance(context.Background(), s, "0 3 * * *", "30 4 * * *"))
	assert.ElementsMatch(t, []string{"backup", "update-check"}, s.Tasks())
}
