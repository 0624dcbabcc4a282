package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCronFiveAndSixField(t *testing.T) {
	_, err := ParseCron("*/5 * * * *")
	require.NoError(t, err)

	_, err = ParseCron("0 */5 * * * *")
	require.NoError(t, err)

	_, err = ParseCron("not a cron")
	assert.Error(t, err)
}

func TestFrequencyIntervalMonthlyIsFixedThirtyDays(t *testing.T) {
	d, ok := FrequencyInterval(model.FrequencyMonthly)
	require.True(t, ok)
	assert.Equal(t, 30*24*time.Hour, d)

	_, ok = FrequencyInterval(model.FrequencyCron)
	assert.False(t, ok)
}

func TestSchedulerFiresIntervalSchedule(t *testing.T) {
	var fired int32
	s := New(func(ctx context.Context, sch *model.Schedule) error {
		atomic.AddInt32(&fired, 1)
		return nil
	}, nil)

	sch := &model.Schedule{ID: "s1", Name: "every-tick", Frequency: model.FrequencyHourly, Enabled: true}
	// Force a near-immediate first fire for the test instead of waiting an hour.
	s.now = func() time.Time { return time.Now() }
	require.NoError(t, s.AddSchedule(sch))

	s.mu.Lock()
	e := s.entries["s1"]
	e.nextRun = time.Now().Add(5 * time.Millisecond)
	s.mu.Unlock()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&fired) >= 1 }, time.Second, time.Millisecond)
	s.Stop()
}

func TestSchedulerOnceRunsExactlyOnce(t *testing.T) {
	var fired int32
	s := New(func(ctx context.Context, sch *model.Schedule) error {
		atomic.AddInt32(&fired, 1)
		return nil
	}, nil)

	next := time.Now().Add(5 * time.Millisecond)
	sch := &model.Schedule{ID: "once1", Name: "one-shot", Frequency: model.FrequencyOnce, Enabled: true, NextRun: &next}
	require.NoError(t, s.AddSchedule(sch))

	require.Eventually(t, func() bool { return atomic.LoadInt32(&fired) == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired), "a ONCE schedule must not re-fire")
	s.Stop()
}

func TestSchedulerSkipsOverlappingExecution(t *testing.T) {
	var concurrent, maxConcurrent int32
	release := make(chan struct{})
	s := New(func(ctx context.Context, sch *model.Schedule) error {
		n := atomic.AddInt32(&concurrent, 1)
		if n > atomic.LoadInt32(&maxConcurrent) {
			atomic.StoreInt32(&maxConcurrent, n)
		}
		<-release
		atomic.AddInt32(&concurrent, -1)
		return nil
	}, nil)

	sch := &model.Schedule{ID: "busy", Name: "busy", Frequency: model.FrequencyHourly, Enabled: true}
	require.NoError(t, s.AddSchedule(sch))
	s.mu.Lock()
	e := s.entries["busy"]
	e.nextRun = time.Now().Add(2 * time.Millisecond)
	s.mu.Unlock()

	time.Sleep(30 * time.Millisecond)
	close(release)
	s.Stop()
	assert.Equal(t, int32(1), maxConcurrent, "max_instances=1 must hold")
}

func TestUpcomingRunsSortedByNextRun(t *testing.T) {
	s := New(nil, nil)
	later := time.Now().Add(time.Hour)
	sooner := time.Now().Add(time.Minute)
	s.entries["a"] = &entry{schedule: &model.Schedule{ID: "a", Enabled: true, NextRun: &later}}
	s.entries["b"] = &entry{schedule: &model.Schedule{ID: "b", Enabled: true, NextRun: &sooner}}

	runs := s.UpcomingRuns(10)
	require.Len(t, runs, 2)
	assert.Equal(t, "b", runs[0].ScheduleID)
	assert.Equal(t, "a", runs[1].ScheduleID)
}
