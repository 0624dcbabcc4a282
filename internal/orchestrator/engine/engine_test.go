package engine

import (
	"context"
	"testing"
	"time"

	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/dispatch"
	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/model"
	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/queue"
	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/resilience"
	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	st, err := store.NewLocalFileStore(t.TempDir())
	require.NoError(t, err)

	log := logrus.New()
	log.SetLevel(logrus.FatalLevel)

	send := dispatch.SendFunc(func(ctx context.Context, robotID string, job *model.Job) (bool, string, error) {
		return true, "", nil
	})

	cfg := DefaultConfig()
	cfg.Logger = log
	return New(cfg, st, send)
}

func TestSubmitJobEnqueuesImmediately(t *testing.T) {
	e := newTestEngine(t)
	job, err := e.SubmitJob(context.Background(), SubmitJobRequest{
		WorkflowID:   "wf-1",
		WorkflowName: "pick-and-place",
	})
	require.NoError(t, err)
	assert.Equal(t, model.JobQueued, job.Status)
	assert.Len(t, e.Queue.QueuedJobs(), 1)
}

func TestSubmitJobRejectsMissingWorkflow(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.SubmitJob(context.Background(), SubmitJobRequest{})
	assert.Error(t, err)
}

func TestSubmitJobWithFutureScheduleCreatesOneTimeSchedule(t *testing.T) {
	e := newTestEngine(t)
	future := time.Now().Add(time.Hour)
	job, err := e.SubmitJob(context.Background(), SubmitJobRequest{
		WorkflowID:    "wf-1",
		WorkflowName:  "night-run",
		ScheduledTime: &future,
	})
	require.NoError(t, err)
	assert.Empty(t, e.Queue.QueuedJobs())

	info, ok := e.Scheduler.Info("onetime_" + job.ID)
	require.True(t, ok)
	assert.Equal(t, model.FrequencyOnce, info.Frequency)
}

func TestRegisterRobotHeartbeatAndAvailability(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterRobot(&model.Robot{ID: "r1", Name: "picker-1", MaxConcurrentJobs: 2})

	robots := e.ConnectedRobots()
	require.Len(t, robots, 1)
	assert.Equal(t, model.RobotOnline, robots[0].Status)

	h := e.RobotHeartbeat("r1", resilience.Telemetry{CPUPercent: 10, ActiveJobs: 0})
	assert.Equal(t, resilience.HealthHealthy, h)

	avail := e.AvailableRobots()
	assert.Len(t, avail, 1)
}

func TestUpdateRobotStatusPersists(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterRobot(&model.Robot{ID: "r1"})
	e.UpdateRobotStatus("r1", model.RobotMaintenance)

	stored, err := e.Store.GetRobot(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, model.RobotMaintenance, stored.Status)
}

func TestCompleteJobReleasesRobotSlotAndRecordsHealth(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterRobot(&model.Robot{ID: "r1", MaxConcurrentJobs: 1, CurrentJobs: 1})

	job, err := e.SubmitJob(context.Background(), SubmitJobRequest{WorkflowID: "wf-1", RobotID: "r1"})
	require.NoError(t, err)
	job.RobotID = "r1"
	_, err = e.Queue.Dequeue(queue.RobotView{ID: "r1", Name: "r1", Available: true})
	require.NoError(t, err) // CompleteJob below only succeeds for a RUNNING job

	require.NoError(t, e.CompleteJob(job.ID, map[string]interface{}{"ok": true}))
	robots := e.ConnectedRobots()
	require.Len(t, robots, 1)
	assert.Equal(t, 0, robots[0].CurrentJobs)
	assert.NotEqual(t, resilience.HealthUnknown, e.Health.Status("r1"))
}

func TestCancelJobMarksCancelled(t *testing.T) {
	e := newTestEngine(t)
	job, err := e.SubmitJob(context.Background(), SubmitJobRequest{WorkflowID: "wf-1"})
	require.NoError(t, err)

	require.NoError(t, e.CancelJob(context.Background(), job.ID, "operator request"))
	assert.Equal(t, model.JobCancelled, e.Queue.Job(job.ID).Status)
}

func TestRetryJobRequiresTerminalStatus(t *testing.T) {
	e := newTestEngine(t)
	job, err := e.SubmitJob(context.Background(), SubmitJobRequest{WorkflowID: "wf-1"})
	require.NoError(t, err)

	_, err = e.RetryJob(context.Background(), job.ID)
	assert.Error(t, err)
}

func TestCreateToggleDeleteSchedule(t *testing.T) {
	e := newTestEngine(t)
	sch := &model.Schedule{ID: "s1", WorkflowID: "wf-1", Frequency: model.FrequencyDaily, Enabled: false}
	require.NoError(t, e.CreateSchedule(context.Background(), sch))

	require.NoError(t, e.ToggleSchedule(context.Background(), "s1", true))
	info, ok := e.Scheduler.Info("s1")
	require.True(t, ok)
	assert.True(t, info.Enabled)

	require.NoError(t, e.DeleteSchedule(context.Background(), "s1"))
	_, ok = e.Scheduler.Info("s1")
	assert.False(t, ok)
}

func TestDashboardMetricsSatisfiesStatsProvider(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.SubmitJob(context.Background(), SubmitJobRequest{WorkflowID: "wf-1"})
	require.NoError(t, err)

	metrics := e.DashboardMetrics()
	dm, ok := metrics.(model.DashboardMetrics)
	require.True(t, ok)
	assert.GreaterOrEqual(t, dm.JobsQueued, 1)
}

func TestHealthUnhealthyEvictsAffinityAndReassignsJobs(t *testing.T) {
	e := newTestEngine(t)
	e.RegisterRobot(&model.Robot{ID: "r1", MaxConcurrentJobs: 1})

	job, err := e.SubmitJob(context.Background(), SubmitJobRequest{WorkflowID: "wf-1"})
	require.NoError(t, err)
	_, _ = e.Queue.Dequeue(queue.RobotView{ID: "r1", Name: "r1", Available: true})
	_ = job

	old := time.Now().Add(-time.Hour)
	e.Health.Heartbeat("r1", resilience.Telemetry{})
	// The unhealthy callback is invoked directly rather than by ageing the
	// heartbeat; health transitions are covered in the resilience package,
	// this only verifies the engine's wiring. Affinity eviction is not
	// observed here.
	_ = old

	e.onRobotUnhealthy("r1")
	robots := e.ConnectedRobots()
	require.Len(t, robots, 1)
	assert.Equal(t, model.RobotOffline, robots[0].Status)
	assert.Equal(t, model.JobFailed, e.Queue.Job(job.ID).Status)
	assert.Len(t, e.Queue.QueuedJobs(), 1)
}
