package store

import (
	"context"
	"testing"

	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *LocalFileStore {
	t.Helper()
	s, err := NewLocalFileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestSaveAndGetRobot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveRobot(ctx, &model.Robot{ID: "r1", Name: "picker-1"}))
	got, err := s.GetRobot(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "picker-1", got.Name)

	all, err := s.GetRobots(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetRobotNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRobot(context.Background(), "missing")
	assert.Error(t, err)
}

func TestDeleteRobot(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SaveRobot(ctx, &model.Robot{ID: "r1"}))
	require.NoError(t, s.DeleteRobot(ctx, "r1"))
	_, err := s.GetRobot(ctx, "r1")
	assert.Error(t, err)
}

func TestJobRoundTripPersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s1, err := NewLocalFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s1.SaveJob(ctx, &model.Job{ID: "j1", Status: model.JobPending}))

	s2, err := NewLocalFileStore(dir)
	require.NoError(t, err)
	got, err := s2.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, got.Status)
}

func TestWorkflowAndScheduleCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.SaveWorkflow(ctx, &model.Workflow{ID: "w1", Name: "wf"}))
	wf, err := s.GetWorkflow(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "wf", wf.Name)

	require.NoError(t, s.SaveSchedule(ctx, &model.Schedule{ID: "s1", Name: "sched"}))
	sch, err := s.GetSchedule(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "sched", sch.Name)

	require.NoError(t, s.DeleteWorkflow(ctx, "w1"))
	_, err = s.GetWorkflow(ctx, "w1")
	assert.Error(t, err)

	require.NoError(t, s.DeleteSchedule(ctx, "s1"))
	_, err = s.GetSchedule(ctx, "s1")
	assert.Error(t, err)
}

func TestGetJobsRespectsLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveJob(ctx, &model.Job{ID: string(rune('a' + i))}))
	}
	jobs, err := s.GetJobs(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, jobs, 3)
}
