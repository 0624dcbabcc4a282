package queue

import (
	"testing"
	"time"

	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJob(id, workflowID string, priority model.JobPriority) *model.Job {
	return &model.Job{
		ID:         id,
		WorkflowID: workflowID,
		Status:     model.JobPending,
		Priority:   priority,
	}
}

func TestEnqueueDequeuePriorityOrder(t *testing.T) {
	q := New(Config{DedupWindow: 0, DefaultTimeout: time.Hour})

	low := newJob("j-low", "wf-1", model.PriorityLow)
	critical := newJob("j-crit", "wf-2", model.PriorityCritical)
	normal := newJob("j-normal", "wf-3", model.PriorityNormal)

	require.NoError(t, q.Enqueue(low, false, nil))
	require.NoError(t, q.Enqueue(critical, false, nil))
	require.NoError(t, q.Enqueue(normal, false, nil))

	robot := RobotView{ID: "r1", Name: "robot-1", Available: true}

	first, err := q.Dequeue(robot)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "j-crit", first.ID)
	assert.Equal(t, model.JobRunning, first.Status)

	second, err := q.Dequeue(robot)
	require.NoError(t, err)
	assert.Equal(t, "j-normal", second.ID)

	third, err := q.Dequeue(robot)
	require.NoError(t, err)
	assert.Equal(t, "j-low", third.ID)
}

func TestDequeueSkipsUnavailableRobot(t *testing.T) {
	q := New(Config{DedupWindow: 0, DefaultTimeout: time.Hour})
	job, err := q.Dequeue(RobotView{ID: "r1", Available: false})
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestDequeueRespectsPinnedRobot(t *testing.T) {
	q := New(Config{DedupWindow: 0, DefaultTimeout: time.Hour})
	pinned := newJob("j1", "wf", model.PriorityNormal)
	pinned.RobotID = "r2"
	require.NoError(t, q.Enqueue(pinned, false, nil))

	job, err := q.Dequeue(RobotView{ID: "r1", Available: true})
	require.NoError(t, err)
	assert.Nil(t, job, "job pinned to r2 must not dequeue for r1")

	job, err = q.Dequeue(RobotView{ID: "r2", Available: true})
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "j1", job.ID)
}

func TestEnqueueRejectsDuplicateWithinWindow(t *testing.T) {
	q := New(Config{DedupWindow: time.Minute, DefaultTimeout: time.Hour})
	a := newJob("a", "wf-x", model.PriorityNormal)
	b := newJob("b", "wf-x", model.PriorityNormal)

	require.NoError(t, q.Enqueue(a, true, nil))
	err := q.Enqueue(b, true, nil)
	require.Error(t, err)
}

func TestCompleteFailCancelLifecycle(t *testing.T) {
	q := New(Config{DedupWindow: 0, DefaultTimeout: time.Hour})
	job := newJob("j1", "wf", model.PriorityNormal)
	require.NoError(t, q.Enqueue(job, false, nil))

	robot := RobotView{ID: "r1", Available: true}
	running, err := q.Dequeue(robot)
	require.NoError(t, err)
	require.NotNil(t, running)

	require.NoError(t, q.Complete(running.ID, map[string]interface{}{"ok": true}))
	assert.Equal(t, model.JobCompleted, q.Job(running.ID).Status)
	assert.Equal(t, 100, q.Job(running.ID).Progress)

	// Cannot finish an already-terminal job.
	err = q.Fail(running.ID, "boom")
	assert.Error(t, err)
}

func TestCancelFromNonTerminalStates(t *testing.T) {
	q := New(Config{DedupWindow: 0, DefaultTimeout: time.Hour})
	pending := newJob("p1", "wf", model.PriorityNormal)
	require.NoError(t, q.Enqueue(pending, false, nil))

	require.NoError(t, q.Cancel(pending.ID, "user request"))
	assert.Equal(t, model.JobCancelled, q.Job(pending.ID).Status)

	err := q.Cancel(pending.ID, "again")
	assert.Error(t, err, "cannot cancel an already-terminal job")
}

func TestCheckTimeouts(t *testing.T) {
	q := New(Config{DedupWindow: 0, DefaultTimeout: time.Millisecond})
	job := newJob("t1", "wf", model.PriorityNormal)
	require.NoError(t, q.Enqueue(job, false, nil))

	robot := RobotView{ID: "r1", Available: true}
	_, err := q.Dequeue(robot)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	timedOut := q.CheckTimeouts()
	require.Len(t, timedOut, 1)
	assert.Equal(t, model.JobTimeout, q.Job("t1").Status)
}

func TestStateChangeCallbackOrdering(t *testing.T) {
	var transitions []model.JobStatus
	q := New(Config{
		DedupWindow:    0,
		DefaultTimeout: time.Hour,
		OnStateChange: func(job *model.Job, from, to model.JobStatus) {
			transitions = append(transitions, to)
		},
	})

	job := newJob("j1", "wf", model.PriorityNormal)
	require.NoError(t, q.Enqueue(job, false, nil))
	robot := RobotView{ID: "r1", Available: true}
	_, err := q.Dequeue(robot)
	require.NoError(t, err)
	require.NoError(t, q.Complete("j1", nil))

	assert.Equal(t, []model.JobStatus{model.JobQueued, model.JobRunning, model.JobCompleted}, transitions)
}

func TestQueueStatsByPriority(t *testing.T) {
	q := New(Config{DedupWindow: 0, DefaultTimeout: time.Hour})
	require.NoError(t, q.Enqueue(newJob("a", "wf1", model.PriorityHigh), false, nil))
	require.NoError(t, q.Enqueue(newJob("b", "wf2", model.PriorityHigh), false, nil))
	require.NoError(t, q.Enqueue(newJob("c", "wf3", model.PriorityLow), false, nil))

	stats := q.QueueStats()
	assert.Equal(t, 3, stats.Queued)
	assert.Equal(t, 2, stats.ByPriority[model.PriorityHigh])
	assert.Equal(t, 1, stats.ByPriority[model.PriorityLow])
}
