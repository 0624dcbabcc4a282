package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistributeSucceedsOnFirstAcceptingRobot(t *testing.T) {
	d := New(Config{MaxRetries: 2, RetryDelay: time.Millisecond, DistributionTimeout: time.Second}, NewSelector())
	d.SetSendFunc(func(ctx context.Context, robotID string, job *model.Job) (bool, string, error) {
		return true, "", nil
	})

	job := &model.Job{ID: "j1", WorkflowID: "wf"}
	robots := []*model.Robot{onlineRobot("r1", 0, 1)}

	result := d.Distribute(context.Background(), job, robots, "")
	assert.True(t, result.Success)
	assert.Equal(t, "r1", result.RobotID)
	assert.Equal(t, 0, result.RetryCount)
}

func TestDistributeRetriesOnRejectionThenSucceeds(t *testing.T) {
	d := New(Config{MaxRetries: 2, RetryDelay: time.Millisecond, DistributionTimeout: time.Second}, NewSelector())
	attempts := 0
	d.SetSendFunc(func(ctx context.Context, robotID string, job *model.Job) (bool, string, error) {
		attempts++
		if robotID == "bad" {
			return false, "busy", nil
		}
		return true, "", nil
	})

	job := &model.Job{ID: "j1", WorkflowID: "wf"}
	bad := onlineRobot("bad", 0, 1)
	good := onlineRobot("good", 1, 4)
	// Force the first pick to be "bad" via exclusion on the second pass only.
	robots := []*model.Robot{bad, good}

	result := d.Distribute(context.Background(), job, robots, RoundRobin)
	require.True(t, result.Success)
	assert.GreaterOrEqual(t, attempts, 1)
}

func TestDistributeFailsAfterExhaustingRetries(t *testing.T) {
	d := New(Config{MaxRetries: 1, RetryDelay: time.Millisecond, DistributionTimeout: time.Second}, NewSelector())
	d.SetSendFunc(func(ctx context.Context, robotID string, job *model.Job) (bool, string, error) {
		return false, "no capacity", nil
	})

	var failureMsg string
	d.SetCallbacks(nil, func(jobID, msg string) { failureMsg = msg })

	job := &model.Job{ID: "j1", WorkflowID: "wf"}
	robots := []*model.Robot{onlineRobot("r1", 0, 1)}

	result := d.Distribute(context.Background(), job, robots, "")
	assert.False(t, result.Success)
	assert.NotEmpty(t, failureMsg)
}

func TestRuleMatchingByWorkflowGlob(t *testing.T) {
	d := New(Config{MaxRetries: 0, RetryDelay: time.Millisecond, DistributionTimeout: time.Second}, NewSelector())
	d.AddRule(Rule{Name: "invoices", WorkflowPattern: "invoice-*", Strategy: RoundRobin})

	job := &model.Job{ID: "j1", WorkflowName: "invoice-export"}
	rule := d.findMatchingRule(job)
	require.NotNil(t, rule)
	assert.Equal(t, "invoices", rule.Name)

	other := &model.Job{ID: "j2", WorkflowName: "payroll-run"}
	assert.Nil(t, d.findMatchingRule(other))
}

func TestDistributorStatsAfterMixedOutcomes(t *testing.T) {
	d := New(Config{MaxRetries: 0, RetryDelay: time.Millisecond, DistributionTimeout: time.Second}, NewSelector())
	outcomes := []bool{true, false}
	i := 0
	d.SetSendFunc(func(ctx context.Context, robotID string, job *model.Job) (bool, string, error) {
		ok := outcomes[i%len(outcomes)]
		i++
		return ok, "x", nil
	})

	robots := []*model.Robot{onlineRobot("r1", 0, 1)}
	d.Distribute(context.Background(), &model.Job{ID: "a"}, robots, "")
	d.Distribute(context.Background(), &model.Job{ID: "b"}, robots, "")

	stats := d.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Successful)
	assert.Equal(t, 1, stats.Failed)
}
