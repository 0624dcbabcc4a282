package engine

import (
	"context"
	"time"

	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/model"
	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/orcherr"
	"github.com/sirupsen/logrus"
)

// SubmitJobRequest describes a caller's intent to run a workflow, either
// immediately or at a future ScheduledTime.
type SubmitJobRequest struct {
	WorkflowID    string
	WorkflowName  string
	WorkflowJSON  string
	RobotID       string
	Priority      model.JobPriority
	Params        map[string]string
	ScheduledTime *time.Time
	CreatedBy     string
	TimeoutSec    int
	Tags          []string
	CheckDuplicate bool
}

// SubmitJob creates a job record and either enqueues it immediately or, if
// ScheduledTime is in the future, defers it to a one-time schedule.
func (e *Engine) SubmitJob(ctx context.Context, req SubmitJobRequest) (*model.Job, error) {
	if req.WorkflowID == "" {
		return nil, orcherr.Validation(orcherr.CodeMissingParameter, "workflow_id is required")
	}

	job := &model.Job{
		ID:            newID(),
		WorkflowID:    req.WorkflowID,
		WorkflowName:  req.WorkflowName,
		WorkflowJSON:  req.WorkflowJSON,
		RobotID:       req.RobotID,
		Status:        model.JobPending,
		Priority:      req.Priority,
		Params:        req.Params,
		ScheduledTime: req.ScheduledTime,
		CreatedAt:     time.Now(),
		CreatedBy:     req.CreatedBy,
		TimeoutSec:    req.TimeoutSec,
		Tags:          req.Tags,
	}

	if req.ScheduledTime != nil && req.ScheduledTime.After(time.Now()) {
		if err := e.scheduleFutureJob(ctx, job); err != nil {
			return nil, err
		}
		return job, nil
	}

	if err := e.Queue.Enqueue(job, req.CheckDuplicate, req.Params); err != nil {
		return nil, err
	}
	e.Metrics.RecordJobSubmitted(job.WorkflowID)
	return job, nil
}

// scheduleFutureJob wraps a deferred job in a one-time schedule so the
// scheduler's normal trigger path re-enters SubmitJob at the right time.
func (e *Engine) scheduleFutureJob(ctx context.Context, job *model.Job) error {
	sch := &model.Schedule{
		ID:           "onetime_" + job.ID,
		Name:         "one-time: " + job.WorkflowName,
		WorkflowID:   job.WorkflowID,
		WorkflowName: job.WorkflowName,
		RobotID:      job.RobotID,
		Frequency:    model.FrequencyOnce,
		Enabled:      true,
		Priority:     job.Priority,
		Params:       job.Params,
		NextRun:      job.ScheduledTime,
		CreatedAt:    time.Now(),
		CreatedBy:    job.CreatedBy,
	}
	if err := e.Scheduler.AddSchedule(sch); err != nil {
		return err
	}
	if e.Store != nil {
		return e.Store.SaveSchedule(ctx, sch)
	}
	return nil
}

// CancelJob moves a non-terminal job straight to CANCELLED. For a job that
// is assigned to a robot it only logs the cancellation; no message is sent
// to the robot's session.
func (e *Engine) CancelJob(ctx context.Context, jobID, reason string) error {
	job := e.Queue.Job(jobID)
	if err := e.Queue.Cancel(jobID, reason); err != nil {
		return err
	}
	if job != nil && job.RobotID != "" {
		e.log.WithFields(logrus.Fields{"job_id": jobID, "robot_id": job.RobotID}).Info("cancellation requested for running job")
	}
	return nil
}

// RetryJob resubmits a job that ended in a retriable terminal state.
func (e *Engine) RetryJob(ctx context.Context, jobID string) (*model.Job, error) {
	original := e.Queue.Job(jobID)
	if original == nil && e.Store != nil {
		stored, err := e.Store.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		original = stored
	}
	if original == nil {
		return nil, orcherr.Business(orcherr.CodeNotFound, "job not found").WithDetail("job_id", jobID)
	}
	if original.Status != model.JobFailed && original.Status != model.JobCancelled && original.Status != model.JobTimeout {
		return nil, orcherr.Business(orcherr.CodeInvalidInput, "job is not in a retriable state").
			WithDetail("job_id", jobID).WithDetail("status", string(original.Status))
	}

	return e.SubmitJob(ctx, SubmitJobRequest{
		WorkflowID:    original.WorkflowID,
		WorkflowName:  original.WorkflowName,
		WorkflowJSON:  original.WorkflowJSON,
		RobotID:       original.RobotID,
		Priority:      original.Priority,
		Params:        original.Params,
		CreatedBy:     original.CreatedBy,
		TimeoutSec:    original.TimeoutSec,
		Tags:          original.Tags,
		CheckDuplicate: false,
	})
}

// UpdateJobProgress records a robot-reported progress tick.
func (e *Engine) UpdateJobProgress(jobID string, progress int, currentNode string) bool {
	return e.Queue.UpdateProgress(jobID, progress, currentNode)
}

// CompleteJob marks a job finished successfully and records the outcome
// with the health monitor.
func (e *Engine) CompleteJob(jobID string, result map[string]interface{}) error {
	job := e.Queue.Job(jobID)
	if err := e.Queue.Complete(jobID, result); err != nil {
		return err
	}
	if job != nil && job.RobotID != "" {
		e.Health.RecordJobOutcome(job.RobotID, true, float64(job.DurationMS))
	}
	return nil
}

// FailJob marks a job failed and records the outcome with the health
// monitor. It does not call the recovery manager; the job stays FAILED.
func (e *Engine) FailJob(jobID, errorMessage string) error {
	job := e.Queue.Job(jobID)
	if err := e.Queue.Fail(jobID, errorMessage); err != nil {
		return err
	}
	if job != nil && job.RobotID != "" {
		e.Health.RecordJobOutcome(job.RobotID, false, float64(job.DurationMS))
	}
	return nil
}
