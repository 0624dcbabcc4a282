// Package store defines the orchestrator's persistence contract and a
// local JSON-file reference implementation, plus the aggregate readers
// (dashboard metrics, job history) the engine serves to operators.
package store

import (
	"context"

	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/model"
)

// Store is the persistence contract the engine depends on. It is called
// from the engine only; no other component talks to it directly.
type Store interface {
	GetRobots(ctx context.Context) ([]*model.Robot, error)
	GetRobot(ctx context.Context, robotID string) (*model.Robot, error)
	SaveRobot(ctx context.Context, robot *model.Robot) error
	DeleteRobot(ctx context.Context, robotID string) error

	GetJobs(ctx context.Context, limit int) ([]*model.Job, error)
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	SaveJob(ctx context.Context, job *model.Job) error
	DeleteJob(ctx context.Context, jobID string) error

	GetWorkflows(ctx context.Context) ([]*model.Workflow, error)
	GetWorkflow(ctx context.Context, workflowID string) (*model.Workflow, error)
	SaveWorkflow(ctx context.Context, wf *model.Workflow) error
	DeleteWorkflow(ctx context.Context, workflowID string) error

	GetSchedules(ctx context.Context) ([]*model.Schedule, error)
	GetSchedule(ctx context.Context, scheduleID string) (*model.Schedule, error)
	SaveSchedule(ctx context.Context, sch *model.Schedule) error
	DeleteSchedule(ctx context.Context, scheduleID string) error
}
