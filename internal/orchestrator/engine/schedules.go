package engine

import (
	"context"

	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/model"
	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/orcherr"
)

// CreateSchedule validates and registers a new recurring or one-shot
// schedule, persisting it if a store is configured.
func (e *Engine) CreateSchedule(ctx context.Context, sch *model.Schedule) error {
	if sch.ID == "" {
		sch.ID = newID()
	}
	if sch.WorkflowID == "" {
		return orcherr.Validation(orcherr.CodeMissingParameter, "workflow_id is required")
	}
	if err := e.Scheduler.AddSchedule(sch); err != nil {
		return err
	}
	if e.Store != nil {
		return e.Store.SaveSchedule(ctx, sch)
	}
	return nil
}

// ToggleSchedule enables or disables a schedule and persists the change.
func (e *Engine) ToggleSchedule(ctx context.Context, scheduleID string, enabled bool) error {
	var err error
	if enabled {
		err = e.Scheduler.Enable(scheduleID)
	} else {
		e.Scheduler.Disable(scheduleID)
	}
	if err != nil {
		return err
	}
	if e.Store != nil {
		if sch, getErr := e.Store.GetSchedule(ctx, scheduleID); getErr == nil {
			sch.Enabled = enabled
			return e.Store.SaveSchedule(ctx, sch)
		}
	}
	return nil
}

// DeleteSchedule removes a schedule from the live scheduler and the store.
func (e *Engine) DeleteSchedule(ctx context.Context, scheduleID string) error {
	e.Scheduler.RemoveSchedule(scheduleID)
	if e.Store != nil {
		return e.Store.DeleteSchedule(ctx, scheduleID)
	}
	return nil
}
