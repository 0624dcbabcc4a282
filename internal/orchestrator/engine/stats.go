package engine

import (
	"context"
	"time"

	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/model"
	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/store"
)

// The methods in this file satisfy server.StatsProvider, letting the admin
// HTTP surface read live engine state without depending on the engine
// package directly.

// QueueStats reports queue depth and per-status counts.
func (e *Engine) QueueStats() interface{} {
	return e.Queue.QueueStats()
}

// DispatchStats reports dispatch success/failure counters and strategy mix.
func (e *Engine) DispatchStats() interface{} {
	return e.Distributor.Stats()
}

// UpcomingRuns reports the next `limit` scheduled firings.
func (e *Engine) UpcomingRuns(limit int) interface{} {
	return e.Scheduler.UpcomingRuns(limit)
}

// DashboardMetrics computes the aggregate KPI snapshot from live in-memory
// state plus persisted workflow/schedule collections.
func (e *Engine) DashboardMetrics() interface{} {
	ctx := context.Background()
	robots := e.ConnectedRobots()
	jobs := e.allJobsView(ctx)

	var workflows []*model.Workflow
	var schedules []*model.Schedule
	if e.Store != nil {
		workflows, _ = e.Store.GetWorkflows(ctx)
		schedules, _ = e.Store.GetSchedules(ctx)
	}

	return store.DashboardMetrics(time.Now(), robots, jobs, workflows, schedules)
}

// JobHistory reports the day-by-day job history series for the dashboard.
func (e *Engine) JobHistory(days int) []model.JobHistoryEntry {
	return store.JobHistory(time.Now(), e.allJobsView(context.Background()), days)
}

// allJobsView merges live queue state with persisted history so the
// dashboard reflects both in-flight and completed jobs.
func (e *Engine) allJobsView(ctx context.Context) []*model.Job {
	seen := make(map[string]bool)
	var out []*model.Job
	for _, j := range e.Queue.QueuedJobs() {
		seen[j.ID] = true
		out = append(out, j)
	}
	for _, j := range e.Queue.RunningJobs() {
		seen[j.ID] = true
		out = append(out, j)
	}
	if e.Store != nil {
		stored, err := e.Store.GetJobs(ctx, 0)
		if err == nil {
			for _, j := range stored {
				if !seen[j.ID] {
					out = append(out, j)
				}
			}
		}
	}
	return out
}
