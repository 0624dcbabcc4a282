// Package model defines the orchestrator's core data types: jobs, robots,
// workflows and schedules, plus the aggregate views served to dashboards.
package model

import (
	"fmt"
	"time"
)

// JobStatus is a job's position in its execution lifecycle.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
	JobTimeout   JobStatus = "timeout"
)

// JobPriority orders jobs within the queue; higher values dispatch first.
type JobPriority int

const (
	PriorityLow      JobPriority = 0
	PriorityNormal   JobPriority = 1
	PriorityHigh     JobPriority = 2
	PriorityCritical JobPriority = 3
)

// RobotStatus is a robot's current connection/availability state.
type RobotStatus string

const (
	RobotOffline     RobotStatus = "offline"
	RobotOnline      RobotStatus = "online"
	RobotBusy        RobotStatus = "busy"
	RobotError       RobotStatus = "error"
	RobotMaintenance RobotStatus = "maintenance"
)

// WorkflowStatus is a workflow definition's publication state.
type WorkflowStatus string

const (
	WorkflowDraft     WorkflowStatus = "draft"
	WorkflowPublished WorkflowStatus = "published"
	WorkflowArchived  WorkflowStatus = "archived"
)

// ScheduleFrequency selects how a Schedule computes its next run.
type ScheduleFrequency string

const (
	FrequencyOnce    ScheduleFrequency = "once"
	FrequencyHourly  ScheduleFrequency = "hourly"
	FrequencyDaily   ScheduleFrequency = "daily"
	FrequencyWeekly  ScheduleFrequency = "weekly"
	FrequencyMonthly ScheduleFrequency = "monthly"
	FrequencyCron    ScheduleFrequency = "cron"
)

// Robot is a registered worker agent.
type Robot struct {
	ID                string                 `json:"id"`
	Name              string                 `json:"name"`
	Status            RobotStatus            `json:"status"`
	Environment       string                 `json:"environment"`
	MaxConcurrentJobs int                    `json:"max_concurrent_jobs"`
	CurrentJobs       int                    `json:"current_jobs"`
	LastSeen          *time.Time             `json:"last_seen,omitempty"`
	LastHeartbeat     *time.Time             `json:"last_heartbeat,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	Tags              []string               `json:"tags"`
	Metrics           map[string]interface{} `json:"metrics"`
}

// IsAvailable reports whether the robot can accept another job.
func (r *Robot) IsAvailable() bool {
	return r.Status == RobotOnline && r.CurrentJobs < r.MaxConcurrentJobs
}

// Utilization returns the robot's current load as a percentage of capacity.
func (r *Robot) Utilization() float64 {
	if r.MaxConcurrentJobs == 0 {
		return 0
	}
	return float64(r.CurrentJobs) / float64(r.MaxConcurrentJobs) * 100
}

// HasTag reports whether the robot carries the given tag.
func (r *Robot) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Workflow is a versioned, published workflow definition.
type Workflow struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	JSONDefinition  string         `json:"json_definition"`
	Version         int            `json:"version"`
	Status          WorkflowStatus `json:"status"`
	CreatedBy       string         `json:"created_by"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Tags            []string       `json:"tags"`
	ExecutionCount  int            `json:"execution_count"`
	SuccessCount    int            `json:"success_count"`
	AvgDurationMS   int64          `json:"avg_duration_ms"`
}

// SuccessRate returns the workflow's historical success percentage.
func (w *Workflow) SuccessRate() float64 {
	if w.ExecutionCount == 0 {
		return 0
	}
	return float64(w.SuccessCount) / float64(w.ExecutionCount) * 100
}

// Job is a single execution record tracked by the queue and engine.
type Job struct {
	ID            string                 `json:"id"`
	WorkflowID    string                 `json:"workflow_id"`
	WorkflowName  string                 `json:"workflow_name"`
	RobotID       string                 `json:"robot_id"`
	RobotName     string                 `json:"robot_name"`
	Status        JobStatus              `json:"status"`
	Priority      JobPriority            `json:"priority"`
	WorkflowJSON  string                 `json:"workflow_json"`
	Params        map[string]string      `json:"params"`
	ScheduledTime *time.Time             `json:"scheduled_time,omitempty"`
	StartedAt     *time.Time             `json:"started_at,omitempty"`
	CompletedAt   *time.Time             `json:"completed_at,omitempty"`
	DurationMS    int64                  `json:"duration_ms"`
	Progress      int                    `json:"progress"`
	CurrentNode   string                 `json:"current_node"`
	Result        map[string]interface{} `json:"result"`
	Logs          string                 `json:"logs"`
	ErrorMessage  string                 `json:"error_message"`
	CreatedAt     time.Time              `json:"created_at"`
	CreatedBy     string                 `json:"created_by"`
	RetryCount    int                    `json:"retry_count"`
	TimeoutSec    int                    `json:"timeout_sec"`
	Environment   string                 `json:"environment,omitempty"`
	Tags          []string               `json:"tags,omitempty"`
}

var terminalStatuses = map[JobStatus]bool{
	JobCompleted: true,
	JobFailed:    true,
	JobCancelled: true,
	JobTimeout:   true,
}

// IsTerminal reports whether the job has reached a terminal status.
func (j *Job) IsTerminal() bool {
	return terminalStatuses[j.Status]
}

// DurationFormatted renders DurationMS as a short human string, or "-" if unset.
func (j *Job) DurationFormatted() string {
	if j.DurationMS == 0 {
		return "-"
	}
	seconds := float64(j.DurationMS) / 1000
	if seconds < 60 {
		return formatUnit(seconds, "s")
	}
	minutes := seconds / 60
	if minutes < 60 {
		return formatUnit(minutes, "m")
	}
	hours := minutes / 60
	return formatUnit(hours, "h")
}

func formatUnit(v float64, unit string) string {
	return fmt.Sprintf("%.1f%s", v, unit)
}

// Schedule binds a workflow to a recurring or one-shot trigger.
type Schedule struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	WorkflowID      string            `json:"workflow_id"`
	WorkflowName    string            `json:"workflow_name"`
	RobotID         string            `json:"robot_id,omitempty"` // empty = any available robot
	RobotName       string            `json:"robot_name"`
	Frequency       ScheduleFrequency `json:"frequency"`
	CronExpression  string            `json:"cron_expression"`
	Timezone        string            `json:"timezone"`
	Enabled         bool              `json:"enabled"`
	Priority        JobPriority       `json:"priority"`
	Params          map[string]string `json:"params"`
	LastRun         *time.Time        `json:"last_run,omitempty"`
	NextRun         *time.Time        `json:"next_run,omitempty"`
	RunCount        int               `json:"run_count"`
	SuccessCount    int               `json:"success_count"`
	CreatedAt       time.Time         `json:"created_at"`
	CreatedBy       string            `json:"created_by"`
}

// SuccessRate returns the schedule's historical success percentage.
func (s *Schedule) SuccessRate() float64 {
	if s.RunCount == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.RunCount) * 100
}

// DashboardMetrics is the aggregate KPI snapshot served to operators.
type DashboardMetrics struct {
	TotalJobsToday      int     `json:"total_jobs_today"`
	TotalJobsWeek       int     `json:"total_jobs_week"`
	TotalJobsMonth      int     `json:"total_jobs_month"`
	JobsRunning         int     `json:"jobs_running"`
	JobsQueued          int     `json:"jobs_queued"`
	JobsCompletedToday  int     `json:"jobs_completed_today"`
	JobsFailedToday     int     `json:"jobs_failed_today"`
	SuccessRateToday    float64 `json:"success_rate_today"`
	SuccessRateWeek     float64 `json:"success_rate_week"`
	SuccessRateMonth    float64 `json:"success_rate_month"`
	RobotsTotal         int     `json:"robots_total"`
	RobotsOnline        int     `json:"robots_online"`
	RobotsBusy          int     `json:"robots_busy"`
	RobotUtilization    float64 `json:"robot_utilization"`
	AvgExecutionTimeMS  int64   `json:"avg_execution_time_ms"`
	AvgQueueWaitMS      int64   `json:"avg_queue_wait_ms"`
	ThroughputPerHour   float64 `json:"throughput_per_hour"`
	WorkflowsTotal      int     `json:"workflows_total"`
	WorkflowsPublished  int     `json:"workflows_published"`
	SchedulesActive     int     `json:"schedules_active"`
}

// JobHistoryEntry is one day's bucket in a job-history chart.
type JobHistoryEntry struct {
	Date      string `json:"date"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
}

// SuccessRate returns the day's success percentage.
func (e *JobHistoryEntry) SuccessRate() float64 {
	if e.Total == 0 {
		return 0
	}
	return float64(e.Completed) / float64(e.Total) * 100
}
