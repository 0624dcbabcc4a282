// Package queue implements the priority job queue: a max-heap ordered by
// priority then age, backed by deduplication and timeout-tracking
// collaborators, plus the job state machine transitions the queue is
// responsible for driving.
package queue

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/model"
	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/orcherr"
)

// RobotView is the minimal robot state the queue needs to decide whether a
// job can be dequeued to it.
type RobotView struct {
	ID        string
	Name      string
	Available bool
}

// StateChangeFunc observes every job status transition the queue drives.
// It runs synchronously while the queue's internal lock is held, so
// observers see transitions in the same linear order the queue applies
// them.
type StateChangeFunc func(job *model.Job, from, to model.JobStatus)

// Stats summarizes the queue's current contents.
type Stats struct {
	Queued       int
	Running      int
	ByPriority   map[model.JobPriority]int
	TotalTracked int
}

// Queue is a priority-ordered job queue with deduplication, timeout
// tracking, and state-machine enforcement.
type Queue struct {
	mu         sync.Mutex
	heap       priorityHeap
	jobs       map[string]*model.Job
	runningBy  map[string]string   // jobID -> robotID
	robotJobs  map[string]map[string]bool // robotID -> set of jobID

	dedup   *Deduplicator
	timeout *TimeoutTracker

	onStateChange StateChangeFunc
	now           func() time.Time
}

// Config configures a new Queue.
type Config struct {
	DedupWindow    time.Duration
	DefaultTimeout time.Duration
	OnStateChange  StateChangeFunc
}

// New builds an empty Queue.
func New(cfg Config) *Queue {
	q := &Queue{
		jobs:          make(map[string]*model.Job),
		runningBy:     make(map[string]string),
		robotJobs:     make(map[string]map[string]bool),
		dedup:         NewDeduplicator(cfg.DedupWindow),
		timeout:       NewTimeoutTracker(cfg.DefaultTimeout),
		onStateChange: cfg.OnStateChange,
		now:           time.Now,
	}
	heap.Init(&q.heap)
	return q
}

// Enqueue adds a PENDING job to the queue, transitioning it to QUEUED.
// Unless checkDuplicate is false, a fingerprint match within the dedup
// window rejects the submission with a business error.
func (q *Queue) Enqueue(job *model.Job, checkDuplicate bool, params map[string]string) error {
	if checkDuplicate && q.dedup.IsDuplicate(job.WorkflowID, job.RobotID, params) {
		return orcherr.Business(orcherr.CodeDuplicate, "duplicate job detected within deduplication window")
	}

	q.mu.Lock()
	if job.Status != model.JobPending {
		q.mu.Unlock()
		return orcherr.Validation(orcherr.CodeInvalidTransition,
			fmt.Sprintf("job must be in pending state, got %s", job.Status))
	}

	old := job.Status
	if err := model.Transition(job, model.JobQueued, q.now()); err != nil {
		q.mu.Unlock()
		return orcherr.Validation(orcherr.CodeInvalidTransition, err.Error())
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = q.now()
	}

	it := &item{priority: job.Priority, createdAt: job.CreatedAt, jobID: job.ID}
	heap.Push(&q.heap, it)
	q.jobs[job.ID] = job

	q.dedup.Record(job.WorkflowID, job.RobotID, params)

	q.notifyLocked(job, old, job.Status)
	q.mu.Unlock()
	return nil
}

// Dequeue pops the highest-priority QUEUED job eligible for robot, if any,
// and transitions it to RUNNING. A job pinned to a specific robot (via
// Job.RobotID) is skipped for any other robot.
func (q *Queue) Dequeue(robot RobotView) (*model.Job, error) {
	if !robot.Available {
		return nil, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var setAside []*item
	var selected *item

	for q.heap.Len() > 0 {
		it := heap.Pop(&q.heap).(*item)
		job, ok := q.jobs[it.jobID]
		if !ok || job.Status != model.JobQueued {
			continue
		}
		if job.RobotID != "" && job.RobotID != robot.ID {
			setAside = append(setAside, it)
			continue
		}
		selected = it
		break
	}

	for _, it := range setAside {
		heap.Push(&q.heap, it)
	}

	if selected == nil {
		return nil, nil
	}

	job := q.jobs[selected.jobID]
	old := job.Status

	if err := model.Transition(job, model.JobRunning, q.now()); err != nil {
		heap.Push(&q.heap, selected)
		return nil, nil
	}
	job.RobotID = robot.ID
	job.RobotName = robot.Name

	q.runningBy[job.ID] = robot.ID
	if q.robotJobs[robot.ID] == nil {
		q.robotJobs[robot.ID] = make(map[string]bool)
	}
	q.robotJobs[robot.ID][job.ID] = true
	q.timeout.StartTracking(job.ID, time.Duration(job.TimeoutSec)*time.Second)

	q.notifyLocked(job, old, job.Status)
	return job, nil
}

// Complete marks a RUNNING job COMPLETED, recording result.
func (q *Queue) Complete(jobID string, result map[string]interface{}) error {
	return q.finish(jobID, model.JobCompleted, result, "")
}

// Fail marks a RUNNING job FAILED with the given error message.
func (q *Queue) Fail(jobID string, errMsg string) error {
	return q.finish(jobID, model.JobFailed, nil, errMsg)
}

// Timeout marks a RUNNING job TIMEOUT.
func (q *Queue) Timeout(jobID string) error {
	return q.finish(jobID, model.JobTimeout, nil, "job execution timed out")
}

func (q *Queue) finish(jobID string, to model.JobStatus, result map[string]interface{}, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return orcherr.Business(orcherr.CodeNotFound, "job not found")
	}
	if job.Status != model.JobRunning {
		return orcherr.Validation(orcherr.CodeInvalidTransition,
			fmt.Sprintf("job is not running (status: %s)", job.Status))
	}

	old := job.Status
	if err := model.Transition(job, to, q.now()); err != nil {
		return orcherr.Validation(orcherr.CodeInvalidTransition, err.Error())
	}
	if result != nil {
		job.Result = result
	}
	if errMsg != "" {
		job.ErrorMessage = errMsg
	}
	if to == model.JobCompleted {
		job.Progress = 100
	}

	q.releaseLocked(jobID)
	q.notifyLocked(job, old, job.Status)
	return nil
}

// Cancel transitions a non-terminal job to CANCELLED.
func (q *Queue) Cancel(jobID, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return orcherr.Business(orcherr.CodeNotFound, "job not found")
	}
	if model.IsTerminalStatus(job.Status) {
		return orcherr.Business(orcherr.CodeInvalidTransition,
			fmt.Sprintf("cannot cancel job in %s state", job.Status))
	}

	old := job.Status
	if err := model.Transition(job, model.JobCancelled, q.now()); err != nil {
		return orcherr.Validation(orcherr.CodeInvalidTransition, err.Error())
	}
	if reason == "" {
		reason = "cancelled by user"
	}
	job.ErrorMessage = reason

	q.releaseLocked(jobID)
	q.notifyLocked(job, old, job.Status)
	return nil
}

// releaseLocked clears running-job bookkeeping for jobID. Callers hold q.mu.
func (q *Queue) releaseLocked(jobID string) {
	if robotID, ok := q.runningBy[jobID]; ok {
		delete(q.runningBy, jobID)
		delete(q.robotJobs[robotID], jobID)
		q.timeout.StopTracking(jobID)
	}
}

func (q *Queue) notifyLocked(job *model.Job, from, to model.JobStatus) {
	if q.onStateChange != nil {
		q.onStateChange(job, from, to)
	}
}

// UpdateProgress sets progress (clamped 0-100) and current node on a
// RUNNING job. Reports false if the job is unknown or not running.
func (q *Queue) UpdateProgress(jobID string, progress int, currentNode string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok || job.Status != model.JobRunning {
		return false
	}
	if progress < 0 {
		progress = 0
	} else if progress > 100 {
		progress = 100
	}
	job.Progress = progress
	if currentNode != "" {
		job.CurrentNode = currentNode
	}
	return true
}

// CheckTimeouts finds overrun jobs and transitions them to TIMEOUT,
// returning the affected job IDs.
func (q *Queue) CheckTimeouts() []string {
	timedOut := q.timeout.TimedOut()
	for _, jobID := range timedOut {
		_ = q.Timeout(jobID)
	}
	return timedOut
}

// Job returns the tracked job by ID, or nil.
func (q *Queue) Job(jobID string) *model.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs[jobID]
}

// QueuedJobs returns all jobs currently in QUEUED status.
func (q *Queue) QueuedJobs() []*model.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*model.Job
	for _, it := range q.heap {
		if job, ok := q.jobs[it.jobID]; ok && job.Status == model.JobQueued {
			out = append(out, job)
		}
	}
	return out
}

// RunningJobs returns all jobs currently RUNNING.
func (q *Queue) RunningJobs() []*model.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*model.Job, 0, len(q.runningBy))
	for jobID := range q.runningBy {
		if job, ok := q.jobs[jobID]; ok {
			out = append(out, job)
		}
	}
	return out
}

// RobotJobs returns the jobs currently assigned to robotID.
func (q *Queue) RobotJobs(robotID string) []*model.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*model.Job
	for jobID := range q.robotJobs[robotID] {
		if job, ok := q.jobs[jobID]; ok {
			out = append(out, job)
		}
	}
	return out
}

// Depth returns the number of jobs currently QUEUED.
func (q *Queue) Depth() int {
	return len(q.QueuedJobs())
}

// RemainingTimeout returns the time left before jobID's tracked timeout.
func (q *Queue) RemainingTimeout(jobID string) (time.Duration, bool) {
	return q.timeout.Remaining(jobID)
}

// QueueStats summarizes queue depth by priority plus running/total counts.
func (q *Queue) QueueStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	byPriority := make(map[model.JobPriority]int)
	queued := 0
	for _, it := range q.heap {
		if job, ok := q.jobs[it.jobID]; ok && job.Status == model.JobQueued {
			queued++
			byPriority[job.Priority]++
		}
	}

	return Stats{
		Queued:       queued,
		Running:      len(q.runningBy),
		ByPriority:   byPriority,
		TotalTracked: len(q.jobs),
	}
}
