// Package engine composes the queue, scheduler, dispatcher, resilience
// and security subsystems into the orchestrator's single coordinating
// entry point, wiring robot lifecycle and job lifecycle across them.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/dispatch"
	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/metrics"
	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/model"
	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/orcherr"
	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/queue"
	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/resilience"
	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/scheduler"
	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/security"
	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/server"
	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/store"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Config parameterizes the engine's background cadence and defaults.
type Config struct {
	DispatchInterval     time.Duration
	TimeoutCheckInterval time.Duration
	PersistInterval      time.Duration
	DefaultJobTimeout    time.Duration
	DedupWindow          time.Duration
	MaxRetries           int
	TokenTTL             time.Duration
	RateLimit            security.RateLimitConfig
	Logger               logrus.FieldLogger
}

// DefaultConfig mirrors the orchestrator's historical engine defaults.
func DefaultConfig() Config {
	return Config{
		DispatchInterval:     5 * time.Second,
		TimeoutCheckInterval: 30 * time.Second,
		PersistInterval:      10 * time.Second,
		DefaultJobTimeout:    time.Hour,
		DedupWindow:          5 * time.Minute,
		MaxRetries:           3,
		TokenTTL:             security.DefaultTokenTTL,
		RateLimit:            security.DefaultRateLimitConfig(),
	}
}

// Engine is the top-level orchestrator: it owns every subsystem and is
// the only component that talks to the persistence store.
type Engine struct {
	cfg Config
	log logrus.FieldLogger

	Queue       *queue.Queue
	Scheduler   *scheduler.Scheduler
	Selector    *dispatch.Selector
	Router      *dispatch.Router
	Distributor *dispatch.Distributor
	Recovery    *resilience.Recovery
	Health      *resilience.HealthMonitor
	Tokens      *security.TokenManager
	Limiter     *security.RateLimiter
	Store       store.Store
	Metrics     *metrics.Metrics

	mu       sync.RWMutex
	robots   map[string]*model.Robot
	sessions map[string]*server.Session
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New wires every subsystem together. send is the transport-level
// callback the dispatcher uses to push EXECUTE_JOB to a robot. Pass nil
// to use the engine's own session registry, populated as robots complete
// the websocket handshake via RobotHandler; tests typically pass a fake
// instead to exercise dispatch logic without a live connection.
func New(cfg Config, st store.Store, send dispatch.SendFunc) *Engine {
	if cfg.DispatchInterval == 0 {
		cfg = DefaultConfig()
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	selector := dispatch.NewSelector()

	e := &Engine{
		cfg:      cfg,
		log:      log,
		Selector: selector,
		Router:   dispatch.NewRouter(),
		Tokens:   security.NewTokenManager(),
		Limiter:  security.NewRateLimiter(cfg.RateLimit),
		Store:    st,
		Metrics:  metrics.NewWithRegistry(prometheus.NewRegistry()),
		robots:   make(map[string]*model.Robot),
		sessions: make(map[string]*server.Session),
	}

	if send == nil {
		send = e.sendToRobot
	}

	e.Queue = queue.New(queue.Config{
		DedupWindow:       cfg.DedupWindow,
		DefaultTimeout:    cfg.DefaultJobTimeout,
		OnStateChange:     e.onJobStateChange,
	})

	e.Distributor = dispatch.New(dispatch.Config{
		MaxRetries: cfg.MaxRetries,
		Logger:     log,
	}, selector)
	e.Distributor.SetSendFunc(send)
	e.Distributor.SetCallbacks(e.onDispatchSuccess, e.onDispatchFailure)

	e.Recovery = resilience.New(resilience.Config{Logger: log})

	e.Health = resilience.NewHealthMonitor(resilience.Config{
		OnUnhealthy: e.onRobotUnhealthy,
		OnChange:    e.onRobotHealthChange,
	})

	e.Scheduler = scheduler.New(e.onScheduleTrigger, log)

	return e
}

// Start loads persisted robots and schedules, then launches the
// background timeout-check and persistence-sweep loops.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = true
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.mu.Unlock()

	if e.Store != nil {
		robots, err := e.Store.GetRobots(ctx)
		if err != nil {
			e.log.WithError(err).Warn("failed to load robots from store")
		}
		for _, r := range robots {
			e.mu.Lock()
			e.robots[r.ID] = r
			e.mu.Unlock()
		}

		schedules, err := e.Store.GetSchedules(ctx)
		if err != nil {
			e.log.WithError(err).Warn("failed to load schedules from store")
		}
		for _, sch := range schedules {
			if sch.Enabled {
				if err := e.Scheduler.AddSchedule(sch); err != nil {
					e.log.WithError(err).WithField("schedule_id", sch.ID).Warn("failed to restore schedule")
				}
			}
		}
	}

	e.wg.Add(2)
	go e.timeoutLoop(runCtx)
	go e.persistLoop(runCtx)

	e.log.Info("orchestrator engine started")
	return nil
}

// Stop cancels background tasks cooperatively, joins them, and stops the
// scheduler. In-memory state is left intact for the store to quiesce.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
	e.Scheduler.Stop()
	e.log.Info("orchestrator engine stopped")
}

func (e *Engine) timeoutLoop(ctx context.Context) {
	defer e.wg.Done()
	interval := e.cfg.TimeoutCheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Queue.CheckTimeouts()
		}
	}
}

func (e *Engine) persistLoop(ctx context.Context) {
	defer e.wg.Done()
	interval := e.cfg.PersistInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.persistSweep(ctx)
		}
	}
}

func (e *Engine) persistSweep(ctx context.Context) {
	queued := e.Queue.QueuedJobs()
	running := e.Queue.RunningJobs()
	e.Metrics.SetQueueDepth("queued", len(queued))
	e.Metrics.SetQueueDepth("running", len(running))

	if e.Store != nil {
		for _, job := range queued {
			if err := e.Store.SaveJob(ctx, job); err != nil {
				e.log.WithError(err).WithField("job_id", job.ID).Warn("persistence sweep failed to save job")
			}
		}
		for _, job := range running {
			if err := e.Store.SaveJob(ctx, job); err != nil {
				e.log.WithError(err).WithField("job_id", job.ID).Warn("persistence sweep failed to save job")
			}
		}
	}
	e.Tokens.Sweep()
}

// onJobStateChange is the queue's StateChangeFunc; it persists the job and
// fires any dispatch bookkeeping tied to terminal states.
func (e *Engine) onJobStateChange(job *model.Job, from, to model.JobStatus) {
	if e.Store != nil {
		if err := e.Store.SaveJob(context.Background(), job); err != nil {
			e.log.WithError(err).WithField("job_id", job.ID).Warn("failed to persist job on state change")
		}
	}
	switch to {
	case model.JobCompleted:
		e.Metrics.RecordJobCompleted(job.WorkflowID, time.Duration(job.DurationMS)*time.Millisecond)
	case model.JobFailed, model.JobCancelled, model.JobTimeout:
		e.Metrics.RecordJobFailed(job.WorkflowID, string(to))
	}
	if model.IsTerminalStatus(to) && job.RobotID != "" {
		e.releaseRobotSlot(job.RobotID)
	}
}

func (e *Engine) onDispatchSuccess(jobID, robotID string) {
	e.log.WithFields(logrus.Fields{"job_id": jobID, "robot_id": robotID}).Info("job dispatched")
	e.Metrics.RecordDispatchAttempt("accepted", 0)
}

func (e *Engine) onDispatchFailure(jobID, message string) {
	e.log.WithFields(logrus.Fields{"job_id": jobID, "reason": message}).Warn("job dispatch failed")
	e.Metrics.RecordDispatchAttempt("failed", 0)
	job := e.Queue.Job(jobID)
	if job == nil {
		return
	}
	requeuer := &queueRequeuer{engine: e}
	if err := e.Recovery.HandleJobError(context.Background(), jobID, fmt.Errorf("%s", message), job.RetryCount, e.cfg.MaxRetries, requeuer); err != nil {
		e.log.WithError(err).WithField("job_id", jobID).Warn("recovery failed to handle dispatch failure")
	}
}

func (e *Engine) onRobotUnhealthy(robotID string) {
	e.Selector.EvictAffinity(robotID)
	e.UpdateRobotStatus(robotID, model.RobotOffline)

	handler := &robotCrashHandler{engine: e}
	if err := e.Recovery.HandleRobotCrash(context.Background(), robotID, false, handler); err != nil {
		e.log.WithError(err).WithField("robot_id", robotID).Warn("failed to reassign jobs for unhealthy robot")
		e.Metrics.RecordRecoveryAction("robot_crash", "error")
		return
	}
	e.Metrics.RecordRecoveryAction("robot_crash", "reassigned")
}

func (e *Engine) onRobotHealthChange(robotID string, old, new resilience.Health) {
	e.log.WithFields(logrus.Fields{"robot_id": robotID, "from": old, "to": new}).Info("robot health changed")
	e.Metrics.SetRobotHealth(robotID, string(new))
}

func (e *Engine) onScheduleTrigger(ctx context.Context, sch *model.Schedule) error {
	_, err := e.SubmitJob(ctx, SubmitJobRequest{
		WorkflowID:   sch.WorkflowID,
		WorkflowName: sch.WorkflowName,
		RobotID:      sch.RobotID,
		Priority:     sch.Priority,
		Params:       sch.Params,
	})
	return err
}

// releaseRobotSlot decrements a robot's current-job count after a job
// leaves a running state, without requiring the caller to hold any lock.
func (e *Engine) releaseRobotSlot(robotID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.robots[robotID]; ok && r.CurrentJobs > 0 {
		r.CurrentJobs--
	}
}

// queueRequeuer adapts the Engine to resilience.JobRequeuer.
type queueRequeuer struct{ engine *Engine }

func (q *queueRequeuer) RetryJob(ctx context.Context, jobID string) error {
	job := q.engine.Queue.Job(jobID)
	if job == nil {
		return orcherr.Business(orcherr.CodeNotFound, "job not found").WithDetail("job_id", jobID)
	}
	job.RetryCount++
	return q.engine.Queue.Enqueue(job, false, nil)
}

func (q *queueRequeuer) FailJob(ctx context.Context, jobID, reason string) error {
	return q.engine.Queue.Fail(jobID, reason)
}

// robotCrashHandler adapts the Engine to resilience.RobotCrashHandler.
type robotCrashHandler struct{ engine *Engine }

func (h *robotCrashHandler) RestartRobot(ctx context.Context, robotID string) error {
	return nil
}

func (h *robotCrashHandler) ReassignActiveJobs(ctx context.Context, robotID string) error {
	for _, job := range h.engine.Queue.RobotJobs(robotID) {
		job.RetryCount++
		job.RobotID = ""
		if err := h.engine.Queue.Fail(job.ID, "robot became unhealthy"); err != nil {
			continue
		}
		if _, err := h.engine.RetryJob(ctx, job.ID); err != nil {
			h.engine.log.WithError(err).WithField("job_id", job.ID).Warn("failed to reassign job after robot crash")
		}
	}
	return nil
}

// newID generates a fresh identifier for jobs, sessions, etc.
func newID() string { return uuid.NewString() }
