// Package scheduler drives Schedule triggers: cron expressions, fixed
// frequencies (hourly/daily/weekly/monthly), and one-shot runs at a given
// time. Cron grammar and next-run computation are delegated to
// robfig/cron/v3; the package adds the coalesce/single-flight/misfire-grace
// policy on top, matching the orchestrator's original APScheduler job
// defaults.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/model"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// misfireGrace is how late a trigger may fire and still be honored; beyond
// this the tick is skipped and the schedule resyncs to its next real run,
// mirroring APScheduler's misfire_grace_time=60 default this package
// replaces.
const misfireGrace = 60 * time.Second

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// TriggerFunc runs a schedule's job. Errors are logged but never stop the
// scheduler loop.
type TriggerFunc func(ctx context.Context, schedule *model.Schedule) error

// UpcomingRun describes one entry in the upcoming-runs listing.
type UpcomingRun struct {
	ScheduleID   string
	ScheduleName string
	WorkflowName string
	NextRun      time.Time
}

// Info is a point-in-time snapshot of a schedule's scheduler-side state.
type Info struct {
	ID             string
	Name           string
	WorkflowID     string
	WorkflowName   string
	Frequency      model.ScheduleFrequency
	CronExpression string
	Enabled        bool
	NextRun        *time.Time
	LastRun        *time.Time
	RunCount       int
	SuccessCount   int
}

type entry struct {
	schedule *model.Schedule
	cronSpec cron.Schedule // nil for ONCE
	nextRun  time.Time
	stop     chan struct{}
	running  sync.Mutex // held for the duration of one execution (max_instances=1)
}

// Scheduler owns one background goroutine per enabled schedule, each
// sleeping until its next computed run and invoking the trigger callback.
type Scheduler struct {
	mu        sync.Mutex
	entries   map[string]*entry
	onTrigger TriggerFunc
	log       logrus.FieldLogger
	now       func() time.Time
	wg        sync.WaitGroup
}

// New builds a Scheduler. onTrigger fires once per schedule tick.
func New(onTrigger TriggerFunc, log logrus.FieldLogger) *Scheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{
		entries:   make(map[string]*entry),
		onTrigger: onTrigger,
		log:       log,
		now:       time.Now,
	}
}

// ParseCron parses a 5- or 6-field (seconds-optional) cron expression.
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// FrequencyInterval maps a fixed ScheduleFrequency to its interval.
// MONTHLY is a fixed 30-day approximation, not calendar-aware, matching the
// orchestrator's historical behavior.
func FrequencyInterval(freq model.ScheduleFrequency) (time.Duration, bool) {
	switch freq {
	case model.FrequencyHourly:
		return time.Hour, true
	case model.FrequencyDaily:
		return 24 * time.Hour, true
	case model.FrequencyWeekly:
		return 7 * 24 * time.Hour, true
	case model.FrequencyMonthly:
		return 30 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

func buildCronSpec(s *model.Schedule) (cron.Schedule, error) {
	switch s.Frequency {
	case model.FrequencyOnce:
		return nil, nil
	case model.FrequencyCron:
		if s.CronExpression == "" {
			return nil, fmt.Errorf("cron schedule %s has no cron expression", s.ID)
		}
		return ParseCron(s.CronExpression)
	default:
		interval, ok := FrequencyInterval(s.Frequency)
		if !ok {
			return nil, fmt.Errorf("unknown frequency %q for schedule %s", s.Frequency, s.ID)
		}
		return cron.ConstantDelaySchedule{Delay: interval}, nil
	}
}

// AddSchedule registers and starts a schedule. Disabled schedules are
// recorded but not started until Enable is called.
func (s *Scheduler) AddSchedule(sch *model.Schedule) error {
	if !sch.Enabled {
		s.mu.Lock()
		s.entries[sch.ID] = &entry{schedule: sch}
		s.mu.Unlock()
		return nil
	}

	var firstRun time.Time
	var cronSpec cron.Schedule
	var err error

	if sch.Frequency == model.FrequencyOnce {
		if sch.NextRun == nil {
			return fmt.Errorf("once schedule %s has no next_run time", sch.ID)
		}
		firstRun = *sch.NextRun
	} else {
		cronSpec, err = buildCronSpec(sch)
		if err != nil {
			return err
		}
		firstRun = cronSpec.Next(s.now())
	}

	e := &entry{schedule: sch, cronSpec: cronSpec, nextRun: firstRun, stop: make(chan struct{})}

	s.mu.Lock()
	if old, ok := s.entries[sch.ID]; ok && old.stop != nil {
		close(old.stop)
	}
	s.entries[sch.ID] = e
	s.mu.Unlock()

	sch.NextRun = &firstRun
	s.wg.Add(1)
	go s.run(e)
	return nil
}

// RemoveSchedule stops and forgets a schedule.
func (s *Scheduler) RemoveSchedule(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	if e.stop != nil {
		close(e.stop)
	}
	delete(s.entries, id)
	return true
}

// UpdateSchedule replaces a schedule's definition, restarting its timer.
func (s *Scheduler) UpdateSchedule(sch *model.Schedule) error {
	s.RemoveSchedule(sch.ID)
	return s.AddSchedule(sch)
}

// Enable (re)starts a previously disabled schedule.
func (s *Scheduler) Enable(id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("schedule %s not found", id)
	}
	e.schedule.Enabled = true
	return s.AddSchedule(e.schedule)
}

// Disable stops a schedule's timer without forgetting it.
func (s *Scheduler) Disable(id string) {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	e.schedule.Enabled = false
	s.RemoveSchedule(id)
	s.mu.Lock()
	s.entries[id] = &entry{schedule: e.schedule}
	s.mu.Unlock()
}

// Stop halts every running schedule timer and waits for in-flight
// executions to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for _, e := range s.entries {
		if e.stop != nil {
			close(e.stop)
			e.stop = nil
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// run is the per-schedule background loop: sleep until nextRun, execute
// (skipping with a log if the tick is more than misfireGrace late, and
// skipping entirely if the previous execution is still in flight), then
// recompute nextRun.
func (s *Scheduler) run(e *entry) {
	defer s.wg.Done()
	for {
		wait := e.nextRun.Sub(s.now())
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-e.stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		if e.cronSpec == nil {
			s.fire(e)
			return // ONCE schedules run exactly once
		}

		late := s.now().Sub(e.nextRun)
		if late > misfireGrace {
			s.log.WithField("schedule_id", e.schedule.ID).Warn("schedule tick missed misfire grace, skipping to next run")
		} else {
			s.fire(e)
		}
		e.nextRun = e.cronSpec.Next(s.now())
		e.schedule.NextRun = &e.nextRun
	}
}

// fire invokes the trigger callback under the entry's single-flight lock
// (max_instances=1) and updates run bookkeeping. A panic in the callback
// is recovered so one bad schedule can never take down the loop.
func (s *Scheduler) fire(e *entry) {
	if !e.running.TryLock() {
		s.log.WithField("schedule_id", e.schedule.ID).Warn("previous execution still running, skipping this tick")
		return
	}
	defer e.running.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("schedule_id", e.schedule.ID).Errorf("schedule trigger panicked: %v", r)
		}
	}()

	now := s.now()
	e.schedule.LastRun = &now
	e.schedule.RunCount++

	if s.onTrigger != nil {
		if err := s.onTrigger(context.Background(), e.schedule); err != nil {
			s.log.WithField("schedule_id", e.schedule.ID).WithError(err).Error("schedule trigger failed")
			return
		}
	}
	e.schedule.SuccessCount++
}

// UpcomingRuns returns up to limit schedules sorted by next run time.
func (s *Scheduler) UpcomingRuns(limit int) []UpcomingRun {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []UpcomingRun
	for _, e := range s.entries {
		if e.schedule.Enabled && e.schedule.NextRun != nil {
			out = append(out, UpcomingRun{
				ScheduleID:   e.schedule.ID,
				ScheduleName: e.schedule.Name,
				WorkflowName: e.schedule.WorkflowName,
				NextRun:      *e.schedule.NextRun,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRun.Before(out[j].NextRun) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// Info returns the scheduler-side snapshot for a schedule, or false if
// unknown.
func (s *Scheduler) Info(id string) (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Info{}, false
	}
	return Info{
		ID:             e.schedule.ID,
		Name:           e.schedule.Name,
		WorkflowID:     e.schedule.WorkflowID,
		WorkflowName:   e.schedule.WorkflowName,
		Frequency:      e.schedule.Frequency,
		CronExpression: e.schedule.CronExpression,
		Enabled:        e.schedule.Enabled,
		NextRun:        e.schedule.NextRun,
		LastRun:        e.schedule.LastRun,
		RunCount:       e.schedule.RunCount,
		SuccessCount:   e.schedule.SuccessCount,
	}, true
}
