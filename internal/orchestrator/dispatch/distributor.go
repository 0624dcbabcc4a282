package dispatch

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/model"
	"github.com/sirupsen/logrus"
)

// Rule matches jobs by workflow-name glob and environment, and overrides
// the selection strategy and candidate filters for jobs it matches.
type Rule struct {
	Name             string
	WorkflowPattern  string // glob pattern against Job.WorkflowName; "*" matches everything
	RequiredTags     []string
	PreferredRobots  []string
	ExcludedRobots   []string
	Environment      string
	Strategy         Strategy
	PriorityBoost    int
}

// Result is the outcome of one distribution attempt.
type Result struct {
	Success         bool
	JobID           string
	RobotID         string
	Message         string
	RetryCount      int
	AttemptedRobots []string
}

// SendFunc delivers job to robotID and reports whether it was accepted.
// Implementations should respect ctx's deadline.
type SendFunc func(ctx context.Context, robotID string, job *model.Job) (accepted bool, reason string, err error)

// Stats summarizes distribution history.
type Stats struct {
	Total         int
	Successful    int
	Failed        int
	SuccessRate   float64
	AvgRetryCount float64
	RuleCount     int
}

// Distributor dispatches jobs to robots chosen by a Selector, applying
// Rules, retrying on rejection/timeout/error with a fixed delay between
// attempts, and keeping a bounded history of outcomes.
type Distributor struct {
	maxRetries         int
	retryDelay         time.Duration
	distributionTimeout time.Duration
	maxHistory         int

	selector *Selector
	log      logrus.FieldLogger

	mu              sync.Mutex
	rules           []Rule
	defaultStrategy Strategy
	history         []Result

	send      SendFunc
	onSuccess func(jobID, robotID string)
	onFailure func(jobID, message string)
}

// Config configures a new Distributor.
type Config struct {
	MaxRetries          int
	RetryDelay          time.Duration
	DistributionTimeout time.Duration
	MaxHistory          int
	Logger              logrus.FieldLogger
}

// New builds a Distributor.
func New(cfg Config, selector *Selector) *Distributor {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 1000
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Distributor{
		maxRetries:          cfg.MaxRetries,
		retryDelay:          cfg.RetryDelay,
		distributionTimeout: cfg.DistributionTimeout,
		maxHistory:          cfg.MaxHistory,
		selector:            selector,
		log:                 log,
		defaultStrategy:     LeastLoaded,
	}
}

// SetSendFunc installs the function used to push a job to a robot.
func (d *Distributor) SetSendFunc(fn SendFunc) { d.send = fn }

// SetCallbacks installs success/failure observers, each invoked once per
// distribution outcome.
func (d *Distributor) SetCallbacks(onSuccess func(jobID, robotID string), onFailure func(jobID, message string)) {
	d.onSuccess = onSuccess
	d.onFailure = onFailure
}

// AddRule appends a distribution rule; rules are matched in order and the
// first match wins.
func (d *Distributor) AddRule(r Rule) {
	d.mu.Lock()
	d.rules = append(d.rules, r)
	d.mu.Unlock()
}

// RemoveRule removes the named rule, reporting whether one was found.
func (d *Distributor) RemoveRule(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, r := range d.rules {
		if r.Name == name {
			d.rules = append(d.rules[:i], d.rules[i+1:]...)
			return true
		}
	}
	return false
}

// ClearRules removes all distribution rules.
func (d *Distributor) ClearRules() {
	d.mu.Lock()
	d.rules = nil
	d.mu.Unlock()
}

func (d *Distributor) findMatchingRule(job *model.Job) *Rule {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.rules {
		r := &d.rules[i]
		if r.WorkflowPattern != "*" && r.WorkflowPattern != "" {
			matched, err := path.Match(r.WorkflowPattern, job.WorkflowName)
			if err != nil || !matched {
				continue
			}
		}
		if r.Environment != "" && job.Environment != r.Environment {
			continue
		}
		return r
	}
	return nil
}

// Distribute selects a robot from availableRobots and attempts delivery,
// retrying with other candidates up to maxRetries+1 total attempts,
// sleeping retryDelay between attempts. ctx cancellation aborts retries.
func (d *Distributor) Distribute(ctx context.Context, job *model.Job, availableRobots []*model.Robot, strategyOverride Strategy) Result {
	if d.send == nil {
		return Result{Success: false, JobID: job.ID, Message: "no send function configured"}
	}

	rule := d.findMatchingRule(job)
	strategy := strategyOverride
	if strategy == "" {
		if rule != nil {
			strategy = rule.Strategy
		} else {
			strategy = d.defaultStrategy
		}
	}

	criteria := SelectionCriteria{Strategy: strategy}
	if rule != nil {
		criteria.RequiredTags = rule.RequiredTags
		criteria.PreferredRobots = rule.PreferredRobots
		criteria.ExcludedRobots = rule.ExcludedRobots
	}

	var attempted []string
	retryCount := 0

attempts:
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		remaining := excludeAttempted(availableRobots, attempted)
		robot := d.selector.Select(job, remaining, criteria)
		if robot == nil {
			break
		}
		attempted = append(attempted, robot.ID)

		sendCtx, cancel := context.WithTimeout(ctx, d.distributionTimeout)
		accepted, reason, err := d.send(sendCtx, robot.ID, job)
		cancel()

		if err == nil && accepted {
			result := Result{Success: true, JobID: job.ID, RobotID: robot.ID, Message: "job accepted", RetryCount: retryCount, AttemptedRobots: attempted}
			d.recordResult(result)
			d.fireSuccess(job.ID, robot.ID)
			return result
		}

		retryCount++
		if err != nil {
			d.log.WithFields(logrus.Fields{"job_id": job.ID, "robot_id": robot.ID}).WithError(err).Warn("error distributing job")
		} else {
			d.log.WithFields(logrus.Fields{"job_id": job.ID, "robot_id": robot.ID, "reason": reason}).Warn("job rejected by robot")
		}

		if attempt < d.maxRetries {
			select {
			case <-ctx.Done():
				break attempts
			case <-time.After(d.retryDelay):
			}
		}
	}

	result := Result{Success: false, JobID: job.ID, Message: fmt.Sprintf("distribution failed after %d attempts", retryCount), RetryCount: retryCount, AttemptedRobots: attempted}
	d.recordResult(result)
	d.fireFailure(job.ID, result.Message)
	return result
}

func excludeAttempted(robots []*model.Robot, attempted []string) []*model.Robot {
	if len(attempted) == 0 {
		return robots
	}
	seen := make(map[string]bool, len(attempted))
	for _, id := range attempted {
		seen[id] = true
	}
	out := make([]*model.Robot, 0, len(robots))
	for _, r := range robots {
		if !seen[r.ID] {
			out = append(out, r)
		}
	}
	return out
}

// DistributeBatch distributes jobs in descending priority order, shrinking
// the available-robot pool as robots saturate.
func (d *Distributor) DistributeBatch(ctx context.Context, jobs []*model.Job, availableRobots []*model.Robot) []Result {
	sorted := make([]*model.Job, len(jobs))
	copy(sorted, jobs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	results := make([]Result, 0, len(sorted))
	robots := availableRobots
	for _, job := range sorted {
		result := d.Distribute(ctx, job, robots, "")
		results = append(results, result)

		if result.Success && result.RobotID != "" {
			filtered := make([]*model.Robot, 0, len(robots))
			for _, r := range robots {
				if r.ID != result.RobotID || r.CurrentJobs < r.MaxConcurrentJobs-1 {
					filtered = append(filtered, r)
				}
			}
			robots = filtered
		}
	}
	return results
}

func (d *Distributor) recordResult(r Result) {
	d.mu.Lock()
	d.history = append(d.history, r)
	if len(d.history) > d.maxHistory {
		d.history = d.history[len(d.history)-d.maxHistory:]
	}
	d.mu.Unlock()
}

func (d *Distributor) fireSuccess(jobID, robotID string) {
	if d.onSuccess != nil {
		d.onSuccess(jobID, robotID)
	}
}

func (d *Distributor) fireFailure(jobID, message string) {
	if d.onFailure != nil {
		d.onFailure(jobID, message)
	}
}

// Stats returns aggregate distribution statistics over recorded history.
func (d *Distributor) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	total := len(d.history)
	if total == 0 {
		return Stats{RuleCount: len(d.rules)}
	}
	successful := 0
	var retrySum int
	for _, r := range d.history {
		if r.Success {
			successful++
		}
		retrySum += r.RetryCount
	}
	return Stats{
		Total:         total,
		Successful:    successful,
		Failed:        total - successful,
		SuccessRate:   float64(successful) / float64(total),
		AvgRetryCount: float64(retrySum) / float64(total),
		RuleCount:     len(d.rules),
	}
}

// RecentResults returns up to limit of the most recent distribution
// outcomes, most recent last.
func (d *Distributor) RecentResults(limit int) []Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	if limit <= 0 || limit > len(d.history) {
		limit = len(d.history)
	}
	start := len(d.history) - limit
	out := make([]Result, limit)
	copy(out, d.history[start:])
	return out
}
