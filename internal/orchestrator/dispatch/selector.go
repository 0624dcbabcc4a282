// Package dispatch selects a robot for a job and drives the dispatch
// pipeline: distribution rules, retries with backoff, and environment/tag
// based routing to eligible robot subsets.
package dispatch

import (
	"math/rand"
	"sort"
	"sync"

	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/model"
)

// Strategy selects among candidate robots for a job.
type Strategy string

const (
	RoundRobin      Strategy = "round_robin"
	LeastLoaded     Strategy = "least_loaded"
	Random          Strategy = "random"
	CapabilityMatch Strategy = "capability_match"
	Affinity        Strategy = "affinity"
)

// SelectionCriteria narrows the candidate robot pool before a strategy runs.
type SelectionCriteria struct {
	Strategy         Strategy
	RequiredTags     []string
	PreferredRobots  []string
	ExcludedRobots   []string
}

// Selector picks the best robot for a job given a strategy and filters,
// holding the strategy-local state (round-robin cursor, workflow affinity
// map) needed to make that selection sticky across calls.
type Selector struct {
	mu           sync.Mutex
	rrCursor     int
	affinity     map[string]string // workflowID -> robotID
	rng          *rand.Rand
}

// NewSelector builds an empty Selector.
func NewSelector() *Selector {
	return &Selector{
		affinity: make(map[string]string),
		rng:      rand.New(rand.NewSource(1)),
	}
}

// Select returns the best robot in availableRobots for job under criteria,
// or nil if none qualify.
func (s *Selector) Select(job *model.Job, availableRobots []*model.Robot, criteria SelectionCriteria) *model.Robot {
	if len(availableRobots) == 0 {
		return nil
	}

	candidates := filterOnline(availableRobots)
	if job.Environment != "" {
		candidates = filterEnvironment(candidates, job.Environment)
	}
	if len(criteria.RequiredTags) > 0 {
		candidates = filterRequiredTags(candidates, criteria.RequiredTags)
	}
	if len(criteria.ExcludedRobots) > 0 {
		candidates = filterExcluded(candidates, criteria.ExcludedRobots)
	}
	if len(candidates) == 0 {
		return nil
	}

	if len(criteria.PreferredRobots) > 0 {
		if preferred := filterPreferred(candidates, criteria.PreferredRobots); len(preferred) > 0 {
			candidates = preferred
		}
	}

	switch criteria.Strategy {
	case RoundRobin:
		return s.selectRoundRobin(candidates)
	case Random:
		return s.selectRandom(candidates)
	case CapabilityMatch:
		return s.selectByCapability(job, candidates)
	case Affinity:
		return s.selectByAffinity(job, candidates)
	default:
		return selectLeastLoaded(candidates)
	}
}

// EvictAffinity removes any workflow-affinity entry pointing at robotID.
// The selector's owner wires this to the health monitor's transition
// callback so a sticky session doesn't keep routing jobs to a robot that
// has gone UNHEALTHY or OFFLINE.
func (s *Selector) EvictAffinity(robotID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for wf, rid := range s.affinity {
		if rid == robotID {
			delete(s.affinity, wf)
		}
	}
}

// ClearAffinity drops the affinity entry for a single workflow.
func (s *Selector) ClearAffinity(workflowID string) {
	s.mu.Lock()
	delete(s.affinity, workflowID)
	s.mu.Unlock()
}

func filterOnline(robots []*model.Robot) []*model.Robot {
	out := make([]*model.Robot, 0, len(robots))
	for _, r := range robots {
		if r.Status == model.RobotOnline {
			out = append(out, r)
		}
	}
	return out
}

func filterEnvironment(robots []*model.Robot, env string) []*model.Robot {
	out := make([]*model.Robot, 0, len(robots))
	for _, r := range robots {
		if r.Environment == env {
			out = append(out, r)
		}
	}
	return out
}

func filterRequiredTags(robots []*model.Robot, required []string) []*model.Robot {
	out := make([]*model.Robot, 0, len(robots))
	for _, r := range robots {
		ok := true
		for _, tag := range required {
			if !r.HasTag(tag) {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, r)
		}
	}
	return out
}

func filterExcluded(robots []*model.Robot, excluded []string) []*model.Robot {
	excludeSet := make(map[string]bool, len(excluded))
	for _, id := range excluded {
		excludeSet[id] = true
	}
	out := make([]*model.Robot, 0, len(robots))
	for _, r := range robots {
		if !excludeSet[r.ID] {
			out = append(out, r)
		}
	}
	return out
}

func filterPreferred(robots []*model.Robot, preferred []string) []*model.Robot {
	preferSet := make(map[string]bool, len(preferred))
	for _, id := range preferred {
		preferSet[id] = true
	}
	out := make([]*model.Robot, 0, len(robots))
	for _, r := range robots {
		if preferSet[r.ID] {
			out = append(out, r)
		}
	}
	return out
}

func loadFactor(r *model.Robot) float64 {
	max := r.MaxConcurrentJobs
	if max < 1 {
		max = 1
	}
	return float64(r.CurrentJobs) / float64(max)
}

func cpuPercent(r *model.Robot) float64 {
	if r.Metrics == nil {
		return 0
	}
	if v, ok := r.Metrics["cpu_percent"].(float64); ok {
		return v
	}
	return 0
}

func selectLeastLoaded(robots []*model.Robot) *model.Robot {
	best := robots[0]
	bestLoad, bestCPU := loadFactor(best), cpuPercent(best)
	for _, r := range robots[1:] {
		load, cpu := loadFactor(r), cpuPercent(r)
		if load < bestLoad || (load == bestLoad && cpu < bestCPU) {
			best, bestLoad, bestCPU = r, load, cpu
		}
	}
	return best
}

func (s *Selector) selectRoundRobin(robots []*model.Robot) *model.Robot {
	ids := make([]string, len(robots))
	byID := make(map[string]*model.Robot, len(robots))
	for i, r := range robots {
		ids[i] = r.ID
		byID[r.ID] = r
	}
	sort.Strings(ids)

	s.mu.Lock()
	idx := s.rrCursor % len(ids)
	s.rrCursor++
	s.mu.Unlock()

	return byID[ids[idx]]
}

func (s *Selector) selectRandom(robots []*model.Robot) *model.Robot {
	s.mu.Lock()
	idx := s.rng.Intn(len(robots))
	s.mu.Unlock()
	return robots[idx]
}

func (s *Selector) selectByCapability(job *model.Job, robots []*model.Robot) *model.Robot {
	jobTags := make(map[string]bool, len(job.Tags))
	for _, t := range job.Tags {
		jobTags[t] = true
	}

	best := robots[0]
	bestCommon, bestLoad := commonTagCount(jobTags, best), loadFactor(best)
	for _, r := range robots[1:] {
		common, load := commonTagCount(jobTags, r), loadFactor(r)
		if common > bestCommon || (common == bestCommon && load < bestLoad) {
			best, bestCommon, bestLoad = r, common, load
		}
	}
	return best
}

func commonTagCount(jobTags map[string]bool, r *model.Robot) int {
	count := 0
	for _, t := range r.Tags {
		if jobTags[t] {
			count++
		}
	}
	return count
}

func (s *Selector) selectByAffinity(job *model.Job, robots []*model.Robot) *model.Robot {
	byID := make(map[string]*model.Robot, len(robots))
	for _, r := range robots {
		byID[r.ID] = r
	}

	s.mu.Lock()
	affineID, hasAffinity := s.affinity[job.WorkflowID]
	s.mu.Unlock()

	if hasAffinity {
		if r, ok := byID[affineID]; ok {
			return r
		}
	}

	selected := selectLeastLoaded(robots)
	s.mu.Lock()
	s.affinity[job.WorkflowID] = selected.ID
	s.mu.Unlock()
	return selected
}
