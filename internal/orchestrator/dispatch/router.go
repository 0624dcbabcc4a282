package dispatch

import (
	"sync"

	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/model"
)

// Router narrows the set of robots eligible to run a job using
// environment and tag routes, falling back to a configured fallback pool
// or, absent that, every known robot.
type Router struct {
	mu             sync.Mutex
	routes         map[string][]string // environment -> robot IDs
	tagRoutes      map[string][]string // tag -> robot IDs
	fallbackRobots []string
}

// NewRouter builds an empty Router.
func NewRouter() *Router {
	return &Router{
		routes:    make(map[string][]string),
		tagRoutes: make(map[string][]string),
	}
}

// AddRoute binds environment to an explicit robot ID list.
func (r *Router) AddRoute(environment string, robotIDs []string) {
	r.mu.Lock()
	r.routes[environment] = robotIDs
	r.mu.Unlock()
}

// AddTagRoute binds tag to an explicit robot ID list.
func (r *Router) AddTagRoute(tag string, robotIDs []string) {
	r.mu.Lock()
	r.tagRoutes[tag] = robotIDs
	r.mu.Unlock()
}

// SetFallbackRobots sets the pool used when no route matches a job.
func (r *Router) SetFallbackRobots(robotIDs []string) {
	r.mu.Lock()
	r.fallbackRobots = robotIDs
	r.mu.Unlock()
}

// ClearRoutes removes every route, tag route, and fallback entry.
func (r *Router) ClearRoutes() {
	r.mu.Lock()
	r.routes = make(map[string][]string)
	r.tagRoutes = make(map[string][]string)
	r.fallbackRobots = nil
	r.mu.Unlock()
}

// EligibleRobots returns the subset of allRobots that job's environment
// and tag routes admit, falling back to the fallback pool (or every robot,
// if none is configured) when no route matches.
func (r *Router) EligibleRobots(job *model.Job, allRobots []*model.Robot) []*model.Robot {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID := make(map[string]*model.Robot, len(allRobots))
	for _, robot := range allRobots {
		byID[robot.ID] = robot
	}

	eligible := make(map[string]bool)
	if job.Environment != "" {
		for _, id := range r.routes[job.Environment] {
			eligible[id] = true
		}
	}
	for _, tag := range job.Tags {
		for _, id := range r.tagRoutes[tag] {
			eligible[id] = true
		}
	}

	if len(eligible) == 0 {
		if len(r.fallbackRobots) > 0 {
			for _, id := range r.fallbackRobots {
				eligible[id] = true
			}
		} else {
			for id := range byID {
				eligible[id] = true
			}
		}
	}

	out := make([]*model.Robot, 0, len(eligible))
	for id := range eligible {
		if robot, ok := byID[id]; ok {
			out = append(out, robot)
		}
	}
	return out
}
