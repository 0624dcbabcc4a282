package engine

import (
	"context"
	"time"

	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/dispatch"
	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/model"
	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/queue"
	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/resilience"
	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/server"
)

// IssueRobotToken mints a new opaque bearer token a robot presents when
// opening its websocket session, scoped to the orchestrator's configured
// TTL. It satisfies server.TokenIssuer for the admin provisioning endpoint.
func (e *Engine) IssueRobotToken(robotID string, scopes []string) (server.IssuedToken, error) {
	tok, err := e.Tokens.Issue(robotID, scopes, e.cfg.TokenTTL)
	if err != nil {
		return server.IssuedToken{}, err
	}
	return server.IssuedToken{
		Value:     tok.Value,
		RobotID:   tok.RobotID,
		Scopes:    tok.Scopes,
		ExpiresAt: tok.ExpiresAt,
	}, nil
}

// bindSession records the live session a connected robot is reachable
// through, so sendToRobot can route EXECUTE_JOB to it by ID.
func (e *Engine) bindSession(robotID string, sess *server.Session) {
	e.mu.Lock()
	e.sessions[robotID] = sess
	e.mu.Unlock()
}

// sendToRobot is the engine's built-in dispatch.SendFunc, used whenever New
// is called with a nil send callback. It looks up the robot's live session
// by ID and forwards the job over it.
func (e *Engine) sendToRobot(ctx context.Context, robotID string, job *model.Job) (bool, string, error) {
	e.mu.RLock()
	sess, ok := e.sessions[robotID]
	e.mu.RUnlock()
	if !ok {
		return false, "robot not connected", nil
	}
	if err := sess.SendJob(job); err != nil {
		return false, err.Error(), err
	}
	return true, "", nil
}

// RegisterRobot records a robot's connection, creating it on first sight
// and marking it online and reachable otherwise.
func (e *Engine) RegisterRobot(robot *model.Robot) {
	now := time.Now()
	e.mu.Lock()
	existing, known := e.robots[robot.ID]
	if known {
		existing.Status = model.RobotOnline
		existing.LastSeen = &now
	} else {
		robot.Status = model.RobotOnline
		robot.LastSeen = &now
		robot.CreatedAt = now
		e.robots[robot.ID] = robot
	}
	e.mu.Unlock()

	e.Metrics.RobotsConnected.Set(float64(len(e.ConnectedRobots())))

	if e.Store != nil {
		r := robot
		if known {
			r = existing
		}
		if err := e.Store.SaveRobot(context.Background(), r); err != nil {
			e.log.WithError(err).WithField("robot_id", robot.ID).Warn("failed to persist robot registration")
		}
	}
}

// DisconnectRobot marks a robot offline when its session closes.
func (e *Engine) DisconnectRobot(robotID string) {
	e.mu.Lock()
	r, ok := e.robots[robotID]
	if ok {
		r.Status = model.RobotOffline
	}
	delete(e.sessions, robotID)
	e.mu.Unlock()

	e.Metrics.RobotsConnected.Set(float64(len(e.ConnectedRobots())))

	if ok && e.Store != nil {
		if err := e.Store.SaveRobot(context.Background(), r); err != nil {
			e.log.WithError(err).WithField("robot_id", robotID).Warn("failed to persist robot disconnect")
		}
	}
}

// RobotHeartbeat feeds telemetry into the health monitor and refreshes the
// robot's last-seen timestamp.
func (e *Engine) RobotHeartbeat(robotID string, telemetry resilience.Telemetry) resilience.Health {
	now := time.Now()
	var utilization float64
	e.mu.Lock()
	if r, ok := e.robots[robotID]; ok {
		r.LastHeartbeat = &now
		r.CurrentJobs = telemetry.ActiveJobs
		utilization = r.Utilization()
	}
	e.mu.Unlock()
	e.Metrics.SetRobotUtilization(robotID, utilization)
	return e.Health.Heartbeat(robotID, telemetry)
}

// UpdateRobotStatus sets a robot's reported status directly (e.g. after a
// health transition or an operator-issued maintenance toggle).
func (e *Engine) UpdateRobotStatus(robotID string, status model.RobotStatus) {
	e.mu.Lock()
	r, ok := e.robots[robotID]
	if ok {
		r.Status = status
	}
	e.mu.Unlock()
	if ok && e.Store != nil {
		if err := e.Store.SaveRobot(context.Background(), r); err != nil {
			e.log.WithError(err).WithField("robot_id", robotID).Warn("failed to persist robot status update")
		}
	}
}

// ConnectedRobots returns every robot the engine currently knows about.
func (e *Engine) ConnectedRobots() []*model.Robot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*model.Robot, 0, len(e.robots))
	for _, r := range e.robots {
		out = append(out, r)
	}
	return out
}

// AvailableRobots returns connected robots with free dispatch capacity.
func (e *Engine) AvailableRobots() []*model.Robot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*model.Robot, 0)
	for _, r := range e.robots {
		if r.IsAvailable() {
			out = append(out, r)
		}
	}
	return out
}

// DispatchPending attempts to match every queued job against currently
// available robots, honoring routing rules and the configured selection
// strategy. It makes one pass per call; the engine starts no loop that
// calls it.
func (e *Engine) DispatchPending(ctx context.Context) {
	for _, job := range e.Queue.QueuedJobs() {
		all := e.ConnectedRobots()
		eligible := e.Router.EligibleRobots(job, all)
		if len(eligible) == 0 {
			continue
		}

		robot := e.Selector.Select(job, eligible, dispatch.SelectionCriteria{})
		if robot == nil {
			continue
		}

		view := queue.RobotView{ID: robot.ID, Name: robot.Name, Available: robot.IsAvailable()}
		taken, err := e.Queue.Dequeue(view)
		if err != nil || taken == nil {
			continue
		}

		e.Distributor.Distribute(ctx, taken, []*model.Robot{robot}, "")
	}
}
