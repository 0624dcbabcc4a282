package engine

import (
	"context"
	"net/http"

	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/resilience"
	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/server"
	"github.com/sirupsen/logrus"
)

// Dependencies builds the server.Dependencies bundle that binds a robot
// session's wire-level callbacks back into the engine's job and robot
// management methods.
func (e *Engine) Dependencies() server.Dependencies {
	return server.Dependencies{
		ValidateToken: func(token string) (string, error) {
			t, err := e.Tokens.Validate(token)
			if err != nil {
				return "", err
			}
			return t.RobotID, nil
		},
		RegisterRobot: e.RegisterRobot,
		BindSession:   e.bindSession,
		Heartbeat: func(robotID string, cpu, mem, disk float64, activeJobs int) {
			e.RobotHeartbeat(robotID, resilience.Telemetry{
				CPUPercent:    cpu,
				MemoryPercent: mem,
				DiskPercent:   disk,
				ActiveJobs:    activeJobs,
			})
		},
		AcceptJob: func(jobID string) {
			e.log.WithField("job_id", jobID).Debug("robot accepted job")
		},
		RejectJob: func(jobID, reason string) {
			if err := e.FailJob(jobID, reason); err != nil {
				e.log.WithError(err).WithField("job_id", jobID).Warn("failed to record job rejection")
			}
		},
		UpdateProgress: func(jobID string, progress int, node string) {
			e.UpdateJobProgress(jobID, progress, node)
		},
		CompleteJob: func(jobID string, result map[string]interface{}) {
			if err := e.CompleteJob(jobID, result); err != nil {
				e.log.WithError(err).WithField("job_id", jobID).Warn("failed to record job completion")
			}
		},
		FailJob: func(jobID, errorMessage string) {
			if err := e.FailJob(jobID, errorMessage); err != nil {
				e.log.WithError(err).WithField("job_id", jobID).Warn("failed to record job failure")
			}
		},
		CancelAck: func(jobID string) {
			e.log.WithField("job_id", jobID).Debug("robot acknowledged cancellation")
		},
		Disconnect: e.DisconnectRobot,
	}
}

// RobotHandler returns an http.HandlerFunc that upgrades a robot's
// connection to a websocket session and runs it until closed.
func (e *Engine) RobotHandler() http.HandlerFunc {
	deps := e.Dependencies()
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := server.Upgrade(w, r)
		if err != nil {
			e.log.WithError(err).Warn("websocket upgrade failed")
			return
		}
		sess := server.NewSession(conn, deps, e.log)
		if err := sess.Run(r.Context()); err != nil {
			e.log.WithError(err).WithField("session_id", sess.ID).Warn("robot session ended with error")
		}
	}
}

// StartServer wires the robot websocket endpoint and the admin HTTP
// surface, then begins serving both.
func (e *Engine) StartServer(ctx context.Context, wsAddr, adminAddr string) (*http.Server, *server.AdminServer, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robot", e.RobotHandler())
	wsServer := &http.Server{Addr: wsAddr, Handler: mux}

	admin := server.NewAdminServer(adminAddr, e, e.Metrics, e, e.log)

	go func() {
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.log.WithError(err).Error("robot websocket server stopped")
		}
	}()
	go func() {
		if err := admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.log.WithError(err).Error("admin server stopped")
		}
	}()

	e.log.WithFields(logrus.Fields{"ws_addr": wsAddr, "admin_addr": adminAddr}).Info("orchestrator servers listening")
	return wsServer, admin, nil
}
