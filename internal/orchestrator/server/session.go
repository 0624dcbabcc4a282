// Package server hosts robot websocket sessions and the admin HTTP
// surface: a session state machine driving the handshake/heartbeat/job
// protocol in internal/orchestrator/protocol, atop gorilla/websocket and
// gorilla/mux.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/model"
	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/orcherr"
	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/protocol"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SessionState is one connection's position in the handshake/run lifecycle.
type SessionState string

const (
	StateConnected     SessionState = "connected"
	StateAuthenticating SessionState = "authenticating"
	StateAuthenticated  SessionState = "authenticated"
	StateRunning        SessionState = "running"
	StateFailed         SessionState = "failed"
	StateClosed         SessionState = "closed"
)

var validSessionTransitions = map[SessionState]map[SessionState]bool{
	StateConnected:      {StateAuthenticating: true, StateFailed: true, StateClosed: true},
	StateAuthenticating: {StateAuthenticated: true, StateFailed: true, StateClosed: true},
	StateAuthenticated:  {StateRunning: true, StateFailed: true, StateClosed: true},
	StateRunning:        {StateFailed: true, StateClosed: true},
}

// Conn is the minimal transport a Session needs: send a framed message,
// receive the next one, and close. A gorilla/websocket connection backs
// this in production; tests use an in-memory fake.
type Conn interface {
	Send(msg protocol.Message) error
	Receive() (protocol.Message, error)
	Close() error
}

// Dependencies are the engine-side collaborators a Session calls into. The
// server package depends on these narrow interfaces rather than the
// concrete engine type so it can be tested in isolation.
type Dependencies struct {
	ValidateToken    func(token string) (robotID string, err error)
	RegisterRobot    func(robot *model.Robot)
	BindSession      func(robotID string, sess *Session)
	Heartbeat        func(robotID string, cpu, mem, disk float64, activeJobs int)
	AcceptJob        func(jobID string)
	RejectJob        func(jobID, reason string)
	UpdateProgress   func(jobID string, progress int, node string)
	CompleteJob      func(jobID string, result map[string]interface{})
	FailJob          func(jobID, errorMessage string)
	CancelAck        func(jobID string)
	Disconnect       func(robotID string)
}

// Session drives one robot connection's protocol state machine.
type Session struct {
	ID   string
	conn Conn
	deps Dependencies
	log  logrus.FieldLogger

	mu      sync.Mutex
	state   SessionState
	robotID string
}

// NewSession wraps a transport connection in a protocol session.
func NewSession(conn Conn, deps Dependencies, log logrus.FieldLogger) *Session {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Session{
		ID:    uuid.NewString(),
		conn:  conn,
		deps:  deps,
		log:   log,
		state: StateConnected,
	}
}

// State returns the session's current state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RobotID returns the robot bound to this session, or "" before handshake.
func (s *Session) RobotID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.robotID
}

func (s *Session) transition(to SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !validSessionTransitions[s.state][to] {
		return orcherr.Validation(orcherr.CodeInvalidTransition, "invalid session transition").
			WithDetail("from", string(s.state)).WithDetail("to", string(to))
	}
	s.state = to
	return nil
}

// Run drives the session loop until the connection closes, ctx is
// cancelled, or a fatal protocol error occurs. Messages are processed in
// receive order, matching the ordering guarantee that JOB_PROGRESS is
// observed before its corresponding JOB_COMPLETED.
func (s *Session) Run(ctx context.Context) error {
	defer s.close()

	if err := s.awaitHandshake(ctx); err != nil {
		return err
	}

	if err := s.transition(StateRunning); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := s.conn.Receive()
		if err != nil {
			s.fail()
			return err
		}
		if err := s.handle(msg); err != nil {
			s.log.WithField("session_id", s.ID).WithError(err).Warn("session message handling failed")
		}
	}
}

func (s *Session) awaitHandshake(ctx context.Context) error {
	if err := s.transition(StateAuthenticating); err != nil {
		return err
	}

	msg, err := s.conn.Receive()
	if err != nil {
		s.fail()
		return err
	}
	if msg.Type != protocol.Handshake {
		s.sendError("expected HANDSHAKE")
		s.fail()
		return orcherr.Validation(orcherr.CodeInvalidInput, "expected HANDSHAKE as first message")
	}

	var payload protocol.HandshakePayload
	if err := msg.Decode(&payload); err != nil {
		s.sendError("malformed HANDSHAKE payload")
		s.fail()
		return err
	}

	robotID, err := s.deps.ValidateToken(payload.Token)
	if err != nil {
		s.sendError("authentication failed")
		s.fail()
		return err
	}
	if robotID == "" {
		robotID = payload.RobotID
	}

	s.mu.Lock()
	s.robotID = robotID
	s.mu.Unlock()

	if s.deps.RegisterRobot != nil {
		s.deps.RegisterRobot(&model.Robot{
			ID:          robotID,
			Name:        payload.Name,
			Status:      model.RobotOnline,
			Environment: payload.Environment,
			Tags:        payload.Tags,
		})
	}
	if s.deps.BindSession != nil {
		s.deps.BindSession(robotID, s)
	}

	if err := s.transition(StateAuthenticated); err != nil {
		return err
	}

	ack, err := protocol.New(protocol.HandshakeAck, msg.ID, protocol.HandshakeAckPayload{
		SessionID:     s.ID,
		ServerVersion: "1",
	})
	if err != nil {
		return err
	}
	return s.conn.Send(ack)
}

// SendJob pushes a server-originated EXECUTE_JOB to the robot.
func (s *Session) SendJob(job *model.Job) error {
	msg, err := protocol.New(protocol.ExecuteJob, uuid.NewString(), job)
	if err != nil {
		return err
	}
	return s.conn.Send(msg)
}

func (s *Session) handle(msg protocol.Message) error {
	robotID := s.RobotID()
	switch msg.Type {
	case protocol.Heartbeat:
		var p protocol.HeartbeatPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		if s.deps.Heartbeat != nil {
			s.deps.Heartbeat(robotID, p.CPUPercent, p.MemoryPercent, p.DiskPercent, p.ActiveJobs)
		}
	case protocol.JobAccepted:
		var p protocol.JobAcceptedPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		if s.deps.AcceptJob != nil {
			s.deps.AcceptJob(p.JobID)
		}
	case protocol.JobRejected:
		var p protocol.JobAcceptedPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		if s.deps.RejectJob != nil {
			s.deps.RejectJob(p.JobID, p.Reason)
		}
	case protocol.JobProgress:
		var p protocol.JobProgressPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		if s.deps.UpdateProgress != nil {
			s.deps.UpdateProgress(p.JobID, p.Progress, p.CurrentNode)
		}
	case protocol.JobCompleted:
		var p protocol.JobCompletedPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		if s.deps.CompleteJob != nil {
			s.deps.CompleteJob(p.JobID, p.Result)
		}
	case protocol.JobFailed:
		var p protocol.JobFailedPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		if s.deps.FailJob != nil {
			s.deps.FailJob(p.JobID, p.ErrorMessage)
		}
	case protocol.JobCancelled:
		var p protocol.JobCancelledPayload
		if err := msg.Decode(&p); err != nil {
			return err
		}
		if s.deps.CancelAck != nil {
			s.deps.CancelAck(p.JobID)
		}
	default:
		return orcherr.Validation(orcherr.CodeInvalidInput, "unrecognized message type").WithDetail("type", string(msg.Type))
	}
	return nil
}

func (s *Session) sendError(message string) {
	msg, err := protocol.New(protocol.ErrorMsg, uuid.NewString(), protocol.ErrorPayload{
		Code: string(orcherr.CodeUnauthorized), Message: message,
	})
	if err != nil {
		return
	}
	_ = s.conn.Send(msg)
}

func (s *Session) fail() {
	s.mu.Lock()
	if validSessionTransitions[s.state][StateFailed] {
		s.state = StateFailed
	}
	s.mu.Unlock()
}

func (s *Session) close() {
	robotID := s.RobotID()
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	_ = s.conn.Close()
	if robotID != "" && s.deps.Disconnect != nil {
		s.deps.Disconnect(robotID)
	}
}

// DistributionTimeout is the write deadline applied to every message sent
// to a robot over its websocket (see wsConn.Send).
const DistributionTimeout = 10 * time.Second
