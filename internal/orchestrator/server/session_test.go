package server

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/model"
	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu   sync.Mutex
	in   []protocol.Message
	out  []protocol.Message
	idx  int
	errs chan error
}

func newFakeConn(in ...protocol.Message) *fakeConn {
	return &fakeConn{in: in, errs: make(chan error, 1)}
}

func (c *fakeConn) Send(msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, msg)
	return nil
}

func (c *fakeConn) Receive() (protocol.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.idx >= len(c.in) {
		return protocol.Message{}, errors.New("connection closed")
	}
	msg := c.in[c.idx]
	c.idx++
	return msg, nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) sent() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Message(nil), c.out...)
}

func handshakeMsg(t *testing.T, token string) protocol.Message {
	t.Helper()
	msg, err := protocol.New(protocol.Handshake, "h1", protocol.HandshakePayload{
		RobotID: "r1", Name: "picker", Token: token, Environment: "prod",
	})
	require.NoError(t, err)
	return msg
}

func TestSessionSuccessfulHandshakeReachesRunning(t *testing.T) {
	conn := newFakeConn(handshakeMsg(t, "good-token"))
	var registeredID string
	s := NewSession(conn, Dependencies{
		ValidateToken: func(token string) (string, error) {
			if token != "good-token" {
				return "", errors.New("bad token")
			}
			return "r1", nil
		},
		RegisterRobot: func(robot *model.Robot) { registeredID = robot.ID },
	}, nil)

	err := s.Run(context.Background())
	assert.Error(t, err) // loop ends because fakeConn has no more messages
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, "r1", s.RobotID())
	assert.Equal(t, "r1", registeredID)

	sent := conn.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.HandshakeAck, sent[0].Type)
}

func TestSessionRejectsNonHandshakeFirstMessage(t *testing.T) {
	msg, err := protocol.New(protocol.Heartbeat, "h1", protocol.HeartbeatPayload{})
	require.NoError(t, err)
	conn := newFakeConn(msg)

	s := NewSession(conn, Dependencies{
		ValidateToken: func(token string) (string, error) { return "r1", nil },
	}, nil)

	err = s.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StateClosed, s.State())

	sent := conn.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.ErrorMsg, sent[0].Type)
}

func TestSessionFailsOnInvalidToken(t *testing.T) {
	conn := newFakeConn(handshakeMsg(t, "bad-token"))
	s := NewSession(conn, Dependencies{
		ValidateToken: func(token string) (string, error) { return "", errors.New("invalid") },
	}, nil)

	err := s.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StateClosed, s.State())
}

func TestSessionDispatchesHeartbeatAfterHandshake(t *testing.T) {
	hb, err := protocol.New(protocol.Heartbeat, "hb1", protocol.HeartbeatPayload{CPUPercent: 12.5, ActiveJobs: 2})
	require.NoError(t, err)
	conn := newFakeConn(handshakeMsg(t, "tok"), hb)

	var gotCPU float64
	var gotJobs int
	s := NewSession(conn, Dependencies{
		ValidateToken: func(token string) (string, error) { return "r1", nil },
		Heartbeat: func(robotID string, cpu, mem, disk float64, activeJobs int) {
			gotCPU = cpu
			gotJobs = activeJobs
		},
	}, nil)

	_ = s.Run(context.Background())
	assert.Equal(t, 12.5, gotCPU)
	assert.Equal(t, 2, gotJobs)
}

func TestSessionDispatchesJobLifecycleCallbacks(t *testing.T) {
	accepted, err := protocol.New(protocol.JobAccepted, "a1", protocol.JobAcceptedPayload{JobID: "j1"})
	require.NoError(t, err)
	progress, err := protocol.New(protocol.JobProgress, "p1", protocol.JobProgressPayload{JobID: "j1", Progress: 50, CurrentNode: "step2"})
	require.NoError(t, err)
	completed, err := protocol.New(protocol.JobCompleted, "c1", protocol.JobCompletedPayload{JobID: "j1", Result: map[string]interface{}{"ok": true}})
	require.NoError(t, err)
	conn := newFakeConn(handshakeMsg(t, "tok"), accepted, progress, completed)

	var order []string
	s := NewSession(conn, Dependencies{
		ValidateToken: func(token string) (string, error) { return "r1", nil },
		AcceptJob:     func(jobID string) { order = append(order, "accepted") },
		UpdateProgress: func(jobID string, p int, node string) {
			order = append(order, "progress")
		},
		CompleteJob: func(jobID string, result map[string]interface{}) {
			order = append(order, "completed")
		},
	}, nil)

	_ = s.Run(context.Background())
	assert.Equal(t, []string{"accepted", "progress", "completed"}, order)
}

func TestSessionDisconnectCallbackFiresOnClose(t *testing.T) {
	conn := newFakeConn(handshakeMsg(t, "tok"))
	var disconnected string
	s := NewSession(conn, Dependencies{
		ValidateToken: func(token string) (string, error) { return "r1", nil },
		Disconnect:    func(robotID string) { disconnected = robotID },
	}, nil)

	_ = s.Run(context.Background())
	assert.Equal(t, "r1", disconnected)
}
