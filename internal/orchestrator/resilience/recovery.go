// Package resilience implements the orchestrator's recovery manager and
// health monitor: backoff-driven reconnection and job retry, and
// heartbeat-derived robot health classification.
package resilience

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrorClass classifies an error for retry decisions.
type ErrorClass string

const (
	ErrConnection   ErrorClass = "connection"
	ErrTimeout      ErrorClass = "timeout"
	ErrNetwork      ErrorClass = "network"
	ErrTemporary    ErrorClass = "temporary"
	ErrResourceBusy ErrorClass = "resource_busy"
	ErrOther        ErrorClass = "other"
)

var retriableClasses = map[ErrorClass]bool{
	ErrConnection:   true,
	ErrTimeout:      true,
	ErrNetwork:      true,
	ErrTemporary:    true,
	ErrResourceBusy: true,
}

// Retriable reports whether an error of this class should be retried.
func (c ErrorClass) Retriable() bool { return retriableClasses[c] }

// ActionKind labels the sort of recovery action taken, for the history log.
type ActionKind string

const (
	ActionReconnect      ActionKind = "reconnect"
	ActionJobRetry       ActionKind = "job_retry"
	ActionJobFailover    ActionKind = "job_failover"
	ActionRobotRestart   ActionKind = "robot_restart"
	ActionJobReassign    ActionKind = "job_reassign"
	ActionEscalation     ActionKind = "escalation"
)

// Action is one recorded recovery attempt.
type Action struct {
	Kind      ActionKind
	Target    string // robot ID or job ID
	Attempt   int
	Success   bool
	Detail    string
	Timestamp time.Time
}

// BackoffConfig parameterizes the exponential-backoff-with-jitter delay
// schedule: delay = min(initial * multiplier^attempt, max) * (1 + U(0, jitterFraction)).
type BackoffConfig struct {
	Initial        time.Duration
	Multiplier     float64
	Max            time.Duration
	JitterFraction float64
	MaxAttempts    int
}

// DefaultBackoffConfig mirrors the orchestrator's historical defaults.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:        time.Second,
		Multiplier:     2.0,
		Max:            60 * time.Second,
		JitterFraction: 0.25,
		MaxAttempts:    5,
	}
}

// Delay computes the backoff delay for the given zero-based attempt index.
func (c BackoffConfig) Delay(attempt int, rng *rand.Rand) time.Duration {
	base := float64(c.Initial) * math.Pow(c.Multiplier, float64(attempt))
	if base > float64(c.Max) {
		base = float64(c.Max)
	}
	jitter := 1 + rng.Float64()*c.JitterFraction
	return time.Duration(base * jitter)
}

// JobRequeuer re-enqueues a job for another attempt (retry) or marks it
// permanently failed (failover) when retries are exhausted.
type JobRequeuer interface {
	RetryJob(ctx context.Context, jobID string) error
	FailJob(ctx context.Context, jobID, reason string) error
}

// RobotCrashHandler restarts a crashed robot connection (if supported) and
// reassigns its active jobs elsewhere.
type RobotCrashHandler interface {
	RestartRobot(ctx context.Context, robotID string) error
	ReassignActiveJobs(ctx context.Context, robotID string) error
}

// Reconnector performs one reconnection attempt for a lost connection.
type Reconnector func(ctx context.Context) error

// Recovery drives the three recovery entry points (connection loss, job
// error, robot crash) with classification-aware retry/backoff, recording
// every attempt in a bounded ring.
type Recovery struct {
	backoff BackoffConfig
	log     logrus.FieldLogger
	rng     *rand.Rand

	mu      sync.Mutex
	history []Action
	maxHist int

	onEscalation func(target string, lastErr error)
}

// Config configures a new Recovery.
type Config struct {
	Backoff      BackoffConfig
	MaxHistory   int
	Logger       logrus.FieldLogger
	OnEscalation func(target string, lastErr error)
}

// New builds a Recovery manager.
func New(cfg Config) *Recovery {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 1000
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	backoff := cfg.Backoff
	if backoff.Initial == 0 {
		backoff = DefaultBackoffConfig()
	}
	return &Recovery{
		backoff:      backoff,
		log:          log,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		maxHist:      cfg.MaxHistory,
		onEscalation: cfg.OnEscalation,
	}
}

// Classify maps a raw error to an ErrorClass using the message heuristics
// the recovery manager relies on when the underlying transport does not
// expose typed errors (e.g. a websocket dial failure).
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrOther
	}
	msg := err.Error()
	switch {
	case contains(msg, "connection refused", "connection reset", "broken pipe", "dial"):
		return ErrConnection
	case contains(msg, "timeout", "deadline exceeded"):
		return ErrTimeout
	case contains(msg, "network", "no route to host", "unreachable"):
		return ErrNetwork
	case contains(msg, "busy", "resource temporarily unavailable", "try again"):
		return ErrResourceBusy
	case contains(msg, "temporary"):
		return ErrTemporary
	default:
		return ErrOther
	}
}

func contains(msg string, subs ...string) bool {
	for _, s := range subs {
		if len(msg) >= len(s) && indexFold(msg, s) >= 0 {
			return true
		}
	}
	return false
}

func indexFold(s, substr string) int {
	// small local case-insensitive search to avoid importing strings just
	// for EqualFold-in-a-loop; both inputs are short (error messages).
	n, m := len(s), len(substr)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		match := true
		for j := 0; j < m; j++ {
			c1, c2 := s[i+j], substr[j]
			if 'A' <= c1 && c1 <= 'Z' {
				c1 += 'a' - 'A'
			}
			if 'A' <= c2 && c2 <= 'Z' {
				c2 += 'a' - 'A'
			}
			if c1 != c2 {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// HandleConnectionError retries reconnect with backoff up to
// backoff.MaxAttempts, escalating via onEscalation if every attempt fails.
func (r *Recovery) HandleConnectionError(ctx context.Context, target string, err error, reconnect Reconnector) error {
	class := Classify(err)
	if !class.Retriable() {
		r.record(Action{Kind: ActionReconnect, Target: target, Success: false, Detail: "non-retriable: " + string(class)})
		return err
	}

	var lastErr error
	for attempt := 0; attempt < r.backoff.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.backoff.Delay(attempt-1, r.rng)):
			}
		}
		lastErr = reconnect(ctx)
		r.record(Action{Kind: ActionReconnect, Target: target, Attempt: attempt + 1, Success: lastErr == nil, Detail: errString(lastErr)})
		if lastErr == nil {
			return nil
		}
	}

	if r.onEscalation != nil {
		r.onEscalation(target, lastErr)
	}
	r.record(Action{Kind: ActionEscalation, Target: target, Success: false, Detail: errString(lastErr)})
	return lastErr
}

// HandleJobError retries a failed job in place up to maxRetries times,
// then fails it over (marks it permanently failed) once exhausted.
func (r *Recovery) HandleJobError(ctx context.Context, jobID string, err error, attempt, maxRetries int, requeuer JobRequeuer) error {
	class := Classify(err)
	if class.Retriable() && attempt < maxRetries {
		retryErr := requeuer.RetryJob(ctx, jobID)
		r.record(Action{Kind: ActionJobRetry, Target: jobID, Attempt: attempt + 1, Success: retryErr == nil, Detail: errString(err)})
		return retryErr
	}

	failErr := requeuer.FailJob(ctx, jobID, errString(err))
	r.record(Action{Kind: ActionJobFailover, Target: jobID, Attempt: attempt, Success: failErr == nil, Detail: errString(err)})
	return failErr
}

// HandleRobotCrash optionally restarts the robot connection and reassigns
// its active jobs to other robots regardless of whether the restart
// succeeded.
func (r *Recovery) HandleRobotCrash(ctx context.Context, robotID string, attemptRestart bool, handler RobotCrashHandler) error {
	if attemptRestart {
		err := handler.RestartRobot(ctx, robotID)
		r.record(Action{Kind: ActionRobotRestart, Target: robotID, Success: err == nil, Detail: errString(err)})
	}

	err := handler.ReassignActiveJobs(ctx, robotID)
	r.record(Action{Kind: ActionJobReassign, Target: robotID, Success: err == nil, Detail: errString(err)})
	return err
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (r *Recovery) record(a Action) {
	a.Timestamp = time.Now()
	r.mu.Lock()
	r.history = append(r.history, a)
	if len(r.history) > r.maxHist {
		r.history = r.history[len(r.history)-r.maxHist:]
	}
	r.mu.Unlock()
}

// RecentActions returns up to limit of the most recent recovery actions.
func (r *Recovery) RecentActions(limit int) []Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 || limit > len(r.history) {
		limit = len(r.history)
	}
	start := len(r.history) - limit
	out := make([]Action, limit)
	copy(out, r.history[start:])
	return out
}
