package resilience

import (
	"sync"
	"time"

	"github.com/R3E-Network/robot-orchestrator/internal/orchestrator/model"
)

// Health is a robot's computed health classification.
type Health string

const (
	HealthUnknown   Health = "unknown"
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
)

// Thresholds configures the heartbeat-staleness and error-rate boundaries
// used to classify a robot's health.
type Thresholds struct {
	WarningStale   time.Duration // no heartbeat for this long -> DEGRADED
	CriticalStale  time.Duration // no heartbeat for this long -> UNHEALTHY
	ErrorRateWarn  float64       // fraction of all recorded jobs failed -> DEGRADED
	ErrorRateCrit  float64       // -> UNHEALTHY
}

// DefaultThresholds mirrors the orchestrator's historical defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		WarningStale:  30 * time.Second,
		CriticalStale: 120 * time.Second,
		ErrorRateWarn: 0.25,
		ErrorRateCrit: 0.5,
	}
}

// Telemetry is one heartbeat's reported sample.
type Telemetry struct {
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
	ActiveJobs    int
}

type robotHealth struct {
	status        Health
	lastHeartbeat time.Time
	lastTelemetry Telemetry
	avgResponseMS float64
	completed     int
	failed        int
}

// ChangeFunc observes a robot's health transition (old != new).
type ChangeFunc func(robotID string, old, new Health)

// UnhealthyFunc observes a robot becoming UNHEALTHY specifically — the hook
// other subsystems (e.g. the selector's affinity eviction) bind to.
type UnhealthyFunc func(robotID string)

// HealthMonitor tracks heartbeat-derived robot health and response-time
// EMA, firing callbacks once per status transition.
type HealthMonitor struct {
	thresholds Thresholds
	now        func() time.Time

	mu     sync.Mutex
	robots map[string]*robotHealth

	onChange     ChangeFunc
	onUnhealthy  UnhealthyFunc
}

// Config configures a new HealthMonitor.
type Config struct {
	Thresholds  Thresholds
	OnChange    ChangeFunc
	OnUnhealthy UnhealthyFunc
}

// NewHealthMonitor builds a HealthMonitor.
func NewHealthMonitor(cfg Config) *HealthMonitor {
	t := cfg.Thresholds
	if t.WarningStale == 0 {
		t = DefaultThresholds()
	}
	return &HealthMonitor{
		thresholds:  t,
		now:         time.Now,
		robots:      make(map[string]*robotHealth),
		onChange:    cfg.OnChange,
		onUnhealthy: cfg.OnUnhealthy,
	}
}

// Heartbeat records a robot's telemetry sample and recomputes its health.
func (m *HealthMonitor) Heartbeat(robotID string, t Telemetry) Health {
	m.mu.Lock()
	defer m.mu.Unlock()

	rh, ok := m.robots[robotID]
	if !ok {
		rh = &robotHealth{status: HealthUnknown}
		m.robots[robotID] = rh
	}
	rh.lastHeartbeat = m.now()
	rh.lastTelemetry = t

	return m.recomputeLocked(robotID, rh)
}

// RecordJobOutcome tracks a completed/failed job for error-rate scoring
// and updates response-time EMA: new = 0.3*sample + 0.7*old.
func (m *HealthMonitor) RecordJobOutcome(robotID string, success bool, responseTimeMS float64) Health {
	m.mu.Lock()
	defer m.mu.Unlock()

	rh, ok := m.robots[robotID]
	if !ok {
		rh = &robotHealth{status: HealthUnknown}
		m.robots[robotID] = rh
	}
	if success {
		rh.completed++
	} else {
		rh.failed++
	}
	if rh.avgResponseMS == 0 {
		rh.avgResponseMS = responseTimeMS
	} else {
		rh.avgResponseMS = 0.3*responseTimeMS + 0.7*rh.avgResponseMS
	}

	return m.recomputeLocked(robotID, rh)
}

// recomputeLocked derives the robot's health from heartbeat staleness and
// error rate, firing callbacks exactly once per transition. Callers hold m.mu.
func (m *HealthMonitor) recomputeLocked(robotID string, rh *robotHealth) Health {
	stale := m.now().Sub(rh.lastHeartbeat)
	errRate := errorRate(rh.completed, rh.failed)

	var next Health
	switch {
	case stale >= m.thresholds.CriticalStale || errRate >= m.thresholds.ErrorRateCrit:
		next = HealthUnhealthy
	case stale >= m.thresholds.WarningStale || errRate >= m.thresholds.ErrorRateWarn:
		next = HealthDegraded
	default:
		next = HealthHealthy
	}

	old := rh.status
	rh.status = next
	if old != next {
		if m.onChange != nil {
			m.onChange(robotID, old, next)
		}
		if next == HealthUnhealthy && m.onUnhealthy != nil {
			m.onUnhealthy(robotID)
		}
	}
	return next
}

func errorRate(completed, failed int) float64 {
	total := completed + failed
	if total == 0 {
		return 0
	}
	return float64(failed) / float64(total)
}

// Status returns a robot's last-computed health, or HealthUnknown if unseen.
func (m *HealthMonitor) Status(robotID string) Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rh, ok := m.robots[robotID]; ok {
		return rh.status
	}
	return HealthUnknown
}

// Sweep recomputes health for every tracked robot against the current
// time, catching robots that have gone stale without a RecordJobOutcome or
// fresh heartbeat to trigger recomputation. Intended to run on a ticker.
func (m *HealthMonitor) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for robotID, rh := range m.robots {
		m.recomputeLocked(robotID, rh)
	}
}

// MapRobotStatus translates a Health classification to the coarser
// model.RobotStatus the rest of the system reasons about.
func MapRobotStatus(h Health) model.RobotStatus {
	switch h {
	case HealthHealthy:
		return model.RobotOnline
	case HealthDegraded:
		return model.RobotBusy
	case HealthUnhealthy:
		return model.RobotOffline
	default:
		return model.RobotOffline
	}
}
