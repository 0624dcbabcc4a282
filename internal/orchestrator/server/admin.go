package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// StatsProvider exposes the read-only snapshots the admin surface serves.
// The engine implements this; it is kept narrow so the admin server can be
// tested without a full engine.
type StatsProvider interface {
	QueueStats() interface{}
	DispatchStats() interface{}
	UpcomingRuns(limit int) interface{}
	DashboardMetrics() interface{}
}

// MetricsRecorder is the narrow slice of the metrics package the admin
// server needs: a Prometheus scrape handler and admin-request bookkeeping.
// Kept as an interface so the server package never imports prometheus
// collector types directly.
type MetricsRecorder interface {
	Handler() http.Handler
	RecordAdminRequest(path, status string, duration time.Duration)
}

// IssuedToken is the wire shape returned by the token-issuance endpoint.
type IssuedToken struct {
	Value     string    `json:"value"`
	RobotID   string    `json:"robot_id"`
	Scopes    []string  `json:"scopes"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenIssuer mints robot bearer tokens for the provisioning endpoint. The
// engine implements this over its TokenManager.
type TokenIssuer interface {
	IssueRobotToken(robotID string, scopes []string) (IssuedToken, error)
}

// AdminServer exposes health, queue, and dispatch introspection endpoints
// for operators, separate from the robot-facing websocket surface.
type AdminServer struct {
	router  *mux.Router
	stats   StatsProvider
	metrics MetricsRecorder
	tokens  TokenIssuer
	log     logrus.FieldLogger
	server  *http.Server
}

// NewAdminServer builds the admin HTTP router bound to stats. metrics may
// be nil, in which case admin requests are not recorded and /metrics is
// not served. tokens may be nil, in which case the provisioning endpoint
// is not registered.
func NewAdminServer(addr string, stats StatsProvider, metrics MetricsRecorder, tokens TokenIssuer, log logrus.FieldLogger) *AdminServer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	a := &AdminServer{router: mux.NewRouter(), stats: stats, metrics: metrics, tokens: tokens, log: log}
	a.routes()
	a.server = &http.Server{
		Addr:         addr,
		Handler:      a.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return a
}

// UseMiddleware attaches an additional middleware to the admin router,
// evaluated after the built-in recovery/logging/metrics chain. Intended
// for operator-auth middleware that depends on deployment-specific
// configuration the admin server itself has no opinion on.
func (a *AdminServer) UseMiddleware(mw mux.MiddlewareFunc) {
	a.router.Use(mw)
}

func (a *AdminServer) routes() {
	a.router.Use(recoveryMiddleware(a.log))
	a.router.Use(loggingMiddleware(a.log))
	if a.metrics != nil {
		a.router.Use(metricsMiddleware(a.metrics))
		a.router.Handle("/metrics", a.metrics.Handler()).Methods(http.MethodGet)
	}

	a.router.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)
	a.router.HandleFunc("/api/queue/stats", a.handleJSON(func() interface{} { return a.stats.QueueStats() })).Methods(http.MethodGet)
	a.router.HandleFunc("/api/dispatch/stats", a.handleJSON(func() interface{} { return a.stats.DispatchStats() })).Methods(http.MethodGet)
	a.router.HandleFunc("/api/schedules/upcoming", a.handleJSON(func() interface{} { return a.stats.UpcomingRuns(20) })).Methods(http.MethodGet)
	a.router.HandleFunc("/api/dashboard", a.handleJSON(func() interface{} { return a.stats.DashboardMetrics() })).Methods(http.MethodGet)
	if a.tokens != nil {
		a.router.HandleFunc("/api/robots/{id}/token", a.handleIssueToken).Methods(http.MethodPost)
	}
}

func (a *AdminServer) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	robotID := mux.Vars(r)["id"]
	var body struct {
		Scopes []string `json:"scopes"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	tok, err := a.tokens.IssueRobotToken(robotID, body.Scopes)
	if err != nil {
		a.log.WithError(err).WithField("robot_id", robotID).Warn("failed to issue robot token")
		http.Error(w, "failed to issue token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, tok)
}

func (a *AdminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *AdminServer) handleJSON(fn func() interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, fn())
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func loggingMiddleware(log logrus.FieldLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": time.Since(start),
			}).Debug("admin request handled")
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func metricsMiddleware(m MetricsRecorder) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			m.RecordAdminRequest(r.URL.Path, strconv.Itoa(rec.status), time.Since(start))
		})
	}
}

func recoveryMiddleware(log logrus.FieldLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.WithField("panic", rec).Error("admin handler panicked")
					http.Error(w, "internal server error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// ListenAndServe starts the admin HTTP server; it blocks until the server
// stops or errors.
func (a *AdminServer) ListenAndServe() error {
	return a.server.ListenAndServe()
}

// Shutdown gracefully stops the admin server.
func (a *AdminServer) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}
