package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/signportal/pkg/config"
)

const (
	dependencyOK          = "ok"
	dependencyUnreachable = "unreachable"

	defaultCheckTimeout = 2 * time.Second
)

// Pinger is a backing service the ping endpoint checks.
// *pgxpool.Pool and database.RedisPinger both satisfy it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DependencyCheck names one backing service reported by GET /ping.
type DependencyCheck struct {
	Name   string
	Pinger Pinger
}

// PingResponse contains service status, version and dependency reachability.
type PingResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version"`
	Service      string            `json:"service"`
	GoVersion    string            `json:"go_version"`
	Hostname     string            `json:"hostname"`
	Environment  string            `json:"environment"`
	Storage      string            `json:"storage_backend"`
	Sequence     string            `json:"sequence_backend"`
	Dependencies map[string]string `json:"dependencies,omitempty"`
}

// HealthHandler handles health check and ping endpoints.
type HealthHandler struct {
	cfg          *config.Config
	checks       []DependencyCheck
	checkTimeout time.Duration
	logger       *zap.Logger
}

// NewHealthHandler creates a HealthHandler. Nil pingers are skipped, so an
// unconfigured Redis simply does not appear in the report.
func NewHealthHandler(cfg *config.Config, checks []DependencyCheck, logger *zap.Logger) *HealthHandler {
	configured := make([]DependencyCheck, 0, len(checks))
	for _, c := range checks {
		if c.Pinger != nil {
			configured = append(configured, c)
		}
	}
	return &HealthHandler{cfg: cfg, checks: configured, checkTimeout: defaultCheckTimeout, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Health is the liveness check. It never touches backing services.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ping reports version details and whether PostgreSQL and Redis answer.
// Any unreachable dependency turns the response into a 503 "degraded".
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	dependencies, healthy := h.checkDependencies(r.Context())
	response := PingResponse{
		Status:       "ok",
		Version:      h.cfg.Version,
		Service:      "signportal",
		GoVersion:    runtime.Version(),
		Hostname:     hostname,
		Environment:  h.cfg.Env,
		Storage:      h.cfg.Storage.Backend,
		Sequence:     h.cfg.Tracking.SequenceBackend,
		Dependencies: dependencies,
	}
	status := http.StatusOK
	if !healthy {
		response.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	if err := WriteJSON(w, status, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}

func (h *HealthHandler) checkDependencies(ctx context.Context) (map[string]string, bool) {
	if len(h.checks) == 0 {
		return nil, true
	}
	results := make([]string, len(h.checks))

	ctx, cancel := context.WithTimeout(ctx, h.checkTimeout)
	defer cancel()
	var g errgroup.Group
	for i, c := range h.checks {
		g.Go(func() error {
			if err := c.Pinger.Ping(ctx); err != nil {
				h.logger.Warn("Dependency unreachable", zap.String("dependency", c.Name), zap.Error(err))
				results[i] = dependencyUnreachable
				return nil
			}
			results[i] = dependencyOK
			return nil
		})
	}
	_ = g.Wait()

	healthy := true
	report := make(map[string]string, len(h.checks))
	for i, c := range h.checks {
		report[c.Name] = results[i]
		if results[i] != dependencyOK {
			healthy = false
		}
	}
	return report, healthy
}
