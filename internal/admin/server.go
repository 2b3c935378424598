// Package admin exposes the operator-facing HTTP interface: liveness,
// readiness, metrics and a dump of the live routing rules.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/crawlfront/crawlfront/internal/metrics"
	"github.com/crawlfront/crawlfront/internal/route"
	"github.com/crawlfront/crawlfront/internal/upstream"
)

// TableSource yields the routing snapshot currently taking traffic.
type TableSource interface {
	Table() *route.Table
}

// ReadinessSource reports the upstream verdict from the health prober.
type ReadinessSource interface {
	Ready() bool
	LastHealth() (upstream.Health, bool)
}

// Server wires HTTP handlers to the proxy snapshot and prober.
type Server struct {
	router chi.Router
	tables TableSource
	probe  ReadinessSource
	logger *zap.Logger
}

// NewServer constructs a Server with routes.
func NewServer(tables TableSource, probe ReadinessSource, logger *zap.Logger) *Server {
	s := &Server{
		tables: tables,
		probe:  probe,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/routes", s.routes)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.probe.Ready() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "upstream unavailable"})
		return
	}
	payload := map[string]any{"status": "ready"}
	if health, ok := s.probe.LastHealth(); ok {
		payload["upstream"] = health
	}
	s.writeJSON(w, http.StatusOK, payload)
}

// routeView is the JSON shape of one rule in the /routes dump.
type routeView struct {
	Host         string   `json:"host"`
	PathPrefixes []string `json:"path_prefixes"`
	Priority     int      `json:"priority"`
	TargetPort   int      `json:"target_port"`
}

func (s *Server) routes(w http.ResponseWriter, _ *http.Request) {
	table := s.tables.Table()
	rules := table.Rules()
	views := make([]routeView, 0, len(rules))
	for _, r := range rules {
		views = append(views, routeView{
			Host:         r.Host(),
			PathPrefixes: r.PathPrefixes(),
			Priority:     r.Priority(),
			TargetPort:   r.TargetPort(),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"default_port": table.DefaultPort(),
		"rules":        views,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}
