// Package proxy implements the edge reverse proxy: every request is
// resolved against the current routing snapshot and forwarded to the
// chosen backend port.
package proxy

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/crawlfront/crawlfront/internal/metrics"
	"github.com/crawlfront/crawlfront/internal/route"
)

// Server forwards requests to backend ports selected by the route table.
// The table lives behind an atomic pointer: Swap publishes a complete new
// snapshot, so concurrent requests always resolve against a consistent
// rule set and reloads never mutate rules in place.
type Server struct {
	table       atomic.Pointer[route.Table]
	backendHost string
	reverse     *httputil.ReverseProxy
	handler     http.Handler
	logger      *zap.Logger
}

type targetKey struct{}

type proxyTarget struct {
	url  *url.URL
	port int
}

// New constructs a Server forwarding to ports on backendHost.
func New(table *route.Table, backendHost string, timeout time.Duration, logger *zap.Logger) *Server {
	s := &Server{
		backendHost: backendHost,
		logger:      logger,
	}
	s.table.Store(table)

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: timeout,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}

	s.reverse = &httputil.ReverseProxy{
		Transport: transport,
		Director: func(req *http.Request) {
			target, ok := req.Context().Value(targetKey{}).(proxyTarget)
			if !ok {
				return
			}
			req.URL.Scheme = target.url.Scheme
			req.URL.Host = target.url.Host
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			target, _ := r.Context().Value(targetKey{}).(proxyTarget)
			metrics.ObserveBackendError(target.port)
			s.logger.Error("backend request failed",
				zap.String("path", r.URL.Path),
				zap.Int("target_port", target.port),
				zap.Error(err),
			)
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "bad gateway"})
		},
		ErrorLog: zap.NewStdLog(logger.Named("reverseproxy")),
	}

	s.handler = requestIDMiddleware(loggingMiddleware(logger)(recoverMiddleware(logger)(http.HandlerFunc(s.serve))))
	return s
}

// Swap atomically publishes a new routing snapshot.
func (s *Server) Swap(table *route.Table) {
	s.table.Store(table)
	s.logger.Info("route table swapped",
		zap.Int("rules", len(table.Rules())),
		zap.Int("default_port", table.DefaultPort()),
	)
}

// Table returns the live routing snapshot.
func (s *Server) Table() *route.Table {
	return s.table.Load()
}

// Handler returns the proxy handler for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	host := r.Host
	if h, _, err := net.SplitHostPort(r.Host); err == nil {
		host = h
	}

	start := time.Now()
	decision := s.table.Load().Resolve(route.Request{Host: host, Path: r.URL.Path})
	resolveDuration := time.Since(start)

	target := proxyTarget{
		url: &url.URL{
			Scheme: "http",
			Host:   net.JoinHostPort(s.backendHost, strconv.Itoa(decision.TargetPort)),
		},
		port: decision.TargetPort,
	}

	ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
	ctx := context.WithValue(r.Context(), targetKey{}, target)
	s.reverse.ServeHTTP(ww, r.WithContext(ctx))

	metrics.ObserveProxyRequest(decision.Matched, decision.TargetPort, ww.status, resolveDuration)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}
