// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keygate Contributors

// Package httpapi exposes the authentication engine over a JSON HTTP API.
package httpapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/samber/oops"

	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/observability"
)

// Server serves the authentication endpoints.
type Server struct {
	addr       string
	engine     *auth.Engine
	tokens     *auth.TokenIssuer
	metrics    *observability.Metrics
	logger     *slog.Logger
	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// Params configures a Server. Metrics may be nil when the observability
// endpoint is disabled.
type Params struct {
	Addr    string
	Engine  *auth.Engine
	Tokens  *auth.TokenIssuer
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// NewServer creates an API server. Engine and Tokens are required.
func NewServer(p Params) (*Server, error) {
	if p.Engine == nil {
		return nil, oops.Errorf("engine is required")
	}
	if p.Tokens == nil {
		return nil, oops.Errorf("token issuer is required")
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:    p.Addr,
		engine:  p.Engine,
		tokens:  p.Tokens,
		metrics: p.Metrics,
		logger:  logger,
	}, nil
}

// route pairs an HTTP method and path with its handler. The explicit table
// keeps the full surface visible in one place.
type route struct {
	method  string
	path    string
	handler http.HandlerFunc
}

func (s *Server) routes() []route {
	return []route{
		{http.MethodPost, "/auth/register", s.handleRegister},
		{http.MethodPost, "/auth/login", s.handleLogin},
		{http.MethodPost, "/auth/passwordless", s.handlePasswordless},
		{http.MethodPost, "/auth/verify", s.handleVerify},
		{http.MethodPost, "/auth/google", s.handleFederated(auth.ProviderGoogle)},
		{http.MethodPost, "/auth/apple", s.handleFederated(auth.ProviderApple)},
		{http.MethodGet, "/auth/me", s.requireToken(s.handleMe)},
	}
}

// Handler builds the request multiplexer with per-route instrumentation.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	for _, r := range s.routes() {
		mux.Handle(r.method+" "+r.path, s.instrument(r.path, r.handler))
	}
	return mux
}

// Start begins serving the API. Like the observability server it returns an
// error channel that receives any serve failure and closes on clean shutdown.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("api server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			s.logger.Error("api server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("api server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_api_server").Wrap(err)
		}
	}

	s.logger.Info("api server stopped")
	return nil
}

// Addr returns the listen address, or empty when stopped.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// statusRecorder captures the response status for instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(routePath string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next(rec, r)
		if s.metrics != nil {
			s.metrics.HTTPRequestDuration.
				WithLabelValues(routePath, strconv.Itoa(rec.status)).
				Observe(time.Since(start).Seconds())
		}
	})
}
