// Package server exposes the HTTP and WebSocket API: session management,
// notification ingest and triage queries, device connections and the
// live event stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"agenthub/internal/device"
	"agenthub/internal/digest"
	"agenthub/internal/eventbus"
	"agenthub/internal/processor"
	"agenthub/internal/session"
	"agenthub/internal/store"
	logx "agenthub/pkg/logx"
)

// Config controls the listener and the optional auth gate.
type Config struct {
	Host string
	Port int
	// AuthToken enables bearer-token auth on all routes when non-empty.
	AuthToken string
	// IngestRatePerSec and IngestBurst bound per-device ingest traffic.
	// Zero values fall back to 10/s with a burst of 20.
	IngestRatePerSec float64
	IngestBurst      int
}

// Deps are the services the API fronts.
type Deps struct {
	Sessions  *session.Registry
	Store     store.Store
	Devices   *device.Registry
	Processor *processor.Service
	Digest    *digest.Service
	Bus       eventbus.Bus
	Log       logx.Logger
}

// Service is the HTTP server. Start binds the listener; Stop drains it.
type Service struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	limits *rateLimiters

	ln       net.Listener
	srv      *http.Server
	stopDone chan struct{}

	startedAt time.Time
}

func New(cfg Config, deps Deps) *Service {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.IngestRatePerSec <= 0 {
		cfg.IngestRatePerSec = 10
	}
	if cfg.IngestBurst <= 0 {
		cfg.IngestBurst = 20
	}
	return &Service{
		cfg:    cfg,
		deps:   deps,
		log:    log,
		limits: newRateLimiters(cfg.IngestRatePerSec, cfg.IngestBurst),
	}
}

func (s *Service) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /sessions", s.handleSessionCreate)
	mux.HandleFunc("GET /sessions", s.handleSessionList)
	mux.HandleFunc("GET /sessions/{id}", s.handleSessionGet)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleSessionDelete)
	mux.HandleFunc("POST /sessions/{id}/execute", s.handleSessionExecute)
	mux.HandleFunc("POST /sessions/{id}/inject", s.handleSessionInject)

	mux.HandleFunc("POST /notifications/ingest", s.handleIngest)
	mux.HandleFunc("POST /notifications/push", s.handlePush)
	mux.HandleFunc("GET /notifications/recent", s.handleRecent)
	mux.HandleFunc("GET /notifications/stats", s.handleStats)
	mux.HandleFunc("GET /notifications/digest", s.handleDigest)

	mux.HandleFunc("POST /admin/scoring", s.handleScoringUpdate)
	mux.HandleFunc("GET /admin/scoring", s.handleScoringGet)

	mux.HandleFunc("GET /devices", s.handleDeviceList)

	mux.HandleFunc("GET /ws/device/{id}", s.handleDeviceWS)
	mux.HandleFunc("GET /ws/chat/{id}", s.handleChatWS)
	mux.HandleFunc("GET /ws/events", s.handleEventsWS)

	return s.withAuth(mux)
}

// withAuth gates every route behind a bearer token when one is configured.
// Health stays open so load balancers can probe without credentials.
func (s *Service) withAuth(next http.Handler) http.Handler {
	token := s.cfg.AuthToken
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("Authorization")
		// WebSocket clients can't always set headers; allow token query param.
		if got == "" {
			if q := r.URL.Query().Get("token"); q != "" {
				got = "Bearer " + q
			}
		}
		if !strings.HasPrefix(got, "Bearer ") || strings.TrimPrefix(got, "Bearer ") != token {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) Start(ctx context.Context) error {
	if s.ln != nil {
		return errors.New("server: already started")
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	s.ln = ln
	s.startedAt = time.Now()
	s.srv = &http.Server{
		Handler:     s.routes(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	s.stopDone = make(chan struct{})

	go func() {
		defer close(s.stopDone)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http serve failed", logx.Err(err))
		}
	}()

	s.log.Info("http server listening", logx.String("addr", ln.Addr().String()))
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	err := s.srv.Shutdown(ctx)
	select {
	case <-s.stopDone:
	case <-ctx.Done():
	}
	s.srv = nil
	s.ln = nil
	return err
}

// Addr returns the bound address, for tests that listen on port 0.
func (s *Service) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}
