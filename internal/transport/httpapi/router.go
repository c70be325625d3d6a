// Package httpapi binds the Agent Manager Façade to the transport-agnostic
// API surface described in spec §6. It owns request parsing, principal
// extraction, and status-code mapping only — every decision of substance
// is made by the Façade. Adapted from the teacher's internal/server
// (gorilla/mux subrouter, a Server struct holding its dependencies, one
// handleX method per route) with the WebSocket hub trimmed to the admin
// live-notification stream this spec calls for.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/SUPREMEAGENTMANAGER/internal/facade"
	"github.com/SUPREMEAGENTMANAGER/internal/metrics"
)

// Server is the control plane's HTTP boundary: the only thing the external
// API layer talks to, which in turn talks only to the Façade.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	hub        *Hub
	facade     *facade.Facade
	metrics    *metrics.Collector
	log        *zap.Logger
}

// New builds a Server bound to f, serving on addr once Start is called.
// metricsCollector may be nil, in which case /metrics is not mounted.
func New(f *facade.Facade, metricsCollector *metrics.Collector, log *zap.Logger, addr string) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		facade:  f,
		metrics: metricsCollector,
		log:     log,
		hub:     NewHub(),
	}
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go s.hub.Run()
	return s
}

func (s *Server) setupRoutes() {
	r := mux.NewRouter()
	r.Use(securityHeaders)
	r.Use(requestLog(s.log))

	r.HandleFunc("/agents", s.handleRegisterAgent).Methods("POST")
	r.HandleFunc("/agents", s.handleListAgents).Methods("GET")
	r.HandleFunc("/agents/{id}", s.handleGetAgent).Methods("GET")
	r.HandleFunc("/agents/{id}/actions", s.handleExecuteAction).Methods("POST")
	r.HandleFunc("/agents/{id}/approve-action", s.handleApproveAction).Methods("POST")
	r.HandleFunc("/agents/{id}/security-violation", s.handleSecurityViolation).Methods("POST")
	r.HandleFunc("/agents/{id}/log/{kind}", s.handleLogActivity).Methods("POST")
	r.HandleFunc("/agents/{id}/activity-log", s.handleActivityLog).Methods("GET")
	r.HandleFunc("/agents/{id}/surveillance-report", s.handleSurveillanceReport).Methods("GET")

	r.HandleFunc("/admin/dashboard", s.handleDashboard).Methods("GET")
	r.HandleFunc("/admin/notifications", s.handleListNotifications).Methods("GET")
	r.HandleFunc("/admin/notifications/{id}/respond", s.handleRespondNotification).Methods("POST")
	r.HandleFunc("/admin/agents/{id}/unfreeze", s.handleUnfreezeAgent).Methods("POST")
	r.HandleFunc("/admin/frozen-entities", s.handleFrozenEntities).Methods("GET")
	r.HandleFunc("/admin/compliance-report", s.handleComplianceReport).Methods("GET")

	r.HandleFunc("/admin/notifications/stream", s.handleNotificationStream)
	r.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	s.router = r
}

// Start begins serving and blocks until the server stops (ListenAndServe's
// usual contract); call in a goroutine and use Shutdown to stop it.
func (s *Server) Start() error {
	s.log.Info("http api listening", zap.String("addr", s.httpServer.Addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests before closing listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// BroadcastNotification fans a newly-created Notification out to every
// connected admin dashboard WebSocket client, mirroring the teacher's
// Hub.BroadcastState for the admin surface's live feed.
func (s *Server) BroadcastNotification(payload interface{}) {
	s.hub.BroadcastJSON(payload)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.log, http.StatusOK, map[string]string{"status": "ok"})
}
