// Package dashboard serves the run-monitoring HTTP API: live portfolio,
// positions, orders and equity views plus the pause/resume/stop controls.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/wdc63/pqtrader/internal/engine"
	"github.com/wdc63/pqtrader/internal/models"
)

// Server exposes the engine's copy-out state over HTTP. It never touches
// trading state directly; reads go through Engine.View and writes through
// the engine's command queue.
type Server struct {
	router *chi.Mux
	server *http.Server
	engine *engine.Engine
	logger *logrus.Logger
	port   int
}

// Config holds the server options.
type Config struct {
	Port int
}

// NewServer wires the routes over the engine.
func NewServer(cfg Config, eng *engine.Engine, logger *logrus.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		engine: eng,
		logger: logger,
		port:   cfg.Port,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/status", s.handleStatus)
	s.router.Get("/api/portfolio", s.handlePortfolio)
	s.router.Get("/api/positions", s.handlePositions)
	s.router.Get("/api/orders", s.handleOrders)
	s.router.Get("/api/equity", s.handleEquity)
	s.router.Post("/api/control", s.handleControl)
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Infof("Starting dashboard server on port %d", s.port)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	view := s.engine.View()
	s.writeJSON(w, map[string]any{
		"status":       view.Status,
		"phase":        view.Phase,
		"mode":         view.Mode,
		"strategy":     view.Strategy,
		"current_time": view.CurrentTime,
		"net_worth":    view.Portfolio.NetWorth,
	})
}

func (s *Server) handlePortfolio(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.engine.View().Portfolio)
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	view := s.engine.View()
	if view.Positions == nil {
		view.Positions = []engine.PositionView{}
	}
	s.writeJSON(w, view.Positions)
}

func (s *Server) handleOrders(w http.ResponseWriter, _ *http.Request) {
	view := s.engine.View()
	if view.OpenOrders == nil {
		view.OpenOrders = []models.Order{}
	}
	s.writeJSON(w, view.OpenOrders)
}

func (s *Server) handleEquity(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, s.engine.View().Equity)
}

type controlRequest struct {
	Action string `json:"action"` // pause | resume | stop
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	switch req.Action {
	case "pause":
		s.engine.Pause()
	case "resume":
		s.engine.ResumeRun()
	case "stop":
		s.engine.Stop()
	default:
		http.Error(w, fmt.Sprintf("unknown action %q", req.Action), http.StatusBadRequest)
		return
	}
	s.logger.WithField("action", req.Action).Info("control command accepted")
	s.writeJSON(w, map[string]string{"accepted": req.Action})
}
