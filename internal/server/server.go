package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/popsplit/popsplit/internal/config"
	"github.com/popsplit/popsplit/internal/engine"
	"github.com/popsplit/popsplit/internal/store"
)

type Server struct {
	store     *store.SQLiteStore
	engine    *engine.Engine
	cfg       config.Config
	token     string
	tokenFile string
	router    chi.Router
	logger    *slog.Logger
	startTime time.Time
}

func New(s *store.SQLiteStore, cfg config.Config, tokenFile string) *Server {
	srv := &Server{
		store:     s,
		engine:    engine.New(s, cfg.Recommend),
		cfg:       cfg,
		token:     generateToken(),
		tokenFile: tokenFile,
		logger:    slog.Default(),
		startTime: time.Now(),
	}

	srv.router = srv.routes()
	return srv
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	// Allocation and the event beacon are called from visitor-facing pages;
	// CORS sits above routing so preflights never 405.
	r.Use(cors)

	r.Get("/health", s.handleHealth)
	r.Post("/assign", s.handleAssign)
	r.Post("/b", s.handleBeacon)

	// Admin API (token protected)
	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/tests", s.handleListTests)
		r.Post("/tests", s.handleCreateTest)
		r.Route("/tests/{testID}", func(r chi.Router) {
			r.Get("/", s.handleGetTest)
			r.Get("/metrics", s.handleMetrics)
			r.Get("/significance", s.handleSignificance)
			r.Get("/series", s.handleSeries)
			r.Get("/recommendations", s.handleRecommendations)
			r.Post("/activate", s.lifecycleHandler(s.engine.Activate))
			r.Post("/pause", s.lifecycleHandler(s.engine.Pause))
			r.Post("/resume", s.lifecycleHandler(s.engine.Resume))
			r.Post("/complete", s.lifecycleHandler(s.engine.Complete))
			r.Post("/winner", s.handleDeclareWinner)
		})
	})

	return r
}

// Start runs the HTTP listener and, when enabled, the auto-winner poller.
// The poller lives in the host, not the engine: the engine stays free of
// background goroutines and the evaluation itself is idempotent.
func (s *Server) Start(ctx context.Context) error {
	if s.tokenFile != "" {
		if err := os.WriteFile(s.tokenFile, []byte(s.token), 0600); err != nil {
			s.logger.Warn("failed to write token file", "path", s.tokenFile, "error", err)
		}
	}

	if s.cfg.AutoWinner.Enabled {
		go s.pollAutoWinners(ctx)
	}

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.logger.Info("server listening", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) pollAutoWinners(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.AutoWinner.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			declared, err := s.engine.EvaluateAutoWinners(ctx)
			if err != nil {
				s.logger.Error("auto-winner evaluation failed", "error", err)
				continue
			}
			for _, id := range declared {
				s.logger.Info("auto-declared winner", "test_id", id)
			}
		}
	}
}

func (s *Server) Token() string {
	return s.token
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Engine() *engine.Engine {
	return s.engine
}

func generateToken() string {
	bytes := make([]byte, 4)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to a simple token if crypto/rand fails
		return "a1b2c3d4"
	}
	return hex.EncodeToString(bytes)
}
