package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/wonny/aegis-analytics/pkg/config"
	"github.com/wonny/aegis-analytics/pkg/logger"
)

// Server is the HTTP front of the analysis pipeline
// ⭐ SSOT: API 서버 설정은 이 파일에서만
type Server struct {
	httpServer *http.Server
	logger     *logger.Logger
	config     *config.Config
}

// New creates the API server. hub may be nil; when set, its stream
// subscribers are detached on shutdown.
func New(cfg *config.Config, log *logger.Logger, router http.Handler, hub *Hub) *Server {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// 분석 요청은 run timeout까지 응답을 붙잡을 수 있음
		WriteTimeout: cfg.Pipeline.RunTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if hub != nil {
		srv.RegisterOnShutdown(hub.Close)
	}

	return &Server{
		httpServer: srv,
		logger:     log,
		config:     cfg,
	}
}

// Start blocks serving requests until Shutdown is called
func (s *Server) Start() error {
	s.logger.WithFields(map[string]interface{}{
		"port":          s.config.Port,
		"env":           s.config.Env,
		"run_timeout":   s.config.Pipeline.RunTimeout,
		"write_timeout": s.httpServer.WriteTimeout,
	}).Info("Starting analytics API")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight runs up to ctx
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down analytics API")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
