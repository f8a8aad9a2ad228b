package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/aegis-analytics/internal/api"
	"github.com/wonny/aegis-analytics/internal/api/handlers"
	"github.com/wonny/aegis-analytics/internal/pipeline"
	"github.com/wonny/aegis-analytics/pkg/logger"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "API 서버 시작",
	Long: `REST API 서버를 시작합니다.

Endpoints:
  GET  /health           - Health check
  POST /api/analyze      - 파이프라인 실행
  GET  /api/runs         - 최근 실행 목록
  GET  /api/runs/{id}    - 실행 결과 조회
  GET  /ws/runs          - 실행 이벤트 스트림 (WebSocket)

Example:
  go run ./cmd/analytics api
  go run ./cmd/analytics api --port 8080`,
	RunE: runAPIServer,
}

var (
	apiPort    string
	apiFixture string
)

func init() {
	rootCmd.AddCommand(apiCmd)

	// Flags
	apiCmd.Flags().StringVar(&apiPort, "port", "", "API 서버 포트 (기본: PORT)")
	apiCmd.Flags().StringVar(&apiFixture, "fixture", "", "canonical record fixture directory (offline mode)")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Aegis Analytics API Server ===")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Override port if flag is set
	if apiPort != "" {
		cfg.Port = apiPort
	}

	var hub *api.Hub
	a, err := newApp(cfg, appOptions{
		fixture: apiFixture,
		observe: func(log *logger.Logger) []pipeline.Observer {
			hub = api.NewHub(log)
			return []pipeline.Observer{hub}
		},
	})
	if err != nil {
		return err
	}
	defer a.Close()

	analyzeHandler := handlers.NewAnalyzeHandler(a.executor, a.index, a.log)
	router := api.NewRouter(analyzeHandler, hub, a.log)
	server := api.New(cfg, a.log, router, hub)

	// Start server with graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	fmt.Printf("\n✅ Server running on http://localhost:%s\n", cfg.Port)
	fmt.Println("\nAvailable endpoints:")
	PrintList([]string{
		"GET  /health",
		"POST /api/analyze",
		"GET  /api/runs",
		"GET  /api/runs/{id}",
		"GET  /ws/runs",
	})
	fmt.Println("\nPress Ctrl+C to stop")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	a.log.Info("Server stopped")
	return nil
}
