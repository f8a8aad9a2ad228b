package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/aegis-analytics/internal/api/handlers"
	"github.com/wonny/aegis-analytics/pkg/logger"
)

const serviceName = "aegis-analytics-api"

// NewRouter wires the analysis endpoints and the run event stream
// ⭐ SSOT: 라우팅 설정은 이 함수에서만
func NewRouter(analyzeHandler *handlers.AnalyzeHandler, hub *Hub, log *logger.Logger) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", healthHandler(hub)).Methods(http.MethodGet)
	r.HandleFunc("/ws/runs", hub.ServeWS).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/analyze", analyzeHandler.Analyze).Methods(http.MethodPost)
	api.HandleFunc("/runs", analyzeHandler.ListRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", analyzeHandler.GetRun).Methods(http.MethodGet)

	// recovery가 가장 바깥에서 패닉을 받아야 로깅 미들웨어도 보호됨
	r.Use(recoveryMiddleware(log))
	r.Use(requestLogMiddleware(log))

	return r
}

// healthHandler reports liveness plus the number of attached stream clients
func healthHandler(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handlers.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"status":     "ok",
			"service":    serviceName,
			"ws_clients": hub.Clients(),
			"time":       time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// requestLogMiddleware logs each request with the caller identity it was made under.
// The websocket endpoint is long-lived, so only its upgrade is logged.
func requestLogMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			fields := map[string]interface{}{
				"method": r.Method,
				"path":   r.URL.Path,
				"caller": r.Header.Get(handlers.CallerHeader),
			}

			if r.URL.Path == "/ws/runs" {
				log.WithFields(fields).Debug("Run stream requested")
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r)

			fields["duration"] = time.Since(start)
			log.WithFields(fields).Debug("HTTP request")
		})
	}
}

// recoveryMiddleware turns a handler panic into a JSON 500
func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					log.WithFields(map[string]interface{}{
						"panic": rec,
						"path":  r.URL.Path,
					}).Error("Panic recovered")
					handlers.RespondError(w, http.StatusInternalServerError, "internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
