package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/rickgao/duel-client/internal/app"
	"github.com/rickgao/duel-client/internal/router"
	"github.com/rickgao/duel-client/internal/version"
)

// degradedWindow is how long a handler failure keeps /health degraded.
const degradedWindow = time.Minute

// handlersDegraded reports whether a handler failed within degradedWindow of now.
func handlersDegraded(stats router.RegistryStats, now time.Time) bool {
	last := stats.LastHandlerError
	return !last.IsZero() && now.Sub(last) < degradedWindow
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(client *app.App, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		stats := client.Stats()

		health := struct {
			Status     string                 `json:"status"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]interface{}),
		}

		// Check connection
		conn := map[string]interface{}{
			"status":             stats.Connection.Status.String(),
			"endpoint":           stats.Connection.Endpoint,
			"refs":               stats.Connection.Refs,
			"reconnect_attempts": stats.Connection.ReconnectAttempts,
			"queue_depth":        stats.Connection.Queue.Depth,
		}
		if !client.Connected() {
			health.Status = "unhealthy"
		}
		health.Components["connection"] = conn

		// Navigation and registry
		health.Components["navigation"] = map[string]interface{}{
			"phase":       stats.Navigation.Phase.String(),
			"transitions": stats.Navigation.Transitions,
			"ignored":     stats.Navigation.Ignored,
		}
		health.Components["registry"] = map[string]interface{}{
			"bindings":       stats.Registry.Bindings,
			"scopes":         stats.Scopes,
			"handler_errors": stats.Registry.HandlerErrors,
			"slow_handlers":  stats.Registry.SlowHandlers,
		}
		if handlersDegraded(stats.Registry, time.Now()) && health.Status == "healthy" {
			health.Status = "degraded"
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(health); err != nil {
			logger.Debug("write health response", "error", err)
		}
	})

	mux.HandleFunc("/debug/bindings", func(w http.ResponseWriter, r *http.Request) {
		stats := client.Stats()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"bindings":    stats.Registry.Bindings,
			"by_event":    stats.Registry.ByEvent,
			"dispatched":  stats.Registry.Dispatched,
			"invocations": stats.Registry.Invocations,
		})
	})

	mux.HandleFunc("/debug/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version":    version.Version,
			"commit":     version.Commit,
			"build_time": version.BuildTime,
		})
	})

	return mux
}
