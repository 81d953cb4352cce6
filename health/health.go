// Package health exposes the local liveness endpoint other desktop tools
// poll to find out whether a capture is running and the backend is
// reachable.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"earshot/log"
)

// Snapshot is the probe function's answer: the state of the world at the
// moment of the request.
type Snapshot struct {
	IsStreaming      bool
	BackendConnected bool
	Version          string
}

// Probe supplies a fresh Snapshot per request.
type Probe func() Snapshot

type response struct {
	Status           string `json:"status"`
	IsStreaming      bool   `json:"isStreaming"`
	BackendConnected bool   `json:"backendConnected"`
	Version          string `json:"version"`
	Timestamp        string `json:"timestamp"`
}

// Handler answers GET /health with a JSON liveness report. Browser-based
// tooling polls it cross-origin, so CORS is wide open for GET.
func Handler(probe Probe) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		switch r.Method {
		case http.MethodOptions:
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			snap := probe()
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(response{
				Status:           "healthy",
				IsStreaming:      snap.IsStreaming,
				BackendConnected: snap.BackendConnected,
				Version:          snap.Version,
				Timestamp:        time.Now().UTC().Format(time.RFC3339),
			})
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	})
	return mux
}

// Serve runs the health endpoint on localhost until ctx is done.
func Serve(ctx context.Context, port int, probe Probe) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", port),
		Handler: Handler(probe),
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("health: listen %s: %w", srv.Addr, err)
	}
	log.Infof("health endpoint on http://%s/health", srv.Addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("health: serve: %w", err)
	}
	return nil
}
