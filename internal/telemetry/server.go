package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/discord-voice-scribe/internal/logging"
)

// Server hosts the metrics endpoint, health probes, and the live caption
// websocket. It is optional; the bot runs without it when no listen
// address is configured.
type Server struct {
	hub  *Hub
	http *http.Server
}

func NewServer(addr string, hub *Hub) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/livez", healthHandler)
	mux.HandleFunc("/readyz", healthHandler)
	mux.Handle("/live", hub)

	return &Server{
		hub: hub,
		http: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Start serves in a background goroutine until Shutdown is called.
func (s *Server) Start() {
	go func() {
		logging.Infow("telemetry server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Errorw("telemetry server stopped", "error", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
