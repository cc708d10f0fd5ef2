package server

import (
	"log/slog"
	"net/http"
)

// NewRouter creates the HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /watermarks", h.CreateWatermark)
	mux.HandleFunc("GET /watermarks/{id}", h.GetWatermark)

	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
	)

	return chain(mux)
}
