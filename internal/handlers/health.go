package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger reports whether a backing service is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	services map[string]Pinger
}

// NewHealthHandler checks every named service on each request
func NewHealthHandler(services map[string]Pinger) *HealthHandler {
	return &HealthHandler{services: services}
}

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response := healthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Services:  make(map[string]string),
	}

	for name, svc := range h.services {
		if err := svc.Ping(r.Context()); err != nil {
			response.Services[name] = "unhealthy"
			response.Status = "degraded"
		} else {
			response.Services[name] = "healthy"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if response.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(response)
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	// Check if service is ready to accept requests
	for _, svc := range h.services {
		if err := svc.Ping(r.Context()); err != nil {
			http.Error(w, "Service not ready", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
