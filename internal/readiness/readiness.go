// Package readiness provides liveness/readiness probe endpoints and a
// read-only admin endpoint for runtime inspection of breaker state. The
// admin endpoint is protected by IP allowlist.
package readiness

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/dskow/resilience-core/internal/breaker"
)

// Pre-serialized liveness response avoids json.Encoder allocation.
var livenessBody = []byte(`{"status":"ok"}` + "\n")

// Handler provides /health, /ready and /admin/breakers endpoints.
type Handler struct {
	registry    *breaker.Registry
	allowedNets []*net.IPNet
	logger      *slog.Logger
}

// New creates a new readiness Handler. The allowlist CIDRs must be
// pre-validated (config validation ensures this).
func New(registry *breaker.Registry, allowlist []string, logger *slog.Logger) *Handler {
	nets := make([]*net.IPNet, 0, len(allowlist))
	for _, cidr := range allowlist {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue // already validated by config
		}
		nets = append(nets, ipNet)
	}
	return &Handler{registry: registry, allowedNets: nets, logger: logger}
}

// RegisterRoutes adds probe and admin routes to the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.liveness)
	mux.HandleFunc("/ready", h.readiness)
	mux.HandleFunc("/admin/breakers", h.guard(h.breakersHandler))
}

func (h *Handler) liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(livenessBody)
}

// readiness reports 200 while no critical breaker is open. An open breaker
// on a non-critical dependency degrades the response body but not the
// status code, so orchestrators do not restart a pod that is serving
// fallbacks correctly.
func (h *Handler) readiness(w http.ResponseWriter, r *http.Request) {
	healthy := h.registry.IsHealthy()
	degraded := h.registry.Degraded()

	status := http.StatusOK
	state := "ready"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	} else if len(degraded) > 0 {
		state = "degraded"
	}

	writeJSON(w, status, map[string]interface{}{
		"status":   state,
		"degraded": degraded,
	})
}

// breakerStatus is the per-breaker entry in the /admin/breakers response.
type breakerStatus struct {
	State              string  `json:"state"`
	TotalRequests      uint64  `json:"total_requests"`
	SuccessCount       uint64  `json:"success_count"`
	FallbackCount      uint64  `json:"fallback_count"`
	SuccessRate        float64 `json:"success_rate"`
	EffectiveThreshold float64 `json:"effective_threshold"`
	CurrentBackoffMs   int64   `json:"current_backoff_ms"`
	AvgLatencyMs       float64 `json:"avg_latency_ms"`
	Healthy            bool    `json:"healthy"`
}

func (h *Handler) breakersHandler(w http.ResponseWriter, r *http.Request) {
	all := h.registry.All()

	out := make(map[string]breakerStatus, len(all))
	for name, m := range all {
		out[name] = breakerStatus{
			State:              m.State.String(),
			TotalRequests:      m.TotalRequests,
			SuccessCount:       m.SuccessCount,
			FallbackCount:      m.FallbackCount,
			SuccessRate:        m.SuccessRate,
			EffectiveThreshold: m.EffectiveThreshold,
			CurrentBackoffMs:   m.CurrentBackoff.Milliseconds(),
			AvgLatencyMs:       float64(m.AvgLatency) / float64(time.Millisecond),
			Healthy:            m.IsHealthy,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"breakers": out})
}

// guard wraps a handler with method and IP allowlist checking.
func (h *Handler) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
				"error": "Method Not Allowed",
			})
			return
		}

		ip := extractIP(r.RemoteAddr)
		if !h.isAllowed(ip) {
			h.logger.Warn("admin access denied", "client_ip", ip, "path", r.URL.Path)
			writeJSON(w, http.StatusForbidden, map[string]string{
				"error": "Forbidden",
			})
			return
		}
		next(w, r)
	}
}

func (h *Handler) isAllowed(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range h.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func extractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
