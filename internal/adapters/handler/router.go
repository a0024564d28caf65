package handler

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ig-autoreply/internal/observability"
)

// Handlers groups everything NewRouter mounts
type Handlers struct {
	Webhook     *WebhookHandler
	Automations *AutomationHandler
	System      *SystemHandler
	Privacy     *PrivacyHandler
}

// NewRouter registers all routes on a ServeMux and wraps it with the
// request-id, access-log, CORS and metrics middleware
func NewRouter(h Handlers) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /webhook", h.Webhook.HandleVerify)
	mux.HandleFunc("POST /webhook", h.Webhook.HandleEvent)

	mux.HandleFunc("POST /api/automations", h.Automations.Create)
	mux.HandleFunc("GET /api/automations", h.Automations.List)
	mux.HandleFunc("GET /api/automations/{id}", h.Automations.Get)
	mux.HandleFunc("PATCH /api/automations/{id}", h.Automations.Update)
	mux.HandleFunc("DELETE /api/automations/{id}", h.Automations.Delete)

	mux.HandleFunc("GET /health", h.System.Health)
	mux.HandleFunc("GET /{$}", h.System.Health)
	mux.HandleFunc("GET /api/system/metrics", h.System.GetSystemMetrics)
	mux.HandleFunc("GET /api/system/pause", h.System.GetPause)
	mux.HandleFunc("POST /api/system/pause", h.System.Pause)
	mux.HandleFunc("POST /api/system/resume", h.System.Resume)

	mux.Handle("GET /metrics", promhttp.Handler())

	if h.Privacy != nil {
		mux.HandleFunc("GET /privacy-policy", h.Privacy.PrivacyPolicy)
	}

	return RequestID(AccessLog(CORS(observability.Metrics(mux))))
}
