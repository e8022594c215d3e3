// Package handler provides the HTTP surface of the detection view
package handler

import (
	"bytes"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/agile-defense/droneview/pkg/detection"
	"github.com/agile-defense/droneview/pkg/monitor"
)

// ConnectionStatus reports the backend connection health
type ConnectionStatus interface {
	Health() monitor.HealthStatus
}

// Options configures the view router
type Options struct {
	Store       *detection.Store
	Connection  ConnectionStatus
	Gatherer    prometheus.Gatherer
	Refresh     time.Duration
	CORSOrigins []string
	Logger      zerolog.Logger
}

// ViewHandler serves the rendered indicator and its JSON state
type ViewHandler struct {
	store   *detection.Store
	conn    ConnectionStatus
	refresh time.Duration
	logger  zerolog.Logger
}

// NewViewHandler creates a new ViewHandler
func NewViewHandler(store *detection.Store, conn ConnectionStatus, refresh time.Duration, logger zerolog.Logger) *ViewHandler {
	if refresh <= 0 {
		refresh = time.Second
	}
	return &ViewHandler{
		store:   store,
		conn:    conn,
		refresh: refresh,
		logger:  logger.With().Str("handler", "view").Logger(),
	}
}

// NewRouter builds the HTTP router for the view
func NewRouter(opts Options) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(correlationIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(prometheusMiddleware)

	if len(opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Correlation-ID", "X-Request-ID"},
			ExposedHeaders: []string{"X-Correlation-ID", "X-Request-ID"},
			MaxAge:         300,
		}))
	}

	view := NewViewHandler(opts.Store, opts.Connection, opts.Refresh, opts.Logger)

	r.Get("/", view.GetPage)
	r.Get("/health", view.GetHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/state", view.GetState)
	})

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, http.StatusNotFound, "route not found", GetCorrelationID(r.Context()))
	})

	return r
}

// GetPage handles GET / and renders the indicator
func (h *ViewHandler) GetPage(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := detection.RenderPage(&buf, h.store.Current(), h.refresh); err != nil {
		h.logger.Error().Err(err).Str("correlation_id", GetCorrelationID(r.Context())).Msg("Failed to render view")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// StateResponse is the JSON form of the current detection
type StateResponse struct {
	Score         float64    `json:"score"`
	Timestamp     string     `json:"timestamp,omitempty"`
	UAVType       string     `json:"uav_type,omitempty"`
	Detected      bool       `json:"detected"`
	Percent       int        `json:"percent"`
	Threshold     float64    `json:"threshold"`
	Revision      uint64     `json:"revision"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
	Connection    string     `json:"connection"`
	CorrelationID string     `json:"correlation_id"`
}

// GetState handles GET /api/v1/state
func (h *ViewHandler) GetState(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Snapshot()

	resp := StateResponse{
		Score:         snap.State.Score,
		Timestamp:     snap.State.Timestamp,
		UAVType:       snap.State.UAVType,
		Detected:      snap.State.Detected(),
		Percent:       snap.State.Percent(),
		Threshold:     detection.Threshold,
		Revision:      snap.Revision,
		Connection:    h.conn.Health().Status,
		CorrelationID: GetCorrelationID(r.Context()),
	}
	if !snap.UpdatedAt.IsZero() {
		updated := snap.UpdatedAt
		resp.UpdatedAt = &updated
	}

	WriteJSON(w, http.StatusOK, resp)
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status        string               `json:"status"`
	Connection    monitor.HealthStatus `json:"connection"`
	CorrelationID string               `json:"correlation_id"`
}

// GetHealth handles GET /health
func (h *ViewHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	health := h.conn.Health()

	resp := HealthResponse{
		Status:        "healthy",
		Connection:    health,
		CorrelationID: GetCorrelationID(r.Context()),
	}

	status := http.StatusOK
	if !health.Healthy {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	WriteJSON(w, status, resp)
}
