// Package monitor maintains the live connection to the inference backend and
// feeds decoded detections into the view store
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"nhooyr.io/websocket"

	"github.com/agile-defense/droneview/pkg/detection"
	"github.com/agile-defense/droneview/pkg/messages"
)

// DefaultBackendURL is the inference backend's detection stream
const DefaultBackendURL = "ws://localhost:3002/ws"

// ConnState is the connection lifecycle state
type ConnState string

const (
	StateConnecting ConnState = "connecting"
	StateOpen       ConnState = "open"
	StateClosed     ConnState = "closed"
)

var allStates = []ConnState{StateConnecting, StateOpen, StateClosed}

// Frame outcomes recorded in droneview_frames_total
const (
	FrameApplied   = "applied"
	FrameUnchanged = "unchanged"
	FrameMalformed = "malformed"
	FrameInvalid   = "invalid"
	FrameIgnored   = "ignored"
	FrameOversized = "oversized"
)

// DefaultMaxFrameBytes bounds the size of a single decoded frame
const DefaultMaxFrameBytes = 1 << 20

// HealthStatus represents connection health
type HealthStatus struct {
	Healthy   bool   `json:"healthy"`
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
	Details   string `json:"details,omitempty"`
}

// Config holds monitor configuration
type Config struct {
	URL               string
	Variant           messages.Variant
	ClearOnDisconnect bool
	DialTimeout       time.Duration
	Backoff           BackoffConfig

	// MaxFrameBytes is the largest frame that is decoded. Larger frames are
	// read through, dropped and counted; the connection stays up.
	MaxFrameBytes int64
}

// DefaultConfig returns the default monitor configuration
func DefaultConfig() Config {
	return Config{
		URL:               DefaultBackendURL,
		Variant:           messages.VariantClassified,
		ClearOnDisconnect: true,
		DialTimeout:       10 * time.Second,
		MaxFrameBytes:     DefaultMaxFrameBytes,
		Backoff:           DefaultBackoffConfig(),
	}
}

// Monitor owns one connection to the backend at a time
type Monitor struct {
	cfg    Config
	store  *detection.Store
	logger zerolog.Logger
	tracer trace.Tracer

	// Metrics
	registry         *prometheus.Registry
	framesTotal      *prometheus.CounterVec
	connectionsTotal *prometheus.CounterVec
	reconnectsTotal  prometheus.Counter
	connState        *prometheus.GaugeVec
	frameLatency     prometheus.Histogram
	scoreGauge       prometheus.Gauge

	// State
	mu        sync.RWMutex
	state     ConnState
	sessionID string
	lastErr   error
	running   bool
}

// New creates a monitor writing into store
func New(cfg Config, store *detection.Store, logger zerolog.Logger) *Monitor {
	def := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = def.URL
	}
	if cfg.Variant == "" {
		cfg.Variant = def.Variant
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = def.MaxFrameBytes
	}
	cfg.Backoff = cfg.Backoff.withDefaults()

	registry := prometheus.NewRegistry()

	framesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "droneview_frames_total",
			Help: "Inbound frames by outcome",
		},
		[]string{"status"},
	)

	connectionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "droneview_connections_total",
			Help: "Connection attempts to the backend by result",
		},
		[]string{"result"},
	)

	reconnectsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "droneview_reconnects_total",
			Help: "Reconnects scheduled after a connection closed or failed",
		},
	)

	connState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "droneview_connection_state",
			Help: "Current connection state (1 for the active state)",
		},
		[]string{"state"},
	)

	frameLatency := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "droneview_frame_processing_seconds",
			Help:    "Time to decode and apply one frame",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
	)

	scoreGauge := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "droneview_detection_score",
			Help: "Most recently applied detection score",
		},
	)

	registry.MustRegister(framesTotal, connectionsTotal, reconnectsTotal, connState, frameLatency, scoreGauge)

	m := &Monitor{
		cfg:              cfg,
		store:            store,
		logger:           logger.With().Str("component", "monitor").Logger(),
		tracer:           otel.Tracer("github.com/agile-defense/droneview/pkg/monitor"),
		registry:         registry,
		framesTotal:      framesTotal,
		connectionsTotal: connectionsTotal,
		reconnectsTotal:  reconnectsTotal,
		connState:        connState,
		frameLatency:     frameLatency,
		scoreGauge:       scoreGauge,
	}
	m.setState(StateClosed)
	return m
}

// Metrics returns the Prometheus registry
func (m *Monitor) Metrics() *prometheus.Registry {
	return m.registry
}

// State returns the current connection state
func (m *Monitor) State() ConnState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Health returns the health status
func (m *Monitor) Health() HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch {
	case !m.running:
		return HealthStatus{Healthy: false, Status: "stopped"}
	case m.state == StateOpen:
		return HealthStatus{Healthy: true, Status: string(StateOpen), SessionID: m.sessionID}
	default:
		h := HealthStatus{Healthy: false, Status: string(m.state)}
		if m.lastErr != nil {
			h.Details = m.lastErr.Error()
		}
		return h
	}
}

func (m *Monitor) setState(s ConnState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()

	for _, st := range allStates {
		v := 0.0
		if st == s {
			v = 1
		}
		m.connState.WithLabelValues(string(st)).Set(v)
	}
}

// Run connects to the backend and keeps reconnecting until ctx is cancelled.
// It returns nil on cancellation.
func (m *Monitor) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("monitor already running")
	}
	m.running = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.sessionID = ""
		m.mu.Unlock()
		m.setState(StateClosed)
	}()

	m.logger.Info().
		Str("url", m.cfg.URL).
		Str("variant", string(m.cfg.Variant)).
		Msg("Starting detection monitor")

	bo := NewBackoff(m.cfg.Backoff)

	for {
		m.setState(StateConnecting)

		openedAt, err := m.session(ctx)
		m.setState(StateClosed)

		if ctx.Err() != nil {
			m.logger.Info().Msg("Detection monitor stopped")
			return nil
		}

		m.mu.Lock()
		m.lastErr = err
		m.sessionID = ""
		m.mu.Unlock()

		// A connection that is accepted and dropped right away keeps growing
		// the delay; only one that stayed up restarts the schedule.
		if !openedAt.IsZero() && time.Since(openedAt) >= m.cfg.Backoff.ResetAfter {
			bo.Reset()
		}
		if m.cfg.ClearOnDisconnect {
			m.store.Reset()
			m.scoreGauge.Set(0)
		}

		delay := bo.NextBackOff()
		m.reconnectsTotal.Inc()
		m.logger.Warn().
			Err(err).
			Dur("delay", delay).
			Msg("WebSocket disconnected, reconnecting")

		if err := sleep(ctx, delay); err != nil {
			m.logger.Info().Msg("Detection monitor stopped")
			return nil
		}
	}
}

// session runs one connection until it terminates. openedAt is when the
// connection reached the open state, zero if it never did.
func (m *Monitor) session(ctx context.Context) (openedAt time.Time, err error) {
	sessionID := uuid.New().String()
	logger := m.logger.With().Str("session_id", sessionID).Logger()

	ctx, span := m.tracer.Start(ctx, "monitor.session", trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("backend.url", m.cfg.URL),
	))
	defer func() {
		if err != nil && ctx.Err() == nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	logger.Debug().Str("url", m.cfg.URL).Msg("Connecting to backend")

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	conn, _, err := websocket.Dial(dialCtx, m.cfg.URL, nil)
	cancel()
	if err != nil {
		m.connectionsTotal.WithLabelValues("failed").Inc()
		return time.Time{}, fmt.Errorf("failed to connect to %s: %w", m.cfg.URL, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Frame size is enforced per frame in readFrame, not by the transport
	conn.SetReadLimit(-1)
	openedAt = time.Now()
	m.connectionsTotal.WithLabelValues("open").Inc()

	m.mu.Lock()
	m.sessionID = sessionID
	m.lastErr = nil
	m.mu.Unlock()
	m.setState(StateOpen)

	logger.Info().Str("url", m.cfg.URL).Msg("WebSocket opened")

	for {
		typ, data, size, err := m.readFrame(ctx, conn)
		if err != nil {
			if ctx.Err() != nil {
				return openedAt, ctx.Err()
			}
			if status := websocket.CloseStatus(err); status != -1 {
				return openedAt, fmt.Errorf("connection closed by backend (%d): %w", status, err)
			}
			return openedAt, fmt.Errorf("connection lost: %w", err)
		}

		if data == nil {
			logger.Warn().
				Int64("bytes", size).
				Int64("max_bytes", m.cfg.MaxFrameBytes).
				Msg("Dropping oversized WebSocket frame")
			m.framesTotal.WithLabelValues(FrameOversized).Inc()
			continue
		}

		m.handleFrame(ctx, logger, typ, data)
	}
}

// readFrame reads the next message. A message over MaxFrameBytes is drained
// and returned with nil data and its full size.
func (m *Monitor) readFrame(ctx context.Context, conn *websocket.Conn) (websocket.MessageType, []byte, int64, error) {
	typ, r, err := conn.Reader(ctx)
	if err != nil {
		return 0, nil, 0, err
	}

	data, err := io.ReadAll(io.LimitReader(r, m.cfg.MaxFrameBytes+1))
	if err != nil {
		return 0, nil, 0, err
	}
	if int64(len(data)) <= m.cfg.MaxFrameBytes {
		return typ, data, int64(len(data)), nil
	}

	rest, err := io.Copy(io.Discard, r)
	if err != nil {
		return 0, nil, 0, err
	}
	return typ, nil, int64(len(data)) + rest, nil
}

// handleFrame decodes one frame and applies it. Failures are logged and the
// frame is dropped; the connection stays up.
func (m *Monitor) handleFrame(ctx context.Context, logger zerolog.Logger, typ websocket.MessageType, data []byte) {
	start := time.Now()
	_, span := m.tracer.Start(ctx, "monitor.frame", trace.WithAttributes(
		attribute.Int("frame.bytes", len(data)),
	))
	defer func() {
		span.End()
		m.frameLatency.Observe(time.Since(start).Seconds())
	}()

	if typ != websocket.MessageText {
		logger.Warn().Str("type", typ.String()).Int("bytes", len(data)).Msg("Ignoring non-text WebSocket frame")
		m.framesTotal.WithLabelValues(FrameIgnored).Inc()
		span.SetAttributes(attribute.String("frame.status", FrameIgnored))
		return
	}

	info, err := messages.Decode(m.cfg.Variant, data)
	if err != nil {
		status := FrameInvalid
		if errors.Is(err, messages.ErrMalformed) {
			status = FrameMalformed
			logger.Error().Err(err).Int("bytes", len(data)).Msg("Error parsing WebSocket message")
		} else {
			logger.Warn().Err(err).Str("variant", string(m.cfg.Variant)).Msg("Rejected WebSocket message")
		}
		m.framesTotal.WithLabelValues(status).Inc()
		span.RecordError(err)
		span.SetAttributes(attribute.String("frame.status", status))
		return
	}

	state := detection.FromInfo(info)
	status := FrameUnchanged
	if m.store.Apply(state) {
		status = FrameApplied
	}
	m.framesTotal.WithLabelValues(status).Inc()
	m.scoreGauge.Set(state.Score)

	span.SetAttributes(
		attribute.String("frame.status", status),
		attribute.Float64("detection.score", state.Score),
		attribute.Bool("detection.detected", state.Detected()),
	)

	logger.Debug().
		Float64("score", state.Score).
		Str("uav_type", state.UAVType).
		Bool("detected", state.Detected()).
		Str("status", status).
		Msg("Applied detection")
}

// sleep waits for d or until ctx is done. The timer never outlives the call.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
