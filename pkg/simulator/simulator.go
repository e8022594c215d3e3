// Package simulator emits synthetic detection frames in the backend's wire
// format for local development of the view
package simulator

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/agile-defense/droneview/pkg/messages"
)

// Emission limits
const (
	MinInterval     = 50 * time.Millisecond
	MaxInterval     = 10 * time.Second
	DefaultInterval = 500 * time.Millisecond
)

// UAVTypes are the labels the generator classifies passes as
var UAVTypes = []string{"quadcopter", "hexacopter", "fixed_wing", "helicopter"}

// Config holds simulator configuration
type Config struct {
	Interval time.Duration
	Variant  messages.Variant
	Seed     int64
}

// DefaultConfig returns default simulator configuration
func DefaultConfig() Config {
	return Config{
		Interval: DefaultInterval,
		Variant:  messages.VariantClassified,
		Seed:     time.Now().UnixNano(),
	}
}

// Validate checks configuration limits
func (c Config) Validate() error {
	if c.Interval < MinInterval || c.Interval > MaxInterval {
		return fmt.Errorf("interval must be between %v and %v", MinInterval, MaxInterval)
	}
	if _, err := messages.ParseVariant(string(c.Variant)); err != nil {
		return err
	}
	return nil
}

// Generator produces a background noise score with occasional drone passes.
// A pass ramps the score up past the detection threshold and back down.
type Generator struct {
	mu       sync.Mutex
	rng      *rand.Rand
	noise    float64
	passLen  int // frames in the current pass, 0 when idle
	passStep int
	peak     float64
	uavType  string
}

// NewGenerator creates a generator with a fixed seed
func NewGenerator(seed int64) *Generator {
	return &Generator{
		rng:   rand.New(rand.NewSource(seed)),
		noise: 0.1,
	}
}

// Next returns the next synthetic detection
func (g *Generator) Next() messages.DetectionInfo {
	g.mu.Lock()
	defer g.mu.Unlock()

	// Noise floor drifts between 0 and 0.4
	g.noise += (g.rng.Float64() - 0.5) * 0.05
	g.noise = math.Max(0, math.Min(0.4, g.noise))

	if g.passLen == 0 && g.rng.Float64() < 0.02 {
		g.passLen = 10 + g.rng.Intn(30)
		g.passStep = 0
		g.peak = 0.8 + g.rng.Float64()*0.2
		g.uavType = UAVTypes[g.rng.Intn(len(UAVTypes))]
	}

	score := g.noise
	uavType := "none"
	if g.passLen > 0 {
		// Half-sine envelope over the pass
		env := math.Sin(math.Pi * float64(g.passStep+1) / float64(g.passLen+1))
		score = math.Max(score, g.peak*env)
		uavType = g.uavType

		g.passStep++
		if g.passStep >= g.passLen {
			g.passLen = 0
		}
	}

	return messages.DetectionInfo{
		Score:     math.Round(score*1000) / 1000,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		UAVType:   uavType,
	}
}

// Handler streams generated frames to each WebSocket client. Every
// connection gets its own generator seeded from Config.Seed, so each client
// sees the complete trace.
type Handler struct {
	cfg    Config
	logger zerolog.Logger
}

// NewHandler creates a new simulator Handler
func NewHandler(cfg Config, logger zerolog.Logger) *Handler {
	return &Handler{
		cfg:    cfg,
		logger: logger.With().Str("component", "simulator").Logger(),
	}
}

// ServeHTTP upgrades the connection and emits frames until the client leaves
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to accept WebSocket connection")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	clientID := uuid.New().String()
	logger := h.logger.With().Str("client_id", clientID).Logger()
	logger.Info().Str("remote_addr", r.RemoteAddr).Msg("Client connected")

	// Reads are only needed to observe the close handshake
	ctx := conn.CloseRead(r.Context())

	if err := h.stream(ctx, conn, NewGenerator(h.cfg.Seed)); err != nil && ctx.Err() == nil {
		logger.Warn().Err(err).Msg("Stream ended")
	}
	logger.Info().Msg("Client disconnected")
}

func (h *Handler) stream(ctx context.Context, conn *websocket.Conn, gen *Generator) error {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			info := gen.Next()
			data, err := messages.Encode(h.cfg.Variant, info, now.UnixMilli())
			if err != nil {
				return fmt.Errorf("failed to encode frame: %w", err)
			}

			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return fmt.Errorf("failed to write frame: %w", err)
			}

			h.logger.Debug().Float64("score", info.Score).Str("uav_type", info.UAVType).Msg("Emitted frame")
		}
	}
}
