package simulator

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/agile-defense/droneview/pkg/detection"
	"github.com/agile-defense/droneview/pkg/messages"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "defaults", modify: func(c *Config) {}},
		{name: "score variant", modify: func(c *Config) { c.Variant = messages.VariantScore }},
		{name: "interval too short", modify: func(c *Config) { c.Interval = time.Millisecond }, wantErr: true},
		{name: "interval too long", modify: func(c *Config) { c.Interval = time.Minute }, wantErr: true},
		{name: "unknown variant", modify: func(c *Config) { c.Variant = "bogus" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGeneratorBounds(t *testing.T) {
	g := NewGenerator(7)
	passes := 0

	for i := 0; i < 5000; i++ {
		info := g.Next()
		require.GreaterOrEqual(t, info.Score, 0.0)
		require.LessOrEqual(t, info.Score, 1.0)
		require.NotEmpty(t, info.UAVType)
		require.NotEmpty(t, info.Timestamp)

		if (detection.State{Score: info.Score}).Detected() {
			passes++
			assert.Contains(t, UAVTypes, info.UAVType, "detections carry a real class")
		}
	}

	assert.Greater(t, passes, 0, "long runs include at least one pass over the threshold")
}

func TestGeneratorDeterministic(t *testing.T) {
	a := NewGenerator(42)
	b := NewGenerator(42)

	for i := 0; i < 200; i++ {
		x, y := a.Next(), b.Next()
		require.Equal(t, x.Score, y.Score, "frame %d", i)
		require.Equal(t, x.UAVType, y.UAVType, "frame %d", i)
	}
}

func TestHandlerStreamsFrames(t *testing.T) {
	for _, variant := range []messages.Variant{messages.VariantScore, messages.VariantClassified} {
		t.Run(string(variant), func(t *testing.T) {
			cfg := Config{Interval: MinInterval, Variant: variant, Seed: 1}
			require.NoError(t, cfg.Validate())

			srv := httptest.NewServer(NewHandler(cfg, zerolog.Nop()))
			defer srv.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
			require.NoError(t, err)
			defer conn.Close(websocket.StatusNormalClosure, "")

			for i := 0; i < 3; i++ {
				typ, data, err := conn.Read(ctx)
				require.NoError(t, err)
				assert.Equal(t, websocket.MessageText, typ)

				info, err := messages.Decode(variant, data)
				require.NoError(t, err, "frame %s", data)
				assert.GreaterOrEqual(t, info.Score, 0.0)
				assert.LessOrEqual(t, info.Score, 1.0)
			}
		})
	}
}

func TestHandlerGivesEachClientTheFullTrace(t *testing.T) {
	cfg := Config{Interval: MinInterval, Variant: messages.VariantScore, Seed: 99}
	srv := httptest.NewServer(NewHandler(cfg, zerolog.Nop()))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	a, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer a.Close(websocket.StatusNormalClosure, "")
	b, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer b.Close(websocket.StatusNormalClosure, "")

	want := NewGenerator(cfg.Seed)
	for i := 0; i < 10; i++ {
		expected := want.Next().Score
		for _, conn := range []*websocket.Conn{a, b} {
			_, data, err := conn.Read(ctx)
			require.NoError(t, err)
			info, err := messages.Decode(cfg.Variant, data)
			require.NoError(t, err)
			assert.Equal(t, expected, info.Score, "frame %d", i)
		}
	}
}
