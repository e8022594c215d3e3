package detection

import (
	"bytes"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agile-defense/droneview/pkg/messages"
)

func TestDetectedThreshold(t *testing.T) {
	tests := []struct {
		score float64
		want  bool
	}{
		{score: 0, want: false},
		{score: 0.2, want: false},
		{score: 0.5, want: false},
		{score: 0.69, want: false},
		{score: 0.6999, want: false},
		{score: 0.7, want: true},
		{score: 0.70001, want: true},
		{score: 0.85, want: true},
		{score: 1.0, want: true},
		{score: -0.3, want: false},
		{score: 1.5, want: true},
	}

	for _, tt := range tests {
		s := State{Score: tt.score}
		assert.Equal(t, tt.want, s.Detected(), "score %v", tt.score)
	}
}

func TestPercent(t *testing.T) {
	tests := []struct {
		score float64
		want  int
	}{
		{score: 0.7, want: 70},
		{score: 0.85, want: 85},
		{score: 0.904, want: 90},
		{score: 0.996, want: 100},
		{score: 1.0, want: 100},
		{score: 1.5, want: 150},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, State{Score: tt.score}.Percent(), "score %v", tt.score)
	}
}

func TestFromInfo(t *testing.T) {
	s := FromInfo(messages.DetectionInfo{Score: 0.9, Timestamp: "t1", UAVType: "quadcopter"})
	assert.Equal(t, State{Score: 0.9, Timestamp: "t1", UAVType: "quadcopter"}, s)
}

func TestNewPanel(t *testing.T) {
	t.Run("below threshold", func(t *testing.T) {
		for score := 0.0; score < 0.7; score += 0.01 {
			p := NewPanel(State{Score: score, UAVType: "quadcopter"})
			require.False(t, p.Detected, "score %v", score)
			assert.Equal(t, HeadingClear, p.Heading)
			assert.Empty(t, p.Confidence, "no score shown when clear")
			assert.Empty(t, p.Class)
		}
	})

	t.Run("at or above threshold", func(t *testing.T) {
		for i := 70; i <= 100; i++ {
			score := float64(i) / 100
			p := NewPanel(State{Score: score})
			require.True(t, p.Detected, "score %v", score)
			assert.Equal(t, HeadingDetected, p.Heading)
			assert.Equal(t, "CONFIDENCE SCORE: "+strconv.Itoa(i)+"%", p.Confidence)
			assert.Empty(t, p.Class, "score-only states carry no class")
		}
	})

	t.Run("classified", func(t *testing.T) {
		p := NewPanel(State{Score: 0.9, UAVType: "quadcopter", Timestamp: "t1"})
		assert.True(t, p.Detected)
		assert.Equal(t, "DRONE DETECTED", p.Heading)
		assert.Equal(t, "CONFIDENCE SCORE: 90%", p.Confidence)
		assert.Equal(t, "CLASS: quadcopter", p.Class)
	})
}

func TestRenderPage(t *testing.T) {
	t.Run("detected", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, RenderPage(&buf, State{Score: 0.9, UAVType: "quadcopter"}, time.Second))

		html := buf.String()
		assert.Contains(t, html, `class="panel detected"`)
		assert.Contains(t, html, "<h1>DRONE DETECTED</h1>")
		assert.Contains(t, html, "CONFIDENCE SCORE: 90%")
		assert.Contains(t, html, "CLASS: quadcopter")
		assert.Contains(t, html, `content="1"`)
	})

	t.Run("clear", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, RenderPage(&buf, State{Score: 0.3}, 5*time.Second))

		html := buf.String()
		assert.Contains(t, html, `class="panel clear"`)
		assert.Contains(t, html, "<h1>NO DRONE DETECTED</h1>")
		assert.NotContains(t, html, "CONFIDENCE SCORE")
		assert.NotContains(t, html, "<h1>DRONE DETECTED</h1>")
		assert.Contains(t, html, `content="5"`)
	})

	t.Run("class label is escaped", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, RenderPage(&buf, State{Score: 0.95, UAVType: "<script>x</script>"}, time.Second))
		assert.NotContains(t, buf.String(), "<script>x</script>")
		assert.Contains(t, buf.String(), "&lt;script&gt;")
	})

	t.Run("rendering is repeatable", func(t *testing.T) {
		s := State{Score: 0.8, UAVType: "hexacopter"}
		var a, b bytes.Buffer
		require.NoError(t, RenderPage(&a, s, time.Second))
		require.NoError(t, RenderPage(&b, s, time.Second))
		assert.Equal(t, a.String(), b.String())
	})
}

func TestStoreLastMessageWins(t *testing.T) {
	store := NewStore()
	assert.Equal(t, State{}, store.Current(), "starts with no detection")
	assert.False(t, store.Current().Detected())

	require.True(t, store.Apply(State{Score: 0.85}))
	assert.True(t, store.Current().Detected())

	require.True(t, store.Apply(State{Score: 0.2}))
	assert.False(t, store.Current().Detected())
	assert.Equal(t, HeadingClear, NewPanel(store.Current()).Heading)
}

func TestStoreReplacesWholesale(t *testing.T) {
	store := NewStore()
	store.Apply(State{Score: 0.9, UAVType: "quadcopter", Timestamp: "t1"})
	store.Apply(State{Score: 0.8})

	assert.Equal(t, State{Score: 0.8}, store.Current(), "no fields carried over from the previous state")
}

func TestStoreIdempotentApply(t *testing.T) {
	store := NewStore()
	msg := State{Score: 0.9, UAVType: "quadcopter", Timestamp: "t1"}

	require.True(t, store.Apply(msg))
	first := store.Snapshot()

	assert.False(t, store.Apply(msg), "identical state is not a change")
	second := store.Snapshot()

	assert.Equal(t, first, second)
	assert.Equal(t, uint64(1), second.Revision)
}

func TestStoreFirstZeroScoreIsRecorded(t *testing.T) {
	store := NewStore()
	assert.True(t, store.Apply(State{}))
	snap := store.Snapshot()
	assert.Equal(t, uint64(1), snap.Revision)
	assert.False(t, snap.UpdatedAt.IsZero())
}

func TestStoreReset(t *testing.T) {
	fixed := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore()
	store.now = func() time.Time { return fixed }

	store.Reset()
	assert.Equal(t, uint64(0), store.Snapshot().Revision, "reset of the default state is a no-op")

	store.Apply(State{Score: 0.95})
	store.Reset()

	snap := store.Snapshot()
	assert.Equal(t, State{}, snap.State)
	assert.Equal(t, uint64(2), snap.Revision)
	assert.Equal(t, fixed, snap.UpdatedAt)
}

func TestStoreConcurrentAccess(t *testing.T) {
	store := NewStore()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				store.Apply(State{Score: float64(i*100+j) / 1000})
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = NewPanel(store.Current())
				_ = store.Snapshot()
			}
		}()
	}
	wg.Wait()

	assert.Greater(t, store.Snapshot().Revision, uint64(0))
}
