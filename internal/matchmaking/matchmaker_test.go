package matchmaking

import (
	"testing"
	"time"

	"github.com/hailam/chessnet/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Matchmaking {
	return config.Matchmaking{
		DefaultRatingRange:             100,
		MaxRatingRange:                 500,
		RatingExpansionIntervalSeconds: 10,
		RatingExpansionAmount:          50,
	}
}

func req(id string, rating int, tc string, queuedAt time.Time) Request {
	return Request{
		PlayerID:    id,
		Username:    id,
		Rating:      rating,
		TimeControl: tc,
		InitialMs:   300_000,
		InitialBand: 100,
		QueuedAt:    queuedAt,
	}
}

func TestBandExpansion(t *testing.T) {
	m := New(testConfig(), nil)
	t0 := time.Now()

	// 1500 vs 1650: 150 apart, initial band 100.
	m.Enqueue(req("a", 1500, "blitz", t0))
	m.Enqueue(req("b", 1650, "blitz", t0))

	assert.Empty(t, m.sweep(t0), "150 > 100: no pair")
	assert.Empty(t, m.sweep(t0.Add(9*time.Second)), "bands not yet expanded")

	// One interval later both bands reach 150 and the pair is emitted.
	pairs := m.sweep(t0.Add(10 * time.Second))
	require.Len(t, pairs, 1)
	got := map[string]bool{pairs[0].White.PlayerID: true, pairs[0].Black.PlayerID: true}
	assert.True(t, got["a"] && got["b"])
	assert.Equal(t, 0, m.Len())
}

func TestBandIsCapped(t *testing.T) {
	m := New(testConfig(), nil)
	t0 := time.Now()

	m.Enqueue(req("a", 1000, "blitz", t0))
	m.Enqueue(req("b", 1600, "blitz", t0))

	// Even far in the future the cap of 500 keeps a 600-point gap apart.
	assert.Empty(t, m.sweep(t0.Add(time.Hour)))
}

func TestClosestRatingWins(t *testing.T) {
	m := New(testConfig(), nil)
	t0 := time.Now()

	m.Enqueue(req("old", 1500, "blitz", t0))
	m.Enqueue(req("far", 1590, "blitz", t0.Add(time.Second)))
	m.Enqueue(req("near", 1510, "blitz", t0.Add(2*time.Second)))

	pairs := m.sweep(t0.Add(3 * time.Second))
	require.Len(t, pairs, 1)
	got := map[string]bool{pairs[0].White.PlayerID: true, pairs[0].Black.PlayerID: true}
	assert.True(t, got["old"] && got["near"], "oldest request pairs with its closest rating")
}

func TestTimeControlsNeverMix(t *testing.T) {
	m := New(testConfig(), nil)
	t0 := time.Now()

	m.Enqueue(req("a", 1500, "blitz", t0))
	m.Enqueue(req("b", 1500, "rapid", t0))

	assert.Empty(t, m.sweep(t0))
	assert.Equal(t, 2, m.Len())
}

func TestNoPlayerInTwoPairings(t *testing.T) {
	m := New(testConfig(), nil)
	t0 := time.Now()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		m.Enqueue(req(id, 1500, "blitz", t0))
		t0 = t0.Add(time.Millisecond)
	}

	pairs := m.sweep(t0)
	require.Len(t, pairs, 2, "five players make two pairs and one leftover")

	seen := map[string]bool{}
	for _, p := range pairs {
		assert.False(t, seen[p.White.PlayerID])
		assert.False(t, seen[p.Black.PlayerID])
		seen[p.White.PlayerID] = true
		seen[p.Black.PlayerID] = true
	}
	assert.Equal(t, 1, m.Len())
}

func TestEnqueueReplacesAndCancel(t *testing.T) {
	m := New(testConfig(), nil)
	t0 := time.Now()

	m.Enqueue(req("a", 1500, "blitz", t0))
	m.Enqueue(req("a", 1500, "rapid", t0.Add(time.Second)))
	assert.Equal(t, 1, m.Len())

	// The replaced request is gone; a blitz peer finds no partner.
	m.Enqueue(req("b", 1500, "blitz", t0))
	assert.Empty(t, m.sweep(t0.Add(2*time.Second)))

	assert.True(t, m.Cancel("a"))
	assert.False(t, m.Cancel("a"))
	assert.Equal(t, 1, m.Len())
}

func TestPositionOf(t *testing.T) {
	m := New(testConfig(), nil)
	t0 := time.Now()

	m.Enqueue(req("first", 1500, "blitz", t0))
	m.Enqueue(req("second", 1500, "rapid", t0.Add(time.Second)))
	m.Enqueue(req("third", 1500, "bullet", t0.Add(2*time.Second)))

	assert.Equal(t, 1, m.PositionOf("first"))
	assert.Equal(t, 2, m.PositionOf("second"))
	assert.Equal(t, 3, m.PositionOf("third"))
	assert.Equal(t, 0, m.PositionOf("missing"))
}

func TestCancelledRequestIsNeverPaired(t *testing.T) {
	m := New(testConfig(), nil)
	t0 := time.Now()

	m.Enqueue(req("a", 1500, "blitz", t0))
	m.Enqueue(req("b", 1500, "blitz", t0))
	m.Cancel("b")

	assert.Empty(t, m.sweep(t0.Add(time.Second)))
	assert.Equal(t, 1, m.Len())
}
