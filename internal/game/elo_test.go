package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEloDelta(t *testing.T) {
	// Equal ratings.
	assert.Equal(t, 16, EloDelta(1500, 1500, ScoreWin, 32))
	assert.Equal(t, -16, EloDelta(1500, 1500, ScoreLoss, 32))
	assert.Equal(t, 0, EloDelta(1500, 1500, ScoreDraw, 32))

	// The underdog gains more from a win than the favorite.
	under := EloDelta(1500, 1650, ScoreWin, 32)
	favorite := EloDelta(1650, 1500, ScoreWin, 32)
	assert.Greater(t, under, favorite)
	assert.Equal(t, 23, under)
	assert.Equal(t, 9, favorite)

	// Zero-sum for equal ratings.
	assert.Equal(t, 0, EloDelta(1400, 1400, ScoreWin, 32)+EloDelta(1400, 1400, ScoreLoss, 32))
}

func TestClampRating(t *testing.T) {
	assert.Equal(t, 100, ClampRating(80, 100, 3000))
	assert.Equal(t, 3000, ClampRating(3050, 100, 3000))
	assert.Equal(t, 1500, ClampRating(1500, 100, 3000))
}

func TestRatingsStayInRange(t *testing.T) {
	// Repeated losses cannot push a rating under the floor.
	r := 110
	for i := 0; i < 10; i++ {
		r = ClampRating(r+EloDelta(r, 2000, ScoreLoss, 32), 100, 3000)
	}
	assert.Equal(t, 100, r)
}
