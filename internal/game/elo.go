package game

import "math"

// Score values for EloDelta.
const (
	ScoreWin  = 1.0
	ScoreDraw = 0.5
	ScoreLoss = 0.0
)

// EloDelta computes the rating change for a player rated rating against an
// opponent rated opponent, given the achieved score.
func EloDelta(rating, opponent int, score float64, kFactor int) int {
	expected := 1 / (1 + math.Pow(10, float64(opponent-rating)/400))
	return int(math.Round(float64(kFactor) * (score - expected)))
}

// ClampRating bounds a rating to the configured range.
func ClampRating(rating, min, max int) int {
	if rating < min {
		return min
	}
	if rating > max {
		return max
	}
	return rating
}
