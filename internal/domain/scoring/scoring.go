// Package scoring awards points for a rating guess against a canonical rating.
package scoring

import "math"

// Point scale. Each half point of distance costs one point.
const (
	MaxPoints   = 10
	MinPoints   = 0
	stepsPerOne = 2
)

// zeroDistance is the smallest distance that earns nothing.
const zeroDistance = float64(MaxPoints) / stepsPerOne

// Score returns max(0, 10 - floor(|canonical-submitted| * 2)).
// It is symmetric in its arguments, does not validate the rating range and
// always returns a value in [MinPoints, MaxPoints], NaN and infinities included.
func Score(canonical, submitted float64) int {
	d := math.Abs(canonical - submitted)
	if math.IsNaN(d) || d >= zeroDistance {
		return MinPoints
	}
	p := MaxPoints - int(math.Floor(d*stepsPerOne))
	if p < MinPoints {
		return MinPoints
	}
	if p > MaxPoints {
		return MaxPoints
	}
	return p
}
