// Package geometry holds the landmark measurements the analyzers are built on.
// All functions work on the image plane; z is ignored.
package geometry

import (
	"math"

	"github.com/san-kum/medassist/server/models"
)

func Distance(a, b models.Landmark) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// VerticalAlignment is the height difference of a landmark pair, used as a
// symmetry proxy for shoulders, hips and eyes.
func VerticalAlignment(a, b models.Landmark) float64 {
	return math.Abs(a.Y - b.Y)
}

func HorizontalSpan(a, b models.Landmark) float64 {
	return math.Abs(a.X - b.X)
}

// Require returns the landmarks for ids in order, or an InvalidLandmarkError
// for the first id the frame does not carry.
func Require(frame *models.LandmarkFrame, ids ...models.LandmarkID) ([]models.Landmark, error) {
	out := make([]models.Landmark, len(ids))
	for i, id := range ids {
		lm, ok := frame.Landmark(id)
		if !ok {
			idx := 0
			if frame != nil {
				idx = frame.FrameIndex
			}
			return nil, &models.InvalidLandmarkError{ID: id, FrameIndex: idx}
		}
		out[i] = lm
	}
	return out, nil
}

// MeanDisplacement averages how far each landmark moved between two frames.
// Landmarks missing from either frame are skipped; ok is false when no
// landmark could be compared.
func MeanDisplacement(prev, curr *models.LandmarkFrame) (float64, bool) {
	if prev.Empty() || curr.Empty() {
		return 0, false
	}
	index := make(map[models.LandmarkID]models.Landmark, len(prev.Landmarks))
	for _, lm := range prev.Landmarks {
		index[lm.ID] = lm
	}

	var total float64
	var n int
	for _, lm := range curr.Landmarks {
		before, ok := index[lm.ID]
		if !ok {
			continue
		}
		total += Distance(before, lm)
		n++
	}
	if n == 0 {
		return 0, false
	}
	return total / float64(n), true
}
