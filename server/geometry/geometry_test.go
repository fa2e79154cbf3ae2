package geometry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/san-kum/medassist/server/models"
)

func TestDistanceIsSymmetric(t *testing.T) {
	points := []models.Landmark{
		{ID: 1, X: 0, Y: 0},
		{ID: 2, X: 0.3, Y: 0.4},
		{ID: 3, X: -1.5, Y: 2.25},
		{ID: 4, X: 0.999, Y: 0.001},
	}
	for _, a := range points {
		require.Zero(t, Distance(a, a))
		for _, b := range points {
			require.Equal(t, Distance(a, b), Distance(b, a))
		}
	}
	require.InDelta(t, 0.5, Distance(points[0], points[1]), 1e-12)
}

func TestDistanceIgnoresDepth(t *testing.T) {
	z1, z2 := 0.0, 5.0
	a := models.Landmark{X: 0, Y: 0, Z: &z1}
	b := models.Landmark{X: 0, Y: 0.1, Z: &z2}
	require.InDelta(t, 0.1, Distance(a, b), 1e-12)
}

func TestAlignment(t *testing.T) {
	a := models.Landmark{X: 0.2, Y: 0.5}
	b := models.Landmark{X: 0.7, Y: 0.35}
	require.InDelta(t, 0.15, VerticalAlignment(a, b), 1e-12)
	require.InDelta(t, 0.15, VerticalAlignment(b, a), 1e-12)
	require.InDelta(t, 0.5, HorizontalSpan(a, b), 1e-12)
}

func TestRequireReportsFirstMissingLandmark(t *testing.T) {
	frame := &models.PoseFrame{
		FrameIndex: 12,
		Landmarks:  []models.Landmark{{ID: models.PoseLeftHeel, X: 0.1}},
	}

	got, err := Require(frame, models.PoseLeftHeel)
	require.NoError(t, err)
	require.Len(t, got, 1)

	_, err = Require(frame, models.PoseLeftHeel, models.PoseRightHeel, models.PoseLeftHip)
	require.ErrorIs(t, err, models.ErrDataQuality)
	var missing *models.InvalidLandmarkError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, models.PoseRightHeel, missing.ID)
	require.Equal(t, 12, missing.FrameIndex)
}

func TestMeanDisplacement(t *testing.T) {
	prev := &models.FaceFrame{Landmarks: []models.Landmark{
		{ID: 1, X: 0, Y: 0},
		{ID: 2, X: 1, Y: 1},
	}}
	curr := &models.FaceFrame{Landmarks: []models.Landmark{
		{ID: 1, X: 0.03, Y: 0.04},
		{ID: 2, X: 1, Y: 1.1},
		{ID: 9, X: 5, Y: 5},
	}}

	d, ok := MeanDisplacement(prev, curr)
	require.True(t, ok)
	require.InDelta(t, 0.075, d, 1e-12)

	_, ok = MeanDisplacement(nil, curr)
	require.False(t, ok)
}
