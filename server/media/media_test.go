package media

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/san-kum/medassist/server/analysis"
	"github.com/san-kum/medassist/server/ml"
	"github.com/san-kum/medassist/server/models"
)

type fakeDetector struct {
	noFaceAt int
	failPose bool
}

func (f fakeDetector) DetectPose(_ context.Context, req *ml.FrameRequest) (*models.PoseFrame, error) {
	if f.failPose {
		return nil, errors.New("model offline")
	}
	return &models.PoseFrame{FrameIndex: req.FrameIndex, Landmarks: []models.Landmark{{ID: models.PoseLeftHeel}}}, nil
}

func (f fakeDetector) DetectFace(_ context.Context, req *ml.FrameRequest) (*models.FaceFrame, error) {
	if req.FrameIndex == f.noFaceAt {
		return &models.FaceFrame{FrameIndex: req.FrameIndex}, nil
	}
	return &models.FaceFrame{FrameIndex: req.FrameIndex, Landmarks: []models.Landmark{{ID: 1}}}, nil
}

func TestDetectFrameKeepsPositions(t *testing.T) {
	features := &models.VideoFeatures{}
	det := fakeDetector{noFaceAt: 5}
	for _, idx := range []int{0, 5, 10} {
		require.NoError(t, detectFrame(context.Background(), det, features, &ml.FrameRequest{FrameIndex: idx}))
	}
	require.Len(t, features.PoseFrames, 3)
	require.Len(t, features.FaceFrames, 3)
	require.Nil(t, features.FaceFrames[1])
	require.Equal(t, 10, features.FaceFrames[2].FrameIndex)
}

func TestDetectFrameWrapsErrors(t *testing.T) {
	err := detectFrame(context.Background(), fakeDetector{failPose: true}, &models.VideoFeatures{}, &ml.FrameRequest{FrameIndex: 15})
	require.ErrorContains(t, err, "frame 15")
}

func TestTimestamp(t *testing.T) {
	require.Equal(t, 0.5, timestamp(15, 30))
	require.Equal(t, 0.0, timestamp(15, 0))
}

type staticExtractor struct {
	features *models.VideoFeatures
	err      error
}

func (s staticExtractor) ExtractVideo(context.Context, string) (*models.VideoFeatures, error) {
	return s.features, s.err
}

func TestFallbackUsesRemoteWhenDecoderMissing(t *testing.T) {
	remote := &models.VideoFeatures{FrameCount: 3}
	f := &Fallback{
		Local:  staticExtractor{err: ErrDecoderUnavailable},
		Remote: staticExtractor{features: remote},
		Logger: zap.NewNop(),
	}
	got, err := f.ExtractVideo(context.Background(), "walk.mp4")
	require.NoError(t, err)
	require.Same(t, remote, got)
}

func TestFallbackKeepsLocalErrors(t *testing.T) {
	f := &Fallback{
		Local:  staticExtractor{err: errors.New("corrupt video")},
		Remote: staticExtractor{features: &models.VideoFeatures{}},
	}
	_, err := f.ExtractVideo(context.Background(), "walk.mp4")
	require.EqualError(t, err, "corrupt video")

	_, err = (&Fallback{}).ExtractVideo(context.Background(), "walk.mp4")
	require.ErrorIs(t, err, ErrDecoderUnavailable)
}

func TestStubDecoderIsUnavailable(t *testing.T) {
	if Available() {
		t.Skip("built with gocv")
	}
	d := NewDecoder(fakeDetector{}, analysis.NewFrameSampler(5), zap.NewNop())
	_, err := d.ExtractVideo(context.Background(), "walk.mp4")
	require.ErrorIs(t, err, ErrDecoderUnavailable)
}
