// Package media turns video files into landmark frames.
package media

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/san-kum/medassist/server/ml"
	"github.com/san-kum/medassist/server/models"
	"github.com/san-kum/medassist/server/orchestrator"
)

var ErrDecoderUnavailable = errors.New("local video decoding is not available in this build")

// LandmarkDetector runs pose and face detection on one encoded frame.
type LandmarkDetector interface {
	DetectPose(ctx context.Context, req *ml.FrameRequest) (*models.PoseFrame, error)
	DetectFace(ctx context.Context, req *ml.FrameRequest) (*models.FaceFrame, error)
}

// detectFrame appends the pose and face landmarks of one sampled frame. An
// empty detection is kept as a nil entry so frame positions survive.
func detectFrame(ctx context.Context, detector LandmarkDetector, features *models.VideoFeatures, req *ml.FrameRequest) error {
	pose, err := detector.DetectPose(ctx, req)
	if err != nil {
		return fmt.Errorf("pose detection failed on frame %d: %w", req.FrameIndex, err)
	}
	face, err := detector.DetectFace(ctx, req)
	if err != nil {
		return fmt.Errorf("face detection failed on frame %d: %w", req.FrameIndex, err)
	}

	if pose.Empty() {
		pose = nil
	}
	if face.Empty() {
		face = nil
	}
	features.PoseFrames = append(features.PoseFrames, pose)
	features.FaceFrames = append(features.FaceFrames, face)
	return nil
}

func timestamp(frameIndex int, fps float64) float64 {
	if fps <= 0 {
		return 0
	}
	return float64(frameIndex) / fps
}

// Fallback extracts with Local and switches to Remote when the build has
// no local decoder.
type Fallback struct {
	Local  orchestrator.VideoExtractor
	Remote orchestrator.VideoExtractor
	Logger *zap.Logger
}

func (f *Fallback) ExtractVideo(ctx context.Context, path string) (*models.VideoFeatures, error) {
	if f.Local != nil {
		features, err := f.Local.ExtractVideo(ctx, path)
		if !errors.Is(err, ErrDecoderUnavailable) {
			return features, err
		}
		if f.Logger != nil {
			f.Logger.Debug("Local decoder unavailable, uploading video")
		}
	}
	if f.Remote == nil {
		return nil, ErrDecoderUnavailable
	}
	return f.Remote.ExtractVideo(ctx, path)
}
