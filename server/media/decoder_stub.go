//go:build !gocv
// +build !gocv

package media

import (
	"context"

	"go.uber.org/zap"

	"github.com/san-kum/medassist/server/analysis"
	"github.com/san-kum/medassist/server/models"
)

type Decoder struct {
	detector LandmarkDetector
	sampler  analysis.FrameSampler
	logger   *zap.Logger
}

func NewDecoder(detector LandmarkDetector, sampler analysis.FrameSampler, logger *zap.Logger) *Decoder {
	return &Decoder{detector: detector, sampler: sampler, logger: logger}
}

func Available() bool { return false }

// ExtractVideo reports ErrDecoderUnavailable when built without the gocv tag.
func (d *Decoder) ExtractVideo(ctx context.Context, path string) (*models.VideoFeatures, error) {
	_ = ctx
	_ = path
	return nil, ErrDecoderUnavailable
}
