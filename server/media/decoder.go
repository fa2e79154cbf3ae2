//go:build gocv
// +build gocv

package media

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/san-kum/medassist/server/analysis"
	"github.com/san-kum/medassist/server/ml"
	"github.com/san-kum/medassist/server/models"
)

const defaultJPEGQuality = 90

// Decoder walks a video with OpenCV and sends the sampled frames to the
// landmark detector.
type Decoder struct {
	detector LandmarkDetector
	sampler  analysis.FrameSampler
	quality  int
	logger   *zap.Logger
}

func NewDecoder(detector LandmarkDetector, sampler analysis.FrameSampler, logger *zap.Logger) *Decoder {
	return &Decoder{detector: detector, sampler: sampler, quality: defaultJPEGQuality, logger: logger}
}

func Available() bool { return true }

func (d *Decoder) ExtractVideo(ctx context.Context, path string) (*models.VideoFeatures, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video: %w", err)
	}
	defer capture.Close()

	fps := capture.Get(gocv.VideoCaptureFPS)
	img := gocv.NewMat()
	defer img.Close()

	features := &models.VideoFeatures{}
	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !capture.Read(&img) || img.Empty() {
			break
		}
		features.FrameCount++
		if !d.sampler.Keep(index) {
			continue
		}

		buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{gocv.IMWriteJpegQuality, d.quality})
		if err != nil {
			return nil, fmt.Errorf("failed to encode frame %d: %w", index, err)
		}
		data := bytes.Clone(buf.GetBytes())
		buf.Close()

		req := &ml.FrameRequest{ImageData: data, FrameIndex: index, Timestamp: timestamp(index, fps)}
		if err := detectFrame(ctx, d.detector, features, req); err != nil {
			return nil, err
		}
	}

	if features.FrameCount == 0 {
		return nil, fmt.Errorf("no frames could be read from %s", path)
	}
	d.logger.Debug("Decoded video",
		zap.Int("frames", features.FrameCount),
		zap.Int("sampled", len(features.PoseFrames)),
		zap.Float64("fps", fps))
	return features, nil
}
