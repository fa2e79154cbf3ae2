package analysis

import "github.com/san-kum/medassist/server/models"

const DefaultFrameStride = 5

// FrameSampler keeps every stride-th frame of a video, starting at frame 0.
type FrameSampler struct {
	stride int
}

func NewFrameSampler(stride int) FrameSampler {
	if stride < 1 {
		stride = 1
	}
	return FrameSampler{stride: stride}
}

func (s FrameSampler) Stride() int {
	if s.stride < 1 {
		return 1
	}
	return s.stride
}

func (s FrameSampler) Keep(frameIndex int) bool {
	return frameIndex >= 0 && frameIndex%s.Stride() == 0
}

// Select filters a decoded frame sequence, preserving order. A frame is
// judged by its FrameIndex; a nil entry stands for "no detection" at its
// position in the sequence.
func (s FrameSampler) Select(frames []*models.LandmarkFrame) []*models.LandmarkFrame {
	out := make([]*models.LandmarkFrame, 0, len(frames)/s.Stride()+1)
	for i, f := range frames {
		idx := i
		if f != nil {
			idx = f.FrameIndex
		}
		if s.Keep(idx) {
			out = append(out, f)
		}
	}
	return out
}

func (s FrameSampler) SelectPose(frames []*models.PoseFrame) []*models.PoseFrame {
	return s.Select(frames)
}

func (s FrameSampler) SelectFace(frames []*models.FaceFrame) []*models.FaceFrame {
	return s.Select(frames)
}
