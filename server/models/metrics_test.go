package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestNumberJSONUsesUnknownSentinel(t *testing.T) {
	out, err := json.Marshal(UnknownGait())
	require.NoError(t, err)
	require.Contains(t, string(out), `"stride_length":"unknown"`)
	require.Contains(t, string(out), `"posture":"unknown"`)

	var n Number
	require.NoError(t, json.Unmarshal([]byte(`0.25`), &n))
	require.Equal(t, Known(0.25), n)

	require.NoError(t, json.Unmarshal([]byte(`"unknown"`), &n))
	require.False(t, n.Known)

	require.Error(t, json.Unmarshal([]byte(`"tall"`), &n))
}

func TestNumberZeroIsNotUnknown(t *testing.T) {
	out, err := json.Marshal(Known(0))
	require.NoError(t, err)
	require.Equal(t, "0", string(out))
}

func TestNumberMsgpack(t *testing.T) {
	in := GaitMetrics{StrideLength: Known(0.3), Symmetry: CategorySymmetric, Posture: CategoryUnknown}
	raw, err := msgpack.Marshal(in)
	require.NoError(t, err)

	var out GaitMetrics
	require.NoError(t, msgpack.Unmarshal(raw, &out))
	require.Equal(t, in, out)
}

func TestErrorTaxonomy(t *testing.T) {
	lm := &InvalidLandmarkError{ID: PoseLeftHeel, FrameIndex: 4}
	geo := &GeometryError{Analyzer: SourceGait, Err: lm}
	require.ErrorIs(t, geo, ErrDataQuality)

	var target *InvalidLandmarkError
	require.True(t, errors.As(geo, &target))
	require.Equal(t, PoseLeftHeel, target.ID)

	metric := fmt.Errorf("aggregate: %w", &InvalidMetricError{Field: "stride_length", Value: -1.0, Reason: "below 0"})
	require.ErrorIs(t, metric, ErrInvalidMetric)
	require.Equal(t, CodeInvalidMetric, ErrorCode(metric))
	require.Equal(t, CodeEmptyInput, ErrorCode(ErrEmptyInput))
	require.Equal(t, CodeDataQuality, ErrorCode(geo))
}

func TestModalityPriority(t *testing.T) {
	require.Less(t, ModalityVision.Priority(), ModalityAudio.Priority())
	require.Less(t, ModalityAudio.Priority(), ModalityVideo.Priority())
	require.Less(t, ModalityVideo.Priority(), ModalityText.Priority())
	require.Equal(t, ModalityVideo, SourceGait.Modality())
	require.Equal(t, ModalityVideo, SourceFacial.Modality())
}

func TestLandmarkLookup(t *testing.T) {
	var nilFrame *PoseFrame
	require.True(t, nilFrame.Empty())

	frame := &PoseFrame{Landmarks: []Landmark{{ID: PoseLeftHip, X: 0.1, Y: 0.2}}}
	lm, ok := frame.Landmark(PoseLeftHip)
	require.True(t, ok)
	require.Equal(t, 0.2, lm.Y)

	_, ok = frame.Landmark(PoseRightHip)
	require.False(t, ok)
}
