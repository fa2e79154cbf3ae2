package models

import "strings"

// Structured outputs of the perception models. Every field may be missing;
// a missing value is treated as unknown, never as an error.

type LabelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type BBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type Detection struct {
	Class       string  `json:"class"`
	Confidence  float64 `json:"confidence"`
	BoundingBox BBox    `json:"bounding_box"`
}

type VideoFeatures struct {
	FrameCount int          `json:"frame_count"`
	PoseFrames []*PoseFrame `json:"pose_frames"`
	FaceFrames []*FaceFrame `json:"face_frames"`
}

type SpeechPatterns struct {
	TremorDetected *bool    `json:"tremor_detected,omitempty"`
	SlurredSpeech  *bool    `json:"slurred_speech,omitempty"`
	SpeechRate     Category `json:"speech_rate,omitempty"`
}

type CoughPatterns struct {
	Frequency Category `json:"frequency,omitempty"`
	Type      Category `json:"type,omitempty"`
	Duration  Number   `json:"duration"`
}

type BreathingPatterns struct {
	Rate     Category `json:"rate,omitempty"`
	Sounds   Category `json:"sounds,omitempty"`
	Wheezing *bool    `json:"wheezing,omitempty"`
}

// SpectralSummary carries the per-clip means of the extractor's features.
type SpectralSummary struct {
	MFCCMean          []float64 `json:"mfcc_mean,omitempty"`
	SpectralCentroid  Number    `json:"spectral_centroid"`
	SpectralBandwidth Number    `json:"spectral_bandwidth"`
	ZeroCrossingRate  Number    `json:"zero_crossing_rate"`
}

type AudioClip struct {
	SampleRate int               `json:"sample_rate"`
	Duration   float64           `json:"duration"`
	Transcript *string           `json:"transcript,omitempty"`
	Speech     SpeechPatterns    `json:"speech"`
	Cough      CoughPatterns     `json:"cough"`
	Breathing  BreathingPatterns `json:"breathing"`
	Spectral   SpectralSummary   `json:"spectral"`
}

type AudioFeatures struct {
	Clips []AudioClip `json:"clips"`
}

type ImageFeatures struct {
	Similarities []LabelScore `json:"similarities"`
	Detections   []Detection  `json:"detections"`
}

type TextFeatures struct {
	Text            string       `json:"text"`
	Classifications []LabelScore `json:"classifications,omitempty"`
}

// Empty reports whether t carries neither text nor classifier labels. A nil
// t is empty.
func (t *TextFeatures) Empty() bool {
	return t == nil || (strings.TrimSpace(t.Text) == "" && len(t.Classifications) == 0)
}

// FeatureSet is everything the core needs for one request. Nil members are
// modalities that were not supplied.
type FeatureSet struct {
	Text  *TextFeatures  `json:"text,omitempty"`
	Image *ImageFeatures `json:"image,omitempty"`
	Audio *AudioFeatures `json:"audio,omitempty"`
	Video *VideoFeatures `json:"video,omitempty"`
}

func (f FeatureSet) Empty() bool {
	return f.Text.Empty() && f.Image == nil && f.Audio == nil && f.Video == nil
}
