package analysis

// Default thresholds, in normalized image coordinates unless noted.
const (
	DefaultPostureAsymmetry    = 0.1
	DefaultStrideSymmetry      = 0.1
	DefaultShuffleStride       = 0.05
	DefaultShoulderHemiparesis = 0.15
	DefaultHipAsymmetry        = 0.15
	DefaultEyeSymmetry         = 0.1
	DefaultTremorDisplacement  = 0.01
	DefaultVisionMinScore      = 0.2
	DefaultVisionTopK          = 3
	DefaultTextClassifierMin   = 0.5
	DefaultSlowSpeechWPM       = 90 // words per minute
	DefaultFastSpeechWPM       = 180
)

// Thresholds are the cut-offs every rule compares against. Comparisons are
// strict in the direction each rule states.
type Thresholds struct {
	PostureAsymmetry    float64 `yaml:"posture_asymmetry" json:"posture_asymmetry"`
	StrideSymmetry      float64 `yaml:"stride_symmetry" json:"stride_symmetry"`
	ShuffleStride       float64 `yaml:"shuffle_stride" json:"shuffle_stride"`
	ShoulderHemiparesis float64 `yaml:"shoulder_hemiparesis" json:"shoulder_hemiparesis"`
	HipAsymmetry        float64 `yaml:"hip_asymmetry" json:"hip_asymmetry"`
	EyeSymmetry         float64 `yaml:"eye_symmetry" json:"eye_symmetry"`
	TremorDisplacement  float64 `yaml:"tremor_displacement" json:"tremor_displacement"`
	VisionMinScore      float64 `yaml:"vision_min_score" json:"vision_min_score"`
	VisionTopK          int     `yaml:"vision_top_k" json:"vision_top_k"`
	TextClassifierMin   float64 `yaml:"text_classifier_min" json:"text_classifier_min"`
	SlowSpeechWPM       float64 `yaml:"slow_speech_wpm" json:"slow_speech_wpm"`
	FastSpeechWPM       float64 `yaml:"fast_speech_wpm" json:"fast_speech_wpm"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		PostureAsymmetry:    DefaultPostureAsymmetry,
		StrideSymmetry:      DefaultStrideSymmetry,
		ShuffleStride:       DefaultShuffleStride,
		ShoulderHemiparesis: DefaultShoulderHemiparesis,
		HipAsymmetry:        DefaultHipAsymmetry,
		EyeSymmetry:         DefaultEyeSymmetry,
		TremorDisplacement:  DefaultTremorDisplacement,
		VisionMinScore:      DefaultVisionMinScore,
		VisionTopK:          DefaultVisionTopK,
		TextClassifierMin:   DefaultTextClassifierMin,
		SlowSpeechWPM:       DefaultSlowSpeechWPM,
		FastSpeechWPM:       DefaultFastSpeechWPM,
	}
}

// Validate reports the first threshold that cannot be compared against.
func (t Thresholds) Validate() error {
	named := []struct {
		name  string
		value float64
	}{
		{"posture_asymmetry", t.PostureAsymmetry},
		{"stride_symmetry", t.StrideSymmetry},
		{"shuffle_stride", t.ShuffleStride},
		{"shoulder_hemiparesis", t.ShoulderHemiparesis},
		{"hip_asymmetry", t.HipAsymmetry},
		{"eye_symmetry", t.EyeSymmetry},
		{"tremor_displacement", t.TremorDisplacement},
	}
	for _, n := range named {
		if n.value < 0 {
			return &ThresholdError{Name: n.name, Reason: "must not be negative"}
		}
	}
	if t.VisionMinScore < 0 || t.VisionMinScore > 1 {
		return &ThresholdError{Name: "vision_min_score", Reason: "must be within [0, 1]"}
	}
	if t.TextClassifierMin < 0 || t.TextClassifierMin > 1 {
		return &ThresholdError{Name: "text_classifier_min", Reason: "must be within [0, 1]"}
	}
	if t.VisionTopK < 1 {
		return &ThresholdError{Name: "vision_top_k", Reason: "must be at least 1"}
	}
	if t.SlowSpeechWPM <= 0 || t.FastSpeechWPM <= t.SlowSpeechWPM {
		return &ThresholdError{Name: "fast_speech_wpm", Reason: "must exceed slow_speech_wpm, which must be positive"}
	}
	return nil
}

type ThresholdError struct {
	Name   string
	Reason string
}

func (e *ThresholdError) Error() string {
	return "threshold " + e.Name + " " + e.Reason
}
