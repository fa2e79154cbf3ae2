package analysis

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/san-kum/medassist/server/aggregate"
	"github.com/san-kum/medassist/server/models"
)

const (
	OpEqual    = "eq"
	OpNotEqual = "ne"
)

// Flag groups and names as the audio extractor reports them.
const (
	FlagSpeechTremor     = "speech.tremor_detected"
	FlagSpeechSlurred    = "speech.slurred_speech"
	FlagSpeechRate       = "speech.speech_rate"
	FlagCoughFrequency   = "cough.frequency"
	FlagCoughType        = "cough.type"
	FlagBreathingRate    = "breathing.rate"
	FlagBreathingSounds  = "breathing.sounds"
	FlagBreathingWheezes = "breathing.wheezing"
)

var audioFlags = []string{
	FlagSpeechTremor, FlagSpeechSlurred, FlagSpeechRate,
	FlagCoughFrequency, FlagCoughType,
	FlagBreathingRate, FlagBreathingSounds, FlagBreathingWheezes,
}

const (
	RateSlow   models.Category = "slow"
	RateNormal models.Category = "normal"
	RateFast   models.Category = "fast"
)

// FlagRule fires when an extractor flag compares to Trigger under Op. An
// unknown flag never fires, whatever the operator.
type FlagRule struct {
	Group    string  `yaml:"group" json:"group"`
	Flag     string  `yaml:"flag" json:"flag"`
	Op       string  `yaml:"op,omitempty" json:"op,omitempty"`
	Trigger  string  `yaml:"trigger" json:"trigger"`
	Label    string  `yaml:"label" json:"label"`
	Strength float64 `yaml:"strength" json:"strength"`
}

func (r FlagRule) Key() string { return r.Group + "." + r.Flag }

func (r FlagRule) validate() error {
	known := false
	for _, f := range audioFlags {
		if f == r.Key() {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown flag %q", r.Key())
	}
	if r.Op != "" && r.Op != OpEqual && r.Op != OpNotEqual {
		return fmt.Errorf("unknown operator %q", r.Op)
	}
	if strings.TrimSpace(r.Label) == "" {
		return fmt.Errorf("rule on %s has no label", r.Key())
	}
	if r.Strength < 0 || r.Strength >= 1 {
		return fmt.Errorf("strength %g outside [0, 1)", r.Strength)
	}
	return nil
}

func (r FlagRule) matches(flags map[string]models.Category) bool {
	v, ok := flags[r.Key()]
	if !ok || v.IsUnknown() {
		return false
	}
	if r.Op == OpNotEqual {
		return string(v) != r.Trigger
	}
	return string(v) == r.Trigger
}

func DefaultAudioRules() []FlagRule {
	return []FlagRule{
		{Group: "speech", Flag: "tremor_detected", Op: OpEqual, Trigger: "true", Label: LabelVoiceTremor, Strength: 0.5},
		{Group: "speech", Flag: "slurred_speech", Op: OpEqual, Trigger: "true", Label: LabelSlurredSpeech, Strength: 0.6},
		{Group: "speech", Flag: "speech_rate", Op: OpEqual, Trigger: string(RateSlow), Label: LabelMotorSpeech, Strength: 0.3},
		{Group: "cough", Flag: "frequency", Op: OpNotEqual, Trigger: "normal", Label: LabelAbnormalCough, Strength: 0.4},
		{Group: "breathing", Flag: "wheezing", Op: OpEqual, Trigger: "true", Label: LabelRespiratory, Strength: 0.5},
	}
}

type AudioResult struct {
	Flags      map[string]models.Category
	Numeric    map[string]models.Number
	Hypotheses []models.Hypothesis
}

func (r AudioResult) Record() aggregate.Record {
	return aggregate.Record{Numeric: r.Numeric, Categorical: r.Flags, Hypotheses: r.Hypotheses}
}

type AudioAnalyzer struct {
	th    Thresholds
	rules []FlagRule
}

func NewAudioAnalyzer(th Thresholds, rules []FlagRule) (*AudioAnalyzer, error) {
	for i, r := range rules {
		if err := r.validate(); err != nil {
			return nil, fmt.Errorf("audio rule %d: %w", i, err)
		}
	}
	return &AudioAnalyzer{th: th, rules: rules}, nil
}

// Analyze reads the pattern groups of one clip and applies the flag rules.
func (a *AudioAnalyzer) Analyze(clip models.AudioClip) (AudioResult, error) {
	if clip.Duration < 0 {
		return AudioResult{}, &models.InvalidMetricError{Field: "duration", Value: clip.Duration, Reason: "negative"}
	}

	wpm := wordsPerMinute(clip)
	rate := clip.Speech.SpeechRate
	if rate.IsUnknown() && wpm.Known {
		switch {
		case wpm.Value < a.th.SlowSpeechWPM:
			rate = RateSlow
		case wpm.Value > a.th.FastSpeechWPM:
			rate = RateFast
		default:
			rate = RateNormal
		}
	}

	flags := map[string]models.Category{
		FlagSpeechTremor:     boolFlag(clip.Speech.TremorDetected),
		FlagSpeechSlurred:    boolFlag(clip.Speech.SlurredSpeech),
		FlagSpeechRate:       normalizeFlag(rate),
		FlagCoughFrequency:   normalizeFlag(clip.Cough.Frequency),
		FlagCoughType:        normalizeFlag(clip.Cough.Type),
		FlagBreathingRate:    normalizeFlag(clip.Breathing.Rate),
		FlagBreathingSounds:  normalizeFlag(clip.Breathing.Sounds),
		FlagBreathingWheezes: boolFlag(clip.Breathing.Wheezing),
	}

	duration := models.UnknownNumber()
	if clip.Duration > 0 {
		duration = models.Known(clip.Duration)
	}
	numeric := map[string]models.Number{
		"duration":           duration,
		"words_per_minute":   wpm,
		"cough_duration":     clip.Cough.Duration,
		"spectral_centroid":  clip.Spectral.SpectralCentroid,
		"spectral_bandwidth": clip.Spectral.SpectralBandwidth,
		"zero_crossing_rate": clip.Spectral.ZeroCrossingRate,
	}

	var hyps []models.Hypothesis
	for _, r := range a.rules {
		if r.matches(flags) {
			hyps = append(hyps, models.Hypothesis{Label: r.Label, Source: models.SourceAudio, Strength: r.Strength})
		}
	}
	return AudioResult{Flags: flags, Numeric: numeric, Hypotheses: hyps}, nil
}

func (a *AudioAnalyzer) Schema() aggregate.Schema {
	categorical := make(map[string][]models.Category, len(audioFlags))
	for _, f := range audioFlags {
		categorical[f] = nil
	}
	labels := make([]string, 0, len(a.rules))
	for _, r := range a.rules {
		labels = append(labels, r.Label)
	}
	return aggregate.Schema{
		Source: models.SourceAudio,
		Numeric: map[string]aggregate.Domain{
			"duration":           aggregate.NonNegative,
			"words_per_minute":   aggregate.NonNegative,
			"cough_duration":     aggregate.NonNegative,
			"spectral_centroid":  aggregate.NonNegative,
			"spectral_bandwidth": aggregate.NonNegative,
			"zero_crossing_rate": aggregate.UnitRange,
		},
		Categorical: categorical,
		Vocabulary:  uniqueSorted(labels),
	}
}

// wordsPerMinute is unknown without a transcript with words or without a
// positive duration.
func wordsPerMinute(clip models.AudioClip) models.Number {
	if clip.Transcript == nil || clip.Duration <= 0 {
		return models.UnknownNumber()
	}
	words := len(strings.Fields(*clip.Transcript))
	if words == 0 {
		return models.UnknownNumber()
	}
	return models.Known(float64(words) / (clip.Duration / 60))
}

func boolFlag(b *bool) models.Category {
	if b == nil {
		return models.CategoryUnknown
	}
	return models.Category(strconv.FormatBool(*b))
}

func normalizeFlag(c models.Category) models.Category {
	s := strings.ToLower(strings.TrimSpace(string(c)))
	if s == "" {
		return models.CategoryUnknown
	}
	return models.Category(s)
}
