package analysis

import "fmt"

// Suite is one analyzer per source, built from the same rule set.
type Suite struct {
	Rules   RuleSet
	Sampler FrameSampler
	Gait    *GaitAnalyzer
	Facial  *FacialAnalyzer
	Audio   *AudioAnalyzer
	Vision  *VisionAnalyzer
	Text    *TextAnalyzer
}

type SuiteOptions struct {
	FrameStride int
	// TrackTremor enables the displacement tremor tracker on video input.
	TrackTremor bool
}

func NewSuite(rules RuleSet, opts SuiteOptions) (*Suite, error) {
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rule set: %w", err)
	}
	audio, err := NewAudioAnalyzer(rules.Thresholds, rules.AudioRules)
	if err != nil {
		return nil, err
	}
	text, err := NewTextAnalyzer(rules.Thresholds, rules.Lexicon, rules.SymptomRules, rules.ClassifierLabels)
	if err != nil {
		return nil, err
	}

	var tracker TremorTracker = NoTremor{}
	if opts.TrackTremor {
		tracker = DisplacementTracker{Threshold: rules.Thresholds.TremorDisplacement}
	}
	stride := opts.FrameStride
	if stride == 0 {
		stride = DefaultFrameStride
	}

	return &Suite{
		Rules:   rules,
		Sampler: NewFrameSampler(stride),
		Gait:    NewGaitAnalyzer(rules.Thresholds),
		Facial:  NewFacialAnalyzer(rules.Thresholds, tracker),
		Audio:   audio,
		Vision:  NewVisionAnalyzer(rules.Thresholds, rules.VisionPrompts, rules.HealthyPrompt),
		Text:    text,
	}, nil
}

func DefaultSuite() *Suite {
	s, err := NewSuite(DefaultRuleSet(), SuiteOptions{})
	if err != nil {
		panic(err)
	}
	return s
}
