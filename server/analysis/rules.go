// Package analysis turns landmark frames, audio clips, images and free text
// into metrics and condition hypotheses. Every analyzer is a pure function
// of its input and its rule tables.
package analysis

import (
	"fmt"
	"sort"

	"github.com/san-kum/medassist/server/models"
)

// Labels of the built-in rules.
const (
	LabelShufflingGait        = "possible shuffling gait (Parkinsonian pattern)"
	LabelHemiparesis          = "possible hemiparesis/stroke pattern"
	LabelHipAsymmetry         = "possible hip/leg-length asymmetry"
	LabelFacialPalsy          = "possible facial palsy / stroke pattern"
	LabelTremorDisorder       = "possible tremor disorder"
	LabelVoiceTremor          = "possible voice tremor (neurological pattern)"
	LabelSlurredSpeech        = "possible slurred speech (stroke pattern)"
	LabelMotorSpeech          = "possible motor speech disorder"
	LabelAbnormalCough        = "abnormal cough pattern"
	LabelRespiratory          = "possible asthma / respiratory condition"
	LabelRespiratoryInfection = "possible respiratory infection"
	LabelCardiac              = "possible cardiac condition"
	LabelMigraine             = "possible migraine"
	LabelGastro               = "possible gastrointestinal illness"
)

// Strength is how much a single firing of a rule supports its label.
const (
	StrengthShufflingGait = 0.6
	StrengthHemiparesis   = 0.5
	StrengthHipAsymmetry  = 0.4
	StrengthFacialPalsy   = 0.5
	StrengthTremor        = 0.5
)

// Rule is one threshold or equality check over a metrics value. Rules are
// evaluated independently and several may fire on the same input.
type Rule[M any] struct {
	Label    string
	Strength float64
	When     func(M) bool
}

func Evaluate[M any](source models.Source, rules []Rule[M], m M) []models.Hypothesis {
	var out []models.Hypothesis
	for _, r := range rules {
		if r.When(m) {
			out = append(out, models.Hypothesis{Label: r.Label, Source: source, Strength: r.Strength})
		}
	}
	return out
}

func ruleLabels[M any](rules []Rule[M]) []string {
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.Label)
	}
	return uniqueSorted(out)
}

// RuleSet is every data-driven table the analyzers use. It is what a rules
// file overrides.
type RuleSet struct {
	Thresholds       Thresholds          `yaml:"thresholds" json:"thresholds"`
	AudioRules       []FlagRule          `yaml:"audio_rules" json:"audio_rules"`
	SymptomRules     []SymptomRule       `yaml:"symptom_rules" json:"symptom_rules"`
	Lexicon          map[string][]string `yaml:"lexicon" json:"lexicon"`
	VisionPrompts    []string            `yaml:"vision_prompts" json:"vision_prompts"`
	HealthyPrompt    string              `yaml:"healthy_prompt" json:"healthy_prompt"`
	ClassifierLabels map[string]string   `yaml:"classifier_labels" json:"classifier_labels"`
}

func DefaultRuleSet() RuleSet {
	return RuleSet{
		Thresholds:       DefaultThresholds(),
		AudioRules:       DefaultAudioRules(),
		SymptomRules:     DefaultSymptomRules(),
		Lexicon:          DefaultLexicon(),
		VisionPrompts:    DefaultVisionPrompts(),
		HealthyPrompt:    HealthyPrompt,
		ClassifierLabels: map[string]string{},
	}
}

func (r RuleSet) Validate() error {
	if err := r.Thresholds.Validate(); err != nil {
		return err
	}
	for i, rule := range r.AudioRules {
		if err := rule.validate(); err != nil {
			return fmt.Errorf("audio rule %d: %w", i, err)
		}
	}
	for i, rule := range r.SymptomRules {
		if err := rule.validate(r.Lexicon); err != nil {
			return fmt.Errorf("symptom rule %d: %w", i, err)
		}
	}
	if len(r.VisionPrompts) == 0 {
		return fmt.Errorf("vision prompts must not be empty")
	}
	for from, to := range r.ClassifierLabels {
		if from == "" || to == "" {
			return fmt.Errorf("classifier label mapping %q -> %q is incomplete", from, to)
		}
	}
	return nil
}

// Vocabulary lists every label a source can emit under this rule set.
func (r RuleSet) Vocabulary(source models.Source) []string {
	switch source {
	case models.SourceGait:
		return ruleLabels(gaitRules(r.Thresholds))
	case models.SourceFacial:
		return ruleLabels(facialRules())
	case models.SourceAudio:
		labels := make([]string, 0, len(r.AudioRules))
		for _, rule := range r.AudioRules {
			labels = append(labels, rule.Label)
		}
		return uniqueSorted(labels)
	case models.SourceVision:
		labels := make([]string, 0, len(r.VisionPrompts))
		for _, p := range r.VisionPrompts {
			if p != r.HealthyPrompt {
				labels = append(labels, p)
			}
		}
		return uniqueSorted(labels)
	case models.SourceText:
		labels := make([]string, 0, len(r.SymptomRules)+len(r.ClassifierLabels))
		for _, rule := range r.SymptomRules {
			labels = append(labels, rule.Label)
		}
		for _, label := range r.ClassifierLabels {
			labels = append(labels, label)
		}
		return uniqueSorted(labels)
	}
	return nil
}

func uniqueSorted(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
