package analysis

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/san-kum/medassist/server/aggregate"
	"github.com/san-kum/medassist/server/models"
)

// Symptom keys of the default lexicon.
const (
	SymptomFever         = "fever"
	SymptomCough         = "cough"
	SymptomBreathless    = "shortness_of_breath"
	SymptomWheezing      = "wheezing"
	SymptomChestPain     = "chest_pain"
	SymptomHeadache      = "headache"
	SymptomNausea        = "nausea"
	SymptomDiarrhea      = "diarrhea"
	SymptomSoreThroat    = "sore_throat"
	SymptomFatigue       = "fatigue"
	SymptomDizziness     = "dizziness"
	SymptomLightSens     = "light_sensitivity"
	SymptomSlurredSpeech = "slurred_speech"
	SymptomFacialDroop   = "facial_droop"
	SymptomNumbness      = "numbness"
	SymptomTremor        = "tremor"
	SymptomRash          = "rash"
)

// DefaultLexicon maps each symptom to the words and phrases that mention it.
func DefaultLexicon() map[string][]string {
	return map[string][]string{
		SymptomFever:         {"fever", "feverish", "febrile", "high temperature", "chills"},
		SymptomCough:         {"cough", "coughing", "coughs"},
		SymptomBreathless:    {"shortness of breath", "short of breath", "breathless", "difficulty breathing"},
		SymptomWheezing:      {"wheeze", "wheezing", "whistling breath"},
		SymptomChestPain:     {"chest pain", "chest tightness", "chest pressure"},
		SymptomHeadache:      {"headache", "headaches", "migraine"},
		SymptomNausea:        {"nausea", "nauseous", "vomiting", "throwing up"},
		SymptomDiarrhea:      {"diarrhea", "diarrhoea", "loose stools"},
		SymptomSoreThroat:    {"sore throat", "scratchy throat"},
		SymptomFatigue:       {"fatigue", "tired", "exhausted", "lethargic"},
		SymptomDizziness:     {"dizzy", "dizziness", "lightheaded", "vertigo"},
		SymptomLightSens:     {"light sensitivity", "sensitive to light"},
		SymptomSlurredSpeech: {"slurred speech", "slurring", "trouble speaking"},
		SymptomFacialDroop:   {"face drooping", "facial droop", "drooping face", "one side of my face"},
		SymptomNumbness:      {"numb", "numbness", "tingling"},
		SymptomTremor:        {"tremor", "tremors", "shaking hands", "trembling"},
		SymptomRash:          {"rash", "itchy skin", "hives"},
	}
}

// SymptomRule fires when every symptom in AllOf was mentioned.
type SymptomRule struct {
	AllOf    []string `yaml:"all_of" json:"all_of"`
	Label    string   `yaml:"label" json:"label"`
	Strength float64  `yaml:"strength" json:"strength"`
}

func (r SymptomRule) validate(lexicon map[string][]string) error {
	if len(r.AllOf) == 0 {
		return fmt.Errorf("rule %q has no symptoms", r.Label)
	}
	if strings.TrimSpace(r.Label) == "" {
		return fmt.Errorf("rule on %v has no label", r.AllOf)
	}
	for _, s := range r.AllOf {
		if _, ok := lexicon[s]; !ok {
			return fmt.Errorf("symptom %q is not in the lexicon", s)
		}
	}
	if r.Strength < 0 || r.Strength >= 1 {
		return fmt.Errorf("strength %g outside [0, 1)", r.Strength)
	}
	return nil
}

func DefaultSymptomRules() []SymptomRule {
	return []SymptomRule{
		{AllOf: []string{SymptomFever, SymptomCough}, Label: LabelRespiratoryInfection, Strength: 0.5},
		{AllOf: []string{SymptomSoreThroat, SymptomFever}, Label: LabelRespiratoryInfection, Strength: 0.4},
		{AllOf: []string{SymptomWheezing}, Label: LabelRespiratory, Strength: 0.4},
		{AllOf: []string{SymptomCough, SymptomBreathless}, Label: LabelRespiratory, Strength: 0.4},
		{AllOf: []string{SymptomChestPain}, Label: LabelCardiac, Strength: 0.4},
		{AllOf: []string{SymptomHeadache, SymptomLightSens}, Label: LabelMigraine, Strength: 0.4},
		{AllOf: []string{SymptomNausea, SymptomDiarrhea}, Label: LabelGastro, Strength: 0.4},
		{AllOf: []string{SymptomSlurredSpeech}, Label: LabelSlurredSpeech, Strength: 0.4},
		{AllOf: []string{SymptomFacialDroop}, Label: LabelFacialPalsy, Strength: 0.4},
		{AllOf: []string{SymptomTremor}, Label: LabelTremorDisorder, Strength: 0.3},
		{AllOf: []string{SymptomRash}, Label: "skin rash or irritation", Strength: 0.3},
	}
}

// FollowUpQuestions are asked whenever a symptom description was supplied.
var FollowUpQuestions = []string{
	"Can you describe the symptoms in more detail?",
	"When did you first notice these symptoms?",
	"Have you experienced similar symptoms before?",
}

var symptomQuestions = map[string]string{
	SymptomFever:       "Have you measured your temperature, and how high was it?",
	SymptomCough:       "Is the cough dry or are you bringing up mucus?",
	SymptomChestPain:   "Does the chest pain spread to your arm, jaw or back?",
	SymptomFacialDroop: "When exactly did the facial drooping start?",
	SymptomTremor:      "Does the shaking happen at rest or during movement?",
}

type TextResult struct {
	Symptoms   []string
	Numeric    map[string]models.Number
	Hypotheses []models.Hypothesis
	Questions  []string
}

func (r TextResult) Record() aggregate.Record {
	return aggregate.Record{Numeric: r.Numeric, Hypotheses: r.Hypotheses}
}

type TextAnalyzer struct {
	th         Thresholds
	lexicon    map[string][]string
	rules      []SymptomRule
	classifier map[string]string
}

func NewTextAnalyzer(th Thresholds, lexicon map[string][]string, rules []SymptomRule, classifier map[string]string) (*TextAnalyzer, error) {
	for i, r := range rules {
		if err := r.validate(lexicon); err != nil {
			return nil, fmt.Errorf("symptom rule %d: %w", i, err)
		}
	}
	normalized := make(map[string][]string, len(lexicon))
	for symptom, phrases := range lexicon {
		for _, p := range phrases {
			normalized[symptom] = append(normalized[symptom], strings.Join(tokenize(p), " "))
		}
	}
	if classifier == nil {
		classifier = map[string]string{}
	}
	return &TextAnalyzer{th: th, lexicon: normalized, rules: rules, classifier: classifier}, nil
}

// Analyze extracts mentioned symptoms, applies the symptom rules and keeps
// mapped classifier labels scoring at least TextClassifierMin.
func (t *TextAnalyzer) Analyze(in models.TextFeatures) (TextResult, error) {
	tokens := tokenize(in.Text)
	padded := " " + strings.Join(tokens, " ") + " "

	mentioned := make(map[string]bool)
	for symptom, phrases := range t.lexicon {
		for _, p := range phrases {
			if p != "" && strings.Contains(padded, " "+p+" ") {
				mentioned[symptom] = true
				break
			}
		}
	}
	symptoms := make([]string, 0, len(mentioned))
	for s := range mentioned {
		symptoms = append(symptoms, s)
	}
	sort.Strings(symptoms)

	var hyps []models.Hypothesis
	for _, r := range t.rules {
		if allMentioned(mentioned, r.AllOf) {
			hyps = append(hyps, models.Hypothesis{Label: r.Label, Source: models.SourceText, Strength: r.Strength})
		}
	}
	for _, c := range in.Classifications {
		if math.IsNaN(c.Score) || c.Score < 0 || c.Score > 1 {
			return TextResult{}, &models.InvalidMetricError{Field: "classification", Value: c.Score, Reason: "outside [0, 1]"}
		}
		label, ok := t.classifier[c.Label]
		if !ok || c.Score < t.th.TextClassifierMin {
			continue
		}
		hyps = append(hyps, models.Hypothesis{Label: label, Source: models.SourceText, Strength: c.Score})
	}

	questions := append([]string(nil), FollowUpQuestions...)
	for _, s := range symptoms {
		if q, ok := symptomQuestions[s]; ok {
			questions = append(questions, q)
		}
	}

	return TextResult{
		Symptoms: symptoms,
		Numeric: map[string]models.Number{
			"symptom_count": models.Known(float64(len(symptoms))),
			"word_count":    models.Known(float64(len(tokens))),
		},
		Hypotheses: hyps,
		Questions:  questions,
	}, nil
}

func (t *TextAnalyzer) Schema() aggregate.Schema {
	labels := make([]string, 0, len(t.rules)+len(t.classifier))
	for _, r := range t.rules {
		labels = append(labels, r.Label)
	}
	for _, l := range t.classifier {
		labels = append(labels, l)
	}
	return aggregate.Schema{
		Source: models.SourceText,
		Numeric: map[string]aggregate.Domain{
			"symptom_count": aggregate.NonNegative,
			"word_count":    aggregate.NonNegative,
		},
		Vocabulary: uniqueSorted(labels),
	}
}

func allMentioned(mentioned map[string]bool, symptoms []string) bool {
	for _, s := range symptoms {
		if !mentioned[s] {
			return false
		}
	}
	return len(symptoms) > 0
}

// tokenize lower-cases text and splits it on anything that is not a letter
// or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
