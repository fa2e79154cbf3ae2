// Package recommend maps condition labels onto advisory text.
package recommend

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/san-kum/medassist/server/analysis"
	"github.com/san-kum/medassist/server/models"
)

const (
	DefaultMinConfidence = 0.3

	// DefaultVisionAdvisoryScore is the similarity above which the top image
	// match gets its own advisory.
	DefaultVisionAdvisoryScore = 0.7

	Disclaimer = "This analysis is generated automatically and is not a medical diagnosis. " +
		"It cannot replace an examination by a qualified healthcare professional. " +
		"If you are experiencing a medical emergency, contact emergency services immediately."

	genericAdvisory = "%s was suggested by the analysis. Please consult a healthcare provider for proper evaluation."
)

// DefaultAdvisories covers every label the built-in rules produce.
func DefaultAdvisories() map[string]string {
	return map[string]string{
		analysis.LabelShufflingGait:        "Gait analysis suggests possible Parkinson's disease. Please consult a neurologist for proper evaluation.",
		analysis.LabelHemiparesis:          "Gait analysis suggests possible stroke. Please seek immediate medical attention.",
		analysis.LabelHipAsymmetry:         "Gait analysis suggests a hip joint problem or leg length discrepancy. Please consult an orthopedic specialist.",
		analysis.LabelFacialPalsy:          "Facial analysis suggests possible Bell's palsy or stroke. Please seek immediate medical attention if the symptoms started suddenly.",
		analysis.LabelTremorDisorder:       "Facial analysis suggests possible essential tremor. Please consult a neurologist for proper evaluation.",
		analysis.LabelVoiceTremor:          "Voice tremor detected. This could be a sign of neurological conditions. Please consult a neurologist for proper evaluation.",
		analysis.LabelSlurredSpeech:        "Slurred speech detected. This could be a sign of stroke or other neurological conditions. Please seek immediate medical attention.",
		analysis.LabelMotorSpeech:          "Slow speech detected. Please consult a speech-language pathologist or neurologist if this is new.",
		analysis.LabelAbnormalCough:        "Abnormal cough pattern detected. Please consult a healthcare provider for proper evaluation.",
		analysis.LabelRespiratory:          "Wheezing detected in breathing pattern. This could indicate asthma or other respiratory conditions. Please consult a pulmonologist.",
		analysis.LabelRespiratoryInfection: "Symptoms suggest a respiratory infection. Rest, stay hydrated and see a doctor if breathing becomes difficult or the fever persists.",
		analysis.LabelCardiac:              "Chest pain can indicate a heart problem. Please seek immediate medical attention.",
		analysis.LabelMigraine:             "Symptoms suggest a migraine. Please consult a healthcare provider if headaches are frequent or severe.",
		analysis.LabelGastro:               "Symptoms suggest a gastrointestinal illness. Stay hydrated and consult a doctor if symptoms last more than two days.",
	}
}

type Engine struct {
	advisories    map[string]string
	minConfidence float64
	visionScore   float64
}

type Options struct {
	// Advisories override or extend the defaults, keyed by label.
	Advisories          map[string]string
	MinConfidence       float64
	VisionAdvisoryScore float64
}

func NewEngine(opts Options) *Engine {
	table := make(map[string]string)
	for label, text := range DefaultAdvisories() {
		table[normalize(label)] = text
	}
	for label, text := range opts.Advisories {
		table[normalize(label)] = text
	}
	e := &Engine{
		advisories:    table,
		minConfidence: opts.MinConfidence,
		visionScore:   opts.VisionAdvisoryScore,
	}
	if e.minConfidence <= 0 {
		e.minConfidence = DefaultMinConfidence
	}
	if e.visionScore <= 0 {
		e.visionScore = DefaultVisionAdvisoryScore
	}
	return e
}

func (e *Engine) MinConfidence() float64 { return e.minConfidence }

// For returns the advisory for a label, or a generic one.
func (e *Engine) For(label string) string {
	if text, ok := e.advisories[normalize(label)]; ok {
		return text
	}
	return fmt.Sprintf(genericAdvisory, capitalize(label))
}

// ForLabels returns the advisories of labels in order, without duplicates.
func (e *Engine) ForLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		text := e.For(l)
		if _, ok := seen[text]; ok {
			continue
		}
		seen[text] = struct{}{}
		out = append(out, text)
	}
	return out
}

// ForVision phrases the best image match when it is confident enough.
func (e *Engine) ForVision(top models.LabelScore, healthy string) []string {
	if top.Label == "" || top.Label == healthy || top.Score <= e.visionScore {
		return nil
	}
	return []string{fmt.Sprintf(
		"Based on the analysis, there is a %.1f%% confidence of %s. Please consult a healthcare professional for proper evaluation.",
		top.Score*100, top.Label,
	)}
}

// ForDiagnosis returns the advisories of every entry reaching the minimum
// confidence, in diagnosis order, without duplicates.
func (e *Engine) ForDiagnosis(entries []models.DiagnosisEntry) []string {
	labels := make([]string, 0, len(entries))
	for _, d := range entries {
		if d.Confidence >= e.minConfidence {
			labels = append(labels, d.Condition)
		}
	}
	return e.ForLabels(labels)
}

func normalize(label string) string {
	return strings.Join(strings.Fields(strings.ToLower(label)), " ")
}

func capitalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "A condition"
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}
