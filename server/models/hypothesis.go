package models

import "sort"

// Source is the analyzer a hypothesis came from.
type Source string

const (
	SourceGait   Source = "gait"
	SourceFacial Source = "facial"
	SourceAudio  Source = "audio"
	SourceVision Source = "vision"
	SourceText   Source = "text"
)

// Modality is one orchestrator input channel.
type Modality string

const (
	ModalityVision Modality = "vision"
	ModalityAudio  Modality = "audio"
	ModalityVideo  Modality = "video"
	ModalityText   Modality = "text"
)

// Modalities lists every channel in tie-break priority order.
var Modalities = []Modality{ModalityVision, ModalityAudio, ModalityVideo, ModalityText}

// Priority is lower for the more specific channel.
func (m Modality) Priority() int {
	for i, candidate := range Modalities {
		if candidate == m {
			return i
		}
	}
	return len(Modalities)
}

func (s Source) Modality() Modality {
	switch s {
	case SourceGait, SourceFacial:
		return ModalityVideo
	case SourceAudio:
		return ModalityAudio
	case SourceVision:
		return ModalityVision
	default:
		return ModalityText
	}
}

type Hypothesis struct {
	Label    string  `json:"label"`
	Source   Source  `json:"source_modality"`
	Strength float64 `json:"strength"`
}

// ConditionEvidence is every observation of one label folded together.
type ConditionEvidence struct {
	Label       string  `json:"label"`
	Source      Source  `json:"source_modality"`
	Count       int     `json:"count"`
	MaxStrength float64 `json:"max_strength"`
}

// Summary is the aggregate of one source over all of its units.
type Summary struct {
	Source      Source              `json:"source"`
	Units       int                 `json:"units"`
	Numeric     map[string]Number   `json:"metrics"`
	Categorical map[string]Category `json:"patterns"`
	Conditions  []ConditionEvidence `json:"potential_conditions"`
}

func (s Summary) Labels() []string {
	labels := make([]string, 0, len(s.Conditions))
	for _, c := range s.Conditions {
		labels = append(labels, c.Label)
	}
	return labels
}

type ModalitySummary struct {
	Modality        Modality       `json:"modality"`
	Sections        []Summary      `json:"sections"`
	Recommendations []string       `json:"recommendations"`
	Details         map[string]any `json:"details,omitempty"`
}

func (m *ModalitySummary) Section(source Source) (Summary, bool) {
	if m == nil {
		return Summary{}, false
	}
	for _, s := range m.Sections {
		if s.Source == source {
			return s, true
		}
	}
	return Summary{}, false
}

// Evidence flattens the evidence of every section, ordered by label.
func (m *ModalitySummary) Evidence() []ConditionEvidence {
	if m == nil {
		return nil
	}
	var out []ConditionEvidence
	for _, s := range m.Sections {
		out = append(out, s.Conditions...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}
