package orchestrator

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/san-kum/medassist/server/models"
)

// MaxModalityStrength caps what one modality contributes, so a single
// modality never reaches full confidence.
const MaxModalityStrength = 0.99

// Fuser merges the evidence of every modality into a ranked differential
// diagnosis.
type Fuser struct {
	aliases map[string]string
}

// NewFuser builds a fuser. Aliases map a normalized label onto the condition
// it should be counted as.
func NewFuser(aliases map[string]string) *Fuser {
	table := make(map[string]string, len(aliases))
	for from, to := range aliases {
		table[NormalizeLabel(from)] = strings.TrimSpace(to)
	}
	return &Fuser{aliases: table}
}

// NormalizeLabel lower-cases a label and collapses its whitespace.
func NormalizeLabel(label string) string {
	return strings.Join(strings.Fields(strings.ToLower(label)), " ")
}

func (f *Fuser) canonical(label string) (key, display string) {
	key = NormalizeLabel(label)
	if to, ok := f.aliases[key]; ok {
		return NormalizeLabel(to), to
	}
	return key, strings.TrimSpace(label)
}

type fusedCondition struct {
	display   string
	strengths map[models.Modality]float64
	evidence  []string
}

// Fuse combines per-modality strengths with 1 - Π(1 - s). A modality's
// strength for a condition is the highest strength any of its sources
// observed. Entries are ordered by confidence, then by the highest priority
// supporting modality, then by name.
func (f *Fuser) Fuse(summaries map[models.Modality]*models.ModalitySummary) []models.DiagnosisEntry {
	conditions := make(map[string]*fusedCondition)
	for _, m := range models.Modalities {
		summary := summaries[m]
		if summary == nil {
			continue
		}
		for _, section := range summary.Sections {
			for _, ev := range section.Conditions {
				key, display := f.canonical(ev.Label)
				c, ok := conditions[key]
				if !ok {
					c = &fusedCondition{display: display, strengths: make(map[models.Modality]float64)}
					conditions[key] = c
				}
				s := math.Min(math.Max(ev.MaxStrength, 0), MaxModalityStrength)
				if prev, seen := c.strengths[m]; !seen || s > prev {
					c.strengths[m] = s
				}
				c.evidence = append(c.evidence, fmt.Sprintf("%s: %s (observed %d times, max strength %.2f)",
					section.Source, ev.Label, ev.Count, ev.MaxStrength))
			}
		}
	}

	entries := make([]models.DiagnosisEntry, 0, len(conditions))
	for _, c := range conditions {
		missing := 1.0
		supporting := make([]models.Modality, 0, len(c.strengths))
		for _, m := range models.Modalities {
			s, ok := c.strengths[m]
			if !ok {
				continue
			}
			missing *= 1 - s
			supporting = append(supporting, m)
		}
		entries = append(entries, models.DiagnosisEntry{
			Condition:            c.display,
			Confidence:           1 - missing,
			SupportingModalities: supporting,
			Evidence:             c.evidence,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		pa, pb := topPriority(a.SupportingModalities), topPriority(b.SupportingModalities)
		if pa != pb {
			return pa < pb
		}
		return a.Condition < b.Condition
	})
	return entries
}

func topPriority(modalities []models.Modality) int {
	best := len(models.Modalities)
	for _, m := range modalities {
		if p := m.Priority(); p < best {
			best = p
		}
	}
	return best
}

func confidenceScores(entries []models.DiagnosisEntry) map[string]float64 {
	scores := make(map[string]float64, len(entries))
	for _, e := range entries {
		scores[e.Condition] = e.Confidence
	}
	return scores
}
