// Package aggregate folds per-frame and per-clip results of one source into a
// single summary.
package aggregate

import (
	"fmt"
	"math"
	"sort"

	"github.com/san-kum/medassist/server/models"
)

// Record is the result of analyzing one unit (a sampled frame or a clip).
type Record struct {
	Numeric     map[string]models.Number
	Categorical map[string]models.Category
	Hypotheses  []models.Hypothesis
}

// Domain bounds a numeric field, inclusive on both ends.
type Domain struct {
	Min float64
	Max float64
}

var (
	NonNegative = Domain{Min: 0, Max: math.Inf(1)}
	UnitRange   = Domain{Min: 0, Max: 1}
	AnyValue    = Domain{Min: math.Inf(-1), Max: math.Inf(1)}
)

// Schema declares what a source may report. Every declared field appears in
// the summary, as unknown when no unit measured it.
type Schema struct {
	Source      models.Source
	Numeric     map[string]Domain
	Categorical map[string][]models.Category
	Vocabulary  []string
}

type categoryTally struct {
	counts map[models.Category]int
	order  []models.Category
}

func (t *categoryTally) add(c models.Category) {
	if t.counts == nil {
		t.counts = make(map[models.Category]int)
	}
	if _, seen := t.counts[c]; !seen {
		t.order = append(t.order, c)
	}
	t.counts[c]++
}

// mode returns the most frequent value, the earliest seen on ties.
func (t *categoryTally) mode() models.Category {
	best := models.CategoryUnknown
	bestCount := 0
	for _, c := range t.order {
		if t.counts[c] > bestCount {
			best = c
			bestCount = t.counts[c]
		}
	}
	return best
}

// Aggregate reduces records to one summary: the mean of every numeric field,
// the mode of every categorical field and per-label evidence counts.
func Aggregate(schema Schema, records []Record) (models.Summary, error) {
	vocabulary := make(map[string]struct{}, len(schema.Vocabulary))
	for _, label := range schema.Vocabulary {
		vocabulary[label] = struct{}{}
	}

	sums := make(map[string]float64, len(schema.Numeric))
	counts := make(map[string]int, len(schema.Numeric))
	tallies := make(map[string]*categoryTally, len(schema.Categorical))
	evidence := make(map[string]*models.ConditionEvidence)

	for i, rec := range records {
		for field, n := range rec.Numeric {
			domain, ok := schema.Numeric[field]
			if !ok {
				return models.Summary{}, &models.InvalidMetricError{Field: field, Value: n, Reason: fmt.Sprintf("undeclared numeric field in unit %d", i)}
			}
			if !n.Known {
				continue
			}
			if math.IsNaN(n.Value) || n.Value < domain.Min || n.Value > domain.Max {
				return models.Summary{}, &models.InvalidMetricError{Field: field, Value: n.Value, Reason: fmt.Sprintf("outside [%g, %g]", domain.Min, domain.Max)}
			}
			sums[field] += n.Value
			counts[field]++
		}

		for field, c := range rec.Categorical {
			allowed, ok := schema.Categorical[field]
			if !ok {
				return models.Summary{}, &models.InvalidMetricError{Field: field, Value: c, Reason: fmt.Sprintf("undeclared categorical field in unit %d", i)}
			}
			if c.IsUnknown() {
				continue
			}
			if len(allowed) > 0 && !containsCategory(allowed, c) {
				return models.Summary{}, &models.InvalidMetricError{Field: field, Value: c, Reason: "not an allowed value"}
			}
			t, ok := tallies[field]
			if !ok {
				t = &categoryTally{}
				tallies[field] = t
			}
			t.add(c)
		}

		for _, h := range rec.Hypotheses {
			if _, ok := vocabulary[h.Label]; !ok {
				return models.Summary{}, &models.InvalidMetricError{Field: "condition", Value: h.Label, Reason: fmt.Sprintf("not in %s vocabulary", schema.Source)}
			}
			if h.Source != schema.Source {
				return models.Summary{}, &models.InvalidMetricError{Field: "condition", Value: h.Source, Reason: fmt.Sprintf("expected source %s", schema.Source)}
			}
			if math.IsNaN(h.Strength) || h.Strength < 0 || h.Strength > 1 {
				return models.Summary{}, &models.InvalidMetricError{Field: "strength", Value: h.Strength, Reason: "outside [0, 1]"}
			}
			ev, ok := evidence[h.Label]
			if !ok {
				ev = &models.ConditionEvidence{Label: h.Label, Source: h.Source}
				evidence[h.Label] = ev
			}
			ev.Count++
			ev.MaxStrength = math.Max(ev.MaxStrength, h.Strength)
		}
	}

	summary := models.Summary{
		Source:      schema.Source,
		Units:       len(records),
		Numeric:     make(map[string]models.Number, len(schema.Numeric)),
		Categorical: make(map[string]models.Category, len(schema.Categorical)),
		Conditions:  make([]models.ConditionEvidence, 0, len(evidence)),
	}
	for field := range schema.Numeric {
		if counts[field] == 0 {
			summary.Numeric[field] = models.UnknownNumber()
			continue
		}
		summary.Numeric[field] = models.Known(sums[field] / float64(counts[field]))
	}
	for field := range schema.Categorical {
		if t, ok := tallies[field]; ok {
			summary.Categorical[field] = t.mode()
			continue
		}
		summary.Categorical[field] = models.CategoryUnknown
	}
	for _, ev := range evidence {
		summary.Conditions = append(summary.Conditions, *ev)
	}
	sort.Slice(summary.Conditions, func(i, j int) bool {
		return summary.Conditions[i].Label < summary.Conditions[j].Label
	})

	return summary, nil
}

func containsCategory(list []models.Category, c models.Category) bool {
	for _, candidate := range list {
		if candidate == c {
			return true
		}
	}
	return false
}
