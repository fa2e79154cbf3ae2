package analysis

import (
	"math"
	"sort"

	"github.com/san-kum/medassist/server/aggregate"
	"github.com/san-kum/medassist/server/models"
)

const HealthyPrompt = "normal healthy skin"

// DefaultVisionPrompts are the image-text prompts the similarity model scores
// an image against.
func DefaultVisionPrompts() []string {
	return []string{
		HealthyPrompt,
		"skin rash or irritation",
		"mole or skin lesion",
		"wound or injury",
		"swelling or inflammation",
		"discoloration or bruising",
	}
}

type VisionResult struct {
	TopMatches []models.LabelScore
	Numeric    map[string]models.Number
	TopPrompt  models.Category
	Hypotheses []models.Hypothesis
}

func (r VisionResult) Record() aggregate.Record {
	return aggregate.Record{
		Numeric:     r.Numeric,
		Categorical: map[string]models.Category{"top_prompt": r.TopPrompt},
		Hypotheses:  r.Hypotheses,
	}
}

// TopScore is the best similarity among the kept matches, or 0.
func (r VisionResult) TopScore() float64 {
	if len(r.TopMatches) == 0 {
		return 0
	}
	return r.TopMatches[0].Score
}

type VisionAnalyzer struct {
	th      Thresholds
	prompts map[string]struct{}
	healthy string
	order   []string
}

func NewVisionAnalyzer(th Thresholds, prompts []string, healthy string) *VisionAnalyzer {
	set := make(map[string]struct{}, len(prompts))
	for _, p := range prompts {
		set[p] = struct{}{}
	}
	return &VisionAnalyzer{th: th, prompts: set, healthy: healthy, order: prompts}
}

func (v *VisionAnalyzer) Prompts() []string { return v.order }

// Analyze ranks the prompt similarities of one image. The top-K prompts
// scoring at least VisionMinScore become hypotheses, except the healthy one.
func (v *VisionAnalyzer) Analyze(img models.ImageFeatures) (VisionResult, error) {
	scores := make([]models.LabelScore, 0, len(img.Similarities))
	for _, s := range img.Similarities {
		if math.IsNaN(s.Score) || s.Score < 0 || s.Score > 1 {
			return VisionResult{}, &models.InvalidMetricError{Field: "similarity", Value: s.Score, Reason: "outside [0, 1]"}
		}
		if _, ok := v.prompts[s.Label]; !ok {
			continue
		}
		scores = append(scores, s)
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })

	k := v.th.VisionTopK
	if k < 1 {
		k = 1
	}
	if len(scores) > k {
		scores = scores[:k]
	}

	res := VisionResult{
		TopMatches: scores,
		TopPrompt:  models.CategoryUnknown,
		Numeric: map[string]models.Number{
			"top_score":                 models.UnknownNumber(),
			"detection_count":           models.Known(float64(len(img.Detections))),
			"mean_detection_confidence": models.UnknownNumber(),
		},
	}
	if len(scores) > 0 {
		res.TopPrompt = models.Category(scores[0].Label)
		res.Numeric["top_score"] = models.Known(scores[0].Score)
	}
	if len(img.Detections) > 0 {
		var sum float64
		for _, d := range img.Detections {
			if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
				return VisionResult{}, &models.InvalidMetricError{Field: "detection_confidence", Value: d.Confidence, Reason: "outside [0, 1]"}
			}
			sum += d.Confidence
		}
		res.Numeric["mean_detection_confidence"] = models.Known(sum / float64(len(img.Detections)))
	}

	for _, s := range scores {
		if s.Label == v.healthy || s.Score < v.th.VisionMinScore {
			continue
		}
		res.Hypotheses = append(res.Hypotheses, models.Hypothesis{
			Label:    s.Label,
			Source:   models.SourceVision,
			Strength: s.Score,
		})
	}
	return res, nil
}

func (v *VisionAnalyzer) Schema() aggregate.Schema {
	labels := make([]string, 0, len(v.order))
	for _, p := range v.order {
		if p != v.healthy {
			labels = append(labels, p)
		}
	}
	return aggregate.Schema{
		Source: models.SourceVision,
		Numeric: map[string]aggregate.Domain{
			"top_score":                 aggregate.UnitRange,
			"detection_count":           aggregate.NonNegative,
			"mean_detection_confidence": aggregate.UnitRange,
		},
		Categorical: map[string][]models.Category{"top_prompt": nil},
		Vocabulary:  uniqueSorted(labels),
	}
}
