package analysis

import (
	"github.com/san-kum/medassist/server/aggregate"
	"github.com/san-kum/medassist/server/geometry"
	"github.com/san-kum/medassist/server/models"
)

var gaitLandmarks = []models.LandmarkID{
	models.PoseLeftHeel, models.PoseRightHeel,
	models.PoseLeftShoulder, models.PoseRightShoulder,
	models.PoseLeftHip, models.PoseRightHip,
}

type GaitResult struct {
	Metrics    models.GaitMetrics
	Hypotheses []models.Hypothesis
}

func (r GaitResult) Record() aggregate.Record {
	return aggregate.Record{
		Numeric: map[string]models.Number{
			"stride_length":      r.Metrics.StrideLength,
			"shoulder_alignment": r.Metrics.ShoulderAlignment,
			"hip_alignment":      r.Metrics.HipAlignment,
		},
		Categorical: map[string]models.Category{
			"gait_symmetry": r.Metrics.Symmetry,
			"posture":       r.Metrics.Posture,
		},
		Hypotheses: r.Hypotheses,
	}
}

type GaitAnalyzer struct {
	th    Thresholds
	rules []Rule[models.GaitMetrics]
}

func NewGaitAnalyzer(th Thresholds) *GaitAnalyzer {
	return &GaitAnalyzer{th: th, rules: gaitRules(th)}
}

func gaitRules(th Thresholds) []Rule[models.GaitMetrics] {
	return []Rule[models.GaitMetrics]{
		{
			Label:    LabelShufflingGait,
			Strength: StrengthShufflingGait,
			When: func(m models.GaitMetrics) bool {
				return m.StrideLength.Known && m.StrideLength.Value < th.ShuffleStride
			},
		},
		{
			Label:    LabelHemiparesis,
			Strength: StrengthHemiparesis,
			When: func(m models.GaitMetrics) bool {
				return m.Posture == models.CategoryAsymmetric &&
					m.ShoulderAlignment.Known && m.ShoulderAlignment.Value > th.ShoulderHemiparesis
			},
		},
		{
			Label:    LabelHipAsymmetry,
			Strength: StrengthHipAsymmetry,
			When: func(m models.GaitMetrics) bool {
				return m.Posture == models.CategoryAsymmetric &&
					m.HipAlignment.Known && m.HipAlignment.Value > th.HipAsymmetry
			},
		},
	}
}

// Analyze measures one pose frame. A frame without detections yields
// all-unknown metrics; a detection missing a required joint is a
// GeometryError.
func (g *GaitAnalyzer) Analyze(frame *models.PoseFrame) (GaitResult, error) {
	if frame.Empty() {
		return GaitResult{Metrics: models.UnknownGait()}, nil
	}
	lms, err := geometry.Require(frame, gaitLandmarks...)
	if err != nil {
		return GaitResult{}, &models.GeometryError{Analyzer: models.SourceGait, Err: err}
	}
	leftHeel, rightHeel := lms[0], lms[1]
	leftShoulder, rightShoulder := lms[2], lms[3]
	leftHip, rightHip := lms[4], lms[5]

	stride := geometry.Distance(leftHeel, rightHeel)
	shoulder := geometry.VerticalAlignment(leftShoulder, rightShoulder)
	hip := geometry.VerticalAlignment(leftHip, rightHip)

	m := models.GaitMetrics{
		StrideLength:      models.Known(stride),
		Symmetry:          models.CategoryAsymmetric,
		Posture:           models.CategorySymmetric,
		ShoulderAlignment: models.Known(shoulder),
		HipAlignment:      models.Known(hip),
	}
	if stride > g.th.StrideSymmetry {
		m.Symmetry = models.CategorySymmetric
	}
	if shoulder > g.th.PostureAsymmetry || hip > g.th.PostureAsymmetry {
		m.Posture = models.CategoryAsymmetric
	}

	return GaitResult{Metrics: m, Hypotheses: Evaluate(models.SourceGait, g.rules, m)}, nil
}

func (g *GaitAnalyzer) Schema() aggregate.Schema {
	lr := []models.Category{models.CategorySymmetric, models.CategoryAsymmetric}
	return aggregate.Schema{
		Source: models.SourceGait,
		Numeric: map[string]aggregate.Domain{
			"stride_length":      aggregate.NonNegative,
			"shoulder_alignment": aggregate.NonNegative,
			"hip_alignment":      aggregate.NonNegative,
		},
		Categorical: map[string][]models.Category{
			"gait_symmetry": lr,
			"posture":       lr,
		},
		Vocabulary: ruleLabels(g.rules),
	}
}
