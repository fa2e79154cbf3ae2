package analysis

import (
	"github.com/san-kum/medassist/server/aggregate"
	"github.com/san-kum/medassist/server/geometry"
	"github.com/san-kum/medassist/server/models"
)

// TremorTracker judges tremor from two consecutive face detections.
type TremorTracker interface {
	Track(prev, curr *models.FaceFrame) models.Category
}

// NoTremor never reports a tremor.
type NoTremor struct{}

func (NoTremor) Track(_, _ *models.FaceFrame) models.Category { return models.TremorNone }

// DisplacementTracker reports a tremor when face landmarks move more than
// Threshold on average between two frames.
type DisplacementTracker struct {
	Threshold float64
}

func (d DisplacementTracker) Track(prev, curr *models.FaceFrame) models.Category {
	moved, ok := geometry.MeanDisplacement(prev, curr)
	if !ok {
		return models.CategoryUnknown
	}
	if moved > d.Threshold {
		return models.TremorDetected
	}
	return models.TremorNone
}

// FrameWindow holds the previous and current face frame of a stream. It
// belongs to one caller and must be fed in frame order.
type FrameWindow struct {
	prev *models.FaceFrame
	curr *models.FaceFrame
}

func (w *FrameWindow) Push(frame *models.FaceFrame) {
	w.prev, w.curr = w.curr, frame
}

func (w *FrameWindow) Previous() *models.FaceFrame { return w.prev }

func (w *FrameWindow) Current() *models.FaceFrame { return w.curr }

func (w *FrameWindow) Reset() {
	w.prev, w.curr = nil, nil
}

type FacialResult struct {
	Metrics    models.FacialMetrics
	Hypotheses []models.Hypothesis
}

func (r FacialResult) Record() aggregate.Record {
	return aggregate.Record{
		Numeric: map[string]models.Number{
			"eye_distance": r.Metrics.EyeDistance,
		},
		Categorical: map[string]models.Category{
			"symmetry":   r.Metrics.Symmetry,
			"tremors":    r.Metrics.Tremor,
			"expression": r.Metrics.Expression,
		},
		Hypotheses: r.Hypotheses,
	}
}

type FacialAnalyzer struct {
	th      Thresholds
	tracker TremorTracker
	rules   []Rule[models.FacialMetrics]
}

// NewFacialAnalyzer builds an analyzer; a nil tracker means NoTremor.
func NewFacialAnalyzer(th Thresholds, tracker TremorTracker) *FacialAnalyzer {
	if tracker == nil {
		tracker = NoTremor{}
	}
	return &FacialAnalyzer{th: th, tracker: tracker, rules: facialRules()}
}

func facialRules() []Rule[models.FacialMetrics] {
	return []Rule[models.FacialMetrics]{
		{
			Label:    LabelFacialPalsy,
			Strength: StrengthFacialPalsy,
			When:     func(m models.FacialMetrics) bool { return m.Symmetry == models.CategoryAsymmetric },
		},
		{
			// An unknown tremor is absence of signal and never triggers.
			Label:    LabelTremorDisorder,
			Strength: StrengthTremor,
			When:     func(m models.FacialMetrics) bool { return m.Tremor == models.TremorDetected },
		},
	}
}

// Analyze measures a single face frame; tremor needs a second frame and is
// reported as none.
func (f *FacialAnalyzer) Analyze(frame *models.FaceFrame) (FacialResult, error) {
	return f.analyze(frame, models.TremorNone)
}

// AnalyzeWindow measures the current frame of w with the tracker's verdict
// on the previous one.
func (f *FacialAnalyzer) AnalyzeWindow(w *FrameWindow) (FacialResult, error) {
	curr := w.Current()
	tremor := models.TremorNone
	if !w.Previous().Empty() && !curr.Empty() {
		tremor = f.tracker.Track(w.Previous(), curr)
	}
	return f.analyze(curr, tremor)
}

func (f *FacialAnalyzer) analyze(frame *models.FaceFrame, tremor models.Category) (FacialResult, error) {
	if frame.Empty() {
		return FacialResult{Metrics: models.UnknownFacial()}, nil
	}
	lms, err := geometry.Require(frame, models.FaceLeftEyeOuter, models.FaceRightEyeOuter)
	if err != nil {
		return FacialResult{}, &models.GeometryError{Analyzer: models.SourceFacial, Err: err}
	}

	eyes := geometry.HorizontalSpan(lms[0], lms[1])
	m := models.FacialMetrics{
		Symmetry:    models.CategoryAsymmetric,
		Tremor:      tremor,
		Expression:  models.ExpressionNeutral,
		EyeDistance: models.Known(eyes),
	}
	if eyes < f.th.EyeSymmetry {
		m.Symmetry = models.CategorySymmetric
	}

	return FacialResult{Metrics: m, Hypotheses: Evaluate(models.SourceFacial, f.rules, m)}, nil
}

func (f *FacialAnalyzer) Schema() aggregate.Schema {
	return aggregate.Schema{
		Source: models.SourceFacial,
		Numeric: map[string]aggregate.Domain{
			"eye_distance": aggregate.NonNegative,
		},
		Categorical: map[string][]models.Category{
			"symmetry":   {models.CategorySymmetric, models.CategoryAsymmetric},
			"tremors":    {models.TremorNone, models.TremorDetected},
			"expression": {models.ExpressionNeutral},
		},
		Vocabulary: ruleLabels(f.rules),
	}
}
