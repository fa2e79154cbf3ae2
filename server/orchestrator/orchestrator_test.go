package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/san-kum/medassist/server/analysis"
	"github.com/san-kum/medassist/server/models"
)

func section(source models.Source, evidence ...models.ConditionEvidence) *models.ModalitySummary {
	return &models.ModalitySummary{
		Modality: source.Modality(),
		Sections: []models.Summary{{Source: source, Conditions: evidence}},
	}
}

func evidence(label string, strength float64) models.ConditionEvidence {
	return models.ConditionEvidence{Label: label, Count: 1, MaxStrength: strength}
}

func TestFuseCombinesModalities(t *testing.T) {
	f := NewFuser(nil)
	entries := f.Fuse(map[models.Modality]*models.ModalitySummary{
		models.ModalityVision: section(models.SourceVision, evidence("possible flu", 0.6)),
		models.ModalityAudio:  section(models.SourceAudio, evidence("Possible  Flu", 0.5)),
	})
	require.Len(t, entries, 1)
	require.InDelta(t, 0.8, entries[0].Confidence, 1e-12)
	require.Greater(t, entries[0].Confidence, 0.6)
	require.Equal(t, []models.Modality{models.ModalityVision, models.ModalityAudio}, entries[0].SupportingModalities)
	require.Equal(t, "possible flu", entries[0].Condition)
}

func TestFuseUsesMaxStrengthWithinModality(t *testing.T) {
	f := NewFuser(nil)
	video := &models.ModalitySummary{
		Modality: models.ModalityVideo,
		Sections: []models.Summary{
			{Source: models.SourceGait, Conditions: []models.ConditionEvidence{{Label: "x", Count: 9, MaxStrength: 0.3}}},
			{Source: models.SourceFacial, Conditions: []models.ConditionEvidence{{Label: "x", Count: 1, MaxStrength: 0.4}}},
		},
	}
	entries := f.Fuse(map[models.Modality]*models.ModalitySummary{models.ModalityVideo: video})
	require.Len(t, entries, 1)
	require.InDelta(t, 0.4, entries[0].Confidence, 1e-12)
	require.Len(t, entries[0].Evidence, 2)
}

func TestFuseNeverReachesOne(t *testing.T) {
	entries := NewFuser(nil).Fuse(map[models.Modality]*models.ModalitySummary{
		models.ModalityVision: section(models.SourceVision, evidence("wound or injury", 1)),
	})
	require.Less(t, entries[0].Confidence, 1.0)
	require.InDelta(t, MaxModalityStrength, entries[0].Confidence, 1e-12)
}

func TestFuseOrdering(t *testing.T) {
	entries := NewFuser(nil).Fuse(map[models.Modality]*models.ModalitySummary{
		models.ModalityText:   section(models.SourceText, evidence("b text", 0.5), evidence("a text", 0.5), evidence("strong", 0.9)),
		models.ModalityVision: section(models.SourceVision, evidence("z vision", 0.5)),
	})
	var order []string
	for _, e := range entries {
		order = append(order, e.Condition)
	}
	require.Equal(t, []string{"strong", "z vision", "a text", "b text"}, order)
}

func TestFuseAliases(t *testing.T) {
	f := NewFuser(map[string]string{
		analysis.LabelSlurredSpeech: "possible stroke",
		analysis.LabelHemiparesis:   "possible stroke",
	})
	entries := f.Fuse(map[models.Modality]*models.ModalitySummary{
		models.ModalityAudio: section(models.SourceAudio, evidence(analysis.LabelSlurredSpeech, 0.6)),
		models.ModalityVideo: section(models.SourceGait, evidence(analysis.LabelHemiparesis, 0.5)),
	})
	require.Len(t, entries, 1)
	require.Equal(t, "possible stroke", entries[0].Condition)
	require.InDelta(t, 0.8, entries[0].Confidence, 1e-12)
}

func TestEmptyInput(t *testing.T) {
	o := New(analysis.DefaultSuite())

	_, err := o.Analyze(context.Background(), Input{})
	require.ErrorIs(t, err, models.ErrEmptyInput)

	_, err = o.AnalyzeFeatures(context.Background(), models.FeatureSet{})
	require.ErrorIs(t, err, models.ErrEmptyInput)
}

func TestBlankTextIsNoInput(t *testing.T) {
	o := New(analysis.DefaultSuite())

	for _, text := range []string{"", "  \n\t"} {
		_, err := o.Analyze(context.Background(), Input{Text: &text})
		require.ErrorIs(t, err, models.ErrEmptyInput)

		_, err = o.AnalyzeFeatures(context.Background(), models.FeatureSet{Text: &models.TextFeatures{Text: text}})
		require.ErrorIs(t, err, models.ErrEmptyInput)
	}

	blank := " "
	_, err := o.Analyze(context.Background(), Input{Text: &blank, VideoPath: "walk.mp4"})
	require.ErrorIs(t, err, models.ErrNoUsableInput)

	report, err := o.AnalyzeFeatures(context.Background(), models.FeatureSet{Text: &models.TextFeatures{
		Classifications: []models.LabelScore{{Label: "possible flu", Score: 0.9}},
	}})
	require.NoError(t, err)
	require.NotNil(t, report.TextAnalysis)
}

func TestTextOnly(t *testing.T) {
	o := New(analysis.DefaultSuite())
	text := "fever and cough"

	report, err := o.Analyze(context.Background(), Input{Text: &text})
	require.NoError(t, err)
	require.NotEmpty(t, report.ID)
	require.Nil(t, report.VideoAnalysis)
	require.Nil(t, report.AudioAnalysis)
	require.Nil(t, report.VisionAnalysis)
	require.NotNil(t, report.TextAnalysis)
	require.Empty(t, report.ModalityErrors)

	require.Len(t, report.DifferentialDiagnosis, 1)
	require.Equal(t, analysis.LabelRespiratoryInfection, report.DifferentialDiagnosis[0].Condition)
	require.Equal(t, []models.Modality{models.ModalityText}, report.DifferentialDiagnosis[0].SupportingModalities)
	require.InDelta(t, 0.5, report.ConfidenceScores[analysis.LabelRespiratoryInfection], 1e-12)
	require.Len(t, report.Recommendations, 1)
	require.Subset(t, report.FollowUpQuestions, analysis.FollowUpQuestions)
	require.NotEmpty(t, report.Disclaimer)
}

func TestCrossModalEvidenceRaisesConfidence(t *testing.T) {
	o := New(analysis.DefaultSuite())
	wheezing := true

	report, err := o.AnalyzeFeatures(context.Background(), models.FeatureSet{
		Text:  &models.TextFeatures{Text: "I keep wheezing at night"},
		Audio: &models.AudioFeatures{Clips: []models.AudioClip{{Duration: 8, Breathing: models.BreathingPatterns{Wheezing: &wheezing}}}},
	})
	require.NoError(t, err)
	require.Len(t, report.DifferentialDiagnosis, 1)
	entry := report.DifferentialDiagnosis[0]
	require.Equal(t, analysis.LabelRespiratory, entry.Condition)
	require.InDelta(t, 1-(1-0.5)*(1-0.4), entry.Confidence, 1e-12)
	require.Equal(t, []models.Modality{models.ModalityAudio, models.ModalityText}, entry.SupportingModalities)
}

func TestVideoFeaturesAreSampled(t *testing.T) {
	var progress, totals []int
	o := New(analysis.DefaultSuite(), WithFrameObserver(func(done, total int) {
		progress = append(progress, done)
		totals = append(totals, total)
	}))

	frames := make([]*models.PoseFrame, 10)
	for i := range frames {
		frames[i] = &models.PoseFrame{FrameIndex: i, Landmarks: []models.Landmark{
			{ID: models.PoseLeftHeel, X: 0.50, Y: 0.9},
			{ID: models.PoseRightHeel, X: 0.52, Y: 0.9},
			{ID: models.PoseLeftShoulder, X: 0.4, Y: 0.3},
			{ID: models.PoseRightShoulder, X: 0.6, Y: 0.3},
			{ID: models.PoseLeftHip, X: 0.45, Y: 0.5},
			{ID: models.PoseRightHip, X: 0.55, Y: 0.5},
		}}
	}

	report, err := o.AnalyzeFeatures(context.Background(), models.FeatureSet{
		Video: &models.VideoFeatures{FrameCount: 10, PoseFrames: frames},
	})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, progress)
	require.Equal(t, []int{2, 2}, totals)

	gait, ok := report.VideoAnalysis.Section(models.SourceGait)
	require.True(t, ok)
	require.Equal(t, 2, gait.Units)
	require.Equal(t, []models.ConditionEvidence{{
		Label: analysis.LabelShufflingGait, Source: models.SourceGait, Count: 2, MaxStrength: analysis.StrengthShufflingGait,
	}}, gait.Conditions)

	facial, ok := report.VideoAnalysis.Section(models.SourceFacial)
	require.True(t, ok)
	require.Equal(t, models.CategoryUnknown, facial.Categorical["symmetry"])
}

func TestContextFrameObserver(t *testing.T) {
	o := New(analysis.DefaultSuite())
	var calls, last, lastTotal int
	ctx := ContextWithFrameObserver(context.Background(), func(done, total int) {
		calls++
		last, lastTotal = done, total
	})

	_, err := o.AnalyzeFeatures(ctx, models.FeatureSet{
		Video: &models.VideoFeatures{FaceFrames: []*models.FaceFrame{{FrameIndex: 0}}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, 1, last)
	require.Equal(t, 1, lastTotal)
}

type failingVideo struct{}

func (failingVideo) ExtractVideo(context.Context, string) (*models.VideoFeatures, error) {
	return nil, errors.New("decoder unavailable")
}

type slowAudio struct{}

func (slowAudio) ExtractAudio(ctx context.Context, _ string) (*models.AudioFeatures, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestFailingModalityIsIsolated(t *testing.T) {
	o := New(analysis.DefaultSuite(),
		WithVideoExtractor(failingVideo{}),
		WithAudioExtractor(slowAudio{}),
		WithModalityTimeout(20*time.Millisecond),
	)
	text := "fever and cough"

	report, err := o.Analyze(context.Background(), Input{Text: &text, VideoPath: "walk.mp4", AudioPath: "voice.wav", ImagePath: "arm.jpg"})
	require.NoError(t, err)
	require.NotNil(t, report.TextAnalysis)
	require.Nil(t, report.VideoAnalysis)
	require.Nil(t, report.AudioAnalysis)
	require.Nil(t, report.VisionAnalysis)
	require.Contains(t, report.ModalityErrors[models.ModalityVideo], "decoder unavailable")
	require.Contains(t, report.ModalityErrors[models.ModalityAudio], "deadline exceeded")
	require.Contains(t, report.ModalityErrors[models.ModalityVision], "no extractor")
	require.NotEmpty(t, report.DifferentialDiagnosis)
}

func TestEveryModalityFailing(t *testing.T) {
	o := New(analysis.DefaultSuite(), WithVideoExtractor(failingVideo{}))

	_, err := o.Analyze(context.Background(), Input{VideoPath: "walk.mp4"})
	require.ErrorIs(t, err, models.ErrNoUsableInput)
	require.Equal(t, models.CodeNoUsableInput, models.ErrorCode(err))
}

func TestEveryModalityTimingOut(t *testing.T) {
	o := New(analysis.DefaultSuite(),
		WithAudioExtractor(slowAudio{}),
		WithModalityTimeout(20*time.Millisecond),
	)

	_, err := o.Analyze(context.Background(), Input{AudioPath: "voice.wav"})
	require.ErrorIs(t, err, models.ErrNoUsableInput)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, models.CodeTimeout, models.ErrorCode(err))

	// One timeout among other failures is not a timeout of the request.
	o = New(analysis.DefaultSuite(),
		WithAudioExtractor(slowAudio{}),
		WithVideoExtractor(failingVideo{}),
		WithModalityTimeout(20*time.Millisecond),
	)
	_, err = o.Analyze(context.Background(), Input{AudioPath: "voice.wav", VideoPath: "walk.mp4"})
	require.Equal(t, models.CodeNoUsableInput, models.ErrorCode(err))
	require.Contains(t, err.Error(), "video: decoder unavailable")
}

func TestGeometryErrorFailsOnlyVideo(t *testing.T) {
	o := New(analysis.DefaultSuite())
	report, err := o.AnalyzeFeatures(context.Background(), models.FeatureSet{
		Text: &models.TextFeatures{Text: "my hands are shaking"},
		Video: &models.VideoFeatures{PoseFrames: []*models.PoseFrame{{
			Landmarks: []models.Landmark{{ID: models.PoseLeftHeel}},
		}}},
	})
	require.NoError(t, err)
	require.Nil(t, report.VideoAnalysis)
	require.Contains(t, report.ModalityErrors[models.ModalityVideo], "gait geometry")
}
