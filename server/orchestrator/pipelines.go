package orchestrator

import (
	"context"
	"fmt"

	"github.com/san-kum/medassist/server/aggregate"
	"github.com/san-kum/medassist/server/analysis"
	"github.com/san-kum/medassist/server/models"
)

// FrameObserver is told how many sampled frames of a video have been
// analyzed so far.
type FrameObserver func(done, total int)

type modalityResult struct {
	summary   *models.ModalitySummary
	questions []string
}

func (o *Orchestrator) analyzeVideo(ctx context.Context, vf *models.VideoFeatures) (modalityResult, error) {
	suite := o.suite
	poses := suite.Sampler.SelectPose(vf.PoseFrames)
	faces := suite.Sampler.SelectFace(vf.FaceFrames)
	total := len(poses) + len(faces)
	done := 0

	gait := make([]aggregate.Record, 0, len(poses))
	for _, f := range poses {
		if err := ctx.Err(); err != nil {
			return modalityResult{}, err
		}
		res, err := suite.Gait.Analyze(f)
		if err != nil {
			return modalityResult{}, err
		}
		gait = append(gait, res.Record())
		done++
		o.observe(ctx, done, total)
	}

	// The tremor tracker compares consecutive sampled frames, so faces are
	// walked strictly in order through one window.
	var window analysis.FrameWindow
	facial := make([]aggregate.Record, 0, len(faces))
	for _, f := range faces {
		if err := ctx.Err(); err != nil {
			return modalityResult{}, err
		}
		window.Push(f)
		res, err := suite.Facial.AnalyzeWindow(&window)
		if err != nil {
			return modalityResult{}, err
		}
		facial = append(facial, res.Record())
		done++
		o.observe(ctx, done, total)
	}

	gaitSummary, err := aggregate.Aggregate(suite.Gait.Schema(), gait)
	if err != nil {
		return modalityResult{}, fmt.Errorf("gait: %w", err)
	}
	facialSummary, err := aggregate.Aggregate(suite.Facial.Schema(), facial)
	if err != nil {
		return modalityResult{}, fmt.Errorf("facial: %w", err)
	}

	summary := &models.ModalitySummary{
		Modality: models.ModalityVideo,
		Sections: []models.Summary{gaitSummary, facialSummary},
		Details: map[string]any{
			"frame_count":    vf.FrameCount,
			"frame_stride":   suite.Sampler.Stride(),
			"sampled_frames": len(poses),
			"sampled_faces":  len(faces),
		},
	}
	summary.Recommendations = o.recs.ForLabels(append(gaitSummary.Labels(), facialSummary.Labels()...))
	return modalityResult{summary: summary}, nil
}

func (o *Orchestrator) analyzeAudio(ctx context.Context, af *models.AudioFeatures) (modalityResult, error) {
	records := make([]aggregate.Record, 0, len(af.Clips))
	transcripts := make([]string, 0, len(af.Clips))
	for _, clip := range af.Clips {
		if err := ctx.Err(); err != nil {
			return modalityResult{}, err
		}
		res, err := o.suite.Audio.Analyze(clip)
		if err != nil {
			return modalityResult{}, err
		}
		records = append(records, res.Record())
		if clip.Transcript != nil {
			transcripts = append(transcripts, *clip.Transcript)
		}
	}
	s, err := aggregate.Aggregate(o.suite.Audio.Schema(), records)
	if err != nil {
		return modalityResult{}, fmt.Errorf("audio: %w", err)
	}
	summary := &models.ModalitySummary{
		Modality:        models.ModalityAudio,
		Sections:        []models.Summary{s},
		Recommendations: o.recs.ForLabels(s.Labels()),
		Details:         map[string]any{"clips": len(af.Clips), "transcripts": transcripts},
	}
	return modalityResult{summary: summary}, nil
}

func (o *Orchestrator) analyzeImage(_ context.Context, img *models.ImageFeatures) (modalityResult, error) {
	res, err := o.suite.Vision.Analyze(*img)
	if err != nil {
		return modalityResult{}, err
	}
	s, err := aggregate.Aggregate(o.suite.Vision.Schema(), []aggregate.Record{res.Record()})
	if err != nil {
		return modalityResult{}, fmt.Errorf("vision: %w", err)
	}
	recs := o.recs.ForLabels(s.Labels())
	if len(res.TopMatches) > 0 {
		recs = append(o.recs.ForVision(res.TopMatches[0], o.suite.Rules.HealthyPrompt), recs...)
	}
	summary := &models.ModalitySummary{
		Modality:        models.ModalityVision,
		Sections:        []models.Summary{s},
		Recommendations: recs,
		Details: map[string]any{
			"top_matches": res.TopMatches,
			"detections":  img.Detections,
		},
	}
	return modalityResult{summary: summary}, nil
}

func (o *Orchestrator) analyzeText(_ context.Context, tf *models.TextFeatures) (modalityResult, error) {
	res, err := o.suite.Text.Analyze(*tf)
	if err != nil {
		return modalityResult{}, err
	}
	s, err := aggregate.Aggregate(o.suite.Text.Schema(), []aggregate.Record{res.Record()})
	if err != nil {
		return modalityResult{}, fmt.Errorf("text: %w", err)
	}
	summary := &models.ModalitySummary{
		Modality:        models.ModalityText,
		Sections:        []models.Summary{s},
		Recommendations: o.recs.ForLabels(s.Labels()),
		Details: map[string]any{
			"symptoms":        res.Symptoms,
			"classifications": tf.Classifications,
		},
	}
	return modalityResult{summary: summary, questions: res.Questions}, nil
}

type observerKey struct{}

// ContextWithFrameObserver attaches an observer for a single call, in
// addition to the one the orchestrator was built with.
func ContextWithFrameObserver(ctx context.Context, fn FrameObserver) context.Context {
	return context.WithValue(ctx, observerKey{}, fn)
}

func (o *Orchestrator) observe(ctx context.Context, done, total int) {
	if o.observer != nil {
		o.observer(done, total)
	}
	if fn, ok := ctx.Value(observerKey{}).(FrameObserver); ok && fn != nil {
		fn(done, total)
	}
}
