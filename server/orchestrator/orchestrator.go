// Package orchestrator runs the per-modality pipelines for one request and
// fuses their evidence into a report.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/san-kum/medassist/server/analysis"
	"github.com/san-kum/medassist/server/models"
	"github.com/san-kum/medassist/server/recommend"
)

const DefaultModalityTimeout = 60 * time.Second

// Input names the media of one request. Paths are files staged by the
// caller; empty means the modality was not supplied. Blank text counts as
// no text.
type Input struct {
	Text      *string
	ImagePath string
	AudioPath string
	VideoPath string
}

func (in Input) Empty() bool {
	return !in.HasText() && in.ImagePath == "" && in.AudioPath == "" && in.VideoPath == ""
}

func (in Input) HasText() bool {
	return in.Text != nil && strings.TrimSpace(*in.Text) != ""
}

type VideoExtractor interface {
	ExtractVideo(ctx context.Context, path string) (*models.VideoFeatures, error)
}

type AudioExtractor interface {
	ExtractAudio(ctx context.Context, path string) (*models.AudioFeatures, error)
}

type ImageExtractor interface {
	ExtractImage(ctx context.Context, path string, prompts []string) (*models.ImageFeatures, error)
}

type TextClassifier interface {
	Classify(ctx context.Context, text string) ([]models.LabelScore, error)
}

type Orchestrator struct {
	suite    *analysis.Suite
	recs     *recommend.Engine
	fuser    *Fuser
	video    VideoExtractor
	audio    AudioExtractor
	image    ImageExtractor
	text     TextClassifier
	timeout  time.Duration
	observer FrameObserver
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Orchestrator)

func WithVideoExtractor(e VideoExtractor) Option { return func(o *Orchestrator) { o.video = e } }

func WithAudioExtractor(e AudioExtractor) Option { return func(o *Orchestrator) { o.audio = e } }

func WithImageExtractor(e ImageExtractor) Option { return func(o *Orchestrator) { o.image = e } }

func WithTextClassifier(c TextClassifier) Option { return func(o *Orchestrator) { o.text = c } }

func WithRecommender(r *recommend.Engine) Option { return func(o *Orchestrator) { o.recs = r } }

func WithAliases(aliases map[string]string) Option {
	return func(o *Orchestrator) { o.fuser = NewFuser(aliases) }
}

// WithModalityTimeout bounds each modality separately; zero disables it.
func WithModalityTimeout(d time.Duration) Option { return func(o *Orchestrator) { o.timeout = d } }

func WithFrameObserver(fn FrameObserver) Option { return func(o *Orchestrator) { o.observer = fn } }

func WithLogger(l *zap.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

func New(suite *analysis.Suite, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		suite:   suite,
		recs:    recommend.NewEngine(recommend.Options{}),
		fuser:   NewFuser(nil),
		timeout: DefaultModalityTimeout,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type job func(ctx context.Context) (modalityResult, error)

// Analyze extracts features from the supplied media through the injected
// extractors and analyzes them. A modality whose extractor is missing or
// fails is reported in ModalityErrors and left out of the fusion.
func (o *Orchestrator) Analyze(ctx context.Context, in Input) (*models.Report, error) {
	if in.Empty() {
		return nil, models.ErrEmptyInput
	}

	jobs := make(map[models.Modality]job, 4)
	if in.HasText() {
		text := *in.Text
		jobs[models.ModalityText] = func(ctx context.Context) (modalityResult, error) {
			tf := &models.TextFeatures{Text: text}
			if o.text != nil {
				scores, err := o.text.Classify(ctx, text)
				if err != nil {
					o.logger.Warn("Text classification failed, using symptom rules only", zap.Error(err))
				} else {
					tf.Classifications = scores
				}
			}
			return o.analyzeText(ctx, tf)
		}
	}
	if in.ImagePath != "" {
		jobs[models.ModalityVision] = func(ctx context.Context) (modalityResult, error) {
			if o.image == nil {
				return modalityResult{}, errNoExtractor
			}
			img, err := o.image.ExtractImage(ctx, in.ImagePath, o.suite.Vision.Prompts())
			if err != nil {
				return modalityResult{}, err
			}
			return o.analyzeImage(ctx, img)
		}
	}
	if in.AudioPath != "" {
		jobs[models.ModalityAudio] = func(ctx context.Context) (modalityResult, error) {
			if o.audio == nil {
				return modalityResult{}, errNoExtractor
			}
			af, err := o.audio.ExtractAudio(ctx, in.AudioPath)
			if err != nil {
				return modalityResult{}, err
			}
			return o.analyzeAudio(ctx, af)
		}
	}
	if in.VideoPath != "" {
		jobs[models.ModalityVideo] = func(ctx context.Context) (modalityResult, error) {
			if o.video == nil {
				return modalityResult{}, errNoExtractor
			}
			vf, err := o.video.ExtractVideo(ctx, in.VideoPath)
			if err != nil {
				return modalityResult{}, err
			}
			return o.analyzeVideo(ctx, vf)
		}
	}
	return o.run(ctx, jobs)
}

// AnalyzeFeatures analyzes features that were already extracted.
func (o *Orchestrator) AnalyzeFeatures(ctx context.Context, fs models.FeatureSet) (*models.Report, error) {
	if fs.Empty() {
		return nil, models.ErrEmptyInput
	}
	jobs := make(map[models.Modality]job, 4)
	if !fs.Text.Empty() {
		jobs[models.ModalityText] = func(ctx context.Context) (modalityResult, error) { return o.analyzeText(ctx, fs.Text) }
	}
	if fs.Image != nil {
		jobs[models.ModalityVision] = func(ctx context.Context) (modalityResult, error) { return o.analyzeImage(ctx, fs.Image) }
	}
	if fs.Audio != nil {
		jobs[models.ModalityAudio] = func(ctx context.Context) (modalityResult, error) { return o.analyzeAudio(ctx, fs.Audio) }
	}
	if fs.Video != nil {
		jobs[models.ModalityVideo] = func(ctx context.Context) (modalityResult, error) { return o.analyzeVideo(ctx, fs.Video) }
	}
	return o.run(ctx, jobs)
}

var errNoExtractor = errors.New("no extractor configured")

type outcome struct {
	result modalityResult
	err    error
}

func (o *Orchestrator) run(ctx context.Context, jobs map[models.Modality]job) (*models.Report, error) {
	start := o.now()
	outcomes := make([]outcome, len(models.Modalities))

	var wg sync.WaitGroup
	for i, m := range models.Modalities {
		fn, ok := jobs[m]
		if !ok {
			continue
		}
		wg.Add(1)
		go func(i int, m models.Modality, fn job) {
			defer wg.Done()
			outcomes[i] = o.runOne(ctx, m, fn)
		}(i, m, fn)
	}
	wg.Wait()

	report := &models.Report{
		ID:                uuid.New().String(),
		GeneratedAt:       start.UTC(),
		Recommendations:   []string{},
		FollowUpQuestions: []string{},
		Disclaimer:        recommend.Disclaimer,
	}
	summaries := make(map[models.Modality]*models.ModalitySummary, len(jobs))
	var failures models.ModalityFailures
	for i, m := range models.Modalities {
		if _, ok := jobs[m]; !ok {
			continue
		}
		out := outcomes[i]
		if out.err != nil {
			if report.ModalityErrors == nil {
				report.ModalityErrors = make(map[models.Modality]string)
			}
			report.ModalityErrors[m] = out.err.Error()
			failures = append(failures, fmt.Errorf("%s: %w", m, out.err))
			o.logger.Warn("Modality analysis failed",
				zap.String("modality", string(m)),
				zap.Error(out.err),
			)
			continue
		}
		summaries[m] = out.result.summary
		report.SetAnalysis(m, out.result.summary)
		report.FollowUpQuestions = append(report.FollowUpQuestions, out.result.questions...)
	}
	if len(summaries) == 0 {
		return nil, fmt.Errorf("%w: %w", models.ErrNoUsableInput, failures)
	}

	report.DifferentialDiagnosis = o.fuser.Fuse(summaries)
	report.ConfidenceScores = confidenceScores(report.DifferentialDiagnosis)
	report.Recommendations = append(report.Recommendations, o.recs.ForDiagnosis(report.DifferentialDiagnosis)...)
	report.ProcessingTime = o.now().Sub(start).Seconds()

	o.logger.Debug("Diagnosis completed",
		zap.String("report_id", report.ID),
		zap.Int("modalities", len(summaries)),
		zap.Int("conditions", len(report.DifferentialDiagnosis)),
	)
	return report, nil
}

func (o *Orchestrator) runOne(ctx context.Context, m models.Modality, fn job) outcome {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%s analysis panicked: %v", m, r)}
			}
		}()
		res, err := fn(ctx)
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		return out
	case <-ctx.Done():
		return outcome{err: fmt.Errorf("%s analysis: %w", m, ctx.Err())}
	}
}
