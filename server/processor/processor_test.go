package processor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/san-kum/medassist/server/analysis"
	"github.com/san-kum/medassist/server/cache"
	"github.com/san-kum/medassist/server/models"
	"github.com/san-kum/medassist/server/orchestrator"
)

type recordingPublisher struct {
	mu      sync.Mutex
	reports []string
}

func (r *recordingPublisher) Publish(_ context.Context, report *models.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report.ID)
	return nil
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}

type countingAnalyzer struct {
	*orchestrator.Orchestrator
	calls atomic.Int32
}

func (c *countingAnalyzer) AnalyzeFeatures(ctx context.Context, fs models.FeatureSet) (*models.Report, error) {
	c.calls.Add(1)
	return c.Orchestrator.AnalyzeFeatures(ctx, fs)
}

func (c *countingAnalyzer) Analyze(ctx context.Context, in orchestrator.Input) (*models.Report, error) {
	c.calls.Add(1)
	return c.Orchestrator.Analyze(ctx, in)
}

func newProcessor(t *testing.T, analyzer Analyzer, config ProcessorConfig, opts ...Option) *DiagnosisProcessor {
	t.Helper()
	p := NewDiagnosisProcessor(analyzer, config, zap.NewNop(), opts...)
	t.Cleanup(func() { _ = p.Shutdown() })
	return p
}

func textFeatures(text string) models.FeatureSet {
	return models.FeatureSet{Text: &models.TextFeatures{Text: text}}
}

func TestDiagnoseFeaturesCachesReports(t *testing.T) {
	analyzer := &countingAnalyzer{Orchestrator: orchestrator.New(analysis.DefaultSuite())}
	pub := &recordingPublisher{}
	c := cache.NewMemoryCache(10, time.Minute, zap.NewNop())
	p := newProcessor(t, analyzer, DefaultProcessorConfig(), WithCache(c), WithPublisher(pub))

	first, err := p.DiagnoseFeatures(context.Background(), textFeatures("fever and cough"))
	require.NoError(t, err)
	second, err := p.DiagnoseFeatures(context.Background(), textFeatures("fever and cough"))
	require.NoError(t, err)

	require.Equal(t, int32(1), analyzer.calls.Load())
	require.Equal(t, first.ID, second.ID)
	require.Len(t, second.DifferentialDiagnosis, len(first.DifferentialDiagnosis))
	require.Equal(t, first.DifferentialDiagnosis[0].Condition, second.DifferentialDiagnosis[0].Condition)
	require.Equal(t, 1, pub.count())

	stats := p.GetStats()
	require.Equal(t, int64(1), stats.SuccessfullyProcessed)
	require.Equal(t, int64(1), stats.CacheHits)

	_, err = p.DiagnoseFeatures(context.Background(), models.FeatureSet{})
	require.ErrorIs(t, err, models.ErrEmptyInput)
}

func TestDiagnoseHashesFileContent(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.mp4")
	b := filepath.Join(dir, "b.mp4")
	require.NoError(t, os.WriteFile(a, []byte("same"), 0o600))
	require.NoError(t, os.WriteFile(b, []byte("same"), 0o600))
	text := "hello"

	ha, err := inputHash(orchestrator.Input{Text: &text, VideoPath: a})
	require.NoError(t, err)
	hb, err := inputHash(orchestrator.Input{Text: &text, VideoPath: b})
	require.NoError(t, err)
	require.Equal(t, ha, hb)

	hc, err := inputHash(orchestrator.Input{Text: &text, AudioPath: a})
	require.NoError(t, err)
	require.NotEqual(t, ha, hc)

	_, err = inputHash(orchestrator.Input{VideoPath: filepath.Join(dir, "missing.mp4")})
	require.Error(t, err)
}

func TestSubmitFeaturesCompletesJob(t *testing.T) {
	p := newProcessor(t, orchestrator.New(analysis.DefaultSuite()), DefaultProcessorConfig())

	job, err := p.SubmitFeatures(textFeatures("I have a rash"))
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)

	require.Eventually(t, func() bool {
		j, err := p.Job(job.ID)
		return err == nil && j.Status == JobCompleted
	}, 2*time.Second, 5*time.Millisecond)

	done, err := p.Job(job.ID)
	require.NoError(t, err)
	require.Equal(t, 100.0, done.Progress)
	require.NotNil(t, done.Report)

	_, err = p.Job("missing")
	require.ErrorIs(t, err, models.ErrJobNotFound)
}

type blockingAnalyzer struct {
	started chan struct{}
	release chan struct{}
	panics  bool
	err     error
}

func (b *blockingAnalyzer) Analyze(ctx context.Context, _ orchestrator.Input) (*models.Report, error) {
	return b.AnalyzeFeatures(ctx, models.FeatureSet{})
}

func (b *blockingAnalyzer) AnalyzeFeatures(ctx context.Context, _ models.FeatureSet) (*models.Report, error) {
	if b.started != nil {
		b.started <- struct{}{}
	}
	if b.release != nil {
		<-b.release
	}
	if b.panics {
		panic("boom")
	}
	if b.err != nil {
		return nil, b.err
	}
	return &models.Report{ID: "r"}, nil
}

func TestQueueFull(t *testing.T) {
	b := &blockingAnalyzer{started: make(chan struct{}, 4), release: make(chan struct{})}
	p := newProcessor(t, b, ProcessorConfig{Workers: 1, QueueSize: 1})
	defer close(b.release)

	_, err := p.SubmitFeatures(textFeatures("one"))
	require.NoError(t, err)
	<-b.started

	_, err = p.SubmitFeatures(textFeatures("two"))
	require.NoError(t, err)
	_, err = p.SubmitFeatures(textFeatures("three"))
	require.ErrorIs(t, err, models.ErrQueueFull)
	require.Equal(t, models.CodeQueueFull, models.ErrorCode(err))
	require.Equal(t, 2, p.GetStats().ActiveJobs)
}

func TestPanicFailsJob(t *testing.T) {
	p := newProcessor(t, &blockingAnalyzer{panics: true}, DefaultProcessorConfig())

	_, err := p.DiagnoseFeatures(context.Background(), textFeatures("x"))
	require.ErrorContains(t, err, "boom")

	job, err := p.SubmitFeatures(textFeatures("y"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		j, _ := p.Job(job.ID)
		return j.Status == JobFailed
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, int64(2), p.GetStats().FailedProcessed)
}

func TestFailedJobCarriesErrorCode(t *testing.T) {
	p := newProcessor(t, &blockingAnalyzer{err: models.ErrNoUsableInput}, DefaultProcessorConfig())

	job, err := p.SubmitFeatures(textFeatures("z"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		j, _ := p.Job(job.ID)
		return j.Status == JobFailed
	}, 2*time.Second, 5*time.Millisecond)

	j, _ := p.Job(job.ID)
	require.Equal(t, models.CodeNoUsableInput, j.ErrorCode)
}

func TestPruneJobs(t *testing.T) {
	p := newProcessor(t, &blockingAnalyzer{}, ProcessorConfig{JobRetention: time.Hour})
	now := time.Now()
	p.jobs["old"] = &Job{ID: "old", Status: JobCompleted, UpdatedAt: now.Add(-2 * time.Hour)}
	p.jobs["new"] = &Job{ID: "new", Status: JobCompleted, UpdatedAt: now}

	require.Equal(t, 1, p.pruneJobs(now))
	_, err := p.Job("old")
	require.True(t, errors.Is(err, models.ErrJobNotFound))
	_, err = p.Job("new")
	require.NoError(t, err)
}
