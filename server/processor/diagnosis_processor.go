package processor

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/san-kum/medassist/server/cache"
	"github.com/san-kum/medassist/server/models"
	"github.com/san-kum/medassist/server/orchestrator"
)

// Analyzer is the diagnosis pipeline the processor schedules.
type Analyzer interface {
	Analyze(ctx context.Context, in orchestrator.Input) (*models.Report, error)
	AnalyzeFeatures(ctx context.Context, fs models.FeatureSet) (*models.Report, error)
}

// Publisher forwards finished reports, e.g. to a message broker.
type Publisher interface {
	Publish(ctx context.Context, report *models.Report) error
}

type ProcessorConfig struct {
	Workers           int           `json:"workers"`
	QueueSize         int           `json:"queue_size"`
	CacheTTL          time.Duration `json:"cache_ttl"`
	JobRetention      time.Duration `json:"job_retention"`
	ProcessingTimeout time.Duration `json:"processing_timeout"`
}

func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		Workers:           4,
		QueueSize:         64,
		CacheTTL:          10 * time.Minute,
		JobRetention:      1 * time.Hour,
		ProcessingTimeout: 2 * time.Minute,
	}
}

type ProcessorStats struct {
	StartTime             time.Time `json:"start_time"`
	TotalProcessed        int64     `json:"total_processed"`
	SuccessfullyProcessed int64     `json:"successfully_processed"`
	FailedProcessed       int64     `json:"failed_processed"`
	CacheHits             int64     `json:"cache_hits"`
	AverageLatency        float64   `json:"average_latency_ms"`
	QueueSize             int       `json:"queue_size"`
	ActiveWorkers         int       `json:"active_workers"`
	ActiveJobs            int       `json:"active_jobs"`
}

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

func (s JobStatus) Finished() bool {
	return s == JobCompleted || s == JobFailed
}

type Job struct {
	ID        string         `json:"id"`
	Status    JobStatus      `json:"status"`
	Progress  float64        `json:"progress"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Report    *models.Report `json:"report,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorCode string         `json:"error_code,omitempty"`
}

type DiagnosisProcessor struct {
	analyzer  Analyzer
	cache     cache.Cache
	publisher Publisher
	logger    *zap.Logger
	queue     *ProcessingQueue
	stats     *ProcessorStats
	config    ProcessorConfig
	mutex     sync.RWMutex
	jobs      map[string]*Job
	ctx       context.Context
	cancel    context.CancelFunc
	janitor   *time.Ticker
	now       func() time.Time
}

type Option func(*DiagnosisProcessor)

func WithCache(c cache.Cache) Option { return func(p *DiagnosisProcessor) { p.cache = c } }

func WithPublisher(pub Publisher) Option { return func(p *DiagnosisProcessor) { p.publisher = pub } }

func NewDiagnosisProcessor(analyzer Analyzer, config ProcessorConfig, logger *zap.Logger, opts ...Option) *DiagnosisProcessor {
	defaults := DefaultProcessorConfig()
	if config.Workers < 1 {
		config.Workers = defaults.Workers
	}
	if config.QueueSize < 1 {
		config.QueueSize = defaults.QueueSize
	}
	if config.JobRetention <= 0 {
		config.JobRetention = defaults.JobRetention
	}
	if config.ProcessingTimeout <= 0 {
		config.ProcessingTimeout = defaults.ProcessingTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &DiagnosisProcessor{
		analyzer: analyzer,
		logger:   logger,
		config:   config,
		jobs:     make(map[string]*Job),
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
		stats: &ProcessorStats{
			StartTime:     time.Now(),
			ActiveWorkers: config.Workers,
		},
	}
	for _, opt := range opts {
		opt(p)
	}

	p.queue = NewProcessingQueue(config.QueueSize, config.Workers, p.processItem)
	p.janitor = time.NewTicker(janitorInterval(config.JobRetention))
	go p.cleanupJobs()

	return p
}

func janitorInterval(retention time.Duration) time.Duration {
	interval := retention / 4
	switch {
	case interval <= 0:
		return time.Millisecond
	case interval > time.Minute:
		return time.Minute
	}
	return interval
}

// Diagnose runs the pipeline on staged media. Identical inputs are served
// from the report cache.
func (p *DiagnosisProcessor) Diagnose(ctx context.Context, in orchestrator.Input) (*models.Report, error) {
	if in.Empty() {
		return nil, models.ErrEmptyInput
	}
	key := ""
	if hash, err := inputHash(in); err != nil {
		p.logger.Warn("Failed to hash input, skipping cache", zap.Error(err))
	} else {
		key = cache.GenerateCacheKey("input", hash)
	}
	return p.process(ctx, &Task{Key: key, Run: func(ctx context.Context) (*models.Report, error) {
		return p.analyzer.Analyze(ctx, in)
	}})
}

func (p *DiagnosisProcessor) DiagnoseFeatures(ctx context.Context, fs models.FeatureSet) (*models.Report, error) {
	if fs.Empty() {
		return nil, models.ErrEmptyInput
	}
	return p.process(ctx, &Task{Key: p.featuresKey(fs), Run: func(ctx context.Context) (*models.Report, error) {
		return p.analyzer.AnalyzeFeatures(ctx, fs)
	}})
}

func (p *DiagnosisProcessor) process(ctx context.Context, task *Task) (*models.Report, error) {
	if report, ok := p.cached(ctx, task.Key); ok {
		return report, nil
	}

	resultChan := make(chan *ProcessingResult, 1)
	item := &QueueItem{Ctx: ctx, Task: task, ResultChan: resultChan, StartTime: p.now()}
	if !p.queue.Enqueue(item) {
		p.recordFailure()
		return nil, models.ErrQueueFull
	}

	select {
	case result := <-resultChan:
		return result.Report, result.Error
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SubmitFeatures queues an asynchronous diagnosis and returns its job.
func (p *DiagnosisProcessor) SubmitFeatures(fs models.FeatureSet) (*Job, error) {
	if fs.Empty() {
		return nil, models.ErrEmptyInput
	}

	now := p.now()
	job := &Job{ID: uuid.New().String(), Status: JobQueued, CreatedAt: now, UpdatedAt: now}
	key := p.featuresKey(fs)

	if report, ok := p.cached(p.ctx, key); ok {
		job.Status, job.Progress, job.Report = JobCompleted, 100, report
		p.mutex.Lock()
		p.jobs[job.ID] = job
		p.mutex.Unlock()
		return p.Job(job.ID)
	}

	id := job.ID
	task := &Task{Key: key, Job: job, Run: func(ctx context.Context) (*models.Report, error) {
		ctx = orchestrator.ContextWithFrameObserver(ctx, func(done, total int) { p.setProgress(id, done, total) })
		return p.analyzer.AnalyzeFeatures(ctx, fs)
	}}

	p.mutex.Lock()
	p.jobs[id] = job
	p.mutex.Unlock()

	item := &QueueItem{Ctx: p.ctx, Task: task, ResultChan: make(chan *ProcessingResult, 1), StartTime: now}
	if !p.queue.Enqueue(item) {
		p.mutex.Lock()
		delete(p.jobs, id)
		p.mutex.Unlock()
		p.recordFailure()
		return nil, models.ErrQueueFull
	}

	p.logger.Debug("Diagnosis job queued", zap.String("job_id", id))
	return p.Job(id)
}

// Job returns a snapshot of the job.
func (p *DiagnosisProcessor) Job(id string) (*Job, error) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	job, exists := p.jobs[id]
	if !exists {
		return nil, models.ErrJobNotFound
	}
	snapshot := *job
	return &snapshot, nil
}

func (p *DiagnosisProcessor) processItem(item *QueueItem) {
	task := item.Task
	if task.Job != nil {
		p.updateJob(task.Job.ID, func(j *Job) { j.Status = JobProcessing })
	}

	report, err := p.run(item)
	latency := p.now().Sub(item.StartTime)

	if err != nil {
		p.recordFailure()
		p.logger.Warn("Diagnosis failed", zap.Error(err), zap.Duration("latency", latency))
	} else {
		p.recordSuccess(latency)
		p.store(task.Key, report)
		p.publish(report)
	}

	if task.Job != nil {
		p.updateJob(task.Job.ID, func(j *Job) {
			if err != nil {
				j.Status, j.Error, j.ErrorCode = JobFailed, err.Error(), models.ErrorCode(err)
				return
			}
			j.Status, j.Progress, j.Report = JobCompleted, 100, report
		})
	}

	item.reply(&ProcessingResult{Report: report, Error: err})
}

func (p *DiagnosisProcessor) run(item *QueueItem) (report *models.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Diagnosis panic", zap.Any("panic", r))
			report, err = nil, fmt.Errorf("processing failed: %v", r)
		}
	}()

	parent := item.Ctx
	if parent == nil {
		parent = p.ctx
	}
	ctx, cancel := context.WithTimeout(parent, p.config.ProcessingTimeout)
	defer cancel()
	return item.Task.Run(ctx)
}

func (p *DiagnosisProcessor) cached(ctx context.Context, key string) (*models.Report, bool) {
	if p.cache == nil || key == "" {
		return nil, false
	}
	var report models.Report
	if err := p.cache.Get(ctx, key, &report); err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			p.logger.Warn("Failed to read cached report", zap.Error(err))
		}
		return nil, false
	}

	p.mutex.Lock()
	p.stats.CacheHits++
	p.mutex.Unlock()
	p.logger.Debug("Cache hit for diagnosis", zap.String("key", key))
	return &report, true
}

func (p *DiagnosisProcessor) store(key string, report *models.Report) {
	if p.cache == nil || key == "" || report == nil {
		return
	}
	if err := p.cache.SetWithTTL(p.ctx, key, report, p.config.CacheTTL); err != nil {
		p.logger.Warn("Failed to cache report", zap.Error(err))
	}
}

func (p *DiagnosisProcessor) publish(report *models.Report) {
	if p.publisher == nil || report == nil {
		return
	}
	if err := p.publisher.Publish(p.ctx, report); err != nil {
		p.logger.Warn("Failed to publish report", zap.String("report_id", report.ID), zap.Error(err))
	}
}

func (p *DiagnosisProcessor) updateJob(id string, fn func(*Job)) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if job, exists := p.jobs[id]; exists {
		fn(job)
		job.UpdatedAt = p.now()
	}
}

// setProgress keeps a running job below 100 until its report is stored.
func (p *DiagnosisProcessor) setProgress(id string, done, total int) {
	if total <= 0 {
		return
	}
	progress := float64(done) / float64(total) * 100
	if progress > 99 {
		progress = 99
	}
	p.updateJob(id, func(j *Job) {
		if !j.Status.Finished() {
			j.Progress = progress
		}
	})
}

func (p *DiagnosisProcessor) recordSuccess(latency time.Duration) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.stats.TotalProcessed++
	p.stats.SuccessfullyProcessed++

	currentLatency := float64(latency.Milliseconds())
	if p.stats.AverageLatency == 0 {
		p.stats.AverageLatency = currentLatency
	} else {
		alpha := 0.1
		p.stats.AverageLatency = alpha*currentLatency + (1-alpha)*p.stats.AverageLatency
	}
}

func (p *DiagnosisProcessor) recordFailure() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.stats.TotalProcessed++
	p.stats.FailedProcessed++
}

func (p *DiagnosisProcessor) GetStats() *ProcessorStats {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	stats := *p.stats
	stats.QueueSize = p.queue.Size()
	for _, job := range p.jobs {
		if !job.Status.Finished() {
			stats.ActiveJobs++
		}
	}
	return &stats
}

func (p *DiagnosisProcessor) GetQueueStats() QueueStats {
	return p.queue.GetQueueStats()
}

func (p *DiagnosisProcessor) GetCacheStats(ctx context.Context) (*cache.CacheStats, error) {
	if p.cache == nil {
		return nil, fmt.Errorf("cache not initialized")
	}
	return p.cache.GetStats(ctx)
}

func (p *DiagnosisProcessor) cleanupJobs() {
	for {
		select {
		case <-p.janitor.C:
			if n := p.pruneJobs(p.now()); n > 0 {
				p.logger.Debug("Pruned diagnosis jobs", zap.Int("count", n))
			}
		case <-p.ctx.Done():
			return
		}
	}
}

// pruneJobs drops jobs untouched for longer than the retention period.
func (p *DiagnosisProcessor) pruneJobs(now time.Time) int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	pruned := 0
	for id, job := range p.jobs {
		if now.Sub(job.UpdatedAt) > p.config.JobRetention {
			delete(p.jobs, id)
			pruned++
		}
	}
	return pruned
}

func (p *DiagnosisProcessor) featuresKey(fs models.FeatureSet) string {
	data, err := json.Marshal(fs)
	if err != nil {
		p.logger.Warn("Failed to hash features, skipping cache", zap.Error(err))
		return ""
	}
	return cache.GenerateCacheKey("features", fmt.Sprintf("%x", md5.Sum(data)))
}

// inputHash digests the text and the content of every staged file, so a
// re-upload under another name still hits the cache.
func inputHash(in orchestrator.Input) (string, error) {
	h := md5.New()
	if in.HasText() {
		fmt.Fprintf(h, "text:%d:%s", len(*in.Text), *in.Text)
	}
	for _, part := range []struct{ name, path string }{
		{"image", in.ImagePath},
		{"audio", in.AudioPath},
		{"video", in.VideoPath},
	} {
		if part.path == "" {
			continue
		}
		fmt.Fprintf(h, "|%s:", part.name)
		f, err := os.Open(part.path)
		if err != nil {
			return "", err
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func (p *DiagnosisProcessor) Shutdown() error {
	p.logger.Info("Shutting down diagnosis processor...")

	p.cancel()
	p.janitor.Stop()

	if err := p.queue.Shutdown(30 * time.Second); err != nil {
		p.logger.Error("Failed to shutdown queue", zap.Error(err))
		return err
	}

	if p.cache != nil {
		if err := p.cache.Close(); err != nil {
			p.logger.Error("Failed to close cache", zap.Error(err))
			return err
		}
	}

	p.logger.Info("Diagnosis processor shutdown complete")
	return nil
}
