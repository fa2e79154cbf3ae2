package handlers

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/san-kum/medassist/server/models"
	"github.com/san-kum/medassist/server/orchestrator"
	"github.com/san-kum/medassist/server/processor"
)

// HealthReporter is a dependency whose availability shows up in /health.
type HealthReporter interface {
	Healthy() bool
}

type DiagnosisHandler struct {
	processor  *processor.DiagnosisProcessor
	perception HealthReporter
	uploadDir  string
	logger     *zap.Logger

	mutex sync.Mutex
	stats *SystemStats
}

type SystemStats struct {
	TotalRequests  int64     `json:"total_requests"`
	ProcessedOK    int64     `json:"processed_ok"`
	ProcessedError int64     `json:"processed_error"`
	AvgProcessTime float64   `json:"avg_process_time_ms"`
	StartTime      time.Time `json:"start_time"`
}

var validExtensions = map[models.Modality][]string{
	models.ModalityVision: {".jpg", ".jpeg", ".png", ".bmp", ".webp"},
	models.ModalityAudio:  {".wav", ".mp3", ".m4a", ".ogg", ".flac", ".webm"},
	models.ModalityVideo:  {".mp4", ".avi", ".mov", ".mkv", ".webm"},
}

// uploadFields maps the multipart field names onto modalities.
var uploadFields = []struct {
	field    string
	modality models.Modality
}{
	{"image", models.ModalityVision},
	{"audio", models.ModalityAudio},
	{"video", models.ModalityVideo},
}

func NewDiagnosisHandler(p *processor.DiagnosisProcessor, perception HealthReporter, uploadDir string, logger *zap.Logger) *DiagnosisHandler {
	return &DiagnosisHandler{
		processor:  p,
		perception: perception,
		uploadDir:  uploadDir,
		logger:     logger,
		stats:      &SystemStats{StartTime: time.Now()},
	}
}

// Diagnose accepts a multipart form with an optional text field and
// optional image, audio and video files. Uploads are staged in a private
// directory that is removed before the response is written.
func (h *DiagnosisHandler) Diagnose(c *gin.Context) {
	start := time.Now()

	dir, err := os.MkdirTemp(h.uploadDir, "medassist-*")
	if err != nil {
		h.logger.Error("Failed to create staging directory", zap.Error(err))
		h.finish(c, nil, err, start)
		return
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			h.logger.Warn("Failed to remove staged uploads", zap.String("dir", dir), zap.Error(err))
		}
	}()

	in, err := h.stage(c, dir)
	if err != nil {
		h.record(false, start)
		fail(c, http.StatusBadRequest, models.CodeInvalidInput, err.Error(), start)
		return
	}

	report, err := h.processor.Diagnose(c.Request.Context(), in)
	h.finish(c, report, err, start)
}

func (h *DiagnosisHandler) stage(c *gin.Context, dir string) (orchestrator.Input, error) {
	var in orchestrator.Input
	if text, ok := c.GetPostForm("text"); ok {
		in.Text = &text
	}

	for _, f := range uploadFields {
		header, err := c.FormFile(f.field)
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if err != nil {
			return in, fmt.Errorf("invalid %s upload: %w", f.field, err)
		}
		path, err := saveUpload(c, header, dir, f.modality)
		if err != nil {
			return in, err
		}
		switch f.modality {
		case models.ModalityVision:
			in.ImagePath = path
		case models.ModalityAudio:
			in.AudioPath = path
		case models.ModalityVideo:
			in.VideoPath = path
		}
	}
	return in, nil
}

func saveUpload(c *gin.Context, header *multipart.FileHeader, dir string, m models.Modality) (string, error) {
	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !isValidExtension(m, ext) {
		return "", fmt.Errorf("invalid %s file type %q", m, ext)
	}
	path := filepath.Join(dir, string(m)+ext)
	if err := c.SaveUploadedFile(header, path); err != nil {
		return "", fmt.Errorf("failed to stage %s upload: %w", m, err)
	}
	return path, nil
}

func isValidExtension(m models.Modality, ext string) bool {
	for _, valid := range validExtensions[m] {
		if ext == valid {
			return true
		}
	}
	return false
}

func (h *DiagnosisHandler) DiagnoseFeatures(c *gin.Context) {
	start := time.Now()

	var fs models.FeatureSet
	if err := c.ShouldBindJSON(&fs); err != nil {
		h.record(false, start)
		fail(c, http.StatusBadRequest, models.CodeInvalidInput, "Invalid request format: "+err.Error(), start)
		return
	}

	report, err := h.processor.DiagnoseFeatures(c.Request.Context(), fs)
	h.finish(c, report, err, start)
}

func (h *DiagnosisHandler) finish(c *gin.Context, report *models.Report, err error, start time.Time) {
	if err != nil {
		h.record(false, start)
		h.logger.Error("Diagnosis failed",
			zap.Error(err),
			zap.String("client_ip", c.ClientIP()))
		failWith(c, err, start)
		return
	}
	h.record(true, start)
	respond(c, http.StatusOK, report, start)
}

func (h *DiagnosisHandler) SubmitJob(c *gin.Context) {
	start := time.Now()

	var fs models.FeatureSet
	if err := c.ShouldBindJSON(&fs); err != nil {
		fail(c, http.StatusBadRequest, models.CodeInvalidInput, "Invalid request format: "+err.Error(), start)
		return
	}

	job, err := h.processor.SubmitFeatures(fs)
	if err != nil {
		failWith(c, err, start)
		return
	}
	respond(c, http.StatusAccepted, job, start)
}

func (h *DiagnosisHandler) GetJob(c *gin.Context) {
	start := time.Now()

	job, err := h.processor.Job(c.Param("job_id"))
	if err != nil {
		failWith(c, err, start)
		return
	}
	respond(c, http.StatusOK, job, start)
}

func (h *DiagnosisHandler) GetStats(c *gin.Context) {
	start := time.Now()

	h.mutex.Lock()
	system := *h.stats
	h.mutex.Unlock()

	var successRate, errorRate float64
	if system.TotalRequests > 0 {
		successRate = float64(system.ProcessedOK) / float64(system.TotalRequests) * 100
		errorRate = float64(system.ProcessedError) / float64(system.TotalRequests) * 100
	}

	respond(c, http.StatusOK, gin.H{
		"system":    system,
		"processor": h.processor.GetStats(),
		"queue":     h.processor.GetQueueStats(),
		"metrics": gin.H{
			"success_rate":   successRate,
			"error_rate":     errorRate,
			"uptime_seconds": time.Since(system.StartTime).Seconds(),
		},
	}, start)
}

func (h *DiagnosisHandler) GetCacheStats(c *gin.Context) {
	start := time.Now()

	stats, err := h.processor.GetCacheStats(c.Request.Context())
	if err != nil {
		fail(c, http.StatusServiceUnavailable, models.CodeInternal, err.Error(), start)
		return
	}
	respond(c, http.StatusOK, stats, start)
}

// Health reports degraded rather than failing when the perception service
// is down, since pre-extracted features can still be analyzed.
func (h *DiagnosisHandler) Health(c *gin.Context) {
	status := "healthy"
	perception := "unknown"
	if h.perception != nil {
		perception = "up"
		if !h.perception.Healthy() {
			perception = "down"
			status = "degraded"
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     status,
		"perception": perception,
		"timestamp":  time.Now().Unix(),
		"service":    "medassist",
		"version":    apiVersion,
	})
}

func (h *DiagnosisHandler) record(ok bool, start time.Time) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.stats.TotalRequests++
	if !ok {
		h.stats.ProcessedError++
		return
	}
	h.stats.ProcessedOK++

	currentTime := float64(time.Since(start).Milliseconds())
	if h.stats.AvgProcessTime == 0 {
		h.stats.AvgProcessTime = currentTime
	} else {
		alpha := 0.1
		h.stats.AvgProcessTime = alpha*currentTime + (1-alpha)*h.stats.AvgProcessTime
	}
}
