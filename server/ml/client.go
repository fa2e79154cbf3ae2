package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/san-kum/medassist/server/models"
)

const userAgent = "medassist/1.0"

// Client talks to the perception service that hosts the pose, face, speech,
// image and text models. It implements the orchestrator's extractors.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	config     *ClientConfig
	healthy    atomic.Bool
}

type ClientConfig struct {
	Timeout             time.Duration
	MaxRetries          int
	RetryDelay          time.Duration
	HealthCheckInterval time.Duration
}

func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Timeout:             60 * time.Second,
		MaxRetries:          3,
		RetryDelay:          1 * time.Second,
		HealthCheckInterval: 30 * time.Second,
	}
}

type FrameRequest struct {
	ImageData  []byte  `json:"image_data"`
	FrameIndex int     `json:"frame_index"`
	Timestamp  float64 `json:"timestamp"`
}

type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type TranscribeResponse struct {
	Segments []TranscriptSegment `json:"segments"`
	Language string              `json:"language"`
}

func (t *TranscribeResponse) Text() string {
	parts := make([]string, 0, len(t.Segments))
	for _, s := range t.Segments {
		if text := strings.TrimSpace(s.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

type ClassifyRequest struct {
	Text string `json:"text"`
}

type ClassifyResponse struct {
	Labels []models.LabelScore `json:"labels"`
}

func NewClient(baseURL string, config *ClientConfig, logger *zap.Logger) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		config:  config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:       10,
				IdleConnTimeout:    30 * time.Second,
				DisableCompression: true,
			},
		},
	}
}

// Start checks the service once and then keeps checking it until ctx ends.
func (c *Client) Start(ctx context.Context) {
	if err := c.HealthCheck(ctx); err != nil {
		c.logger.Warn("Perception service not available at startup", zap.Error(err))
	}
	go c.startHealthChecker(ctx)
}

func (c *Client) Healthy() bool { return c.healthy.Load() }

func (c *Client) DetectPose(ctx context.Context, req *FrameRequest) (*models.PoseFrame, error) {
	return c.detect(ctx, "/pose", req)
}

func (c *Client) DetectFace(ctx context.Context, req *FrameRequest) (*models.FaceFrame, error) {
	return c.detect(ctx, "/face", req)
}

func (c *Client) detect(ctx context.Context, path string, req *FrameRequest) (*models.LandmarkFrame, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	var frame models.LandmarkFrame
	if err := c.do(ctx, path, "application/json", body, &frame); err != nil {
		return nil, err
	}
	frame.FrameIndex = req.FrameIndex
	frame.Timestamp = req.Timestamp
	return &frame, nil
}

// ExtractVideo uploads a whole video; the service samples and detects.
func (c *Client) ExtractVideo(ctx context.Context, path string) (*models.VideoFeatures, error) {
	body, contentType, err := multipartFile(path, nil)
	if err != nil {
		return nil, err
	}
	var out models.VideoFeatures
	if err := c.do(ctx, "/video/landmarks", contentType, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExtractAudio fetches the pattern groups of a recording and its transcript.
// A failed transcription leaves the transcript unknown.
func (c *Client) ExtractAudio(ctx context.Context, path string) (*models.AudioFeatures, error) {
	body, contentType, err := multipartFile(path, nil)
	if err != nil {
		return nil, err
	}
	var clip models.AudioClip
	if err := c.do(ctx, "/audio/patterns", contentType, body, &clip); err != nil {
		return nil, err
	}

	var transcript TranscribeResponse
	if err := c.do(ctx, "/transcribe", contentType, body, &transcript); err != nil {
		c.logger.Warn("Transcription failed", zap.String("file", filepath.Base(path)), zap.Error(err))
	} else {
		text := transcript.Text()
		clip.Transcript = &text
	}
	return &models.AudioFeatures{Clips: []models.AudioClip{clip}}, nil
}

func (c *Client) ExtractImage(ctx context.Context, path string, prompts []string) (*models.ImageFeatures, error) {
	encoded, err := json.Marshal(prompts)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal prompts: %w", err)
	}
	body, contentType, err := multipartFile(path, map[string]string{"prompts": string(encoded)})
	if err != nil {
		return nil, err
	}
	var out models.ImageFeatures
	if err := c.do(ctx, "/image/analyze", contentType, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Classify(ctx context.Context, text string) ([]models.LabelScore, error) {
	body, err := json.Marshal(&ClassifyRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	var out ClassifyResponse
	if err := c.do(ctx, "/text/classify", "application/json", body, &out); err != nil {
		return nil, err
	}
	return out.Labels, nil
}

// do posts body to path, retrying with a growing delay, and decodes the
// JSON answer into out.
func (c *Client) do(ctx context.Context, path, contentType string, body []byte, out any) error {
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("Retrying perception request",
				zap.String("endpoint", path),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.config.RetryDelay * time.Duration(attempt)):
			}
		}

		err := c.execute(ctx, path, contentType, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) || ctx.Err() != nil {
			break
		}
	}

	return fmt.Errorf("perception request %s failed: %w", path, lastErr)
}

type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("perception service error (status %d): %s", e.Status, e.Body)
}

// Client errors will not change on retry.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status >= 500 || se.Status == http.StatusTooManyRequests
	}
	return true
}

func (c *Client) execute(ctx context.Context, path, contentType string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Status: resp.StatusCode, Body: string(data)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func multipartFile(path string, fields map[string]string) ([]byte, string, error) {
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	fw, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	fd, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open media: %w", err)
	}
	defer fd.Close()

	if _, err = io.Copy(fw, fd); err != nil {
		return nil, "", err
	}
	if err = w.Close(); err != nil {
		return nil, "", err
	}
	return b.Bytes(), w.FormDataContentType(), nil
}

func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	response, err := c.httpClient.Do(req)
	if err != nil {
		c.healthy.Store(false)
		return fmt.Errorf("health check failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		c.healthy.Store(false)
		return fmt.Errorf("perception service unhealthy (status %d)", response.StatusCode)
	}

	c.healthy.Store(true)
	return nil
}

func (c *Client) startHealthChecker(ctx context.Context) {
	ticker := time.NewTicker(c.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.HealthCheck(ctx); err != nil {
				c.logger.Error("Perception service health check failed", zap.Error(err))
			} else {
				c.logger.Debug("Perception service health check passed")
			}
		}
	}
}
