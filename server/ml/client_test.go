package ml

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/san-kum/medassist/server/models"
)

func testConfig() *ClientConfig {
	return &ClientConfig{Timeout: 2 * time.Second, MaxRetries: 2, RetryDelay: time.Millisecond, HealthCheckInterval: time.Hour}
}

func writeMedia(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("media-bytes"), 0o600))
	return path
}

func TestExtractAudioCombinesPatternsAndTranscript(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/audio/patterns", func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		require.Equal(t, "voice.wav", header.Filename)
		_, _ = w.Write([]byte(`{"sample_rate":16000,"duration":12,"breathing":{"wheezing":true},"cough":{"duration":"unknown"}}`))
	})
	mux.HandleFunc("/transcribe", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"segments":[{"text":" I have a cough "},{"text":"since Monday"}],"language":"en"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewClient(srv.URL, testConfig(), zap.NewNop())
	af, err := c.ExtractAudio(context.Background(), writeMedia(t, "voice.wav"))
	require.NoError(t, err)
	require.Len(t, af.Clips, 1)
	clip := af.Clips[0]
	require.Equal(t, 16000, clip.SampleRate)
	require.True(t, *clip.Breathing.Wheezing)
	require.False(t, clip.Cough.Duration.Known)
	require.Equal(t, "I have a cough since Monday", *clip.Transcript)
}

func TestExtractImageSendsPrompts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/image/analyze", r.URL.Path)
		var prompts []string
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("prompts")), &prompts))
		require.Equal(t, []string{"a", "b"}, prompts)
		_, _ = w.Write([]byte(`{"similarities":[{"label":"a","score":0.8}],"detections":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testConfig(), zap.NewNop())
	img, err := c.ExtractImage(context.Background(), writeMedia(t, "arm.jpg"), []string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, []models.LabelScore{{Label: "a", Score: 0.8}}, img.Similarities)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"labels":[{"label":"LABEL_1","score":0.7}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testConfig(), zap.NewNop())
	labels, err := c.Classify(context.Background(), "chest pain")
	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, "LABEL_1", labels[0].Label)
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad frame", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testConfig(), zap.NewNop())
	_, err := c.DetectPose(context.Background(), &FrameRequest{ImageData: []byte{0xff}, FrameIndex: 5})
	require.Error(t, err)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusBadRequest, se.Status)
	require.Equal(t, int32(1), calls.Load())
}

func TestDetectPoseKeepsFrameIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req FrameRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, []byte("jpeg"), req.ImageData)
		_, _ = w.Write([]byte(`{"landmarks":[{"id":29,"x":0.4,"y":0.9}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testConfig(), zap.NewNop())
	frame, err := c.DetectPose(context.Background(), &FrameRequest{ImageData: []byte("jpeg"), FrameIndex: 10, Timestamp: 0.4})
	require.NoError(t, err)
	require.Equal(t, 10, frame.FrameIndex)
	lm, ok := frame.Landmark(models.PoseLeftHeel)
	require.True(t, ok)
	require.Equal(t, 0.4, lm.X)
}

func TestHealthCheck(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testConfig(), zap.NewNop())
	require.False(t, c.Healthy())
	require.NoError(t, c.HealthCheck(context.Background()))
	require.True(t, c.Healthy())

	status = http.StatusInternalServerError
	require.Error(t, c.HealthCheck(context.Background()))
	require.False(t, c.Healthy())
}
