package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/san-kum/medassist/server/analysis"
	"github.com/san-kum/medassist/server/models"
	"github.com/san-kum/medassist/server/processor"
)

const (
	MessagePoseFrame = "pose_frame"
	MessageFaceFrame = "face_frame"
	MessageEnd       = "end"
	MessagePing      = "ping"

	maxSessionFrames = 10000
	pongWait         = 60 * time.Second
	pingPeriod       = 54 * time.Second
	reportTimeout    = 2 * time.Minute
)

// WebSocketHandler runs live sessions: the client streams landmark frames
// as it detects them, gets per-frame metrics back, and asks for the fused
// report at the end.
type WebSocketHandler struct {
	suite     *analysis.Suite
	processor *processor.DiagnosisProcessor
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

type ClientMessage struct {
	Type  string                `json:"type"`
	Frame *models.LandmarkFrame `json:"frame,omitempty"`
	// Text optionally joins the final report as the text modality.
	Text *string `json:"text,omitempty"`
}

type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type FrameMetrics struct {
	FrameIndex int                 `json:"frame_index"`
	Source     models.Source       `json:"source"`
	Metrics    any                 `json:"metrics"`
	Hypotheses []models.Hypothesis `json:"hypotheses"`
}

func NewWebSocketHandler(suite *analysis.Suite, p *processor.DiagnosisProcessor, allowedOrigins []string, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		suite:     suite,
		processor: p,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				for _, allowed := range allowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}
}

// session holds the frames of one connection. Faces go through a single
// window in arrival order.
type session struct {
	sampler analysis.FrameSampler
	window  analysis.FrameWindow
	video   models.VideoFeatures
	seen    int
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket connection", zap.Error(err))
		return
	}
	defer conn.Close()

	clientIP := c.ClientIP()
	h.logger.Info("WebSocket client connected", zap.String("client_ip", clientIP))

	conn.SetReadLimit(10 * 1024 * 1024)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	go h.pingRoutine(conn, done)

	s := &session{sampler: h.suite.Sampler}
	for {
		var message ClientMessage
		if err := conn.ReadJSON(&message); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Error("WebSocket error", zap.Error(err))
			}
			return
		}
		// Sessions outlive the request deadline set by the middleware.
		if end := h.handleMessage(context.WithoutCancel(c.Request.Context()), conn, s, &message); end {
			h.logger.Info("WebSocket session finished",
				zap.String("client_ip", clientIP),
				zap.Int("frames", s.seen))
			return
		}
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, conn *websocket.Conn, s *session, message *ClientMessage) bool {
	switch message.Type {
	case MessagePoseFrame, MessageFaceFrame:
		if message.Frame == nil {
			h.sendError(conn, "Frame payload required")
			return false
		}
		if s.seen >= maxSessionFrames {
			h.sendError(conn, "Session frame limit reached")
			return false
		}
		s.seen++
		if !s.sampler.Keep(message.Frame.FrameIndex) {
			return false
		}
		if message.Type == MessagePoseFrame {
			h.processPose(conn, s, message.Frame)
		} else {
			h.processFace(conn, s, message.Frame)
		}
	case MessageEnd:
		h.finishSession(ctx, conn, s, message.Text)
		return true
	case MessagePing:
		h.sendMessage(conn, "pong", map[string]any{"timestamp": time.Now().Unix()})
	default:
		h.logger.Warn("Unknown message type received", zap.String("type", message.Type))
		h.sendError(conn, "Unknown message type: "+message.Type)
	}
	return false
}

func (h *WebSocketHandler) processPose(conn *websocket.Conn, s *session, frame *models.PoseFrame) {
	res, err := h.suite.Gait.Analyze(frame)
	if err != nil {
		h.sendError(conn, err.Error())
		return
	}
	s.video.PoseFrames = append(s.video.PoseFrames, frame)
	h.sendMessage(conn, "frame_metrics", FrameMetrics{
		FrameIndex: frame.FrameIndex,
		Source:     models.SourceGait,
		Metrics:    res.Metrics,
		Hypotheses: nonNil(res.Hypotheses),
	})
}

func (h *WebSocketHandler) processFace(conn *websocket.Conn, s *session, frame *models.FaceFrame) {
	res, err := h.analyzeFace(s, frame)
	if err != nil {
		h.sendError(conn, err.Error())
		return
	}
	h.sendMessage(conn, "frame_metrics", FrameMetrics{
		FrameIndex: frame.FrameIndex,
		Source:     models.SourceFacial,
		Metrics:    res.Metrics,
		Hypotheses: nonNil(res.Hypotheses),
	})
}

// analyzeFace measures frame against the session window. A frame that fails
// analysis leaves both the window and the collected frames unchanged.
func (h *WebSocketHandler) analyzeFace(s *session, frame *models.FaceFrame) (analysis.FacialResult, error) {
	saved := s.window
	s.window.Push(frame)
	res, err := h.suite.Facial.AnalyzeWindow(&s.window)
	if err != nil {
		s.window = saved
		return res, err
	}
	s.video.FaceFrames = append(s.video.FaceFrames, frame)
	return res, nil
}

// finishSession fuses the accepted frames, plus the optional text, through
// the processor.
func (h *WebSocketHandler) finishSession(ctx context.Context, conn *websocket.Conn, s *session, text *string) {
	var fs models.FeatureSet
	if len(s.video.PoseFrames) > 0 || len(s.video.FaceFrames) > 0 {
		video := s.video
		video.FrameCount = s.seen
		fs.Video = &video
	}
	if text != nil {
		fs.Text = &models.TextFeatures{Text: *text}
	}

	ctx, cancel := context.WithTimeout(ctx, reportTimeout)
	defer cancel()

	report, err := h.processor.DiagnoseFeatures(ctx, fs)
	if err != nil {
		if !errors.Is(err, models.ErrEmptyInput) {
			h.logger.Error("Live session diagnosis failed", zap.Error(err))
		}
		h.sendMessage(conn, "error", map[string]any{
			"code":      models.ErrorCode(err),
			"message":   err.Error(),
			"timestamp": time.Now().Unix(),
		})
		return
	}
	h.sendMessage(conn, "report", report)
}

func nonNil(h []models.Hypothesis) []models.Hypothesis {
	if h == nil {
		return []models.Hypothesis{}
	}
	return h
}

func (h *WebSocketHandler) sendMessage(conn *websocket.Conn, messageType string, data any) {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(ServerMessage{Type: messageType, Data: data}); err != nil {
		h.logger.Error("Failed to send WebSocket message", zap.Error(err))
	}
}

func (h *WebSocketHandler) sendError(conn *websocket.Conn, errorMsg string) {
	h.sendMessage(conn, "error", map[string]any{
		"message":   errorMsg,
		"timestamp": time.Now().Unix(),
	})
}

// pingRoutine uses WriteControl, which may run alongside the reader's
// writes.
func (h *WebSocketHandler) pingRoutine(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				h.logger.Error("Failed to send ping", zap.Error(err))
				return
			}
		case <-done:
			return
		}
	}
}
