// Package emitter publishes finished diagnosis reports to an MQTT broker.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/san-kum/medassist/server/config"
	"github.com/san-kum/medassist/server/models"
)

// ReportMessage is the broker payload: the fused outcome without the
// per-modality detail.
type ReportMessage struct {
	ReportID       string                     `json:"report_id"`
	GeneratedAt    time.Time                  `json:"generated_at"`
	Modalities     []models.Modality          `json:"modalities"`
	Conditions     []models.DiagnosisEntry    `json:"conditions"`
	ModalityErrors map[models.Modality]string `json:"modality_errors,omitempty"`
}

func NewReportMessage(report *models.Report) ReportMessage {
	msg := ReportMessage{
		ReportID:       report.ID,
		GeneratedAt:    report.GeneratedAt,
		Modalities:     []models.Modality{},
		Conditions:     report.DifferentialDiagnosis,
		ModalityErrors: report.ModalityErrors,
	}
	for _, m := range models.Modalities {
		if report.Analysis(m) != nil {
			msg.Modalities = append(msg.Modalities, m)
		}
	}
	if msg.Conditions == nil {
		msg.Conditions = []models.DiagnosisEntry{}
	}
	return msg
}

type MQTTEmitter struct {
	cfg    config.MQTTConfig
	client mqtt.Client
	logger *zap.Logger

	mu        sync.RWMutex
	published uint64
	errors    uint64
	connected bool
}

func NewMQTTEmitter(cfg config.MQTTConfig, logger *zap.Logger) *MQTTEmitter {
	return &MQTTEmitter{cfg: cfg, logger: logger}
}

// Connect establishes the broker connection; paho reconnects on its own
// afterwards.
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(e.cfg.Broker)
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		e.logger.Info("MQTT connection established",
			zap.String("broker", e.cfg.Broker),
			zap.String("client_id", e.cfg.ClientID))
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		e.logger.Warn("MQTT connection lost, will auto-reconnect",
			zap.String("broker", e.cfg.Broker),
			zap.Error(err))
	}

	e.client = mqtt.NewClient(opts)
	e.logger.Info("Connecting to MQTT broker", zap.String("broker", e.cfg.Broker))

	token := e.client.Connect()
	if !waitToken(ctx, token, e.cfg.Timeout) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

func (e *MQTTEmitter) Publish(ctx context.Context, report *models.Report) error {
	if !e.isConnected() {
		e.recordError()
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(NewReportMessage(report))
	if err != nil {
		e.recordError()
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	token := e.client.Publish(e.cfg.Topic, e.cfg.QoS, false, payload)
	if !waitToken(ctx, token, e.cfg.Timeout) {
		e.recordError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.recordError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()

	e.logger.Debug("Report published",
		zap.String("topic", e.cfg.Topic),
		zap.String("report_id", report.ID),
		zap.Int("size", len(payload)))
	return nil
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (e *MQTTEmitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		e.logger.Info("MQTT disconnected")
	}
	e.setConnected(false)
}

type Stats struct {
	Connected bool   `json:"connected"`
	Topic     string `json:"topic"`
	Published uint64 `json:"published"`
	Errors    uint64 `json:"errors"`
}

func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return Stats{
		Connected: e.connected,
		Topic:     e.cfg.Topic,
		Published: e.published,
		Errors:    e.errors,
	}
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) recordError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
