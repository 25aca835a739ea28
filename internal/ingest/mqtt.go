package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goodtune/adherence/internal/compliance"
	"github.com/goodtune/adherence/internal/config"
	"github.com/goodtune/adherence/internal/metrics"
	"github.com/goodtune/adherence/internal/storage"
	"github.com/rs/zerolog"
)

const (
	connectTimeout    = 10 * time.Second
	disconnectQuiesce = 250 // milliseconds
)

// UsageRecorder records one usage report.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, report compliance.UsageReport) (*storage.UsageSession, error)
}

// Subscriber feeds device usage messages from an MQTT broker into the
// recorder.
type Subscriber struct {
	client   mqtt.Client
	topic    string
	qos      byte
	recorder UsageRecorder
	ctx      context.Context
	cancel   context.CancelFunc
	logger   zerolog.Logger
}

// NewSubscriber creates a subscriber for cfg. It does not connect until Start.
func NewSubscriber(cfg config.MQTTConfig, recorder UsageRecorder, logger zerolog.Logger) *Subscriber {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Subscriber{
		topic:    cfg.Topic,
		qos:      byte(cfg.QoS),
		recorder: recorder,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.With().Str("component", "mqtt-ingest").Logger(),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(connectTimeout)
	// Subscriptions do not survive a clean-session reconnect.
	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	s.client = mqtt.NewClient(opts)
	return s
}

// Start connects to the broker. Subscription happens in the connect handler.
func (s *Subscriber) Start() error {
	s.logger.Info().Str("topic", s.topic).Msg("Starting MQTT ingest")

	token := s.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("timed out connecting to MQTT broker")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return nil
}

// Stop unsubscribes and disconnects.
func (s *Subscriber) Stop() error {
	s.logger.Info().Msg("Stopping MQTT ingest")
	s.cancel()

	if s.client.IsConnected() {
		token := s.client.Unsubscribe(s.topic)
		token.WaitTimeout(connectTimeout)
	}
	s.client.Disconnect(disconnectQuiesce)
	return nil
}

func (s *Subscriber) onConnect(client mqtt.Client) {
	token := client.Subscribe(s.topic, s.qos, func(_ mqtt.Client, msg mqtt.Message) {
		s.handle(s.ctx, msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		s.logger.Error().Err(token.Error()).Str("topic", s.topic).Msg("Failed to subscribe")
		return
	}
	s.logger.Info().Str("topic", s.topic).Msg("Subscribed to usage topic")
}

// handle records one message. Errors are logged and counted; the
// subscription keeps running.
func (s *Subscriber) handle(ctx context.Context, topic string, payload []byte) {
	report, err := decodeReport(s.topic, topic, payload)
	if err != nil {
		metrics.MQTTMessages.WithLabelValues("invalid").Inc()
		s.logger.Warn().Err(err).Str("topic", topic).Msg("Discarding malformed usage message")
		return
	}

	session, err := s.recorder.RecordUsage(ctx, report)
	switch {
	case errors.Is(err, compliance.ErrInvalidInput):
		metrics.MQTTMessages.WithLabelValues("invalid").Inc()
		s.logger.Warn().Err(err).Str("topic", topic).Msg("Rejected usage message")
	case err != nil:
		metrics.MQTTMessages.WithLabelValues("error").Inc()
		s.logger.Error().Err(err).Str("topic", topic).Msg("Failed to record usage message")
	default:
		metrics.MQTTMessages.WithLabelValues("recorded").Inc()
		s.logger.Debug().Str("session_id", session.ID).Str("topic", topic).Msg("Recorded usage from MQTT")
	}
}

// decodeReport parses payload. A device id missing from the payload is
// taken from the topic segment matching the filter's single-level wildcard.
func decodeReport(filter, topic string, payload []byte) (compliance.UsageReport, error) {
	var report compliance.UsageReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return report, fmt.Errorf("decode payload: %w", err)
	}
	if report.DeviceID == "" {
		report.DeviceID = topicWildcard(filter, topic)
	}
	return report, nil
}

func topicWildcard(filter, topic string) string {
	filterParts := strings.Split(filter, "/")
	topicParts := strings.Split(topic, "/")
	for i, part := range filterParts {
		if part == "+" && i < len(topicParts) {
			return topicParts[i]
		}
	}
	return ""
}
