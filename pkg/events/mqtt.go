package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/NicolasHaas/warden/pkg/metrics"
)

const (
	DefaultTopic        = "warden/punishments"
	defaultQueueSize    = 256
	defaultPublishLimit = 5 * time.Second
)

// MQTTConfig selects the broker. An empty Broker disables the sink.
type MQTTConfig struct {
	Broker   string `yaml:"broker" env:"BROKER"`
	ClientID string `yaml:"client_id" env:"CLIENT_ID"`
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
	Topic    string `yaml:"topic" env:"TOPIC"`
}

// Enabled reports whether a broker is configured.
func (c MQTTConfig) Enabled() bool {
	return strings.TrimSpace(c.Broker) != ""
}

// DialMQTT connects to the configured broker. The client keeps
// reconnecting on its own after the first successful connect.
func DialMQTT(cfg MQTTConfig, log *slog.Logger) (mqtt.Client, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "warden"
	}
	uniqueID := fmt.Sprintf("%s_%s", clientID, uuid.New().String())

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(uniqueID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(mqtt.Client) {
			log.Info("connected to MQTT broker", "broker", cfg.Broker, "client_id", uniqueID)
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn("MQTT connection lost", "err", err)
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("events: connect %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("events: connect %s: %w", cfg.Broker, err)
	}
	return client, nil
}

// TokenPublisher is the part of mqtt.Client the sink uses.
type TokenPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink forwards events to a broker as JSON. Handle only enqueues;
// Run does the network I/O, so a slow broker never stalls the engine.
type MQTTSink struct {
	client  TokenPublisher
	topic   string
	log     *slog.Logger
	metrics *metrics.Metrics
	timeout time.Duration

	queue chan Event
	once  sync.Once
	done  chan struct{}
}

// NewMQTTSink creates a sink publishing under topic/<issued|revoked>/<kind>.
func NewMQTTSink(client TokenPublisher, topic string, log *slog.Logger, m *metrics.Metrics) *MQTTSink {
	if topic == "" {
		topic = DefaultTopic
	}
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &MQTTSink{
		client:  client,
		topic:   strings.TrimSuffix(topic, "/"),
		log:     log,
		metrics: m,
		timeout: defaultPublishLimit,
		queue:   make(chan Event, defaultQueueSize),
		done:    make(chan struct{}),
	}
}

// Handle queues e for publishing. Events are dropped, and counted as
// failed, when the queue is full.
func (s *MQTTSink) Handle(e Event) {
	select {
	case s.queue <- e:
	default:
		s.metrics.EventsFailed.Add(1)
		s.log.Warn("MQTT queue full, dropping event", "type", e.Type, "subject", e.SubjectID)
	}
}

// Run publishes queued events until ctx ends, then flushes what is left.
func (s *MQTTSink) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case e := <-s.queue:
			s.publish(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-s.queue:
					s.publish(e)
				default:
					return
				}
			}
		}
	}
}

// Done is closed once Run has returned.
func (s *MQTTSink) Done() <-chan struct{} {
	return s.done
}

// Topic returns the topic e is published to.
func (s *MQTTSink) Topic(e Event) string {
	verb := "issued"
	if e.Type == PunishmentRevoked {
		verb = "revoked"
	}
	return s.topic + "/" + verb + "/" + strings.ToLower(e.Kind.String())
}

func (s *MQTTSink) publish(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		s.metrics.EventsFailed.Add(1)
		s.log.Error("failed to encode event", "type", e.Type, "err", err)
		return
	}

	topic := s.Topic(e)
	token := s.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(s.timeout) {
		s.metrics.EventsFailed.Add(1)
		s.log.Warn("MQTT publish timed out", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		s.metrics.EventsFailed.Add(1)
		s.log.Warn("MQTT publish failed", "topic", topic, "err", err)
		return
	}
	s.metrics.EventsPublished.Add(1)
	s.log.Debug("event published", "topic", topic)
}
