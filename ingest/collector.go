package ingest

import (
	"context"
	"encoding/json"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/vx-labs/eventlog/eventlog"
	"github.com/vx-labs/eventlog/stats"
	"github.com/vx-labs/eventlog/stream"
	"go.uber.org/zap"
)

var (
	ErrInvalidPayload = errors.New("payload is not a JSON document")
)

// Appender stores an event and returns where it was stored.
type Appender interface {
	Append(ctx context.Context, event interface{}) (stream.Meta, error)
}

// Ack is published once an ingested message was stored.
type Ack struct {
	ID      string `json:"id,omitempty"`
	Pos     uint64 `json:"pos,omitempty"`
	PrevPos uint64 `json:"prevPos,omitempty"`
	Topic   string `json:"topic"`
	Error   string `json:"error,omitempty"`
}

// Ingest appends a JSON payload to the log.
func Ingest(ctx context.Context, log Appender, topic string, payload []byte) (Ack, error) {
	ack := Ack{Topic: topic}
	if !json.Valid(payload) {
		ack.Error = ErrInvalidPayload.Error()
		return ack, ErrInvalidPayload
	}
	start := time.Now()
	meta, err := log.Append(ctx, json.RawMessage(payload))
	if err != nil {
		ack.Error = err.Error()
		return ack, err
	}
	stats.Histogram("appendConfirmation").Observe(stats.MilisecondsElapsed(start))
	ack.ID = meta.ID
	ack.Pos = meta.Pos
	ack.PrevPos = meta.PrevPos
	return ack, nil
}

type CollectorOpts struct {
	Topic    string
	AckTopic string
}

// Collector appends every message received on a topic pattern to the log.
type Collector struct {
	broker BrokerOpts
	opts   CollectorOpts
	log    Appender
}

func NewCollector(broker BrokerOpts, opts CollectorOpts, log Appender) *Collector {
	if opts.Topic == "" {
		opts.Topic = "#"
	}
	return &Collector{broker: broker, opts: opts, log: log}
}

type message struct {
	topic   string
	payload []byte
}

func (m *Collector) Run(ctx context.Context) error {
	opts, err := clientOptions(m.broker)
	if err != nil {
		return err
	}
	ch := make(chan message, 1000)
	opts.OnConnect = func(c MQTT.Client) {
		eventlog.L(ctx).Info("subscribing to topic pattern", zap.String("mqtt_topic_pattern", m.opts.Topic))
		c.Subscribe(m.opts.Topic, m.broker.QoS, func(client MQTT.Client, msg MQTT.Message) {
			if msg.Retained() || msg.Topic() == m.opts.AckTopic {
				return
			}
			eventlog.L(ctx).Debug("mqtt message collected",
				zap.String("mqtt_topic", msg.Topic()), zap.Int("mqtt_payload_size", len(msg.Payload())))
			select {
			case ch <- message{topic: msg.Topic(), payload: msg.Payload()}:
			case <-ctx.Done():
			}
		})
	}
	c, err := connect(opts)
	if err != nil {
		return err
	}
	defer c.Disconnect(500)
	return m.process(ctx, ch, &mqttPublisher{client: c, qos: m.broker.QoS})
}

func (m *Collector) process(ctx context.Context, ch <-chan message, publisher Publisher) error {
	ingested := stats.CounterVec("eventsIngested")
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-ch:
			ack, err := Ingest(ctx, m.log, msg.topic, msg.payload)
			if err != nil {
				ingested.WithLabelValues("failure").Inc()
				eventlog.L(ctx).Warn("failed to ingest message", zap.String("mqtt_topic", msg.topic), zap.Error(err))
				if ctx.Err() != nil {
					return nil
				}
			} else {
				ingested.WithLabelValues("success").Inc()
			}
			if m.opts.AckTopic == "" {
				continue
			}
			payload, err := json.Marshal(ack)
			if err != nil {
				return err
			}
			if err := publisher.Publish(m.opts.AckTopic, payload); err != nil {
				eventlog.L(ctx).Warn("failed to publish ack", zap.Error(err))
			}
		}
	}
}
