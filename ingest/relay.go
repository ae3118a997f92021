package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vx-labs/eventlog/checkpoint"
	"github.com/vx-labs/eventlog/eventlog"
	"github.com/vx-labs/eventlog/stats"
	"github.com/vx-labs/eventlog/stream"
	"go.uber.org/zap"
)

// Consumer starts cursors over a log.
type Consumer interface {
	Consume(ctx context.Context, handler stream.Handler, opts ...stream.ConsumerOpt) *stream.Cursor
}

const DefaultRelayRetryDelay = time.Second

// Relay publishes every event of the log to a topic, resuming from its
// last checkpoint. An event is published again every RetryDelay until the
// broker accepts it, and the relay never moves past it before.
type Relay struct {
	Name        string
	Topic       string
	Checkpoints *checkpoint.Store
	Log         Consumer
	RetryDelay  time.Duration
}

func (r *Relay) publish(ctx context.Context, publisher Publisher, payload []byte, meta stream.Meta) error {
	delay := r.RetryDelay
	if delay <= 0 {
		delay = DefaultRelayRetryDelay
	}
	for {
		err := publisher.Publish(r.Topic, payload)
		if err == nil {
			return nil
		}
		eventlog.L(ctx).Warn("failed to relay event, retrying",
			zap.Uint64("event_position", meta.Pos), zap.Duration("retry_delay", delay), zap.Error(err))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *Relay) handler(publisher Publisher) stream.Handler {
	return func(ctx context.Context, event json.RawMessage, meta stream.Meta) error {
		payload, err := json.Marshal(eventlog.DumpRecord{
			Pos:     meta.Pos,
			PrevPos: meta.PrevPos,
			ID:      meta.ID,
			Event:   event,
			Meta:    meta.Extra,
		})
		if err != nil {
			return err
		}
		return r.publish(ctx, publisher, payload, meta)
	}
}

// start begins relaying to publisher and returns the running cursor.
func (r *Relay) start(ctx context.Context, publisher Publisher) (*stream.Cursor, error) {
	from, err := r.Checkpoints.Resume(r.Name)
	if err != nil {
		return nil, err
	}
	handler := r.Checkpoints.Track(r.Name, stats.Instrument(r.Name, r.handler(publisher)))
	return r.Log.Consume(ctx, handler, from,
		stream.WithName(r.Name),
		stream.WithPerformanceLogging(eventlog.L(ctx))), nil
}

func (r *Relay) Run(ctx context.Context, broker BrokerOpts) error {
	opts, err := clientOptions(broker)
	if err != nil {
		return err
	}
	c, err := connect(opts)
	if err != nil {
		return err
	}
	defer c.Disconnect(500)
	cursor, err := r.start(ctx, &mqttPublisher{client: c, qos: broker.QoS})
	if err != nil {
		return err
	}
	eventlog.L(ctx).Info("relaying events", zap.String("mqtt_topic", r.Topic))
	select {
	case <-ctx.Done():
		cursor.Stop()
		<-cursor.Done()
		return nil
	case <-cursor.Done():
		return cursor.Err()
	}
}
