package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid"
	"go.uber.org/zap"
)

// PerformanceLogger logs how long handler takes for each event, and how far
// behind its write time the event was delivered when its id is a ULID.
func PerformanceLogger(logger *zap.Logger, handler Handler) Handler {
	return func(ctx context.Context, event json.RawMessage, meta Meta) error {
		start := time.Now()
		err := handler(ctx, event, meta)
		fields := []zap.Field{
			zap.Uint64("event_position", meta.Pos),
			zap.Duration("event_processing_time", time.Since(start)),
		}
		if id, parseErr := ulid.Parse(meta.ID); parseErr == nil {
			fields = append(fields, zap.Duration("processor_lateness", start.Sub(ulid.Time(id.Time()))))
		}
		if err == nil {
			logger.Debug("event processed", fields...)
		} else {
			logger.Error("event processing failed", append(fields, zap.Error(err))...)
		}
		return err
	}
}
