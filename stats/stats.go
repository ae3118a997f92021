package stats

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vx-labs/eventlog/commitlog"
	"github.com/vx-labs/eventlog/stream"
)

// Instrument counts events handled by handler under name.
func Instrument(name string, handler stream.Handler) stream.Handler {
	processed := CounterVec("eventsProcessed")
	return func(ctx context.Context, event json.RawMessage, meta stream.Meta) error {
		err := handler(ctx, event, meta)
		result := "success"
		if err != nil {
			result = "failure"
		}
		processed.WithLabelValues(name, result).Inc()
		return err
	}
}

// RecordStorage refreshes storage gauges every interval until ctx is done.
func RecordStorage(ctx context.Context, index *commitlog.Index, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if s, err := index.GetStatistics(); err == nil {
			Gauge("storedBytes").Set(float64(s.StoredBytes))
			Gauge("fileCount").Set(float64(s.FileCount))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
