package stream

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Meta describes where a delivered event sits in the log.
// PrevPos is zero for the first line of the log.
type Meta struct {
	ID      string
	Pos     uint64
	PrevPos uint64
	Extra   map[string]json.RawMessage
}

// Handler processes one event. The next event is only delivered once it
// returns. Returned errors are logged and do not stop the cursor.
type Handler func(ctx context.Context, event json.RawMessage, meta Meta) error

// SyncInfo is reported when a cursor caught up with the newest file.
type SyncInfo struct {
	File string
	Rows uint64
}

// ConsumerOpts describes cursor preferences
type ConsumerOpts struct {
	Name         string
	FromPosition uint64
	OnSync       func(SyncInfo)
	RetryDelay   time.Duration
	Middleware   []func(Handler, ConsumerOpts) Handler
}
type ConsumerOpt func(*ConsumerOpts)

func FromPosition(p uint64) ConsumerOpt {
	return func(c *ConsumerOpts) { c.FromPosition = p }
}
func OnSync(fn func(SyncInfo)) ConsumerOpt {
	return func(c *ConsumerOpts) { c.OnSync = fn }
}
func WithName(v string) ConsumerOpt {
	return func(c *ConsumerOpts) { c.Name = v }
}

// WithRetryDelay sets how long a cursor waits before looking again for
// the file holding its start position.
func WithRetryDelay(v time.Duration) ConsumerOpt {
	return func(c *ConsumerOpts) { c.RetryDelay = v }
}
func WithPerformanceLogging(logger *zap.Logger) ConsumerOpt {
	return func(c *ConsumerOpts) {
		c.Middleware = append(c.Middleware, func(h Handler, opts ConsumerOpts) Handler {
			l := logger
			if opts.Name != "" {
				l = l.With(zap.String("consumer_name", opts.Name))
			}
			return PerformanceLogger(l, h)
		})
	}
}

func defaultConsumerOpts() ConsumerOpts {
	return ConsumerOpts{
		RetryDelay: 500 * time.Millisecond,
	}
}
