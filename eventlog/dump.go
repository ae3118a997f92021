package eventlog

import (
	"context"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
	"github.com/vx-labs/eventlog/stream"
)

type DumpRecord struct {
	Pos     uint64                     `json:"pos"`
	PrevPos uint64                     `json:"prevPos"`
	ID      string                     `json:"id"`
	Event   json.RawMessage            `json:"event"`
	Meta    map[string]json.RawMessage `json:"meta,omitempty"`
}

// Dump writes every event stored at or after from to w, one JSON document
// per line, and returns once the newest file was read.
func (l *Log) Dump(ctx context.Context, w io.Writer, from uint64) error {
	_, ok, err := l.index.FileByPosition(from)
	if err != nil || !ok {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	synced := make(chan struct{})
	encoder := json.NewEncoder(w)
	var writeErr error
	cursor := l.Consume(ctx, func(ctx context.Context, event json.RawMessage, meta stream.Meta) error {
		writeErr = encoder.Encode(DumpRecord{
			Pos:     meta.Pos,
			PrevPos: meta.PrevPos,
			ID:      meta.ID,
			Event:   event,
			Meta:    meta.Extra,
		})
		if writeErr != nil {
			cancel()
		}
		return writeErr
	}, stream.FromPosition(from), stream.WithName("dump"), stream.OnSync(func(stream.SyncInfo) {
		select {
		case <-synced:
		default:
			close(synced)
		}
	}))
	select {
	case <-synced:
	case <-cursor.Done():
	}
	cursor.Stop()
	<-cursor.Done()
	if writeErr != nil {
		return writeErr
	}
	if err := cursor.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

// Load appends the event of every record found in r, as written by Dump.
// It returns the number of appended events.
func (l *Log) Load(ctx context.Context, r io.Reader) (int, error) {
	decoder := json.NewDecoder(r)
	count := 0
	for {
		var record DumpRecord
		err := decoder.Decode(&record)
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, errors.Wrap(err, "failed to decode record")
		}
		if _, err := l.Append(ctx, record.Event); err != nil {
			return count, err
		}
		count++
	}
}
