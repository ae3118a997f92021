package eventlog

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid"
	"github.com/pkg/errors"
	"github.com/vx-labs/eventlog/commitlog"
	"github.com/vx-labs/eventlog/notify"
	"github.com/vx-labs/eventlog/stream"
	"go.uber.org/zap"
)

// Pending is an appended event waiting to be read back from the log.
type Pending struct {
	ID      string
	Logfile string
	done    chan struct{}
	meta    stream.Meta
	err     error
}

// Done is closed once the event was read back or the writer stopped.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait returns the position the event was stored at.
func (p *Pending) Wait(ctx context.Context) (stream.Meta, error) {
	select {
	case <-p.done:
		return p.meta, p.err
	case <-ctx.Done():
		return stream.Meta{}, ctx.Err()
	}
}

// Writer appends events to today's file, and confirms each of them by
// reading it back through its own cursor.
type Writer struct {
	index    *commitlog.Index
	notifier *notify.Broadcaster
	logger   *zap.Logger
	entropy  io.Reader
	mtx      sync.Mutex
	fd       *os.File
	current  string
	stopped  bool
	failure  error
	pending  map[string]*Pending
	cursor   *stream.Cursor
	done     chan struct{}
}

func openForAppend(name string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(name), 0750); err != nil {
		return nil, err
	}
	return os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
}

// NewWriter opens today's file for appending. Events are confirmed through a
// cursor started at the first position of the newest existing file.
func NewWriter(index *commitlog.Index, reader *stream.Reader, notifier *notify.Broadcaster, logger *zap.Logger) (*Writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	files, err := index.FindFiles()
	if err != nil {
		return nil, err
	}
	var from uint64
	if len(files) > 0 {
		from, _ = index.FirstPositionOfFile(files[len(files)-1])
	}
	w := &Writer{
		index:    index,
		notifier: notifier,
		logger:   logger,
		entropy:  rand.Reader,
		pending:  make(map[string]*Pending),
		done:     make(chan struct{}),
	}
	w.mtx.Lock()
	err = w.rotate()
	w.mtx.Unlock()
	if err != nil {
		return nil, errors.Wrap(err, "failed to open log file")
	}
	w.cursor = reader.Consume(context.Background(), w.confirm,
		stream.FromPosition(from), stream.WithName("writer"))
	go w.followDate()
	go w.watchCursor()
	return w, nil
}

// watchCursor fails the writer when its confirmation cursor ends before the
// writer was stopped: events could no longer be read back.
func (w *Writer) watchCursor() {
	select {
	case <-w.done:
		return
	case <-w.cursor.Done():
	}
	err := w.cursor.Err()
	if err == nil {
		err = ErrConfirmation
	} else {
		err = errors.Wrap(ErrConfirmation, err.Error())
	}
	w.mtx.Lock()
	if w.stopped {
		w.mtx.Unlock()
		return
	}
	w.failure = err
	pending := w.pending
	w.pending = make(map[string]*Pending)
	w.mtx.Unlock()
	w.logger.Error("event confirmation stopped", zap.Error(err))
	for _, p := range pending {
		p.err = err
		close(p.done)
	}
}

// rotate switches to today's file when the date changed. It must be called
// with mtx held.
func (w *Writer) rotate() error {
	name := w.index.FileForToday()
	if w.fd != nil && name == w.current {
		return nil
	}
	fd, err := openForAppend(name)
	if err != nil {
		return err
	}
	old := w.fd
	w.fd = fd
	w.current = name
	if old != nil {
		if err := old.Close(); err != nil {
			w.logger.Warn("failed to close previous log file", zap.Error(err))
		}
		w.logger.Info("switched to new log file", zap.String("file", name))
	} else {
		w.logger.Debug("opened log file for writing", zap.String("file", name))
	}
	return nil
}

func (w *Writer) followDate() {
	changes, release := w.index.Clock().Subscribe()
	defer release()
	for {
		select {
		case <-w.done:
			return
		case <-changes:
			w.mtx.Lock()
			if !w.stopped {
				if err := w.rotate(); err != nil {
					w.logger.Error("failed to open new log file", zap.Error(err))
				}
			}
			w.mtx.Unlock()
		}
	}
}

func (w *Writer) confirm(ctx context.Context, event json.RawMessage, meta stream.Meta) error {
	w.mtx.Lock()
	p, ok := w.pending[meta.ID]
	if ok {
		delete(w.pending, meta.ID)
	}
	w.mtx.Unlock()
	if ok {
		p.meta = meta
		close(p.done)
	}
	return nil
}

// Add appends event to today's file. The returned Pending resolves once the
// event was read back from the log.
func (w *Writer) Add(event interface{}) (*Pending, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), w.entropy)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate event id")
	}
	line, err := commitlog.EncodeRecord(event, id.String())
	if err != nil {
		return nil, err
	}
	w.mtx.Lock()
	defer w.mtx.Unlock()
	if w.stopped {
		return nil, ErrStopped
	}
	if w.failure != nil {
		return nil, w.failure
	}
	if err := w.rotate(); err != nil {
		return nil, &WriteError{File: w.index.FileForToday(), Err: err}
	}
	p := &Pending{ID: id.String(), Logfile: w.current, done: make(chan struct{})}
	w.pending[p.ID] = p
	if _, err := w.fd.Write(line); err != nil {
		delete(w.pending, p.ID)
		w.logger.Error("failed to append event", zap.String("file", w.current), zap.Error(err))
		return nil, &WriteError{File: w.current, Err: err}
	}
	w.notifier.Notify()
	return p, nil
}

// Current returns the file events are appended to.
func (w *Writer) Current() string {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	return w.current
}

// Stop closes the log file and fails every unconfirmed event.
// It is safe to call more than once.
func (w *Writer) Stop() error {
	w.mtx.Lock()
	if w.stopped {
		w.mtx.Unlock()
		return nil
	}
	w.stopped = true
	pending := w.pending
	w.pending = make(map[string]*Pending)
	err := w.fd.Close()
	w.mtx.Unlock()
	close(w.done)
	w.cursor.Stop()
	for _, p := range pending {
		p.err = ErrStopped
		close(p.done)
	}
	return err
}
