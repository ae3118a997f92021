package eventlog

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/vx-labs/eventlog/clock"
	"github.com/vx-labs/eventlog/commitlog"
	"github.com/vx-labs/eventlog/notify"
	"github.com/vx-labs/eventlog/stream"
	"go.uber.org/zap"
)

const defaultFilename = "events-%y-%m-%d.log"

type Options struct {
	ReadOnly   bool
	Clock      clock.Clock
	Logger     *zap.Logger
	ReaderOpts stream.ReaderOpts
}
type OpenOpt func(*Options)

func ReadOnly() OpenOpt {
	return func(o *Options) { o.ReadOnly = true }
}
func WithClock(c clock.Clock) OpenOpt {
	return func(o *Options) { o.Clock = c }
}
func WithLogger(l *zap.Logger) OpenOpt {
	return func(o *Options) { o.Logger = l }
}

// WithReaderOpts tunes the polling and rotation delays of every cursor.
func WithReaderOpts(v stream.ReaderOpts) OpenOpt {
	return func(o *Options) { o.ReaderOpts = v }
}

// Log is an append-only event log stored in one file per day.
type Log struct {
	filename   string
	index      *commitlog.Index
	reader     *stream.Reader
	writer     *Writer
	ownedClock *clock.System
	logger     *zap.Logger
	once       sync.Once
}

// Open opens the log whose files follow template, a path containing %y, %m
// and %d exactly once. An empty template uses a new temporary directory.
func Open(template string, opts ...OpenOpt) (*Log, error) {
	config := Options{}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if template == "" {
		dir, err := ioutil.TempDir("", "eventlog")
		if err != nil {
			return nil, errors.Wrap(err, "failed to create temporary directory")
		}
		template = filepath.Join(dir, defaultFilename)
	}
	l := &Log{filename: template, logger: config.Logger.With(zap.String("log_template", template))}
	c := config.Clock
	if c == nil {
		l.ownedClock = clock.New()
		c = l.ownedClock
	}
	index, err := commitlog.NewIndex(template, c, commitlog.WithLogger(l.logger))
	if err != nil {
		l.closeClock()
		return nil, err
	}
	l.index = index
	readerOpts := config.ReaderOpts
	if readerOpts.Logger == nil {
		readerOpts.Logger = l.logger
	}
	if readerOpts.Notifier == nil {
		readerOpts.Notifier = notify.NewBroadcaster()
	}
	l.reader = stream.NewReader(index, readerOpts)
	if !config.ReadOnly {
		l.writer, err = NewWriter(index, l.reader, readerOpts.Notifier, l.logger)
		if err != nil {
			l.closeClock()
			return nil, err
		}
	}
	return l, nil
}

func (l *Log) closeClock() {
	if l.ownedClock != nil {
		l.ownedClock.Close()
	}
}

// Add appends event. It fails with ErrReadOnly when the log was opened read only.
func (l *Log) Add(event interface{}) (*Pending, error) {
	if l.writer == nil {
		return nil, ErrReadOnly
	}
	return l.writer.Add(event)
}

// Append adds event and waits until it can be read back.
func (l *Log) Append(ctx context.Context, event interface{}) (stream.Meta, error) {
	p, err := l.Add(event)
	if err != nil {
		return stream.Meta{}, err
	}
	return p.Wait(ctx)
}

func (l *Log) Consume(ctx context.Context, handler stream.Handler, opts ...stream.ConsumerOpt) *stream.Cursor {
	return l.reader.Consume(ctx, handler, opts...)
}

// Filename returns the template the log was opened with.
func (l *Log) Filename() string {
	return l.filename
}

func (l *Log) Index() *commitlog.Index {
	return l.index
}

func (l *Log) ReadOnly() bool {
	return l.writer == nil
}

func (l *Log) GetStatistics() (commitlog.Statistics, error) {
	return l.index.GetStatistics()
}

// Stop closes the writer and stops every cursor. It does not wait for
// cursors to release their files, and is safe to call from a Handler.
func (l *Log) Stop() {
	l.once.Do(func() {
		if l.writer != nil {
			if err := l.writer.Stop(); err != nil {
				l.logger.Warn("failed to close log file", zap.Error(err))
			}
		}
		l.reader.Stop()
		l.closeClock()
	})
}

// Close stops the log and waits for every cursor to end.
func (l *Log) Close() error {
	l.Stop()
	l.reader.Close()
	return nil
}
