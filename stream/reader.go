package stream

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vx-labs/eventlog/commitlog"
	"github.com/vx-labs/eventlog/notify"
	"go.uber.org/zap"
)

var (
	errStopped = errors.New("cursor stopped")
)

type LiveEventKind int

const (
	EventOpen LiveEventKind = iota
	EventClose
	EventError
)

func (k LiveEventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventClose:
		return "close"
	default:
		return "error"
	}
}

// LiveEvent reports a cursor opening or closing a file, or failing.
type LiveEvent struct {
	Kind LiveEventKind
	File string
	Err  error
}

// ReaderOpts tunes how cursors follow the log. Zero values use defaults.
type ReaderOpts struct {
	Logger   *zap.Logger
	Notifier *notify.Broadcaster
	// Debounce is how long a cursor stays on a caught up file before
	// moving to the next one.
	Debounce         time.Duration
	RotationInterval time.Duration
	PollInterval     time.Duration
	ChunkSize        int
	SkipFileWatch    bool
}

// Reader starts cursors over the files of an index.
type Reader struct {
	index   *commitlog.Index
	opts    ReaderOpts
	mtx     sync.Mutex
	cursors map[*Cursor]struct{}
}

func NewReader(index *commitlog.Index, opts ReaderOpts) *Reader {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Debounce == 0 {
		opts.Debounce = 100 * time.Millisecond
	}
	if opts.RotationInterval == 0 {
		opts.RotationInterval = 300 * time.Millisecond
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &Reader{
		index:   index,
		opts:    opts,
		cursors: make(map[*Cursor]struct{}),
	}
}

// Consume starts delivering events at or after the configured position to
// handler, one at a time, until the cursor is stopped or ctx is cancelled.
func (r *Reader) Consume(ctx context.Context, handler Handler, opts ...ConsumerOpt) *Cursor {
	config := defaultConsumerOpts()
	for _, opt := range opts {
		opt(&config)
	}
	for _, m := range config.Middleware {
		handler = m(handler, config)
	}
	ctx, cancel := context.WithCancel(ctx)
	logger := r.opts.Logger
	if config.Name != "" {
		logger = logger.With(zap.String("consumer_name", config.Name))
	}
	c := &Cursor{
		reader:  r,
		opts:    config,
		handler: handler,
		logger:  logger,
		cancel:  cancel,
		events:  make(chan LiveEvent, 16),
		stopped: make(chan struct{}),
		recheck: make(chan uint64),
	}
	r.mtx.Lock()
	r.cursors[c] = struct{}{}
	r.mtx.Unlock()
	go c.run(ctx)
	return c
}

func (r *Reader) forget(c *Cursor) {
	r.mtx.Lock()
	delete(r.cursors, c)
	r.mtx.Unlock()
}

// Stop stops every running cursor without waiting for them.
func (r *Reader) Stop() {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	for c := range r.cursors {
		c.Stop()
	}
}

// Close stops every running cursor and waits for them to release their files.
// It must not be called from a Handler.
func (r *Reader) Close() {
	r.mtx.Lock()
	cursors := make([]*Cursor, 0, len(r.cursors))
	for c := range r.cursors {
		cursors = append(cursors, c)
	}
	r.mtx.Unlock()
	for _, c := range cursors {
		c.Stop()
		<-c.Done()
	}
}

// Cursor is a running consumption of the log.
type Cursor struct {
	reader  *Reader
	opts    ConsumerOpts
	handler Handler
	logger  *zap.Logger
	cancel  context.CancelFunc
	events  chan LiveEvent
	stopped chan struct{}
	recheck chan uint64
	mtx     sync.Mutex
	err     error

	file       string
	pos        uint64
	prevPos    uint64
	processed  uint64
	offset     int64
	synced     bool
	syncedRows uint64
	syncedAt   time.Time
	lastSync   *SyncInfo
	gen        uint64
}

// Stop ends the cursor without waiting for it. When called from a Handler, no
// other event is delivered. From another goroutine, the event being handled
// may still complete: wait on Done to be sure the cursor ended. It is safe to
// call more than once.
func (c *Cursor) Stop() {
	c.cancel()
}

// Done is closed once the cursor released its file.
func (c *Cursor) Done() <-chan struct{} {
	return c.stopped
}

// LiveEvents reports open, close and error notifications. It is closed when
// the cursor ends. Notifications are dropped when nobody reads them.
func (c *Cursor) LiveEvents() <-chan LiveEvent {
	return c.events
}

// Err returns the error that ended the cursor, if any.
func (c *Cursor) Err() error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.err
}

func (c *Cursor) emit(ev LiveEvent) {
	select {
	case c.events <- ev:
	default:
		c.logger.Debug("dropped live event", zap.Stringer("kind", ev.Kind), zap.String("file", ev.File))
	}
}

func (c *Cursor) fail(err error) {
	c.mtx.Lock()
	c.err = err
	c.mtx.Unlock()
	c.logger.Error("cursor failed", zap.String("file", c.file), zap.Error(err))
	c.emit(LiveEvent{Kind: EventError, File: c.file, Err: err})
}

func (c *Cursor) run(ctx context.Context) {
	defer close(c.stopped)
	defer close(c.events)
	defer c.reader.forget(c)
	defer c.cancel()
	dateChanges, release := c.reader.index.Clock().Subscribe()
	defer release()

	file, ok := c.resolveStart(ctx)
	started := false
	for ok {
		next, err := c.follow(ctx, file, dateChanges)
		if err != nil && !started && errors.Is(err, os.ErrNotExist) {
			c.logger.Debug("start file vanished, resolving it again", zap.String("file", file))
			if !c.wait(ctx, c.opts.RetryDelay) {
				return
			}
			file, ok = c.resolveStart(ctx)
			continue
		}
		if err != nil {
			c.fail(err)
			return
		}
		started = true
		file, ok = next, next != ""
	}
}

func (c *Cursor) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Cursor) resolveStart(ctx context.Context) (string, bool) {
	index := c.reader.index
	for {
		file, ok, err := index.FileByPosition(c.opts.FromPosition)
		if err != nil {
			c.logger.Warn("failed to list log files", zap.Error(err))
		} else if ok {
			return file, true
		} else if c.opts.FromPosition == 0 {
			file = index.FileForToday()
			if err := commitlog.Touch(file); err != nil {
				c.fail(err)
				return "", false
			}
			return file, true
		}
		if !c.wait(ctx, c.opts.RetryDelay) {
			return "", false
		}
	}
}

// follow delivers the events of file, and returns the next file to read once
// file is exhausted. It returns an empty name when the cursor was stopped.
func (c *Cursor) follow(ctx context.Context, file string, dateChanges <-chan struct{}) (string, error) {
	opts := c.reader.opts
	first, _ := c.reader.index.FirstPositionOfFile(file)
	t, err := Tail(file,
		TailChunkSize(opts.ChunkSize),
		TailPollInterval(opts.PollInterval),
		TailNotifier(opts.Notifier),
		TailLogger(c.logger),
		func(o *TailerOpts) { o.SkipFileWatch = opts.SkipFileWatch },
	)
	if err != nil {
		return "", err
	}
	defer t.Close()
	c.file = file
	c.pos = first
	c.processed = 0
	c.offset = 0
	c.synced = false
	c.gen++
	c.logger.Debug("opened log file", zap.String("file", file), zap.Uint64("first_position", first))
	c.emit(LiveEvent{Kind: EventOpen, File: file})
	defer c.emit(LiveEvent{Kind: EventClose, File: file})

	decoder := commitlog.NewDecoder()
	deliver := func(line []byte) error { return c.deliver(ctx, line) }
	for {
		var next string
		var rotate bool
		select {
		case <-ctx.Done():
			return "", nil
		case chunk, ok := <-t.Ready():
			if !ok {
				return "", t.Error()
			}
			if !chunk.Synced {
				c.synced = false
				c.offset += int64(len(chunk.Data))
				if err := decoder.Feed(chunk.Data, deliver); err != nil {
					return "", nil
				}
				continue
			}
			c.synced = true
			c.syncedRows = chunk.Rows
			c.syncedAt = time.Now()
			next, rotate = c.checkEOF(ctx, t)
		case <-dateChanges:
			next, rotate = c.checkEOF(ctx, t)
		case gen := <-c.recheck:
			if gen != c.gen {
				continue
			}
			next, rotate = c.checkEOF(ctx, t)
		}
		if rotate {
			if decoder.Pending() > 0 {
				c.logger.Warn("discarding incomplete last line", zap.String("file", file), zap.Int("bytes", decoder.Pending()))
			}
			c.logger.Debug("switching to next log file", zap.String("file", file), zap.String("next_file", next))
			return next, nil
		}
	}
}

func (c *Cursor) deliver(ctx context.Context, line []byte) error {
	pos := c.pos
	prevPos := c.prevPos
	c.pos++
	c.prevPos = pos
	c.processed++
	if pos < c.opts.FromPosition {
		return nil
	}
	record, err := commitlog.DecodeRecord(line)
	if err != nil {
		c.logger.Warn("skipping malformed line", zap.String("file", c.file), zap.Uint64("position", pos), zap.Error(err))
		return nil
	}
	if ctx.Err() != nil {
		return errStopped
	}
	meta := Meta{
		ID:      record.ID(),
		Pos:     pos,
		PrevPos: prevPos,
	}
	if len(record.Meta) > 1 {
		meta.Extra = make(map[string]json.RawMessage, len(record.Meta)-1)
		for k, v := range record.Meta {
			if k != "id" {
				meta.Extra[k] = v
			}
		}
	}
	if err := c.handler(ctx, record.Event, meta); err != nil {
		c.logger.Error("event processing failed", zap.Uint64("position", pos), zap.Error(err))
	}
	if ctx.Err() != nil {
		return errStopped
	}
	return nil
}

func (c *Cursor) schedule(d time.Duration) {
	gen := c.gen
	time.AfterFunc(d, func() {
		select {
		case c.recheck <- gen:
		case <-c.stopped:
		}
	})
}

// caughtUp reports whether every row of the current file was processed:
// nothing is buffered by the tailer, and the file did not grow past what was
// read from it.
func (c *Cursor) caughtUp(t Tailer) bool {
	if !c.synced || c.processed != c.syncedRows || c.processed != t.Rows() {
		return false
	}
	info, err := os.Stat(c.file)
	if os.IsNotExist(err) {
		return true
	}
	if err != nil {
		c.logger.Warn("failed to stat log file", zap.String("file", c.file), zap.Error(err))
		return false
	}
	return info.Size() == c.offset
}

// checkEOF decides, once every tailed row was processed, whether the cursor
// moves to a newer file or reports that it is in sync. Any call invalidates
// previously scheduled checks.
func (c *Cursor) checkEOF(ctx context.Context, t Tailer) (string, bool) {
	c.gen++
	if ctx.Err() != nil || !c.caughtUp(t) {
		return "", false
	}
	index := c.reader.index
	today := index.FileForToday()
	var next string
	if c.file != today {
		candidate, ok, err := index.NextExistingFile(c.file)
		if err != nil {
			c.logger.Warn("failed to look up next log file", zap.String("file", c.file), zap.Error(err))
		} else if ok {
			next = candidate
		}
	}
	debounce := c.reader.opts.Debounce
	if elapsed := time.Since(c.syncedAt); elapsed < debounce {
		c.schedule(debounce + 10*time.Millisecond - elapsed)
		return "", false
	}
	if next != "" {
		return next, true
	}
	c.notifySync(ctx)
	if c.file != today {
		c.schedule(c.reader.opts.RotationInterval)
	}
	return "", false
}

func (c *Cursor) notifySync(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	info := SyncInfo{File: c.file, Rows: c.syncedRows}
	if c.lastSync != nil && *c.lastSync == info {
		return
	}
	c.lastSync = &info
	if c.opts.OnSync != nil {
		c.opts.OnSync(info)
	}
}
