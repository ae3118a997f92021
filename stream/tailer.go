package stream

import (
	"bytes"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nxadm/tail/watch"
	"github.com/pkg/errors"
	"github.com/vx-labs/eventlog/notify"
	"go.uber.org/zap"
	"gopkg.in/tomb.v1"
)

const (
	DefaultChunkSize    = 16 * 1024
	DefaultPollInterval = 100 * time.Millisecond
)

// Chunk is a piece of a tailed file. A Synced chunk carries no data and
// signals that the tailer reached the end of the file.
type Chunk struct {
	Data   []byte
	Rows   uint64
	Synced bool
}

type TailerOpts struct {
	ChunkSize     int
	PollInterval  time.Duration
	Notifier      *notify.Broadcaster
	SkipFileWatch bool
	Logger        *zap.Logger
}
type tailerOpts func(*TailerOpts)

func TailChunkSize(v int) tailerOpts {
	return func(o *TailerOpts) { o.ChunkSize = v }
}
func TailPollInterval(v time.Duration) tailerOpts {
	return func(o *TailerOpts) { o.PollInterval = v }
}

// TailNotifier makes the tailer wake up when b is notified.
func TailNotifier(b *notify.Broadcaster) tailerOpts {
	return func(o *TailerOpts) { o.Notifier = b }
}
func TailWithoutFileWatch() tailerOpts {
	return func(o *TailerOpts) { o.SkipFileWatch = true }
}
func TailLogger(l *zap.Logger) tailerOpts {
	return func(o *TailerOpts) { o.Logger = l }
}

type Tailer interface {
	io.Closer
	Ready() <-chan Chunk
	Error() error
	Rows() uint64
	Bytes() uint64
}

type tailer struct {
	filename string
	fd       *os.File
	opts     TailerOpts
	ch       chan Chunk
	done     chan struct{}
	stopped  chan struct{}
	once     sync.Once
	mtx      sync.Mutex
	err      error
	rows     uint64
	bytes    uint64
	watch    tomb.Tomb
	modified <-chan bool
}

// Tail reads filename from its beginning and keeps following it as it grows.
// Chunks are only read when the previous one was received from Ready.
func Tail(filename string, opts ...tailerOpts) (Tailer, error) {
	config := TailerOpts{
		ChunkSize:    DefaultChunkSize,
		PollInterval: DefaultPollInterval,
		Logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&config)
	}
	fd, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open log file")
	}
	t := &tailer{
		filename: filename,
		fd:       fd,
		opts:     config,
		ch:       make(chan Chunk, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	if !config.SkipFileWatch {
		changes, err := watch.NewInotifyFileWatcher(filename).ChangeEvents(&t.watch, 0)
		if err != nil {
			config.Logger.Warn("file watch unavailable, falling back to polling",
				zap.String("file", filename), zap.Error(err))
		} else {
			t.modified = changes.Modified
		}
	}
	var wake <-chan struct{}
	release := func() {}
	if config.Notifier != nil {
		wake, release = config.Notifier.Subscribe()
	}
	go t.run(wake, release)
	return t, nil
}

func (t *tailer) Ready() <-chan Chunk {
	return t.ch
}

func (t *tailer) Error() error {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.err
}

func (t *tailer) Rows() uint64  { return atomic.LoadUint64(&t.rows) }
func (t *tailer) Bytes() uint64 { return atomic.LoadUint64(&t.bytes) }

// Close stops the tailer and releases the file. It is safe to call more than once.
func (t *tailer) Close() error {
	t.once.Do(func() { close(t.done) })
	<-t.stopped
	return nil
}

func (t *tailer) send(c Chunk) bool {
	select {
	case t.ch <- c:
		return true
	case <-t.done:
		return false
	}
}

func (t *tailer) run(wake <-chan struct{}, release func()) {
	defer close(t.stopped)
	defer close(t.ch)
	defer t.fd.Close()
	defer t.watch.Kill(nil)
	defer release()
	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()
	buf := make([]byte, t.opts.ChunkSize)
	synced := false
	for {
		n, err := t.fd.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			atomic.AddUint64(&t.bytes, uint64(n))
			rows := atomic.AddUint64(&t.rows, uint64(bytes.Count(data, []byte{'\n'})))
			synced = false
			if !t.send(Chunk{Data: data, Rows: rows}) {
				return
			}
			continue
		}
		if err != nil && err != io.EOF {
			t.mtx.Lock()
			t.err = errors.Wrap(err, "failed to read log file")
			t.mtx.Unlock()
			return
		}
		if !synced {
			if !t.send(Chunk{Synced: true, Rows: t.Rows()}) {
				return
			}
			synced = true
		}
		select {
		case <-t.done:
			return
		case <-wake:
		case <-t.modified:
		case <-ticker.C:
		}
	}
}
