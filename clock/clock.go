package clock

import (
	"sync"
	"time"

	"github.com/vx-labs/eventlog/notify"
)

const DefaultInterval = 100 * time.Millisecond

// Clock provides the current UTC date and notifies subscribers when it changes.
type Clock interface {
	Today() Date
	Subscribe() (<-chan struct{}, func())
}

type Opts struct {
	Now      func() time.Time
	Interval time.Duration
}
type clockOpts func(*Opts)

func WithNow(now func() time.Time) clockOpts {
	return func(o *Opts) { o.Now = now }
}
func WithInterval(d time.Duration) clockOpts {
	return func(o *Opts) { o.Interval = d }
}

type System struct {
	opts    Opts
	mtx     sync.Mutex
	today   Date
	changes *notify.Broadcaster
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// New starts a clock polling the wall clock for date changes.
func New(opts ...clockOpts) *System {
	config := Opts{
		Now:      time.Now,
		Interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(&config)
	}
	c := &System{
		opts:    config,
		today:   DateOf(config.Now()),
		changes: notify.NewBroadcaster(),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go c.run()
	return c
}

func (c *System) run() {
	defer close(c.stopped)
	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.tick()
		}
	}
}

func (c *System) tick() {
	now := DateOf(c.opts.Now())
	c.mtx.Lock()
	changed := now != c.today
	c.today = now
	c.mtx.Unlock()
	if changed {
		c.changes.Notify()
	}
}

func (c *System) Today() Date {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.today
}

func (c *System) Subscribe() (<-chan struct{}, func()) {
	return c.changes.Subscribe()
}

// Close stops polling. It is safe to call more than once.
func (c *System) Close() error {
	c.once.Do(func() { close(c.done) })
	<-c.stopped
	return nil
}

// Manual is a Clock whose date only moves when Set is called.
type Manual struct {
	mtx     sync.Mutex
	today   Date
	changes *notify.Broadcaster
}

func NewManual(today Date) *Manual {
	return &Manual{today: today, changes: notify.NewBroadcaster()}
}

func (c *Manual) Today() Date {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.today
}

func (c *Manual) Subscribe() (<-chan struct{}, func()) {
	return c.changes.Subscribe()
}

// Set moves the clock and wakes subscribers when the date changed.
func (c *Manual) Set(d Date) {
	c.mtx.Lock()
	changed := d != c.today
	c.today = d
	c.mtx.Unlock()
	if changed {
		c.changes.Notify()
	}
}
