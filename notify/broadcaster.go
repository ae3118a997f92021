package notify

import "sync"

// Broadcaster wakes every subscriber when Notify is called.
// Each subscription holds at most one pending notification: a slow
// subscriber sees one wake-up for many Notify calls, and Notify never blocks.
type Broadcaster struct {
	mtx  sync.Mutex
	next uint64
	subs map[uint64]chan struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uint64]chan struct{})}
}

// Subscribe returns a wake-up channel and a function releasing it.
// The release function is idempotent.
func (b *Broadcaster) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	b.mtx.Lock()
	if b.subs == nil {
		b.subs = make(map[uint64]chan struct{})
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mtx.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mtx.Lock()
			delete(b.subs, id)
			b.mtx.Unlock()
		})
	}
}

func (b *Broadcaster) Notify() {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (b *Broadcaster) Subscribers() int {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	return len(b.subs)
}
