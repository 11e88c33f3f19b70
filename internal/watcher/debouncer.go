package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/twiddli/happypanda/internal/metrics"
)

// pending accumulates events for one path until the path goes quiet.
type pending struct {
	path    string
	events  []Event
	firstAt time.Time
	timer   *time.Timer
}

// Debouncer coalesces bursts of events per path. A batch flushes once its
// path has been quiet for the delay, or once maxDelay has passed since the
// first event, whichever comes first.
type Debouncer struct {
	delay    time.Duration
	maxDelay time.Duration

	batchChan chan []Event
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.Mutex
	byPath    map[string]*pending
}

// NewDebouncer creates a debouncer flushing batches into a channel of the
// given capacity.
func NewDebouncer(delay, maxDelay time.Duration, queueCapacity int) *Debouncer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Debouncer{
		delay:     delay,
		maxDelay:  maxDelay,
		batchChan: make(chan []Event, queueCapacity),
		ctx:       ctx,
		cancel:    cancel,
		byPath:    make(map[string]*pending),
	}
}

// Add queues an event, resetting the quiet timer for its path.
func (d *Debouncer) Add(event Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctx.Err() != nil {
		return
	}

	p, ok := d.byPath[event.Path]
	if !ok {
		p = &pending{path: event.Path, firstAt: time.Now()}
		d.byPath[event.Path] = p
	}
	p.events = append(p.events, event)

	if p.timer != nil {
		p.timer.Stop()
	}
	wait := d.delay
	if remain := d.maxDelay - time.Since(p.firstAt); remain < wait {
		wait = remain
	}
	if wait < 0 {
		wait = 0
	}
	path := event.Path
	p.timer = time.AfterFunc(wait, func() {
		d.flush(path)
	})
}

// Batches returns the flushed batch channel.
func (d *Debouncer) Batches() <-chan []Event {
	return d.batchChan
}

func (d *Debouncer) flush(path string) {
	d.mu.Lock()
	p, ok := d.byPath[path]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.byPath, path)
	d.mu.Unlock()

	select {
	case d.batchChan <- p.events:
		metrics.WatcherBatchesTotal.Inc()
	case <-d.ctx.Done():
	}
}

// Close stops the debouncer and discards any batches still pending.
func (d *Debouncer) Close() {
	d.mu.Lock()
	d.cancel()
	for _, p := range d.byPath {
		if p.timer != nil {
			p.timer.Stop()
		}
	}
	d.byPath = make(map[string]*pending)
	d.mu.Unlock()
}
