// Package poll runs periodic fetches for log tails and status tables.
//
// Every registered callback gets its own loop driven by a clock ticker. A
// loop never overlaps itself: a tick that arrives while the previous fetch
// is still running is dropped and counted. Tearing a loop down (Remove,
// Stop or cancelling the parent context) waits for the in-flight fetch, and
// no fetch is started afterwards.
package poll

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"grimm.is/luci/internal/clock"
	"grimm.is/luci/internal/events"
	"grimm.is/luci/internal/logging"
	"grimm.is/luci/internal/metrics"
)

// DefaultInterval matches the refresh period of the stock log and status views.
const DefaultInterval = 5 * time.Second

var (
	ErrStopped  = errors.New("poller stopped")
	ErrNotFound = errors.New("poll handle not found")
)

// Func fetches one sample. The result is published to the event hub.
type Func func(ctx context.Context) (any, error)

// Handle identifies a registered loop.
type Handle uint64

// Status reports the counters of one loop.
type Status struct {
	Handle    Handle        `json:"handle"`
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval"`
	Runs      uint64        `json:"runs"`
	Skipped   uint64        `json:"skipped"`
	Errors    uint64        `json:"errors"`
	Running   bool          `json:"running"`
	LastRun   time.Time     `json:"last_run,omitempty"`
	LastError string        `json:"last_error,omitempty"`
}

// Options configures a Poller. Zero values select process defaults.
type Options struct {
	Clock   clock.Clock
	Hub     *events.Hub
	Metrics *metrics.Registry
	Logger  *logging.Logger
	// Immediate runs the first fetch as soon as a loop is added instead of
	// waiting for the first tick.
	Immediate bool
}

type entry struct {
	handle   Handle
	name     string
	interval time.Duration
	fn       Func
	ticker   clock.Ticker
	cancel   context.CancelFunc
	done     chan struct{}

	mu     sync.Mutex
	status Status
}

// Poller owns a set of polling loops.
type Poller struct {
	clock     clock.Clock
	hub       *events.Hub
	metrics   *metrics.Registry
	logger    *logging.Logger
	immediate bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	entries map[Handle]*entry
	next    Handle
	stopped bool
}

// New creates a poller whose loops live until Stop is called or ctx is done.
func New(ctx context.Context, opts Options) *Poller {
	if opts.Clock == nil {
		opts.Clock = clock.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Get()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Poller{
		clock:     opts.Clock,
		hub:       opts.Hub,
		metrics:   opts.Metrics,
		logger:    opts.Logger.WithComponent("poll"),
		immediate: opts.Immediate,
		ctx:       ctx,
		cancel:    cancel,
		entries:   make(map[Handle]*entry),
	}
}

// Add registers fn to run every interval under name.
func (p *Poller) Add(name string, interval time.Duration, fn Func) (Handle, error) {
	if fn == nil {
		return 0, fmt.Errorf("poll %q: nil func", name)
	}
	if interval <= 0 {
		interval = DefaultInterval
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || p.ctx.Err() != nil {
		return 0, ErrStopped
	}

	p.next++
	ctx, cancel := context.WithCancel(p.ctx)
	e := &entry{
		handle:   p.next,
		name:     name,
		interval: interval,
		fn:       fn,
		ticker:   p.clock.NewTicker(interval),
		cancel:   cancel,
		done:     make(chan struct{}),
		status:   Status{Handle: p.next, Name: name, Interval: interval},
	}
	p.entries[e.handle] = e

	p.wg.Add(1)
	go p.loop(ctx, e)

	p.logger.Debug("poll added", "name", name, "interval", interval)
	return e.handle, nil
}

// Remove stops one loop and waits for its in-flight fetch.
func (p *Poller) Remove(h Handle) error {
	p.mu.Lock()
	e, ok := p.entries[h]
	if ok {
		delete(p.entries, h)
	}
	p.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	e.cancel()
	<-e.done
	p.logger.Debug("poll removed", "name", e.name)
	return nil
}

// Stop tears down every loop and waits for them. Further Add calls fail.
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.entries = make(map[Handle]*entry)
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

// Active reports whether any loop is registered.
func (p *Poller) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries) > 0
}

// Status returns a snapshot of every loop sorted by name.
func (p *Poller) Status() []Status {
	p.mu.Lock()
	list := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		list = append(list, e)
	}
	p.mu.Unlock()

	out := make([]Status, 0, len(list))
	for _, e := range list {
		e.mu.Lock()
		out = append(out, e.status)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Handle < out[j].Handle
	})
	return out
}

// loop waits for ticks and starts at most one fetch at a time.
func (p *Poller) loop(ctx context.Context, e *entry) {
	defer p.wg.Done()
	defer close(e.done)
	defer e.ticker.Stop()

	settled := make(chan struct{}, 1)
	running := false

	start := func() {
		// A tick and cancellation can be ready together.
		if ctx.Err() != nil {
			return
		}
		running = true
		e.mu.Lock()
		e.status.Running = true
		e.mu.Unlock()
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.fetch(ctx, e)
			settled <- struct{}{}
		}()
	}

	if p.immediate {
		start()
	}

	for {
		select {
		case <-ctx.Done():
			if running {
				<-settled
			}
			return
		case <-settled:
			running = false
			e.mu.Lock()
			e.status.Running = false
			e.mu.Unlock()
		case <-e.ticker.C():
			if running {
				e.mu.Lock()
				e.status.Skipped++
				e.mu.Unlock()
				p.metrics.PollSkipped.WithLabelValues(e.name).Inc()
				continue
			}
			start()
		}
	}
}

func (p *Poller) fetch(ctx context.Context, e *entry) {
	p.metrics.PollTicks.WithLabelValues(e.name).Inc()
	started := p.clock.Now()

	result, err := e.fn(ctx)

	e.mu.Lock()
	e.status.Runs++
	e.status.LastRun = started
	if err != nil {
		e.status.Errors++
		e.status.LastError = err.Error()
	} else {
		e.status.LastError = ""
	}
	e.mu.Unlock()

	// Results that arrive after teardown are discarded.
	if ctx.Err() != nil {
		return
	}

	if err != nil {
		p.metrics.PollErrors.WithLabelValues(e.name).Inc()
		p.logger.Warn("poll failed", "name", e.name, "error", err)
		p.publish(events.EventPollError, events.PollData{View: e.name, Error: err.Error()})
		return
	}
	p.publish(events.EventPollResult, events.PollData{View: e.name, Result: result})
}

func (p *Poller) publish(t events.EventType, data events.PollData) {
	if p.hub == nil {
		return
	}
	p.hub.Publish(events.Event{Type: t, Source: "poll", Data: data})
}
