// Package upload implements the bounded asynchronous upload pipeline: a
// non-blocking Enqueue in front of a fixed-capacity FIFO drained by a
// single worker that hands each item to a Sender.
package upload

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bft-labs/boardlink/internal/domain"
	"github.com/bft-labs/boardlink/internal/ports"
	"github.com/bft-labs/boardlink/pkg/log"
)

// Sender delivers one item; see ports.Sender.
type Sender = ports.Sender

// SenderFunc adapts a function to Sender.
type SenderFunc = ports.SenderFunc

// DefaultSendTimeout bounds each Send call when Options leaves it zero.
const DefaultSendTimeout = 5 * time.Second

// Options tunes a Pipeline.
type Options struct {
	SendTimeout time.Duration
	Logger      log.Logger

	// Now stamps EnqueuedAt. Defaults to time.Now.
	Now func() time.Time
}

// Pipeline is a bounded FIFO with one worker. Items are never retried: a
// failed send is counted and dropped, since by the time a retry would
// succeed the data is stale.
type Pipeline struct {
	name   string
	sender Sender
	opts   Options
	logger log.Logger
	queue  chan *domain.UploadItem

	mu      sync.RWMutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	done    chan struct{}

	queued     atomic.Uint64
	sent       atomic.Uint64
	failed     atomic.Uint64
	overflowed atomic.Uint64
	discarded  atomic.Uint64
	lastSendNs atomic.Int64
}

// New creates a pipeline holding at most capacity items. Items enqueued
// before Start wait for the worker.
func New(name string, capacity int, sender Sender, opts Options) *Pipeline {
	if capacity <= 0 {
		capacity = 1
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{
		name:   name,
		sender: sender,
		opts:   opts,
		logger: log.OrNoop(opts.Logger),
		queue:  make(chan *domain.UploadItem, capacity),
	}
}

// Name returns the pipeline name used in logs.
func (p *Pipeline) Name() string {
	return p.name
}

// Capacity returns the queue bound.
func (p *Pipeline) Capacity() int {
	return cap(p.queue)
}

// Start launches the worker.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return domain.ErrNotRunning
	}
	if p.started {
		return domain.ErrAlreadyRunning
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	p.started = true

	go func() {
		defer close(p.done)
		p.work(ctx)
	}()
	p.logger.Debug("upload pipeline started",
		log.String("pipeline", p.name),
		log.Int("capacity", cap(p.queue)),
	)
	return nil
}

// Stop halts the worker, waits for an in-progress send to return and
// discards everything still queued. Enqueue fails afterwards.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	n := 0
drain:
	for {
		select {
		case <-p.queue:
			n++
		default:
			break drain
		}
	}
	p.discarded.Add(uint64(n))
	p.logger.Debug("upload pipeline stopped",
		log.String("pipeline", p.name),
		log.Int("discarded", n),
	)
}

// Enqueue copies item's payload into the queue without blocking. When the
// queue is full the new item is rejected with ErrQueueFull; queued items
// are never evicted.
func (p *Pipeline) Enqueue(item domain.UploadItem) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return domain.ErrNotRunning
	}

	owned := item
	owned.Payload = append([]byte(nil), item.Payload...)
	owned.EnqueuedAt = p.opts.Now()

	select {
	case p.queue <- &owned:
		p.queued.Add(1)
		return nil
	default:
		p.overflowed.Add(1)
		return fmt.Errorf("%s: %w", p.name, domain.ErrQueueFull)
	}
}

// Pending returns the number of queued items.
func (p *Pipeline) Pending() int {
	return len(p.queue)
}

// Stats returns an eventually consistent snapshot of the counters.
func (p *Pipeline) Stats() domain.StreamStats {
	return domain.StreamStats{
		Queued:           p.queued.Load(),
		Sent:             p.sent.Load(),
		Failed:           p.failed.Load(),
		Overflowed:       p.overflowed.Load(),
		Discarded:        p.discarded.Load(),
		LastSendDuration: time.Duration(p.lastSendNs.Load()),
	}
}

func (p *Pipeline) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-p.queue:
			p.send(ctx, item)
		}
	}
}

func (p *Pipeline) send(ctx context.Context, item *domain.UploadItem) {
	sendCtx, cancel := context.WithTimeout(ctx, p.opts.SendTimeout)
	defer cancel()

	start := time.Now()
	err := p.sender.Send(sendCtx, *item)
	elapsed := time.Since(start)
	p.lastSendNs.Store(int64(elapsed))

	if err != nil {
		p.failed.Add(1)
		p.logger.Warn("upload failed",
			log.String("pipeline", p.name),
			log.String("kind", item.Kind.String()),
			log.Int("bytes", len(item.Payload)),
			log.Duration("elapsed", elapsed),
			log.Err(err),
		)
		return
	}
	p.sent.Add(1)
	p.logger.Debug("upload sent",
		log.String("pipeline", p.name),
		log.String("kind", item.Kind.String()),
		log.Int("bytes", len(item.Payload)),
		log.Duration("elapsed", elapsed),
	)
}
