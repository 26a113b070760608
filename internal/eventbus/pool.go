package eventbus

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// shardPool runs deliveries on a fixed set of workers. Deliveries with the
// same shard key always land on the same worker, so they are handled in
// arrival order while unrelated keys proceed in parallel.
type shardPool struct {
	shards  []chan Delivery
	process func(ctx context.Context, d Delivery)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

func newShardPool(workers, buffer int, process func(ctx context.Context, d Delivery)) *shardPool {
	if workers <= 0 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &shardPool{
		shards:  make([]chan Delivery, workers),
		process: process,
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := range p.shards {
		p.shards[i] = make(chan Delivery, buffer)
	}
	return p
}

func (p *shardPool) start() {
	for _, ch := range p.shards {
		p.wg.Add(1)
		go func(ch chan Delivery) {
			defer p.wg.Done()
			for d := range ch {
				// After cancellation leftovers stay unacknowledged and are redelivered.
				if p.ctx.Err() != nil {
					continue
				}
				p.process(p.ctx, d)
			}
		}(ch)
	}
}

// shardKey prefers the entity key and falls back to the subject.
func shardKey(d Delivery) string {
	if key := d.Headers().Get(HeaderEventKey); key != "" {
		return key
	}
	return d.Subject()
}

func (p *shardPool) shardFor(d Delivery) int {
	return int(xxhash.Sum64String(shardKey(d)) % uint64(len(p.shards)))
}

// submit queues d, blocking while its worker is busy. It reports false once
// the pool is stopping; such deliveries are left for redelivery.
func (p *shardPool) submit(d Delivery) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return false
	}
	select {
	case p.shards[p.shardFor(d)] <- d:
		return true
	case <-p.ctx.Done():
		return false
	}
}

// stop closes the queues and waits for the workers. When ctx expires first,
// in-flight handlers are cancelled and stop waits for them to return.
func (p *shardPool) stop(ctx context.Context) error {
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			p.cancel()
		case <-finished:
		}
	}()

	// A blocked submit holds the read lock until its worker frees up or
	// the pool is cancelled.
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		for _, ch := range p.shards {
			close(ch)
		}
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
	return ctx.Err()
}
