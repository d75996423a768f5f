package tasks

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Gate enforces a queue's dispatch rate and concurrency ceiling.
type Gate struct {
	limiter *rate.Limiter
	sem     *semaphore.Weighted
}

func NewGate(r RateLimit) *Gate {
	limit := rate.Inf
	if r.MaxDispatchesPerSecond > 0 {
		limit = rate.Limit(r.MaxDispatchesPerSecond)
	}
	concurrent := int64(r.MaxConcurrentDispatches)
	if concurrent <= 0 {
		concurrent = 1
	}
	return &Gate{limiter: rate.NewLimiter(limit, 1), sem: semaphore.NewWeighted(concurrent)}
}

// Acquire blocks until a dispatch slot is free. The returned func releases it.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { g.sem.Release(1) }, nil
}

// busyRetry is the wait reported by TryAcquire when only the concurrency
// ceiling is exhausted.
const busyRetry = 5 * time.Second

// TryAcquire takes a dispatch slot without waiting. When none is free it
// reports how long until one is likely to be.
func (g *Gate) TryAcquire() (func(), time.Duration, bool) {
	r := g.limiter.Reserve()
	if !r.OK() {
		return nil, busyRetry, false
	}
	if d := r.Delay(); d > 0 {
		r.Cancel()
		return nil, d, false
	}
	if !g.sem.TryAcquire(1) {
		r.Cancel()
		return nil, busyRetry, false
	}
	return func() { g.sem.Release(1) }, 0, true
}

// Gates lazily builds one Gate per queue.
type Gates struct {
	mu      sync.Mutex
	gates   map[string]*Gate
	options func(name string) Options
}

func NewGates(options func(name string) Options) *Gates {
	return &Gates{gates: make(map[string]*Gate), options: options}
}

func (g *Gates) For(name string) *Gate {
	g.mu.Lock()
	defer g.mu.Unlock()
	gate, ok := g.gates[name]
	if !ok {
		gate = NewGate(g.options(name).Rate)
		g.gates[name] = gate
	}
	return gate
}
