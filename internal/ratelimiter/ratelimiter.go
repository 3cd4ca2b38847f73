// Package ratelimiter implements the token-bucket admission control of spec
// §4.1: capacity R requests/second, small burst, priority-queue waiters with
// FIFO-within-priority fairness, and AvailableTokens() introspection for
// internal/rpcmanager's capacity-aware selection.
//
// golang.org/x/time/rate was considered and rejected: its Limiter exposes no
// fractional-token introspection and has no notion of waiter priority, both
// required here (see DESIGN.md).
package ratelimiter

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Priority bands; higher value wakes first within a tie on token
// availability. PriorityMax, the highest value, is reserved for the
// highest-urgency callers (e.g. send_transaction, spec §4.4).
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityMax
)

// Limiter is a token bucket with capacity/refill rate `rps` and a small burst
// allowance, guarded by a priority-ordered FIFO wait queue.
type Limiter struct {
	mu         sync.Mutex
	rps        float64
	burst      float64
	tokens     float64
	lastRefill time.Time

	seq     uint64
	waiters waiterHeap
	notify  chan struct{}
}

// New creates a Limiter with the given requests-per-second rate and burst
// capacity (spec: "configurable but small (1-2)").
func New(rps float64, burst int) *Limiter {
	if rps <= 0 {
		rps = 1
	}
	if burst < 1 {
		burst = 1
	}
	l := &Limiter{
		rps:        rps,
		burst:      float64(burst),
		tokens:     float64(burst),
		lastRefill: time.Now(),
		notify:     make(chan struct{}, 1),
	}
	heap.Init(&l.waiters)
	go l.refillLoop()
	return l
}

// refillLoop periodically pumps the wait queue so waiters wake as tokens
// accrue even when no new Acquire call arrives to drive pump(). The tick
// interval is the time to accrue one token, clamped to a sane range.
func (l *Limiter) refillLoop() {
	interval := time.Duration(float64(time.Second) / l.rps)
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	if interval > time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		l.pump()
	}
}

type waiter struct {
	priority Priority
	seq      uint64 // FIFO tiebreak within a priority band
	index    int
	ready    chan struct{}
}

type waiterHeap []*waiter

func (h waiterHeap) Len() int { return len(h) }
func (h waiterHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority // higher priority first
	}
	return h[i].seq < h[j].seq // FIFO within a band
}
func (h waiterHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *waiterHeap) Push(x any) {
	w := x.(*waiter)
	w.index = len(*h)
	*h = append(*h, w)
}
func (h *waiterHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return w
}

// refill tops up the bucket based on elapsed wall time. Caller must hold mu.
func (l *Limiter) refill() {
	now := time.Now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	l.tokens += elapsed * l.rps
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.lastRefill = now
}

// AvailableTokens returns the real-valued token count after refill, used by
// internal/rpcmanager for capacity-aware provider selection. Cache reads are
// not suspension points and never call this.
func (l *Limiter) AvailableTokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill()
	return l.tokens
}

// Acquire blocks until a token is available, honoring priority-band fairness.
// No token is issued below 1.0; at most one waiter is released per token; a
// waiter is woken strictly in FIFO order within its priority band.
func (l *Limiter) Acquire(ctx context.Context, priority Priority) error {
	l.mu.Lock()
	l.refill()
	if l.tokens >= 1 && l.waiters.Len() == 0 {
		l.tokens--
		l.mu.Unlock()
		return nil
	}

	l.seq++
	w := &waiter{priority: priority, seq: l.seq, ready: make(chan struct{})}
	heap.Push(&l.waiters, w)
	l.mu.Unlock()

	l.pump()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		if w.index >= 0 && w.index < len(l.waiters) && l.waiters[w.index] == w {
			heap.Remove(&l.waiters, w.index)
		}
		l.mu.Unlock()
		return ctx.Err()
	}
}

// pump releases as many ready waiters (highest priority, FIFO) as the current
// token balance allows. It is safe to call opportunistically; it is a no-op
// when nothing can be released.
func (l *Limiter) pump() {
	for {
		l.mu.Lock()
		l.refill()
		if l.waiters.Len() == 0 || l.tokens < 1 {
			l.mu.Unlock()
			return
		}
		l.tokens--
		w := heap.Pop(&l.waiters).(*waiter)
		l.mu.Unlock()
		close(w.ready)
	}
}

// Release is a periodic tick hook background callers can use to drive pump()
// even with no new acquirers (e.g. a refill-driven ticker). Acquire already
// self-pumps, so this is only needed for long-idle buckets with many waiters
// queued ahead of a slow refill rate.
func (l *Limiter) Release() {
	l.pump()
}
