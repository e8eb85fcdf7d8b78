package fedctx

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// hostLimiter hands out one token-bucket limiter per destination
// host, independent of the per-inbox delivery backoff tracked by the
// queue package. This keeps a burst of deliveries to many inboxes on
// the same remote host from looking like an abuse pattern to that
// host (SPEC_FULL.md supplemented feature: per-host outbound rate
// limiting), grounded on the teacher's framework/conn/host_limiter.go.
type hostLimiter struct {
	limit       rate.Limit
	burst       int
	prunePeriod time.Duration
	pruneAge    time.Duration

	mu sync.Mutex
	m  map[string]hostEntry

	pMu         sync.Mutex
	pruneCancel context.CancelFunc
	wg          sync.WaitGroup
}

type hostEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

func newHostLimiter(limit rate.Limit, burst int, prunePeriod, pruneAge time.Duration) *hostLimiter {
	return &hostLimiter{
		limit:       limit,
		burst:       burst,
		prunePeriod: prunePeriod,
		pruneAge:    pruneAge,
		m:           make(map[string]hostEntry),
	}
}

// Get returns the limiter for host, creating one on first use.
func (h *hostLimiter) Get(host string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.m[host]
	if !ok {
		e = hostEntry{limiter: rate.NewLimiter(h.limit, h.burst)}
	}
	e.lastUsed = time.Now()
	h.m[host] = e
	return e.limiter
}

// Start launches the background pruning goroutine.
func (h *hostLimiter) Start() {
	h.pMu.Lock()
	defer h.pMu.Unlock()
	if h.pruneCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	h.pruneCancel = cancel
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ticker := time.NewTicker(h.prunePeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.prune()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts pruning and waits for the goroutine to exit.
func (h *hostLimiter) Stop() {
	h.pMu.Lock()
	cancel := h.pruneCancel
	h.pruneCancel = nil
	h.pMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	h.wg.Wait()
}

func (h *hostLimiter) prune() {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	for k, v := range h.m {
		if now.Sub(v.lastUsed) > h.pruneAge {
			delete(h.m, k)
		}
	}
}
