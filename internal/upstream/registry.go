package upstream

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/carlosrabelo/rps/pkg/logger"
)

// Registry is the set of all pools plus the routing policy: scheduler,
// hybrid flag, and a one-shot readiness gate signaling the first fully
// successful refresh pass (spec.md §3, §4.6).
type Registry struct {
	Pools    []*Pool
	Schedule Schedule
	Hybrid   bool

	readyOnce sync.Once
	ready     chan struct{}
}

// NewRegistry builds a registry over the given pools.
func NewRegistry(pools []*Pool, schedule Schedule, hybrid bool) *Registry {
	return &Registry{
		Pools:    pools,
		Schedule: schedule,
		Hybrid:   hybrid,
		ready:    make(chan struct{}),
	}
}

// Ready returns a channel closed once the first fully successful refresh
// pass over every pool has completed — the Go idiom replacing the
// reference implementation's uv_cond_t "ready" broadcast.
func (r *Registry) Ready() <-chan struct{} {
	return r.ready
}

func (r *Registry) markReady() {
	r.readyOnce.Do(func() { close(r.ready) })
}

func connectCapable(p Protocol) bool {
	return p == ProtoHTTPTunnel || p == ProtoSOCKS5
}

func (r *Registry) poolFor(proto Protocol) *Pool {
	if len(r.Pools) == 0 {
		return nil
	}

	if r.Hybrid {
		if connectCapable(proto) {
			// http_tunnel/socks5 clients may only forward via a
			// connect-capable upstream pool (spec.md §4.6).
			candidates := make([]*Pool, 0, len(r.Pools))
			for _, p := range r.Pools {
				if connectCapable(p.Proto) {
					candidates = append(candidates, p)
				}
			}
			if len(candidates) == 0 {
				return nil
			}
			return candidates[rand.Intn(len(candidates))]
		}
		return r.Pools[rand.Intn(len(r.Pools))]
	}

	for _, p := range r.Pools {
		if p.Proto == proto {
			return p
		}
	}
	return nil
}

// Get selects an upstream for the given client protocol, dispatching on
// Schedule exactly as upstreams_get does: hybrid-restricted random pool
// pick or linear scan by proto, then rr/random entry selection within that
// pool. Returns ErrNoUpstream if no pool matches or the pool is empty, and
// ErrSchedulerUnsupported if Schedule is wrr.
func (r *Registry) Get(proto Protocol) (Upstream, error) {
	pool := r.poolFor(proto)
	if pool == nil {
		return Upstream{}, ErrNoUpstream
	}

	var entry *Upstream
	var err error

	switch r.Schedule {
	case ScheduleRR:
		entry, err = pool.getRR()
	case ScheduleRandom:
		entry, err = pool.getRandom()
	default:
		return Upstream{}, ErrSchedulerUnsupported
	}
	if err != nil {
		return Upstream{}, err
	}

	atomic.AddUint64(&entry.count, 1)
	return entry.clone(), nil
}

// Refresher runs a ticker-driven background loop (grounded on
// carlosrabelo-karoo's Proxy.UpstreamManager/ReportLoop shape): on every
// tick it refreshes all pools concurrently via errgroup, logs (never
// aborts) on partial failure, and marks the registry ready after the first
// tick in which every pool refreshed successfully.
func (r *Registry) Refresher(ctx context.Context, interval time.Duration) {
	r.refreshAll(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshAll(ctx)
		}
	}
}

func (r *Registry) refreshAll(ctx context.Context) {
	// A plain errgroup.Group, not errgroup.WithContext: a failed refresh of
	// one pool must not cancel the in-flight fetch of another (spec.md
	// §4.6/§7 — refresh failures are per-pool and invisible to unrelated
	// pools, so siblings always get to finish their own fetch).
	var g errgroup.Group
	for _, pool := range r.Pools {
		pool := pool
		g.Go(func() error {
			if err := pool.Refresh(ctx); err != nil {
				logger.Error("update %s upstream proxy pool failed: %v", pool.Proto, err)
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err == nil {
		r.markReady()
	}
}
