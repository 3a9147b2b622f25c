package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carlosrabelo/rps/internal/metrics"
	"github.com/carlosrabelo/rps/pkg/logger"
)

// Pool is a per-protocol collection of upstreams, reloaded from a remote
// control API under a writer lock and served to readers under a reader
// lock (spec.md §4.6, §5).
type Pool struct {
	Proto   Protocol
	API     string
	Timeout time.Duration

	// Metrics, when set, is driven with IncrementUpstreamRefreshOK/Bad on
	// every Refresh outcome — the same Collector internal/server drives
	// for session/handshake counters, not a separate tally.
	Metrics *metrics.Collector

	mu      sync.RWMutex
	entries []*Upstream
	index   atomic.Int64

	client *http.Client
}

// NewPool builds a pool whose API URL is "<apiBase>/proxy/<proto>",
// matching upstream_pool_init's per-protocol URL construction.
func NewPool(proto Protocol, apiBase string, timeout time.Duration) *Pool {
	return &Pool{
		Proto:   proto,
		API:     fmt.Sprintf("%s/proxy/%s", apiBase, proto),
		Timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// upstreamRecord is the JSON shape of one element of the control API's
// response array (spec.md §6).
type upstreamRecord struct {
	Host     string  `json:"host"`
	Port     int     `json:"port"`
	Proto    string  `json:"proto"`
	Username *string `json:"username"`
	Password *string `json:"password"`
	Weight   *int    `json:"weight"`
}

// Refresh builds a new entry slice, fetches and parses the control API
// response, and—only on full success—swaps it in under the write lock.
// On any failure the old slice is left untouched and an error is returned,
// matching upstream_pool_refresh's "discard new array, keep the old one"
// contract (spec.md §4.6 step 5, fixing the documented missing-return bug
// in upstream_pool_json_parse by always returning an explicit status).
func (p *Pool) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.API, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "rps/curl")

	resp, err := p.client.Do(req)
	if err != nil {
		p.recordRefreshBad()
		logger.Error("upstream: fetch %s failed: %v", p.API, err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.recordRefreshBad()
		err := fmt.Errorf("upstream api %s returned status %d", p.API, resp.StatusCode)
		logger.Error("%v", err)
		return err
	}

	var records []upstreamRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		p.recordRefreshBad()
		logger.Error("upstream: decode %s failed: %v", p.API, err)
		return err
	}

	newEntries := make([]*Upstream, 0, len(records))
	for _, rec := range records {
		u, err := recordToUpstream(rec)
		if err != nil {
			// Individual malformed records are logged and skipped; they
			// never fail the whole refresh (spec.md §4.6 step 3).
			logger.Warn("upstream: skipping malformed record %+v: %v", rec, err)
			continue
		}
		newEntries = append(newEntries, u)
	}

	p.mu.Lock()
	p.entries = newEntries
	p.mu.Unlock()

	p.recordRefreshOK()
	logger.Debug("refresh %s upstream pool, got %d proxies", p.Proto, len(newEntries))
	return nil
}

func (p *Pool) recordRefreshOK() {
	if p.Metrics != nil {
		p.Metrics.IncrementUpstreamRefreshOK()
	}
}

func (p *Pool) recordRefreshBad() {
	if p.Metrics != nil {
		p.Metrics.IncrementUpstreamRefreshBad()
	}
}

func recordToUpstream(rec upstreamRecord) (*Upstream, error) {
	if rec.Host == "" {
		return nil, fmt.Errorf("missing host")
	}
	if rec.Port <= 0 || rec.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", rec.Port)
	}
	proto := Protocol(rec.Proto)
	switch proto {
	case ProtoSOCKS5, ProtoHTTP, ProtoHTTPTunnel:
	default:
		return nil, fmt.Errorf("unsupported proto %q", rec.Proto)
	}

	u := &Upstream{
		Proto: proto,
		Host:  rec.Host,
		Port:  uint16(rec.Port),
	}
	if rec.Username != nil {
		u.Username = *rec.Username
	}
	if rec.Password != nil {
		u.Password = *rec.Password
	}
	if rec.Weight != nil {
		u.Weight = uint16(*rec.Weight)
	} else {
		u.Weight = 1
	}
	return u, nil
}

// getRR returns pool[index] and advances index, taking the pool's read lock
// itself. index only grows; it is reduced modulo the current length on each
// read.
func (p *Pool) getRR() (*Upstream, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.entries) == 0 {
		return nil, ErrNoUpstream
	}
	idx := p.index.Add(1) - 1
	return p.entries[int(idx)%len(p.entries)], nil
}

// getRandom returns a uniformly random entry and records its position in
// index, taking the pool's read lock itself.
func (p *Pool) getRandom() (*Upstream, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.entries) == 0 {
		return nil, ErrNoUpstream
	}
	i := rand.Intn(len(p.entries))
	p.index.Store(int64(i))
	return p.entries[i], nil
}

// Len reports the current entry count (telemetry/tests only).
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}
