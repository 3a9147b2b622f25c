// Package metrics provides collection and reporting of proxy metrics, in
// the same atomic-counter-plus-Snapshot shape
// carlosrabelo-karoo/core/internal/metrics uses for mining metrics, retyped
// here for rps's session/relay/upstream counters.
package metrics

import (
	"sync/atomic"
	"time"
)

// Collector holds all proxy metrics.
type Collector struct {
	// Session metrics
	SessionsActive atomic.Int64
	SessionsTotal  atomic.Uint64

	// Handshake outcome metrics
	HandshakeOK  atomic.Uint64
	HandshakeBad atomic.Uint64

	// Relay byte counters
	BytesToUpstream   atomic.Uint64
	BytesFromUpstream atomic.Uint64

	// Upstream pool metrics
	UpstreamRefreshOK  atomic.Uint64
	UpstreamRefreshBad atomic.Uint64
	LastRefreshUnix    atomic.Int64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{}
}

// IncrementSessions increments the active session count and the lifetime total.
func (m *Collector) IncrementSessions() {
	m.SessionsActive.Add(1)
	m.SessionsTotal.Add(1)
}

// DecrementSessions decrements the active session count.
func (m *Collector) DecrementSessions() {
	m.SessionsActive.Add(-1)
}

// GetSessionsActive returns the current number of active sessions.
func (m *Collector) GetSessionsActive() int64 {
	return m.SessionsActive.Load()
}

// GetSessionsTotal returns the lifetime number of sessions accepted.
func (m *Collector) GetSessionsTotal() uint64 {
	return m.SessionsTotal.Load()
}

// IncrementHandshakeOK increments the successful-handshake counter.
func (m *Collector) IncrementHandshakeOK() {
	m.HandshakeOK.Add(1)
}

// IncrementHandshakeBad increments the failed-handshake counter.
func (m *Collector) IncrementHandshakeBad() {
	m.HandshakeBad.Add(1)
}

// GetHandshakeOK returns the total successful handshakes.
func (m *Collector) GetHandshakeOK() uint64 {
	return m.HandshakeOK.Load()
}

// GetHandshakeBad returns the total failed handshakes.
func (m *Collector) GetHandshakeBad() uint64 {
	return m.HandshakeBad.Load()
}

// AddBytesToUpstream accumulates bytes relayed from client to upstream.
func (m *Collector) AddBytesToUpstream(n uint64) {
	m.BytesToUpstream.Add(n)
}

// AddBytesFromUpstream accumulates bytes relayed from upstream to client.
func (m *Collector) AddBytesFromUpstream(n uint64) {
	m.BytesFromUpstream.Add(n)
}

// IncrementUpstreamRefreshOK increments the successful-pool-refresh counter.
func (m *Collector) IncrementUpstreamRefreshOK() {
	m.UpstreamRefreshOK.Add(1)
	m.LastRefreshUnix.Store(time.Now().Unix())
}

// IncrementUpstreamRefreshBad increments the failed-pool-refresh counter.
func (m *Collector) IncrementUpstreamRefreshBad() {
	m.UpstreamRefreshBad.Add(1)
}

// GetLastRefresh returns the timestamp of the last successful pool refresh.
func (m *Collector) GetLastRefresh() time.Time {
	return time.Unix(m.LastRefreshUnix.Load(), 0)
}

// GetHandshakeSuccessRate calculates the handshake success rate as a percentage.
func (m *Collector) GetHandshakeSuccessRate() float64 {
	total := m.HandshakeOK.Load() + m.HandshakeBad.Load()
	if total == 0 {
		return 0
	}
	return (float64(m.HandshakeOK.Load()) / float64(total)) * 100
}

// Reset resets all metrics to zero values.
func (m *Collector) Reset() {
	m.SessionsActive.Store(0)
	m.SessionsTotal.Store(0)
	m.HandshakeOK.Store(0)
	m.HandshakeBad.Store(0)
	m.BytesToUpstream.Store(0)
	m.BytesFromUpstream.Store(0)
	m.UpstreamRefreshOK.Store(0)
	m.UpstreamRefreshBad.Store(0)
	m.LastRefreshUnix.Store(0)
}

// Snapshot returns a point-in-time view of the metrics.
func (m *Collector) Snapshot() Snapshot {
	return Snapshot{
		SessionsActive:       m.GetSessionsActive(),
		SessionsTotal:        m.GetSessionsTotal(),
		HandshakeOK:          m.GetHandshakeOK(),
		HandshakeBad:         m.GetHandshakeBad(),
		HandshakeSuccessRate: m.GetHandshakeSuccessRate(),
		BytesToUpstream:      m.BytesToUpstream.Load(),
		BytesFromUpstream:    m.BytesFromUpstream.Load(),
		UpstreamRefreshOK:    m.UpstreamRefreshOK.Load(),
		UpstreamRefreshBad:   m.UpstreamRefreshBad.Load(),
		LastRefresh:          m.GetLastRefresh(),
	}
}

// Snapshot represents a point-in-time view of metrics.
type Snapshot struct {
	SessionsActive       int64     `json:"sessions_active"`
	SessionsTotal        uint64    `json:"sessions_total"`
	HandshakeOK          uint64    `json:"handshake_ok"`
	HandshakeBad         uint64    `json:"handshake_bad"`
	HandshakeSuccessRate float64   `json:"handshake_success_rate"`
	BytesToUpstream      uint64    `json:"bytes_to_upstream"`
	BytesFromUpstream    uint64    `json:"bytes_from_upstream"`
	UpstreamRefreshOK    uint64    `json:"upstream_refresh_ok"`
	UpstreamRefreshBad   uint64    `json:"upstream_refresh_bad"`
	LastRefresh          time.Time `json:"last_refresh"`
}

// PerUpstreamMetrics holds per-upstream-entry relay metrics, mirroring the
// teacher's per-client share metrics but counting successful/failed
// connect-through attempts instead.
type PerUpstreamMetrics struct {
	OK  atomic.Uint64
	Bad atomic.Uint64
}

// NewPerUpstreamMetrics creates new per-upstream metrics.
func NewPerUpstreamMetrics() *PerUpstreamMetrics {
	return &PerUpstreamMetrics{}
}

// IncrementOK increments successful connect-throughs for this upstream.
func (c *PerUpstreamMetrics) IncrementOK() {
	c.OK.Add(1)
}

// IncrementBad increments failed connect-throughs for this upstream.
func (c *PerUpstreamMetrics) IncrementBad() {
	c.Bad.Add(1)
}

// GetOK returns successful connect-through count.
func (c *PerUpstreamMetrics) GetOK() uint64 {
	return c.OK.Load()
}

// GetBad returns failed connect-through count.
func (c *PerUpstreamMetrics) GetBad() uint64 {
	return c.Bad.Load()
}

// GetTotal returns total connect-through attempts.
func (c *PerUpstreamMetrics) GetTotal() uint64 {
	return c.OK.Load() + c.Bad.Load()
}

// Reset resets per-upstream metrics.
func (c *PerUpstreamMetrics) Reset() {
	c.OK.Store(0)
	c.Bad.Store(0)
}
