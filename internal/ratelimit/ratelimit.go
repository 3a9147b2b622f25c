// Package ratelimit implements the per-IP admission gate the acceptor (C4,
// internal/server.Server.Serve) runs before a session.Session is ever
// created (spec.md §4.5: "on each accept... allocate a session" only after
// whatever admission checks the deployment configures). A rejected peer
// never gets a session.Context at all, so this package has no notion of
// session.Role or session.State — it only tracks how many sessions a given
// remote IP currently has open and how fast it has been opening new ones.
package ratelimit

import (
	"net"
	"sync"
	"time"
)

// Config holds the admission-gate thresholds for one Server instance.
type Config struct {
	// Enabled indicates if the gate is active at all.
	Enabled bool `json:"enabled"`
	// MaxConnectionsPerIP caps concurrently open sessions from one peer IP.
	MaxConnectionsPerIP int `json:"max_connections_per_ip"`
	// MaxConnectionsPerMinute caps new sessions opened per minute from one peer IP.
	MaxConnectionsPerMinute int `json:"max_connections_per_minute"`
	// BanDurationSeconds is how long a peer that exceeds either limit is refused outright.
	BanDurationSeconds int `json:"ban_duration_seconds"`
	// CleanupIntervalSeconds is how often idle per-peer windows are swept.
	CleanupIntervalSeconds int `json:"cleanup_interval_seconds"`
}

// sessionWindow tracks one peer IP's admission history: how many of its
// sessions are currently open, the accept timestamps inside the trailing
// one-minute window, and whether it is presently banned.
type sessionWindow struct {
	mu             sync.Mutex
	activeSessions int
	acceptTimes    []time.Time
	bannedUntil    time.Time
}

// Limiter is the admission gate: one sessionWindow per peer IP that has ever
// been seen, guarded by its own mutex so the acceptor's hot path only takes
// the map-level lock long enough to find or create a peer's window.
type Limiter struct {
	cfg     *Config
	mu      sync.RWMutex
	windows map[string]*sessionWindow
}

// NewLimiter creates a new rate limiter
func NewLimiter(cfg *Config) *Limiter {
	if cfg == nil {
		cfg = &Config{
			Enabled:                 false,
			MaxConnectionsPerIP:     100,
			MaxConnectionsPerMinute: 60,
			BanDurationSeconds:      300,
			CleanupIntervalSeconds:  60,
		}
	}

	l := &Limiter{
		cfg:     cfg,
		windows: make(map[string]*sessionWindow),
	}

	// Start cleanup routine if enabled
	if cfg.Enabled && cfg.CleanupIntervalSeconds > 0 {
		go l.cleanupRoutine()
	}

	return l
}

// AllowConnection reports whether the acceptor may create a session for a
// peer at addr: false means the peer is banned, at its concurrent-session
// cap, or has opened sessions too fast and is now being banned.
func (l *Limiter) AllowConnection(addr net.Addr) bool {
	if !l.cfg.Enabled {
		return true
	}

	ip := extractIP(addr)
	if ip == "" {
		return false
	}

	// Get or create the window for this peer IP
	l.mu.RLock()
	win, exists := l.windows[ip]
	l.mu.RUnlock()

	if !exists {
		l.mu.Lock()
		// Double-check after acquiring write lock
		win, exists = l.windows[ip]
		if !exists {
			win = &sessionWindow{
				acceptTimes: make([]time.Time, 0, l.cfg.MaxConnectionsPerMinute),
			}
			l.windows[ip] = win
		}
		l.mu.Unlock()
	}

	win.mu.Lock()
	defer win.mu.Unlock()

	now := time.Now()

	// Check if the peer is banned
	if now.Before(win.bannedUntil) {
		return false
	}

	// Check concurrent-session limit
	if l.cfg.MaxConnectionsPerIP > 0 && win.activeSessions >= l.cfg.MaxConnectionsPerIP {
		return false
	}

	// Check accept-rate limit
	if l.cfg.MaxConnectionsPerMinute > 0 {
		// Drop accept timestamps older than 1 minute
		cutoff := now.Add(-time.Minute)
		fresh := win.acceptTimes[:0]
		for _, t := range win.acceptTimes {
			if t.After(cutoff) {
				fresh = append(fresh, t)
			}
		}
		win.acceptTimes = fresh

		// Ban the peer if it exceeded the per-minute rate
		if len(win.acceptTimes) >= l.cfg.MaxConnectionsPerMinute {
			win.bannedUntil = now.Add(time.Duration(l.cfg.BanDurationSeconds) * time.Second)
			return false
		}

		win.acceptTimes = append(win.acceptTimes, now)
	}

	// Admit the session
	win.activeSessions++
	return true
}

// ReleaseConnection decrements the active-session count for a peer IP,
// called once a session.Session for that peer has fully torn down.
func (l *Limiter) ReleaseConnection(addr net.Addr) {
	if !l.cfg.Enabled {
		return
	}

	ip := extractIP(addr)
	if ip == "" {
		return
	}

	l.mu.RLock()
	win, exists := l.windows[ip]
	l.mu.RUnlock()

	if !exists {
		return
	}

	win.mu.Lock()
	if win.activeSessions > 0 {
		win.activeSessions--
	}
	win.mu.Unlock()
}

// IsBanned reports whether a peer IP is currently refused outright.
func (l *Limiter) IsBanned(addr net.Addr) bool {
	if !l.cfg.Enabled {
		return false
	}

	ip := extractIP(addr)
	if ip == "" {
		return false
	}

	l.mu.RLock()
	win, exists := l.windows[ip]
	l.mu.RUnlock()

	if !exists {
		return false
	}

	win.mu.Lock()
	defer win.mu.Unlock()

	return time.Now().Before(win.bannedUntil)
}

// GetStats returns the current admission-gate snapshot for one peer IP.
// internal/httpapi's /status endpoint reports GetGlobalStats, not this.
func (l *Limiter) GetStats(addr net.Addr) map[string]interface{} {
	ip := extractIP(addr)
	if ip == "" {
		return nil
	}

	l.mu.RLock()
	win, exists := l.windows[ip]
	l.mu.RUnlock()

	if !exists {
		return map[string]interface{}{
			"ip":                    ip,
			"active_connections":    0,
			"connections_in_minute": 0,
			"banned":                false,
		}
	}

	win.mu.Lock()
	defer win.mu.Unlock()

	return map[string]interface{}{
		"ip":                    ip,
		"active_connections":    win.activeSessions,
		"connections_in_minute": len(win.acceptTimes),
		"banned":                time.Now().Before(win.bannedUntil),
		"banned_until":          win.bannedUntil,
	}
}

// GetGlobalStats returns an aggregate snapshot across every peer IP the
// gate currently tracks, used by internal/httpapi's /status endpoint.
func (l *Limiter) GetGlobalStats() map[string]interface{} {
	l.mu.RLock()
	defer l.mu.RUnlock()

	totalIPs := len(l.windows)
	totalActive := 0
	bannedIPs := 0

	now := time.Now()
	for _, win := range l.windows {
		win.mu.Lock()
		totalActive += win.activeSessions
		if now.Before(win.bannedUntil) {
			bannedIPs++
		}
		win.mu.Unlock()
	}

	return map[string]interface{}{
		"total_ips":        totalIPs,
		"total_active":     totalActive,
		"banned_ips":       bannedIPs,
		"max_per_ip":       l.cfg.MaxConnectionsPerIP,
		"max_per_minute":   l.cfg.MaxConnectionsPerMinute,
		"ban_duration_sec": l.cfg.BanDurationSeconds,
	}
}

// cleanupRoutine periodically sweeps idle per-peer windows.
func (l *Limiter) cleanupRoutine() {
	interval := time.Duration(l.cfg.CleanupIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		l.cleanup()
	}
}

// cleanup removes peer windows with no active sessions, no active ban, and
// no accept activity in the last 5 minutes.
func (l *Limiter) cleanup() {
	now := time.Now()
	cutoff := now.Add(-5 * time.Minute)

	l.mu.Lock()
	defer l.mu.Unlock()

	for ip, win := range l.windows {
		win.mu.Lock()

		stale := win.activeSessions == 0 &&
			now.After(win.bannedUntil) &&
			(len(win.acceptTimes) == 0 || win.acceptTimes[len(win.acceptTimes)-1].Before(cutoff))
		if stale {
			delete(l.windows, ip)
		}

		win.mu.Unlock()
	}
}

// extractIP extracts the peer IP from a net.Addr (session.Context.PeerAddr
// carries the full addr:port string; the gate keys only on the address).
func extractIP(addr net.Addr) string {
	switch v := addr.(type) {
	case *net.TCPAddr:
		return v.IP.String()
	case *net.UDPAddr:
		return v.IP.String()
	default:
		// Try to parse as string
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return addr.String()
		}
		return host
	}
}
