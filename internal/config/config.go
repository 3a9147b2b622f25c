// Package config defines the typed configuration tree rps loads from a
// JSON file, in the shape (nested JSON-tagged structs, manual
// default-filling plus validation in Load) that
// carlosrabelo-karoo/core/cmd/karoo/main.go's loadConfig uses for its
// single-upstream config, expanded here to the full proxy/upstreams/api/
// ratelimit/http surface spec.md §6 requires.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

type Config struct {
	Proxy     ProxyConfig     `json:"proxy"`
	Upstreams UpstreamsConfig `json:"upstreams"`
	API       APIConfig       `json:"api"`
	RateLimit RateLimitConfig `json:"ratelimit"`
	HTTP      HTTPConfig      `json:"http"`
}

type ProxyConfig struct {
	Protocol      string `json:"protocol"` // "http", "socks5", "socks4"
	Listen        string `json:"listen"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	IdleTimeoutMs int    `json:"idle_timeout_ms"`
	DialTimeoutMs int    `json:"dial_timeout_ms"`
	MaxSessions   int    `json:"max_sessions"`
	ReadBuf       int    `json:"read_buf"`
	WriteBuf      int    `json:"write_buf"`
	RequireHost   bool   `json:"require_host_header"`
}

type UpstreamPoolConfig struct {
	Proto string `json:"proto"`
}

type UpstreamsConfig struct {
	Hybrid    bool                 `json:"hybrid"`
	Schedule  string               `json:"schedule"` // rr|random|wrr
	MaxReconn int                  `json:"maxreconn"`
	MaxRetry  int                  `json:"maxretry"`
	Pools     []UpstreamPoolConfig `json:"pools"`
}

type APIConfig struct {
	URL               string `json:"url"`
	TimeoutMs         int    `json:"timeout_ms"`
	RefreshIntervalMs int    `json:"refresh_interval_ms"`
}

type RateLimitConfig struct {
	Enabled                 bool `json:"enabled"`
	MaxConnectionsPerIP     int  `json:"max_connections_per_ip"`
	MaxConnectionsPerMinute int  `json:"max_connections_per_minute"`
	BanDurationSeconds      int  `json:"ban_duration_seconds"`
	CleanupIntervalSeconds  int  `json:"cleanup_interval_seconds"`
}

type HTTPConfig struct {
	Listen string `json:"listen"`
	Pprof  bool   `json:"pprof"`
}

// Load reads and parses path, fills in defaults, and validates required
// fields — in the same load-then-default-then-validate shape as
// carlosrabelo-karoo's loadConfig.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Proxy.Listen == "" {
		c.Proxy.Listen = "0.0.0.0:1080"
	}
	if c.Proxy.Protocol == "" {
		c.Proxy.Protocol = "socks5"
	}
	if c.Proxy.IdleTimeoutMs == 0 {
		c.Proxy.IdleTimeoutMs = 30000
	}
	if c.Proxy.DialTimeoutMs == 0 {
		c.Proxy.DialTimeoutMs = 10000
	}
	if c.Proxy.MaxSessions == 0 {
		c.Proxy.MaxSessions = 1000
	}
	if c.Proxy.ReadBuf == 0 {
		c.Proxy.ReadBuf = 4096
	}
	if c.Proxy.WriteBuf == 0 {
		c.Proxy.WriteBuf = 4096
	}
	if c.Upstreams.Schedule == "" {
		c.Upstreams.Schedule = "rr"
	}
	if c.Upstreams.MaxReconn == 0 {
		c.Upstreams.MaxReconn = 3
	}
	if c.Upstreams.MaxRetry == 0 {
		c.Upstreams.MaxRetry = 3
	}
	if c.API.TimeoutMs == 0 {
		c.API.TimeoutMs = 5000
	}
	if c.API.RefreshIntervalMs == 0 {
		c.API.RefreshIntervalMs = 30000
	}
	if c.RateLimit.CleanupIntervalSeconds == 0 {
		c.RateLimit.CleanupIntervalSeconds = 60
	}
}

func (c *Config) validate() error {
	switch c.Proxy.Protocol {
	case "http", "socks5", "socks4":
	default:
		return fmt.Errorf("proxy.protocol %q is not one of http|socks5|socks4", c.Proxy.Protocol)
	}

	switch c.Upstreams.Schedule {
	case "rr", "random", "wrr":
	default:
		return fmt.Errorf("upstreams.schedule %q is not one of rr|random|wrr", c.Upstreams.Schedule)
	}

	if c.API.URL == "" {
		return fmt.Errorf("api.url is required")
	}
	if len(c.Upstreams.Pools) == 0 {
		return fmt.Errorf("upstreams.pools must contain at least one pool")
	}
	for _, pool := range c.Upstreams.Pools {
		switch pool.Proto {
		case "socks5", "http", "http_tunnel":
		default:
			return fmt.Errorf("upstreams.pools: unsupported proto %q", pool.Proto)
		}
	}

	return nil
}
