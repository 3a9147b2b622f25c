package metrics

import (
	"testing"
	"time"
)

func TestCollector(t *testing.T) {
	c := NewCollector()

	if c.GetSessionsActive() != 0 {
		t.Error("Initial active sessions should be 0")
	}
	if c.GetSessionsTotal() != 0 {
		t.Error("Initial total sessions should be 0")
	}
	if c.GetHandshakeOK() != 0 {
		t.Error("Initial handshake OK should be 0")
	}
	if c.GetHandshakeBad() != 0 {
		t.Error("Initial handshake bad should be 0")
	}
	if c.GetHandshakeSuccessRate() != 0 {
		t.Error("Initial handshake success rate should be 0")
	}
}

func TestCollectorSessions(t *testing.T) {
	c := NewCollector()

	c.IncrementSessions()
	if c.GetSessionsActive() != 1 {
		t.Error("Should have 1 active session")
	}
	if c.GetSessionsTotal() != 1 {
		t.Error("Should have 1 total session")
	}

	c.IncrementSessions()
	if c.GetSessionsActive() != 2 {
		t.Error("Should have 2 active sessions")
	}
	if c.GetSessionsTotal() != 2 {
		t.Error("Should have 2 total sessions")
	}

	c.DecrementSessions()
	if c.GetSessionsActive() != 1 {
		t.Error("Should have 1 active session after decrement")
	}
	if c.GetSessionsTotal() != 2 {
		t.Error("Total sessions should not decrease")
	}
}

func TestCollectorHandshakes(t *testing.T) {
	c := NewCollector()

	c.IncrementHandshakeOK()
	if c.GetHandshakeOK() != 1 {
		t.Error("Should have 1 OK handshake")
	}

	c.IncrementHandshakeBad()
	if c.GetHandshakeBad() != 1 {
		t.Error("Should have 1 bad handshake")
	}

	c.IncrementHandshakeOK()
	c.IncrementHandshakeOK()
	if c.GetHandshakeOK() != 3 {
		t.Error("Should have 3 OK handshakes")
	}

	rate := c.GetHandshakeSuccessRate()
	expected := 75.0 // 3/4 * 100
	if rate != expected {
		t.Errorf("Handshake success rate = %v, want %v", rate, expected)
	}
}

func TestCollectorBytes(t *testing.T) {
	c := NewCollector()

	c.AddBytesToUpstream(100)
	c.AddBytesToUpstream(50)
	c.AddBytesFromUpstream(200)

	if c.BytesToUpstream.Load() != 150 {
		t.Errorf("BytesToUpstream = %d, want 150", c.BytesToUpstream.Load())
	}
	if c.BytesFromUpstream.Load() != 200 {
		t.Errorf("BytesFromUpstream = %d, want 200", c.BytesFromUpstream.Load())
	}
}

func TestCollectorUpstreamRefresh(t *testing.T) {
	c := NewCollector()

	before := time.Now()
	c.IncrementUpstreamRefreshOK()
	c.IncrementUpstreamRefreshBad()

	if c.UpstreamRefreshOK.Load() != 1 {
		t.Error("Should have 1 successful refresh")
	}
	if c.UpstreamRefreshBad.Load() != 1 {
		t.Error("Should have 1 failed refresh")
	}
	if c.GetLastRefresh().Before(before.Add(-time.Second)) {
		t.Error("Last refresh timestamp should be recent")
	}
}

func TestCollectorSnapshot(t *testing.T) {
	c := NewCollector()

	c.IncrementSessions()
	c.IncrementHandshakeOK()
	c.IncrementHandshakeBad()
	c.AddBytesToUpstream(10)
	c.AddBytesFromUpstream(20)
	c.IncrementUpstreamRefreshOK()

	snap := c.Snapshot()

	if snap.SessionsActive != 1 {
		t.Error("Snapshot should have 1 active session")
	}
	if snap.HandshakeOK != 1 {
		t.Error("Snapshot should have 1 OK handshake")
	}
	if snap.HandshakeBad != 1 {
		t.Error("Snapshot should have 1 bad handshake")
	}
	if snap.HandshakeSuccessRate != 50.0 {
		t.Error("Snapshot handshake success rate should be 50%")
	}
	if snap.BytesToUpstream != 10 {
		t.Error("Snapshot bytes to upstream mismatch")
	}
	if snap.BytesFromUpstream != 20 {
		t.Error("Snapshot bytes from upstream mismatch")
	}
	if snap.UpstreamRefreshOK != 1 {
		t.Error("Snapshot upstream refresh OK mismatch")
	}
}

func TestCollectorReset(t *testing.T) {
	c := NewCollector()

	c.IncrementSessions()
	c.IncrementHandshakeOK()
	c.AddBytesToUpstream(10)
	c.IncrementUpstreamRefreshOK()

	c.Reset()

	if c.GetSessionsActive() != 0 {
		t.Error("Active sessions should be 0 after reset")
	}
	if c.GetSessionsTotal() != 0 {
		t.Error("Total sessions should be 0 after reset")
	}
	if c.GetHandshakeOK() != 0 {
		t.Error("Handshake OK should be 0 after reset")
	}
	if c.BytesToUpstream.Load() != 0 {
		t.Error("Bytes to upstream should be 0 after reset")
	}
	if c.UpstreamRefreshOK.Load() != 0 {
		t.Error("Upstream refresh OK should be 0 after reset")
	}
}

func TestPerUpstreamMetrics(t *testing.T) {
	pm := NewPerUpstreamMetrics()

	if pm.GetOK() != 0 {
		t.Error("Initial OK should be 0")
	}
	if pm.GetBad() != 0 {
		t.Error("Initial bad should be 0")
	}
	if pm.GetTotal() != 0 {
		t.Error("Initial total should be 0")
	}
}

func TestPerUpstreamMetricsIncrement(t *testing.T) {
	pm := NewPerUpstreamMetrics()

	pm.IncrementOK()
	pm.IncrementOK()
	pm.IncrementBad()

	if pm.GetOK() != 2 {
		t.Error("Should have 2 OK")
	}
	if pm.GetBad() != 1 {
		t.Error("Should have 1 bad")
	}
	if pm.GetTotal() != 3 {
		t.Error("Should have 3 total")
	}
}

func TestPerUpstreamMetricsReset(t *testing.T) {
	pm := NewPerUpstreamMetrics()

	pm.IncrementOK()
	pm.IncrementBad()

	pm.Reset()

	if pm.GetOK() != 0 {
		t.Error("OK should be 0 after reset")
	}
	if pm.GetBad() != 0 {
		t.Error("Bad should be 0 after reset")
	}
	if pm.GetTotal() != 0 {
		t.Error("Total should be 0 after reset")
	}
}
