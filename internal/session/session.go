// Package session implements the per-connection lifecycle manager (C3):
// the session/context pair, the monotonic state lattice, and idempotent
// teardown. It recasts the reference implementation's libuv callback
// dispatch (on_read/on_timer_expire/on_close) as goroutines driven by
// blocking reads plus a time.AfterFunc inactivity timer — the idiomatic
// substitution spec.md §9 ("Callback control flow") explicitly invites for
// a target with first-class async, and the shape carlosrabelo-karoo itself
// uses (one goroutine per connection rather than an event loop).
package session

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/carlosrabelo/rps/pkg/errors"
)

// Role identifies which side of a proxy flow a context represents.
type Role int

const (
	RoleRequest Role = iota
	RoleForward
)

func (r Role) String() string {
	if r == RoleForward {
		return "forward"
	}
	return "request"
}

// State is a point in the lifecycle lattice (spec.md §4.3):
//
//	init -> handshake -> auth -> exchange
//	  -> forwardConnect -> forwardHandshake -> forwardAuth -> tunnel
//	  -> closing -> closed
//
// State only ever advances; Context.Advance rejects any attempt to move
// backward or skip to an earlier value.
type State int32

const (
	StateInit State = iota
	StateHandshake
	StateAuth
	StateExchange
	StateForwardConnect
	StateForwardHandshake
	StateForwardAuth
	StateTunnel
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateHandshake:
		return "handshake"
	case StateAuth:
		return "auth"
	case StateExchange:
		return "exchange"
	case StateForwardConnect:
		return "forward_connect"
	case StateForwardHandshake:
		return "forward_handshake"
	case StateForwardAuth:
		return "forward_auth"
	case StateTunnel:
		return "tunnel"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Context is a per-socket handle: a TCP stream, a single-shot inactivity
// timer, buffered reader/writer, a role flag (immutable after Init), a
// monotonic lifecycle state, a back-pointer to the owning session, and the
// peer's printable address.
type Context struct {
	Role     Role
	PeerAddr string

	session *Session

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer

	state atomic.Int32

	timerMu     sync.Mutex
	timer       *time.Timer
	idleTimeout time.Duration
	onTimeout   func(*Context)

	closeOnce sync.Once
	closeErr  error
}

// NewContext allocates a context for conn, owned by sess, in StateInit.
// onTimeout is invoked from the timer's own goroutine if an armed
// inactivity timer fires before it is stopped or re-armed; the timer does
// not look at the context's state, so callers stop it (StopTimer) before
// the tunnel phase.
func NewContext(sess *Session, role Role, conn net.Conn, idleTimeout time.Duration, onTimeout func(*Context)) *Context {
	c := &Context{
		Role:        role,
		session:     sess,
		conn:        conn,
		reader:      bufio.NewReader(conn),
		writer:      bufio.NewWriter(conn),
		idleTimeout: idleTimeout,
		onTimeout:   onTimeout,
	}
	if addr := conn.RemoteAddr(); addr != nil {
		c.PeerAddr = addr.String()
	}
	c.state.Store(int32(StateInit))
	return c
}

// State returns the current lifecycle state.
func (c *Context) State() State {
	return State(c.state.Load())
}

// Advance moves the context to next, rejecting any non-forward transition.
// This is the enforcement point for the "state advances monotonically"
// invariant (spec.md §3).
func (c *Context) Advance(next State) error {
	for {
		cur := State(c.state.Load())
		if next < cur {
			return apperrors.New(apperrors.CategoryPolicy, "session.state",
				"illegal state transition "+cur.String()+" -> "+next.String())
		}
		if c.state.CompareAndSwap(int32(cur), int32(next)) {
			return nil
		}
	}
}

// Reader exposes the buffered reader for the handshake drivers.
func (c *Context) Reader() *bufio.Reader { return c.reader }

// Writer exposes the buffered writer for the handshake drivers.
func (c *Context) Writer() *bufio.Writer { return c.writer }

// Conn exposes the underlying connection (for SetDeadline, CloseWrite, etc).
func (c *Context) Conn() net.Conn { return c.conn }

// Write serializes writes behind the context's own mutex and resets the
// inactivity timer on success. Only writes made through this method reset
// the timer; reads through Reader() and writes through Writer() do not.
func (c *Context) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, err := c.conn.Write(p)
	if err == nil {
		c.ResetTimer()
	}
	return n, err
}

// ArmTimer (re)starts the inactivity timer. Safe to call repeatedly; each
// call cancels any previous pending timer.
func (c *Context) ArmTimer() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.idleTimeout <= 0 {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.idleTimeout, func() {
		if c.onTimeout != nil {
			c.onTimeout(c)
		}
	})
}

// ResetTimer restarts the inactivity timer; Write calls it after each
// successful write.
func (c *Context) ResetTimer() {
	c.ArmTimer()
}

func (c *Context) stopTimer() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
}

// StopTimer cancels the pending inactivity timer without closing the
// context — used once a context enters StateTunnel, where reads/writes
// bypass Write's timer-reset wrapper (spec.md §4.3: the timer only guards
// the pre-tunnel handshake phases).
func (c *Context) StopTimer() {
	c.stopTimer()
}

// Close is idempotent: the first call flips state to closing, stops the
// timer, and closes the underlying socket; state then flips to closed.
// Later calls return the same result without touching the socket again —
// the Go equivalent of the reference implementation's async-close-then-
// close-completion-callback sequence, collapsed into one synchronous call.
func (c *Context) Close() error {
	c.closeOnce.Do(func() {
		c.Advance(StateClosing)
		c.stopTimer()
		c.closeErr = c.conn.Close()
		c.Advance(StateClosed)
	})
	return c.closeErr
}

// Session represents one end-to-end client<->remote flow: the client peer
// address and the two owned contexts (request, forward). A session is only
// fully torn down once both contexts reach StateClosed.
type Session struct {
	PeerAddr string
	Request  *Context
	Forward  *Context
}

// New allocates a session for a freshly accepted client address. The
// request context is attached separately via NewContext(sess, RoleRequest, ...).
func New(peerAddr string) *Session {
	return &Session{PeerAddr: peerAddr}
}

// Closed reports whether both contexts (that were ever attached) have
// reached StateClosed — the precondition spec.md §4.4 requires before a
// session may be freed.
func (s *Session) Closed() bool {
	if s.Request != nil && s.Request.State() != StateClosed {
		return false
	}
	if s.Forward != nil && s.Forward.State() != StateClosed {
		return false
	}
	return true
}

// Close closes both contexts (if attached) and is safe to call multiple
// times; each Context.Close call is itself idempotent.
func (s *Session) Close() {
	if s.Request != nil {
		s.Request.Close()
	}
	if s.Forward != nil {
		s.Forward.Close()
	}
}
