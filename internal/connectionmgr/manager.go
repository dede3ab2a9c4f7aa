package connectionmgr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rjboer/GoSigGen/internal/logging"
)

// State is the lifecycle position of the managed connection.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// ErrConnection matches every transport-level failure reported by Manager.
var ErrConnection = errors.New("connection error")

var errNotConnected = errors.New("not connected")

// ConnError describes a failed connect or send.
type ConnError struct {
	Op      string
	Addr    string
	Session string
	Err     error
}

func (e *ConnError) Error() string {
	if e.Session != "" {
		return fmt.Sprintf("%s %s (session %s): %v", e.Op, e.Addr, e.Session, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }

func (e *ConnError) Is(target error) bool { return target == ErrConnection }

// Timeout reports whether the failure was a deadline expiry.
func (e *ConnError) Timeout() bool {
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// DialFunc opens a stream connection; it matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// ResolveFunc returns the address to dial. It is consulted on every connect
// so a rediscovered server is picked up after a reconnect.
type ResolveFunc func(ctx context.Context) (string, error)

// Manager owns the single outbound connection to the forwarding server. It
// is send-only: nothing is ever read back.
type Manager struct {
	Address        string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	Logger         logging.Logger

	mu      sync.Mutex
	dial    DialFunc
	resolve ResolveFunc
	state   State
	conn    net.Conn
	session string
}

// ---------- Construction / lifecycle ----------

func New(addr string) *Manager {
	return &Manager{
		Address:        addr,
		ConnectTimeout: 5 * time.Second,
		WriteTimeout:   5 * time.Second,
	}
}

// NewDialer returns a DialFunc that bounds connection setup and, where the
// platform allows, limits how long sent data may stay unacknowledged.
func NewDialer(connectTimeout, userTimeout time.Duration) DialFunc {
	d := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 15 * time.Second,
		Control:   socketControl(userTimeout),
	}
	return d.DialContext
}

// SetDialer replaces the dial function (tests, tunnels, etc.).
func (m *Manager) SetDialer(d DialFunc) {
	m.mu.Lock()
	m.dial = d
	m.mu.Unlock()
}

// SetResolver makes Connect look the address up before each dial.
func (m *Manager) SetResolver(r ResolveFunc) {
	m.mu.Lock()
	m.resolve = r
	m.mu.Unlock()
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns the identifier of the live connection, or "" when
// disconnected.
func (m *Manager) Session() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Connect dials the server unless a connection is already up.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Connected {
		return nil
	}
	m.state = Connecting

	addr := m.Address
	if m.resolve != nil {
		resolved, err := m.resolve(ctx)
		if err != nil {
			m.state = Disconnected
			return &ConnError{Op: "resolve", Addr: addr, Err: err}
		}
		addr = resolved
		m.Address = resolved
	}

	dialCtx := ctx
	if m.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, m.ConnectTimeout)
		defer cancel()
	}
	dial := m.dial
	if dial == nil {
		dial = NewDialer(m.ConnectTimeout, m.WriteTimeout)
	}
	c, err := dial(dialCtx, "tcp", addr)
	if err != nil {
		m.state = Disconnected
		return &ConnError{Op: "connect", Addr: addr, Err: err}
	}

	m.conn = c
	m.session = uuid.NewString()
	m.state = Connected
	m.logger().Info("connected", logging.F("addr", addr), logging.F("session", m.session))
	return nil
}

// Send writes one complete line. Any failure, including a short write
// followed by an error, closes the connection.
func (m *Manager) Send(line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Connected || m.conn == nil {
		return &ConnError{Op: "send", Addr: m.Address, Err: errNotConnected}
	}
	if err := m.writeAll([]byte(line)); err != nil {
		cerr := &ConnError{Op: "send", Addr: m.Address, Session: m.session, Err: err}
		m.closeLocked()
		return cerr
	}
	return nil
}

// Close releases the socket. It is a no-op when already disconnected.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked()
}

func (m *Manager) closeLocked() error {
	if m.conn == nil {
		m.state = Disconnected
		return nil
	}
	err := m.conn.Close()
	m.logger().Info("connection closed", logging.F("addr", m.Address), logging.F("session", m.session))
	m.conn = nil
	m.session = ""
	m.state = Disconnected
	return err
}

func (m *Manager) logger() logging.Logger {
	if m.Logger == nil {
		return logging.Default()
	}
	return m.Logger
}

// ---------- Raw I/O ----------

// applyWriteDeadline applies the configured write timeout to the socket.
func (m *Manager) applyWriteDeadline() {
	if m.conn != nil && m.WriteTimeout > 0 {
		_ = m.conn.SetWriteDeadline(time.Now().Add(m.WriteTimeout))
	}
}

// writeAll writes the full buffer to the socket, handling short writes.
func (m *Manager) writeAll(b []byte) error {
	for len(b) > 0 {
		m.applyWriteDeadline()
		n, err := m.conn.Write(b)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("write made no progress")
		}
		b = b[n:]
	}
	return nil
}
