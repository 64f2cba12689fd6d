// Package transport implements the client endpoint: a Channel dials the
// server's Unix domain socket and carries strictly serial request/response
// exchanges over it.
//
//	Call: ensure connected → encode frame → send (one reconnect-and-resend
//	on send failure) → read the response frame → return its bytes
//
// A mutex serializes calls, so a Channel may be shared between goroutines
// with exactly one request in flight at a time. Construction attempts an
// eager connect but never fails: a Channel pointed at a missing server
// reports disconnected and connects lazily on the next call.
package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"uds-rpc/protocol"
)

// DefaultTimeout bounds dial, send, and each receive when the caller passes
// a non-positive timeout.
const DefaultTimeout = 5 * time.Second

type Option func(*Channel)

func WithLogger(log *zap.Logger) Option {
	return func(c *Channel) {
		if log != nil {
			c.log = log
		}
	}
}

// Channel is a client connection to one socket path.
type Channel struct {
	path    string
	timeout time.Duration
	log     *zap.Logger

	mu      sync.Mutex
	conn    net.Conn
	lastErr string
	scratch []byte // request frame staging, reused across calls

	connected atomic.Bool
}

// NewChannel creates a channel for path and tries to connect right away.
// A failed connect is recorded in LastError, not returned: the channel
// stays usable and dials again on the next Call.
func NewChannel(path string, timeout time.Duration, opts ...Option) *Channel {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Channel{
		path:    path,
		timeout: timeout,
		log:     zap.NewNop(),
		scratch: make([]byte, protocol.MaxFrameSize),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.mu.Lock()
	if err := c.connectLocked(); err != nil {
		c.log.Debug("initial connect failed", zap.String("path", path), zap.Error(err))
	}
	c.mu.Unlock()
	return c
}

// Connect establishes the connection if it is not already up. It is
// idempotent.
func (c *Channel) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

func (c *Channel) connectLocked() error {
	if c.connected.Load() && c.conn != nil {
		return nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	conn, err := net.DialTimeout("unix", c.path, c.timeout)
	if err != nil {
		c.connected.Store(false)
		c.lastErr = fmt.Sprintf("connect to %s failed: %v", c.path, err)
		return fmt.Errorf("transport: connect to %s: %w", c.path, err)
	}
	c.conn = conn
	c.connected.Store(true)
	c.lastErr = ""
	c.log.Debug("connected", zap.String("path", c.path))
	return nil
}

// Disconnect closes the connection. It is idempotent.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectLocked()
}

func (c *Channel) disconnectLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connected.Store(false)
}

// Close satisfies io.Closer.
func (c *Channel) Close() error {
	c.Disconnect()
	return nil
}

// IsConnected reports the channel's view of the connection. It can go stale
// the moment the peer closes; the next Call finds out and reconnects.
func (c *Channel) IsConnected() bool {
	return c.connected.Load()
}

// LastError describes the most recent failure, empty after a successful
// connect.
func (c *Channel) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Call sends one request frame for routineID carrying payload and returns
// the complete response frame bytes. The returned slice is freshly
// allocated and owned by the caller.
func (c *Channel) Call(routineID uint32, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(); err != nil {
		return nil, err
	}

	frame, err := c.encodeRequest(routineID, payload)
	if err != nil {
		c.lastErr = err.Error()
		return nil, err
	}

	if err := c.send(frame); err != nil {
		// The server may have restarted since the last exchange: reconnect
		// and resend exactly once.
		c.log.Debug("send failed, reconnecting", zap.Error(err))
		c.disconnectLocked()
		if cerr := c.connectLocked(); cerr != nil {
			c.lastErr = fmt.Sprintf("send failed and reconnect failed: %v", cerr)
			return nil, fmt.Errorf("transport: send after reconnect attempt: %w", cerr)
		}
		if rerr := c.send(frame); rerr != nil {
			c.disconnectLocked()
			c.lastErr = fmt.Sprintf("send failed after reconnect: %v", rerr)
			return nil, fmt.Errorf("transport: send after reconnect attempt: %w", rerr)
		}
	}

	resp, err := c.receive()
	if err != nil {
		c.disconnectLocked()
		c.lastErr = err.Error()
		return nil, err
	}
	return resp, nil
}

func (c *Channel) encodeRequest(routineID uint32, payload []byte) ([]byte, error) {
	if protocol.MinFrameSize+len(payload) > protocol.MaxFrameSize {
		return nil, fmt.Errorf("transport: payload of %d bytes: %w", len(payload), protocol.ErrFrameTooLarge)
	}
	b, err := protocol.NewBuilder(c.scratch, routineID)
	if err != nil {
		return nil, err
	}
	if err := b.Raw(payload); err != nil {
		return nil, err
	}
	return b.Finish()
}

func (c *Channel) send(frame []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return fmt.Errorf("transport: set write deadline: %w", err)
	}
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

// receive reads one complete response frame: first until the prologue is
// in, then until the declared total length. Any error is terminal for the
// call; the caller marks the channel disconnected.
func (c *Channel) receive() ([]byte, error) {
	buf := make([]byte, protocol.MaxFrameSize)
	received := 0

	for received < protocol.MinFrameSize {
		n, err := c.read(buf[received:])
		if err != nil {
			return nil, err
		}
		received += n
	}

	total, err := protocol.DeclaredLength(buf[:received])
	if err != nil {
		return nil, fmt.Errorf("transport: malformed response: %w", err)
	}
	for received < total {
		n, err := c.read(buf[received:total])
		if err != nil {
			return nil, err
		}
		received += n
	}
	return buf[:total], nil
}

func (c *Channel) read(p []byte) (int, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, fmt.Errorf("transport: set read deadline: %w", err)
	}
	n, err := c.conn.Read(p)
	if err != nil {
		var nerr net.Error
		switch {
		case errors.Is(err, io.EOF):
			return n, fmt.Errorf("transport: connection closed by server: %w", err)
		case errors.As(err, &nerr) && nerr.Timeout():
			return n, fmt.Errorf("transport: receive timeout after %s: %w", c.timeout, err)
		default:
			return n, fmt.Errorf("transport: receive: %w", err)
		}
	}
	return n, nil
}
