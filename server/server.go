// Package server implements the Unix-domain-socket RPC server.
//
// The lifecycle is an explicit state machine driven by one run goroutine:
//
//	CreateSocket → Listen → EventLoop → Cleanup → Exit
//
// The event loop goroutine owns all connection state. Helper goroutines do
// the blocking work (one accepts, one reads per connection) and funnel
// their results into the loop over channels:
//
//	accept goroutine ──conns──┐
//	reader goroutines ─bytes──┼──→ event loop: assemble frames → dispatch
//	reap ticker ───────ticks──┘     → write responses, reap idle conns
//
// Frame assembly, dispatch, and response writes all happen on the loop
// goroutine, so handlers observe strictly sequential execution per server
// and no connection state is ever shared between goroutines.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"uds-rpc/middleware"
	"uds-rpc/protocol"
	"uds-rpc/registry"
)

const (
	DefaultSocketPath        = "/tmp/udsrpc.sock"
	DefaultInactivityTimeout = 300 * time.Second
	DefaultReapInterval      = 60 * time.Second
	DefaultWriteTimeout      = 3 * time.Second
)

var (
	ErrNilRegistry    = errors.New("server: registry must not be nil")
	ErrAlreadyStarted = errors.New("server: already started")
)

// Config carries the server knobs. Zero values take the defaults above.
type Config struct {
	SocketPath        string
	InactivityTimeout time.Duration
	ReapInterval      time.Duration
	WriteTimeout      time.Duration
	Logger            *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.SocketPath == "" {
		c.SocketPath = DefaultSocketPath
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = DefaultInactivityTimeout
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = DefaultReapInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

type runState int

const (
	stateCreateSocket runState = iota
	stateListen
	stateEventLoop
	stateCleanup
	stateExit
)

// clientConn is the event loop's record of one accepted connection. Only
// the loop touches it; the connection's reader goroutine just pumps bytes.
type clientConn struct {
	id         uint64
	conn       net.Conn
	lastActive time.Time
	rbuf       []byte // partial-frame accumulation
}

type readEvent struct {
	c    *clientConn
	data []byte
	err  error
}

// Server accepts connections on a Unix domain socket and dispatches every
// complete frame through the middleware chain to the registry.
//
// A Server is single-use: once stopped it cannot be started again.
type Server struct {
	cfg Config
	log *zap.Logger
	reg *registry.Registry

	middlewares []middleware.Middleware
	dispatch    middleware.DispatchFunc

	ln       net.Listener
	acceptCh chan net.Conn
	readCh   chan readEvent
	quit     chan struct{} // closed by Stop
	done     chan struct{} // closed when the run goroutine exits
	loopExit chan struct{} // closed during cleanup; releases helper goroutines

	started  atomic.Bool
	running  atomic.Bool
	stopOnce sync.Once

	wg sync.WaitGroup // accept goroutine and connection readers

	// Event-loop owned.
	conns  map[uint64]*clientConn
	nextID uint64

	connCount atomic.Int64
}

func New(cfg Config, reg *registry.Registry) (*Server, error) {
	if reg == nil {
		return nil, ErrNilRegistry
	}
	cfg = cfg.withDefaults()
	return &Server{
		cfg:      cfg,
		log:      cfg.Logger,
		reg:      reg,
		acceptCh: make(chan net.Conn),
		readCh:   make(chan readEvent, 128),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		loopExit: make(chan struct{}),
		conns:    make(map[uint64]*clientConn),
	}, nil
}

// Use appends mw to the dispatch chain. Must be called before Start.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// Start brings the server up and returns once it is listening, or with the
// error that prevented it. Cancelling ctx shuts the server down the same
// way Stop does.
func (s *Server) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.dispatch = middleware.Chain(s.middlewares...)(s.reg.Dispatch)

	ready := make(chan error, 1)
	go s.run(ctx, ready)
	if err := <-ready; err != nil {
		<-s.done
		return err
	}
	return nil
}

// Stop shuts the server down and waits until the cleanup state has finished:
// listener closed, every connection closed, helper goroutines gone, socket
// file removed. It is idempotent and safe to call from any goroutine.
func (s *Server) Stop() {
	if !s.started.Load() {
		return
	}
	s.stopOnce.Do(func() { close(s.quit) })
	<-s.done
}

// Running reports whether the event loop is up.
func (s *Server) Running() bool {
	return s.running.Load()
}

// ConnCount returns the number of live client connections.
func (s *Server) ConnCount() int {
	return int(s.connCount.Load())
}

func (s *Server) run(ctx context.Context, ready chan<- error) {
	defer close(s.done)
	defer s.running.Store(false)

	state := stateCreateSocket
	for state != stateExit {
		switch state {
		case stateCreateSocket:
			state = s.createSocket(ready)
		case stateListen:
			state = s.listen(ready)
		case stateEventLoop:
			state = s.eventLoop(ctx)
		case stateCleanup:
			state = s.cleanup()
		}
	}
	s.log.Info("server exited")
}

func (s *Server) createSocket(ready chan<- error) runState {
	// A socket file left behind by a previous process would fail the bind.
	if err := os.Remove(s.cfg.SocketPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		ready <- fmt.Errorf("server: remove stale socket %s: %w", s.cfg.SocketPath, err)
		return stateExit
	}
	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		ready <- fmt.Errorf("server: listen on %s: %w", s.cfg.SocketPath, err)
		return stateExit
	}
	if err := os.Chmod(s.cfg.SocketPath, 0600); err != nil {
		ln.Close()
		ready <- fmt.Errorf("server: chmod %s: %w", s.cfg.SocketPath, err)
		return stateExit
	}
	s.ln = ln
	s.log.Info("socket created", zap.String("path", s.cfg.SocketPath))
	return stateListen
}

func (s *Server) listen(ready chan<- error) runState {
	s.wg.Add(1)
	go s.acceptLoop()
	s.running.Store(true)
	ready <- nil
	s.log.Info("server listening",
		zap.String("path", s.cfg.SocketPath),
		zap.Int("handlers", s.reg.Count()))
	return stateEventLoop
}

func (s *Server) eventLoop(ctx context.Context) runState {
	reap := time.NewTicker(s.cfg.ReapInterval)
	defer reap.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("context cancelled, shutting down")
			return stateCleanup
		case <-s.quit:
			s.log.Info("stop requested, shutting down")
			return stateCleanup
		case conn := <-s.acceptCh:
			s.addConn(conn)
		case ev := <-s.readCh:
			s.handleReadEvent(ev)
		case <-reap.C:
			s.reapIdle()
		}
	}
}

func (s *Server) cleanup() runState {
	s.ln.Close()
	if n := len(s.conns); n > 0 {
		s.log.Info("closing client connections", zap.Int("count", n))
	}
	for _, c := range s.conns {
		c.conn.Close()
	}
	s.conns = make(map[uint64]*clientConn)
	s.connCount.Store(0)

	close(s.loopExit)
	s.wg.Wait()

	if err := os.Remove(s.cfg.SocketPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.log.Warn("remove socket file failed", zap.Error(err))
	}
	return stateExit
}

// acceptLoop hands accepted connections to the event loop. A failed accept
// is logged and the loop keeps going; only listener closure ends it.
func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-s.loopExit:
				return
			default:
			}
			s.log.Warn("accept failed", zap.Error(err))
			continue
		}
		select {
		case s.acceptCh <- conn:
		case <-s.loopExit:
			conn.Close()
			return
		}
	}
}

// readLoop pumps raw bytes from one connection into the event loop. It owns
// no connection state; parsing and teardown decisions belong to the loop.
func (s *Server) readLoop(c *clientConn) {
	defer s.wg.Done()
	buf := make([]byte, protocol.MaxFrameSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case s.readCh <- readEvent{c: c, data: data}:
			case <-s.loopExit:
				return
			}
		}
		if err != nil {
			select {
			case s.readCh <- readEvent{c: c, err: err}:
			case <-s.loopExit:
			}
			return
		}
	}
}

func (s *Server) addConn(conn net.Conn) {
	s.nextID++
	c := &clientConn{
		id:         s.nextID,
		conn:       conn,
		lastActive: time.Now(),
		rbuf:       make([]byte, 0, protocol.MaxFrameSize),
	}
	s.conns[c.id] = c
	s.connCount.Store(int64(len(s.conns)))
	s.wg.Add(1)
	go s.readLoop(c)
	s.log.Info("client connected", zap.Uint64("conn", c.id), zap.Int("active", len(s.conns)))
}

func (s *Server) removeConn(c *clientConn) {
	delete(s.conns, c.id)
	s.connCount.Store(int64(len(s.conns)))
	c.conn.Close()
}

func (s *Server) handleReadEvent(ev readEvent) {
	c := ev.c
	if _, live := s.conns[c.id]; !live {
		// The reader raced past this connection's teardown.
		return
	}
	if ev.err != nil {
		if errors.Is(ev.err, io.EOF) {
			s.log.Info("client disconnected", zap.Uint64("conn", c.id))
		} else if !errors.Is(ev.err, net.ErrClosed) {
			s.log.Warn("read failed", zap.Uint64("conn", c.id), zap.Error(ev.err))
		}
		s.removeConn(c)
		return
	}

	c.lastActive = time.Now()
	c.rbuf = append(c.rbuf, ev.data...)
	s.drainFrames(c)
}

// drainFrames serves every complete frame buffered on c. Garbage on the
// stream discards the buffered bytes but keeps the connection: protocol
// errors are the frame's problem, not the transport's.
func (s *Server) drainFrames(c *clientConn) {
	for {
		frame, consumed, err := protocol.NextFrame(c.rbuf)
		if err != nil {
			s.log.Warn("invalid frame, discarding buffered bytes",
				zap.Uint64("conn", c.id),
				zap.Int("buffered", len(c.rbuf)),
				zap.Error(err))
			c.rbuf = c.rbuf[:0]
			return
		}
		if consumed == 0 {
			return
		}
		s.serveFrame(c, frame)
		c.rbuf = append(c.rbuf[:0], c.rbuf[consumed:]...)
	}
}

func (s *Server) serveFrame(c *clientConn, frame protocol.Frame) {
	resp, err := s.dispatch(frame.RoutineID, frame.Payload)
	if err != nil {
		// No response bytes for a request we cannot serve.
		if errors.Is(err, registry.ErrUnknownRoutine) {
			s.log.Warn("unknown routine",
				zap.Uint64("conn", c.id),
				zap.String("routine", fmt.Sprintf("%#x", frame.RoutineID)))
		} else {
			s.log.Error("dispatch failed",
				zap.Uint64("conn", c.id),
				zap.String("routine", fmt.Sprintf("%#x", frame.RoutineID)),
				zap.Error(err))
		}
		return
	}
	if len(resp) == 0 {
		return
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		s.log.Warn("set write deadline failed", zap.Uint64("conn", c.id), zap.Error(err))
		return
	}
	if _, err := c.conn.Write(resp); err != nil {
		// The connection stays; if the peer is really gone, its reader
		// reports it.
		s.log.Warn("write failed", zap.Uint64("conn", c.id), zap.Error(err))
	}
}

func (s *Server) reapIdle() {
	now := time.Now()
	for _, c := range s.conns {
		if idle := now.Sub(c.lastActive); idle > s.cfg.InactivityTimeout {
			s.log.Info("reaping idle connection",
				zap.Uint64("conn", c.id),
				zap.Duration("idle", idle))
			s.removeConn(c)
		}
	}
}
