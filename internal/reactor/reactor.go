// Package reactor implements the single-threaded accept/dispatch loop that
// ties together netpoll.Demux, timerheap.Heap, workerpool.Pool, and
// conn.HTTPConn, transcribed from original_source/src/server/webserver.cpp's
// WebServer.
package reactor

import (
	"fmt"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/reactorhttpd/reactorhttpd/internal/conn"
	"github.com/reactorhttpd/reactorhttpd/internal/credstore"
	"github.com/reactorhttpd/reactorhttpd/internal/logging"
	"github.com/reactorhttpd/reactorhttpd/internal/logsink"
	"github.com/reactorhttpd/reactorhttpd/internal/netpoll"
	"github.com/reactorhttpd/reactorhttpd/internal/timerheap"
	"github.com/reactorhttpd/reactorhttpd/internal/workerpool"
)

// TriggerMode selects which of the listen/connection fds are armed
// edge-triggered, matching the four startup modes spec.md §4.10 documents.
type TriggerMode int

const (
	NoET TriggerMode = iota
	ConnET
	ListenET
	BothET
)

// maxFD is the live-connection ceiling past which Accept rejects new peers
// with a plain "Server busy!" reply, transcribed from WebServer::MAX_FD.
const maxFD = 65536

// listenBacklog matches the original's hardcoded listen(fd, 6).
const listenBacklog = 6

// Config bundles the reactor's compile-time constructor parameters (spec.md
// §6's eight fields) plus the resources directory and the optional
// credential-store collaborator.
type Config struct {
	Port             int
	TriggerMode      TriggerMode
	IdleTimeout      time.Duration
	Linger           bool
	WorkerThreads    int
	EnableLog        bool
	LogLevel         logsink.Level
	LogQueueCapacity int

	// ResourcesDir is the static-asset root. Defaults to "<cwd>/resources/"
	// when empty, matching the original's _initSocket-adjacent resource
	// path resolution.
	ResourcesDir string

	// CredStore backs /register.html and /login.html verification. Defaults
	// to credstore.MemStore (the documented always-verify stub) when nil.
	CredStore credstore.Store
}

// Server is the reactor: one accept/dispatch/timer-tick loop plus the
// worker pool it farms per-connection work out to.
type Server struct {
	cfg Config

	listenFD   int
	demux      netpoll.Demux
	timer      *timerheap.Heap
	pool       *workerpool.Pool
	sink       *logsink.Sink
	log        *logrus.Logger
	credStore  credstore.Store
	srcDir     string
	listenMask netpoll.Mask
	connMask   netpoll.Mask
	isET       bool

	// wakeR/wakeW are a self-pipe registered with the demultiplexer so that
	// a worker goroutine can ask the reactor goroutine to close a
	// connection without touching the connection table itself: per
	// spec.md §5 the table and every conn.HTTPConn.Disconn call must come
	// from the single reactor goroutine, since a worker's in-flight
	// Read/Write races a concurrent Disconn's unix.Close/Unmap.
	wakeR, wakeW int

	pendingMu    sync.Mutex
	pendingClose []*conn.HTTPConn

	mu     sync.Mutex
	conns  map[int]*conn.HTTPConn
	closed bool
}

// New builds and binds a Server but does not start its loop: it creates the
// listening socket, the readiness demultiplexer, the worker pool, and
// (if cfg.EnableLog) the log sink, wiring each the way
// WebServer::WebServer/_initSocket does.
func New(cfg Config) (*Server, error) {
	if cfg.Port <= 1024 || cfg.Port > 65535 {
		return nil, fmt.Errorf("reactor: port %d out of range (1025-65535)", cfg.Port)
	}
	if cfg.WorkerThreads <= 0 {
		cfg.WorkerThreads = 6
	}
	if cfg.ResourcesDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		cfg.ResourcesDir = wd + "/resources/"
	}
	if cfg.CredStore == nil {
		cfg.CredStore = credstore.MemStore{}
	}

	s := &Server{
		cfg:       cfg,
		listenFD:  -1,
		wakeR:     -1,
		wakeW:     -1,
		conns:     make(map[int]*conn.HTTPConn),
		timer:     timerheap.New(),
		pool:      workerpool.New(cfg.WorkerThreads),
		credStore: cfg.CredStore,
		srcDir:    cfg.ResourcesDir,
	}

	listenET := cfg.TriggerMode == ListenET || cfg.TriggerMode == BothET
	s.isET = cfg.TriggerMode == ConnET || cfg.TriggerMode == BothET

	s.listenMask = netpoll.PeerClosed
	s.connMask = netpoll.OneShot | netpoll.PeerClosed
	if listenET {
		s.listenMask |= netpoll.EdgeTriggered
	}
	if s.isET {
		s.connMask |= netpoll.EdgeTriggered
	}

	var log *logrus.Logger
	var sink *logsink.Sink
	if cfg.EnableLog {
		var err error
		sink, err = logsink.New(logsink.Config{
			Level:         cfg.LogLevel,
			Dir:           "./log",
			Suffix:        ".log",
			QueueCapacity: cfg.LogQueueCapacity,
		})
		if err != nil {
			return nil, fmt.Errorf("reactor: log sink init: %w", err)
		}
		log = logging.New(sink, logging.LevelFromSink(cfg.LogLevel))
	}
	s.sink = sink
	s.log = log

	if err := s.initSocket(); err != nil {
		s.teardown()
		return nil, err
	}
	return s, nil
}

// initSocket binds the listening socket the way _initSocket does: create,
// SO_REUSEADDR, optional SO_LINGER, bind, listen, register with the
// demultiplexer under the listen event mask, set non-blocking.
func (s *Server) initSocket() error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return fmt.Errorf("reactor: socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: SO_REUSEADDR: %w", err)
	}
	if s.cfg.Linger {
		l := unix.Linger{Onoff: 1, Linger: 1}
		if err := unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, &l); err != nil {
			unix.Close(fd)
			return fmt.Errorf("reactor: SO_LINGER: %w", err)
		}
	}

	addr := &unix.SockaddrInet4{Port: s.cfg.Port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: bind: %w", err)
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: set nonblocking: %w", err)
	}

	demux, err := netpoll.New(1024)
	if err != nil {
		unix.Close(fd)
		return fmt.Errorf("reactor: demux: %w", err)
	}
	s.demux = demux

	if err := s.demux.Add(fd, s.listenMask|netpoll.Readable); err != nil {
		unix.Close(fd)
		demux.Close()
		return fmt.Errorf("reactor: register listen fd: %w", err)
	}

	var pipeFDs [2]int
	if err := unix.Pipe2(pipeFDs[:], unix.O_NONBLOCK); err != nil {
		unix.Close(fd)
		demux.Close()
		return fmt.Errorf("reactor: wake pipe: %w", err)
	}
	if err := s.demux.Add(pipeFDs[0], netpoll.Readable); err != nil {
		unix.Close(fd)
		unix.Close(pipeFDs[0])
		unix.Close(pipeFDs[1])
		demux.Close()
		return fmt.Errorf("reactor: register wake fd: %w", err)
	}

	s.listenFD = fd
	s.wakeR, s.wakeW = pipeFDs[0], pipeFDs[1]
	return nil
}

// Run drives the accept/event/timer loop on the calling goroutine until
// Close is called or the demultiplexer reports a fatal error.
func (s *Server) Run() error {
	for {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil
		}

		timeoutMS := int(s.timer.GetNextTick() / time.Millisecond)
		if s.timer.Len() == 0 {
			timeoutMS = -1
		}

		n, err := s.demux.Wait(timeoutMS)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("reactor: demux wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := s.demux.EventFD(i)
			mask := s.demux.EventMask(i)

			if fd == s.listenFD {
				s.dealListen()
				continue
			}
			if fd == s.wakeR {
				s.drainWake()
				continue
			}

			c := s.lookup(fd)
			if c == nil {
				continue
			}

			switch {
			case mask&(netpoll.PeerClosed|netpoll.Hup|netpoll.Err) != 0:
				s.closeConn(c)
			case mask&netpoll.Readable != 0:
				s.dealRead(c)
			case mask&netpoll.Writable != 0:
				s.dealWrite(c)
			default:
				s.logf(logrus.WarnLevel, "fd %d: unexpected event mask %v", fd, mask)
			}
		}
	}
}

// Close tears down the listening socket, the worker pool, and the log sink.
// Safe to call once; subsequent calls are no-ops.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*conn.HTTPConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[int]*conn.HTTPConn)
	s.mu.Unlock()

	for _, c := range conns {
		c.Disconn()
	}
	s.teardown()
	return nil
}

func (s *Server) teardown() {
	if s.demux != nil {
		s.demux.Close()
	}
	if s.listenFD >= 0 {
		unix.Close(s.listenFD)
	}
	if s.wakeR >= 0 {
		unix.Close(s.wakeR)
		unix.Close(s.wakeW)
	}
	s.pool.Close()
	if s.sink != nil {
		s.sink.Close()
	}
}

// requestClose lets a worker goroutine ask the reactor goroutine to close c.
// It queues c and pokes the self-pipe so a reactor blocked in demux.Wait
// wakes immediately rather than waiting for the next timer tick or
// unrelated event.
func (s *Server) requestClose(c *conn.HTTPConn) {
	s.pendingMu.Lock()
	s.pendingClose = append(s.pendingClose, c)
	s.pendingMu.Unlock()
	unix.Write(s.wakeW, []byte{0})
}

// drainWake runs on the reactor goroutine: drain the self-pipe, then close
// every connection a worker queued via requestClose.
func (s *Server) drainWake() {
	buf := make([]byte, 64)
	for {
		n, err := unix.Read(s.wakeR, buf)
		if n <= 0 || err != nil {
			break
		}
	}

	s.pendingMu.Lock()
	pending := s.pendingClose
	s.pendingClose = nil
	s.pendingMu.Unlock()

	for _, c := range pending {
		s.closeConn(c)
	}
}

func (s *Server) lookup(fd int) *conn.HTTPConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[fd]
}

// dealListen accepts pending connections. When the listen fd is
// edge-triggered (ListenET, BothET) it keeps accepting until accept fails;
// under level-triggered listen mode it returns after the first connection it
// registers, and the kernel re-signals readability if more remain queued.
func (s *Server) dealListen() {
	for {
		connFD, sa, err := unix.Accept(s.listenFD)
		if err != nil {
			if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
				s.logf(logrus.WarnLevel, "accept: %v", err)
			}
			return
		}

		if int64(conn.LiveCount.Load()) >= maxFD {
			unix.Write(connFD, []byte("Server busy!"))
			unix.Close(connFD)
			s.logf(logrus.WarnLevel, "fd %d rejected: server busy", connFD)
			continue
		}

		addr := sockaddrToAddrPort(sa)
		c := &conn.HTTPConn{}
		c.Logger = s.log
		c.Init(connFD, addr, s.srcDir, s.isET, s.credStore)

		s.mu.Lock()
		s.conns[connFD] = c
		s.mu.Unlock()

		s.timer.Add(connFD, s.cfg.IdleTimeout, func() { s.closeConn(c) })

		if err := s.demux.Add(connFD, s.connMask|netpoll.Readable); err != nil {
			s.logf(logrus.WarnLevel, "register conn fd %d: %v", connFD, err)
			s.closeConn(c)
			continue
		}
		unix.SetNonblock(connFD, true)

		if s.cfg.TriggerMode != ListenET && s.cfg.TriggerMode != BothET {
			break
		}
	}
}

// dealRead extends the idle timer and hands the read/parse/build-response
// work off to a worker goroutine.
func (s *Server) dealRead(c *conn.HTTPConn) {
	s.timer.Adjust(c.FD(), s.cfg.IdleTimeout)
	s.pool.AddTask(func() { s.onRead(c) })
}

// dealWrite extends the idle timer and hands the write work off to a
// worker goroutine.
func (s *Server) dealWrite(c *conn.HTTPConn) {
	s.timer.Adjust(c.FD(), s.cfg.IdleTimeout)
	s.pool.AddTask(func() { s.onWrite(c) })
}

// onRead runs on a worker goroutine: drain the socket, then build a
// response and rearm for write, or rearm for read if nothing was ready.
func (s *Server) onRead(c *conn.HTTPConn) {
	n, err := c.Read()
	if n == 0 || (err != nil && err != unix.EAGAIN && err != unix.EWOULDBLOCK) {
		s.requestClose(c)
		return
	}
	s.onProcess(c)
}

// onWrite runs on a worker goroutine: flush the scatter vector. A
// keep-alive connection with nothing left to send goes back through
// onProcess to parse any pipelined bytes already buffered; otherwise it
// rearms for write (EAGAIN) or closes.
func (s *Server) onWrite(c *conn.HTTPConn) {
	_, err := c.Write()
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			s.rearm(c, netpoll.Writable)
			return
		}
		s.requestClose(c)
		return
	}

	if c.ToWriteBytes() > 0 {
		s.rearm(c, netpoll.Writable)
		return
	}

	if c.IsKeepAlive() {
		s.onProcess(c)
		return
	}
	s.requestClose(c)
}

// onProcess runs Process and rearms for write if a response was built, or
// for read if there was nothing buffered to parse yet.
func (s *Server) onProcess(c *conn.HTTPConn) {
	if c.Process() {
		s.rearm(c, netpoll.Writable)
		return
	}
	s.rearm(c, netpoll.Readable)
}

// rearm runs on a worker goroutine (called from onRead/onWrite/onProcess).
// demux.Mod is safe to call concurrently with demux.Wait on the reactor
// goroutine; only the connection table and conn.HTTPConn.Disconn are not,
// so a Mod failure goes through requestClose rather than closeConn.
func (s *Server) rearm(c *conn.HTTPConn, dir netpoll.Mask) {
	if err := s.demux.Mod(c.FD(), s.connMask|dir); err != nil {
		s.requestClose(c)
	}
}

// closeConn is the path that removes a single connection from the table and
// its timer node (Close's shutdown sweep clears the whole table directly);
// per spec.md §5, only the reactor goroutine (or a worker
// callback invoked synchronously from it, e.g. the timer's own fired
// callback) ever calls this.
func (s *Server) closeConn(c *conn.HTTPConn) {
	s.demux.Del(c.FD())
	s.timer.Remove(c.FD())
	s.mu.Lock()
	if s.conns[c.FD()] == c {
		delete(s.conns, c.FD())
	}
	s.mu.Unlock()
	c.Disconn()
}

func (s *Server) logf(level logrus.Level, format string, args ...any) {
	if s.log == nil {
		return
	}
	s.log.Logf(level, format, args...)
}

func sockaddrToAddrPort(sa unix.Sockaddr) netip.AddrPort {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(v.Addr), uint16(v.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(v.Addr), uint16(v.Port))
	default:
		return netip.AddrPort{}
	}
}
