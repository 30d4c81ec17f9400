// Package conn holds the per-connection state the reactor dispatches work
// against: staging buffers, the request parser, the response builder, and
// the writev scatter vector, transcribed from
// original_source/src/http/httpconn.cpp.
package conn

import (
	"net/netip"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/reactorhttpd/reactorhttpd/internal/credstore"
	"github.com/reactorhttpd/reactorhttpd/internal/httpx"
	"github.com/reactorhttpd/reactorhttpd/internal/ringbuf"
)

// writevYieldThreshold is the queued-byte count above which Write keeps
// looping on a connection that is not edge-triggered (an edge-triggered
// Write always loops until writev returns <= 0), transcribed from
// HttpConn::write's "|| toWriteBytes() > 10240" condition.
const writevYieldThreshold = 10240

// LiveCount is the number of currently open connections.
var LiveCount atomic.Int64

// HTTPConn is a single client connection's state. Init can reset a
// previously used HTTPConn for a new fd, keeping its buffers; the reactor
// allocates a fresh HTTPConn for every accepted connection.
type HTTPConn struct {
	fd     int
	addr   netip.AddrPort
	closed bool

	isET   bool
	srcDir string

	readBuf  *ringbuf.Buffer
	writeBuf *ringbuf.Buffer

	request  httpx.Request
	response httpx.Response

	// iov holds the pending write segments: [0] is the response header
	// (backed by writeBuf), [1] is the mmapped response body, if any.
	// Re-slicing in place models the original's iov_base/iov_len pointer
	// arithmetic.
	iov [2][]byte

	Logger *logrus.Logger
}

// FD returns the connection's file descriptor, also used as its timer id
// and connection-table key.
func (c *HTTPConn) FD() int { return c.fd }

// Addr returns the peer address captured at accept time.
func (c *HTTPConn) Addr() netip.AddrPort { return c.addr }

// IsKeepAlive reports whether the most recently parsed request asked to
// keep the connection open.
func (c *HTTPConn) IsKeepAlive() bool { return c.request.IsKeepAlive() }

// ToWriteBytes reports how many response bytes are still queued across
// both scatter-vector segments.
func (c *HTTPConn) ToWriteBytes() int { return len(c.iov[0]) + len(c.iov[1]) }

// Init (re)initializes the connection for a freshly accepted fd.
func (c *HTTPConn) Init(fd int, addr netip.AddrPort, srcDir string, isET bool, store credstore.Store) {
	LiveCount.Add(1)
	c.fd = fd
	c.addr = addr
	c.srcDir = srcDir
	c.isET = isET
	c.closed = false
	c.iov[0], c.iov[1] = nil, nil

	if c.readBuf == nil {
		c.readBuf = ringbuf.New(4096)
		c.writeBuf = ringbuf.New(4096)
	} else {
		c.readBuf.Reset()
		c.writeBuf.Reset()
	}
	c.request.CredStore = store

	if c.Logger != nil {
		c.Logger.WithFields(logrus.Fields{
			"fd": fd, "peer": addr.String(), "live": LiveCount.Load(),
		}).Info("client connected")
	}
}

// Disconn releases the mapped response body (if any) and closes the
// socket. Idempotent.
func (c *HTTPConn) Disconn() {
	c.response.Unmap()
	if c.closed {
		return
	}
	c.closed = true
	LiveCount.Add(-1)
	unix.Close(c.fd)
	if c.Logger != nil {
		c.Logger.WithFields(logrus.Fields{
			"fd": c.fd, "peer": c.addr.String(), "live": LiveCount.Load(),
		}).Info("client quit")
	}
}

// Read drains the socket into the read buffer. In edge-triggered mode it
// keeps calling ReadFromFD until a call returns no data or an error, since
// ET delivers the readable notification exactly once per transition and
// any data left unread would otherwise go unnoticed until more arrives.
func (c *HTTPConn) Read() (int, error) {
	var n int
	var err error
	for {
		n, err = c.readBuf.ReadFromFD(c.fd)
		if n <= 0 {
			break
		}
		if !c.isET {
			break
		}
	}
	return n, err
}

// Write drains the scatter vector to the socket, advancing past whatever
// was written and resetting the header buffer once its segment drains.
func (c *HTTPConn) Write() (int, error) {
	var n int
	var err error
	for {
		n, err = unix.Writev(c.fd, c.pendingIovs())
		if n <= 0 {
			return n, err
		}
		if c.ToWriteBytes() == 0 {
			break
		}
		c.advance(n)
		if !(c.isET || c.ToWriteBytes() > writevYieldThreshold) {
			break
		}
	}
	return n, err
}

func (c *HTTPConn) pendingIovs() [][]byte {
	if len(c.iov[0]) == 0 && len(c.iov[1]) == 0 {
		return [][]byte{[]byte{}}
	}
	if len(c.iov[1]) == 0 {
		return [][]byte{c.iov[0]}
	}
	return [][]byte{c.iov[0], c.iov[1]}
}

func (c *HTTPConn) advance(n int) {
	if n > len(c.iov[0]) {
		rem := n - len(c.iov[0])
		c.iov[1] = c.iov[1][rem:]
		if len(c.iov[0]) > 0 {
			c.writeBuf.Reset()
			c.iov[0] = nil
		}
	} else {
		c.iov[0] = c.iov[0][n:]
		c.writeBuf.HasRead(n)
	}
}

// Process parses the buffered bytes into a request and assembles the
// corresponding response into the write buffer and scatter vector. It
// returns false when there was nothing to read, mirroring the original's
// early return used to tell the caller to re-arm for EPOLLIN rather than
// EPOLLOUT.
func (c *HTTPConn) Process() bool {
	c.request.Init()
	if c.readBuf.Readable() <= 0 {
		return false
	}

	if c.request.Parse(c.readBuf) {
		c.response.Init(c.srcDir, c.request.Path(), c.request.IsKeepAlive(), 200)
	} else {
		c.response.Init(c.srcDir, c.request.Path(), false, 400)
	}

	c.writeBuf.Reset()
	c.response.MakeResponse(c.writeBuf)

	c.iov[0] = c.writeBuf.BeginRead()
	c.iov[1] = nil
	if c.response.FileLen() > 0 && c.response.File() != nil {
		c.iov[1] = c.response.File()
	}
	return true
}
