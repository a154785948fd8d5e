// Package conn implements the byte-buffer / connection abstraction
// (component A): a TCP endpoint wrapped with a pending-write queue and
// read/write helpers a session drives from its readiness-wait loop.
package conn

import (
	"bytes"
	"io"
	"net"
	"time"
)

// Conn wraps a net.Conn with an outbound buffer so a session can queue bytes
// to send and flush them once the connection is writable.
type Conn struct {
	netConn net.Conn
	out     bytes.Buffer
}

// New wraps an already-established net.Conn.
func New(nc net.Conn) *Conn {
	return &Conn{netConn: nc}
}

// Underlying returns the wrapped net.Conn.
func (c *Conn) Underlying() net.Conn {
	return c.netConn
}

// Queue appends p to the pending outbound buffer without writing to the
// socket yet.
func (c *Conn) Queue(p []byte) {
	c.out.Write(p)
}

// Pending reports whether there is unflushed outbound data.
func (c *Conn) Pending() bool {
	return c.out.Len() > 0
}

// Flush writes as much of the queued buffer to the socket as it can accept
// without blocking indefinitely; deadline bounds the attempt.
func (c *Conn) Flush(deadline time.Time) error {
	if c.out.Len() == 0 {
		return nil
	}
	if err := c.netConn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	n, err := c.netConn.Write(c.out.Bytes())
	c.out.Next(n)
	return err
}

// Send immediately writes p to the socket, bypassing the queue, retrying
// on partial writes until everything is written or an error occurs.
func (c *Conn) Send(p []byte, deadline time.Time) (int, error) {
	if err := c.netConn.SetWriteDeadline(deadline); err != nil {
		return 0, err
	}
	written := 0
	for written < len(p) {
		n, err := c.netConn.Write(p[written:])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// Recv reads up to len(buf) bytes. Every I/O error, including an expired
// deadline, is reported as io.EOF: the endpoint is then at end-of-stream.
func (c *Conn) Recv(buf []byte, deadline time.Time) (int, error) {
	if err := c.netConn.SetReadDeadline(deadline); err != nil {
		return 0, io.EOF
	}
	n, err := c.netConn.Read(buf)
	if err != nil {
		return n, io.EOF
	}
	return n, nil
}

// closeWriter is satisfied by *net.TCPConn and by any wrapper (such as
// pkg/session's trackedConn) that forwards CloseWrite to one. Asserting
// against this interface instead of the concrete *net.TCPConn type lets the
// half-close below still reach the real connection when it has been wrapped.
type closeWriter interface {
	CloseWrite() error
}

// Close performs a half-close of the write direction, then drains and
// discards any bytes the peer sends within drainTimeout before releasing
// the socket. This gives a final synthetic response (e.g. 401) a chance to
// reach the client before the connection is torn down, without the fixed
// one-second sleep of a naive implementation.
func (c *Conn) Close(drainTimeout time.Duration) error {
	if cw, ok := c.netConn.(closeWriter); ok {
		_ = cw.CloseWrite()
	}

	deadline := time.Now().Add(drainTimeout)
	discard := make([]byte, 4096)
	for {
		if err := c.netConn.SetReadDeadline(deadline); err != nil {
			break
		}
		_, err := c.netConn.Read(discard)
		if err != nil {
			break
		}
	}

	return c.netConn.Close()
}
