// Package transport wraps a client socket: serialized writes, a buffered
// reader shared by the command pump and file relays, and the per-connection
// transfer coordinator.
package transport

import (
	"bufio"
	"chat-relay/contract"
	"chat-relay/errors"
	"chat-relay/protocol"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ contract.Peer = (*Conn)(nil)

type Options struct {
	MaxFrameSize int
	WriteTimeout time.Duration
}

type Conn struct {
	id           string
	raw          net.Conn
	reader       *bufio.Reader
	wsem         chan struct{} // holds a token while someone owns the writer
	maxFrameSize int
	writeTimeout time.Duration
	transfer     *Coordinator
	closeOnce    sync.Once
	closeErr     error
	done         chan struct{}
}

func NewConn(raw net.Conn, opts Options) *Conn {
	return &Conn{
		id:           uuid.NewString(),
		raw:          raw,
		reader:       bufio.NewReader(raw),
		wsem:         make(chan struct{}, 1),
		maxFrameSize: opts.MaxFrameSize,
		writeTimeout: opts.WriteTimeout,
		transfer:     NewCoordinator(),
		done:         make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) RemoteAddr() string {
	if addr := c.raw.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (c *Conn) Transfer() *Coordinator { return c.transfer }

// ReadMessage reads the next control payload.
func (c *Conn) ReadMessage() (string, error) {
	return protocol.ReadMessage(c.reader, c.maxFrameSize)
}

func (c *Conn) ReadFrame() (protocol.Frame, error) {
	return protocol.ReadFrame(c.reader, c.maxFrameSize)
}

// Read reads raw bytes through the same buffer as ReadFrame, so bytes the
// pump has already buffered are not lost to a relay.
func (c *Conn) Read(p []byte) (int, error) {
	return c.reader.Read(p)
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.raw.SetReadDeadline(t)
}

// Send writes one control frame on behalf of another session. If a stream
// or reservation keeps the writer for longer than the write timeout it gives
// up with ErrPeerBusy, so a busy recipient never stalls its sender.
func (c *Conn) Send(f protocol.Frame) error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()
	return c.write(f)
}

// Reply writes one control frame from the connection's own session. It waits
// for the writer for as long as it takes, or until the connection closes.
func (c *Conn) Reply(f protocol.Frame) error {
	if err := c.acquireWait(); err != nil {
		return err
	}
	defer c.release()
	return c.write(f)
}

// OpenStream writes header and keeps the connection's writer until the
// returned stream is closed, so raw bytes written through it cannot be
// interleaved with other frames. Taking the writer is bounded like Send.
func (c *Conn) OpenStream(header protocol.Frame) (io.WriteCloser, error) {
	if err := c.acquire(); err != nil {
		return nil, err
	}
	c.armWriteDeadline()
	if err := protocol.WriteFrame(c.raw, header); err != nil {
		c.clearWriteDeadline()
		c.release()
		return nil, err
	}
	return &stream{conn: c}, nil
}

// Reserve takes the connection's writer so that a burst of frames goes out
// back to back. Other senders wait until Release.
func (c *Conn) Reserve() (*Reservation, error) {
	if err := c.acquireWait(); err != nil {
		return nil, err
	}
	return &Reservation{conn: c}, nil
}

// acquire takes the writer, giving up after the write timeout.
func (c *Conn) acquire() error {
	if c.writeTimeout <= 0 {
		return c.acquireWait()
	}
	timer := time.NewTimer(c.writeTimeout)
	defer timer.Stop()
	select {
	case c.wsem <- struct{}{}:
		return nil
	case <-c.done:
		return net.ErrClosed
	case <-timer.C:
		return fmt.Errorf("%w: writer held for over %s", errors.ErrPeerBusy, c.writeTimeout)
	}
}

func (c *Conn) acquireWait() error {
	select {
	case c.wsem <- struct{}{}:
		return nil
	case <-c.done:
		return net.ErrClosed
	}
}

func (c *Conn) release() { <-c.wsem }

func (c *Conn) write(f protocol.Frame) error {
	c.armWriteDeadline()
	defer c.clearWriteDeadline()
	return protocol.WriteFrame(c.raw, f)
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.raw.Close()
		close(c.done)
	})
	return c.closeErr
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) armWriteDeadline() {
	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
}

func (c *Conn) clearWriteDeadline() {
	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Time{})
	}
}

type stream struct {
	conn *Conn
	once sync.Once
}

func (s *stream) Write(p []byte) (int, error) {
	s.conn.armWriteDeadline()
	return s.conn.raw.Write(p)
}

func (s *stream) Close() error {
	s.once.Do(func() {
		s.conn.clearWriteDeadline()
		s.conn.release()
	})
	return nil
}

// Reservation is an exclusive hold on a connection's writer.
type Reservation struct {
	conn *Conn
	once sync.Once
}

func (r *Reservation) Send(f protocol.Frame) error {
	return r.conn.write(f)
}

func (r *Reservation) Release() {
	r.once.Do(r.conn.release)
}
