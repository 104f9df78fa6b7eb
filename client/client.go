// Package client speaks the relay wire protocol: it registers a name, sends
// commands and uploads, and exposes everything the server pushes as events.
package client

import (
	"bufio"
	"chat-relay/errors"
	"chat-relay/protocol"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

const defaultMaxFrameSize = 64 * 1024

// File is a payload received after a FILE_TRANSFER header.
type File struct {
	From string
	Name string
	Data []byte
}

// Event is one server push. File is set for FILE_TRANSFER frames.
type Event struct {
	Frame protocol.Frame
	File  *File
}

// ServerError is an ERRO frame returned in reply to a request.
type ServerError struct {
	Code   string
	Detail string
}

func (e *ServerError) Error() string {
	if e.Detail == "" {
		return e.Code
	}
	return e.Code + ": " + e.Detail
}

func parseServerError(f protocol.Frame) *ServerError {
	code, detail, _ := strings.Cut(f.Rest(0), ": ")
	return &ServerError{Code: code, Detail: detail}
}

type Options struct {
	MaxFrameSize int
	DialTimeout  time.Duration
}

// Client is safe for concurrent sends. Next and the request helpers that
// wait for a reply must be called from a single goroutine.
type Client struct {
	conn     net.Conn
	reader   *bufio.Reader
	wmu      sync.Mutex
	maxFrame int

	events  chan Event
	backlog []Event
	err     error
}

func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = defaultMaxFrameSize
	}
	dialer := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(conn, opts), nil
}

// New wraps an established connection and starts reading from it.
func New(conn net.Conn, opts Options) *Client {
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = defaultMaxFrameSize
	}
	c := &Client{
		conn:     conn,
		reader:   bufio.NewReader(conn),
		maxFrame: opts.MaxFrameSize,
		events:   make(chan Event, 64),
	}
	go c.pump()
	return c
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// pump reads frames, and the raw payload following each FILE_TRANSFER
// header, until the connection ends.
func (c *Client) pump() {
	defer close(c.events)
	for {
		f, err := protocol.ReadFrame(c.reader, c.maxFrame)
		if err != nil {
			c.err = err
			return
		}
		ev := Event{Frame: f}
		if f.Tag == protocol.TagFileTransfer {
			file, err := c.readFile(f)
			if err != nil {
				c.err = err
				return
			}
			ev.File = file
		}
		c.events <- ev
	}
}

func (c *Client) readFile(header protocol.Frame) (*File, error) {
	size, err := strconv.ParseInt(header.Arg(2), 10, 64)
	if err != nil || size < 0 {
		return nil, fmt.Errorf("bad file size %q", header.Arg(2))
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(c.reader, data); err != nil {
		return nil, fmt.Errorf("file %s truncated: %w", header.Arg(1), err)
	}
	return &File{From: header.Arg(0), Name: header.Arg(1), Data: data}, nil
}

// Next returns the next server push, oldest first.
func (c *Client) Next(ctx context.Context) (Event, error) {
	if len(c.backlog) > 0 {
		ev := c.backlog[0]
		c.backlog = c.backlog[1:]
		return ev, nil
	}
	return c.receive(ctx)
}

func (c *Client) receive(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-c.events:
		if !ok {
			if c.err != nil {
				return Event{}, c.err
			}
			return Event{}, io.EOF
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// waitFor returns the first event with one of tags. Events received in the
// meantime are kept for Next.
func (c *Client) waitFor(ctx context.Context, tags ...string) (Event, error) {
	for i, ev := range c.backlog {
		if matches(ev, tags) {
			c.backlog = append(c.backlog[:i], c.backlog[i+1:]...)
			return ev, nil
		}
	}
	for {
		ev, err := c.receive(ctx)
		if err != nil {
			return Event{}, err
		}
		if matches(ev, tags) {
			return ev, nil
		}
		c.backlog = append(c.backlog, ev)
	}
}

func matches(ev Event, tags []string) bool {
	if isNotice(ev) {
		return false
	}
	for _, tag := range tags {
		if ev.Frame.Tag == tag {
			return true
		}
	}
	return false
}

// isNotice reports whether ev is an ERRO the server pushes on its own,
// which never answers a request.
func isNotice(ev Event) bool {
	if ev.Frame.Tag != protocol.TagError {
		return false
	}
	return parseServerError(ev.Frame).Code == errors.ErrTransferTruncated.Error()
}

// Send writes one control frame.
func (c *Client) Send(f protocol.Frame) error {
	return c.SendRaw(f.String())
}

// SendRaw writes an arbitrary payload, such as the bare name of the handshake.
func (c *Client) SendRaw(payload string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return protocol.WriteMessage(c.conn, payload)
}

// Register claims name. A refused name is returned as a *ServerError and
// another one may be tried on the same client.
func (c *Client) Register(ctx context.Context, name string) error {
	if err := c.SendRaw(name); err != nil {
		return err
	}
	ev, err := c.waitFor(ctx, protocol.TagNameOK, protocol.TagError)
	if err != nil {
		return err
	}
	if ev.Frame.Tag == protocol.TagError {
		return parseServerError(ev.Frame)
	}
	return nil
}

// Do sends a command that the server answers with INFO or ERRO and returns
// the INFO text.
func (c *Client) Do(ctx context.Context, f protocol.Frame) (string, error) {
	if err := c.Send(f); err != nil {
		return "", err
	}
	ev, err := c.waitFor(ctx, protocol.TagInfo, protocol.TagError)
	if err != nil {
		return "", err
	}
	if ev.Frame.Tag == protocol.TagError {
		return "", parseServerError(ev.Frame)
	}
	return ev.Frame.Rest(0), nil
}

// Message sends text to a user or a group. Success has no reply.
func (c *Client) Message(to, text string) error {
	return c.Send(protocol.New(protocol.TagMessage, to, text))
}

func (c *Client) CreateGroup(ctx context.Context, group string) (string, error) {
	return c.Do(ctx, protocol.New(protocol.TagCreateGroup, group))
}

func (c *Client) JoinGroup(ctx context.Context, group string) (string, error) {
	return c.Do(ctx, protocol.New(protocol.TagJoinGroup, group))
}

func (c *Client) AddMember(ctx context.Context, user, group string) (string, error) {
	return c.Do(ctx, protocol.New(protocol.TagAddMember, user, group))
}

func (c *Client) Members(ctx context.Context, group string) (string, error) {
	return c.Do(ctx, protocol.New(protocol.TagMembers, group))
}

func (c *Client) LeaveGroup(ctx context.Context, group string) (string, error) {
	return c.Do(ctx, protocol.New(protocol.TagLeaveGroup, group))
}

func (c *Client) DeleteGroup(ctx context.Context, group string) (string, error) {
	return c.Do(ctx, protocol.New(protocol.TagDeleteGroup, group))
}

func (c *Client) List(ctx context.Context) (string, error) {
	return c.Do(ctx, protocol.New(protocol.TagList))
}

func (c *Client) Quit(ctx context.Context) (string, error) {
	return c.Do(ctx, protocol.New(protocol.TagQuit))
}

// SendFile uploads size bytes from data. It waits for OK_ARQUIVO before
// writing any byte, then for ARQUIVO_OK.
func (c *Client) SendFile(ctx context.Context, to, name string, data io.Reader, size int64) error {
	if err := c.Send(protocol.New(protocol.TagFile, to, name, strconv.FormatInt(size, 10))); err != nil {
		return err
	}
	ev, err := c.waitFor(ctx, protocol.TagFileReady, protocol.TagError)
	if err != nil {
		return err
	}
	if ev.Frame.Tag == protocol.TagError {
		return parseServerError(ev.Frame)
	}

	c.wmu.Lock()
	_, err = io.CopyN(c.conn, data, size)
	c.wmu.Unlock()
	if err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}

	ev, err = c.waitFor(ctx, protocol.TagFileDone, protocol.TagError)
	if err != nil {
		return err
	}
	if ev.Frame.Tag == protocol.TagError {
		return parseServerError(ev.Frame)
	}
	return nil
}
