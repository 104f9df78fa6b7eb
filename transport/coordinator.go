package transport

import (
	"chat-relay/domain"
	"context"
	"sync"
)

// Coordinator arbitrates the read side of one connection between the
// background pump (framed commands) and a file relay (raw bytes).
//
// The pump is the only caller of Begin: it flips the state as soon as it has
// read an ARQUIVO frame and before reading anything else, then parks in
// WaitIdle. The relay owns the socket until End, which it must defer.
type Coordinator struct {
	mu    sync.Mutex
	state domain.TransferState
	// idle is closed whenever state is Idle.
	idle chan struct{}
}

func NewCoordinator() *Coordinator {
	idle := make(chan struct{})
	close(idle)
	return &Coordinator{state: domain.Idle, idle: idle}
}

// Begin moves the connection to Transferring. It returns false when a
// transfer already owns the read side.
func (c *Coordinator) Begin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == domain.Transferring {
		return false
	}
	c.state = domain.Transferring
	c.idle = make(chan struct{})
	return true
}

// End releases the read side. Safe to call more than once.
func (c *Coordinator) End() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == domain.Idle {
		return
	}
	c.state = domain.Idle
	close(c.idle)
}

func (c *Coordinator) IsTransferring() bool {
	return c.State() == domain.Transferring
}

func (c *Coordinator) State() domain.TransferState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// WaitIdle blocks until no transfer owns the read side or ctx is done.
func (c *Coordinator) WaitIdle(ctx context.Context) error {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
