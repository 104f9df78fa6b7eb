package session

import (
	"chat-relay/protocol"
	"chat-relay/transport"
	"context"
)

// pump is the only reader of conn. It hands each control frame to the
// session loop and, after an ARQUIVO frame, leaves the socket alone until
// the relay is done with the raw bytes that follow.
func pump(ctx context.Context, conn *transport.Conn, out chan<- protocol.Frame) error {
	defer close(out)
	transfer := conn.Transfer()

	for {
		if err := transfer.WaitIdle(ctx); err != nil {
			return err
		}

		f, err := conn.ReadFrame()
		if err != nil {
			return err
		}
		if f.Tag == protocol.TagFile {
			// Flip before handing off, so the next WaitIdle blocks.
			transfer.Begin()
		}

		select {
		case out <- f:
		case <-ctx.Done():
			transfer.End()
			return ctx.Err()
		}
	}
}
