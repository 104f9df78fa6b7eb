package session

import (
	"chat-relay/protocol"
	"chat-relay/transport"
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestServer_Shutdown_Closes_Connections(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, nil)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	req.NoError(err)
	server := NewServer(slog.Default(), listener, h.handler, transport.Options{MaxFrameSize: 4096, WriteTimeout: testTimeout})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()

	// Given a registered client
	c, err := net.Dial("tcp", server.Addr().String())
	req.NoError(err)
	defer c.Close()
	write(t, c, "alice")
	req.Equal(protocol.TagNameOK, read(t, c).Tag)

	// When the server is stopped
	cancel()

	// Then Run returns cleanly and the client sees its connection closed
	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(testTimeout):
		req.Fail("server did not stop")
	}
	req.NoError(c.SetReadDeadline(time.Now().Add(testTimeout)))
	_, err = protocol.ReadFrame(c, 4096)
	req.Error(err)
	req.Empty(h.registry.Snapshot())
}
