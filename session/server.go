package session

import (
	"chat-relay/contract"
	"chat-relay/transport"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

var _ contract.Worker = (*Server)(nil)

// Server accepts connections on a listener and serves each one in its own
// goroutine. Cancelling the context closes the listener and every live
// connection.
type Server struct {
	log      *slog.Logger
	listener net.Listener
	handler  *Handler
	opts     transport.Options

	mu    sync.Mutex
	conns map[*transport.Conn]struct{}
	wg    sync.WaitGroup
}

func NewServer(log *slog.Logger, listener net.Listener, handler *Handler, opts transport.Options) *Server {
	return &Server{
		log:      log,
		listener: listener,
		handler:  handler,
		opts:     opts,
		conns:    make(map[*transport.Conn]struct{}),
	}
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = s.listener.Close()
		s.closeAll()
	})
	defer stop()

	s.log.Info("Relay listening", "addr", s.listener.Addr().String())
	for {
		raw, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		conn := transport.NewConn(raw, s.opts)
		if !s.track(conn) {
			_ = conn.Close()
			continue
		}
		s.log.Debug("Connection accepted", "conn_id", conn.ID(), "remote", conn.RemoteAddr())

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handler.Serve(ctx, conn)
		}()
	}
}

// track refuses connections accepted after shutdown started.
func (s *Server) track(conn *transport.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn *transport.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) closeAll() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()

	for conn := range conns {
		_ = conn.Close()
	}
	s.log.Info("Relay stopped", "closed_connections", len(conns))
}
