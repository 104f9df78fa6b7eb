// Package session runs one client connection from handshake to teardown.
package session

import (
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/observability"
	"chat-relay/protocol"
	"chat-relay/runtime"
	"chat-relay/transport"
	"context"
	"fmt"
	"log/slog"
	"strings"
)

type Options struct {
	MaxFileSize int64
}

// Handler holds the shared collaborators every session dispatches to.
// It keeps no per-connection state.
type Handler struct {
	log         *slog.Logger
	registry    *runtime.Registry
	router      *runtime.Router
	relay       *runtime.Relay
	metrics     *observability.Metrics
	maxFileSize int64
}

func NewHandler(log *slog.Logger, registry *runtime.Registry, router *runtime.Router, relay *runtime.Relay, metrics *observability.Metrics, opts Options) *Handler {
	return &Handler{
		log:         log,
		registry:    registry,
		router:      router,
		relay:       relay,
		metrics:     metrics,
		maxFileSize: opts.MaxFileSize,
	}
}

type command func(s *session, ctx context.Context, f protocol.Frame) error

var commands = map[string]command{
	protocol.TagMessage:     (*session).message,
	protocol.TagCreateGroup: (*session).createGroup,
	protocol.TagJoinGroup:   (*session).joinGroup,
	protocol.TagAddMember:   (*session).addMember,
	protocol.TagMembers:     (*session).members,
	protocol.TagLeaveGroup:  (*session).leaveGroup,
	protocol.TagDeleteGroup: (*session).deleteGroup,
	protocol.TagList:        (*session).list,
	protocol.TagFile:        (*session).file,
}

type session struct {
	h     *Handler
	conn  *transport.Conn
	log   *slog.Logger
	state domain.SessionState
	name  string
}

// Serve runs conn until the client quits or the connection fails. The
// connection is closed when Serve returns.
func (h *Handler) Serve(ctx context.Context, conn *transport.Conn) {
	s := &session{
		h:     h,
		conn:  conn,
		log:   h.log.With("conn_id", conn.ID(), "remote", conn.RemoteAddr()),
		state: domain.Connecting,
	}
	h.metrics.SessionOpened()
	defer h.metrics.SessionClosed()
	s.run(ctx)
}

func (s *session) transition(to domain.SessionState) {
	s.log.Debug("Session state changed", "from", s.state, "to", to)
	s.state = to
}

func (s *session) run(ctx context.Context) {
	s.transition(domain.Authenticating)
	name, err := s.handshake()
	if err != nil {
		s.log.Debug("Handshake aborted", "error", err)
		s.transition(domain.Closing)
		_ = s.conn.Close()
		s.transition(domain.Closed)
		return
	}
	s.name = name
	s.log = s.log.With("user", name)
	s.transition(domain.Active)
	s.log.Info("Session started")

	pumpCtx, stopPump := context.WithCancel(ctx)
	frames := make(chan protocol.Frame)
	pumpDone := make(chan error, 1)
	go func() { pumpDone <- pump(pumpCtx, s.conn, frames) }()

	reason := s.loop(ctx, frames)

	s.transition(domain.Closing)
	s.h.registry.Release(s.name, s.conn)
	_ = s.conn.Close()
	stopPump()
	if err := <-pumpDone; reason == nil {
		reason = err
	}
	s.transition(domain.Closed)
	s.log.Info("Session closed", "reason", reason)
}

// handshake reads bare names until one is claimed. The NOME_OK reply and
// any waiting messages are written before anyone else can write to the
// connection.
func (s *session) handshake() (string, error) {
	for {
		name, err := s.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		if err := protocol.ValidateName(name); err != nil {
			if err := s.conn.Reply(protocol.ErrorFrom(err)); err != nil {
				return "", err
			}
			continue
		}

		hold, err := s.conn.Reserve()
		if err != nil {
			return "", err
		}
		pending, err := s.h.registry.Claim(name, s.conn)
		if err != nil {
			sendErr := hold.Send(protocol.ErrorFrom(err))
			hold.Release()
			if sendErr != nil {
				return "", sendErr
			}
			s.log.Debug("Name refused", "name", name, "error", err)
			continue
		}

		sendErr := hold.Send(protocol.New(protocol.TagNameOK))
		for _, msg := range pending {
			if sendErr != nil {
				break
			}
			sendErr = runtime.Deliver(hold, msg)
		}
		hold.Release()
		if sendErr != nil {
			s.h.registry.Release(name, s.conn)
			return "", sendErr
		}
		if len(pending) > 0 {
			s.log.Debug("Offline messages delivered", "user", name, "count", len(pending))
		}
		return name, nil
	}
}

// loop dispatches frames until the client quits, the pump stops or an error
// makes the connection unusable. It returns the reason the session ends.
func (s *session) loop(ctx context.Context, frames <-chan protocol.Frame) error {
	for f := range frames {
		if f.Tag == protocol.TagQuit {
			_ = s.conn.Reply(protocol.Info("bye"))
			return nil
		}

		cmd, ok := commands[f.Tag]
		if !ok {
			s.log.Debug("Unknown command ignored", "tag", f.Tag)
			continue
		}

		err := cmd(s, ctx, f)
		if err == nil {
			continue
		}
		s.log.Debug("Command failed", "tag", f.Tag, "error", err)
		if sendErr := s.conn.Reply(protocol.ErrorFrom(err)); sendErr != nil {
			return fmt.Errorf("%w: %v", errors.ErrConnectionLost, sendErr)
		}
		if errors.IsFatal(err) {
			return err
		}
	}
	return nil
}

func usage(f protocol.Frame, want int, form string) error {
	if len(f.Args) < want {
		return fmt.Errorf("%w: usage %s", errors.ErrProtocol, form)
	}
	return nil
}

func (s *session) reply(text string) error {
	if err := s.conn.Reply(protocol.Info(text)); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrConnectionLost, err)
	}
	return nil
}

func (s *session) message(_ context.Context, f protocol.Frame) error {
	if err := usage(f, 2, "MSG|<to>|<text>"); err != nil {
		return err
	}
	return s.h.router.Route(s.name, f.Arg(0), f.Rest(1))
}

func (s *session) createGroup(_ context.Context, f protocol.Frame) error {
	if err := usage(f, 1, "CRIAR_GRUPO|<group>"); err != nil {
		return err
	}
	group := f.Arg(0)
	if err := s.h.registry.CreateGroup(group, s.name); err != nil {
		return err
	}
	s.log.Info("Group created", "group", group)
	return s.reply(fmt.Sprintf("group %s created", group))
}

func (s *session) joinGroup(_ context.Context, f protocol.Frame) error {
	if err := usage(f, 1, "ENTRAR_GRUPO|<group>"); err != nil {
		return err
	}
	group := f.Arg(0)
	if err := s.h.registry.JoinGroup(group, s.name); err != nil {
		return err
	}
	return s.reply(fmt.Sprintf("joined %s", group))
}

func (s *session) addMember(_ context.Context, f protocol.Frame) error {
	if err := usage(f, 2, "ADD_GRUPO|<user>|<group>"); err != nil {
		return err
	}
	target, group := f.Arg(0), f.Arg(1)
	if err := s.h.registry.AddMember(s.name, target, group); err != nil {
		return err
	}
	if peer, ok := s.h.registry.Lookup(target); ok {
		if err := peer.Send(protocol.Info(fmt.Sprintf("%s added you to %s", s.name, group))); err != nil {
			s.log.Debug("Unable to notify added member", "target", target, "error", err)
		}
	}
	return s.reply(fmt.Sprintf("%s added to %s", target, group))
}

func (s *session) members(_ context.Context, f protocol.Frame) error {
	if err := usage(f, 1, "MEMBROS|<group>"); err != nil {
		return err
	}
	group := f.Arg(0)
	members, err := s.h.registry.Members(group)
	if err != nil {
		return err
	}
	return s.reply(fmt.Sprintf("members of %s: %s", group, strings.Join(members, ", ")))
}

func (s *session) leaveGroup(_ context.Context, f protocol.Frame) error {
	if err := usage(f, 1, "SAIR_GRUPO|<group>"); err != nil {
		return err
	}
	group := f.Arg(0)
	if err := s.h.registry.LeaveGroup(group, s.name); err != nil {
		return err
	}
	return s.reply(fmt.Sprintf("left %s", group))
}

func (s *session) deleteGroup(_ context.Context, f protocol.Frame) error {
	if err := usage(f, 1, "APAGAR_GRUPO|<group>"); err != nil {
		return err
	}
	group := f.Arg(0)
	if err := s.h.registry.DeleteGroup(group, s.name); err != nil {
		return err
	}
	s.log.Info("Group deleted", "group", group)
	return s.reply(fmt.Sprintf("group %s deleted", group))
}

// list accepts both LISTAR and LISTAR| with an empty argument.
func (s *session) list(_ context.Context, f protocol.Frame) error {
	if len(f.Args) > 1 || f.Arg(0) != "" {
		return fmt.Errorf("%w: usage LISTAR", errors.ErrProtocol)
	}
	users := strings.Join(s.h.registry.Snapshot(), ", ")
	groups := strings.Join(s.h.registry.Groups(), ", ")
	return s.reply(fmt.Sprintf("users: %s; groups: %s", users, groups))
}

// file runs an upload. The pump already moved the connection to
// Transferring when it read the frame; End is deferred here as well so a
// rejected request releases the reader too.
func (s *session) file(ctx context.Context, f protocol.Frame) error {
	defer s.conn.Transfer().End()

	req, err := protocol.ParseFileRequest(f, s.h.maxFileSize)
	if err != nil {
		return err
	}
	return s.h.relay.Relay(ctx, s.conn, s.name, req)
}
