package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/observability"
	"chat-relay/protocol"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Router delivers text messages to a username or to every other member of
// a group. Recipients are captured under the registry lock, sends happen
// outside it, one goroutine per recipient.
type Router struct {
	log      *slog.Logger
	registry *Registry
	metrics  *observability.Metrics
}

func NewRouter(log *slog.Logger, registry *Registry, metrics *observability.Metrics) *Router {
	return &Router{log: log, registry: registry, metrics: metrics}
}

// Route sends content from one user to a token. A failed send only drops
// that recipient; the message is then kept in its mailbox.
func (rt *Router) Route(from, token, content string) error {
	res, err := rt.registry.Resolve(from, token)
	if err != nil {
		return err
	}

	now := time.Now()
	var wg sync.WaitGroup
	for _, target := range res.Targets {
		msg := domain.NewPrivateMessage(from, target.Name, content, now)
		if res.Group != "" {
			msg = domain.NewGroupMessage(res.Group, from, target.Name, content, now)
		}
		if target.Peer == nil {
			rt.hold(msg)
			continue
		}
		wg.Add(1)
		go func(peer contract.Peer, msg domain.PendingMessage) {
			defer wg.Done()
			rt.send(peer, msg)
		}(target.Peer, msg)
	}
	wg.Wait()

	rt.log.Debug("Message routed", "from", from, "to", token, "recipients", len(res.Targets))
	return nil
}

func (rt *Router) send(peer contract.Peer, msg domain.PendingMessage) {
	err := Deliver(peer, msg)
	if err == nil {
		rt.metrics.IncrRouted()
		return
	}
	err = fmt.Errorf("%w: %s: %v", errors.ErrPeerUnreachable, msg.To, err)
	rt.log.Warn("Peer unreachable, dropping it", "user", msg.To, "error", err)
	rt.Drop(msg.To, peer)
	rt.hold(msg)
}

// hold queues msg unless its recipient is back online, in which case one
// direct delivery is attempted.
func (rt *Router) hold(msg domain.PendingMessage) {
	peer, online := rt.registry.Defer(msg)
	if !online {
		rt.log.Debug("Message queued for offline user", "user", msg.To, "kind", msg.Kind)
		return
	}
	if err := Deliver(peer, msg); err != nil {
		rt.log.Warn("Message lost, recipient dropped twice", "user", msg.To, "error", err)
		rt.Drop(msg.To, peer)
		return
	}
	rt.metrics.IncrRouted()
}

// Drop unregisters a broken peer and closes its connection. Its own session
// notices the closed socket and finishes teardown.
func (rt *Router) Drop(name string, peer contract.Peer) {
	if rt.registry.Release(name, peer) {
		rt.metrics.IncrDropped()
	}
	if err := peer.Close(); err != nil {
		rt.log.Debug("Closing dropped peer", "user", name, "error", err)
	}
}

// Deliver writes a pending message as MSG_PRIVADA or MSG_GRUPO.
func Deliver(w contract.FrameSender, msg domain.PendingMessage) error {
	return w.Send(Render(msg))
}

func Render(msg domain.PendingMessage) protocol.Frame {
	if msg.Kind == domain.GroupMessage {
		return protocol.New(protocol.TagGroup, msg.Group, msg.From, msg.Content)
	}
	return protocol.New(protocol.TagPrivate, msg.From, msg.Content)
}
