package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/errors"
	"chat-relay/observability"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/samber/lo"
)

type Set map[string]struct{}

// Registry is the single source of truth for who is online, which groups
// exist and what is waiting for offline users. One lock guards all three so
// a fan-out snapshot never observes a half-removed connection.
type Registry struct {
	mu       sync.RWMutex
	log      *slog.Logger
	store    contract.GroupStore
	metrics  *observability.Metrics
	sessions map[string]contract.Peer // username -> live connection
	groups   map[string]Set           // group -> members
	mailbox  *mailbox
}

func NewRegistry(log *slog.Logger, store contract.GroupStore, metrics *observability.Metrics, mailboxCapacity int) *Registry {
	return &Registry{
		log:      log,
		store:    store,
		metrics:  metrics,
		sessions: make(map[string]contract.Peer),
		groups:   make(map[string]Set),
		mailbox:  newMailbox(mailboxCapacity),
	}
}

// Load replaces the in-memory groups with the persisted ones.
// It is meant to be called once, before the server accepts connections.
func (r *Registry) Load() error {
	stored, err := r.store.LoadGroups()
	if err != nil {
		return fmt.Errorf("%w: load groups: %v", errors.ErrPersistence, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.groups = make(map[string]Set, len(stored))
	for name, members := range stored {
		set := make(Set, len(members))
		for _, m := range members {
			set[m] = struct{}{}
		}
		r.groups[name] = set
	}
	r.log.Info("Groups loaded", "count", len(r.groups))
	return nil
}

// Claim registers peer under name if nobody holds it yet. On success it
// returns, oldest first, the messages that were waiting for name.
func (r *Registry) Claim(name string, peer contract.Peer) ([]domain.PendingMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.sessions[name]; taken {
		return nil, fmt.Errorf("%w: %s", errors.ErrNameTaken, name)
	}
	r.sessions[name] = peer
	return r.mailbox.drain(name), nil
}

func (r *Registry) Lookup(name string) (contract.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peer, ok := r.sessions[name]
	return peer, ok
}

// Remove unregisters name and prunes it from every group. Idempotent.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remove(name)
}

// Release removes name only while it is still bound to peer, so a session
// tearing down late cannot evict whoever claimed the name after it.
func (r *Registry) Release(name string, peer contract.Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[name]
	if !ok || current != peer {
		return false
	}
	r.remove(name)
	return true
}

func (r *Registry) remove(name string) {
	delete(r.sessions, name)
	for group, members := range r.groups {
		if _, ok := members[name]; !ok {
			continue
		}
		delete(members, name)
		// The session is gone either way; a failed write-through only leaves
		// a stale member in the store.
		if err := r.store.RemoveMember(group, name); err != nil {
			r.log.Error("Unable to persist membership pruning", "group", group, "user", name, "error", err)
		}
	}
}

// Snapshot returns the sorted list of online users.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := lo.Keys(r.sessions)
	sort.Strings(names)
	return names
}

// Target is one recipient of a routed message. Peer is nil when the
// recipient is not connected.
type Target struct {
	Name string
	Peer contract.Peer
}

// Resolution is the set of recipients a token resolved to, captured under
// the read lock. Group is empty for a private target.
type Resolution struct {
	Group   string
	Targets []Target
}

func (res Resolution) Live() []Target {
	return lo.Filter(res.Targets, func(t Target, _ int) bool { return t.Peer != nil })
}

func (res Resolution) Offline() []Target {
	return lo.Filter(res.Targets, func(t Target, _ int) bool { return t.Peer == nil })
}

// Resolve turns a destination token into recipients. A connected username
// wins over a group of the same name. For a group, from must be a member and
// is excluded from the recipients.
func (r *Registry) Resolve(from, token string) (Resolution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if peer, ok := r.sessions[token]; ok {
		return Resolution{Targets: []Target{{Name: token, Peer: peer}}}, nil
	}

	members, ok := r.groups[token]
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %s", errors.ErrNoSuchTarget, token)
	}
	if _, ok := members[from]; !ok {
		return Resolution{}, fmt.Errorf("%w: %s", errors.ErrNotAMember, token)
	}

	res := Resolution{Group: token}
	for member := range members {
		if member == from {
			continue
		}
		res.Targets = append(res.Targets, Target{Name: member, Peer: r.sessions[member]})
	}
	return res, nil
}

// Defer queues msg for its recipient. If the recipient came online in the
// meantime its connection is returned instead and nothing is queued.
func (r *Registry) Defer(msg domain.PendingMessage) (contract.Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if peer, ok := r.sessions[msg.To]; ok {
		return peer, true
	}
	if r.mailbox.push(msg) {
		r.metrics.IncrEvicted()
		r.log.Warn("Mailbox full, oldest message evicted", "user", msg.To)
	}
	r.metrics.IncrQueued()
	return nil, false
}

// Pending reports how many messages are waiting for user.
func (r *Registry) Pending(user string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mailbox.size(user)
}
