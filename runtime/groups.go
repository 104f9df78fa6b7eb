package runtime

import (
	"chat-relay/errors"
	"chat-relay/protocol"
	"fmt"
	"sort"

	"github.com/samber/lo"
)

// Group operations share the Registry lock. Each mutation is written to the
// store first and applied in memory only once the store accepted it, so a
// store failure leaves the directory exactly as it was.

func (r *Registry) CreateGroup(name, creator string) error {
	if err := protocol.ValidateName(name); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[name]; ok {
		return fmt.Errorf("%w: %s", errors.ErrAlreadyExists, name)
	}
	if err := r.store.InsertGroup(name, []string{creator}); err != nil {
		return r.persistenceFailure("create", name, err)
	}
	r.groups[name] = Set{creator: {}}
	return nil
}

func (r *Registry) JoinGroup(name, user string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.groups[name]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrNoSuchGroup, name)
	}
	if _, ok := members[user]; ok {
		return fmt.Errorf("%w: %s", errors.ErrAlreadyMember, name)
	}
	if err := r.store.AddMember(name, user); err != nil {
		return r.persistenceFailure("join", name, err)
	}
	members[user] = struct{}{}
	return nil
}

// AddMember lets an existing member bring an online user into the group.
func (r *Registry) AddMember(actor, target, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.groups[name]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrNoSuchGroup, name)
	}
	if _, ok := members[actor]; !ok {
		return fmt.Errorf("%w: %s is not a member of %s", errors.ErrForbidden, actor, name)
	}
	if _, ok := r.sessions[target]; !ok {
		return fmt.Errorf("%w: %s", errors.ErrTargetOffline, target)
	}
	if _, ok := members[target]; ok {
		return fmt.Errorf("%w: %s", errors.ErrAlreadyMember, target)
	}
	if err := r.store.AddMember(name, target); err != nil {
		return r.persistenceFailure("add member", name, err)
	}
	members[target] = struct{}{}
	return nil
}

// LeaveGroup is a no-op when user is not a member.
func (r *Registry) LeaveGroup(name, user string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.groups[name]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrNoSuchGroup, name)
	}
	if _, ok := members[user]; !ok {
		return nil
	}
	if err := r.store.RemoveMember(name, user); err != nil {
		return r.persistenceFailure("leave", name, err)
	}
	delete(members, user)
	return nil
}

func (r *Registry) DeleteGroup(name, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.groups[name]
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrNoSuchGroup, name)
	}
	if _, ok := members[actor]; !ok {
		return fmt.Errorf("%w: %s is not a member of %s", errors.ErrForbidden, actor, name)
	}
	if err := r.store.DeleteGroup(name); err != nil {
		return r.persistenceFailure("delete", name, err)
	}
	delete(r.groups, name)
	return nil
}

// Members returns the sorted member list of a group.
func (r *Registry) Members(name string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.groups[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrNoSuchGroup, name)
	}
	list := lo.Keys(members)
	sort.Strings(list)
	return list, nil
}

// Groups returns the sorted group names.
func (r *Registry) Groups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := lo.Keys(r.groups)
	sort.Strings(names)
	return names
}

func (r *Registry) persistenceFailure(op, group string, err error) error {
	r.log.Error("Group store rejected mutation", "op", op, "group", group, "error", err)
	return fmt.Errorf("%w: %s %s: %v", errors.ErrPersistence, op, group, err)
}
