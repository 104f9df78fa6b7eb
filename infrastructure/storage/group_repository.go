package storage

import (
	"chat-relay/contract"
	"chat-relay/errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const GroupPrefix = "group:"

var _ contract.GroupStore = GroupRepository{}

// GroupRepository persists group membership in BadgerDB.
// Each group is one key "group:{name}" whose value is the sorted member
// list encoded as a protobuf ListValue.
type GroupRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewGroupRepository(db *badger.DB, log *slog.Logger) GroupRepository {
	return GroupRepository{db: db, log: log}
}

func groupKey(name string) []byte {
	return []byte(GroupPrefix + name)
}

// LoadGroups scans every persisted group.
func (g GroupRepository) LoadGroups() (map[string][]string, error) {
	groups := make(map[string][]string)
	prefix := []byte(GroupPrefix)

	err := g.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			name := strings.TrimPrefix(string(item.Key()), GroupPrefix)
			err := item.Value(func(v []byte) error {
				members, err := DecodeMembers(v)
				if err != nil {
					return fmt.Errorf("group %s: %w", name, err)
				}
				groups[name] = members
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error during groups scan: %w", err)
	}
	g.log.Debug("Groups scanned", "count", len(groups))
	return groups, nil
}

func (g GroupRepository) InsertGroup(name string, members []string) error {
	return g.db.Update(func(txn *badger.Txn) error {
		return putMembers(txn, name, members)
	})
}

func (g GroupRepository) AddMember(name, member string) error {
	return g.db.Update(func(txn *badger.Txn) error {
		members, found, err := getMembers(txn, name)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s", errors.ErrNoSuchGroup, name)
		}
		if lo.Contains(members, member) {
			return nil
		}
		return putMembers(txn, name, append(members, member))
	})
}

// RemoveMember is a no-op when the group or the member is absent.
func (g GroupRepository) RemoveMember(name, member string) error {
	return g.db.Update(func(txn *badger.Txn) error {
		members, found, err := getMembers(txn, name)
		if err != nil || !found {
			return err
		}
		if !lo.Contains(members, member) {
			return nil
		}
		return putMembers(txn, name, lo.Without(members, member))
	})
}

func (g GroupRepository) DeleteGroup(name string) error {
	return g.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(groupKey(name))
	})
}

func getMembers(txn *badger.Txn, name string) ([]string, bool, error) {
	item, err := txn.Get(groupKey(name))
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var members []string
	err = item.Value(func(v []byte) error {
		members, err = DecodeMembers(v)
		return err
	})
	return members, true, err
}

func putMembers(txn *badger.Txn, name string, members []string) error {
	data, err := encodeMembers(members)
	if err != nil {
		return err
	}
	return txn.Set(groupKey(name), data)
}

func encodeMembers(members []string) ([]byte, error) {
	sorted := append([]string(nil), members...)
	sort.Strings(sorted)
	list, err := structpb.NewList(lo.ToAnySlice(sorted))
	if err != nil {
		return nil, err
	}
	return proto.Marshal(list)
}

// DecodeMembers reads a member list as stored under a group key.
func DecodeMembers(data []byte) ([]string, error) {
	var list structpb.ListValue
	if err := proto.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to unmarshal members: %w", err)
	}
	return lo.Map(list.GetValues(), func(v *structpb.Value, _ int) string {
		return v.GetStringValue()
	}), nil
}
