package storage

import (
	"chat-relay/errors"
	"log/slog"
	"os"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

// SetupTestDB initializes a temporary Badger instance for testing
func SetupTestDB(t *testing.T) (*badger.DB, func()) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	require.NoError(t, err)

	return db, func() {
		db.Close()
	}
}

func TestGroupRepository_Lifecycle(t *testing.T) {
	req := require.New(t)
	db, cleanup := SetupTestDB(t)
	defer cleanup()
	repo := NewGroupRepository(db, slog.New(slog.NewTextHandler(os.Stdout, nil)))

	// Given an empty store
	groups, err := repo.LoadGroups()
	req.NoError(err)
	req.Empty(groups)

	// When groups are created and mutated
	req.NoError(repo.InsertGroup("team", []string{"alice"}))
	req.NoError(repo.InsertGroup("ops", []string{"carol"}))
	req.NoError(repo.AddMember("team", "bob"))
	req.NoError(repo.AddMember("team", "bob"))
	req.NoError(repo.AddMember("team", "dave"))
	req.NoError(repo.RemoveMember("team", "dave"))
	req.NoError(repo.RemoveMember("team", "nobody"))

	// Then they are read back with sorted members
	groups, err = repo.LoadGroups()
	req.NoError(err)
	req.Equal(map[string][]string{
		"team": {"alice", "bob"},
		"ops":  {"carol"},
	}, groups)

	// When a group is deleted
	req.NoError(repo.DeleteGroup("ops"))

	groups, err = repo.LoadGroups()
	req.NoError(err)
	req.Len(groups, 1)
	req.Contains(groups, "team")
}

func TestGroupRepository_Missing_Group(t *testing.T) {
	req := require.New(t)
	db, cleanup := SetupTestDB(t)
	defer cleanup()
	repo := NewGroupRepository(db, slog.Default())

	req.ErrorIs(repo.AddMember("ghost", "alice"), errors.ErrNoSuchGroup)
	req.NoError(repo.RemoveMember("ghost", "alice"))
	req.NoError(repo.DeleteGroup("ghost"))
}

func TestGroupRepository_Empty_Group_Survives(t *testing.T) {
	req := require.New(t)
	db, cleanup := SetupTestDB(t)
	defer cleanup()
	repo := NewGroupRepository(db, slog.Default())

	req.NoError(repo.InsertGroup("solo", []string{"alice"}))
	req.NoError(repo.RemoveMember("solo", "alice"))

	groups, err := repo.LoadGroups()
	req.NoError(err)
	req.Contains(groups, "solo")
	req.Empty(groups["solo"])
}
