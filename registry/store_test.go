package registry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"plenum/core"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	return store
}

func seedTestChamber(t *testing.T, store *Store) {
	t.Helper()
	require.NoError(t, store.CreateChamber(Chamber{ID: "chamber-1", Name: "Lower House"}))
	councilors := []Councilor{
		{ID: "presider", ChamberID: "chamber-1", Name: "P", Presiding: true},
		{ID: "alice", ChamberID: "chamber-1", Name: "A"},
		{ID: "bob", ChamberID: "chamber-1", Name: "B"},
	}
	require.NoError(t, store.db.Create(&councilors).Error)
	matters := []Matter{
		{ID: "m1", ChamberID: "chamber-1", Title: "Budget"},
		{ID: "m2", ChamberID: "chamber-1", Title: "Zoning"},
	}
	require.NoError(t, store.db.Create(&matters).Error)
}

func TestVoterRosterExcludesPresiding(t *testing.T) {
	store := openTestStore(t)
	seedTestChamber(t, store)

	roster, err := store.VoterRoster("chamber-1")
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, roster)

	eligible, err := store.IsEligibleVoter("chamber-1", "alice")
	require.NoError(t, err)
	require.True(t, eligible)

	eligible, err = store.IsEligibleVoter("chamber-1", "presider")
	require.NoError(t, err)
	require.False(t, eligible)

	eligible, err = store.IsEligibleVoter("chamber-1", "stranger")
	require.NoError(t, err)
	require.False(t, eligible)
}

func TestMatterLifecycle(t *testing.T) {
	store := openTestStore(t)
	seedTestChamber(t, store)

	voted, found, err := store.IsMatterAlreadyVoted("m1")
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, voted)

	_, found, err = store.IsMatterAlreadyVoted("missing")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, store.MarkMatterVoted("m1", core.OutcomeApproved))

	voted, found, err = store.IsMatterAlreadyVoted("m1")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, voted)

	matters, err := store.Matters("chamber-1")
	require.NoError(t, err)
	require.Len(t, matters, 2)
	// Pending matters sort first.
	require.Equal(t, "m2", matters[0].ID)
	require.Equal(t, "m1", matters[1].ID)
	require.Equal(t, string(core.OutcomeApproved), matters[1].Outcome)
	require.NotNil(t, matters[1].VotedAt)

	require.ErrorIs(t, store.MarkMatterVoted("missing", core.OutcomeApproved), ErrMatterNotFound)
}

func TestChamberLookup(t *testing.T) {
	store := openTestStore(t)
	seedTestChamber(t, store)

	chamber, err := store.Chamber("chamber-1")
	require.NoError(t, err)
	require.Equal(t, "Lower House", chamber.Name)

	_, err = store.Chamber("missing")
	require.ErrorIs(t, err, ErrChamberNotFound)

	chambers, err := store.Chambers()
	require.NoError(t, err)
	require.Len(t, chambers, 1)
}
