package rules_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmurren/spintally/rules"
)

func approvedRule(canonical string, variants ...string) rules.Rule {
	return rules.Rule{
		Attribution: "the beatles",
		Canonical:   canonical,
		Variants:    variants,
		Source:      "interactive",
		CreatedAt:   time.Date(2024, 1, 31, 9, 30, 0, 0, time.UTC),
	}
}

// =======================================================
// Immutable store semantics
// =======================================================

func TestStore_WithRuleLeavesOriginalUntouched(t *testing.T) {
	empty := rules.Store{}
	one := empty.WithRule(approvedRule("Abbey Road", "abbey road (remastered)"))

	require.Equal(t, 0, empty.Len())
	require.Equal(t, 1, one.Len())

	_, ok := empty.Lookup("the beatles", "abbey road (remastered)")
	require.False(t, ok, "original store must not see the new rule")

	canonical, ok := one.Lookup("the beatles", "abbey road (remastered)")
	require.True(t, ok)
	require.Equal(t, "abbey road", canonical)
}

func TestStore_LookupFoldsInputs(t *testing.T) {
	s := rules.Store{}.WithRule(approvedRule("Abbey Road", "Abbey Road (Remastered)"))

	canonical, ok := s.Lookup("The Beatles", "  ABBEY ROAD (REMASTERED) ")
	require.True(t, ok)
	require.Equal(t, "abbey road", canonical)

	_, ok = s.Lookup("queen", "abbey road (remastered)")
	require.False(t, ok, "rules are scoped to their attribution")
}

func TestStore_FirstRuleWinsVariantCollisions(t *testing.T) {
	s := rules.Store{}.
		WithRule(approvedRule("Abbey Road", "abbey road special")).
		WithRule(approvedRule("Something Else", "abbey road special"))

	canonical, ok := s.Lookup("the beatles", "abbey road special")
	require.True(t, ok)
	require.Equal(t, "abbey road", canonical, "later rules never overwrite an existing mapping")
	require.Equal(t, 2, s.Len(), "both rules stay in the append-only log")
}

func TestStore_Recent(t *testing.T) {
	s := rules.Store{}.
		WithRule(approvedRule("A", "a1")).
		WithRule(approvedRule("B", "b1")).
		WithRule(approvedRule("C", "c1"))

	recent := s.Recent(2)
	require.Len(t, recent, 2)
	require.Equal(t, "B", recent[0].Canonical)
	require.Equal(t, "C", recent[1].Canonical)

	require.Len(t, s.Recent(10), 3)
	require.Nil(t, s.Recent(0))
}

// =======================================================
// Snapshot persistence
// =======================================================

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")

	s := rules.Store{}.WithRule(approvedRule("Abbey Road", "abbey road (remastered)", "abbey road deluxe"))
	require.NoError(t, rules.Save(path, s))

	loaded, err := rules.Load(path)
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Len())

	canonical, ok := loaded.Lookup("the beatles", "abbey road deluxe")
	require.True(t, ok)
	require.Equal(t, "abbey road", canonical)
}

func TestStore_LoadLatestPicksNewestSnapshot(t *testing.T) {
	dir := t.TempDir()

	older := rules.Store{}.WithRule(approvedRule("Old", "old variant"))
	_, err := rules.SaveTimestamped(dir, older, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	newer := older.WithRule(approvedRule("New", "new variant"))
	newest, err := rules.SaveTimestamped(dir, newer, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	loaded, path, err := rules.LoadLatest(dir)
	require.NoError(t, err)
	require.Equal(t, newest, path)
	require.Equal(t, 2, loaded.Len())
}

func TestStore_LoadLatestOnEmptyDirIsFreshStart(t *testing.T) {
	loaded, path, err := rules.LoadLatest(t.TempDir())
	require.NoError(t, err)
	require.Empty(t, path)
	require.Equal(t, 0, loaded.Len())
}
