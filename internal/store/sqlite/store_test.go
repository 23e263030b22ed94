package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/ghgledger/internal/core"
	"github.com/JonMunkholm/ghgledger/internal/store/storetest"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "ghg.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) core.Store { return openTemp(t) })
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ghg.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = s.CreateFacility(ctx, core.Facility{Name: "Plant A"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	f, err := s.FindFacilityByName(ctx, "Plant A")
	require.NoError(t, err)
	require.Equal(t, "Plant A", f.Name)
}

func TestForeignKeysEnforced(t *testing.T) {
	s := openTemp(t)
	_, err := s.CreateFacility(context.Background(), core.Facility{Name: "Orphan", SectorID: "no_such_sector"})
	require.Error(t, err)
}
