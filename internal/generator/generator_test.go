package generator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chanuka/conflict-engine/internal/domain"
)

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.NumEntities = 40
	cfg.NumSponsors = 10
	cfg.NumBills = 8
	return cfg
}

func TestGenerateCounts(t *testing.T) {
	cfg := smallConfig()
	ds, err := New(cfg).Generate(context.Background())
	require.NoError(t, err)

	require.Len(t, ds.Sponsors, cfg.NumSponsors)
	require.Len(t, ds.Bills, cfg.NumBills)
	require.Greater(t, len(ds.Entities), cfg.NumEntities, "entities include the sector nodes")
	require.NotEmpty(t, ds.Interests)
	require.NotEmpty(t, ds.Edges)

	for _, sponsor := range ds.Sponsors {
		require.NotEmpty(t, sponsor.InterestIDs)
		require.LessOrEqual(t, len(sponsor.InterestIDs), cfg.MaxInterests)
	}
}

func TestGenerateEdgesAreWellFormed(t *testing.T) {
	ds, err := New(smallConfig()).Generate(context.Background())
	require.NoError(t, err)

	known := make(map[domain.EntityID]bool, len(ds.Entities))
	for _, entity := range ds.Entities {
		known[entity.ID] = true
	}

	sectorEdges := 0
	for _, edge := range ds.Edges {
		require.NotEqual(t, edge.SourceID, edge.TargetID, "edge %s is a self loop", edge.ID)
		require.Greater(t, edge.Strength, 0.0, "edge %s", edge.ID)
		require.LessOrEqual(t, edge.Strength, 1.0, "edge %s", edge.ID)
		require.True(t, edge.Active)
		require.True(t, known[edge.SourceID], "edge %s references unknown source", edge.ID)
		require.True(t, known[edge.TargetID], "edge %s references unknown target", edge.ID)
		if edge.Kind == domain.EdgeBelongsToSector {
			sectorEdges++
		}
	}
	require.GreaterOrEqual(t, sectorEdges, smallConfig().NumEntities, "every entity belongs to a sector")
}

func TestGenerateInterestsResolvable(t *testing.T) {
	ds, err := New(smallConfig()).Generate(context.Background())
	require.NoError(t, err)

	known := make(map[domain.EntityID]bool, len(ds.Entities))
	for _, entity := range ds.Entities {
		known[entity.ID] = true
	}

	for _, interest := range ds.Interests {
		require.True(t, interest.Kind.Valid(), "interest %s", interest.ID)
		if interest.Entity.ID != "" {
			require.True(t, known[interest.Entity.ID], "interest %s references unknown entity", interest.ID)
		} else {
			require.NotEmpty(t, interest.Entity.Name, "interest %s has neither id nor name", interest.ID)
		}
	}
}

func TestGenerateDeterministicPerSeed(t *testing.T) {
	cfg := smallConfig()

	first, err := New(cfg).Generate(context.Background())
	require.NoError(t, err)
	second, err := New(cfg).Generate(context.Background())
	require.NoError(t, err)

	require.Equal(t, len(first.Bills), len(second.Bills))
	for i := range first.Bills {
		require.Equal(t, first.Bills[i].ID, second.Bills[i].ID)
		require.Equal(t, first.Bills[i].Title, second.Bills[i].Title)
		require.Equal(t, first.Bills[i].SponsorIDs, second.Bills[i].SponsorIDs)
		require.Equal(t, first.Bills[i].AffectedEntities, second.Bills[i].AffectedEntities)
	}
	for i := range first.Sponsors {
		require.Equal(t, first.Sponsors[i].Name, second.Sponsors[i].Name)
	}

	other := cfg
	other.Seed = 99
	third, err := New(other).Generate(context.Background())
	require.NoError(t, err)

	firstNames := make([]string, len(first.Sponsors))
	thirdNames := make([]string, len(third.Sponsors))
	for i := range first.Sponsors {
		firstNames[i] = first.Sponsors[i].Name
		thirdNames[i] = third.Sponsors[i].Name
	}
	require.NotEqual(t, firstNames, thirdNames, "different seeds should diverge")
}

func TestGenerateHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(smallConfig()).Generate(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
