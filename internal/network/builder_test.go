package network

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chanuka/conflict-engine/internal/domain"
	"github.com/chanuka/conflict-engine/internal/repository"
)

func graphWith(t *testing.T, edges ...domain.InfluenceEdge) *repository.Memory {
	t.Helper()
	m := repository.NewMemory()
	for _, edge := range edges {
		edge.Active = true
		require.NoError(t, m.AddEdge(context.Background(), edge))
	}
	return m
}

func edge(id string, source, target domain.EntityID, strength float64) domain.InfluenceEdge {
	return domain.InfluenceEdge{
		ID:       id,
		SourceID: source,
		TargetID: target,
		Kind:     domain.EdgeOwns,
		Strength: strength,
	}
}

func TestEdgesFromRespectsHopBound(t *testing.T) {
	graph := graphWith(t,
		edge("e1", "a", "b", 0.9),
		edge("e2", "b", "c", 0.9),
		edge("e3", "c", "d", 0.9),
	)
	b := New(graph, WithMaxHops(2))

	paths, err := b.EdgesFrom(context.Background(), "a", 0)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	require.Equal(t, domain.EntityID("b"), paths[0].Terminus())
	require.Equal(t, domain.EntityID("c"), paths[1].Terminus())
}

func TestEdgesFromCapsRequestedHopsAtConfiguredBound(t *testing.T) {
	graph := graphWith(t,
		edge("e1", "a", "b", 0.9),
		edge("e2", "b", "c", 0.9),
		edge("e3", "c", "d", 0.9),
	)
	b := New(graph, WithMaxHops(2))

	// Asking for more hops than the builder allows falls back to the bound.
	paths, err := b.EdgesFrom(context.Background(), "a", 10)
	require.NoError(t, err)
	require.Len(t, paths, 2)
}

func TestStrengthCompoundsAndFloorPrunes(t *testing.T) {
	graph := graphWith(t,
		edge("e1", "a", "b", 0.5),
		edge("e2", "b", "c", 0.2), // 0.5*0.2 = 0.10 < floor
		edge("e3", "a", "d", 0.1), // below floor on the first hop
	)
	b := New(graph, WithMaxHops(3), WithStrengthFloor(0.15))

	paths, err := b.EdgesFrom(context.Background(), "a", 0)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	require.Equal(t, domain.EntityID("b"), paths[0].Terminus())
	require.InDelta(t, 0.5, paths[0].Strength, 1e-9)
}

func TestCycleTerminates(t *testing.T) {
	// Cross-ownership cycle with strong edges: only per-path visited
	// tracking stops the walk.
	graph := graphWith(t,
		edge("e1", "a", "b", 1.0),
		edge("e2", "b", "a", 1.0),
	)
	b := New(graph, WithMaxHops(5))

	paths, err := b.EdgesFrom(context.Background(), "a", 0)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	require.Equal(t, domain.EntityID("b"), paths[0].Terminus())
}

func TestDiamondYieldsBothPaths(t *testing.T) {
	// Two distinct routes to the same node are both reported; the scorer
	// picks the strongest.
	graph := graphWith(t,
		edge("e1", "a", "b", 0.9),
		edge("e2", "a", "c", 0.8),
		edge("e3", "b", "d", 0.9),
		edge("e4", "c", "d", 0.8),
	)
	b := New(graph, WithMaxHops(2))

	paths, err := b.PathsBetween(context.Background(), "a", []domain.EntityID{"d"}, 2)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	require.InDelta(t, 0.81, paths[0].Strength, 1e-9)
	require.InDelta(t, 0.64, paths[1].Strength, 1e-9)
}

func TestPathsBetweenFiltersToTargets(t *testing.T) {
	graph := graphWith(t,
		edge("e1", "a", "b", 0.9),
		edge("e2", "a", "c", 0.9),
	)
	b := New(graph)

	paths, err := b.PathsBetween(context.Background(), "a", []domain.EntityID{"c"}, 2)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	require.Equal(t, domain.EntityID("c"), paths[0].Terminus())

	paths, err = b.PathsBetween(context.Background(), "a", nil, 2)
	require.NoError(t, err)
	require.Empty(t, paths)
}

func TestMaxExploredReturnsPartialResults(t *testing.T) {
	graph := graphWith(t,
		edge("e1", "a", "b", 0.9),
		edge("e2", "b", "c", 0.9),
	)
	b := New(graph, WithMaxHops(3), WithMaxExplored(1))

	paths, err := b.EdgesFrom(context.Background(), "a", 0)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	require.Equal(t, domain.EntityID("b"), paths[0].Terminus())
}

func TestTraversalHonorsCancellation(t *testing.T) {
	graph := graphWith(t, edge("e1", "a", "b", 0.9))
	b := New(graph)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.EdgesFrom(ctx, "a", 0)
	require.ErrorIs(t, err, context.Canceled)
}

func TestPathOrderingDeterministic(t *testing.T) {
	graph := graphWith(t,
		edge("e1", "a", "c", 0.7),
		edge("e2", "a", "b", 0.7),
		edge("e3", "a", "d", 0.9),
	)
	b := New(graph)

	paths, err := b.EdgesFrom(context.Background(), "a", 1)
	require.NoError(t, err)
	require.Len(t, paths, 3)
	// Strongest first, then by terminus for equal strength.
	require.Equal(t, domain.EntityID("d"), paths[0].Terminus())
	require.Equal(t, domain.EntityID("b"), paths[1].Terminus())
	require.Equal(t, domain.EntityID("c"), paths[2].Terminus())
}
