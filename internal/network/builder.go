package network

import (
	"context"
	"sort"

	"github.com/chanuka/conflict-engine/internal/domain"
)

// EdgeSource supplies the active outgoing edges of an entity. Implemented by
// the repository's graph and memory stores.
type EdgeSource interface {
	Neighbors(ctx context.Context, entityID domain.EntityID) ([]domain.InfluenceEdge, error)
}

const (
	// DefaultMaxHops bounds traversal depth so a single detection job has a
	// predictable worst-case cost on a platform-wide graph.
	DefaultMaxHops = 2
	// DefaultStrengthFloor prunes paths whose compounded strength has
	// decayed below usefulness.
	DefaultStrengthFloor = 0.15
	// DefaultMaxExplored caps the number of nodes expanded per query.
	DefaultMaxExplored = 10000
)

// Builder answers bounded reachability queries over the influence network.
// Edge weights compound multiplicatively along a path; the graph may contain
// cycles (cross-ownership), so visited tracking is per path, not global.
type Builder struct {
	edges       EdgeSource
	maxHops     int
	floor       float64
	maxExplored int
}

// Option adjusts traversal bounds.
type Option func(*Builder)

// WithMaxHops overrides the hop bound.
func WithMaxHops(hops int) Option {
	return func(b *Builder) {
		if hops > 0 {
			b.maxHops = hops
		}
	}
}

// WithStrengthFloor overrides the compounded-strength floor.
func WithStrengthFloor(floor float64) Option {
	return func(b *Builder) {
		if floor > 0 && floor <= 1 {
			b.floor = floor
		}
	}
}

// WithMaxExplored overrides the node expansion cap.
func WithMaxExplored(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.maxExplored = n
		}
	}
}

// New constructs a Builder over the supplied edge source.
func New(edges EdgeSource, opts ...Option) *Builder {
	b := &Builder{
		edges:       edges,
		maxHops:     DefaultMaxHops,
		floor:       DefaultStrengthFloor,
		maxExplored: DefaultMaxExplored,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// EdgesFrom returns every path of at most maxHops edges starting at the
// entity whose compounded strength clears the floor. maxHops <= 0 falls back
// to the builder's configured bound. Hitting a traversal bound is not an
// error: the paths found so far are returned.
func (b *Builder) EdgesFrom(ctx context.Context, start domain.EntityID, maxHops int) ([]domain.Path, error) {
	return b.traverse(ctx, start, maxHops, nil)
}

// PathsBetween returns paths from start that terminate at any of the target
// entities, shortest and strongest first.
func (b *Builder) PathsBetween(ctx context.Context, start domain.EntityID, targets []domain.EntityID, maxHops int) ([]domain.Path, error) {
	if len(targets) == 0 {
		return nil, nil
	}
	targetSet := make(map[domain.EntityID]struct{}, len(targets))
	for _, t := range targets {
		targetSet[t] = struct{}{}
	}
	return b.traverse(ctx, start, maxHops, targetSet)
}

type frontier struct {
	node     domain.EntityID
	path     []domain.InfluenceEdge
	strength float64
	visited  map[domain.EntityID]struct{}
}

// traverse runs a bounded breadth-first expansion. When targets is non-nil
// only paths ending on a target are collected; otherwise every surviving
// path is.
func (b *Builder) traverse(ctx context.Context, start domain.EntityID, maxHops int, targets map[domain.EntityID]struct{}) ([]domain.Path, error) {
	if maxHops <= 0 || maxHops > b.maxHops {
		maxHops = b.maxHops
	}

	var found []domain.Path
	explored := 0

	queue := []frontier{{
		node:     start,
		strength: 1.0,
		visited:  map[domain.EntityID]struct{}{start: {}},
	}}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if explored >= b.maxExplored {
			// Bound reached by design; partial results are the answer.
			break
		}

		current := queue[0]
		queue = queue[1:]

		if len(current.path) >= maxHops {
			continue
		}

		edges, err := b.edges.Neighbors(ctx, current.node)
		if err != nil {
			return nil, err
		}
		explored++

		for _, edge := range edges {
			if _, onPath := current.visited[edge.TargetID]; onPath {
				continue
			}
			strength := current.strength * edge.Strength
			if strength < b.floor {
				continue
			}

			path := make([]domain.InfluenceEdge, len(current.path), len(current.path)+1)
			copy(path, current.path)
			path = append(path, edge)

			if targets == nil {
				found = append(found, domain.Path{Edges: path, Strength: strength})
			} else if _, hit := targets[edge.TargetID]; hit {
				found = append(found, domain.Path{Edges: path, Strength: strength})
			}

			visited := make(map[domain.EntityID]struct{}, len(current.visited)+1)
			for k := range current.visited {
				visited[k] = struct{}{}
			}
			visited[edge.TargetID] = struct{}{}

			queue = append(queue, frontier{
				node:     edge.TargetID,
				path:     path,
				strength: strength,
				visited:  visited,
			})
		}
	}

	sortPaths(found)
	return found, nil
}

// sortPaths orders shortest first, then strongest, then by terminal entity so
// output is reproducible run to run.
func sortPaths(paths []domain.Path) {
	sort.Slice(paths, func(i, j int) bool {
		if paths[i].Hops() != paths[j].Hops() {
			return paths[i].Hops() < paths[j].Hops()
		}
		if paths[i].Strength != paths[j].Strength {
			return paths[i].Strength > paths[j].Strength
		}
		return paths[i].Terminus() < paths[j].Terminus()
	})
}
