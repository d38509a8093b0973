package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/chanuka/conflict-engine/internal/domain"
)

// Memory is a map-backed Store used by unit tests and by local runs without a
// graph database. Read methods return edges in the same stable order the
// graph-backed store does.
type Memory struct {
	mu       sync.RWMutex
	entities map[domain.EntityID]domain.Entity
	edges    map[string]domain.InfluenceEdge
	outgoing map[domain.EntityID][]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entities: make(map[domain.EntityID]domain.Entity),
		edges:    make(map[string]domain.InfluenceEdge),
		outgoing: make(map[domain.EntityID][]string),
	}
}

func (m *Memory) UpsertEntity(_ context.Context, entity domain.Entity) error {
	if entity.ID == "" {
		return errors.New("entity id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[entity.ID] = entity
	return nil
}

func (m *Memory) AddEdge(_ context.Context, edge domain.InfluenceEdge) error {
	if err := validateEdge(edge); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.edges[edge.ID]; !exists {
		m.outgoing[edge.SourceID] = append(m.outgoing[edge.SourceID], edge.ID)
	}
	m.edges[edge.ID] = edge
	return nil
}

func (m *Memory) RetractEdge(_ context.Context, edgeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	edge, ok := m.edges[edgeID]
	if !ok {
		return errors.New("edge not found")
	}
	edge.Active = false
	m.edges[edgeID] = edge
	return nil
}

func (m *Memory) Neighbors(_ context.Context, entityID domain.EntityID) ([]domain.InfluenceEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var edges []domain.InfluenceEdge
	for _, id := range m.outgoing[entityID] {
		edge := m.edges[id]
		if !edge.Active {
			continue
		}
		edges = append(edges, edge)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].TargetID != edges[j].TargetID {
			return edges[i].TargetID < edges[j].TargetID
		}
		if edges[i].Kind != edges[j].Kind {
			return edges[i].Kind < edges[j].Kind
		}
		return edges[i].ID < edges[j].ID
	})
	return edges, nil
}

func (m *Memory) SectorsOf(ctx context.Context, entityID domain.EntityID) ([]domain.EntityID, error) {
	edges, err := m.Neighbors(ctx, entityID)
	if err != nil {
		return nil, err
	}

	var sectors []domain.EntityID
	for _, edge := range edges {
		if edge.Kind == domain.EdgeBelongsToSector {
			sectors = append(sectors, edge.TargetID)
		}
	}
	return sectors, nil
}

// Entity returns a stored entity by id, for test assertions.
func (m *Memory) Entity(id domain.EntityID) (domain.Entity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entity, ok := m.entities[id]
	return entity, ok
}
