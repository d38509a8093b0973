package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chanuka/conflict-engine/internal/domain"
	"github.com/chanuka/conflict-engine/internal/graph"
)

// Store is the persistence contract for canonical entities and influence
// edges. The graph-backed implementation is authoritative; the memory
// implementation backs tests and graphless local runs.
type Store interface {
	UpsertEntity(ctx context.Context, entity domain.Entity) error
	AddEdge(ctx context.Context, edge domain.InfluenceEdge) error
	RetractEdge(ctx context.Context, edgeID string) error
	Neighbors(ctx context.Context, entityID domain.EntityID) ([]domain.InfluenceEdge, error)
	SectorsOf(ctx context.Context, entityID domain.EntityID) ([]domain.EntityID, error)
}

var (
	// ErrSelfEdge rejects edges whose source and target are the same node.
	ErrSelfEdge = errors.New("influence edge source and target must differ")
	// ErrInvalidStrength rejects edge strengths outside (0, 1].
	ErrInvalidStrength = errors.New("influence edge strength must be in (0, 1]")
)

const (
	upsertEntityCypher = `
MERGE (e:Entity {entityId: $entityId})
ON CREATE SET e.createdAt = $createdAt
SET e.canonicalName = $canonicalName,
    e.type = $type,
    e.aliases = $aliases`

	addEdgeCypher = `
MATCH (s:Entity {entityId: $sourceId})
MATCH (t:Entity {entityId: $targetId})
MERGE (s)-[r:INFLUENCES {edgeId: $edgeId}]->(t)
ON CREATE SET r.createdAt = $createdAt
SET r.kind = $kind,
    r.strength = $strength,
    r.provenance = $provenance,
    r.active = $active`

	retractEdgeCypher = `
MATCH (:Entity)-[r:INFLUENCES {edgeId: $edgeId}]->(:Entity)
SET r.active = false`

	neighborsCypher = `
MATCH (s:Entity {entityId: $entityId})-[r:INFLUENCES]->(t:Entity)
WHERE r.active
RETURN r.edgeId AS edgeId,
       s.entityId AS sourceId,
       t.entityId AS targetId,
       r.kind AS kind,
       r.strength AS strength,
       r.provenance AS provenance
ORDER BY t.entityId, r.kind, r.edgeId`

	sectorsOfCypher = `
MATCH (s:Entity {entityId: $entityId})-[r:INFLUENCES]->(t:Entity)
WHERE r.active AND r.kind = $kind
RETURN t.entityId AS sectorId
ORDER BY sectorId`
)

// Graph persists entities and edges through a graph.Client.
type Graph struct {
	client graph.Client
}

// NewGraph wraps the supplied graph client.
func NewGraph(client graph.Client) *Graph {
	return &Graph{client: client}
}

// UpsertEntity ensures a node exists with the latest canonical name, type,
// and alias set. The node is created at most once; the id never changes.
func (g *Graph) UpsertEntity(ctx context.Context, entity domain.Entity) error {
	if entity.ID == "" {
		return errors.New("entity id is required")
	}

	params := map[string]any{
		"entityId":      string(entity.ID),
		"canonicalName": entity.CanonicalName,
		"type":          string(entity.Type),
		"aliases":       entity.Aliases,
		"createdAt":     formatTime(entity.CreatedAt),
	}

	if _, err := g.client.ExecuteWrite(ctx, upsertEntityCypher, params); err != nil {
		return fmt.Errorf("upsert entity %s: %w", entity.ID, err)
	}
	return nil
}

// AddEdge appends an influence edge. Edges are never hard-deleted; retraction
// only flips the active flag.
func (g *Graph) AddEdge(ctx context.Context, edge domain.InfluenceEdge) error {
	if err := validateEdge(edge); err != nil {
		return err
	}

	params := map[string]any{
		"edgeId":     edge.ID,
		"sourceId":   string(edge.SourceID),
		"targetId":   string(edge.TargetID),
		"kind":       string(edge.Kind),
		"strength":   edge.Strength,
		"provenance": edge.Provenance,
		"active":     edge.Active,
		"createdAt":  formatTime(edge.CreatedAt),
	}

	if _, err := g.client.ExecuteWrite(ctx, addEdgeCypher, params); err != nil {
		return fmt.Errorf("add edge %s: %w", edge.ID, err)
	}
	return nil
}

// RetractEdge soft-deletes an edge, preserving it for audit.
func (g *Graph) RetractEdge(ctx context.Context, edgeID string) error {
	if edgeID == "" {
		return errors.New("edge id is required")
	}
	if _, err := g.client.ExecuteWrite(ctx, retractEdgeCypher, map[string]any{"edgeId": edgeID}); err != nil {
		return fmt.Errorf("retract edge %s: %w", edgeID, err)
	}
	return nil
}

// Neighbors returns the active outgoing edges of an entity in a stable order.
func (g *Graph) Neighbors(ctx context.Context, entityID domain.EntityID) ([]domain.InfluenceEdge, error) {
	res, err := g.client.ExecuteRead(ctx, neighborsCypher, map[string]any{"entityId": string(entityID)})
	if err != nil {
		return nil, fmt.Errorf("neighbors of %s: %w", entityID, err)
	}

	edges := make([]domain.InfluenceEdge, 0, len(res.Records))
	for _, record := range res.Records {
		edges = append(edges, domain.InfluenceEdge{
			ID:         toString(record["edgeId"]),
			SourceID:   domain.EntityID(toString(record["sourceId"])),
			TargetID:   domain.EntityID(toString(record["targetId"])),
			Kind:       domain.EdgeKind(toString(record["kind"])),
			Strength:   toFloat(record["strength"]),
			Provenance: toString(record["provenance"]),
			Active:     true,
		})
	}
	return edges, nil
}

// SectorsOf walks one belongs-to-sector hop from a company entity. Sector
// taxonomy edges arrive pre-populated from the upstream classification feed.
func (g *Graph) SectorsOf(ctx context.Context, entityID domain.EntityID) ([]domain.EntityID, error) {
	params := map[string]any{
		"entityId": string(entityID),
		"kind":     string(domain.EdgeBelongsToSector),
	}
	res, err := g.client.ExecuteRead(ctx, sectorsOfCypher, params)
	if err != nil {
		return nil, fmt.Errorf("sectors of %s: %w", entityID, err)
	}

	sectors := make([]domain.EntityID, 0, len(res.Records))
	for _, record := range res.Records {
		sectors = append(sectors, domain.EntityID(toString(record["sectorId"])))
	}
	return sectors, nil
}

func validateEdge(edge domain.InfluenceEdge) error {
	if edge.ID == "" {
		return errors.New("edge id is required")
	}
	if edge.SourceID == "" || edge.TargetID == "" {
		return errors.New("edge source and target ids are required")
	}
	if edge.SourceID == edge.TargetID {
		return ErrSelfEdge
	}
	if edge.Strength <= 0 || edge.Strength > 1 {
		return ErrInvalidStrength
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func toFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case float32:
		return float64(val)
	case int64:
		return float64(val)
	case int:
		return float64(val)
	}
	return 0
}
