package domain

import "time"

// EdgeKind labels the relationship an influence edge represents.
type EdgeKind string

const (
	EdgeOwns            EdgeKind = "OWNS"
	EdgeEmploys         EdgeKind = "EMPLOYS"
	EdgeDonatesTo       EdgeKind = "DONATES_TO"
	EdgeBoardMemberOf   EdgeKind = "BOARD_MEMBER_OF"
	EdgeSubsidiaryOf    EdgeKind = "SUBSIDIARY_OF"
	EdgeBelongsToSector EdgeKind = "BELONGS_TO_SECTOR"
)

// InfluenceEdge is a directed financial or institutional relationship between
// two entities. Edges are append-only; retraction flips Active off so the
// audit trail survives.
type InfluenceEdge struct {
	ID         string    `json:"id"`
	SourceID   EntityID  `json:"sourceId"`
	TargetID   EntityID  `json:"targetId"`
	Kind       EdgeKind  `json:"kind"`
	Strength   float64   `json:"strength"`
	Provenance string    `json:"provenance"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Path is a bounded walk through the influence network. Strength is the
// product of the traversed edge strengths.
type Path struct {
	Edges    []InfluenceEdge `json:"edges"`
	Strength float64         `json:"strength"`
}

// Hops returns the number of edges on the path.
func (p Path) Hops() int { return len(p.Edges) }

// Terminus returns the entity the path ends at, or "" for an empty path.
func (p Path) Terminus() EntityID {
	if len(p.Edges) == 0 {
		return ""
	}
	return p.Edges[len(p.Edges)-1].TargetID
}
