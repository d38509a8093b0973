package domain

import "time"

// EntityID is the stable identifier assigned to a canonical entity. Once
// assigned it never changes; duplicates are merged by adding aliases.
type EntityID string

// EntityType classifies the real-world actor behind an entity record.
type EntityType string

const (
	EntityPerson       EntityType = "PERSON"
	EntityCompany      EntityType = "COMPANY"
	EntitySector       EntityType = "SECTOR"
	EntityOrganization EntityType = "ORGANIZATION"
)

// Entity is the canonical identity for a person, company, sector, or
// organization referenced by disclosures and bills.
type Entity struct {
	ID            EntityID
	CanonicalName string
	Type          EntityType
	Aliases       []string
	CreatedAt     time.Time
}

// MatchKind records how a raw name was resolved to an entity.
type MatchKind string

const (
	MatchExact MatchKind = "EXACT"
	MatchAlias MatchKind = "ALIAS"
	MatchFuzzy MatchKind = "FUZZY"
	MatchNew   MatchKind = "NEW"
)

// EntityRef is how upstream projections reference an entity: by id when the
// producer already resolved it, otherwise by raw name.
type EntityRef struct {
	ID   EntityID `json:"id,omitempty"`
	Name string   `json:"name,omitempty"`
}
