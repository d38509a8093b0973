package index

import (
	"sort"

	"github.com/chanuka/conflict-engine/internal/domain"
)

// SponsorInterest pairs a sponsor with one of their interests, for lookups in
// the entity direction.
type SponsorInterest struct {
	SponsorID string
	Interest  domain.FinancialInterest
}

// Index keeps a sponsor's declared interests queryable in both directions:
// by sponsor and by referenced entity. Superseded versions are tracked so
// reads only ever return the latest version of each interest. The conflict
// matcher depends on both directions; without the index every bill would scan
// every interest on the platform.
type Index struct {
	bySponsor  map[string][]string
	byEntity   map[domain.EntityID][]string
	interests  map[string]domain.FinancialInterest
	superseded map[string]bool
}

// New returns an empty index.
func New() *Index {
	return &Index{
		bySponsor:  make(map[string][]string),
		byEntity:   make(map[domain.EntityID][]string),
		interests:  make(map[string]domain.FinancialInterest),
		superseded: make(map[string]bool),
	}
}

// Insert adds one interest version, keeping both inverted indexes consistent.
// If the record supersedes an earlier version, that version stops appearing
// in query results but is never removed.
func (ix *Index) Insert(interest domain.FinancialInterest) {
	if interest.ID == "" || interest.SponsorID == "" {
		return
	}
	if _, exists := ix.interests[interest.ID]; exists {
		return
	}

	ix.interests[interest.ID] = interest
	ix.bySponsor[interest.SponsorID] = append(ix.bySponsor[interest.SponsorID], interest.ID)
	if interest.Entity.ID != "" {
		ix.byEntity[interest.Entity.ID] = append(ix.byEntity[interest.Entity.ID], interest.ID)
	}
	if interest.SupersedesID != "" {
		ix.superseded[interest.SupersedesID] = true
	}
}

// InterestsFor returns the sponsor's latest interest versions, ordered by
// magnitude tier descending and then by id for stability.
func (ix *Index) InterestsFor(sponsorID string) []domain.FinancialInterest {
	var out []domain.FinancialInterest
	for _, id := range ix.bySponsor[sponsorID] {
		if ix.superseded[id] {
			continue
		}
		out = append(out, ix.interests[id])
	}
	sortInterests(out)
	return out
}

// SponsorsInterestedIn returns every (sponsor, interest) pair whose latest
// interest version references the entity.
func (ix *Index) SponsorsInterestedIn(entityID domain.EntityID) []SponsorInterest {
	var out []SponsorInterest
	for _, id := range ix.byEntity[entityID] {
		if ix.superseded[id] {
			continue
		}
		interest := ix.interests[id]
		out = append(out, SponsorInterest{SponsorID: interest.SponsorID, Interest: interest})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SponsorID != out[j].SponsorID {
			return out[i].SponsorID < out[j].SponsorID
		}
		return out[i].Interest.ID < out[j].Interest.ID
	})
	return out
}

// MaxDisclosedAmount returns the largest exact amount across all latest
// interest versions. The scorer log-scales exact magnitudes against it.
func (ix *Index) MaxDisclosedAmount() float64 {
	var max float64
	for id, interest := range ix.interests {
		if ix.superseded[id] {
			continue
		}
		if interest.Amount > max {
			max = interest.Amount
		}
	}
	return max
}

func sortInterests(interests []domain.FinancialInterest) {
	sort.Slice(interests, func(i, j int) bool {
		if interests[i].Tier != interests[j].Tier {
			return interests[i].Tier > interests[j].Tier
		}
		if interests[i].Amount != interests[j].Amount {
			return interests[i].Amount > interests[j].Amount
		}
		return interests[i].ID < interests[j].ID
	})
}
