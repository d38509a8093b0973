package match

import (
	"context"
	"fmt"
	"sort"

	"github.com/chanuka/conflict-engine/internal/domain"
	"github.com/chanuka/conflict-engine/internal/impact"
	"github.com/chanuka/conflict-engine/internal/index"
	"github.com/chanuka/conflict-engine/internal/network"
)

// SectorSource resolves an entity's sector memberships, one taxonomy hop up.
type SectorSource interface {
	SectorsOf(ctx context.Context, entityID domain.EntityID) ([]domain.EntityID, error)
}

// Matcher intersects a bill's impact set against each sponsor's indexed
// interests, producing candidates for the scorer. Match order per sponsor:
// direct entity overlap, then sector-level overlap, and only when neither
// exists, bounded influence-network paths.
type Matcher struct {
	index   *index.Index
	sectors SectorSource
	network *network.Builder
	maxHops int
}

// New constructs a Matcher.
func New(ix *index.Index, sectors SectorSource, nw *network.Builder, maxHops int) *Matcher {
	if maxHops <= 0 {
		maxHops = network.DefaultMaxHops
	}
	return &Matcher{index: ix, sectors: sectors, network: nw, maxHops: maxHops}
}

// Candidates returns at most one candidate per (sponsor, entity) pair, kept
// at the highest specificity seen, ordered direct before sector before
// indirect and by interest magnitude within each class. The scorer relies on
// this ordering as its tie-break, so it must be reproducible.
func (m *Matcher) Candidates(ctx context.Context, bill domain.Bill, im impact.Impact, sponsors []domain.Sponsor) ([]domain.Candidate, error) {
	var out []domain.Candidate

	for _, sponsor := range sponsors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		interests := m.index.InterestsFor(sponsor.ID)
		if len(interests) == 0 {
			continue
		}

		found, err := m.sponsorCandidates(ctx, im, sponsor, interests)
		if err != nil {
			return nil, fmt.Errorf("match sponsor %s on bill %s: %w", sponsor.ID, bill.ID, err)
		}
		out = append(out, found...)
	}

	sortCandidates(out)
	return out, nil
}

func (m *Matcher) sponsorCandidates(ctx context.Context, im impact.Impact, sponsor domain.Sponsor, interests []domain.FinancialInterest) ([]domain.Candidate, error) {
	byEntity := make(map[domain.EntityID]domain.Candidate)

	for _, interest := range interests {
		entityID := interest.Entity.ID
		if entityID == "" {
			continue
		}

		switch {
		case im.AffectsEntity(entityID) || im.AffectsSector(entityID):
			// An interest held directly in an impacted entity, or in an
			// impacted sector itself.
			keepBest(byEntity, domain.Candidate{
				SponsorID:   sponsor.ID,
				EntityID:    entityID,
				Interest:    interest,
				Specificity: domain.SpecificityDirect,
				FuzzyEntity: im.FuzzyMatched[entityID],
			})
		default:
			sectors, err := m.sectors.SectorsOf(ctx, entityID)
			if err != nil {
				return nil, err
			}
			for _, sector := range sectors {
				if !im.AffectsSector(sector) {
					continue
				}
				keepBest(byEntity, domain.Candidate{
					SponsorID:   sponsor.ID,
					EntityID:    entityID,
					Interest:    interest,
					Specificity: domain.SpecificitySector,
					FuzzyEntity: im.FuzzyMatched[entityID] || im.FuzzyMatched[sector],
				})
				break
			}
		}
	}

	// Influence-network fallback: only when nothing matched directly or at
	// sector level does the sponsor's holdings graph get walked.
	if len(byEntity) == 0 {
		if err := m.indirectCandidates(ctx, im, sponsor, interests, byEntity); err != nil {
			return nil, err
		}
	}

	out := make([]domain.Candidate, 0, len(byEntity))
	for _, candidate := range byEntity {
		out = append(out, candidate)
	}
	return out, nil
}

func (m *Matcher) indirectCandidates(ctx context.Context, im impact.Impact, sponsor domain.Sponsor, interests []domain.FinancialInterest, byEntity map[domain.EntityID]domain.Candidate) error {
	if len(im.Entities) == 0 {
		return nil
	}

	for _, interest := range interests {
		if interest.Entity.ID == "" {
			continue
		}
		paths, err := m.network.PathsBetween(ctx, interest.Entity.ID, im.Entities, m.maxHops)
		if err != nil {
			return err
		}
		for _, path := range paths {
			terminus := path.Terminus()
			keepBest(byEntity, domain.Candidate{
				SponsorID:   sponsor.ID,
				EntityID:    terminus,
				Interest:    interest,
				Specificity: domain.SpecificityIndirect,
				Path:        path,
				FuzzyEntity: im.FuzzyMatched[terminus],
			})
		}
	}
	return nil
}

// keepBest collapses multiple candidates for the same (sponsor, entity) pair
// to the strongest one, preserving the at-most-one-active-detection invariant
// downstream.
func keepBest(byEntity map[domain.EntityID]domain.Candidate, candidate domain.Candidate) {
	existing, ok := byEntity[candidate.EntityID]
	if !ok || better(candidate, existing) {
		byEntity[candidate.EntityID] = candidate
	}
}

func better(a, b domain.Candidate) bool {
	ra, rb := specificityRank(a.Specificity), specificityRank(b.Specificity)
	if ra != rb {
		return ra < rb
	}
	if a.Interest.Tier != b.Interest.Tier {
		return a.Interest.Tier > b.Interest.Tier
	}
	if a.Interest.Amount != b.Interest.Amount {
		return a.Interest.Amount > b.Interest.Amount
	}
	if a.Path.Strength != b.Path.Strength {
		return a.Path.Strength > b.Path.Strength
	}
	return a.Interest.ID < b.Interest.ID
}

func specificityRank(s domain.MatchSpecificity) int {
	switch s {
	case domain.SpecificityDirect:
		return 0
	case domain.SpecificitySector:
		return 1
	default:
		return 2
	}
}

func sortCandidates(candidates []domain.Candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		ra, rb := specificityRank(a.Specificity), specificityRank(b.Specificity)
		if ra != rb {
			return ra < rb
		}
		if a.Interest.Tier != b.Interest.Tier {
			return a.Interest.Tier > b.Interest.Tier
		}
		if a.Interest.Amount != b.Interest.Amount {
			return a.Interest.Amount > b.Interest.Amount
		}
		if a.SponsorID != b.SponsorID {
			return a.SponsorID < b.SponsorID
		}
		return a.EntityID < b.EntityID
	})
}
