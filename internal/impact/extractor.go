package impact

import (
	"errors"
	"log/slog"
	"sort"

	"github.com/chanuka/conflict-engine/internal/domain"
	"github.com/chanuka/conflict-engine/internal/normalize"
)

// Impact is the resolved set of entities and sectors a bill materially
// affects. FuzzyMatched marks ids that were resolved by fuzzy name match; the
// scorer discounts confidence for those.
type Impact struct {
	Entities     []domain.EntityID
	Sectors      []domain.EntityID
	FuzzyMatched map[domain.EntityID]bool

	// LowConfidence is set when the bill declares no affected entities or
	// sectors at all, so the orchestrator can ask for re-classification.
	LowConfidence bool

	// Skipped counts malformed references dropped during resolution.
	Skipped int
}

// AffectsEntity reports whether the entity is directly impacted.
func (im Impact) AffectsEntity(id domain.EntityID) bool {
	for _, e := range im.Entities {
		if e == id {
			return true
		}
	}
	return false
}

// AffectsSector reports whether the sector is impacted.
func (im Impact) AffectsSector(id domain.EntityID) bool {
	for _, s := range im.Sectors {
		if s == id {
			return true
		}
	}
	return false
}

// Extractor resolves a bill's declared affected entities and sectors into
// canonical ids. The declarations themselves come pre-structured from the
// upstream classification process.
type Extractor struct {
	normalizer *normalize.Normalizer
	logger     *slog.Logger
}

// New constructs an Extractor.
func New(normalizer *normalize.Normalizer, logger *slog.Logger) *Extractor {
	return &Extractor{normalizer: normalizer, logger: logger}
}

// ImpactedEntities resolves and deduplicates the bill's declared refs. A bill
// with zero declarations is not an error; the matcher will simply find no
// candidates.
func (e *Extractor) ImpactedEntities(bill domain.Bill) Impact {
	im := Impact{FuzzyMatched: make(map[domain.EntityID]bool)}

	im.Entities, im.Skipped = e.resolveRefs(bill.ID, bill.AffectedEntities, domain.EntityCompany, &im)
	sectors, skipped := e.resolveRefs(bill.ID, bill.AffectedSectors, domain.EntitySector, &im)
	im.Sectors = sectors
	im.Skipped += skipped

	if len(im.Entities) == 0 && len(im.Sectors) == 0 {
		im.LowConfidence = true
		e.logger.Warn("bill declares no affected entities or sectors",
			"billId", bill.ID,
		)
	}
	return im
}

func (e *Extractor) resolveRefs(billID string, refs []domain.EntityRef, hint domain.EntityType, im *Impact) ([]domain.EntityID, int) {
	seen := make(map[domain.EntityID]struct{}, len(refs))
	skipped := 0

	for _, ref := range refs {
		id := ref.ID
		if id == "" {
			res, err := e.normalizer.Normalize(ref.Name, hint)
			if err != nil {
				if errors.Is(err, normalize.ErrEmptyEntityName) {
					skipped++
					e.logger.Warn("skipping empty entity reference", "billId", billID)
					continue
				}
				skipped++
				e.logger.Warn("entity resolution failed", "billId", billID, "name", ref.Name, "error", err)
				continue
			}
			id = res.EntityID
			if res.Match == domain.MatchFuzzy {
				im.FuzzyMatched[id] = true
			}
		}
		seen[id] = struct{}{}
	}

	ids := make([]domain.EntityID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, skipped
}
