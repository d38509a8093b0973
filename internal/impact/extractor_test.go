package impact

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chanuka/conflict-engine/internal/domain"
	"github.com/chanuka/conflict-engine/internal/normalize"
)

func newExtractor(entities ...domain.Entity) (*Extractor, *normalize.Normalizer) {
	n := normalize.New()
	n.Seed(entities)
	return New(n, slog.New(slog.NewTextHandler(io.Discard, nil))), n
}

func TestImpactedEntitiesResolvesAndDeduplicates(t *testing.T) {
	extractor, _ := newExtractor(
		domain.Entity{ID: "ent-telco", CanonicalName: "Savannah Telecom PLC", Type: domain.EntityCompany},
		domain.Entity{ID: "sec-energy", CanonicalName: "Energy", Type: domain.EntitySector},
	)

	im := extractor.ImpactedEntities(domain.Bill{
		ID: "bill-1",
		AffectedEntities: []domain.EntityRef{
			{ID: "ent-telco"},
			{Name: "Savannah Telecom PLC"}, // same entity by name
		},
		AffectedSectors: []domain.EntityRef{{ID: "sec-energy"}},
	})

	require.Equal(t, []domain.EntityID{"ent-telco"}, im.Entities)
	require.Equal(t, []domain.EntityID{"sec-energy"}, im.Sectors)
	require.True(t, im.AffectsEntity("ent-telco"))
	require.True(t, im.AffectsSector("sec-energy"))
	require.False(t, im.AffectsEntity("sec-energy"))
	require.False(t, im.LowConfidence)
	require.Zero(t, im.Skipped)
}

func TestImpactedEntitiesMarksFuzzyMatches(t *testing.T) {
	extractor, _ := newExtractor(
		domain.Entity{ID: "ent-telco", CanonicalName: "Savannah Telecom PLC", Type: domain.EntityCompany},
	)

	im := extractor.ImpactedEntities(domain.Bill{
		ID:               "bill-1",
		AffectedEntities: []domain.EntityRef{{Name: "Savannah Telecom PL"}},
	})

	require.Equal(t, []domain.EntityID{"ent-telco"}, im.Entities)
	require.True(t, im.FuzzyMatched["ent-telco"])
}

func TestImpactedEntitiesSkipsEmptyRefs(t *testing.T) {
	extractor, _ := newExtractor(
		domain.Entity{ID: "ent-telco", CanonicalName: "Savannah Telecom PLC", Type: domain.EntityCompany},
	)

	im := extractor.ImpactedEntities(domain.Bill{
		ID: "bill-1",
		AffectedEntities: []domain.EntityRef{
			{Name: "   "},
			{ID: "ent-telco"},
		},
	})

	require.Equal(t, 1, im.Skipped)
	require.Equal(t, []domain.EntityID{"ent-telco"}, im.Entities)
	require.False(t, im.LowConfidence)
}

func TestImpactedEntitiesLowConfidenceOnEmptyBill(t *testing.T) {
	extractor, _ := newExtractor()

	im := extractor.ImpactedEntities(domain.Bill{ID: "bill-1"})
	require.True(t, im.LowConfidence)
	require.Empty(t, im.Entities)
	require.Empty(t, im.Sectors)
}

func TestImpactedEntitiesMintsUnknownNames(t *testing.T) {
	extractor, n := newExtractor()

	im := extractor.ImpactedEntities(domain.Bill{
		ID:               "bill-1",
		AffectedEntities: []domain.EntityRef{{Name: "Rift Valley Pharma Limited"}},
	})

	require.Len(t, im.Entities, 1)
	created := n.Created()
	require.Len(t, created, 1)
	require.Equal(t, "Rift Valley Pharma Limited", created[0].CanonicalName)
	require.Equal(t, im.Entities[0], created[0].ID)
}
