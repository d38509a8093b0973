package generator

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/chanuka/conflict-engine/internal/domain"
)

// Dataset contains the generated entities, sponsors, bills, disclosures, and
// influence edges.
type Dataset struct {
	Entities  []domain.Entity            `json:"entities"`
	Sponsors  []domain.Sponsor           `json:"sponsors"`
	Bills     []domain.Bill              `json:"bills"`
	Interests []domain.FinancialInterest `json:"interests"`
	Edges     []domain.InfluenceEdge     `json:"edges"`
}

// Generator produces synthetic legislative data aligned with the detection
// engine schema. A fraction of bills is generated with a planted conflict so
// detection runs over the output always find something.
type Generator struct {
	cfg       Config
	rand      *rand.Rand
	fragments nameFragments
}

// New returns a configured Generator instance.
func New(cfg Config) *Generator {
	defaults := DefaultConfig()
	if cfg.NumEntities <= 0 {
		cfg.NumEntities = defaults.NumEntities
	}
	if cfg.NumSponsors <= 0 {
		cfg.NumSponsors = defaults.NumSponsors
	}
	if cfg.NumBills <= 0 {
		cfg.NumBills = defaults.NumBills
	}
	if cfg.MaxInterests <= 0 {
		cfg.MaxInterests = defaults.MaxInterests
	}
	if cfg.ConflictChance <= 0 {
		cfg.ConflictChance = defaults.ConflictChance
	}
	if cfg.AliasChance <= 0 {
		cfg.AliasChance = defaults.AliasChance
	}
	if cfg.FamilyChance <= 0 {
		cfg.FamilyChance = defaults.FamilyChance
	}
	if cfg.EdgesPerEntity <= 0 {
		cfg.EdgesPerEntity = defaults.EdgesPerEntity
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	return &Generator{
		cfg:       cfg,
		rand:      rand.New(rand.NewSource(cfg.Seed)),
		fragments: defaultNameFragments(),
	}
}

// Generate synthesises the dataset. It respects context cancellation.
func (g *Generator) Generate(ctx context.Context) (Dataset, error) {
	now := time.Now().UTC()

	sectors := g.generateSectors(now)
	entities := g.generateEntities(now, len(sectors))
	all := append(append([]domain.Entity(nil), sectors...), entities...)

	sponsors := g.generateSponsors()
	interests := make([]domain.FinancialInterest, 0, len(sponsors)*g.cfg.MaxInterests)
	bySponsor := make(map[string][]domain.FinancialInterest, len(sponsors))

	for i := range sponsors {
		if err := ctx.Err(); err != nil {
			return Dataset{}, err
		}
		count := 1 + g.rand.Intn(g.cfg.MaxInterests)
		for j := 0; j < count; j++ {
			interest := g.generateInterest(sponsors[i].ID, len(interests)+1, entities)
			sponsors[i].InterestIDs = append(sponsors[i].InterestIDs, interest.ID)
			interests = append(interests, interest)
			bySponsor[sponsors[i].ID] = append(bySponsor[sponsors[i].ID], interest)
		}
	}

	edges := g.generateEdges(now, entities, sectors)

	bills := make([]domain.Bill, 0, g.cfg.NumBills)
	for i := 0; i < g.cfg.NumBills; i++ {
		if err := ctx.Err(); err != nil {
			return Dataset{}, err
		}
		bills = append(bills, g.generateBill(i+1, now, entities, sectors, sponsors, bySponsor))
	}

	return Dataset{
		Entities:  all,
		Sponsors:  sponsors,
		Bills:     bills,
		Interests: interests,
		Edges:     edges,
	}, nil
}

func (g *Generator) generateSectors(now time.Time) []domain.Entity {
	sectors := make([]domain.Entity, len(g.fragments.sectors))
	for i, name := range g.fragments.sectors {
		sectors[i] = domain.Entity{
			ID:            domain.EntityID(fmt.Sprintf("SEC-%03d", i+1)),
			CanonicalName: name,
			Type:          domain.EntitySector,
			CreatedAt:     now,
		}
	}
	return sectors
}

func (g *Generator) generateEntities(now time.Time, sectorCount int) []domain.Entity {
	entities := make([]domain.Entity, g.cfg.NumEntities)
	for i := 0; i < g.cfg.NumEntities; i++ {
		name := g.randomCompanyName()
		entity := domain.Entity{
			ID:            domain.EntityID(fmt.Sprintf("ENT-%05d", i+1)),
			CanonicalName: name,
			Type:          domain.EntityCompany,
			CreatedAt:     now,
		}
		if g.rand.Float64() < g.cfg.AliasChance {
			entity.Aliases = []string{g.aliasFor(name)}
		}
		entities[i] = entity
	}
	return entities
}

func (g *Generator) generateSponsors() []domain.Sponsor {
	roles := []domain.SponsorRole{
		domain.RolePrimarySponsor,
		domain.RoleCoSponsor,
		domain.RoleCommitteeMember,
		domain.RoleVotingMember,
	}

	sponsors := make([]domain.Sponsor, g.cfg.NumSponsors)
	for i := 0; i < g.cfg.NumSponsors; i++ {
		sponsors[i] = domain.Sponsor{
			ID:   fmt.Sprintf("MP-%04d", i+1),
			Name: g.randomPersonName(),
			Role: roles[g.rand.Intn(len(roles))],
		}
	}
	return sponsors
}

func (g *Generator) generateInterest(sponsorID string, seq int, entities []domain.Entity) domain.FinancialInterest {
	kinds := []domain.InterestKind{
		domain.InterestOwnership,
		domain.InterestIncome,
		domain.InterestBoardSeat,
	}
	kind := kinds[g.rand.Intn(len(kinds))]
	if g.rand.Float64() < g.cfg.FamilyChance {
		kind = domain.InterestFamily
	}

	entity := entities[g.rand.Intn(len(entities))]
	ref := domain.EntityRef{ID: entity.ID}
	// Some disclosures arrive as raw names so detection runs exercise the
	// normalizer, including through aliases.
	if g.rand.Float64() < 0.3 {
		name := entity.CanonicalName
		if len(entity.Aliases) > 0 && g.rand.Float64() < 0.5 {
			name = entity.Aliases[0]
		}
		ref = domain.EntityRef{Name: name}
	}

	interest := domain.FinancialInterest{
		ID:               fmt.Sprintf("INT-%06d", seq),
		SponsorID:        sponsorID,
		Entity:           ref,
		Kind:             kind,
		DisclosureYear:   2020 + g.rand.Intn(5),
		SourceConfidence: 0.6 + g.rand.Float64()*0.4,
	}
	if g.rand.Float64() < 0.6 {
		interest.Amount = float64(g.rand.Intn(5_000_000)) + 10_000
	} else {
		interest.Tier = 1 + g.rand.Intn(5)
	}
	return interest
}

func (g *Generator) generateEdges(now time.Time, entities, sectors []domain.Entity) []domain.InfluenceEdge {
	kinds := []domain.EdgeKind{
		domain.EdgeOwns,
		domain.EdgeDonatesTo,
		domain.EdgeSubsidiaryOf,
		domain.EdgeBoardMemberOf,
	}

	edges := make([]domain.InfluenceEdge, 0, len(entities)*(g.cfg.EdgesPerEntity+1))
	seq := 0
	for i, entity := range entities {
		// Each company belongs to a sector.
		seq++
		edges = append(edges, domain.InfluenceEdge{
			ID:        fmt.Sprintf("EDGE-%06d", seq),
			SourceID:  entity.ID,
			TargetID:  sectors[i%len(sectors)].ID,
			Kind:      domain.EdgeBelongsToSector,
			Strength:  1.0,
			Active:    true,
			CreatedAt: now,
		})

		for j := 0; j < g.cfg.EdgesPerEntity; j++ {
			target := entities[g.rand.Intn(len(entities))]
			if target.ID == entity.ID {
				continue
			}
			seq++
			edges = append(edges, domain.InfluenceEdge{
				ID:         fmt.Sprintf("EDGE-%06d", seq),
				SourceID:   entity.ID,
				TargetID:   target.ID,
				Kind:       kinds[g.rand.Intn(len(kinds))],
				Strength:   0.2 + g.rand.Float64()*0.8,
				Provenance: "synthetic",
				Active:     true,
				CreatedAt:  now,
			})
		}
	}
	return edges
}

func (g *Generator) generateBill(seq int, now time.Time, entities, sectors []domain.Entity, sponsors []domain.Sponsor, bySponsor map[string][]domain.FinancialInterest) domain.Bill {
	sponsorCount := 1 + g.rand.Intn(3)
	sponsorIDs := make([]string, 0, sponsorCount)
	seen := make(map[string]bool, sponsorCount)
	for len(sponsorIDs) < sponsorCount {
		sponsor := sponsors[g.rand.Intn(len(sponsors))]
		if seen[sponsor.ID] {
			continue
		}
		seen[sponsor.ID] = true
		sponsorIDs = append(sponsorIDs, sponsor.ID)
	}

	affected := make([]domain.EntityRef, 0, 3)
	for i := 0; i < 1+g.rand.Intn(3); i++ {
		affected = append(affected, domain.EntityRef{ID: entities[g.rand.Intn(len(entities))].ID})
	}

	// Plant a conflict: point one affected entity at a declared interest of
	// a sponsor on this bill.
	if g.rand.Float64() < g.cfg.ConflictChance {
		declared := bySponsor[sponsorIDs[0]]
		if len(declared) > 0 {
			interest := declared[g.rand.Intn(len(declared))]
			if interest.Entity.ID != "" {
				affected[0] = domain.EntityRef{ID: interest.Entity.ID}
			} else {
				affected[0] = domain.EntityRef{Name: interest.Entity.Name}
			}
		}
	}

	var affectedSectors []domain.EntityRef
	if g.rand.Float64() < 0.4 {
		affectedSectors = append(affectedSectors, domain.EntityRef{ID: sectors[g.rand.Intn(len(sectors))].ID})
	}

	return domain.Bill{
		ID:               fmt.Sprintf("BILL-%05d", seq),
		Title:            g.randomBillTitle(),
		Version:          "v1",
		AffectedEntities: affected,
		AffectedSectors:  affectedSectors,
		SponsorIDs:       sponsorIDs,
		IntroducedDate:   now.AddDate(0, -g.rand.Intn(18), 0),
	}
}

func (g *Generator) randomPersonName() string {
	return fmt.Sprintf("%s %s", g.fragments.first[g.rand.Intn(len(g.fragments.first))],
		g.fragments.last[g.rand.Intn(len(g.fragments.last))])
}

func (g *Generator) randomCompanyName() string {
	return fmt.Sprintf("%s %s %s", g.fragments.companyRoots[g.rand.Intn(len(g.fragments.companyRoots))],
		g.fragments.companyKinds[g.rand.Intn(len(g.fragments.companyKinds))],
		g.fragments.companySuffix[g.rand.Intn(len(g.fragments.companySuffix))])
}

// aliasFor derives a plausible alternate rendering of a company name, the
// sort that shows up in hand-keyed disclosure filings.
func (g *Generator) aliasFor(name string) string {
	switch g.rand.Intn(3) {
	case 0:
		return name + " Ltd"
	case 1:
		return "The " + name
	default:
		return name + " Group"
	}
}

func (g *Generator) randomBillTitle() string {
	return fmt.Sprintf("%s %s Bill",
		g.fragments.billSubjects[g.rand.Intn(len(g.fragments.billSubjects))],
		g.fragments.billActions[g.rand.Intn(len(g.fragments.billActions))])
}

type nameFragments struct {
	first         []string
	last          []string
	companyRoots  []string
	companyKinds  []string
	companySuffix []string
	sectors       []string
	billSubjects  []string
	billActions   []string
}

func defaultNameFragments() nameFragments {
	return nameFragments{
		first:         []string{"Amina", "James", "Grace", "Daniel", "Wanjiru", "Peter", "Fatuma", "Samuel", "Esther", "Kipchoge", "Njeri", "Otieno"},
		last:          []string{"Mwangi", "Ochieng", "Kamau", "Wafula", "Njoroge", "Auma", "Kiprotich", "Mutua", "Wekesa", "Chebet"},
		companyRoots:  []string{"Savannah", "Rift Valley", "Highland", "Coastal", "Equator", "Nairobi", "Mombasa", "Lakeside", "Baobab", "Acacia"},
		companyKinds:  []string{"Agro", "Telecom", "Energy", "Logistics", "Capital", "Construction", "Mining", "Pharma", "Media", "Transit"},
		companySuffix: []string{"PLC", "Holdings", "Limited", "Ventures", "Industries"},
		sectors:       []string{"Agriculture", "Telecommunications", "Energy", "Transport", "Finance", "Construction", "Mining", "Healthcare", "Media"},
		billSubjects:  []string{"Agriculture", "Telecommunications", "Energy", "Transport", "Finance", "Land Use", "Mining", "Public Health", "Broadcasting"},
		billActions:   []string{"Levy", "Licensing", "Regulation", "Subsidy", "Procurement Reform", "Taxation Amendment"},
	}
}
