package score

import (
	"fmt"
	"math"
	"time"

	"github.com/chanuka/conflict-engine/internal/domain"
)

// Factor names as stored on detection records.
const (
	FactorMagnitude   = "magnitude"
	FactorRole        = "role"
	FactorSpecificity = "match_specificity"
	FactorRecency     = "recency"
)

// Recency decays linearly from 1.0 to the floor over the decay window.
const (
	recencyFloor      = 0.3
	recencyDecayYears = 5
)

// BillContext carries the per-bill inputs a score depends on. Recency is
// computed against the bill's introduction date, never the wall clock, so
// historical re-computation is stable.
type BillContext struct {
	IntroducedDate time.Time
	SponsorRole    domain.SponsorRole

	// MaxDisclosedAmount is the disclosure-wide maximum exact amount in
	// the job snapshot, used to log-scale exact magnitudes.
	MaxDisclosedAmount float64
}

// Result is a scored candidate.
type Result struct {
	Severity   float64
	Confidence float64
	Factors    []domain.Factor
}

// Scorer turns candidates into severity and confidence numbers. It is pure:
// identical inputs produce byte-identical output, with no randomness and no
// clock reads.
type Scorer struct {
	cfg Config
}

// New constructs a Scorer around an explicit config value.
func New(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score computes the weighted severity and the independent confidence for one
// candidate. Unknown interest kinds are an input error: the record is skipped
// by the caller, never silently scored.
func (s *Scorer) Score(candidate domain.Candidate, bill BillContext) (Result, error) {
	if !candidate.Interest.Kind.Valid() {
		return Result{}, fmt.Errorf("unknown interest kind %q on interest %s", candidate.Interest.Kind, candidate.Interest.ID)
	}

	w := s.cfg.Weights
	factors := []domain.Factor{
		{Name: FactorMagnitude, Weight: w.Magnitude, Value: magnitudeFactor(candidate.Interest, bill.MaxDisclosedAmount)},
		{Name: FactorRole, Weight: w.Role, Value: roleFactor(bill.SponsorRole)},
		{Name: FactorSpecificity, Weight: w.Specificity, Value: specificityFactor(candidate)},
		{Name: FactorRecency, Weight: w.Recency, Value: recencyFactor(candidate.Interest.DisclosureYear, bill.IntroducedDate)},
	}

	var weighted, totalWeight float64
	for _, f := range factors {
		weighted += f.Weight * f.Value
		totalWeight += f.Weight
	}

	severity := 100 * weighted / totalWeight
	confidence, err := s.confidence(candidate)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Severity:   round2(severity),
		Confidence: round4(confidence),
		Factors:    factors,
	}, nil
}

// confidence is the product of the interest's source confidence and the
// match-quality discounts. The interest kind switch is exhaustive on purpose:
// a new kind must be handled here before it compiles into production paths.
func (s *Scorer) confidence(candidate domain.Candidate) (float64, error) {
	confidence := clamp01(candidate.Interest.SourceConfidence)

	switch candidate.Specificity {
	case domain.SpecificityDirect:
		confidence *= 0.9
	case domain.SpecificitySector:
		confidence *= 0.6
	case domain.SpecificityIndirect:
		confidence *= 0.6
		// Each hop beyond the first halves confidence again.
		for hop := 1; hop < candidate.Path.Hops(); hop++ {
			confidence *= 0.5
		}
	default:
		return 0, fmt.Errorf("unknown match specificity %q", candidate.Specificity)
	}

	if candidate.FuzzyEntity {
		confidence *= s.cfg.FuzzyMatchDiscount
	}

	switch candidate.Interest.Kind {
	case domain.InterestOwnership, domain.InterestIncome, domain.InterestBoardSeat:
		// No kind-level discount.
	case domain.InterestFamily:
		confidence *= s.cfg.FamilyInterestPenalty
	default:
		return 0, fmt.Errorf("unknown interest kind %q", candidate.Interest.Kind)
	}

	return clamp01(confidence), nil
}

// magnitudeFactor normalizes interest size into [0, 1]. Exact amounts are
// log-scaled against the disclosure-wide maximum; withheld values fall back
// to the ordinal tier bands.
func magnitudeFactor(interest domain.FinancialInterest, maxAmount float64) float64 {
	if interest.Amount > 0 && maxAmount > 0 {
		factor := math.Log10(1+interest.Amount) / math.Log10(1+maxAmount)
		return clamp01(factor)
	}

	switch {
	case interest.Tier >= 5:
		return 1.0
	case interest.Tier == 4:
		return 0.8
	case interest.Tier == 3:
		return 0.6
	case interest.Tier == 2:
		return 0.4
	default:
		return 0.2
	}
}

func roleFactor(role domain.SponsorRole) float64 {
	switch role {
	case domain.RolePrimarySponsor:
		return 1.0
	case domain.RoleCoSponsor:
		return 0.6
	case domain.RoleCommitteeMember:
		return 0.4
	default:
		return 0.1
	}
}

func specificityFactor(candidate domain.Candidate) float64 {
	switch candidate.Specificity {
	case domain.SpecificityDirect:
		return 1.0
	case domain.SpecificitySector:
		return 0.5
	case domain.SpecificityIndirect:
		// Weaker than a sector match, scaled by how much the path decays.
		return clamp01(0.5 * candidate.Path.Strength)
	}
	return 0
}

func recencyFactor(disclosureYear int, introduced time.Time) float64 {
	if disclosureYear <= 0 || introduced.IsZero() {
		return recencyFloor
	}
	age := float64(introduced.Year() - disclosureYear)
	if age < 0 {
		age = 0
	}
	factor := 1.0 - age*(1.0-recencyFloor)/recencyDecayYears
	if factor < recencyFloor {
		return recencyFloor
	}
	return factor
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
