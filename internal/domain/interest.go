package domain

// InterestKind is a closed set of declared financial stake categories. The
// severity scorer matches on it exhaustively, so a new kind is a
// compile-visible change everywhere it matters.
type InterestKind string

const (
	InterestOwnership InterestKind = "OWNERSHIP"
	InterestIncome    InterestKind = "INCOME"
	InterestBoardSeat InterestKind = "BOARD_SEAT"
	InterestFamily    InterestKind = "FAMILY_INTEREST"
)

// Valid reports whether the kind is one of the known categories.
func (k InterestKind) Valid() bool {
	switch k {
	case InterestOwnership, InterestIncome, InterestBoardSeat, InterestFamily:
		return true
	}
	return false
}

// FinancialInterest is a sponsor's declared stake in an entity. Records are
// immutable; amendments create a new version that supersedes the old one.
type FinancialInterest struct {
	ID        string       `json:"id"`
	SponsorID string       `json:"sponsorId"`
	Entity    EntityRef    `json:"entity"`
	Kind      InterestKind `json:"kind"`

	// Amount is the exact disclosed value when known, zero otherwise.
	// Tier is the ordinal magnitude band (1..5) used when the exact value
	// is withheld.
	Amount float64 `json:"amount,omitempty"`
	Tier   int     `json:"tier,omitempty"`

	DisclosureYear   int     `json:"disclosureYear"`
	SourceConfidence float64 `json:"sourceConfidence"`
	SupersedesID     string  `json:"supersedesId,omitempty"`
}
