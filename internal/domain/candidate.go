package domain

// Candidate is a (sponsor, entity, interest) tuple suspected of conflicting
// with a bill, produced by the matcher and consumed by the scorer.
type Candidate struct {
	SponsorID string
	EntityID  EntityID
	Interest  FinancialInterest

	Specificity MatchSpecificity

	// Path is set for indirect candidates found through the influence
	// network.
	Path Path

	// FuzzyEntity marks candidates whose entity was resolved by fuzzy
	// name match; confidence is discounted accordingly.
	FuzzyEntity bool
}
