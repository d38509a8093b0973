package domain

import "time"

// Tier is the recommendation bucket derived from severity and confidence.
type Tier string

const (
	TierNone     Tier = "NONE"
	TierMonitor  Tier = "MONITOR"
	TierFlag     Tier = "FLAG"
	TierEscalate Tier = "ESCALATE"
)

// DetectionStatus tracks a detection through its lifecycle. Inactive records
// are kept for audit but never surface in default queries.
type DetectionStatus string

const (
	StatusActive     DetectionStatus = "ACTIVE"
	StatusInactive   DetectionStatus = "INACTIVE"
	StatusDismissed  DetectionStatus = "DISMISSED"
	StatusSuperseded DetectionStatus = "SUPERSEDED"
)

// Factor is one weighted contribution to a severity score, kept on the record
// so the number stays explainable.
type Factor struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Value  float64 `json:"value"`
}

// MatchSpecificity says how directly an interest overlaps the bill's impact.
type MatchSpecificity string

const (
	SpecificityDirect   MatchSpecificity = "DIRECT"
	SpecificitySector   MatchSpecificity = "SECTOR"
	SpecificityIndirect MatchSpecificity = "INDIRECT"
)

// ConflictDetection is the engine's primary output: a scored, explainable
// conflict finding for one (bill, sponsor, entity) triple. At most one record
// per triple is ACTIVE at any time; re-detection supersedes rather than
// mutates.
type ConflictDetection struct {
	ID        string   `json:"id"`
	BillID    string   `json:"billId"`
	SponsorID string   `json:"sponsorId"`
	EntityID  EntityID `json:"entityId"`

	Severity      float64          `json:"severity"`
	Confidence    float64          `json:"confidence"`
	Factors       []Factor         `json:"factors"`
	Tier          Tier             `json:"tier"`
	Specificity   MatchSpecificity `json:"specificity"`
	Justification string           `json:"justification"`

	Status     DetectionStatus `json:"status"`
	DetectedAt time.Time       `json:"detectedAt"`

	// Reproducibility markers: the config version the score was computed
	// under, the upstream input versions it saw, and a fingerprint over
	// both used for idempotence checks.
	ConfigVersion    string   `json:"configVersion"`
	BillVersion      string   `json:"billVersion"`
	InterestVersions []string `json:"interestVersions"`
	Fingerprint      string   `json:"fingerprint"`

	SupersedesID string `json:"supersedesId,omitempty"`

	DismissedBy     string `json:"dismissedBy,omitempty"`
	DismissalReason string `json:"dismissalReason,omitempty"`
}

// Actionable reports whether the detection cleared the severity floor. Records
// below the floor are still stored for audit.
func (d ConflictDetection) Actionable() bool {
	return d.Tier != TierNone
}
