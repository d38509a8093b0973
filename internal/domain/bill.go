package domain

import "time"

// SponsorRole captures a sponsor's relation to a specific bill.
type SponsorRole string

const (
	RolePrimarySponsor  SponsorRole = "PRIMARY_SPONSOR"
	RoleCoSponsor       SponsorRole = "CO_SPONSOR"
	RoleCommitteeMember SponsorRole = "COMMITTEE_MEMBER"
	RoleVotingMember    SponsorRole = "VOTING_MEMBER"
)

// Bill is the read-only projection of a bill consumed by the detection
// engine. The bills subsystem owns the full record; this engine never writes
// to it. Version identifies the snapshot the projection was taken from so
// detections stay reproducible after upstream edits.
type Bill struct {
	ID               string      `json:"id"`
	Title            string      `json:"title"`
	Version          string      `json:"version"`
	AffectedEntities []EntityRef `json:"affectedEntities"`
	AffectedSectors  []EntityRef `json:"affectedSectors"`
	SponsorIDs       []string    `json:"sponsorIds"`
	IntroducedDate   time.Time   `json:"introducedDate"`
}

// Sponsor is the read-only projection of a legislator consumed by the engine.
type Sponsor struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Role        SponsorRole `json:"role"`
	InterestIDs []string    `json:"financialInterestIds"`
}
