package store

import (
	"context"
	"errors"

	"github.com/chanuka/conflict-engine/internal/domain"
)

var (
	// ErrActiveExists means a run tried to write a second ACTIVE detection
	// for a (bill, sponsor, entity) triple without superseding the first.
	// That indicates an orchestration bug, so the whole run is rejected.
	ErrActiveExists = errors.New("active detection already exists for triple")

	// ErrNotFound is returned for unknown detection ids.
	ErrNotFound = errors.New("detection not found")

	// ErrNotActive rejects dismissal of records that are not ACTIVE.
	ErrNotActive = errors.New("detection is not active")
)

// RunDelta is the atomic output of one detection job: entities minted during
// normalization, detections to insert, and prior actives they supersede.
// Stores commit the whole delta or none of it.
type RunDelta struct {
	BillID        string
	NewEntities   []domain.Entity
	Detections    []domain.ConflictDetection
	SupersededIDs []string
}

// Empty reports whether the delta would change nothing.
func (d RunDelta) Empty() bool {
	return len(d.NewEntities) == 0 && len(d.Detections) == 0 && len(d.SupersededIDs) == 0
}

// Store is the persistence port for conflict detections. The engine owns
// these records exclusively; everything else reads them through the external
// API layer.
type Store interface {
	// ByBill returns every detection for a bill, all statuses, ordered by
	// detected-at then id.
	ByBill(ctx context.Context, billID string) ([]domain.ConflictDetection, error)

	// Get returns a single detection.
	Get(ctx context.Context, id string) (domain.ConflictDetection, error)

	// CommitRun applies a job's delta atomically, enforcing the
	// one-active-per-triple invariant.
	CommitRun(ctx context.Context, delta RunDelta) error

	// Dismiss moves an ACTIVE detection to DISMISSED, recording who and
	// why. Dismissal is an audit event, never a deletion.
	Dismiss(ctx context.Context, id, reviewer, reason string) error
}
