package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/chanuka/conflict-engine/internal/domain"
)

type tripleKey struct {
	billID    string
	sponsorID string
	entityID  domain.EntityID
}

// Memory is a mutex-guarded in-memory Store used by tests and graphless local
// runs. It enforces the same invariants the Postgres store does.
type Memory struct {
	mu         sync.RWMutex
	detections map[string]domain.ConflictDetection
	byBill     map[string][]string
	active     map[tripleKey]string
	entities   []domain.Entity
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		detections: make(map[string]domain.ConflictDetection),
		byBill:     make(map[string][]string),
		active:     make(map[tripleKey]string),
	}
}

func (m *Memory) ByBill(_ context.Context, billID string) ([]domain.ConflictDetection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byBill[billID]
	out := make([]domain.ConflictDetection, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.detections[id])
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.Before(out[j].DetectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) Get(_ context.Context, id string) (domain.ConflictDetection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	detection, ok := m.detections[id]
	if !ok {
		return domain.ConflictDetection{}, ErrNotFound
	}
	return detection, nil
}

func (m *Memory) CommitRun(_ context.Context, delta RunDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	superseding := make(map[string]bool, len(delta.SupersededIDs))
	for _, id := range delta.SupersededIDs {
		detection, ok := m.detections[id]
		if !ok {
			return fmt.Errorf("supersede %s: %w", id, ErrNotFound)
		}
		if detection.Status != domain.StatusActive {
			return fmt.Errorf("supersede %s: %w", id, ErrNotActive)
		}
		superseding[id] = true
	}

	// Validate the uniqueness invariant before mutating anything so the
	// commit stays all-or-nothing. Duplicates inside the delta itself
	// violate it just as stored actives do.
	inDelta := make(map[tripleKey]bool)
	for _, detection := range delta.Detections {
		if detection.Status != domain.StatusActive {
			continue
		}
		key := tripleKey{detection.BillID, detection.SponsorID, detection.EntityID}
		if inDelta[key] {
			return fmt.Errorf("triple (%s, %s, %s): %w", key.billID, key.sponsorID, key.entityID, ErrActiveExists)
		}
		inDelta[key] = true
		if existing, ok := m.active[key]; ok && !superseding[existing] {
			return fmt.Errorf("triple (%s, %s, %s): %w", key.billID, key.sponsorID, key.entityID, ErrActiveExists)
		}
	}

	for _, id := range delta.SupersededIDs {
		detection := m.detections[id]
		detection.Status = domain.StatusSuperseded
		m.detections[id] = detection
		delete(m.active, tripleKey{detection.BillID, detection.SponsorID, detection.EntityID})
	}

	for _, detection := range delta.Detections {
		m.detections[detection.ID] = detection
		m.byBill[detection.BillID] = append(m.byBill[detection.BillID], detection.ID)
		if detection.Status == domain.StatusActive {
			m.active[tripleKey{detection.BillID, detection.SponsorID, detection.EntityID}] = detection.ID
		}
	}

	m.entities = append(m.entities, delta.NewEntities...)
	return nil
}

func (m *Memory) Dismiss(_ context.Context, id, reviewer, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	detection, ok := m.detections[id]
	if !ok {
		return ErrNotFound
	}
	if detection.Status != domain.StatusActive {
		return ErrNotActive
	}

	detection.Status = domain.StatusDismissed
	detection.DismissedBy = reviewer
	detection.DismissalReason = reason
	m.detections[id] = detection
	delete(m.active, tripleKey{detection.BillID, detection.SponsorID, detection.EntityID})
	return nil
}

// Entities returns entities persisted through run deltas, for test
// assertions.
func (m *Memory) Entities() []domain.Entity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Entity(nil), m.entities...)
}
