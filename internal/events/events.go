package events

import (
	"context"
	"sync"
	"time"

	"github.com/chanuka/conflict-engine/internal/domain"
)

// Event types emitted by the detection engine.
const (
	TypeConflictDetected    = "conflict.detected"
	TypeDetectionDismissed  = "conflict.dismissed"
	TypeDetectionSuperseded = "conflict.superseded"
)

// Event is the envelope published to the notification subsystem.
type Event struct {
	Type        string      `json:"type"`
	DetectionID string      `json:"detectionId"`
	BillID      string      `json:"billId"`
	SponsorID   string      `json:"sponsorId"`
	Tier        domain.Tier `json:"tier"`
	OccurredAt  time.Time   `json:"occurredAt"`
}

// Publisher delivers engine events to whatever bus the deployment uses.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close()
}

// Memory collects events in process. It is the default publisher for tests
// and local runs without a broker.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// NewMemory returns an empty in-process publisher.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Publish(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *Memory) Close() {}

// Events returns a snapshot of everything published so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}
