package detect

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chanuka/conflict-engine/internal/domain"
	"github.com/chanuka/conflict-engine/internal/events"
	"github.com/chanuka/conflict-engine/internal/repository"
	"github.com/chanuka/conflict-engine/internal/score"
	"github.com/chanuka/conflict-engine/internal/store"
)

type detectorFixture struct {
	detector   *Detector
	detections *store.Memory
	edges      *repository.Memory
	publisher  *events.Memory

	seq atomic.Int64
}

func newFixture(t *testing.T, cfg score.Config) *detectorFixture {
	t.Helper()

	f := &detectorFixture{
		detections: store.NewMemory(),
		edges:      repository.NewMemory(),
		publisher:  events.NewMemory(),
	}
	f.detector = newDetectorOn(f, cfg)
	return f
}

// newDetectorOn builds a detector over the fixture's stores, so tests can
// simulate a config rollout by constructing a second detector on the same
// backing state. The id sequence lives on the fixture so detections from
// different detectors never collide.
func newDetectorOn(f *detectorFixture, cfg score.Config) *Detector {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := New(cfg, f.detections, f.edges, f.publisher, nil, logger)
	d.WithClock(func() time.Time {
		return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	})
	d.WithIDFunc(func() string {
		return fmt.Sprintf("det-%04d", f.seq.Add(1))
	})
	return d
}

// directSnapshot is a bill whose primary sponsor holds a tier-5 ownership
// stake in the single affected entity, disclosed the year of introduction
// with full source confidence. It scores severity 100 and lands in ESCALATE.
func directSnapshot() Snapshot {
	return Snapshot{
		Bill: domain.Bill{
			ID:               "bill-1",
			Title:            "Telecommunications Levy Act",
			Version:          "v1",
			AffectedEntities: []domain.EntityRef{{ID: "ent-telco"}},
			SponsorIDs:       []string{"mp-1"},
			IntroducedDate:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		Sponsors: []domain.Sponsor{
			{ID: "mp-1", Name: "A. Wanjiku", Role: domain.RolePrimarySponsor},
		},
		Interests: []domain.FinancialInterest{
			{
				ID:               "int-1",
				SponsorID:        "mp-1",
				Entity:           domain.EntityRef{ID: "ent-telco"},
				Kind:             domain.InterestOwnership,
				Tier:             5,
				DisclosureYear:   2024,
				SourceConfidence: 1.0,
			},
		},
		Entities: []domain.Entity{
			{ID: "ent-telco", CanonicalName: "Sahara Telecom PLC", Type: domain.EntityCompany},
		},
	}
}

func TestDetectBillRequiresBillID(t *testing.T) {
	f := newFixture(t, score.Default())

	snap := directSnapshot()
	snap.Bill.ID = ""
	_, err := f.detector.DetectBill(context.Background(), snap)
	require.Error(t, err)
}

func TestDetectBillWritesActiveDetection(t *testing.T) {
	f := newFixture(t, score.Default())

	summary, err := f.detector.DetectBill(context.Background(), directSnapshot())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Candidates)
	require.Equal(t, 1, summary.Written)
	require.Zero(t, summary.Superseded)

	stored, err := f.detections.ByBill(context.Background(), "bill-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, domain.StatusActive, stored[0].Status)
	require.Equal(t, domain.TierEscalate, stored[0].Tier)
	require.Equal(t, domain.SpecificityDirect, stored[0].Specificity)
	require.Equal(t, "baseline-v1", stored[0].ConfigVersion)
	require.NotEmpty(t, stored[0].Fingerprint)

	published := f.publisher.Events()
	require.Len(t, published, 1)
	require.Equal(t, events.TypeConflictDetected, published[0].Type)
	require.Equal(t, stored[0].ID, published[0].DetectionID)
}

func TestDetectBillIdempotent(t *testing.T) {
	f := newFixture(t, score.Default())

	_, err := f.detector.DetectBill(context.Background(), directSnapshot())
	require.NoError(t, err)

	summary, err := f.detector.DetectBill(context.Background(), directSnapshot())
	require.NoError(t, err)
	require.Zero(t, summary.Written)
	require.Zero(t, summary.Superseded)
	require.Equal(t, 1, summary.Unchanged)

	stored, err := f.detections.ByBill(context.Background(), "bill-1")
	require.NoError(t, err)
	require.Len(t, stored, 1, "a no-op rerun must not write")

	require.Len(t, f.publisher.Events(), 1, "a no-op rerun must not re-announce")
}

func TestConfigChangeSupersedesPriorActive(t *testing.T) {
	f := newFixture(t, score.Default())

	_, err := f.detector.DetectBill(context.Background(), directSnapshot())
	require.NoError(t, err)

	retuned := score.Default()
	retuned.Version = "baseline-v2"
	rollout := newDetectorOn(f, retuned)

	summary, err := rollout.DetectBill(context.Background(), directSnapshot())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Written)
	require.Equal(t, 1, summary.Superseded)

	stored, err := f.detections.ByBill(context.Background(), "bill-1")
	require.NoError(t, err)
	require.Len(t, stored, 2)

	var active, superseded *domain.ConflictDetection
	for i := range stored {
		switch stored[i].Status {
		case domain.StatusActive:
			active = &stored[i]
		case domain.StatusSuperseded:
			superseded = &stored[i]
		}
	}
	require.NotNil(t, active)
	require.NotNil(t, superseded)
	require.Equal(t, "baseline-v2", active.ConfigVersion)
	require.Equal(t, "baseline-v1", superseded.ConfigVersion)
	require.Equal(t, superseded.ID, active.SupersedesID)

	published := f.publisher.Events()
	require.Len(t, published, 3)
	require.Equal(t, events.TypeDetectionSuperseded, published[2].Type)
	require.Equal(t, superseded.ID, published[2].DetectionID)
}

func TestBillRevisionSupersedesPriorActive(t *testing.T) {
	f := newFixture(t, score.Default())

	_, err := f.detector.DetectBill(context.Background(), directSnapshot())
	require.NoError(t, err)

	revised := directSnapshot()
	revised.Bill.Version = "v2"
	revised.Bill.IntroducedDate = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	summary, err := f.detector.DetectBill(context.Background(), revised)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Written)
	require.Equal(t, 1, summary.Superseded)
}

func TestDismissedDetectionNotResurrected(t *testing.T) {
	f := newFixture(t, score.Default())
	ctx := context.Background()

	_, err := f.detector.DetectBill(ctx, directSnapshot())
	require.NoError(t, err)

	stored, err := f.detections.ByBill(ctx, "bill-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)

	require.NoError(t, f.detector.Dismiss(ctx, stored[0].ID, "reviewer-9", "declared in committee"))

	dismissed, err := f.detections.Get(ctx, stored[0].ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusDismissed, dismissed.Status)

	published := f.publisher.Events()
	require.Len(t, published, 2)
	require.Equal(t, events.TypeDetectionDismissed, published[1].Type)
	require.Equal(t, stored[0].ID, published[1].DetectionID)

	// Same inputs again: the reviewer's call stands.
	summary, err := f.detector.DetectBill(ctx, directSnapshot())
	require.NoError(t, err)
	require.Zero(t, summary.Written)
	require.Equal(t, 1, summary.Unchanged)

	after, err := f.detections.ByBill(ctx, "bill-1")
	require.NoError(t, err)
	require.Len(t, after, 1)
	require.Equal(t, domain.StatusDismissed, after[0].Status)
}

func TestDismissedFingerprintAllowsChangedFinding(t *testing.T) {
	f := newFixture(t, score.Default())
	ctx := context.Background()

	_, err := f.detector.DetectBill(ctx, directSnapshot())
	require.NoError(t, err)

	stored, err := f.detections.ByBill(ctx, "bill-1")
	require.NoError(t, err)
	require.NoError(t, f.detector.Dismiss(ctx, stored[0].ID, "reviewer-9", "declared in committee"))

	// A revised bill changes the fingerprint, so the same triple becomes a
	// fresh finding that surfaces despite the earlier dismissal.
	revised := directSnapshot()
	revised.Bill.Version = "v2"

	summary, err := f.detector.DetectBill(ctx, revised)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Written)
	require.Zero(t, summary.Unchanged)

	after, err := f.detections.ByBill(ctx, "bill-1")
	require.NoError(t, err)
	require.Len(t, after, 2)
}

func TestStaleActiveSuperseded(t *testing.T) {
	f := newFixture(t, score.Default())
	ctx := context.Background()

	_, err := f.detector.DetectBill(ctx, directSnapshot())
	require.NoError(t, err)

	// The sponsor divests: the interest vanishes from the disclosure feed,
	// so the triple no longer produces a candidate.
	divested := directSnapshot()
	divested.Interests = nil

	summary, err := f.detector.DetectBill(ctx, divested)
	require.NoError(t, err)
	require.Zero(t, summary.Candidates)
	require.Zero(t, summary.Written)
	require.Equal(t, 1, summary.Superseded)

	stored, err := f.detections.ByBill(ctx, "bill-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, domain.StatusSuperseded, stored[0].Status)
}

func TestTierNoneRecordedInactive(t *testing.T) {
	cfg := score.Default()
	cfg.Thresholds.MonitorSeverity = 100.5
	cfg.Thresholds.FlagSeverity = 100.5
	cfg.Thresholds.EscalateSeverity = 100.5
	f := newFixture(t, cfg)

	summary, err := f.detector.DetectBill(context.Background(), directSnapshot())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Written)

	stored, err := f.detections.ByBill(context.Background(), "bill-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, domain.TierNone, stored[0].Tier)
	require.Equal(t, domain.StatusInactive, stored[0].Status)

	require.Empty(t, f.publisher.Events(), "below-floor findings are recorded, never announced")
}

func TestUnknownInterestKindSkippedWithWarning(t *testing.T) {
	f := newFixture(t, score.Default())

	snap := directSnapshot()
	snap.Interests[0].Kind = "LOTTERY_WINNINGS"

	summary, err := f.detector.DetectBill(context.Background(), snap)
	require.NoError(t, err)
	require.Zero(t, summary.Candidates)
	require.Len(t, summary.Warnings, 1)
	require.Contains(t, summary.Warnings[0], "int-1")
}

func TestCancelledRunLeavesNoState(t *testing.T) {
	f := newFixture(t, score.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.detector.DetectBill(ctx, directSnapshot())
	require.ErrorIs(t, err, context.Canceled)

	stored, err := f.detections.ByBill(context.Background(), "bill-1")
	require.NoError(t, err)
	require.Empty(t, stored)
	require.Empty(t, f.publisher.Events())
}

func TestMintedEntitiesMirroredIntoGraph(t *testing.T) {
	f := newFixture(t, score.Default())

	snap := directSnapshot()
	snap.Interests = append(snap.Interests, domain.FinancialInterest{
		ID:               "int-2",
		SponsorID:        "mp-1",
		Entity:           domain.EntityRef{Name: "Rift Valley Holdings Ltd"},
		Kind:             domain.InterestIncome,
		Tier:             2,
		DisclosureYear:   2023,
		SourceConfidence: 0.8,
	})

	_, err := f.detector.DetectBill(context.Background(), snap)
	require.NoError(t, err)

	entities := f.detections.Entities()
	require.Len(t, entities, 1)
	require.Equal(t, "Rift Valley Holdings Ltd", entities[0].CanonicalName)

	_, ok := f.edges.Entity(entities[0].ID)
	require.True(t, ok, "minted entities must be reachable for later traversals")
}

func TestRescanAllRunsEveryBill(t *testing.T) {
	f := newFixture(t, score.Default())

	first := directSnapshot()
	second := directSnapshot()
	second.Bill.ID = "bill-2"

	summaries, err := f.detector.RescanAll(context.Background(), []Snapshot{first, second}, 2)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	require.Equal(t, "bill-1", summaries[0].BillID)
	require.Equal(t, "bill-2", summaries[1].BillID)
	require.Equal(t, 1, summaries[0].Written)
	require.Equal(t, 1, summaries[1].Written)
}

func TestRescanKnownReplaysSeenSnapshots(t *testing.T) {
	f := newFixture(t, score.Default())
	ctx := context.Background()

	_, err := f.detector.DetectBill(ctx, directSnapshot())
	require.NoError(t, err)

	summaries, err := f.detector.RescanKnown(ctx, 2)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, "bill-1", summaries[0].BillID)
	require.Zero(t, summaries[0].Written, "nothing moved, so the sweep is a no-op")
	require.Equal(t, 1, summaries[0].Unchanged)
}

func TestRescanKnownPicksUpGraphDrift(t *testing.T) {
	f := newFixture(t, score.Default())
	ctx := context.Background()

	snap := directSnapshot()
	snap.Interests[0] = domain.FinancialInterest{
		ID:               "int-1",
		SponsorID:        "mp-1",
		Entity:           domain.EntityRef{ID: "ent-parent"},
		Kind:             domain.InterestIncome,
		Tier:             3,
		DisclosureYear:   2023,
		SourceConfidence: 0.9,
	}
	snap.Entities = append(snap.Entities, domain.Entity{
		ID: "ent-parent", CanonicalName: "Sahara Group Holdings", Type: domain.EntityCompany,
	})

	summary, err := f.detector.DetectBill(ctx, snap)
	require.NoError(t, err)
	require.Zero(t, summary.Written, "no edge links the holding to the affected entity yet")

	require.NoError(t, f.edges.AddEdge(ctx, domain.InfluenceEdge{
		ID:       "edge-own",
		SourceID: "ent-parent",
		TargetID: "ent-telco",
		Kind:     domain.EdgeOwns,
		Strength: 0.9,
		Active:   true,
	}))

	summaries, err := f.detector.RescanKnown(ctx, 1)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, 1, summaries[0].Written, "the new ownership edge creates an indirect finding")

	stored, err := f.detections.ByBill(ctx, "bill-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, domain.SpecificityIndirect, stored[0].Specificity)
}

func TestDetectBillNoOverlapWritesNothing(t *testing.T) {
	f := newFixture(t, score.Default())
	ctx := context.Background()

	// The sponsor's only interest sits in an entity the bill does not
	// touch, there is no shared sector, and no influence path exists.
	snap := directSnapshot()
	snap.Interests[0].Entity = domain.EntityRef{ID: "ent-agri"}
	snap.Entities = append(snap.Entities, domain.Entity{
		ID: "ent-agri", CanonicalName: "Highlands Agri Ltd", Type: domain.EntityCompany,
	})

	summary, err := f.detector.DetectBill(ctx, snap)
	require.NoError(t, err)
	require.Zero(t, summary.Candidates)
	require.Zero(t, summary.Written)
	require.Zero(t, summary.Superseded)

	stored, err := f.detections.ByBill(ctx, "bill-1")
	require.NoError(t, err)
	require.Empty(t, stored)
	require.Empty(t, f.publisher.Events())
}

func TestSnapshotRetentionBounded(t *testing.T) {
	f := newFixture(t, score.Default())
	f.detector.WithSnapshotLimit(2)
	ctx := context.Background()

	for _, billID := range []string{"bill-1", "bill-2"} {
		snap := directSnapshot()
		snap.Bill.ID = billID
		_, err := f.detector.DetectBill(ctx, snap)
		require.NoError(t, err)
	}

	// Re-detecting bill-1 refreshes its recency, so bill-2 is the one
	// evicted when bill-3 pushes the cache past the limit.
	refreshed := directSnapshot()
	refreshed.Bill.ID = "bill-1"
	_, err := f.detector.DetectBill(ctx, refreshed)
	require.NoError(t, err)

	third := directSnapshot()
	third.Bill.ID = "bill-3"
	_, err = f.detector.DetectBill(ctx, third)
	require.NoError(t, err)

	summaries, err := f.detector.RescanKnown(ctx, 1)
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	require.Equal(t, "bill-1", summaries[0].BillID)
	require.Equal(t, "bill-3", summaries[1].BillID)
}

func TestConcurrentSameBillRunsSerialize(t *testing.T) {
	f := newFixture(t, score.Default())

	snaps := make([]Snapshot, 8)
	for i := range snaps {
		snaps[i] = directSnapshot()
	}

	_, err := f.detector.RescanAll(context.Background(), snaps, 4)
	require.NoError(t, err)

	stored, err := f.detections.ByBill(context.Background(), "bill-1")
	require.NoError(t, err)
	require.Len(t, stored, 1, "identical concurrent runs must collapse to one detection")
}
