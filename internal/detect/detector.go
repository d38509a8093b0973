package detect

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/chanuka/conflict-engine/internal/domain"
	"github.com/chanuka/conflict-engine/internal/events"
	"github.com/chanuka/conflict-engine/internal/impact"
	"github.com/chanuka/conflict-engine/internal/index"
	"github.com/chanuka/conflict-engine/internal/match"
	"github.com/chanuka/conflict-engine/internal/metrics"
	"github.com/chanuka/conflict-engine/internal/network"
	"github.com/chanuka/conflict-engine/internal/normalize"
	"github.com/chanuka/conflict-engine/internal/recommend"
	"github.com/chanuka/conflict-engine/internal/repository"
	"github.com/chanuka/conflict-engine/internal/score"
	"github.com/chanuka/conflict-engine/internal/store"
)

// Snapshot is a job's immutable view of the world, acquired before the
// pipeline starts. Nothing in a job reads upstream data after this point, so
// concurrent upstream edits cannot tear a run.
type Snapshot struct {
	Bill      domain.Bill
	Sponsors  []domain.Sponsor
	Interests []domain.FinancialInterest

	// Entities are the canonical entities already known to the platform.
	Entities []domain.Entity
}

// Summary reports what one detection job did.
type Summary struct {
	BillID        string   `json:"billId"`
	Candidates    int      `json:"candidates"`
	Written       int      `json:"written"`
	Superseded    int      `json:"superseded"`
	Unchanged     int      `json:"unchanged"`
	LowConfidence bool     `json:"lowConfidenceImpact"`
	Warnings      []string `json:"warnings,omitempty"`
}

// Detector coordinates the detection pipeline per bill: normalize, index,
// extract impact, match, score, recommend, and commit one atomic delta. Jobs
// for different bills run in parallel; jobs for the same bill serialize on a
// per-bill lock.
type Detector struct {
	cfg       score.Config
	store     store.Store
	edges     repository.Store
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger

	// locks holds one mutex per bill id for the process lifetime; a mutex
	// is a few words, so the map stays small even across many bills. The
	// snapshot cache carries full bill inputs and is bounded: beyond
	// snapshotLimit bills the least recently detected snapshot is dropped
	// from the rescan set.
	mu            sync.Mutex
	locks         map[string]*sync.Mutex
	seen          map[string]Snapshot
	seenOrder     []string
	snapshotLimit int

	nowFn func() time.Time
	idFn  func() string
}

// defaultSnapshotLimit bounds how many bill snapshots are retained for
// scheduled rescans.
const defaultSnapshotLimit = 1024

// New constructs a Detector. The metrics argument may be nil.
func New(cfg score.Config, detections store.Store, edges repository.Store, publisher events.Publisher, m *metrics.Metrics, logger *slog.Logger) *Detector {
	return &Detector{
		cfg:           cfg,
		store:         detections,
		edges:         edges,
		publisher:     publisher,
		metrics:       m,
		logger:        logger,
		locks:         make(map[string]*sync.Mutex),
		seen:          make(map[string]Snapshot),
		snapshotLimit: defaultSnapshotLimit,
		nowFn:         time.Now,
		idFn:          uuid.NewString,
	}
}

// WithClock overrides the time source (used in tests).
func (d *Detector) WithClock(fn func() time.Time) {
	if fn != nil {
		d.nowFn = fn
	}
}

// WithIDFunc overrides detection id generation (used in tests).
func (d *Detector) WithIDFunc(fn func() string) {
	if fn != nil {
		d.idFn = fn
	}
}

// WithSnapshotLimit overrides how many bill snapshots are retained for
// rescans.
func (d *Detector) WithSnapshotLimit(n int) {
	if n > 0 {
		d.snapshotLimit = n
	}
}

// DetectBill runs the full pipeline for one bill snapshot. The job is
// idempotent: unchanged inputs produce an empty delta and no writes.
// Cancellation is honored at step boundaries and aborts before commit, so a
// cancelled job leaves no partial state.
func (d *Detector) DetectBill(ctx context.Context, snap Snapshot) (Summary, error) {
	if snap.Bill.ID == "" {
		return Summary{}, errors.New("bill id is required")
	}

	// Remember the latest snapshot per bill so scheduled rescans can
	// re-evaluate it after graph or config drift.
	d.retainSnapshot(snap)

	unlock := d.lockBill(snap.Bill.ID)
	defer unlock()

	start := d.nowFn()
	summary, err := d.run(ctx, snap)
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		d.metrics.ObserveJob("cancelled", d.nowFn().Sub(start))
	case err != nil:
		d.metrics.ObserveJob("error", d.nowFn().Sub(start))
	case summary.Written == 0 && summary.Superseded == 0:
		d.metrics.ObserveJob("noop", d.nowFn().Sub(start))
	default:
		d.metrics.ObserveJob("ok", d.nowFn().Sub(start))
	}
	return summary, err
}

func (d *Detector) run(ctx context.Context, snap Snapshot) (Summary, error) {
	summary := Summary{BillID: snap.Bill.ID}

	normalizer := normalize.New(normalize.WithThreshold(d.cfg.SimilarityThreshold))
	normalizer.Seed(snap.Entities)

	interests, fuzzyInterests := d.resolveInterests(normalizer, snap.Interests, &summary)

	ix := index.New()
	for _, interest := range interests {
		ix.Insert(interest)
	}

	if err := ctx.Err(); err != nil {
		return summary, err
	}

	extractor := impact.New(normalizer, d.logger)
	im := extractor.ImpactedEntities(snap.Bill)
	summary.LowConfidence = im.LowConfidence
	for id := range fuzzyInterests {
		im.FuzzyMatched[id] = true
	}
	if im.Skipped > 0 {
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("skipped %d malformed affected-entity references", im.Skipped))
	}

	if err := ctx.Err(); err != nil {
		return summary, err
	}

	builder := network.New(d.edges,
		network.WithMaxHops(d.cfg.MaxHops),
		network.WithStrengthFloor(d.cfg.StrengthFloor),
	)
	matcher := match.New(ix, d.edges, builder, d.cfg.MaxHops)

	sponsors := snapshotSponsors(snap)
	candidates, err := matcher.Candidates(ctx, snap.Bill, im, sponsors)
	if err != nil {
		return summary, err
	}
	summary.Candidates = len(candidates)
	d.metrics.CountCandidates(len(candidates))

	if err := ctx.Err(); err != nil {
		return summary, err
	}

	detections, err := d.scoreCandidates(snap, sponsors, candidates, ix.MaxDisclosedAmount(), &summary)
	if err != nil {
		return summary, err
	}

	if err := ctx.Err(); err != nil {
		return summary, err
	}

	delta, activated, superseded, err := d.reconcile(ctx, snap.Bill.ID, detections, normalizer.Created(), &summary)
	if err != nil {
		return summary, err
	}

	if delta.Empty() {
		return summary, nil
	}

	if err := d.store.CommitRun(ctx, delta); err != nil {
		return summary, fmt.Errorf("commit detection run for bill %s: %w", snap.Bill.ID, err)
	}

	// Mirror minted entities into the influence graph so later traversals
	// can reach them. The detection store commit is the source of truth;
	// a graph write failure here is degraded, not fatal.
	for _, entity := range delta.NewEntities {
		if err := d.edges.UpsertEntity(ctx, entity); err != nil {
			d.logger.Warn("failed to mirror entity into influence graph", "entityId", entity.ID, "error", err)
		}
	}

	for _, detection := range activated {
		d.metrics.CountDetection(string(detection.Tier))
		event := events.Event{
			Type:        events.TypeConflictDetected,
			DetectionID: detection.ID,
			BillID:      detection.BillID,
			SponsorID:   detection.SponsorID,
			Tier:        detection.Tier,
			OccurredAt:  detection.DetectedAt,
		}
		if err := d.publisher.Publish(ctx, event); err != nil {
			d.logger.Warn("failed to publish detection event", "detectionId", detection.ID, "error", err)
		}
	}

	now := d.nowFn().UTC()
	for _, prior := range superseded {
		event := events.Event{
			Type:        events.TypeDetectionSuperseded,
			DetectionID: prior.ID,
			BillID:      prior.BillID,
			SponsorID:   prior.SponsorID,
			Tier:        prior.Tier,
			OccurredAt:  now,
		}
		if err := d.publisher.Publish(ctx, event); err != nil {
			d.logger.Warn("failed to publish supersede event", "detectionId", prior.ID, "error", err)
		}
	}

	return summary, nil
}

// resolveInterests canonicalizes each interest's entity reference. Malformed
// records are skipped with a warning; the job continues with the rest.
func (d *Detector) resolveInterests(normalizer *normalize.Normalizer, interests []domain.FinancialInterest, summary *Summary) ([]domain.FinancialInterest, map[domain.EntityID]bool) {
	fuzzy := make(map[domain.EntityID]bool)
	resolved := make([]domain.FinancialInterest, 0, len(interests))

	for _, interest := range interests {
		if !interest.Kind.Valid() {
			summary.Warnings = append(summary.Warnings, fmt.Sprintf("interest %s: unknown kind %q", interest.ID, interest.Kind))
			d.metrics.CountInputSkip()
			continue
		}

		if interest.Entity.ID == "" {
			res, err := normalizer.Normalize(interest.Entity.Name, domain.EntityCompany)
			if err != nil {
				summary.Warnings = append(summary.Warnings, fmt.Sprintf("interest %s: %v", interest.ID, err))
				d.metrics.CountInputSkip()
				continue
			}
			interest.Entity.ID = res.EntityID
			if res.Match == domain.MatchFuzzy {
				fuzzy[res.EntityID] = true
			}
		}

		if interest.SourceConfidence < 0 {
			interest.SourceConfidence = 0
		}
		if interest.SourceConfidence > 1 {
			interest.SourceConfidence = 1
		}
		resolved = append(resolved, interest)
	}
	return resolved, fuzzy
}

func (d *Detector) scoreCandidates(snap Snapshot, sponsors []domain.Sponsor, candidates []domain.Candidate, maxAmount float64, summary *Summary) ([]domain.ConflictDetection, error) {
	scorer := score.New(d.cfg)
	engine := recommend.New(d.cfg.Thresholds)

	roles := make(map[string]domain.SponsorRole, len(sponsors))
	for _, sponsor := range sponsors {
		roles[sponsor.ID] = sponsor.Role
	}

	now := d.nowFn().UTC()
	out := make([]domain.ConflictDetection, 0, len(candidates))

	for _, candidate := range candidates {
		result, err := scorer.Score(candidate, score.BillContext{
			IntroducedDate:     snap.Bill.IntroducedDate,
			SponsorRole:        roles[candidate.SponsorID],
			MaxDisclosedAmount: maxAmount,
		})
		if err != nil {
			// Input error: skip the record, keep the job going.
			summary.Warnings = append(summary.Warnings, fmt.Sprintf("score candidate (%s, %s): %v", candidate.SponsorID, candidate.EntityID, err))
			d.metrics.CountInputSkip()
			continue
		}

		tier := engine.Recommend(result.Severity, result.Confidence)
		status := domain.StatusActive
		if tier == domain.TierNone {
			// Below the actionability floor: recorded, never surfaced.
			status = domain.StatusInactive
		}

		detection := domain.ConflictDetection{
			ID:               d.idFn(),
			BillID:           snap.Bill.ID,
			SponsorID:        candidate.SponsorID,
			EntityID:         candidate.EntityID,
			Severity:         result.Severity,
			Confidence:       result.Confidence,
			Factors:          result.Factors,
			Tier:             tier,
			Specificity:      candidate.Specificity,
			Justification:    engine.Justify(tier, result.Severity, result.Confidence, result.Factors),
			Status:           status,
			DetectedAt:       now,
			ConfigVersion:    d.cfg.Version,
			BillVersion:      snap.Bill.Version,
			InterestVersions: []string{candidate.Interest.ID},
		}
		detection.Fingerprint = fingerprint(detection, candidate)
		out = append(out, detection)
	}
	return out, nil
}

// reconcile compares freshly computed detections with what the store already
// holds for the bill. Unchanged fingerprints are no-ops; changed triples
// supersede the prior active; dismissed records with unchanged inputs stay
// dismissed; prior actives whose triple vanished are superseded.
func (d *Detector) reconcile(ctx context.Context, billID string, computed []domain.ConflictDetection, minted []domain.Entity, summary *Summary) (store.RunDelta, []domain.ConflictDetection, []domain.ConflictDetection, error) {
	existing, err := d.store.ByBill(ctx, billID)
	if err != nil {
		return store.RunDelta{}, nil, nil, fmt.Errorf("load existing detections for bill %s: %w", billID, err)
	}

	type triple struct {
		sponsorID string
		entityID  domain.EntityID
	}

	activeByTriple := make(map[triple]domain.ConflictDetection)
	dismissedFingerprints := make(map[string]bool)
	inactiveFingerprints := make(map[string]bool)
	for _, det := range existing {
		switch det.Status {
		case domain.StatusActive:
			activeByTriple[triple{det.SponsorID, det.EntityID}] = det
		case domain.StatusDismissed:
			dismissedFingerprints[det.Fingerprint] = true
		case domain.StatusInactive:
			inactiveFingerprints[det.Fingerprint] = true
		}
	}

	delta := store.RunDelta{BillID: billID, NewEntities: minted}
	var activated, superseded []domain.ConflictDetection
	matchedTriples := make(map[triple]bool)

	for _, det := range computed {
		key := triple{det.SponsorID, det.EntityID}
		matchedTriples[key] = true

		if dismissedFingerprints[det.Fingerprint] {
			// A reviewer dismissed this exact finding; unchanged inputs
			// must not resurrect it.
			summary.Unchanged++
			continue
		}
		if det.Status == domain.StatusInactive && inactiveFingerprints[det.Fingerprint] {
			summary.Unchanged++
			continue
		}

		if prior, ok := activeByTriple[key]; ok {
			if prior.Fingerprint == det.Fingerprint {
				summary.Unchanged++
				continue
			}
			det.SupersedesID = prior.ID
			delta.SupersededIDs = append(delta.SupersededIDs, prior.ID)
			superseded = append(superseded, prior)
			summary.Superseded++
		}

		delta.Detections = append(delta.Detections, det)
		summary.Written++
		if det.Status == domain.StatusActive {
			activated = append(activated, det)
		}
	}

	// Stale actives: the triple no longer produces any candidate, so the
	// finding's inputs are gone. Supersede rather than leave it standing.
	staleKeys := make([]triple, 0)
	for key := range activeByTriple {
		if !matchedTriples[key] {
			staleKeys = append(staleKeys, key)
		}
	}
	sort.Slice(staleKeys, func(i, j int) bool {
		if staleKeys[i].sponsorID != staleKeys[j].sponsorID {
			return staleKeys[i].sponsorID < staleKeys[j].sponsorID
		}
		return staleKeys[i].entityID < staleKeys[j].entityID
	})
	for _, key := range staleKeys {
		prior := activeByTriple[key]
		delta.SupersededIDs = append(delta.SupersededIDs, prior.ID)
		superseded = append(superseded, prior)
		summary.Superseded++
	}

	return delta, activated, superseded, nil
}

// Dismiss applies a human reviewer's override and publishes the audit event.
func (d *Detector) Dismiss(ctx context.Context, id, reviewer, reason string) error {
	if err := d.store.Dismiss(ctx, id, reviewer, reason); err != nil {
		return err
	}

	detection, err := d.store.Get(ctx, id)
	if err != nil {
		return err
	}

	event := events.Event{
		Type:        events.TypeDetectionDismissed,
		DetectionID: detection.ID,
		BillID:      detection.BillID,
		SponsorID:   detection.SponsorID,
		Tier:        detection.Tier,
		OccurredAt:  d.nowFn().UTC(),
	}
	if err := d.publisher.Publish(ctx, event); err != nil {
		d.logger.Warn("failed to publish dismissal event", "detectionId", id, "error", err)
	}
	return nil
}

// RescanKnown re-runs detection over every bill snapshot this detector has
// seen. Unchanged bills produce empty deltas, so the sweep only writes where
// the influence graph or scoring config moved underneath a prior run.
func (d *Detector) RescanKnown(ctx context.Context, workers int) ([]Summary, error) {
	d.mu.Lock()
	snapshots := make([]Snapshot, 0, len(d.seen))
	for _, snap := range d.seen {
		snapshots = append(snapshots, snap)
	}
	d.mu.Unlock()

	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Bill.ID < snapshots[j].Bill.ID })
	return d.RescanAll(ctx, snapshots, workers)
}

// RescanAll runs detection over many bill snapshots with bounded
// parallelism. Bills are independent; the per-bill lock serializes any
// overlap with concurrently triggered jobs.
func (d *Detector) RescanAll(ctx context.Context, snapshots []Snapshot, workers int) ([]Summary, error) {
	if workers <= 0 {
		workers = 4
	}

	summaries := make([]Summary, len(snapshots))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range snapshots {
		i := i
		g.Go(func() error {
			summary, err := d.DetectBill(ctx, snapshots[i])
			if err != nil {
				return fmt.Errorf("bill %s: %w", snapshots[i].Bill.ID, err)
			}
			summaries[i] = summary
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

// retainSnapshot records the bill's latest snapshot for RescanKnown,
// refreshing its recency and evicting the least recently detected bill once
// the cache exceeds the configured limit.
func (d *Detector) retainSnapshot(snap Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[snap.Bill.ID]; ok {
		for i, id := range d.seenOrder {
			if id == snap.Bill.ID {
				d.seenOrder = append(d.seenOrder[:i], d.seenOrder[i+1:]...)
				break
			}
		}
	}
	d.seen[snap.Bill.ID] = snap
	d.seenOrder = append(d.seenOrder, snap.Bill.ID)

	for len(d.seenOrder) > d.snapshotLimit {
		evicted := d.seenOrder[0]
		d.seenOrder = d.seenOrder[1:]
		delete(d.seen, evicted)
	}
}

func (d *Detector) lockBill(billID string) func() {
	d.mu.Lock()
	lock, ok := d.locks[billID]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[billID] = lock
	}
	d.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func snapshotSponsors(snap Snapshot) []domain.Sponsor {
	onBill := make(map[string]bool, len(snap.Bill.SponsorIDs))
	for _, id := range snap.Bill.SponsorIDs {
		onBill[id] = true
	}

	sponsors := make([]domain.Sponsor, 0, len(snap.Sponsors))
	for _, sponsor := range snap.Sponsors {
		if onBill[sponsor.ID] {
			sponsors = append(sponsors, sponsor)
		}
	}
	sort.Slice(sponsors, func(i, j int) bool { return sponsors[i].ID < sponsors[j].ID })
	return sponsors
}

// fingerprint hashes everything a detection deterministically depends on:
// input versions, config version, and the computed outcome. Scoring is pure,
// so equal fingerprints mean equal inputs.
func fingerprint(det domain.ConflictDetection, candidate domain.Candidate) string {
	parts := []string{
		det.BillID,
		det.BillVersion,
		det.SponsorID,
		string(det.EntityID),
		det.ConfigVersion,
		string(candidate.Specificity),
		strings.Join(det.InterestVersions, ","),
		fmt.Sprintf("%.2f|%.4f|%s", det.Severity, det.Confidence, det.Tier),
	}
	for _, edge := range candidate.Path.Edges {
		parts = append(parts, edge.ID)
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "\n")))
	return hex.EncodeToString(sum[:])
}
