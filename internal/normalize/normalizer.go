package normalize

import (
	"errors"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xrash/smetrics"

	"github.com/chanuka/conflict-engine/internal/domain"
)

// ErrEmptyEntityName is returned for blank raw names. Callers skip the record
// rather than creating a garbage entity.
var ErrEmptyEntityName = errors.New("empty-entity-name")

var (
	whitespaceRegex  = regexp.MustCompile(`\s+`)
	punctuationRegex = regexp.MustCompile(`[^\p{L}\p{N} ]+`)
)

// DefaultSimilarityThreshold is the Jaro-Winkler score above which two names
// are considered likely aliases of the same entity.
const DefaultSimilarityThreshold = 0.92

// Resolution is the outcome of resolving one raw name.
type Resolution struct {
	EntityID domain.EntityID
	Match    domain.MatchKind
}

// PendingAlias is a fuzzy match queued for human confirmation. Fuzzy matches
// are never auto-merged: conflating two distinct entities corrupts every
// downstream detection, so only a reviewer may promote the alias.
type PendingAlias struct {
	RawName   string
	Candidate domain.EntityID
	Score     float64
	QueuedAt  time.Time
}

// Normalizer resolves free-text entity names to stable canonical ids. It is
// seeded from the job snapshot at start and holds state in memory for the
// duration of a detection run.
type Normalizer struct {
	mu        sync.Mutex
	threshold float64

	entities map[domain.EntityID]*domain.Entity
	byKey    map[string]domain.EntityID // canonical name key -> id
	aliases  map[string]domain.EntityID // confirmed alias key -> id
	created  []domain.EntityID
	pending  []PendingAlias

	idFn  func() string
	nowFn func() time.Time
}

// Option tweaks normalizer construction.
type Option func(*Normalizer)

// WithThreshold overrides the fuzzy similarity threshold.
func WithThreshold(threshold float64) Option {
	return func(n *Normalizer) {
		if threshold > 0 && threshold <= 1 {
			n.threshold = threshold
		}
	}
}

// WithIDFunc overrides entity id generation (used in tests).
func WithIDFunc(fn func() string) Option {
	return func(n *Normalizer) {
		if fn != nil {
			n.idFn = fn
		}
	}
}

// WithClock overrides the time source (used in tests).
func WithClock(fn func() time.Time) Option {
	return func(n *Normalizer) {
		if fn != nil {
			n.nowFn = fn
		}
	}
}

// New constructs a Normalizer with the default similarity threshold.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		threshold: DefaultSimilarityThreshold,
		entities:  make(map[domain.EntityID]*domain.Entity),
		byKey:     make(map[string]domain.EntityID),
		aliases:   make(map[string]domain.EntityID),
		idFn:      uuid.NewString,
		nowFn:     time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Seed loads already-known entities and their confirmed aliases.
func (n *Normalizer) Seed(entities []domain.Entity) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i := range entities {
		entity := entities[i]
		n.entities[entity.ID] = &entity
		n.byKey[canonicalKey(entity.CanonicalName)] = entity.ID
		for _, alias := range entity.Aliases {
			n.aliases[canonicalKey(alias)] = entity.ID
		}
	}
}

// Normalize resolves a raw name to an entity id. Resolution order: exact
// canonical match, confirmed alias, fuzzy match against canonical names, and
// finally creation of a new entity. Fuzzy matches queue the raw name as a
// pending alias instead of merging it.
func (n *Normalizer) Normalize(rawName string, hint domain.EntityType) (Resolution, error) {
	key := canonicalKey(rawName)
	if key == "" {
		return Resolution{}, ErrEmptyEntityName
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if id, ok := n.byKey[key]; ok {
		return Resolution{EntityID: id, Match: domain.MatchExact}, nil
	}
	if id, ok := n.aliases[key]; ok {
		return Resolution{EntityID: id, Match: domain.MatchAlias}, nil
	}

	if id, score, ok := n.bestFuzzyMatch(key, hint); ok {
		n.pending = append(n.pending, PendingAlias{
			RawName:   strings.TrimSpace(rawName),
			Candidate: id,
			Score:     score,
			QueuedAt:  n.nowFn(),
		})
		return Resolution{EntityID: id, Match: domain.MatchFuzzy}, nil
	}

	entity := domain.Entity{
		ID:            domain.EntityID(n.idFn()),
		CanonicalName: sanitizeName(rawName),
		Type:          hint,
		CreatedAt:     n.nowFn().UTC(),
	}
	n.entities[entity.ID] = &entity
	n.byKey[key] = entity.ID
	n.created = append(n.created, entity.ID)
	return Resolution{EntityID: entity.ID, Match: domain.MatchNew}, nil
}

// ConfirmAlias promotes a pending alias after human review.
func (n *Normalizer) ConfirmAlias(rawName string, id domain.EntityID) error {
	key := canonicalKey(rawName)
	if key == "" {
		return ErrEmptyEntityName
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	entity, ok := n.entities[id]
	if !ok {
		return errors.New("unknown entity id")
	}
	entity.Aliases = append(entity.Aliases, sanitizeName(rawName))
	n.aliases[key] = id

	kept := n.pending[:0]
	for _, p := range n.pending {
		if canonicalKey(p.RawName) != key {
			kept = append(kept, p)
		}
	}
	n.pending = kept
	return nil
}

// PendingAliases returns fuzzy matches awaiting confirmation.
func (n *Normalizer) PendingAliases() []PendingAlias {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]PendingAlias(nil), n.pending...)
}

// Created returns entities minted during this run, in creation order. The
// orchestrator persists them as part of the job's commit.
func (n *Normalizer) Created() []domain.Entity {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]domain.Entity, 0, len(n.created))
	for _, id := range n.created {
		out = append(out, *n.entities[id])
	}
	return out
}

// Entity returns a resolved entity by id.
func (n *Normalizer) Entity(id domain.EntityID) (domain.Entity, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	entity, ok := n.entities[id]
	if !ok {
		return domain.Entity{}, false
	}
	return *entity, true
}

// bestFuzzyMatch scans canonical names of type-compatible entities and keeps
// the highest Jaro-Winkler score at or above the threshold. Iteration order
// is made deterministic by sorting keys.
func (n *Normalizer) bestFuzzyMatch(key string, hint domain.EntityType) (domain.EntityID, float64, bool) {
	keys := make([]string, 0, len(n.byKey))
	for k := range n.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		bestID    domain.EntityID
		bestScore float64
	)
	for _, candidate := range keys {
		id := n.byKey[candidate]
		if hint != "" && n.entities[id].Type != "" && n.entities[id].Type != hint {
			continue
		}
		score := smetrics.JaroWinkler(key, candidate, 0.7, 4)
		if score >= n.threshold && score > bestScore {
			bestID = id
			bestScore = score
		}
	}
	return bestID, bestScore, bestID != ""
}

// canonicalKey lowercases, strips punctuation, and collapses whitespace so
// lookups are case- and punctuation-insensitive.
func canonicalKey(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = punctuationRegex.ReplaceAllString(key, "")
	key = whitespaceRegex.ReplaceAllString(key, " ")
	return strings.TrimSpace(key)
}

// sanitizeName collapses whitespace while preserving the original casing.
func sanitizeName(raw string) string {
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(raw, " "))
}
