package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/chanuka/conflict-engine/internal/domain"
)

// Schema for the detection table. A partial unique index backs the
// one-active-per-triple invariant at the database level, independent of the
// application-side check.
const detectionSchema = `
CREATE TABLE IF NOT EXISTS conflict_detections (
    id                TEXT PRIMARY KEY,
    bill_id           TEXT NOT NULL,
    sponsor_id        TEXT NOT NULL,
    entity_id         TEXT NOT NULL,
    severity          DOUBLE PRECISION NOT NULL,
    confidence        DOUBLE PRECISION NOT NULL,
    factors           JSONB NOT NULL,
    tier              TEXT NOT NULL,
    specificity       TEXT NOT NULL,
    justification     TEXT NOT NULL,
    status            TEXT NOT NULL,
    detected_at       TIMESTAMPTZ NOT NULL,
    config_version    TEXT NOT NULL,
    bill_version      TEXT NOT NULL,
    interest_versions JSONB NOT NULL,
    fingerprint       TEXT NOT NULL,
    supersedes_id     TEXT,
    dismissed_by      TEXT,
    dismissal_reason  TEXT
);
CREATE INDEX IF NOT EXISTS idx_detections_bill ON conflict_detections (bill_id);
CREATE UNIQUE INDEX IF NOT EXISTS uq_detections_active_triple
    ON conflict_detections (bill_id, sponsor_id, entity_id)
    WHERE status = 'ACTIVE';

CREATE TABLE IF NOT EXISTS detection_entities (
    id             TEXT PRIMARY KEY,
    canonical_name TEXT NOT NULL,
    type           TEXT NOT NULL,
    aliases        JSONB NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL
);
`

const pgUniqueViolation = "23505"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Postgres persists detections in PostgreSQL through database/sql and lib/pq.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open connection pool.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, detectionSchema); err != nil {
		return fmt.Errorf("ensure detection schema: %w", err)
	}
	return nil
}

var detectionColumns = []string{
	"id", "bill_id", "sponsor_id", "entity_id", "severity", "confidence",
	"factors", "tier", "specificity", "justification", "status", "detected_at",
	"config_version", "bill_version", "interest_versions", "fingerprint",
	"supersedes_id", "dismissed_by", "dismissal_reason",
}

func (p *Postgres) ByBill(ctx context.Context, billID string) ([]domain.ConflictDetection, error) {
	query, args, err := psql.Select(detectionColumns...).
		From("conflict_detections").
		Where(sq.Eq{"bill_id": billID}).
		OrderBy("detected_at", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build detections query: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query detections for bill %s: %w", billID, err)
	}
	defer rows.Close()

	var out []domain.ConflictDetection
	for rows.Next() {
		detection, err := scanDetection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, detection)
	}
	return out, rows.Err()
}

func (p *Postgres) Get(ctx context.Context, id string) (domain.ConflictDetection, error) {
	query, args, err := psql.Select(detectionColumns...).
		From("conflict_detections").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return domain.ConflictDetection{}, fmt.Errorf("build detection query: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.ConflictDetection{}, fmt.Errorf("query detection %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return domain.ConflictDetection{}, err
		}
		return domain.ConflictDetection{}, ErrNotFound
	}
	return scanDetection(rows)
}

// CommitRun applies the delta inside one transaction: supersede prior
// actives, insert the new records, persist minted entities. The partial
// unique index turns a violated triple invariant into ErrActiveExists.
func (p *Postgres) CommitRun(ctx context.Context, delta RunDelta) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin run commit: %w", err)
	}
	defer tx.Rollback()

	for _, id := range delta.SupersededIDs {
		query, args, err := psql.Update("conflict_detections").
			Set("status", string(domain.StatusSuperseded)).
			Where(sq.Eq{"id": id, "status": string(domain.StatusActive)}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build supersede update: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("supersede detection %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("supersede %s: %w", id, ErrNotActive)
		}
	}

	for _, detection := range delta.Detections {
		if err := insertDetection(ctx, tx, detection); err != nil {
			return err
		}
	}

	for _, entity := range delta.NewEntities {
		if err := upsertEntity(ctx, tx, entity); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run for bill %s: %w", delta.BillID, err)
	}
	return nil
}

func (p *Postgres) Dismiss(ctx context.Context, id, reviewer, reason string) error {
	query, args, err := psql.Update("conflict_detections").
		Set("status", string(domain.StatusDismissed)).
		Set("dismissed_by", reviewer).
		Set("dismissal_reason", reason).
		Where(sq.Eq{"id": id, "status": string(domain.StatusActive)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build dismiss update: %w", err)
	}

	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("dismiss detection %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, getErr := p.Get(ctx, id); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrNotActive
	}
	return nil
}

func insertDetection(ctx context.Context, tx *sql.Tx, d domain.ConflictDetection) error {
	factors, err := json.Marshal(d.Factors)
	if err != nil {
		return fmt.Errorf("marshal factors for %s: %w", d.ID, err)
	}
	versions, err := json.Marshal(d.InterestVersions)
	if err != nil {
		return fmt.Errorf("marshal interest versions for %s: %w", d.ID, err)
	}

	query, args, err := psql.Insert("conflict_detections").
		Columns(detectionColumns...).
		Values(
			d.ID, d.BillID, d.SponsorID, string(d.EntityID), d.Severity, d.Confidence,
			factors, string(d.Tier), string(d.Specificity), d.Justification, string(d.Status), d.DetectedAt,
			d.ConfigVersion, d.BillVersion, versions, d.Fingerprint,
			nullable(d.SupersedesID), nullable(d.DismissedBy), nullable(d.DismissalReason),
		).ToSql()
	if err != nil {
		return fmt.Errorf("build detection insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return fmt.Errorf("insert detection %s: %w", d.ID, ErrActiveExists)
		}
		return fmt.Errorf("insert detection %s: %w", d.ID, err)
	}
	return nil
}

func upsertEntity(ctx context.Context, tx *sql.Tx, entity domain.Entity) error {
	aliases, err := json.Marshal(entity.Aliases)
	if err != nil {
		return fmt.Errorf("marshal aliases for %s: %w", entity.ID, err)
	}

	query, args, err := psql.Insert("detection_entities").
		Columns("id", "canonical_name", "type", "aliases", "created_at").
		Values(string(entity.ID), entity.CanonicalName, string(entity.Type), aliases, entity.CreatedAt).
		Suffix("ON CONFLICT (id) DO UPDATE SET canonical_name = EXCLUDED.canonical_name, aliases = EXCLUDED.aliases").
		ToSql()
	if err != nil {
		return fmt.Errorf("build entity upsert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert entity %s: %w", entity.ID, err)
	}
	return nil
}

func scanDetection(rows *sql.Rows) (domain.ConflictDetection, error) {
	var (
		d                             domain.ConflictDetection
		entityID                      string
		factorsRaw, versionsRaw       []byte
		supersedes, dismissedBy, why  sql.NullString
	)

	err := rows.Scan(
		&d.ID, &d.BillID, &d.SponsorID, &entityID, &d.Severity, &d.Confidence,
		&factorsRaw, &d.Tier, &d.Specificity, &d.Justification, &d.Status, &d.DetectedAt,
		&d.ConfigVersion, &d.BillVersion, &versionsRaw, &d.Fingerprint,
		&supersedes, &dismissedBy, &why,
	)
	if err != nil {
		return domain.ConflictDetection{}, fmt.Errorf("scan detection: %w", err)
	}

	d.EntityID = domain.EntityID(entityID)
	if err := json.Unmarshal(factorsRaw, &d.Factors); err != nil {
		return domain.ConflictDetection{}, fmt.Errorf("unmarshal factors for %s: %w", d.ID, err)
	}
	if err := json.Unmarshal(versionsRaw, &d.InterestVersions); err != nil {
		return domain.ConflictDetection{}, fmt.Errorf("unmarshal interest versions for %s: %w", d.ID, err)
	}
	d.SupersedesID = supersedes.String
	d.DismissedBy = dismissedBy.String
	d.DismissalReason = why.String
	return d, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
