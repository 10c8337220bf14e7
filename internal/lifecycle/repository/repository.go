// Package repository is the postgres persistence layer shared by the
// transition applier, the field carriage store and the read accessor.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"loan-lifecycle/internal/common/logger"
	"loan-lifecycle/internal/models"
)

var (
	ErrApplicationNotFound = errors.New("APPLICATION_NOT_FOUND")
	ErrStageConflict       = errors.New("STAGE_WRITE_CONFLICT")
)

// Snapshot is what the stage evaluator needs for one reconcile pass.
type Snapshot struct {
	Application models.Application
	Documents   []models.Document
}

// FieldDelta is one resolved submission, already stripped of null values.
type FieldDelta struct {
	Raw       map[string]interface{}
	Canonical map[string]interface{}
	Unmapped  map[string]interface{}
	// Consumed lists raw keys claimed by a canonical field. They are removed
	// from unmapped_fields so the two maps stay disjoint.
	Consumed []string
}

// RemapFunc recomputes canonical and unmapped maps from the stored raw map.
type RemapFunc func(raw, canonical map[string]interface{}) (map[string]interface{}, map[string]interface{})

type Postgres struct {
	db     *sql.DB
	logger logger.Logger
}

func NewPostgres(db *sql.DB, log logger.Logger) *Postgres {
	return &Postgres{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "repository"}),
	}
}

const selectApplication = `
	SELECT id, product, stage, stage_version, sent_to_lender,
	       raw_fields, canonical_fields, unmapped_fields, created_at, updated_at
	FROM applications
	WHERE id = $1`

func (p *Postgres) GetApplication(ctx context.Context, id string) (*models.Application, error) {
	var (
		app                      models.Application
		stage                    string
		raw, canonical, unmapped []byte
	)
	err := p.db.QueryRowContext(ctx, selectApplication, id).Scan(
		&app.ID, &app.Product, &stage, &app.StageVersion, &app.SentToLender,
		&raw, &canonical, &unmapped, &app.CreatedAt, &app.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrApplicationNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load application %s: %w", id, err)
	}
	app.Stage = models.Stage(stage)
	if !app.Stage.Valid() {
		p.logger.Warn("unknown stored stage", map[string]interface{}{
			"applicationId": id,
			"stage":         stage,
		})
	}

	if app.RawFields, err = decodeFields(raw); err != nil {
		return nil, fmt.Errorf("decode raw_fields for %s: %w", id, err)
	}
	if app.CanonicalFields, err = decodeFields(canonical); err != nil {
		return nil, fmt.Errorf("decode canonical_fields for %s: %w", id, err)
	}
	if app.UnmappedFields, err = decodeFields(unmapped); err != nil {
		return nil, fmt.Errorf("decode unmapped_fields for %s: %w", id, err)
	}

	return &app, nil
}

// ListDocuments returns the application's non-deleted documents, oldest first.
func (p *Postgres) ListDocuments(ctx context.Context, applicationID string) ([]models.Document, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, application_id, doc_type, status, created_at, deleted_at
		FROM documents
		WHERE application_id = $1 AND deleted_at IS NULL
		ORDER BY created_at, id`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("list documents for %s: %w", applicationID, err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var (
			d           models.Document
			typ, status string
			deletedAt   sql.NullTime
		)
		if err := rows.Scan(&d.ID, &d.ApplicationID, &typ, &status, &d.CreatedAt, &deletedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.Type = models.DocumentType(typ)
		d.Status = models.DocumentStatus(status)
		if deletedAt.Valid {
			t := deletedAt.Time
			d.DeletedAt = &t
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

func (p *Postgres) LoadSnapshot(ctx context.Context, applicationID string) (*Snapshot, error) {
	app, err := p.GetApplication(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	docs, err := p.ListDocuments(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Application: *app, Documents: docs}, nil
}

// ApplyTransition writes the new stage and its audit row in one transaction.
// The write only lands if stage_version still equals expectedVersion.
func (p *Postgres) ApplyTransition(ctx context.Context, expectedVersion int64, rec models.StageTransitionRecord) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE applications
		SET stage = $1, stage_version = stage_version + 1, updated_at = $2
		WHERE id = $3 AND stage_version = $4`,
		string(rec.ToStage), rec.EvaluatedAt, rec.ApplicationID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update stage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update stage rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s at version %d", ErrStageConflict, rec.ApplicationID, expectedVersion)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO stage_transitions (id, application_id, from_stage, to_stage, trigger, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.ApplicationID, string(rec.FromStage), string(rec.ToStage), string(rec.Trigger), rec.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert stage transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	return nil
}

// MergeFields overlays a delta onto the three field maps in a single
// statement. jsonb || replaces per key, so concurrent writers serialize on the
// row and never clobber each other's keys. Keys present in the merged
// canonical map are removed from unmapped_fields.
func (p *Postgres) MergeFields(ctx context.Context, applicationID string, delta FieldDelta) error {
	raw, err := encodeFields(delta.Raw)
	if err != nil {
		return fmt.Errorf("encode raw fields: %w", err)
	}
	canonical, err := encodeFields(delta.Canonical)
	if err != nil {
		return fmt.Errorf("encode canonical fields: %w", err)
	}
	unmapped, err := encodeFields(delta.Unmapped)
	if err != nil {
		return fmt.Errorf("encode unmapped fields: %w", err)
	}
	consumed := delta.Consumed
	if consumed == nil {
		consumed = []string{}
	}

	res, err := p.db.ExecContext(ctx, `
		UPDATE applications
		SET raw_fields       = COALESCE(raw_fields, '{}'::jsonb) || $2::jsonb,
		    canonical_fields = COALESCE(canonical_fields, '{}'::jsonb) || $3::jsonb,
		    unmapped_fields  = ((COALESCE(unmapped_fields, '{}'::jsonb) - $4::text[]) || $5::jsonb)
		                       - ARRAY(SELECT jsonb_object_keys(COALESCE(canonical_fields, '{}'::jsonb) || $3::jsonb)),
		    updated_at       = $6
		WHERE id = $1`,
		applicationID, raw, canonical, pq.Array(consumed), unmapped, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("merge fields for %s: %w", applicationID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("merge fields rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrApplicationNotFound, applicationID)
	}
	return nil
}

// RemapFields re-derives canonical and unmapped maps from stored raw_fields
// under a row lock. Raw fields are never touched.
func (p *Postgres) RemapFields(ctx context.Context, applicationID string, remap RemapFunc) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin remap tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var rawJSON, canonicalJSON []byte
	err = tx.QueryRowContext(ctx, `
		SELECT raw_fields, canonical_fields
		FROM applications
		WHERE id = $1
		FOR UPDATE`, applicationID).Scan(&rawJSON, &canonicalJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrApplicationNotFound, applicationID)
	}
	if err != nil {
		return fmt.Errorf("lock application %s: %w", applicationID, err)
	}

	raw, err := decodeFields(rawJSON)
	if err != nil {
		return fmt.Errorf("decode raw_fields: %w", err)
	}
	existing, err := decodeFields(canonicalJSON)
	if err != nil {
		return fmt.Errorf("decode canonical_fields: %w", err)
	}

	canonical, unmapped := remap(raw, existing)

	canonicalOut, err := encodeFields(canonical)
	if err != nil {
		return fmt.Errorf("encode canonical fields: %w", err)
	}
	unmappedOut, err := encodeFields(unmapped)
	if err != nil {
		return fmt.Errorf("encode unmapped fields: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE applications
		SET canonical_fields = $2::jsonb, unmapped_fields = $3::jsonb, updated_at = $4
		WHERE id = $1`,
		applicationID, canonicalOut, unmappedOut, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("write remapped fields: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit remap: %w", err)
	}
	return nil
}

// History returns the append-only transition log, oldest first.
func (p *Postgres) History(ctx context.Context, applicationID string) ([]models.StageTransitionRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, application_id, from_stage, to_stage, trigger, evaluated_at
		FROM stage_transitions
		WHERE application_id = $1
		ORDER BY evaluated_at, id`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", applicationID, err)
	}
	defer rows.Close()

	history := make([]models.StageTransitionRecord, 0)
	for rows.Next() {
		var (
			rec                   models.StageTransitionRecord
			from, to, triggerKind string
		)
		if err := rows.Scan(&rec.ID, &rec.ApplicationID, &from, &to, &triggerKind, &rec.EvaluatedAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		rec.FromStage = models.Stage(from)
		rec.ToStage = models.Stage(to)
		rec.Trigger = models.TriggerKind(triggerKind)
		history = append(history, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return history, nil
}

func decodeFields(b []byte) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	if len(b) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = make(map[string]interface{})
	}
	return out, nil
}

func encodeFields(m map[string]interface{}) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}
