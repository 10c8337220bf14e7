package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"loan-lifecycle/internal/common/logger"
	"loan-lifecycle/internal/models"
)

var applicationColumns = []string{
	"id", "product", "stage", "stage_version", "sent_to_lender",
	"raw_fields", "canonical_fields", "unmapped_fields", "created_at", "updated_at",
}

var documentColumns = []string{"id", "application_id", "doc_type", "status", "created_at", "deleted_at"}

func newTestRepository(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(db, logger.NewNoOpLogger()), mock
}

func TestPostgres_GetApplication(t *testing.T) {
	repo, mock := newTestRepository(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, product, stage, stage_version, sent_to_lender`).
		WithArgs("app-001").
		WillReturnRows(sqlmock.NewRows(applicationColumns).AddRow(
			"app-001", "term_loan", "requires_documents", int64(3), false,
			[]byte(`{"businessName":"Acme","fax":"555"}`),
			[]byte(`{"business_name":"Acme"}`),
			[]byte(`{"fax":"555"}`),
			now, now,
		))

	app, err := repo.GetApplication(context.Background(), "app-001")
	require.NoError(t, err)

	assert.Equal(t, models.StageRequiresDocuments, app.Stage)
	assert.Equal(t, int64(3), app.StageVersion)
	assert.Equal(t, "Acme", app.CanonicalFields["business_name"])
	assert.Equal(t, "555", app.UnmappedFields["fax"])
	assert.Len(t, app.RawFields, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetApplication_NullColumns(t *testing.T) {
	repo, mock := newTestRepository(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, product, stage`).
		WithArgs("app-001").
		WillReturnRows(sqlmock.NewRows(applicationColumns).AddRow(
			"app-001", "term_loan", "new", int64(0), false, nil, []byte("null"), nil, now, now,
		))

	app, err := repo.GetApplication(context.Background(), "app-001")
	require.NoError(t, err)
	assert.NotNil(t, app.RawFields)
	assert.NotNil(t, app.CanonicalFields)
	assert.Empty(t, app.UnmappedFields)
}

func TestPostgres_GetApplication_UnknownStageIsLogged(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	core, logs := observer.New(zapcore.WarnLevel)
	repo := NewPostgres(db, logger.NewZapAdapter(zap.New(core)))
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, product, stage`).
		WithArgs("app-001").
		WillReturnRows(sqlmock.NewRows(applicationColumns).AddRow(
			"app-001", "term_loan", "funded", int64(2), false, nil, nil, nil, now, now,
		))

	app, err := repo.GetApplication(context.Background(), "app-001")
	require.NoError(t, err)
	assert.Equal(t, models.Stage("funded"), app.Stage)

	entries := logs.FilterMessage("unknown stored stage").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "funded", entries[0].ContextMap()["stage"])
}

func TestPostgres_GetApplication_NotFound(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery(`SELECT id, product, stage`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetApplication(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrApplicationNotFound)
}

func TestPostgres_LoadSnapshot(t *testing.T) {
	repo, mock := newTestRepository(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT id, product, stage`).
		WithArgs("app-001").
		WillReturnRows(sqlmock.NewRows(applicationColumns).AddRow(
			"app-001", "term_loan", "new", int64(0), true, []byte(`{}`), []byte(`{}`), []byte(`{}`), now, now,
		))
	mock.ExpectQuery(`SELECT id, application_id, doc_type, status, created_at, deleted_at\s+FROM documents`).
		WithArgs("app-001").
		WillReturnRows(sqlmock.NewRows(documentColumns).
			AddRow("d1", "app-001", "bank_statement", "accepted", now, nil).
			AddRow("d2", "app-001", "tax_return", "pending", now.Add(time.Minute), nil))

	snap, err := repo.LoadSnapshot(context.Background(), "app-001")
	require.NoError(t, err)

	assert.True(t, snap.Application.SentToLender)
	require.Len(t, snap.Documents, 2)
	assert.Equal(t, models.DocBankStatement, snap.Documents[0].Type)
	assert.Equal(t, models.DocStatusPending, snap.Documents[1].Status)
	assert.Nil(t, snap.Documents[1].DeletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LoadSnapshot_DocumentQueryFails(t *testing.T) {
	repo, mock := newTestRepository(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, product, stage`).
		WillReturnRows(sqlmock.NewRows(applicationColumns).AddRow(
			"app-001", "term_loan", "new", int64(0), false, nil, nil, nil, now, now,
		))
	mock.ExpectQuery(`FROM documents`).WillReturnError(errors.New("connection reset"))

	_, err := repo.LoadSnapshot(context.Background(), "app-001")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestPostgres_ApplyTransition(t *testing.T) {
	evaluatedAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rec := models.StageTransitionRecord{
		ID:            "tr-1",
		ApplicationID: "app-001",
		FromStage:     models.StageRequiresDocuments,
		ToStage:       models.StageInReview,
		Trigger:       models.TriggerStatusChange,
		EvaluatedAt:   evaluatedAt,
	}

	t.Run("commits stage and audit row together", func(t *testing.T) {
		repo, mock := newTestRepository(t)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE applications\s+SET stage = \$1, stage_version = stage_version \+ 1`).
			WithArgs("in_review", evaluatedAt, "app-001", int64(4)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO stage_transitions`).
			WithArgs("tr-1", "app-001", "requires_documents", "in_review", "status_change", evaluatedAt).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		require.NoError(t, repo.ApplyTransition(context.Background(), 4, rec))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("version mismatch is a conflict and writes nothing", func(t *testing.T) {
		repo, mock := newTestRepository(t)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE applications`).
			WithArgs("in_review", evaluatedAt, "app-001", int64(4)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := repo.ApplyTransition(context.Background(), 4, rec)
		assert.ErrorIs(t, err, ErrStageConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("audit insert failure rolls back", func(t *testing.T) {
		repo, mock := newTestRepository(t)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE applications`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO stage_transitions`).WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		err := repo.ApplyTransition(context.Background(), 4, rec)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrStageConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgres_MergeFields(t *testing.T) {
	t.Run("overlays all three maps in one statement", func(t *testing.T) {
		repo, mock := newTestRepository(t)

		mock.ExpectExec(`UPDATE applications\s+SET raw_fields\s+= COALESCE\(raw_fields, '\{\}'::jsonb\) \|\| \$2::jsonb`).
			WithArgs(
				"app-001",
				[]byte(`{"businessName":"Acme"}`),
				[]byte(`{"business_name":"Acme"}`),
				sqlmock.AnyArg(),
				[]byte(`{}`),
				sqlmock.AnyArg(),
			).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.MergeFields(context.Background(), "app-001", FieldDelta{
			Raw:       map[string]interface{}{"businessName": "Acme"},
			Canonical: map[string]interface{}{"business_name": "Acme"},
			Consumed:  []string{"businessName"},
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("strips canonical keys from unmapped", func(t *testing.T) {
		repo, mock := newTestRepository(t)

		mock.ExpectExec(`- ARRAY\(SELECT jsonb_object_keys\(COALESCE\(canonical_fields, '\{\}'::jsonb\) \|\| \$3::jsonb\)\)`).
			WithArgs("app-001", []byte(`{"legacy_score":710}`), []byte(`{}`), sqlmock.AnyArg(), []byte(`{"legacy_score":710}`), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.MergeFields(context.Background(), "app-001", FieldDelta{
			Raw:      map[string]interface{}{"legacy_score": 710},
			Unmapped: map[string]interface{}{"legacy_score": 710},
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown application", func(t *testing.T) {
		repo, mock := newTestRepository(t)

		mock.ExpectExec(`UPDATE applications`).WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.MergeFields(context.Background(), "missing", FieldDelta{})
		assert.ErrorIs(t, err, ErrApplicationNotFound)
	})
}

func TestPostgres_RemapFields(t *testing.T) {
	t.Run("rewrites canonical and unmapped under row lock", func(t *testing.T) {
		repo, mock := newTestRepository(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT raw_fields, canonical_fields\s+FROM applications\s+WHERE id = \$1\s+FOR UPDATE`).
			WithArgs("app-001").
			WillReturnRows(sqlmock.NewRows([]string{"raw_fields", "canonical_fields"}).
				AddRow([]byte(`{"mobile":"555"}`), []byte(`{"business_name":"Acme"}`)))
		mock.ExpectExec(`UPDATE applications\s+SET canonical_fields = \$2::jsonb, unmapped_fields = \$3::jsonb`).
			WithArgs("app-001", []byte(`{"business_name":"Acme","owner_phone":"555"}`), []byte(`{}`), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := repo.RemapFields(context.Background(), "app-001", func(raw, existing map[string]interface{}) (map[string]interface{}, map[string]interface{}) {
			assert.Equal(t, "555", raw["mobile"])
			out := map[string]interface{}{"owner_phone": raw["mobile"]}
			for k, v := range existing {
				out[k] = v
			}
			return out, nil
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown application", func(t *testing.T) {
		repo, mock := newTestRepository(t)

		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		err := repo.RemapFields(context.Background(), "missing", func(raw, existing map[string]interface{}) (map[string]interface{}, map[string]interface{}) {
			t.Fatal("remap must not run for a missing application")
			return nil, nil
		})
		assert.ErrorIs(t, err, ErrApplicationNotFound)
	})
}

func TestPostgres_History(t *testing.T) {
	repo, mock := newTestRepository(t)
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM stage_transitions\s+WHERE application_id = \$1\s+ORDER BY evaluated_at, id`).
		WithArgs("app-001").
		WillReturnRows(sqlmock.NewRows([]string{"id", "application_id", "from_stage", "to_stage", "trigger", "evaluated_at"}).
			AddRow("tr-1", "app-001", "new", "requires_documents", "created", t0).
			AddRow("tr-2", "app-001", "requires_documents", "in_review", "status_change", t0.Add(time.Hour)))

	history, err := repo.History(context.Background(), "app-001")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.TriggerCreated, history[0].Trigger)
	assert.Equal(t, models.StageInReview, history[1].ToStage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_History_Empty(t *testing.T) {
	repo, mock := newTestRepository(t)

	mock.ExpectQuery(`FROM stage_transitions`).
		WithArgs("app-001").
		WillReturnRows(sqlmock.NewRows([]string{"id", "application_id", "from_stage", "to_stage", "trigger", "evaluated_at"}))

	history, err := repo.History(context.Background(), "app-001")
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)
}
