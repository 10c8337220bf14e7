package carriage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "loan-lifecycle/internal/common/errors"
	"loan-lifecycle/internal/common/logger"
	"loan-lifecycle/internal/lifecycle/fields"
	"loan-lifecycle/internal/lifecycle/repository"
)

// memoryStore applies deltas with the same per-key overlay the postgres
// statement uses.
type memoryStore struct {
	mu        sync.Mutex
	exists    bool
	raw       map[string]interface{}
	canonical map[string]interface{}
	unmapped  map[string]interface{}
	mergeErr  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		exists:    true,
		raw:       map[string]interface{}{},
		canonical: map[string]interface{}{},
		unmapped:  map[string]interface{}{},
	}
}

func (m *memoryStore) MergeFields(ctx context.Context, id string, d repository.FieldDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mergeErr != nil {
		return m.mergeErr
	}
	if !m.exists {
		return fmt.Errorf("%w: %s", repository.ErrApplicationNotFound, id)
	}
	for k, v := range d.Raw {
		m.raw[k] = v
	}
	for k, v := range d.Canonical {
		m.canonical[k] = v
	}
	for _, k := range d.Consumed {
		delete(m.unmapped, k)
	}
	for k, v := range d.Unmapped {
		m.unmapped[k] = v
	}
	for k := range m.canonical {
		delete(m.unmapped, k)
	}
	return nil
}

func (m *memoryStore) RemapFields(ctx context.Context, id string, fn repository.RemapFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.exists {
		return fmt.Errorf("%w: %s", repository.ErrApplicationNotFound, id)
	}
	m.canonical, m.unmapped = fn(m.raw, m.canonical)
	return nil
}

func newTestCarriage(store Store, schema *fields.Schema) *Carriage {
	return New(store, fields.NewResolver(schema), logger.NewNoOpLogger())
}

func TestCarriage_Delta(t *testing.T) {
	c := newTestCarriage(newMemoryStore(), nil)

	delta := c.Delta(map[string]interface{}{
		"businessName": "Acme",
		"taxId":        "12-3456789",
		"fax":          "555-0100",
		"mobile":       nil,
		"notes":        nil,
	})

	assert.Equal(t, map[string]interface{}{
		"businessName": "Acme",
		"taxId":        "12-3456789",
		"fax":          "555-0100",
	}, delta.Raw)
	assert.Equal(t, "Acme", delta.Canonical[fields.BusinessName])
	assert.Equal(t, "12-3456789", delta.Canonical[fields.EIN])
	assert.Equal(t, map[string]interface{}{"fax": "555-0100"}, delta.Unmapped)
	assert.Contains(t, delta.Consumed, "mobile", "null alias is still consumed")
	assert.NotContains(t, delta.Consumed, "notes")
	assert.IsIncreasing(t, delta.Consumed)
}

func TestCarriage_LosslessUnion(t *testing.T) {
	store := newMemoryStore()
	c := newTestCarriage(store, nil)
	ctx := context.Background()

	p1 := map[string]interface{}{
		"businessName":  "Acme",
		"loanAmount":    50000,
		"referralCode":  "SPRING",
		"ownerPhone":    "555-0100",
		"favoriteColor": "blue",
	}
	p2 := map[string]interface{}{
		"businessName": nil,
		"loanAmount":   75000,
		"ownerEmail":   "jo@acme.test",
		"referralCode": nil,
		"newFormField": true,
	}

	require.NoError(t, c.Persist(ctx, "app-001", p1))
	require.NoError(t, c.Persist(ctx, "app-001", p2))

	assert.Equal(t, "Acme", store.raw["businessName"], "null never reverts a stored value")
	assert.Equal(t, 75000, store.raw["loanAmount"], "later non-null value wins")
	assert.Equal(t, "SPRING", store.raw["referralCode"])
	assert.Equal(t, "blue", store.raw["favoriteColor"])
	assert.Equal(t, true, store.raw["newFormField"])
	assert.Equal(t, "jo@acme.test", store.raw["ownerEmail"])
	assert.Len(t, store.raw, 7)

	assert.Equal(t, "Acme", store.canonical[fields.BusinessName])
	assert.Equal(t, 75000, store.canonical[fields.RequestedAmount])
	assert.Equal(t, "jo@acme.test", store.canonical[fields.OwnerEmail])
	assert.Equal(t, "555-0100", store.canonical[fields.OwnerPhone])

	assert.Equal(t, map[string]interface{}{
		"referralCode":  "SPRING",
		"favoriteColor": "blue",
		"newFormField":  true,
	}, store.unmapped)
}

func TestCarriage_PartitionInvariant(t *testing.T) {
	store := newMemoryStore()
	schema := fields.DefaultSchema()
	c := newTestCarriage(store, schema)
	ctx := context.Background()

	payloads := []map[string]interface{}{
		{"company_name": "Acme", "zip": "94107", "utm_source": "ads"},
		{"zipCode": "94108", "businessZip": "", "utm_campaign": "spring"},
		{"business_name": "Acme LLC", "campaign": map[string]interface{}{"id": 7}},
	}
	for _, p := range payloads {
		require.NoError(t, c.Persist(ctx, "app-001", p))

		for key := range store.raw {
			_, mapped := schema.Owner(key)
			_, unmapped := store.unmapped[key]
			assert.True(t, mapped != unmapped, "raw key %q must be exactly one of consumed or unmapped", key)
		}
		for key := range store.unmapped {
			_, inRaw := store.raw[key]
			assert.True(t, inRaw, "unmapped key %q must come from raw", key)
		}
		for key := range store.canonical {
			_, clash := store.unmapped[key]
			assert.False(t, clash, "canonical key %q also unmapped", key)
		}
	}
	assert.Equal(t, "94108", store.canonical[fields.BusinessZip])
}

func TestCarriage_ConcurrentWritersBothSurvive(t *testing.T) {
	store := newMemoryStore()
	c := newTestCarriage(store, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, c.Persist(ctx, "app-001", map[string]interface{}{
				fmt.Sprintf("extra_%d", i): i,
			}))
		}(i)
	}
	wg.Wait()

	assert.Len(t, store.raw, 20)
	assert.Len(t, store.unmapped, 20)
}

func TestCarriage_PersistErrors(t *testing.T) {
	t.Run("unknown application", func(t *testing.T) {
		store := newMemoryStore()
		store.exists = false
		c := newTestCarriage(store, nil)

		err := c.Persist(context.Background(), "missing", map[string]interface{}{"a": 1})
		assert.ErrorIs(t, err, repository.ErrApplicationNotFound)
		assert.Equal(t, apperrors.ErrCodeApplicationNotFound, apperrors.CodeOf(err))
	})

	t.Run("write failure is retryable", func(t *testing.T) {
		store := newMemoryStore()
		store.mergeErr = errors.New("connection reset")
		c := newTestCarriage(store, nil)

		err := c.Persist(context.Background(), "app-001", map[string]interface{}{"a": 1})
		var stdErr *apperrors.StandardError
		require.ErrorAs(t, err, &stdErr)
		assert.Equal(t, apperrors.ErrCodeCarriageWriteFailed, stdErr.Code)
		assert.True(t, stdErr.Retryable)
	})
}

func TestCarriage_Remap(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()

	narrow := fields.NewSchema(fields.Field{Name: fields.BusinessName, Aliases: []string{"businessName"}})
	require.NoError(t, newTestCarriage(store, narrow).Persist(ctx, "app-001", map[string]interface{}{
		"businessName": "Acme",
		"cellPhone":    "555-0100",
		"fax":          "555-0199",
	}))
	require.Equal(t, map[string]interface{}{"cellPhone": "555-0100", "fax": "555-0199"}, store.unmapped)

	store.canonical["legacy_score"] = 700

	widened := fields.NewSchema(
		fields.Field{Name: fields.BusinessName, Aliases: []string{"businessName"}},
		fields.Field{Name: fields.OwnerPhone, Aliases: []string{"cellPhone"}},
	)
	promoted, err := newTestCarriage(store, widened).Remap(ctx, "app-001")
	require.NoError(t, err)

	assert.Equal(t, 1, promoted)
	assert.Equal(t, "555-0100", store.canonical[fields.OwnerPhone])
	assert.Equal(t, 700, store.canonical["legacy_score"], "remap never drops canonical keys")
	assert.Equal(t, map[string]interface{}{"fax": "555-0199"}, store.unmapped)
	assert.Len(t, store.raw, 3, "raw fields are untouched")
}

func TestCarriage_RemapRetiredFieldStaysCanonicalOnly(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()

	v1 := fields.NewSchema(
		fields.Field{Name: "legacy_score"},
		fields.Field{Name: fields.BusinessName},
	)
	require.NoError(t, newTestCarriage(store, v1).Persist(ctx, "app-001", map[string]interface{}{
		"legacy_score": 700,
	}))
	require.Equal(t, 700, store.canonical["legacy_score"])

	v2 := fields.NewSchema(fields.Field{Name: fields.BusinessName})
	c := newTestCarriage(store, v2)
	_, err := c.Remap(ctx, "app-001")
	require.NoError(t, err)

	assert.Equal(t, 700, store.canonical["legacy_score"], "remap never drops canonical keys")
	assert.NotContains(t, store.unmapped, "legacy_score")

	require.NoError(t, c.Persist(ctx, "app-001", map[string]interface{}{"legacy_score": 710}))
	assert.Equal(t, 710, store.raw["legacy_score"])
	assert.Equal(t, 700, store.canonical["legacy_score"])
	assert.NotContains(t, store.unmapped, "legacy_score")

	for key := range store.canonical {
		assert.NotContains(t, store.unmapped, key, "canonical key %q also unmapped", key)
	}
}

func TestCarriage_RemapUnknownApplication(t *testing.T) {
	store := newMemoryStore()
	store.exists = false

	_, err := newTestCarriage(store, nil).Remap(context.Background(), "missing")
	assert.Equal(t, apperrors.ErrCodeApplicationNotFound, apperrors.CodeOf(err))
}

func TestCarriage_PersistThroughPostgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := repository.NewPostgres(db, logger.NewNoOpLogger())
	c := New(repo, nil, logger.NewNoOpLogger())

	mock.ExpectExec(`UPDATE applications\s+SET raw_fields`).
		WithArgs(
			"app-001",
			[]byte(`{"companyName":"Acme","fax":"555"}`),
			[]byte(`{"business_name":"Acme"}`),
			sqlmock.AnyArg(),
			[]byte(`{"fax":"555"}`),
			sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, c.Persist(context.Background(), "app-001", map[string]interface{}{
		"companyName": "Acme",
		"fax":         "555",
		"dba":         nil,
	}))
	assert.NoError(t, mock.ExpectationsWereMet())
}
