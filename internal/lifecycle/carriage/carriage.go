// Package carriage persists submitted payloads with additive-only semantics:
// a later submission can replace a key's value but never remove it.
package carriage

import (
	"context"
	"errors"
	"sort"

	apperrors "loan-lifecycle/internal/common/errors"
	"loan-lifecycle/internal/common/logger"
	"loan-lifecycle/internal/lifecycle/fields"
	"loan-lifecycle/internal/lifecycle/repository"
)

// Store is the slice of the repository the carriage store writes through.
type Store interface {
	MergeFields(ctx context.Context, applicationID string, delta repository.FieldDelta) error
	RemapFields(ctx context.Context, applicationID string, remap repository.RemapFunc) error
}

type Carriage struct {
	store    Store
	resolver *fields.Resolver
	logger   logger.Logger
}

func New(store Store, resolver *fields.Resolver, log logger.Logger) *Carriage {
	if resolver == nil {
		resolver = fields.NewResolver(nil)
	}
	return &Carriage{
		store:    store,
		resolver: resolver,
		logger:   log.WithFields(map[string]interface{}{"component": "carriage"}),
	}
}

// Delta resolves a payload into the write Persist would issue.
func (c *Carriage) Delta(raw map[string]interface{}) repository.FieldDelta {
	res := c.resolver.Resolve(raw)

	consumed := make([]string, 0, len(res.Consumed))
	for key := range res.Consumed {
		consumed = append(consumed, key)
	}
	sort.Strings(consumed)

	return repository.FieldDelta{
		Raw:       stripNulls(raw),
		Canonical: stripNulls(res.Canonical),
		Unmapped:  stripNulls(res.Unmapped),
		Consumed:  consumed,
	}
}

// Persist merges one submission into the stored application.
func (c *Carriage) Persist(ctx context.Context, applicationID string, raw map[string]interface{}) error {
	delta := c.Delta(raw)

	if err := c.store.MergeFields(ctx, applicationID, delta); err != nil {
		if errors.Is(err, repository.ErrApplicationNotFound) {
			return apperrors.NewApplicationNotFoundError(applicationID, err)
		}
		c.logger.Error("field merge failed", map[string]interface{}{
			"applicationId": applicationID,
			"error":         err,
		})
		return apperrors.NewCarriageWriteFailedError(applicationID, err)
	}

	c.logger.Debug("fields persisted", map[string]interface{}{
		"applicationId": applicationID,
		"rawKeys":       len(delta.Raw),
		"canonicalKeys": len(delta.Canonical),
		"unmappedKeys":  len(delta.Unmapped),
	})
	return nil
}

// Remap re-resolves stored raw fields against the current schema. New
// canonical values overlay the existing ones; canonical keys are never
// dropped. Unmapped fields become the new residue, minus any key that is
// still canonical, so a field retired from the schema stays canonical only.
func (c *Carriage) Remap(ctx context.Context, applicationID string) (int, error) {
	promoted := 0
	err := c.store.RemapFields(ctx, applicationID, func(raw, existing map[string]interface{}) (map[string]interface{}, map[string]interface{}) {
		res := c.resolver.Resolve(raw)

		canonical := make(map[string]interface{}, len(existing)+len(res.Canonical))
		for k, v := range existing {
			canonical[k] = v
		}
		for k, v := range stripNulls(res.Canonical) {
			if _, had := existing[k]; !had {
				promoted++
			}
			canonical[k] = v
		}
		unmapped := stripNulls(res.Unmapped)
		for k := range canonical {
			delete(unmapped, k)
		}
		return canonical, unmapped
	})
	if err != nil {
		if errors.Is(err, repository.ErrApplicationNotFound) {
			return 0, apperrors.NewApplicationNotFoundError(applicationID, err)
		}
		return 0, apperrors.NewCarriageWriteFailedError(applicationID, err)
	}

	c.logger.Info("fields remapped", map[string]interface{}{
		"applicationId": applicationID,
		"promoted":      promoted,
	})
	return promoted, nil
}

func stripNulls(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		out[k] = v
	}
	return out
}
