// Package view is the read accessor for UI and reporting consumers.
package view

import (
	"context"
	"errors"
	"strings"

	apperrors "loan-lifecycle/internal/common/errors"
	"loan-lifecycle/internal/lifecycle/fields"
	"loan-lifecycle/internal/lifecycle/provenance"
	"loan-lifecycle/internal/lifecycle/repository"
	"loan-lifecycle/internal/models"
)

const (
	FieldOwnerFullName = "owner_full_name"
	FieldDocumentCount = "document_count"
)

type Reader interface {
	GetApplication(ctx context.Context, id string) (*models.Application, error)
	ListDocuments(ctx context.Context, applicationID string) ([]models.Document, error)
	History(ctx context.Context, applicationID string) ([]models.StageTransitionRecord, error)
}

// View is what the read endpoint returns.
type View struct {
	ApplicationID   string                         `json:"applicationId"`
	Stage           models.Stage                   `json:"stage"`
	CanonicalFields map[string]interface{}         `json:"canonicalFields"`
	UnmappedFields  map[string]interface{}         `json:"unmappedFields"`
	Computed        map[string]interface{}         `json:"computed"`
	StageHistory    []models.StageTransitionRecord `json:"stageHistory"`
	Provenance      map[string]string              `json:"provenance,omitempty"`
}

type Accessor struct {
	reader   Reader
	resolver *fields.Resolver
}

func New(reader Reader, resolver *fields.Resolver) *Accessor {
	if resolver == nil {
		resolver = fields.NewResolver(nil)
	}
	return &Accessor{reader: reader, resolver: resolver}
}

// Get loads the application view. Provenance labels are only computed when
// withProvenance is set.
func (a *Accessor) Get(ctx context.Context, applicationID string, withProvenance bool) (*View, error) {
	app, err := a.reader.GetApplication(ctx, applicationID)
	if err != nil {
		if errors.Is(err, repository.ErrApplicationNotFound) {
			return nil, apperrors.NewApplicationNotFoundError(applicationID, err)
		}
		return nil, apperrors.NewDatabaseConnectionFailedError(err)
	}
	docs, err := a.reader.ListDocuments(ctx, applicationID)
	if err != nil {
		return nil, apperrors.NewDatabaseConnectionFailedError(err)
	}
	history, err := a.reader.History(ctx, applicationID)
	if err != nil {
		return nil, apperrors.NewDatabaseConnectionFailedError(err)
	}

	v := &View{
		ApplicationID:   app.ID,
		Stage:           app.Stage,
		CanonicalFields: app.CanonicalFields,
		UnmappedFields:  app.UnmappedFields,
		Computed:        computed(app.CanonicalFields, docs),
		StageHistory:    history,
	}

	if withProvenance {
		record := make(map[string]interface{}, len(app.CanonicalFields)+len(v.Computed))
		for k, val := range app.CanonicalFields {
			record[k] = val
		}
		for k, val := range v.Computed {
			record[k] = val
		}
		v.Provenance = provenance.Tag(record, a.specs(app)).Provenance
	}

	return v, nil
}

func (a *Accessor) specs(app *models.Application) map[string]provenance.FieldSpec {
	missing := provenance.FallbackNull("no submitted value")
	specs := make(map[string]provenance.FieldSpec)

	for _, f := range a.resolver.Schema().Fields() {
		spec := provenance.DB()
		if key, ok := a.resolver.Source(app.RawFields, f.Name, app.CanonicalFields[f.Name]); ok && key != f.Name {
			spec = provenance.Alias(key)
		}
		specs[f.Name] = spec.OrElse(missing)
	}

	specs[FieldOwnerFullName] = provenance.Computed("owner_first_name + owner_last_name").
		OrElse(provenance.FallbackNull("owner name not submitted"))
	specs[FieldDocumentCount] = provenance.Computed("non-deleted documents")

	return specs
}

func computed(canonical map[string]interface{}, docs []models.Document) map[string]interface{} {
	active := 0
	for _, d := range docs {
		if !d.Deleted() {
			active++
		}
	}

	out := map[string]interface{}{
		FieldDocumentCount: active,
		FieldOwnerFullName: nil,
	}

	var parts []string
	for _, key := range []string{fields.OwnerFirstName, fields.OwnerLastName} {
		if s, ok := canonical[key].(string); ok && strings.TrimSpace(s) != "" {
			parts = append(parts, strings.TrimSpace(s))
		}
	}
	if len(parts) > 0 {
		out[FieldOwnerFullName] = strings.Join(parts, " ")
	}
	return out
}
