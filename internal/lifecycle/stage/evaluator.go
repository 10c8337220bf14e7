// Package stage computes the suggested pipeline stage from an application's
// data and the statuses of its documents.
package stage

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"loan-lifecycle/internal/models"
)

// Evaluator is pure and safe for concurrent use.
type Evaluator struct {
	requirements *Requirements
}

func NewEvaluator(requirements *Requirements) *Evaluator {
	return &Evaluator{requirements: requirements}
}

// Evaluate applies the rules in priority order and returns exactly one stage.
// A terminal stage is always returned unchanged.
func (e *Evaluator) Evaluate(app *models.Application, docs []models.Document) models.Stage {
	if app.Stage.Terminal() {
		return app.Stage
	}

	active := activeDocuments(docs)
	if len(active) == 0 {
		return models.StageRequiresDocuments
	}

	required := e.requirements.For(app.Product)
	if required == nil || required.Cardinality() == 0 {
		return app.Stage
	}

	if hasUnresolvedRejection(active) {
		return models.StageRequiresDocuments
	}

	if allAccepted(required, effectiveStatus(active)) {
		// with_lender is held once reached, even if the flag lags the stage.
		if app.SentToLender || app.Stage == models.StageWithLender {
			return models.StageWithLender
		}
		return models.StageInReview
	}

	return models.StageRequiresDocuments
}

func activeDocuments(docs []models.Document) []models.Document {
	out := make([]models.Document, 0, len(docs))
	for _, d := range docs {
		if !d.Deleted() {
			out = append(out, d)
		}
	}
	// Oldest first; ties keep input order.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// hasUnresolvedRejection reports a rejected document with no accepted
// document of the same type created after it. docs must be sorted oldest first.
func hasUnresolvedRejection(docs []models.Document) bool {
	for i, d := range docs {
		if d.Status != models.DocStatusRejected {
			continue
		}
		replaced := false
		for _, later := range docs[i+1:] {
			if later.Type == d.Type && later.Status == models.DocStatusAccepted {
				replaced = true
				break
			}
		}
		if !replaced {
			return true
		}
	}
	return false
}

// effectiveStatus is the status of the most recently created document of
// each type. docs must be sorted oldest first.
func effectiveStatus(docs []models.Document) map[models.DocumentType]models.DocumentStatus {
	out := make(map[models.DocumentType]models.DocumentStatus)
	for _, d := range docs {
		out[d.Type] = d.Status
	}
	return out
}

func allAccepted(required mapset.Set[models.DocumentType], status map[models.DocumentType]models.DocumentStatus) bool {
	ok := true
	required.Each(func(t models.DocumentType) bool {
		if status[t] != models.DocStatusAccepted {
			ok = false
			return true
		}
		return false
	})
	return ok
}
