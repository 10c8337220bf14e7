// Package audit mirrors committed stage transitions into Elasticsearch for
// reporting. Postgres stays the source of truth.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	apperrors "loan-lifecycle/internal/common/errors"
	"loan-lifecycle/internal/models"
)

const DefaultIndex = "stage-transitions"

type document struct {
	ID            string    `json:"id"`
	ApplicationID string    `json:"application_id"`
	FromStage     string    `json:"from_stage"`
	ToStage       string    `json:"to_stage"`
	Trigger       string    `json:"trigger"`
	EvaluatedAt   time.Time `json:"evaluated_at"`
}

type Indexer struct {
	client *elasticsearch.Client
	index  string
}

func NewIndexer(client *elasticsearch.Client, index string) *Indexer {
	if index == "" {
		index = DefaultIndex
	}
	return &Indexer{client: client, index: index}
}

// Index writes one transition, keyed by its id so replays overwrite.
func (i *Indexer) Index(ctx context.Context, rec models.StageTransitionRecord) error {
	body, err := json.Marshal(document{
		ID:            rec.ID,
		ApplicationID: rec.ApplicationID,
		FromStage:     string(rec.FromStage),
		ToStage:       string(rec.ToStage),
		Trigger:       string(rec.Trigger),
		EvaluatedAt:   rec.EvaluatedAt,
	})
	if err != nil {
		return apperrors.NewAuditIndexFailedError(err)
	}

	req := esapi.IndexRequest{
		Index:      i.index,
		DocumentID: rec.ID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return apperrors.NewAuditIndexFailedError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return apperrors.NewAuditIndexFailedError(fmt.Errorf("index request failed: %s", res.String()))
	}
	return nil
}

// Recent returns the newest transitions for one application.
func (i *Indexer) Recent(ctx context.Context, applicationID string, size int) ([]models.StageTransitionRecord, error) {
	if size < 1 || size > 100 {
		size = 20
	}
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"application_id": applicationID},
		},
		"sort": []interface{}{
			map[string]interface{}{"evaluated_at": map[string]interface{}{"order": "desc"}},
		},
	}
	body, _ := json.Marshal(query)

	req := esapi.SearchRequest{
		Index: []string{i.index},
		Body:  strings.NewReader(string(body)),
		Size:  &size,
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return nil, apperrors.NewAuditIndexFailedError(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, apperrors.NewAuditIndexFailedError(fmt.Errorf("search failed: %s", res.String()))
	}

	var r struct {
		Hits struct {
			Hits []struct {
				Source document `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, apperrors.NewAuditIndexFailedError(err)
	}

	out := make([]models.StageTransitionRecord, 0, len(r.Hits.Hits))
	for _, hit := range r.Hits.Hits {
		out = append(out, models.StageTransitionRecord{
			ID:            hit.Source.ID,
			ApplicationID: hit.Source.ApplicationID,
			FromStage:     models.Stage(hit.Source.FromStage),
			ToStage:       models.Stage(hit.Source.ToStage),
			Trigger:       models.TriggerKind(hit.Source.Trigger),
			EvaluatedAt:   hit.Source.EvaluatedAt,
		})
	}
	return out, nil
}
