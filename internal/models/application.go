// internal/models/application.go
package models

import "time"

type Application struct {
	ID              string                 `json:"id"`
	Product         string                 `json:"product"`
	Stage           Stage                  `json:"stage"`
	StageVersion    int64                  `json:"stageVersion"`
	SentToLender    bool                   `json:"sentToLender"`
	RawFields       map[string]interface{} `json:"rawFields"`
	CanonicalFields map[string]interface{} `json:"canonicalFields"`
	UnmappedFields  map[string]interface{} `json:"unmappedFields"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

// StageTransitionRecord is an immutable audit row written with every stage change.
type StageTransitionRecord struct {
	ID            string      `json:"id"`
	ApplicationID string      `json:"applicationId"`
	FromStage     Stage       `json:"fromStage"`
	ToStage       Stage       `json:"toStage"`
	Trigger       TriggerKind `json:"trigger"`
	EvaluatedAt   time.Time   `json:"evaluatedAt"`
}

// TriggerKind names the event that caused a reconciliation.
type TriggerKind string

const (
	TriggerUpload       TriggerKind = "upload"
	TriggerStatusChange TriggerKind = "status_change"
	TriggerDelete       TriggerKind = "delete"
	TriggerManual       TriggerKind = "manual"
	TriggerCreated      TriggerKind = "created"
)

var triggerKinds = map[TriggerKind]struct{}{
	TriggerUpload:       {},
	TriggerStatusChange: {},
	TriggerDelete:       {},
	TriggerManual:       {},
	TriggerCreated:      {},
}

func (t TriggerKind) Valid() bool {
	_, ok := triggerKinds[t]
	return ok
}

// TriggerKinds returns the accepted trigger names in a stable order.
func TriggerKinds() []string {
	return []string{
		string(TriggerUpload),
		string(TriggerStatusChange),
		string(TriggerDelete),
		string(TriggerManual),
		string(TriggerCreated),
	}
}
