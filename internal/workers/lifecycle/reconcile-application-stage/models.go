// internal/workers/lifecycle/reconcile-application-stage/models.go
package reconcileapplicationstage

type Input struct {
	ApplicationID string `json:"applicationId"`
	Trigger       string `json:"trigger"`
}

type Output struct {
	ApplicationID string `json:"applicationId"`
	Queued        bool   `json:"queued"`
	QueuedAt      string `json:"queuedAt"` // ISO 8601
}
