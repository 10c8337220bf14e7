// internal/workers/lifecycle/persist-application-fields/models.go
package persistapplicationfields

type Input struct {
	ApplicationID string                 `json:"applicationId"`
	Payload       map[string]interface{} `json:"payload"`
}

type Output struct {
	ApplicationID  string `json:"applicationId"`
	CanonicalCount int    `json:"canonicalCount"`
	UnmappedCount  int    `json:"unmappedCount"`
	PersistedAt    string `json:"persistedAt"` // ISO 8601
}
