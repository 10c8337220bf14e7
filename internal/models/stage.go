// internal/models/stage.go
package models

// Stage is an application's position in the review pipeline.
type Stage string

const (
	StageNew               Stage = "new"
	StageRequiresDocuments Stage = "requires_documents"
	StageInReview          Stage = "in_review"
	StageWithLender        Stage = "with_lender"
	StageAccepted          Stage = "accepted"
	StageDeclined          Stage = "declined"
)

// Terminal stages are only reachable through an explicit decision.
func (s Stage) Terminal() bool {
	return s == StageAccepted || s == StageDeclined
}

func (s Stage) Valid() bool {
	switch s {
	case StageNew, StageRequiresDocuments, StageInReview, StageWithLender, StageAccepted, StageDeclined:
		return true
	}
	return false
}
