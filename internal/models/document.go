// internal/models/document.go
package models

import "time"

type Document struct {
	ID            string         `json:"id"`
	ApplicationID string         `json:"applicationId"`
	Type          DocumentType   `json:"type"`
	Status        DocumentStatus `json:"status"`
	CreatedAt     time.Time      `json:"createdAt"`
	DeletedAt     *time.Time     `json:"deletedAt,omitempty"`
}

func (d Document) Deleted() bool {
	return d.DeletedAt != nil
}

type DocumentType string

const (
	DocBankStatement   DocumentType = "bank_statement"
	DocTaxReturn       DocumentType = "tax_return"
	DocDriversLicense  DocumentType = "drivers_license"
	DocVoidedCheck     DocumentType = "voided_check"
	DocBusinessLicense DocumentType = "business_license"
	DocBalanceSheet    DocumentType = "balance_sheet"
	DocProfitAndLoss   DocumentType = "profit_and_loss"
	DocOther           DocumentType = "other"
)

func (t DocumentType) Valid() bool {
	switch t {
	case DocBankStatement, DocTaxReturn, DocDriversLicense, DocVoidedCheck,
		DocBusinessLicense, DocBalanceSheet, DocProfitAndLoss, DocOther:
		return true
	}
	return false
}

type DocumentStatus string

const (
	DocStatusPending  DocumentStatus = "pending"
	DocStatusAccepted DocumentStatus = "accepted"
	DocStatusRejected DocumentStatus = "rejected"
)
