// internal/models/notification.go
package models

// Template keys outside the stage namespace.
const (
	TemplateZeroDocs = "zero_docs"
)

// NotificationTemplate is rendered with {{placeholder}} substitution.
type NotificationTemplate struct {
	Key      string `json:"key" mapstructure:"key"`
	Subject  string `json:"subject" mapstructure:"subject"`
	Body     string `json:"body" mapstructure:"body"`
	SMSBody  string `json:"smsBody,omitempty" mapstructure:"sms_body"`
	HTMLBody string `json:"htmlBody,omitempty" mapstructure:"html_body"`
}
