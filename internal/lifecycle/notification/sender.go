// Package notification delivers stage-dependent templates to the applicant
// over SMS (SNS) and email (SES).
package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/google/uuid"

	awsclients "loan-lifecycle/internal/common/aws"
	"loan-lifecycle/internal/common/config"
	apperrors "loan-lifecycle/internal/common/errors"
	"loan-lifecycle/internal/common/logger"
	"loan-lifecycle/internal/lifecycle/fields"
	"loan-lifecycle/internal/models"
)

const (
	StatusSent     = "sent"
	StatusFailed   = "failed"
	StatusDisabled = "disabled"
)

// Result mirrors the gateway contract: {success, id} or {success:false, error}.
type Result struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// Notifier is what the transition applier calls.
type Notifier interface {
	HasTemplate(key string) bool
	Send(ctx context.Context, applicationID, templateKey string) (Result, error)
}

type ApplicationReader interface {
	GetApplication(ctx context.Context, id string) (*models.Application, error)
}

type Config struct {
	EmailEnabled bool
	SMSEnabled   bool
	FromEmail    string
	SenderID     string
	Templates    map[string]models.NotificationTemplate
	Timeout      time.Duration
}

func ConfigFrom(cfg config.NotificationConfig) *Config {
	return &Config{
		EmailEnabled: cfg.Email.Enabled,
		SMSEnabled:   cfg.SMS.Enabled,
		FromEmail:    cfg.Email.FromEmail,
		SenderID:     cfg.SMS.SenderID,
		Templates:    cfg.Templates,
		Timeout:      config.GetDuration(cfg.Timeout),
	}
}

type Sender struct {
	config    *Config
	apps      ApplicationReader
	sesClient awsclients.SESService
	snsClient awsclients.SNSService
	logger    logger.Logger
}

func NewSender(cfg *Config, apps ApplicationReader, clients *awsclients.Clients, log logger.Logger) *Sender {
	s := &Sender{
		config: cfg,
		apps:   apps,
		logger: log.WithFields(map[string]interface{}{"component": "notification"}),
	}
	if clients != nil {
		s.sesClient = clients.SES
		s.snsClient = clients.SNS
	}
	return s
}

func (s *Sender) HasTemplate(key string) bool {
	_, ok := s.config.Templates[key]
	return ok
}

// Send renders templateKey against the application's canonical fields and
// delivers it on every enabled channel that has a contact.
func (s *Sender) Send(ctx context.Context, applicationID, templateKey string) (Result, error) {
	notificationID := uuid.New().String()

	tmpl, ok := s.config.Templates[templateKey]
	if !ok {
		err := apperrors.NewTemplateNotFoundError(templateKey)
		return Result{ID: notificationID, Status: StatusFailed, Error: err.Error()}, err
	}

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	app, err := s.apps.GetApplication(ctx, applicationID)
	if err != nil {
		stdErr := apperrors.NewNotificationSendFailedError(templateKey, err)
		return Result{ID: notificationID, Status: StatusFailed, Error: stdErr.Error()}, stdErr
	}

	data := map[string]interface{}{
		"applicationId": app.ID,
		"stage":         string(app.Stage),
		"templateKey":   templateKey,
	}
	for k, v := range app.CanonicalFields {
		data[k] = v
	}

	email, _ := app.CanonicalFields[fields.OwnerEmail].(string)
	phone, _ := app.CanonicalFields[fields.OwnerPhone].(string)

	sent := false
	if s.config.EmailEnabled && email != "" && s.sesClient != nil {
		html := tmpl.HTMLBody
		if html == "" {
			html = tmpl.Body
		}
		if err := s.sendEmail(ctx, email, renderTemplate(tmpl.Subject, data), renderTemplate(tmpl.Body, data), renderTemplate(html, data)); err != nil {
			s.logger.Error("email send failed", map[string]interface{}{
				"applicationId": applicationID,
				"templateKey":   templateKey,
				"error":         err,
			})
			stdErr := apperrors.NewNotificationSendFailedError(templateKey, err)
			return Result{ID: notificationID, Status: StatusFailed, Error: stdErr.Error()}, stdErr
		}
		sent = true
	}

	if s.config.SMSEnabled && phone != "" && s.snsClient != nil {
		body := tmpl.SMSBody
		if body == "" {
			body = tmpl.Body
		}
		if err := s.sendSMS(ctx, phone, renderTemplate(body, data)); err != nil {
			s.logger.Error("SMS send failed", map[string]interface{}{
				"applicationId": applicationID,
				"templateKey":   templateKey,
				"error":         err,
			})
			stdErr := apperrors.NewNotificationSendFailedError(templateKey, err)
			return Result{ID: notificationID, Status: StatusFailed, Error: stdErr.Error()}, stdErr
		}
		sent = true
	}

	if !sent {
		s.logger.Warn("no deliverable channel", map[string]interface{}{
			"applicationId": applicationID,
			"templateKey":   templateKey,
			"hasEmail":      email != "",
			"hasPhone":      phone != "",
		})
		return Result{ID: notificationID, Status: StatusDisabled, Error: "no enabled channel with a contact"}, nil
	}

	s.logger.Info("notification sent", map[string]interface{}{
		"applicationId":  applicationID,
		"templateKey":    templateKey,
		"notificationId": notificationID,
	})
	return Result{Success: true, ID: notificationID, Status: StatusSent}, nil
}

func (s *Sender) sendEmail(ctx context.Context, to, subject, text, html string) error {
	_, err := s.sesClient.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &sestypes.Destination{
			ToAddresses: []string{to},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(subject)},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(text)},
				Html: &sestypes.Content{Data: aws.String(html)},
			},
		},
		Source: aws.String(s.config.FromEmail),
	})
	return err
}

func (s *Sender) sendSMS(ctx context.Context, to, message string) error {
	input := &sns.PublishInput{
		PhoneNumber: aws.String(to),
		Message:     aws.String(message),
	}
	if s.config.SenderID != "" {
		input.MessageAttributes = map[string]snstypes.MessageAttributeValue{
			"AWS.SNS.SMS.SenderID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(s.config.SenderID),
			},
		}
	}
	_, err := s.snsClient.Publish(ctx, input)
	return err
}

// renderTemplate substitutes {{key}} placeholders and drops any left over.
func renderTemplate(tmpl string, data map[string]interface{}) string {
	result := tmpl

	for k, v := range data {
		placeholder := "{{" + k + "}}"
		if !strings.Contains(result, placeholder) {
			continue
		}
		value := ""
		if s, ok := v.(string); ok {
			value = s
		} else if v != nil {
			value = fmt.Sprintf("%v", v)
		}
		result = strings.ReplaceAll(result, placeholder, value)
	}

	for {
		start := strings.Index(result, "{{")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}}")
		if end == -1 {
			break
		}
		end += start + 2
		result = result[:start] + result[end:]
	}

	return result
}
