// internal/workers/lifecycle/reconcile-application-stage/handler.go
package reconcileapplicationstage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"loan-lifecycle/internal/common/errors"
	"loan-lifecycle/internal/common/logger"
	"loan-lifecycle/internal/common/metrics"
	"loan-lifecycle/internal/common/validation"
	"loan-lifecycle/internal/models"
)

const (
	TaskType = "reconcile-application-stage"
)

// Notifier is the ingestion queue. Notify must not block.
type Notifier interface {
	Notify(applicationID string, trigger models.TriggerKind) error
}

type Handler struct {
	config       *Config
	notifier     Notifier
	errorHandler *errors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, notifier Notifier, log logger.Logger) *Handler {
	l := log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		notifier:     notifier,
		errorHandler: errors.NewErrorHandler(l),
		logger:       l,
	}
}

// Handle completes the job as soon as the event is queued. The stage write
// happens later on the ingestion pool.
func (h *Handler) Handle(client worker.JobClient, job entities.Job) error {
	start := time.Now()
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, err := h.handle(ctx, job.Variables)
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.CodeOf(err))).Inc()
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return nil
	}

	h.completeJob(ctx, client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	return nil
}

func (h *Handler) handle(ctx context.Context, variables string) (*Output, error) {
	var vars map[string]interface{}
	if err := json.Unmarshal([]byte(variables), &vars); err != nil {
		return nil, errors.NewInvalidEventError(fmt.Sprintf("parse variables: %v", err))
	}

	result, err := validation.ValidateEvent(vars)
	if err != nil {
		return nil, errors.NewInvalidEventError(err.Error())
	}
	if !result.Valid {
		return nil, errors.NewInvalidEventError(strings.Join(result.GetErrorMessages(), "; "))
	}

	var input Input
	if err := json.Unmarshal([]byte(variables), &input); err != nil {
		return nil, errors.NewInvalidEventError(fmt.Sprintf("parse input: %v", err))
	}

	return h.Execute(ctx, &input)
}

// Execute queues the application for reconciliation.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	trigger := models.TriggerKind(input.Trigger)
	if err := h.notifier.Notify(input.ApplicationID, trigger); err != nil {
		return nil, err
	}

	h.logger.Debug("reconcile queued", map[string]interface{}{
		"applicationId": input.ApplicationID,
		"trigger":       input.Trigger,
	})

	return &Output{
		ApplicationID: input.ApplicationID,
		Queued:        true,
		QueuedAt:      time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err,
		})
	}
}
